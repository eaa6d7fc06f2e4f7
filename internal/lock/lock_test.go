package lock

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"lsmdb/pkg/dberrors"
)

func TestAcquire_CreatesLockFileWithOwnerToken(t *testing.T) {
	dir := t.TempDir()
	l, err := Acquire(dir)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer l.Release()

	if l.Owner() == "" {
		t.Fatalf("expected a non-empty owner token")
	}
	if _, err := os.Stat(filepath.Join(dir, "LOCK")); err != nil {
		t.Fatalf("expected LOCK file to exist: %v", err)
	}
}

func TestAcquire_SecondAcquireFailsWhileHeld(t *testing.T) {
	dir := t.TempDir()
	l, err := Acquire(dir)
	if err != nil {
		t.Fatalf("first Acquire failed: %v", err)
	}
	defer l.Release()

	_, err = Acquire(dir)
	if !errors.Is(err, dberrors.ErrAlreadyOpen) {
		t.Fatalf("second Acquire error = %v, want ErrAlreadyOpen", err)
	}
}

func TestAcquire_SucceedsAfterRelease(t *testing.T) {
	dir := t.TempDir()
	l, err := Acquire(dir)
	if err != nil {
		t.Fatalf("first Acquire failed: %v", err)
	}
	if err := l.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}

	l2, err := Acquire(dir)
	if err != nil {
		t.Fatalf("Acquire after Release failed: %v", err)
	}
	defer l2.Release()
}
