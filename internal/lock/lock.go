// Package lock implements the filesystem LOCK file that prevents two
// processes from opening the same database directory at once (spec §4.9
// Open/Close lifecycle), grounded on the flock-based approach in
// cockroachdb-pebble's leveldb/db/file_lock_*.go.
package lock

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"

	"lsmdb/pkg/dberrors"
)

// FileLock holds an exclusive advisory lock on a directory's LOCK file,
// plus a random owner token written into it for diagnosability (which
// process/open last held it).
type FileLock struct {
	f     *os.File
	owner string
}

// Acquire takes an exclusive lock on "<dir>/LOCK", returning ErrAlreadyOpen
// if another process already holds it.
func Acquire(dir string) (*FileLock, error) {
	path := filepath.Join(dir, "LOCK")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("lock: open %s: %w", path, err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %s held by another process: %v", dberrors.ErrAlreadyOpen, path, err)
	}

	owner := uuid.NewString()
	if err := f.Truncate(0); err == nil {
		f.WriteAt([]byte(owner), 0)
	}

	return &FileLock{f: f, owner: owner}, nil
}

// Owner returns this lock's owner token.
func (l *FileLock) Owner() string { return l.owner }

// Release unlocks and closes the LOCK file. The file itself is left on
// disk so the next Acquire can reuse it.
func (l *FileLock) Release() error {
	syscall.Flock(int(l.f.Fd()), syscall.LOCK_UN)
	return l.f.Close()
}
