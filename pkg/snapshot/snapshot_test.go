package snapshot

import (
	"testing"

	"lsmdb/pkg/dberrors"
)

func TestSnapshot_SequenceAndID(t *testing.T) {
	s := New(42, nil)
	if s.Sequence() != 42 {
		t.Fatalf("Sequence() = %d, want 42", s.Sequence())
	}
	if s.ID() == "" {
		t.Fatalf("expected a non-empty debug ID")
	}
}

func TestSnapshot_CheckLiveBeforeRelease(t *testing.T) {
	s := New(1, nil)
	if err := s.CheckLive(); err != nil {
		t.Fatalf("CheckLive on a fresh snapshot returned %v, want nil", err)
	}
}

func TestSnapshot_CheckLiveAfterRelease(t *testing.T) {
	s := New(1, nil)
	if err := s.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if err := s.CheckLive(); err != dberrors.ErrSnapshotReleased {
		t.Fatalf("CheckLive after release = %v, want ErrSnapshotReleased", err)
	}
}

func TestSnapshot_ReleaseCallbackFiresExactlyOnce(t *testing.T) {
	calls := 0
	s := New(1, func(*Snapshot) { calls++ })
	s.Release()
	s.Release()
	s.Release()
	if calls != 1 {
		t.Fatalf("release callback fired %d times, want 1", calls)
	}
}

func TestSnapshot_ReleaseCallbackReceivesSameSnapshot(t *testing.T) {
	var got *Snapshot
	s := New(7, func(s *Snapshot) { got = s })
	s.Release()
	if got != s {
		t.Fatalf("release callback received a different snapshot instance")
	}
}
