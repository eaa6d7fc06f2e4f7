// Package snapshot implements pinned, point-in-time read views (spec §4.9):
// a Snapshot freezes a sequence number so every Get/Range issued against it
// ignores writes committed afterward, until explicitly released.
package snapshot

import (
	"sync/atomic"

	"github.com/segmentio/ksuid"

	"lsmdb/pkg/dberrors"
	"lsmdb/pkg/types"
)

// Snapshot is a pinned read view with a single-shot Release. Snapshots do not survive a
// Close/Open cycle of the database (spec §9 Open Question (a), resolved:
// they are purely in-memory and are invalidated on Close).
type Snapshot struct {
	id       ksuid.KSUID
	seq      types.SeqN
	released atomic.Bool
	release  func(*Snapshot)
}

// New creates a snapshot pinned at seq. release is called exactly once, on
// the first Release call; the owning DB uses it to drop the snapshot from
// its set of open snapshots. A snapshot keeps no SSTable file or memtable
// alive.
func New(seq types.SeqN, release func(*Snapshot)) *Snapshot {
	return &Snapshot{id: ksuid.New(), seq: seq, release: release}
}

// ID returns a debug handle uniquely identifying this snapshot instance,
// useful in logs.
func (s *Snapshot) ID() string { return s.id.String() }

// Sequence returns the read sequence number this snapshot is pinned at.
func (s *Snapshot) Sequence() types.SeqN { return s.seq }

// Release drops this snapshot. It is safe to call more than once; only the
// first call has effect. Reads issued against a released snapshot return
// ErrSnapshotReleased.
func (s *Snapshot) Release() error {
	if s.released.CompareAndSwap(false, true) {
		if s.release != nil {
			s.release(s)
		}
	}
	return nil
}

// CheckLive returns ErrSnapshotReleased if the snapshot has already been
// released; callers should invoke this before using Sequence() for a read.
func (s *Snapshot) CheckLive() error {
	if s.released.Load() {
		return dberrors.ErrSnapshotReleased
	}
	return nil
}
