package db

import (
	"context"

	"lsmdb/pkg/dberrors"
	"lsmdb/pkg/types"
)

// CompactRange forces compaction of every file overlapping [start, end)
// down through the level hierarchy (spec §4.7 manual compaction trigger).
// A nil start or end is unbounded on that side. It blocks until the forced
// compaction completes. At most one compaction -- background or
// caller-issued -- runs at a time; a CompactRange call that loses the race
// for db.compactionInFlight returns ErrCompactionRunning rather than
// running concurrently with the other compaction.
func (db *DB) CompactRange(ctx context.Context, start, end types.Key) error {
	if err := db.checkOpen(); err != nil {
		return err
	}
	if db.opts.ReadOnly {
		return dberrors.ErrReadOnly
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if !db.compactionInFlight.CompareAndSwap(false, true) {
		return dberrors.ErrCompactionRunning
	}
	defer db.compactionInFlight.Store(false)

	v := db.man.Current()
	if err := db.compactor.CompactRange(v, start, end); err != nil {
		return err
	}
	db.counters.compactionsRun.Add(1)
	for _, n := range db.man.ObsoleteFiles() {
		db.readers.markObsolete(n, db.sstPath(n))
	}
	return nil
}
