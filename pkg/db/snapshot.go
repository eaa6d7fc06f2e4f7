package db

import (
	"lsmdb/pkg/snapshot"
	"lsmdb/pkg/types"
)

// NewSnapshot pins the current sequence number so subsequent reads against
// it never observe writes committed afterward, until Release is called
// (spec §4.9 Snapshot lifecycle).
func (db *DB) NewSnapshot() (*snapshot.Snapshot, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}
	seq := types.SeqN(db.seq.Val())

	db.openSnapshotsMu.Lock()
	defer db.openSnapshotsMu.Unlock()

	var s *snapshot.Snapshot
	s = snapshot.New(seq, func(released *snapshot.Snapshot) {
		db.openSnapshotsMu.Lock()
		delete(db.openSnapshots, released.ID())
		db.openSnapshotsMu.Unlock()
	})
	db.openSnapshots[s.ID()] = s
	return s, nil
}
