package db

import (
	"context"
	"fmt"

	"lsmdb/pkg/batch"
	"lsmdb/pkg/dberrors"
	"lsmdb/pkg/memtable"
	"lsmdb/pkg/types"
	"lsmdb/pkg/walog"
)

func validateKey(key types.Key) error {
	if len(key) == 0 {
		return fmt.Errorf("%w: empty key", dberrors.ErrInvalidArgument)
	}
	if len(key) > types.MaxKeyLen {
		return fmt.Errorf("%w: key exceeds %d bytes", dberrors.ErrInvalidArgument, types.MaxKeyLen)
	}
	return nil
}

func validateValue(value types.Value) error {
	if len(value) > types.MaxValueLen {
		return fmt.Errorf("%w: value exceeds %d bytes", dberrors.ErrInvalidArgument, types.MaxValueLen)
	}
	return nil
}

// Put writes key=value, visible to reads starting at the sequence number
// this call assigns.
func (db *DB) Put(ctx context.Context, key types.Key, value types.Value, opts WriteOptions) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if err := validateValue(value); err != nil {
		return err
	}
	b := batch.New()
	b.Put(key, value)
	return db.Write(ctx, b, opts)
}

// Delete writes a tombstone for key.
func (db *DB) Delete(ctx context.Context, key types.Key, opts WriteOptions) error {
	if err := validateKey(key); err != nil {
		return err
	}
	b := batch.New()
	b.Delete(key)
	return db.Write(ctx, b, opts)
}

// Write commits wb atomically: every mutation gets a distinct, contiguous
// sequence number and all become visible together (spec §9 batch
// atomicity).
func (db *DB) Write(ctx context.Context, wb batch.WriteBatch, opts WriteOptions) error {
	if err := db.checkOpen(); err != nil {
		return err
	}
	if db.opts.ReadOnly {
		return dberrors.ErrReadOnly
	}
	b, ok := wb.(*batch.Batch)
	if !ok {
		return fmt.Errorf("%w: unsupported WriteBatch implementation", dberrors.ErrInvalidArgument)
	}
	if b.Count() == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	db.writerMu.Lock()
	defer db.writerMu.Unlock()

	if err := db.applyBackpressure(); err != nil {
		return err
	}
	db.waitForImmutableDrain()

	startSeq := db.seq.Val() + 1
	for i := 0; i < b.Count()-1; i++ {
		db.seq.Next()
	}
	recs := b.Records(types.SeqN(startSeq))
	db.seq.Set(uint64(recs[len(recs)-1].Seq))

	db.switchMu.Lock()
	wal := db.wal
	active := db.active
	db.switchMu.Unlock()

	forceSync := opts.Sync || db.opts.WALSyncMode == "always"
	for i, r := range recs {
		if err := wal.Append(r, forceSync && i == len(recs)-1); err != nil {
			return fmt.Errorf("db: wal append: %w", err)
		}
	}
	for _, r := range recs {
		active.Insert(r)
		db.counters.keysWritten.Add(1)
		db.counters.bytesWritten.Add(int64(len(r.Key) + len(r.Value)))
	}

	db.maybeRotate(active, wal)
	return nil
}

// applyBackpressure returns ErrBusy once L0 has reached l0_stop files; it
// has no effect below that. l0_slowdown is advisory and only surfaced via
// Stats for the caller to react to, distinct from this hard l0_stop cutoff.
func (db *DB) applyBackpressure() error {
	v := db.man.Current()
	if len(v.Levels) > 0 && len(v.Levels[0]) >= db.opts.L0Stop {
		return dberrors.ErrBusy
	}
	return nil
}

// waitForImmutableDrain blocks while the active memtable has already
// crossed its size threshold and a previous immutable memtable is still
// waiting on the background flusher, so the rotation maybeRotate is about
// to perform never overwrites db.immutable before the flusher has drained
// it (spec §4.7 backpressure: mutations may block on memtable rotation
// when the previous immutable is still flushing). Must be called with
// writerMu held and without switchMu held.
func (db *DB) waitForImmutableDrain() {
	db.switchMu.Lock()
	for db.active.ApproximateSize() >= db.opts.MemtableSizeBytes && db.immutable != nil && state(db.state.Load()) == stateOpen {
		db.rotateCond.Wait()
	}
	db.switchMu.Unlock()
}

// maybeRotate seals the active memtable and starts a new one once it
// crosses the configured size, waking the background flusher. Must be
// called with writerMu held (so no writer races the rotation) and without
// switchMu held (it takes it itself). Callers must have already drained
// any previous immutable via waitForImmutableDrain.
func (db *DB) maybeRotate(active *memtable.MemTable, wal *walog.Segment) {
	if active.ApproximateSize() < db.opts.MemtableSizeBytes {
		return
	}

	db.switchMu.Lock()
	if db.active != active || db.immutable != nil {
		db.switchMu.Unlock()
		return
	}
	db.immutable = db.active
	db.immutableWAL = db.wal
	db.active = memtable.New()

	walNum := db.fileNumbers.Next()
	seg, err := walog.Create(db.dir, walNum, db.opts.WALSyncMode, db.opts.WALSyncInterval)
	if err != nil {
		// Roll back the rotation; the old memtable keeps accepting writes
		// under its existing WAL segment rather than losing durability.
		db.active = db.immutable
		db.immutable = nil
		db.immutableWAL = nil
		db.switchMu.Unlock()
		return
	}
	db.wal = seg
	db.switchMu.Unlock()

	select {
	case db.flushReq <- struct{}{}:
	default:
	}
}
