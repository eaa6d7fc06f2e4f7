package db

import (
	"context"
	"fmt"

	"lsmdb/pkg/dberrors"
	"lsmdb/pkg/iterator"
	"lsmdb/pkg/sstable"
	"lsmdb/pkg/types"
)

// resolveReadSeq picks the sequence number a call should read at: the
// pinned snapshot's, or the current clock value for a default "latest"
// read (spec §4.2 "snapshot_seq defaults to the current sequence clock").
func (db *DB) resolveReadSeq(opts ReadOptions) (types.SeqN, error) {
	if opts.Snapshot != nil {
		if err := opts.Snapshot.CheckLive(); err != nil {
			return 0, err
		}
		return opts.Snapshot.Sequence(), nil
	}
	return types.SeqN(db.seq.Val()), nil
}

// Get returns the value for key visible at opts' read sequence, checking
// the active memtable, then the sealed immutable memtable if any, then
// each level's SSTables from L0 (newest first) down to the last level
// (spec §4.2 read path, §5 reader snapshot triple).
func (db *DB) Get(ctx context.Context, key types.Key, opts ReadOptions) (types.Value, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}
	if err := validateKey(key); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	snapshotSeq, err := db.resolveReadSeq(opts)
	if err != nil {
		return nil, err
	}

	view := db.snapshotReadView()

	if rec, ok := view.active.Get(key, snapshotSeq); ok {
		return recordValue(rec)
	}
	if view.immutable != nil {
		if rec, ok := view.immutable.Get(key, snapshotSeq); ok {
			return recordValue(rec)
		}
	}

	verify := opts.VerifyChecksums || db.opts.VerifyChecksumsOnRead
	for level := 0; level < len(view.version.Levels); level++ {
		files := candidateFiles(view.version, level, key)
		for _, meta := range files {
			r, err := db.readers.get(db.dir, meta, db.cache, verify, db.sstPath)
			if err != nil {
				return nil, err
			}
			rec, ok, err := r.Get(key, snapshotSeq)
			db.readers.release(meta.FileNumber)
			if err != nil {
				return nil, err
			}
			db.counters.bytesRead.Add(int64(len(rec.Key) + len(rec.Value)))
			if ok {
				return recordValue(rec)
			}
		}
	}
	return nil, dberrors.ErrNotFound
}

// candidateFiles returns the files at level that might hold key: every L0
// file overlapping it (L0 files may overlap each other, so all must be
// checked), newest-first by file number; for L>=1, at most one file since
// those levels are key-disjoint.
func candidateFiles(v interface{ FilesOverlapping(int, types.Key, types.Key) []sstable.Meta }, level int, key types.Key) []sstable.Meta {
	upper := append(append(types.Key(nil), key...), 0)
	files := v.FilesOverlapping(level, key, upper)
	if level == 0 {
		for i, j := 0, len(files)-1; i < j; i, j = i+1, j-1 {
			files[i], files[j] = files[j], files[i]
		}
	}
	return files
}

func recordValue(rec types.Record) (types.Value, error) {
	if rec.IsTombstone() {
		return nil, dberrors.ErrNotFound
	}
	return rec.Value, nil
}

// NewIterator returns an iterator over [lower, upper) visible at opts' read
// sequence, merging the active memtable, the sealed immutable memtable if
// any, and every live SSTable, then collapsing multiple versions of the
// same key down to the one visible version (spec §4.5 Range).
func (db *DB) NewIterator(ctx context.Context, lower, upper types.Key, opts ReadOptions) (iterator.Iterator, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	snapshotSeq, err := db.resolveReadSeq(opts)
	if err != nil {
		return nil, err
	}

	view := db.snapshotReadView()
	verify := opts.VerifyChecksums || db.opts.VerifyChecksumsOnRead

	var sources []iterator.Iterator
	sources = append(sources, view.active.Iterator(lower, upper))
	if view.immutable != nil {
		sources = append(sources, view.immutable.Iterator(lower, upper))
	}
	for level := 0; level < len(view.version.Levels); level++ {
		for _, meta := range view.version.Levels[level] {
			if !meta.Overlaps(lower, upper) {
				continue
			}
			fileNumber := meta.FileNumber
			r, err := db.readers.get(db.dir, meta, db.cache, verify, db.sstPath)
			if err != nil {
				closeAll(sources)
				return nil, err
			}
			it, err := r.NewIterator(lower, upper)
			if err != nil {
				db.readers.release(fileNumber)
				closeAll(sources)
				return nil, fmt.Errorf("db: new sstable iterator: %w", err)
			}
			sources = append(sources, &releasingIterator{
				Iterator: it,
				release:  func() { db.readers.release(fileNumber) },
			})
		}
	}

	merged := iterator.NewMergingIterator(sources)
	return iterator.NewCollapsing(merged, snapshotSeq, false), nil
}

func closeAll(sources []iterator.Iterator) {
	for _, s := range sources {
		s.Close()
	}
}

// releasingIterator wraps an SSTable iterator sourced from the reader
// cache so that closing it — whether by the caller explicitly closing the
// merged iterator, or by MergingIterator closing an exhausted source
// early — releases this scan's reference on the underlying shared reader
// exactly once (spec §5 deferred deletion: a file is only unlinked once
// every outstanding reader reference, including in-flight scans, is gone).
type releasingIterator struct {
	iterator.Iterator
	release  func()
	released bool
}

func (r *releasingIterator) Close() error {
	err := r.Iterator.Close()
	if !r.released {
		r.released = true
		r.release()
	}
	return err
}
