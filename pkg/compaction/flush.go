// Package compaction implements the two background jobs that turn write
// volume into a bounded set of sorted files (spec §4.7): flushing a sealed
// memtable to a new L0 SSTable, and leveled compaction that merges
// overlapping files down into higher levels.
package compaction

import (
	"fmt"
	"path/filepath"

	"lsmdb/pkg/clock"
	"lsmdb/pkg/manifest"
	"lsmdb/pkg/memtable"
	"lsmdb/pkg/metrics"
	"lsmdb/pkg/sstable"
	"lsmdb/pkg/types"
)

// Flusher turns one sealed (immutable) memtable into a new L0 SSTable and
// publishes it via a single manifest edit.
type Flusher struct {
	dir         string
	man         *manifest.Manifest
	fileNumbers *clock.FileNumberClock
	opts        FlushOptions
	metrics     metrics.Collector
}

// FlushOptions carries the subset of config.Options the flush job needs.
type FlushOptions struct {
	BlockSizeBytes  int
	BloomFilterBits int
}

func NewFlusher(dir string, man *manifest.Manifest, fileNumbers *clock.FileNumberClock, opts FlushOptions, m metrics.Collector) *Flusher {
	return &Flusher{dir: dir, man: man, fileNumbers: fileNumbers, opts: opts, metrics: m}
}

// sstPath returns the on-disk path for file number n.
func (f *Flusher) sstPath(n uint64) string {
	return filepath.Join(f.dir, fmt.Sprintf("%06d.sst", n))
}

// Flush writes mt's contents to a new L0 file and appends the manifest
// edit that makes it live, returning the new file's metadata. An empty
// memtable is a no-op that returns a zero Meta and no error. logNumber is
// the WAL segment number being retired by this flush (0 if none), carried
// into the manifest edit so a reopen knows every record in that segment is
// already durable in the new SSTable. Only the newest record per key
// survives -- mt.Iterator yields every version still held in the
// memtable, and flushing every superseded one would be unnecessary write
// amplification the leveled compaction below would otherwise have to undo.
func (f *Flusher) Flush(mt *memtable.MemTable, lastSeq types.SeqN, logNumber uint64) (sstable.Meta, error) {
	it := mt.Iterator(nil, nil)
	if !it.Next() {
		return sstable.Meta{}, nil
	}

	n := f.fileNumbers.Next()
	w, err := sstable.NewWriter(f.sstPath(n), n, 0, f.opts.BlockSizeBytes, f.opts.BloomFilterBits)
	if err != nil {
		return sstable.Meta{}, fmt.Errorf("compaction: flush: %w", err)
	}

	var pendingKey types.Key
	var havePending bool
	var pending types.Record
	flushPending := func() error {
		if !havePending {
			return nil
		}
		if err := w.Add(pending); err != nil {
			return err
		}
		havePending = false
		return nil
	}

	for {
		rec := it.Record()
		if havePending && types.CompareKeys(rec.Key, pendingKey) == 0 {
			// mt.Iterator yields every version of a key newest-seq-first;
			// keep only the first (newest) one seen.
		} else {
			if err := flushPending(); err != nil {
				w.Discard()
				return sstable.Meta{}, fmt.Errorf("compaction: flush add: %w", err)
			}
			pending = rec
			pendingKey = rec.Key
			havePending = true
		}
		if !it.Next() {
			break
		}
	}
	if err := flushPending(); err != nil {
		w.Discard()
		return sstable.Meta{}, fmt.Errorf("compaction: flush add: %w", err)
	}

	meta, err := w.Finish()
	if err != nil {
		return sstable.Meta{}, fmt.Errorf("compaction: flush finish: %w", err)
	}

	edit := manifest.VersionEdit{
		AddedFiles:     []sstable.Meta{meta},
		LastSequence:   metaLastSeq(meta, lastSeq),
		NextFileNumber: f.fileNumbers.Val() + 1,
		LogNumber:      logNumber,
	}
	if _, err := f.man.Apply(edit); err != nil {
		return sstable.Meta{}, fmt.Errorf("compaction: flush publish: %w", err)
	}

	if f.metrics != nil {
		f.metrics.IncCounter("lsmdb_flushes_run", nil, 1)
		f.metrics.IncCounter("lsmdb_bytes_written", nil, float64(meta.Size))
	}
	return meta, nil
}

func metaLastSeq(m sstable.Meta, fallback types.SeqN) types.SeqN {
	if m.LargestSeq > fallback {
		return m.LargestSeq
	}
	return fallback
}
