package compaction

import (
	"fmt"
	"path/filepath"
	"sort"

	"lsmdb/pkg/clock"
	"lsmdb/pkg/dberrors"
	"lsmdb/pkg/iterator"
	"lsmdb/pkg/manifest"
	"lsmdb/pkg/metrics"
	"lsmdb/pkg/sstable"
	"lsmdb/pkg/types"
)

// Options carries the subset of config.Options the compaction job needs.
type Options struct {
	MaxLevel           int
	L0CompactionTrigger int
	SizeRatio          int
	Level0SizeBytes    int64
	BlockSizeBytes     int
	BloomFilterBits    int
	TargetSSTSizeBytes int64
	VerifyChecksums    bool
	BlockCacheCapacity int
}

// Compactor picks and executes leveled compaction tasks (spec §4.7b):
// L0 triggers by file count overlap, L>=1 by a byte-ratio score, files are
// merged via a Collapsing MergingIterator and rewritten into new, larger
// files capped at TargetSSTSizeBytes, and tombstones are dropped only when
// the compaction reaches the oldest level that can contain the key.
type Compactor struct {
	dir         string
	man         *manifest.Manifest
	fileNumbers *clock.FileNumberClock
	cache       *sstable.BlockCache
	opts        Options
	metrics     metrics.Collector
}

func NewCompactor(dir string, man *manifest.Manifest, fileNumbers *clock.FileNumberClock, opts Options, m metrics.Collector) *Compactor {
	return &Compactor{
		dir:         dir,
		man:         man,
		fileNumbers: fileNumbers,
		cache:       sstable.NewBlockCache(opts.BlockCacheCapacity),
		opts:        opts,
		metrics:     m,
	}
}

func (c *Compactor) sstPath(n uint64) string {
	return filepath.Join(c.dir, fmt.Sprintf("%06d.sst", n))
}

// task describes one compaction unit: merge inputFiles (from sourceLevel,
// and for sourceLevel>=1 the overlapping files one level down) into
// targetLevel.
type task struct {
	sourceLevel int
	targetLevel int
	inputs      []sstable.Meta
}

// PickTask selects the next compaction to run, or ok=false if nothing
// currently qualifies (spec §4.7b trigger conditions).
func (c *Compactor) PickTask(v *manifest.Version) (task, bool) {
	if len(v.Levels) > 0 && len(v.Levels[0]) >= c.opts.L0CompactionTrigger {
		lo, hi := l0KeyRange(v.Levels[0])
		inputs := append([]sstable.Meta(nil), v.Levels[0]...)
		inputs = append(inputs, v.FilesOverlapping(1, lo, hi)...)
		return task{sourceLevel: 0, targetLevel: 1, inputs: inputs}, true
	}

	bestLevel := -1
	bestScore := 1.0
	for level := 1; level < v.NumLevels() && level < c.opts.MaxLevel; level++ {
		target := c.targetBytes(level)
		if target <= 0 {
			continue
		}
		score := float64(v.TotalBytes(level)) / float64(target)
		if score > bestScore {
			bestScore = score
			bestLevel = level
		}
	}
	if bestLevel < 0 {
		return task{}, false
	}

	files := v.Levels[bestLevel]
	if len(files) == 0 {
		return task{}, false
	}
	picked := files[0]
	inputs := []sstable.Meta{picked}
	inputs = append(inputs, v.FilesOverlapping(bestLevel+1, picked.SmallestKey, append(picked.LargestKey, 0))...)
	return task{sourceLevel: bestLevel, targetLevel: bestLevel + 1, inputs: inputs}, true
}

// targetBytes returns the target size for level, growing geometrically by
// SizeRatio starting from Level0SizeBytes at level 1.
func (c *Compactor) targetBytes(level int) int64 {
	target := c.opts.Level0SizeBytes
	for i := 1; i < level; i++ {
		target *= int64(c.opts.SizeRatio)
	}
	return target
}

func l0KeyRange(files []sstable.Meta) (lo, hi types.Key) {
	for _, f := range files {
		if lo == nil || types.CompareKeys(f.SmallestKey, lo) < 0 {
			lo = f.SmallestKey
		}
		if hi == nil || types.CompareKeys(f.LargestKey, hi) > 0 {
			hi = f.LargestKey
		}
	}
	return lo, append(hi, 0) // upper bound exclusive; nudge past the largest key
}

// Run executes task: merges its inputs in (key asc, seq desc) order,
// drops shadowed versions (and tombstones too, but only when targetLevel
// has reached MaxLevel), rolls output into new files
// capped at TargetSSTSizeBytes, and publishes one manifest edit removing
// the inputs and adding the outputs.
func (c *Compactor) Run(t task) error {
	readers := make([]*sstable.Reader, 0, len(t.inputs))
	sources := make([]iterator.Iterator, 0, len(t.inputs))
	defer func() {
		for _, r := range readers {
			r.Close()
		}
	}()

	for _, m := range t.inputs {
		r, err := sstable.Open(c.sstPath(m.FileNumber), m, c.cache, c.opts.VerifyChecksums)
		if err != nil {
			return fmt.Errorf("compaction: open input %d: %w", m.FileNumber, err)
		}
		readers = append(readers, r)
		it, err := r.NewIterator(nil, nil)
		if err != nil {
			return fmt.Errorf("compaction: iterate input %d: %w", m.FileNumber, err)
		}
		sources = append(sources, it)
	}

	merged := iterator.NewMergingIterator(sources)
	// Only the deepest level this engine ever writes to can be treated as
	// having no older version underneath it; PickTask and CompactRange both
	// cap targetLevel at MaxLevel, so that -- not MaxLevel-1 -- is the
	// actual oldest level. Dropping tombstones one level early would
	// resurrect a deleted key still sitting at MaxLevel beneath it.
	isOldestLevel := t.targetLevel >= c.opts.MaxLevel
	collapsed := iterator.NewCollapsing(merged, types.MaxSeqN, !isOldestLevel)

	var outputs []sstable.Meta
	var w *sstable.Writer
	var curSize int64

	rollIfNeeded := func() error {
		if w == nil || curSize < c.opts.TargetSSTSizeBytes {
			return nil
		}
		meta, err := w.Finish()
		if err != nil {
			return err
		}
		outputs = append(outputs, meta)
		w = nil
		curSize = 0
		return nil
	}

	for collapsed.Next() {
		rec := collapsed.Record()
		if w == nil {
			n := c.fileNumbers.Next()
			var err error
			w, err = sstable.NewWriter(c.sstPath(n), n, t.targetLevel, c.opts.BlockSizeBytes, c.opts.BloomFilterBits)
			if err != nil {
				return fmt.Errorf("compaction: new output: %w", err)
			}
		}
		if err := w.Add(rec); err != nil {
			return fmt.Errorf("compaction: write output: %w", err)
		}
		curSize += int64(len(rec.Key)) + int64(len(rec.Value))
		if err := rollIfNeeded(); err != nil {
			return err
		}
	}
	if err := collapsed.Err(); err != nil {
		return fmt.Errorf("%w: compaction merge: %v", dberrors.ErrCorruption, err)
	}
	if w != nil {
		meta, err := w.Finish()
		if err != nil {
			return err
		}
		outputs = append(outputs, meta)
	}

	for _, r := range readers {
		r.Close()
	}
	readers = nil

	edit := manifest.VersionEdit{AddedFiles: outputs, NextFileNumber: c.fileNumbers.Val() + 1}
	for _, m := range t.inputs {
		edit.RemovedFiles = append(edit.RemovedFiles, manifest.RemovedFile{Level: m.Level, FileNumber: m.FileNumber})
	}
	if _, err := c.man.Apply(edit); err != nil {
		return fmt.Errorf("compaction: publish: %w", err)
	}

	if c.metrics != nil {
		c.metrics.IncCounter("lsmdb_compactions_run", nil, 1)
	}
	return nil
}

// sortByKey orders files by SmallestKey. Nothing in the package calls it:
// PickTask always takes the first file listed for the chosen level, and
// keeps no round-robin position across compaction rounds.
func sortByKey(files []sstable.Meta) {
	sort.Slice(files, func(i, j int) bool {
		return types.CompareKeys(files[i].SmallestKey, files[j].SmallestKey) < 0
	})
}

// CompactRange forces every file overlapping [start, end) down through the
// level hierarchy one level at a time, merging each level's overlapping set
// into the next (spec §4.7 "CompactRange(start,end) forces compaction of a
// key range"). A nil start/end bound is unbounded on that side. v must be
// the Version observed when the caller decided to compact; each level's
// task is built from a fresh Version refetched from man so a prior level's
// writes are reflected in the next.
func (c *Compactor) CompactRange(v *manifest.Version, start, end types.Key) error {
	for level := 0; level < v.NumLevels() && level < c.opts.MaxLevel; level++ {
		cur := c.man.Current()
		inputs := cur.FilesOverlapping(level, start, end)
		if len(inputs) == 0 {
			continue
		}
		lo, hi := rangeKeyBounds(inputs, start, end)
		if level == 0 {
			inputs = append(inputs, cur.FilesOverlapping(level+1, lo, hi)...)
		} else {
			inputs = append(append([]sstable.Meta(nil), inputs...), cur.FilesOverlapping(level+1, lo, hi)...)
		}
		if err := c.Run(task{sourceLevel: level, targetLevel: level + 1, inputs: inputs}); err != nil {
			return fmt.Errorf("compaction: compact range at level %d: %w", level, err)
		}
	}
	return nil
}

// rangeKeyBounds returns the widest [lo, hi) spanning both the requested
// range and every file actually picked, so the next level's overlap lookup
// also catches files beyond the caller's exact bound but within the picked
// files' key spread.
func rangeKeyBounds(files []sstable.Meta, start, end types.Key) (lo, hi types.Key) {
	lo, hi = start, end
	for _, f := range files {
		if lo == nil || types.CompareKeys(f.SmallestKey, lo) < 0 {
			lo = f.SmallestKey
		}
		if hi == nil || types.CompareKeys(f.LargestKey, hi) >= 0 {
			hi = append(append(types.Key(nil), f.LargestKey...), 0)
		}
	}
	return lo, hi
}
