package sstable

import "lsmdb/pkg/types"

// Meta is the metadata the manifest carries for one live SSTable (spec §3).
type Meta struct {
	FileNumber  uint64
	Level       int
	SmallestKey types.Key
	LargestKey  types.Key
	SmallestSeq types.SeqN
	LargestSeq  types.SeqN
	Size        int64
}

// Overlaps reports whether this file's key range intersects [lo, hi).
// A nil bound is unbounded on that side.
func (m Meta) Overlaps(lo, hi types.Key) bool {
	if hi != nil && types.CompareKeys(m.SmallestKey, hi) >= 0 {
		return false
	}
	if lo != nil && types.CompareKeys(m.LargestKey, lo) < 0 {
		return false
	}
	return true
}
