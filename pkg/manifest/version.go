package manifest

import (
	"sort"

	"lsmdb/pkg/sstable"
	"lsmdb/pkg/types"
)

// Version is the live set of SSTable files per level at one point in time,
// plus the last sequence number assigned (spec §4.6). Versions are
// immutable once published; a new edit produces a new Version rather than
// mutating one in place, so readers holding an old Version continue to see
// a consistent set of files even while a compaction swaps files under them.
type Version struct {
	Levels       [][]sstable.Meta // Levels[0] is L0, unordered by key; Levels[i>0] sorted and disjoint
	LastSequence types.SeqN
}

func newVersion() *Version {
	return &Version{Levels: make([][]sstable.Meta, 1)}
}

// clone returns a deep-enough copy: the Levels slice and each inner slice
// are copied, but Meta values (already immutable) are shared.
func (v *Version) clone() *Version {
	nv := &Version{LastSequence: v.LastSequence, Levels: make([][]sstable.Meta, len(v.Levels))}
	for i, files := range v.Levels {
		nv.Levels[i] = append([]sstable.Meta(nil), files...)
	}
	return nv
}

func (v *Version) ensureLevel(level int) {
	for len(v.Levels) <= level {
		v.Levels = append(v.Levels, nil)
	}
}

// apply returns a new Version reflecting edit applied to v. It does not
// mutate v.
func (v *Version) apply(edit VersionEdit) *Version {
	nv := v.clone()
	nv.ensureLevel(maxLevel(edit))

	removed := make(map[uint64]bool, len(edit.RemovedFiles))
	for _, rf := range edit.RemovedFiles {
		removed[rf.FileNumber] = true
	}
	for level := range nv.Levels {
		var kept []sstable.Meta
		for _, m := range nv.Levels[level] {
			if !removed[m.FileNumber] {
				kept = append(kept, m)
			}
		}
		nv.Levels[level] = kept
	}

	for _, m := range edit.AddedFiles {
		nv.ensureLevel(m.Level)
		nv.Levels[m.Level] = append(nv.Levels[m.Level], m)
	}
	for level := 1; level < len(nv.Levels); level++ {
		sort.Slice(nv.Levels[level], func(i, j int) bool {
			return types.CompareKeys(nv.Levels[level][i].SmallestKey, nv.Levels[level][j].SmallestKey) < 0
		})
	}

	if edit.LastSequence > nv.LastSequence {
		nv.LastSequence = edit.LastSequence
	}
	return nv
}

func maxLevel(edit VersionEdit) int {
	max := 0
	for _, m := range edit.AddedFiles {
		if m.Level > max {
			max = m.Level
		}
	}
	return max
}

// FilesOverlapping returns every file at level whose key range intersects
// [lo, hi).
func (v *Version) FilesOverlapping(level int, lo, hi types.Key) []sstable.Meta {
	if level >= len(v.Levels) {
		return nil
	}
	var out []sstable.Meta
	for _, m := range v.Levels[level] {
		if m.Overlaps(lo, hi) {
			out = append(out, m)
		}
	}
	return out
}

// TotalBytes returns the sum of file sizes at level.
func (v *Version) TotalBytes(level int) int64 {
	if level >= len(v.Levels) {
		return 0
	}
	var total int64
	for _, m := range v.Levels[level] {
		total += m.Size
	}
	return total
}

// NumLevels returns the number of levels with any recorded slot (some may
// be empty slices).
func (v *Version) NumLevels() int { return len(v.Levels) }
