package iterator

import (
	"container/heap"

	"lsmdb/pkg/types"
)

// MergingIterator merges several already-sorted sources into one
// (user_key asc, seq desc) stream (spec §4.5). Ties on key are broken by
// seq descending; sources are otherwise unordered among themselves. It
// does not collapse multiple versions of the same key -- see Collapsing.
type MergingIterator struct {
	h     mergeHeap
	cur   types.Record
	valid bool
	err   error
}

type mergeSource struct {
	it  Iterator
	rec types.Record
}

type mergeHeap []*mergeSource

func (h mergeHeap) Len() int { return len(h) }
func (h mergeHeap) Less(i, j int) bool {
	return types.Less(h[i].rec, h[j].rec)
}
func (h mergeHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *mergeHeap) Push(x any)   { *h = append(*h, x.(*mergeSource)) }
func (h *mergeHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// NewMergingIterator builds a merged view over sources. Sources are
// consumed and positioned via their first Next() call; callers should not
// use them directly afterward.
func NewMergingIterator(sources []Iterator) *MergingIterator {
	m := &MergingIterator{}
	for _, it := range sources {
		if it.Next() {
			heap.Push(&m.h, &mergeSource{it: it, rec: it.Record()})
			continue
		}
		if err := it.Err(); err != nil {
			m.err = err
		}
		it.Close()
	}
	heap.Init(&m.h)
	return m
}

func (m *MergingIterator) Next() bool {
	if m.err != nil || len(m.h) == 0 {
		m.valid = false
		return false
	}
	top := m.h[0]
	m.cur = top.rec
	if top.it.Next() {
		top.rec = top.it.Record()
		heap.Fix(&m.h, 0)
	} else {
		if err := top.it.Err(); err != nil {
			m.err = err
		}
		heap.Pop(&m.h)
		top.it.Close()
	}
	m.valid = true
	return true
}

func (m *MergingIterator) Valid() bool          { return m.valid }
func (m *MergingIterator) Record() types.Record { return m.cur }
func (m *MergingIterator) Err() error           { return m.err }

func (m *MergingIterator) Close() error {
	var first error
	for _, s := range m.h {
		if err := s.it.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
