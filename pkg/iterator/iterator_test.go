package iterator

import (
	"testing"

	"lsmdb/pkg/types"
)

// sliceIterator is a minimal in-memory Iterator over a pre-sorted slice,
// used only to exercise MergingIterator/Collapsing without pulling in a
// real memtable or SSTable.
type sliceIterator struct {
	recs []types.Record
	pos  int
}

func newSliceIterator(recs ...types.Record) *sliceIterator {
	return &sliceIterator{recs: recs, pos: -1}
}

func (s *sliceIterator) Next() bool {
	s.pos++
	return s.pos < len(s.recs)
}
func (s *sliceIterator) Valid() bool          { return s.pos >= 0 && s.pos < len(s.recs) }
func (s *sliceIterator) Record() types.Record { return s.recs[s.pos] }
func (s *sliceIterator) Err() error           { return nil }
func (s *sliceIterator) Close() error         { return nil }

func rec(key string, seq types.SeqN, op types.Op) types.Record {
	return types.Record{Op: op, Key: []byte(key), Value: []byte("v"), Seq: seq}
}

func collect(it Iterator) []types.Record {
	var out []types.Record
	for it.Next() {
		out = append(out, it.Record())
	}
	return out
}

func TestMergingIterator_MergesTwoSortedSources(t *testing.T) {
	a := newSliceIterator(rec("a", 1, types.OpSet), rec("c", 1, types.OpSet))
	b := newSliceIterator(rec("b", 1, types.OpSet), rec("d", 1, types.OpSet))

	m := NewMergingIterator([]Iterator{a, b})
	got := collect(m)
	want := []string{"a", "b", "c", "d"}
	if len(got) != len(want) {
		t.Fatalf("got %d records, want %d", len(got), len(want))
	}
	for i, w := range want {
		if string(got[i].Key) != w {
			t.Errorf("record %d key = %q, want %q", i, got[i].Key, w)
		}
	}
}

func TestMergingIterator_BreaksKeyTiesBySeqDescending(t *testing.T) {
	a := newSliceIterator(rec("a", 1, types.OpSet))
	b := newSliceIterator(rec("a", 5, types.OpSet))

	m := NewMergingIterator([]Iterator{a, b})
	got := collect(m)
	if len(got) != 2 {
		t.Fatalf("expected 2 records for the same key from two sources, got %d", len(got))
	}
	if got[0].Seq != 5 || got[1].Seq != 1 {
		t.Fatalf("expected seq order [5,1], got [%d,%d]", got[0].Seq, got[1].Seq)
	}
}

func TestMergingIterator_EmptySources(t *testing.T) {
	m := NewMergingIterator([]Iterator{newSliceIterator()})
	if m.Next() {
		t.Fatalf("expected no records from an empty source")
	}
}

func TestCollapsing_KeepsNewestVisibleVersionOnly(t *testing.T) {
	src := newSliceIterator(
		rec("a", 5, types.OpSet),
		rec("a", 3, types.OpSet),
		rec("b", 1, types.OpSet),
	)
	c := NewCollapsing(src, types.MaxSeqN, false)
	got := collect(c)
	if len(got) != 2 {
		t.Fatalf("expected 2 collapsed records, got %d", len(got))
	}
	if got[0].Seq != 5 {
		t.Fatalf("expected newest version (seq 5) to win for key 'a', got seq %d", got[0].Seq)
	}
}

func TestCollapsing_RespectsSnapshotSeq(t *testing.T) {
	src := newSliceIterator(
		rec("a", 5, types.OpSet),
		rec("a", 3, types.OpSet),
	)
	c := NewCollapsing(src, 4, false)
	got := collect(c)
	if len(got) != 1 || got[0].Seq != 3 {
		t.Fatalf("expected the single visible version at snapshotSeq=4 to be seq 3, got %+v", got)
	}
}

func TestCollapsing_SkipsTombstonesByDefault(t *testing.T) {
	src := newSliceIterator(rec("a", 1, types.OpDelete), rec("b", 1, types.OpSet))
	c := NewCollapsing(src, types.MaxSeqN, false)
	got := collect(c)
	if len(got) != 1 || string(got[0].Key) != "b" {
		t.Fatalf("expected only 'b' to survive tombstone filtering, got %v", got)
	}
}

func TestCollapsing_IncludesTombstonesWhenRequested(t *testing.T) {
	src := newSliceIterator(rec("a", 1, types.OpDelete), rec("b", 1, types.OpSet))
	c := NewCollapsing(src, types.MaxSeqN, true)
	got := collect(c)
	if len(got) != 2 {
		t.Fatalf("expected tombstone to be preserved, got %d records", len(got))
	}
	if !got[0].IsTombstone() {
		t.Fatalf("expected first record to be the tombstone for 'a'")
	}
}
