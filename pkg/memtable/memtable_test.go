package memtable

import (
	"sync"
	"testing"

	"lsmdb/pkg/types"
)

func rec(key string, seq types.SeqN) types.Record {
	return types.Record{Op: types.OpSet, Key: []byte(key), Value: []byte("v-" + key), Seq: seq}
}

func TestMemTable_InsertThenGetReturnsNewestVisibleVersion(t *testing.T) {
	mt := New()
	mt.Insert(rec("a", 1))
	mt.Insert(rec("a", 2))
	mt.Insert(rec("a", 3))

	got, ok := mt.Get([]byte("a"), types.MaxSeqN)
	if !ok {
		t.Fatalf("expected key 'a' to be found")
	}
	if got.Seq != 3 {
		t.Fatalf("Get returned seq %d, want 3 (newest)", got.Seq)
	}
}

func TestMemTable_GetRespectsSnapshotSeq(t *testing.T) {
	mt := New()
	mt.Insert(rec("a", 1))
	mt.Insert(rec("a", 5))

	got, ok := mt.Get([]byte("a"), 3)
	if !ok {
		t.Fatalf("expected a visible version at snapshot seq 3")
	}
	if got.Seq != 1 {
		t.Fatalf("Get(snapshotSeq=3) returned seq %d, want 1", got.Seq)
	}
}

func TestMemTable_GetMissingKey(t *testing.T) {
	mt := New()
	if _, ok := mt.Get([]byte("nope"), types.MaxSeqN); ok {
		t.Fatalf("expected missing key to report not found")
	}
}

func TestMemTable_ApproximateSizeGrows(t *testing.T) {
	mt := New()
	if mt.ApproximateSize() != 0 {
		t.Fatalf("expected empty memtable to have zero size")
	}
	mt.Insert(rec("a", 1))
	if mt.ApproximateSize() <= 0 {
		t.Fatalf("expected size to grow after insert")
	}
}

func TestMemTable_IteratorYieldsAscendingKeyDescendingSeq(t *testing.T) {
	mt := New()
	mt.Insert(rec("b", 1))
	mt.Insert(rec("a", 1))
	mt.Insert(rec("a", 2))

	it := mt.Iterator(nil, nil)
	var got []types.Record
	for it.Next() {
		got = append(got, it.Record())
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 records, got %d", len(got))
	}
	want := []struct {
		key string
		seq types.SeqN
	}{{"a", 2}, {"a", 1}, {"b", 1}}
	for i, w := range want {
		if string(got[i].Key) != w.key || got[i].Seq != w.seq {
			t.Errorf("record %d = (%s, %d), want (%s, %d)", i, got[i].Key, got[i].Seq, w.key, w.seq)
		}
	}
}

func TestMemTable_IteratorRespectsBounds(t *testing.T) {
	mt := New()
	mt.Insert(rec("a", 1))
	mt.Insert(rec("b", 1))
	mt.Insert(rec("c", 1))

	it := mt.Iterator([]byte("b"), []byte("c"))
	var keys []string
	for it.Next() {
		keys = append(keys, string(it.Record().Key))
	}
	if len(keys) != 1 || keys[0] != "b" {
		t.Fatalf("expected only key 'b' in [b,c), got %v", keys)
	}
}

func TestMemTable_ConcurrentInsertDistinctKeys(t *testing.T) {
	mt := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			mt.Insert(rec(string(rune('a'+i%26))+string(rune(i)), types.SeqN(i)))
		}(i)
	}
	wg.Wait()
	if mt.Len() == 0 {
		t.Fatalf("expected memtable to hold inserted keys")
	}
}
