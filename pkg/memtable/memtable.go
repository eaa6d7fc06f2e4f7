// Package memtable implements the ordered in-memory write buffer (spec
// §4.2): a skip list keyed by user key, sized until it crosses a
// configured threshold, then sealed and swapped for a fresh one under the
// memtable switch mutex (the DB facade owns that swap; this package only
// exposes the rotation trigger and the sealed table's contents).
package memtable

import (
	"bytes"
	"sync"
	"sync/atomic"

	"github.com/zhangyunhao116/skipmap"

	"lsmdb/pkg/types"
)

type concurrentMap = skipmap.FuncMap[[]byte, *versions]

// MemTable is an ordered mapping key -> (seq, op, value). It grows until
// its encoded-size estimate exceeds a threshold; the DB facade seals it at
// that point and starts a new one.
type MemTable struct {
	m    *concurrentMap
	size atomic.Int64

	// keyMu serializes concurrent inserts to the SAME key so the
	// prepend in versions.insert never races with itself. Writes to
	// distinct keys proceed fully concurrently through the skip list.
	keyMu sync.Map // key string -> *sync.Mutex
}

// New creates an empty memtable.
func New() *MemTable {
	return &MemTable{
		m: skipmap.NewFunc[[]byte, *versions](func(a, b []byte) bool {
			return bytes.Compare(a, b) < 0
		}),
	}
}

func (mt *MemTable) lockFor(key []byte) *sync.Mutex {
	mu := &sync.Mutex{}
	actual, _ := mt.keyMu.LoadOrStore(string(key), mu)
	return actual.(*sync.Mutex)
}

// Insert adds a record. Amortized O(log n) in the number of distinct keys.
func (mt *MemTable) Insert(r types.Record) {
	mu := mt.lockFor(r.Key)
	mu.Lock()
	defer mu.Unlock()

	v, _ := mt.m.LoadOrStore(r.Key, &versions{})
	before := v.encodedSize()
	v.insert(r)
	mt.size.Add(v.encodedSize() - before)
}

// Get returns the record with the largest seq <= snapshotSeq, if any.
func (mt *MemTable) Get(key []byte, snapshotSeq types.SeqN) (types.Record, bool) {
	v, ok := mt.m.Load(key)
	if !ok {
		return types.Record{}, false
	}
	return v.at(snapshotSeq)
}

// ApproximateSize returns the cumulative encoded-record byte estimate used
// to trigger rotation.
func (mt *MemTable) ApproximateSize() int64 {
	return mt.size.Load()
}

// Len returns the number of distinct user keys currently held.
func (mt *MemTable) Len() int {
	return mt.m.Len()
}

// Iterator yields every version of every key in ascending (user_key,
// seq desc) order, bounded to [lower, upper) when either bound is
// non-nil. The caller filters by snapshot seq, per spec §4.2.
func (mt *MemTable) Iterator(lower, upper []byte) *Iterator {
	recs := make([]types.Record, 0, mt.m.Len())
	mt.m.Range(func(key []byte, v *versions) bool {
		if lower != nil && bytes.Compare(key, lower) < 0 {
			return true
		}
		if upper != nil && bytes.Compare(key, upper) >= 0 {
			return true
		}
		recs = append(recs, v.recs...)
		return true
	})
	return &Iterator{recs: recs, idx: -1}
}

// Iterator is a snapshot-at-construction-time forward iterator over a
// memtable's contents. It does not observe writes made after it was built,
// which is what keeps range scans consistent across a concurrent rotation
// (spec §5 "Iterators outliving memtables").
type Iterator struct {
	recs []types.Record
	idx  int
}

func (it *Iterator) Next() bool {
	it.idx++
	return it.idx < len(it.recs)
}

func (it *Iterator) Valid() bool {
	return it.idx >= 0 && it.idx < len(it.recs)
}

func (it *Iterator) Record() types.Record {
	return it.recs[it.idx]
}

func (it *Iterator) Close() error { return nil }

func (it *Iterator) Err() error { return nil }
