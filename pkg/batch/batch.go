// Package batch implements atomic multi-key writes (spec §4.8, §9 "Batch
// atomicity"): a sequence of Put/Delete mutations that the DB facade
// applies under the writer mutex as one contiguous run of sequence
// numbers, all becoming visible together or not at all.
package batch

import "lsmdb/pkg/types"

// WriteBatch groups multiple mutations atomically.
type WriteBatch interface {
	Put(key types.Key, value types.Value)
	Delete(key types.Key)
	Clear()
	Count() int
}

// mutation is one staged operation, seq is assigned only when the DB
// facade commits the batch.
type mutation struct {
	op    types.Op
	key   types.Key
	value types.Value
}

// Batch is the concrete WriteBatch: an ordered list of staged mutations.
// Later mutations on the same key shadow earlier ones at the same seq tier
// only in the sense that each becomes its own record with a distinct seq
// when committed -- Batch itself does no deduplication; each op in the
// batch gets its own sequence number (spec §9 batch semantics).
type Batch struct {
	muts []mutation
}

// New creates an empty batch.
func New() *Batch {
	return &Batch{}
}

func (b *Batch) Put(key types.Key, value types.Value) {
	b.muts = append(b.muts, mutation{op: types.OpSet, key: append(types.Key(nil), key...), value: append(types.Value(nil), value...)})
}

func (b *Batch) Delete(key types.Key) {
	b.muts = append(b.muts, mutation{op: types.OpDelete, key: append(types.Key(nil), key...)})
}

func (b *Batch) Clear() {
	b.muts = b.muts[:0]
}

func (b *Batch) Count() int {
	return len(b.muts)
}

// Records assigns startSeq, startSeq+1, ... to each staged mutation in
// order and returns the resulting records, ready to be appended to the WAL
// and inserted into the memtable as one contiguous run (spec §9 batch
// atomicity: a crash mid-batch must not leave a partial prefix visible,
// enforced by the WAL replay path treating any truncated tail as absent).
func (b *Batch) Records(startSeq types.SeqN) []types.Record {
	recs := make([]types.Record, len(b.muts))
	for i, m := range b.muts {
		recs[i] = types.Record{Op: m.op, Key: m.key, Value: m.value, Seq: startSeq + types.SeqN(i)}
	}
	return recs
}
