// Package types holds the small value types shared by every layer of the
// engine: opaque keys/values, sequence numbers, and the logical record
// that every memtable, WAL frame, and SSTable entry ultimately carries.
package types

import "bytes"

// Key is an immutable byte slice type alias used for clarity.
type Key = []byte

// Value is an immutable byte slice type alias used for clarity.
type Value = []byte

// SeqN is the engine's sole source of ordering across all sources: memtables,
// immutable memtables, and SSTables at every level.
type SeqN uint64

// MaxSeqN is used as the snapshot bound for reads with no explicit snapshot.
const MaxSeqN SeqN = ^SeqN(0)

// Limits from the data model (§3): empty keys are reserved, and both keys
// and values are bounded so on-disk length fields never need more than the
// varint widths the SSTable format assumes.
const (
	MaxKeyLen   = 64 * 1024
	MaxValueLen = 64 * 1024 * 1024
)

// Op distinguishes a value-bearing write from a tombstone.
type Op uint8

const (
	OpSet Op = iota
	OpDelete
)

// Record is a single logical write: a key, its op, the value (empty for
// deletes), and the sequence number that orders it against every other
// record for the same key across every source in the engine.
type Record struct {
	Op    Op
	Key   Key
	Value Value
	Seq   SeqN
}

// IsTombstone reports whether this record masks older versions without
// itself carrying a value.
func (r Record) IsTombstone() bool {
	return r.Op == OpDelete
}

// CompareKeys orders keys lexicographically by unsigned byte order.
func CompareKeys(a, b Key) int {
	return bytes.Compare(a, b)
}

// Less orders two records by (user_key asc, seq desc), the order every
// memtable iterator and every SSTable data block is written and read in:
// for a fixed key, the newest record sorts first.
func Less(a, b Record) bool {
	if c := CompareKeys(a.Key, b.Key); c != 0 {
		return c < 0
	}
	return a.Seq > b.Seq
}
