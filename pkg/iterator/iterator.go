// Package iterator defines the sorted-sequence iterator contract every
// memtable, SSTable, and the merged view across them implements (spec
// §4.5), plus a heap-based k-way MergingIterator.
package iterator

import "lsmdb/pkg/types"

// Iterator iterates over a sorted sequence of records in ascending
// (user_key, seq desc) order.
type Iterator interface {
	// Next advances to the next entry, returning false once exhausted.
	Next() bool
	// Valid reports whether the iterator currently points to an entry.
	Valid() bool
	// Record returns the current record. Only valid while Valid() is true.
	Record() types.Record
	// Close releases resources held by the iterator.
	Close() error
	// Err returns the first error encountered during iteration, if any.
	Err() error
}
