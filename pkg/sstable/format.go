// Package sstable implements the immutable, sorted on-disk table format
// from spec §4.4/§6: prefix-compressed data blocks with restart points, an
// index block, an optional bloom filter block, and a fixed 40-byte footer.
package sstable

// Magic identifies a well-formed SSTable footer.
const Magic uint64 = 0xDB4D15C0FFEE5000

// FooterSize is the fixed on-disk footer size (spec §6): index_off:u64,
// index_len:u32, filter_off:u64, filter_len:u32, magic:u64, plus 8 bytes
// reserved for future use to round the footer out to a fixed 40 bytes.
const FooterSize = 40

// DefaultRestartInterval is the number of records between restart points
// inside a data block: every restartInterval-th record stores its key in
// full instead of as a shared-prefix delta, so block scans can start
// partway through without decoding from the very first record.
const DefaultRestartInterval = 16
