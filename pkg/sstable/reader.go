package sstable

import (
	"encoding/binary"
	"fmt"
	"os"
	"sort"
	"strconv"

	"lsmdb/pkg/bloom"
	"lsmdb/pkg/dberrors"
	"lsmdb/pkg/types"
)

// Reader serves point lookups and iteration over one immutable on-disk
// SSTable file (spec §4.4).
type Reader struct {
	f      *os.File
	path   string
	meta   Meta
	cache  *BlockCache
	index  []indexEntry
	filter *bloom.Filter // nil if the file was built without one

	verifyChecksums bool
}

// Open opens an existing SSTable file, reads its footer, index block and
// (if present) bloom filter block into memory, and returns a Reader ready
// to serve Get/NewIterator. cache may be shared across many readers.
func Open(path string, meta Meta, cache *BlockCache, verifyChecksums bool) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("sstable: open %s: %w", path, err)
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("sstable: stat %s: %w", path, err)
	}
	if fi.Size() < FooterSize {
		f.Close()
		return nil, fmt.Errorf("%w: %s smaller than footer", dberrors.ErrCorruption, path)
	}

	footer := make([]byte, FooterSize)
	if _, err := f.ReadAt(footer, fi.Size()-FooterSize); err != nil {
		f.Close()
		return nil, fmt.Errorf("sstable: read footer: %w", err)
	}
	indexOff := int64(binary.LittleEndian.Uint64(footer[0:8]))
	indexLen := binary.LittleEndian.Uint32(footer[8:12])
	filterOff := int64(binary.LittleEndian.Uint64(footer[12:20]))
	filterLen := binary.LittleEndian.Uint32(footer[20:24])
	magic := binary.LittleEndian.Uint64(footer[24:32])
	if magic != Magic {
		f.Close()
		return nil, fmt.Errorf("%w: %s bad magic", dberrors.ErrCorruption, path)
	}

	indexBuf := make([]byte, indexLen)
	if _, err := f.ReadAt(indexBuf, indexOff); err != nil {
		f.Close()
		return nil, fmt.Errorf("sstable: read index block: %w", err)
	}
	index, err := decodeIndexBlock(indexBuf)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %s: %v", dberrors.ErrCorruption, path, err)
	}

	var filter *bloom.Filter
	if filterLen > 0 {
		filterBuf := make([]byte, filterLen)
		if _, err := f.ReadAt(filterBuf, filterOff); err != nil {
			f.Close()
			return nil, fmt.Errorf("sstable: read bloom block: %w", err)
		}
		filter, err = bloom.Decode(filterBuf)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("%w: %s: bad bloom block: %v", dberrors.ErrCorruption, path, err)
		}
	}

	return &Reader{
		f:               f,
		path:            path,
		meta:            meta,
		cache:           cache,
		index:           index,
		filter:          filter,
		verifyChecksums: verifyChecksums,
	}, nil
}

func (r *Reader) Close() error { return r.f.Close() }

func (r *Reader) Meta() Meta { return r.meta }

func (r *Reader) cacheKey(blockOff int64) string {
	return strconv.FormatUint(r.meta.FileNumber, 10) + ":" + strconv.FormatInt(blockOff, 10)
}

func (r *Reader) loadBlock(e indexEntry) (*blockReader, error) {
	if r.cache != nil {
		if raw, ok := r.cache.Get(r.cacheKey(e.offset)); ok {
			return newBlockReader(raw)
		}
	}
	raw := make([]byte, e.length)
	if _, err := r.f.ReadAt(raw, e.offset); err != nil {
		return nil, fmt.Errorf("sstable: read data block at %d: %w", e.offset, err)
	}
	if r.verifyChecksums && e.length < 4 {
		return nil, fmt.Errorf("%w: %s: truncated data block", dberrors.ErrCorruption, r.path)
	}
	if r.cache != nil {
		r.cache.Set(r.cacheKey(e.offset), raw)
	}
	return newBlockReader(raw)
}

// findBlock returns the index of the data block whose key range may
// contain key: the last entry whose firstKey is <= key.
func (r *Reader) findBlock(key types.Key) (int, bool) {
	i := sort.Search(len(r.index), func(i int) bool {
		return types.CompareKeys(r.index[i].firstKey, key) > 0
	})
	if i == 0 {
		return 0, false
	}
	return i - 1, true
}

// Get returns the record for key visible at snapshotSeq: the entry with
// the largest Seq <= snapshotSeq (spec §4.2 ordering). It reports
// found=false if the bloom filter rules the key out or no record for it is
// visible at snapshotSeq. A visible tombstone is returned with found=true
// (callers check IsTombstone themselves when they need to distinguish
// "missing" from "deleted").
func (r *Reader) Get(key types.Key, snapshotSeq types.SeqN) (types.Record, bool, error) {
	if r.filter != nil && !r.filter.MayContain(key) {
		return types.Record{}, false, nil
	}
	idx, ok := r.findBlock(key)
	if !ok {
		return types.Record{}, false, nil
	}
	br, err := r.loadBlock(r.index[idx])
	if err != nil {
		return types.Record{}, false, err
	}

	var best types.Record
	found := false
	var prev []byte
	off := 0
	for {
		rec, next, ok, err := br.decodeFrom(off, prev)
		if err != nil {
			return types.Record{}, false, fmt.Errorf("%w: %s: %v", dberrors.ErrCorruption, r.path, err)
		}
		if !ok {
			break
		}
		cmp := types.CompareKeys(rec.Key, key)
		if cmp > 0 {
			break
		}
		if cmp == 0 && rec.Seq <= snapshotSeq && (!found || rec.Seq > best.Seq) {
			best = rec
			found = true
		}
		prev = rec.Key
		off = next
	}
	return best, found, nil
}

// NewIterator returns an iterator over all records in [lower, upper),
// unfiltered by snapshot or tombstones -- callers compose that via
// pkg/iterator's MergingIterator.
func (r *Reader) NewIterator(lower, upper types.Key) (*Iterator, error) {
	start := 0
	if lower != nil {
		if idx, ok := r.findBlock(lower); ok {
			start = idx
		}
	}
	return &Iterator{r: r, blockIdx: start, lower: lower, upper: upper}, nil
}

// Iterator walks a Reader's records in ascending (key, seq desc) order
// within [lower, upper).
type Iterator struct {
	r        *Reader
	blockIdx int
	br       *blockReader
	off      int
	prevKey  []byte
	lower    types.Key
	upper    types.Key
	cur      types.Record
	valid    bool
	started  bool
	err      error
}

func (it *Iterator) Next() bool {
	if it.err != nil {
		return false
	}
	for {
		if it.br == nil {
			if it.blockIdx >= len(it.r.index) {
				it.valid = false
				return false
			}
			br, err := it.r.loadBlock(it.r.index[it.blockIdx])
			if err != nil {
				it.err = err
				it.valid = false
				return false
			}
			it.br = br
			it.off = 0
			it.prevKey = nil
		}

		rec, next, ok, err := it.br.decodeFrom(it.off, it.prevKey)
		if err != nil {
			it.err = err
			it.valid = false
			return false
		}
		if !ok {
			it.br = nil
			it.blockIdx++
			continue
		}
		it.prevKey = rec.Key
		it.off = next

		if it.lower != nil && types.CompareKeys(rec.Key, it.lower) < 0 {
			continue
		}
		if it.upper != nil && types.CompareKeys(rec.Key, it.upper) >= 0 {
			it.valid = false
			return false
		}
		it.cur = rec
		it.valid = true
		it.started = true
		return true
	}
}

func (it *Iterator) Valid() bool          { return it.valid }
func (it *Iterator) Record() types.Record { return it.cur }
func (it *Iterator) Err() error           { return it.err }
func (it *Iterator) Close() error         { return nil }
