package db

import (
	"fmt"
	"os"
	"sync"

	"lsmdb/pkg/sstable"
)

// readerEntry is one cached, open SSTable reader plus the refcount of
// in-flight Get/iterator callers currently holding it. A file made
// obsolete by a compaction is not unlinked until its refcount drops to
// zero, so a range scan or point lookup already in flight never has its
// file closed or removed out from under it (spec §4.6/§5 deferred
// deletion: "deleted files' unlinks are deferred until their handles and
// any outstanding readers release them").
type readerEntry struct {
	r        *sstable.Reader
	refcount int
	obsolete bool
	path     string
}

// sstableReaderCache keeps one open sstable.Reader per live file number,
// refcounted across concurrent callers. Unlike pkg/sstable's BlockCache (a
// bounded LRU of raw data block bytes), this cache is naturally bounded by
// the number of live SSTable files the manifest tracks.
type sstableReaderCache struct {
	mu      sync.Mutex
	readers map[uint64]*readerEntry
}

// get returns the shared reader for meta, opening it if not already
// cached, and increments its refcount. Callers must call release with the
// same file number exactly once when they are done with the reader
// (directly for a single Get, or from an iterator's Close for a scan).
func (c *sstableReaderCache) get(dir string, meta sstable.Meta, blockCache *sstable.BlockCache, verify bool, pathFn func(uint64) string) (*sstable.Reader, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.readers == nil {
		c.readers = make(map[uint64]*readerEntry)
	}
	if e, ok := c.readers[meta.FileNumber]; ok {
		e.refcount++
		return e.r, nil
	}
	r, err := sstable.Open(pathFn(meta.FileNumber), meta, blockCache, verify)
	if err != nil {
		return nil, fmt.Errorf("db: open sstable %d: %w", meta.FileNumber, err)
	}
	c.readers[meta.FileNumber] = &readerEntry{r: r, refcount: 1}
	return r, nil
}

// release drops one reference on the reader for file number n. If the
// file has since been marked obsolete and this was the last outstanding
// reference, the reader is closed and the on-disk file is unlinked now.
func (c *sstableReaderCache) release(n uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.readers[n]
	if !ok {
		return
	}
	e.refcount--
	if e.refcount <= 0 && e.obsolete {
		e.r.Close()
		os.Remove(e.path)
		delete(c.readers, n)
	}
}

// markObsolete records that file number n has been removed from the live
// manifest Version and should be unlinked from disk at path once every
// outstanding reference on its reader is released. If the reader was
// never opened (never read from), it is unlinked immediately since
// nothing can be holding a reference to it.
func (c *sstableReaderCache) markObsolete(n uint64, path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.readers[n]
	if !ok {
		os.Remove(path)
		return
	}
	e.obsolete = true
	e.path = path
	if e.refcount <= 0 {
		e.r.Close()
		os.Remove(path)
		delete(c.readers, n)
	}
}

// closeAll closes every cached reader unconditionally, used on DB.Close
// once no further reads can possibly be in flight.
func (c *sstableReaderCache) closeAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for n, e := range c.readers {
		e.r.Close()
		delete(c.readers, n)
	}
}
