// Package clock provides the two monotonic counters the engine hangs its
// ordering and naming invariants on: the sequence-number clock (§3 Record)
// and the file-number counter (§3 Lifecycles).
package clock

import "sync/atomic"

// SeqClock is a strictly increasing sequence-number counter. A batch of M
// mutations consumes M consecutive values via successive Next calls under
// the writer mutex (see pkg/db), which is what makes batch seq assignment
// contiguous.
type SeqClock struct {
	v atomic.Uint64
}

// NewSeqClock creates a clock initialized to resume after the given value
// (typically manifest.LastSequence after recovery).
func NewSeqClock(init uint64) *SeqClock {
	c := &SeqClock{}
	c.Set(init)
	return c
}

// Val returns the current value without advancing it.
func (c *SeqClock) Val() uint64 {
	return c.v.Load()
}

// Next atomically advances and returns the new value.
func (c *SeqClock) Next() uint64 {
	return c.v.Add(1)
}

// Set overwrites the counter: during recovery to fast-forward past
// sequence numbers observed in the WAL or manifest, and by pkg/db's Write
// to move it to a batch's last sequence number.
func (c *SeqClock) Set(t uint64) {
	c.v.Store(t)
}

// FileNumberClock draws process-wide monotonic file numbers for WAL
// segments and SSTables (manifest logs are numbered by pkg/manifest
// itself). It is seeded on Open by scanning the database directory for the
// highest *.wal/*.sst number already on disk; the next_file_number
// watermark the manifest records is not read back for this.
type FileNumberClock struct {
	v atomic.Uint64
}

func NewFileNumberClock(init uint64) *FileNumberClock {
	c := &FileNumberClock{}
	c.v.Store(init)
	return c
}

func (c *FileNumberClock) Next() uint64 {
	return c.v.Add(1)
}

func (c *FileNumberClock) Val() uint64 {
	return c.v.Load()
}

func (c *FileNumberClock) Set(v uint64) {
	c.v.Store(v)
}
