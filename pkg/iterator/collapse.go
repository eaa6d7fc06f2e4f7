package iterator

import "lsmdb/pkg/types"

// Collapsing wraps a MergingIterator (or anything emitting (key asc,
// seq desc) order with possibly many versions per key) and yields exactly
// one record per distinct key: the newest version with seq <= snapshotSeq.
// If includeTombstones is false, keys whose visible version is a delete
// are skipped entirely; the DB's Get/Range surface sets this false, while
// a compaction job that needs to see (and eventually drop) tombstones
// sets it true.
type Collapsing struct {
	src               Iterator
	snapshotSeq       types.SeqN
	includeTombstones bool

	cur   types.Record
	valid bool
	done  bool
}

func NewCollapsing(src Iterator, snapshotSeq types.SeqN, includeTombstones bool) *Collapsing {
	return &Collapsing{src: src, snapshotSeq: snapshotSeq, includeTombstones: includeTombstones}
}

func (c *Collapsing) Next() bool {
	for {
		if c.done {
			c.valid = false
			return false
		}
		if !c.src.Valid() {
			if !c.src.Next() {
				c.done = true
				c.valid = false
				return false
			}
		}

		key := c.src.Record().Key
		var best types.Record
		found := false
		for c.src.Valid() && types.CompareKeys(c.src.Record().Key, key) == 0 {
			rec := c.src.Record()
			if !found && rec.Seq <= c.snapshotSeq {
				best = rec
				found = true
			}
			if !c.src.Next() {
				c.done = true
				break
			}
		}

		if !found {
			continue
		}
		if best.IsTombstone() && !c.includeTombstones {
			continue
		}
		c.cur = best
		c.valid = true
		return true
	}
}

func (c *Collapsing) Valid() bool          { return c.valid }
func (c *Collapsing) Record() types.Record { return c.cur }
func (c *Collapsing) Err() error           { return c.src.Err() }
func (c *Collapsing) Close() error         { return c.src.Close() }
