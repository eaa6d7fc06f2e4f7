package memtable

import "lsmdb/pkg/types"

// Sorted returns every live record in ascending (key asc, seq desc)
// order, the exact order the flush path (spec §4.7a) needs to hand records
// straight to an SSTable writer.
func (mt *MemTable) Sorted() []types.Record {
	out := make([]types.Record, 0, mt.m.Len())
	mt.m.Range(func(_ []byte, v *versions) bool {
		out = append(out, v.recs...)
		return true
	})
	return out
}
