package memtable

import "lsmdb/pkg/types"

// versions holds every version of a single user key currently resident in
// one memtable, newest first. Spec §3: "only the newest (key, seq) is
// materially queried but older seqs for the same key may coexist until
// flush compacts them" — kept so snapshot reads started before a later
// overwrite of the same key still observe the version current at their
// snapshot seq.
type versions struct {
	recs []types.Record // sorted descending by Seq
}

func (v *versions) insert(r types.Record) {
	// New writes carry a higher seq than anything already present (the
	// clock is monotonic and this table is the only writer target), so
	// the new record always becomes the head.
	v.recs = append(v.recs, types.Record{})
	copy(v.recs[1:], v.recs)
	v.recs[0] = r
}

// at returns the newest record with Seq <= snapshotSeq, if any.
func (v *versions) at(snapshotSeq types.SeqN) (types.Record, bool) {
	for _, r := range v.recs {
		if r.Seq <= snapshotSeq {
			return r, true
		}
	}
	return types.Record{}, false
}

// encodedSize approximates the bytes this key's versions contribute to the
// memtable's size estimate.
func (v *versions) encodedSize() int64 {
	var n int64
	for _, r := range v.recs {
		n += int64(len(r.Key)) + int64(len(r.Value)) + 16 // +seq(8) +op/len overhead(8)
	}
	return n
}
