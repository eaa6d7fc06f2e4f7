package sstable

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"lsmdb/pkg/types"
)

// blockWriter accumulates records for one data block with restart-point
// prefix compression: every restartInterval records stores its key in
// full; the rest store only the suffix past the shared prefix with the
// previous key in the block.
type blockWriter struct {
	buf             bytes.Buffer
	restarts        []uint32
	restartInterval int
	nSinceRestart   int
	lastKey         []byte
	nRecords        int
}

func newBlockWriter(restartInterval int) *blockWriter {
	if restartInterval < 1 {
		restartInterval = DefaultRestartInterval
	}
	return &blockWriter{restartInterval: restartInterval}
}

func sharedPrefixLen(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}

// add appends one record. Records must be added in ascending
// (user_key, seq desc) order within the block.
func (bw *blockWriter) add(r types.Record) {
	shared := 0
	if bw.nSinceRestart < bw.restartInterval && bw.lastKey != nil {
		shared = sharedPrefixLen(bw.lastKey, r.Key)
	} else {
		bw.restarts = append(bw.restarts, uint32(bw.buf.Len()))
		bw.nSinceRestart = 0
	}
	keyDelta := r.Key[shared:]

	var hdr [binary.MaxVarintLen64 * 3]byte
	n := binary.PutUvarint(hdr[0:], uint64(shared))
	n += binary.PutUvarint(hdr[n:], uint64(len(keyDelta)))
	n += binary.PutUvarint(hdr[n:], uint64(len(r.Value)))
	bw.buf.Write(hdr[:n])

	var seqOp [9]byte
	binary.LittleEndian.PutUint64(seqOp[0:8], uint64(r.Seq))
	seqOp[8] = byte(r.Op)
	bw.buf.Write(seqOp[:])

	bw.buf.Write(keyDelta)
	bw.buf.Write(r.Value)

	bw.lastKey = append(bw.lastKey[:0], r.Key...)
	bw.nSinceRestart++
	bw.nRecords++
}

func (bw *blockWriter) empty() bool { return bw.nRecords == 0 }

// finish appends the restart array and count, returning the full block
// bytes. The writer must not be reused afterward.
func (bw *blockWriter) finish() []byte {
	for _, r := range bw.restarts {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], r)
		bw.buf.Write(b[:])
	}
	var n [4]byte
	binary.LittleEndian.PutUint32(n[:], uint32(len(bw.restarts)))
	bw.buf.Write(n[:])
	return bw.buf.Bytes()
}

// blockReader decodes a fully-buffered data block for linear/binary scan.
type blockReader struct {
	data     []byte
	restarts []uint32
}

func newBlockReader(block []byte) (*blockReader, error) {
	if len(block) < 4 {
		return nil, fmt.Errorf("sstable: block too small (%d bytes)", len(block))
	}
	nRestarts := binary.LittleEndian.Uint32(block[len(block)-4:])
	restartsBytes := int(nRestarts) * 4
	if len(block) < 4+restartsBytes {
		return nil, fmt.Errorf("sstable: block declares %d restarts but is too small", nRestarts)
	}
	restartsStart := len(block) - 4 - restartsBytes
	restarts := make([]uint32, nRestarts)
	for i := range restarts {
		restarts[i] = binary.LittleEndian.Uint32(block[restartsStart+i*4:])
	}
	return &blockReader{data: block[:restartsStart], restarts: restarts}, nil
}

// decodeFrom decodes one record starting at offset off in b.data, using
// prevKey (the key of the record immediately before it in iteration order,
// or nil at a restart point) to resolve the shared-prefix delta. It returns
// the record and the offset of the next record, or ok=false at end of
// data.
func (b *blockReader) decodeFrom(off int, prevKey []byte) (types.Record, int, bool, error) {
	if off >= len(b.data) {
		return types.Record{}, off, false, nil
	}
	r := bytes.NewReader(b.data[off:])

	shared, err := binary.ReadUvarint(r)
	if err != nil {
		return types.Record{}, off, false, fmt.Errorf("sstable: decode shared prefix: %w", err)
	}
	keyDeltaLen, err := binary.ReadUvarint(r)
	if err != nil {
		return types.Record{}, off, false, fmt.Errorf("sstable: decode key delta len: %w", err)
	}
	valueLen, err := binary.ReadUvarint(r)
	if err != nil {
		return types.Record{}, off, false, fmt.Errorf("sstable: decode value len: %w", err)
	}

	headerLen := len(b.data[off:]) - r.Len()
	pos := off + headerLen

	if pos+8+1+int(keyDeltaLen)+int(valueLen) > len(b.data) {
		return types.Record{}, off, false, fmt.Errorf("sstable: record overruns block")
	}
	seq := types.SeqN(binary.LittleEndian.Uint64(b.data[pos : pos+8]))
	op := types.Op(b.data[pos+8])
	pos += 9

	keyDelta := b.data[pos : pos+int(keyDeltaLen)]
	pos += int(keyDeltaLen)
	value := b.data[pos : pos+int(valueLen)]
	pos += int(valueLen)

	var key []byte
	if shared == 0 {
		key = keyDelta
	} else {
		if prevKey == nil || int(shared) > len(prevKey) {
			return types.Record{}, off, false, fmt.Errorf("sstable: invalid shared prefix")
		}
		key = make([]byte, 0, int(shared)+len(keyDelta))
		key = append(key, prevKey[:shared]...)
		key = append(key, keyDelta...)
	}

	return types.Record{Op: op, Key: key, Value: value, Seq: seq}, pos, true, nil
}

// all decodes every record in the block in order.
func (b *blockReader) all() ([]types.Record, error) {
	var recs []types.Record
	var prev []byte
	off := 0
	for {
		rec, next, ok, err := b.decodeFrom(off, prev)
		if err != nil {
			return nil, err
		}
		if !ok {
			return recs, nil
		}
		recs = append(recs, rec)
		prev = rec.Key
		off = next
	}
}
