// Package manifest implements the durable record of which SSTable files
// are live at each level (spec §4.6): an append-only log of VersionEdits,
// a CURRENT pointer, and an in-memory Version every reader snapshot pins.
package manifest

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"io"

	"lsmdb/pkg/sstable"
	"lsmdb/pkg/types"
)

// editFrameHeaderLen is len:u32 + crc32:u32, the same frame shape
// pkg/walog uses for WAL records.
const editFrameHeaderLen = 8

// VersionEdit is one atomic change to the live file set: files added by a
// flush or compaction, files removed (made obsolete) by the same
// operation tagged with the level they were removed from, the file-number
// watermark at the time of the edit (recorded and carried into Compact
// snapshots; DB.Open seeds its file-number clock from a directory scan,
// not from this field), the new last_sequence if it advanced, and the WAL segment number
// whose records are now fully reflected in SSTables.
type VersionEdit struct {
	AddedFiles     []sstable.Meta `json:"added_files,omitempty"`
	RemovedFiles   []RemovedFile  `json:"removed_files,omitempty"`
	NextFileNumber uint64         `json:"next_file_number,omitempty"`
	LastSequence   types.SeqN     `json:"last_sequence,omitempty"`
	LogNumber      uint64         `json:"log_number,omitempty"`
}

// RemovedFile identifies one file retired from level by this edit.
type RemovedFile struct {
	Level      int    `json:"level"`
	FileNumber uint64 `json:"file_number"`
}

// encodeEditFrame marshals e to JSON and wraps it in a {len, crc32,
// payload} frame.
func encodeEditFrame(e VersionEdit) ([]byte, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("manifest: encode edit: %w", err)
	}
	frame := make([]byte, editFrameHeaderLen+len(payload))
	binary.LittleEndian.PutUint32(frame[0:4], uint32(len(payload)))
	binary.LittleEndian.PutUint32(frame[4:8], crc32.ChecksumIEEE(payload))
	copy(frame[editFrameHeaderLen:], payload)
	return frame, nil
}

// readEditFrame reads one frame from r, mirroring pkg/walog's readFrame:
// ok=false with a nil error means a clean EOF; a non-nil error means a
// truncated or CRC-bad frame, which the caller should treat as the end of
// the usable log rather than a fatal condition.
func readEditFrame(r *bufio.Reader) (VersionEdit, bool, error) {
	var header [editFrameHeaderLen]byte
	n, err := io.ReadFull(r, header[:])
	if err != nil {
		if n == 0 && err == io.EOF {
			return VersionEdit{}, false, nil
		}
		return VersionEdit{}, false, fmt.Errorf("truncated edit frame header: %w", err)
	}
	payloadLen := binary.LittleEndian.Uint32(header[0:4])
	wantCRC := binary.LittleEndian.Uint32(header[4:8])

	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		return VersionEdit{}, false, fmt.Errorf("truncated edit frame payload: %w", err)
	}
	if gotCRC := crc32.ChecksumIEEE(payload); gotCRC != wantCRC {
		return VersionEdit{}, false, fmt.Errorf("crc mismatch: want %x got %x", wantCRC, gotCRC)
	}

	var e VersionEdit
	if err := json.Unmarshal(payload, &e); err != nil {
		return VersionEdit{}, false, fmt.Errorf("manifest: decode edit: %w", err)
	}
	return e, true, nil
}
