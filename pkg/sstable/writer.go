package sstable

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"lsmdb/pkg/bloom"
	"lsmdb/pkg/types"
)

type indexEntry struct {
	firstKey types.Key
	offset   int64
	length   int
}

// Writer builds one SSTable file. Records must be Add-ed in ascending
// (user_key, seq desc) order (spec §4.4).
type Writer struct {
	tmpPath   string
	finalPath string
	f         *os.File
	offset    int64

	blockSize       int
	restartInterval int
	bloomBits       int

	cur   *blockWriter
	index []indexEntry
	keys  []types.Key // for bloom filter construction

	fileNumber  uint64
	level       int
	smallestKey types.Key
	largestKey  types.Key
	smallestSeq types.SeqN
	largestSeq  types.SeqN
	nRecords    int
}

// NewWriter creates a writer that stages into "<finalPath>.tmp" and
// atomically renames into place on Finish.
func NewWriter(finalPath string, fileNumber uint64, level int, blockSize int, bloomBitsPerKey int) (*Writer, error) {
	tmp := finalPath + ".tmp"
	if err := os.MkdirAll(filepath.Dir(finalPath), 0750); err != nil {
		return nil, fmt.Errorf("sstable: mkdir: %w", err)
	}
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("sstable: create %s: %w", tmp, err)
	}
	if blockSize < 1 {
		blockSize = 4096
	}
	return &Writer{
		tmpPath:         tmp,
		finalPath:       finalPath,
		f:               f,
		blockSize:       blockSize,
		restartInterval: DefaultRestartInterval,
		bloomBits:       bloomBitsPerKey,
		cur:             newBlockWriter(DefaultRestartInterval),
		fileNumber:      fileNumber,
		level:           level,
		smallestSeq:     types.MaxSeqN,
	}, nil
}

// Add appends one record, flushing the current data block to disk when it
// crosses the target block size.
func (w *Writer) Add(r types.Record) error {
	if w.cur.empty() {
		w.index = append(w.index, indexEntry{firstKey: append(types.Key(nil), r.Key...), offset: w.offset})
	}
	w.cur.add(r)
	w.keys = append(w.keys, append(types.Key(nil), r.Key...))
	w.nRecords++

	if w.nRecords == 1 || types.CompareKeys(r.Key, w.smallestKey) < 0 || w.smallestKey == nil {
		w.smallestKey = append(types.Key(nil), r.Key...)
	}
	w.largestKey = append(types.Key(nil), r.Key...)
	if r.Seq < w.smallestSeq {
		w.smallestSeq = r.Seq
	}
	if r.Seq > w.largestSeq {
		w.largestSeq = r.Seq
	}

	if w.cur.buf.Len() >= w.blockSize {
		return w.flushBlock()
	}
	return nil
}

func (w *Writer) flushBlock() error {
	if w.cur.empty() {
		return nil
	}
	block := w.cur.finish()
	w.index[len(w.index)-1].length = len(block)
	if _, err := w.f.Write(block); err != nil {
		return fmt.Errorf("sstable: write data block: %w", err)
	}
	w.offset += int64(len(block))
	w.cur = newBlockWriter(w.restartInterval)
	return nil
}

// Finish flushes any pending block, writes the bloom and index blocks and
// footer, fsyncs, and atomically renames the file into place. It returns
// the metadata the manifest will carry for this file.
func (w *Writer) Finish() (Meta, error) {
	if err := w.flushBlock(); err != nil {
		return Meta{}, err
	}

	var filterOff int64
	var filterLen int
	if w.bloomBits > 0 && len(w.keys) > 0 {
		f := bloom.New(len(w.keys), w.bloomBits)
		for _, k := range w.keys {
			f.Add(k)
		}
		enc := f.Encode()
		filterOff = w.offset
		filterLen = len(enc)
		if _, err := w.f.Write(enc); err != nil {
			return Meta{}, fmt.Errorf("sstable: write bloom block: %w", err)
		}
		w.offset += int64(len(enc))
	}

	indexOff := w.offset
	indexBytes := encodeIndexBlock(w.index)
	if _, err := w.f.Write(indexBytes); err != nil {
		return Meta{}, fmt.Errorf("sstable: write index block: %w", err)
	}
	w.offset += int64(len(indexBytes))

	footer := make([]byte, FooterSize)
	binary.LittleEndian.PutUint64(footer[0:8], uint64(indexOff))
	binary.LittleEndian.PutUint32(footer[8:12], uint32(len(indexBytes)))
	binary.LittleEndian.PutUint64(footer[12:20], uint64(filterOff))
	binary.LittleEndian.PutUint32(footer[20:24], uint32(filterLen))
	binary.LittleEndian.PutUint64(footer[24:32], Magic)
	if _, err := w.f.Write(footer); err != nil {
		return Meta{}, fmt.Errorf("sstable: write footer: %w", err)
	}

	if err := w.f.Sync(); err != nil {
		return Meta{}, fmt.Errorf("sstable: fsync: %w", err)
	}
	if err := w.f.Close(); err != nil {
		return Meta{}, fmt.Errorf("sstable: close: %w", err)
	}
	if err := os.Rename(w.tmpPath, w.finalPath); err != nil {
		return Meta{}, fmt.Errorf("sstable: rename into place: %w", err)
	}

	size := indexOff + int64(len(indexBytes)) + int64(FooterSize)
	return Meta{
		FileNumber:  w.fileNumber,
		Level:       w.level,
		SmallestKey: w.smallestKey,
		LargestKey:  w.largestKey,
		SmallestSeq: w.smallestSeq,
		LargestSeq:  w.largestSeq,
		Size:        size,
	}, nil
}

// Discard removes the staged temp file without finishing the table, used
// when a compaction or flush is aborted.
func (w *Writer) Discard() error {
	w.f.Close()
	return os.Remove(w.tmpPath)
}

// Empty reports whether any record has been added.
func (w *Writer) Empty() bool { return w.nRecords == 0 }

func encodeIndexBlock(entries []indexEntry) []byte {
	var buf []byte
	for _, e := range entries {
		var hdr [binary.MaxVarintLen64]byte
		n := binary.PutUvarint(hdr[:], uint64(len(e.firstKey)))
		buf = append(buf, hdr[:n]...)
		buf = append(buf, e.firstKey...)

		var off [8]byte
		binary.LittleEndian.PutUint64(off[:], uint64(e.offset))
		buf = append(buf, off[:]...)

		var ln [4]byte
		binary.LittleEndian.PutUint32(ln[:], uint32(e.length))
		buf = append(buf, ln[:]...)
	}
	var count [4]byte
	binary.LittleEndian.PutUint32(count[:], uint32(len(entries)))
	buf = append(buf, count[:]...)
	return buf
}

func decodeIndexBlock(buf []byte) ([]indexEntry, error) {
	if len(buf) < 4 {
		return nil, fmt.Errorf("sstable: index block too small")
	}
	count := binary.LittleEndian.Uint32(buf[len(buf)-4:])
	buf = buf[:len(buf)-4]

	entries := make([]indexEntry, 0, count)
	off := 0
	for i := uint32(0); i < count; i++ {
		keyLen, n := binary.Uvarint(buf[off:])
		if n <= 0 {
			return nil, fmt.Errorf("sstable: malformed index entry %d", i)
		}
		off += n
		if off+int(keyLen)+12 > len(buf) {
			return nil, fmt.Errorf("sstable: index entry %d overruns block", i)
		}
		key := append(types.Key(nil), buf[off:off+int(keyLen)]...)
		off += int(keyLen)
		blockOffset := binary.LittleEndian.Uint64(buf[off:])
		off += 8
		blockLen := binary.LittleEndian.Uint32(buf[off:])
		off += 4
		entries = append(entries, indexEntry{firstKey: key, offset: int64(blockOffset), length: int(blockLen)})
	}
	return entries, nil
}
