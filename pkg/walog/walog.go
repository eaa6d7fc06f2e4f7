// Package walog implements the write-ahead log that backs the active
// memtable (spec §4.3): an append-only sequence of length-prefixed,
// CRC-checked frames, fsync'd per the configured sync mode, replayed in
// order on recovery with truncation on the first bad frame.
package walog

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"lsmdb/pkg/config"
	"lsmdb/pkg/types"
)

// frameHeaderLen is len:u32 + crc32:u32.
const frameHeaderLen = 8

// Segment is one `<n>.wal` file: the durability backing for exactly one
// active memtable generation.
type Segment struct {
	mu        sync.Mutex
	file      *os.File
	w         *bufio.Writer
	path      string
	number    uint64
	syncMode  config.SyncMode
	interval  time.Duration
	unsynced  bool
	closeOnce sync.Once
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// Create opens a brand-new WAL segment numbered n under dir.
func Create(dir string, n uint64, mode config.SyncMode, intervalMs int) (*Segment, error) {
	path := filepath.Join(dir, fmt.Sprintf("%d.wal", n))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_EXCL, 0600)
	if err != nil {
		return nil, fmt.Errorf("walog: create segment %d: %w", n, err)
	}
	return newSegment(f, path, n, mode, intervalMs), nil
}

// Open reopens an existing segment for append (used during recovery before
// replay completes, or never — recovered segments are replayed then
// discarded in favor of a fresh active segment).
func Open(path string, n uint64, mode config.SyncMode, intervalMs int) (*Segment, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("walog: open segment %d: %w", n, err)
	}
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		f.Close()
		return nil, fmt.Errorf("walog: seek segment %d: %w", n, err)
	}
	return newSegment(f, path, n, mode, intervalMs), nil
}

func newSegment(f *os.File, path string, n uint64, mode config.SyncMode, intervalMs int) *Segment {
	s := &Segment{
		file:     f,
		w:        bufio.NewWriter(f),
		path:     path,
		number:   n,
		syncMode: mode,
		interval: time.Duration(intervalMs) * time.Millisecond,
		stopCh:   make(chan struct{}),
	}
	if mode == config.SyncIntervalMs && s.interval > 0 {
		s.wg.Add(1)
		go s.syncLoop()
	}
	return s
}

func (s *Segment) syncLoop() {
	defer s.wg.Done()
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			s.mu.Lock()
			if s.unsynced {
				if err := s.flushAndSync(); err != nil {
					slog.Warn("walog: periodic sync failed", "path", s.path, "error", err)
				}
			}
			s.mu.Unlock()
		case <-s.stopCh:
			return
		}
	}
}

// Number returns this segment's log number.
func (s *Segment) Number() uint64 { return s.number }

// Path returns the segment's file path.
func (s *Segment) Path() string { return s.path }

func encodeFrame(r types.Record) []byte {
	payload := make([]byte, 1+4+len(r.Key)+4+len(r.Value)+8)
	off := 0
	payload[off] = byte(r.Op)
	off++
	binary.LittleEndian.PutUint32(payload[off:], uint32(len(r.Key)))
	off += 4
	copy(payload[off:], r.Key)
	off += len(r.Key)
	binary.LittleEndian.PutUint32(payload[off:], uint32(len(r.Value)))
	off += 4
	copy(payload[off:], r.Value)
	off += len(r.Value)
	binary.LittleEndian.PutUint64(payload[off:], uint64(r.Seq))

	frame := make([]byte, frameHeaderLen+len(payload))
	binary.LittleEndian.PutUint32(frame[0:4], uint32(len(payload)))
	binary.LittleEndian.PutUint32(frame[4:8], crc32.ChecksumIEEE(payload))
	copy(frame[frameHeaderLen:], payload)
	return frame
}

// Append writes one record's frame, honoring the segment's sync mode
// (always fsyncs every write; batch/interval_ms rely on Flush/the
// background ticker, but a caller may still request an immediate sync for
// a single record, e.g. when a batch is committing).
func (s *Segment) Append(r types.Record, forceSync bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.w.Write(encodeFrame(r)); err != nil {
		return fmt.Errorf("walog: append to segment %d: %w", s.number, err)
	}
	s.unsynced = true

	if s.syncMode == config.SyncAlways || forceSync {
		return s.flushAndSync()
	}
	return s.w.Flush()
}

func (s *Segment) flushAndSync() error {
	if err := s.w.Flush(); err != nil {
		return fmt.Errorf("walog: flush: %w", err)
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("walog: fsync: %w", err)
	}
	s.unsynced = false
	return nil
}

// Sync forces a flush+fsync regardless of sync mode. Nothing in the engine
// calls it; Close does its own flush+fsync.
func (s *Segment) Sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushAndSync()
}

// Close flushes, fsyncs, and closes the underlying file.
func (s *Segment) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.stopCh)
		s.wg.Wait()

		s.mu.Lock()
		defer s.mu.Unlock()
		if ferr := s.flushAndSync(); ferr != nil {
			err = ferr
		}
		if cerr := s.file.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("walog: close segment %d: %w", s.number, cerr)
		}
	})
	return err
}

// Remove closes and deletes the segment file, done once its memtable has
// been durably flushed into an SSTable and the manifest update committed.
func (s *Segment) Remove() error {
	if err := s.Close(); err != nil {
		slog.Warn("walog: close before remove failed", "path", s.path, "error", err)
	}
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("walog: remove segment %d: %w", s.number, err)
	}
	return nil
}

// Replay reads every well-formed frame from path in order, invoking fn for
// each. A truncated or CRC-bad frame stops replay for this segment; frames
// read before it are still delivered to fn.
func Replay(path string, fn func(types.Record) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("walog: open for replay: %w", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	for {
		rec, ok, err := readFrame(r)
		if err != nil {
			slog.Warn("walog: stopping replay at corrupt/truncated frame", "path", path, "error", err)
			return nil
		}
		if !ok {
			return nil
		}
		if err := fn(rec); err != nil {
			return fmt.Errorf("walog: replay callback: %w", err)
		}
	}
}

func readFrame(r *bufio.Reader) (types.Record, bool, error) {
	var header [frameHeaderLen]byte
	n, err := io.ReadFull(r, header[:])
	if err != nil {
		if n == 0 && err == io.EOF {
			return types.Record{}, false, nil
		}
		return types.Record{}, false, fmt.Errorf("truncated frame header: %w", err)
	}
	payloadLen := binary.LittleEndian.Uint32(header[0:4])
	wantCRC := binary.LittleEndian.Uint32(header[4:8])

	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		return types.Record{}, false, fmt.Errorf("truncated frame payload: %w", err)
	}
	if gotCRC := crc32.ChecksumIEEE(payload); gotCRC != wantCRC {
		return types.Record{}, false, fmt.Errorf("crc mismatch: want %x got %x", wantCRC, gotCRC)
	}

	rec, err := decodePayload(payload)
	if err != nil {
		return types.Record{}, false, err
	}
	return rec, true, nil
}

func decodePayload(payload []byte) (types.Record, error) {
	if len(payload) < 1+4 {
		return types.Record{}, fmt.Errorf("payload too short")
	}
	off := 0
	op := types.Op(payload[off])
	off++
	keyLen := binary.LittleEndian.Uint32(payload[off:])
	off += 4
	if off+int(keyLen) > len(payload) {
		return types.Record{}, fmt.Errorf("payload key overruns frame")
	}
	key := payload[off : off+int(keyLen)]
	off += int(keyLen)

	if off+4 > len(payload) {
		return types.Record{}, fmt.Errorf("payload truncated before value length")
	}
	valueLen := binary.LittleEndian.Uint32(payload[off:])
	off += 4
	if off+int(valueLen)+8 > len(payload) {
		return types.Record{}, fmt.Errorf("payload value/seq overruns frame")
	}
	value := payload[off : off+int(valueLen)]
	off += int(valueLen)
	seq := binary.LittleEndian.Uint64(payload[off:])

	return types.Record{Op: op, Key: append([]byte(nil), key...), Value: append([]byte(nil), value...), Seq: types.SeqN(seq)}, nil
}
