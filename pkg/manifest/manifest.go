package manifest

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/zhangyunhao116/skipset"

	"lsmdb/pkg/dberrors"
)

const (
	manifestPrefix     = "MANIFEST-"
	currentFileName    = "CURRENT"
	defaultCompactEdits = 10000
)

// Manifest is the durable append-only log of VersionEdits plus the
// in-memory Version every snapshot reader pins a reference to (spec §4.6).
// It is guarded by its own mutex, independent of the DB's memtable-switch
// and writer mutexes, and must never be held during data block I/O.
type Manifest struct {
	mu sync.Mutex

	dir          string
	f            *os.File
	w            *bufio.Writer
	number       uint64 // current MANIFEST-<number> file
	editsSince   int
	compactEvery int

	current *Version

	// nextFileNumber and logNumber track the most recently applied edit's
	// watermark fields, carried forward into each snapshot Compact writes
	// (spec §6 wire format: next_file_number, log_number).
	nextFileNumber uint64
	logNumber      uint64

	// obsolete tracks file numbers removed by an applied edit that have not
	// yet been handed out by ObsoleteFiles. The set is drained whole on each
	// ObsoleteFiles call, without checking which Versions still list them.
	obsolete *skipset.Uint64Set
}

// Open opens the manifest directory, following CURRENT to the active
// MANIFEST file and replaying its edits to rebuild the live Version. If no
// CURRENT file exists, a fresh empty manifest is created.
func Open(dir string, compactEditThreshold int) (*Manifest, error) {
	if compactEditThreshold < 1 {
		compactEditThreshold = defaultCompactEdits
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("manifest: mkdir: %w", err)
	}

	m := &Manifest{
		dir:          dir,
		compactEvery: compactEditThreshold,
		current:      newVersion(),
		obsolete:     skipset.NewUint64(),
	}

	currentPath := filepath.Join(dir, currentFileName)
	name, err := os.ReadFile(currentPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("manifest: read CURRENT: %w", err)
		}
		if err := m.createNew(1); err != nil {
			return nil, err
		}
		return m, nil
	}

	manifestPath := filepath.Join(dir, string(name))
	number, err := parseManifestNumber(string(name))
	if err != nil {
		return nil, fmt.Errorf("%w: CURRENT points at malformed name %q: %v", dberrors.ErrCorruption, name, err)
	}
	if err := m.replay(manifestPath); err != nil {
		return nil, err
	}
	m.number = number

	f, err := os.OpenFile(manifestPath, os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("manifest: reopen %s: %w", manifestPath, err)
	}
	m.f = f
	m.w = bufio.NewWriter(f)
	return m, nil
}

func parseManifestNumber(name string) (uint64, error) {
	var n uint64
	_, err := fmt.Sscanf(name, manifestPrefix+"%d", &n)
	return n, err
}

// replay reads every well-formed edit frame from path in order and folds
// it into m.current. A truncated or CRC-bad trailing frame stops replay
// for this manifest log rather than failing Open entirely -- edits read
// before it are still applied, matching pkg/walog.Replay's recovery
// behavior for the WAL.
func (m *Manifest) replay(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("manifest: open %s: %w", path, err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	for {
		edit, ok, err := readEditFrame(r)
		if err != nil {
			slog.Warn("manifest: stopping replay at corrupt/truncated edit", "path", path, "error", err)
			return nil
		}
		if !ok {
			return nil
		}
		m.applyReplayedEdit(edit)
	}
}

func (m *Manifest) applyReplayedEdit(edit VersionEdit) {
	m.current = m.current.apply(edit)
	if edit.NextFileNumber > m.nextFileNumber {
		m.nextFileNumber = edit.NextFileNumber
	}
	if edit.LogNumber > 0 {
		m.logNumber = edit.LogNumber
	}
}

// createNew writes a fresh empty MANIFEST-<number> file and points
// CURRENT at it.
func (m *Manifest) createNew(number uint64) error {
	path := filepath.Join(m.dir, fmt.Sprintf("%s%d", manifestPrefix, number))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("manifest: create %s: %w", path, err)
	}
	if m.f != nil {
		m.w.Flush()
		m.f.Sync()
		m.f.Close()
	}
	m.f = f
	m.w = bufio.NewWriter(f)
	m.number = number

	if err := m.writeCurrent(number); err != nil {
		return err
	}
	return nil
}

func (m *Manifest) writeCurrent(number uint64) error {
	tmp := filepath.Join(m.dir, currentFileName+".tmp")
	name := fmt.Sprintf("%s%d", manifestPrefix, number)
	if err := os.WriteFile(tmp, []byte(name), 0600); err != nil {
		return fmt.Errorf("manifest: write CURRENT.tmp: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(m.dir, currentFileName)); err != nil {
		return fmt.Errorf("manifest: rename CURRENT into place: %w", err)
	}
	return nil
}

// Current returns the live Version. Callers must not mutate the returned
// value; Apply always produces a new Version rather than mutating in
// place, so holding a reference across an Apply call is safe.
func (m *Manifest) Current() *Version {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Apply durably appends edit to the manifest log (fsynced before
// returning) and publishes the resulting Version. Files named in
// RemovedFiles are marked obsolete for deferred deletion rather than
// unlinked here; the DB collects them through ObsoleteFiles and unlinks
// each once no SSTable reader it has open still holds it.
func (m *Manifest) Apply(edit VersionEdit) (*Version, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, err := encodeEditFrame(edit)
	if err != nil {
		return nil, err
	}
	if _, err := m.w.Write(b); err != nil {
		return nil, fmt.Errorf("manifest: append edit: %w", err)
	}
	if err := m.w.Flush(); err != nil {
		return nil, fmt.Errorf("manifest: flush: %w", err)
	}
	if err := m.f.Sync(); err != nil {
		return nil, fmt.Errorf("manifest: fsync: %w", err)
	}

	m.current = m.current.apply(edit)
	if edit.NextFileNumber > m.nextFileNumber {
		m.nextFileNumber = edit.NextFileNumber
	}
	if edit.LogNumber > 0 {
		m.logNumber = edit.LogNumber
	}
	for _, rf := range edit.RemovedFiles {
		m.obsolete.Add(rf.FileNumber)
	}

	m.editsSince++
	if m.editsSince >= m.compactEvery {
		if err := m.compactLocked(); err != nil {
			return nil, err
		}
	}
	return m.current, nil
}

// Compact rewrites the manifest log to a single VersionEdit snapshot of
// the current Version, bounding log growth (spec §9 supplemented feature,
// grounded on pylsm's version_set.py periodic rewrite).
func (m *Manifest) Compact() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.compactLocked()
}

func (m *Manifest) compactLocked() error {
	var snapshot VersionEdit
	for level, files := range m.current.Levels {
		for _, f := range files {
			f.Level = level
			snapshot.AddedFiles = append(snapshot.AddedFiles, f)
		}
	}
	snapshot.LastSequence = m.current.LastSequence
	snapshot.NextFileNumber = m.nextFileNumber
	snapshot.LogNumber = m.logNumber

	next := m.number + 1
	if err := m.createNew(next); err != nil {
		return err
	}
	b, err := encodeEditFrame(snapshot)
	if err != nil {
		return err
	}
	if _, err := m.w.Write(b); err != nil {
		return fmt.Errorf("manifest: write snapshot: %w", err)
	}
	if err := m.w.Flush(); err != nil {
		return fmt.Errorf("manifest: flush snapshot: %w", err)
	}
	if err := m.f.Sync(); err != nil {
		return fmt.Errorf("manifest: fsync snapshot: %w", err)
	}
	m.editsSince = 0

	old := filepath.Join(m.dir, fmt.Sprintf("%s%d", manifestPrefix, m.number-1))
	_ = os.Remove(old)
	return nil
}

// ObsoleteFiles returns and clears the set of file numbers made obsolete
// since the last call, for the caller to unlink from disk once no reader
// it holds still uses them.
func (m *Manifest) ObsoleteFiles() []uint64 {
	var out []uint64
	m.obsolete.Range(func(n uint64) bool {
		out = append(out, n)
		return true
	})
	for _, n := range out {
		m.obsolete.Remove(n)
	}
	return out
}

// Close flushes and syncs the manifest log file.
func (m *Manifest) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.f == nil {
		return nil
	}
	if err := m.w.Flush(); err != nil {
		return fmt.Errorf("manifest: flush on close: %w", err)
	}
	if err := m.f.Sync(); err != nil {
		return fmt.Errorf("manifest: fsync on close: %w", err)
	}
	return m.f.Close()
}
