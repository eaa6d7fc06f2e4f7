package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"lsmdb/pkg/sstable"
	"lsmdb/pkg/types"
)

func meta(n uint64, level int, smallest, largest string) sstable.Meta {
	return sstable.Meta{
		FileNumber:  n,
		Level:       level,
		SmallestKey: types.Key(smallest),
		LargestKey:  types.Key(largest),
		Size:        100,
	}
}

func TestManifest_OpenCreatesEmptyVersionWhenNoCurrent(t *testing.T) {
	dir := t.TempDir()
	m, err := Open(dir, 0)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer m.Close()

	v := m.Current()
	if v.LastSequence != 0 {
		t.Fatalf("expected fresh manifest to have LastSequence 0, got %d", v.LastSequence)
	}
}

func TestManifest_ApplyPublishesNewVersion(t *testing.T) {
	dir := t.TempDir()
	m, err := Open(dir, 0)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer m.Close()

	v, err := m.Apply(VersionEdit{AddedFiles: []sstable.Meta{meta(1, 0, "a", "c")}, LastSequence: 5})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if len(v.Levels[0]) != 1 {
		t.Fatalf("expected 1 file in L0, got %d", len(v.Levels[0]))
	}
	if v.LastSequence != 5 {
		t.Fatalf("LastSequence = %d, want 5", v.LastSequence)
	}
	if m.Current() != v {
		t.Fatalf("Current() did not return the just-applied version")
	}
}

func TestManifest_ApplyRemovesFiles(t *testing.T) {
	dir := t.TempDir()
	m, err := Open(dir, 0)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer m.Close()

	m.Apply(VersionEdit{AddedFiles: []sstable.Meta{meta(1, 0, "a", "c")}})
	v, err := m.Apply(VersionEdit{RemovedFiles: []RemovedFile{{Level: 0, FileNumber: 1}}, AddedFiles: []sstable.Meta{meta(2, 1, "a", "c")}})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if len(v.Levels[0]) != 0 {
		t.Fatalf("expected file 1 removed from L0, got %d files", len(v.Levels[0]))
	}
	if len(v.Levels[1]) != 1 {
		t.Fatalf("expected file 2 added to L1, got %d files", len(v.Levels[1]))
	}
}

func TestManifest_ObsoleteFilesDrainsOnce(t *testing.T) {
	dir := t.TempDir()
	m, err := Open(dir, 0)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer m.Close()

	m.Apply(VersionEdit{AddedFiles: []sstable.Meta{meta(1, 0, "a", "c")}})
	m.Apply(VersionEdit{RemovedFiles: []RemovedFile{{Level: 0, FileNumber: 1}}})

	obsolete := m.ObsoleteFiles()
	if len(obsolete) != 1 || obsolete[0] != 1 {
		t.Fatalf("ObsoleteFiles() = %v, want [1]", obsolete)
	}
	if again := m.ObsoleteFiles(); len(again) != 0 {
		t.Fatalf("expected second ObsoleteFiles() call to be empty, got %v", again)
	}
}

func TestManifest_ReopenReplaysEdits(t *testing.T) {
	dir := t.TempDir()
	m, err := Open(dir, 0)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	m.Apply(VersionEdit{AddedFiles: []sstable.Meta{meta(1, 0, "a", "c")}, LastSequence: 7})
	if err := m.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	m2, err := Open(dir, 0)
	if err != nil {
		t.Fatalf("reopen Open failed: %v", err)
	}
	defer m2.Close()

	v := m2.Current()
	if v.LastSequence != 7 {
		t.Fatalf("LastSequence after reopen = %d, want 7", v.LastSequence)
	}
	if len(v.Levels[0]) != 1 {
		t.Fatalf("expected 1 replayed file in L0, got %d", len(v.Levels[0]))
	}
}

func TestManifest_ReplayStopsAtTruncatedTrailingEdit(t *testing.T) {
	dir := t.TempDir()
	m, err := Open(dir, 0)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if _, err := m.Apply(VersionEdit{AddedFiles: []sstable.Meta{meta(1, 0, "a", "c")}, LastSequence: 3}); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	frame, err := encodeEditFrame(VersionEdit{AddedFiles: []sstable.Meta{meta(2, 0, "d", "f")}, LastSequence: 9})
	if err != nil {
		t.Fatalf("encodeEditFrame failed: %v", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, "MANIFEST-1"), os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		t.Fatalf("open manifest for append failed: %v", err)
	}
	if _, err := f.Write(frame[:len(frame)-2]); err != nil {
		t.Fatalf("write truncated frame failed: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	m2, err := Open(dir, 0)
	if err != nil {
		t.Fatalf("reopen after truncated trailing edit failed: %v", err)
	}
	defer m2.Close()

	v := m2.Current()
	if v.LastSequence != 3 {
		t.Fatalf("LastSequence after truncated replay = %d, want 3 (truncated edit must not apply)", v.LastSequence)
	}
	if len(v.Levels[0]) != 1 {
		t.Fatalf("expected only the well-formed edit's file to survive, got %d files", len(v.Levels[0]))
	}
}

func TestManifest_CompactRewritesLogToSnapshot(t *testing.T) {
	dir := t.TempDir()
	m, err := Open(dir, 0)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer m.Close()

	for i := uint64(1); i <= 5; i++ {
		if _, err := m.Apply(VersionEdit{AddedFiles: []sstable.Meta{meta(i, 0, "a", "c")}}); err != nil {
			t.Fatalf("Apply %d failed: %v", i, err)
		}
	}
	if err := m.Compact(); err != nil {
		t.Fatalf("Compact failed: %v", err)
	}
	if got := len(m.Current().Levels[0]); got != 5 {
		t.Fatalf("expected Compact to preserve all 5 live files, got %d", got)
	}
}

func TestManifest_CompactsAutomaticallyAfterThreshold(t *testing.T) {
	dir := t.TempDir()
	m, err := Open(dir, 2)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer m.Close()

	for i := uint64(1); i <= 3; i++ {
		if _, err := m.Apply(VersionEdit{AddedFiles: []sstable.Meta{meta(i, 0, "a", "c")}}); err != nil {
			t.Fatalf("Apply %d failed: %v", i, err)
		}
	}
	if got := len(m.Current().Levels[0]); got != 3 {
		t.Fatalf("expected all 3 files to survive an automatic compaction, got %d", got)
	}
}

func TestVersion_FilesOverlapping(t *testing.T) {
	v := newVersion()
	v = v.apply(VersionEdit{AddedFiles: []sstable.Meta{
		meta(1, 1, "a", "c"),
		meta(2, 1, "d", "f"),
	}})

	got := v.FilesOverlapping(1, types.Key("b"), types.Key("e"))
	if len(got) != 2 {
		t.Fatalf("expected both files to overlap [b,e), got %d", len(got))
	}

	got = v.FilesOverlapping(1, types.Key("x"), types.Key("z"))
	if len(got) != 0 {
		t.Fatalf("expected no files to overlap [x,z), got %d", len(got))
	}
}

func TestVersion_TotalBytes(t *testing.T) {
	v := newVersion()
	v = v.apply(VersionEdit{AddedFiles: []sstable.Meta{meta(1, 0, "a", "b"), meta(2, 0, "c", "d")}})
	if got := v.TotalBytes(0); got != 200 {
		t.Fatalf("TotalBytes(0) = %d, want 200", got)
	}
	if got := v.TotalBytes(5); got != 0 {
		t.Fatalf("TotalBytes(5) for nonexistent level = %d, want 0", got)
	}
}

func TestManifest_CURRENTFilePointsAtLatestManifest(t *testing.T) {
	dir := t.TempDir()
	m, err := Open(dir, 0)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer m.Close()

	if _, err := os.ReadFile(filepath.Join(dir, "CURRENT")); err != nil {
		t.Fatalf("expected CURRENT file to exist after Open: %v", err)
	}
}
