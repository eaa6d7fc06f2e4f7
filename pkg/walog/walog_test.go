package walog

import (
	"os"
	"path/filepath"
	"testing"

	"lsmdb/pkg/config"
	"lsmdb/pkg/types"
)

func TestSegment_AppendAndReplayRoundTrip(t *testing.T) {
	dir := t.TempDir()
	seg, err := Create(dir, 1, config.SyncAlways, 0)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	want := []types.Record{
		{Op: types.OpSet, Key: []byte("a"), Value: []byte("1"), Seq: 1},
		{Op: types.OpSet, Key: []byte("b"), Value: []byte("2"), Seq: 2},
		{Op: types.OpDelete, Key: []byte("a"), Seq: 3},
	}
	for _, r := range want {
		if err := seg.Append(r, false); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}
	if err := seg.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	var got []types.Record
	err = Replay(seg.Path(), func(r types.Record) error {
		got = append(got, r)
		return nil
	})
	if err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("got %d records, want %d", len(got), len(want))
	}
	for i := range want {
		if string(got[i].Key) != string(want[i].Key) || got[i].Seq != want[i].Seq || got[i].Op != want[i].Op {
			t.Errorf("record %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestReplay_StopsAtTruncatedTrailingFrame(t *testing.T) {
	dir := t.TempDir()
	seg, err := Create(dir, 1, config.SyncAlways, 0)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := seg.Append(types.Record{Op: types.OpSet, Key: []byte("a"), Value: []byte("1"), Seq: 1}, true); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	path := seg.Path()
	if err := seg.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// Append a well-formed frame, then truncate it halfway to simulate a
	// crash mid-write.
	f, err := os.OpenFile(path, os.O_RDWR, 0600)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	fi, _ := f.Stat()
	if _, err := f.WriteAt(encodeFrame(types.Record{Op: types.OpSet, Key: []byte("b"), Value: []byte("2"), Seq: 2}), fi.Size()); err != nil {
		t.Fatalf("write second frame: %v", err)
	}
	fullSize, _ := f.Seek(0, os.SEEK_END)
	f.Truncate(fullSize - 3)
	f.Close()

	var got []types.Record
	if err := Replay(path, func(r types.Record) error {
		got = append(got, r)
		return nil
	}); err != nil {
		t.Fatalf("Replay returned unexpected error for truncated tail: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected exactly the one well-formed frame before the truncated one, got %d", len(got))
	}
	if string(got[0].Key) != "a" {
		t.Fatalf("expected surviving record to be 'a', got %q", got[0].Key)
	}
}

func TestOpen_AppendsAtEndOfExistingSegment(t *testing.T) {
	dir := t.TempDir()
	seg, err := Create(dir, 1, config.SyncAlways, 0)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := seg.Append(types.Record{Op: types.OpSet, Key: []byte("a"), Value: []byte("1"), Seq: 1}, true); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	path := seg.Path()
	seg.Close()

	reopened, err := Open(path, 1, config.SyncAlways, 0)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := reopened.Append(types.Record{Op: types.OpSet, Key: []byte("b"), Value: []byte("2"), Seq: 2}, true); err != nil {
		t.Fatalf("Append after Open failed: %v", err)
	}
	reopened.Close()

	var keys []string
	Replay(path, func(r types.Record) error {
		keys = append(keys, string(r.Key))
		return nil
	})
	if len(keys) != 2 || keys[0] != "a" || keys[1] != "b" {
		t.Fatalf("expected [a b] after reopen+append, got %v", keys)
	}
}

func TestSegment_Remove(t *testing.T) {
	dir := t.TempDir()
	seg, err := Create(dir, 1, config.SyncAlways, 0)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	path := seg.Path()
	if err := seg.Remove(); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected segment file to be removed, stat err = %v", err)
	}
}

func TestCreate_FailsIfSegmentAlreadyExists(t *testing.T) {
	dir := t.TempDir()
	if _, err := Create(dir, 1, config.SyncAlways, 0); err != nil {
		t.Fatalf("first Create failed: %v", err)
	}
	if _, err := Create(dir, 1, config.SyncAlways, 0); err == nil {
		t.Fatalf("expected second Create with same number to fail")
	}
}

func TestSegmentPath(t *testing.T) {
	dir := t.TempDir()
	seg, err := Create(dir, 42, config.SyncAlways, 0)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	defer seg.Close()
	want := filepath.Join(dir, "42.wal")
	if seg.Path() != want {
		t.Fatalf("Path() = %q, want %q", seg.Path(), want)
	}
}
