// Package dberrors defines the sentinel errors the engine returns to
// callers. Errors are semantic, not typed: callers compare with errors.Is
// and internal wrapping always uses fmt.Errorf's %w so context survives.
package dberrors

import "errors"

var (
	// ErrNotFound is returned by reads that find no live record for a key.
	// It is not a failure of Get itself; callers see it as a plain miss.
	ErrNotFound = errors.New("lsmdb: not found")

	// ErrNotOpen is returned by any operation attempted outside the Open
	// state of the DB lifecycle (Closed, Opening, Closing).
	ErrNotOpen = errors.New("lsmdb: db not open")

	// ErrAlreadyOpen is returned by Open when the on-disk LOCK file is
	// already held by another process handle.
	ErrAlreadyOpen = errors.New("lsmdb: db already open")

	// ErrInvalidArgument covers empty keys, oversized keys/values, and
	// invalid options.
	ErrInvalidArgument = errors.New("lsmdb: invalid argument")

	// ErrCorruption covers CRC mismatches, bad footer magics, and
	// malformed manifest/WAL frames discovered outside of recovery
	// (recovery truncates and continues instead of returning this).
	ErrCorruption = errors.New("lsmdb: corruption")

	// ErrIO is the sentinel for filesystem failures. The engine's own code
	// paths do not wrap errors in it: they return the underlying os error
	// wrapped with context via %w.
	ErrIO = errors.New("lsmdb: io error")

	// ErrBusy is returned for writes rejected under L0 backpressure once
	// l0_stop is reached.
	ErrBusy = errors.New("lsmdb: busy")

	// ErrCompactionRunning is returned when a caller-issued compaction
	// cannot start because another compaction is already in flight; the
	// new request is neither queued nor coalesced with the running one.
	ErrCompactionRunning = errors.New("lsmdb: compaction running")

	// ErrReadOnly is returned by mutating operations against a DB opened
	// read-only. A failed WAL append is returned to its caller as a wrapped
	// error and does not switch the DB to read-only.
	ErrReadOnly = errors.New("lsmdb: db is read-only")

	// ErrSnapshotReleased is returned when a Snapshot is used after it has
	// been released (by Release, or by DB.Close releasing every open one).
	ErrSnapshotReleased = errors.New("lsmdb: snapshot released")
)
