package storage

import "errors"

var (
	// ErrNotFound indicates the requested key does not exist in the table.
	ErrNotFound = errors.New("storage: key not found")

	// ErrCorrupted indicates the underlying table file failed an integrity
	// check on read or write. Callers must not retry; the engine's
	// corruption-recovery protocol (§4.1) takes over.
	ErrCorrupted = errors.New("storage: table corrupted")

	// ErrClosed indicates an operation on a table that has been closed or
	// is mid-recovery.
	ErrClosed = errors.New("storage: table closed")

	// ErrNoBackup indicates restore was requested but no backup file
	// exists for the table.
	ErrNoBackup = errors.New("storage: no backup available")
)
