// Package errs classifies the error kinds spec.md §7 names, following the
// rebuild/operational split in the teacher's pkg/slotcache/errors.go.
package errs

import "errors"

var (
	// ErrInvariantViolated marks a programming error: finalize called on an
	// unknown hash, finalize of a block whose number <= last_finalized,
	// negative slice ranges, or a page type mismatch. Fatal; never recovered.
	ErrInvariantViolated = errors.New("paprika: invariant violated")

	// ErrCorruptPage marks a header version mismatch, unknown page type, or
	// checksum failure on a root page. Surfaced at Open; recovery chooses
	// another root slot if possible, else Open fails.
	ErrCorruptPage = errors.New("paprika: corrupt page")

	// ErrIoFailure marks an underlying file read/write/fsync failure. Fatal
	// to the current batch; the next batch may retry.
	ErrIoFailure = errors.New("paprika: io failure")

	// ErrPoolExhausted marks that the blockchain's private page pool has no
	// page available for a block. Fatal to the current block.
	ErrPoolExhausted = errors.New("paprika: pool exhausted")

	// ErrClosed marks use of a handle after it was closed.
	ErrClosed = errors.New("paprika: closed")

	// ErrBusy marks that begin_next() found a writer already active.
	ErrBusy = errors.New("paprika: busy")
)
