// Package synctypes holds the tagged error taxonomy shared across the sync
// engine's components, so callers can dispatch on error kind with
// errors.Is/errors.As instead of string matching.
package synctypes

import (
	"errors"
	"fmt"
)

// Sentinel errors. Components wrap these with context via fmt.Errorf's %w
// so errors.Is still matches across package boundaries.
var (
	// ErrNotFound means the requested file, store row, or blob does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict means a write lost a compare-and-swap race against a
	// concurrent writer and must be retried by the caller.
	ErrConflict = errors.New("conflict")
	// ErrCancelled means the operation was cancelled via context or an
	// explicit pause/cancel call.
	ErrCancelled = errors.New("cancelled")
	// ErrClosed means the component has been shut down and no longer
	// accepts new work.
	ErrClosed = errors.New("closed")
	// ErrCorrupt means on-disk state failed an integrity check (hash
	// mismatch, truncated WAL record, malformed header).
	ErrCorrupt = errors.New("corrupt state")
	// ErrUnavailable means a dependency (remote store, signer) could not be
	// reached; callers should retry with backoff rather than giving up.
	ErrUnavailable = errors.New("unavailable")
)

// TransferError wraps a failed transfer attempt with the attempt count that
// produced it, so retry policy can decide whether to keep trying.
type TransferError struct {
	FileID  string
	Attempt int
	Err     error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("transfer %s attempt %d: %v", e.FileID, e.Attempt, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

// Retryable reports whether err should trigger another retry attempt rather
// than a terminal failure. ErrConflict and ErrUnavailable are retryable;
// ErrNotFound, ErrClosed, and ErrCorrupt are not.
func Retryable(err error) bool {
	switch {
	case errors.Is(err, ErrConflict), errors.Is(err, ErrUnavailable):
		return true
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrClosed), errors.Is(err, ErrCorrupt), errors.Is(err, ErrCancelled):
		return false
	default:
		return true
	}
}
