// Package remote defines the contract for moving file bytes to and from
// durable, shared object storage. Protocol-agnostic: the S3-compatible
// implementation lives in the s3 subpackage, and a signer-mediated HTTP
// service fronts it so the sync engine never holds long-lived storage
// credentials itself.
//
// Separation of Concerns:
// remote.Store manages only object bytes keyed by content hash. It does not
// know about file paths, directory structure, or which device should win a
// conflict — that is the store package's job. This split lets the object
// backend be swapped (S3-compatible today, something else tomorrow) without
// touching replication logic, and lets multiple File rows share one object
// when their content hashes match.
//
// Thread Safety:
// Implementations must be safe for concurrent use by multiple goroutines.
package remote

import (
	"context"
	"errors"
	"io"
)

// ErrObjectNotFound is returned when a requested object does not exist.
var ErrObjectNotFound = errors.New("remote: object not found")

// ErrUnauthorized is returned when the signer refuses to mint a URL for the
// requested operation.
var ErrUnauthorized = errors.New("remote: unauthorized")

// Store is the contract for durable, shared object storage. Keys are
// content hashes; uploading the same key twice is a no-op from the caller's
// perspective (implementations may still perform the write, but it is safe
// to retry after an ambiguous failure).
type Store interface {
	// Upload streams size bytes from r into the object identified by key.
	Upload(ctx context.Context, key string, size int64, r io.Reader) error
	// Download returns a reader for the object identified by key. The
	// caller must close it.
	Download(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete removes the object identified by key. Deleting an absent key
	// is not an error.
	Delete(ctx context.Context, key string) error
	// Head reports whether an object exists and its size, without
	// downloading it.
	Head(ctx context.Context, key string) (size int64, exists bool, err error)
}
