package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Common attribute keys for sync engine spans, following OpenTelemetry
// semantic conventions where applicable.
const (
	// ========================================================================
	// Sync operation attributes
	// ========================================================================
	AttrOperation = "sync.operation" // commit, upload, download, reconcile, gc
	AttrFileID    = "sync.file_id"
	AttrPath      = "sync.path"
	AttrHash      = "sync.hash"
	AttrSize      = "sync.size"
	AttrVersion   = "sync.version"

	// ========================================================================
	// Transfer attributes
	// ========================================================================
	AttrTransferKind = "transfer.kind" // upload, download
	AttrAttempt      = "transfer.attempt"

	// ========================================================================
	// Storage backend attributes
	// ========================================================================
	AttrStoreType = "store.type"
	AttrBucket    = "storage.bucket"
	AttrKey       = "storage.key"
	AttrRegion    = "storage.region"
)

// Span names for sync engine operations.
const (
	SpanStoreCommit    = "store.commit"
	SpanStoreGet       = "store.get"
	SpanStoreSubscribe = "store.subscribe"

	SpanBlobPut    = "blobstore.put"
	SpanBlobGet    = "blobstore.get"
	SpanBlobDelete = "blobstore.delete"

	SpanRemoteUpload   = "remote.upload"
	SpanRemoteDownload = "remote.download"
	SpanRemoteDelete   = "remote.delete"

	SpanReconcile    = "reconciler.reconcile"
	SpanGC           = "reconciler.gc"
	SpanThumbnail    = "thumbnail.generate"
	SpanFileIngest   = "filestorage.put"
	SpanFileMaterial = "filestorage.write_to"
)

// FileID returns an attribute for the file identifier an operation concerns.
func FileID(id string) attribute.KeyValue {
	return attribute.String(AttrFileID, id)
}

// Path returns an attribute for a file path.
func Path(path string) attribute.KeyValue {
	return attribute.String(AttrPath, path)
}

// Hash returns an attribute for a content hash.
func Hash(hash string) attribute.KeyValue {
	return attribute.String(AttrHash, hash)
}

// Size returns an attribute for a byte size.
func Size(size int64) attribute.KeyValue {
	return attribute.Int64(AttrSize, size)
}

// Version returns an attribute for a file's optimistic-concurrency version.
func Version(v uint64) attribute.KeyValue {
	return attribute.Int64(AttrVersion, int64(v))
}

// Operation returns an attribute for the sync-engine operation name.
func Operation(op string) attribute.KeyValue {
	return attribute.String(AttrOperation, op)
}

// TransferKind returns an attribute for a transfer's direction.
func TransferKind(kind string) attribute.KeyValue {
	return attribute.String(AttrTransferKind, kind)
}

// Attempt returns an attribute for a retry attempt number.
func Attempt(n int) attribute.KeyValue {
	return attribute.Int(AttrAttempt, n)
}

// StoreType returns an attribute for the backing store implementation.
func StoreType(t string) attribute.KeyValue {
	return attribute.String(AttrStoreType, t)
}

// Bucket returns an attribute for an object storage bucket name.
func Bucket(name string) attribute.KeyValue {
	return attribute.String(AttrBucket, name)
}

// StorageKey returns an attribute for an object storage key.
func StorageKey(key string) attribute.KeyValue {
	return attribute.String(AttrKey, key)
}

// Region returns an attribute for an object storage region.
func Region(region string) attribute.KeyValue {
	return attribute.String(AttrRegion, region)
}

// StartFileSpan starts a span for an operation on a specific file.
func StartFileSpan(ctx context.Context, spanName, fileID string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{FileID(fileID)}
	allAttrs = append(allAttrs, attrs...)
	return StartSpan(ctx, spanName, trace.WithAttributes(allAttrs...))
}

// StartTransferSpan starts a span for an upload or download attempt.
func StartTransferSpan(ctx context.Context, kind, fileID string, attempt int, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{
		TransferKind(kind),
		FileID(fileID),
		Attempt(attempt),
	}
	allAttrs = append(allAttrs, attrs...)

	spanName := SpanRemoteUpload
	if kind == "download" {
		spanName = SpanRemoteDownload
	}
	return StartSpan(ctx, spanName, trace.WithAttributes(allAttrs...))
}
