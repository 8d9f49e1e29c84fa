// Package model defines the data types shared across the sync engine:
// replicated file records, per-device local state, and the thumbnail
// pipeline's derived state.
package model

import "time"

// FileID uniquely identifies a file within a store, stable across renames
// and content updates.
type FileID string

// ContentHash is a SHA-256 digest of a file's bytes, hex-encoded.
type ContentHash string

// File is a replicated record describing a file known to a store. File
// records are the unit of synchronization: every device that subscribes to
// a store converges on the same set of File rows.
type File struct {
	ID        FileID      `json:"id"`
	Path      string      `json:"path"`
	Hash      ContentHash `json:"hash"`
	Size      int64       `json:"size"`
	MimeType  string      `json:"mimeType"`
	ModTime   time.Time   `json:"modTime"`
	Deleted   bool        `json:"deleted"`
	Version   uint64      `json:"version"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

// TransferStatus tracks one direction of a file's transfer lifecycle.
// Upload and download progress independently: a file can be mid-download
// while no upload has ever been attempted, and vice versa.
type TransferStatus string

const (
	// TransferStatusPending means no transfer has been queued yet for this
	// direction.
	TransferStatusPending TransferStatus = "pending"
	// TransferStatusQueued means a transfer intent has been submitted to
	// the executor but has not started running.
	TransferStatusQueued TransferStatus = "queued"
	// TransferStatusInProgress means the executor is actively moving bytes.
	TransferStatusInProgress TransferStatus = "inProgress"
	// TransferStatusDone means the transfer completed and the local and
	// remote copies agree.
	TransferStatusDone TransferStatus = "done"
	// TransferStatusError means every retry attempt was exhausted without
	// success. LastSyncError on the owning LocalFileState carries the
	// cause.
	TransferStatusError TransferStatus = "error"
)

// LocalFileState is per-device, non-replicated bookkeeping about a file's
// on-disk presence. Unlike File, this never leaves the device it was
// recorded on. UploadStatus and DownloadStatus are tracked on independent
// axes: a file edited locally and never fetched from remote has a
// meaningful UploadStatus and an untouched DownloadStatus, and vice versa.
type LocalFileState struct {
	FileID         FileID         `json:"fileId"`
	UploadStatus   TransferStatus `json:"uploadStatus"`
	DownloadStatus TransferStatus `json:"downloadStatus"`
	// LastSyncError holds the error from the most recent failed transfer
	// attempt on either axis. Cleared on the next successful transfer.
	LastSyncError string      `json:"lastSyncError,omitempty"`
	LocalHash     ContentHash `json:"localHash,omitempty"`
	StoredPath    string      `json:"storedPath,omitempty"`
	UpdatedAt     time.Time   `json:"updatedAt"`
}

// HasLocalContent reports whether a blob is present on disk for this file,
// regardless of upload/download status.
func (s *LocalFileState) HasLocalContent() bool {
	return s != nil && s.StoredPath != ""
}

// TransferKind distinguishes the directions and operations a transfer
// intent can represent.
type TransferKind string

const (
	TransferUpload   TransferKind = "upload"
	TransferDownload TransferKind = "download"
	// TransferDelete removes a file's object from remote storage. Queued
	// once a file is tombstoned locally and no upload for it is in flight,
	// or immediately after such an upload finishes.
	TransferDelete TransferKind = "delete"
)

// TransferIntent describes a queued unit of work for the sync executor: move
// one file's bytes in one direction, identified by (Kind, FileID) for
// dedup purposes.
type TransferIntent struct {
	Kind     TransferKind `json:"kind"`
	FileID   FileID       `json:"fileId"`
	Hash     ContentHash  `json:"hash"`
	Size     int64        `json:"size"`
	Priority int          `json:"priority"`
}

// Key returns the dedup key for this intent: two intents with the same key
// are the same logical unit of work.
func (t TransferIntent) Key() string {
	return string(t.Kind) + ":" + string(t.FileID)
}

// ThumbnailStatus tracks the derived-artifact pipeline for a file.
type ThumbnailStatus string

const (
	ThumbnailNone    ThumbnailStatus = "none"
	ThumbnailPending ThumbnailStatus = "pending"
	ThumbnailReady   ThumbnailStatus = "ready"
	ThumbnailFailed  ThumbnailStatus = "failed"
)

// ThumbnailState is per-device derived state recording whether a thumbnail
// has been generated for a file's current content hash.
type ThumbnailState struct {
	FileID    FileID          `json:"fileId"`
	Hash      ContentHash     `json:"hash"`
	Status    ThumbnailStatus `json:"status"`
	Path      string          `json:"path,omitempty"`
	UpdatedAt time.Time       `json:"updatedAt"`
}
