package engine

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"go.opentelemetry.io/otel/attribute"

	"github.com/nimbusfs/syncengine/internal/logger"
	"github.com/nimbusfs/syncengine/internal/synctypes"
	"github.com/nimbusfs/syncengine/internal/telemetry"
	"github.com/nimbusfs/syncengine/pkg/blobstore"
	"github.com/nimbusfs/syncengine/pkg/model"
	"github.com/nimbusfs/syncengine/pkg/remote"
	"github.com/nimbusfs/syncengine/pkg/store"
)

// transferHandler performs the byte movement behind a queued
// executor.TransferIntent: it reads local blob content for an upload,
// writes it to remote, and the reverse for a download, then records the
// outcome as local state.
//
// A download that lands with content not matching the file's advertised
// hash is quarantined: DownloadStatus is written as error with
// LastSyncError describing the mismatch, rather than trusted, since
// accepting mismatched bytes would corrupt the local copy silently.
//
// An upload that completes for a file deleted meanwhile triggers the
// deferred half of the deletion race: the remote object this upload just
// wrote is removed immediately afterward instead of lingering as an
// orphan.
type transferHandler struct {
	store  store.Store
	blobs  blobstore.Store
	remote remote.Store
	// emit publishes lifecycle events for the engine's event stream. Safe
	// to leave nil (tests that construct a transferHandler directly don't
	// need an event stream).
	emit func(Event)
}

func (h *transferHandler) emitEvent(evt Event) {
	if h.emit != nil {
		h.emit(evt)
	}
}

func (h *transferHandler) Execute(ctx context.Context, intent model.TransferIntent) error {
	switch intent.Kind {
	case model.TransferUpload:
		return h.upload(ctx, intent)
	case model.TransferDownload:
		return h.download(ctx, intent)
	case model.TransferDelete:
		return h.delete(ctx, intent)
	default:
		return fmt.Errorf("engine: unknown transfer kind %q", intent.Kind)
	}
}

func (h *transferHandler) upload(ctx context.Context, intent model.TransferIntent) error {
	ctx, span := telemetry.StartSpan(ctx, "engine.upload")
	defer span.End()
	telemetry.SetAttributes(ctx, attribute.String("file.id", string(intent.FileID)), attribute.Int64("file.size", intent.Size))
	h.emitEvent(Event{Kind: EventUploadStart, FileID: intent.FileID, Bytes: intent.Size})

	local, err := h.store.GetLocalState(ctx, intent.FileID)
	if err != nil {
		telemetry.RecordError(ctx, err)
		h.emitEvent(Event{Kind: EventUploadError, FileID: intent.FileID, Err: err})
		return fmt.Errorf("engine: upload: read local state: %w", err)
	}

	data, err := h.blobs.Get(ctx, local.StoredPath)
	if err != nil {
		telemetry.RecordError(ctx, err)
		h.emitEvent(Event{Kind: EventUploadError, FileID: intent.FileID, Err: err})
		return fmt.Errorf("engine: upload: read blob: %w", err)
	}

	if err := h.remote.Upload(ctx, string(intent.Hash), int64(len(data)), bytes.NewReader(data)); err != nil {
		telemetry.RecordError(ctx, err)
		h.emitEvent(Event{Kind: EventUploadError, FileID: intent.FileID, Err: err})
		return &synctypes.TransferError{FileID: string(intent.FileID), Err: fmt.Errorf("%w: %v", synctypes.ErrUnavailable, err)}
	}
	h.emitEvent(Event{Kind: EventUploadProgress, FileID: intent.FileID, Bytes: int64(len(data))})

	if err := h.store.SetLocalState(ctx, &model.LocalFileState{
		FileID:         intent.FileID,
		UploadStatus:   model.TransferStatusDone,
		DownloadStatus: local.DownloadStatus,
		LocalHash:      intent.Hash,
		StoredPath:     local.StoredPath,
	}); err != nil {
		h.emitEvent(Event{Kind: EventUploadError, FileID: intent.FileID, Err: err})
		return err
	}
	h.emitEvent(Event{Kind: EventUploadComplete, FileID: intent.FileID, Bytes: intent.Size})

	return h.cleanupIfDeletedMeanwhile(ctx, intent)
}

// cleanupIfDeletedMeanwhile checks whether the file this upload just
// finished for was deleted while the upload was in flight. The reconciler
// defers the remote delete in that case rather than racing the upload;
// this is where that deferred delete actually happens.
func (h *transferHandler) cleanupIfDeletedMeanwhile(ctx context.Context, intent model.TransferIntent) error {
	f, err := h.store.GetFile(ctx, intent.FileID)
	if err != nil {
		if errors.Is(err, synctypes.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("engine: upload: check deletion: %w", err)
	}
	if !f.Deleted {
		return nil
	}
	return h.delete(ctx, model.TransferIntent{Kind: model.TransferDelete, FileID: intent.FileID, Hash: f.Hash})
}

// Abandon records a retry-exhausted intent as a terminal error on the
// affected axis, so callers (status reporting, the retry command) can see
// that this file needs attention instead of looking stuck.
func (h *transferHandler) Abandon(ctx context.Context, intent model.TransferIntent, err error) {
	local, getErr := h.store.GetLocalState(ctx, intent.FileID)
	if getErr != nil && !errors.Is(getErr, synctypes.ErrNotFound) {
		logger.Error("engine: abandon: read local state", "fileId", intent.FileID, "error", getErr)
		return
	}

	next := &model.LocalFileState{FileID: intent.FileID, LastSyncError: err.Error()}
	if local != nil {
		next.UploadStatus = local.UploadStatus
		next.DownloadStatus = local.DownloadStatus
		next.LocalHash = local.LocalHash
		next.StoredPath = local.StoredPath
	}
	switch intent.Kind {
	case model.TransferUpload:
		next.UploadStatus = model.TransferStatusError
	case model.TransferDownload:
		next.DownloadStatus = model.TransferStatusError
	}

	if setErr := h.store.SetLocalState(ctx, next); setErr != nil {
		logger.Error("engine: abandon: write local state", "fileId", intent.FileID, "error", setErr)
	}
}

func (h *transferHandler) delete(ctx context.Context, intent model.TransferIntent) error {
	ctx, span := telemetry.StartSpan(ctx, "engine.delete")
	defer span.End()
	telemetry.SetAttributes(ctx, attribute.String("file.id", string(intent.FileID)))

	if err := h.remote.Delete(ctx, string(intent.Hash)); err != nil {
		telemetry.RecordError(ctx, err)
		return &synctypes.TransferError{FileID: string(intent.FileID), Err: fmt.Errorf("%w: %v", synctypes.ErrUnavailable, err)}
	}

	local, err := h.store.GetLocalState(ctx, intent.FileID)
	if err != nil {
		if errors.Is(err, synctypes.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("engine: delete: read local state: %w", err)
	}
	if local.StoredPath == "" {
		return nil
	}
	if err := h.blobs.Delete(ctx, local.StoredPath); err != nil {
		logger.Error("engine: failed to remove local blob after remote delete", "fileId", intent.FileID, "error", err)
	}
	return nil
}

func (h *transferHandler) download(ctx context.Context, intent model.TransferIntent) error {
	ctx, span := telemetry.StartSpan(ctx, "engine.download")
	defer span.End()
	telemetry.SetAttributes(ctx, attribute.String("file.id", string(intent.FileID)), attribute.Int64("file.size", intent.Size))
	h.emitEvent(Event{Kind: EventDownloadStart, FileID: intent.FileID, Bytes: intent.Size})

	rc, err := h.remote.Download(ctx, string(intent.Hash))
	if err != nil {
		if errors.Is(err, remote.ErrObjectNotFound) {
			h.emitEvent(Event{Kind: EventDownloadError, FileID: intent.FileID, Err: err})
			return err
		}
		telemetry.RecordError(ctx, err)
		h.emitEvent(Event{Kind: EventDownloadError, FileID: intent.FileID, Err: err})
		return &synctypes.TransferError{FileID: string(intent.FileID), Err: fmt.Errorf("%w: %v", synctypes.ErrUnavailable, err)}
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		h.emitEvent(Event{Kind: EventDownloadError, FileID: intent.FileID, Err: err})
		return &synctypes.TransferError{FileID: string(intent.FileID), Err: fmt.Errorf("%w: %v", synctypes.ErrUnavailable, err)}
	}
	h.emitEvent(Event{Kind: EventDownloadProgress, FileID: intent.FileID, Bytes: int64(len(data))})

	sum := sha256.Sum256(data)
	actual := hex.EncodeToString(sum[:])
	storedPath := string(intent.Hash)

	if err := h.blobs.Put(ctx, storedPath, data); err != nil {
		h.emitEvent(Event{Kind: EventDownloadError, FileID: intent.FileID, Err: err})
		return fmt.Errorf("engine: download: write blob: %w", err)
	}

	local, err := h.store.GetLocalState(ctx, intent.FileID)
	if err != nil && !errors.Is(err, synctypes.ErrNotFound) {
		return fmt.Errorf("engine: download: read local state: %w", err)
	}
	var uploadStatus model.TransferStatus
	if local != nil {
		uploadStatus = local.UploadStatus
	}

	if actual != string(intent.Hash) {
		mismatch := fmt.Sprintf("downloaded content hash %s does not match expected %s", actual, intent.Hash)
		logger.Error("engine: downloaded content hash mismatch, quarantining",
			"fileId", intent.FileID, "expected", intent.Hash, "actual", actual)
		h.emitEvent(Event{Kind: EventDownloadError, FileID: intent.FileID, Err: errors.New(mismatch)})
		return h.store.SetLocalState(ctx, &model.LocalFileState{
			FileID:         intent.FileID,
			UploadStatus:   uploadStatus,
			DownloadStatus: model.TransferStatusError,
			LastSyncError:  mismatch,
			LocalHash:      model.ContentHash(actual),
			StoredPath:     storedPath,
		})
	}

	if err := h.store.SetLocalState(ctx, &model.LocalFileState{
		FileID:         intent.FileID,
		UploadStatus:   uploadStatus,
		DownloadStatus: model.TransferStatusDone,
		LocalHash:      intent.Hash,
		StoredPath:     storedPath,
	}); err != nil {
		h.emitEvent(Event{Kind: EventDownloadError, FileID: intent.FileID, Err: err})
		return err
	}
	h.emitEvent(Event{Kind: EventDownloadComplete, FileID: intent.FileID, Bytes: intent.Size})
	return nil
}
