// Package filestorage is the ingress API: the entry point client code calls
// to introduce new or changed file content into the sync engine. It hashes
// content, sniffs its MIME type, optionally runs it through a caller-supplied
// preprocessor, writes it into the local blob store, commits the replicated
// File row, and marks the local copy pending upload.
package filestorage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/nimbusfs/syncengine/internal/logger"
	"github.com/nimbusfs/syncengine/internal/synctypes"
	"github.com/nimbusfs/syncengine/pkg/blobstore"
	"github.com/nimbusfs/syncengine/pkg/bufpool"
	"github.com/nimbusfs/syncengine/pkg/metrics"
	"github.com/nimbusfs/syncengine/pkg/model"
	"github.com/nimbusfs/syncengine/pkg/store"
)

// copyPool supplies reusable buffers for streaming blob content out to
// callers, avoiding a fresh allocation per WriteTo call.
var copyPool = bufpool.NewPool(nil)

// Preprocessor transforms a File record before it is committed. Put
// commits whatever record the preprocessor returns; a preprocessor that
// makes no change returns f itself, and a nil return leaves f as it was.
type Preprocessor func(f *model.File) *model.File

// Preprocessors maps a MIME pattern to the transform applied to files whose
// detected MIME type matches it. Recognized pattern shapes are an exact
// type ("image/png"), a type wildcard ("image/*"), and the catch-all
// ("*/*"). When more than one pattern matches a file's MIME type, the most
// specific one wins: exact beats type/* beats */*.
type Preprocessors map[string]Preprocessor

func (p Preprocessors) match(mime string) Preprocessor {
	if p == nil {
		return nil
	}
	// Detected types may carry parameters ("text/plain; charset=utf-8");
	// patterns are matched against the bare media type.
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = strings.TrimSpace(mime[:i])
	}
	if pp, ok := p[mime]; ok {
		return pp
	}
	if i := strings.IndexByte(mime, '/'); i >= 0 {
		if pp, ok := p[mime[:i]+"/*"]; ok {
			return pp
		}
	}
	return p["*/*"]
}

// Service is the file storage ingress API.
type Service struct {
	store         store.Store
	blobs         blobstore.Store
	metrics       *metrics.Metrics
	preprocessors Preprocessors
}

// New creates a Service backed by st and blobs.
func New(st store.Store, blobs blobstore.Store) *Service {
	return &Service{store: st, blobs: blobs}
}

// WithMetrics attaches m so ingest operations record their outcome. Safe to
// call with a nil m.
func (s *Service) WithMetrics(m *metrics.Metrics) *Service {
	s.metrics = m
	return s
}

// WithPreprocessors attaches p so Put runs matching files through their
// transform before committing. Safe to call with a nil p.
func (s *Service) WithPreprocessors(p Preprocessors) *Service {
	s.preprocessors = p
	return s
}

// PutOptions configures a Put call.
type PutOptions struct {
	// FileID identifies an existing file to update. Empty means derive the
	// file's ID from its content hash, so saving identical bytes twice
	// converges on the same row instead of creating a duplicate.
	FileID model.FileID
	Path   string
}

// Put ingests data as the content of a file, creating or updating its File
// row and queuing it for upload by marking its local state pending. When
// opts.FileID is empty, the file's ID is its content hash: saving the same
// bytes again is a no-op that returns the existing row.
func (s *Service) Put(ctx context.Context, data []byte, opts PutOptions) (*model.File, error) {
	hash := sha256.Sum256(data)
	hashHex := hex.EncodeToString(hash[:])
	mime := mimetype.Detect(data).String()

	id := opts.FileID
	contentAddressed := id == ""
	if contentAddressed {
		id = model.FileID(hashHex)
	}

	var expectedVersion uint64
	existing, err := s.store.GetFile(ctx, id)
	switch {
	case err == nil:
		expectedVersion = existing.Version
		if contentAddressed && !existing.Deleted && existing.Hash == model.ContentHash(hashHex) {
			return existing, nil
		}
	case errors.Is(err, synctypes.ErrNotFound):
		expectedVersion = 0
	default:
		return nil, fmt.Errorf("filestorage: lookup existing file: %w", err)
	}

	if err := s.blobs.Put(ctx, hashHex, data); err != nil {
		s.metrics.RecordBlobOp("put", 0, err)
		return nil, fmt.Errorf("filestorage: write blob: %w", err)
	}
	s.metrics.RecordBlobOp("put", int64(len(data)), nil)

	f := &model.File{
		ID:       id,
		Path:     opts.Path,
		Hash:     model.ContentHash(hashHex),
		Size:     int64(len(data)),
		MimeType: mime,
		ModTime:  time.Now(),
	}
	if pp := s.preprocessors.match(mime); pp != nil {
		if out := pp(f); out != nil {
			f = out
		}
	}

	if err := s.store.CommitFile(ctx, f, expectedVersion); err != nil {
		return nil, fmt.Errorf("filestorage: commit file: %w", err)
	}

	if err := s.store.SetLocalState(ctx, &model.LocalFileState{
		FileID:         id,
		UploadStatus:   model.TransferStatusPending,
		DownloadStatus: model.TransferStatusDone,
		LocalHash:      f.Hash,
		StoredPath:     hashHex,
	}); err != nil {
		return nil, fmt.Errorf("filestorage: set local state: %w", err)
	}

	return f, nil
}

// Open returns the current content of a file's local copy. Callers must
// check the file's LocalFileState first if they need to know whether the
// content is fully synced.
func (s *Service) Open(ctx context.Context, id model.FileID) ([]byte, error) {
	local, err := s.store.GetLocalState(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("filestorage: local state: %w", err)
	}
	if !local.HasLocalContent() {
		return nil, synctypes.ErrNotFound
	}
	return s.blobs.Get(ctx, local.StoredPath)
}

// WriteTo streams a file's local content to dst using a pooled copy
// buffer, for callers materializing content onto disk rather than holding
// it in memory.
func (s *Service) WriteTo(ctx context.Context, id model.FileID, dst io.Writer) error {
	data, err := s.Open(ctx, id)
	if err != nil {
		return err
	}

	buf := copyPool.Get(bufpool.DefaultMediumSize)
	defer copyPool.Put(buf)

	_, err = io.CopyBuffer(dst, bytes.NewReader(data), buf)
	return err
}

// Delete marks a file deleted and reclaims its local blob. Per the
// deletion race rules the sync executor observes, an in-flight upload for
// this file is not cancelled and its blob is left in place; the remote
// object and the local blob are both removed only after that upload
// completes.
func (s *Service) Delete(ctx context.Context, id model.FileID) error {
	f, err := s.store.GetFile(ctx, id)
	if err != nil {
		return fmt.Errorf("filestorage: lookup file: %w", err)
	}
	f.Deleted = true
	if err := s.store.CommitFile(ctx, f, f.Version); err != nil {
		return fmt.Errorf("filestorage: commit tombstone: %w", err)
	}

	local, err := s.store.GetLocalState(ctx, id)
	if err != nil {
		if errors.Is(err, synctypes.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("filestorage: lookup local state: %w", err)
	}

	if local.UploadStatus == model.TransferStatusQueued || local.UploadStatus == model.TransferStatusInProgress {
		return nil
	}
	if !local.HasLocalContent() {
		return nil
	}
	if err := s.blobs.Delete(ctx, local.StoredPath); err != nil {
		logger.Error("filestorage: failed to remove local blob for deleted file", "fileId", id, "error", err)
	}
	return nil
}
