// Package reconciler watches the replicated file store for changes and
// turns them into transfer intents for the executor: a newly committed
// File whose content is not present locally becomes a download; a local
// file pending upload becomes an upload; a tombstoned File becomes a
// remote delete, deferred if an upload for it is still in flight. It also
// runs periodic local garbage collection during idle periods.
//
// The subscription model is adapted from a settings-watcher pattern that
// polled a backing store and diffed snapshots to react to external change;
// here the store pushes changes directly over a channel on every commit,
// so the reconciler reacts immediately instead of polling.
package reconciler

import (
	"context"
	"errors"
	"time"

	"github.com/nimbusfs/syncengine/internal/logger"
	"github.com/nimbusfs/syncengine/internal/synctypes"
	"github.com/nimbusfs/syncengine/pkg/blobstore"
	"github.com/nimbusfs/syncengine/pkg/metrics"
	"github.com/nimbusfs/syncengine/pkg/model"
	"github.com/nimbusfs/syncengine/pkg/store"
)

// Submitter is the subset of executor.Executor the reconciler needs, kept
// narrow so it can be faked in tests without pulling in the whole
// scheduler.
type Submitter interface {
	Submit(intent model.TransferIntent)
}

// Config controls the reconciler's idle GC cadence.
type Config struct {
	// GCIdleInterval is how long the reconciler waits with no store activity
	// before running a local garbage collection pass. Default: 10 minutes.
	GCIdleInterval time.Duration
}

// DefaultConfig returns the reconciler defaults.
func DefaultConfig() Config {
	return Config{GCIdleInterval: 10 * time.Minute}
}

// Reconciler bridges store changes to executor submissions and runs local
// GC sweeps during idle periods.
type Reconciler struct {
	cfg     Config
	store   store.Store
	blobs   blobstore.Store
	lister  BlobLister
	sub     Submitter
	metrics *metrics.Metrics
}

// New creates a Reconciler wiring st, blobs, and sub together.
func New(st store.Store, blobs blobstore.Store, lister BlobLister, sub Submitter, cfg Config) *Reconciler {
	if cfg.GCIdleInterval <= 0 {
		cfg.GCIdleInterval = 10 * time.Minute
	}
	return &Reconciler{cfg: cfg, store: st, blobs: blobs, lister: lister, sub: sub}
}

// WithMetrics attaches m so GC passes record their outcome. Safe to call
// with a nil m.
func (r *Reconciler) WithMetrics(m *metrics.Metrics) *Reconciler {
	r.metrics = m
	return r
}

// Run subscribes to store changes and blocks until ctx is cancelled,
// submitting transfer intents as files change and running an idle GC sweep
// whenever GCIdleInterval elapses without a change.
func (r *Reconciler) Run(ctx context.Context) {
	changes := r.store.Subscribe(ctx)

	timer := time.NewTimer(r.cfg.GCIdleInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case change, ok := <-changes:
			if !ok {
				return
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(r.cfg.GCIdleInterval)
			r.handleChange(ctx, change)

		case <-timer.C:
			CollectGarbage(ctx, r.store, r.blobs, r.lister, &GCOptions{Metrics: r.metrics})
			timer.Reset(r.cfg.GCIdleInterval)
		}
	}
}

// Reconcile replays f through the same change-handling logic Run applies
// to store-pushed changes, letting a caller force an immediate sync pass
// for a file instead of waiting for the next commit to trigger one.
func (r *Reconciler) Reconcile(ctx context.Context, f *model.File) {
	r.handleChange(ctx, store.Change{Kind: store.ChangeFile, File: f})
}

func (r *Reconciler) handleChange(ctx context.Context, change store.Change) {
	if change.Kind != store.ChangeFile || change.File == nil {
		return
	}
	f := change.File

	local, err := r.store.GetLocalState(ctx, f.ID)
	if err != nil && !errors.Is(err, synctypes.ErrNotFound) {
		logger.Error("reconciler: failed to read local state", "fileId", f.ID, "error", err)
		return
	}

	if f.Deleted {
		r.handleDeletion(ctx, f, local)
		return
	}

	switch {
	case local == nil:
		r.sub.Submit(model.TransferIntent{Kind: model.TransferDownload, FileID: f.ID, Hash: f.Hash, Size: f.Size})

	case local.UploadStatus == model.TransferStatusPending:
		r.sub.Submit(model.TransferIntent{Kind: model.TransferUpload, FileID: f.ID, Hash: f.Hash, Size: f.Size})

	case !local.HasLocalContent() && local.DownloadStatus != model.TransferStatusQueued && local.DownloadStatus != model.TransferStatusInProgress:
		r.sub.Submit(model.TransferIntent{Kind: model.TransferDownload, FileID: f.ID, Hash: f.Hash, Size: f.Size})

	case local.DownloadStatus == model.TransferStatusDone && local.LocalHash != f.Hash:
		r.sub.Submit(model.TransferIntent{Kind: model.TransferDownload, FileID: f.ID, Hash: f.Hash, Size: f.Size})
	}
}

// handleDeletion reacts to a tombstoned File row. The one race that matters
// here is deletion racing an in-flight upload: if this device is still
// pushing bytes for f, the upload is left to finish undisturbed and the
// remote object is removed afterward by the upload completion path in
// transferHandler, not here. Otherwise the remote object can be reclaimed
// immediately.
func (r *Reconciler) handleDeletion(ctx context.Context, f *model.File, local *model.LocalFileState) {
	if local != nil && (local.UploadStatus == model.TransferStatusQueued || local.UploadStatus == model.TransferStatusInProgress) {
		return
	}
	r.sub.Submit(model.TransferIntent{Kind: model.TransferDelete, FileID: f.ID, Hash: f.Hash})
}
