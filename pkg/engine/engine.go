// Package engine wires together the sync engine's components — store,
// blobstore, remote transport, executor, reconciler, thumbnail pipeline,
// and metrics — into a single runnable facade, the way the teacher's
// runtime package assembles its own adapters and auxiliary servers.
package engine

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nimbusfs/syncengine/internal/logger"
	"github.com/nimbusfs/syncengine/internal/telemetry"
	"github.com/nimbusfs/syncengine/pkg/blobstore"
	blobstorefs "github.com/nimbusfs/syncengine/pkg/blobstore/fs"
	blobstorememory "github.com/nimbusfs/syncengine/pkg/blobstore/memory"
	"github.com/nimbusfs/syncengine/pkg/config"
	"github.com/nimbusfs/syncengine/pkg/executor"
	"github.com/nimbusfs/syncengine/pkg/filestorage"
	"github.com/nimbusfs/syncengine/pkg/metrics"
	"github.com/nimbusfs/syncengine/pkg/model"
	"github.com/nimbusfs/syncengine/pkg/reconciler"
	"github.com/nimbusfs/syncengine/pkg/remote"
	remotememory "github.com/nimbusfs/syncengine/pkg/remote/memory"
	"github.com/nimbusfs/syncengine/pkg/remote/s3"
	"github.com/nimbusfs/syncengine/pkg/remote/signer"
	"github.com/nimbusfs/syncengine/pkg/store"
	"github.com/nimbusfs/syncengine/pkg/thumbnail"
	"github.com/nimbusfs/syncengine/pkg/wal"
)

// DefaultShutdownTimeout is used when a Config carries no explicit value.
const DefaultShutdownTimeout = 30 * time.Second

// Engine owns every long-lived component of a running sync client: the
// replicated file store, local blob storage, remote transport, the
// transfer executor, the reconciler, and the thumbnail pipeline. Serve
// starts all of them and blocks until the context is cancelled; Close
// releases every resource.
//
// Engine is the single entrypoint API code (a CLI, an API handler) should
// use for mutations and lifecycle control, mirroring the teacher's
// Runtime-as-single-entrypoint convention.
type Engine struct {
	cfg *config.Config

	// SessionID identifies this running engine instance, for correlating
	// emitted events across a client's connectivity transitions.
	SessionID string

	Store      store.Store
	Blobs      blobstore.Store
	Remote     remote.Store
	Files      *filestorage.Service
	Executor   *executor.Executor
	Reconciler *reconciler.Reconciler
	Thumbnails *thumbnail.Pipeline
	Metrics    *metrics.Metrics
	metricsSrv *http.Server

	events *eventBus
	online atomic.Bool

	telemetryShutdown func(context.Context) error
	profilingShutdown func() error

	wg        sync.WaitGroup
	serveOnce sync.Once
}

// New builds an Engine from cfg, constructing every component but starting
// none of them. Call Serve to run it.
func New(cfg *config.Config) (*Engine, error) {
	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	telemetryShutdown, err := telemetry.Init(context.Background(), telemetry.Config{
		Enabled:    cfg.Telemetry.Enabled,
		Endpoint:   cfg.Telemetry.Endpoint,
		Insecure:   cfg.Telemetry.Insecure,
		SampleRate: cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return nil, fmt.Errorf("engine: init telemetry: %w", err)
	}

	profilingShutdown, err := telemetry.InitProfiling(telemetry.ProfilingConfig{
		Enabled:      cfg.Telemetry.Profiling.Enabled,
		ServiceName:  "syncengine",
		Endpoint:     cfg.Telemetry.Profiling.Endpoint,
		ProfileTypes: cfg.Telemetry.Profiling.ProfileTypes,
	})
	if err != nil {
		telemetryShutdown(context.Background())
		return nil, fmt.Errorf("engine: init profiling: %w", err)
	}

	st, err := OpenStore(cfg.Store)
	if err != nil {
		profilingShutdown()
		telemetryShutdown(context.Background())
		return nil, fmt.Errorf("engine: open store: %w", err)
	}
	st = store.WithMetrics(st, cfg.Store.Backend, m)

	blobs, err := OpenBlobstore(cfg.Blobstore)
	if err != nil {
		st.Close()
		profilingShutdown()
		telemetryShutdown(context.Background())
		return nil, fmt.Errorf("engine: open blobstore: %w", err)
	}

	rs, err := OpenRemote(cfg.Remote)
	if err != nil {
		st.Close()
		blobs.Close()
		profilingShutdown()
		telemetryShutdown(context.Background())
		return nil, fmt.Errorf("engine: open remote: %w", err)
	}

	lister, ok := blobs.(reconciler.BlobLister)
	if !ok {
		st.Close()
		blobs.Close()
		profilingShutdown()
		telemetryShutdown(context.Background())
		return nil, fmt.Errorf("engine: blobstore backend %q does not support listing for GC", cfg.Blobstore.Backend)
	}

	execCfg := executor.Config{
		MaxConcurrentUploads:   cfg.Executor.MaxConcurrentUploads,
		MaxConcurrentDownloads: cfg.Executor.MaxConcurrentDownloads,
		MaxAttempts:            cfg.Executor.MaxAttempts,
		Backoff: executor.BackoffPolicy{
			BaseDelay: cfg.Executor.BaseDelay,
			MaxDelay:  cfg.Executor.MaxDelay,
			Jitter:    cfg.Executor.Jitter,
		},
	}
	if execCfg.Backoff.BaseDelay <= 0 {
		execCfg.Backoff = executor.DefaultBackoffPolicy()
	}

	files := filestorage.New(st, blobs)
	files.WithMetrics(m)

	events := newEventBus()
	handler := &transferHandler{store: st, blobs: blobs, remote: rs, emit: events.emit}
	exec := executor.New(handler, execCfg)
	exec.WithMetrics(m)

	recCfg := reconciler.Config{GCIdleInterval: cfg.Reconciler.GCIdleInterval}
	rec := reconciler.New(st, blobs, lister, exec, recCfg)
	rec.WithMetrics(m)

	thumbCfg := thumbnail.Config{Workers: cfg.Thumbnail.Workers, MaxDimension: cfg.Thumbnail.MaxDimension}
	thumbs := thumbnail.New(st, blobs, thumbCfg)
	thumbs.WithMetrics(m)

	e := &Engine{
		cfg:               cfg,
		SessionID:         uuid.NewString(),
		Store:             st,
		Blobs:             blobs,
		Remote:            rs,
		Files:             files,
		Executor:          exec,
		Reconciler:        rec,
		Thumbnails:        thumbs,
		Metrics:           m,
		events:            events,
		telemetryShutdown: telemetryShutdown,
		profilingShutdown: profilingShutdown,
	}
	e.online.Store(true)
	return e, nil
}

// OpenStore opens the store backend named by cfg, without wrapping it in
// metrics instrumentation. Exposed for callers (such as syncctl) that need
// direct store access without constructing a full Engine.
func OpenStore(cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return store.OpenInMemory(), nil
	case "wal":
		persister, err := wal.NewMmapPersister(cfg.WALPath)
		if err != nil {
			return nil, fmt.Errorf("open wal persister: %w", err)
		}
		return store.Open(persister)
	case "badger":
		return store.OpenBadger(cfg.BadgerPath)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

// OpenBlobstore opens the blobstore backend named by cfg.
func OpenBlobstore(cfg config.BlobstoreConfig) (blobstore.Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return blobstorememory.New(), nil
	case "fs":
		return blobstorefs.NewWithPath(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown blobstore backend %q", cfg.Backend)
	}
}

// OpenRemote opens the remote transport named by cfg.
func OpenRemote(cfg config.RemoteConfig) (remote.Store, error) {
	switch cfg.Mode {
	case "", "memory":
		return remotememory.New(), nil
	case "s3":
		return s3.New(context.Background(), s3.Config{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			UsePathStyle:    cfg.S3.UsePathStyle,
		})
	case "signer":
		return signer.NewClient(cfg.Signer.URL), nil
	default:
		return nil, fmt.Errorf("unknown remote mode %q", cfg.Mode)
	}
}

// IsOnline reports whether the engine currently believes remote storage is
// reachable. New engines start online.
func (e *Engine) IsOnline() bool {
	return e.online.Load()
}

// SetOnline updates connectivity state. On a genuine transition it emits
// an online or offline event and pauses or resumes the executor, so
// transfers stop spinning against a remote known to be unreachable and
// resume the moment connectivity is restored.
func (e *Engine) SetOnline(online bool) {
	if e.online.Swap(online) == online {
		return
	}
	if online {
		e.Executor.Resume()
		e.events.emit(Event{Kind: EventOnline})
	} else {
		e.Executor.Pause()
		e.events.emit(Event{Kind: EventOffline})
	}
}

// OnEvent registers handler to receive every event emitted on this
// engine's stream — connectivity transitions and per-transfer lifecycle
// notifications — until the returned unsubscribe function is called.
func (e *Engine) OnEvent(handler func(Event)) (unsubscribe func()) {
	return e.events.on(handler)
}

// RetryErrors resubmits every file whose upload or download last ended in
// a terminal error, giving each a fresh run of attempts. Returns the
// number of transfers resubmitted.
func (e *Engine) RetryErrors(ctx context.Context) (int, error) {
	files, err := e.Store.ListFiles(ctx)
	if err != nil {
		return 0, fmt.Errorf("engine: list files: %w", err)
	}

	submitted := 0
	for _, f := range files {
		local, err := e.Store.GetLocalState(ctx, f.ID)
		if err != nil {
			continue
		}
		if local.UploadStatus == model.TransferStatusError {
			e.Executor.Submit(model.TransferIntent{Kind: model.TransferUpload, FileID: f.ID, Hash: f.Hash, Size: f.Size})
			submitted++
		}
		if local.DownloadStatus == model.TransferStatusError {
			e.Executor.Submit(model.TransferIntent{Kind: model.TransferDownload, FileID: f.ID, Hash: f.Hash, Size: f.Size})
			submitted++
		}
	}
	return submitted, nil
}

// TriggerSync forces an immediate reconciliation pass over every known
// file instead of waiting for the reconciler's next store-pushed change.
func (e *Engine) TriggerSync(ctx context.Context) error {
	files, err := e.Store.ListFiles(ctx)
	if err != nil {
		return fmt.Errorf("engine: list files: %w", err)
	}
	for _, f := range files {
		e.Reconciler.Reconcile(ctx, f)
	}
	return nil
}

// PrioritizeDownload moves fileID's queued download, if any, to the front
// of the download queue. A no-op if no download for fileID is queued.
func (e *Engine) PrioritizeDownload(fileID model.FileID) {
	key := model.TransferIntent{Kind: model.TransferDownload, FileID: fileID}.Key()
	e.Executor.Prioritize(model.TransferDownload, key)
}

// Serve starts the reconciler, thumbnail pipeline, executor workers, and —
// if configured — the metrics HTTP server, then blocks until ctx is
// cancelled. Serve must only be called once.
func (e *Engine) Serve(ctx context.Context) error {
	var err error
	e.serveOnce.Do(func() {
		err = e.serve(ctx)
	})
	return err
}

func (e *Engine) serve(ctx context.Context) error {
	logger.Info("engine: starting")

	e.Executor.Start(ctx)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.Reconciler.Run(ctx)
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.Thumbnails.Run(ctx)
	}()

	metricsErrCh := make(chan error, 1)
	if e.Metrics != nil && e.cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", e.Metrics.Handler())
		e.metricsSrv = &http.Server{Addr: fmt.Sprintf(":%d", e.cfg.Metrics.Port), Handler: mux}
		go func() {
			if err := e.metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				metricsErrCh <- err
			}
		}()
		logger.Info("engine: metrics server listening", "port", e.cfg.Metrics.Port)
	}

	var shutdownErr error
	select {
	case <-ctx.Done():
		logger.Info("engine: shutdown signal received", "reason", ctx.Err())
		shutdownErr = ctx.Err()
	case err := <-metricsErrCh:
		logger.Error("engine: metrics server failed", "error", err)
		shutdownErr = fmt.Errorf("metrics server: %w", err)
	}

	e.shutdown()
	logger.Info("engine: stopped")
	return shutdownErr
}

func (e *Engine) shutdown() {
	timeout := e.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}

	e.Executor.Close()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		logger.Warn("engine: shutdown timed out waiting for background loops")
	}

	if e.metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.metricsSrv.Shutdown(ctx); err != nil {
			logger.Error("engine: metrics server shutdown error", "error", err)
		}
	}

	if err := e.Store.Close(); err != nil {
		logger.Error("engine: store close error", "error", err)
	}
	if err := e.Blobs.Close(); err != nil {
		logger.Error("engine: blobstore close error", "error", err)
	}

	if err := e.profilingShutdown(); err != nil {
		logger.Error("engine: profiling shutdown error", "error", err)
	}
	if err := e.telemetryShutdown(context.Background()); err != nil {
		logger.Error("engine: telemetry shutdown error", "error", err)
	}
}

// Close releases the engine's store and blobstore without running the
// Serve lifecycle. For callers that use the executor or store directly
// (a one-shot retry pass, an interactive tool) rather than calling Serve.
func (e *Engine) Close() error {
	e.Executor.Close()
	defer e.profilingShutdown()
	defer e.telemetryShutdown(context.Background())
	if err := e.Store.Close(); err != nil {
		return fmt.Errorf("engine: store close: %w", err)
	}
	return e.Blobs.Close()
}
