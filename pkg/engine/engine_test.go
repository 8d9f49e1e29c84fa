package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nimbusfs/syncengine/pkg/config"
	"github.com/nimbusfs/syncengine/pkg/filestorage"
	"github.com/nimbusfs/syncengine/pkg/model"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{
		Store:      config.StoreConfig{Backend: "memory"},
		Blobstore:  config.BlobstoreConfig{Backend: "memory"},
		Remote:     config.RemoteConfig{Mode: "memory"},
		Executor:   config.ExecutorConfig{MaxConcurrentUploads: 2, MaxConcurrentDownloads: 2, MaxAttempts: 3},
		Reconciler: config.ReconcilerConfig{GCIdleInterval: time.Hour},
		Thumbnail:  config.ThumbnailConfig{Workers: 1, MaxDimension: 128},
	}
	config.ApplyDefaults(cfg)
	return cfg
}

func TestNewWiresEveryComponent(t *testing.T) {
	eng, err := New(testConfig(t))
	require.NoError(t, err)
	defer eng.Close()

	require.NotNil(t, eng.Store)
	require.NotNil(t, eng.Blobs)
	require.NotNil(t, eng.Remote)
	require.NotNil(t, eng.Files)
	require.NotNil(t, eng.Executor)
	require.NotNil(t, eng.Reconciler)
	require.NotNil(t, eng.Thumbnails)
}

func TestServeRunsUntilCancelled(t *testing.T) {
	eng, err := New(testConfig(t))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err = eng.Serve(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestServeOnlyRunsOnce(t *testing.T) {
	eng, err := New(testConfig(t))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	// Both calls share serveOnce: the first actually runs serve() and blocks
	// until ctx is cancelled; the second's Do call waits for that same run
	// to finish but never invokes serve() itself, so it observes its own
	// unassigned (nil) error rather than the cancellation.
	errs := make(chan error, 2)
	go func() { errs <- eng.Serve(ctx) }()
	go func() { errs <- eng.Serve(ctx) }()

	a, b := <-errs, <-errs
	require.True(t, a == nil || b == nil, "exactly one call should observe serveOnce's no-op return")
	require.True(t, errors.Is(a, context.DeadlineExceeded) || errors.Is(b, context.DeadlineExceeded))
}

func TestEngineUploadMarksFileDone(t *testing.T) {
	eng, err := New(testConfig(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	eng.Executor.Start(ctx)
	defer eng.Close()

	content := []byte("hello sync engine")
	f, err := eng.Files.Put(ctx, content, filestorage.PutOptions{Path: "notes/hello.txt"})
	require.NoError(t, err)

	eng.Executor.Submit(model.TransferIntent{Kind: model.TransferUpload, FileID: f.ID, Hash: f.Hash, Size: f.Size})
	require.NoError(t, eng.Executor.AwaitIdle(context.Background()))

	local, err := eng.Store.GetLocalState(ctx, f.ID)
	require.NoError(t, err)
	require.Equal(t, model.TransferStatusDone, local.UploadStatus)
}

func TestRetryErrorsResubmitsTerminalFailures(t *testing.T) {
	eng, err := New(testConfig(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	eng.Executor.Start(ctx)
	defer eng.Close()

	content := []byte("retry me")
	f, err := eng.Files.Put(ctx, content, filestorage.PutOptions{Path: "notes/retry.txt"})
	require.NoError(t, err)

	require.NoError(t, eng.Store.SetLocalState(ctx, &model.LocalFileState{
		FileID:        f.ID,
		UploadStatus:  model.TransferStatusError,
		LastSyncError: "simulated failure",
		StoredPath:    string(f.Hash),
	}))

	submitted, err := eng.RetryErrors(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, submitted)

	require.NoError(t, eng.Executor.AwaitIdle(context.Background()))

	local, err := eng.Store.GetLocalState(ctx, f.ID)
	require.NoError(t, err)
	require.Equal(t, model.TransferStatusDone, local.UploadStatus)
}

func TestSetOnlinePausesAndResumesExecutor(t *testing.T) {
	eng, err := New(testConfig(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	eng.Executor.Start(ctx)
	defer eng.Close()

	require.True(t, eng.IsOnline())

	var events []EventKind
	unsubscribe := eng.OnEvent(func(e Event) { events = append(events, e.Kind) })
	defer unsubscribe()

	eng.SetOnline(false)
	require.False(t, eng.IsOnline())
	eng.SetOnline(false) // no-op, already offline
	eng.SetOnline(true)
	require.True(t, eng.IsOnline())

	require.Equal(t, []EventKind{EventOffline, EventOnline}, events)
}
