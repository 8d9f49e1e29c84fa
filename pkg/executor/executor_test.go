package executor

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nimbusfs/syncengine/internal/synctypes"
	"github.com/nimbusfs/syncengine/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHandler struct {
	mu        sync.Mutex
	calls     int
	failUntil int
	executed  []string
}

func (f *fakeHandler) Execute(_ context.Context, intent model.TransferIntent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.executed = append(f.executed, intent.Key())
	if f.calls <= f.failUntil {
		return synctypes.ErrUnavailable
	}
	return nil
}

func (f *fakeHandler) Abandon(_ context.Context, _ model.TransferIntent, _ error) {}

func TestExecutorRunsSubmittedIntent(t *testing.T) {
	h := &fakeHandler{}
	e := New(h, DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Start(ctx)
	defer e.Close()

	e.Submit(model.TransferIntent{Kind: model.TransferUpload, FileID: "f1"})

	require.NoError(t, e.AwaitIdle(context.Background()))
	h.mu.Lock()
	defer h.mu.Unlock()
	assert.Equal(t, 1, h.calls)
}

func TestExecutorDedupsSameKey(t *testing.T) {
	h := &fakeHandler{}
	e := New(h, DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Start(ctx)
	defer e.Close()

	e.Pause()
	e.Submit(model.TransferIntent{Kind: model.TransferUpload, FileID: "f1"})
	e.Submit(model.TransferIntent{Kind: model.TransferUpload, FileID: "f1"})
	e.mu.Lock()
	n := e.queues[model.TransferUpload].len()
	e.mu.Unlock()
	assert.Equal(t, 1, n)
	e.Resume()

	require.NoError(t, e.AwaitIdle(context.Background()))
}

func TestExecutorRetriesRetryableFailure(t *testing.T) {
	h := &fakeHandler{failUntil: 2}
	cfg := DefaultConfig()
	cfg.Backoff = BackoffPolicy{BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Jitter: time.Millisecond}
	e := New(h, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Start(ctx)
	defer e.Close()

	e.Submit(model.TransferIntent{Kind: model.TransferDownload, FileID: "f1"})

	require.Eventually(t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.calls == 3
	}, time.Second, time.Millisecond)
}

func TestExecutorAwaitIdleRespectsContext(t *testing.T) {
	var blocked int32
	block := make(chan struct{})
	h := handlerFunc(func(ctx context.Context, intent model.TransferIntent) error {
		atomic.StoreInt32(&blocked, 1)
		<-block
		return nil
	})

	e := New(h, DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Start(ctx)
	defer func() {
		close(block)
		e.Close()
	}()

	e.Submit(model.TransferIntent{Kind: model.TransferUpload, FileID: "f1"})

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer waitCancel()
	err := e.AwaitIdle(waitCtx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

type handlerFunc func(ctx context.Context, intent model.TransferIntent) error

func (f handlerFunc) Execute(ctx context.Context, intent model.TransferIntent) error {
	return f(ctx, intent)
}

func (f handlerFunc) Abandon(_ context.Context, _ model.TransferIntent, _ error) {}
