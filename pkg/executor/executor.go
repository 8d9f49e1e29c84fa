// Package executor runs the bounded-concurrency transfer scheduler: it
// accepts upload, download and delete intents, dedups them by (kind, fileID), respects
// a separate concurrency cap per kind, retries failed attempts with
// jittered exponential backoff, and supports pausing, prioritizing, and
// waiting for the queue to drain.
package executor

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/nimbusfs/syncengine/internal/logger"
	"github.com/nimbusfs/syncengine/internal/synctypes"
	"github.com/nimbusfs/syncengine/pkg/metrics"
	"github.com/nimbusfs/syncengine/pkg/model"
)

// Handler performs the actual byte transfer for one intent. Implementations
// live in the engine package, wiring together the blob store and remote
// store.
type Handler interface {
	Execute(ctx context.Context, intent model.TransferIntent) error
	// Abandon is called once an intent has exhausted its retry attempts,
	// so the handler can persist the terminal failure as durable state
	// rather than let it vanish silently from the queue.
	Abandon(ctx context.Context, intent model.TransferIntent, err error)
}

// Config controls the executor's concurrency and retry behavior.
type Config struct {
	// MaxConcurrentUploads bounds simultaneous upload transfers. Default: 4.
	// The same number of workers is started for remote deletes.
	MaxConcurrentUploads int
	// MaxConcurrentDownloads bounds simultaneous download transfers. Default: 4.
	MaxConcurrentDownloads int
	// MaxAttempts is the number of attempts (including the first) before an
	// intent is abandoned. Default: 8.
	MaxAttempts int
	Backoff     BackoffPolicy
}

// DefaultConfig returns the executor defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentUploads:   4,
		MaxConcurrentDownloads: 4,
		MaxAttempts:            8,
		Backoff:                DefaultBackoffPolicy(),
	}
}

type queuedIntent struct {
	intent  model.TransferIntent
	attempt int
}

// perKindQueue is a small priority queue, sorted by descending Priority and
// otherwise FIFO by insertion order.
type perKindQueue struct {
	items []queuedIntent
	seq   map[string]int64
	next  int64
}

func newPerKindQueue() *perKindQueue {
	return &perKindQueue{seq: make(map[string]int64)}
}

func (q *perKindQueue) push(qi queuedIntent) {
	q.items = append(q.items, qi)
	q.seq[qi.intent.Key()] = q.next
	q.next++
	sort.SliceStable(q.items, func(i, j int) bool {
		if q.items[i].intent.Priority != q.items[j].intent.Priority {
			return q.items[i].intent.Priority > q.items[j].intent.Priority
		}
		return q.seq[q.items[i].intent.Key()] < q.seq[q.items[j].intent.Key()]
	})
}

func (q *perKindQueue) pop() (queuedIntent, bool) {
	if len(q.items) == 0 {
		return queuedIntent{}, false
	}
	qi := q.items[0]
	q.items = q.items[1:]
	delete(q.seq, qi.intent.Key())
	return qi, true
}

func (q *perKindQueue) prioritize(key string, priority int) bool {
	for i := range q.items {
		if q.items[i].intent.Key() == key {
			q.items[i].intent.Priority = priority
			sort.SliceStable(q.items, func(a, b int) bool {
				if q.items[a].intent.Priority != q.items[b].intent.Priority {
					return q.items[a].intent.Priority > q.items[b].intent.Priority
				}
				return q.seq[q.items[a].intent.Key()] < q.seq[q.items[b].intent.Key()]
			})
			return true
		}
	}
	return false
}

func (q *perKindQueue) len() int { return len(q.items) }

// Executor is the bounded-concurrency transfer scheduler described above.
type Executor struct {
	cfg     Config
	handler Handler

	mu       sync.Mutex
	cond     *sync.Cond
	queues   map[model.TransferKind]*perKindQueue
	running  map[string]struct{} // keys currently executing, for dedup + awaitIdle
	paused   bool
	closed   bool

	wg      sync.WaitGroup
	metrics *metrics.Metrics
}

// WithMetrics attaches m so transfer attempts record their outcome. Safe to
// call with a nil m.
func (e *Executor) WithMetrics(m *metrics.Metrics) *Executor {
	e.metrics = m
	return e
}

// New creates an Executor that dispatches work to handler.
func New(handler Handler, cfg Config) *Executor {
	if cfg.MaxConcurrentUploads <= 0 {
		cfg.MaxConcurrentUploads = 4
	}
	if cfg.MaxConcurrentDownloads <= 0 {
		cfg.MaxConcurrentDownloads = 4
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 8
	}

	e := &Executor{
		cfg:     cfg,
		handler: handler,
		queues: map[model.TransferKind]*perKindQueue{
			model.TransferUpload:   newPerKindQueue(),
			model.TransferDownload: newPerKindQueue(),
			model.TransferDelete:   newPerKindQueue(),
		},
		running: make(map[string]struct{}),
	}
	e.cond = sync.NewCond(&e.mu)
	return e
}

// Start launches the worker pools. It must be called once before Submit.
func (e *Executor) Start(ctx context.Context) {
	e.spawnWorkers(ctx, model.TransferUpload, e.cfg.MaxConcurrentUploads)
	e.spawnWorkers(ctx, model.TransferDownload, e.cfg.MaxConcurrentDownloads)
	e.spawnWorkers(ctx, model.TransferDelete, e.cfg.MaxConcurrentUploads)
}

func (e *Executor) spawnWorkers(ctx context.Context, kind model.TransferKind, n int) {
	for i := 0; i < n; i++ {
		e.wg.Add(1)
		go e.worker(ctx, kind)
	}
}

// Submit enqueues an intent. Submitting an intent already queued or running
// under the same key is a no-op, satisfying the dedup-by-(kind,fileID)
// requirement: only one transfer per key is ever in flight at a time.
func (e *Executor) Submit(intent model.TransferIntent) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return
	}
	key := intent.Key()
	if _, running := e.running[key]; running {
		return
	}
	q := e.queues[intent.Kind]
	for _, qi := range q.items {
		if qi.intent.Key() == key {
			return
		}
	}

	q.push(queuedIntent{intent: intent, attempt: 0})
	e.cond.Broadcast()
}

// Prioritize moves the queued intent identified by key to the front of its
// kind's queue by setting its priority above any currently queued item of
// that kind. A no-op if the key is not currently queued (e.g. already
// running).
func (e *Executor) Prioritize(kind model.TransferKind, key string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	q := e.queues[kind]
	maxPriority := 0
	for _, qi := range q.items {
		if qi.intent.Priority > maxPriority {
			maxPriority = qi.intent.Priority
		}
	}
	q.prioritize(key, maxPriority+1)
	e.cond.Broadcast()
}

// Pause stops workers from picking up new work. Transfers already running
// are not interrupted.
func (e *Executor) Pause() {
	e.mu.Lock()
	e.paused = true
	e.mu.Unlock()
}

// Resume allows workers to pick up queued work again.
func (e *Executor) Resume() {
	e.mu.Lock()
	e.paused = false
	e.mu.Unlock()
	e.cond.Broadcast()
}

// AwaitIdle blocks until no intents are queued or running, or ctx is done.
func (e *Executor) AwaitIdle(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.mu.Lock()
		for e.queueLenLocked() > 0 || len(e.running) > 0 {
			e.cond.Wait()
		}
		e.mu.Unlock()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Executor) queueLenLocked() int {
	n := 0
	for _, q := range e.queues {
		n += q.len()
	}
	return n
}

// Close stops accepting new submissions and waits for running workers to
// exit once their current transfer completes.
func (e *Executor) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.cond.Broadcast()
	e.wg.Wait()
}

func (e *Executor) worker(ctx context.Context, kind model.TransferKind) {
	defer e.wg.Done()

	for {
		qi, ok := e.next(ctx, kind)
		if !ok {
			return
		}

		start := time.Now()
		err := e.handler.Execute(ctx, qi.intent)
		e.metrics.RecordTransfer(string(kind), time.Since(start), qi.intent.Size, qi.attempt+1, err)
		e.finish(ctx, qi, err)
	}
}

// next blocks until a workable item of kind is available, the executor is
// closed, or ctx is cancelled.
func (e *Executor) next(ctx context.Context, kind model.TransferKind) (queuedIntent, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for {
		if e.closed || ctx.Err() != nil {
			return queuedIntent{}, false
		}
		if !e.paused {
			if qi, ok := e.queues[kind].pop(); ok {
				e.running[qi.intent.Key()] = struct{}{}
				return qi, true
			}
		}
		e.cond.Wait()
	}
}

func (e *Executor) finish(ctx context.Context, qi queuedIntent, err error) {
	key := qi.intent.Key()

	if err == nil {
		e.mu.Lock()
		delete(e.running, key)
		e.cond.Broadcast()
		e.mu.Unlock()
		return
	}

	qi.attempt++
	retryable := synctypes.Retryable(err) && qi.attempt < e.cfg.MaxAttempts
	if !retryable {
		logger.Error("transfer abandoned", "key", key, "attempt", qi.attempt, "error", err)
		e.handler.Abandon(ctx, qi.intent, err)
		e.mu.Lock()
		delete(e.running, key)
		e.cond.Broadcast()
		e.mu.Unlock()
		return
	}

	delay := e.cfg.Backoff.Delay(qi.attempt)
	logger.Warn("transfer failed, retrying", "key", key, "attempt", qi.attempt, "delay", delay, "error", err)

	time.AfterFunc(delay, func() {
		e.mu.Lock()
		delete(e.running, key)
		if !e.closed {
			e.queues[qi.intent.Kind].push(qi)
		}
		e.cond.Broadcast()
		e.mu.Unlock()
	})
}
