package engine

import (
	"sync"
	"time"

	"github.com/nimbusfs/syncengine/pkg/model"
)

// EventKind names one occurrence on the engine's event stream.
type EventKind string

const (
	// EventOnline fires when the engine transitions from offline to online.
	EventOnline EventKind = "online"
	// EventOffline fires when the engine transitions from online to offline.
	EventOffline EventKind = "offline"

	EventUploadStart    EventKind = "upload:start"
	EventUploadProgress EventKind = "upload:progress"
	EventUploadComplete EventKind = "upload:complete"
	EventUploadError    EventKind = "upload:error"

	EventDownloadStart    EventKind = "download:start"
	EventDownloadProgress EventKind = "download:progress"
	EventDownloadComplete EventKind = "download:complete"
	EventDownloadError    EventKind = "download:error"
)

// Event is one occurrence delivered to every handler registered via
// Engine.OnEvent.
type Event struct {
	Kind   EventKind
	FileID model.FileID
	// Bytes is the transfer's total size for progress/complete events.
	Bytes int64
	// Err carries the failure for *:error events.
	Err error
	At  time.Time
}

// eventBus fans a single emitted Event out to every registered handler.
// Handlers run synchronously on the emitting goroutine, the same trade-off
// the metrics package makes for its counters: simple fan-out, no
// buffering, registered handlers must not block.
type eventBus struct {
	mu       sync.RWMutex
	handlers map[int]func(Event)
	next     int
}

func newEventBus() *eventBus {
	return &eventBus{handlers: make(map[int]func(Event))}
}

// on registers handler to receive every subsequent event and returns an
// unsubscribe function.
func (b *eventBus) on(handler func(Event)) func() {
	b.mu.Lock()
	id := b.next
	b.next++
	b.handlers[id] = handler
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.handlers, id)
		b.mu.Unlock()
	}
}

func (b *eventBus) emit(evt Event) {
	if evt.At.IsZero() {
		evt.At = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, h := range b.handlers {
		h(evt)
	}
}
