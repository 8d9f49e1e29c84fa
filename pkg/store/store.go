// Package store implements the replicated file index: a query/commit/
// subscribe contract backed by an in-process index and a write-ahead log
// for crash recovery. Every commit is durable before it is visible to
// subscribers.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nimbusfs/syncengine/internal/synctypes"
	"github.com/nimbusfs/syncengine/pkg/model"
	"github.com/nimbusfs/syncengine/pkg/wal"
)

// ChangeKind identifies what a Subscribe notification carries.
type ChangeKind string

const (
	ChangeFile       ChangeKind = "file"
	ChangeLocalState ChangeKind = "local_state"
)

// Change is delivered to subscribers on every successful commit.
type Change struct {
	Kind  ChangeKind
	File  *model.File
	Local *model.LocalFileState
}

// Store is the engine's contract for replicated and local file state. File
// rows are replicated (every device subscribed to the same backing log
// converges on them); LocalFileState rows never leave the device that wrote
// them.
type Store interface {
	// GetFile returns the current File row for id, or synctypes.ErrNotFound.
	GetFile(ctx context.Context, id model.FileID) (*model.File, error)
	// ListFiles returns all non-deleted File rows.
	ListFiles(ctx context.Context) ([]*model.File, error)
	// CommitFile writes a new version of a File row. expectedVersion must
	// match the row's current version (0 for a new row) or the commit fails
	// with synctypes.ErrConflict so the caller can re-read and retry.
	CommitFile(ctx context.Context, f *model.File, expectedVersion uint64) error

	// GetLocalState returns the local state for id, or synctypes.ErrNotFound.
	GetLocalState(ctx context.Context, id model.FileID) (*model.LocalFileState, error)
	// SetLocalState upserts the local state for a file.
	SetLocalState(ctx context.Context, s *model.LocalFileState) error

	// Subscribe returns a channel of changes starting from the moment of
	// the call. The channel is closed when ctx is cancelled or the store is
	// closed. Slow consumers may miss changes if the buffer fills; callers
	// that need strict delivery should re-query after a gap.
	Subscribe(ctx context.Context) <-chan Change

	// Close flushes and releases the underlying log.
	Close() error
}

// memStore is the reference Store implementation: an in-memory index
// guarded by a mutex, durable via a wal.Persister, fanning out commits to
// subscribers over buffered channels.
type memStore struct {
	mu   sync.RWMutex
	wal  wal.Persister
	files map[model.FileID]*model.File
	local map[model.FileID]*model.LocalFileState

	subMu sync.Mutex
	subs  map[chan Change]struct{}
}

// Open creates a Store backed by persister, replaying any existing log to
// reconstruct the in-memory index.
func Open(persister wal.Persister) (Store, error) {
	s := &memStore{
		wal:   persister,
		files: make(map[model.FileID]*model.File),
		local: make(map[model.FileID]*model.LocalFileState),
		subs:  make(map[chan Change]struct{}),
	}

	events, err := persister.Recover()
	if err != nil {
		return nil, fmt.Errorf("store: recover: %w", err)
	}
	for _, ev := range events {
		if err := s.replay(ev); err != nil {
			return nil, fmt.Errorf("store: replay: %w", err)
		}
	}
	return s, nil
}

// OpenInMemory creates a Store with no durability, for tests and the
// engine's "memory" store backend.
func OpenInMemory() Store {
	s, _ := Open(wal.NewNullPersister())
	return s
}

func (s *memStore) replay(ev wal.Event) error {
	switch ev.Kind {
	case wal.EventFileCreated, wal.EventFileUpdated, wal.EventFileDeleted:
		var f model.File
		if err := json.Unmarshal(ev.Payload, &f); err != nil {
			return err
		}
		s.files[f.ID] = &f
	case wal.EventLocalStateSet:
		var ls model.LocalFileState
		if err := json.Unmarshal(ev.Payload, &ls); err != nil {
			return err
		}
		s.local[ls.FileID] = &ls
	}
	return nil
}

func (s *memStore) GetFile(_ context.Context, id model.FileID) (*model.File, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.files[id]
	if !ok {
		return nil, synctypes.ErrNotFound
	}
	clone := *f
	return &clone, nil
}

func (s *memStore) ListFiles(_ context.Context) ([]*model.File, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.File, 0, len(s.files))
	for _, f := range s.files {
		if f.Deleted {
			continue
		}
		clone := *f
		out = append(out, &clone)
	}
	return out, nil
}

func (s *memStore) CommitFile(_ context.Context, f *model.File, expectedVersion uint64) error {
	s.mu.Lock()
	existing, ok := s.files[f.ID]
	if ok && existing.Version != expectedVersion {
		s.mu.Unlock()
		return synctypes.ErrConflict
	}
	if !ok && expectedVersion != 0 {
		s.mu.Unlock()
		return synctypes.ErrConflict
	}

	f.Version = expectedVersion + 1
	f.UpdatedAt = time.Now()

	payload, err := json.Marshal(f)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("store: marshal file: %w", err)
	}

	kind := wal.EventFileUpdated
	if !ok {
		kind = wal.EventFileCreated
	}
	if f.Deleted {
		kind = wal.EventFileDeleted
	}
	if err := s.wal.Append(wal.Event{Kind: kind, FileID: string(f.ID), Payload: payload}); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("store: append: %w", err)
	}

	clone := *f
	s.files[f.ID] = &clone
	s.mu.Unlock()

	s.publish(Change{Kind: ChangeFile, File: &clone})
	return nil
}

func (s *memStore) GetLocalState(_ context.Context, id model.FileID) (*model.LocalFileState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ls, ok := s.local[id]
	if !ok {
		return nil, synctypes.ErrNotFound
	}
	clone := *ls
	return &clone, nil
}

func (s *memStore) SetLocalState(_ context.Context, ls *model.LocalFileState) error {
	ls.UpdatedAt = time.Now()
	payload, err := json.Marshal(ls)
	if err != nil {
		return fmt.Errorf("store: marshal local state: %w", err)
	}

	s.mu.Lock()
	if err := s.wal.Append(wal.Event{Kind: wal.EventLocalStateSet, FileID: string(ls.FileID), Payload: payload}); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("store: append: %w", err)
	}
	clone := *ls
	s.local[ls.FileID] = &clone
	s.mu.Unlock()

	s.publish(Change{Kind: ChangeLocalState, Local: &clone})
	return nil
}

// subscriberBuffer bounds how many undelivered changes a slow subscriber can
// accumulate before it starts missing notifications.
const subscriberBuffer = 256

func (s *memStore) Subscribe(ctx context.Context) <-chan Change {
	ch := make(chan Change, subscriberBuffer)
	s.subMu.Lock()
	s.subs[ch] = struct{}{}
	s.subMu.Unlock()

	go func() {
		<-ctx.Done()
		s.subMu.Lock()
		if _, ok := s.subs[ch]; ok {
			delete(s.subs, ch)
			close(ch)
		}
		s.subMu.Unlock()
	}()

	return ch
}

func (s *memStore) publish(c Change) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for ch := range s.subs {
		select {
		case ch <- c:
		default:
			// Drop rather than block a commit on a slow subscriber; the
			// subscriber is expected to re-query on detecting a gap.
		}
	}
}

func (s *memStore) Close() error {
	s.subMu.Lock()
	for ch := range s.subs {
		delete(s.subs, ch)
		close(ch)
	}
	s.subMu.Unlock()
	return s.wal.Close()
}

var _ Store = (*memStore)(nil)
