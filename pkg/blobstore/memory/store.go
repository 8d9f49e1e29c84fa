// Package memory provides an in-memory blobstore.Store for tests, mirroring
// the on-disk store's semantics without touching the filesystem.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/nimbusfs/syncengine/pkg/blobstore"
)

// Store is an in-memory implementation of blobstore.Store.
type Store struct {
	mu     sync.RWMutex
	blobs  map[string][]byte
	closed bool
}

// New creates an empty in-memory blob store.
func New() *Store {
	return &Store{blobs: make(map[string][]byte)}
}

func (s *Store) Put(_ context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return blobstore.ErrStoreClosed
	}
	s.blobs[key] = append([]byte(nil), data...)
	return nil
}

func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, blobstore.ErrStoreClosed
	}
	data, ok := s.blobs[key]
	if !ok {
		return nil, blobstore.ErrBlobNotFound
	}
	return append([]byte(nil), data...), nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return blobstore.ErrStoreClosed
	}
	delete(s.blobs, key)
	return nil
}

func (s *Store) Has(_ context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false, blobstore.ErrStoreClosed
	}
	_, ok := s.blobs[key]
	return ok, nil
}

func (s *Store) URL(ctx context.Context, key string) (string, error) {
	has, err := s.Has(ctx, key)
	if err != nil {
		return "", err
	}
	if !has {
		return "", blobstore.ErrBlobNotFound
	}
	return fmt.Sprintf("mem://%s", key), nil
}

// ListBlobKeys implements reconciler.BlobLister.
func (s *Store) ListBlobKeys(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, blobstore.ErrStoreClosed
	}
	keys := make([]string, 0, len(s.blobs))
	for k := range s.blobs {
		keys = append(keys, k)
	}
	return keys, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

var _ blobstore.Store = (*Store)(nil)
