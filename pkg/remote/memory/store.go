// Package memory provides an in-memory remote.Store for tests, standing in
// for S3-compatible object storage without a network dependency.
package memory

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/nimbusfs/syncengine/pkg/remote"
)

// Store is an in-memory implementation of remote.Store.
type Store struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// New creates an empty in-memory remote store.
func New() *Store {
	return &Store{objects: make(map[string][]byte)}
}

func (s *Store) Upload(_ context.Context, key string, _ int64, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.objects[key] = data
	s.mu.Unlock()
	return nil
}

func (s *Store) Download(_ context.Context, key string) (io.ReadCloser, error) {
	s.mu.RLock()
	data, ok := s.objects[key]
	s.mu.RUnlock()
	if !ok {
		return nil, remote.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.objects, key)
	s.mu.Unlock()
	return nil
}

func (s *Store) Head(_ context.Context, key string) (int64, bool, error) {
	s.mu.RLock()
	data, ok := s.objects[key]
	s.mu.RUnlock()
	if !ok {
		return 0, false, nil
	}
	return int64(len(data)), true, nil
}

var _ remote.Store = (*Store)(nil)
