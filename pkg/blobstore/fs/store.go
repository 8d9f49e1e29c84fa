// Package fs provides a filesystem-backed blobstore.Store implementation.
// Each blob is stored as a file named after its content hash, sharded into
// two levels of subdirectories to keep any one directory from accumulating
// too many entries.
package fs

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/nimbusfs/syncengine/pkg/blobstore"
)

// Store is a filesystem-backed implementation of blobstore.Store.
type Store struct {
	mu       sync.RWMutex
	basePath string
	closed   bool
}

// Config holds configuration for the filesystem blob store.
type Config struct {
	// BasePath is the root directory for blob storage.
	BasePath string

	// CreateDir creates the base directory if it doesn't exist.
	// Default: true
	CreateDir bool

	// DirMode is the permission mode for the base directory when CreateDir
	// is set. Default: 0755. Shard subdirectories are always created with
	// mode 0755.
	DirMode os.FileMode

	// FileMode defaults to 0644 when zero but is not applied: blob files are
	// always written with mode 0644.
	FileMode os.FileMode
}

// DefaultConfig returns the default configuration for basePath.
func DefaultConfig(basePath string) Config {
	return Config{
		BasePath:  basePath,
		CreateDir: true,
		DirMode:   0755,
		FileMode:  0644,
	}
}

// New creates a new filesystem blob store with the given configuration.
func New(cfg Config) (*Store, error) {
	if cfg.BasePath == "" {
		return nil, fmt.Errorf("blobstore/fs: base path is required")
	}
	if cfg.DirMode == 0 {
		cfg.DirMode = 0755
	}
	if cfg.FileMode == 0 {
		cfg.FileMode = 0644
	}

	if cfg.CreateDir {
		if err := os.MkdirAll(cfg.BasePath, cfg.DirMode); err != nil {
			return nil, err
		}
	}

	info, err := os.Stat(cfg.BasePath)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("blobstore/fs: base path is not a directory")
	}

	return &Store{basePath: cfg.BasePath}, nil
}

// NewWithPath creates a new filesystem blob store with default configuration.
func NewWithPath(basePath string) (*Store, error) {
	return New(DefaultConfig(basePath))
}

// blobPath derives the on-disk path for a content hash key, sharding by its
// first four hex characters so a single directory never holds every blob.
func (s *Store) blobPath(key string) string {
	if len(key) < 4 {
		return filepath.Join(s.basePath, key)
	}
	return filepath.Join(s.basePath, key[0:2], key[2:4], key)
}

// Put implements blobstore.Store. Data is written to a temp file in the
// same directory and then renamed into place, so a concurrent Get never
// observes a partially written blob and a crash mid-write never leaves one.
func (s *Store) Put(_ context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return blobstore.ErrStoreClosed
	}

	path := s.blobPath(key)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// Get implements blobstore.Store.
func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, blobstore.ErrStoreClosed
	}

	data, err := os.ReadFile(s.blobPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, blobstore.ErrBlobNotFound
		}
		return nil, err
	}
	return data, nil
}

// Delete implements blobstore.Store.
func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return blobstore.ErrStoreClosed
	}

	path := s.blobPath(key)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	s.cleanEmptyDirs(filepath.Dir(path))
	return nil
}

// Has implements blobstore.Store.
func (s *Store) Has(_ context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return false, blobstore.ErrStoreClosed
	}

	_, err := os.Stat(s.blobPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// URL implements blobstore.Store, returning a file:// URI.
func (s *Store) URL(ctx context.Context, key string) (string, error) {
	has, err := s.Has(ctx, key)
	if err != nil {
		return "", err
	}
	if !has {
		return "", blobstore.ErrBlobNotFound
	}
	abs, err := filepath.Abs(s.blobPath(key))
	if err != nil {
		return "", err
	}
	return "file://" + filepath.ToSlash(abs), nil
}

// ListBlobKeys implements reconciler.BlobLister by walking the sharded
// directory tree and recovering each blob's content-hash key from its file
// name.
func (s *Store) ListBlobKeys(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, blobstore.ErrStoreClosed
	}

	var keys []string
	err := filepath.WalkDir(s.basePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(path) == ".tmp" {
			return nil
		}
		keys = append(keys, d.Name())
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return keys, nil
}

// cleanEmptyDirs removes empty shard directories up to the base path.
func (s *Store) cleanEmptyDirs(dir string) {
	for dir != s.basePath && len(dir) > len(s.basePath) {
		if err := os.Remove(dir); err != nil {
			break
		}
		dir = filepath.Dir(dir)
	}
}

// Close implements blobstore.Store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// BasePath returns the base path of the store (for tests).
func (s *Store) BasePath() string {
	return s.basePath
}

var _ blobstore.Store = (*Store)(nil)
