package fs

import (
	"context"
	"os"
	"testing"

	"github.com/nimbusfs/syncengine/pkg/blobstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "blobstore-fs-test-*")
	require.NoError(t, err)

	s, err := NewWithPath(tmpDir)
	require.NoError(t, err)

	t.Cleanup(func() {
		s.Close()
		os.RemoveAll(tmpDir)
	})

	return s
}

func TestPutAndGet(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	key := "abcdef0123456789"
	data := []byte("hello world")

	require.NoError(t, s.Put(ctx, key, data))

	got, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, blobstore.ErrBlobNotFound)
}

func TestPutIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	key := "cafef00dcafef00d"

	require.NoError(t, s.Put(ctx, key, []byte("v1")))
	require.NoError(t, s.Put(ctx, key, []byte("v2")))

	got, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), got)
}

func TestDeleteThenHas(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	key := "deadbeefdeadbeef"

	require.NoError(t, s.Put(ctx, key, []byte("data")))
	require.NoError(t, s.Delete(ctx, key))

	has, err := s.Has(ctx, key)
	require.NoError(t, err)
	assert.False(t, has)
}

func TestURLReturnsFileScheme(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	key := "0123456789abcdef"

	require.NoError(t, s.Put(ctx, key, []byte("data")))

	url, err := s.URL(ctx, key)
	require.NoError(t, err)
	assert.Contains(t, url, "file://")
}

func TestClosedStoreRejectsOperations(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Close())

	err := s.Put(context.Background(), "key", []byte("data"))
	assert.ErrorIs(t, err, blobstore.ErrStoreClosed)
}
