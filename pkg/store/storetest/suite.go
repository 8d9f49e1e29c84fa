// Package storetest provides a conformance suite that every store.Store
// implementation must pass, so a new backend (in-memory, WAL-backed,
// BadgerDB-backed) is tested against the same behavioral contract instead
// of growing its own bespoke test file.
package storetest

import (
	"context"
	"testing"

	"github.com/nimbusfs/syncengine/internal/synctypes"
	"github.com/nimbusfs/syncengine/pkg/model"
	"github.com/nimbusfs/syncengine/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory creates a fresh, empty Store for a single test. Implementations
// needing a filesystem path should use t.TempDir() and register cleanup
// with t.Cleanup().
type Factory func(t *testing.T) store.Store

// RunConformanceSuite runs the full Store behavioral contract against the
// given factory. Each subtest gets its own store instance.
func RunConformanceSuite(t *testing.T, factory Factory) {
	t.Helper()

	t.Run("CommitFileThenGet", func(t *testing.T) { testCommitFileThenGet(t, factory) })
	t.Run("CommitFileVersionConflict", func(t *testing.T) { testCommitFileVersionConflict(t, factory) })
	t.Run("GetFileNotFound", func(t *testing.T) { testGetFileNotFound(t, factory) })
	t.Run("SubscribeReceivesCommit", func(t *testing.T) { testSubscribeReceivesCommit(t, factory) })
	t.Run("ListFilesExcludesDeleted", func(t *testing.T) { testListFilesExcludesDeleted(t, factory) })
	t.Run("LocalStateRoundTrips", func(t *testing.T) { testLocalStateRoundTrips(t, factory) })
	t.Run("LocalStateNotFound", func(t *testing.T) { testLocalStateNotFound(t, factory) })
}

func testCommitFileThenGet(t *testing.T, factory Factory) {
	s := factory(t)
	defer s.Close()
	ctx := context.Background()

	f := &model.File{ID: "f1", Path: "/a.txt", Hash: "abc", Size: 3}
	require.NoError(t, s.CommitFile(ctx, f, 0))

	got, err := s.GetFile(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, model.FileID("f1"), got.ID)
	assert.Equal(t, uint64(1), got.Version)
}

func testCommitFileVersionConflict(t *testing.T, factory Factory) {
	s := factory(t)
	defer s.Close()
	ctx := context.Background()

	f := &model.File{ID: "f1", Path: "/a.txt"}
	require.NoError(t, s.CommitFile(ctx, f, 0))

	stale := &model.File{ID: "f1", Path: "/b.txt"}
	err := s.CommitFile(ctx, stale, 0)
	assert.ErrorIs(t, err, synctypes.ErrConflict)
}

func testGetFileNotFound(t *testing.T, factory Factory) {
	s := factory(t)
	defer s.Close()

	_, err := s.GetFile(context.Background(), "missing")
	assert.ErrorIs(t, err, synctypes.ErrNotFound)
}

func testSubscribeReceivesCommit(t *testing.T, factory Factory) {
	s := factory(t)
	defer s.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := s.Subscribe(ctx)

	f := &model.File{ID: "f1", Path: "/a.txt"}
	require.NoError(t, s.CommitFile(context.Background(), f, 0))

	change := <-ch
	assert.Equal(t, store.ChangeFile, change.Kind)
	assert.Equal(t, model.FileID("f1"), change.File.ID)
}

func testListFilesExcludesDeleted(t *testing.T, factory Factory) {
	s := factory(t)
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.CommitFile(ctx, &model.File{ID: "f1", Path: "/a.txt"}, 0))
	require.NoError(t, s.CommitFile(ctx, &model.File{ID: "f2", Path: "/b.txt", Deleted: true}, 0))

	files, err := s.ListFiles(ctx)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, model.FileID("f1"), files[0].ID)
}

func testLocalStateRoundTrips(t *testing.T, factory Factory) {
	s := factory(t)
	defer s.Close()
	ctx := context.Background()

	ls := &model.LocalFileState{FileID: "f1", UploadStatus: model.TransferStatusPending, StoredPath: "abc"}
	require.NoError(t, s.SetLocalState(ctx, ls))

	got, err := s.GetLocalState(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, model.TransferStatusPending, got.UploadStatus)
	assert.Equal(t, "abc", got.StoredPath)
}

func testLocalStateNotFound(t *testing.T, factory Factory) {
	s := factory(t)
	defer s.Close()

	_, err := s.GetLocalState(context.Background(), "missing")
	assert.ErrorIs(t, err, synctypes.ErrNotFound)
}
