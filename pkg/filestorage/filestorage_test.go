package filestorage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/nimbusfs/syncengine/pkg/blobstore/memory"
	"github.com/nimbusfs/syncengine/pkg/model"
	"github.com/nimbusfs/syncengine/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutThenOpen(t *testing.T) {
	st := store.OpenInMemory()
	defer st.Close()
	blobs := memory.New()
	svc := New(st, blobs)
	ctx := context.Background()

	f, err := svc.Put(ctx, []byte("hello world"), PutOptions{Path: "/a.txt"})
	require.NoError(t, err)
	assert.NotEmpty(t, f.ID)
	assert.Equal(t, "text/plain; charset=utf-8", f.MimeType)

	hash := sha256.Sum256([]byte("hello world"))
	assert.Equal(t, model.FileID(hex.EncodeToString(hash[:])), f.ID)

	data, err := svc.Open(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello world"), data)

	local, err := st.GetLocalState(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TransferStatusPending, local.UploadStatus)
	assert.Equal(t, model.TransferStatusDone, local.DownloadStatus)
}

func TestPutWithIdenticalContentIsIdempotent(t *testing.T) {
	st := store.OpenInMemory()
	defer st.Close()
	blobs := memory.New()
	svc := New(st, blobs)
	ctx := context.Background()

	first, err := svc.Put(ctx, []byte("same bytes"), PutOptions{Path: "/a.txt"})
	require.NoError(t, err)

	second, err := svc.Put(ctx, []byte("same bytes"), PutOptions{Path: "/b.txt"})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Version, second.Version)
	assert.Equal(t, "/a.txt", second.Path)

	files, err := st.ListFiles(ctx)
	require.NoError(t, err)
	assert.Len(t, files, 1)
}

func TestPutUpdateExistingFile(t *testing.T) {
	st := store.OpenInMemory()
	defer st.Close()
	blobs := memory.New()
	svc := New(st, blobs)
	ctx := context.Background()

	f, err := svc.Put(ctx, []byte("v1"), PutOptions{Path: "/a.txt"})
	require.NoError(t, err)

	updated, err := svc.Put(ctx, []byte("v2"), PutOptions{FileID: f.ID, Path: "/a.txt"})
	require.NoError(t, err)
	assert.Equal(t, f.ID, updated.ID)
	assert.Equal(t, uint64(2), updated.Version)
}

func TestWriteToStreamsContent(t *testing.T) {
	st := store.OpenInMemory()
	defer st.Close()
	blobs := memory.New()
	svc := New(st, blobs)
	ctx := context.Background()

	f, err := svc.Put(ctx, []byte("streamed content"), PutOptions{Path: "/a.txt"})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, svc.WriteTo(ctx, f.ID, &buf))
	assert.Equal(t, "streamed content", buf.String())
}

func TestDeleteMarksFileDeleted(t *testing.T) {
	st := store.OpenInMemory()
	defer st.Close()
	blobs := memory.New()
	svc := New(st, blobs)
	ctx := context.Background()

	f, err := svc.Put(ctx, []byte("data"), PutOptions{Path: "/a.txt"})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, f.ID))

	files, err := st.ListFiles(ctx)
	require.NoError(t, err)
	assert.Empty(t, files)

	has, err := blobs.Has(ctx, string(f.Hash))
	require.NoError(t, err)
	assert.False(t, has, "local blob should be reclaimed once deleted")
}

func TestDeleteDefersBlobReclaimDuringInFlightUpload(t *testing.T) {
	st := store.OpenInMemory()
	defer st.Close()
	blobs := memory.New()
	svc := New(st, blobs)
	ctx := context.Background()

	f, err := svc.Put(ctx, []byte("data"), PutOptions{Path: "/a.txt"})
	require.NoError(t, err)

	local, err := st.GetLocalState(ctx, f.ID)
	require.NoError(t, err)
	local.UploadStatus = model.TransferStatusInProgress
	require.NoError(t, st.SetLocalState(ctx, local))

	require.NoError(t, svc.Delete(ctx, f.ID))

	has, err := blobs.Has(ctx, string(f.Hash))
	require.NoError(t, err)
	assert.True(t, has, "blob must survive while its upload is in flight")

	files, err := st.ListFiles(ctx)
	require.NoError(t, err)
	assert.Empty(t, files, "tombstone still commits even though blob reclaim is deferred")
}

func TestPreprocessorSelectionPrefersMostSpecificPattern(t *testing.T) {
	st := store.OpenInMemory()
	defer st.Close()
	blobs := memory.New()

	var applied []string
	mark := func(name string) Preprocessor {
		return func(f *model.File) *model.File {
			applied = append(applied, name)
			return f
		}
	}
	svc := New(st, blobs).WithPreprocessors(Preprocessors{
		"text/plain": mark("exact"),
		"text/*":     mark("type-wildcard"),
		"*/*":        mark("catch-all"),
	})
	ctx := context.Background()

	_, err := svc.Put(ctx, []byte("hello world"), PutOptions{Path: "/a.txt"})
	require.NoError(t, err)
	assert.Equal(t, []string{"exact"}, applied)
}

func TestPreprocessorFallsBackToTypeWildcardThenCatchAll(t *testing.T) {
	st := store.OpenInMemory()
	defer st.Close()
	blobs := memory.New()

	var applied []string
	mark := func(name string) Preprocessor {
		return func(f *model.File) *model.File {
			applied = append(applied, name)
			return f
		}
	}

	svc := New(st, blobs).WithPreprocessors(Preprocessors{
		"text/*": mark("type-wildcard"),
		"*/*":    mark("catch-all"),
	})
	ctx := context.Background()
	_, err := svc.Put(ctx, []byte("hello world"), PutOptions{Path: "/a.txt"})
	require.NoError(t, err)
	assert.Equal(t, []string{"type-wildcard"}, applied)

	applied = nil
	svc2 := New(st, blobs).WithPreprocessors(Preprocessors{
		"*/*": mark("catch-all"),
	})
	_, err = svc2.Put(ctx, []byte("other bytes"), PutOptions{Path: "/b.txt"})
	require.NoError(t, err)
	assert.Equal(t, []string{"catch-all"}, applied)
}

func TestPreprocessorNoOpReturnsSamePointerAndStillCommits(t *testing.T) {
	st := store.OpenInMemory()
	defer st.Close()
	blobs := memory.New()

	noop := func(f *model.File) *model.File { return f }
	svc := New(st, blobs).WithPreprocessors(Preprocessors{"*/*": noop})
	ctx := context.Background()

	f, err := svc.Put(ctx, []byte("hello world"), PutOptions{Path: "/a.txt"})
	require.NoError(t, err)
	assert.Equal(t, "/a.txt", f.Path)

	files, err := st.ListFiles(ctx)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, f.ID, files[0].ID)
}
