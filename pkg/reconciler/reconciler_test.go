package reconciler

import (
	"context"
	"testing"
	"time"

	"github.com/nimbusfs/syncengine/pkg/blobstore/memory"
	"github.com/nimbusfs/syncengine/pkg/model"
	"github.com/nimbusfs/syncengine/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSubmitter struct {
	intents chan model.TransferIntent
}

func newFakeSubmitter() *fakeSubmitter {
	return &fakeSubmitter{intents: make(chan model.TransferIntent, 16)}
}

func (f *fakeSubmitter) Submit(intent model.TransferIntent) {
	f.intents <- intent
}

func TestReconcilerSubmitsDownloadForNewFile(t *testing.T) {
	st := store.OpenInMemory()
	defer st.Close()
	blobs := memory.New()
	sub := newFakeSubmitter()

	r := New(st, blobs, blobs, sub, DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	require.NoError(t, st.CommitFile(context.Background(), &model.File{ID: "f1", Path: "/a.txt", Hash: "h1"}, 0))

	select {
	case intent := <-sub.intents:
		assert.Equal(t, model.TransferDownload, intent.Kind)
		assert.Equal(t, model.FileID("f1"), intent.FileID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for download intent")
	}
}

func TestReconcilerSubmitsUploadForPendingLocalFile(t *testing.T) {
	st := store.OpenInMemory()
	defer st.Close()
	blobs := memory.New()
	sub := newFakeSubmitter()

	ctx := context.Background()
	require.NoError(t, st.SetLocalState(ctx, &model.LocalFileState{FileID: "f1", UploadStatus: model.TransferStatusPending}))

	r := New(st, blobs, blobs, sub, DefaultConfig())
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go r.Run(runCtx)

	require.NoError(t, st.CommitFile(ctx, &model.File{ID: "f1", Path: "/a.txt", Hash: "h1"}, 0))

	select {
	case intent := <-sub.intents:
		assert.Equal(t, model.TransferUpload, intent.Kind)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for upload intent")
	}
}
