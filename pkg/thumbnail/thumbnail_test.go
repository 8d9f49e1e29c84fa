package thumbnail

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"testing"
	"time"

	"github.com/nimbusfs/syncengine/pkg/blobstore/memory"
	"github.com/nimbusfs/syncengine/pkg/model"
	"github.com/nimbusfs/syncengine/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodedPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 0, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestPipelineGeneratesThumbnailForImage(t *testing.T) {
	st := store.OpenInMemory()
	defer st.Close()
	blobs := memory.New()
	ctx := context.Background()

	data := encodedPNG(t)
	require.NoError(t, blobs.Put(ctx, "h1", data))

	p := New(st, blobs, Config{Workers: 1, MaxDimension: 32})
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go p.Run(runCtx)

	require.NoError(t, st.CommitFile(ctx, &model.File{ID: "f1", Path: "/a.png", Hash: "h1", MimeType: "image/png"}, 0))

	require.Eventually(t, func() bool {
		return p.State("f1").Status == model.ThumbnailReady
	}, time.Second, 5*time.Millisecond)

	state := p.State("f1")
	thumb, err := blobs.Get(ctx, state.Path)
	require.NoError(t, err)
	assert.NotEmpty(t, thumb)
}

func TestPipelineSkipsNonImageFiles(t *testing.T) {
	st := store.OpenInMemory()
	defer st.Close()
	blobs := memory.New()
	ctx := context.Background()

	p := New(st, blobs, DefaultConfig())
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go p.Run(runCtx)

	require.NoError(t, st.CommitFile(ctx, &model.File{ID: "f2", Path: "/a.txt", Hash: "h2", MimeType: "text/plain"}, 0))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, model.ThumbnailNone, p.State("f2").Status)
}
