// Package thumbnail runs a bounded worker pool that derives a small preview
// image for every image file committed to the store. It is a pure
// Go-goroutine worker pool (no OS-thread or browser-Worker equivalent is
// needed here), dispatched by MIME type sniffed when the file was ingested.
package thumbnail

import (
	"bytes"
	"context"
	"image/jpeg"
	"strings"
	"sync"
	"time"

	"github.com/disintegration/imaging"

	"github.com/nimbusfs/syncengine/internal/logger"
	"github.com/nimbusfs/syncengine/pkg/blobstore"
	"github.com/nimbusfs/syncengine/pkg/metrics"
	"github.com/nimbusfs/syncengine/pkg/model"
	"github.com/nimbusfs/syncengine/pkg/store"
)

// blobKeyPrefix namespaces thumbnail blobs so they never collide with
// original-content blobs keyed by the same content hash.
const blobKeyPrefix = "thumb:"

// Config controls the thumbnail pipeline.
type Config struct {
	// Workers is the number of concurrent thumbnail generation goroutines.
	// Default: 2.
	Workers int
	// MaxDimension bounds the longest edge of a generated thumbnail, in
	// pixels. Default: 256.
	MaxDimension int
}

// DefaultConfig returns the thumbnail pipeline defaults.
func DefaultConfig() Config {
	return Config{Workers: 2, MaxDimension: 256}
}

// Pipeline generates and caches thumbnails for image files.
type Pipeline struct {
	cfg   Config
	store store.Store
	blobs blobstore.Store

	mu     sync.RWMutex
	states map[model.FileID]model.ThumbnailState

	jobs chan model.File
	wg   sync.WaitGroup

	metrics *metrics.Metrics
}

// WithMetrics attaches m so generation attempts record their outcome. Safe
// to call with a nil m.
func (p *Pipeline) WithMetrics(m *metrics.Metrics) *Pipeline {
	p.metrics = m
	return p
}

// New creates a Pipeline wiring st and blobs together.
func New(st store.Store, blobs blobstore.Store, cfg Config) *Pipeline {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.MaxDimension <= 0 {
		cfg.MaxDimension = 256
	}
	return &Pipeline{
		cfg:    cfg,
		store:  st,
		blobs:  blobs,
		states: make(map[model.FileID]model.ThumbnailState),
		jobs:   make(chan model.File, 64),
	}
}

// Run subscribes to store changes and dispatches image files to worker
// goroutines until ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context) {
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
	defer p.wg.Wait()

	changes := p.store.Subscribe(ctx)
	for {
		select {
		case <-ctx.Done():
			close(p.jobs)
			return
		case change, ok := <-changes:
			if !ok {
				close(p.jobs)
				return
			}
			if change.Kind != store.ChangeFile || change.File == nil || change.File.Deleted {
				continue
			}
			if !strings.HasPrefix(change.File.MimeType, "image/") {
				continue
			}
			select {
			case p.jobs <- *change.File:
			default:
				logger.Warn("thumbnail: queue full, dropping job", "fileId", change.File.ID)
			}
		}
	}
}

func (p *Pipeline) worker(ctx context.Context) {
	defer p.wg.Done()
	for f := range p.jobs {
		p.generate(ctx, f)
	}
}

func (p *Pipeline) generate(ctx context.Context, f model.File) {
	start := time.Now()
	p.setState(f.ID, model.ThumbnailState{FileID: f.ID, Hash: f.Hash, Status: model.ThumbnailPending})

	data, err := p.blobs.Get(ctx, string(f.Hash))
	if err != nil {
		logger.Warn("thumbnail: source blob unavailable", "fileId", f.ID, "error", err)
		p.setState(f.ID, model.ThumbnailState{FileID: f.ID, Hash: f.Hash, Status: model.ThumbnailFailed})
		p.metrics.RecordThumbnail(time.Since(start), err)
		return
	}

	src, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		logger.Warn("thumbnail: decode failed", "fileId", f.ID, "error", err)
		p.setState(f.ID, model.ThumbnailState{FileID: f.ID, Hash: f.Hash, Status: model.ThumbnailFailed})
		p.metrics.RecordThumbnail(time.Since(start), err)
		return
	}

	resized := imaging.Fit(src, p.cfg.MaxDimension, p.cfg.MaxDimension, imaging.Lanczos)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, resized, &jpeg.Options{Quality: 85}); err != nil {
		logger.Warn("thumbnail: encode failed", "fileId", f.ID, "error", err)
		p.setState(f.ID, model.ThumbnailState{FileID: f.ID, Hash: f.Hash, Status: model.ThumbnailFailed})
		p.metrics.RecordThumbnail(time.Since(start), err)
		return
	}

	key := blobKeyPrefix + string(f.Hash)
	if err := p.blobs.Put(ctx, key, buf.Bytes()); err != nil {
		logger.Warn("thumbnail: write failed", "fileId", f.ID, "error", err)
		p.setState(f.ID, model.ThumbnailState{FileID: f.ID, Hash: f.Hash, Status: model.ThumbnailFailed})
		p.metrics.RecordThumbnail(time.Since(start), err)
		return
	}

	p.setState(f.ID, model.ThumbnailState{FileID: f.ID, Hash: f.Hash, Status: model.ThumbnailReady, Path: key})
	p.metrics.RecordThumbnail(time.Since(start), nil)
}

func (p *Pipeline) setState(id model.FileID, s model.ThumbnailState) {
	p.mu.Lock()
	p.states[id] = s
	p.mu.Unlock()
}

// State returns the current thumbnail state for a file, or
// model.ThumbnailNone if no thumbnail has ever been requested.
func (p *Pipeline) State(id model.FileID) model.ThumbnailState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if s, ok := p.states[id]; ok {
		return s
	}
	return model.ThumbnailState{FileID: id, Status: model.ThumbnailNone}
}
