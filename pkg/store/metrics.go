package store

import (
	"context"
	"time"

	"github.com/nimbusfs/syncengine/pkg/metrics"
	"github.com/nimbusfs/syncengine/pkg/model"
)

// metricsStore decorates a Store, recording commit duration and outcome
// without either backend implementation needing to know metrics exist.
type metricsStore struct {
	Store
	backend string
	metrics *metrics.Metrics
}

// WithMetrics wraps inner so every CommitFile call records its duration and
// outcome under backend's label. Returns inner unchanged if m is nil.
func WithMetrics(inner Store, backend string, m *metrics.Metrics) Store {
	if m == nil {
		return inner
	}
	return &metricsStore{Store: inner, backend: backend, metrics: m}
}

func (s *metricsStore) CommitFile(ctx context.Context, f *model.File, expectedVersion uint64) error {
	start := time.Now()
	err := s.Store.CommitFile(ctx, f, expectedVersion)
	s.metrics.RecordCommit(s.backend, time.Since(start), err)
	return err
}
