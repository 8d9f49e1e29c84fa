package store_test

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/nimbusfs/syncengine/pkg/metrics"
	"github.com/nimbusfs/syncengine/pkg/model"
	"github.com/nimbusfs/syncengine/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithMetricsRecordsCommits(t *testing.T) {
	m := metrics.New()
	s := store.WithMetrics(store.OpenInMemory(), "memory", m)
	defer s.Close()

	require.NoError(t, s.CommitFile(context.Background(), &model.File{ID: "f1", Path: "/a.txt"}, 0))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Contains(t, rec.Body.String(), "syncengine_store_commit_duration_milliseconds")
}

func TestWithMetricsNilReturnsInner(t *testing.T) {
	inner := store.OpenInMemory()
	defer inner.Close()
	assert.Same(t, inner, store.WithMetrics(inner, "memory", nil))
}
