package metrics

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordCommitExposesCounter(t *testing.T) {
	m := New()
	m.RecordCommit("wal", 5*time.Millisecond, nil)
	m.RecordCommit("wal", 5*time.Millisecond, errors.New("boom"))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	m.Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "syncengine_store_commits_total")
}

func TestRecordTransferTracksBytesOnSuccessOnly(t *testing.T) {
	m := New()
	m.RecordTransfer("upload", 10*time.Millisecond, 1024, 1, nil)
	m.RecordTransfer("upload", 10*time.Millisecond, 1024, 3, errors.New("timeout"))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()

	assert.Contains(t, body, "syncengine_transfers_total")
	assert.Contains(t, body, `kind="upload"`)
	assert.Contains(t, body, `syncengine_transfer_bytes_total{kind="upload"} 1024`)
}

func TestNilMetricsIsNoOp(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordCommit("wal", time.Millisecond, nil)
		m.RecordBlobOp("put", 10, nil)
		m.RecordTransfer("download", time.Millisecond, 10, 1, nil)
		m.SetActiveTransfers("upload", 2)
		m.SetQueueDepth(5)
		m.RecordGC(time.Millisecond, 1, 100)
		m.RecordThumbnail(time.Millisecond, nil)
	})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 404, rec.Code)
}
