// Package metrics exposes Prometheus counters, histograms, and gauges for
// the sync engine's storage, transfer, and reconciliation subsystems.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every Prometheus collector the engine records against. A
// nil *Metrics is valid everywhere it's accepted: every Record/Observe
// method is a no-op on a nil receiver, so callers don't need to branch on
// whether metrics are enabled.
type Metrics struct {
	registry *prometheus.Registry

	storeCommitsTotal   *prometheus.CounterVec
	storeCommitDuration *prometheus.HistogramVec

	blobOpsTotal   *prometheus.CounterVec
	blobBytesTotal *prometheus.CounterVec

	transfersTotal     *prometheus.CounterVec
	transferDuration   *prometheus.HistogramVec
	transferBytesTotal *prometheus.CounterVec
	transferAttempts   *prometheus.HistogramVec
	activeTransfers    *prometheus.GaugeVec
	queueDepth         prometheus.Gauge

	gcRunsTotal     prometheus.Counter
	gcBlobsDeleted  prometheus.Counter
	gcBytesReclaimed prometheus.Counter
	gcDuration      prometheus.Histogram

	thumbnailsTotal    *prometheus.CounterVec
	thumbnailDuration  prometheus.Histogram
}

// durationBuckets covers sub-millisecond index commits up through
// multi-minute large-object transfers.
var durationBuckets = []float64{
	1, 5, 10, 50, 100, 500, 1000, 5000, 30000, 60000, 300000,
}

// New creates a Metrics instance registered against a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	return &Metrics{
		registry: reg,

		storeCommitsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "syncengine_store_commits_total",
				Help: "Total number of file index commits by outcome.",
			},
			[]string{"outcome"},
		),
		storeCommitDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "syncengine_store_commit_duration_milliseconds",
				Help:    "Duration of file index commits in milliseconds.",
				Buckets: durationBuckets,
			},
			[]string{"backend"},
		),

		blobOpsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "syncengine_blobstore_operations_total",
				Help: "Total number of blobstore operations by type and outcome.",
			},
			[]string{"operation", "outcome"},
		),
		blobBytesTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "syncengine_blobstore_bytes_total",
				Help: "Total bytes written to or read from the local blobstore.",
			},
			[]string{"operation"},
		),

		transfersTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "syncengine_transfers_total",
				Help: "Total number of upload/download attempts by kind and outcome.",
			},
			[]string{"kind", "outcome"},
		),
		transferDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "syncengine_transfer_duration_milliseconds",
				Help:    "Duration of a single upload/download attempt in milliseconds.",
				Buckets: durationBuckets,
			},
			[]string{"kind"},
		),
		transferBytesTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "syncengine_transfer_bytes_total",
				Help: "Total bytes transferred by kind.",
			},
			[]string{"kind"},
		),
		transferAttempts: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "syncengine_transfer_attempts",
				Help:    "Number of attempts a completed transfer required.",
				Buckets: []float64{1, 2, 3, 4, 5, 8, 10},
			},
			[]string{"kind"},
		),
		activeTransfers: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "syncengine_active_transfers",
				Help: "Number of transfers currently executing.",
			},
			[]string{"kind"},
		),
		queueDepth: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "syncengine_transfer_queue_depth",
				Help: "Number of transfer intents waiting for a worker slot.",
			},
		),

		gcRunsTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "syncengine_gc_runs_total",
				Help: "Total number of reconciler garbage collection passes.",
			},
		),
		gcBlobsDeleted: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "syncengine_gc_blobs_deleted_total",
				Help: "Total number of orphaned blobs deleted by garbage collection.",
			},
		),
		gcBytesReclaimed: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "syncengine_gc_bytes_reclaimed_total",
				Help: "Total bytes reclaimed by garbage collection.",
			},
		),
		gcDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "syncengine_gc_duration_milliseconds",
				Help:    "Duration of a garbage collection pass in milliseconds.",
				Buckets: durationBuckets,
			},
		),

		thumbnailsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "syncengine_thumbnails_total",
				Help: "Total number of thumbnail generation attempts by outcome.",
			},
			[]string{"outcome"},
		),
		thumbnailDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "syncengine_thumbnail_duration_milliseconds",
				Help:    "Duration of thumbnail generation in milliseconds.",
				Buckets: durationBuckets,
			},
		),
	}
}

// Handler returns the HTTP handler serving this instance's metrics in the
// Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordCommit records the outcome and duration of a store commit.
func (m *Metrics) RecordCommit(backend string, d time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.storeCommitsTotal.WithLabelValues(outcome).Inc()
	m.storeCommitDuration.WithLabelValues(backend).Observe(float64(d.Milliseconds()))
}

// RecordBlobOp records a blobstore Put/Get/Delete call.
func (m *Metrics) RecordBlobOp(operation string, bytes int64, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.blobOpsTotal.WithLabelValues(operation, outcome).Inc()
	if bytes > 0 {
		m.blobBytesTotal.WithLabelValues(operation).Add(float64(bytes))
	}
}

// RecordTransfer records a completed upload/download attempt.
func (m *Metrics) RecordTransfer(kind string, d time.Duration, bytes int64, attempt int, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.transfersTotal.WithLabelValues(kind, outcome).Inc()
	m.transferDuration.WithLabelValues(kind).Observe(float64(d.Milliseconds()))
	if err == nil {
		m.transferBytesTotal.WithLabelValues(kind).Add(float64(bytes))
		m.transferAttempts.WithLabelValues(kind).Observe(float64(attempt))
	}
}

// SetActiveTransfers reports the current in-flight transfer count for kind.
func (m *Metrics) SetActiveTransfers(kind string, n int) {
	if m == nil {
		return
	}
	m.activeTransfers.WithLabelValues(kind).Set(float64(n))
}

// SetQueueDepth reports how many transfer intents are waiting for a worker.
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

// RecordGC records one reconciler garbage collection pass.
func (m *Metrics) RecordGC(d time.Duration, blobsDeleted int, bytesReclaimed int64) {
	if m == nil {
		return
	}
	m.gcRunsTotal.Inc()
	m.gcBlobsDeleted.Add(float64(blobsDeleted))
	m.gcBytesReclaimed.Add(float64(bytesReclaimed))
	m.gcDuration.Observe(float64(d.Milliseconds()))
}

// RecordThumbnail records one thumbnail generation attempt.
func (m *Metrics) RecordThumbnail(d time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.thumbnailsTotal.WithLabelValues(outcome).Inc()
	if err == nil {
		m.thumbnailDuration.Observe(float64(d.Milliseconds()))
	}
}
