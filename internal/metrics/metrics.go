// Package metrics provides Prometheus metrics for the archive parser.
//
// Every method is safe on a nil *Metrics, so components take an optional
// *Metrics and never check it.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for one pool.
type Metrics struct {
	registry *prometheus.Registry

	// Game metrics
	GamesAccepted  *prometheus.CounterVec
	GamesRejected  *prometheus.CounterVec
	GamesMalformed prometheus.Counter
	GamesTruncated prometheus.Counter

	// Input metrics
	BytesRead prometheus.Counter

	// File metrics
	FilesCompleted prometheus.Counter
	FilesFailed    prometheus.Counter
	FilesActive    prometheus.Gauge
	FilesQueued    prometheus.Gauge
	FileDuration   prometheus.Histogram

	// Output metrics
	RowsWritten   *prometheus.CounterVec
	FlushDuration prometheus.Histogram
}

// New creates the metrics on a fresh registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "pgnzst"
	}
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		GamesAccepted: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "games_accepted_total",
				Help:      "Games written to an output bucket",
			},
			[]string{"bucket"},
		),
		GamesRejected: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "games_rejected_total",
				Help:      "Games dropped by the filter, by reason",
			},
			[]string{"reason"},
		),
		GamesMalformed: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "games_malformed_total",
				Help:      "Records without a recognizable result",
			},
		),
		GamesTruncated: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "games_truncated_total",
				Help:      "Incomplete records dropped at end of stream",
			},
		),
		BytesRead: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "compressed_bytes_read_total",
				Help:      "Compressed archive bytes consumed",
			},
		),
		FilesCompleted: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "files_completed_total",
				Help:      "Archives processed successfully",
			},
		),
		FilesFailed: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "files_failed_total",
				Help:      "Archives that failed",
			},
		),
		FilesActive: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "files_active",
				Help:      "Archives currently being processed",
			},
		),
		FilesQueued: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "files_queued",
				Help:      "Archives waiting for a free slot",
			},
		),
		FileDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "file_duration_seconds",
				Help:      "Time to process one archive",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 16), // 0.1s to ~55m
			},
		),
		RowsWritten: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rows_written_total",
				Help:      "Rows flushed to parquet files",
			},
			[]string{"bucket"},
		),
		FlushDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "flush_duration_seconds",
				Help:      "Time to write one row group",
				Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms to ~4s
			},
		),
	}
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// AddAccepted adds accepted games for a bucket label.
func (m *Metrics) AddAccepted(bucket string, n int64) {
	if m == nil || n == 0 {
		return
	}
	m.GamesAccepted.WithLabelValues(bucket).Add(float64(n))
}

// AddRejected adds rejected games for a reason.
func (m *Metrics) AddRejected(reason string, n int64) {
	if m == nil || n == 0 {
		return
	}
	m.GamesRejected.WithLabelValues(reason).Add(float64(n))
}

// AddMalformed adds malformed records.
func (m *Metrics) AddMalformed(n int64) {
	if m == nil || n == 0 {
		return
	}
	m.GamesMalformed.Add(float64(n))
}

// AddTruncated adds truncated records.
func (m *Metrics) AddTruncated(n int64) {
	if m == nil || n == 0 {
		return
	}
	m.GamesTruncated.Add(float64(n))
}

// AddBytesRead adds consumed compressed bytes.
func (m *Metrics) AddBytesRead(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.BytesRead.Add(float64(n))
}

// FileStarted moves one archive from queued to active.
func (m *Metrics) FileStarted() {
	if m == nil {
		return
	}
	m.FilesQueued.Dec()
	m.FilesActive.Inc()
}

// FileQueued counts one more waiting archive.
func (m *Metrics) FileQueued() {
	if m == nil {
		return
	}
	m.FilesQueued.Inc()
}

// FileDone records the end of an archive.
func (m *Metrics) FileDone(elapsed time.Duration, failed bool) {
	if m == nil {
		return
	}
	m.FilesActive.Dec()
	m.FileDuration.Observe(elapsed.Seconds())
	if failed {
		m.FilesFailed.Inc()
	} else {
		m.FilesCompleted.Inc()
	}
}

// ObserveFlush records one row group write.
func (m *Metrics) ObserveFlush(bucket string, rows int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.RowsWritten.WithLabelValues(bucket).Add(float64(rows))
	m.FlushDuration.Observe(elapsed.Seconds())
}
