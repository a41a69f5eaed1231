// Package metrics provides Prometheus metrics for the album service
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the service
type Metrics struct {
	// HTTP request metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Query metrics
	QueriesTotal       *prometheus.CounterVec
	QueryDuration      *prometheus.HistogramVec
	QueryResultRows    prometheus.Histogram
	SessionRecords     prometheus.Gauge
	ScanFilesProcessed prometheus.Counter

	// Album metrics
	AlbumsCreatedTotal prometheus.Counter
	AlbumsDeletedTotal prometheus.Counter
	FilesMaterialized  prometheus.Counter
	FilesSkipped       prometheus.Counter
	MirrorUploadsTotal *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New creates and registers all metrics on reg. A nil reg uses a fresh
// registry, which keeps tests independent of the global one.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	m := &Metrics{gatherer: reg}

	m.HTTPRequestsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dicomalbum_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)

	m.HTTPRequestDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dicomalbum_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	m.QueriesTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dicomalbum_queries_total",
			Help: "Total number of metadata queries",
		},
		[]string{"kind", "status"},
	)

	m.QueryDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dicomalbum_query_duration_seconds",
			Help:    "Duration of query evaluation in seconds",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"kind"},
	)

	m.QueryResultRows = f.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dicomalbum_query_result_rows",
			Help:    "Rows matched per query",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		},
	)

	m.SessionRecords = f.NewGauge(
		prometheus.GaugeOpts{
			Name: "dicomalbum_session_records",
			Help: "Records in the current metadata table",
		},
	)

	m.ScanFilesProcessed = f.NewCounter(
		prometheus.CounterOpts{
			Name: "dicomalbum_scan_files_total",
			Help: "Files successfully extracted by scans and uploads",
		},
	)

	m.AlbumsCreatedTotal = f.NewCounter(
		prometheus.CounterOpts{
			Name: "dicomalbum_albums_created_total",
			Help: "Total number of albums created",
		},
	)

	m.AlbumsDeletedTotal = f.NewCounter(
		prometheus.CounterOpts{
			Name: "dicomalbum_albums_deleted_total",
			Help: "Total number of albums deleted",
		},
	)

	m.FilesMaterialized = f.NewCounter(
		prometheus.CounterOpts{
			Name: "dicomalbum_files_materialized_total",
			Help: "Files copied into albums",
		},
	)

	m.FilesSkipped = f.NewCounter(
		prometheus.CounterOpts{
			Name: "dicomalbum_files_skipped_total",
			Help: "Selected files skipped during album creation",
		},
	)

	m.MirrorUploadsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dicomalbum_mirror_uploads_total",
			Help: "Album files uploaded to object storage",
		},
		[]string{"status"},
	)

	return m
}

// ObserveQuery records one evaluated query.
func (m *Metrics) ObserveQuery(kind, status string, rows int, d time.Duration) {
	if m == nil {
		return
	}
	m.QueriesTotal.WithLabelValues(kind, status).Inc()
	m.QueryDuration.WithLabelValues(kind).Observe(d.Seconds())
	m.QueryResultRows.Observe(float64(rows))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
