package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the server engine.
type Metrics struct {
	// Request metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration prometheus.Histogram
	RequestsDropped prometheus.Counter
	JobQueueDepth   prometheus.Gauge

	// Chunk metrics
	ChunksPublishedTotal prometheus.Counter
	BytesPublishedTotal  prometheus.Counter

	// Store metrics
	StoredFiles       prometheus.Gauge
	StoredBytes       prometheus.Gauge
	ExpiredSweptTotal prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blobdvm_requests_total",
				Help: "Protocol requests handled",
			},
			[]string{"action", "status"},
		),

		RequestDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "blobdvm_request_duration_seconds",
				Help:    "Request handling time distribution",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
		),

		RequestsDropped: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "blobdvm_requests_dropped_total",
				Help: "Requests shed because the job queue was full",
			},
		),

		JobQueueDepth: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "blobdvm_job_queue_depth",
				Help: "Requests waiting in the job queue",
			},
		),

		ChunksPublishedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "blobdvm_chunks_published_total",
				Help: "Chunk events published to relays",
			},
		),

		BytesPublishedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "blobdvm_bytes_published_total",
				Help: "Chunk payload bytes published to relays",
			},
		),

		StoredFiles: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "blobdvm_stored_files",
				Help: "Files currently in the content store",
			},
		),

		StoredBytes: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "blobdvm_stored_bytes",
				Help: "Live bytes currently in the content store",
			},
		),

		ExpiredSweptTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "blobdvm_expired_swept_total",
				Help: "Records evicted by the TTL sweeper",
			},
		),
	}
}

// RecordRequest records a handled request and its outcome.
func (m *Metrics) RecordRequest(action, status string, durationSeconds float64) {
	m.RequestsTotal.WithLabelValues(action, status).Inc()
	m.RequestDuration.Observe(durationSeconds)
}

// RecordChunkPublished updates counters for one published chunk event.
func (m *Metrics) RecordChunkPublished(bytes int) {
	m.ChunksPublishedTotal.Inc()
	m.BytesPublishedTotal.Add(float64(bytes))
}

// RecordStoreState updates the store gauges after a mutation or sweep.
func (m *Metrics) RecordStoreState(files int, bytes int64) {
	m.StoredFiles.Set(float64(files))
	m.StoredBytes.Set(float64(bytes))
}

// Handler exposes the Prometheus metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}
