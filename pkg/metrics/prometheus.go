// Package metrics provides Prometheus metrics for the gridwatch tracker daemon.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// defaultRefreshInterval is how often gauge metrics are expected to refresh.
const defaultRefreshInterval = 10 * time.Second

// Manager manages all Prometheus metrics for the tracker.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          bool
	refreshInterval  time.Duration
	registry         prometheus.Registerer

	// Harvest metrics
	pagesFetched     *prometheus.CounterVec
	pagesFailed      *prometheus.CounterVec
	pageRetries      *prometheus.CounterVec
	recordsHarvested *prometheus.CounterVec
	harvestDuration  *prometheus.HistogramVec
	harvestsPartial  *prometheus.CounterVec

	// Store metrics
	batchesCommitted *prometheus.CounterVec
	buildDuration    *prometheus.HistogramVec
	storeRows        *prometheus.GaugeVec
	queryLatency     prometheus.Histogram

	// Generation metrics
	generationRotations prometheus.Counter
	storeUploads        prometheus.Counter
	storeUploadErrors   prometheus.Counter
	storeDownloads      prometheus.Counter
	storeDownloadErrors prometheus.Counter

	// Queue metrics
	queueSize          prometheus.Gauge
	queueCapacity      prometheus.Gauge
	queueUtilization   prometheus.Gauge
	queueEnqueueRate   prometheus.Counter
	queueDequeueRate   prometheus.Counter
	queueEnqueueErrors prometheus.Counter

	// HTTP metrics
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Error tracking
	errorRateByComponent *prometheus.CounterVec
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "gridwatch",
		subsystem:        "tracker",
		histogramBuckets: prometheus.DefBuckets,
		enabled:          true,
		refreshInterval:  defaultRefreshInterval,
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

// Handler returns an HTTP handler serving the custom registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(customRegistry, promhttp.HandlerOpts{})
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() {
	auto := promauto.With(m.registry)

	m.pagesFetched = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "pages_fetched_total",
		Help:      "Total number of ranking pages fetched successfully",
	}, []string{"category"})

	m.pagesFailed = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "pages_failed_total",
		Help:      "Total number of ranking pages abandoned after all retries",
	}, []string{"category"})

	m.pageRetries = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "page_retries_total",
		Help:      "Total number of page fetch retries",
	}, []string{"category"})

	m.recordsHarvested = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "records_harvested_total",
		Help:      "Total number of leaderboard records harvested",
	}, []string{"category"})

	m.harvestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "harvest_duration_seconds",
		Help:      "Duration of a full category harvest pass in seconds",
		Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1080},
	}, []string{"category"})

	m.harvestsPartial = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "harvests_partial_total",
		Help:      "Total number of harvest passes that produced partial results",
	}, []string{"category"})

	m.batchesCommitted = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "store_batches_committed_total",
		Help:      "Total number of store transaction batches committed",
	}, []string{"category"})

	m.buildDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "store_build_duration_seconds",
		Help:      "Duration of a store build pass in seconds",
		Buckets:   []float64{0.5, 1, 5, 15, 30, 60, 120, 300},
	}, []string{"category"})

	m.storeRows = auto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "store_rows",
		Help:      "Number of rows held per category table in the current generation",
	}, []string{"category"})

	m.queryLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "query_latency_milliseconds",
		Help:      "Histogram of store query latency in milliseconds",
		Buckets:   m.histogramBuckets,
	})

	m.generationRotations = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "generation_rotations_total",
		Help:      "Total number of generation rotations on event change",
	})

	m.storeUploads = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "store_uploads_total",
		Help:      "Total number of successful generation file uploads",
	})

	m.storeUploadErrors = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "store_upload_errors_total",
		Help:      "Total number of failed generation file uploads",
	})

	m.storeDownloads = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "store_downloads_total",
		Help:      "Total number of successful generation file downloads",
	})

	m.storeDownloadErrors = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "store_download_errors_total",
		Help:      "Total number of failed generation file downloads",
	})

	m.queueSize = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "queue_size",
		Help:      "Current size of the record queue (backlog indicator)",
	})

	m.queueCapacity = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "queue_capacity",
		Help:      "Configured capacity of the record queue",
	})

	m.queueUtilization = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "queue_utilization",
		Help:      "Record queue utilization ratio (0.0 to 1.0)",
	})

	m.queueEnqueueRate = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "queue_enqueue_total",
		Help:      "Total number of records enqueued",
	})

	m.queueDequeueRate = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "queue_dequeue_total",
		Help:      "Total number of records dequeued",
	})

	m.queueEnqueueErrors = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "queue_enqueue_errors_total",
		Help:      "Total number of failed enqueue attempts",
	})

	m.httpRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests by endpoint and method",
	}, []string{"endpoint", "method", "status_code"})

	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "http_request_duration_milliseconds",
		Help:      "HTTP request duration in milliseconds",
		Buckets:   m.histogramBuckets,
	}, []string{"endpoint", "method", "status_code"})

	m.errorRateByComponent = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "errors_by_component_total",
		Help:      "Total errors by component and error type",
	}, []string{"component", "error_type"})
}

// Package-level helpers delegating to the global manager.

func RecordPageFetched(category string) {
	globalManager.pagesFetched.WithLabelValues(category).Inc()
}

func RecordPageFailed(category string) {
	globalManager.pagesFailed.WithLabelValues(category).Inc()
}

func RecordPageRetry(category string) {
	globalManager.pageRetries.WithLabelValues(category).Inc()
}

func RecordRecordsHarvested(category string, n int) {
	globalManager.recordsHarvested.WithLabelValues(category).Add(float64(n))
}

func RecordHarvestDuration(category string, seconds float64) {
	globalManager.harvestDuration.WithLabelValues(category).Observe(seconds)
}

func RecordHarvestPartial(category string) {
	globalManager.harvestsPartial.WithLabelValues(category).Inc()
}

func RecordBatchCommitted(category string) {
	globalManager.batchesCommitted.WithLabelValues(category).Inc()
}

func RecordBuildDuration(category string, seconds float64) {
	globalManager.buildDuration.WithLabelValues(category).Observe(seconds)
}

func UpdateStoreRows(category string, rows int) {
	globalManager.storeRows.WithLabelValues(category).Set(float64(rows))
}

func RecordQueryLatency(latencyMs float64) {
	globalManager.queryLatency.Observe(latencyMs)
}

func RecordGenerationRotation() {
	globalManager.generationRotations.Inc()
}

func RecordStoreUpload() {
	globalManager.storeUploads.Inc()
}

func RecordStoreUploadError() {
	globalManager.storeUploadErrors.Inc()
}

func RecordStoreDownload() {
	globalManager.storeDownloads.Inc()
}

func RecordStoreDownloadError() {
	globalManager.storeDownloadErrors.Inc()
}

func UpdateQueueSize(size int) {
	globalManager.queueSize.Set(float64(size))
}

func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
}

func UpdateQueueUtilization(utilization float64) {
	globalManager.queueUtilization.Set(utilization)
}

func RecordQueueEnqueue() {
	globalManager.queueEnqueueRate.Inc()
}

func RecordQueueDequeue() {
	globalManager.queueDequeueRate.Inc()
}

func RecordQueueEnqueueError() {
	globalManager.queueEnqueueErrors.Inc()
}

func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

func RecordHTTPRequestDuration(endpoint, method, statusCode string, durationMs float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(durationMs)
}

func RecordErrorByComponent(component, errorType string) {
	globalManager.errorRateByComponent.WithLabelValues(component, errorType).Inc()
}
