// Package metrics provides Prometheus metrics for the composite scoring engine.
package metrics

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Default metrics configuration constants.
const (
	defaultRefreshInterval = 10 * time.Second
)

// compositeBuckets covers the 0-100 composite range in grade-sized steps.
var compositeBuckets = []float64{10, 20, 30, 40, 55, 70, 85, 95, 100} //nolint:gochecknoglobals // fixed bucket layout

// Manager owns every Prometheus collector used by the engine.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          atomic.Bool
	refreshInterval  atomic.Int64 // nanoseconds
	customLabels     map[string]string
	metricPrefix     string
	registry         prometheus.Registerer

	// Scoring
	ingests           *prometheus.CounterVec
	recomputes        *prometheus.CounterVec
	compositeScore    prometheus.Histogram
	recomputeLatency  prometheus.Histogram
	malformedSnapshot prometheus.Counter
	settingsReloads   *prometheus.CounterVec
	totalApplicants   prometheus.Gauge

	// Coordination
	lockWaitLatency prometheus.Histogram
	lockTimeouts    prometheus.Counter

	// Persistence
	persistErrors   *prometheus.CounterVec
	historyAppends  prometheus.Counter
	persistLatency  prometheus.Histogram
	eventsDuplicate prometheus.Counter

	// Queue
	queueSize          prometheus.Gauge
	queueCapacity      prometheus.Gauge
	queueUtilization   prometheus.Gauge
	queueEnqueueRate   prometheus.Counter
	queueDequeueRate   prometheus.Counter
	queueEnqueueErrors *prometheus.CounterVec

	// Workers
	workerActiveCount       prometheus.Gauge
	workerProcessingLatency prometheus.Histogram
	workerErrors            prometheus.Counter
	workerRetries           prometheus.Counter

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	errorRateByEndpoint *prometheus.CounterVec

	// Errors
	errorRateByComponent *prometheus.CounterVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "composite",
		subsystem:        "engine",
		histogramBuckets: prometheus.DefBuckets,
		customLabels:     make(map[string]string),
		registry:         prometheus.DefaultRegisterer,
	}
	m.enabled.Store(true)
	m.refreshInterval.Store(int64(defaultRefreshInterval))
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) name(n string) string {
	if m.metricPrefix == "" {
		return n
	}
	return m.metricPrefix + "_" + n
}

func (m *Manager) counterOpts(n, help string) prometheus.CounterOpts {
	return prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(n), Help: help, ConstLabels: m.customLabels,
	}
}

func (m *Manager) gaugeOpts(n, help string) prometheus.GaugeOpts {
	return prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(n), Help: help, ConstLabels: m.customLabels,
	}
}

func (m *Manager) histogramOpts(n, help string, buckets []float64) prometheus.HistogramOpts {
	return prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(n), Help: help, ConstLabels: m.customLabels, Buckets: buckets,
	}
}

func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every collector
	auto := promauto.With(m.registry)

	m.ingests = auto.NewCounterVec(m.counterOpts("ingests_total", "Component payloads ingested, by component key"), []string{"component"})
	m.recomputes = auto.NewCounterVec(m.counterOpts("recomputes_total", "Composite recomputations, by resulting status and trigger"), []string{"status", "trigger"})
	m.compositeScore = auto.NewHistogram(m.histogramOpts("composite_score", "Distribution of computed composite scores", compositeBuckets))
	m.recomputeLatency = auto.NewHistogram(m.histogramOpts("recompute_latency_milliseconds", "Merge, compute and persist latency in milliseconds", m.histogramBuckets))
	m.malformedSnapshot = auto.NewCounter(m.counterOpts("malformed_snapshots_total", "Stored snapshots that failed to parse and were replaced by an empty snapshot"))
	m.settingsReloads = auto.NewCounterVec(m.counterOpts("settings_reloads_total", "Weight and band settings reloads, by outcome"), []string{"outcome"})
	m.totalApplicants = auto.NewGauge(m.gaugeOpts("applicants_total", "Applicants with a current composite record"))

	m.lockWaitLatency = auto.NewHistogram(m.histogramOpts("lock_wait_milliseconds", "Time spent waiting for a per-applicant lock", m.histogramBuckets))
	m.lockTimeouts = auto.NewCounter(m.counterOpts("lock_timeouts_total", "Per-applicant lock acquisitions that timed out"))

	m.persistErrors = auto.NewCounterVec(m.counterOpts("persist_errors_total", "Repository write failures, by stage"), []string{"stage"})
	m.historyAppends = auto.NewCounter(m.counterOpts("history_appends_total", "History entries appended"))
	m.persistLatency = auto.NewHistogram(m.histogramOpts("persist_latency_milliseconds", "Record upsert plus history append latency", m.histogramBuckets))
	m.eventsDuplicate = auto.NewCounter(m.counterOpts("events_duplicate_total", "Async ingest events dropped as duplicates"))

	m.queueSize = auto.NewGauge(m.gaugeOpts("queue_size", "Current size of the ingest queue"))
	m.queueCapacity = auto.NewGauge(m.gaugeOpts("queue_capacity", "Maximum ingest queue capacity"))
	m.queueUtilization = auto.NewGauge(m.gaugeOpts("queue_utilization_ratio", "Ingest queue utilization (size / capacity)"))
	m.queueEnqueueRate = auto.NewCounter(m.counterOpts("queue_enqueue_total", "Events enqueued"))
	m.queueDequeueRate = auto.NewCounter(m.counterOpts("queue_dequeue_total", "Events dequeued"))
	m.queueEnqueueErrors = auto.NewCounterVec(m.counterOpts("queue_enqueue_errors_total", "Enqueue rejections, by reason"), []string{"reason"})

	m.workerActiveCount = auto.NewGauge(m.gaugeOpts("worker_active_count", "Number of running ingest workers"))
	m.workerProcessingLatency = auto.NewHistogram(m.histogramOpts("worker_processing_latency_milliseconds", "Per-event worker processing latency", m.histogramBuckets))
	m.workerErrors = auto.NewCounter(m.counterOpts("worker_errors_total", "Events a worker gave up on"))
	m.workerRetries = auto.NewCounter(m.counterOpts("worker_retries_total", "Retries of retriable ingest failures"))

	m.httpRequests = auto.NewCounterVec(m.counterOpts("http_requests_total", "HTTP requests by endpoint, method and status"), []string{"endpoint", "method", "status_code"})
	m.httpRequestDuration = auto.NewHistogramVec(m.histogramOpts("http_request_duration_milliseconds", "HTTP request duration in milliseconds", m.histogramBuckets), []string{"endpoint", "method", "status_code"})
	m.errorRateByEndpoint = auto.NewCounterVec(m.counterOpts("errors_by_endpoint_total", "HTTP errors by endpoint"), []string{"endpoint", "method", "error_type"})

	m.errorRateByComponent = auto.NewCounterVec(m.counterOpts("errors_by_component_total", "Errors by internal component"), []string{"component", "error_type"})

	m.systemMemoryUsage = auto.NewGauge(m.gaugeOpts("system_memory_usage_bytes", "Heap bytes allocated"))
	m.systemGoroutineCount = auto.NewGauge(m.gaugeOpts("system_goroutine_count", "Number of goroutines"))
	m.systemGCPauseTime = auto.NewHistogram(m.histogramOpts("system_gc_pause_time_milliseconds", "Average GC pause in milliseconds",
		[]float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000}))
}

// Scoring.

// RecordIngest counts a component payload accepted for merging.
func RecordIngest(component string) {
	if !globalManager.enabled.Load() {
		return
	}
	globalManager.ingests.WithLabelValues(component).Inc()
}

// RecordRecompute counts a recomputation and observes its composite.
func RecordRecompute(status, trigger string, composite float64) {
	if !globalManager.enabled.Load() {
		return
	}
	globalManager.recomputes.WithLabelValues(status, trigger).Inc()
	globalManager.compositeScore.Observe(composite)
}

// RecordRecomputeLatency records merge+compute+persist latency.
func RecordRecomputeLatency(latencyMs float64) {
	if !globalManager.enabled.Load() {
		return
	}
	globalManager.recomputeLatency.Observe(latencyMs)
}

// RecordMalformedSnapshot counts a stored snapshot that could not be parsed.
func RecordMalformedSnapshot() {
	if !globalManager.enabled.Load() {
		return
	}
	globalManager.malformedSnapshot.Inc()
}

// RecordSettingsReload counts a settings reload attempt.
func RecordSettingsReload(outcome string) {
	if !globalManager.enabled.Load() {
		return
	}
	globalManager.settingsReloads.WithLabelValues(outcome).Inc()
}

// UpdateTotalApplicants sets the number of applicants with a record.
func UpdateTotalApplicants(count int) {
	if !globalManager.enabled.Load() {
		return
	}
	globalManager.totalApplicants.Set(float64(count))
}

// Coordination.

// RecordLockWait records how long a caller waited for an applicant lock.
func RecordLockWait(latencyMs float64) {
	if !globalManager.enabled.Load() {
		return
	}
	globalManager.lockWaitLatency.Observe(latencyMs)
}

// RecordLockTimeout counts a lock acquisition that ran out of time.
func RecordLockTimeout() {
	if !globalManager.enabled.Load() {
		return
	}
	globalManager.lockTimeouts.Inc()
}

// Persistence.

// RecordPersistError counts a repository write failure at the given stage.
func RecordPersistError(stage string) {
	if !globalManager.enabled.Load() {
		return
	}
	globalManager.persistErrors.WithLabelValues(stage).Inc()
}

// RecordHistoryAppend counts an appended history entry.
func RecordHistoryAppend() {
	if !globalManager.enabled.Load() {
		return
	}
	globalManager.historyAppends.Inc()
}

// RecordPersistLatency records the latency of one persist call.
func RecordPersistLatency(latencyMs float64) {
	if !globalManager.enabled.Load() {
		return
	}
	globalManager.persistLatency.Observe(latencyMs)
}

// RecordEventDuplicate counts a duplicate async event.
func RecordEventDuplicate() {
	if !globalManager.enabled.Load() {
		return
	}
	globalManager.eventsDuplicate.Inc()
}

// Queue.

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) {
	if !globalManager.enabled.Load() {
		return
	}
	globalManager.queueSize.Set(float64(size))
}

// UpdateQueueCapacity sets the maximum queue capacity.
func UpdateQueueCapacity(capacity int) {
	if !globalManager.enabled.Load() {
		return
	}
	globalManager.queueCapacity.Set(float64(capacity))
}

// UpdateQueueUtilization sets the queue utilization ratio.
func UpdateQueueUtilization(utilization float64) {
	if !globalManager.enabled.Load() {
		return
	}
	globalManager.queueUtilization.Set(utilization)
}

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() {
	if !globalManager.enabled.Load() {
		return
	}
	globalManager.queueEnqueueRate.Inc()
}

// RecordQueueDequeue increments the dequeue counter.
func RecordQueueDequeue() {
	if !globalManager.enabled.Load() {
		return
	}
	globalManager.queueDequeueRate.Inc()
}

// RecordQueueEnqueueError counts a rejected enqueue.
func RecordQueueEnqueueError(reason string) {
	if !globalManager.enabled.Load() {
		return
	}
	globalManager.queueEnqueueErrors.WithLabelValues(reason).Inc()
}

// Workers.

// UpdateWorkerActiveCount sets the number of running workers.
func UpdateWorkerActiveCount(count int) {
	if !globalManager.enabled.Load() {
		return
	}
	globalManager.workerActiveCount.Set(float64(count))
}

// RecordWorkerProcessingLatency records worker processing latency.
func RecordWorkerProcessingLatency(latencyMs float64) {
	if !globalManager.enabled.Load() {
		return
	}
	globalManager.workerProcessingLatency.Observe(latencyMs)
}

// RecordWorkerError counts an event a worker gave up on.
func RecordWorkerError() {
	if !globalManager.enabled.Load() {
		return
	}
	globalManager.workerErrors.Inc()
}

// RecordWorkerRetry counts a retry.
func RecordWorkerRetry() {
	if !globalManager.enabled.Load() {
		return
	}
	globalManager.workerRetries.Inc()
}

// HTTP.

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	if !globalManager.enabled.Load() {
		return
	}
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	if !globalManager.enabled.Load() {
		return
	}
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordErrorByEndpoint records an HTTP error.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	if !globalManager.enabled.Load() {
		return
	}
	globalManager.errorRateByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	if !globalManager.enabled.Load() {
		return
	}
	globalManager.errorRateByComponent.WithLabelValues(component, errorType).Inc()
}

// System.

// UpdateSystemMemoryUsage sets the heap usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	if !globalManager.enabled.Load() {
		return
	}
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) {
	if !globalManager.enabled.Load() {
		return
	}
	globalManager.systemGoroutineCount.Set(float64(count))
}

// RecordSystemGCPauseTime records GC pause time in milliseconds.
func RecordSystemGCPauseTime(pauseMs float64) {
	if !globalManager.enabled.Load() {
		return
	}
	globalManager.systemGCPauseTime.Observe(pauseMs)
}

// Enabled reports whether the global manager records anything.
func Enabled() bool {
	return globalManager.enabled.Load()
}

// SetEnabled turns recording through the package functions on or off.
// Collectors stay registered; they just stop changing.
func SetEnabled(enabled bool) {
	globalManager.enabled.Store(enabled)
}

// RefreshInterval is how often periodically sampled gauges (system and
// service stats) should be refreshed.
func RefreshInterval() time.Duration {
	return time.Duration(globalManager.refreshInterval.Load())
}

// SetRefreshInterval changes RefreshInterval. Non-positive values are ignored.
func SetRefreshInterval(interval time.Duration) {
	if interval > 0 {
		globalManager.refreshInterval.Store(int64(interval))
	}
}

// Enabled reports whether m records anything.
func (m *Manager) Enabled() bool {
	return m.enabled.Load()
}

// RefreshInterval returns the sampling interval configured for m.
func (m *Manager) RefreshInterval() time.Duration {
	return time.Duration(m.refreshInterval.Load())
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
