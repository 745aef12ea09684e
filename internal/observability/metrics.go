// Package observability carries docflow's logging, metrics, tracing and
// health endpoints.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Histogram bucket definitions.
var (
	httpDurationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	bulkSizeBuckets     = []float64{1, 5, 10, 25, 50, 100, 250, 500}
	bodySizeBuckets     = []float64{100, 1024, 10240, 102400, 1048576}
)

// Metrics holds all Prometheus metric instruments for the service. It
// satisfies the recorder interfaces of the workflow, bulk, and definition
// packages.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	HTTPRequestSizeBytes  *prometheus.HistogramVec
	HTTPResponseSizeBytes *prometheus.HistogramVec

	// Workflow metrics
	TransitionsTotal     *prometheus.CounterVec
	ConditionErrorsTotal *prometheus.CounterVec

	// Cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Bulk metrics
	BulkItemsTotal *prometheus.CounterVec
	BulkBatchSize  prometheus.Histogram

	// System metrics
	DefinitionReloadTotal *prometheus.CounterVec
	DefinitionsLoaded     prometheus.Gauge
}

// InitMetrics creates and registers all metrics with the given registerer.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docflow_http_requests_total",
			Help: "Total HTTP requests handled.",
		}, []string{"method", "path_pattern", "status_code"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "docflow_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPRequestSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "docflow_http_request_size_bytes",
			Help:    "HTTP request body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPResponseSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "docflow_http_response_size_bytes",
			Help:    "HTTP response body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),

		TransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docflow_workflow_transitions_total",
			Help: "Workflow actions applied, by outcome.",
		}, []string{"workflow", "action", "outcome"}),
		ConditionErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docflow_condition_errors_total",
			Help: "Transition or assignment conditions that failed to evaluate.",
		}, []string{"workflow"}),

		CacheHitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docflow_cache_hits_total",
			Help: "Workflow cache hits.",
		}, []string{"namespace"}),
		CacheMissesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docflow_cache_misses_total",
			Help: "Workflow cache misses.",
		}, []string{"namespace"}),

		BulkItemsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docflow_bulk_items_total",
			Help: "Documents processed by bulk actions, by outcome.",
		}, []string{"outcome"}),
		BulkBatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "docflow_bulk_batch_size",
			Help:    "Documents requested per bulk action.",
			Buckets: bulkSizeBuckets,
		}),

		DefinitionReloadTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docflow_definition_reload_total",
			Help: "Definition reloads, by outcome.",
		}, []string{"status"}),
		DefinitionsLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "docflow_definitions_loaded",
			Help: "Workflow definitions currently loaded.",
		}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestSizeBytes,
		m.HTTPResponseSizeBytes,
		m.TransitionsTotal,
		m.ConditionErrorsTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.BulkItemsTotal,
		m.BulkBatchSize,
		m.DefinitionReloadTotal,
		m.DefinitionsLoaded,
	)

	return m
}

// RecordHTTPRequest records an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, pathPattern string, status int, duration time.Duration, reqSize, respSize int) {
	code := strconv.Itoa(status)
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, code).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(duration.Seconds())
	m.HTTPRequestSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(reqSize))
	m.HTTPResponseSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(respSize))
}

// RecordTransition records an applied workflow action.
func (m *Metrics) RecordTransition(workflow, action, outcome string) {
	m.TransitionsTotal.WithLabelValues(workflow, action, outcome).Inc()
}

// RecordConditionError records a condition that failed to evaluate.
func (m *Metrics) RecordConditionError(workflow string) {
	m.ConditionErrorsTotal.WithLabelValues(workflow).Inc()
}

// RecordCacheLookup records a cache hit or miss in the given namespace.
func (m *Metrics) RecordCacheLookup(namespace string, hit bool) {
	if hit {
		m.CacheHitsTotal.WithLabelValues(namespace).Inc()
		return
	}
	m.CacheMissesTotal.WithLabelValues(namespace).Inc()
}

// RecordBulkItem records one processed bulk document.
func (m *Metrics) RecordBulkItem(outcome string) {
	m.BulkItemsTotal.WithLabelValues(outcome).Inc()
}

// RecordBulkBatch records the size of a bulk request.
func (m *Metrics) RecordBulkBatch(size int) {
	m.BulkBatchSize.Observe(float64(size))
}

// RecordDefinitionReload records a definition reload.
func (m *Metrics) RecordDefinitionReload(status string) {
	m.DefinitionReloadTotal.WithLabelValues(status).Inc()
}

// SetDefinitionsLoaded sets the number of loaded definitions.
func (m *Metrics) SetDefinitionsLoaded(count float64) {
	m.DefinitionsLoaded.Set(count)
}

// MetricsMiddleware records request counts, latency and sizes labelled by
// route pattern rather than path so document names stay out of label values.
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := NewResponseRecorder(w)
		next.ServeHTTP(rec, r)

		m.RecordHTTPRequest(r.Method, RoutePattern(r), rec.Status, time.Since(start), int(max(r.ContentLength, 0)), rec.Bytes)
	})
}

// Handler serves g in the Prometheus exposition format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
