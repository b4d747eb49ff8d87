// Package metrics provides facility client metrics for observability
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// FacilityMetrics contains Prometheus metrics for remote facility operations
type FacilityMetrics struct {
	registry *prometheus.Registry

	// Submission outcome metrics
	submissionsTotal *prometheus.CounterVec

	// Request round trip metrics
	requestDuration    *prometheus.HistogramVec
	requestErrorsTotal *prometheus.CounterVec

	// Rate limiter wait metrics
	rateLimitWait *prometheus.HistogramVec

	// Payload size metrics
	documentSize *prometheus.HistogramVec

	// collectors is a slice of all collectors for easier iteration
	collectors []prometheus.Collector
}

// NewFacilityMetrics creates and registers new facility metrics
func NewFacilityMetrics(registry *prometheus.Registry) (*FacilityMetrics, error) {
	m := &FacilityMetrics{registry: registry}
	if err := m.initMetrics(); err != nil {
		return nil, err
	}
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

// initMetrics initializes all Prometheus metrics
func (m *FacilityMetrics) initMetrics() error {
	m.submissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "facility_submissions_total",
			Help: "Total number of observation requests sent to facilities",
		},
		[]string{"facility", "instrument", "status"}, // status: submitted, rejected, failed, deleted
	)

	m.requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "facility_request_duration_seconds",
			Help:    "Time taken for facility request round trips",
			Buckets: prometheus.ExponentialBuckets(BucketStart10ms, BucketFactor2, BucketCount15), // 10ms to ~5min
		},
		[]string{"facility", "operation"}, // operation: submit, update, delete
	)

	m.requestErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "facility_request_errors_total",
			Help: "Total number of facility request errors",
		},
		[]string{"facility", "operation", "error_type"}, // error_type: network, soap_fault, rejected, encoding
	)

	m.rateLimitWait = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "facility_rate_limit_wait_seconds",
			Help:    "Time spent waiting on the per-facility rate limiter",
			Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount15), // 1ms to ~32s
		},
		[]string{"facility"},
	)

	m.documentSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "facility_document_size_bytes",
			Help:    "Size of facility protocol documents in bytes",
			Buckets: prometheus.ExponentialBuckets(BucketStart100B, BucketFactor2, BucketCount10), // 100B to ~51KB
		},
		[]string{"facility", "direction"}, // direction: request, response
	)

	m.collectors = []prometheus.Collector{
		m.submissionsTotal,
		m.requestDuration,
		m.requestErrorsTotal,
		m.rateLimitWait,
		m.documentSize,
	}

	return nil
}

// Describe implements the Collector interface
func (m *FacilityMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, collector := range m.collectors {
		collector.Describe(ch)
	}
}

// Collect implements the Collector interface
func (m *FacilityMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, collector := range m.collectors {
		collector.Collect(ch)
	}
}

// RecordSubmission records the outcome of an observation request sent to a facility
func (m *FacilityMetrics) RecordSubmission(facility, instrument, status string) {
	m.submissionsTotal.WithLabelValues(facility, instrument, status).Inc()
}

// RecordRequestDuration records the duration of a facility request round trip
func (m *FacilityMetrics) RecordRequestDuration(facility, operation string, duration float64) {
	m.requestDuration.WithLabelValues(facility, operation).Observe(duration)
}

// RecordRequestError records a facility request error
func (m *FacilityMetrics) RecordRequestError(facility, operation, errorType string) {
	m.requestErrorsTotal.WithLabelValues(facility, operation, errorType).Inc()
}

// RecordRateLimitWait records time spent waiting on the facility rate limiter
func (m *FacilityMetrics) RecordRateLimitWait(facility string, waitSeconds float64) {
	m.rateLimitWait.WithLabelValues(facility).Observe(waitSeconds)
}

// RecordDocumentSize records the size of a facility protocol document
func (m *FacilityMetrics) RecordDocumentSize(facility, direction string, sizeBytes int) {
	m.documentSize.WithLabelValues(facility, direction).Observe(float64(sizeBytes))
}

// StartRequestTimer starts a timer for measuring a facility request round trip.
// It returns a RequestTimer that should be used to record the duration.
func (m *FacilityMetrics) StartRequestTimer() *RequestTimer {
	return &RequestTimer{
		startTime: time.Now(),
		metrics:   m,
	}
}

// RequestTimer is a helper struct for measuring facility request latency.
type RequestTimer struct {
	startTime time.Time
	metrics   *FacilityMetrics
}

// ObserveDuration stops the timer and records the duration.
func (rt *RequestTimer) ObserveDuration(facility, operation string) {
	duration := time.Since(rt.startTime).Seconds()
	rt.metrics.RecordRequestDuration(facility, operation, duration)
}
