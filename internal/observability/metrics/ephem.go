// Package metrics provides ephemeris service metrics for observability
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// EphemMetrics contains Prometheus metrics for ephemeris calculations
type EphemMetrics struct {
	registry *prometheus.Registry

	// Calculation metrics
	calculationsTotal *prometheus.CounterVec
	errorsTotal       *prometheus.CounterVec
	durationSeconds   *prometheus.HistogramVec

	// Cache metrics
	cacheHitsTotal   *prometheus.CounterVec
	cacheMissesTotal *prometheus.CounterVec

	// collectors is a slice of all collectors for easier iteration
	collectors []prometheus.Collector
}

// NewEphemMetrics creates and registers new ephemeris metrics
func NewEphemMetrics(registry *prometheus.Registry) (*EphemMetrics, error) {
	m := &EphemMetrics{registry: registry}
	if err := m.initMetrics(); err != nil {
		return nil, err
	}
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

// initMetrics initializes all Prometheus metrics
func (m *EphemMetrics) initMetrics() error {
	m.calculationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ephem_calculations_total",
			Help: "Total number of ephemeris calculations",
		},
		[]string{"operation", "status"}, // operation: observing_night, twilight_times; status: success, error
	)

	m.errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ephem_errors_total",
			Help: "Total number of ephemeris calculation errors",
		},
		[]string{"operation", "error_type"},
	)

	m.durationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ephem_duration_seconds",
			Help:    "Time taken for ephemeris calculations",
			Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount10), // 1ms to ~1s
		},
		[]string{"operation"},
	)

	m.cacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ephem_cache_hits_total",
			Help: "Total number of ephemeris cache hits",
		},
		[]string{"operation"},
	)

	m.cacheMissesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ephem_cache_misses_total",
			Help: "Total number of ephemeris cache misses",
		},
		[]string{"operation"},
	)

	m.collectors = []prometheus.Collector{
		m.calculationsTotal,
		m.errorsTotal,
		m.durationSeconds,
		m.cacheHitsTotal,
		m.cacheMissesTotal,
	}

	return nil
}

// Describe implements the Collector interface
func (m *EphemMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, collector := range m.collectors {
		collector.Describe(ch)
	}
}

// Collect implements the Collector interface
func (m *EphemMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, collector := range m.collectors {
		collector.Collect(ch)
	}
}

// RecordCalculation records an ephemeris calculation and its outcome
func (m *EphemMetrics) RecordCalculation(operation, status string) {
	m.calculationsTotal.WithLabelValues(operation, status).Inc()
}

// RecordError records an ephemeris calculation error
func (m *EphemMetrics) RecordError(operation, errorType string) {
	m.errorsTotal.WithLabelValues(operation, errorType).Inc()
}

// RecordDuration records the duration of an ephemeris calculation
func (m *EphemMetrics) RecordDuration(operation string, duration float64) {
	m.durationSeconds.WithLabelValues(operation).Observe(duration)
}

// RecordCacheHit records an ephemeris cache hit
func (m *EphemMetrics) RecordCacheHit(operation string) {
	m.cacheHitsTotal.WithLabelValues(operation).Inc()
}

// RecordCacheMiss records an ephemeris cache miss
func (m *EphemMetrics) RecordCacheMiss(operation string) {
	m.cacheMissesTotal.WithLabelValues(operation).Inc()
}
