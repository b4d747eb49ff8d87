// Package metrics provides archive transfer metrics for observability
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// ArchiveMetrics contains Prometheus metrics for analysis archive transfers
type ArchiveMetrics struct {
	registry *prometheus.Registry

	// Upload metrics
	uploadsTotal   *prometheus.CounterVec
	uploadDuration *prometheus.HistogramVec
	uploadSize     *prometheus.HistogramVec

	// Path validation metrics
	validationFailuresTotal *prometheus.CounterVec

	// collectors is a slice of all collectors for easier iteration
	collectors []prometheus.Collector
}

// NewArchiveMetrics creates and registers new archive metrics
func NewArchiveMetrics(registry *prometheus.Registry) (*ArchiveMetrics, error) {
	m := &ArchiveMetrics{registry: registry}
	if err := m.initMetrics(); err != nil {
		return nil, err
	}
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

// initMetrics initializes all Prometheus metrics
func (m *ArchiveMetrics) initMetrics() error {
	m.uploadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "archive_uploads_total",
			Help: "Total number of archive upload operations",
		},
		[]string{"target", "status"}, // target: local, ftp, sftp; status: success, error
	)

	m.uploadDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "archive_upload_duration_seconds",
			Help:    "Time taken for archive uploads",
			Buckets: prometheus.ExponentialBuckets(BucketStart100ms, BucketFactor2, BucketCount15), // 100ms to ~54min
		},
		[]string{"target"},
	)

	m.uploadSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "archive_upload_size_bytes",
			Help:    "Size of uploaded archive files in bytes",
			Buckets: prometheus.ExponentialBuckets(BucketStart1KB, BucketFactor10, BucketCount6), // 1KB to ~1GB
		},
		[]string{"target"},
	)

	m.validationFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "archive_validation_failures_total",
			Help: "Total number of archive path validation failures",
		},
		[]string{"reason"}, // reason: path_too_long, invalid_path_element, missing_product
	)

	m.collectors = []prometheus.Collector{
		m.uploadsTotal,
		m.uploadDuration,
		m.uploadSize,
		m.validationFailuresTotal,
	}

	return nil
}

// Describe implements the Collector interface
func (m *ArchiveMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, collector := range m.collectors {
		collector.Describe(ch)
	}
}

// Collect implements the Collector interface
func (m *ArchiveMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, collector := range m.collectors {
		collector.Collect(ch)
	}
}

// RecordUpload records an archive upload operation
func (m *ArchiveMetrics) RecordUpload(target, status string) {
	m.uploadsTotal.WithLabelValues(target, status).Inc()
}

// RecordUploadDuration records the duration of an archive upload
func (m *ArchiveMetrics) RecordUploadDuration(target string, duration float64) {
	m.uploadDuration.WithLabelValues(target).Observe(duration)
}

// RecordUploadSize records the size of an uploaded archive file
func (m *ArchiveMetrics) RecordUploadSize(target string, sizeBytes int64) {
	m.uploadSize.WithLabelValues(target).Observe(float64(sizeBytes))
}

// RecordValidationFailure records an archive path validation failure
func (m *ArchiveMetrics) RecordValidationFailure(reason string) {
	m.validationFailuresTotal.WithLabelValues(reason).Inc()
}
