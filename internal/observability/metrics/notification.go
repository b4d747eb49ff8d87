// Package metrics provides custom Prometheus metrics for notification operations.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// NotificationMetrics contains all Prometheus metrics related to notification provider operations.
type NotificationMetrics struct {
	// Provider delivery metrics
	ProviderDeliveriesTotal  *prometheus.CounterVec   // Total deliveries by provider, type, status
	ProviderDeliveryDuration *prometheus.HistogramVec // Latency by provider and type
	ProviderDeliveryErrors   *prometheus.CounterVec   // Errors by provider, type, error_category

	// Provider health metrics
	ProviderHealthStatus    *prometheus.GaugeVec // Current health status (1=healthy, 0=unhealthy) by provider
	ProviderLastSuccessTime *prometheus.GaugeVec // Timestamp of last successful delivery by provider

	// Retry metrics
	ProviderRetryAttempts *prometheus.CounterVec // Retry attempts by provider

	// Dispatcher metrics
	NotificationQueueDepth prometheus.Gauge // Notification queue depth

	registry   *prometheus.Registry
	collectors []prometheus.Collector
}

// NewNotificationMetrics creates a new instance of NotificationMetrics.
// It requires a Prometheus registry to register the metrics.
// It returns an error if metric registration fails.
func NewNotificationMetrics(registry *prometheus.Registry) (*NotificationMetrics, error) {
	m := &NotificationMetrics{registry: registry}
	if err := m.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize notification metrics: %w", err)
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register notification metrics: %w", err)
	}
	return m, nil
}

// initMetrics initializes all metrics for NotificationMetrics.
func (m *NotificationMetrics) initMetrics() error {
	// Provider delivery metrics
	m.ProviderDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_provider_deliveries_total",
			Help: "Total number of notification delivery attempts by provider, notification type, and status",
		},
		[]string{"provider", "notification_type", "status"}, // status: success, error, timeout
	)

	m.ProviderDeliveryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notification_provider_delivery_duration_seconds",
			Help:    "Time taken for notification delivery by provider and notification type",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0}, // 10ms to 30s
		},
		[]string{"provider", "notification_type"},
	)

	m.ProviderDeliveryErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_provider_delivery_errors_total",
			Help: "Total number of notification delivery errors by provider, type, and error category",
		},
		[]string{"provider", "notification_type", "error_category"}, // error_category: network, timeout, validation, provider_error
	)

	// Provider health metrics
	m.ProviderHealthStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "notification_provider_health_status",
			Help: "Current health status of notification provider (1=healthy, 0=unhealthy)",
		},
		[]string{"provider"},
	)

	m.ProviderLastSuccessTime = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "notification_provider_last_success_timestamp_seconds",
			Help: "Timestamp of last successful notification delivery by provider",
		},
		[]string{"provider"},
	)

	// Retry metrics
	m.ProviderRetryAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_provider_retry_attempts_total",
			Help: "Total number of retry attempts by provider",
		},
		[]string{"provider"},
	)

	// Dispatcher metrics
	m.NotificationQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "notification_queue_depth",
			Help: "Current depth of notification queue",
		},
	)

	m.collectors = []prometheus.Collector{
		m.ProviderDeliveriesTotal,
		m.ProviderDeliveryDuration,
		m.ProviderDeliveryErrors,
		m.ProviderHealthStatus,
		m.ProviderLastSuccessTime,
		m.ProviderRetryAttempts,
		m.NotificationQueueDepth,
	}

	return nil
}

// RecordDelivery records a notification delivery attempt.
func (m *NotificationMetrics) RecordDelivery(provider, notificationType, status string, duration time.Duration) {
	m.ProviderDeliveriesTotal.WithLabelValues(provider, notificationType, status).Inc()
	m.ProviderDeliveryDuration.WithLabelValues(provider, notificationType).Observe(duration.Seconds())

	if status == "success" {
		m.ProviderLastSuccessTime.WithLabelValues(provider).SetToCurrentTime()
	}
}

// RecordDeliveryError records a notification delivery error.
func (m *NotificationMetrics) RecordDeliveryError(provider, notificationType, errorCategory string) {
	m.ProviderDeliveryErrors.WithLabelValues(provider, notificationType, errorCategory).Inc()
}

// RecordRetryAttempt records a retry attempt.
func (m *NotificationMetrics) RecordRetryAttempt(provider string) {
	m.ProviderRetryAttempts.WithLabelValues(provider).Inc()
}

// UpdateHealthStatus updates the health status of a provider.
func (m *NotificationMetrics) UpdateHealthStatus(provider string, healthy bool) {
	if healthy {
		m.ProviderHealthStatus.WithLabelValues(provider).Set(1)
	} else {
		m.ProviderHealthStatus.WithLabelValues(provider).Set(0)
	}
}

// SetQueueDepth sets the notification queue depth.
func (m *NotificationMetrics) SetQueueDepth(depth int) {
	m.NotificationQueueDepth.Set(float64(depth))
}

// Collect implements the prometheus.Collector interface.
func (m *NotificationMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, collector := range m.collectors {
		collector.Collect(ch)
	}
}

// Describe implements the prometheus.Collector interface.
func (m *NotificationMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, collector := range m.collectors {
		collector.Describe(ch)
	}
}

// StartDeliveryTimer creates a timer for measuring delivery duration.
func (m *NotificationMetrics) StartDeliveryTimer() *DeliveryTimer {
	return &DeliveryTimer{
		startTime: time.Now(),
		metrics:   m,
	}
}

// DeliveryTimer is a helper struct for measuring delivery duration.
type DeliveryTimer struct {
	startTime time.Time
	metrics   *NotificationMetrics
}

// ObserveDuration stops the timer and records the duration with delivery status.
func (dt *DeliveryTimer) ObserveDuration(provider, notificationType, status string) {
	duration := time.Since(dt.startTime)
	dt.metrics.RecordDelivery(provider, notificationType, status, duration)
}
