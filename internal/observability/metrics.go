// Package observability provides metrics and monitoring capabilities for the SkyHub backend.
package observability

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/skyhub/skyhub-go/internal/observability/metrics"
)

// Metrics holds all the metric collectors for the application.
type Metrics struct {
	registry     *prometheus.Registry
	Datastore    *metrics.DatastoreMetrics
	HTTP         *metrics.HTTPMetrics
	Facility     *metrics.FacilityMetrics
	Search       *metrics.SearchMetrics
	Ephem        *metrics.EphemMetrics
	Archive      *metrics.ArchiveMetrics
	MQTT         *metrics.MQTTMetrics
	Notification *metrics.NotificationMetrics
}

// NewMetrics creates a new instance of Metrics, initializing all metric collectors.
// It returns an error if any metric collector fails to initialize.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()

	datastoreMetrics, err := metrics.NewDatastoreMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create Datastore metrics: %w", err)
	}

	httpMetrics, err := metrics.NewHTTPMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP metrics: %w", err)
	}

	facilityMetrics, err := metrics.NewFacilityMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create Facility metrics: %w", err)
	}

	searchMetrics, err := metrics.NewSearchMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create Search metrics: %w", err)
	}

	ephemMetrics, err := metrics.NewEphemMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create Ephem metrics: %w", err)
	}

	archiveMetrics, err := metrics.NewArchiveMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create Archive metrics: %w", err)
	}

	mqttMetrics, err := metrics.NewMQTTMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create MQTT metrics: %w", err)
	}

	notificationMetrics, err := metrics.NewNotificationMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create Notification metrics: %w", err)
	}

	m := &Metrics{
		registry:     registry,
		Datastore:    datastoreMetrics,
		HTTP:         httpMetrics,
		Facility:     facilityMetrics,
		Search:       searchMetrics,
		Ephem:        ephemMetrics,
		Archive:      archiveMetrics,
		MQTT:         mqttMetrics,
		Notification: notificationMetrics,
	}

	return m, nil
}

// RegisterHandlers registers the metrics endpoint with the provided http.ServeMux.
func (m *Metrics) RegisterHandlers(mux *http.ServeMux) {
	mux.HandleFunc("/metrics", m.metricsHandler)
}

// metricsHandler is the HTTP handler for the /metrics endpoint.
func (m *Metrics) metricsHandler(w http.ResponseWriter, r *http.Request) {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorLog:      slog.NewLogLogger(getLogger().Handler(), slog.LevelError),
		ErrorHandling: promhttp.HTTPErrorOnError,
	})
	h.ServeHTTP(w, r)
}
