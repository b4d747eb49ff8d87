// Package server wires the configured integrations together and runs the
// API server until it receives a termination signal.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"

	api "github.com/skyhub/skyhub-go/internal/api/v2"
	"github.com/skyhub/skyhub-go/internal/archive"
	"github.com/skyhub/skyhub-go/internal/conf"
	"github.com/skyhub/skyhub-go/internal/datastore"
	"github.com/skyhub/skyhub-go/internal/facility"
	"github.com/skyhub/skyhub-go/internal/facility/lt"
	"github.com/skyhub/skyhub-go/internal/logging"
	"github.com/skyhub/skyhub-go/internal/mqtt"
	"github.com/skyhub/skyhub-go/internal/notification"
	"github.com/skyhub/skyhub-go/internal/observability"
	"github.com/skyhub/skyhub-go/internal/search"
	"github.com/skyhub/skyhub-go/internal/secrets"
)

const (
	mqttConnectTimeout = 30 * time.Second
	shutdownTimeout    = 10 * time.Second
)

// Run starts the API server with every enabled integration and blocks until
// SIGINT or SIGTERM.
func Run(settings *conf.Settings) error {
	logger := logging.ForService("server")

	fmt.Printf("Starting SkyHub %s (built %s)\n", settings.Version, settings.BuildDate)

	metrics, err := observability.NewMetrics()
	if err != nil {
		return fmt.Errorf("error initializing metrics: %w", err)
	}

	store := datastore.New(settings)
	if store == nil {
		return fmt.Errorf("no database backend enabled in configuration")
	}
	if err := store.Open(); err != nil {
		return err
	}
	defer closeDataStore(store, logger)

	if s, ok := store.(interface{ SetMetrics(*datastore.Metrics) }); ok {
		s.SetMetrics(metrics.Datastore)
	}

	cipher, err := secrets.NewCipher(settings.Security.EncryptionKey)
	if err != nil {
		return fmt.Errorf("error initializing secrets cipher: %w", err)
	}

	notifierConfig := notification.DefaultServiceConfig()
	notifierConfig.Debug = settings.Notification.Debug
	notifier := notification.NewService(notifierConfig)
	notifier.SetMetrics(metrics.Notification)
	defer notifier.Stop()

	var dispatcher *notification.Dispatcher
	if settings.Notification.Enabled {
		dispatcher = notification.NewDispatcher(&settings.Notification, notifier, metrics.Notification)
		dispatcher.Start()
		defer dispatcher.Stop()
	}

	options := []api.Option{
		api.WithNotifier(notifier),
		api.WithCipher(cipher),
	}

	if settings.Archive.Enabled {
		archiveManager, err := archive.New(&settings.Archive, metrics.Archive)
		if err != nil {
			return fmt.Errorf("error initializing archive: %w", err)
		}
		options = append(options, api.WithArchive(archiveManager))
	}

	mqttClient := connectMQTT(settings, metrics, logger)
	if mqttClient != nil {
		options = append(options, api.WithMQTT(mqttClient))
		defer mqttClient.Disconnect()
	}

	if settings.Search.Enabled {
		searchService, err := search.New(context.Background(), settings.Search, store, metrics.Search)
		if err != nil {
			logger.Error("search service unavailable, summary queries disabled", "error", err)
		} else {
			options = append(options, api.WithSearch(searchService))
		}
	}

	registry := facility.NewRegistry()
	options = append(options, api.WithFacilities(registry))

	e := echo.New()
	e.HideBanner = true
	e.Use(echomiddleware.Recover())

	controller, err := api.New(e, store, settings, metrics, options...)
	if err != nil {
		return fmt.Errorf("error initializing API: %w", err)
	}
	defer controller.Shutdown()

	// Facility clients report through the controller's event bridge, so
	// they register after it exists.
	if settings.Facility.LT.Enabled {
		ltClient, err := lt.New(settings.Facility.LT, store, cipher, controller.EventBridge(), metrics.Facility)
		if err != nil {
			return fmt.Errorf("error initializing LT facility: %w", err)
		}
		if err := registry.Register(ltClient); err != nil {
			return err
		}
	}

	// quitChan signals the supporting goroutines to stop.
	quitChan := make(chan struct{})
	var wg sync.WaitGroup

	startTelemetryEndpoint(&wg, settings, metrics, quitChan, logger)

	serverErr := make(chan error, 1)
	go func() {
		addr := ":" + settings.WebServer.Port
		logger.Info("API server listening", "addr", addr)
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	monitorShutdownSignals(quitChan, logger)

	select {
	case err := <-serverErr:
		close(quitChan)
		wg.Wait()
		return err
	case <-quitChan:
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := e.Shutdown(ctx); err != nil {
			logger.Error("error shutting down API server", "error", err)
		}
		wg.Wait()
		return nil
	}
}

// connectMQTT creates and connects the MQTT client when enabled. A broker
// that is down at startup is not fatal, the client reconnects on its own.
func connectMQTT(settings *conf.Settings, metrics *observability.Metrics, logger *slog.Logger) mqtt.Client {
	if !settings.Realtime.MQTT.Enabled {
		return nil
	}

	client, err := mqtt.NewClient(settings, metrics.MQTT)
	if err != nil {
		logger.Error("error creating MQTT client, event publishing disabled", "error", err)
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), mqttConnectTimeout)
	defer cancel()
	if err := client.Connect(ctx); err != nil {
		logger.Warn("MQTT broker not reachable at startup", "broker", settings.Realtime.MQTT.Broker, "error", err)
	}
	return client
}

func startTelemetryEndpoint(wg *sync.WaitGroup, settings *conf.Settings, metrics *observability.Metrics, quitChan chan struct{}, logger *slog.Logger) {
	if !settings.Realtime.Telemetry.Enabled {
		return
	}

	endpoint, err := observability.NewEndpoint(settings, metrics)
	if err != nil {
		logger.Error("error initializing telemetry endpoint", "error", err)
		return
	}
	endpoint.Start(wg, quitChan)
}

// monitorShutdownSignals listens for SIGINT and SIGTERM and triggers the
// application shutdown process.
func monitorShutdownSignals(quitChan chan struct{}, logger *slog.Logger) {
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

		<-sigChan

		logger.Info("received shutdown signal, shutting down")
		close(quitChan)
	}()
}

// closeDataStore attempts to close the database connection and logs the result.
func closeDataStore(store datastore.Interface, logger *slog.Logger) {
	if err := store.Close(); err != nil {
		logger.Error("failed to close database", "error", err)
	}
}
