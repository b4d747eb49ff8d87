package telemetry

import (
	"io"
	"log"
	"log/slog"
	"path/filepath"

	"github.com/skyhub/skyhub-go/internal/logging"
)

// Package-level logger specific to the telemetry service
var (
	serviceLogger *slog.Logger
	closeLogger   func() error
)

func init() {
	var err error
	logFilePath := filepath.Join("logs", "telemetry.log")

	serviceLogger, closeLogger, err = logging.NewFileLogger(logFilePath, "telemetry", slog.LevelDebug)
	if err != nil {
		// Fallback: log the error and disable service logging without nil panics
		log.Printf("Failed to initialize telemetry file logger at %s: %v. Service logging disabled.", logFilePath, err)
		fbHandler := slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug})
		serviceLogger = slog.New(fbHandler).With("service", "telemetry")
		closeLogger = func() error { return nil }
	}
}

// CloseLogger closes the telemetry service log file. Called on shutdown.
func CloseLogger() error {
	if closeLogger != nil {
		return closeLogger()
	}
	return nil
}

// logTelemetryInfo logs a message to the telemetry service logger if available,
// otherwise falls back to the provided fallback logger.
// This centralizes the serviceLogger nil check to avoid code duplication.
func logTelemetryInfo(fallbackLogger *slog.Logger, message string, keysAndValues ...any) {
	if serviceLogger != nil {
		serviceLogger.Info(message, keysAndValues...)
	} else if fallbackLogger != nil {
		fallbackLogger.Info(message, keysAndValues...)
	}
}

// logTelemetryDebug logs a debug message to the telemetry service logger if available,
// otherwise falls back to the provided fallback logger.
func logTelemetryDebug(fallbackLogger *slog.Logger, message string, keysAndValues ...any) {
	if serviceLogger != nil {
		serviceLogger.Debug(message, keysAndValues...)
	} else if fallbackLogger != nil {
		fallbackLogger.Debug(message, keysAndValues...)
	}
}

// logTelemetryWarn logs a warning message to the telemetry service logger if available,
// otherwise falls back to the provided fallback logger.
func logTelemetryWarn(fallbackLogger *slog.Logger, message string, keysAndValues ...any) {
	if serviceLogger != nil {
		serviceLogger.Warn(message, keysAndValues...)
	} else if fallbackLogger != nil {
		fallbackLogger.Warn(message, keysAndValues...)
	}
}
