// Package observability provides Prometheus metrics functionality for monitoring the SkyHub backend.
package observability

import (
	"log/slog"

	"github.com/skyhub/skyhub-go/internal/logging"
)

// getLogger returns the telemetry service logger, falling back to the process
// default until the logging system has been initialized.
func getLogger() *slog.Logger {
	if l := logging.ForService("telemetry"); l != nil {
		return l
	}
	return slog.Default()
}
