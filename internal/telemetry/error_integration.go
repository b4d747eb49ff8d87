// Package telemetry - integration with the error handling system
package telemetry

import (
	"github.com/skyhub/skyhub-go/internal/conf"
	"github.com/skyhub/skyhub-go/internal/errors"
)

// InitializeErrorIntegration sets up the error package to report through
// telemetry when enabled. Called once during startup, after configuration
// is loaded but before any component starts producing errors.
func InitializeErrorIntegration() {
	settings := conf.GetSettings()
	if settings == nil {
		logTelemetryWarn(nil, "error integration initialized before settings were loaded, telemetry reporting disabled")
	}
	enabled := settings != nil && settings.Sentry.Enabled

	reporter := errors.NewSentryReporter(enabled)
	errors.SetTelemetryReporter(reporter)

	// Route every reported error message through the privacy scrubber
	errors.SetPrivacyScrubber(ScrubMessage)
}

// UpdateErrorIntegration updates the error integration when telemetry settings change
func UpdateErrorIntegration(enabled bool) {
	reporter := errors.NewSentryReporter(enabled)
	errors.SetTelemetryReporter(reporter)
}
