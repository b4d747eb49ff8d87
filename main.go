package main

import (
	"fmt"
	"os"
	"time"

	"github.com/skyhub/skyhub-go/cmd"
	"github.com/skyhub/skyhub-go/internal/buildinfo"
	"github.com/skyhub/skyhub-go/internal/conf"
	"github.com/skyhub/skyhub-go/internal/telemetry"
)

// version and buildDate are injected at link time via -ldflags.
var (
	version   = "dev"
	buildDate = "unknown"
)

func main() {
	settings, err := conf.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	// The anonymous system id keeps crash reports from separate
	// deployments distinguishable without identifying anyone.
	var systemID string
	if configPaths, err := conf.GetDefaultConfigPaths(); err == nil && len(configPaths) > 0 {
		systemID, _ = telemetry.LoadOrCreateSystemID(configPaths[0])
	}

	build := buildinfo.NewContext(version, buildDate, systemID)
	settings.Version = build.Version()
	settings.BuildDate = build.BuildDate()
	settings.SystemID = build.SystemID()

	if settings.Sentry.Enabled {
		if err := telemetry.InitSentry(settings); err != nil {
			fmt.Fprintf(os.Stderr, "Error initializing error tracking: %v\n", err)
		} else {
			defer telemetry.Flush(2 * time.Second)
		}
	}

	rootCmd := cmd.RootCommand(settings)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
