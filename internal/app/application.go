package app

import (
	"log/slog"

	"transitsync.dev/internal/appconf"
	"transitsync.dev/internal/clock"
	"transitsync.dev/internal/gtfs"
	"transitsync.dev/internal/metrics"
	"transitsync.dev/internal/realtime"
	"transitsync.dev/internal/rtsync"
)

// Application holds the dependencies shared by the HTTP handlers, the debug
// UI and the command line.
type Application struct {
	Config      appconf.Config
	GtfsConfig  gtfs.Config
	SyncConfig  rtsync.Config
	Logger      *slog.Logger
	GtfsManager *gtfs.Manager
	FeedClient  *realtime.FeedClient
	Sync        *rtsync.Service
	Clock       clock.Clock
	Metrics     *metrics.Metrics
}

// Shutdown stops the realtime schedule before closing the store it writes
// to. Missing components are skipped.
func (app *Application) Shutdown() {
	if app.Sync != nil {
		app.Sync.Stop()
	}
	if app.GtfsManager != nil {
		app.GtfsManager.Shutdown()
	}
	if app.Metrics != nil {
		app.Metrics.Shutdown()
	}
}
