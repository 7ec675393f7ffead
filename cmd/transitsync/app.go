package main

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"transitsync.dev/internal/app"
	"transitsync.dev/internal/appconf"
	"transitsync.dev/internal/clock"
	"transitsync.dev/internal/gtfs"
	"transitsync.dev/internal/logging"
	"transitsync.dev/internal/metrics"
	"transitsync.dev/internal/realtime"
	"transitsync.dev/internal/restapi"
	"transitsync.dev/internal/rtsync"
	"transitsync.dev/internal/webui"
)

const (
	dbStatsInterval = 15 * time.Second
	shutdownTimeout = 30 * time.Second
)

// BuildApplication opens the store, loads static data and restores the
// realtime cache. Nothing is scheduled yet; Run starts the sync.
func BuildApplication(cfg appconf.Config, gtfsCfg gtfs.Config, syncCfg rtsync.Config) (*app.Application, error) {
	logger := logging.NewLogger(cfg)
	slog.SetDefault(logger)
	c := clock.RealClock{}

	var mt *metrics.Metrics
	if cfg.MetricsEnabled {
		mt = metrics.NewWithLogger(logger)
	}

	fetcher := realtime.NewHTTPClientFetcher(cmp.Or(syncCfg.FetchTimeout, rtsync.DefaultFetchTimeout), syncCfg.ProbeURL)
	feedClient := realtime.NewFeedClient(fetcher, syncCfg.ClientConfig(), c)

	gtfsOpts := []gtfs.Option{gtfs.WithClock(c), gtfs.WithUpdateChecker(feedClient)}
	if mt != nil {
		gtfsOpts = append(gtfsOpts, gtfs.WithMetrics(mt))
	}
	ctx := logging.WithLogger(context.Background(), logger)
	manager, err := gtfs.InitGTFSManager(ctx, gtfsCfg, gtfsOpts...)
	if err != nil {
		if mt != nil {
			mt.Shutdown()
		}
		return nil, fmt.Errorf("failed to initialize GTFS manager: %w", err)
	}
	if mt != nil {
		mt.StartDBStatsCollector(manager.GtfsDB.DB, dbStatsInterval)
	}

	coreApp := &app.Application{
		Config:      cfg,
		GtfsConfig:  gtfsCfg,
		SyncConfig:  syncCfg,
		Logger:      logger,
		GtfsManager: manager,
		FeedClient:  feedClient,
		Clock:       c,
		Metrics:     mt,
	}

	if syncCfg.Enabled() {
		coreApp.Sync = rtsync.NewService(syncCfg, feedClient, manager.GtfsDB, manager,
			rtsync.WithClock(c), rtsync.WithMetrics(mt))
		if err := coreApp.Sync.LoadCached(ctx); err != nil {
			// An unreadable cache only costs the warm start.
			logging.LogError(logger, "Failed to restore realtime cache", err)
		}
	} else {
		logging.LogWarning(logger, "No realtime feed configured, serving static data only")
	}

	return coreApp, nil
}

// CreateServer wires the API and the debug UI behind the middleware chain.
func CreateServer(coreApp *app.Application, cfg appconf.Config) (*http.Server, *restapi.RestAPI) {
	api := restapi.NewRestAPI(coreApp)
	ui := &webui.WebUI{Application: coreApp}

	mux := http.NewServeMux()
	api.SetRoutes(mux)
	ui.SetWebUIRoutes(mux)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      api.WithMiddleware(mux),
		IdleTimeout:  time.Minute,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		ErrorLog:     slog.NewLogLogger(coreApp.Logger.Handler(), slog.LevelError),
	}
	return srv, api
}

// Run starts the realtime sync, serves on ln until ctx is cancelled, then
// drains connections and shuts every component down.
func Run(ctx context.Context, srv *http.Server, ln net.Listener, coreApp *app.Application, api *restapi.RestAPI) error {
	logger := coreApp.Logger
	if coreApp.Sync != nil {
		coreApp.Sync.Start(coreApp.SyncConfig.Interval)
	}

	serveErr := make(chan error, 1)
	go func() {
		logging.LogOperation(logger, "server_listening", slog.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logging.LogOperation(logger, "shutdown_requested")
	case err, ok := <-serveErr:
		if ok {
			runErr = fmt.Errorf("server failed: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.LogError(logger, "Server shutdown failed", err)
		runErr = errors.Join(runErr, err)
	}
	api.Shutdown()
	coreApp.Shutdown()
	logging.LogOperation(logger, "server_stopped")
	return runErr
}
