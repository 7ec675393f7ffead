// Package metrics provides Prometheus metrics for the transitsync service.
package metrics

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Registry is the Prometheus registry for this metrics instance
	Registry *prometheus.Registry

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Database metrics
	DBConnectionsOpen  prometheus.Gauge
	DBConnectionsInUse prometheus.Gauge
	DBConnectionsIdle  prometheus.Gauge
	DBWaitSecondsTotal prometheus.Counter

	// Sync metrics
	SyncCyclesTotal        *prometheus.CounterVec
	SyncCycleDuration      prometheus.Histogram
	VehiclesActive         prometheus.Gauge
	IncidentsActive        prometheus.Gauge
	InvalidReferencesTotal *prometheus.CounterVec
	CacheFallbackTotal     *prometheus.CounterVec

	// Static data metrics
	StaticLoadRows *prometheus.GaugeVec

	// logger for error reporting
	logger *slog.Logger

	// collectorStarted prevents spawning multiple collector goroutines
	collectorStarted atomic.Bool

	// cancel stops the DB stats collector goroutine
	cancel context.CancelFunc

	// wg tracks the DB stats collector goroutine for graceful shutdown
	wg sync.WaitGroup
}

// New creates and registers all application metrics with a new registry.
func New() *Metrics {
	return NewWithLogger(nil)
}

// NewWithLogger creates metrics with a logger for error reporting.
func NewWithLogger(logger *slog.Logger) *Metrics {
	registry := prometheus.NewRegistry()

	httpRequestsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transitsync_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "transitsync_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	dbConnectionsOpen := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "transitsync_db_connections_open",
		Help: "Number of open database connections",
	})

	dbConnectionsInUse := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "transitsync_db_connections_in_use",
		Help: "Number of database connections currently in use",
	})

	dbConnectionsIdle := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "transitsync_db_connections_idle",
		Help: "Number of idle database connections",
	})

	dbWaitSecondsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "transitsync_db_wait_seconds_total",
		Help: "Total time blocked waiting for a database connection",
	})

	syncCyclesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transitsync_sync_cycles_total",
			Help: "Total number of realtime sync cycles by result (success, cache, failed)",
		},
		[]string{"result"},
	)

	syncCycleDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "transitsync_sync_cycle_duration_seconds",
		Help:    "Realtime sync cycle latency distribution",
		Buckets: prometheus.DefBuckets,
	})

	vehiclesActive := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "transitsync_vehicles_active",
		Help: "Number of vehicles in the live set",
	})

	incidentsActive := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "transitsync_incidents_active",
		Help: "Number of active delay incidents",
	})

	invalidReferencesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transitsync_invalid_references_total",
			Help: "Realtime references nulled because they are absent from the static data",
		},
		[]string{"field"},
	)

	cacheFallbackTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transitsync_cache_fallback_total",
			Help: "Number of times a feed was served from the store cache",
		},
		[]string{"feed"},
	)

	staticLoadRows := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "transitsync_static_load_rows",
			Help: "Rows loaded per static table in the current snapshot",
		},
		[]string{"table"},
	)

	// Register all metrics with the custom registry
	registry.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		dbConnectionsOpen,
		dbConnectionsInUse,
		dbConnectionsIdle,
		dbWaitSecondsTotal,
		syncCyclesTotal,
		syncCycleDuration,
		vehiclesActive,
		incidentsActive,
		invalidReferencesTotal,
		cacheFallbackTotal,
		staticLoadRows,
	)

	return &Metrics{
		Registry:            registry,
		HTTPRequestsTotal:   httpRequestsTotal,
		HTTPRequestDuration: httpRequestDuration,
		DBConnectionsOpen:   dbConnectionsOpen,
		DBConnectionsInUse:  dbConnectionsInUse,
		DBConnectionsIdle:   dbConnectionsIdle,
		DBWaitSecondsTotal:  dbWaitSecondsTotal,

		SyncCyclesTotal:        syncCyclesTotal,
		SyncCycleDuration:      syncCycleDuration,
		VehiclesActive:         vehiclesActive,
		IncidentsActive:        incidentsActive,
		InvalidReferencesTotal: invalidReferencesTotal,
		CacheFallbackTotal:     cacheFallbackTotal,
		StaticLoadRows:         staticLoadRows,

		logger: logger,
	}
}

// StartDBStatsCollector starts a goroutine that periodically collects database
// connection pool statistics and updates the corresponding metrics.
// The interval specifies how often to collect stats.
// This method is idempotent - calling it multiple times has no effect after the first call.
// Call Shutdown() to stop the collector.
func (m *Metrics) StartDBStatsCollector(db *sql.DB, interval time.Duration) {
	if db == nil {
		return
	}

	// Prevent spawning multiple collectors
	if !m.collectorStarted.CompareAndSwap(false, true) {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())

	var lastWaitDuration time.Duration

	// Add to WaitGroup BEFORE exposing cancel to avoid race with Shutdown
	m.wg.Add(1)
	m.cancel = cancel

	go func() {
		defer m.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				if m.logger != nil {
					m.logger.Error("panic in DB stats collector", "error", r)
				}
			}
		}()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				stats := db.Stats()
				m.DBConnectionsOpen.Set(float64(stats.OpenConnections))
				m.DBConnectionsInUse.Set(float64(stats.InUse))
				m.DBConnectionsIdle.Set(float64(stats.Idle))

				// Add the delta of wait duration since last check
				waitDelta := stats.WaitDuration - lastWaitDuration
				if waitDelta > 0 {
					m.DBWaitSecondsTotal.Add(waitDelta.Seconds())
				}
				lastWaitDuration = stats.WaitDuration

			case <-ctx.Done():
				return
			}
		}
	}()
}

// Shutdown stops the DB stats collector goroutine and waits for it to exit.
// This method is safe to call multiple times.
func (m *Metrics) Shutdown() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

// The recorders below are safe to call on a nil *Metrics so that components
// can run without a registry in tests.

// RecordSyncCycle counts one finished sync cycle and observes its duration.
func (m *Metrics) RecordSyncCycle(result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.SyncCyclesTotal.WithLabelValues(result).Inc()
	m.SyncCycleDuration.Observe(duration.Seconds())
}

func (m *Metrics) RecordCacheFallback(feed string) {
	if m == nil {
		return
	}
	m.CacheFallbackTotal.WithLabelValues(feed).Inc()
}

func (m *Metrics) SetLiveCounts(vehicles, incidents int) {
	if m == nil {
		return
	}
	m.VehiclesActive.Set(float64(vehicles))
	m.IncidentsActive.Set(float64(incidents))
}

func (m *Metrics) AddInvalidReferences(field string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.InvalidReferencesTotal.WithLabelValues(field).Add(float64(n))
}

// SetStaticLoadRows replaces the per-table row gauges with counts.
func (m *Metrics) SetStaticLoadRows(counts map[string]int) {
	if m == nil {
		return
	}
	m.StaticLoadRows.Reset()
	for table, n := range counts {
		m.StaticLoadRows.WithLabelValues(table).Set(float64(n))
	}
}
