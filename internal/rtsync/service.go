// Package rtsync runs the realtime sync pipeline: every cycle fetches the
// GTFS-RT feeds, decodes and sanitizes them, persists them as the cache,
// merges them into the live state and evicts stale vehicles. When a feed is
// unavailable the cycle falls back to the last persisted snapshot.
package rtsync

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"transitsync.dev/gtfsdb"
	"transitsync.dev/internal/clock"
	"transitsync.dev/internal/incidents"
	"transitsync.dev/internal/logging"
	"transitsync.dev/internal/metrics"
	"transitsync.dev/internal/models"
	"transitsync.dev/internal/realtime"
)

// Fetcher downloads one realtime feed. *realtime.FeedClient satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context, kind realtime.FeedKind) ([]byte, error)
}

// Store is the realtime cache. *gtfsdb.Client satisfies it.
type Store interface {
	Read(ctx context.Context, op string, fn func(q *gtfsdb.Queries) error) error
	SaveVehiclePositions(ctx context.Context, snapshot gtfsdb.RtSnapshot, rows []gtfsdb.VehiclePosition) error
	ReplaceArrivalPredictions(ctx context.Context, snapshot gtfsdb.RtSnapshot, rows []gtfsdb.ArrivalPrediction) error
	RecordSnapshot(ctx context.Context, snapshot gtfsdb.RtSnapshot) error
	SaveIncidents(ctx context.Context, rows []gtfsdb.Incident, retiredBeforeMs int64) (int64, error)
	EvictVehiclePositions(ctx context.Context, cutoffMs int64) (int64, error)
	DeleteWhere(ctx context.Context, table, predicate string, args ...interface{}) (int64, error)
}

// StaticData is the static snapshot the service checks live records
// against. *gtfs.Manager satisfies it.
type StaticData interface {
	realtime.Lookups
	incidents.RouteNamer
	RouteIDForTrip(tripID string) (string, bool)
}

// Service owns the live vehicle, prediction and incident sets and the
// schedule that refreshes them.
type Service struct {
	config    Config
	fetcher   Fetcher
	store     Store
	static    StaticData
	decoder   *realtime.Decoder
	sanitizer *realtime.Sanitizer
	incidents *incidents.Aggregator

	clock   clock.Clock
	metrics *metrics.Metrics
	tracer  trace.Tracer
	logger  *slog.Logger

	live atomic.Pointer[liveState]

	// cycleMu keeps cycles from overlapping, whoever starts them.
	cycleMu sync.Mutex

	runMu   sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	// dispatching is set while the schedule loop runs subscriber callbacks.
	dispatching atomic.Bool

	statsMu sync.RWMutex
	stats   SyncMetrics

	subsMu      sync.RWMutex
	nextSubID   int
	vehicleSubs map[int]func([]models.VehiclePosition)
	failureSubs map[int]func(error)
}

type Option func(*Service)

func WithClock(c clock.Clock) Option {
	return func(s *Service) { s.clock = c }
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = mt }
}

// NewService wires a service. It starts nothing; call LoadCached and Start.
func NewService(config Config, fetcher Fetcher, store Store, static StaticData, opts ...Option) *Service {
	s := &Service{
		config:      config.withDefaults(),
		fetcher:     fetcher,
		store:       store,
		static:      static,
		clock:       clock.RealClock{},
		tracer:      otel.Tracer("transitsync/rtsync"),
		logger:      slog.Default().With(slog.String("component", "rtsync")),
		vehicleSubs: make(map[int]func([]models.VehiclePosition)),
		failureSubs: make(map[int]func(error)),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.clock = clock.OrReal(s.clock)
	s.decoder = realtime.NewDecoder(s.clock)
	s.sanitizer = realtime.NewSanitizer(static, s.metrics, s.clock)
	s.incidents = incidents.NewAggregator(s.clock, static, config.IncidentRetention)
	s.live.Store(newLiveState(nil, nil))
	return s
}

// LoadCached seeds the live state and the incident set from the store, so
// a restart serves the last known data before the first cycle completes.
func (s *Service) LoadCached(ctx context.Context) error {
	var vehicleRows []gtfsdb.VehiclePosition
	var predictionRows []gtfsdb.ArrivalPrediction
	var incidentRows []gtfsdb.Incident
	err := s.store.Read(ctx, "load_realtime_cache", func(q *gtfsdb.Queries) error {
		var err error
		if vehicleRows, err = q.ListVehiclePositions(ctx); err != nil {
			return err
		}
		if predictionRows, err = q.ListArrivalPredictions(ctx); err != nil {
			return err
		}
		incidentRows, err = q.ListIncidents(ctx)
		return err
	})
	if err != nil {
		return err
	}

	cutoff := s.clock.Now().Add(-s.config.StaleThreshold)
	vehicles := make([]models.VehiclePosition, 0, len(vehicleRows))
	for _, row := range vehicleRows {
		if v := vehicleFromRow(row); !v.Timestamp.Before(cutoff) {
			vehicles = append(vehicles, v)
		}
	}
	predictions := make([]models.ArrivalPrediction, len(predictionRows))
	for i, row := range predictionRows {
		predictions[i] = predictionFromRow(row)
	}
	restored := make([]models.Incident, len(incidentRows))
	for i, row := range incidentRows {
		restored[i] = incidentFromRow(row)
	}

	s.live.Store(newLiveState(vehicles, predictions))
	s.incidents.Restore(restored)
	s.updateCounts()

	logging.LogOperation(s.logger, "realtime_cache_loaded",
		slog.Int("vehicles", len(vehicles)),
		slog.Int("predictions", len(predictions)),
		slog.Int("incidents", len(restored)))
	return nil
}

// Start schedules a cycle every interval, running the first one right away.
// A zero interval uses the configured one. Calling Start on a running
// service does nothing.
func (s *Service) Start(interval time.Duration) {
	if interval <= 0 {
		interval = s.config.Interval
	}

	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})

	logging.LogOperation(s.logger, "realtime_sync_started", slog.Duration("interval", interval))
	go s.loop(interval, s.stopCh, s.doneCh)
}

// Stop cancels the schedule and waits for an in-flight cycle to finish.
// Called from a subscriber of a scheduled cycle it returns at once; the loop
// exits when the callback returns.
func (s *Service) Stop() {
	s.runMu.Lock()
	if !s.running {
		s.runMu.Unlock()
		return
	}
	s.running = false
	stopCh, doneCh := s.stopCh, s.doneCh
	s.runMu.Unlock()

	close(stopCh)
	if s.dispatching.Load() {
		logging.LogOperation(s.logger, "realtime_sync_stopping")
		return
	}
	<-doneCh
	logging.LogOperation(s.logger, "realtime_sync_stopped")
}

// IsRunning reports whether the schedule is active.
func (s *Service) IsRunning() bool {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	return s.running
}

func (s *Service) loop(interval time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.runScheduledCycle()
	for {
		select {
		case <-ticker.C:
			// A cycle may have been running when stop was closed.
			select {
			case <-stop:
				return
			default:
			}
			s.runScheduledCycle()
		case <-stop:
			return
		}
	}
}

// runScheduledCycle detaches the cycle from Stop, so that stopping never
// interrupts a write half way.
func (s *Service) runScheduledCycle() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.CycleTimeout)
	defer cancel()
	ctx = logging.WithLogger(ctx, s.logger)
	result, published := s.runCycle(ctx)

	s.dispatching.Store(true)
	defer s.dispatching.Store(false)
	s.notify(result, published)
}
