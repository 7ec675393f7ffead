package gtfs

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"transitsync.dev/gtfsdb"
	"transitsync.dev/internal/clock"
	"transitsync.dev/internal/logging"
	"transitsync.dev/internal/metrics"
	"transitsync.dev/internal/models"
	"transitsync.dev/internal/utils"
)

// UpdateChecker decides whether the static source differs from the archive
// that is currently imported.
type UpdateChecker interface {
	IsStaticUpdateAvailable(ctx context.Context, url string, known models.StaticVersion, maxAge time.Duration) (bool, error)
}

// Manager owns the static data: it loads archives into the store and serves
// reads from the in-memory index built from the store. Reads never block on a
// load in progress; they see the previous index until the new one is swapped
// in.
type Manager struct {
	config      Config
	GtfsDB      *gtfsdb.Client
	isLocalFile bool

	clock         clock.Clock
	metrics       *metrics.Metrics
	updateChecker UpdateChecker
	logger        *slog.Logger

	index atomic.Pointer[staticIndex]

	// staticUpdateMutex serializes loads. lastDownload is guarded by it.
	staticUpdateMutex sync.Mutex
	lastDownload      time.Time

	healthMutex sync.RWMutex
	isHealthy   bool

	shutdownChan chan struct{}
	shutdownOnce sync.Once
	wg           sync.WaitGroup
}

type Option func(*Manager)

func WithClock(c clock.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

func WithUpdateChecker(u UpdateChecker) Option {
	return func(m *Manager) { m.updateChecker = u }
}

// NewManager wraps an open store. It does not load anything or start any
// goroutine.
func NewManager(db *gtfsdb.Client, config Config, opts ...Option) *Manager {
	m := &Manager{
		config:       config,
		GtfsDB:       db,
		isLocalFile:  config.GtfsURL != "" && !isRemoteSource(config.GtfsURL),
		clock:        clock.RealClock{},
		logger:       slog.Default().With(slog.String("component", "gtfs_manager")),
		shutdownChan: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.clock = clock.OrReal(m.clock)
	return m
}

// InitGTFSManager opens the store, loads the configured static source and,
// for remote sources, starts the periodic static updater.
func InitGTFSManager(ctx context.Context, config Config, opts ...Option) (*Manager, error) {
	dbConfig := gtfsdb.NewConfig(config.GTFSDataPath, config.Env, config.Verbose)
	dbConfig.BulkInsertBatchSize = config.BulkInsertBatchSize
	db, err := gtfsdb.NewClient(dbConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create GTFS database client: %w", err)
	}

	manager := NewManager(db, config, opts...)

	if config.GtfsURL == "" {
		if err := manager.Rebuild(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
		return manager, nil
	}

	if err := manager.ForceUpdate(ctx); err != nil {
		// A previous import in the store is still better than nothing.
		counts, countErr := db.TableCounts()
		if countErr != nil || counts["trips"] == 0 {
			_ = db.Close()
			return nil, err
		}
		logging.LogError(manager.logger, "Initial static load failed, serving data already in the store", err,
			slog.String("source", config.GtfsURL))
		if err := manager.Rebuild(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
		manager.MarkUnhealthy()
	}

	if !manager.isLocalFile {
		manager.wg.Add(1)
		go manager.updateStaticGTFS()
	}

	return manager, nil
}

// Shutdown stops the static updater and closes the store.
func (manager *Manager) Shutdown() {
	manager.shutdownOnce.Do(func() {
		close(manager.shutdownChan)
	})
	manager.wg.Wait()
	if manager.GtfsDB != nil {
		logging.SafeCloseWithLogging(manager.GtfsDB, manager.logger, "gtfs_database")
	}
}

func isRemoteSource(source string) bool {
	return strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://")
}

func (manager *Manager) current() *staticIndex {
	return manager.index.Load()
}

func (manager *Manager) swap(idx *staticIndex) {
	manager.index.Store(idx)
	manager.metrics.SetStaticLoadRows(idx.counts)
	manager.MarkHealthy()
}

// IsReady reports whether a static snapshot has been published.
func (manager *Manager) IsReady() bool {
	return manager.current() != nil
}

// LastUpdated is when the current snapshot was built.
func (manager *Manager) LastUpdated() time.Time {
	if idx := manager.current(); idx != nil {
		return idx.loadedAt
	}
	return time.Time{}
}

// Counts returns row counts per table of the current snapshot.
func (manager *Manager) Counts() map[string]int {
	idx := manager.current()
	if idx == nil {
		return map[string]int{}
	}
	out := make(map[string]int, len(idx.counts))
	for k, v := range idx.counts {
		out[k] = v
	}
	return out
}

// IsHealthy reports whether readers see the latest static data. It turns
// false when a found update fails to load or a committed load cannot be
// published, and true again on the next successful swap.
func (manager *Manager) IsHealthy() bool {
	manager.healthMutex.RLock()
	defer manager.healthMutex.RUnlock()
	return manager.isHealthy
}

func (manager *Manager) MarkHealthy() {
	manager.healthMutex.Lock()
	defer manager.healthMutex.Unlock()
	manager.isHealthy = true
}

func (manager *Manager) MarkUnhealthy() {
	manager.healthMutex.Lock()
	defer manager.healthMutex.Unlock()
	manager.isHealthy = false
}

func (manager *Manager) GetAgencies() []models.Agency {
	idx := manager.current()
	if idx == nil {
		return nil
	}
	return slices.Clone(idx.agencies)
}

func (manager *Manager) GetAgency(id string) (models.Agency, bool) {
	idx := manager.current()
	if idx == nil {
		return models.Agency{}, false
	}
	a, ok := idx.agencyByID[id]
	return a, ok
}

func (manager *Manager) GetRoute(id string) (models.Route, bool) {
	idx := manager.current()
	if idx == nil {
		return models.Route{}, false
	}
	r, ok := idx.routes[id]
	return r, ok
}

func (manager *Manager) GetStop(id string) (models.Stop, bool) {
	idx := manager.current()
	if idx == nil {
		return models.Stop{}, false
	}
	s, ok := idx.stops[id]
	return s, ok
}

func (manager *Manager) GetTrip(id string) (models.Trip, bool) {
	idx := manager.current()
	if idx == nil {
		return models.Trip{}, false
	}
	t, ok := idx.trips[id]
	return t, ok
}

// GetTripsForRoute returns trips ordered by direction, then headsign.
func (manager *Manager) GetTripsForRoute(routeID string) []models.Trip {
	idx := manager.current()
	if idx == nil {
		return nil
	}
	return slices.Clone(idx.tripsByRoute[routeID])
}

// GetStopsForTrip returns the trip's stops in stop_sequence order. Stop times
// whose stop is unknown are left out.
func (manager *Manager) GetStopsForTrip(tripID string) []models.Stop {
	idx := manager.current()
	if idx == nil {
		return nil
	}
	return slices.Clone(idx.stopsByTrip[tripID])
}

func (manager *Manager) GetStopTimesForTrip(tripID string) []models.StopTime {
	idx := manager.current()
	if idx == nil {
		return nil
	}
	return slices.Clone(idx.stopTimesByTrip[tripID])
}

func (manager *Manager) GetStopTimesForStop(stopID string) []models.StopTime {
	idx := manager.current()
	if idx == nil {
		return nil
	}
	return slices.Clone(idx.stopTimesByStop[stopID])
}

func (manager *Manager) GetShapePoints(shapeID string) []models.ShapePoint {
	idx := manager.current()
	if idx == nil {
		return nil
	}
	return slices.Clone(idx.shapePointsByShape[shapeID])
}

const defaultSearchLimit = 20

// SearchRoutes matches routes whose short name, long name or id has a word
// starting with every term of query.
func (manager *Manager) SearchRoutes(query string, limit int) []models.Route {
	idx := manager.current()
	if idx == nil {
		return []models.Route{}
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	ids := searchIDs(idx.routeSearch, query, limit)
	routes := make([]models.Route, 0, len(ids))
	for _, id := range ids {
		routes = append(routes, idx.routes[id])
	}
	return routes
}

// SearchStops matches stops by name, code or id the same way SearchRoutes does.
func (manager *Manager) SearchStops(query string, limit int) []models.Stop {
	idx := manager.current()
	if idx == nil {
		return []models.Stop{}
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	ids := searchIDs(idx.stopSearch, query, limit)
	stops := make([]models.Stop, 0, len(ids))
	for _, id := range ids {
		stops = append(stops, idx.stops[id])
	}
	return stops
}

// GetStopsNear returns stops within radiusMeters of (lat, lon), nearest first.
func (manager *Manager) GetStopsNear(lat, lon, radiusMeters float64, limit int) []models.Stop {
	idx := manager.current()
	if idx == nil || radiusMeters <= 0 {
		return nil
	}
	bounds := utils.BoundsAround(lat, lon, radiusMeters)

	type candidate struct {
		stop     models.Stop
		distance float64
	}
	var candidates []candidate
	idx.stopTree.Search(
		[2]float64{bounds.MinLon, bounds.MinLat},
		[2]float64{bounds.MaxLon, bounds.MaxLat},
		func(_, _ [2]float64, id string) bool {
			stop := idx.stops[id]
			if d := utils.Distance(lat, lon, stop.Lat, stop.Lon); d <= radiusMeters {
				candidates = append(candidates, candidate{stop: stop, distance: d})
			}
			return true
		},
	)

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].distance != candidates[j].distance {
			return candidates[i].distance < candidates[j].distance
		}
		return candidates[i].stop.ID < candidates[j].stop.ID
	})
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	stops := make([]models.Stop, len(candidates))
	for i, c := range candidates {
		stops[i] = c.stop
	}
	return stops
}

// TripExists, RouteExists and StopExists answer reference checks against the
// current snapshot.
func (manager *Manager) TripExists(id string) bool {
	_, ok := manager.GetTrip(id)
	return ok
}

func (manager *Manager) RouteExists(id string) bool {
	_, ok := manager.GetRoute(id)
	return ok
}

func (manager *Manager) StopExists(id string) bool {
	_, ok := manager.GetStop(id)
	return ok
}

// RouteIDForTrip resolves a trip to its route.
func (manager *Manager) RouteIDForTrip(tripID string) (string, bool) {
	trip, ok := manager.GetTrip(tripID)
	if !ok || trip.RouteID == "" {
		return "", false
	}
	return trip.RouteID, true
}
