package rtsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"transitsync.dev/gtfsdb"
	"transitsync.dev/internal/incidents"
	"transitsync.dev/internal/logging"
	"transitsync.dev/internal/models"
	"transitsync.dev/internal/realtime"
)

// FeedOutcome describes what one cycle did with one feed.
type FeedOutcome struct {
	Feed       realtime.FeedKind
	SnapshotID string
	Records    int
	UsingCache bool
	// Skipped is set when no URL is configured for the feed.
	Skipped bool
	Err     error
}

// CycleResult describes one sync cycle.
type CycleResult struct {
	CycleID     string
	StartedAt   time.Time
	Duration    time.Duration
	Vehicles    FeedOutcome
	Predictions FeedOutcome
	Evicted     int
	Incidents   incidents.Result
	// UsingCache is set when any feed was served from the store.
	UsingCache bool
	// Err joins every feed failure. Nil means the cycle succeeded.
	Err error
}

type fetchResult struct {
	data []byte
	err  error
}

// feedPipeline holds the per-record-type steps of a feed.
type feedPipeline[T any] struct {
	kind     realtime.FeedKind
	decode   func([]byte) ([]T, error)
	sanitize func([]T) []T
	cached   func(context.Context) ([]T, error)
	persist  func(context.Context, gtfsdb.RtSnapshot, []T) error
}

// RunCycle runs FETCH, DECODE, SANITIZE, PERSIST, MERGE and EVICT_STALE once.
// Failures are reported in the result, counted in the sync metrics and
// passed to OnUpdateFailed subscribers. The live state of a feed that failed
// is left as it was.
//
// Subscribers are called on the caller's goroutine after the cycle lock is
// released, so a callback may itself call RunCycle or Stop.
func (s *Service) RunCycle(ctx context.Context) CycleResult {
	result, published := s.runCycle(ctx)
	s.notify(result, published)
	return result
}

// notify fans a finished cycle out to subscribers. published is nil when the
// vehicle feed did not refresh.
func (s *Service) notify(result CycleResult, published *liveState) {
	if published != nil {
		s.notifyVehicles(published)
	}
	if result.Err != nil {
		s.notifyFailure(result.Err)
	}
}

func (s *Service) runCycle(ctx context.Context) (CycleResult, *liveState) {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	cycleID := uuid.New()
	started := s.clock.Now()
	s.markAttempt(started)

	ctx, span := s.tracer.Start(ctx, "rtsync.cycle",
		trace.WithAttributes(attribute.String("cycle_id", cycleID.String())))
	defer span.End()

	logger := s.logger.With(slog.String("cycle_id", cycleID.String()))
	result := CycleResult{CycleID: cycleID.String(), StartedAt: started}

	fetched := s.fetchAll(ctx)

	vehicles, vehicleOutcome := runFeed(ctx, s, feedPipeline[models.VehiclePosition]{
		kind:     realtime.FeedVehiclePositions,
		decode:   s.decoder.DecodeVehicles,
		sanitize: s.sanitizer.SanitizeVehicles,
		cached:   s.cachedVehicles,
		persist:  s.persistVehicles,
	}, cycleID, fetched)
	predictions, predictionOutcome := runFeed(ctx, s, feedPipeline[models.ArrivalPrediction]{
		kind:   realtime.FeedTripUpdates,
		decode: s.decoder.DecodeTripUpdates,
		sanitize: func(p []models.ArrivalPrediction) []models.ArrivalPrediction {
			return s.enrichRoutes(s.sanitizer.SanitizePredictions(p))
		},
		cached:  s.cachedPredictions,
		persist: s.persistPredictions,
	}, cycleID, fetched)
	result.Vehicles = vehicleOutcome
	result.Predictions = predictionOutcome
	result.UsingCache = vehicleOutcome.UsingCache || predictionOutcome.UsingCache

	vehiclesOK := !vehicleOutcome.Skipped && vehicleOutcome.Err == nil
	predictionsOK := !predictionOutcome.Skipped && predictionOutcome.Err == nil

	// MERGE
	prev := s.live.Load()
	next := prev
	if vehiclesOK || predictionsOK {
		mergedVehicles := prev.vehicles
		if vehiclesOK {
			mergedVehicles = mergeVehicles(prev.vehicles, vehicles)
		}
		mergedPredictions := prev.predictions
		if predictionsOK {
			mergedPredictions = predictions
		}
		next = newLiveState(mergedVehicles, mergedPredictions)
	}

	// EVICT_STALE
	if vehiclesOK {
		var evicted int
		next, evicted = s.evictStale(ctx, next, logger)
		result.Evicted = evicted
	}
	s.live.Store(next)

	if predictionsOK {
		result.Incidents = s.updateIncidents(ctx, next.predictions, logger)
	}
	s.pruneSnapshots(ctx, logger)

	result.Err = errors.Join(vehicleOutcome.Err, predictionOutcome.Err)
	result.Duration = s.clock.Since(started)
	s.finishCycle(result)

	if result.Err != nil {
		span.RecordError(result.Err)
		span.SetStatus(codes.Error, "sync cycle failed")
		logging.LogError(logger, "Realtime sync cycle failed", result.Err,
			slog.Bool("using_cache", result.UsingCache))
	} else {
		logging.LogOperation(logger, "sync_cycle_completed",
			slog.Int("vehicles", len(next.vehicles)),
			slog.Int("predictions", len(next.predictions)),
			slog.Int("evicted", result.Evicted),
			slog.Bool("using_cache", result.UsingCache),
			slog.Duration("duration", result.Duration))
	}
	span.SetAttributes(
		attribute.Int("vehicles", len(next.vehicles)),
		attribute.Int("predictions", len(next.predictions)),
		attribute.Bool("using_cache", result.UsingCache))

	if !vehiclesOK {
		return result, nil
	}
	return result, next
}

// fetchAll downloads every configured feed in parallel.
func (s *Service) fetchAll(ctx context.Context) map[realtime.FeedKind]fetchResult {
	ctx, span := s.tracer.Start(ctx, "rtsync.fetch")
	defer span.End()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results = make(map[realtime.FeedKind]fetchResult, len(realtime.FeedKinds))
	)
	for _, kind := range realtime.FeedKinds {
		if !s.feedConfigured(kind) {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			data, err := s.fetcher.Fetch(ctx, kind)
			mu.Lock()
			results[kind] = fetchResult{data: data, err: err}
			mu.Unlock()
		}()
	}
	wg.Wait()
	return results
}

func (s *Service) feedConfigured(kind realtime.FeedKind) bool {
	switch kind {
	case realtime.FeedVehiclePositions:
		return s.config.VehiclePositionsURL != ""
	case realtime.FeedTripUpdates:
		return s.config.TripUpdatesURL != ""
	default:
		return false
	}
}

// snapshotID derives the id of one feed's snapshot from the cycle id.
func snapshotID(cycleID uuid.UUID, kind realtime.FeedKind) string {
	return uuid.NewSHA1(cycleID, []byte(kind)).String()
}

// runFeed takes one feed through DECODE, SANITIZE and PERSIST, falling back
// to the cached snapshot when the feed failed or carried nothing.
func runFeed[T any](ctx context.Context, s *Service, p feedPipeline[T], cycleID uuid.UUID, fetched map[realtime.FeedKind]fetchResult) ([]T, FeedOutcome) {
	outcome := FeedOutcome{Feed: p.kind, SnapshotID: snapshotID(cycleID, p.kind)}
	res, ok := fetched[p.kind]
	if !ok {
		outcome.Skipped = true
		return nil, outcome
	}

	records, err := res.data, res.err
	var decoded []T
	if err == nil {
		_, span := s.stageSpan(ctx, "decode", p.kind)
		decoded, err = p.decode(records)
		endStage(span, err)
	}

	now := s.clock.Now()
	if err != nil || len(decoded) == 0 {
		return useCache(ctx, s, p, outcome, err, now)
	}

	_, span := s.stageSpan(ctx, "sanitize", p.kind)
	clean := p.sanitize(decoded)
	endStage(span, nil)

	ctx, span = s.stageSpan(ctx, "persist", p.kind)
	snap := gtfsdb.RtSnapshot{
		SnapshotID:  outcome.SnapshotID,
		Feed:        p.kind.String(),
		PolledAt:    now.UnixMilli(),
		RecordCount: int64(len(clean)),
	}
	err = p.persist(ctx, snap, clean)
	endStage(span, err)
	if err != nil {
		outcome.Err = fmt.Errorf("persist %s: %w", p.kind, err)
		return nil, outcome
	}

	outcome.Records = len(clean)
	return clean, outcome
}

// useCache serves a feed from the store. cause is why the feed itself was
// not usable; nil means it was empty.
func useCache[T any](ctx context.Context, s *Service, p feedPipeline[T], outcome FeedOutcome, cause error, now time.Time) ([]T, FeedOutcome) {
	ctx, span := s.stageSpan(ctx, "cache_fallback", p.kind)
	cached, err := p.cached(ctx)
	if err != nil {
		endStage(span, err)
		outcome.Err = fmt.Errorf("%s unavailable and cache read failed: %w", p.kind, errors.Join(cause, err))
		return nil, outcome
	}
	if len(cached) == 0 {
		endStage(span, cause)
		if cause != nil {
			outcome.Err = fmt.Errorf("%s unavailable and cache empty: %w", p.kind, cause)
			return nil, outcome
		}
		// Empty feed and empty cache: nothing is running.
		return []T{}, outcome
	}
	endStage(span, nil)

	s.metrics.RecordCacheFallback(p.kind.String())
	clean := p.sanitize(cached)
	outcome.UsingCache = true
	outcome.Records = len(clean)

	err = s.store.RecordSnapshot(ctx, gtfsdb.RtSnapshot{
		SnapshotID:  outcome.SnapshotID,
		Feed:        p.kind.String(),
		PolledAt:    now.UnixMilli(),
		RecordCount: int64(len(clean)),
		UsingCache:  true,
	})
	if err != nil {
		logging.LogError(s.logger, "Failed to record cache snapshot", err,
			slog.String("feed", p.kind.String()))
	}

	attrs := []slog.Attr{slog.String("feed", p.kind.String()), slog.Int("records", len(clean))}
	if cause != nil {
		attrs = append(attrs, slog.String("cause", cause.Error()))
	}
	logging.LogWarning(s.logger, "Serving realtime feed from cache", attrs...)
	return clean, outcome
}

func (s *Service) stageSpan(ctx context.Context, stage string, kind realtime.FeedKind) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "rtsync."+stage,
		trace.WithAttributes(attribute.String("feed", kind.String())))
}

func endStage(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (s *Service) cachedVehicles(ctx context.Context) ([]models.VehiclePosition, error) {
	var rows []gtfsdb.VehiclePosition
	err := s.store.Read(ctx, "cached_vehicle_positions", func(q *gtfsdb.Queries) error {
		var err error
		rows, err = q.ListVehiclePositions(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	out := make([]models.VehiclePosition, len(rows))
	for i, row := range rows {
		out[i] = vehicleFromRow(row)
	}
	return out, nil
}

func (s *Service) cachedPredictions(ctx context.Context) ([]models.ArrivalPrediction, error) {
	var rows []gtfsdb.ArrivalPrediction
	err := s.store.Read(ctx, "cached_arrival_predictions", func(q *gtfsdb.Queries) error {
		var err error
		rows, err = q.ListArrivalPredictions(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	out := make([]models.ArrivalPrediction, len(rows))
	for i, row := range rows {
		out[i] = predictionFromRow(row)
	}
	return out, nil
}

func (s *Service) persistVehicles(ctx context.Context, snap gtfsdb.RtSnapshot, vehicles []models.VehiclePosition) error {
	rows := make([]gtfsdb.VehiclePosition, len(vehicles))
	for i, v := range vehicles {
		rows[i] = vehicleToRow(v, snap.SnapshotID)
	}
	return s.store.SaveVehiclePositions(ctx, snap, rows)
}

func (s *Service) persistPredictions(ctx context.Context, snap gtfsdb.RtSnapshot, predictions []models.ArrivalPrediction) error {
	rows := make([]gtfsdb.ArrivalPrediction, len(predictions))
	for i, p := range predictions {
		rows[i] = predictionToRow(p, snap.SnapshotID)
	}
	return s.store.ReplaceArrivalPredictions(ctx, snap, rows)
}

// enrichRoutes fills in the route of predictions that only name a trip.
func (s *Service) enrichRoutes(predictions []models.ArrivalPrediction) []models.ArrivalPrediction {
	for i := range predictions {
		p := &predictions[i]
		if p.RouteID != nil || p.TripID == nil {
			continue
		}
		if routeID, ok := s.static.RouteIDForTrip(*p.TripID); ok {
			p.RouteID = &routeID
		}
	}
	return predictions
}

// mergeVehicles overlays fresh positions on the previous set.
func mergeVehicles(prev, fresh []models.VehiclePosition) []models.VehiclePosition {
	byID := make(map[string]models.VehiclePosition, len(prev)+len(fresh))
	for _, v := range prev {
		byID[v.VehicleID] = v
	}
	for _, v := range fresh {
		byID[v.VehicleID] = v
	}
	merged := make([]models.VehiclePosition, 0, len(byID))
	for _, v := range byID {
		merged = append(merged, v)
	}
	return merged
}

// evictStale drops vehicles whose last fix is older than the staleness
// threshold, in memory and in the store.
func (s *Service) evictStale(ctx context.Context, state *liveState, logger *slog.Logger) (*liveState, int) {
	ctx, span := s.tracer.Start(ctx, "rtsync.evict_stale")
	defer span.End()

	cutoff := s.clock.Now().Add(-s.config.StaleThreshold)
	kept := make([]models.VehiclePosition, 0, len(state.vehicles))
	for _, v := range state.vehicles {
		if !v.Timestamp.Before(cutoff) {
			kept = append(kept, v)
		}
	}
	evicted := len(state.vehicles) - len(kept)

	removed, err := s.store.EvictVehiclePositions(ctx, cutoff.UnixMilli())
	if err != nil {
		span.RecordError(err)
		logging.LogError(logger, "Failed to evict stale vehicles from the store", err)
	}
	if evicted > 0 || removed > 0 {
		logging.LogOperation(logger, "stale_vehicles_evicted",
			slog.Int("live", evicted),
			slog.Int64("stored", removed),
			slog.Time("cutoff", cutoff))
	}
	span.SetAttributes(attribute.Int("evicted", evicted))

	if evicted == 0 {
		return state, 0
	}
	return newLiveState(kept, state.predictions), evicted
}

// updateIncidents aggregates the live predictions and persists the incident
// set. Store failures are logged; the set is written again next cycle.
func (s *Service) updateIncidents(ctx context.Context, predictions []models.ArrivalPrediction, logger *slog.Logger) incidents.Result {
	ctx, span := s.tracer.Start(ctx, "rtsync.incidents")
	defer span.End()

	result := s.incidents.Aggregate(predictions)
	collected := s.incidents.CollectGarbage()

	all := s.incidents.All()
	rows := make([]gtfsdb.Incident, len(all))
	for i, inc := range all {
		rows[i] = incidentToRow(inc)
	}
	if _, err := s.store.SaveIncidents(ctx, rows, s.incidents.RetentionCutoff().UnixMilli()); err != nil {
		span.RecordError(err)
		logging.LogError(logger, "Failed to persist incidents", err)
	}
	if result.Changed() || len(collected) > 0 {
		logging.LogOperation(logger, "incidents_updated",
			slog.Int("created", len(result.Created)),
			slog.Int("updated", len(result.Updated)),
			slog.Int("resolved", len(result.Resolved)),
			slog.Int("collected", len(collected)),
			slog.Int("active", result.Active))
	}
	return result
}

// pruneSnapshots removes poll records older than the retention.
func (s *Service) pruneSnapshots(ctx context.Context, logger *slog.Logger) {
	cutoff := s.clock.Now().Add(-s.config.SnapshotRetention)
	if _, err := s.store.DeleteWhere(ctx, "rt_snapshots", "polled_at < ?", cutoff.UnixMilli()); err != nil {
		logging.LogError(logger, "Failed to prune realtime snapshots", err)
	}
}
