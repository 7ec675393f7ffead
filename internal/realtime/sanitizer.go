package realtime

import (
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"transitsync.dev/internal/clock"
	"transitsync.dev/internal/logging"
	"transitsync.dev/internal/metrics"
	"transitsync.dev/internal/models"
)

// ReportInterval bounds how often the aggregate invalid-reference line is
// logged.
const ReportInterval = 30 * time.Second

// Lookups answers reference checks against the current static snapshot.
// *gtfs.Manager satisfies it.
type Lookups interface {
	TripExists(id string) bool
	RouteExists(id string) bool
	StopExists(id string) bool
}

// InvalidCounts is a snapshot of the invalid-reference counters.
type InvalidCounts struct {
	Trips  int64
	Routes int64
	Stops  int64
}

func (c InvalidCounts) Total() int64 {
	return c.Trips + c.Routes + c.Stops
}

// Sanitizer clears references to static entities that do not exist. Records
// are never dropped: a vehicle with an unknown trip still has a position
// worth showing.
type Sanitizer struct {
	lookups Lookups
	metrics *metrics.Metrics
	clock   clock.Clock
	logger  *slog.Logger

	invalidTrips  atomic.Int64
	invalidRoutes atomic.Int64
	invalidStops  atomic.Int64

	limiter *rate.Limiter
}

func NewSanitizer(lookups Lookups, mt *metrics.Metrics, c clock.Clock) *Sanitizer {
	return &Sanitizer{
		lookups: lookups,
		metrics: mt,
		clock:   clock.OrReal(c),
		logger:  slog.Default().With(slog.String("component", "fk_sanitizer")),
		limiter: rate.NewLimiter(rate.Every(ReportInterval), 1),
	}
}

// checkRef returns ref if it resolves, or nil. Unresolved references are
// counted on counter.
func (s *Sanitizer) checkRef(ref *string, exists func(string) bool, counter *atomic.Int64) *string {
	if ref == nil {
		return nil
	}
	if exists(*ref) {
		v := *ref
		return &v
	}
	counter.Add(1)
	return nil
}

// SanitizeVehicles returns copies of vehicles with unknown trip, route and
// stop references set to nil.
func (s *Sanitizer) SanitizeVehicles(vehicles []models.VehiclePosition) []models.VehiclePosition {
	out := make([]models.VehiclePosition, len(vehicles))
	for i, v := range vehicles {
		v.TripID = s.checkRef(v.TripID, s.lookups.TripExists, &s.invalidTrips)
		v.RouteID = s.checkRef(v.RouteID, s.lookups.RouteExists, &s.invalidRoutes)
		v.StopID = s.checkRef(v.StopID, s.lookups.StopExists, &s.invalidStops)
		if v.OccupancyPercent != nil {
			pct := *v.OccupancyPercent
			v.OccupancyPercent = &pct
		}
		out[i] = v
	}
	s.Report()
	return out
}

// SanitizePredictions is SanitizeVehicles for arrival predictions.
func (s *Sanitizer) SanitizePredictions(predictions []models.ArrivalPrediction) []models.ArrivalPrediction {
	out := make([]models.ArrivalPrediction, len(predictions))
	for i, p := range predictions {
		p.TripID = s.checkRef(p.TripID, s.lookups.TripExists, &s.invalidTrips)
		p.RouteID = s.checkRef(p.RouteID, s.lookups.RouteExists, &s.invalidRoutes)
		p.StopID = s.checkRef(p.StopID, s.lookups.StopExists, &s.invalidStops)
		p.PredictedArrival = cloneTime(p.PredictedArrival)
		p.PredictedDeparture = cloneTime(p.PredictedDeparture)
		out[i] = p
	}
	s.Report()
	return out
}

// Pending returns the counts accumulated since the last report.
func (s *Sanitizer) Pending() InvalidCounts {
	return InvalidCounts{
		Trips:  s.invalidTrips.Load(),
		Routes: s.invalidRoutes.Load(),
		Stops:  s.invalidStops.Load(),
	}
}

// Report logs one aggregate line and resets the counters, at most once per
// ReportInterval and only if something was counted. It returns whether a
// line was written.
func (s *Sanitizer) Report() bool {
	if s.Pending().Total() == 0 {
		return false
	}
	if !s.limiter.AllowN(s.clock.Now(), 1) {
		return false
	}

	counts := InvalidCounts{
		Trips:  s.invalidTrips.Swap(0),
		Routes: s.invalidRoutes.Swap(0),
		Stops:  s.invalidStops.Swap(0),
	}
	s.metrics.AddInvalidReferences("trip_id", counts.Trips)
	s.metrics.AddInvalidReferences("route_id", counts.Routes)
	s.metrics.AddInvalidReferences("stop_id", counts.Stops)

	logging.LogWarning(s.logger, "Live records referenced unknown static entities",
		slog.Int64("invalid_trip_ids", counts.Trips),
		slog.Int64("invalid_route_ids", counts.Routes),
		slog.Int64("invalid_stop_ids", counts.Stops),
		slog.Duration("window", ReportInterval))
	return true
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
