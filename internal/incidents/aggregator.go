// Package incidents turns per-stop arrival delays into route-level delay
// incidents with a create, update and resolve lifecycle.
package incidents

import (
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"transitsync.dev/internal/clock"
	"transitsync.dev/internal/logging"
	"transitsync.dev/internal/models"
)

const (
	// LowDelayThreshold is the delay from which a prediction counts as late.
	LowDelayThreshold    = 5 * time.Minute
	MediumDelayThreshold = 10 * time.Minute
	HighDelayThreshold   = 15 * time.Minute

	// MinAffectedTrips is how many late trips a route needs before it gets
	// an incident.
	MinAffectedTrips = 3

	DefaultRetention = 24 * time.Hour
)

// RouteNamer resolves a route for the incident location. *gtfs.Manager
// satisfies it.
type RouteNamer interface {
	GetRoute(id string) (models.Route, bool)
}

// Result summarizes one aggregation.
type Result struct {
	TotalPredictions      int
	QualifyingPredictions int
	// UnroutedPredictions are late predictions with no route to group on.
	UnroutedPredictions int

	Created  []string
	Updated  []string
	Resolved []string
	Active   int
}

// Changed reports whether the incident set differs from before the run.
func (r Result) Changed() bool {
	return len(r.Created) > 0 || len(r.Updated) > 0 || len(r.Resolved) > 0
}

// Aggregator owns the incident set. Aggregate, Restore and CollectGarbage
// are meant for a single writer; reads go through an atomically published
// snapshot and never wait for a writer.
type Aggregator struct {
	clock     clock.Clock
	routes    RouteNamer
	retention time.Duration
	logger    *slog.Logger

	mu        sync.Mutex
	incidents map[string]*models.Incident

	snapshot atomic.Pointer[[]models.Incident]
}

// NewAggregator builds an empty aggregator. routes may be nil, in which case
// incident locations fall back to route ids. A zero retention uses
// DefaultRetention.
func NewAggregator(c clock.Clock, routes RouteNamer, retention time.Duration) *Aggregator {
	if retention <= 0 {
		retention = DefaultRetention
	}
	a := &Aggregator{
		clock:     clock.OrReal(c),
		routes:    routes,
		retention: retention,
		logger:    slog.Default().With(slog.String("component", "incident_aggregator")),
		incidents: make(map[string]*models.Incident),
	}
	a.publish()
	return a
}

// SeverityFor maps a mean delay onto a severity. Delays below the LOW
// threshold have none.
func SeverityFor(meanDelay time.Duration) (models.Severity, bool) {
	switch {
	case meanDelay >= HighDelayThreshold:
		return models.SeverityHigh, true
	case meanDelay >= MediumDelayThreshold:
		return models.SeverityMedium, true
	case meanDelay >= LowDelayThreshold:
		return models.SeverityLow, true
	default:
		return "", false
	}
}

// routeDelay holds the delay of each late trip on one route. A trip with
// several late stops counts once, at its worst delay.
type routeDelay struct {
	byTrip map[string]int
}

func (d *routeDelay) add(tripKey string, delaySeconds int) {
	if cur, ok := d.byTrip[tripKey]; !ok || delaySeconds > cur {
		d.byTrip[tripKey] = delaySeconds
	}
}

func (d *routeDelay) trips() int {
	return len(d.byTrip)
}

func (d *routeDelay) mean() time.Duration {
	total := 0
	for _, seconds := range d.byTrip {
		total += seconds
	}
	return time.Duration(float64(total) / float64(len(d.byTrip)) * float64(time.Second))
}

// tripKey identifies the trip a prediction belongs to. Predictions without
// a trip each stand for their own unit.
func tripKey(p models.ArrivalPrediction, index int) string {
	if p.TripID != nil && *p.TripID != "" {
		return "trip:" + *p.TripID
	}
	return fmt.Sprintf("prediction:%d", index)
}

// Aggregate updates the incident set from the predictions of one cycle.
// Running it twice on the same input leaves the set unchanged the second
// time.
func (a *Aggregator) Aggregate(predictions []models.ArrivalPrediction) Result {
	result := Result{TotalPredictions: len(predictions)}
	byRoute := make(map[string]*routeDelay)
	lowSeconds := int(LowDelayThreshold / time.Second)

	for i, p := range predictions {
		if p.DelaySeconds < lowSeconds {
			continue
		}
		result.QualifyingPredictions++
		if p.RouteID == nil || *p.RouteID == "" {
			result.UnroutedPredictions++
			continue
		}
		d := byRoute[*p.RouteID]
		if d == nil {
			d = &routeDelay{byTrip: make(map[string]int)}
			byRoute[*p.RouteID] = d
		}
		d.add(tripKey(p, i), p.DelaySeconds)
	}

	now := a.clock.Now().UTC()

	a.mu.Lock()
	defer a.mu.Unlock()

	qualifying := make(map[string]bool)
	for _, routeID := range sortedKeys(byRoute) {
		d := byRoute[routeID]
		if d.trips() < MinAffectedTrips {
			continue
		}
		severity, ok := SeverityFor(d.mean())
		if !ok {
			continue
		}
		id := models.DelayIncidentID(routeID)
		qualifying[id] = true

		switch a.upsert(id, routeID, severity, d, now) {
		case upsertCreated:
			result.Created = append(result.Created, id)
		case upsertUpdated:
			result.Updated = append(result.Updated, id)
		}
	}

	for _, id := range sortedKeys(a.incidents) {
		inc := a.incidents[id]
		if !inc.Active || inc.Type != models.IncidentDelay || qualifying[id] {
			continue
		}
		end := now
		inc.Active = false
		inc.EndTime = &end
		result.Resolved = append(result.Resolved, id)
		logging.LogOperation(a.logger, "incident_resolved",
			slog.String("incident_id", id),
			slog.Duration("duration", end.Sub(inc.StartTime)))
	}

	result.Active = a.publish()
	return result
}

type upsertOutcome int

const (
	upsertUnchanged upsertOutcome = iota
	upsertCreated
	upsertUpdated
)

func (a *Aggregator) upsert(id, routeID string, severity models.Severity, d *routeDelay, now time.Time) upsertOutcome {
	description := describe(d)
	affected := []string{routeID}

	inc, ok := a.incidents[id]
	if !ok || !inc.Active {
		// A retired incident that qualifies again starts a new occurrence.
		a.incidents[id] = &models.Incident{
			ID:             id,
			Type:           models.IncidentDelay,
			Severity:       severity,
			Location:       a.location(routeID),
			Description:    description,
			AffectedRoutes: affected,
			StartTime:      now,
			Active:         true,
		}
		logging.LogOperation(a.logger, "incident_created",
			slog.String("incident_id", id),
			slog.String("severity", string(severity)),
			slog.Int("trips", d.trips()))
		return upsertCreated
	}

	if inc.Severity == severity && inc.Description == description && slices.Equal(inc.AffectedRoutes, affected) {
		return upsertUnchanged
	}
	if inc.Severity != severity {
		logging.LogOperation(a.logger, "incident_severity_changed",
			slog.String("incident_id", id),
			slog.String("from", string(inc.Severity)),
			slog.String("to", string(severity)))
	}
	inc.Severity = severity
	inc.Description = description
	inc.AffectedRoutes = affected
	return upsertUpdated
}

func describe(d *routeDelay) string {
	minutes := int(math.Round(d.mean().Minutes()))
	return fmt.Sprintf("Ritardo medio di %d minuti su %d corse", minutes, d.trips())
}

func (a *Aggregator) location(routeID string) string {
	if a.routes != nil {
		if route, ok := a.routes.GetRoute(routeID); ok && route.ShortName != "" {
			return route.ShortName
		}
	}
	return routeID
}

// Restore replaces the incident set, typically with what the store held
// before a restart.
func (a *Aggregator) Restore(incidents []models.Incident) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.incidents = make(map[string]*models.Incident, len(incidents))
	for _, inc := range incidents {
		c := inc.Clone()
		a.incidents[c.ID] = &c
	}
	a.publish()
}

// CollectGarbage forgets retired incidents that ended more than the
// retention ago and returns their ids.
func (a *Aggregator) CollectGarbage() []string {
	cutoff := a.RetentionCutoff()

	a.mu.Lock()
	defer a.mu.Unlock()

	var removed []string
	for _, id := range sortedKeys(a.incidents) {
		inc := a.incidents[id]
		if inc.Active || inc.EndTime == nil || !inc.EndTime.Before(cutoff) {
			continue
		}
		delete(a.incidents, id)
		removed = append(removed, id)
	}
	if len(removed) > 0 {
		a.publish()
	}
	return removed
}

// RetentionCutoff is the end time before which retired incidents are
// collected.
func (a *Aggregator) RetentionCutoff() time.Time {
	return a.clock.Now().Add(-a.retention)
}

// All returns every known incident, retired ones included, ordered by id.
func (a *Aggregator) All() []models.Incident {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]models.Incident, 0, len(a.incidents))
	for _, id := range sortedKeys(a.incidents) {
		out = append(out, a.incidents[id].Clone())
	}
	return out
}

// Active returns copies of the active incidents ordered by id.
func (a *Aggregator) Active() []models.Incident {
	snap := *a.snapshot.Load()
	out := make([]models.Incident, len(snap))
	for i, inc := range snap {
		out[i] = inc.Clone()
	}
	return out
}

// CountsBySeverity counts active incidents per severity. Every severity is
// present in the map.
func (a *Aggregator) CountsBySeverity() map[models.Severity]int {
	counts := map[models.Severity]int{
		models.SeverityLow:    0,
		models.SeverityMedium: 0,
		models.SeverityHigh:   0,
	}
	for _, inc := range *a.snapshot.Load() {
		counts[inc.Severity]++
	}
	return counts
}

// publish rebuilds the reader snapshot. a.mu must be held.
func (a *Aggregator) publish() int {
	active := make([]models.Incident, 0)
	for _, id := range sortedKeys(a.incidents) {
		if inc := a.incidents[id]; inc.Active {
			active = append(active, inc.Clone())
		}
	}
	a.snapshot.Store(&active)
	return len(active)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
