package rtsync

import (
	"sort"
	"time"

	"transitsync.dev/internal/models"
)

// Health thresholds on the age of the last successful cycle.
const (
	HealthyWithin = 2 * time.Minute
	WarningWithin = 5 * time.Minute
)

type HealthState string

const (
	HealthHealthy   HealthState = "HEALTHY"
	HealthWarning   HealthState = "WARNING"
	HealthUnhealthy HealthState = "UNHEALTHY"
	HealthStopped   HealthState = "STOPPED"
	HealthStarting  HealthState = "STARTING"
)

// SyncMetrics is a point-in-time view of the sync counters.
type SyncMetrics struct {
	TotalCycles      int64       `json:"totalCycles"`
	SuccessfulCycles int64       `json:"successfulCycles"`
	FailedCycles     int64       `json:"failedCycles"`
	LastSuccess      time.Time   `json:"lastSuccess"`
	LastAttempt      time.Time   `json:"lastAttempt"`
	VehicleCount     int         `json:"vehicleCount"`
	PredictionCount  int         `json:"predictionCount"`
	IncidentCount    int         `json:"incidentCount"`
	UsingCache       bool        `json:"usingCache"`
	LastError        string      `json:"lastError,omitempty"`
	Health           HealthState `json:"health"`
	Running          bool        `json:"running"`
}

// liveState is published whole; it is never modified after Store.
type liveState struct {
	vehicles    []models.VehiclePosition
	byID        map[string]int
	predictions []models.ArrivalPrediction
}

func newLiveState(vehicles []models.VehiclePosition, predictions []models.ArrivalPrediction) *liveState {
	sorted := make([]models.VehiclePosition, len(vehicles))
	copy(sorted, vehicles)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].VehicleID < sorted[j].VehicleID })

	byID := make(map[string]int, len(sorted))
	for i, v := range sorted {
		byID[v.VehicleID] = i
	}
	if predictions == nil {
		predictions = []models.ArrivalPrediction{}
	}
	return &liveState{vehicles: sorted, byID: byID, predictions: predictions}
}

func cloneVehicle(v models.VehiclePosition) models.VehiclePosition {
	v.RouteID = cloneString(v.RouteID)
	v.TripID = cloneString(v.TripID)
	v.StopID = cloneString(v.StopID)
	if v.OccupancyPercent != nil {
		pct := *v.OccupancyPercent
		v.OccupancyPercent = &pct
	}
	return v
}

func clonePrediction(p models.ArrivalPrediction) models.ArrivalPrediction {
	p.TripID = cloneString(p.TripID)
	p.RouteID = cloneString(p.RouteID)
	p.StopID = cloneString(p.StopID)
	if p.PredictedArrival != nil {
		t := *p.PredictedArrival
		p.PredictedArrival = &t
	}
	if p.PredictedDeparture != nil {
		t := *p.PredictedDeparture
		p.PredictedDeparture = &t
	}
	return p
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// GetActiveVehiclePositions returns copies of the live vehicles ordered by
// vehicle id.
func (s *Service) GetActiveVehiclePositions() []models.VehiclePosition {
	state := s.live.Load()
	out := make([]models.VehiclePosition, len(state.vehicles))
	for i, v := range state.vehicles {
		out[i] = cloneVehicle(v)
	}
	return out
}

func (s *Service) GetVehiclePositionsForRoute(routeID string) []models.VehiclePosition {
	state := s.live.Load()
	out := make([]models.VehiclePosition, 0)
	for _, v := range state.vehicles {
		if v.RouteID != nil && *v.RouteID == routeID {
			out = append(out, cloneVehicle(v))
		}
	}
	return out
}

func (s *Service) GetVehicleByID(id string) (models.VehiclePosition, bool) {
	state := s.live.Load()
	i, ok := state.byID[id]
	if !ok {
		return models.VehiclePosition{}, false
	}
	return cloneVehicle(state.vehicles[i]), true
}

// GetPredictionsForStop returns the live predictions for a stop ordered by
// predicted arrival, unknown arrivals last.
func (s *Service) GetPredictionsForStop(stopID string) []models.ArrivalPrediction {
	state := s.live.Load()
	out := make([]models.ArrivalPrediction, 0)
	for _, p := range state.predictions {
		if p.StopID != nil && *p.StopID == stopID {
			out = append(out, clonePrediction(p))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].PredictedArrival, out[j].PredictedArrival
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.Before(*b)
		}
	})
	return out
}

// GetPredictionsForTrip returns the live predictions of a trip in stop order.
func (s *Service) GetPredictionsForTrip(tripID string) []models.ArrivalPrediction {
	state := s.live.Load()
	out := make([]models.ArrivalPrediction, 0)
	for _, p := range state.predictions {
		if p.TripID != nil && *p.TripID == tripID {
			out = append(out, clonePrediction(p))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StopSequence < out[j].StopSequence })
	return out
}

func (s *Service) GetActiveIncidents() []models.Incident {
	return s.incidents.Active()
}

func (s *Service) GetIncidentCountsBySeverity() map[models.Severity]int {
	return s.incidents.CountsBySeverity()
}

// Metrics returns the sync counters with the health derived at call time.
func (s *Service) Metrics() SyncMetrics {
	s.statsMu.RLock()
	m := s.stats
	s.statsMu.RUnlock()

	m.Running = s.IsRunning()
	m.Health = s.healthAt(m.Running, m.LastSuccess)
	return m
}

// Health derives the sync health from the last successful cycle.
func (s *Service) Health() HealthState {
	return s.Metrics().Health
}

// IsHealthy is true only in the HEALTHY state.
func (s *Service) IsHealthy() bool {
	return s.Health() == HealthHealthy
}

func (s *Service) healthAt(running bool, lastSuccess time.Time) HealthState {
	if !running {
		return HealthStopped
	}
	if lastSuccess.IsZero() {
		return HealthStarting
	}
	age := s.clock.Since(lastSuccess)
	switch {
	case age < HealthyWithin:
		return HealthHealthy
	case age < WarningWithin:
		return HealthWarning
	default:
		return HealthUnhealthy
	}
}

func (s *Service) markAttempt(at time.Time) {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	s.stats.LastAttempt = at
}

func (s *Service) finishCycle(result CycleResult) {
	state := s.live.Load()
	active := len(s.incidents.Active())

	s.statsMu.Lock()
	s.stats.TotalCycles++
	if result.Err == nil {
		s.stats.SuccessfulCycles++
		s.stats.LastSuccess = s.clock.Now()
		s.stats.LastError = ""
	} else {
		s.stats.FailedCycles++
		s.stats.LastError = result.Err.Error()
	}
	s.stats.UsingCache = result.UsingCache
	s.stats.VehicleCount = len(state.vehicles)
	s.stats.PredictionCount = len(state.predictions)
	s.stats.IncidentCount = active
	s.statsMu.Unlock()

	label := "success"
	switch {
	case result.Err != nil:
		label = "failure"
	case result.UsingCache:
		label = "cache"
	}
	s.metrics.RecordSyncCycle(label, result.Duration)
	s.metrics.SetLiveCounts(len(state.vehicles), active)
}

// updateCounts refreshes the live counts outside a cycle.
func (s *Service) updateCounts() {
	state := s.live.Load()
	active := len(s.incidents.Active())

	s.statsMu.Lock()
	s.stats.VehicleCount = len(state.vehicles)
	s.stats.PredictionCount = len(state.predictions)
	s.stats.IncidentCount = active
	s.statsMu.Unlock()

	s.metrics.SetLiveCounts(len(state.vehicles), active)
}

// OnVehiclesUpdated registers fn to receive a copy of the live vehicles after
// every cycle that merged vehicle positions. The returned func unregisters
// it.
func (s *Service) OnVehiclesUpdated(fn func([]models.VehiclePosition)) func() {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	id := s.nextSubID
	s.nextSubID++
	s.vehicleSubs[id] = fn
	return func() {
		s.subsMu.Lock()
		defer s.subsMu.Unlock()
		delete(s.vehicleSubs, id)
	}
}

// OnUpdateFailed registers fn to receive the error of every failed cycle.
func (s *Service) OnUpdateFailed(fn func(error)) func() {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	id := s.nextSubID
	s.nextSubID++
	s.failureSubs[id] = fn
	return func() {
		s.subsMu.Lock()
		defer s.subsMu.Unlock()
		delete(s.failureSubs, id)
	}
}

func (s *Service) notifyVehicles(state *liveState) {
	s.subsMu.RLock()
	subs := make([]func([]models.VehiclePosition), 0, len(s.vehicleSubs))
	for _, fn := range s.vehicleSubs {
		subs = append(subs, fn)
	}
	s.subsMu.RUnlock()

	for _, fn := range subs {
		vehicles := make([]models.VehiclePosition, len(state.vehicles))
		for i, v := range state.vehicles {
			vehicles[i] = cloneVehicle(v)
		}
		fn(vehicles)
	}
}

func (s *Service) notifyFailure(err error) {
	s.subsMu.RLock()
	subs := make([]func(error), 0, len(s.failureSubs))
	for _, fn := range s.failureSubs {
		subs = append(subs, fn)
	}
	s.subsMu.RUnlock()

	for _, fn := range subs {
		fn(err)
	}
}
