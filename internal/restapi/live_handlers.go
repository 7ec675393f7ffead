package restapi

import (
	"net/http"
	"time"

	"transitsync.dev/internal/models"
	"transitsync.dev/internal/rtsync"
)

type vehicleEntry struct {
	models.VehiclePosition
	AgeSeconds int64 `json:"ageSeconds"`
	Stale      bool  `json:"stale"`
}

type incidentsEntry struct {
	List   []models.Incident       `json:"list"`
	Counts map[models.Severity]int `json:"counts"`
}

func (api *RestAPI) sync() *rtsync.Service {
	if api.Application == nil {
		return nil
	}
	return api.Sync
}

func (api *RestAPI) vehicleEntries(vehicles []models.VehiclePosition) []vehicleEntry {
	now := api.clock().Now()
	out := make([]vehicleEntry, len(vehicles))
	for i, v := range vehicles {
		out[i] = vehicleEntry{
			VehiclePosition: v,
			AgeSeconds:      int64(api.stale.Age(v, now) / time.Second),
			Stale:           api.stale.Check(v, now),
		}
	}
	return out
}

func (api *RestAPI) vehiclesHandler(w http.ResponseWriter, r *http.Request) {
	var vehicles []models.VehiclePosition
	if s := api.sync(); s != nil {
		vehicles = s.GetActiveVehiclePositions()
	}
	api.sendResponse(w, r, newList(api.vehicleEntries(vehicles), false))
}

func (api *RestAPI) vehicleHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := api.pathID(w, r)
	if !ok {
		return
	}
	s := api.sync()
	if s == nil {
		api.sendNotFound(w, r)
		return
	}
	vehicle, found := s.GetVehicleByID(id)
	if !found {
		api.sendNotFound(w, r)
		return
	}
	api.sendResponse(w, r, api.vehicleEntries([]models.VehiclePosition{vehicle})[0])
}

func (api *RestAPI) vehiclesForRouteHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := api.pathID(w, r)
	if !ok || !api.staticReady(w, r) {
		return
	}
	if !api.GtfsManager.RouteExists(id) {
		api.sendNotFound(w, r)
		return
	}
	var vehicles []models.VehiclePosition
	if s := api.sync(); s != nil {
		vehicles = s.GetVehiclePositionsForRoute(id)
	}
	api.sendResponse(w, r, newList(api.vehicleEntries(vehicles), false))
}

func (api *RestAPI) arrivalsForStopHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := api.pathID(w, r)
	if !ok || !api.staticReady(w, r) {
		return
	}
	if !api.GtfsManager.StopExists(id) {
		api.sendNotFound(w, r)
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		api.validationErrorResponse(w, r, map[string][]string{"limit": {err.Error()}})
		return
	}
	var predictions []models.ArrivalPrediction
	if s := api.sync(); s != nil {
		predictions = s.GetPredictionsForStop(id)
	}
	predictions, exceeded := truncate(predictions, limit)
	api.sendResponse(w, r, newList(predictions, exceeded))
}

func (api *RestAPI) predictionsForTripHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := api.pathID(w, r)
	if !ok || !api.staticReady(w, r) {
		return
	}
	if !api.GtfsManager.TripExists(id) {
		api.sendNotFound(w, r)
		return
	}
	var predictions []models.ArrivalPrediction
	if s := api.sync(); s != nil {
		predictions = s.GetPredictionsForTrip(id)
	}
	api.sendResponse(w, r, newList(predictions, false))
}

// incidentsHandler lists active incidents, optionally filtered by
// ?severity=LOW|MEDIUM|HIGH. Counts always cover every active incident.
func (api *RestAPI) incidentsHandler(w http.ResponseWriter, r *http.Request) {
	severity := models.Severity(r.URL.Query().Get("severity"))
	switch severity {
	case "", models.SeverityLow, models.SeverityMedium, models.SeverityHigh:
	default:
		api.validationErrorResponse(w, r, map[string][]string{
			"severity": {"severity must be one of LOW, MEDIUM, HIGH"},
		})
		return
	}

	entry := incidentsEntry{
		List: []models.Incident{},
		Counts: map[models.Severity]int{
			models.SeverityLow:    0,
			models.SeverityMedium: 0,
			models.SeverityHigh:   0,
		},
	}
	if s := api.sync(); s != nil {
		for _, incident := range s.GetActiveIncidents() {
			if severity == "" || incident.Severity == severity {
				entry.List = append(entry.List, incident)
			}
		}
		entry.Counts = s.GetIncidentCountsBySeverity()
	}
	api.sendResponse(w, r, entry)
}

func (api *RestAPI) syncStatusHandler(w http.ResponseWriter, r *http.Request) {
	s := api.sync()
	if s == nil {
		api.sendError(w, r, http.StatusServiceUnavailable, "realtime sync not configured")
		return
	}
	api.sendResponse(w, r, s.Metrics())
}
