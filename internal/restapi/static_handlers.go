package restapi

import (
	"net/http"
	"strings"

	"transitsync.dev/internal/models"
)

const (
	defaultNearRadius = 500.0
	maxNearRadius     = 5000.0
)

type routeEntry struct {
	Route  models.Route   `json:"route"`
	Agency *models.Agency `json:"agency,omitempty"`
}

type shapeEntry struct {
	ID       string `json:"id"`
	Polyline string `json:"polyline"`
	Points   int    `json:"points"`
}

type regionEntry struct {
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	LatSpan float64 `json:"latSpan"`
	LonSpan float64 `json:"lonSpan"`
}

// staticReady writes a 503 and returns false until static data is indexed.
func (api *RestAPI) staticReady(w http.ResponseWriter, r *http.Request) bool {
	if api.Application == nil || api.GtfsManager == nil || !api.GtfsManager.IsReady() {
		api.sendError(w, r, http.StatusServiceUnavailable, "static data not loaded")
		return false
	}
	return true
}

func (api *RestAPI) agenciesHandler(w http.ResponseWriter, r *http.Request) {
	if !api.staticReady(w, r) {
		return
	}
	api.sendResponse(w, r, newList(api.GtfsManager.GetAgencies(), false))
}

func (api *RestAPI) routeHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := api.pathID(w, r)
	if !ok || !api.staticReady(w, r) {
		return
	}
	route, found := api.GtfsManager.GetRoute(id)
	if !found {
		api.sendNotFound(w, r)
		return
	}
	entry := routeEntry{Route: route}
	if agency, ok := api.GtfsManager.GetAgency(route.AgencyID); ok {
		entry.Agency = &agency
	}
	api.sendResponse(w, r, entry)
}

func (api *RestAPI) tripsForRouteHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := api.pathID(w, r)
	if !ok || !api.staticReady(w, r) {
		return
	}
	if !api.GtfsManager.RouteExists(id) {
		api.sendNotFound(w, r)
		return
	}
	api.sendResponse(w, r, newList(api.GtfsManager.GetTripsForRoute(id), false))
}

func (api *RestAPI) stopHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := api.pathID(w, r)
	if !ok || !api.staticReady(w, r) {
		return
	}
	stop, found := api.GtfsManager.GetStop(id)
	if !found {
		api.sendNotFound(w, r)
		return
	}
	api.sendResponse(w, r, stop)
}

func (api *RestAPI) stopsNearHandler(w http.ResponseWriter, r *http.Request) {
	fieldErrors := make(map[string][]string)
	lat, err := parseFloat(r, "lat")
	if err != nil {
		fieldErrors["lat"] = []string{err.Error()}
	} else if lat < -90 || lat > 90 {
		fieldErrors["lat"] = []string{"lat must be between -90 and 90"}
	}
	lon, err := parseFloat(r, "lon")
	if err != nil {
		fieldErrors["lon"] = []string{err.Error()}
	} else if lon < -180 || lon > 180 {
		fieldErrors["lon"] = []string{"lon must be between -180 and 180"}
	}
	radius := defaultNearRadius
	if r.URL.Query().Get("radius") != "" {
		radius, err = parseFloat(r, "radius")
		if err != nil || radius <= 0 {
			fieldErrors["radius"] = []string{"radius must be a positive number of meters"}
		}
	}
	limit, err := parseLimit(r)
	if err != nil {
		fieldErrors["limit"] = []string{err.Error()}
	}
	if len(fieldErrors) > 0 {
		api.validationErrorResponse(w, r, fieldErrors)
		return
	}
	if !api.staticReady(w, r) {
		return
	}

	stops, exceeded := truncate(api.GtfsManager.GetStopsNear(lat, lon, min(radius, maxNearRadius), limit+1), limit)
	api.sendResponse(w, r, newList(stops, exceeded))
}

func (api *RestAPI) stopsForTripHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := api.pathID(w, r)
	if !ok || !api.staticReady(w, r) {
		return
	}
	if !api.GtfsManager.TripExists(id) {
		api.sendNotFound(w, r)
		return
	}
	api.sendResponse(w, r, newList(api.GtfsManager.GetStopsForTrip(id), false))
}

func (api *RestAPI) shapeHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := api.pathID(w, r)
	if !ok || !api.staticReady(w, r) {
		return
	}
	encoded, found := api.GtfsManager.GetShapePolyline(id)
	if !found {
		api.sendNotFound(w, r)
		return
	}
	api.sendResponse(w, r, shapeEntry{
		ID:       id,
		Polyline: encoded,
		Points:   len(api.GtfsManager.GetShapePoints(id)),
	})
}

func (api *RestAPI) regionHandler(w http.ResponseWriter, r *http.Request) {
	if !api.staticReady(w, r) {
		return
	}
	lat, lon, latSpan, lonSpan := api.GtfsManager.GetRegionBounds()
	api.sendResponse(w, r, regionEntry{Lat: lat, Lon: lon, LatSpan: latSpan, LonSpan: lonSpan})
}

// searchQuery reads the required ?q= and ?limit= of the search endpoints.
func (api *RestAPI) searchQuery(w http.ResponseWriter, r *http.Request) (string, int, bool) {
	fieldErrors := make(map[string][]string)
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		fieldErrors["q"] = []string{"q is required"}
	}
	limit, err := parseLimit(r)
	if err != nil {
		fieldErrors["limit"] = []string{err.Error()}
	}
	if len(fieldErrors) > 0 {
		api.validationErrorResponse(w, r, fieldErrors)
		return "", 0, false
	}
	return q, limit, api.staticReady(w, r)
}

func (api *RestAPI) searchRoutesHandler(w http.ResponseWriter, r *http.Request) {
	q, limit, ok := api.searchQuery(w, r)
	if !ok {
		return
	}
	routes, exceeded := truncate(api.GtfsManager.SearchRoutes(q, limit+1), limit)
	api.sendResponse(w, r, newList(routes, exceeded))
}

func (api *RestAPI) searchStopsHandler(w http.ResponseWriter, r *http.Request) {
	q, limit, ok := api.searchQuery(w, r)
	if !ok {
		return
	}
	stops, exceeded := truncate(api.GtfsManager.SearchStops(q, limit+1), limit)
	api.sendResponse(w, r, newList(stops, exceeded))
}
