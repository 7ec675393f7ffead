package restapi

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Cache-Control max-age per tier, in seconds. Live data is never cached.
const (
	staticCacheSeconds = 300
	liveCacheSeconds   = 0
)

func cached(seconds int, h http.HandlerFunc) http.Handler {
	return CacheControlMiddleware(seconds, h)
}

// SetRoutes registers every API endpoint on mux.
func (api *RestAPI) SetRoutes(mux *http.ServeMux) {
	mux.Handle("GET /api/agencies", cached(staticCacheSeconds, api.agenciesHandler))
	mux.Handle("GET /api/region", cached(staticCacheSeconds, api.regionHandler))
	mux.Handle("GET /api/routes/{id}", cached(staticCacheSeconds, api.routeHandler))
	mux.Handle("GET /api/routes/{id}/trips", cached(staticCacheSeconds, api.tripsForRouteHandler))
	mux.Handle("GET /api/stops/near", cached(staticCacheSeconds, api.stopsNearHandler))
	mux.Handle("GET /api/stops/{id}", cached(staticCacheSeconds, api.stopHandler))
	mux.Handle("GET /api/trips/{id}/stops", cached(staticCacheSeconds, api.stopsForTripHandler))
	mux.Handle("GET /api/shapes/{id}", cached(staticCacheSeconds, api.shapeHandler))
	mux.Handle("GET /api/search/routes", cached(staticCacheSeconds, api.searchRoutesHandler))
	mux.Handle("GET /api/search/stops", cached(staticCacheSeconds, api.searchStopsHandler))

	mux.Handle("GET /api/routes/{id}/vehicles", cached(liveCacheSeconds, api.vehiclesForRouteHandler))
	mux.Handle("GET /api/stops/{id}/arrivals", cached(liveCacheSeconds, api.arrivalsForStopHandler))
	mux.Handle("GET /api/trips/{id}/predictions", cached(liveCacheSeconds, api.predictionsForTripHandler))
	mux.Handle("GET /api/vehicles", cached(liveCacheSeconds, api.vehiclesHandler))
	mux.Handle("GET /api/vehicles/{id}", cached(liveCacheSeconds, api.vehicleHandler))
	mux.Handle("GET /api/incidents", cached(liveCacheSeconds, api.incidentsHandler))
	mux.Handle("GET /api/sync/status", cached(liveCacheSeconds, api.syncStatusHandler))

	mux.HandleFunc("GET /healthz", api.healthHandler)
	if api.Application != nil && api.Metrics != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(api.Metrics.Registry, promhttp.HandlerOpts{}))
	}
}
