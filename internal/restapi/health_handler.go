package restapi

import (
	"encoding/json"
	"net/http"

	"transitsync.dev/internal/logging"
	"transitsync.dev/internal/rtsync"
)

// HealthResponse represents the JSON response from the health endpoint.
type HealthResponse struct {
	Status   string             `json:"status"`
	Detail   string             `json:"detail,omitempty"`
	Realtime rtsync.HealthState `json:"realtime,omitempty"`
}

func writeHealth(w http.ResponseWriter, code int, resp HealthResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}

// healthHandler reports readiness: the store answers, the static index is
// built and a running realtime sync has succeeded recently. A sync in the
// WARNING band still serves traffic and reports "degraded".
func (api *RestAPI) healthHandler(w http.ResponseWriter, r *http.Request) {
	if api.Application == nil || api.GtfsManager == nil || api.GtfsManager.GtfsDB == nil || api.GtfsManager.GtfsDB.DB == nil {
		writeHealth(w, http.StatusServiceUnavailable, HealthResponse{
			Status: "unavailable",
			Detail: "database not initialized",
		})
		return
	}

	if !api.GtfsManager.IsReady() {
		writeHealth(w, http.StatusServiceUnavailable, HealthResponse{
			Status: "starting",
			Detail: "static data is being loaded and indexed",
		})
		return
	}

	if err := api.GtfsManager.GtfsDB.DB.PingContext(r.Context()); err != nil {
		logging.LogError(api.logger(), "Store ping failed", err)
		writeHealth(w, http.StatusServiceUnavailable, HealthResponse{
			Status: "unavailable",
			Detail: "database connection failed",
		})
		return
	}

	s := api.sync()
	if s == nil {
		writeHealth(w, http.StatusOK, HealthResponse{Status: "ok"})
		return
	}

	state := s.Health()
	switch state {
	case rtsync.HealthUnhealthy:
		writeHealth(w, http.StatusServiceUnavailable, HealthResponse{
			Status:   "unavailable",
			Detail:   "realtime data is out of date",
			Realtime: state,
		})
	case rtsync.HealthWarning:
		writeHealth(w, http.StatusOK, HealthResponse{
			Status:   "degraded",
			Detail:   "realtime data is getting old",
			Realtime: state,
		})
	default:
		writeHealth(w, http.StatusOK, HealthResponse{Status: "ok", Realtime: state})
	}
}
