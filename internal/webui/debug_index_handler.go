package webui

import (
	"context"
	"embed"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/davecgh/go-spew/spew"

	"transitsync.dev/gtfsdb"
	"transitsync.dev/internal/appconf"
)

//go:embed debug_index.html
var templateFS embed.FS

var debugTemplate = template.Must(template.ParseFS(templateFS, "debug_index.html"))

var debugDataTypes = []string{
	"schema", "counts", "import", "static",
	"agencies", "routes", "stops", "trips",
	"vehicles", "predictions", "incidents", "sync",
}

type debugData struct {
	Title     string
	Pre       string
	DataTypes []string
}

var dumper = spew.ConfigState{Indent: "  ", SortKeys: true, DisablePointerAddresses: true}

func writeDebugData(w http.ResponseWriter, status int, title string, data interface{}) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	err := debugTemplate.Execute(w, debugData{
		Title:     title,
		Pre:       dumper.Sdump(data),
		DataTypes: debugDataTypes,
	})
	if err != nil {
		slog.Error("failed to execute debug template", "error", err)
	}
}

// storeRead runs a read-only query against the store for the debug page.
func storeRead[T any](ctx context.Context, db *gtfsdb.Client, op string, fn func(q *gtfsdb.Queries) (T, error)) (T, error) {
	var out T
	err := db.Read(ctx, op, func(q *gtfsdb.Queries) error {
		var err error
		out, err = fn(q)
		return err
	})
	return out, err
}

func (webUI *WebUI) debugIndexHandler(w http.ResponseWriter, r *http.Request) {
	if webUI.Application == nil || webUI.Config.Env == appconf.Production {
		http.NotFound(w, r)
		return
	}
	if webUI.GtfsManager == nil || webUI.GtfsManager.GtfsDB == nil {
		writeDebugData(w, http.StatusServiceUnavailable, "Store unavailable",
			map[string]string{"error": "the GTFS store is not open"})
		return
	}

	ctx := r.Context()
	db := webUI.GtfsManager.GtfsDB
	dataType := r.URL.Query().Get("dataType")

	var data interface{}
	var title string
	var err error

	switch dataType {
	case "schema":
		data, err = db.SchemaObjects(ctx)
		title = "Store - Schema"
	case "counts":
		data, err = db.TableCounts()
		title = "Store - Row Counts"
	case "import":
		meta, ok, metaErr := db.ImportMetadata(ctx)
		data, err = map[string]interface{}{"present": ok, "metadata": meta}, metaErr
		title = "Store - Last Static Import"
	case "static":
		data = map[string]interface{}{
			"ready":       webUI.GtfsManager.IsReady(),
			"healthy":     webUI.GtfsManager.IsHealthy(),
			"lastUpdated": webUI.GtfsManager.LastUpdated(),
			"counts":      webUI.GtfsManager.Counts(),
		}
		title = "GTFS Static - Index"
	case "agencies":
		data = webUI.GtfsManager.GetAgencies()
		title = "GTFS Static - Agencies"
	case "routes":
		data, err = storeRead(ctx, db, "debug_list_routes", func(q *gtfsdb.Queries) ([]gtfsdb.Route, error) {
			return q.ListRoutes(ctx)
		})
		title = "GTFS Static - Routes"
	case "stops":
		data, err = storeRead(ctx, db, "debug_list_stops", func(q *gtfsdb.Queries) ([]gtfsdb.Stop, error) {
			return q.ListStops(ctx)
		})
		title = "GTFS Static - Stops"
	case "trips":
		data, err = storeRead(ctx, db, "debug_list_trips", func(q *gtfsdb.Queries) ([]gtfsdb.Trip, error) {
			return q.ListTrips(ctx)
		})
		title = "GTFS Static - Trips"
	case "vehicles":
		if webUI.Sync != nil {
			data = webUI.Sync.GetActiveVehiclePositions()
		}
		title = "GTFS Realtime - Vehicles"
	case "predictions":
		data, err = storeRead(ctx, db, "debug_list_predictions", func(q *gtfsdb.Queries) ([]gtfsdb.ArrivalPrediction, error) {
			return q.ListArrivalPredictions(ctx)
		})
		title = "GTFS Realtime - Cached Predictions"
	case "incidents":
		if webUI.Sync != nil {
			data = webUI.Sync.GetActiveIncidents()
		}
		title = "GTFS Realtime - Incidents"
	case "sync":
		if webUI.Sync != nil {
			data = webUI.Sync.Metrics()
		}
		title = "GTFS Realtime - Sync Status"
	default:
		data = map[string]interface{}{
			"error":     "unknown or missing dataType",
			"dataTypes": debugDataTypes,
		}
		title = "Choose a data type"
	}

	if err != nil {
		slog.Error("debug query failed", "dataType", dataType, "error", err)
		writeDebugData(w, http.StatusInternalServerError, title, map[string]string{"error": err.Error()})
		return
	}
	writeDebugData(w, http.StatusOK, title, data)
}
