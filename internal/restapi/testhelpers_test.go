package restapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"transitsync.dev/gtfsdb"
	"transitsync.dev/internal/app"
	"transitsync.dev/internal/appconf"
	"transitsync.dev/internal/clock"
	"transitsync.dev/internal/gtfs"
	"transitsync.dev/internal/models"
	"transitsync.dev/internal/realtime"
	"transitsync.dev/internal/rtsync"
)

var testNow = time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)

type idleFetcher struct{}

func (idleFetcher) Fetch(context.Context, realtime.FeedKind) ([]byte, error) { return nil, nil }

func hm(h, m int) time.Duration {
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute
}

func testStaticRows() *gtfs.StaticRows {
	return &gtfs.StaticRows{
		Agencies: []models.Agency{
			{ID: "A1", Name: "Azienda Trasporti", URL: "https://example.org", Timezone: "Europe/Rome", Lang: "it"},
		},
		Routes: []models.Route{
			{ID: "R1", AgencyID: "A1", ShortName: "1", LongName: "Stazione - Ospedale", Type: models.RouteTypeBus},
			{ID: "R2", AgencyID: "A1", ShortName: "T2", LongName: "Tram Centro", Type: models.RouteTypeTram},
		},
		Stops: []models.Stop{
			{ID: "S1", Name: "Stazione Centrale", Code: "100", Lat: 45.4642, Lon: 9.1900},
			{ID: "S2", Name: "Piazza Duomo", Code: "101", Lat: 45.4655, Lon: 9.1920},
			{ID: "S3", Name: "Ospedale Maggiore", Code: "102", Lat: 45.4700, Lon: 9.2000},
			{ID: "S4", Name: "Stazione Nord", Code: "103", Lat: 45.4800, Lon: 9.1800},
		},
		Trips: []models.Trip{
			{ID: "T1", RouteID: "R1", ServiceID: "WK", Headsign: "Ospedale", ShapeID: "SH1"},
			{ID: "T9", RouteID: "R2", ServiceID: "WK", Headsign: "Centro"},
		},
		StopTimes: []models.StopTime{
			{TripID: "T1", StopID: "S1", StopSequence: 1, ArrivalTime: hm(8, 0), DepartureTime: hm(8, 0)},
			{TripID: "T1", StopID: "S2", StopSequence: 2, ArrivalTime: hm(8, 10), DepartureTime: hm(8, 10)},
			{TripID: "T1", StopID: "S3", StopSequence: 3, ArrivalTime: hm(8, 20), DepartureTime: hm(8, 20)},
			{TripID: "T9", StopID: "S1", StopSequence: 1, ArrivalTime: hm(8, 5), DepartureTime: hm(8, 5)},
		},
		ShapePoints: []models.ShapePoint{
			{ShapeID: "SH1", Lat: 45.4642, Lon: 9.1900, Sequence: 1},
			{ShapeID: "SH1", Lat: 45.4655, Lon: 9.1920, Sequence: 2},
			{ShapeID: "SH1", Lat: 45.4700, Lon: 9.2000, Sequence: 3},
		},
	}
}

// seedRealtime writes a realtime cache: V1 fresh on R1, V2 six minutes old
// on R2, two predictions at S1 and an active incident on R1.
func seedRealtime(t *testing.T, db *gtfsdb.Client) {
	t.Helper()
	ctx := context.Background()

	snap := gtfsdb.RtSnapshot{SnapshotID: "vp", Feed: "vehicle_positions", PolledAt: testNow.UnixMilli(), RecordCount: 2}
	require.NoError(t, db.SaveVehiclePositions(ctx, snap, []gtfsdb.VehiclePosition{
		{VehicleID: "V1", RouteID: gtfsdb.ToNullString("R1"), TripID: gtfsdb.ToNullString("T1"), Lat: 45.4650, Lon: 9.1910,
			Status: string(models.StatusInTransitTo), Timestamp: testNow.Add(-time.Minute).UnixMilli(), SnapshotID: "vp"},
		{VehicleID: "V2", RouteID: gtfsdb.ToNullString("R2"), TripID: gtfsdb.ToNullString("T9"), Lat: 45.4600, Lon: 9.1850,
			Status: string(models.StatusStoppedAt), Timestamp: testNow.Add(-6 * time.Minute).UnixMilli(), SnapshotID: "vp"},
	}))

	snap = gtfsdb.RtSnapshot{SnapshotID: "tu", Feed: "trip_updates", PolledAt: testNow.UnixMilli(), RecordCount: 2}
	prediction := func(trip, route string, seq int64, in time.Duration) gtfsdb.ArrivalPrediction {
		return gtfsdb.ArrivalPrediction{
			TripID:               gtfsdb.ToNullString(trip),
			RouteID:              gtfsdb.ToNullString(route),
			StopID:               gtfsdb.ToNullString("S1"),
			StopSequence:         seq,
			PredictedArrival:     sql.NullInt64{Int64: testNow.Add(in).UnixMilli(), Valid: true},
			DelaySeconds:         60,
			ScheduleRelationship: string(models.RelationshipScheduled),
			SnapshotID:           "tu",
		}
	}
	require.NoError(t, db.ReplaceArrivalPredictions(ctx, snap, []gtfsdb.ArrivalPrediction{
		prediction("T1", "R1", 1, 4*time.Minute),
		prediction("T9", "R2", 1, 2*time.Minute),
	}))

	_, err := db.SaveIncidents(ctx, []gtfsdb.Incident{{
		ID:             models.DelayIncidentID("R1"),
		Type:           string(models.IncidentDelay),
		Severity:       string(models.SeverityHigh),
		Location:       "1",
		Description:    "Ritardo medio di 16 minuti su 3 corse",
		AffectedRoutes: "R1",
		StartTime:      testNow.Add(-time.Hour).UnixMilli(),
		Active:         true,
	}}, 0)
	require.NoError(t, err)
}

type testOptions struct {
	skipStatic bool
	noSync     bool
	config     appconf.Config
}

// createTestApiWith builds an API over an in-memory store. By default the
// static rows are loaded and the realtime cache is restored into a sync
// service that is not running.
func createTestApiWith(t *testing.T, opts testOptions) (*RestAPI, *clock.MockClock) {
	t.Helper()
	db, err := gtfsdb.NewClient(gtfsdb.NewConfig(":memory:", appconf.Test, false))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	c := clock.NewMockClock(testNow)
	manager := gtfs.NewManager(db, gtfs.Config{Env: appconf.Test, GTFSDataPath: ":memory:"}, gtfs.WithClock(c))
	if !opts.skipStatic {
		_, err = manager.Load(context.Background(), testStaticRows())
		require.NoError(t, err)
	}

	application := &app.Application{
		Config:      opts.config,
		GtfsManager: manager,
		Clock:       c,
	}
	application.Config.Env = appconf.Test

	if !opts.noSync {
		seedRealtime(t, db)
		syncConfig := rtsync.Config{VehiclePositionsURL: "http://feeds.test/vehicles"}
		application.Sync = rtsync.NewService(syncConfig, idleFetcher{}, db, manager, rtsync.WithClock(c))
		require.NoError(t, application.Sync.LoadCached(context.Background()))
		t.Cleanup(application.Sync.Stop)
	}

	api := NewRestAPI(application)
	t.Cleanup(api.Shutdown)
	return api, c
}

func createTestApi(t *testing.T) *RestAPI {
	api, _ := createTestApiWith(t, testOptions{})
	return api
}

func serveMux(api *RestAPI) http.Handler {
	mux := http.NewServeMux()
	api.SetRoutes(mux)
	return api.WithMiddleware(mux)
}

type testEnvelope struct {
	Code        int                 `json:"code"`
	CurrentTime int64               `json:"currentTime"`
	Text        string              `json:"text"`
	Data        json.RawMessage     `json:"data"`
	FieldErrors map[string][]string `json:"fieldErrors"`
}

func serve(t *testing.T, api *RestAPI, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	serveMux(api).ServeHTTP(rec, req)
	return rec
}

func getEnvelope(t *testing.T, api *RestAPI, path string) (*httptest.ResponseRecorder, testEnvelope) {
	t.Helper()
	rec := serve(t, api, path)
	var env testEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec, env
}

func decodeData[T any](t *testing.T, env testEnvelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Data, &v))
	return v
}

type testList[T any] struct {
	List          []T  `json:"list"`
	LimitExceeded bool `json:"limitExceeded"`
}
