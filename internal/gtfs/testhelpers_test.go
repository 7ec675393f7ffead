package gtfs

import (
	"bytes"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/require"

	"transitsync.dev/gtfsdb"
	"transitsync.dev/internal/appconf"
	"transitsync.dev/internal/clock"
	"transitsync.dev/internal/models"
)

func newTestManager(t *testing.T, opts ...Option) (*Manager, *clock.MockClock) {
	t.Helper()
	db, err := gtfsdb.NewClient(gtfsdb.NewConfig(":memory:", appconf.Test, false))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	mockClock := clock.NewMockClock(time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC))
	opts = append([]Option{WithClock(mockClock)}, opts...)
	return NewManager(db, Config{Env: appconf.Test, GTFSDataPath: ":memory:"}, opts...), mockClock
}

func hm(h, m int) time.Duration {
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute
}

// testRows is a small network: route R1 with three trips in both
// directions, route R2 with one trip, stop times deliberately out of order.
func testRows() *StaticRows {
	return &StaticRows{
		Agencies: []models.Agency{
			{ID: "A1", Name: "Azienda Trasporti", URL: "https://example.org", Timezone: "Europe/Rome", Lang: "it"},
		},
		Routes: []models.Route{
			{ID: "R1", AgencyID: "A1", ShortName: "1", LongName: "Stazione - Ospedale", Type: models.RouteTypeBus, SortOrder: 2},
			{ID: "R2", AgencyID: "A1", ShortName: "T2", LongName: "Tram Centro", Type: models.RouteTypeTram, SortOrder: 1},
		},
		Stops: []models.Stop{
			{ID: "S1", Name: "Stazione Centrale", Code: "100", Lat: 45.4642, Lon: 9.1900},
			{ID: "S2", Name: "Piazza Duomo", Code: "101", Lat: 45.4655, Lon: 9.1920},
			{ID: "S3", Name: "Ospedale Maggiore", Code: "102", Lat: 45.4700, Lon: 9.2000},
		},
		Trips: []models.Trip{
			{ID: "T3", RouteID: "R1", ServiceID: "WK", Headsign: "Stazione", DirectionID: 1},
			{ID: "T2", RouteID: "R1", ServiceID: "WK", Headsign: "Ospedale", DirectionID: 0, ShapeID: "SH1"},
			{ID: "T1", RouteID: "R1", ServiceID: "WK", Headsign: "Duomo", DirectionID: 0},
			{ID: "T9", RouteID: "R2", ServiceID: "WK", Headsign: "Centro", DirectionID: 0},
		},
		StopTimes: []models.StopTime{
			{TripID: "T2", StopID: "S3", StopSequence: 3, ArrivalTime: hm(8, 20), DepartureTime: hm(8, 20)},
			{TripID: "T2", StopID: "S1", StopSequence: 1, ArrivalTime: hm(8, 0), DepartureTime: hm(8, 0)},
			{TripID: "T2", StopID: "GHOST", StopSequence: 2, ArrivalTime: hm(8, 10), DepartureTime: hm(8, 11)},
			{TripID: "T1", StopID: "S1", StopSequence: 1, ArrivalTime: hm(24, 30), DepartureTime: hm(24, 31)},
			{TripID: "T1", StopID: "S2", StopSequence: 2, ArrivalTime: hm(24, 40), DepartureTime: hm(24, 40)},
		},
		ShapePoints: []models.ShapePoint{
			{ShapeID: "SH1", Lat: 45.4700, Lon: 9.2000, Sequence: 3},
			{ShapeID: "SH1", Lat: 45.4642, Lon: 9.1900, Sequence: 1},
			{ShapeID: "SH1", Lat: 45.4655, Lon: 9.1920, Sequence: 2},
		},
	}
}

// buildTestArchive zips the given files into a GTFS archive.
func buildTestArchive(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func testArchiveFiles() map[string]string {
	return map[string]string{
		"agency.txt": "agency_id,agency_name,agency_url,agency_timezone,agency_lang\n" +
			"A1,Azienda Trasporti,https://example.org,Europe/Rome,it\n",
		"calendar.txt": "service_id,monday,tuesday,wednesday,thursday,friday,saturday,sunday,start_date,end_date\n" +
			"WK,1,1,1,1,1,0,0,20250101,20251231\n",
		"routes.txt": "route_id,agency_id,route_short_name,route_long_name,route_type\n" +
			"R1,A1,1,Stazione - Ospedale,3\n" +
			"R2,A1,T2,Tram Centro,0\n",
		"stops.txt": "stop_id,stop_code,stop_name,stop_lat,stop_lon\n" +
			"S1,100,Stazione Centrale,45.4642,9.1900\n" +
			"S2,101,Piazza Duomo,45.4655,9.1920\n" +
			"S3,102,Ospedale Maggiore,45.4700,9.2000\n",
		"trips.txt": "route_id,service_id,trip_id,trip_headsign,direction_id\n" +
			"R1,WK,T1,Ospedale,0\n" +
			"R1,WK,T2,Stazione,1\n" +
			"R2,WK,T9,Centro,0\n",
		"stop_times.txt": "trip_id,arrival_time,departure_time,stop_id,stop_sequence\n" +
			"T1,08:00:00,08:00:00,S1,1\n" +
			"T1,08:10:00,08:10:00,S2,2\n" +
			"T1,08:20:00,08:20:00,S3,3\n" +
			"T2,09:00:00,09:00:00,S3,1\n" +
			"T2,09:20:00,09:20:00,S1,2\n" +
			"T9,10:00:00,10:00:00,S2,1\n",
	}
}
