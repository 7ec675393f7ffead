package rtsync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	gtfsrt "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"

	"transitsync.dev/gtfsdb"
	"transitsync.dev/internal/appconf"
	"transitsync.dev/internal/clock"
	"transitsync.dev/internal/models"
	"transitsync.dev/internal/realtime"
)

var testNow = time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)

var errUpstream = errors.New("upstream unavailable")

// fakeFetcher serves canned payloads per feed. When gate is set every fetch
// waits for it.
type fakeFetcher struct {
	mu        sync.Mutex
	payloads  map[realtime.FeedKind][]byte
	errs      map[realtime.FeedKind]error
	calls     int
	inFlight  int
	maxFlight int
	gate      chan struct{}
	entered   chan struct{}
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		payloads: make(map[realtime.FeedKind][]byte),
		errs:     make(map[realtime.FeedKind]error),
	}
}

func (f *fakeFetcher) set(kind realtime.FeedKind, data []byte, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads[kind] = data
	f.errs[kind] = err
}

func (f *fakeFetcher) Fetch(ctx context.Context, kind realtime.FeedKind) ([]byte, error) {
	f.mu.Lock()
	f.calls++
	f.inFlight++
	if f.inFlight > f.maxFlight {
		f.maxFlight = f.inFlight
	}
	gate, entered := f.gate, f.entered
	data, err := f.payloads[kind], f.errs[kind]
	f.mu.Unlock()

	if entered != nil {
		select {
		case entered <- struct{}{}:
		default:
		}
	}
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	f.inFlight--
	f.mu.Unlock()
	return data, err
}

func (f *fakeFetcher) stats() (calls, maxFlight int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls, f.maxFlight
}

// fakeStatic is a small static snapshot: routes R1 and R2, trips T1..T5 on
// R1 and T9 on R2, stops S1..S3.
type fakeStatic struct {
	routes map[string]models.Route
	trips  map[string]string
	stops  map[string]bool
}

func newFakeStatic() *fakeStatic {
	return &fakeStatic{
		routes: map[string]models.Route{
			"R1": {ID: "R1", ShortName: "90"},
			"R2": {ID: "R2", ShortName: "91"},
		},
		trips: map[string]string{"T1": "R1", "T2": "R1", "T3": "R1", "T4": "R1", "T5": "R1", "T9": "R2"},
		stops: map[string]bool{"S1": true, "S2": true, "S3": true},
	}
}

func (s *fakeStatic) TripExists(id string) bool  { _, ok := s.trips[id]; return ok }
func (s *fakeStatic) RouteExists(id string) bool { _, ok := s.routes[id]; return ok }
func (s *fakeStatic) StopExists(id string) bool  { return s.stops[id] }

func (s *fakeStatic) GetRoute(id string) (models.Route, bool) {
	r, ok := s.routes[id]
	return r, ok
}

func (s *fakeStatic) RouteIDForTrip(tripID string) (string, bool) {
	r, ok := s.trips[tripID]
	return r, ok
}

type testEnv struct {
	service *Service
	fetcher *fakeFetcher
	store   *gtfsdb.Client
	clock   *clock.MockClock
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	store, err := gtfsdb.NewClient(gtfsdb.NewConfig(":memory:", appconf.Test, false))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	c := clock.NewMockClock(testNow)
	fetcher := newFakeFetcher()
	config := Config{
		VehiclePositionsURL: "http://feeds.test/vehicles",
		TripUpdatesURL:      "http://feeds.test/trips",
	}
	opts = append([]Option{WithClock(c)}, opts...)
	service := NewService(config, fetcher, store, newFakeStatic(), opts...)
	t.Cleanup(service.Stop)

	return &testEnv{service: service, fetcher: fetcher, store: store, clock: c}
}

type testVehicle struct {
	id, trip, route string
	at              time.Time
}

func vehicleFeed(t *testing.T, vehicles ...testVehicle) []byte {
	t.Helper()
	entities := make([]*gtfsrt.FeedEntity, 0, len(vehicles))
	for i, v := range vehicles {
		entities = append(entities, &gtfsrt.FeedEntity{
			Id: proto.String("v" + string(rune('a'+i))),
			Vehicle: &gtfsrt.VehiclePosition{
				Trip:      &gtfsrt.TripDescriptor{TripId: proto.String(v.trip), RouteId: proto.String(v.route)},
				Vehicle:   &gtfsrt.VehicleDescriptor{Id: proto.String(v.id)},
				Position:  &gtfsrt.Position{Latitude: proto.Float32(45.46), Longitude: proto.Float32(9.19)},
				Timestamp: proto.Uint64(uint64(v.at.Unix())),
			},
		})
	}
	return marshalFeed(t, entities)
}

type testDelay struct {
	trip, route string
	minutes     int
}

func tripUpdateFeed(t *testing.T, delays ...testDelay) []byte {
	t.Helper()
	entities := make([]*gtfsrt.FeedEntity, 0, len(delays))
	for i, d := range delays {
		trip := &gtfsrt.TripDescriptor{TripId: proto.String(d.trip)}
		if d.route != "" {
			trip.RouteId = proto.String(d.route)
		}
		entities = append(entities, &gtfsrt.FeedEntity{
			Id: proto.String("t" + string(rune('a'+i))),
			TripUpdate: &gtfsrt.TripUpdate{
				Trip: trip,
				StopTimeUpdate: []*gtfsrt.TripUpdate_StopTimeUpdate{{
					StopSequence: proto.Uint32(1),
					StopId:       proto.String("S1"),
					Arrival: &gtfsrt.TripUpdate_StopTimeEvent{
						Delay: proto.Int32(int32(d.minutes * 60)),
						Time:  proto.Int64(testNow.Add(time.Duration(d.minutes) * time.Minute).Unix()),
					},
				}},
			},
		})
	}
	return marshalFeed(t, entities)
}

func marshalFeed(t *testing.T, entities []*gtfsrt.FeedEntity) []byte {
	t.Helper()
	b, err := proto.Marshal(&gtfsrt.FeedMessage{
		Header: &gtfsrt.FeedHeader{
			GtfsRealtimeVersion: proto.String("2.0"),
			Timestamp:           proto.Uint64(uint64(testNow.Unix())),
		},
		Entity: entities,
	})
	require.NoError(t, err)
	return b
}

// seedVehicles writes n cached vehicles with the given fix time.
func seedVehicles(t *testing.T, store *gtfsdb.Client, snapshotID string, n int, at time.Time) {
	t.Helper()
	rows := make([]gtfsdb.VehiclePosition, n)
	for i := range rows {
		rows[i] = gtfsdb.VehiclePosition{
			VehicleID:  snapshotID + "-" + string(rune('A'+i%26)) + string(rune('a'+i/26)),
			RouteID:    gtfsdb.ToNullString("R1"),
			Lat:        45.4,
			Lon:        9.1,
			Status:     string(models.StatusInTransitTo),
			Timestamp:  at.UnixMilli(),
			SnapshotID: snapshotID,
		}
	}
	snap := gtfsdb.RtSnapshot{SnapshotID: snapshotID, Feed: "vehicle_positions", PolledAt: at.UnixMilli(), RecordCount: int64(n)}
	require.NoError(t, store.SaveVehiclePositions(context.Background(), snap, rows))
}

func vehicleIDs(vehicles []models.VehiclePosition) []string {
	ids := make([]string, len(vehicles))
	for i, v := range vehicles {
		ids[i] = v.VehicleID
	}
	return ids
}
