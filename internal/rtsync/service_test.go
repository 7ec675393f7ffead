package rtsync

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transitsync.dev/gtfsdb"
	"transitsync.dev/internal/models"
	"transitsync.dev/internal/realtime"
)

const waitFor = 2 * time.Second

func totalCycles(s *Service) func() bool {
	return func() bool { return s.Metrics().TotalCycles >= 1 }
}

func TestHealth_Lifecycle(t *testing.T) {
	env := newTestEnv(t)
	env.fetcher.set(realtime.FeedVehiclePositions, vehicleFeed(t,
		testVehicle{id: "V1", trip: "T1", route: "R1", at: testNow},
	), nil)

	assert.Equal(t, HealthStopped, env.service.Health())

	env.service.Start(time.Hour)
	require.Eventually(t, totalCycles(env.service), waitFor, 5*time.Millisecond)

	assert.Equal(t, HealthHealthy, env.service.Health())
	assert.True(t, env.service.IsHealthy())
	assert.True(t, env.service.Metrics().Running)

	env.clock.Advance(3 * time.Minute)
	assert.Equal(t, HealthWarning, env.service.Health())
	assert.False(t, env.service.IsHealthy())

	env.clock.Advance(3 * time.Minute)
	assert.Equal(t, HealthUnhealthy, env.service.Health())

	env.service.Stop()
	assert.Equal(t, HealthStopped, env.service.Health())
	assert.False(t, env.service.Metrics().Running)
}

func TestHealth_StartingUntilFirstSuccess(t *testing.T) {
	env := newTestEnv(t)
	env.fetcher.gate = make(chan struct{})
	env.fetcher.entered = make(chan struct{}, 2)

	env.service.Start(time.Hour)
	<-env.fetcher.entered
	assert.Equal(t, HealthStarting, env.service.Health())

	close(env.fetcher.gate)
	require.Eventually(t, totalCycles(env.service), waitFor, 5*time.Millisecond)
	assert.Equal(t, HealthHealthy, env.service.Health())
}

func TestHealth_FailedCyclesAge(t *testing.T) {
	env := newTestEnv(t)
	env.fetcher.set(realtime.FeedVehiclePositions, vehicleFeed(t,
		testVehicle{id: "V1", trip: "T1", route: "R1", at: testNow},
	), nil)
	env.service.Start(time.Hour)
	require.Eventually(t, totalCycles(env.service), waitFor, 5*time.Millisecond)

	_, err := env.store.DeleteWhere(context.Background(), "vehicle_positions", "1 = 1")
	require.NoError(t, err)
	env.fetcher.set(realtime.FeedVehiclePositions, nil, errUpstream)

	env.clock.Advance(time.Minute)
	require.Error(t, env.service.RunCycle(context.Background()).Err)
	assert.Equal(t, HealthHealthy, env.service.Health(), "one failure inside the window is still healthy")

	env.clock.Advance(2 * time.Minute)
	require.Error(t, env.service.RunCycle(context.Background()).Err)
	assert.Equal(t, HealthWarning, env.service.Health())
}

func TestStart_Idempotent(t *testing.T) {
	env := newTestEnv(t)

	env.service.Start(time.Hour)
	env.service.Start(time.Hour)
	require.Eventually(t, totalCycles(env.service), waitFor, 5*time.Millisecond)
	assert.True(t, env.service.IsRunning())

	env.service.Stop()
	env.service.Stop()
	assert.False(t, env.service.IsRunning())
	assert.Equal(t, int64(1), env.service.Metrics().TotalCycles)

	// A stopped service can be started again.
	env.service.Start(time.Hour)
	require.Eventually(t, func() bool { return env.service.Metrics().TotalCycles == 2 }, waitFor, 5*time.Millisecond)
}

func TestStart_RunsOnInterval(t *testing.T) {
	env := newTestEnv(t)
	env.service.Start(10 * time.Millisecond)
	require.Eventually(t, func() bool { return env.service.Metrics().TotalCycles >= 3 }, waitFor, 5*time.Millisecond)
}

func TestStop_WaitsForInflightCycle(t *testing.T) {
	env := newTestEnv(t)
	env.fetcher.gate = make(chan struct{})
	env.fetcher.entered = make(chan struct{}, 2)

	env.service.Start(time.Hour)
	<-env.fetcher.entered

	stopped := make(chan struct{})
	go func() {
		env.service.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a cycle was running")
	case <-time.After(50 * time.Millisecond):
	}

	close(env.fetcher.gate)
	select {
	case <-stopped:
	case <-time.After(waitFor):
		t.Fatal("Stop did not return after the cycle finished")
	}
	assert.Equal(t, int64(1), env.service.Metrics().TotalCycles)
}

func TestRunCycle_NeverOverlaps(t *testing.T) {
	env := newTestEnv(t)
	env.service.config.TripUpdatesURL = ""
	env.fetcher.gate = make(chan struct{})
	env.fetcher.entered = make(chan struct{}, 4)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			env.service.RunCycle(context.Background())
		}()
	}

	<-env.fetcher.entered
	time.Sleep(50 * time.Millisecond)
	calls, _ := env.fetcher.stats()
	assert.Equal(t, 1, calls, "later cycles wait for the running one")

	close(env.fetcher.gate)
	wg.Wait()

	calls, maxFlight := env.fetcher.stats()
	assert.Equal(t, 3, calls)
	assert.Equal(t, 1, maxFlight)
	assert.Equal(t, int64(3), env.service.Metrics().TotalCycles)
}

func TestLoadCached(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	seedVehicles(t, env.store, "fresh", 3, testNow.Add(-time.Minute))
	seedVehicles(t, env.store, "stale", 1, testNow.Add(-20*time.Minute))

	arrival := testNow.Add(4 * time.Minute)
	prediction := models.ArrivalPrediction{
		TripID:               models.StringPtr("T1"),
		RouteID:              models.StringPtr("R1"),
		StopID:               models.StringPtr("S2"),
		StopSequence:         4,
		PredictedArrival:     &arrival,
		DelaySeconds:         240,
		ScheduleRelationship: models.RelationshipScheduled,
	}
	snap := gtfsdb.RtSnapshot{SnapshotID: "p1", Feed: "trip_updates", PolledAt: testNow.UnixMilli(), RecordCount: 1}
	require.NoError(t, env.store.ReplaceArrivalPredictions(ctx, snap, []gtfsdb.ArrivalPrediction{predictionToRow(prediction, "p1")}))

	incident := models.Incident{
		ID:             models.DelayIncidentID("R1"),
		Type:           models.IncidentDelay,
		Severity:       models.SeverityHigh,
		Location:       "90",
		Description:    "Ritardo medio di 16 minuti su 3 corse",
		AffectedRoutes: []string{"R1"},
		StartTime:      testNow.Add(-time.Hour),
		Active:         true,
	}
	_, err := env.store.SaveIncidents(ctx, []gtfsdb.Incident{incidentToRow(incident)}, 0)
	require.NoError(t, err)

	require.NoError(t, env.service.LoadCached(ctx))

	assert.Len(t, env.service.GetActiveVehiclePositions(), 3, "stale cached vehicles are not restored")

	predictions := env.service.GetPredictionsForStop("S2")
	require.Len(t, predictions, 1)
	assert.Equal(t, 240, predictions[0].DelaySeconds)
	require.NotNil(t, predictions[0].PredictedArrival)
	assert.True(t, arrival.Equal(*predictions[0].PredictedArrival))

	active := env.service.GetActiveIncidents()
	require.Len(t, active, 1)
	assert.Equal(t, models.SeverityHigh, active[0].Severity)
	assert.True(t, incident.StartTime.Equal(active[0].StartTime))

	m := env.service.Metrics()
	assert.Equal(t, 3, m.VehicleCount)
	assert.Equal(t, 1, m.PredictionCount)
	assert.Equal(t, 1, m.IncidentCount)
	assert.Zero(t, m.TotalCycles)
}

func TestLoadCached_ResolvesWhenDelaysClear(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	incident := models.Incident{
		ID:             models.DelayIncidentID("R1"),
		Type:           models.IncidentDelay,
		Severity:       models.SeverityHigh,
		Location:       "90",
		AffectedRoutes: []string{"R1"},
		StartTime:      testNow.Add(-time.Hour),
		Active:         true,
	}
	_, err := env.store.SaveIncidents(ctx, []gtfsdb.Incident{incidentToRow(incident)}, 0)
	require.NoError(t, err)
	require.NoError(t, env.service.LoadCached(ctx))
	require.Len(t, env.service.GetActiveIncidents(), 1)

	env.fetcher.set(realtime.FeedTripUpdates, tripUpdateFeed(t,
		testDelay{trip: "T1", route: "R1", minutes: 1},
	), nil)
	result := env.service.RunCycle(ctx)
	require.NoError(t, result.Err)
	assert.Equal(t, []string{incident.ID}, result.Incidents.Resolved)
	assert.Empty(t, env.service.GetActiveIncidents())
}

func TestOnVehiclesUpdated(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.fetcher.set(realtime.FeedVehiclePositions, vehicleFeed(t,
		testVehicle{id: "V1", trip: "T1", route: "R1", at: testNow},
	), nil)

	var received [][]models.VehiclePosition
	unsubscribe := env.service.OnVehiclesUpdated(func(v []models.VehiclePosition) {
		received = append(received, v)
	})
	failed := 0
	env.service.OnUpdateFailed(func(error) { failed++ })

	require.NoError(t, env.service.RunCycle(ctx).Err)
	require.Len(t, received, 1)
	require.Len(t, received[0], 1)
	assert.Equal(t, 0, failed)

	// Subscribers get their own copy.
	*received[0][0].RouteID = "R2"
	received[0][0].VehicleID = "mutated"
	v, ok := env.service.GetVehicleByID("V1")
	require.True(t, ok)
	assert.Equal(t, "R1", models.Deref(v.RouteID))

	unsubscribe()
	require.NoError(t, env.service.RunCycle(ctx).Err)
	assert.Len(t, received, 1)
}

func TestOnVehiclesUpdated_NotCalledWhenVehiclesFail(t *testing.T) {
	env := newTestEnv(t)
	env.fetcher.set(realtime.FeedVehiclePositions, nil, errUpstream)

	calls := 0
	env.service.OnVehiclesUpdated(func([]models.VehiclePosition) { calls++ })
	var failures []error
	unsubscribe := env.service.OnUpdateFailed(func(err error) { failures = append(failures, err) })

	require.Error(t, env.service.RunCycle(context.Background()).Err)
	assert.Zero(t, calls)
	assert.Len(t, failures, 1)

	unsubscribe()
	require.Error(t, env.service.RunCycle(context.Background()).Err)
	assert.Len(t, failures, 1)
}

func TestOnUpdateFailed_SubscriberCanStopTheSchedule(t *testing.T) {
	env := newTestEnv(t)
	env.fetcher.set(realtime.FeedVehiclePositions, nil, errUpstream)
	env.fetcher.set(realtime.FeedTripUpdates, nil, errUpstream)

	stopped := make(chan struct{})
	var once sync.Once
	env.service.OnUpdateFailed(func(error) {
		env.service.Stop()
		once.Do(func() { close(stopped) })
	})
	env.service.Start(time.Hour)

	select {
	case <-stopped:
	case <-time.After(waitFor):
		t.Fatal("Stop called from a failure subscriber did not return")
	}
	assert.False(t, env.service.IsRunning())

	env.service.runMu.Lock()
	done := env.service.doneCh
	env.service.runMu.Unlock()
	select {
	case <-done:
	case <-time.After(waitFor):
		t.Fatal("schedule loop did not exit")
	}
}

func TestOnVehiclesUpdated_SubscriberCanRunACycle(t *testing.T) {
	env := newTestEnv(t)
	env.fetcher.set(realtime.FeedVehiclePositions, vehicleFeed(t,
		testVehicle{id: "V1", trip: "T1", route: "R1", at: testNow},
	), nil)

	calls := 0
	env.service.OnVehiclesUpdated(func([]models.VehiclePosition) {
		calls++
		if calls == 1 {
			env.service.RunCycle(context.Background())
		}
	})

	finished := make(chan CycleResult, 1)
	go func() { finished <- env.service.RunCycle(context.Background()) }()

	select {
	case result := <-finished:
		require.NoError(t, result.Err)
	case <-time.After(waitFor):
		t.Fatal("RunCycle from a vehicle subscriber deadlocked")
	}
	assert.Equal(t, 2, calls)
	assert.Equal(t, int64(2), env.service.Metrics().TotalCycles)
}

func TestReadsReturnCopies(t *testing.T) {
	env := newTestEnv(t)
	env.fetcher.set(realtime.FeedVehiclePositions, vehicleFeed(t,
		testVehicle{id: "V1", trip: "T1", route: "R1", at: testNow},
	), nil)
	env.fetcher.set(realtime.FeedTripUpdates, tripUpdateFeed(t,
		testDelay{trip: "T1", route: "R1", minutes: 3},
	), nil)
	require.NoError(t, env.service.RunCycle(context.Background()).Err)

	vehicles := env.service.GetActiveVehiclePositions()
	*vehicles[0].TripID = "T9"
	predictions := env.service.GetPredictionsForTrip("T1")
	require.Len(t, predictions, 1)
	*predictions[0].StopID = "S3"
	*predictions[0].PredictedArrival = time.Time{}

	v, _ := env.service.GetVehicleByID("V1")
	assert.Equal(t, "T1", models.Deref(v.TripID))
	again := env.service.GetPredictionsForStop("S1")
	require.Len(t, again, 1)
	assert.False(t, again[0].PredictedArrival.IsZero())
	assert.Empty(t, env.service.GetPredictionsForStop("S3"))
}
