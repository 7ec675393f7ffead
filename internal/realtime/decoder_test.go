package realtime

import (
	"testing"
	"time"

	gtfsrt "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"

	"transitsync.dev/internal/clock"
	"transitsync.dev/internal/models"
)

var decoderNow = time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)

func newTestDecoder(t *testing.T) *Decoder {
	t.Helper()
	return NewDecoder(clock.NewMockClock(decoderNow))
}

func feedHeader(ts uint64) *gtfsrt.FeedHeader {
	h := &gtfsrt.FeedHeader{GtfsRealtimeVersion: proto.String("2.0")}
	if ts > 0 {
		h.Timestamp = proto.Uint64(ts)
	}
	return h
}

func marshalFeed(t *testing.T, header *gtfsrt.FeedHeader, entities ...*gtfsrt.FeedEntity) []byte {
	t.Helper()
	// AllowPartial lets tests build feeds without the required header.
	b, err := proto.MarshalOptions{AllowPartial: true}.Marshal(&gtfsrt.FeedMessage{Header: header, Entity: entities})
	require.NoError(t, err)
	return b
}

func vehicleEntity(id, vehicleID string, lat, lon float32) *gtfsrt.FeedEntity {
	return &gtfsrt.FeedEntity{
		Id: proto.String(id),
		Vehicle: &gtfsrt.VehiclePosition{
			Trip: &gtfsrt.TripDescriptor{
				TripId:  proto.String("T1"),
				RouteId: proto.String("R1"),
			},
			Vehicle:  &gtfsrt.VehicleDescriptor{Id: proto.String(vehicleID), Label: proto.String("Bus " + vehicleID)},
			Position: &gtfsrt.Position{Latitude: proto.Float32(lat), Longitude: proto.Float32(lon), Bearing: proto.Float32(90), Speed: proto.Float32(8.5)},
			StopId:   proto.String("S1"),
		},
	}
}

func TestDecodeVehicles_ShortInput(t *testing.T) {
	d := newTestDecoder(t)

	for _, input := range [][]byte{nil, {}, {0x0a, 0x02, 0x01}} {
		vehicles, err := d.DecodeVehicles(input)
		require.NoError(t, err)
		assert.NotNil(t, vehicles)
		assert.Empty(t, vehicles)

		predictions, err := d.DecodeTripUpdates(input)
		require.NoError(t, err)
		assert.NotNil(t, predictions)
		assert.Empty(t, predictions)
	}
}

func TestDecodeVehicles(t *testing.T) {
	d := newTestDecoder(t)
	data := marshalFeed(t, feedHeader(1741593600), vehicleEntity("e1", "V1", 45.46, 9.19))

	vehicles, err := d.DecodeVehicles(data)
	require.NoError(t, err)
	require.Len(t, vehicles, 1)

	v := vehicles[0]
	assert.Equal(t, "V1", v.VehicleID)
	assert.Equal(t, "Bus V1", v.Label)
	assert.Equal(t, "R1", models.Deref(v.RouteID))
	assert.Equal(t, "T1", models.Deref(v.TripID))
	assert.Equal(t, "S1", models.Deref(v.StopID))
	assert.InDelta(t, 45.46, v.Lat, 1e-5)
	assert.InDelta(t, 9.19, v.Lon, 1e-5)
	assert.Equal(t, 90.0, v.Bearing)
	assert.Equal(t, 8.5, v.Speed)
	assert.Equal(t, models.StatusUnknown, v.Status)
	assert.Nil(t, v.OccupancyPercent)
	// No vehicle timestamp, so the header's applies.
	assert.Equal(t, time.Unix(1741593600, 0).UTC(), v.Timestamp)
}

func TestDecodeVehicles_Timestamps(t *testing.T) {
	d := newTestDecoder(t)

	own := vehicleEntity("e1", "V1", 45.46, 9.19)
	own.Vehicle.Timestamp = proto.Uint64(1741593700)
	vehicles, err := d.DecodeVehicles(marshalFeed(t, feedHeader(1741593600), own))
	require.NoError(t, err)
	require.Len(t, vehicles, 1)
	assert.Equal(t, time.Unix(1741593700, 0).UTC(), vehicles[0].Timestamp)

	vehicles, err = d.DecodeVehicles(marshalFeed(t, feedHeader(0), vehicleEntity("e1", "V1", 45.46, 9.19)))
	require.NoError(t, err)
	require.Len(t, vehicles, 1)
	assert.Equal(t, decoderNow, vehicles[0].Timestamp)
}

func TestDecodeVehicles_DropsUnusableRecords(t *testing.T) {
	d := newTestDecoder(t)

	noPosition := vehicleEntity("e4", "V4", 0, 0)
	noPosition.Vehicle.Position = nil
	data := marshalFeed(t, feedHeader(1741593600),
		vehicleEntity("e1", "V1", 45.46, 9.19),
		vehicleEntity("e2", "", 45.47, 9.18),
		vehicleEntity("e3", "V3", 0, 0),
		noPosition,
		vehicleEntity("e5", "V5", 0, 9.18),
	)

	vehicles, err := d.DecodeVehicles(data)
	require.NoError(t, err)

	ids := make([]string, 0, len(vehicles))
	for _, v := range vehicles {
		ids = append(ids, v.VehicleID)
	}
	assert.Equal(t, []string{"V1", "V5"}, ids)
}

func TestDecodeVehicles_SkipsDeletedAndBadEntities(t *testing.T) {
	d := newTestDecoder(t)

	deleted := vehicleEntity("e2", "V2", 45.47, 9.18)
	deleted.IsDeleted = proto.Bool(true)
	data := marshalFeed(t, feedHeader(1741593600),
		vehicleEntity("e1", "V1", 45.46, 9.19),
		deleted,
	)
	// An entity whose bytes are not a FeedEntity at all.
	data = protowire.AppendTag(data, 2, protowire.BytesType)
	data = protowire.AppendBytes(data, []byte{0xff, 0xff, 0xff})
	data = append(data, marshalFeed(t, nil, vehicleEntity("e3", "V3", 45.48, 9.17))...)

	vehicles, err := d.DecodeVehicles(data)
	require.NoError(t, err)
	require.Len(t, vehicles, 2)
	assert.Equal(t, "V1", vehicles[0].VehicleID)
	assert.Equal(t, "V3", vehicles[1].VehicleID)
}

func TestDecodeVehicles_MissingHeader(t *testing.T) {
	d := newTestDecoder(t)
	data := marshalFeed(t, nil, vehicleEntity("e1", "V1", 45.46, 9.19))

	vehicles, err := d.DecodeVehicles(data)
	require.Error(t, err)
	assert.True(t, IsDecodeError(err))
	assert.Empty(t, vehicles)
}

func TestDecodeVehicles_HeaderWithoutVersion(t *testing.T) {
	d := newTestDecoder(t)

	var data []byte
	data = protowire.AppendTag(data, 1, protowire.BytesType)
	// timestamp only; gtfs_realtime_version is required.
	header := protowire.AppendTag(nil, 4, protowire.VarintType)
	header = protowire.AppendVarint(header, 1741593600)
	data = protowire.AppendBytes(data, header)
	data = append(data, marshalFeed(t, nil, vehicleEntity("e1", "V1", 45.46, 9.19))...)

	vehicles, err := d.DecodeVehicles(data)
	require.Error(t, err)
	assert.True(t, IsDecodeError(err))
	assert.Empty(t, vehicles)
}

func TestDecodeVehicles_Garbage(t *testing.T) {
	d := newTestDecoder(t)

	vehicles, err := d.DecodeVehicles([]byte("this is not a protobuf message"))
	require.Error(t, err)
	assert.True(t, IsDecodeError(err))
	assert.Empty(t, vehicles)
}

func TestDecodeVehicles_Status(t *testing.T) {
	tests := []struct {
		status   gtfsrt.VehiclePosition_VehicleStopStatus
		expected models.VehicleStopStatus
	}{
		{gtfsrt.VehiclePosition_INCOMING_AT, models.StatusIncomingAt},
		{gtfsrt.VehiclePosition_STOPPED_AT, models.StatusStoppedAt},
		{gtfsrt.VehiclePosition_IN_TRANSIT_TO, models.StatusInTransitTo},
	}

	d := newTestDecoder(t)
	for _, tt := range tests {
		t.Run(tt.status.String(), func(t *testing.T) {
			e := vehicleEntity("e1", "V1", 45.46, 9.19)
			e.Vehicle.CurrentStatus = tt.status.Enum()

			vehicles, err := d.DecodeVehicles(marshalFeed(t, feedHeader(1741593600), e))
			require.NoError(t, err)
			require.Len(t, vehicles, 1)
			assert.Equal(t, tt.expected, vehicles[0].Status)
		})
	}
}

func TestDecodeVehicles_Occupancy(t *testing.T) {
	tests := []struct {
		status   gtfsrt.VehiclePosition_OccupancyStatus
		expected int
	}{
		{gtfsrt.VehiclePosition_EMPTY, 0},
		{gtfsrt.VehiclePosition_MANY_SEATS_AVAILABLE, 25},
		{gtfsrt.VehiclePosition_FEW_SEATS_AVAILABLE, 50},
		{gtfsrt.VehiclePosition_STANDING_ROOM_ONLY, 75},
		{gtfsrt.VehiclePosition_CRUSHED_STANDING_ROOM_ONLY, 90},
		{gtfsrt.VehiclePosition_FULL, 100},
		{gtfsrt.VehiclePosition_NOT_ACCEPTING_PASSENGERS, 100},
	}

	d := newTestDecoder(t)
	for _, tt := range tests {
		t.Run(tt.status.String(), func(t *testing.T) {
			e := vehicleEntity("e1", "V1", 45.46, 9.19)
			e.Vehicle.OccupancyStatus = tt.status.Enum()

			vehicles, err := d.DecodeVehicles(marshalFeed(t, feedHeader(1741593600), e))
			require.NoError(t, err)
			require.Len(t, vehicles, 1)
			require.NotNil(t, vehicles[0].OccupancyPercent)
			assert.Equal(t, tt.expected, *vehicles[0].OccupancyPercent)
		})
	}
}

func TestDecodeVehicles_ExactOccupancyWins(t *testing.T) {
	e := vehicleEntity("e1", "V1", 45.46, 9.19)
	e.Vehicle.OccupancyStatus = gtfsrt.VehiclePosition_FULL.Enum()

	m := e.Vehicle.ProtoReflect()
	fd := m.Descriptor().Fields().ByName("occupancy_percentage")
	if fd == nil {
		t.Skip("bindings predate occupancy_percentage")
	}
	m.Set(fd, protoreflect.ValueOfUint32(37))

	d := newTestDecoder(t)
	vehicles, err := d.DecodeVehicles(marshalFeed(t, feedHeader(1741593600), e))
	require.NoError(t, err)
	require.Len(t, vehicles, 1)
	require.NotNil(t, vehicles[0].OccupancyPercent)
	assert.Equal(t, 37, *vehicles[0].OccupancyPercent)
}

func tripUpdateEntity(id, tripID, routeID string, updates ...*gtfsrt.TripUpdate_StopTimeUpdate) *gtfsrt.FeedEntity {
	return &gtfsrt.FeedEntity{
		Id: proto.String(id),
		TripUpdate: &gtfsrt.TripUpdate{
			Trip: &gtfsrt.TripDescriptor{
				TripId:  proto.String(tripID),
				RouteId: proto.String(routeID),
			},
			Vehicle:        &gtfsrt.VehicleDescriptor{Id: proto.String("V1")},
			StopTimeUpdate: updates,
		},
	}
}

func TestDecodeTripUpdates(t *testing.T) {
	d := newTestDecoder(t)

	arrival := int64(1741594000)
	data := marshalFeed(t, feedHeader(1741593600),
		tripUpdateEntity("e1", "T1", "R1",
			&gtfsrt.TripUpdate_StopTimeUpdate{
				StopSequence: proto.Uint32(1),
				StopId:       proto.String("S1"),
				Arrival:      &gtfsrt.TripUpdate_StopTimeEvent{Delay: proto.Int32(120), Time: proto.Int64(arrival)},
				Departure:    &gtfsrt.TripUpdate_StopTimeEvent{Delay: proto.Int32(180), Time: proto.Int64(arrival + 60)},
			},
			&gtfsrt.TripUpdate_StopTimeUpdate{
				StopSequence: proto.Uint32(2),
				StopId:       proto.String("S2"),
				Departure:    &gtfsrt.TripUpdate_StopTimeEvent{Delay: proto.Int32(240)},
			},
			&gtfsrt.TripUpdate_StopTimeUpdate{
				StopSequence:         proto.Uint32(3),
				StopId:               proto.String("S3"),
				ScheduleRelationship: gtfsrt.TripUpdate_StopTimeUpdate_SKIPPED.Enum(),
			},
		),
	)

	predictions, err := d.DecodeTripUpdates(data)
	require.NoError(t, err)
	require.Len(t, predictions, 3)

	first := predictions[0]
	assert.Equal(t, "T1", models.Deref(first.TripID))
	assert.Equal(t, "R1", models.Deref(first.RouteID))
	assert.Equal(t, "S1", models.Deref(first.StopID))
	assert.Equal(t, 1, first.StopSequence)
	assert.Equal(t, 120, first.DelaySeconds)
	require.NotNil(t, first.PredictedArrival)
	assert.Equal(t, time.Unix(arrival, 0).UTC(), *first.PredictedArrival)
	require.NotNil(t, first.PredictedDeparture)
	assert.Equal(t, time.Unix(arrival+60, 0).UTC(), *first.PredictedDeparture)
	assert.Equal(t, models.RelationshipScheduled, first.ScheduleRelationship)
	assert.Equal(t, "V1", first.VehicleID)

	assert.Equal(t, 240, predictions[1].DelaySeconds)
	assert.Nil(t, predictions[1].PredictedArrival)

	assert.Equal(t, 0, predictions[2].DelaySeconds)
	assert.Equal(t, models.RelationshipSkipped, predictions[2].ScheduleRelationship)

	// Records must not share reference storage.
	*predictions[0].TripID = "changed"
	assert.Equal(t, "T1", models.Deref(predictions[1].TripID))
}

func TestDecodeTripUpdates_TripDelayFallback(t *testing.T) {
	d := newTestDecoder(t)

	e := tripUpdateEntity("e1", "T1", "", &gtfsrt.TripUpdate_StopTimeUpdate{
		StopSequence: proto.Uint32(4),
		StopId:       proto.String("S1"),
	})
	e.TripUpdate.Delay = proto.Int32(420)

	predictions, err := d.DecodeTripUpdates(marshalFeed(t, feedHeader(1741593600), e))
	require.NoError(t, err)
	require.Len(t, predictions, 1)
	assert.Equal(t, 420, predictions[0].DelaySeconds)
	assert.Nil(t, predictions[0].RouteID)
}

func TestDecodeTripUpdates_IgnoresVehicleEntities(t *testing.T) {
	d := newTestDecoder(t)

	data := marshalFeed(t, feedHeader(1741593600),
		vehicleEntity("e1", "V1", 45.46, 9.19),
		tripUpdateEntity("e2", "T1", "R1", &gtfsrt.TripUpdate_StopTimeUpdate{
			StopSequence: proto.Uint32(1),
			StopId:       proto.String("S1"),
		}),
	)

	predictions, err := d.DecodeTripUpdates(data)
	require.NoError(t, err)
	assert.Len(t, predictions, 1)

	vehicles, err := d.DecodeVehicles(data)
	require.NoError(t, err)
	assert.Len(t, vehicles, 1)
}
