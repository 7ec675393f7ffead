package realtime

import (
	"errors"
	"log/slog"
	"time"

	gtfsrt "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"

	"transitsync.dev/internal/clock"
	"transitsync.dev/internal/logging"
	"transitsync.dev/internal/models"
)

// minMessageSize is the smallest payload worth decoding. Anything shorter
// cannot hold a header and one entity.
const minMessageSize = 10

// FeedMessage field numbers.
const (
	fieldHeader protowire.Number = 1
	fieldEntity protowire.Number = 2
)

// Decoder turns GTFS-RT payloads into live records. The envelope is walked
// field by field so that one malformed entity only costs that entity.
type Decoder struct {
	clock  clock.Clock
	logger *slog.Logger
}

func NewDecoder(c clock.Clock) *Decoder {
	return &Decoder{
		clock:  clock.OrReal(c),
		logger: slog.Default().With(slog.String("component", "gtfs_realtime_decoder")),
	}
}

// envelope is a FeedMessage with entities still encoded.
type envelope struct {
	header   *gtfsrt.FeedHeader
	entities [][]byte
}

// splitEnvelope reads the header and the raw entity bytes. A missing or
// invalid header is a DecodeError; entities are left undecoded.
func splitEnvelope(data []byte) (*envelope, error) {
	env := &envelope{}
	var headerBytes []byte
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, &models.DecodeError{Reason: "invalid field tag", Err: protowire.ParseError(n)}
		}
		data = data[n:]

		if typ == protowire.BytesType && (num == fieldHeader || num == fieldEntity) {
			v, m := protowire.ConsumeBytes(data)
			if m < 0 {
				if num == fieldHeader {
					return nil, &models.DecodeError{Reason: "truncated header", Err: protowire.ParseError(m)}
				}
				// A truncated trailing entity ends the message.
				break
			}
			data = data[m:]
			if num == fieldHeader {
				headerBytes = v
			} else {
				env.entities = append(env.entities, v)
			}
			continue
		}

		m := protowire.ConsumeFieldValue(num, typ, data)
		if m < 0 {
			break
		}
		data = data[m:]
	}

	if headerBytes == nil {
		return nil, &models.DecodeError{Reason: "feed header missing"}
	}
	header := &gtfsrt.FeedHeader{}
	if err := proto.Unmarshal(headerBytes, header); err != nil {
		return nil, &models.DecodeError{Reason: "invalid feed header", Err: err}
	}
	env.header = header
	return env, nil
}

// open splits data into an envelope. It returns nil for payloads that carry
// no data this cycle, and logs envelope errors before returning them.
func (d *Decoder) open(data []byte, kind FeedKind) (*envelope, error) {
	if len(data) < minMessageSize {
		return nil, nil
	}
	env, err := splitEnvelope(data)
	if err != nil {
		logging.LogWarning(d.logger, "Discarding realtime payload",
			slog.String("feed", kind.String()),
			slog.Int("bytes", len(data)),
			slog.String("error", err.Error()))
		return nil, err
	}
	return env, nil
}

// entities decodes each raw entity on its own, skipping failures and
// deletions.
func (d *Decoder) entities(env *envelope, kind FeedKind) []*gtfsrt.FeedEntity {
	out := make([]*gtfsrt.FeedEntity, 0, len(env.entities))
	skipped := 0
	for _, raw := range env.entities {
		entity := &gtfsrt.FeedEntity{}
		if err := proto.Unmarshal(raw, entity); err != nil {
			skipped++
			continue
		}
		if entity.GetIsDeleted() {
			continue
		}
		out = append(out, entity)
	}
	if skipped > 0 {
		logging.LogWarning(d.logger, "Skipped undecodable realtime entities",
			slog.String("feed", kind.String()),
			slog.Int("skipped", skipped),
			slog.Int("total", len(env.entities)))
	}
	return out
}

// DecodeVehicles returns the vehicle positions in data. Payloads shorter than
// a minimal message decode to an empty slice without error. A malformed
// envelope returns an empty slice and a *models.DecodeError.
func (d *Decoder) DecodeVehicles(data []byte) ([]models.VehiclePosition, error) {
	env, err := d.open(data, FeedVehiclePositions)
	if env == nil {
		return []models.VehiclePosition{}, err
	}

	headerTime := env.header.GetTimestamp()
	vehicles := make([]models.VehiclePosition, 0, len(env.entities))
	for _, entity := range d.entities(env, FeedVehiclePositions) {
		if vp, ok := d.vehicleFromEntity(entity, headerTime); ok {
			vehicles = append(vehicles, vp)
		}
	}
	return vehicles, nil
}

func (d *Decoder) vehicleFromEntity(entity *gtfsrt.FeedEntity, headerTime uint64) (models.VehiclePosition, bool) {
	v := entity.GetVehicle()
	if v == nil {
		return models.VehiclePosition{}, false
	}
	id := v.GetVehicle().GetId()
	if id == "" {
		return models.VehiclePosition{}, false
	}
	pos := v.GetPosition()
	lat, lon := float64(pos.GetLatitude()), float64(pos.GetLongitude())
	// 0,0 is a missing fix, not a position.
	if pos == nil || (lat == 0 && lon == 0) {
		return models.VehiclePosition{}, false
	}

	trip := v.GetTrip()
	return models.VehiclePosition{
		VehicleID:        id,
		Label:            v.GetVehicle().GetLabel(),
		RouteID:          models.StringPtr(trip.GetRouteId()),
		TripID:           models.StringPtr(trip.GetTripId()),
		StopID:           models.StringPtr(v.GetStopId()),
		Lat:              lat,
		Lon:              lon,
		Bearing:          float64(pos.GetBearing()),
		Speed:            float64(pos.GetSpeed()),
		Status:           stopStatus(v),
		OccupancyPercent: occupancyPercent(v),
		Timestamp:        d.timestamp(v.GetTimestamp(), headerTime),
	}, true
}

// timestamp prefers the record's own time, then the feed header's, then now.
func (d *Decoder) timestamp(own, header uint64) time.Time {
	switch {
	case own > 0:
		return time.Unix(int64(own), 0).UTC()
	case header > 0:
		return time.Unix(int64(header), 0).UTC()
	default:
		return d.clock.Now().UTC()
	}
}

func stopStatus(v *gtfsrt.VehiclePosition) models.VehicleStopStatus {
	if v.CurrentStatus == nil {
		return models.StatusUnknown
	}
	switch v.GetCurrentStatus() {
	case gtfsrt.VehiclePosition_INCOMING_AT:
		return models.StatusIncomingAt
	case gtfsrt.VehiclePosition_STOPPED_AT:
		return models.StatusStoppedAt
	case gtfsrt.VehiclePosition_IN_TRANSIT_TO:
		return models.StatusInTransitTo
	default:
		return models.StatusUnknown
	}
}

// occupancyPercent maps the occupancy enum onto a rough percentage. An
// explicit occupancy_percentage wins over the enum.
func occupancyPercent(v *gtfsrt.VehiclePosition) *int {
	if pct, ok := exactOccupancy(v); ok {
		return &pct
	}
	if v.OccupancyStatus == nil {
		return nil
	}

	var pct int
	switch v.GetOccupancyStatus() {
	case gtfsrt.VehiclePosition_EMPTY:
		pct = 0
	case gtfsrt.VehiclePosition_MANY_SEATS_AVAILABLE:
		pct = 25
	case gtfsrt.VehiclePosition_FEW_SEATS_AVAILABLE:
		pct = 50
	case gtfsrt.VehiclePosition_STANDING_ROOM_ONLY:
		pct = 75
	case gtfsrt.VehiclePosition_CRUSHED_STANDING_ROOM_ONLY:
		pct = 90
	case gtfsrt.VehiclePosition_FULL, gtfsrt.VehiclePosition_NOT_ACCEPTING_PASSENGERS:
		pct = 100
	default:
		return nil
	}
	return &pct
}

// exactOccupancy reads occupancy_percentage through reflection, so the
// decoder works against bindings generated before the field existed.
func exactOccupancy(v *gtfsrt.VehiclePosition) (int, bool) {
	m := v.ProtoReflect()
	fd := m.Descriptor().Fields().ByName("occupancy_percentage")
	if fd == nil || !m.Has(fd) {
		return 0, false
	}
	return int(m.Get(fd).Uint()), true
}

// DecodeTripUpdates returns one prediction per stop time update in data.
// Short payloads and malformed envelopes behave as in DecodeVehicles.
func (d *Decoder) DecodeTripUpdates(data []byte) ([]models.ArrivalPrediction, error) {
	env, err := d.open(data, FeedTripUpdates)
	if env == nil {
		return []models.ArrivalPrediction{}, err
	}

	predictions := make([]models.ArrivalPrediction, 0, len(env.entities))
	for _, entity := range d.entities(env, FeedTripUpdates) {
		tu := entity.GetTripUpdate()
		if tu == nil {
			continue
		}
		predictions = append(predictions, predictionsFromTripUpdate(tu)...)
	}
	return predictions, nil
}

func predictionsFromTripUpdate(tu *gtfsrt.TripUpdate) []models.ArrivalPrediction {
	trip := tu.GetTrip()
	tripID := models.StringPtr(trip.GetTripId())
	routeID := models.StringPtr(trip.GetRouteId())
	vehicleID := tu.GetVehicle().GetId()

	updates := tu.GetStopTimeUpdate()
	out := make([]models.ArrivalPrediction, 0, len(updates))
	for _, stu := range updates {
		out = append(out, models.ArrivalPrediction{
			TripID:               cloneString(tripID),
			RouteID:              cloneString(routeID),
			StopID:               models.StringPtr(stu.GetStopId()),
			StopSequence:         int(stu.GetStopSequence()),
			PredictedArrival:     eventTime(stu.GetArrival()),
			PredictedDeparture:   eventTime(stu.GetDeparture()),
			DelaySeconds:         delaySeconds(tu, stu),
			ScheduleRelationship: scheduleRelationship(stu),
			VehicleID:            vehicleID,
		})
	}
	return out
}

// delaySeconds takes the arrival delay, then the departure delay, then the
// trip-level delay.
func delaySeconds(tu *gtfsrt.TripUpdate, stu *gtfsrt.TripUpdate_StopTimeUpdate) int {
	if a := stu.GetArrival(); a != nil && a.Delay != nil {
		return int(a.GetDelay())
	}
	if dep := stu.GetDeparture(); dep != nil && dep.Delay != nil {
		return int(dep.GetDelay())
	}
	if tu.Delay != nil {
		return int(tu.GetDelay())
	}
	return 0
}

func eventTime(e *gtfsrt.TripUpdate_StopTimeEvent) *time.Time {
	if e == nil || e.GetTime() == 0 {
		return nil
	}
	t := time.Unix(e.GetTime(), 0).UTC()
	return &t
}

func scheduleRelationship(stu *gtfsrt.TripUpdate_StopTimeUpdate) models.ScheduleRelationship {
	if stu.ScheduleRelationship == nil {
		return models.RelationshipScheduled
	}
	switch stu.GetScheduleRelationship().String() {
	case "SKIPPED":
		return models.RelationshipSkipped
	case "NO_DATA":
		return models.RelationshipNoData
	case "UNSCHEDULED":
		return models.RelationshipUnscheduled
	default:
		return models.RelationshipScheduled
	}
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// IsDecodeError reports whether err came from a malformed envelope.
func IsDecodeError(err error) bool {
	var de *models.DecodeError
	return errors.As(err, &de)
}
