package models

import "time"

// VehicleStopStatus mirrors the GTFS-RT VehicleStopStatus enum.
type VehicleStopStatus string

const (
	StatusInTransitTo VehicleStopStatus = "IN_TRANSIT_TO"
	StatusStoppedAt   VehicleStopStatus = "STOPPED_AT"
	StatusIncomingAt  VehicleStopStatus = "INCOMING_AT"
	StatusUnknown     VehicleStopStatus = "UNKNOWN"
)

// ScheduleRelationship mirrors the GTFS-RT StopTimeUpdate schedule relationship.
type ScheduleRelationship string

const (
	RelationshipScheduled   ScheduleRelationship = "SCHEDULED"
	RelationshipSkipped     ScheduleRelationship = "SKIPPED"
	RelationshipNoData      ScheduleRelationship = "NO_DATA"
	RelationshipUnscheduled ScheduleRelationship = "UNSCHEDULED"
)

// VehiclePosition is a live vehicle fix. RouteID, TripID and StopID may be
// nil after sanitization even if the feed carried a value.
type VehiclePosition struct {
	VehicleID        string            `json:"vehicleId"`
	Label            string            `json:"label,omitempty"`
	RouteID          *string           `json:"routeId"`
	TripID           *string           `json:"tripId"`
	StopID           *string           `json:"stopId"`
	Lat              float64           `json:"lat"`
	Lon              float64           `json:"lon"`
	Bearing          float64           `json:"bearing"`
	Speed            float64           `json:"speed"`
	Status           VehicleStopStatus `json:"status"`
	OccupancyPercent *int              `json:"occupancyPercent"`
	Timestamp        time.Time         `json:"timestamp"`
}

// ArrivalPrediction is a per-stop prediction taken from a trip update.
type ArrivalPrediction struct {
	TripID               *string              `json:"tripId"`
	RouteID              *string              `json:"routeId"`
	StopID               *string              `json:"stopId"`
	StopSequence         int                  `json:"stopSequence"`
	PredictedArrival     *time.Time           `json:"predictedArrival"`
	PredictedDeparture   *time.Time           `json:"predictedDeparture"`
	DelaySeconds         int                  `json:"delaySeconds"`
	ScheduleRelationship ScheduleRelationship `json:"scheduleRelationship"`
	VehicleID            string               `json:"vehicleId,omitempty"`
}

// StringPtr returns a pointer to s, or nil when s is empty.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Deref returns *s, or "" when s is nil.
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
