package rtsync

import (
	"strings"
	"time"

	"transitsync.dev/gtfsdb"
	"transitsync.dev/internal/models"
)

func vehicleToRow(v models.VehiclePosition, snapshotID string) gtfsdb.VehiclePosition {
	return gtfsdb.VehiclePosition{
		VehicleID:        v.VehicleID,
		Label:            gtfsdb.ToNullString(v.Label),
		RouteID:          gtfsdb.NullStringFromPtr(v.RouteID),
		TripID:           gtfsdb.NullStringFromPtr(v.TripID),
		StopID:           gtfsdb.NullStringFromPtr(v.StopID),
		Lat:              v.Lat,
		Lon:              v.Lon,
		Bearing:          v.Bearing,
		Speed:            v.Speed,
		Status:           string(v.Status),
		OccupancyPercent: gtfsdb.NullInt64FromPtr(v.OccupancyPercent),
		Timestamp:        v.Timestamp.UnixMilli(),
		SnapshotID:       snapshotID,
	}
}

func vehicleFromRow(r gtfsdb.VehiclePosition) models.VehiclePosition {
	return models.VehiclePosition{
		VehicleID:        r.VehicleID,
		Label:            r.Label.String,
		RouteID:          gtfsdb.PtrFromNullString(r.RouteID),
		TripID:           gtfsdb.PtrFromNullString(r.TripID),
		StopID:           gtfsdb.PtrFromNullString(r.StopID),
		Lat:              r.Lat,
		Lon:              r.Lon,
		Bearing:          r.Bearing,
		Speed:            r.Speed,
		Status:           models.VehicleStopStatus(r.Status),
		OccupancyPercent: gtfsdb.PtrFromNullInt64(r.OccupancyPercent),
		Timestamp:        time.UnixMilli(r.Timestamp).UTC(),
	}
}

func predictionToRow(p models.ArrivalPrediction, snapshotID string) gtfsdb.ArrivalPrediction {
	return gtfsdb.ArrivalPrediction{
		TripID:               gtfsdb.NullStringFromPtr(p.TripID),
		RouteID:              gtfsdb.NullStringFromPtr(p.RouteID),
		StopID:               gtfsdb.NullStringFromPtr(p.StopID),
		StopSequence:         int64(p.StopSequence),
		PredictedArrival:     gtfsdb.NullMillisFromTime(p.PredictedArrival),
		PredictedDeparture:   gtfsdb.NullMillisFromTime(p.PredictedDeparture),
		DelaySeconds:         int64(p.DelaySeconds),
		ScheduleRelationship: string(p.ScheduleRelationship),
		VehicleID:            gtfsdb.ToNullString(p.VehicleID),
		SnapshotID:           snapshotID,
	}
}

func predictionFromRow(r gtfsdb.ArrivalPrediction) models.ArrivalPrediction {
	return models.ArrivalPrediction{
		TripID:               gtfsdb.PtrFromNullString(r.TripID),
		RouteID:              gtfsdb.PtrFromNullString(r.RouteID),
		StopID:               gtfsdb.PtrFromNullString(r.StopID),
		StopSequence:         int(r.StopSequence),
		PredictedArrival:     gtfsdb.TimeFromNullMillis(r.PredictedArrival),
		PredictedDeparture:   gtfsdb.TimeFromNullMillis(r.PredictedDeparture),
		DelaySeconds:         int(r.DelaySeconds),
		ScheduleRelationship: models.ScheduleRelationship(r.ScheduleRelationship),
		VehicleID:            r.VehicleID.String,
	}
}

func incidentToRow(i models.Incident) gtfsdb.Incident {
	return gtfsdb.Incident{
		ID:             i.ID,
		Type:           string(i.Type),
		Severity:       string(i.Severity),
		Location:       i.Location,
		Description:    i.Description,
		AffectedRoutes: strings.Join(i.AffectedRoutes, ","),
		StartTime:      i.StartTime.UnixMilli(),
		EndTime:        gtfsdb.NullMillisFromTime(i.EndTime),
		Active:         i.Active,
	}
}

func incidentFromRow(r gtfsdb.Incident) models.Incident {
	var routes []string
	if r.AffectedRoutes != "" {
		routes = strings.Split(r.AffectedRoutes, ",")
	}
	return models.Incident{
		ID:             r.ID,
		Type:           models.IncidentType(r.Type),
		Severity:       models.Severity(r.Severity),
		Location:       r.Location,
		Description:    r.Description,
		AffectedRoutes: routes,
		StartTime:      time.UnixMilli(r.StartTime).UTC(),
		EndTime:        gtfsdb.TimeFromNullMillis(r.EndTime),
		Active:         r.Active,
	}
}
