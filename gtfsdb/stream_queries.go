package gtfsdb

// Hand-written queries that sqlc cannot express: row callbacks that stream
// large static tables, and the dynamic pieces used by BatchInserter.
//
// If the stop_times, shapes or arrival_predictions schemas change, update this
// file by hand. 'go generate ./gtfsdb' only rewrites the sqlc output.

//go:generate go tool sqlc generate -f sqlc.yml

import (
	"context"
)

const eachStopTime = `
SELECT trip_id, stop_id, stop_sequence, arrival_time, departure_time
FROM stop_times
ORDER BY trip_id, stop_sequence
`

// EachStopTime streams stop_times ordered by (trip_id, stop_sequence) without
// materializing an intermediate slice.
func (q *Queries) EachStopTime(ctx context.Context, fn func(StopTime) error) error {
	rows, err := q.db.QueryContext(ctx, eachStopTime)
	if err != nil {
		return err
	}
	defer rows.Close() //nolint:errcheck // closing is also checked explicitly below
	for rows.Next() {
		var i StopTime
		if err := rows.Scan(
			&i.TripID,
			&i.StopID,
			&i.StopSequence,
			&i.ArrivalTime,
			&i.DepartureTime,
		); err != nil {
			return err
		}
		if err := fn(i); err != nil {
			return err
		}
	}
	if err := rows.Close(); err != nil {
		return err
	}
	return rows.Err()
}

const eachShapePoint = `
SELECT shape_id, lat, lon, shape_pt_sequence
FROM shapes
ORDER BY shape_id, shape_pt_sequence
`

// EachShapePoint streams shape points ordered by (shape_id, sequence).
func (q *Queries) EachShapePoint(ctx context.Context, fn func(Shape) error) error {
	rows, err := q.db.QueryContext(ctx, eachShapePoint)
	if err != nil {
		return err
	}
	defer rows.Close() //nolint:errcheck // closing is also checked explicitly below
	for rows.Next() {
		var i Shape
		if err := rows.Scan(&i.ShapeID, &i.Lat, &i.Lon, &i.ShapePtSequence); err != nil {
			return err
		}
		if err := fn(i); err != nil {
			return err
		}
	}
	if err := rows.Close(); err != nil {
		return err
	}
	return rows.Err()
}

// staticTables lists the static tables in reverse dependency order, which is
// the order they are cleared in.
var staticTables = []string{"stop_times", "shapes", "trips", "stops", "routes", "agencies"}

// ClearStaticData removes every static row. Realtime cache tables are untouched.
func (q *Queries) ClearStaticData(ctx context.Context) error {
	for _, table := range staticTables {
		// table names come from the fixed list above
		if _, err := q.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// ArrivalPredictionColumns is the column order used for bulk inserts into
// arrival_predictions. id is assigned by the database.
var ArrivalPredictionColumns = []string{
	"trip_id", "route_id", "stop_id", "stop_sequence", "predicted_arrival",
	"predicted_departure", "delay_seconds", "schedule_relationship", "vehicle_id", "snapshot_id",
}

// Values returns the row in ArrivalPredictionColumns order.
func (p ArrivalPrediction) Values() []interface{} {
	return []interface{}{
		p.TripID,
		p.RouteID,
		p.StopID,
		p.StopSequence,
		p.PredictedArrival,
		p.PredictedDeparture,
		p.DelaySeconds,
		p.ScheduleRelationship,
		p.VehicleID,
		p.SnapshotID,
	}
}
