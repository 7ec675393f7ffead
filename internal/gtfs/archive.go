package gtfs

import (
	"bytes"
	"fmt"
	"path"
	"strings"

	gogtfs "github.com/OneBusAway/go-gtfs"
	"github.com/klauspost/compress/zip"

	"transitsync.dev/internal/models"
)

// Static table names as they appear in the archive, without ".txt".
const (
	TableAgency    = "agency"
	TableCalendar  = "calendar"
	TableRoutes    = "routes"
	TableStops     = "stops"
	TableTrips     = "trips"
	TableStopTimes = "stop_times"
	TableShapes    = "shapes"
)

// requiredTables must be present for a load to proceed. agency and calendar
// may be absent.
var requiredTables = []string{TableStops, TableRoutes, TableTrips}

// StaticArchiveReader yields parsed rows per static table. Implementations
// hide the archive format from the loader.
type StaticArchiveReader interface {
	HasTable(name string) bool
	EachAgency(fn func(models.Agency) error) error
	EachRoute(fn func(models.Route) error) error
	EachStop(fn func(models.Stop) error) error
	EachTrip(fn func(models.Trip) error) error
	EachStopTime(fn func(models.StopTime) error) error
	EachShapePoint(fn func(models.ShapePoint) error) error
}

// ArchiveReader reads a GTFS zip with go-gtfs.
type ArchiveReader struct {
	static *gogtfs.Static
	tables map[string]bool
}

// ListArchiveTables returns the set of .txt tables in a GTFS zip.
func ListArchiveTables(b []byte) (map[string]bool, error) {
	zr, err := zip.NewReader(bytes.NewReader(b), int64(len(b)))
	if err != nil {
		return nil, err
	}
	tables := make(map[string]bool, len(zr.File))
	for _, f := range zr.File {
		name := path.Base(f.Name)
		if !strings.HasSuffix(name, ".txt") {
			continue
		}
		tables[strings.TrimSuffix(name, ".txt")] = true
	}
	return tables, nil
}

// NewArchiveReader parses a GTFS zip. An archive missing a required table is
// not parsed; the loader reports it through HasTable.
func NewArchiveReader(b []byte) (*ArchiveReader, error) {
	tables, err := ListArchiveTables(b)
	if err != nil {
		return nil, &models.FeedFormatError{Reason: "archive is not a readable zip", Err: err}
	}
	for _, t := range requiredTables {
		if !tables[t] {
			return &ArchiveReader{tables: tables}, nil
		}
	}

	static, err := gogtfs.ParseStatic(b, gogtfs.ParseStaticOptions{})
	if err != nil {
		return nil, &models.FeedFormatError{Reason: "archive could not be parsed", Err: err}
	}
	return &ArchiveReader{static: static, tables: tables}, nil
}

// Warnings returns the number of parser warnings, for logging.
func (r *ArchiveReader) Warnings() int {
	if r.static == nil {
		return 0
	}
	return len(r.static.Warnings)
}

func (r *ArchiveReader) HasTable(name string) bool {
	return r.tables[name]
}

func (r *ArchiveReader) EachAgency(fn func(models.Agency) error) error {
	if r.static == nil {
		return nil
	}
	for _, a := range r.static.Agencies {
		if err := fn(models.Agency{
			ID:       a.Id,
			Name:     a.Name,
			URL:      a.Url,
			Timezone: a.Timezone,
			Lang:     a.Language,
			Phone:    a.Phone,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (r *ArchiveReader) EachRoute(fn func(models.Route) error) error {
	if r.static == nil {
		return nil
	}
	singleAgencyID := ""
	if len(r.static.Agencies) == 1 {
		singleAgencyID = r.static.Agencies[0].Id
	}
	for _, rt := range r.static.Routes {
		agencyID := singleAgencyID
		if rt.Agency != nil && rt.Agency.Id != "" {
			agencyID = rt.Agency.Id
		}
		route := models.Route{
			ID:        rt.Id,
			AgencyID:  agencyID,
			ShortName: rt.ShortName,
			LongName:  rt.LongName,
			Type:      models.RouteType(rt.Type),
			Color:     rt.Color,
			TextColor: rt.TextColor,
		}
		if rt.SortOrder != nil {
			route.SortOrder = int(*rt.SortOrder)
		}
		if err := fn(route); err != nil {
			return err
		}
	}
	return nil
}

func (r *ArchiveReader) EachStop(fn func(models.Stop) error) error {
	if r.static == nil {
		return nil
	}
	for _, s := range r.static.Stops {
		// Generic nodes and boarding areas may omit coordinates.
		if s.Latitude == nil || s.Longitude == nil {
			continue
		}
		stop := models.Stop{
			ID:           s.Id,
			Code:         s.Code,
			Name:         s.Name,
			Lat:          *s.Latitude,
			Lon:          *s.Longitude,
			LocationType: int(s.Type),
		}
		if s.Parent != nil {
			stop.ParentStation = s.Parent.Id
		}
		if err := fn(stop); err != nil {
			return err
		}
	}
	return nil
}

func (r *ArchiveReader) EachTrip(fn func(models.Trip) error) error {
	if r.static == nil {
		return nil
	}
	for _, t := range r.static.Trips {
		trip := models.Trip{
			ID:       t.ID,
			Headsign: t.Headsign,
			BlockID:  t.BlockID,
		}
		if t.Route != nil {
			trip.RouteID = t.Route.Id
		}
		if t.Service != nil {
			trip.ServiceID = t.Service.Id
		}
		// go-gtfs encodes direction_id=1 as 1 and direction_id=0 as 2.
		if int(t.DirectionId) == 1 {
			trip.DirectionID = 1
		}
		if t.Shape != nil {
			trip.ShapeID = t.Shape.ID
		}
		if err := fn(trip); err != nil {
			return err
		}
	}
	return nil
}

func (r *ArchiveReader) EachStopTime(fn func(models.StopTime) error) error {
	if r.static == nil {
		return nil
	}
	for _, t := range r.static.Trips {
		for _, st := range t.StopTimes {
			if st.Stop == nil {
				continue
			}
			if err := fn(models.StopTime{
				TripID:        t.ID,
				StopID:        st.Stop.Id,
				StopSequence:  st.StopSequence,
				ArrivalTime:   st.ArrivalTime,
				DepartureTime: st.DepartureTime,
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *ArchiveReader) EachShapePoint(fn func(models.ShapePoint) error) error {
	if r.static == nil {
		return nil
	}
	for _, shape := range r.static.Shapes {
		for i, p := range shape.Points {
			if err := fn(models.ShapePoint{
				ShapeID:  shape.ID,
				Lat:      p.Latitude,
				Lon:      p.Longitude,
				Sequence: i,
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

// StaticRows is an in-memory StaticArchiveReader. Tables lists the tables
// considered present; when nil, every non-empty slice counts as present.
type StaticRows struct {
	Tables      []string
	Agencies    []models.Agency
	Routes      []models.Route
	Stops       []models.Stop
	Trips       []models.Trip
	StopTimes   []models.StopTime
	ShapePoints []models.ShapePoint
}

func (s *StaticRows) HasTable(name string) bool {
	if s.Tables != nil {
		for _, t := range s.Tables {
			if t == name {
				return true
			}
		}
		return false
	}
	switch name {
	case TableAgency:
		return len(s.Agencies) > 0
	case TableRoutes:
		return len(s.Routes) > 0
	case TableStops:
		return len(s.Stops) > 0
	case TableTrips:
		return len(s.Trips) > 0
	case TableStopTimes:
		return len(s.StopTimes) > 0
	case TableShapes:
		return len(s.ShapePoints) > 0
	default:
		return false
	}
}

func eachRow[T any](rows []T, fn func(T) error) error {
	for _, row := range rows {
		if err := fn(row); err != nil {
			return err
		}
	}
	return nil
}

func (s *StaticRows) EachAgency(fn func(models.Agency) error) error {
	return eachRow(s.Agencies, fn)
}

func (s *StaticRows) EachRoute(fn func(models.Route) error) error {
	return eachRow(s.Routes, fn)
}

func (s *StaticRows) EachStop(fn func(models.Stop) error) error {
	return eachRow(s.Stops, fn)
}

func (s *StaticRows) EachTrip(fn func(models.Trip) error) error {
	return eachRow(s.Trips, fn)
}

func (s *StaticRows) EachStopTime(fn func(models.StopTime) error) error {
	return eachRow(s.StopTimes, fn)
}

func (s *StaticRows) EachShapePoint(fn func(models.ShapePoint) error) error {
	return eachRow(s.ShapePoints, fn)
}

func missingTableError(table string) error {
	return &models.FeedFormatError{
		Table:  table,
		Reason: fmt.Sprintf("%s.txt is required", table),
		Err:    models.ErrTableMissing,
	}
}
