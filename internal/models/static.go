package models

import "time"

// RouteType is the GTFS route_type transport mode.
type RouteType int

const (
	RouteTypeTram       RouteType = 0
	RouteTypeSubway     RouteType = 1
	RouteTypeRail       RouteType = 2
	RouteTypeBus        RouteType = 3
	RouteTypeFerry      RouteType = 4
	RouteTypeCableTram  RouteType = 5
	RouteTypeAerialLift RouteType = 6
	RouteTypeFunicular  RouteType = 7
	RouteTypeTrolleybus RouteType = 11
	RouteTypeMonorail   RouteType = 12
)

func (t RouteType) String() string {
	switch t {
	case RouteTypeTram:
		return "tram"
	case RouteTypeSubway:
		return "subway"
	case RouteTypeRail:
		return "rail"
	case RouteTypeBus:
		return "bus"
	case RouteTypeFerry:
		return "ferry"
	case RouteTypeCableTram:
		return "cable_tram"
	case RouteTypeAerialLift:
		return "aerial_lift"
	case RouteTypeFunicular:
		return "funicular"
	case RouteTypeTrolleybus:
		return "trolleybus"
	case RouteTypeMonorail:
		return "monorail"
	default:
		return "unknown"
	}
}

type Agency struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	URL      string `json:"url"`
	Timezone string `json:"timezone"`
	Lang     string `json:"lang,omitempty"`
	Phone    string `json:"phone,omitempty"`
}

type Route struct {
	ID        string    `json:"id"`
	AgencyID  string    `json:"agencyId"`
	ShortName string    `json:"shortName"`
	LongName  string    `json:"longName"`
	Type      RouteType `json:"type"`
	Color     string    `json:"color,omitempty"`
	TextColor string    `json:"textColor,omitempty"`
	SortOrder int       `json:"sortOrder"`
}

// DisplayName is the rider-facing label: short name when present.
func (r Route) DisplayName() string {
	if r.ShortName != "" {
		return r.ShortName
	}
	if r.LongName != "" {
		return r.LongName
	}
	return r.ID
}

type Stop struct {
	ID            string  `json:"id"`
	Code          string  `json:"code,omitempty"`
	Name          string  `json:"name"`
	Lat           float64 `json:"lat"`
	Lon           float64 `json:"lon"`
	ParentStation string  `json:"parentStation,omitempty"`
	LocationType  int     `json:"locationType"`
}

type Trip struct {
	ID          string `json:"id"`
	RouteID     string `json:"routeId"`
	ServiceID   string `json:"serviceId"`
	Headsign    string `json:"headsign"`
	DirectionID int    `json:"directionId"`
	ShapeID     string `json:"shapeId,omitempty"`
	BlockID     string `json:"blockId,omitempty"`
}

// StopTime is identified by (TripID, StopSequence). Arrival and departure are
// offsets from service-day noon minus 12h, and may exceed 24h.
type StopTime struct {
	TripID        string        `json:"tripId"`
	StopID        string        `json:"stopId"`
	StopSequence  int           `json:"stopSequence"`
	ArrivalTime   time.Duration `json:"arrivalTime"`
	DepartureTime time.Duration `json:"departureTime"`
}

type ShapePoint struct {
	ShapeID  string  `json:"shapeId"`
	Lat      float64 `json:"lat"`
	Lon      float64 `json:"lon"`
	Sequence int     `json:"sequence"`
}

// StaticVersion identifies the static archive behind the current import: the
// validators its download answered with and when it was last fetched.
type StaticVersion struct {
	ETag         string
	LastModified string
	Downloaded   time.Time
}
