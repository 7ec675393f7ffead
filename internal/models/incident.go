package models

import "time"

type IncidentType string

const (
	IncidentDelay   IncidentType = "RITARDO"
	IncidentDisrupt IncidentType = "INCIDENTE"
)

type Severity string

const (
	SeverityLow    Severity = "LOW"
	SeverityMedium Severity = "MEDIUM"
	SeverityHigh   Severity = "HIGH"
)

// DelayIncidentPrefix prefixes the deterministic id of a route delay incident.
const DelayIncidentPrefix = "RITARDO_LINEA_"

// DelayIncidentID returns the deterministic incident id for routeID.
func DelayIncidentID(routeID string) string {
	return DelayIncidentPrefix + routeID
}

type Incident struct {
	ID             string       `json:"id"`
	Type           IncidentType `json:"type"`
	Severity       Severity     `json:"severity"`
	Location       string       `json:"location"`
	Description    string       `json:"description"`
	AffectedRoutes []string     `json:"affectedRoutes"`
	StartTime      time.Time    `json:"startTime"`
	EndTime        *time.Time   `json:"endTime"`
	Active         bool         `json:"active"`
}

// Clone returns a deep copy so snapshots handed to readers never alias the
// aggregator's working set.
func (i Incident) Clone() Incident {
	c := i
	c.AffectedRoutes = append([]string(nil), i.AffectedRoutes...)
	if i.EndTime != nil {
		end := *i.EndTime
		c.EndTime = &end
	}
	return c
}
