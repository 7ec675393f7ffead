// Package realtime fetches, decodes and sanitizes GTFS-Realtime feeds.
package realtime

// FeedKind names one of the realtime feeds a sync cycle polls.
type FeedKind string

const (
	FeedVehiclePositions FeedKind = "vehicle_positions"
	FeedTripUpdates      FeedKind = "trip_updates"
)

func (k FeedKind) String() string {
	return string(k)
}

// FeedKinds lists every feed in the order a cycle processes them.
var FeedKinds = []FeedKind{FeedVehiclePositions, FeedTripUpdates}
