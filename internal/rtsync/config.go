package rtsync

import (
	"time"

	"transitsync.dev/internal/realtime"
)

const (
	DefaultInterval          = 30 * time.Second
	DefaultStaleThreshold    = 10 * time.Minute
	DefaultFetchTimeout      = 10 * time.Second
	DefaultCycleTimeout      = 2 * time.Minute
	DefaultRetryAttempts     = 2
	DefaultSnapshotRetention = 24 * time.Hour
)

// Config holds realtime sync configuration.
type Config struct {
	VehiclePositionsURL string
	TripUpdatesURL      string
	// Headers are sent with every feed request, typically an API key.
	Headers map[string]string
	// ProbeURL is asked when fetches fail, to tell an upstream outage from a
	// lost connection.
	ProbeURL string

	Interval       time.Duration
	StaleThreshold time.Duration
	FetchTimeout   time.Duration
	CycleTimeout   time.Duration
	RetryAttempts  uint64

	// SnapshotRetention bounds how long poll records stay in the store.
	SnapshotRetention time.Duration
	// IncidentRetention bounds how long retired incidents are kept.
	IncidentRetention time.Duration
}

// Enabled reports whether any realtime feed is configured.
func (c Config) Enabled() bool {
	return c.VehiclePositionsURL != "" || c.TripUpdatesURL != ""
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.StaleThreshold <= 0 {
		c.StaleThreshold = DefaultStaleThreshold
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = DefaultFetchTimeout
	}
	if c.CycleTimeout <= 0 {
		c.CycleTimeout = DefaultCycleTimeout
	}
	if c.SnapshotRetention <= 0 {
		c.SnapshotRetention = DefaultSnapshotRetention
	}
	return c
}

// ClientConfig derives the feed client settings.
func (c Config) ClientConfig() realtime.ClientConfig {
	urls := make(map[realtime.FeedKind]string)
	if c.VehiclePositionsURL != "" {
		urls[realtime.FeedVehiclePositions] = c.VehiclePositionsURL
	}
	if c.TripUpdatesURL != "" {
		urls[realtime.FeedTripUpdates] = c.TripUpdatesURL
	}
	return realtime.ClientConfig{
		URLs:          urls,
		Headers:       c.Headers,
		RetryAttempts: c.RetryAttempts,
	}
}
