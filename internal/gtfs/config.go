package gtfs

import (
	"time"

	"transitsync.dev/internal/appconf"
)

const (
	// DefaultStaticMaxAge is how old a static download may get before an
	// update is assumed to be available when the source sends no validators.
	DefaultStaticMaxAge = 7 * 24 * time.Hour

	defaultStaticCheckInterval = 24 * time.Hour
)

// Config holds static GTFS configuration for the manager.
type Config struct {
	// GtfsURL is an http(s) URL or a local path to a GTFS zip. Empty means
	// the manager serves whatever the store already holds.
	GtfsURL               string
	StaticAuthHeaderKey   string
	StaticAuthHeaderValue string
	GTFSDataPath          string
	Env                   appconf.Environment
	Verbose               bool
	BulkInsertBatchSize   int

	// StaticMaxAge feeds the age-based staleness fallback. Zero selects
	// DefaultStaticMaxAge.
	StaticMaxAge time.Duration
	// StaticCheckInterval is how often the updater asks whether a new static
	// archive is available. Zero selects one day.
	StaticCheckInterval time.Duration
}

func (config Config) staticMaxAge() time.Duration {
	if config.StaticMaxAge <= 0 {
		return DefaultStaticMaxAge
	}
	return config.StaticMaxAge
}

func (config Config) staticCheckInterval() time.Duration {
	if config.StaticCheckInterval <= 0 {
		return defaultStaticCheckInterval
	}
	return config.StaticCheckInterval
}
