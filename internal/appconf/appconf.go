// Package appconf holds process-level configuration shared by every component.
package appconf

import (
	"fmt"
	"log/slog"
	"strings"
)

type Environment int

const (
	Development Environment = iota
	Test
	Production
)

func (e Environment) String() string {
	switch e {
	case Test:
		return "test"
	case Production:
		return "production"
	default:
		return "development"
	}
}

// EnvFlagToEnvironment maps the --env flag value onto an Environment.
func EnvFlagToEnvironment(env string) (Environment, error) {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "", "development", "dev":
		return Development, nil
	case "test":
		return Test, nil
	case "production", "prod":
		return Production, nil
	default:
		return Development, fmt.Errorf("unknown environment %q", env)
	}
}

// Config holds the application-wide settings that are not specific to GTFS
// ingestion or realtime sync.
type Config struct {
	Port           int
	Env            Environment
	Verbose        bool
	LogLevel       slog.Level
	MetricsEnabled bool
	// RateLimit is the number of API requests a client may make per second.
	// Zero or less disables limiting.
	RateLimit int
}

// ParseLogLevel accepts debug, info, warn or error. Anything else is info.
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
