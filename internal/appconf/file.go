package appconf

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// FileConfig is the YAML configuration file. Durations are Go duration
// strings ("30s", "10m").
type FileConfig struct {
	Port      int    `yaml:"port" validate:"gte=0,lte=65535"`
	Env       string `yaml:"env" validate:"omitempty,oneof=development dev test production prod"`
	LogLevel  string `yaml:"log-level" validate:"omitempty,oneof=debug info warn warning error"`
	Verbose   bool   `yaml:"verbose"`
	Metrics   *bool  `yaml:"metrics"`
	RateLimit int    `yaml:"rate-limit" validate:"gte=0"`

	Static   StaticFileConfig   `yaml:"static"`
	Realtime RealtimeFileConfig `yaml:"realtime"`
}

type StaticFileConfig struct {
	// URL is an http(s) URL or a local path to a GTFS zip.
	URL             string        `yaml:"url"`
	AuthHeaderKey   string        `yaml:"auth-header-key" validate:"required_with=AuthHeaderValue"`
	AuthHeaderValue string        `yaml:"auth-header-value"`
	DataPath        string        `yaml:"data-path"`
	BatchSize       int           `yaml:"batch-size" validate:"gte=0"`
	MaxAge          time.Duration `yaml:"max-age" validate:"gte=0"`
	CheckInterval   time.Duration `yaml:"check-interval" validate:"gte=0"`
}

type RealtimeFileConfig struct {
	VehiclePositionsURL string            `yaml:"vehicle-positions-url" validate:"omitempty,url"`
	TripUpdatesURL      string            `yaml:"trip-updates-url" validate:"omitempty,url"`
	ProbeURL            string            `yaml:"probe-url" validate:"omitempty,url"`
	Headers             map[string]string `yaml:"headers" validate:"dive,keys,required,endkeys"`
	Interval            time.Duration     `yaml:"interval" validate:"gte=0"`
	StaleThreshold      time.Duration     `yaml:"stale-threshold" validate:"gte=0"`
	FetchTimeout        time.Duration     `yaml:"fetch-timeout" validate:"gte=0"`
	RetryAttempts       uint64            `yaml:"retry-attempts" validate:"lte=10"`
	IncidentRetention   time.Duration     `yaml:"incident-retention" validate:"gte=0"`
	SnapshotRetention   time.Duration     `yaml:"snapshot-retention" validate:"gte=0"`
}

// LoadFromFile reads and validates a YAML configuration file. Unknown keys
// are rejected so that typos do not silently fall back to defaults.
func LoadFromFile(path string) (*FileConfig, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg FileConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var validate = validator.New()

// Validate checks the struct tags. Call it again after ApplyEnv.
func (c *FileConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// Environment variables read by ApplyEnv.
const (
	EnvPort                = "TRANSITSYNC_PORT"
	EnvEnvironment         = "TRANSITSYNC_ENV"
	EnvLogLevel            = "TRANSITSYNC_LOG_LEVEL"
	EnvRateLimit           = "TRANSITSYNC_RATE_LIMIT"
	EnvStaticURL           = "TRANSITSYNC_STATIC_URL"
	EnvDataPath            = "TRANSITSYNC_DATA_PATH"
	EnvVehiclePositionsURL = "TRANSITSYNC_VEHICLE_POSITIONS_URL"
	EnvTripUpdatesURL      = "TRANSITSYNC_TRIP_UPDATES_URL"
	EnvRealtimeAuthHeader  = "TRANSITSYNC_REALTIME_AUTH_HEADER"
	EnvRealtimeAuthValue   = "TRANSITSYNC_REALTIME_AUTH_VALUE"
)

// ApplyEnv overrides file values with the TRANSITSYNC_* variables that are
// set. lookup is usually os.LookupEnv.
func (c *FileConfig) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	num := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
		return nil
	}

	if err := num(EnvPort, &c.Port); err != nil {
		return err
	}
	if err := num(EnvRateLimit, &c.RateLimit); err != nil {
		return err
	}
	str(EnvEnvironment, &c.Env)
	str(EnvLogLevel, &c.LogLevel)
	str(EnvStaticURL, &c.Static.URL)
	str(EnvDataPath, &c.Static.DataPath)
	str(EnvVehiclePositionsURL, &c.Realtime.VehiclePositionsURL)
	str(EnvTripUpdatesURL, &c.Realtime.TripUpdatesURL)

	var header, value string
	str(EnvRealtimeAuthHeader, &header)
	str(EnvRealtimeAuthValue, &value)
	if header != "" && value != "" {
		if c.Realtime.Headers == nil {
			c.Realtime.Headers = make(map[string]string)
		}
		c.Realtime.Headers[header] = value
	}
	return nil
}

// ToAppConfig converts the process-level part of the file. Metrics default
// to enabled.
func (c *FileConfig) ToAppConfig() (Config, error) {
	env, err := EnvFlagToEnvironment(c.Env)
	if err != nil {
		return Config{}, err
	}
	metrics := true
	if c.Metrics != nil {
		metrics = *c.Metrics
	}
	return Config{
		Port:           c.Port,
		Env:            env,
		Verbose:        c.Verbose,
		LogLevel:       ParseLogLevel(c.LogLevel),
		MetricsEnabled: metrics,
		RateLimit:      c.RateLimit,
	}, nil
}
