package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"transitsync.dev/internal/appconf"
	"transitsync.dev/internal/gtfs"
	"transitsync.dev/internal/rtsync"
)

const (
	defaultPort     = 4000
	defaultDataPath = "./gtfs.db"
	defaultEnvFile  = ".env"
)

// options are the persistent flags shared by every subcommand.
type options struct {
	configPath          string
	envFile             string
	port                int
	env                 string
	logLevel            string
	verbose             bool
	rateLimit           int
	gtfsURL             string
	dataPath            string
	vehiclePositionsURL string
	tripUpdatesURL      string
	interval            time.Duration
}

func (o *options) register(cmd *cobra.Command) {
	f := cmd.PersistentFlags()
	f.StringVarP(&o.configPath, "config", "c", "", "YAML configuration file")
	f.StringVar(&o.envFile, "env-file", defaultEnvFile, "dotenv file with TRANSITSYNC_* overrides")
	f.IntVar(&o.port, "port", defaultPort, "API server port")
	f.StringVar(&o.env, "env", "development", "environment (development|test|production)")
	f.StringVar(&o.logLevel, "log-level", "info", "log level (debug|info|warn|error)")
	f.BoolVarP(&o.verbose, "verbose", "v", false, "debug logging")
	f.IntVar(&o.rateLimit, "rate-limit", 0, "API requests per second per client, 0 disables")
	f.StringVar(&o.gtfsURL, "gtfs-url", "", "static GTFS zip URL or local path")
	f.StringVar(&o.dataPath, "data-path", defaultDataPath, "SQLite store path, :memory: for none")
	f.StringVar(&o.vehiclePositionsURL, "vehicle-positions-url", "", "GTFS-Realtime vehicle positions feed")
	f.StringVar(&o.tripUpdatesURL, "trip-updates-url", "", "GTFS-Realtime trip updates feed")
	f.DurationVar(&o.interval, "interval", rtsync.DefaultInterval, "realtime sync interval")
}

// configs bundles the three layers of configuration.
type configs struct {
	app    appconf.Config
	gtfs   gtfs.Config
	sync   rtsync.Config
	source string
}

// loadConfigs merges, lowest precedence first: the YAML file, the
// environment (after loading the dotenv file) and flags set explicitly.
func loadConfigs(cmd *cobra.Command, o *options) (configs, error) {
	if err := godotenv.Load(o.envFile); err != nil {
		// The default dotenv file is optional; a named one is not.
		if !errors.Is(err, fs.ErrNotExist) || cmd.Flags().Changed("env-file") {
			return configs{}, fmt.Errorf("failed to load env file: %w", err)
		}
	}

	fc := &appconf.FileConfig{}
	source := "defaults"
	if o.configPath != "" {
		loaded, err := appconf.LoadFromFile(o.configPath)
		if err != nil {
			return configs{}, err
		}
		fc, source = loaded, o.configPath
	}
	if err := fc.ApplyEnv(os.LookupEnv); err != nil {
		return configs{}, fmt.Errorf("invalid environment: %w", err)
	}
	applyFlags(cmd, o, fc)
	if err := fc.Validate(); err != nil {
		return configs{}, err
	}
	return toConfigs(fc, source)
}

func applyFlags(cmd *cobra.Command, o *options, fc *appconf.FileConfig) {
	changed := cmd.Flags().Changed
	if changed("port") {
		fc.Port = o.port
	}
	if changed("env") {
		fc.Env = o.env
	}
	if changed("log-level") {
		fc.LogLevel = o.logLevel
	}
	if changed("verbose") {
		fc.Verbose = o.verbose
	}
	if changed("rate-limit") {
		fc.RateLimit = o.rateLimit
	}
	if changed("gtfs-url") {
		fc.Static.URL = o.gtfsURL
	}
	if changed("data-path") {
		fc.Static.DataPath = o.dataPath
	}
	if changed("vehicle-positions-url") {
		fc.Realtime.VehiclePositionsURL = o.vehiclePositionsURL
	}
	if changed("trip-updates-url") {
		fc.Realtime.TripUpdatesURL = o.tripUpdatesURL
	}
	if changed("interval") {
		fc.Realtime.Interval = o.interval
	}
}

func toConfigs(fc *appconf.FileConfig, source string) (configs, error) {
	appCfg, err := fc.ToAppConfig()
	if err != nil {
		return configs{}, err
	}
	if appCfg.Port == 0 {
		appCfg.Port = defaultPort
	}

	dataPath := fc.Static.DataPath
	if dataPath == "" {
		dataPath = defaultDataPath
	}
	gtfsCfg := gtfs.Config{
		GtfsURL:               fc.Static.URL,
		StaticAuthHeaderKey:   fc.Static.AuthHeaderKey,
		StaticAuthHeaderValue: fc.Static.AuthHeaderValue,
		GTFSDataPath:          dataPath,
		Env:                   appCfg.Env,
		Verbose:               appCfg.Verbose,
		BulkInsertBatchSize:   fc.Static.BatchSize,
		StaticMaxAge:          fc.Static.MaxAge,
		StaticCheckInterval:   fc.Static.CheckInterval,
	}

	retries := fc.Realtime.RetryAttempts
	if retries == 0 {
		retries = rtsync.DefaultRetryAttempts
	}
	syncCfg := rtsync.Config{
		VehiclePositionsURL: fc.Realtime.VehiclePositionsURL,
		TripUpdatesURL:      fc.Realtime.TripUpdatesURL,
		Headers:             fc.Realtime.Headers,
		ProbeURL:            fc.Realtime.ProbeURL,
		Interval:            fc.Realtime.Interval,
		StaleThreshold:      fc.Realtime.StaleThreshold,
		FetchTimeout:        fc.Realtime.FetchTimeout,
		RetryAttempts:       retries,
		IncidentRetention:   fc.Realtime.IncidentRetention,
		SnapshotRetention:   fc.Realtime.SnapshotRetention,
	}

	return configs{app: appCfg, gtfs: gtfsCfg, sync: syncCfg, source: source}, nil
}
