package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transitsync.dev/internal/appconf"
	"transitsync.dev/internal/rtsync"
)

// parsedCommand returns a command with the persistent flags registered and
// args parsed, ready for loadConfigs.
func parsedCommand(t *testing.T, args ...string) (*cobra.Command, *options) {
	t.Helper()
	o := &options{}
	cmd := &cobra.Command{Use: "test"}
	o.register(cmd)
	require.NoError(t, cmd.ParseFlags(args))
	return cmd, o
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfigs_Defaults(t *testing.T) {
	cmd, o := parsedCommand(t, "--env-file", filepath.Join(t.TempDir(), "absent.env"))
	// A missing dotenv file is only an error when named explicitly.
	_, err := loadConfigs(cmd, o)
	require.Error(t, err)

	cmd, o = parsedCommand(t)
	o.envFile = filepath.Join(t.TempDir(), ".env")
	cfgs, err := loadConfigs(cmd, o)
	require.NoError(t, err)

	assert.Equal(t, defaultPort, cfgs.app.Port)
	assert.Equal(t, appconf.Development, cfgs.app.Env)
	assert.True(t, cfgs.app.MetricsEnabled)
	assert.Equal(t, defaultDataPath, cfgs.gtfs.GTFSDataPath)
	assert.False(t, cfgs.sync.Enabled())
	assert.Equal(t, uint64(rtsync.DefaultRetryAttempts), cfgs.sync.RetryAttempts)
	assert.Equal(t, "defaults", cfgs.source)
}

func TestLoadConfigs_Precedence(t *testing.T) {
	configPath := writeFile(t, "transitsync.yaml", `
port: 5000
env: test
rate-limit: 20
static:
  url: /srv/feed.zip
realtime:
  vehicle-positions-url: https://file.example/vp
  trip-updates-url: https://file.example/tu
  interval: 45s
`)
	t.Setenv(appconf.EnvPort, "6000")
	t.Setenv(appconf.EnvVehiclePositionsURL, "https://env.example/vp")

	cmd, o := parsedCommand(t, "--config", configPath, "--port", "7000", "--interval", "20s")
	o.envFile = filepath.Join(t.TempDir(), ".env")
	cfgs, err := loadConfigs(cmd, o)
	require.NoError(t, err)

	assert.Equal(t, 7000, cfgs.app.Port, "flags win over env and file")
	assert.Equal(t, appconf.Test, cfgs.app.Env)
	assert.Equal(t, 20, cfgs.app.RateLimit)
	assert.Equal(t, "/srv/feed.zip", cfgs.gtfs.GtfsURL)
	assert.Equal(t, appconf.Test, cfgs.gtfs.Env)
	assert.Equal(t, "https://env.example/vp", cfgs.sync.VehiclePositionsURL, "env wins over file")
	assert.Equal(t, "https://file.example/tu", cfgs.sync.TripUpdatesURL)
	assert.Equal(t, 20*time.Second, cfgs.sync.Interval)
	assert.Equal(t, configPath, cfgs.source)
}

func TestLoadConfigs_DotenvFile(t *testing.T) {
	const key = appconf.EnvTripUpdatesURL
	require.Empty(t, os.Getenv(key))
	t.Cleanup(func() { _ = os.Unsetenv(key) })

	envFile := writeFile(t, "test.env", key+"=https://dotenv.example/tu\n")
	cmd, o := parsedCommand(t, "--env-file", envFile)
	cfgs, err := loadConfigs(cmd, o)
	require.NoError(t, err)
	assert.Equal(t, "https://dotenv.example/tu", cfgs.sync.TripUpdatesURL)
}

func TestLoadConfigs_InvalidAfterOverrides(t *testing.T) {
	cmd, o := parsedCommand(t, "--env", "staging")
	o.envFile = filepath.Join(t.TempDir(), ".env")
	_, err := loadConfigs(cmd, o)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestImportCommand(t *testing.T) {
	archive := writeArchive(t)
	dbPath := filepath.Join(t.TempDir(), "gtfs.db")

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"import", "--gtfs-url", archive, "--data-path", dbPath, "--env", "test"})
	require.NoError(t, root.Execute())

	assert.Contains(t, out.String(), "TABLE")
	assert.Regexp(t, `trips\s+3`, out.String())
	assert.Regexp(t, `stops\s+2`, out.String())
	assert.FileExists(t, dbPath)
}

func TestImportCommand_RequiresSource(t *testing.T) {
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"import", "--data-path", ":memory:"})

	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no static source")
}
