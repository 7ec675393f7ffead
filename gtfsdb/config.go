package gtfsdb

import "transitsync.dev/internal/appconf"

const defaultBulkInsertBatchSize = 3000

// Config configures the SQLite-backed store.
type Config struct {
	// DBPath is a file path or ":memory:".
	DBPath string
	Env    appconf.Environment

	// BulkInsertBatchSize is the number of rows per multi-row INSERT. Zero
	// selects the default.
	BulkInsertBatchSize int

	verbose bool
}

func NewConfig(dbPath string, env appconf.Environment, verbose bool) Config {
	return Config{
		DBPath:  dbPath,
		Env:     env,
		verbose: verbose,
	}
}

func (c Config) GetBulkInsertBatchSize() int {
	if c.BulkInsertBatchSize <= 0 {
		return defaultBulkInsertBatchSize
	}
	return c.BulkInsertBatchSize
}
