package gtfsdb

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // CGo-based SQLite driver
	"transitsync.dev/internal/appconf"
	"transitsync.dev/internal/logging"
)

//go:embed schema.sql
var ddl string

// createDB opens the SQLite database and brings its schema up to date.
func createDB(config Config) (*sql.DB, error) {
	if config.Env == appconf.Test && config.DBPath != ":memory:" {
		return nil, fmt.Errorf("test database must use in-memory storage, got path: %s", config.DBPath)
	}

	db, err := sql.Open("sqlite3", config.DBPath)
	if err != nil {
		return nil, err
	}

	// Pool settings first: a :memory: database only exists on one connection.
	configureConnectionPool(db, config)

	ctx := context.Background()
	err = configureSQLitePerformance(ctx, db, config)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("error configuring SQLite performance: %w", err)
	}

	err = performDatabaseMigration(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("error performing database migration: %w", err)
	}

	return db, nil
}

func performDatabaseMigration(ctx context.Context, db *sql.DB) error {
	statements := strings.Split(ddl, "-- migrate")
	for _, stmt := range statements {
		trimmedStmt := strings.TrimSpace(stmt)
		if trimmedStmt == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, trimmedStmt); err != nil {
			return fmt.Errorf("error executing DDL statement [%s]: %w", trimmedStmt, err)
		}
	}
	return nil
}

type sqlitePragma struct {
	name        string
	description string
}

func configureSQLitePerformance(ctx context.Context, db *sql.DB, config Config) error {
	pragmas := []sqlitePragma{
		// Negative value means KB
		{"PRAGMA cache_size=-64000", "Set cache size to 64MB"},
		{"PRAGMA temp_store=MEMORY", "Store temporary data in memory"},
		{"PRAGMA busy_timeout=5000", "Wait up to 5s on a locked database"},
	}
	if config.DBPath != ":memory:" {
		pragmas = append(pragmas, sqlitePragma{"PRAGMA journal_mode=WAL", "Enable write-ahead logging"})
	}

	logger := slog.Default().With(slog.String("component", "sqlite_performance"))

	for _, pragma := range pragmas {
		_, err := db.ExecContext(ctx, pragma.name)
		if err != nil {
			logging.LogError(logger, fmt.Sprintf("Failed to set %s", pragma.description), err)
			return fmt.Errorf("failed to execute %s: %w", pragma.name, err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	if config.verbose {
		logging.LogOperation(logger, "sqlite_performance_settings_applied",
			slog.Int("pragma_count", len(pragmas)))
	}

	return nil
}

// configureConnectionPool bounds the pool. Each connection to a :memory:
// database is a separate database, so that case is pinned to one connection
// and all access is serialized. File databases run in WAL mode with many
// readers and a single writer.
func configureConnectionPool(db *sql.DB, config Config) {
	if config.DBPath == ":memory:" {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
		return
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
}

// ToNullString converts a string to sql.NullString, with empty strings becoming NULL.
func ToNullString(s string) sql.NullString {
	return sql.NullString{
		String: s,
		Valid:  s != "",
	}
}

// NullStringFromPtr maps nil to NULL.
func NullStringFromPtr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// PtrFromNullString maps NULL to nil.
func PtrFromNullString(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func NullInt64FromPtr(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*i), Valid: true}
}

func PtrFromNullInt64(i sql.NullInt64) *int {
	if !i.Valid {
		return nil
	}
	v := int(i.Int64)
	return &v
}

// NullMillisFromTime stores a time as unix milliseconds, nil as NULL.
func NullMillisFromTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func TimeFromNullMillis(ms sql.NullInt64) *time.Time {
	if !ms.Valid {
		return nil
	}
	t := time.UnixMilli(ms.Int64).UTC()
	return &t
}
