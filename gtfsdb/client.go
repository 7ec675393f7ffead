package gtfsdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	_ "github.com/mattn/go-sqlite3" // CGo-based SQLite driver
	"transitsync.dev/internal/logging"
	"transitsync.dev/internal/models"
)

// Client is the main entry point for the store. Every exported operation that
// can fail returns a *models.StoreError.
type Client struct {
	config  Config
	DB      *sql.DB
	Queries *Queries
	logger  *slog.Logger
}

// NewClient opens the database described by config and applies the schema.
func NewClient(config Config) (*Client, error) {
	logger := slog.Default().With(slog.String("component", "gtfsdb"))

	db, err := createDB(config)
	if err != nil {
		return nil, fmt.Errorf("unable to create DB: %w", err)
	} else if config.verbose {
		logging.LogOperation(logger, "database_tables_created", slog.String("path", config.DBPath))
	}

	return &Client{
		config:  config,
		DB:      db,
		Queries: New(db),
		logger:  logger,
	}, nil
}

func (c *Client) Close() error {
	return c.DB.Close()
}

func (c *Client) GetDBPath() string {
	return c.config.DBPath
}

// BatchSize is the configured number of rows per multi-row INSERT.
func (c *Client) BatchSize() int {
	return c.config.GetBulkInsertBatchSize()
}

// RunInTransaction runs fn inside one transaction. The transaction commits
// only if fn returns nil; any error rolls back everything fn wrote.
func (c *Client) RunInTransaction(ctx context.Context, op string, fn func(q *Queries) error) error {
	tx, err := c.DB.BeginTx(ctx, nil)
	if err != nil {
		return &models.StoreError{Op: op, Err: fmt.Errorf("begin transaction: %w", err)}
	}
	defer logging.SafeRollbackWithLogging(tx, c.logger, op)

	if err := fn(c.Queries.WithTx(tx)); err != nil {
		var storeErr *models.StoreError
		if errors.As(err, &storeErr) {
			return err
		}
		return &models.StoreError{Op: op, Err: err}
	}

	if err := tx.Commit(); err != nil {
		return &models.StoreError{Op: op, Err: fmt.Errorf("commit: %w", err)}
	}
	return nil
}

// Read runs fn against the pool outside any explicit transaction.
func (c *Client) Read(ctx context.Context, op string, fn func(q *Queries) error) error {
	if err := ctx.Err(); err != nil {
		return &models.StoreError{Op: op, Err: err}
	}
	if err := fn(c.Queries); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return err
		}
		return &models.StoreError{Op: op, Err: err}
	}
	return nil
}

// Query runs a raw read-only statement. Callers must close the rows.
func (c *Client) Query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	rows, err := c.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &models.StoreError{Op: "query", Err: err}
	}
	return rows, nil
}

// BulkInsert writes rows into table inside a single transaction using
// chunked multi-row INSERTs.
func (c *Client) BulkInsert(ctx context.Context, table string, columns []string, rows [][]interface{}) (int64, error) {
	var inserted int64
	err := c.RunInTransaction(ctx, "bulk_insert_"+table, func(q *Queries) error {
		bi, err := q.NewBatchInserter(table, columns, c.BatchSize())
		if err != nil {
			return err
		}
		for _, row := range rows {
			if err := bi.Add(ctx, row...); err != nil {
				return err
			}
		}
		if err := bi.Close(ctx); err != nil {
			return err
		}
		inserted = bi.Count()
		return nil
	})
	return inserted, err
}

// DeleteWhere removes the rows of a whitelisted table that match predicate.
// predicate is a constant SQL fragment; its values are passed as args.
func (c *Client) DeleteWhere(ctx context.Context, table, predicate string, args ...interface{}) (int64, error) {
	if _, ok := allowedColumns[table]; !ok {
		return 0, &models.StoreError{Op: "delete_where", Err: fmt.Errorf("table %q is not allowed", table)}
	}
	if predicate == "" {
		return 0, &models.StoreError{Op: "delete_where", Err: errors.New("empty predicate")}
	}
	result, err := c.DB.ExecContext(ctx, "DELETE FROM "+table+" WHERE "+predicate, args...)
	if err != nil {
		return 0, &models.StoreError{Op: "delete_where_" + table, Err: err}
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, &models.StoreError{Op: "delete_where_" + table, Err: err}
	}
	return n, nil
}

// ImportMetadata returns the record of the last static import. ok is false
// when nothing has been imported yet.
func (c *Client) ImportMetadata(ctx context.Context) (meta ImportMetadatum, ok bool, err error) {
	meta, err = c.Queries.GetImportMetadata(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return ImportMetadatum{}, false, nil
	}
	if err != nil {
		return ImportMetadatum{}, false, &models.StoreError{Op: "get_import_metadata", Err: err}
	}
	return meta, true, nil
}

// RecordSnapshot notes a poll that wrote no rows, such as a cycle served
// from the cache.
func (c *Client) RecordSnapshot(ctx context.Context, snapshot RtSnapshot) error {
	return c.RunInTransaction(ctx, "record_snapshot", func(q *Queries) error {
		return q.CreateSnapshot(ctx, CreateSnapshotParams(snapshot))
	})
}

// SaveVehiclePositions upserts rows and records the snapshot they came from.
func (c *Client) SaveVehiclePositions(ctx context.Context, snapshot RtSnapshot, rows []VehiclePosition) error {
	return c.RunInTransaction(ctx, "save_vehicle_positions", func(q *Queries) error {
		if err := q.CreateSnapshot(ctx, CreateSnapshotParams(snapshot)); err != nil {
			return fmt.Errorf("create snapshot: %w", err)
		}
		for _, row := range rows {
			if err := q.UpsertVehiclePosition(ctx, UpsertVehiclePositionParams(row)); err != nil {
				return fmt.Errorf("upsert vehicle %s: %w", row.VehicleID, err)
			}
		}
		return nil
	})
}

// ReplaceArrivalPredictions swaps the cached prediction set for rows.
func (c *Client) ReplaceArrivalPredictions(ctx context.Context, snapshot RtSnapshot, rows []ArrivalPrediction) error {
	return c.RunInTransaction(ctx, "replace_arrival_predictions", func(q *Queries) error {
		if err := q.CreateSnapshot(ctx, CreateSnapshotParams(snapshot)); err != nil {
			return fmt.Errorf("create snapshot: %w", err)
		}
		if err := q.ClearArrivalPredictions(ctx); err != nil {
			return fmt.Errorf("clear predictions: %w", err)
		}
		bi, err := q.NewBatchInserter("arrival_predictions", ArrivalPredictionColumns, c.BatchSize())
		if err != nil {
			return err
		}
		for _, row := range rows {
			if err := bi.Add(ctx, row.Values()...); err != nil {
				return err
			}
		}
		return bi.Close(ctx)
	})
}

// EvictVehiclePositions drops cached vehicles whose fix is older than
// cutoffMs and returns how many went.
func (c *Client) EvictVehiclePositions(ctx context.Context, cutoffMs int64) (int64, error) {
	var removed int64
	err := c.RunInTransaction(ctx, "evict_vehicle_positions", func(q *Queries) error {
		n, err := q.DeleteVehiclePositionsBefore(ctx, cutoffMs)
		removed = n
		return err
	})
	return removed, err
}

// SaveIncidents upserts the incident set and drops retired incidents whose
// end time is before retiredBeforeMs. It returns how many were dropped.
func (c *Client) SaveIncidents(ctx context.Context, rows []Incident, retiredBeforeMs int64) (int64, error) {
	var removed int64
	err := c.RunInTransaction(ctx, "save_incidents", func(q *Queries) error {
		for _, row := range rows {
			if err := q.UpsertIncident(ctx, UpsertIncidentParams(row)); err != nil {
				return fmt.Errorf("upsert incident %s: %w", row.ID, err)
			}
		}
		n, err := q.DeleteIncidentsEndedBefore(ctx, retiredBeforeMs)
		if err != nil {
			return fmt.Errorf("delete retired incidents: %w", err)
		}
		removed = n
		return nil
	})
	return removed, err
}
