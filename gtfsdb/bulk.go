package gtfsdb

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"transitsync.dev/internal/logging"
)

// SQLite rejects statements with more host parameters than this.
const maxSQLiteVariables = 32000

// allowedColumns whitelists the tables and columns that may appear in
// dynamically built statements. Values always go through placeholders.
var allowedColumns = map[string][]string{
	"agencies":            {"id", "name", "url", "timezone", "lang", "phone"},
	"routes":              {"id", "agency_id", "short_name", "long_name", "type", "color", "text_color", "sort_order"},
	"stops":               {"id", "code", "name", "lat", "lon", "parent_station", "location_type"},
	"trips":               {"id", "route_id", "service_id", "headsign", "direction_id", "shape_id", "block_id"},
	"stop_times":          {"trip_id", "stop_id", "stop_sequence", "arrival_time", "departure_time"},
	"shapes":              {"shape_id", "lat", "lon", "shape_pt_sequence"},
	"rt_snapshots":        {"snapshot_id", "feed", "polled_at", "record_count", "using_cache"},
	"vehicle_positions":   {"vehicle_id", "label", "route_id", "trip_id", "stop_id", "lat", "lon", "bearing", "speed", "status", "occupancy_percent", "timestamp", "snapshot_id"},
	"arrival_predictions": ArrivalPredictionColumns,
	"incidents":           {"id", "type", "severity", "location", "description", "affected_routes", "start_time", "end_time", "active"},
}

func validateColumns(table string, columns []string) error {
	allowed, ok := allowedColumns[table]
	if !ok {
		return fmt.Errorf("table %q is not allowed", table)
	}
	if len(columns) == 0 {
		return fmt.Errorf("no columns given for table %q", table)
	}
	for _, col := range columns {
		found := false
		for _, a := range allowed {
			if a == col {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("column %q is not allowed for table %q", col, table)
		}
	}
	return nil
}

// BatchInserter streams rows into one table with chunked multi-row INSERTs.
// At most one batch of values is held in memory at a time. It runs on
// whatever DBTX its Queries wraps, so inside WithTx every chunk belongs to the
// same transaction.
type BatchInserter struct {
	q         *Queries
	table     string
	columns   []string
	batchSize int

	pending  []interface{}
	rows     int
	total    int64
	fullStmt *sql.Stmt
	logger   *slog.Logger
}

// NewBatchInserter validates table and columns against the whitelist and
// caps batchSize so that a single statement stays within SQLite's variable
// limit.
func (q *Queries) NewBatchInserter(table string, columns []string, batchSize int) (*BatchInserter, error) {
	if err := validateColumns(table, columns); err != nil {
		return nil, err
	}
	if batchSize <= 0 {
		batchSize = defaultBulkInsertBatchSize
	}
	if maxRows := maxSQLiteVariables / len(columns); batchSize > maxRows {
		batchSize = maxRows
	}
	return &BatchInserter{
		q:         q,
		table:     table,
		columns:   columns,
		batchSize: batchSize,
		pending:   make([]interface{}, 0, batchSize*len(columns)),
		logger:    slog.Default().With(slog.String("component", "bulk_insert"), slog.String("table", table)),
	}, nil
}

// Add queues one row. A full batch is written before Add returns.
func (b *BatchInserter) Add(ctx context.Context, values ...interface{}) error {
	if len(values) != len(b.columns) {
		return fmt.Errorf("%s: expected %d values, got %d", b.table, len(b.columns), len(values))
	}
	b.pending = append(b.pending, values...)
	b.rows++
	if b.rows >= b.batchSize {
		return b.Flush(ctx)
	}
	return nil
}

// Flush writes any queued rows.
func (b *BatchInserter) Flush(ctx context.Context) error {
	if b.rows == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var err error
	if b.rows == b.batchSize {
		// Full batches share one prepared statement.
		if b.fullStmt == nil {
			b.fullStmt, err = b.q.db.PrepareContext(ctx, b.insertSQL(b.batchSize))
			if err != nil {
				return fmt.Errorf("failed to prepare %s batch: %w", b.table, err)
			}
		}
		_, err = b.fullStmt.ExecContext(ctx, b.pending...)
	} else {
		_, err = b.q.db.ExecContext(ctx, b.insertSQL(b.rows), b.pending...)
	}
	if err != nil {
		return fmt.Errorf("failed to insert %s batch: %w", b.table, err)
	}

	prev := b.total
	b.total += int64(b.rows)
	b.rows = 0
	b.pending = b.pending[:0]

	if prev/100000 != b.total/100000 {
		logging.LogOperation(b.logger, "bulk_insert_progress", slog.Int64("inserted", b.total))
	}
	return nil
}

// Close flushes remaining rows and releases the prepared statement.
func (b *BatchInserter) Close(ctx context.Context) error {
	err := b.Flush(ctx)
	if b.fullStmt != nil {
		logging.SafeCloseWithLogging(b.fullStmt, b.logger, "batch_statement")
		b.fullStmt = nil
	}
	return err
}

// Count returns the number of rows written so far.
func (b *BatchInserter) Count() int64 {
	return b.total
}

// SECURITY: table and column names come from the whitelist; values are bound.
func (b *BatchInserter) insertSQL(rows int) string {
	var sb strings.Builder
	sb.WriteString("INSERT INTO ")
	sb.WriteString(b.table)
	sb.WriteString(" (")
	sb.WriteString(strings.Join(b.columns, ", "))
	sb.WriteString(") VALUES ")

	row := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(b.columns)), ", ") + ")"
	for i := 0; i < rows; i++ {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(row)
	}
	return sb.String()
}
