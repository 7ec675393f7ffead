package gtfsdb

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"transitsync.dev/internal/logging"
)

// SchemaObject is one table, index, view or trigger in sqlite_master.
type SchemaObject struct {
	Type string
	Name string
	SQL  string
}

// SchemaObjects lists the user-defined schema objects, for the debug page.
func (c *Client) SchemaObjects(ctx context.Context) ([]SchemaObject, error) {
	rows, err := c.Query(ctx, `
		SELECT type, name, COALESCE(sql, '')
		FROM sqlite_master
		WHERE type IN ('table', 'index', 'view', 'trigger')
		  AND name NOT LIKE 'sqlite_%'
		ORDER BY type, name
	`)
	if err != nil {
		return nil, err
	}
	defer logging.SafeCloseWithLogging(rows,
		slog.Default().With(slog.String("component", "debugging")),
		"database_rows")

	var objects []SchemaObject
	for rows.Next() {
		var o SchemaObject
		if err := rows.Scan(&o.Type, &o.Name, &o.SQL); err != nil {
			return nil, err
		}
		objects = append(objects, o)
	}
	return objects, rows.Err()
}

// countableTables are the only tables TableCounts will query.
func countableTables() map[string]bool {
	tables := map[string]bool{"import_metadata": true}
	for name := range allowedColumns {
		tables[name] = true
	}
	return tables
}

// TableCounts returns row counts for every whitelisted table present in the
// database.
func (c *Client) TableCounts() (map[string]int, error) {
	ctx := context.Background()
	rows, err := c.Query(ctx, "SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%'")
	if err != nil {
		return nil, fmt.Errorf("failed to query table names: %w", err)
	}
	defer logging.SafeCloseWithLogging(rows,
		slog.Default().With(slog.String("component", "debugging")),
		"database_rows")

	allowed := countableTables()
	var tables []string
	for rows.Next() {
		var tableName string
		if err := rows.Scan(&tableName); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		if allowed[tableName] {
			tables = append(tables, tableName)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Strings(tables)

	counts := make(map[string]int, len(tables))
	for _, table := range tables {
		var count int
		// table comes from the whitelist
		if err := c.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count); err != nil {
			return nil, err
		}
		counts[table] = count
	}

	return counts, nil
}
