// Package dbexec runs compiled reporting queries against a database handle,
// adapting the planner's named-parameter map to the driver and scanning
// result sets into ordered row maps.
package dbexec

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// QueryExecutor abstracts execution of a compiled query so callers can swap
// the handle for a mock or a pooled wrapper.
type QueryExecutor interface {
	QueryContext(ctx context.Context, query string, params map[string]any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, params map[string]any) (sql.Result, error)
}

// StandardExecutor executes queries directly against a database handle.
// Named parameters (@name placeholders) are rewritten by the pgx driver.
type StandardExecutor struct {
	db *sql.DB
}

// NewStandardExecutor creates an executor backed by the given handle.
func NewStandardExecutor(db *sql.DB) *StandardExecutor {
	return &StandardExecutor{db: db}
}

func (e *StandardExecutor) QueryContext(ctx context.Context, query string, params map[string]any) (*sql.Rows, error) {
	if e.db == nil {
		return nil, sql.ErrConnDone
	}
	if len(params) == 0 {
		return e.db.QueryContext(ctx, query)
	}
	return e.db.QueryContext(ctx, query, pgx.NamedArgs(params))
}

func (e *StandardExecutor) ExecContext(ctx context.Context, query string, params map[string]any) (sql.Result, error) {
	if e.db == nil {
		return nil, sql.ErrConnDone
	}
	if len(params) == 0 {
		return e.db.ExecContext(ctx, query)
	}
	return e.db.ExecContext(ctx, query, pgx.NamedArgs(params))
}

// ScanRows drains a result set into ordered row maps keyed by the compiled
// column aliases. The rows are closed before returning.
func ScanRows(rows *sql.Rows, columns []string) ([]map[string]any, error) {
	defer rows.Close()

	if len(columns) == 0 {
		actual, err := rows.Columns()
		if err != nil {
			return nil, fmt.Errorf("reading result columns: %w", err)
		}
		columns = actual
	}

	var out []map[string]any
	values := make([]any, len(columns))
	pointers := make([]any, len(columns))
	for i := range values {
		pointers[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(pointers...); err != nil {
			return nil, fmt.Errorf("scanning result row: %w", err)
		}
		row := make(map[string]any, len(columns))
		for i, column := range columns {
			value := values[i]
			if b, ok := value.([]byte); ok {
				value = string(b)
			}
			row[column] = value
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating result rows: %w", err)
	}
	return out, nil
}
