// Package dbexec opens the instrumented TiDB connection and runs queries for
// table-backed sources and schema introspection.
package dbexec

import (
	"context"
	"database/sql"
)

// Rows abstracts sql.Rows so scanners can be fed by fakes.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

// QueryExecutor runs read queries.
type QueryExecutor interface {
	QueryContext(ctx context.Context, query string, args ...any) (Rows, error)
}

// Queryer is satisfied by *sql.DB, *sql.Conn and *sql.Tx.
type Queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// StandardExecutor adapts a Queryer to QueryExecutor.
type StandardExecutor struct {
	q Queryer
}

// NewStandardExecutor wraps q. Sources that open one reader per slot share
// the executor, so q must be safe for concurrent use; *sql.DB is.
func NewStandardExecutor(q Queryer) *StandardExecutor {
	return &StandardExecutor{q: q}
}

func (e *StandardExecutor) QueryContext(ctx context.Context, query string, args ...any) (Rows, error) {
	if e == nil || e.q == nil {
		return nil, sql.ErrConnDone
	}
	rows, err := e.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
