package ledgerdb

import (
	"context"
	"database/sql"
)

// Executor is the query surface shared by *sql.DB and *sql.Tx. Stores take
// an Executor so the same code runs standalone or inside a WithTx scope.
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var (
	_ Executor = (*sql.DB)(nil)
	_ Executor = (*sql.Tx)(nil)
)

// Handle exposes the raw *sql.DB as an Executor for non-transactional reads.
func (d *DB) Handle() Executor { return d.sql }
