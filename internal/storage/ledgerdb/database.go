// Package ledgerdb owns the embedded SQLite file behind the ledger. All
// state lives in one database file; callers obtain a *DB, run operations
// through WithTx, and never touch database/sql directly outside this
// package and the per-entity stores built on Executor.
package ledgerdb

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/coalton-labs/ledgerd/internal/ledgererr"
)

// DB wraps the SQLite handle for one ledger file.
type DB struct {
	sql *sql.DB
	log *zap.Logger
}

// Open opens (creating if absent) the ledger file and applies the schema.
func Open(ctx context.Context, cfg Config, log *zap.Logger) (*DB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid ledger config: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}

	handle, err := sql.Open("sqlite", cfg.DSN())
	if err != nil {
		return nil, ledgererr.Storage("open", err)
	}
	// The ledger is single-writer; one connection keeps in-memory databases
	// alive and sidesteps SQLITE_BUSY between pooled connections.
	handle.SetMaxOpenConns(1)

	if err := handle.PingContext(ctx); err != nil {
		handle.Close()
		return nil, ledgererr.Storage("ping", err)
	}
	if _, err := handle.ExecContext(ctx, schemaSQL); err != nil {
		handle.Close()
		return nil, ledgererr.Storage("apply schema", err)
	}

	log.Info("ledger file opened", zap.String("path", cfg.Path))
	return &DB{sql: handle, log: log}, nil
}

// Close releases the underlying handle.
func (d *DB) Close() error {
	if err := d.sql.Close(); err != nil {
		return ledgererr.Storage("close", err)
	}
	return nil
}

// Ping verifies the file is still reachable.
func (d *DB) Ping(ctx context.Context) error {
	if err := d.sql.PingContext(ctx); err != nil {
		return ledgererr.Storage("ping", err)
	}
	return nil
}

// Exec runs a statement outside any transaction.
func (d *DB) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return d.sql.ExecContext(ctx, query, args...)
}

// Query runs a query outside any transaction.
func (d *DB) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return d.sql.QueryContext(ctx, query, args...)
}

// QueryRow runs a single-row query outside any transaction.
func (d *DB) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return d.sql.QueryRowContext(ctx, query, args...)
}

// WithTx runs fn inside a single transaction. A voucher write and every
// derived write (balances, sub-ledger rows, events) share one such scope,
// so either all of them land or none do. Any error from fn rolls back.
func (d *DB) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := d.sql.BeginTx(ctx, nil)
	if err != nil {
		return ledgererr.Storage("begin transaction", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			d.log.Error("rollback failed", zap.Error(rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return ledgererr.Storage("commit transaction", err)
	}
	return nil
}
