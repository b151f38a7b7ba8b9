package ledgerdb

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

// Config controls how the ledger file is opened. The file is the unit of
// isolation: one writer at a time, enforced by SQLite's own file locking.
type Config struct {
	// Path is the ledger file location. ":memory:" opens a private
	// in-memory database (used throughout the tests).
	Path string

	// BusyTimeout is how long a statement waits on a locked file before
	// failing. Writers are expected to serialize externally; the timeout
	// only smooths short overlaps.
	BusyTimeout time.Duration

	// ForeignKeys toggles SQLite foreign-key enforcement.
	ForeignKeys bool
}

var (
	errMissingPath      = errors.New("ledger file path is required")
	errInvalidBusyDelay = errors.New("busy timeout must be >= 0")
)

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig(path string) Config {
	return Config{
		Path:        path,
		BusyTimeout: 5 * time.Second,
		ForeignKeys: true,
	}
}

// Validate checks the configuration before any file is touched.
func (c Config) Validate() error {
	if c.Path == "" {
		return errMissingPath
	}
	if c.BusyTimeout < 0 {
		return errInvalidBusyDelay
	}
	return nil
}

// DSN renders the modernc.org/sqlite connection string.
func (c Config) DSN() string {
	q := url.Values{}
	if c.ForeignKeys {
		q.Add("_pragma", "foreign_keys(1)")
	}
	if c.BusyTimeout > 0 {
		q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", c.BusyTimeout.Milliseconds()))
	}
	if enc := q.Encode(); enc != "" {
		return c.Path + "?" + enc
	}
	return c.Path
}
