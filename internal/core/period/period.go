// Package period owns accounting periods and their status machine.
// Periods are keyed by YYYY-MM and move open → adjustment → closed, with
// reopen returning a closed period to open.
package period

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/coalton-labs/ledgerd/internal/ledgererr"
	"github.com/coalton-labs/ledgerd/internal/storage/ledgerdb"
)

// Period statuses.
const (
	StatusOpen       = "open"
	StatusAdjustment = "adjustment"
	StatusClosed     = "closed"
)

// Period is one accounting month.
type Period struct {
	Period   string `json:"period"`
	Status   string `json:"status"`
	OpenedAt string `json:"opened_at,omitempty"`
	ClosedAt string `json:"closed_at,omitempty"`
}

// Of derives the YYYY-MM period from a YYYY-MM-DD date.
func Of(date string) (string, error) {
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return "", ledgererr.Newf(ledgererr.CodeInvalidInput, "invalid date %q, want YYYY-MM-DD", date)
	}
	return date[:7], nil
}

// Valid reports whether p is a well-formed YYYY-MM period string.
func Valid(p string) bool {
	_, err := time.Parse("2006-01", p)
	return err == nil
}

// Prev returns the period before p.
func Prev(p string) string { return shift(p, -1) }

// Next returns the period after p.
func Next(p string) string { return shift(p, +1) }

func shift(p string, months int) string {
	t, err := time.Parse("2006-01", p)
	if err != nil {
		return p
	}
	return t.AddDate(0, months, 0).Format("2006-01")
}

// FirstDate returns the first day of period p as YYYY-MM-DD.
func FirstDate(p string) string { return p + "-01" }

// LastDate returns the last day of period p as YYYY-MM-DD.
func LastDate(p string) string {
	t, err := time.Parse("2006-01", p)
	if err != nil {
		return p
	}
	return t.AddDate(0, 1, -1).Format("2006-01-02")
}

// Store persists periods.
type Store struct {
	exec ledgerdb.Executor
}

// NewStore returns a Store over the given executor.
func NewStore(exec ledgerdb.Executor) *Store {
	return &Store{exec: exec}
}

// WithExecutor returns a Store bound to another executor.
func (s *Store) WithExecutor(exec ledgerdb.Executor) *Store {
	return &Store{exec: exec}
}

// Get fetches one period; PERIOD_NOT_FOUND if it was never touched.
func (s *Store) Get(ctx context.Context, p string) (*Period, error) {
	row := s.exec.QueryRowContext(ctx, `
		SELECT period, status, COALESCE(opened_at, ''), COALESCE(closed_at, '')
		FROM periods WHERE period = ?`, p)
	var out Period
	err := row.Scan(&out.Period, &out.Status, &out.OpenedAt, &out.ClosedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledgererr.Newf(ledgererr.CodePeriodNotFound, "period %s not found", p).
			WithDetail("period", p)
	}
	if err != nil {
		return nil, ledgererr.Storage("get period", err)
	}
	return &out, nil
}

// Ensure returns the period, creating it open on first touch.
func (s *Store) Ensure(ctx context.Context, p string) (*Period, error) {
	if !Valid(p) {
		return nil, ledgererr.Newf(ledgererr.CodeInvalidInput, "invalid period %q, want YYYY-MM", p)
	}
	existing, err := s.Get(ctx, p)
	if err == nil {
		return existing, nil
	}
	if !ledgererr.IsCode(err, ledgererr.CodePeriodNotFound) {
		return nil, err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	if _, err := s.exec.ExecContext(ctx, `
		INSERT INTO periods (period, status, opened_at) VALUES (?, ?, ?)`,
		p, StatusOpen, now); err != nil {
		return nil, ledgererr.Storage("create period", err)
	}
	return &Period{Period: p, Status: StatusOpen, OpenedAt: now}, nil
}

// SetStatus performs a status transition, enforcing the legal edges.
func (s *Store) SetStatus(ctx context.Context, p, to string) error {
	cur, err := s.Ensure(ctx, p)
	if err != nil {
		return err
	}
	if !legalTransition(cur.Status, to) {
		return ledgererr.State(ledgererr.CodePeriodClosed,
			fmt.Sprintf("period %s cannot move %s -> %s", p, cur.Status, to)).
			WithDetail("period", p).
			WithDetail("from", cur.Status).
			WithDetail("to", to)
	}
	query := `UPDATE periods SET status = ? WHERE period = ?`
	args := []any{to, p}
	now := time.Now().UTC().Format(time.RFC3339)
	switch to {
	case StatusClosed:
		query = `UPDATE periods SET status = ?, closed_at = ? WHERE period = ?`
		args = []any{to, now, p}
	case StatusOpen:
		query = `UPDATE periods SET status = ?, opened_at = ?, closed_at = NULL WHERE period = ?`
		args = []any{to, now, p}
	}
	if _, err := s.exec.ExecContext(ctx, query, args...); err != nil {
		return ledgererr.Storage("set period status", err)
	}
	return nil
}

func legalTransition(from, to string) bool {
	switch from {
	case StatusOpen:
		return to == StatusAdjustment || to == StatusClosed
	case StatusAdjustment:
		return to == StatusClosed || to == StatusOpen
	case StatusClosed:
		return to == StatusOpen
	}
	return false
}

// Admit checks whether a voucher of the given entry type may post into
// period p, creating the period on first touch. Normal vouchers need an
// open period; adjustment vouchers are also admitted while the period is
// in adjustment. Closed periods admit nothing.
func (s *Store) Admit(ctx context.Context, p, entryType string) error {
	per, err := s.Ensure(ctx, p)
	if err != nil {
		return err
	}
	switch per.Status {
	case StatusOpen:
		return nil
	case StatusAdjustment:
		if entryType == "adjustment" {
			return nil
		}
		return ledgererr.State(ledgererr.CodePeriodAdjustmentOnly,
			fmt.Sprintf("period %s accepts only adjustment vouchers", p)).
			WithDetail("period", p)
	default:
		return ledgererr.State(ledgererr.CodePeriodClosed,
			fmt.Sprintf("period %s is closed", p)).
			WithDetail("period", p)
	}
}

// List returns all known periods in order.
func (s *Store) List(ctx context.Context) ([]Period, error) {
	rows, err := s.exec.QueryContext(ctx, `
		SELECT period, status, COALESCE(opened_at, ''), COALESCE(closed_at, '')
		FROM periods ORDER BY period`)
	if err != nil {
		return nil, ledgererr.Storage("list periods", err)
	}
	defer rows.Close()

	var out []Period
	for rows.Next() {
		var p Period
		if err := rows.Scan(&p.Period, &p.Status, &p.OpenedAt, &p.ClosedAt); err != nil {
			return nil, ledgererr.Storage("scan period", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, ledgererr.Storage("list periods", err)
	}
	return out, nil
}
