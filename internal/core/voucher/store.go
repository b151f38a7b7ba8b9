package voucher

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/coalton-labs/ledgerd/internal/ledgererr"
	"github.com/coalton-labs/ledgerd/internal/storage/ledgerdb"
)

// Store persists vouchers and their entries.
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

// Insert writes the voucher header and entries, returning the new id.
// The voucher number stays NULL until first confirm.
func (s *Store) Insert(ctx context.Context, v *Voucher) (int64, error) {
	res, err := s.exec.ExecContext(ctx, `
		INSERT INTO vouchers
		  (date, period, description, status, entry_type,
		   source_template, source_event_id, void_of)
		VALUES (?, ?, ?, ?, ?, NULLIF(?, ''), NULLIF(?, ''), NULLIF(?, 0))`,
		v.Date, v.Period, v.Description, v.Status, v.EntryType,
		v.SourceTemplate, v.SourceEventID, v.VoidOf)
	if err != nil {
		return 0, ledgererr.Storage("insert voucher", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, ledgererr.Storage("insert voucher", err)
	}

	for i, e := range v.Entries {
		_, err := s.exec.ExecContext(ctx, `
			INSERT INTO voucher_entries
			  (voucher_id, line_no, account_code, account_name, description,
			   debit_amount, credit_amount, currency_code, fx_rate,
			   foreign_debit, foreign_credit,
			   dept_id, project_id, customer_id, supplier_id, employee_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, i+1, e.AccountCode, e.AccountName, e.Description,
			e.Debit, e.Credit, e.CurrencyCode, e.FXRate,
			e.ForeignDebit, e.ForeignCredit,
			e.Dims.DeptID, e.Dims.ProjectID, e.Dims.CustomerID,
			e.Dims.SupplierID, e.Dims.EmployeeID)
		if err != nil {
			return 0, ledgererr.Storage("insert voucher entry", err)
		}
	}
	v.ID = id
	return id, nil
}

// Get fetches a voucher with its entries; VOUCHER_NOT_FOUND if absent.
func (s *Store) Get(ctx context.Context, id int64) (*Voucher, error) {
	row := s.exec.QueryRowContext(ctx, `
		SELECT id, COALESCE(voucher_no, ''), date, period,
		       COALESCE(description, ''), status, entry_type,
		       COALESCE(source_template, ''), COALESCE(source_event_id, ''),
		       COALESCE(void_reason, ''), COALESCE(void_of, 0),
		       COALESCE(created_at, ''), COALESCE(reviewed_at, ''),
		       COALESCE(confirmed_at, ''), COALESCE(voided_at, '')
		FROM vouchers WHERE id = ?`, id)
	v, err := scanVoucher(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledgererr.Newf(ledgererr.CodeVoucherNotFound, "voucher %d not found", id).
			WithDetail("voucher_id", id)
	}
	if err != nil {
		return nil, ledgererr.Storage("get voucher", err)
	}
	if err := s.loadEntries(ctx, v); err != nil {
		return nil, err
	}
	return v, nil
}

// GetByEventID fetches the voucher recorded for a source event, or nil.
func (s *Store) GetByEventID(ctx context.Context, eventID string) (*Voucher, error) {
	row := s.exec.QueryRowContext(ctx,
		`SELECT id FROM vouchers WHERE source_event_id = ?`, eventID)
	var id int64
	err := row.Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, ledgererr.Storage("lookup event", err)
	}
	return s.Get(ctx, id)
}

// Lookup lists vouchers matching the filter, with entries, ordered by id.
func (s *Store) Lookup(ctx context.Context, f Filter) ([]*Voucher, error) {
	query := `
		SELECT id, COALESCE(voucher_no, ''), date, period,
		       COALESCE(description, ''), status, entry_type,
		       COALESCE(source_template, ''), COALESCE(source_event_id, ''),
		       COALESCE(void_reason, ''), COALESCE(void_of, 0),
		       COALESCE(created_at, ''), COALESCE(reviewed_at, ''),
		       COALESCE(confirmed_at, ''), COALESCE(voided_at, '')
		FROM vouchers`
	var clauses []string
	var args []any
	if f.Period != "" {
		clauses = append(clauses, "period = ?")
		args = append(args, f.Period)
	}
	if f.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, f.Status)
	}
	if f.VoucherNo != "" {
		clauses = append(clauses, "voucher_no = ?")
		args = append(args, f.VoucherNo)
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY id"

	rows, err := s.exec.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, ledgererr.Storage("lookup vouchers", err)
	}
	defer rows.Close()

	var out []*Voucher
	for rows.Next() {
		v, err := scanVoucher(rows)
		if err != nil {
			return nil, ledgererr.Storage("scan voucher", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, ledgererr.Storage("lookup vouchers", err)
	}
	for _, v := range out {
		if err := s.loadEntries(ctx, v); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func scanVoucher(scanner interface{ Scan(...any) error }) (*Voucher, error) {
	var v Voucher
	err := scanner.Scan(&v.ID, &v.VoucherNo, &v.Date, &v.Period,
		&v.Description, &v.Status, &v.EntryType,
		&v.SourceTemplate, &v.SourceEventID,
		&v.VoidReason, &v.VoidOf,
		&v.CreatedAt, &v.ReviewedAt, &v.ConfirmedAt, &v.VoidedAt)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (s *Store) loadEntries(ctx context.Context, v *Voucher) error {
	rows, err := s.exec.QueryContext(ctx, `
		SELECT id, line_no, account_code, COALESCE(account_name, ''),
		       COALESCE(description, ''), debit_amount, credit_amount,
		       currency_code, fx_rate, foreign_debit, foreign_credit,
		       dept_id, project_id, customer_id, supplier_id, employee_id
		FROM voucher_entries WHERE voucher_id = ? ORDER BY line_no`, v.ID)
	if err != nil {
		return ledgererr.Storage("load entries", err)
	}
	defer rows.Close()

	v.Entries = nil
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.LineNo, &e.AccountCode, &e.AccountName,
			&e.Description, &e.Debit, &e.Credit,
			&e.CurrencyCode, &e.FXRate, &e.ForeignDebit, &e.ForeignCredit,
			&e.Dims.DeptID, &e.Dims.ProjectID, &e.Dims.CustomerID,
			&e.Dims.SupplierID, &e.Dims.EmployeeID); err != nil {
			return ledgererr.Storage("scan entry", err)
		}
		v.Entries = append(v.Entries, e)
	}
	if err := rows.Err(); err != nil {
		return ledgererr.Storage("load entries", err)
	}
	return nil
}

// NextVoucherNo allocates the next number for a posting date. Numbers are
// per-day monotonic: max existing sequence + 1, so voiding or deleting can
// never free a number for reuse.
func (s *Store) NextVoucherNo(ctx context.Context, date string) (string, error) {
	digits := strings.ReplaceAll(date, "-", "")
	prefix := "V" + digits
	row := s.exec.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(CAST(SUBSTR(voucher_no, ?) AS INTEGER)), 0)
		FROM vouchers WHERE voucher_no LIKE ?`,
		len(prefix)+1, prefix+"%")
	var maxSeq int
	if err := row.Scan(&maxSeq); err != nil {
		return "", ledgererr.Storage("allocate voucher number", err)
	}
	return fmt.Sprintf("%s%03d", prefix, maxSeq+1), nil
}

// SequenceOf extracts the per-day sequence from a voucher number.
func SequenceOf(voucherNo string) int {
	if len(voucherNo) < 10 {
		return 0
	}
	n, _ := strconv.Atoi(voucherNo[9:])
	return n
}

// setStatus updates lifecycle columns; extra assigns timestamp columns.
func (s *Store) setStatus(ctx context.Context, id int64, status string, extra string, args ...any) error {
	query := `UPDATE vouchers SET status = ?` + extra + ` WHERE id = ?`
	all := append([]any{status}, args...)
	all = append(all, id)
	if _, err := s.exec.ExecContext(ctx, query, all...); err != nil {
		return ledgererr.Storage("update voucher status", err)
	}
	return nil
}

// Delete removes a voucher header and entries. Lifecycle legality is the
// service's concern; the store just deletes.
func (s *Store) Delete(ctx context.Context, id int64) error {
	if _, err := s.exec.ExecContext(ctx,
		`DELETE FROM voucher_entries WHERE voucher_id = ?`, id); err != nil {
		return ledgererr.Storage("delete entries", err)
	}
	if _, err := s.exec.ExecContext(ctx,
		`DELETE FROM vouchers WHERE id = ?`, id); err != nil {
		return ledgererr.Storage("delete voucher", err)
	}
	return nil
}

// InsertVoidLink records the original/reversal pair.
func (s *Store) InsertVoidLink(ctx context.Context, originalID, reversalID int64, reason string) error {
	if _, err := s.exec.ExecContext(ctx, `
		INSERT INTO void_vouchers (original_voucher_id, void_voucher_id, reason)
		VALUES (?, ?, ?)`, originalID, reversalID, reason); err != nil {
		return ledgererr.Storage("insert void link", err)
	}
	return nil
}
