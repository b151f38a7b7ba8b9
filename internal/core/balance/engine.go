// Package balance maintains the (account × period × dimension-tuple)
// balance index. The index is derived state: replaying all confirmed
// vouchers reproduces it exactly, and Rebuild checks that property.
package balance

import (
	"context"
	"database/sql"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/coalton-labs/ledgerd/internal/core/coa"
	"github.com/coalton-labs/ledgerd/internal/core/period"
	"github.com/coalton-labs/ledgerd/internal/ledgererr"
	"github.com/coalton-labs/ledgerd/internal/storage/ledgerdb"
)

// Key identifies one balance row.
type Key struct {
	AccountCode string
	Period      string
	Dims        coa.DimensionSet
}

// Row is one materialized balance.
type Row struct {
	Key            Key
	Opening        decimal.Decimal
	Debit          decimal.Decimal
	Credit         decimal.Decimal
	Closing        decimal.Decimal
	CurrencyCode   string
	ForeignOpening decimal.Decimal
	ForeignDebit   decimal.Decimal
	ForeignCredit  decimal.Decimal
	ForeignClosing decimal.Decimal
}

// Posting is the balance-relevant projection of one voucher entry.
type Posting struct {
	AccountCode   string
	Period        string
	Dims          coa.DimensionSet
	Debit         decimal.Decimal
	Credit        decimal.Decimal
	CurrencyCode  string
	ForeignDebit  decimal.Decimal
	ForeignCredit decimal.Decimal
}

// Engine applies postings and rolls balances between periods.
type Engine struct {
	accounts *coa.Store
}

// NewEngine returns an Engine resolving account directions through the
// given chart store.
func NewEngine(accounts *coa.Store) *Engine {
	return &Engine{accounts: accounts}
}

// Apply folds postings into the index. Rows are created on first touch
// with the prior period's closing as opening. Void reversals go through
// the same path: their swapped debit/credit amounts cancel the original.
func (e *Engine) Apply(ctx context.Context, exec ledgerdb.Executor, postings []Posting) error {
	accounts := e.accounts.WithExecutor(exec)
	for _, p := range postings {
		acct, err := accounts.GetAccount(ctx, p.AccountCode)
		if err != nil {
			return err
		}
		row, err := getRow(ctx, exec, Key{p.AccountCode, p.Period, p.Dims})
		if err != nil {
			return err
		}
		if row == nil {
			opening, foreignOpening, currency, err := e.openingFor(ctx, exec, Key{p.AccountCode, p.Period, p.Dims})
			if err != nil {
				return err
			}
			if currency == "" {
				currency = p.CurrencyCode
			}
			row = &Row{
				Key:            Key{p.AccountCode, p.Period, p.Dims},
				Opening:        opening,
				Closing:        opening,
				CurrencyCode:   currency,
				ForeignOpening: foreignOpening,
				ForeignClosing: foreignOpening,
			}
			if err := insertRow(ctx, exec, row); err != nil {
				return err
			}
		}

		row.Debit = row.Debit.Add(p.Debit)
		row.Credit = row.Credit.Add(p.Credit)
		row.ForeignDebit = row.ForeignDebit.Add(p.ForeignDebit)
		row.ForeignCredit = row.ForeignCredit.Add(p.ForeignCredit)
		if p.CurrencyCode != "" && row.CurrencyCode == "" {
			row.CurrencyCode = p.CurrencyCode
		}
		row.Closing = Close(acct.IsDebitNatured(), row.Opening, row.Debit, row.Credit)
		row.ForeignClosing = Close(acct.IsDebitNatured(), row.ForeignOpening, row.ForeignDebit, row.ForeignCredit)

		if err := updateRow(ctx, exec, row); err != nil {
			return err
		}
	}
	return nil
}

// Close computes a closing balance under the account's normal side.
func Close(debitNatured bool, opening, debit, credit decimal.Decimal) decimal.Decimal {
	if debitNatured {
		return opening.Add(debit).Sub(credit)
	}
	return opening.Sub(debit).Add(credit)
}

// openingFor returns the closing of the same key in the previous period,
// or zero when no prior row exists.
func (e *Engine) openingFor(ctx context.Context, exec ledgerdb.Executor, k Key) (decimal.Decimal, decimal.Decimal, string, error) {
	prev := k
	prev.Period = period.Prev(k.Period)
	row, err := getRow(ctx, exec, prev)
	if err != nil {
		return decimal.Zero, decimal.Zero, "", err
	}
	if row == nil {
		return decimal.Zero, decimal.Zero, "", nil
	}
	return row.Closing, row.ForeignClosing, row.CurrencyCode, nil
}

// Rollover materializes each balance row of period p into p+1 with
// opening = closing and zero activity. Existing p+1 rows are left alone,
// so rollover is idempotent.
func (e *Engine) Rollover(ctx context.Context, exec ledgerdb.Executor, p string) error {
	next := period.Next(p)
	_, err := exec.ExecContext(ctx, `
		INSERT INTO balances
		  (account_code, period, dept_id, project_id, customer_id,
		   supplier_id, employee_id, opening_balance, debit_amount,
		   credit_amount, closing_balance, currency_code, foreign_opening,
		   foreign_debit, foreign_credit, foreign_closing)
		SELECT b.account_code, ?, b.dept_id, b.project_id, b.customer_id,
		       b.supplier_id, b.employee_id, b.closing_balance, 0, 0,
		       b.closing_balance, b.currency_code, b.foreign_closing, 0, 0,
		       b.foreign_closing
		FROM balances b
		WHERE b.period = ?
		  AND NOT EXISTS (
		    SELECT 1 FROM balances n
		    WHERE n.period = ?
		      AND n.account_code = b.account_code
		      AND n.dept_id = b.dept_id AND n.project_id = b.project_id
		      AND n.customer_id = b.customer_id AND n.supplier_id = b.supplier_id
		      AND n.employee_id = b.employee_id)`,
		next, p, next)
	if err != nil {
		return ledgererr.Storage("rollover balances", err)
	}
	return nil
}

// Unroll removes the rows of period p+1 that carry no activity of their
// own, and refreshes the openings of rows that do. Used when period p is
// reopened.
func (e *Engine) Unroll(ctx context.Context, exec ledgerdb.Executor, p string) error {
	next := period.Next(p)
	if _, err := exec.ExecContext(ctx, `
		DELETE FROM balances
		WHERE period = ? AND debit_amount = 0 AND credit_amount = 0
		  AND foreign_debit = 0 AND foreign_credit = 0`, next); err != nil {
		return ledgererr.Storage("unroll balances", err)
	}
	return e.RefreshOpenings(ctx, exec, next)
}

// RefreshOpenings re-derives the openings (and closings) of every row in
// period p from the prior period's closings.
func (e *Engine) RefreshOpenings(ctx context.Context, exec ledgerdb.Executor, p string) error {
	rows, err := listRows(ctx, exec, p)
	if err != nil {
		return err
	}
	accounts := e.accounts.WithExecutor(exec)
	for i := range rows {
		row := &rows[i]
		acct, err := accounts.GetAccount(ctx, row.Key.AccountCode)
		if err != nil {
			return err
		}
		opening, foreignOpening, _, err := e.openingFor(ctx, exec, row.Key)
		if err != nil {
			return err
		}
		row.Opening = opening
		row.ForeignOpening = foreignOpening
		row.Closing = Close(acct.IsDebitNatured(), row.Opening, row.Debit, row.Credit)
		row.ForeignClosing = Close(acct.IsDebitNatured(), row.ForeignOpening, row.ForeignDebit, row.ForeignCredit)
		if err := updateRow(ctx, exec, row); err != nil {
			return err
		}
	}
	return nil
}

// Get returns a single balance row, or nil when none is materialized.
func (e *Engine) Get(ctx context.Context, exec ledgerdb.Executor, k Key) (*Row, error) {
	return getRow(ctx, exec, k)
}

// AccountClosing sums closing balances over every dimension tuple of one
// account in one period.
func (e *Engine) AccountClosing(ctx context.Context, exec ledgerdb.Executor, code, p string) (decimal.Decimal, error) {
	row := exec.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(closing_balance), 0) FROM balances
		WHERE account_code = ? AND period = ?`, code, p)
	var total decimal.Decimal
	if err := row.Scan(&total); err != nil {
		return decimal.Zero, ledgererr.Storage("sum closing", err)
	}
	return total, nil
}

// PeriodRows returns every balance row of a period ordered by key.
func (e *Engine) PeriodRows(ctx context.Context, exec ledgerdb.Executor, p string) ([]Row, error) {
	return listRows(ctx, exec, p)
}

const rowColumns = `account_code, period, dept_id, project_id, customer_id,
	supplier_id, employee_id, opening_balance, debit_amount, credit_amount,
	closing_balance, currency_code, foreign_opening, foreign_debit,
	foreign_credit, foreign_closing`

func scanRow(scanner interface{ Scan(...any) error }) (*Row, error) {
	var r Row
	err := scanner.Scan(
		&r.Key.AccountCode, &r.Key.Period,
		&r.Key.Dims.DeptID, &r.Key.Dims.ProjectID, &r.Key.Dims.CustomerID,
		&r.Key.Dims.SupplierID, &r.Key.Dims.EmployeeID,
		&r.Opening, &r.Debit, &r.Credit, &r.Closing,
		&r.CurrencyCode, &r.ForeignOpening, &r.ForeignDebit,
		&r.ForeignCredit, &r.ForeignClosing)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func getRow(ctx context.Context, exec ledgerdb.Executor, k Key) (*Row, error) {
	row := exec.QueryRowContext(ctx, `
		SELECT `+rowColumns+` FROM balances
		WHERE account_code = ? AND period = ? AND dept_id = ? AND project_id = ?
		  AND customer_id = ? AND supplier_id = ? AND employee_id = ?`,
		k.AccountCode, k.Period, k.Dims.DeptID, k.Dims.ProjectID,
		k.Dims.CustomerID, k.Dims.SupplierID, k.Dims.EmployeeID)
	r, err := scanRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, ledgererr.Storage("get balance", err)
	}
	return r, nil
}

func listRows(ctx context.Context, exec ledgerdb.Executor, p string) ([]Row, error) {
	rows, err := exec.QueryContext(ctx, `
		SELECT `+rowColumns+` FROM balances WHERE period = ?
		ORDER BY account_code, dept_id, project_id, customer_id, supplier_id, employee_id`, p)
	if err != nil {
		return nil, ledgererr.Storage("list balances", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		r, err := scanRow(rows)
		if err != nil {
			return nil, ledgererr.Storage("scan balance", err)
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, ledgererr.Storage("list balances", err)
	}
	return out, nil
}

func insertRow(ctx context.Context, exec ledgerdb.Executor, r *Row) error {
	_, err := exec.ExecContext(ctx, `
		INSERT INTO balances
		  (account_code, period, dept_id, project_id, customer_id,
		   supplier_id, employee_id, opening_balance, debit_amount,
		   credit_amount, closing_balance, currency_code, foreign_opening,
		   foreign_debit, foreign_credit, foreign_closing)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Key.AccountCode, r.Key.Period,
		r.Key.Dims.DeptID, r.Key.Dims.ProjectID, r.Key.Dims.CustomerID,
		r.Key.Dims.SupplierID, r.Key.Dims.EmployeeID,
		r.Opening, r.Debit, r.Credit, r.Closing,
		r.CurrencyCode, r.ForeignOpening, r.ForeignDebit,
		r.ForeignCredit, r.ForeignClosing)
	if err != nil {
		return ledgererr.Storage("insert balance", err)
	}
	return nil
}

func updateRow(ctx context.Context, exec ledgerdb.Executor, r *Row) error {
	_, err := exec.ExecContext(ctx, `
		UPDATE balances SET
		  opening_balance = ?, debit_amount = ?, credit_amount = ?,
		  closing_balance = ?, currency_code = ?, foreign_opening = ?,
		  foreign_debit = ?, foreign_credit = ?, foreign_closing = ?,
		  updated_at = CURRENT_TIMESTAMP
		WHERE account_code = ? AND period = ? AND dept_id = ? AND project_id = ?
		  AND customer_id = ? AND supplier_id = ? AND employee_id = ?`,
		r.Opening, r.Debit, r.Credit, r.Closing, r.CurrencyCode,
		r.ForeignOpening, r.ForeignDebit, r.ForeignCredit, r.ForeignClosing,
		r.Key.AccountCode, r.Key.Period,
		r.Key.Dims.DeptID, r.Key.Dims.ProjectID, r.Key.Dims.CustomerID,
		r.Key.Dims.SupplierID, r.Key.Dims.EmployeeID)
	if err != nil {
		return ledgererr.Storage("update balance", err)
	}
	return nil
}
