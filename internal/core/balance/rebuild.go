package balance

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/coalton-labs/ledgerd/internal/core/coa"
	"github.com/coalton-labs/ledgerd/internal/core/period"
	"github.com/coalton-labs/ledgerd/internal/ledgererr"
	"github.com/coalton-labs/ledgerd/internal/storage/ledgerdb"
)

// Mismatch is one divergence between the persisted index and the replay.
type Mismatch struct {
	Key      Key             `json:"key"`
	Field    string          `json:"field"`
	Stored   decimal.Decimal `json:"stored"`
	Expected decimal.Decimal `json:"expected"`
}

// VerifyReport summarizes a replay check.
type VerifyReport struct {
	RowsChecked int        `json:"rows_checked"`
	Mismatches  []Mismatch `json:"mismatches"`
}

// OK reports whether the persisted index matched the replay.
func (r VerifyReport) OK() bool { return len(r.Mismatches) == 0 }

type activity struct {
	debit, credit               decimal.Decimal
	foreignDebit, foreignCredit decimal.Decimal
}

// replayActivity folds every entry of every confirmed-or-later voucher
// into per-key period activity, in voucher-number order. Voided originals
// stay included: their reversal cancels them, which is the point.
func replayActivity(ctx context.Context, exec ledgerdb.Executor) (map[Key]*activity, error) {
	rows, err := exec.QueryContext(ctx, `
		SELECT v.period, e.account_code, e.dept_id, e.project_id,
		       e.customer_id, e.supplier_id, e.employee_id,
		       e.debit_amount, e.credit_amount, e.foreign_debit, e.foreign_credit
		FROM voucher_entries e
		JOIN vouchers v ON v.id = e.voucher_id
		WHERE v.confirmed_at IS NOT NULL
		ORDER BY v.voucher_no, e.line_no`)
	if err != nil {
		return nil, ledgererr.Storage("replay vouchers", err)
	}
	defer rows.Close()

	acc := make(map[Key]*activity)
	for rows.Next() {
		var k Key
		var debit, credit, fd, fc decimal.Decimal
		if err := rows.Scan(&k.Period, &k.AccountCode,
			&k.Dims.DeptID, &k.Dims.ProjectID, &k.Dims.CustomerID,
			&k.Dims.SupplierID, &k.Dims.EmployeeID,
			&debit, &credit, &fd, &fc); err != nil {
			return nil, ledgererr.Storage("scan replay entry", err)
		}
		a := acc[k]
		if a == nil {
			a = &activity{}
			acc[k] = a
		}
		a.debit = a.debit.Add(debit)
		a.credit = a.credit.Add(credit)
		a.foreignDebit = a.foreignDebit.Add(fd)
		a.foreignCredit = a.foreignCredit.Add(fc)
	}
	if err := rows.Err(); err != nil {
		return nil, ledgererr.Storage("replay vouchers", err)
	}
	return acc, nil
}

// Verify replays all confirmed vouchers and compares the result against
// the persisted index field by field.
func (e *Engine) Verify(ctx context.Context, exec ledgerdb.Executor) (*VerifyReport, error) {
	acc, err := replayActivity(ctx, exec)
	if err != nil {
		return nil, err
	}

	stored, err := allRows(ctx, exec)
	if err != nil {
		return nil, err
	}

	directions := map[string]bool{}
	accounts := e.accounts.WithExecutor(exec)
	direction := func(code string) (bool, error) {
		if d, ok := directions[code]; ok {
			return d, nil
		}
		a, err := accounts.GetAccount(ctx, code)
		if err != nil {
			return false, err
		}
		directions[code] = a.IsDebitNatured()
		return directions[code], nil
	}

	// Ground-truth closings per key, built in period order so openings
	// chain the same way openingFor resolves them.
	type chainKey struct {
		account string
		dims    coa.DimensionSet
		period  string
	}
	truth := map[chainKey]Row{}
	report := &VerifyReport{}
	consumed := map[Key]bool{}

	for _, row := range stored {
		report.RowsChecked++
		debitNatured, err := direction(row.Key.AccountCode)
		if err != nil {
			return nil, err
		}

		var expected Row
		expected.Key = row.Key
		prev := chainKey{row.Key.AccountCode, row.Key.Dims, period.Prev(row.Key.Period)}
		if prior, ok := truth[prev]; ok {
			expected.Opening = prior.Closing
			expected.ForeignOpening = prior.ForeignClosing
		}
		if a, ok := acc[row.Key]; ok {
			expected.Debit = a.debit
			expected.Credit = a.credit
			expected.ForeignDebit = a.foreignDebit
			expected.ForeignCredit = a.foreignCredit
			consumed[row.Key] = true
		}
		expected.Closing = Close(debitNatured, expected.Opening, expected.Debit, expected.Credit)
		expected.ForeignClosing = Close(debitNatured, expected.ForeignOpening, expected.ForeignDebit, expected.ForeignCredit)
		truth[chainKey{row.Key.AccountCode, row.Key.Dims, row.Key.Period}] = expected

		compare := []struct {
			field            string
			stored, expected decimal.Decimal
		}{
			{"opening_balance", row.Opening, expected.Opening},
			{"debit_amount", row.Debit, expected.Debit},
			{"credit_amount", row.Credit, expected.Credit},
			{"closing_balance", row.Closing, expected.Closing},
			{"foreign_closing", row.ForeignClosing, expected.ForeignClosing},
		}
		for _, c := range compare {
			if !c.stored.Equal(c.expected) {
				report.Mismatches = append(report.Mismatches, Mismatch{
					Key: row.Key, Field: c.field, Stored: c.stored, Expected: c.expected,
				})
			}
		}
	}

	for k := range acc {
		if !consumed[k] {
			report.Mismatches = append(report.Mismatches, Mismatch{
				Key: k, Field: "missing_row",
				Expected: acc[k].debit.Add(acc[k].credit),
			})
		}
	}
	sort.Slice(report.Mismatches, func(i, j int) bool {
		a, b := report.Mismatches[i], report.Mismatches[j]
		if a.Key.Period != b.Key.Period {
			return a.Key.Period < b.Key.Period
		}
		return a.Key.AccountCode < b.Key.AccountCode
	})
	return report, nil
}

// Rebuild discards the persisted index and replays every confirmed
// voucher, periods ascending and voucher numbers ascending within each,
// then re-rolls closed periods so continuity rows come back. Caller wraps
// this in a transaction.
func (e *Engine) Rebuild(ctx context.Context, exec ledgerdb.Executor) error {
	if _, err := exec.ExecContext(ctx, `DELETE FROM balances`); err != nil {
		return ledgererr.Storage("clear balances", err)
	}

	rows, err := exec.QueryContext(ctx, `
		SELECT v.period, e.account_code, e.dept_id, e.project_id,
		       e.customer_id, e.supplier_id, e.employee_id,
		       e.debit_amount, e.credit_amount, e.currency_code,
		       e.foreign_debit, e.foreign_credit
		FROM voucher_entries e
		JOIN vouchers v ON v.id = e.voucher_id
		WHERE v.confirmed_at IS NOT NULL
		ORDER BY v.period, v.voucher_no, e.line_no`)
	if err != nil {
		return ledgererr.Storage("replay vouchers", err)
	}
	var postings []Posting
	for rows.Next() {
		var p Posting
		if err := rows.Scan(&p.Period, &p.AccountCode,
			&p.Dims.DeptID, &p.Dims.ProjectID, &p.Dims.CustomerID,
			&p.Dims.SupplierID, &p.Dims.EmployeeID,
			&p.Debit, &p.Credit, &p.CurrencyCode,
			&p.ForeignDebit, &p.ForeignCredit); err != nil {
			rows.Close()
			return ledgererr.Storage("scan replay entry", err)
		}
		postings = append(postings, p)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return ledgererr.Storage("replay vouchers", err)
	}
	rows.Close()

	if err := e.Apply(ctx, exec, postings); err != nil {
		return err
	}

	closed, err := exec.QueryContext(ctx,
		`SELECT period FROM periods WHERE status = ? ORDER BY period`, period.StatusClosed)
	if err != nil {
		return ledgererr.Storage("list closed periods", err)
	}
	var closedPeriods []string
	for closed.Next() {
		var p string
		if err := closed.Scan(&p); err != nil {
			closed.Close()
			return ledgererr.Storage("scan period", err)
		}
		closedPeriods = append(closedPeriods, p)
	}
	closed.Close()
	for _, p := range closedPeriods {
		if err := e.Rollover(ctx, exec, p); err != nil {
			return err
		}
	}
	return nil
}

// Err converts a failed verification into the structured consistency
// error surfaced to callers; nil when the index matched.
func (r VerifyReport) Err() error {
	if r.OK() {
		return nil
	}
	e := ledgererr.Consistency(ledgererr.CodeRebuildMismatch,
		fmt.Sprintf("balance index diverges from voucher replay in %d place(s)", len(r.Mismatches)))
	e.WithDetail("rows_checked", r.RowsChecked)
	e.WithDetail("mismatches", r.Mismatches)
	return e
}

func allRows(ctx context.Context, exec ledgerdb.Executor) ([]Row, error) {
	rows, err := exec.QueryContext(ctx, `
		SELECT `+rowColumns+` FROM balances
		ORDER BY period, account_code, dept_id, project_id, customer_id,
		         supplier_id, employee_id`)
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
