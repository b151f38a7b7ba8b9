// Package closing runs period close and reopen. Close evaluates every
// active closing template into a confirmed closing voucher, rolls
// balances into the next period, and marks the period closed; reopen
// voids the closing vouchers and either drops the rolled-over rows or,
// when the next period already has activity, restates it with an
// adjustment carry voucher.
package closing

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/coalton-labs/ledgerd/internal/core/balance"
	"github.com/coalton-labs/ledgerd/internal/core/coa"
	"github.com/coalton-labs/ledgerd/internal/core/period"
	"github.com/coalton-labs/ledgerd/internal/core/voucher"
	"github.com/coalton-labs/ledgerd/internal/ledgererr"
	"github.com/coalton-labs/ledgerd/internal/storage/ledgerdb"
)

// Rule is the declarative body of a closing template: source-account
// selectors and a target the net balance is flattened into.
type Rule struct {
	// Prefixes selects source accounts by code prefix.
	Prefixes []string `json:"prefixes,omitempty"`
	// AccountTypes selects source accounts by type.
	AccountTypes []string `json:"account_types,omitempty"`
	// Target receives the flattened net balance.
	Target string `json:"target"`
	// Description renders onto the closing voucher.
	Description string `json:"description,omitempty"`
}

// Template is a persisted closing template.
type Template struct {
	Code   string `json:"code"`
	Name   string `json:"name"`
	Rule   Rule   `json:"rule"`
	Active bool   `json:"active"`
}

// Engine orchestrates close and reopen over one ledger file.
type Engine struct {
	db       *ledgerdb.DB
	vouchers *voucher.Service
	balances *balance.Engine
	log      *zap.Logger
}

// NewEngine wires the closing engine.
func NewEngine(db *ledgerdb.DB, vouchers *voucher.Service, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{db: db, vouchers: vouchers, balances: vouchers.Balances(), log: log}
}

// SaveTemplate validates and persists a closing template.
func (e *Engine) SaveTemplate(ctx context.Context, code, name string, rule Rule) error {
	if code == "" || name == "" {
		return ledgererr.Validation(ledgererr.CodeInvalidInput, "template code and name are required")
	}
	if rule.Target == "" {
		return ledgererr.Newf(ledgererr.CodeTemplateInvalid, "closing template %s has no target account", code)
	}
	if len(rule.Prefixes) == 0 && len(rule.AccountTypes) == 0 {
		return ledgererr.Newf(ledgererr.CodeTemplateInvalid, "closing template %s selects no source accounts", code)
	}
	body, err := json.Marshal(rule)
	if err != nil {
		return ledgererr.Storage("marshal closing template", err)
	}
	if _, err := e.db.Exec(ctx, `
		INSERT INTO closing_templates (code, name, rule_json, is_active)
		VALUES (?, ?, ?, 1)
		ON CONFLICT(code) DO UPDATE SET name = excluded.name, rule_json = excluded.rule_json`,
		code, name, string(body)); err != nil {
		return ledgererr.Storage("save closing template", err)
	}
	return nil
}

// SetTemplateActive enables or disables a closing template.
func (e *Engine) SetTemplateActive(ctx context.Context, code string, active bool) error {
	res, err := e.db.Exec(ctx,
		`UPDATE closing_templates SET is_active = ? WHERE code = ?`, active, code)
	if err != nil {
		return ledgererr.Storage("toggle closing template", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ledgererr.Newf(ledgererr.CodeTemplateNotFound, "closing template %s not found", code)
	}
	return nil
}

func listActiveTemplates(ctx context.Context, exec ledgerdb.Executor) ([]Template, error) {
	rows, err := exec.QueryContext(ctx, `
		SELECT code, name, rule_json, is_active FROM closing_templates
		WHERE is_active = 1 ORDER BY code`)
	if err != nil {
		return nil, ledgererr.Storage("list closing templates", err)
	}
	defer rows.Close()

	var out []Template
	for rows.Next() {
		var t Template
		var body string
		if err := rows.Scan(&t.Code, &t.Name, &body, &t.Active); err != nil {
			return nil, ledgererr.Storage("scan closing template", err)
		}
		if err := json.Unmarshal([]byte(body), &t.Rule); err != nil {
			return nil, ledgererr.Newf(ledgererr.CodeTemplateInvalid,
				"closing template %s holds malformed rule json", t.Code).WithCause(err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, ledgererr.Storage("list closing templates", err)
	}
	return out, nil
}

// carrySource marks adjustment-carry vouchers so a re-close can void the
// ones its reopen left standing in the next period.
const carrySource = "reopen-carry"

// CloseResult reports what a close produced.
type CloseResult struct {
	Period          string   `json:"period"`
	ClosingVouchers []string `json:"closing_vouchers"`
}

// Close closes a period: sanity-check, evaluate templates, roll over,
// mark closed. When the next period already carries activity its rolled
// openings cannot be rewritten, so the close restates it through an
// adjustment carry voucher instead. The whole sequence is one
// transaction.
func (e *Engine) Close(ctx context.Context, p string) (*CloseResult, error) {
	result := &CloseResult{Period: p}
	err := e.db.WithTx(ctx, func(tx *sql.Tx) error {
		periods := period.NewStore(tx)
		per, err := periods.Ensure(ctx, p)
		if err != nil {
			return err
		}
		if per.Status == period.StatusClosed {
			return ledgererr.State(ledgererr.CodePeriodClosed,
				fmt.Sprintf("period %s is already closed", p)).
				WithDetail("period", p)
		}

		if err := verifyPeriodBalanced(ctx, tx, p); err != nil {
			return err
		}

		templates, err := listActiveTemplates(ctx, tx)
		if err != nil {
			return err
		}
		entryType := voucher.EntryTypeNormal
		if per.Status == period.StatusAdjustment {
			entryType = voucher.EntryTypeAdjustment
		}
		for _, t := range templates {
			done, err := templateAlreadyApplied(ctx, tx, p, t.Code)
			if err != nil {
				return err
			}
			if done {
				continue
			}
			v, err := e.applyTemplate(ctx, tx, p, t, entryType)
			if err != nil {
				return err
			}
			if v != nil {
				result.ClosingVouchers = append(result.ClosingVouchers, v.VoucherNo)
				if _, err := tx.ExecContext(ctx, `
					INSERT INTO period_closings (period, template_code, voucher_id)
					VALUES (?, ?, ?)
					ON CONFLICT(period, template_code) DO UPDATE SET
					  voucher_id = excluded.voucher_id, reversed_at = NULL`,
					p, t.Code, v.ID); err != nil {
					return ledgererr.Storage("record closing", err)
				}
			}
		}

		// A carry voucher left by an earlier reopen restates the next
		// period against closings this close just replaced; void it and
		// carry the fresh delta instead.
		if err := e.voidStaleCarries(ctx, tx, p); err != nil {
			return err
		}
		if err := e.balances.Rollover(ctx, tx, p); err != nil {
			return err
		}
		nextRows, err := e.balances.PeriodRows(ctx, tx, period.Next(p))
		if err != nil {
			return err
		}
		if periodHasActivity(nextRows) {
			if err := e.carryAdjustment(ctx, tx, p, nextRows); err != nil {
				return err
			}
		}
		return periods.SetStatus(ctx, p, period.StatusClosed)
	})
	if err != nil {
		return nil, err
	}
	e.log.Info("period closed", zap.String("period", p),
		zap.Strings("closing_vouchers", result.ClosingVouchers))
	return result, nil
}

// applyTemplate flattens the selected accounts' closing balances into the
// target. Returns nil when nothing matched, so an empty period closes
// without a voucher.
func (e *Engine) applyTemplate(ctx context.Context, tx *sql.Tx, p string, t Template, entryType string) (*voucher.Voucher, error) {
	accounts := coa.NewStore(tx)
	target, err := accounts.RequireEnabled(ctx, t.Rule.Target)
	if err != nil {
		return nil, err
	}

	all, err := accounts.ListAccounts(ctx, "")
	if err != nil {
		return nil, err
	}
	typeSelected := map[string]bool{}
	for _, at := range t.Rule.AccountTypes {
		typeSelected[at] = true
	}

	req := voucher.Request{
		Date:           period.LastDate(p),
		Description:    t.Rule.Description,
		EntryType:      entryType,
		SourceTemplate: t.Code,
	}
	var debitTotal, creditTotal decimal.Decimal
	for _, a := range all {
		if a.Code == target.Code {
			continue
		}
		selected := coa.MatchPrefix(a.Code, t.Rule.Prefixes) || typeSelected[a.Type]
		if !selected {
			continue
		}
		closing, err := e.balances.AccountClosing(ctx, tx, a.Code, p)
		if err != nil {
			return nil, err
		}
		if closing.IsZero() {
			continue
		}
		// Zero the source: a credit-natured balance is consumed by an
		// equal debit, a debit-natured one by an equal credit. A negative
		// closing flips the side.
		entry := voucher.EntryRequest{AccountCode: a.Code, Description: t.Rule.Description}
		amount := closing.Abs().Round(2)
		debitSide := (a.Direction == coa.DirectionCredit) == closing.IsPositive()
		if debitSide {
			entry.Debit = amount
			debitTotal = debitTotal.Add(amount)
		} else {
			entry.Credit = amount
			creditTotal = creditTotal.Add(amount)
		}
		req.Entries = append(req.Entries, entry)
	}
	if len(req.Entries) == 0 {
		return nil, nil
	}

	// Balancing line against the target.
	net := debitTotal.Sub(creditTotal)
	targetEntry := voucher.EntryRequest{AccountCode: target.Code, Description: t.Rule.Description}
	switch {
	case net.IsPositive():
		targetEntry.Credit = net
	case net.IsNegative():
		targetEntry.Debit = net.Neg()
	}
	if !net.IsZero() {
		req.Entries = append(req.Entries, targetEntry)
	}

	debit, credit := req.Totals()
	if !debit.Sub(credit).Abs().LessThanOrEqual(voucher.BalanceTolerance) {
		return nil, ledgererr.Validation(ledgererr.CodeTemplateUnbalanced,
			fmt.Sprintf("closing template %s produced an unbalanced voucher", t.Code)).
			WithDetail("template_code", t.Code).
			WithDetail("debit_total", debit.String()).
			WithDetail("credit_total", credit.String())
	}
	return e.vouchers.SubmitAutoTx(ctx, tx, req)
}

// Reopen returns a closed period to open: voids its closing vouchers and
// marks their closing records reversed. A quiet next period has its
// rolled-over rows dropped; a next period with activity of its own keeps
// its openings as posted and receives an adjustment carry voucher for
// the delta the voids produced.
func (e *Engine) Reopen(ctx context.Context, p string) error {
	err := e.db.WithTx(ctx, func(tx *sql.Tx) error {
		periods := period.NewStore(tx)
		per, err := periods.Get(ctx, p)
		if err != nil {
			return err
		}
		if per.Status != period.StatusClosed {
			return ledgererr.State(ledgererr.CodePeriodClosed,
				fmt.Sprintf("period %s is %s, not closed", p, per.Status)).
				WithDetail("period", p).
				WithDetail("status", per.Status)
		}
		if err := periods.SetStatus(ctx, p, period.StatusOpen); err != nil {
			return err
		}

		rows, err := tx.QueryContext(ctx, `
			SELECT id, voucher_id FROM period_closings
			WHERE period = ? AND reversed_at IS NULL`, p)
		if err != nil {
			return ledgererr.Storage("list closings", err)
		}
		type closingRow struct{ id, voucherID int64 }
		var closings []closingRow
		for rows.Next() {
			var c closingRow
			if err := rows.Scan(&c.id, &c.voucherID); err != nil {
				rows.Close()
				return ledgererr.Storage("scan closing", err)
			}
			closings = append(closings, c)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return ledgererr.Storage("list closings", err)
		}
		rows.Close()

		now := time.Now().UTC().Format(time.RFC3339)
		for _, c := range closings {
			if _, err := e.vouchers.VoidTx(ctx, tx, c.voucherID, "period reopened"); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE period_closings SET reversed_at = ? WHERE id = ?`, now, c.id); err != nil {
				return ledgererr.Storage("mark closing reversed", err)
			}
		}

		nextRows, err := e.balances.PeriodRows(ctx, tx, period.Next(p))
		if err != nil {
			return err
		}
		if periodHasActivity(nextRows) {
			return e.carryAdjustment(ctx, tx, p, nextRows)
		}
		return e.balances.Unroll(ctx, tx, p)
	})
	if err != nil {
		return err
	}
	e.log.Info("period reopened", zap.String("period", p))
	return nil
}

func periodHasActivity(rows []balance.Row) bool {
	for _, r := range rows {
		if !r.Debit.IsZero() || !r.Credit.IsZero() ||
			!r.ForeignDebit.IsZero() || !r.ForeignCredit.IsZero() {
			return true
		}
	}
	return false
}

// voidStaleCarries voids confirmed carry vouchers in the period after p.
// Any carry found there came from a reopen of p.
func (e *Engine) voidStaleCarries(ctx context.Context, tx *sql.Tx, p string) error {
	rows, err := tx.QueryContext(ctx, `
		SELECT id FROM vouchers
		WHERE period = ? AND source_template = ? AND status = ?`,
		period.Next(p), carrySource, voucher.StatusConfirmed)
	if err != nil {
		return ledgererr.Storage("list carry vouchers", err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return ledgererr.Storage("scan carry voucher", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return ledgererr.Storage("list carry vouchers", err)
	}
	rows.Close()

	for _, id := range ids {
		if _, err := e.vouchers.VoidTx(ctx, tx, id, fmt.Sprintf("superseded by re-close of %s", p)); err != nil {
			return err
		}
	}
	return nil
}

// carryAdjustment posts the reopen delta into the next period as an
// adjustment voucher. The next period's recorded openings stay as they
// were posted; the carry entries restate each account's closing against
// the reopened period's corrected closings.
func (e *Engine) carryAdjustment(ctx context.Context, tx *sql.Tx, p string, nextRows []balance.Row) error {
	next := period.Next(p)
	recorded := map[string]decimal.Decimal{}
	for _, r := range nextRows {
		recorded[r.Key.AccountCode] = recorded[r.Key.AccountCode].Add(r.Opening)
	}
	codes := make([]string, 0, len(recorded))
	for code := range recorded {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	accounts := coa.NewStore(tx)
	req := voucher.Request{
		Date:           period.FirstDate(next),
		Description:    fmt.Sprintf("Adjustment carry from reopening %s", p),
		EntryType:      voucher.EntryTypeAdjustment,
		SourceTemplate: carrySource,
	}
	for _, code := range codes {
		closing, err := e.balances.AccountClosing(ctx, tx, code, p)
		if err != nil {
			return err
		}
		delta := closing.Sub(recorded[code]).Round(2)
		if delta.IsZero() {
			continue
		}
		acct, err := accounts.GetAccount(ctx, code)
		if err != nil {
			return err
		}
		entry := voucher.EntryRequest{AccountCode: code, Description: req.Description}
		// A debit-natured account grows through debits, so a positive
		// delta lands on the debit side; credit-natured is the mirror.
		if acct.IsDebitNatured() == delta.IsPositive() {
			entry.Debit = delta.Abs()
		} else {
			entry.Credit = delta.Abs()
		}
		req.Entries = append(req.Entries, entry)
	}
	if len(req.Entries) == 0 {
		return nil
	}
	// The voided closing vouchers were balanced, so their per-account
	// deltas net to zero and the carry voucher balances.
	_, err := e.vouchers.SubmitAutoTx(ctx, tx, req)
	return err
}

// verifyPeriodBalanced re-checks every confirmed voucher of the period
// before anything is written.
func verifyPeriodBalanced(ctx context.Context, exec ledgerdb.Executor, p string) error {
	rows, err := exec.QueryContext(ctx, `
		SELECT v.id, COALESCE(v.voucher_no, ''),
		       COALESCE(SUM(e.debit_amount), 0), COALESCE(SUM(e.credit_amount), 0)
		FROM vouchers v
		LEFT JOIN voucher_entries e ON e.voucher_id = v.id
		WHERE v.period = ? AND v.confirmed_at IS NOT NULL
		GROUP BY v.id`, p)
	if err != nil {
		return ledgererr.Storage("verify period", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var no string
		var debit, credit decimal.Decimal
		if err := rows.Scan(&id, &no, &debit, &credit); err != nil {
			return ledgererr.Storage("scan totals", err)
		}
		if debit.Sub(credit).Abs().GreaterThan(voucher.BalanceTolerance) {
			return ledgererr.Consistency(ledgererr.CodeNotBalanced,
				fmt.Sprintf("confirmed voucher %s is unbalanced", no)).
				WithDetail("voucher_id", id).
				WithDetail("debit_total", debit.String()).
				WithDetail("credit_total", credit.String())
		}
	}
	return rows.Err()
}

func templateAlreadyApplied(ctx context.Context, exec ledgerdb.Executor, p, code string) (bool, error) {
	row := exec.QueryRowContext(ctx, `
		SELECT 1 FROM period_closings
		WHERE period = ? AND template_code = ? AND reversed_at IS NULL`, p, code)
	var one int
	err := row.Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, ledgererr.Storage("check closing", err)
	}
	return true, nil
}
