package template

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/coalton-labs/ledgerd/internal/core/voucher"
	"github.com/coalton-labs/ledgerd/internal/ledgererr"
	"github.com/coalton-labs/ledgerd/internal/storage/ledgerdb"
)

// Rule is the declarative body of a voucher template: entry shapes whose
// amounts are expressions over event fields.
type Rule struct {
	Description string      `json:"description,omitempty"`
	Entries     []RuleEntry `json:"entries"`
}

// RuleEntry shapes one voucher line. Debit and Credit are expression
// sources; an empty source means zero.
type RuleEntry struct {
	Account     string `json:"account"`
	Debit       string `json:"debit,omitempty"`
	Credit      string `json:"credit,omitempty"`
	Description string `json:"description,omitempty"`
}

// Template is a persisted voucher template.
type Template struct {
	Code   string `json:"code"`
	Name   string `json:"name"`
	Rule   Rule   `json:"rule"`
	Active bool   `json:"active"`
}

// Service manages voucher templates and triggers them against events.
type Service struct {
	db       *ledgerdb.DB
	vouchers *voucher.Service
	log      *zap.Logger
}

// NewService wires the template service.
func NewService(db *ledgerdb.DB, vouchers *voucher.Service, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{db: db, vouchers: vouchers, log: log}
}

// Create validates and persists a template. Every expression must parse;
// a template that cannot parse is rejected before any write.
func (s *Service) Create(ctx context.Context, code, name string, rule Rule) error {
	if code == "" || name == "" {
		return ledgererr.Validation(ledgererr.CodeInvalidInput, "template code and name are required")
	}
	if len(rule.Entries) == 0 {
		return ledgererr.Newf(ledgererr.CodeTemplateInvalid, "template %s has no entries", code)
	}
	for _, e := range rule.Entries {
		if e.Account == "" {
			return ledgererr.Newf(ledgererr.CodeTemplateInvalid, "template %s: entry without account", code)
		}
		for _, src := range []string{e.Debit, e.Credit} {
			if src == "" {
				continue
			}
			if _, err := Parse(src); err != nil {
				return err
			}
		}
	}
	body, err := json.Marshal(rule)
	if err != nil {
		return ledgererr.Storage("marshal template", err)
	}
	if _, err := s.db.Exec(ctx, `
		INSERT INTO voucher_templates (code, name, rule_json, is_active)
		VALUES (?, ?, ?, 1)
		ON CONFLICT(code) DO UPDATE SET name = excluded.name, rule_json = excluded.rule_json`,
		code, name, string(body)); err != nil {
		return ledgererr.Storage("save template", err)
	}
	return nil
}

// SetActive enables or disables a template.
func (s *Service) SetActive(ctx context.Context, code string, active bool) error {
	res, err := s.db.Exec(ctx,
		`UPDATE voucher_templates SET is_active = ? WHERE code = ?`, active, code)
	if err != nil {
		return ledgererr.Storage("toggle template", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ledgererr.Newf(ledgererr.CodeTemplateNotFound, "template %s not found", code)
	}
	return nil
}

// Get fetches one template.
func (s *Service) Get(ctx context.Context, code string) (*Template, error) {
	return getTemplate(ctx, s.db.Handle(), "voucher_templates", code)
}

func getTemplate(ctx context.Context, exec ledgerdb.Executor, table, code string) (*Template, error) {
	row := exec.QueryRowContext(ctx,
		`SELECT code, name, rule_json, is_active FROM `+table+` WHERE code = ?`, code)
	var t Template
	var body string
	err := row.Scan(&t.Code, &t.Name, &body, &t.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledgererr.Newf(ledgererr.CodeTemplateNotFound, "template %s not found", code).
			WithDetail("template_code", code)
	}
	if err != nil {
		return nil, ledgererr.Storage("get template", err)
	}
	if err := json.Unmarshal([]byte(body), &t.Rule); err != nil {
		return nil, ledgererr.Newf(ledgererr.CodeTemplateInvalid,
			"template %s holds malformed rule json", code).WithCause(err)
	}
	return &t, nil
}

// Trigger evaluates a template against an event and records the produced
// voucher, confirmed, in one transaction with the event registration.
// Re-triggering the same event id returns the original voucher unchanged.
func (s *Service) Trigger(ctx context.Context, code, date, eventID string, fields Env) (*voucher.Voucher, error) {
	if eventID != "" {
		prior, err := s.eventVoucher(ctx, eventID)
		if err != nil {
			return nil, err
		}
		if prior != nil {
			return prior, nil
		}
	}

	t, err := s.Get(ctx, code)
	if err != nil {
		return nil, err
	}
	if !t.Active {
		return nil, ledgererr.State(ledgererr.CodeTemplateDisabled,
			fmt.Sprintf("template %s is disabled", code)).
			WithDetail("template_code", code)
	}

	req, err := buildRequest(t, date, eventID, fields)
	if err != nil {
		return nil, err
	}

	var out *voucher.Voucher
	err = s.db.WithTx(ctx, func(tx *sql.Tx) error {
		v, err := s.vouchers.SubmitAutoTx(ctx, tx, *req)
		if err != nil {
			return err
		}
		if eventID != "" {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO voucher_events (event_id, template_code, voucher_id)
				VALUES (?, ?, ?)`, eventID, code, v.ID); err != nil {
				return ledgererr.Storage("record event", err)
			}
		}
		out = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("template triggered", zap.String("template", code),
		zap.String("event_id", eventID), zap.Int64("voucher_id", out.ID))
	return out, nil
}

func buildRequest(t *Template, date, eventID string, fields Env) (*voucher.Request, error) {
	req := &voucher.Request{
		Date:           date,
		Description:    t.Rule.Description,
		SourceTemplate: t.Code,
		SourceEventID:  eventID,
	}
	var debitTotal, creditTotal decimal.Decimal
	for _, re := range t.Rule.Entries {
		entry := voucher.EntryRequest{
			AccountCode: re.Account,
			Description: re.Description,
		}
		if re.Debit != "" {
			d, err := Evaluate(re.Debit, fields)
			if err != nil {
				return nil, err
			}
			entry.Debit = d.Round(2)
		}
		if re.Credit != "" {
			c, err := Evaluate(re.Credit, fields)
			if err != nil {
				return nil, err
			}
			entry.Credit = c.Round(2)
		}
		debitTotal = debitTotal.Add(entry.Debit)
		creditTotal = creditTotal.Add(entry.Credit)
		req.Entries = append(req.Entries, entry)
	}
	diff := debitTotal.Sub(creditTotal)
	if diff.Abs().GreaterThan(voucher.BalanceTolerance) {
		return nil, ledgererr.Validation(ledgererr.CodeTemplateUnbalanced,
			fmt.Sprintf("template %s produced an unbalanced voucher", t.Code)).
			WithDetail("template_code", t.Code).
			WithDetail("debit_total", debitTotal.String()).
			WithDetail("credit_total", creditTotal.String()).
			WithDetail("difference", diff.String())
	}
	return req, nil
}

func (s *Service) eventVoucher(ctx context.Context, eventID string) (*voucher.Voucher, error) {
	row := s.db.QueryRow(ctx,
		`SELECT voucher_id FROM voucher_events WHERE event_id = ?`, eventID)
	var id int64
	err := row.Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, ledgererr.Storage("lookup event", err)
	}
	return s.vouchers.Get(ctx, id)
}
