// Package arap is the receivable/payable sub-ledger: open items,
// settlement against cash, aging buckets, and bad-debt provisioning.
// Every operation that moves money emits a balanced voucher; the items
// here carry the who-owes-what lineage.
package arap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/coalton-labs/ledgerd/internal/core/coa"
	"github.com/coalton-labs/ledgerd/internal/core/voucher"
	"github.com/coalton-labs/ledgerd/internal/ledgererr"
	"github.com/coalton-labs/ledgerd/internal/storage/ledgerdb"
)

// Side selects receivable or payable.
type Side string

const (
	Receivable Side = "ar"
	Payable    Side = "ap"
)

// Item statuses.
const (
	StatusOpen    = "open"
	StatusPartial = "partial"
	StatusSettled = "settled"
)

// Aging bucket names, oldest last.
var Buckets = []string{"0-30", "31-60", "61-90", "90+"}

// Item is one open receivable or payable.
type Item struct {
	ID      int64           `json:"id"`
	Side    Side            `json:"side"`
	PartyID int64           `json:"party_id"`
	Voucher int64           `json:"voucher_id"`
	Date    string          `json:"date"`
	Amount  decimal.Decimal `json:"amount"`
	Settled decimal.Decimal `json:"settled_amount"`
	Status  string          `json:"status"`
}

// Outstanding is the unsettled remainder.
func (i Item) Outstanding() decimal.Decimal { return i.Amount.Sub(i.Settled) }

// Config names the control accounts the sub-ledger posts against.
type Config struct {
	ReceivableAccount string
	PayableAccount    string
	CashAccount       string
	BadDebtExpense    string
	BadDebtProvision  string
	// ProvisionRates maps bucket name to a percentage 0..100.
	ProvisionRates map[string]float64
}

// Service runs the AR/AP sub-ledger over one ledger file.
type Service struct {
	db       *ledgerdb.DB
	vouchers *voucher.Service
	cfg      Config
	log      *zap.Logger
}

// NewService wires the sub-ledger.
func NewService(db *ledgerdb.DB, vouchers *voucher.Service, cfg Config, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{db: db, vouchers: vouchers, cfg: cfg, log: log}
}

func (s *Service) table(side Side) (string, error) {
	switch side {
	case Receivable:
		return "ar_items", nil
	case Payable:
		return "ap_items", nil
	}
	return "", ledgererr.Newf(ledgererr.CodeInvalidInput, "unknown sub-ledger side %q", side)
}

func (s *Service) controlAccount(side Side) string {
	if side == Receivable {
		return s.cfg.ReceivableAccount
	}
	return s.cfg.PayableAccount
}

func (s *Service) partyColumn(side Side) string {
	if side == Receivable {
		return "customer_id"
	}
	return "supplier_id"
}

func (s *Service) dims(side Side, partyID int64) coa.DimensionSet {
	if side == Receivable {
		return coa.DimensionSet{CustomerID: partyID}
	}
	return coa.DimensionSet{SupplierID: partyID}
}

// RecordInvoice opens an item and posts its voucher: for AR, debit the
// receivable control and credit counterAccount; for AP the mirror image.
func (s *Service) RecordInvoice(ctx context.Context, side Side, partyID int64, date string, amount decimal.Decimal, counterAccount, description string) (*Item, error) {
	table, err := s.table(side)
	if err != nil {
		return nil, err
	}
	if amount.IsZero() || amount.IsNegative() {
		return nil, ledgererr.Validation(ledgererr.CodeInvalidInput, "invoice amount must be positive")
	}
	amount = amount.Round(2)
	control := s.controlAccount(side)
	dims := s.dims(side, partyID)

	controlEntry := voucher.EntryRequest{AccountCode: control, Description: description, Dims: dims}
	counterEntry := voucher.EntryRequest{AccountCode: counterAccount, Description: description}
	if side == Receivable {
		controlEntry.Debit = amount
		counterEntry.Credit = amount
	} else {
		counterEntry.Debit = amount
		controlEntry.Credit = amount
	}

	var item *Item
	err = s.db.WithTx(ctx, func(tx *sql.Tx) error {
		v, err := s.vouchers.SubmitAutoTx(ctx, tx, voucher.Request{
			Date:        date,
			Description: description,
			Entries:     []voucher.EntryRequest{controlEntry, counterEntry},
		})
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, fmt.Sprintf(`
			INSERT INTO %s (%s, voucher_id, date, amount, settled_amount, status)
			VALUES (?, ?, ?, ?, 0, ?)`, table, s.partyColumn(side)),
			partyID, v.ID, date, amount, StatusOpen)
		if err != nil {
			return ledgererr.Storage("insert item", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return ledgererr.Storage("insert item", err)
		}
		item = &Item{ID: id, Side: side, PartyID: partyID, Voucher: v.ID,
			Date: date, Amount: amount, Status: StatusOpen}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("invoice recorded", zap.String("side", string(side)),
		zap.Int64("item_id", item.ID), zap.String("amount", amount.String()))
	return item, nil
}

// Get fetches one item.
func (s *Service) Get(ctx context.Context, side Side, id int64) (*Item, error) {
	table, err := s.table(side)
	if err != nil {
		return nil, err
	}
	return getItem(ctx, s.db.Handle(), table, s.partyColumn(side), side, id)
}

func getItem(ctx context.Context, exec ledgerdb.Executor, table, partyCol string, side Side, id int64) (*Item, error) {
	row := exec.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT id, %s, voucher_id, date, amount, settled_amount, status
		FROM %s WHERE id = ?`, partyCol, table), id)
	var it Item
	it.Side = side
	err := row.Scan(&it.ID, &it.PartyID, &it.Voucher, &it.Date, &it.Amount, &it.Settled, &it.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledgererr.Newf(ledgererr.CodeItemNotFound, "%s item %d not found", side, id).
			WithDetail("item_id", id)
	}
	if err != nil {
		return nil, ledgererr.Storage("get item", err)
	}
	return &it, nil
}

// Settle consumes an item partially or fully against cash and posts the
// settlement voucher (AR: debit cash, credit receivable; AP mirrored).
func (s *Service) Settle(ctx context.Context, side Side, itemID int64, amount decimal.Decimal, date string) (*Item, error) {
	table, err := s.table(side)
	if err != nil {
		return nil, err
	}
	if amount.IsZero() || amount.IsNegative() {
		return nil, ledgererr.Validation(ledgererr.CodeInvalidInput, "settlement amount must be positive")
	}
	amount = amount.Round(2)

	var out *Item
	err = s.db.WithTx(ctx, func(tx *sql.Tx) error {
		it, err := getItem(ctx, tx, table, s.partyColumn(side), side, itemID)
		if err != nil {
			return err
		}
		if amount.GreaterThan(it.Outstanding()) {
			return ledgererr.Validation(ledgererr.CodeInvalidInput,
				"settlement exceeds outstanding balance").
				WithDetail("outstanding", it.Outstanding().String()).
				WithDetail("requested", amount.String())
		}

		control := s.controlAccount(side)
		dims := s.dims(side, it.PartyID)
		desc := fmt.Sprintf("Settlement of %s item %d", side, itemID)
		cashEntry := voucher.EntryRequest{AccountCode: s.cfg.CashAccount, Description: desc}
		controlEntry := voucher.EntryRequest{AccountCode: control, Description: desc, Dims: dims}
		if side == Receivable {
			cashEntry.Debit = amount
			controlEntry.Credit = amount
		} else {
			controlEntry.Debit = amount
			cashEntry.Credit = amount
		}
		v, err := s.vouchers.SubmitAutoTx(ctx, tx, voucher.Request{
			Date:        date,
			Description: desc,
			Entries:     []voucher.EntryRequest{cashEntry, controlEntry},
		})
		if err != nil {
			return err
		}

		it.Settled = it.Settled.Add(amount)
		status := StatusPartial
		if it.Settled.Equal(it.Amount) {
			status = StatusSettled
		}
		it.Status = status
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`
			UPDATE %s SET settled_amount = ?, status = ? WHERE id = ?`, table),
			it.Settled, status, itemID); err != nil {
			return ledgererr.Storage("update item", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO settlements (item_type, item_id, amount, voucher_id, date)
			VALUES (?, ?, ?, ?, ?)`,
			string(side), itemID, amount, v.ID, date); err != nil {
			return ledgererr.Storage("insert settlement", err)
		}
		out = it
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("item settled", zap.String("side", string(side)),
		zap.Int64("item_id", itemID), zap.String("amount", amount.String()))
	return out, nil
}

// AgingLine is one party's outstanding balance split across buckets.
type AgingLine struct {
	PartyID int64                      `json:"party_id"`
	Buckets map[string]decimal.Decimal `json:"buckets"`
	Total   decimal.Decimal            `json:"total"`
}

// Aging buckets the outstanding items by days past invoice date as of
// asOf (YYYY-MM-DD).
func (s *Service) Aging(ctx context.Context, side Side, asOf string) ([]AgingLine, error) {
	table, err := s.table(side)
	if err != nil {
		return nil, err
	}
	cutoff, err := time.Parse("2006-01-02", asOf)
	if err != nil {
		return nil, ledgererr.Newf(ledgererr.CodeInvalidInput, "invalid as-of date %q", asOf)
	}

	rows, err := s.db.Query(ctx, fmt.Sprintf(`
		SELECT %s, date, amount, settled_amount FROM %s
		WHERE status != ? ORDER BY %s, date`,
		s.partyColumn(side), table, s.partyColumn(side)), StatusSettled)
	if err != nil {
		return nil, ledgererr.Storage("aging query", err)
	}
	defer rows.Close()

	byParty := map[int64]*AgingLine{}
	var order []int64
	for rows.Next() {
		var partyID int64
		var date string
		var amount, settled decimal.Decimal
		if err := rows.Scan(&partyID, &date, &amount, &settled); err != nil {
			return nil, ledgererr.Storage("scan aging", err)
		}
		outstanding := amount.Sub(settled)
		if outstanding.IsZero() {
			continue
		}
		line := byParty[partyID]
		if line == nil {
			line = &AgingLine{PartyID: partyID, Buckets: map[string]decimal.Decimal{}}
			byParty[partyID] = line
			order = append(order, partyID)
		}
		b := BucketFor(date, cutoff)
		line.Buckets[b] = line.Buckets[b].Add(outstanding)
		line.Total = line.Total.Add(outstanding)
	}
	if err := rows.Err(); err != nil {
		return nil, ledgererr.Storage("aging query", err)
	}

	out := make([]AgingLine, 0, len(order))
	for _, id := range order {
		out = append(out, *byParty[id])
	}
	return out, nil
}

// BucketFor names the aging bucket of an invoice date as of cutoff.
func BucketFor(invoiceDate string, cutoff time.Time) string {
	t, err := time.Parse("2006-01-02", invoiceDate)
	if err != nil {
		return Buckets[len(Buckets)-1]
	}
	days := int(cutoff.Sub(t).Hours() / 24)
	switch {
	case days <= 30:
		return "0-30"
	case days <= 60:
		return "31-60"
	case days <= 90:
		return "61-90"
	default:
		return "90+"
	}
}

// ProvisionResult reports one provisioning run.
type ProvisionResult struct {
	Period    string          `json:"period"`
	Total     decimal.Decimal `json:"total"`
	VoucherNo string          `json:"voucher_no,omitempty"`
}

// Provision applies the configured per-bucket rates to the receivable
// aging as of the period end and posts one provisioning voucher (debit
// bad-debt expense, credit the provision account). Reverse swaps sides.
func (s *Service) Provision(ctx context.Context, p string, asOf string, reverse bool) (*ProvisionResult, error) {
	lines, err := s.Aging(ctx, Receivable, asOf)
	if err != nil {
		return nil, err
	}

	type partyProvision struct {
		partyID int64
		amount  decimal.Decimal
	}
	var perParty []partyProvision
	total := decimal.Zero
	for _, line := range lines {
		amount := decimal.Zero
		for bucket, outstanding := range line.Buckets {
			rate := decimal.NewFromFloat(s.cfg.ProvisionRates[bucket]).Div(decimal.NewFromInt(100))
			amount = amount.Add(outstanding.Mul(rate))
		}
		amount = amount.Round(2)
		if amount.IsZero() {
			continue
		}
		perParty = append(perParty, partyProvision{line.PartyID, amount})
		total = total.Add(amount)
	}
	result := &ProvisionResult{Period: p, Total: total}
	if total.IsZero() {
		return result, nil
	}

	err = s.db.WithTx(ctx, func(tx *sql.Tx) error {
		desc := fmt.Sprintf("Bad debt provision for %s", p)
		if reverse {
			desc = fmt.Sprintf("Bad debt provision reversal for %s", p)
		}
		expense := voucher.EntryRequest{AccountCode: s.cfg.BadDebtExpense, Description: desc}
		provision := voucher.EntryRequest{AccountCode: s.cfg.BadDebtProvision, Description: desc}
		if reverse {
			provision.Debit = total
			expense.Credit = total
		} else {
			expense.Debit = total
			provision.Credit = total
		}
		v, err := s.vouchers.SubmitAutoTx(ctx, tx, voucher.Request{
			Date:        asOf,
			Description: desc,
			Entries:     []voucher.EntryRequest{expense, provision},
		})
		if err != nil {
			return err
		}
		sign := decimal.NewFromInt(1)
		if reverse {
			sign = sign.Neg()
		}
		for _, pp := range perParty {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO bad_debt_provisions (period, customer_id, amount, voucher_id)
				VALUES (?, ?, ?, ?)`,
				p, pp.partyID, pp.amount.Mul(sign), v.ID); err != nil {
				return ledgererr.Storage("insert provision", err)
			}
		}
		result.VoucherNo = v.VoucherNo
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("bad debt provisioned", zap.String("period", p),
		zap.String("total", total.String()), zap.Bool("reverse", reverse))
	return result, nil
}
