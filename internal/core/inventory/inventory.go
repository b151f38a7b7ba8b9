// Package inventory is the stock sub-ledger: receipts and issues with
// per-item costing (moving-average, FIFO, standard), batch lineage, and a
// configurable negative-stock policy. Every movement posts a balanced
// voucher; the batches carry quantity and cost lineage.
package inventory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/coalton-labs/ledgerd/internal/core/voucher"
	"github.com/coalton-labs/ledgerd/internal/ledgererr"
	"github.com/coalton-labs/ledgerd/internal/storage/ledgerdb"
)

// Costing methods.
const (
	MovingAverage = "moving_average"
	FIFO          = "fifo"
	Standard      = "standard"
)

// Negative-stock policies.
const (
	PolicyReject = "reject"
	PolicyAllow  = "allow"
)

// Item is one stock-keeping unit.
type Item struct {
	SKU           string `json:"sku"`
	Name          string `json:"name"`
	Unit          string `json:"unit"`
	CostingMethod string `json:"costing_method"`
}

// Move is one recorded stock movement.
type Move struct {
	ID        int64           `json:"id"`
	SKU       string          `json:"sku"`
	Direction string          `json:"direction"`
	Qty       decimal.Decimal `json:"qty"`
	UnitCost  decimal.Decimal `json:"unit_cost"`
	TotalCost decimal.Decimal `json:"total_cost"`
	VoucherID int64           `json:"voucher_id"`
	Date      string          `json:"date"`
}

// Config names the accounts movements post against.
type Config struct {
	InventoryAccount string
	// ReceiptCredit is the default credit side of a receipt (payable).
	ReceiptCredit string
	// IssueDebit is the default debit side of an issue (cost of goods).
	IssueDebit string
	// VarianceAccount absorbs actual-vs-standard differences.
	VarianceAccount string
	NegativePolicy  string
}

// Service runs the inventory sub-ledger.
type Service struct {
	db       *ledgerdb.DB
	vouchers *voucher.Service
	cfg      Config
	log      *zap.Logger
}

// NewService wires the inventory sub-ledger.
func NewService(db *ledgerdb.DB, vouchers *voucher.Service, cfg Config, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.NegativePolicy == "" {
		cfg.NegativePolicy = PolicyReject
	}
	return &Service{db: db, vouchers: vouchers, cfg: cfg, log: log}
}

// CreateItem registers a SKU.
func (s *Service) CreateItem(ctx context.Context, it Item) error {
	if it.SKU == "" || it.Name == "" {
		return ledgererr.Validation(ledgererr.CodeInvalidInput, "sku and name are required")
	}
	switch it.CostingMethod {
	case "":
		it.CostingMethod = MovingAverage
	case MovingAverage, FIFO, Standard:
	default:
		return ledgererr.Newf(ledgererr.CodeInvalidInput, "unknown costing method %q", it.CostingMethod)
	}
	if it.Unit == "" {
		it.Unit = "ea"
	}
	if _, err := s.db.Exec(ctx, `
		INSERT INTO inventory_items (sku, name, unit, costing_method)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(sku) DO UPDATE SET name = excluded.name, unit = excluded.unit`,
		it.SKU, it.Name, it.Unit, it.CostingMethod); err != nil {
		return ledgererr.Storage("create item", err)
	}
	return nil
}

func getItem(ctx context.Context, exec ledgerdb.Executor, sku string) (*Item, error) {
	row := exec.QueryRowContext(ctx,
		`SELECT sku, name, unit, costing_method FROM inventory_items WHERE sku = ?`, sku)
	var it Item
	err := row.Scan(&it.SKU, &it.Name, &it.Unit, &it.CostingMethod)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledgererr.Newf(ledgererr.CodeItemNotFound, "item %s not found", sku).
			WithDetail("sku", sku)
	}
	if err != nil {
		return nil, ledgererr.Storage("get item", err)
	}
	return &it, nil
}

// SetStandardCost fixes the standard cost of a SKU for a period.
func (s *Service) SetStandardCost(ctx context.Context, sku, p string, cost decimal.Decimal) error {
	if _, err := getItem(ctx, s.db.Handle(), sku); err != nil {
		return err
	}
	if _, err := s.db.Exec(ctx, `
		INSERT INTO standard_costs (sku, period, cost) VALUES (?, ?, ?)
		ON CONFLICT(sku, period) DO UPDATE SET cost = excluded.cost`,
		sku, p, cost.Round(2)); err != nil {
		return ledgererr.Storage("set standard cost", err)
	}
	return nil
}

func standardCost(ctx context.Context, exec ledgerdb.Executor, sku, p string) (decimal.Decimal, error) {
	// Nearest prior period's standard applies when the current one is unset.
	row := exec.QueryRowContext(ctx, `
		SELECT cost FROM standard_costs WHERE sku = ? AND period <= ?
		ORDER BY period DESC LIMIT 1`, sku, p)
	var cost decimal.Decimal
	err := row.Scan(&cost)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, ledgererr.Newf(ledgererr.CodeInvalidInput,
			"no standard cost for %s in or before %s", sku, p)
	}
	if err != nil {
		return decimal.Zero, ledgererr.Storage("get standard cost", err)
	}
	return cost, nil
}

type batch struct {
	id        int64
	qty       decimal.Decimal
	remaining decimal.Decimal
	unitCost  decimal.Decimal
}

func openBatches(ctx context.Context, exec ledgerdb.Executor, sku string) ([]batch, error) {
	rows, err := exec.QueryContext(ctx, `
		SELECT id, qty, remaining_qty, unit_cost FROM inventory_batches
		WHERE sku = ? AND remaining_qty > 0 ORDER BY id`, sku)
	if err != nil {
		return nil, ledgererr.Storage("list batches", err)
	}
	defer rows.Close()

	var out []batch
	for rows.Next() {
		var b batch
		if err := rows.Scan(&b.id, &b.qty, &b.remaining, &b.unitCost); err != nil {
			return nil, ledgererr.Storage("scan batch", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, ledgererr.Storage("list batches", err)
	}
	return out, nil
}

// OnHand returns the quantity and carrying value of a SKU.
func (s *Service) OnHand(ctx context.Context, sku string) (qty, value decimal.Decimal, err error) {
	batches, err := openBatches(ctx, s.db.Handle(), sku)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	for _, b := range batches {
		qty = qty.Add(b.remaining)
		value = value.Add(b.remaining.Mul(b.unitCost))
	}
	return qty, value.Round(2), nil
}

// Receive books a receipt: a new batch at actual cost, the stock voucher,
// and, for standard-costed items, the price variance. A prior negative
// issue's pending cost adjustment settles here against the new cost.
func (s *Service) Receive(ctx context.Context, sku, date, batchNo string, qty, unitCost decimal.Decimal, creditAccount string) (*Move, error) {
	if qty.IsZero() || qty.IsNegative() {
		return nil, ledgererr.Validation(ledgererr.CodeInvalidInput, "receipt quantity must be positive")
	}
	if unitCost.IsNegative() {
		return nil, ledgererr.Validation(ledgererr.CodeInvalidInput, "unit cost must be non-negative")
	}
	if creditAccount == "" {
		creditAccount = s.cfg.ReceiptCredit
	}

	var out *Move
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		it, err := getItem(ctx, tx, sku)
		if err != nil {
			return err
		}

		bookCost := unitCost
		var variance decimal.Decimal
		if it.CostingMethod == Standard {
			p := date[:7]
			std, err := standardCost(ctx, tx, sku, p)
			if err != nil {
				return err
			}
			bookCost = std
			variance = unitCost.Sub(std).Mul(qty).Round(2)
		}
		total := bookCost.Mul(qty).Round(2)
		actualTotal := unitCost.Mul(qty).Round(2)

		desc := fmt.Sprintf("Receive %s x %s @ %s", qty.String(), sku, unitCost.String())
		entries := []voucher.EntryRequest{
			{AccountCode: s.cfg.InventoryAccount, Description: desc, Debit: total},
			{AccountCode: creditAccount, Description: desc, Credit: actualTotal},
		}
		if !variance.IsZero() {
			varianceEntry := voucher.EntryRequest{AccountCode: s.cfg.VarianceAccount, Description: desc}
			if variance.IsPositive() {
				varianceEntry.Debit = variance
			} else {
				varianceEntry.Credit = variance.Neg()
			}
			entries = append(entries, varianceEntry)
		}
		v, err := s.vouchers.SubmitAutoTx(ctx, tx, voucher.Request{
			Date: date, Description: desc, Entries: entries,
		})
		if err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx, `
			INSERT INTO inventory_batches (sku, batch_no, qty, remaining_qty, unit_cost)
			VALUES (?, ?, ?, ?, ?)`,
			sku, batchNo, qty, qty, bookCost)
		if err != nil {
			return ledgererr.Storage("insert batch", err)
		}
		batchID, err := res.LastInsertId()
		if err != nil {
			return ledgererr.Storage("insert batch", err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO inventory_moves (sku, direction, qty, unit_cost, total_cost, voucher_id, date)
			VALUES (?, 'in', ?, ?, ?, ?, ?)`,
			sku, qty, bookCost, total, v.ID, date); err != nil {
			return ledgererr.Storage("insert move", err)
		}

		if err := s.settlePendingDeficit(ctx, tx, sku, date, batchID, bookCost); err != nil {
			return err
		}
		out = &Move{SKU: sku, Direction: "in", Qty: qty, UnitCost: bookCost,
			TotalCost: total, VoucherID: v.ID, Date: date}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("stock received", zap.String("sku", sku), zap.String("qty", qty.String()))
	return out, nil
}

// settlePendingDeficit corrects earlier negative issues against the cost
// of the receipt that covers them.
func (s *Service) settlePendingDeficit(ctx context.Context, tx *sql.Tx, sku, date string, batchID int64, newCost decimal.Decimal) error {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, pending_cost_adjustment, unit_cost FROM inventory_moves
		WHERE sku = ? AND pending_cost_adjustment != 0 ORDER BY id`, sku)
	if err != nil {
		return ledgererr.Storage("list pending moves", err)
	}
	type pending struct {
		id       int64
		qty      decimal.Decimal
		usedCost decimal.Decimal
	}
	var deficits []pending
	for rows.Next() {
		var p pending
		if err := rows.Scan(&p.id, &p.qty, &p.usedCost); err != nil {
			rows.Close()
			return ledgererr.Storage("scan pending move", err)
		}
		deficits = append(deficits, p)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return ledgererr.Storage("list pending moves", err)
	}
	rows.Close()

	var batchRemaining decimal.Decimal
	if err := tx.QueryRowContext(ctx, `
		SELECT remaining_qty FROM inventory_batches WHERE id = ?`, batchID).
		Scan(&batchRemaining); err != nil {
		return ledgererr.Storage("read covering batch", err)
	}

	for _, d := range deficits {
		// The receipt may be smaller than the accumulated deficit; cover
		// what it can and leave the rest pending for the next one.
		cover := decimal.Min(d.qty, batchRemaining)
		if !cover.IsPositive() {
			break
		}
		batchRemaining = batchRemaining.Sub(cover)
		if _, err := tx.ExecContext(ctx, `
			UPDATE inventory_batches SET remaining_qty = remaining_qty - ?
			WHERE id = ?`, cover, batchID); err != nil {
			return ledgererr.Storage("consume covering batch", err)
		}
		correction := newCost.Sub(d.usedCost).Mul(cover).Round(2)
		if !correction.IsZero() {
			desc := fmt.Sprintf("Cost correction for negative issue of %s", sku)
			cogs := voucher.EntryRequest{AccountCode: s.cfg.IssueDebit, Description: desc}
			inv := voucher.EntryRequest{AccountCode: s.cfg.InventoryAccount, Description: desc}
			if correction.IsPositive() {
				cogs.Debit = correction
				inv.Credit = correction
			} else {
				inv.Debit = correction.Neg()
				cogs.Credit = correction.Neg()
			}
			if _, err := s.vouchers.SubmitAutoTx(ctx, tx, voucher.Request{
				Date: date, Description: desc,
				Entries: []voucher.EntryRequest{cogs, inv},
			}); err != nil {
				return err
			}
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE inventory_moves SET pending_cost_adjustment = ? WHERE id = ?`,
			d.qty.Sub(cover), d.id); err != nil {
			return ledgererr.Storage("clear pending move", err)
		}
	}
	return nil
}

// Issue books an issue at the item's costing method and posts the cost
// voucher (debit cost of goods, credit inventory). The negative-stock
// policy decides what happens when on-hand quantity cannot cover it.
func (s *Service) Issue(ctx context.Context, sku, date string, qty decimal.Decimal, debitAccount string) (*Move, error) {
	if qty.IsZero() || qty.IsNegative() {
		return nil, ledgererr.Validation(ledgererr.CodeInvalidInput, "issue quantity must be positive")
	}
	if debitAccount == "" {
		debitAccount = s.cfg.IssueDebit
	}

	var out *Move
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		it, err := getItem(ctx, tx, sku)
		if err != nil {
			return err
		}
		batches, err := openBatches(ctx, tx, sku)
		if err != nil {
			return err
		}
		var onHand decimal.Decimal
		for _, b := range batches {
			onHand = onHand.Add(b.remaining)
		}
		shortfall := qty.Sub(onHand)
		if shortfall.IsPositive() && s.cfg.NegativePolicy == PolicyReject {
			return ledgererr.Validation(ledgererr.CodeNegativeInventory,
				fmt.Sprintf("issuing %s of %s exceeds on-hand %s", qty.String(), sku, onHand.String())).
				WithDetail("sku", sku).
				WithDetail("on_hand", onHand.String()).
				WithDetail("requested", qty.String())
		}

		cost, consumed, err := s.costOf(ctx, tx, it, date, qty, batches, shortfall)
		if err != nil {
			return err
		}

		desc := fmt.Sprintf("Issue %s x %s", qty.String(), sku)
		v, err := s.vouchers.SubmitAutoTx(ctx, tx, voucher.Request{
			Date: date, Description: desc,
			Entries: []voucher.EntryRequest{
				{AccountCode: debitAccount, Description: desc, Debit: cost},
				{AccountCode: s.cfg.InventoryAccount, Description: desc, Credit: cost},
			},
		})
		if err != nil {
			return err
		}

		for _, c := range consumed {
			if _, err := tx.ExecContext(ctx, `
				UPDATE inventory_batches SET remaining_qty = remaining_qty - ?
				WHERE id = ?`, c.qty, c.batchID); err != nil {
				return ledgererr.Storage("consume batch", err)
			}
		}

		unitCost := decimal.Zero
		if !qty.IsZero() {
			unitCost = cost.DivRound(qty, 6)
		}
		pendingQty := decimal.Zero
		if shortfall.IsPositive() {
			pendingQty = shortfall
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO inventory_moves
			  (sku, direction, qty, unit_cost, total_cost, voucher_id, date, pending_cost_adjustment)
			VALUES (?, 'out', ?, ?, ?, ?, ?, ?)`,
			sku, qty, unitCost, cost, v.ID, date, pendingQty); err != nil {
			return ledgererr.Storage("insert move", err)
		}
		out = &Move{SKU: sku, Direction: "out", Qty: qty, UnitCost: unitCost,
			TotalCost: cost, VoucherID: v.ID, Date: date}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("stock issued", zap.String("sku", sku),
		zap.String("qty", qty.String()), zap.String("cost", out.TotalCost.String()))
	return out, nil
}

type consumption struct {
	batchID int64
	qty     decimal.Decimal
}

// costOf prices an issue under the item's costing method and plans which
// batches it consumes. A shortfall under the allow policy is priced at
// the last known cost and left pending for the next receipt.
func (s *Service) costOf(ctx context.Context, tx *sql.Tx, it *Item, date string, qty decimal.Decimal, batches []batch, shortfall decimal.Decimal) (decimal.Decimal, []consumption, error) {
	available := qty
	if shortfall.IsPositive() {
		available = qty.Sub(shortfall)
	}

	var consumed []consumption
	remaining := available
	for _, b := range batches {
		if remaining.IsZero() {
			break
		}
		take := decimal.Min(remaining, b.remaining)
		consumed = append(consumed, consumption{b.id, take})
		remaining = remaining.Sub(take)
	}

	var cost decimal.Decimal
	switch it.CostingMethod {
	case FIFO:
		byID := map[int64]decimal.Decimal{}
		for _, b := range batches {
			byID[b.id] = b.unitCost
		}
		for _, c := range consumed {
			cost = cost.Add(c.qty.Mul(byID[c.batchID]))
		}
	case Standard:
		std, err := standardCost(ctx, tx, it.SKU, date[:7])
		if err != nil {
			return decimal.Zero, nil, err
		}
		cost = qty.Mul(std)
	default: // moving average
		var poolQty, poolValue decimal.Decimal
		for _, b := range batches {
			poolQty = poolQty.Add(b.remaining)
			poolValue = poolValue.Add(b.remaining.Mul(b.unitCost))
		}
		avg := decimal.Zero
		if !poolQty.IsZero() {
			avg = poolValue.DivRound(poolQty, 6)
		}
		cost = available.Mul(avg)
	}

	if shortfall.IsPositive() && it.CostingMethod != Standard {
		last, err := lastKnownCost(ctx, tx, it.SKU)
		if err != nil {
			return decimal.Zero, nil, err
		}
		cost = cost.Add(shortfall.Mul(last))
	}
	return cost.Round(2), consumed, nil
}

// lastKnownCost is the unit cost of the most recent receipt, zero when
// the SKU has never been received.
func lastKnownCost(ctx context.Context, exec ledgerdb.Executor, sku string) (decimal.Decimal, error) {
	row := exec.QueryRowContext(ctx, `
		SELECT unit_cost FROM inventory_moves
		WHERE sku = ? AND direction = 'in' ORDER BY id DESC LIMIT 1`, sku)
	var cost decimal.Decimal
	err := row.Scan(&cost)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, ledgererr.Storage("last cost", err)
	}
	return cost, nil
}
