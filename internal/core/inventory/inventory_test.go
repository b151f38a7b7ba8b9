package inventory

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/coalton-labs/ledgerd/internal/core/coa"
	"github.com/coalton-labs/ledgerd/internal/core/voucher"
	"github.com/coalton-labs/ledgerd/internal/ledgererr"
	"github.com/coalton-labs/ledgerd/internal/storage/ledgerdb"
)

func newStockService(t *testing.T, policy string) (*Service, *voucher.Service, *ledgerdb.DB) {
	t.Helper()
	ctx := context.Background()
	db, err := ledgerdb.Open(ctx, ledgerdb.DefaultConfig(":memory:"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, coa.NewStore(db.Handle()).Seed(ctx))

	vouchers := voucher.NewService(db, zap.NewNop())
	svc := NewService(db, vouchers, Config{
		InventoryAccount: "1403",
		ReceiptCredit:    "2202",
		IssueDebit:       "6401",
		VarianceAccount:  "6401",
		NegativePolicy:   policy,
	}, zap.NewNop())
	return svc, vouchers, db
}

func d(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func TestFIFOIssueConsumesOldestFirst(t *testing.T) {
	ctx := context.Background()
	svc, vouchers, db := newStockService(t, PolicyReject)

	require.NoError(t, svc.CreateItem(ctx, Item{SKU: "W-100", Name: "Widget", CostingMethod: FIFO}))
	_, err := svc.Receive(ctx, "W-100", "2025-01-05", "B1", d(10), d(10), "")
	require.NoError(t, err)
	_, err = svc.Receive(ctx, "W-100", "2025-01-10", "B2", d(5), d(12), "")
	require.NoError(t, err)

	move, err := svc.Issue(ctx, "W-100", "2025-01-15", d(12), "")
	require.NoError(t, err)
	require.True(t, move.TotalCost.Equal(d(124)), move.TotalCost.String())

	qty, value, err := svc.OnHand(ctx, "W-100")
	require.NoError(t, err)
	require.True(t, qty.Equal(d(3)), qty.String())
	require.True(t, value.Equal(d(36)), value.String())

	// The stock account carries exactly the on-hand value.
	closing, err := vouchers.Balances().AccountClosing(ctx, db.Handle(), "1403", "2025-01")
	require.NoError(t, err)
	require.True(t, closing.Equal(d(36)), closing.String())
}

func TestMovingAveragePoolsCost(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newStockService(t, PolicyReject)

	require.NoError(t, svc.CreateItem(ctx, Item{SKU: "W-200", Name: "Gadget"}))
	_, err := svc.Receive(ctx, "W-200", "2025-01-05", "", d(10), d(10), "")
	require.NoError(t, err)
	_, err = svc.Receive(ctx, "W-200", "2025-01-08", "", d(10), d(14), "")
	require.NoError(t, err)

	// Pool is 20 units at 240, so the average is 12.
	move, err := svc.Issue(ctx, "W-200", "2025-01-12", d(5), "")
	require.NoError(t, err)
	require.True(t, move.TotalCost.Equal(d(60)), move.TotalCost.String())
}

func TestStandardCostBooksVariance(t *testing.T) {
	ctx := context.Background()
	svc, vouchers, _ := newStockService(t, PolicyReject)

	require.NoError(t, svc.CreateItem(ctx, Item{SKU: "W-300", Name: "Sprocket", CostingMethod: Standard}))
	require.NoError(t, svc.SetStandardCost(ctx, "W-300", "2025-01", d(10)))

	move, err := svc.Receive(ctx, "W-300", "2025-01-05", "", d(5), d(11), "")
	require.NoError(t, err)
	require.True(t, move.UnitCost.Equal(d(10)), "stock is carried at standard")

	receipt, err := vouchers.Get(ctx, move.VoucherID)
	require.NoError(t, err)
	byAccount := map[string]voucher.Entry{}
	for _, e := range receipt.Entries {
		byAccount[e.AccountCode] = e
	}
	require.True(t, byAccount["1403"].Debit.Equal(d(50)))
	require.True(t, byAccount["2202"].Credit.Equal(d(55)))
	require.True(t, byAccount["6401"].Debit.Equal(d(5)), "unfavorable price variance")

	issue, err := svc.Issue(ctx, "W-300", "2025-01-10", d(3), "")
	require.NoError(t, err)
	require.True(t, issue.TotalCost.Equal(d(30)))
}

func TestRejectPolicyBlocksOverIssue(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newStockService(t, PolicyReject)

	require.NoError(t, svc.CreateItem(ctx, Item{SKU: "W-400", Name: "Bolt", CostingMethod: FIFO}))
	_, err := svc.Receive(ctx, "W-400", "2025-01-05", "", d(3), d(2), "")
	require.NoError(t, err)

	_, err = svc.Issue(ctx, "W-400", "2025-01-06", d(5), "")
	require.Equal(t, ledgererr.CodeNegativeInventory, ledgererr.CodeOf(err))

	qty, _, err := svc.OnHand(ctx, "W-400")
	require.NoError(t, err)
	require.True(t, qty.Equal(d(3)), "rejected issue must not touch stock")
}

func TestAllowPolicySettlesDeficitOnNextReceipt(t *testing.T) {
	ctx := context.Background()
	svc, vouchers, db := newStockService(t, PolicyAllow)

	require.NoError(t, svc.CreateItem(ctx, Item{SKU: "W-500", Name: "Nut", CostingMethod: FIFO}))
	_, err := svc.Receive(ctx, "W-500", "2025-01-02", "", d(4), d(6), "")
	require.NoError(t, err)

	// Issue beyond on-hand: the 2-unit deficit is priced at the last
	// known cost and parked for the next receipt.
	move, err := svc.Issue(ctx, "W-500", "2025-01-05", d(6), "")
	require.NoError(t, err)
	require.True(t, move.TotalCost.Equal(d(36)), move.TotalCost.String())

	_, err = svc.Receive(ctx, "W-500", "2025-01-08", "", d(10), d(7), "")
	require.NoError(t, err)

	// The covering 2 units leave the new batch, and the 2x(7-6) cost
	// difference lands on cost of goods.
	qty, value, err := svc.OnHand(ctx, "W-500")
	require.NoError(t, err)
	require.True(t, qty.Equal(d(8)), qty.String())
	require.True(t, value.Equal(d(56)), value.String())

	closing, err := vouchers.Balances().AccountClosing(ctx, db.Handle(), "6401", "2025-01")
	require.NoError(t, err)
	require.True(t, closing.Equal(d(38)), "COGS 36 + correction 2, got %s", closing)

	inv, err := vouchers.Balances().AccountClosing(ctx, db.Handle(), "1403", "2025-01")
	require.NoError(t, err)
	require.True(t, inv.Equal(d(56)), inv.String())
}

func TestIssueUnknownItem(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newStockService(t, PolicyReject)
	_, err := svc.Issue(ctx, "NOPE", "2025-01-05", d(1), "")
	require.Equal(t, ledgererr.CodeItemNotFound, ledgererr.CodeOf(err))
}

func TestSmallReceiptCoversDeficitPartially(t *testing.T) {
	ctx := context.Background()
	svc, vouchers, db := newStockService(t, PolicyAllow)

	require.NoError(t, svc.CreateItem(ctx, Item{SKU: "W-600", Name: "Bolt", CostingMethod: FIFO}))
	_, err := svc.Receive(ctx, "W-600", "2025-01-02", "", d(4), d(5), "")
	require.NoError(t, err)

	// 6 units of deficit at the last known cost of 5.
	move, err := svc.Issue(ctx, "W-600", "2025-01-05", d(10), "")
	require.NoError(t, err)
	require.True(t, move.TotalCost.Equal(d(50)), move.TotalCost.String())

	// A 4-unit receipt cannot cover the full deficit: it settles 4 units
	// at (8-5) each and must not drive its batch negative.
	_, err = svc.Receive(ctx, "W-600", "2025-01-08", "", d(4), d(8), "")
	require.NoError(t, err)

	qty, value, err := svc.OnHand(ctx, "W-600")
	require.NoError(t, err)
	require.True(t, qty.IsZero(), qty.String())
	require.True(t, value.IsZero(), value.String())

	cogs, err := vouchers.Balances().AccountClosing(ctx, db.Handle(), "6401", "2025-01")
	require.NoError(t, err)
	require.True(t, cogs.Equal(d(62)), "COGS 50 + partial correction 12, got %s", cogs)

	// The next receipt settles the residual 2 units.
	_, err = svc.Receive(ctx, "W-600", "2025-01-10", "", d(5), d(8), "")
	require.NoError(t, err)

	qty, value, err = svc.OnHand(ctx, "W-600")
	require.NoError(t, err)
	require.True(t, qty.Equal(d(3)), qty.String())
	require.True(t, value.Equal(d(24)), value.String())

	cogs, err = vouchers.Balances().AccountClosing(ctx, db.Handle(), "6401", "2025-01")
	require.NoError(t, err)
	require.True(t, cogs.Equal(d(68)), cogs.String())

	inv, err := vouchers.Balances().AccountClosing(ctx, db.Handle(), "1403", "2025-01")
	require.NoError(t, err)
	require.True(t, inv.Equal(d(24)), inv.String())
}
