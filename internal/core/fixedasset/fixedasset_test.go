package fixedasset

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

func newAssetService(t *testing.T) (*Service, *voucher.Service, *ledgerdb.DB) {
	t.Helper()
	ctx := context.Background()
	db, err := ledgerdb.Open(ctx, ledgerdb.DefaultConfig(":memory:"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, coa.NewStore(db.Handle()).Seed(ctx))
	vouchers := voucher.NewService(db, zap.NewNop())
	svc := NewService(db, vouchers, Config{
		AssetAccount:      "1601",
		AccumDepAccount:   "1602",
		DepExpenseAccount: "6602",
		ImpairmentAccount: "1603",
		ImpairmentLoss:    "6701",
		CIPAccount:        "1604",
		DisposalGainLoss:  "6711",
		CashAccount:       "1002",
	}, zap.NewNop())
	return svc, vouchers, db
}

func money(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func TestStraightLineMonthlyCharge(t *testing.T) {
	a := &Asset{Cost: money(12000), Salvage: money(0), LifeMonths: 60, Method: StraightLine}
	require.True(t, MonthlyDepreciation(a).Equal(money(200)))

	a.Salvage = money(1200)
	require.True(t, MonthlyDepreciation(a).Equal(money(180)))

	// Charges stop once the depreciable base is consumed.
	a.AccumDep = money(10800)
	require.True(t, MonthlyDepreciation(a).IsZero())
}

func TestDoubleDecliningChargesOpeningNBV(t *testing.T) {
	a := &Asset{Cost: money(10000), LifeMonths: 10, Method: DoubleDeclining}
	first := MonthlyDepreciation(a)
	require.True(t, first.Equal(money(2000)), first.String())

	a.AccumDep = first
	a.MonthsDepreciated = 1
	second := MonthlyDepreciation(a)
	require.True(t, second.Equal(money(1600)), second.String())
}

func TestSumOfYearsWeightsEarlyMonths(t *testing.T) {
	// Over 4 months the weights are 4/10, 3/10, 2/10, 1/10.
	a := &Asset{Cost: money(1000), LifeMonths: 4, Method: SumOfYears}
	require.True(t, MonthlyDepreciation(a).Equal(money(400)))

	a.AccumDep = money(400)
	a.MonthsDepreciated = 1
	require.True(t, MonthlyDepreciation(a).Equal(money(300)))

	a.AccumDep = money(900)
	a.MonthsDepreciated = 3
	require.True(t, MonthlyDepreciation(a).Equal(money(100)))

	a.AccumDep = money(1000)
	a.MonthsDepreciated = 4
	require.True(t, MonthlyDepreciation(a).IsZero())
}

func TestDepreciateIsIdempotentPerPeriod(t *testing.T) {
	ctx := context.Background()
	svc, vouchers, db := newAssetService(t)

	asset, err := svc.Acquire(ctx, "laser cutter", money(12000), money(0), 60, StraightLine, "2025-01-05", "1002")
	require.NoError(t, err)

	result, err := svc.Depreciate(ctx, "2025-01")
	require.NoError(t, err)
	require.True(t, result.Total.Equal(money(200)), result.Total.String())

	again, err := svc.Depreciate(ctx, "2025-01")
	require.NoError(t, err)
	require.True(t, again.Total.IsZero(), "second run for the same period must charge nothing")

	got, err := svc.Get(ctx, asset.ID)
	require.NoError(t, err)
	require.True(t, got.AccumDep.Equal(money(200)))
	require.Equal(t, 1, got.MonthsDepreciated)

	// 1602 is a contra asset: credits grow its natural balance.
	accum, err := vouchers.Balances().AccountClosing(ctx, db.Handle(), "1602", "2025-01")
	require.NoError(t, err)
	require.True(t, accum.Equal(money(200)), accum.String())
}

func TestImpairmentCapsAndReversal(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newAssetService(t)

	asset, err := svc.Acquire(ctx, "press", money(5000), money(0), 50, StraightLine, "2025-01-05", "1002")
	require.NoError(t, err)

	err = svc.Impair(ctx, asset.ID, money(6000), "2025-01", false)
	require.Equal(t, ledgererr.CodeInvalidInput, ledgererr.CodeOf(err))

	require.NoError(t, svc.Impair(ctx, asset.ID, money(1000), "2025-01", false))
	got, err := svc.Get(ctx, asset.ID)
	require.NoError(t, err)
	require.True(t, got.AccumImpairment.Equal(money(1000)))
	require.True(t, got.NetBookValue().Equal(money(4000)))

	err = svc.Impair(ctx, asset.ID, money(1500), "2025-02", true)
	require.Equal(t, ledgererr.CodeInvalidInput, ledgererr.CodeOf(err))

	require.NoError(t, svc.Impair(ctx, asset.ID, money(400), "2025-02", true))
	got, err = svc.Get(ctx, asset.ID)
	require.NoError(t, err)
	require.True(t, got.AccumImpairment.Equal(money(600)))
}

func TestDisposalPlugsGainOrLoss(t *testing.T) {
	ctx := context.Background()
	svc, vouchers, db := newAssetService(t)

	asset, err := svc.Acquire(ctx, "truck", money(10000), money(0), 50, StraightLine, "2025-01-05", "1002")
	require.NoError(t, err)
	_, err = svc.Depreciate(ctx, "2025-01") // 200
	require.NoError(t, err)

	// NBV 9800, proceeds 9000: a 800 loss.
	require.NoError(t, svc.Dispose(ctx, asset.ID, money(9000), "2025-02-10"))

	got, err := svc.Get(ctx, asset.ID)
	require.NoError(t, err)
	require.Equal(t, StatusDisposed, got.Status)

	engine := vouchers.Balances()
	require.NoError(t, engine.Rollover(ctx, db.Handle(), "2025-01"))
	cost, err := engine.AccountClosing(ctx, db.Handle(), "1601", "2025-02")
	require.NoError(t, err)
	require.True(t, cost.IsZero(), "asset cost cleared on disposal, got %s", cost)

	loss, err := engine.AccountClosing(ctx, db.Handle(), "6711", "2025-02")
	require.NoError(t, err)
	// 6711 is expense-side here: a debit-natured loss of 800.
	require.True(t, loss.Equal(money(800)), loss.String())

	err = svc.Dispose(ctx, asset.ID, money(1), "2025-02-11")
	require.Equal(t, ledgererr.CodeInvalidInput, ledgererr.CodeOf(err))
}

func TestCIPTransferCompletesProject(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newAssetService(t)

	project, err := svc.CreateCIP(ctx, "warehouse extension")
	require.NoError(t, err)
	require.NoError(t, svc.AddCIPCost(ctx, project.ID, money(30000), "2025-01-10", "1002"))
	require.NoError(t, svc.AddCIPCost(ctx, project.ID, money(20000), "2025-02-10", "1002"))

	partial, err := svc.TransferCIP(ctx, project.ID, money(30000), "warehouse shell", money(0), 240, StraightLine, "2025-03-01")
	require.NoError(t, err)
	require.True(t, partial.Cost.Equal(money(30000)))

	// Transferring the remainder without naming an amount completes it.
	rest, err := svc.TransferCIP(ctx, project.ID, decimal.Zero, "warehouse fitout", money(0), 120, StraightLine, "2025-03-15")
	require.NoError(t, err)
	require.True(t, rest.Cost.Equal(money(20000)))

	err = svc.AddCIPCost(ctx, project.ID, money(1), "2025-03-20", "1002")
	require.Equal(t, ledgererr.CodeAssetNotFound, ledgererr.CodeOf(err))

	_, err = svc.TransferCIP(ctx, project.ID, money(1), "x", money(0), 12, StraightLine, "2025-03-21")
	require.Equal(t, ledgererr.CodeAssetNotFound, ledgererr.CodeOf(err))
}

func TestAcquireValidation(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newAssetService(t)

	_, err := svc.Acquire(ctx, "bad", money(0), money(0), 12, StraightLine, "2025-01-05", "1002")
	require.Equal(t, ledgererr.CodeInvalidInput, ledgererr.CodeOf(err))

	_, err = svc.Acquire(ctx, "bad", money(100), money(200), 12, StraightLine, "2025-01-05", "1002")
	require.Equal(t, ledgererr.CodeInvalidInput, ledgererr.CodeOf(err))

	_, err = svc.Acquire(ctx, "bad", money(100), money(0), 12, "guesswork", "2025-01-05", "1002")
	require.Equal(t, ledgererr.CodeInvalidInput, ledgererr.CodeOf(err))

	_, err = svc.Get(ctx, 404)
	require.Equal(t, ledgererr.CodeAssetNotFound, ledgererr.CodeOf(err))
}
