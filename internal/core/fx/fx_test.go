package fx

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

func newFXService(t *testing.T) (*Service, *voucher.Service, *ledgerdb.DB) {
	t.Helper()
	ctx := context.Background()
	db, err := ledgerdb.Open(ctx, ledgerdb.DefaultConfig(":memory:"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	accounts := coa.NewStore(db.Handle())
	require.NoError(t, accounts.Seed(ctx))
	require.NoError(t, accounts.SetRevaluable(ctx, "1122", true))

	vouchers := voucher.NewService(db, zap.NewNop())
	svc, err := NewService(db, vouchers, Config{
		FunctionalCurrency: "CNY",
		GainAccount:        "6061",
		LossAccount:        "6061",
	}, 0, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, svc.AddCurrency(ctx, Currency{Code: "USD", Name: "US Dollar", Symbol: "$"}))
	return svc, vouchers, db
}

func postForeignSale(t *testing.T, vouchers *voucher.Service) {
	t.Helper()
	_, err := vouchers.SubmitAuto(context.Background(), voucher.Request{
		Date:        "2025-01-10",
		Description: "export sale in USD",
		Entries: []voucher.EntryRequest{
			{
				AccountCode:  "1122",
				Debit:        decimal.NewFromInt(700),
				CurrencyCode: "USD",
				ForeignDebit: decimal.NewFromInt(100),
			},
			{AccountCode: "6001", Credit: decimal.NewFromInt(700)},
		},
	})
	require.NoError(t, err)
}

func TestRevaluePostsUnrealizedGain(t *testing.T) {
	ctx := context.Background()
	svc, vouchers, db := newFXService(t)
	postForeignSale(t, vouchers)

	require.NoError(t, svc.SetRate(ctx, "USD", "2025-01-31",
		decimal.NewFromFloat(7.2), RateClosing, "central bank"))

	result, err := svc.Revalue(ctx, "2025-01")
	require.NoError(t, err)
	require.Len(t, result.Vouchers, 1)
	require.Equal(t, "20", result.Deltas["1122"])

	engine := vouchers.Balances()
	closing, err := engine.AccountClosing(ctx, db.Handle(), "1122", "2025-01")
	require.NoError(t, err)
	require.True(t, closing.Equal(decimal.NewFromInt(720)), closing.String())

	rows, err := engine.PeriodRows(ctx, db.Handle(), "2025-01")
	require.NoError(t, err)
	var foreign decimal.Decimal
	for _, r := range rows {
		if r.Key.AccountCode == "1122" {
			foreign = foreign.Add(r.ForeignClosing)
		}
	}
	require.True(t, foreign.Equal(decimal.NewFromInt(100)),
		"foreign amount must not move on revaluation, got %s", foreign)

	gain, err := engine.AccountClosing(ctx, db.Handle(), "6061", "2025-01")
	require.NoError(t, err)
	require.True(t, gain.Equal(decimal.NewFromInt(20)), gain.String())
}

func TestRevalueNoRateFails(t *testing.T) {
	ctx := context.Background()
	svc, vouchers, _ := newFXService(t)
	postForeignSale(t, vouchers)

	_, err := svc.Revalue(ctx, "2025-01")
	require.Equal(t, ledgererr.CodeRateNotFound, ledgererr.CodeOf(err))
}

func TestRevalueAtBookedRateIsNoop(t *testing.T) {
	ctx := context.Background()
	svc, vouchers, _ := newFXService(t)
	postForeignSale(t, vouchers)

	require.NoError(t, svc.SetRate(ctx, "USD", "2025-01-31",
		decimal.NewFromFloat(7.0), RateClosing, ""))
	result, err := svc.Revalue(ctx, "2025-01")
	require.NoError(t, err)
	require.Empty(t, result.Vouchers)
}

func TestRateFallsBackToNearestPrior(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newFXService(t)

	require.NoError(t, svc.SetRate(ctx, "USD", "2025-01-05",
		decimal.NewFromFloat(7.05), RateSpot, ""))
	require.NoError(t, svc.SetRate(ctx, "USD", "2025-01-20",
		decimal.NewFromFloat(7.15), RateSpot, ""))

	rate, err := svc.Rate(ctx, "USD", "2025-01-12", RateSpot)
	require.NoError(t, err)
	require.True(t, rate.Equal(decimal.NewFromFloat(7.05)), rate.String())

	rate, err = svc.Rate(ctx, "USD", "2025-02-01", RateSpot)
	require.NoError(t, err)
	require.True(t, rate.Equal(decimal.NewFromFloat(7.15)))

	_, err = svc.Rate(ctx, "USD", "2025-01-01", RateSpot)
	require.Equal(t, ledgererr.CodeRateNotFound, ledgererr.CodeOf(err))
}

func TestRevalueLossOnRateDrop(t *testing.T) {
	ctx := context.Background()
	svc, vouchers, db := newFXService(t)
	postForeignSale(t, vouchers)

	require.NoError(t, svc.SetRate(ctx, "USD", "2025-01-31",
		decimal.NewFromFloat(6.8), RateClosing, ""))
	result, err := svc.Revalue(ctx, "2025-01")
	require.NoError(t, err)
	require.Equal(t, "-20", result.Deltas["1122"])

	engine := vouchers.Balances()
	closing, err := engine.AccountClosing(ctx, db.Handle(), "1122", "2025-01")
	require.NoError(t, err)
	require.True(t, closing.Equal(decimal.NewFromInt(680)), closing.String())

	// 6061 is credit-natured; a debit (loss) shows as a negative natural balance.
	pnl, err := engine.AccountClosing(ctx, db.Handle(), "6061", "2025-01")
	require.NoError(t, err)
	require.True(t, pnl.Equal(decimal.NewFromInt(-20)), pnl.String())
}

func TestCurrencyNotFound(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newFXService(t)
	_, err := svc.GetCurrency(ctx, "JPY")
	require.Equal(t, ledgererr.CodeCurrencyNotFound, ledgererr.CodeOf(err))

	err = svc.SetRate(ctx, "JPY", "2025-01-01", decimal.NewFromFloat(0.05), RateSpot, "")
	require.Equal(t, ledgererr.CodeCurrencyNotFound, ledgererr.CodeOf(err))
}
