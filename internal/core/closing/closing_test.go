package closing

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/coalton-labs/ledgerd/internal/core/balance"
	"github.com/coalton-labs/ledgerd/internal/core/coa"
	"github.com/coalton-labs/ledgerd/internal/core/period"
	"github.com/coalton-labs/ledgerd/internal/core/voucher"
	"github.com/coalton-labs/ledgerd/internal/ledgererr"
	"github.com/coalton-labs/ledgerd/internal/storage/ledgerdb"
)

func newEngine(t *testing.T) (*Engine, *voucher.Service, *ledgerdb.DB) {
	t.Helper()
	ctx := context.Background()
	db, err := ledgerdb.Open(ctx, ledgerdb.DefaultConfig(":memory:"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, coa.NewStore(db.Handle()).Seed(ctx))
	vouchers := voucher.NewService(db, zap.NewNop())
	return NewEngine(db, vouchers, zap.NewNop()), vouchers, db
}

func plTemplate(t *testing.T, e *Engine) {
	t.Helper()
	require.NoError(t, e.SaveTemplate(context.Background(), "pl-to-retained",
		"P&L to retained earnings", Rule{
			AccountTypes: []string{coa.TypeRevenue, coa.TypeExpense},
			Target:       "4104",
			Description:  "Close P&L to retained earnings",
		}))
}

func seedPL(t *testing.T, vouchers *voucher.Service) {
	t.Helper()
	ctx := context.Background()
	_, err := vouchers.SubmitAuto(ctx, voucher.Request{
		Date: "2025-01-10",
		Entries: []voucher.EntryRequest{
			{AccountCode: "1122", Debit: decimal.NewFromInt(50000)},
			{AccountCode: "6001", Credit: decimal.NewFromInt(50000)},
		},
	})
	require.NoError(t, err)
	_, err = vouchers.SubmitAuto(ctx, voucher.Request{
		Date: "2025-01-20",
		Entries: []voucher.EntryRequest{
			{AccountCode: "6401", Debit: decimal.NewFromInt(30000)},
			{AccountCode: "1001", Credit: decimal.NewFromInt(30000)},
		},
	})
	require.NoError(t, err)
}

func TestCloseRollsPLIntoRetainedEarnings(t *testing.T) {
	ctx := context.Background()
	engine, vouchers, db := newEngine(t)
	plTemplate(t, engine)
	seedPL(t, vouchers)

	result, err := engine.Close(ctx, "2025-01")
	require.NoError(t, err)
	require.Len(t, result.ClosingVouchers, 1)

	closingVouchers, err := vouchers.Lookup(ctx, voucher.Filter{VoucherNo: result.ClosingVouchers[0]})
	require.NoError(t, err)
	require.Len(t, closingVouchers, 1)
	cv := closingVouchers[0]

	byAccount := map[string]voucher.Entry{}
	for _, e := range cv.Entries {
		byAccount[e.AccountCode] = e
	}
	require.True(t, byAccount["6001"].Debit.Equal(decimal.NewFromInt(50000)))
	require.True(t, byAccount["6401"].Credit.Equal(decimal.NewFromInt(30000)))
	require.True(t, byAccount["4104"].Credit.Equal(decimal.NewFromInt(20000)))

	balances := vouchers.Balances()
	for _, code := range []string{"6001", "6401"} {
		closing, err := balances.AccountClosing(ctx, db.Handle(), code, "2025-01")
		require.NoError(t, err)
		require.True(t, closing.IsZero(), "account %s should be flat after close", code)
	}

	next, err := balances.Get(ctx, db.Handle(), balance.Key{AccountCode: "4104", Period: "2025-02"})
	require.NoError(t, err)
	require.NotNil(t, next)
	require.True(t, next.Opening.Equal(decimal.NewFromInt(20000)), next.Opening.String())

	per, err := period.NewStore(db.Handle()).Get(ctx, "2025-01")
	require.NoError(t, err)
	require.Equal(t, period.StatusClosed, per.Status)
}

func TestCloseTwiceRejected(t *testing.T) {
	ctx := context.Background()
	engine, vouchers, _ := newEngine(t)
	plTemplate(t, engine)
	seedPL(t, vouchers)

	_, err := engine.Close(ctx, "2025-01")
	require.NoError(t, err)
	_, err = engine.Close(ctx, "2025-01")
	require.Equal(t, ledgererr.CodePeriodClosed, ledgererr.CodeOf(err))
}

func TestClosedPeriodRejectsNewVouchers(t *testing.T) {
	ctx := context.Background()
	engine, vouchers, _ := newEngine(t)
	plTemplate(t, engine)
	seedPL(t, vouchers)

	_, err := engine.Close(ctx, "2025-01")
	require.NoError(t, err)

	_, err = vouchers.SubmitAuto(ctx, voucher.Request{
		Date: "2025-01-25",
		Entries: []voucher.EntryRequest{
			{AccountCode: "1001", Debit: decimal.NewFromInt(10)},
			{AccountCode: "1002", Credit: decimal.NewFromInt(10)},
		},
	})
	require.Equal(t, ledgererr.CodePeriodClosed, ledgererr.CodeOf(err))
}

func TestReopenReversesClosingAndReclose(t *testing.T) {
	ctx := context.Background()
	engine, vouchers, db := newEngine(t)
	plTemplate(t, engine)
	seedPL(t, vouchers)

	_, err := engine.Close(ctx, "2025-01")
	require.NoError(t, err)
	require.NoError(t, engine.Reopen(ctx, "2025-01"))

	per, err := period.NewStore(db.Handle()).Get(ctx, "2025-01")
	require.NoError(t, err)
	require.Equal(t, period.StatusOpen, per.Status)

	balances := vouchers.Balances()
	revenue, err := balances.AccountClosing(ctx, db.Handle(), "6001", "2025-01")
	require.NoError(t, err)
	require.True(t, revenue.Equal(decimal.NewFromInt(50000)),
		"revenue restored after reopen, got %s", revenue)

	retained, err := balances.AccountClosing(ctx, db.Handle(), "4104", "2025-01")
	require.NoError(t, err)
	require.True(t, retained.IsZero())

	// A corrected entry and a re-close land on the restored state.
	_, err = vouchers.SubmitAuto(ctx, voucher.Request{
		Date: "2025-01-28",
		Entries: []voucher.EntryRequest{
			{AccountCode: "6601", Debit: decimal.NewFromInt(5000)},
			{AccountCode: "1001", Credit: decimal.NewFromInt(5000)},
		},
	})
	require.NoError(t, err)

	_, err = engine.Close(ctx, "2025-01")
	require.NoError(t, err)
	retained, err = balances.AccountClosing(ctx, db.Handle(), "4104", "2025-01")
	require.NoError(t, err)
	require.True(t, retained.Equal(decimal.NewFromInt(15000)), retained.String())
}

func TestUnbalancedTemplateRejectedBeforeMutation(t *testing.T) {
	ctx := context.Background()
	engine, vouchers, db := newEngine(t)
	seedPL(t, vouchers)

	// A template that only sweeps revenue cannot balance against the
	// target line, because the target line itself offsets it; a template
	// with a disabled target must fail before any state changes.
	accounts := coa.NewStore(db.Handle())
	require.NoError(t, accounts.SetAccountEnabled(ctx, "4104", false))
	require.NoError(t, engine.SaveTemplate(ctx, "pl", "P&L", Rule{
		AccountTypes: []string{coa.TypeRevenue, coa.TypeExpense},
		Target:       "4104",
	}))

	_, err := engine.Close(ctx, "2025-01")
	require.Equal(t, ledgererr.CodeAccountDisabled, ledgererr.CodeOf(err))

	per, err := period.NewStore(db.Handle()).Get(ctx, "2025-01")
	require.NoError(t, err)
	require.Equal(t, period.StatusOpen, per.Status)

	vs, err := vouchers.Lookup(ctx, voucher.Filter{Period: "2025-01", Status: voucher.StatusConfirmed})
	require.NoError(t, err)
	require.Len(t, vs, 2, "no closing voucher may survive a failed close")
}

func TestReopenWithNextPeriodActivityCarriesDelta(t *testing.T) {
	ctx := context.Background()
	engine, vouchers, db := newEngine(t)
	plTemplate(t, engine)
	seedPL(t, vouchers)

	_, err := engine.Close(ctx, "2025-01")
	require.NoError(t, err)

	// February trades before January is reopened.
	_, err = vouchers.SubmitAuto(ctx, voucher.Request{
		Date: "2025-02-05",
		Entries: []voucher.EntryRequest{
			{AccountCode: "1122", Debit: decimal.NewFromInt(8000)},
			{AccountCode: "6001", Credit: decimal.NewFromInt(8000)},
		},
	})
	require.NoError(t, err)

	require.NoError(t, engine.Reopen(ctx, "2025-01"))

	balances := vouchers.Balances()
	revenue, err := balances.AccountClosing(ctx, db.Handle(), "6001", "2025-01")
	require.NoError(t, err)
	require.True(t, revenue.Equal(decimal.NewFromInt(50000)),
		"January revenue restored, got %s", revenue)

	// February's recorded openings stay as posted.
	feb, err := balances.Get(ctx, db.Handle(), balance.Key{AccountCode: "4104", Period: "2025-02"})
	require.NoError(t, err)
	require.NotNil(t, feb)
	require.True(t, feb.Opening.Equal(decimal.NewFromInt(20000)), feb.Opening.String())

	// The delta arrives as one adjustment carry voucher in February.
	carry := liveCarry(t, vouchers, "2025-02")
	require.Equal(t, voucher.EntryTypeAdjustment, carry.EntryType)
	byAccount := map[string]voucher.Entry{}
	for _, e := range carry.Entries {
		byAccount[e.AccountCode] = e
	}
	require.True(t, byAccount["6001"].Credit.Equal(decimal.NewFromInt(50000)))
	require.True(t, byAccount["6401"].Debit.Equal(decimal.NewFromInt(30000)))
	require.True(t, byAccount["4104"].Debit.Equal(decimal.NewFromInt(20000)))

	// February closings line up with the restored January closings.
	febRevenue, err := balances.AccountClosing(ctx, db.Handle(), "6001", "2025-02")
	require.NoError(t, err)
	require.True(t, febRevenue.Equal(decimal.NewFromInt(58000)), febRevenue.String())
}

func TestRecloseSupersedesCarry(t *testing.T) {
	ctx := context.Background()
	engine, vouchers, db := newEngine(t)
	plTemplate(t, engine)
	seedPL(t, vouchers)

	_, err := engine.Close(ctx, "2025-01")
	require.NoError(t, err)
	_, err = vouchers.SubmitAuto(ctx, voucher.Request{
		Date: "2025-02-05",
		Entries: []voucher.EntryRequest{
			{AccountCode: "1122", Debit: decimal.NewFromInt(8000)},
			{AccountCode: "6001", Credit: decimal.NewFromInt(8000)},
		},
	})
	require.NoError(t, err)
	require.NoError(t, engine.Reopen(ctx, "2025-01"))
	first := liveCarry(t, vouchers, "2025-02")

	// A January correction, then the period closes again.
	_, err = vouchers.SubmitAuto(ctx, voucher.Request{
		Date: "2025-01-28",
		Entries: []voucher.EntryRequest{
			{AccountCode: "6601", Debit: decimal.NewFromInt(5000)},
			{AccountCode: "1001", Credit: decimal.NewFromInt(5000)},
		},
	})
	require.NoError(t, err)
	_, err = engine.Close(ctx, "2025-01")
	require.NoError(t, err)

	// The stale carry is voided and a fresh one restates the correction.
	stale, err := vouchers.Get(ctx, first.ID)
	require.NoError(t, err)
	require.Equal(t, voucher.StatusVoided, stale.Status)

	second := liveCarry(t, vouchers, "2025-02")
	require.NotEqual(t, first.ID, second.ID)
	byAccount := map[string]voucher.Entry{}
	for _, e := range second.Entries {
		byAccount[e.AccountCode] = e
	}
	require.Len(t, second.Entries, 2)
	require.True(t, byAccount["4104"].Debit.Equal(decimal.NewFromInt(5000)))
	require.True(t, byAccount["1001"].Credit.Equal(decimal.NewFromInt(5000)))

	// February account closings match January's corrected closings plus
	// February's own activity.
	balances := vouchers.Balances()
	for _, tc := range []struct {
		code string
		want int64
	}{
		{"4104", 15000},
		{"1001", -35000},
		{"6001", 8000},
	} {
		closing, err := balances.AccountClosing(ctx, db.Handle(), tc.code, "2025-02")
		require.NoError(t, err)
		require.True(t, closing.Equal(decimal.NewFromInt(tc.want)),
			"account %s closed at %s", tc.code, closing)
	}
}

// liveCarry returns the single confirmed adjustment carry voucher of a
// period.
func liveCarry(t *testing.T, vouchers *voucher.Service, p string) *voucher.Voucher {
	t.Helper()
	all, err := vouchers.Lookup(context.Background(), voucher.Filter{Period: p, Status: voucher.StatusConfirmed})
	require.NoError(t, err)
	var carry *voucher.Voucher
	for _, v := range all {
		if v.SourceTemplate == carrySource {
			require.Nil(t, carry, "expected a single live carry voucher")
			carry = v
		}
	}
	require.NotNil(t, carry)
	return carry
}
