package voucher

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/coalton-labs/ledgerd/internal/core/balance"
	"github.com/coalton-labs/ledgerd/internal/core/coa"
	"github.com/coalton-labs/ledgerd/internal/core/period"
	"github.com/coalton-labs/ledgerd/internal/ledgererr"
	"github.com/coalton-labs/ledgerd/internal/storage/ledgerdb"
)

func newTestService(t *testing.T) (*Service, *ledgerdb.DB) {
	t.Helper()
	ctx := context.Background()
	db, err := ledgerdb.Open(ctx, ledgerdb.DefaultConfig(":memory:"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, coa.NewStore(db.Handle()).Seed(ctx))
	return NewService(db, zap.NewNop()), db
}

func simpleRequest(date string, amount int64) Request {
	v := decimal.NewFromInt(amount)
	return Request{
		Date:        date,
		Description: "cash transfer",
		Entries: []EntryRequest{
			{AccountCode: "1001", Debit: v},
			{AccountCode: "1002", Credit: v},
		},
	}
}

func TestSubmitConfirmPostsBalances(t *testing.T) {
	ctx := context.Background()
	svc, db := newTestService(t)

	v, err := svc.Submit(ctx, simpleRequest("2025-01-15", 1000))
	require.NoError(t, err)
	require.Equal(t, StatusDraft, v.Status)
	require.Empty(t, v.VoucherNo)

	_, err = svc.Review(ctx, v.ID)
	require.NoError(t, err)
	confirmed, err := svc.Confirm(ctx, v.ID)
	require.NoError(t, err)
	require.Equal(t, StatusConfirmed, confirmed.Status)
	require.Equal(t, "V20250115001", confirmed.VoucherNo)

	closing1001, err := svc.Balances().AccountClosing(ctx, db.Handle(), "1001", "2025-01")
	require.NoError(t, err)
	require.True(t, closing1001.Equal(decimal.NewFromInt(1000)), closing1001.String())

	// 1002 is debit-natured; a credit shows as a negative natural balance.
	closing1002, err := svc.Balances().AccountClosing(ctx, db.Handle(), "1002", "2025-01")
	require.NoError(t, err)
	require.True(t, closing1002.Equal(decimal.NewFromInt(-1000)), closing1002.String())
}

func TestVoucherNumbersIncrementPerDay(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	first, err := svc.SubmitAuto(ctx, simpleRequest("2025-01-15", 100))
	require.NoError(t, err)
	second, err := svc.SubmitAuto(ctx, simpleRequest("2025-01-15", 200))
	require.NoError(t, err)
	other, err := svc.SubmitAuto(ctx, simpleRequest("2025-01-16", 300))
	require.NoError(t, err)

	require.Equal(t, "V20250115001", first.VoucherNo)
	require.Equal(t, "V20250115002", second.VoucherNo)
	require.Equal(t, "V20250116001", other.VoucherNo)
}

func TestUnbalancedRejected(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	req := Request{
		Date: "2025-01-15",
		Entries: []EntryRequest{
			{AccountCode: "1001", Debit: decimal.NewFromInt(1000)},
			{AccountCode: "1002", Credit: decimal.NewFromFloat(999.98)},
		},
	}
	_, err := svc.Submit(ctx, req)
	require.Error(t, err)
	require.Equal(t, ledgererr.CodeNotBalanced, ledgererr.CodeOf(err))
}

func TestToleranceAdmitsSubCentDrift(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	req := Request{
		Date: "2025-01-15",
		Entries: []EntryRequest{
			{AccountCode: "1001", Debit: decimal.NewFromFloat(100.00)},
			{AccountCode: "1002", Credit: decimal.NewFromFloat(99.99)},
		},
	}
	_, err := svc.Submit(ctx, req)
	require.NoError(t, err)
}

func TestVoidRestoresBalancesAndLinksPair(t *testing.T) {
	ctx := context.Background()
	svc, db := newTestService(t)

	v, err := svc.SubmitAuto(ctx, simpleRequest("2025-01-15", 1000))
	require.NoError(t, err)

	reversal, err := svc.Void(ctx, v.ID, "entry error")
	require.NoError(t, err)
	require.Equal(t, v.ID, reversal.VoidOf)
	require.Equal(t, StatusConfirmed, reversal.Status)

	// Debits and credits swap on the reversal.
	require.True(t, reversal.Entries[0].Credit.Equal(decimal.NewFromInt(1000)))
	require.True(t, reversal.Entries[1].Debit.Equal(decimal.NewFromInt(1000)))

	for _, code := range []string{"1001", "1002"} {
		closing, err := svc.Balances().AccountClosing(ctx, db.Handle(), code, "2025-01")
		require.NoError(t, err)
		require.True(t, closing.IsZero(), "account %s closing %s", code, closing)
	}

	original, err := svc.Get(ctx, v.ID)
	require.NoError(t, err)
	require.Equal(t, StatusVoided, original.Status)
	require.Equal(t, "entry error", original.VoidReason)

	var links int
	row := db.QueryRow(ctx, `SELECT COUNT(*) FROM void_vouchers
		WHERE original_voucher_id = ? AND void_voucher_id = ?`, v.ID, reversal.ID)
	require.NoError(t, row.Scan(&links))
	require.Equal(t, 1, links)
}

func TestVoidRequiresConfirmed(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	v, err := svc.Submit(ctx, simpleRequest("2025-01-15", 100))
	require.NoError(t, err)
	_, err = svc.Void(ctx, v.ID, "too early")
	require.Equal(t, ledgererr.CodeVoidConfirmed, ledgererr.CodeOf(err))
}

func TestIdempotentSubmitByEventID(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	req := simpleRequest("2025-01-15", 500)
	req.SourceEventID = "evt-001"
	first, err := svc.SubmitAuto(ctx, req)
	require.NoError(t, err)

	again, err := svc.SubmitAuto(ctx, req)
	require.NoError(t, err)
	require.Equal(t, first.ID, again.ID)

	all, err := svc.Lookup(ctx, Filter{Period: "2025-01"})
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestDeleteOnlyDrafts(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	draft, err := svc.Submit(ctx, simpleRequest("2025-01-15", 100))
	require.NoError(t, err)
	require.NoError(t, svc.Delete(ctx, draft.ID))
	_, err = svc.Get(ctx, draft.ID)
	require.Equal(t, ledgererr.CodeVoucherNotFound, ledgererr.CodeOf(err))

	confirmed, err := svc.SubmitAuto(ctx, simpleRequest("2025-01-15", 100))
	require.NoError(t, err)
	err = svc.Delete(ctx, confirmed.ID)
	require.Equal(t, ledgererr.CodeVoucherNotDraft, ledgererr.CodeOf(err))
}

func TestConfirmRequiresReview(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	v, err := svc.Submit(ctx, simpleRequest("2025-01-15", 100))
	require.NoError(t, err)
	_, err = svc.Confirm(ctx, v.ID)
	require.Equal(t, ledgererr.CodeVoucherNotReviewed, ledgererr.CodeOf(err))
}

func TestClosedPeriodRejectsSubmit(t *testing.T) {
	ctx := context.Background()
	svc, db := newTestService(t)

	periods := period.NewStore(db.Handle())
	_, err := periods.Ensure(ctx, "2025-01")
	require.NoError(t, err)
	require.NoError(t, periods.SetStatus(ctx, "2025-01", period.StatusClosed))

	_, err = svc.Submit(ctx, simpleRequest("2025-01-15", 100))
	require.Equal(t, ledgererr.CodePeriodClosed, ledgererr.CodeOf(err))
}

func TestAdjustmentPeriodAdmitsOnlyAdjustments(t *testing.T) {
	ctx := context.Background()
	svc, db := newTestService(t)

	periods := period.NewStore(db.Handle())
	_, err := periods.Ensure(ctx, "2025-01")
	require.NoError(t, err)
	require.NoError(t, periods.SetStatus(ctx, "2025-01", period.StatusAdjustment))

	_, err = svc.Submit(ctx, simpleRequest("2025-01-15", 100))
	require.Equal(t, ledgererr.CodePeriodAdjustmentOnly, ledgererr.CodeOf(err))

	adj := simpleRequest("2025-01-15", 100)
	adj.EntryType = EntryTypeAdjustment
	_, err = svc.Submit(ctx, adj)
	require.NoError(t, err)
}

func TestDisabledAccountRejected(t *testing.T) {
	ctx := context.Background()
	svc, db := newTestService(t)

	accounts := coa.NewStore(db.Handle())
	require.NoError(t, accounts.SetAccountEnabled(ctx, "1002", false))
	_, err := svc.Submit(ctx, simpleRequest("2025-01-15", 100))
	require.Equal(t, ledgererr.CodeAccountDisabled, ledgererr.CodeOf(err))
}

func TestVoidSymmetryAcrossDimensions(t *testing.T) {
	ctx := context.Background()
	svc, db := newTestService(t)

	accounts := coa.NewStore(db.Handle())
	deptID, err := accounts.CreateDimension(ctx, coa.Dimension{Type: coa.DimDepartment, Code: "D1", Name: "Sales"})
	require.NoError(t, err)

	req := Request{
		Date: "2025-01-20",
		Entries: []EntryRequest{
			{AccountCode: "6601", Debit: decimal.NewFromInt(300), Dims: coa.DimensionSet{DeptID: deptID}},
			{AccountCode: "1001", Credit: decimal.NewFromInt(300)},
		},
	}
	v, err := svc.SubmitAuto(ctx, req)
	require.NoError(t, err)
	_, err = svc.Void(ctx, v.ID, "wrong department")
	require.NoError(t, err)

	engine := svc.Balances()
	row, err := engine.Get(ctx, db.Handle(), balance.Key{
		AccountCode: "6601", Period: "2025-01", Dims: coa.DimensionSet{DeptID: deptID},
	})
	require.NoError(t, err)
	require.NotNil(t, row)
	require.True(t, row.Closing.IsZero())
}
