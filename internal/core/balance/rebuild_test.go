package balance_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/coalton-labs/ledgerd/internal/core/balance"
	"github.com/coalton-labs/ledgerd/internal/core/coa"
	"github.com/coalton-labs/ledgerd/internal/core/voucher"
	"github.com/coalton-labs/ledgerd/internal/storage/ledgerdb"
)

func newLedger(t *testing.T) (*ledgerdb.DB, *voucher.Service, *balance.Engine) {
	t.Helper()
	ctx := context.Background()
	db, err := ledgerdb.Open(ctx, ledgerdb.DefaultConfig(":memory:"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, coa.NewStore(db.Handle()).Seed(ctx))
	svc := voucher.NewService(db, zap.NewNop())
	return db, svc, svc.Balances()
}

func post(t *testing.T, svc *voucher.Service, date, debitAcct, creditAcct string, amount int64) {
	t.Helper()
	v := decimal.NewFromInt(amount)
	_, err := svc.SubmitAuto(context.Background(), voucher.Request{
		Date: date,
		Entries: []voucher.EntryRequest{
			{AccountCode: debitAcct, Debit: v},
			{AccountCode: creditAcct, Credit: v},
		},
	})
	require.NoError(t, err)
}

func TestRolloverChainsOpenings(t *testing.T) {
	ctx := context.Background()
	db, svc, engine := newLedger(t)

	post(t, svc, "2025-01-10", "1001", "4001", 5000)
	require.NoError(t, engine.Rollover(ctx, db.Handle(), "2025-01"))

	row, err := engine.Get(ctx, db.Handle(), balance.Key{AccountCode: "1001", Period: "2025-02"})
	require.NoError(t, err)
	require.NotNil(t, row)
	require.True(t, row.Opening.Equal(decimal.NewFromInt(5000)), row.Opening.String())
	require.True(t, row.Closing.Equal(decimal.NewFromInt(5000)))
	require.True(t, row.Debit.IsZero())

	// Activity in the next period starts from the rolled opening.
	post(t, svc, "2025-02-05", "1001", "4001", 1000)
	row, err = engine.Get(ctx, db.Handle(), balance.Key{AccountCode: "1001", Period: "2025-02"})
	require.NoError(t, err)
	require.True(t, row.Closing.Equal(decimal.NewFromInt(6000)), row.Closing.String())
}

func TestRolloverIsIdempotent(t *testing.T) {
	ctx := context.Background()
	db, svc, engine := newLedger(t)

	post(t, svc, "2025-01-10", "1001", "4001", 100)
	require.NoError(t, engine.Rollover(ctx, db.Handle(), "2025-01"))
	require.NoError(t, engine.Rollover(ctx, db.Handle(), "2025-01"))

	var rows int
	r := db.QueryRow(ctx, `SELECT COUNT(*) FROM balances WHERE period = '2025-02'`)
	require.NoError(t, r.Scan(&rows))
	require.Equal(t, 2, rows)
}

func TestVerifyCleanLedger(t *testing.T) {
	ctx := context.Background()
	db, svc, engine := newLedger(t)

	post(t, svc, "2025-01-10", "1001", "4001", 5000)
	post(t, svc, "2025-01-12", "1403", "2202", 1200)

	rpt, err := engine.Verify(ctx, db.Handle())
	require.NoError(t, err)
	require.True(t, rpt.OK(), "mismatches: %+v", rpt.Mismatches)
	require.NoError(t, rpt.Err())
}

func TestVerifyFlagsTampering(t *testing.T) {
	ctx := context.Background()
	db, svc, engine := newLedger(t)

	post(t, svc, "2025-01-10", "1001", "4001", 5000)
	_, err := db.Exec(ctx, `UPDATE balances SET closing_balance = 4999 WHERE account_code = '1001'`)
	require.NoError(t, err)

	rpt, err := engine.Verify(ctx, db.Handle())
	require.NoError(t, err)
	require.False(t, rpt.OK())
	require.Error(t, rpt.Err())
}

func TestRebuildReplaysToIdenticalState(t *testing.T) {
	ctx := context.Background()
	db, svc, engine := newLedger(t)

	post(t, svc, "2025-01-10", "1001", "4001", 5000)
	post(t, svc, "2025-01-12", "1403", "2202", 1200)
	post(t, svc, "2025-02-03", "6601", "1001", 300)

	// Corrupt the index, then rebuild from the voucher log.
	_, err := db.Exec(ctx, `UPDATE balances SET closing_balance = closing_balance + 7`)
	require.NoError(t, err)

	require.NoError(t, db.WithTx(ctx, func(tx *sql.Tx) error {
		return engine.Rebuild(ctx, tx)
	}))

	rpt, err := engine.Verify(ctx, db.Handle())
	require.NoError(t, err)
	require.True(t, rpt.OK(), "mismatches after rebuild: %+v", rpt.Mismatches)

	closing, err := engine.AccountClosing(ctx, db.Handle(), "1001", "2025-01")
	require.NoError(t, err)
	require.True(t, closing.Equal(decimal.NewFromInt(5000)))
}
