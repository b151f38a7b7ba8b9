package audit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/coalton-labs/ledgerd/internal/storage/ledgerdb"
)

func newTrail(t *testing.T) *Trail {
	t.Helper()
	ctx := context.Background()
	db, err := ledgerdb.Open(ctx, ledgerdb.DefaultConfig(":memory:"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(db, zap.NewNop())
}

func TestRecordAndRecent(t *testing.T) {
	ctx := context.Background()
	trail := newTrail(t)

	first := trail.Record(ctx, "voucher.confirm", "voucher", "42", map[string]any{"voucher_no": "V20250115001"})
	second := trail.Record(ctx, "period.close", "period", "2025-01", nil)
	require.NotEmpty(t, first)
	require.NotEmpty(t, second)
	require.NotEqual(t, first, second)

	entries, err := trail.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	// Newest first.
	require.Equal(t, "period.close", entries[0].Action)
	require.Equal(t, "2025-01", entries[0].TargetID)
	require.Nil(t, entries[0].Detail)
	require.Equal(t, "voucher.confirm", entries[1].Action)
	require.Equal(t, "V20250115001", entries[1].Detail["voucher_no"])
	require.NotEmpty(t, entries[1].CreatedAt)
}

func TestRecentLimit(t *testing.T) {
	ctx := context.Background()
	trail := newTrail(t)

	for i := 0; i < 5; i++ {
		trail.Record(ctx, "voucher.record", "voucher", "", nil)
	}
	entries, err := trail.Recent(ctx, 3)
	require.NoError(t, err)
	require.Len(t, entries, 3)
}
