package coa

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/coalton-labs/ledgerd/internal/ledgererr"
	"github.com/coalton-labs/ledgerd/internal/storage/ledgerdb"
)

func newSeededStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	db, err := ledgerdb.Open(ctx, ledgerdb.DefaultConfig(":memory:"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	store := NewStore(db.Handle())
	require.NoError(t, store.Seed(ctx))
	return store
}

func TestSeedChartOfAccounts(t *testing.T) {
	ctx := context.Background()
	store := newSeededStore(t)

	cash, err := store.GetAccount(ctx, "1001")
	require.NoError(t, err)
	require.Equal(t, TypeAsset, cash.Type)
	require.Equal(t, DirectionDebit, cash.Direction)
	require.True(t, cash.Enabled)
	require.True(t, cash.System)

	// Contra assets are credit-natured despite their asset type.
	provision, err := store.GetAccount(ctx, "1231")
	require.NoError(t, err)
	require.Equal(t, TypeAsset, provision.Type)
	require.Equal(t, DirectionCredit, provision.Direction)

	revenue, err := store.ListAccounts(ctx, TypeRevenue)
	require.NoError(t, err)
	require.NotEmpty(t, revenue)
	for _, a := range revenue {
		require.Equal(t, TypeRevenue, a.Type)
	}

	// Seeding twice must not duplicate or clobber.
	require.NoError(t, store.Seed(ctx))
	all, err := store.ListAccounts(ctx, "")
	require.NoError(t, err)
	codes := map[string]int{}
	for _, a := range all {
		codes[a.Code]++
	}
	require.Equal(t, 1, codes["1001"])
}

func TestCreateAccountUnderParent(t *testing.T) {
	ctx := context.Background()
	store := newSeededStore(t)

	err := store.CreateAccount(ctx, Account{
		Code: "100201", Name: "Operating Account CNY", Type: TypeAsset,
		Direction: DirectionDebit, ParentCode: "1002", Enabled: true,
	})
	require.NoError(t, err)

	child, err := store.GetAccount(ctx, "100201")
	require.NoError(t, err)
	require.Equal(t, "1002", child.ParentCode)
	require.Equal(t, 2, child.Level)

	// A child may not cross account types.
	err = store.CreateAccount(ctx, Account{
		Code: "100202", Name: "Mismatch", Type: TypeRevenue,
		Direction: DirectionCredit, ParentCode: "1002", Enabled: true,
	})
	require.Equal(t, ledgererr.CodeInvalidInput, ledgererr.CodeOf(err))

	err = store.CreateAccount(ctx, Account{
		Code: "9999", Name: "Mystery", Type: "contingent", Direction: DirectionDebit,
	})
	require.Equal(t, ledgererr.CodeInvalidInput, ledgererr.CodeOf(err))
}

func TestDisableInsteadOfDelete(t *testing.T) {
	ctx := context.Background()
	store := newSeededStore(t)

	require.NoError(t, store.SetAccountEnabled(ctx, "1002", false))
	_, err := store.RequireEnabled(ctx, "1002")
	require.Equal(t, ledgererr.CodeAccountDisabled, ledgererr.CodeOf(err))

	// Still fetchable for history.
	a, err := store.GetAccount(ctx, "1002")
	require.NoError(t, err)
	require.False(t, a.Enabled)

	require.NoError(t, store.SetAccountEnabled(ctx, "1002", true))
	_, err = store.RequireEnabled(ctx, "1002")
	require.NoError(t, err)

	err = store.SetAccountEnabled(ctx, "0000", false)
	require.Equal(t, ledgererr.CodeAccountNotFound, ledgererr.CodeOf(err))
}

func TestDimensionLifecycle(t *testing.T) {
	ctx := context.Background()
	store := newSeededStore(t)

	id, err := store.CreateDimension(ctx, Dimension{Type: DimDepartment, Code: "D1", Name: "Assembly"})
	require.NoError(t, err)
	require.Positive(t, id)

	found, err := store.FindDimension(ctx, DimDepartment, "D1")
	require.NoError(t, err)
	require.Equal(t, id, found)

	_, err = store.FindDimension(ctx, DimDepartment, "D9")
	require.Equal(t, ledgererr.CodeDimensionNotFound, ledgererr.CodeOf(err))

	_, err = store.CreateDimension(ctx, Dimension{Type: "galaxy", Code: "G1", Name: "Milky Way"})
	require.Equal(t, ledgererr.CodeInvalidInput, ledgererr.CodeOf(err))
}

func TestValidateDimensions(t *testing.T) {
	ctx := context.Background()
	store := newSeededStore(t)

	dept, err := store.CreateDimension(ctx, Dimension{Type: DimDepartment, Code: "D1", Name: "Assembly"})
	require.NoError(t, err)

	// Zero ids are the absent sentinel and always pass.
	require.NoError(t, store.ValidateDimensions(ctx, DimensionSet{}))
	require.NoError(t, store.ValidateDimensions(ctx, DimensionSet{DeptID: dept}))

	err = store.ValidateDimensions(ctx, DimensionSet{DeptID: 404})
	require.Equal(t, ledgererr.CodeDimensionNotFound, ledgererr.CodeOf(err))

	// A department id used in the customer slot is a type mismatch.
	err = store.ValidateDimensions(ctx, DimensionSet{CustomerID: dept})
	require.Equal(t, ledgererr.CodeDimensionNotFound, ledgererr.CodeOf(err))
}

func TestMatchPrefix(t *testing.T) {
	require.True(t, MatchPrefix("100201", []string{"1002"}))
	require.True(t, MatchPrefix("6601", []string{"64", "66"}))
	require.False(t, MatchPrefix("2202", []string{"1", "4"}))
	require.False(t, MatchPrefix("1001", nil))
}
