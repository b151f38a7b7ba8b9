package model

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/coalton-labs/ledgerd/internal/ledgererr"
)

func mustDriver(t *testing.T, src string) Driver {
	t.Helper()
	var d Driver
	require.NoError(t, json.Unmarshal([]byte(src), &d))
	return d
}

const baseDriver = `{
	"revenue": 20000, "cost": 12000, "other_expense": 2000,
	"opening_cash": 5000, "opening_debt": 4000,
	"opening_equity": 6000, "opening_retained": 1000,
	"fixed_asset_cost": 10000, "fixed_asset_life": 5,
	"interest_rate": 0.05, "tax_rate": 0.25
}`

func amt(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestOneShotCalc(t *testing.T) {
	d := mustDriver(t, baseDriver)
	r, err := Calc(d, 0, decimal.Zero)
	require.NoError(t, err)

	require.True(t, r.Depreciation.Equal(amt("2000")), r.Depreciation.String())
	require.True(t, r.Interest.Equal(amt("200")), r.Interest.String())
	require.True(t, r.EBIT.Equal(amt("4000")), r.EBIT.String())
	require.True(t, r.EBT.Equal(amt("3800")), r.EBT.String())
	require.True(t, r.Tax.Equal(amt("950")), r.Tax.String())
	require.True(t, r.NetIncome.Equal(amt("2850")), r.NetIncome.String())
	require.True(t, r.IsBalanced, "balance_diff %s", r.BalanceDiff)
	require.True(t, r.AutoAdjustment.IsPositive(), "the single plug closes the gap")
	require.True(t, r.Converged)
	require.Zero(t, r.Iterations)
}

func TestIterationRefinesInterestFromAverageDebt(t *testing.T) {
	d := mustDriver(t, baseDriver)
	require.NoError(t, d.Set("min_cash", amt("8000")))

	r, err := Calc(d, 5, decimal.Zero)
	require.NoError(t, err)
	require.True(t, r.Converged)
	require.Equal(t, 5, r.Iterations)

	require.True(t, r.NewBorrowing.IsPositive(), r.NewBorrowing.String())
	require.False(t, r.Interest.Equal(amt("200")),
		"interest must move off the opening-debt figure once debt grows")
	require.True(t, r.Interest.Equal(amt("407.64")), r.Interest.String())
	require.True(t, r.NewBorrowing.Equal(amt("8305.73")), r.NewBorrowing.String())
	require.True(t, r.ClosingCash.GreaterThanOrEqual(d.MinCash))
}

func TestBorrowingDeltasShrink(t *testing.T) {
	d := mustDriver(t, baseDriver)
	require.NoError(t, d.Set("min_cash", amt("8000")))

	var borrowings []decimal.Decimal
	for _, budget := range []int{1, 2, 3, 4} {
		r, err := Calc(d, budget, decimal.Zero)
		if err != nil {
			require.Equal(t, ledgererr.CodeIterationDiverged, ledgererr.CodeOf(err))
		}
		borrowings = append(borrowings, r.NewBorrowing)
	}
	prev := decimal.Decimal{}
	for i := 1; i < len(borrowings); i++ {
		delta := borrowings[i].Sub(borrowings[i-1]).Abs()
		if i > 1 {
			require.True(t, delta.LessThan(prev),
				"delta %s at step %d should shrink from %s", delta, i, prev)
		}
		prev = delta
	}
}

func TestDivergentRunWarnsAndReturnsLastPass(t *testing.T) {
	d := mustDriver(t, `{
		"revenue": 0, "cost": 0, "opening_cash": 0,
		"opening_debt": 100, "interest_rate": 1.0, "min_cash": 1000
	}`)

	r, err := Calc(d, 3, decimal.Zero)
	require.Error(t, err)
	require.Equal(t, ledgererr.CodeIterationDiverged, ledgererr.CodeOf(err))
	require.NotNil(t, r, "a divergent run still reports its last pass")
	require.False(t, r.Converged)
	require.Equal(t, 3, r.Iterations)
}

func TestDriverValidation(t *testing.T) {
	var d Driver
	require.NoError(t, d.Set("revenue", amt("100")))
	_, err := Calc(d, 0, decimal.Zero)
	require.Equal(t, ledgererr.CodeInvalidInput, ledgererr.CodeOf(err))

	_, err = Calc(mustDriver(t, `{"revenue": 1, "cost": 0, "opening_cash": 0}`), 0, decimal.Zero)
	require.NoError(t, err)
}

func TestDriverKeepsUnknownFieldsAndRejectsBadValues(t *testing.T) {
	d := mustDriver(t, `{"revenue": 10, "cost": 5, "opening_cash": 0, "note": "april actuals"}`)
	require.Equal(t, "april actuals", d.Extra["note"])

	r, err := Calc(d, 0, decimal.Zero)
	require.NoError(t, err)
	out, err := json.Marshal(r)
	require.NoError(t, err)
	var echoed map[string]any
	require.NoError(t, json.Unmarshal(out, &echoed))
	require.Equal(t, "april actuals", echoed["note"])
	require.Equal(t, true, echoed["is_balanced"])

	var bad Driver
	err = json.Unmarshal([]byte(`{"revenue": "lots"}`), &bad)
	require.Equal(t, ledgererr.CodeInvalidInput, ledgererr.CodeOf(err))
}

func TestDiagnoseExplainsEveryDelta(t *testing.T) {
	d := mustDriver(t, baseDriver)
	diag, err := Diagnose(d, 0, decimal.Zero)
	require.NoError(t, err)
	require.NotEmpty(t, diag.Rows)

	lines := map[string]DiagnoseRow{}
	for _, row := range diag.Rows {
		lines[row.Line] = row
	}
	require.Contains(t, lines, "cash")
	require.Contains(t, lines, "debt")
	require.Contains(t, lines, "equity")
	require.True(t, lines["debt"].Delta.Equal(lines["debt"].Explained))
	require.True(t, lines["fixed_assets_net"].Delta.Equal(lines["fixed_assets_net"].Explained))

	// Opening accumulated depreciation moves the opening net level, not
	// the period flow; the row must stay fully explained.
	require.NoError(t, d.Set("accum_depreciation", amt("3000")))
	diag, err = Diagnose(d, 0, decimal.Zero)
	require.NoError(t, err)
	for _, row := range diag.Rows {
		if row.Line != "fixed_assets_net" {
			continue
		}
		require.True(t, row.Delta.Equal(amt("-2000")), row.Delta.String())
		require.True(t, row.Explained.Equal(amt("-2000")), row.Explained.String())
	}
	for _, u := range diag.Unmatched {
		require.NotContains(t, u, "fixed_assets_net")
	}
}

func TestScenarioSweep(t *testing.T) {
	d := mustDriver(t, baseDriver)
	rows, err := Scenario(d, "tax_rate",
		[]decimal.Decimal{amt("0"), amt("0.25"), amt("0.5")}, 0, decimal.Zero)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	// Net income falls as the swept tax rate rises.
	require.True(t, rows[0].Result.NetIncome.GreaterThan(rows[1].Result.NetIncome))
	require.True(t, rows[1].Result.NetIncome.GreaterThan(rows[2].Result.NetIncome))
	require.True(t, rows[1].Result.NetIncome.Equal(amt("2850")))

	_, err = Scenario(d, "no_such_field", []decimal.Decimal{amt("1")}, 0, decimal.Zero)
	require.Equal(t, ledgererr.CodeInvalidInput, ledgererr.CodeOf(err))
}

func TestExplainBuildsTreeAndBreaksCycles(t *testing.T) {
	d := mustDriver(t, baseDriver)
	tree, err := Explain(d, "net_income", 0, decimal.Zero)
	require.NoError(t, err)
	require.Equal(t, "net_income", tree.Field)
	require.True(t, tree.Value.Equal(amt("2850")))
	require.Equal(t, "ebt - tax", tree.Formula)
	require.Len(t, tree.Inputs, 2)

	// interest -> closing_debt -> new_borrowing -> cash_before_financing
	// -> interest is a genuine cycle; the tree must still terminate.
	tree, err = Explain(d, "interest", 3, decimal.Zero)
	require.NoError(t, err)
	require.NotEmpty(t, tree.Inputs)

	_, err = Explain(d, "no_such_field", 0, decimal.Zero)
	require.Equal(t, ledgererr.CodeInvalidInput, ledgererr.CodeOf(err))
}

func TestCheckFlagsSuspectInputs(t *testing.T) {
	d := mustDriver(t, baseDriver)
	report := Check(d)
	require.True(t, report.OK)
	require.Empty(t, report.Errors)
	require.Empty(t, report.Warnings)

	require.NoError(t, d.Set("interest_rate", amt("0.3")))
	require.NoError(t, d.Set("tax_rate", amt("0.6")))
	report = Check(d)
	require.True(t, report.OK)
	require.Len(t, report.Warnings, 2)

	require.NoError(t, d.Set("interest_rate", amt("-0.05")))
	report = Check(d)
	require.False(t, report.OK)
	require.Contains(t, report.Errors[0], "interest_rate")

	// A missing required field is an error, not a warning.
	var empty Driver
	require.NoError(t, empty.Set("revenue", amt("100")))
	report = Check(empty)
	require.False(t, report.OK)
}
