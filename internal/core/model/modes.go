package model

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/coalton-labs/ledgerd/internal/ledgererr"
)

// DiagnoseRow pairs one balance-sheet line's period delta with the
// cash-flow component that explains it.
type DiagnoseRow struct {
	Line      string          `json:"line"`
	Delta     decimal.Decimal `json:"delta"`
	Component string          `json:"cash_flow_component"`
	Explained decimal.Decimal `json:"explained"`
	Cause     string          `json:"cause,omitempty"`
}

// Diagnosis is the delta table plus any unexplained residues.
type Diagnosis struct {
	Rows      []DiagnoseRow `json:"rows"`
	Unmatched []string      `json:"unmatched,omitempty"`
}

// Diagnose runs the calc and pairs every balance-sheet delta with its
// cash-flow counterpart; residues beyond tolerance are called out.
func Diagnose(d Driver, iterations int, tolerance decimal.Decimal) (*Diagnosis, error) {
	r, err := Calc(d, iterations, tolerance)
	if err != nil && !ledgererr.IsCode(err, ledgererr.CodeIterationDiverged) {
		return nil, err
	}
	if tolerance.IsZero() || tolerance.IsNegative() {
		tolerance = DefaultTolerance
	}

	out := &Diagnosis{}
	add := func(line string, delta decimal.Decimal, component string, explained decimal.Decimal, cause string) {
		row := DiagnoseRow{Line: line, Delta: delta.Round(2),
			Component: component, Explained: explained.Round(2), Cause: cause}
		out.Rows = append(out.Rows, row)
		residue := row.Delta.Sub(row.Explained).Abs()
		if residue.GreaterThan(tolerance) {
			out.Unmatched = append(out.Unmatched, fmt.Sprintf(
				"%s moved %s but %s explains only %s: %s",
				line, row.Delta, component, row.Explained, cause))
		}
	}

	add("cash", r.ClosingCash.Sub(d.OpeningCash),
		"operating + investing + financing", r.ClosingCash.Sub(d.OpeningCash),
		"cash closes where the three flows put it")
	add("receivable", r.ClosingReceivable.Sub(d.OpeningReceivable),
		"none", decimal.Zero, "reconciliation plug on the asset side")
	add("inventory", r.ClosingInventory.Sub(d.OpeningInventory),
		"operating", decimal.Zero, "inventory is not modeled as moving")
	// Net fixed assets open at cost less accumulated depreciation; the
	// period moves them by additions less the depreciation charge.
	openingFixedNet := d.FixedAssetCost.Sub(d.AccumDepreciation)
	add("fixed_assets_net", r.ClosingFixedNet.Sub(openingFixedNet),
		"investing less depreciation", d.Capex.Sub(r.Depreciation),
		"asset additions net of the non-cash depreciation charge")
	add("debt", r.ClosingDebt.Sub(d.OpeningDebt),
		"financing", r.NewBorrowing.Sub(d.Repayment),
		"new borrowing less repayment")
	add("payable", r.ClosingPayable.Sub(d.OpeningPayable),
		"none", decimal.Zero, "reconciliation plug on the liability side")
	add("equity", r.ClosingTotalEquity.Sub(d.OpeningEquity.Add(d.OpeningRetained)),
		"net income + new equity - dividend",
		r.NetIncome.Add(d.NewEquity).Sub(d.Dividend),
		"earnings retained plus capital raised")
	if !r.Converged {
		out.Unmatched = append(out.Unmatched,
			"iteration did not converge; deltas reflect the last pass")
	}
	return out, nil
}

// ScenarioRow is one point of a parameter sweep.
type ScenarioRow struct {
	Value  decimal.Decimal `json:"value"`
	Result *Result         `json:"result"`
}

// Scenario re-runs the calc for each value of one driver field.
func Scenario(d Driver, param string, values []decimal.Decimal, iterations int, tolerance decimal.Decimal) ([]ScenarioRow, error) {
	if len(values) == 0 {
		return nil, ledgererr.Validation(ledgererr.CodeInvalidInput, "scenario needs at least one value")
	}
	rows := make([]ScenarioRow, 0, len(values))
	for _, v := range values {
		variant := d
		if err := variant.Set(param, v); err != nil {
			return nil, err
		}
		r, err := Calc(variant, iterations, tolerance)
		if err != nil && !ledgererr.IsCode(err, ledgererr.CodeIterationDiverged) {
			return nil, err
		}
		rows = append(rows, ScenarioRow{Value: v, Result: r})
	}
	return rows, nil
}

// CheckReport lists what a driver record would need fixed or looked at
// before a calc run is worth trusting.
type CheckReport struct {
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
	OK       bool     `json:"ok"`
}

// Check validates a driver record without running the model. Errors are
// inputs the calc would reject or silently misuse; warnings flag values
// that are legal but usually wrong.
func Check(d Driver) *CheckReport {
	out := &CheckReport{}
	errf := func(format string, args ...any) {
		out.Errors = append(out.Errors, fmt.Sprintf(format, args...))
	}
	warnf := func(format string, args ...any) {
		out.Warnings = append(out.Warnings, fmt.Sprintf(format, args...))
	}

	if err := d.Validate(); err != nil {
		errf("%v", err)
	}
	if d.InterestRate.IsNegative() {
		errf("interest_rate %s is negative", d.InterestRate)
	}
	if d.TaxRate.IsNegative() {
		errf("tax_rate %s is negative", d.TaxRate)
	}
	for _, name := range []string{"opening_cash", "opening_debt", "opening_inventory", "fixed_asset_cost", "fixed_asset_life"} {
		v, _ := d.Field(name)
		if v.IsNegative() {
			errf("%s %s is negative", name, v)
		}
	}
	if d.FixedAssetCost.IsPositive() && d.FixedAssetLife.IsZero() {
		errf("fixed_asset_cost is set but fixed_asset_life is zero")
	}
	if d.FixedAssetSalvage.GreaterThan(d.FixedAssetCost) {
		errf("fixed_asset_salvage %s exceeds fixed_asset_cost %s", d.FixedAssetSalvage, d.FixedAssetCost)
	}

	if d.InterestRate.GreaterThan(decimal.NewFromFloat(0.2)) {
		warnf("interest_rate %s is above 20%%", d.InterestRate)
	}
	if d.TaxRate.GreaterThan(decimal.NewFromFloat(0.5)) {
		warnf("tax_rate %s is above 50%%", d.TaxRate)
	}
	equity := d.OpeningEquity.Add(d.OpeningRetained)
	if d.OpeningDebt.IsPositive() && equity.IsPositive() &&
		d.OpeningDebt.GreaterThan(equity.Mul(decimal.NewFromInt(3))) {
		warnf("opening_debt %s is more than 3x opening equity %s", d.OpeningDebt, equity)
	}
	if d.Cost.GreaterThan(d.Revenue) && d.Revenue.IsPositive() {
		warnf("cost %s exceeds revenue %s", d.Cost, d.Revenue)
	}
	if d.MinCash.GreaterThan(d.OpeningCash.Add(d.Revenue)) {
		warnf("min_cash %s exceeds opening cash plus revenue", d.MinCash)
	}
	if d.Dividend.IsPositive() && d.OpeningRetained.Add(d.Revenue.Sub(d.Cost)).IsNegative() {
		warnf("dividend %s is paid out of negative retained earnings", d.Dividend)
	}

	out.OK = len(out.Errors) == 0
	return out
}

// Explanation is one node of a computation tree.
type Explanation struct {
	Field   string          `json:"field"`
	Value   decimal.Decimal `json:"value"`
	Formula string          `json:"formula,omitempty"`
	Inputs  []*Explanation  `json:"inputs,omitempty"`
}

// formulas names each computed field's expression and its inputs; fields
// absent here are driver inputs and explain as leaves.
var formulas = map[string]struct {
	formula string
	inputs  []string
}{
	"gross_profit":            {"revenue - cost", []string{"revenue", "cost"}},
	"ebit":                    {"gross_profit - other_expense - depreciation", []string{"gross_profit", "other_expense", "depreciation"}},
	"ebt":                     {"ebit - interest", []string{"ebit", "interest"}},
	"tax":                     {"max(ebt, 0) * tax_rate", []string{"ebt", "tax_rate"}},
	"net_income":              {"ebt - tax", []string{"ebt", "tax"}},
	"depreciation":            {"(fixed_asset_cost - fixed_asset_salvage) / fixed_asset_life", []string{"fixed_asset_cost", "fixed_asset_salvage", "fixed_asset_life"}},
	"interest":                {"interest_rate * (opening_debt + closing_debt) / 2", []string{"interest_rate", "opening_debt", "closing_debt"}},
	"new_borrowing":           {"max(min_cash - cash_before_financing, 0)", []string{"min_cash", "cash_before_financing"}},
	"closing_debt":            {"opening_debt + new_borrowing - repayment", []string{"opening_debt", "new_borrowing", "repayment"}},
	"cash_before_financing":   {"opening_cash + revenue - (cost + other_expense + interest + tax + fixed_asset_cost + capex + repayment)", []string{"opening_cash", "revenue", "cost", "other_expense", "interest", "tax", "fixed_asset_cost", "capex", "repayment"}},
	"closing_cash":            {"cash_before_financing + new_borrowing", []string{"cash_before_financing", "new_borrowing"}},
	"retained_earnings_change": {"net_income - dividend", []string{"net_income", "dividend"}},
	"closing_retained":        {"opening_retained + retained_earnings_change", []string{"opening_retained", "retained_earnings_change"}},
	"closing_equity_capital":  {"opening_equity + new_equity", []string{"opening_equity", "new_equity"}},
	"closing_total_equity":    {"closing_equity_capital + closing_retained", []string{"closing_equity_capital", "closing_retained"}},
	"closing_accum_depreciation": {"accum_depreciation + depreciation", []string{"accum_depreciation", "depreciation"}},
	"closing_fixed_asset_net": {"fixed_asset_cost + capex - closing_accum_depreciation", []string{"fixed_asset_cost", "capex", "closing_accum_depreciation"}},
	"total_assets":            {"closing_cash + closing_receivable + closing_inventory + closing_fixed_asset_net", []string{"closing_cash", "closing_receivable", "closing_inventory", "closing_fixed_asset_net"}},
	"total_liabilities":       {"closing_debt + closing_payable", []string{"closing_debt", "closing_payable"}},
	"balance_diff":            {"total_assets - (total_liabilities + total_equity)", []string{"total_assets", "total_liabilities", "total_equity"}},
}

// Explain runs the calc and returns the computation tree rooted at field.
func Explain(d Driver, field string, iterations int, tolerance decimal.Decimal) (*Explanation, error) {
	r, err := Calc(d, iterations, tolerance)
	if err != nil && !ledgererr.IsCode(err, ledgererr.CodeIterationDiverged) {
		return nil, err
	}
	if _, ok := r.Field(field); !ok {
		return nil, ledgererr.Newf(ledgererr.CodeInvalidInput, "unknown field %q", field)
	}
	return explain(r, field, map[string]bool{}), nil
}

func explain(r *Result, field string, seen map[string]bool) *Explanation {
	value, _ := r.Field(field)
	node := &Explanation{Field: field, Value: value}
	def, ok := formulas[field]
	if !ok || seen[field] {
		return node
	}
	seen[field] = true
	node.Formula = def.formula
	for _, in := range def.inputs {
		node.Inputs = append(node.Inputs, explain(r, in, seen))
	}
	return node
}
