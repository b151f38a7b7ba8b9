package model

import (
	"encoding/json"

	"github.com/shopspring/decimal"

	"github.com/coalton-labs/ledgerd/internal/ledgererr"
)

// DefaultTolerance terminates the convergence loop when both interest and
// new borrowing move less than this between passes.
var DefaultTolerance = decimal.New(1, -2)

// DefaultMaxIterations bounds the refinement loop when the caller does
// not pick a budget.
const DefaultMaxIterations = 50

var two = decimal.NewFromInt(2)

// Result is the model-mode output: the driver echoed back plus every
// computed field.
type Result struct {
	Driver Driver

	Interest            decimal.Decimal
	Depreciation        decimal.Decimal
	GrossProfit         decimal.Decimal
	EBIT                decimal.Decimal
	EBT                 decimal.Decimal
	Tax                 decimal.Decimal
	NetIncome           decimal.Decimal
	RetainedChange      decimal.Decimal
	ClosingRetained     decimal.Decimal
	ClosingEquityCap    decimal.Decimal
	ClosingTotalEquity  decimal.Decimal
	NewBorrowing        decimal.Decimal
	ClosingDebt         decimal.Decimal
	CashBeforeFinancing decimal.Decimal
	ClosingCash         decimal.Decimal
	ClosingReceivable   decimal.Decimal
	ClosingPayable      decimal.Decimal
	ClosingInventory    decimal.Decimal
	ClosingFixedNet     decimal.Decimal
	ClosingAccumDep     decimal.Decimal
	TotalAssets         decimal.Decimal
	TotalLiabilities    decimal.Decimal
	TotalEquity         decimal.Decimal
	BalanceDiff         decimal.Decimal
	IsBalanced          bool
	AutoAdjustment      decimal.Decimal
	Iterations          int
	Converged           bool
}

// computedFields maps output names to accessors, in output order.
var computedFields = []string{
	"interest", "depreciation", "gross_profit", "ebit", "ebt", "tax",
	"net_income", "retained_earnings_change", "closing_retained",
	"closing_equity_capital", "closing_total_equity", "new_borrowing",
	"closing_debt", "cash_before_financing", "closing_cash",
	"closing_receivable", "closing_payable", "closing_inventory",
	"closing_fixed_asset_net", "closing_accum_depreciation",
	"total_assets", "total_liabilities", "total_equity", "balance_diff",
	"auto_adjustment",
}

// Field reads a computed or driver field by wire name.
func (r *Result) Field(name string) (decimal.Decimal, bool) {
	switch name {
	case "interest":
		return r.Interest, true
	case "depreciation":
		return r.Depreciation, true
	case "gross_profit":
		return r.GrossProfit, true
	case "ebit":
		return r.EBIT, true
	case "ebt":
		return r.EBT, true
	case "tax":
		return r.Tax, true
	case "net_income":
		return r.NetIncome, true
	case "retained_earnings_change":
		return r.RetainedChange, true
	case "closing_retained":
		return r.ClosingRetained, true
	case "closing_equity_capital":
		return r.ClosingEquityCap, true
	case "closing_total_equity":
		return r.ClosingTotalEquity, true
	case "new_borrowing":
		return r.NewBorrowing, true
	case "closing_debt":
		return r.ClosingDebt, true
	case "cash_before_financing":
		return r.CashBeforeFinancing, true
	case "closing_cash":
		return r.ClosingCash, true
	case "closing_receivable":
		return r.ClosingReceivable, true
	case "closing_payable":
		return r.ClosingPayable, true
	case "closing_inventory":
		return r.ClosingInventory, true
	case "closing_fixed_asset_net":
		return r.ClosingFixedNet, true
	case "closing_accum_depreciation":
		return r.ClosingAccumDep, true
	case "total_assets":
		return r.TotalAssets, true
	case "total_liabilities":
		return r.TotalLiabilities, true
	case "total_equity":
		return r.TotalEquity, true
	case "balance_diff":
		return r.BalanceDiff, true
	case "auto_adjustment":
		return r.AutoAdjustment, true
	}
	return r.Driver.Field(name)
}

// MarshalJSON emits the driver echo followed by every computed field.
func (r *Result) MarshalJSON() ([]byte, error) {
	out := map[string]any{}
	r.Driver.echo(out)
	for _, name := range computedFields {
		v, _ := r.Field(name)
		out[name] = json.Number(v.String())
	}
	out["is_balanced"] = r.IsBalanced
	out["iterations"] = r.Iterations
	out["iteration_converged"] = r.Converged
	return json.Marshal(out)
}

// Calc runs the five-step loop. iterations is the refinement budget on
// top of the first pass; zero means one-shot. A non-converged run
// returns the last pass's result together with a non-fatal
// ITERATION_DIVERGED warning.
func Calc(d Driver, iterations int, tolerance decimal.Decimal) (*Result, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	if tolerance.IsZero() || tolerance.IsNegative() {
		tolerance = DefaultTolerance
	}
	if iterations < 0 {
		iterations = 0
	}
	if iterations > DefaultMaxIterations {
		iterations = DefaultMaxIterations
	}

	// First pass: interest against opening debt, no prior tax outflow.
	r := pass(d, d.OpeningDebt.Mul(d.InterestRate).Round(2), decimal.Zero, true)
	r.Converged = iterations == 0

	for i := 1; i <= iterations; i++ {
		next := pass(d, r.Interest, r.Tax, false)
		next.Iterations = i
		deltaInterest := next.Interest.Sub(r.Interest).Abs()
		deltaBorrowing := next.NewBorrowing.Sub(r.NewBorrowing).Abs()
		r = next
		if deltaInterest.LessThan(tolerance) && deltaBorrowing.LessThan(tolerance) {
			r.Converged = true
			break
		}
	}

	if !r.Converged {
		warn := ledgererr.Convergence("model did not converge within the iteration budget").
			WithDetail("iterations", r.Iterations).
			WithDetail("interest", r.Interest.String()).
			WithDetail("new_borrowing", r.NewBorrowing.String())
		return r, warn
	}
	return r, nil
}

// pass runs steps 1 through 5 once. interestPrev and taxPrev are the
// previous pass's charges flowing out as cash; firstPass pins interest
// to the opening debt instead of the average.
func pass(d Driver, interestPrev, taxPrev decimal.Decimal, firstPass bool) *Result {
	r := &Result{Driver: d}

	// Step 1: financing. Fixed assets named in the driver are acquired
	// during the period, so their cost leaves cash alongside capex.
	inflow := d.Revenue
	outflow := d.Cost.Add(d.OtherExpense).Add(interestPrev).Add(taxPrev).
		Add(d.FixedAssetCost).Add(d.Capex).Add(d.Repayment)
	r.CashBeforeFinancing = d.OpeningCash.Add(inflow).Sub(outflow).Round(2)
	if r.CashBeforeFinancing.LessThan(d.MinCash) {
		r.NewBorrowing = d.MinCash.Sub(r.CashBeforeFinancing).Round(2)
	}
	r.ClosingDebt = d.OpeningDebt.Add(r.NewBorrowing).Sub(d.Repayment).Round(2)
	r.ClosingCash = r.CashBeforeFinancing.Add(r.NewBorrowing).Round(2)

	if firstPass {
		r.Interest = d.OpeningDebt.Mul(d.InterestRate).Round(2)
	} else {
		avgDebt := d.OpeningDebt.Add(r.ClosingDebt).DivRound(two, 10)
		r.Interest = avgDebt.Mul(d.InterestRate).Round(2)
	}

	// Step 2: straight-line depreciation; a zero life disables it.
	if d.FixedAssetLife.IsPositive() {
		r.Depreciation = d.FixedAssetCost.Sub(d.FixedAssetSalvage).
			DivRound(d.FixedAssetLife, 10).Round(2)
	}
	r.ClosingAccumDep = d.AccumDepreciation.Add(r.Depreciation).Round(2)
	r.ClosingFixedNet = d.FixedAssetCost.Add(d.Capex).Sub(r.ClosingAccumDep).Round(2)

	// Step 3: profit and loss.
	r.GrossProfit = d.Revenue.Sub(d.Cost).Round(2)
	r.EBIT = r.GrossProfit.Sub(d.OtherExpense).Sub(r.Depreciation).Round(2)
	r.EBT = r.EBIT.Sub(r.Interest).Round(2)
	if r.EBT.IsPositive() {
		r.Tax = r.EBT.Mul(d.TaxRate).Round(2)
	}
	r.NetIncome = r.EBT.Sub(r.Tax).Round(2)

	// Step 4: equity.
	r.RetainedChange = r.NetIncome.Sub(d.Dividend).Round(2)
	r.ClosingRetained = d.OpeningRetained.Add(r.RetainedChange).Round(2)
	r.ClosingEquityCap = d.OpeningEquity.Add(d.NewEquity).Round(2)
	r.ClosingTotalEquity = r.ClosingEquityCap.Add(r.ClosingRetained).Round(2)

	// Step 5: reconcile. Receivable and payable roll over unchanged, so
	// the working-capital deltas of step 1 are zero; the single
	// adjustment lands on payable (diff > 0) or receivable (diff < 0).
	r.ClosingReceivable = d.OpeningReceivable
	r.ClosingPayable = d.OpeningPayable
	r.ClosingInventory = d.OpeningInventory

	r.TotalAssets = r.ClosingCash.Add(r.ClosingReceivable).
		Add(r.ClosingInventory).Add(r.ClosingFixedNet).Round(2)
	r.TotalLiabilities = r.ClosingDebt.Add(r.ClosingPayable).Round(2)
	r.TotalEquity = r.ClosingTotalEquity
	r.BalanceDiff = r.TotalAssets.Sub(r.TotalLiabilities.Add(r.TotalEquity)).Round(2)

	if r.BalanceDiff.Abs().LessThan(DefaultTolerance) {
		r.IsBalanced = true
	} else {
		r.AutoAdjustment = r.BalanceDiff.Abs().Round(2)
		if r.BalanceDiff.IsPositive() {
			r.ClosingPayable = r.ClosingPayable.Add(r.AutoAdjustment)
		} else {
			r.ClosingReceivable = r.ClosingReceivable.Add(r.AutoAdjustment)
			r.TotalAssets = r.TotalAssets.Add(r.AutoAdjustment).Round(2)
		}
		r.TotalLiabilities = r.ClosingDebt.Add(r.ClosingPayable).Round(2)
		r.BalanceDiff = r.TotalAssets.Sub(r.TotalLiabilities.Add(r.TotalEquity)).Round(2)
		r.IsBalanced = r.BalanceDiff.Abs().LessThan(DefaultTolerance)
	}
	return r
}
