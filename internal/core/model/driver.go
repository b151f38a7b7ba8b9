// Package model is the standalone three-statement reconciliation engine:
// it consumes a driver record and runs the five-step balancing loop
// (financing, depreciation, profit and loss, equity, reconcile) with
// fixed-point iteration over the debt-interest-cash cycle.
package model

import (
	"bytes"
	"encoding/json"

	"github.com/shopspring/decimal"

	"github.com/coalton-labs/ledgerd/internal/ledgererr"
)

// Driver is the model-mode input record. Unknown fields are retained in
// Extra and echoed back in the output for round-tripping.
type Driver struct {
	Revenue           decimal.Decimal
	Cost              decimal.Decimal
	OpeningCash       decimal.Decimal
	OtherExpense      decimal.Decimal
	OpeningDebt       decimal.Decimal
	OpeningEquity     decimal.Decimal
	OpeningRetained   decimal.Decimal
	OpeningReceivable decimal.Decimal
	OpeningPayable    decimal.Decimal
	OpeningInventory  decimal.Decimal
	FixedAssetCost    decimal.Decimal
	AccumDepreciation decimal.Decimal
	FixedAssetLife    decimal.Decimal
	FixedAssetSalvage decimal.Decimal
	InterestRate      decimal.Decimal
	TaxRate           decimal.Decimal
	Dividend          decimal.Decimal
	Capex             decimal.Decimal
	MinCash           decimal.Decimal
	NewEquity         decimal.Decimal
	Repayment         decimal.Decimal

	Extra map[string]any

	present map[string]bool
}

// driverFields maps wire names to accessors, in output order.
var driverFields = []string{
	"revenue", "cost", "opening_cash", "other_expense", "opening_debt",
	"opening_equity", "opening_retained", "opening_receivable",
	"opening_payable", "opening_inventory", "fixed_asset_cost",
	"accum_depreciation", "fixed_asset_life", "fixed_asset_salvage",
	"interest_rate", "tax_rate", "dividend", "capex", "min_cash",
	"new_equity", "repayment",
}

func (d *Driver) fieldPtr(name string) *decimal.Decimal {
	switch name {
	case "revenue":
		return &d.Revenue
	case "cost":
		return &d.Cost
	case "opening_cash":
		return &d.OpeningCash
	case "other_expense":
		return &d.OtherExpense
	case "opening_debt":
		return &d.OpeningDebt
	case "opening_equity":
		return &d.OpeningEquity
	case "opening_retained":
		return &d.OpeningRetained
	case "opening_receivable":
		return &d.OpeningReceivable
	case "opening_payable":
		return &d.OpeningPayable
	case "opening_inventory":
		return &d.OpeningInventory
	case "fixed_asset_cost":
		return &d.FixedAssetCost
	case "accum_depreciation":
		return &d.AccumDepreciation
	case "fixed_asset_life":
		return &d.FixedAssetLife
	case "fixed_asset_salvage":
		return &d.FixedAssetSalvage
	case "interest_rate":
		return &d.InterestRate
	case "tax_rate":
		return &d.TaxRate
	case "dividend":
		return &d.Dividend
	case "capex":
		return &d.Capex
	case "min_cash":
		return &d.MinCash
	case "new_equity":
		return &d.NewEquity
	case "repayment":
		return &d.Repayment
	}
	return nil
}

// Set assigns a driver field by wire name; used by the scenario sweep.
func (d *Driver) Set(name string, value decimal.Decimal) error {
	p := d.fieldPtr(name)
	if p == nil {
		return ledgererr.Newf(ledgererr.CodeInvalidInput, "unknown driver field %q", name)
	}
	*p = value
	if d.present == nil {
		d.present = map[string]bool{}
	}
	d.present[name] = true
	return nil
}

// Field reads a driver field by wire name.
func (d *Driver) Field(name string) (decimal.Decimal, bool) {
	p := d.fieldPtr(name)
	if p == nil {
		return decimal.Zero, false
	}
	return *p, true
}

// Validate enforces the required fields.
func (d *Driver) Validate() error {
	for _, name := range []string{"revenue", "cost", "opening_cash"} {
		if !d.present[name] {
			return ledgererr.Newf(ledgererr.CodeInvalidInput,
				"driver field %q is required", name).WithDetail("field", name)
		}
	}
	return nil
}

// UnmarshalJSON reads a driver record, keeping unknown fields in Extra.
func (d *Driver) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	d.present = map[string]bool{}
	for key, val := range raw {
		p := d.fieldPtr(key)
		if p == nil {
			if d.Extra == nil {
				d.Extra = map[string]any{}
			}
			d.Extra[key] = val
			continue
		}
		num, ok := val.(json.Number)
		if !ok {
			return ledgererr.Newf(ledgererr.CodeInvalidInput,
				"driver field %q must be numeric", key)
		}
		v, err := decimal.NewFromString(num.String())
		if err != nil {
			return ledgererr.Newf(ledgererr.CodeInvalidInput,
				"driver field %q: %v", key, err)
		}
		*p = v
		d.present[key] = true
	}
	return nil
}

// echo writes the driver fields and extras into an output map.
func (d *Driver) echo(out map[string]any) {
	for key, val := range d.Extra {
		out[key] = val
	}
	for _, name := range driverFields {
		v, _ := d.Field(name)
		out[name] = json.Number(v.String())
	}
}
