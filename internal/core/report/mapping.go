// Package report derives the three financial statements from the balance
// index through a declarative mapping, and validates the accounting and
// cash-reconciliation identities.
package report

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/coalton-labs/ledgerd/internal/core/coa"
	"github.com/coalton-labs/ledgerd/internal/ledgererr"
)

// Source fields a line may aggregate.
const (
	SourceOpening     = "opening_balance"
	SourceClosing     = "closing_balance"
	SourceDebitTotal  = "debit_total"
	SourceCreditTotal = "credit_total"
	SourceNetChange   = "net_change"
)

// Selector picks balance rows by account prefix, account type, and an
// optional dimension filter (keyed by dimension type, id 0 never matches
// as a filter value).
type Selector struct {
	Prefixes     []string         `json:"prefixes,omitempty"`
	AccountTypes []string         `json:"account_types,omitempty"`
	Dimensions   map[string]int64 `json:"dimensions,omitempty"`
}

// Line is one statement line: a selector, the source field, and the sign
// orientation that counts as positive.
type Line struct {
	Name string `json:"name"`
	Selector
	Source string `json:"source"`
	Sign   string `json:"sign"`
}

// Mapping is the full declarative statement layout.
type Mapping struct {
	BalanceSheet struct {
		Assets      []Line `json:"assets"`
		Liabilities []Line `json:"liabilities"`
		Equity      []Line `json:"equity"`
	} `json:"balance_sheet"`
	IncomeStatement []Line `json:"income_statement"`
	CashFlow        struct {
		Operating []Line `json:"operating"`
		Investing []Line `json:"investing"`
		Financing []Line `json:"financing"`
	} `json:"cash_flow"`
	// Cash identifies the rows whose opening/closing anchor the
	// cash-reconciliation identity.
	Cash Selector `json:"cash"`
}

// LoadMapping reads a mapping document from disk.
func LoadMapping(path string) (Mapping, error) {
	var m Mapping
	data, err := os.ReadFile(path)
	if err != nil {
		return m, ledgererr.Newf(ledgererr.CodeMappingInvalid,
			"cannot read mapping %s", path).WithCause(err)
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return m, ledgererr.Newf(ledgererr.CodeMappingInvalid,
			"cannot parse mapping %s", path).WithCause(err)
	}
	if err := m.Validate(); err != nil {
		return m, err
	}
	return m, nil
}

// Validate rejects lines with unknown sources, signs, or account types.
func (m Mapping) Validate() error {
	check := func(section string, lines []Line) error {
		for _, l := range lines {
			if l.Name == "" {
				return ledgererr.Newf(ledgererr.CodeMappingInvalid,
					"%s: line without a name", section)
			}
			switch l.Source {
			case SourceOpening, SourceClosing, SourceDebitTotal, SourceCreditTotal, SourceNetChange:
			default:
				return ledgererr.Newf(ledgererr.CodeMappingInvalid,
					"%s/%s: unknown source %q", section, l.Name, l.Source)
			}
			switch l.Sign {
			case coa.DirectionDebit, coa.DirectionCredit:
			default:
				return ledgererr.Newf(ledgererr.CodeMappingInvalid,
					"%s/%s: unknown sign %q", section, l.Name, l.Sign)
			}
			if len(l.Prefixes) == 0 && len(l.AccountTypes) == 0 {
				return ledgererr.Newf(ledgererr.CodeMappingInvalid,
					"%s/%s: selector needs prefixes or account_types", section, l.Name)
			}
			for _, t := range l.AccountTypes {
				switch t {
				case coa.TypeAsset, coa.TypeLiability, coa.TypeEquity, coa.TypeRevenue, coa.TypeExpense:
				default:
					return ledgererr.Newf(ledgererr.CodeMappingInvalid,
						"%s/%s: unknown account type %q", section, l.Name, t)
				}
			}
		}
		return nil
	}
	sections := []struct {
		name  string
		lines []Line
	}{
		{"balance_sheet/assets", m.BalanceSheet.Assets},
		{"balance_sheet/liabilities", m.BalanceSheet.Liabilities},
		{"balance_sheet/equity", m.BalanceSheet.Equity},
		{"income_statement", m.IncomeStatement},
		{"cash_flow/operating", m.CashFlow.Operating},
		{"cash_flow/investing", m.CashFlow.Investing},
		{"cash_flow/financing", m.CashFlow.Financing},
	}
	for _, s := range sections {
		if err := check(s.name, s.lines); err != nil {
			return err
		}
	}
	return nil
}

// Matches reports whether an account satisfies the selector's code and
// type filters.
func (s Selector) Matches(a coa.Account) bool {
	if len(s.Prefixes) > 0 {
		hit := false
		for _, p := range s.Prefixes {
			if strings.HasPrefix(a.Code, p) {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}
	if len(s.AccountTypes) > 0 {
		hit := false
		for _, t := range s.AccountTypes {
			if a.Type == t {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}
	return true
}

// MatchesDims applies the optional dimension filter to a balance key.
func (s Selector) MatchesDims(d coa.DimensionSet) bool {
	for dimType, want := range s.Dimensions {
		var got int64
		switch dimType {
		case coa.DimDepartment:
			got = d.DeptID
		case coa.DimProject:
			got = d.ProjectID
		case coa.DimCustomer:
			got = d.CustomerID
		case coa.DimSupplier:
			got = d.SupplierID
		case coa.DimEmployee:
			got = d.EmployeeID
		}
		if got != want {
			return false
		}
	}
	return true
}

// DefaultMapping lays the seeded chart out into the standard three
// statements. The indirect cash flow covers every non-cash account of the
// seed exactly once, so its sum reconciles to the cash delta by
// construction of double entry.
func DefaultMapping() Mapping {
	var m Mapping
	closing := func(name, sign string, prefixes ...string) Line {
		return Line{Name: name, Selector: Selector{Prefixes: prefixes}, Source: SourceClosing, Sign: sign}
	}
	change := func(name, sign string, prefixes ...string) Line {
		return Line{Name: name, Selector: Selector{Prefixes: prefixes}, Source: SourceNetChange, Sign: sign}
	}

	m.BalanceSheet.Assets = []Line{
		closing("cash_and_equivalents", coa.DirectionDebit, "1001", "1002"),
		closing("receivables", coa.DirectionDebit, "1122", "1123", "1221"),
		closing("bad_debt_provision", coa.DirectionCredit, "1231"),
		closing("inventory", coa.DirectionDebit, "1403", "1405"),
		closing("fixed_assets_net", coa.DirectionDebit, "1601", "1602", "1603"),
		closing("construction_in_progress", coa.DirectionDebit, "1604"),
	}
	m.BalanceSheet.Liabilities = []Line{
		closing("short_term_borrowings", coa.DirectionCredit, "2001"),
		closing("payables", coa.DirectionCredit, "2202", "2203"),
		closing("payroll_payable", coa.DirectionCredit, "2211"),
		closing("tax_payable", coa.DirectionCredit, "2221"),
		closing("long_term_borrowings", coa.DirectionCredit, "2501"),
	}
	m.BalanceSheet.Equity = []Line{
		closing("paid_in_capital", coa.DirectionCredit, "4001"),
		closing("capital_reserve", coa.DirectionCredit, "4002"),
		closing("current_year_profit", coa.DirectionCredit, "4103"),
		closing("retained_earnings", coa.DirectionCredit, "4104"),
	}

	m.IncomeStatement = []Line{
		change("revenue", coa.DirectionCredit, "6001", "6051"),
		change("fx_gain_loss", coa.DirectionCredit, "6061"),
		change("cost_of_sales", coa.DirectionDebit, "6401"),
		change("selling_expense", coa.DirectionDebit, "6601"),
		change("admin_expense", coa.DirectionDebit, "6602"),
		change("finance_expense", coa.DirectionDebit, "6603"),
		change("impairment_loss", coa.DirectionDebit, "6701"),
		change("disposal_gain_loss", coa.DirectionDebit, "6711"),
		change("non_operating", coa.DirectionDebit, "6801"),
	}

	m.CashFlow.Operating = []Line{
		{Name: "net_income", Selector: Selector{AccountTypes: []string{coa.TypeRevenue, coa.TypeExpense}},
			Source: SourceNetChange, Sign: coa.DirectionCredit},
		change("depreciation_addback", coa.DirectionCredit, "1602"),
		change("impairment_addback", coa.DirectionCredit, "1231", "1603"),
		change("receivable_change", coa.DirectionCredit, "1122", "1123", "1221"),
		change("inventory_change", coa.DirectionCredit, "1403", "1405"),
		change("payable_change", coa.DirectionCredit, "2202", "2203", "2211", "2221"),
	}
	m.CashFlow.Investing = []Line{
		change("capex", coa.DirectionCredit, "1601", "1604"),
	}
	m.CashFlow.Financing = []Line{
		change("debt_change", coa.DirectionCredit, "2001", "2501"),
		change("equity_change", coa.DirectionCredit, "4001", "4002", "4103", "4104"),
	}

	m.Cash = Selector{Prefixes: []string{"1001", "1002"}}
	return m
}
