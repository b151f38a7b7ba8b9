package coa

import (
	"context"

	"github.com/coalton-labs/ledgerd/internal/ledgererr"
)

// standardChart is the seeded one-level chart. Codes follow the Chinese
// MoF numbering; the engine itself is chart-agnostic and only cares about
// type and normal side. Contra accounts (1231, 1602, 1603) are
// credit-natured assets.
var standardChart = []Account{
	{Code: "1001", Name: "Cash on Hand", Type: TypeAsset, Direction: DirectionDebit, CashFlow: CashFlowOperating},
	{Code: "1002", Name: "Bank Deposits", Type: TypeAsset, Direction: DirectionDebit, CashFlow: CashFlowOperating},
	{Code: "1122", Name: "Accounts Receivable", Type: TypeAsset, Direction: DirectionDebit, CashFlow: CashFlowNone},
	{Code: "1123", Name: "Prepayments", Type: TypeAsset, Direction: DirectionDebit, CashFlow: CashFlowNone},
	{Code: "1221", Name: "Other Receivables", Type: TypeAsset, Direction: DirectionDebit, CashFlow: CashFlowNone},
	{Code: "1231", Name: "Bad Debt Provision", Type: TypeAsset, Direction: DirectionCredit, CashFlow: CashFlowNone},
	{Code: "1403", Name: "Raw Materials", Type: TypeAsset, Direction: DirectionDebit, CashFlow: CashFlowNone},
	{Code: "1405", Name: "Finished Goods", Type: TypeAsset, Direction: DirectionDebit, CashFlow: CashFlowNone},
	{Code: "1601", Name: "Fixed Assets", Type: TypeAsset, Direction: DirectionDebit, CashFlow: CashFlowInvesting},
	{Code: "1602", Name: "Accumulated Depreciation", Type: TypeAsset, Direction: DirectionCredit, CashFlow: CashFlowNone},
	{Code: "1603", Name: "Fixed Asset Impairment", Type: TypeAsset, Direction: DirectionCredit, CashFlow: CashFlowNone},
	{Code: "1604", Name: "Construction in Progress", Type: TypeAsset, Direction: DirectionDebit, CashFlow: CashFlowInvesting},

	{Code: "2001", Name: "Short-term Borrowings", Type: TypeLiability, Direction: DirectionCredit, CashFlow: CashFlowFinancing},
	{Code: "2202", Name: "Accounts Payable", Type: TypeLiability, Direction: DirectionCredit, CashFlow: CashFlowNone},
	{Code: "2203", Name: "Advances from Customers", Type: TypeLiability, Direction: DirectionCredit, CashFlow: CashFlowNone},
	{Code: "2211", Name: "Payroll Payable", Type: TypeLiability, Direction: DirectionCredit, CashFlow: CashFlowNone},
	{Code: "2221", Name: "Taxes Payable", Type: TypeLiability, Direction: DirectionCredit, CashFlow: CashFlowNone},
	{Code: "2501", Name: "Long-term Borrowings", Type: TypeLiability, Direction: DirectionCredit, CashFlow: CashFlowFinancing},

	{Code: "4001", Name: "Paid-in Capital", Type: TypeEquity, Direction: DirectionCredit, CashFlow: CashFlowFinancing},
	{Code: "4002", Name: "Capital Reserve", Type: TypeEquity, Direction: DirectionCredit, CashFlow: CashFlowNone},
	{Code: "4103", Name: "Current Year Profit", Type: TypeEquity, Direction: DirectionCredit, CashFlow: CashFlowNone},
	{Code: "4104", Name: "Retained Earnings", Type: TypeEquity, Direction: DirectionCredit, CashFlow: CashFlowNone},

	{Code: "6001", Name: "Operating Revenue", Type: TypeRevenue, Direction: DirectionCredit, CashFlow: CashFlowOperating},
	{Code: "6051", Name: "Other Income", Type: TypeRevenue, Direction: DirectionCredit, CashFlow: CashFlowOperating},
	{Code: "6061", Name: "Exchange Gain or Loss", Type: TypeRevenue, Direction: DirectionCredit, CashFlow: CashFlowNone},

	{Code: "6401", Name: "Operating Cost", Type: TypeExpense, Direction: DirectionDebit, CashFlow: CashFlowOperating},
	{Code: "6601", Name: "Selling Expense", Type: TypeExpense, Direction: DirectionDebit, CashFlow: CashFlowOperating},
	{Code: "6602", Name: "Administrative Expense", Type: TypeExpense, Direction: DirectionDebit, CashFlow: CashFlowOperating},
	{Code: "6603", Name: "Finance Expense", Type: TypeExpense, Direction: DirectionDebit, CashFlow: CashFlowOperating},
	{Code: "6701", Name: "Asset Impairment Loss", Type: TypeExpense, Direction: DirectionDebit, CashFlow: CashFlowNone},
	{Code: "6711", Name: "Non-operating Expense", Type: TypeExpense, Direction: DirectionDebit, CashFlow: CashFlowNone},
	{Code: "6801", Name: "Income Tax Expense", Type: TypeExpense, Direction: DirectionDebit, CashFlow: CashFlowOperating},
}

// Seed installs the standard chart, skipping codes already present so a
// reopened ledger file keeps user modifications.
func (s *Store) Seed(ctx context.Context) error {
	for _, a := range standardChart {
		a.Level = 1
		a.Enabled = true
		a.System = true
		_, err := s.exec.ExecContext(ctx, `
			INSERT OR IGNORE INTO accounts
			  (code, name, level, type, direction, cash_flow,
			   is_enabled, is_system, is_revaluable)
			VALUES (?, ?, ?, ?, ?, ?, 1, 1, 0)`,
			a.Code, a.Name, a.Level, a.Type, a.Direction, a.CashFlow)
		if err != nil {
			return ledgererr.Storage("seed chart", err)
		}
	}
	return nil
}
