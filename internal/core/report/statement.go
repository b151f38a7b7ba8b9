package report

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/coalton-labs/ledgerd/internal/core/balance"
	"github.com/coalton-labs/ledgerd/internal/core/coa"
	"github.com/coalton-labs/ledgerd/internal/ledgererr"
	"github.com/coalton-labs/ledgerd/internal/storage/ledgerdb"
)

// IdentityTolerance bounds how far the accounting and cash identities may
// drift before the report fails.
var IdentityTolerance = decimal.New(1, -2)

// Validation is the identity-check block attached to every report.
type Validation struct {
	IsBalanced     bool            `json:"is_balanced"`
	BalanceDiff    decimal.Decimal `json:"balance_diff"`
	CashReconciled bool            `json:"cash_reconciled"`
	CashDiff       decimal.Decimal `json:"cash_diff"`
}

// Statements is one period's ledger-mode report.
type Statements struct {
	Period           string                     `json:"period"`
	BalanceSheet     map[string]decimal.Decimal `json:"balance_sheet"`
	IncomeStatement  map[string]decimal.Decimal `json:"income_statement"`
	CashFlow         map[string]decimal.Decimal `json:"cash_flow_statement"`
	TotalAssets      decimal.Decimal            `json:"total_assets"`
	TotalLiabilities decimal.Decimal            `json:"total_liabilities"`
	TotalEquity      decimal.Decimal            `json:"total_equity"`
	NetIncome        decimal.Decimal            `json:"net_income"`
	Validation       Validation                 `json:"validation"`
}

// Service renders ledger-mode statements.
type Service struct {
	db      *ledgerdb.DB
	mapping Mapping
	log     *zap.Logger
}

// NewService wires a statement renderer over a mapping.
func NewService(db *ledgerdb.DB, mapping Mapping, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{db: db, mapping: mapping, log: log}
}

// Run renders the three statements for a period and validates both
// identities. On an identity break beyond tolerance the populated report
// is returned together with a REPORT_NOT_BALANCED error so callers can
// inspect the numbers that failed.
func (s *Service) Run(ctx context.Context, p string) (*Statements, error) {
	exec := s.db.Handle()
	accounts := coa.NewStore(exec)
	engine := balance.NewEngine(accounts)

	all, err := accounts.ListAccounts(ctx, "")
	if err != nil {
		return nil, err
	}
	byCode := make(map[string]coa.Account, len(all))
	for _, a := range all {
		byCode[a.Code] = a
	}
	rows, err := engine.PeriodRows(ctx, exec, p)
	if err != nil {
		return nil, err
	}

	out := &Statements{
		Period:          p,
		BalanceSheet:    map[string]decimal.Decimal{},
		IncomeStatement: map[string]decimal.Decimal{},
		CashFlow:        map[string]decimal.Decimal{},
	}

	section := func(dest map[string]decimal.Decimal, lines []Line) decimal.Decimal {
		total := decimal.Zero
		for _, l := range lines {
			v := lineValue(l, rows, byCode)
			dest[l.Name] = v
			total = total.Add(v)
		}
		return total
	}

	out.TotalAssets = section(out.BalanceSheet, s.mapping.BalanceSheet.Assets)
	liabilities := section(out.BalanceSheet, s.mapping.BalanceSheet.Liabilities)
	equity := section(out.BalanceSheet, s.mapping.BalanceSheet.Equity)

	// Income lines carry their own orientation: revenue credit-positive,
	// expense debit-positive. Net income is the difference.
	netIncome := decimal.Zero
	for _, l := range s.mapping.IncomeStatement {
		v := lineValue(l, rows, byCode)
		out.IncomeStatement[l.Name] = v
		if l.Sign == coa.DirectionCredit {
			netIncome = netIncome.Add(v)
		} else {
			netIncome = netIncome.Sub(v)
		}
	}
	out.NetIncome = netIncome
	out.IncomeStatement["net_income"] = netIncome

	// Until a close sweeps them into retained earnings, profits live in
	// the revenue and expense accounts. Their cumulative closing balance
	// is the implicit equity line that keeps the identity valid whether
	// the period is open, rolled over, or closed.
	earnings := decimal.Zero
	for _, r := range rows {
		a, ok := byCode[r.Key.AccountCode]
		if !ok || (a.Type != coa.TypeRevenue && a.Type != coa.TypeExpense) {
			continue
		}
		earnings = earnings.Add(natural(a, r.Closing, coa.DirectionCredit))
	}
	out.BalanceSheet["current_period_earnings"] = earnings.Round(2)
	out.TotalEquity = equity.Add(earnings).Round(2)
	out.TotalLiabilities = liabilities

	operating := section(out.CashFlow, s.mapping.CashFlow.Operating)
	investing := section(out.CashFlow, s.mapping.CashFlow.Investing)
	financing := section(out.CashFlow, s.mapping.CashFlow.Financing)
	out.CashFlow["operating_cf"] = operating
	out.CashFlow["investing_cf"] = investing
	out.CashFlow["financing_cf"] = financing

	var openingCash, closingCash decimal.Decimal
	for _, r := range rows {
		a, ok := byCode[r.Key.AccountCode]
		if !ok || !s.mapping.Cash.Matches(a) || !s.mapping.Cash.MatchesDims(r.Key.Dims) {
			continue
		}
		openingCash = openingCash.Add(natural(a, r.Opening, coa.DirectionDebit))
		closingCash = closingCash.Add(natural(a, r.Closing, coa.DirectionDebit))
	}
	out.CashFlow["opening_cash"] = openingCash
	out.CashFlow["closing_cash"] = closingCash

	out.Validation.BalanceDiff = out.TotalAssets.Sub(out.TotalLiabilities.Add(out.TotalEquity)).Round(2)
	out.Validation.IsBalanced = out.Validation.BalanceDiff.Abs().LessThanOrEqual(IdentityTolerance)
	cashDelta := closingCash.Sub(openingCash)
	out.Validation.CashDiff = operating.Add(investing).Add(financing).Sub(cashDelta).Round(2)
	out.Validation.CashReconciled = out.Validation.CashDiff.Abs().LessThanOrEqual(IdentityTolerance)

	if !out.Validation.IsBalanced || !out.Validation.CashReconciled {
		err := ledgererr.Consistency(ledgererr.CodeReportNotBalanced,
			"statement identities do not hold").
			WithDetail("period", p).
			WithDetail("balance_diff", out.Validation.BalanceDiff.String()).
			WithDetail("cash_diff", out.Validation.CashDiff.String())
		s.log.Error("report identity violation", zap.String("period", p),
			zap.String("balance_diff", out.Validation.BalanceDiff.String()),
			zap.String("cash_diff", out.Validation.CashDiff.String()))
		return out, err
	}
	return out, nil
}

// lineValue aggregates one line over the period's balance rows.
func lineValue(l Line, rows []balance.Row, byCode map[string]coa.Account) decimal.Decimal {
	total := decimal.Zero
	for _, r := range rows {
		a, ok := byCode[r.Key.AccountCode]
		if !ok || !l.Matches(a) || !l.MatchesDims(r.Key.Dims) {
			continue
		}
		total = total.Add(sourceValue(l, a, r))
	}
	return total.Round(2)
}

func sourceValue(l Line, a coa.Account, r balance.Row) decimal.Decimal {
	switch l.Source {
	case SourceOpening:
		return natural(a, r.Opening, l.Sign)
	case SourceClosing:
		return natural(a, r.Closing, l.Sign)
	case SourceNetChange:
		if l.Sign == coa.DirectionDebit {
			return r.Debit.Sub(r.Credit)
		}
		return r.Credit.Sub(r.Debit)
	case SourceDebitTotal:
		if l.Sign == coa.DirectionDebit {
			return r.Debit
		}
		return r.Debit.Neg()
	case SourceCreditTotal:
		if l.Sign == coa.DirectionCredit {
			return r.Credit
		}
		return r.Credit.Neg()
	}
	return decimal.Zero
}

// natural reorients a natural-sign balance into the line's orientation.
func natural(a coa.Account, v decimal.Decimal, sign string) decimal.Decimal {
	if a.Direction == sign {
		return v
	}
	return v.Neg()
}
