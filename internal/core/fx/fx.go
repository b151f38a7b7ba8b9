// Package fx owns currencies, exchange rates, and period-end revaluation
// of accounts flagged revaluable. Rates carry six decimals; lookup on a
// missing date falls back to the nearest prior date of the same rate type.
package fx

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/coalton-labs/ledgerd/internal/core/balance"
	"github.com/coalton-labs/ledgerd/internal/core/coa"
	"github.com/coalton-labs/ledgerd/internal/core/period"
	"github.com/coalton-labs/ledgerd/internal/core/voucher"
	"github.com/coalton-labs/ledgerd/internal/ledgererr"
	"github.com/coalton-labs/ledgerd/internal/storage/ledgerdb"
)

// Rate types.
const (
	RateSpot    = "spot"
	RateClosing = "closing"
	RateAverage = "average"
)

// Currency is one configured currency.
type Currency struct {
	Code      string `json:"code"`
	Name      string `json:"name"`
	Symbol    string `json:"symbol,omitempty"`
	Precision int    `json:"precision"`
	Active    bool   `json:"active"`
}

// Config names the accounts revaluation posts against.
type Config struct {
	FunctionalCurrency string
	GainAccount        string
	LossAccount        string
}

// Service manages the rate table and runs revaluation.
type Service struct {
	db       *ledgerdb.DB
	vouchers *voucher.Service
	cfg      Config
	cache    *lru.Cache[string, decimal.Decimal]
	log      *zap.Logger
}

// NewService wires the FX service. cacheSize bounds the rate-lookup cache.
func NewService(db *ledgerdb.DB, vouchers *voucher.Service, cfg Config, cacheSize int, log *zap.Logger) (*Service, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if cacheSize <= 0 {
		cacheSize = 256
	}
	cache, err := lru.New[string, decimal.Decimal](cacheSize)
	if err != nil {
		return nil, err
	}
	return &Service{db: db, vouchers: vouchers, cfg: cfg, cache: cache, log: log}, nil
}

// AddCurrency registers a currency.
func (s *Service) AddCurrency(ctx context.Context, c Currency) error {
	if c.Code == "" || c.Name == "" {
		return ledgererr.Validation(ledgererr.CodeInvalidInput, "currency code and name are required")
	}
	if c.Precision == 0 {
		c.Precision = 2
	}
	if _, err := s.db.Exec(ctx, `
		INSERT INTO currencies (code, name, symbol, precision, is_active)
		VALUES (?, ?, ?, ?, 1)
		ON CONFLICT(code) DO UPDATE SET name = excluded.name,
		  symbol = excluded.symbol, precision = excluded.precision`,
		c.Code, c.Name, c.Symbol, c.Precision); err != nil {
		return ledgererr.Storage("add currency", err)
	}
	return nil
}

// GetCurrency fetches one currency; CURRENCY_NOT_FOUND if absent.
func (s *Service) GetCurrency(ctx context.Context, code string) (*Currency, error) {
	row := s.db.QueryRow(ctx, `
		SELECT code, name, COALESCE(symbol, ''), precision, is_active
		FROM currencies WHERE code = ?`, code)
	var c Currency
	err := row.Scan(&c.Code, &c.Name, &c.Symbol, &c.Precision, &c.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledgererr.Newf(ledgererr.CodeCurrencyNotFound, "currency %s not found", code).
			WithDetail("currency", code)
	}
	if err != nil {
		return nil, ledgererr.Storage("get currency", err)
	}
	return &c, nil
}

// SetRate records a rate, replacing any prior value for the same key.
// Rates store six fractional digits.
func (s *Service) SetRate(ctx context.Context, currency, date string, rate decimal.Decimal, rateType, source string) error {
	if rate.IsZero() || rate.IsNegative() {
		return ledgererr.Validation(ledgererr.CodeInvalidInput, "rate must be positive")
	}
	if rateType == "" {
		rateType = RateSpot
	}
	if _, err := s.GetCurrency(ctx, currency); err != nil {
		return err
	}
	if _, err := s.db.Exec(ctx, `
		INSERT INTO exchange_rates (currency, date, rate, rate_type, source)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(currency, date, rate_type) DO UPDATE SET
		  rate = excluded.rate, source = excluded.source`,
		currency, date, rate.Round(6), rateType, source); err != nil {
		return ledgererr.Storage("set rate", err)
	}
	s.cache.Purge()
	return nil
}

// Rate resolves the rate for a currency on a date, falling back to the
// nearest prior date of the same type. Results are cached.
func (s *Service) Rate(ctx context.Context, currency, date, rateType string) (decimal.Decimal, error) {
	if rateType == "" {
		rateType = RateSpot
	}
	key := currency + "|" + date + "|" + rateType
	if rate, ok := s.cache.Get(key); ok {
		return rate, nil
	}

	row := s.db.QueryRow(ctx, `
		SELECT rate FROM exchange_rates
		WHERE currency = ? AND rate_type = ? AND date <= ?
		ORDER BY date DESC LIMIT 1`, currency, rateType, date)
	var rate decimal.Decimal
	err := row.Scan(&rate)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, ledgererr.Newf(ledgererr.CodeRateNotFound,
			"no %s rate for %s on or before %s", rateType, currency, date).
			WithDetail("currency", currency).
			WithDetail("date", date).
			WithDetail("rate_type", rateType)
	}
	if err != nil {
		return decimal.Zero, ledgererr.Storage("get rate", err)
	}
	s.cache.Add(key, rate)
	return rate, nil
}

// RevalueResult reports one revaluation run.
type RevalueResult struct {
	Period   string           `json:"period"`
	Vouchers []string         `json:"vouchers"`
	Deltas   map[string]string `json:"deltas"`
}

// Revalue walks every revaluable account's foreign balances in a period,
// computes delta = foreign_closing × period-end rate − functional_closing,
// and posts one gain-or-loss voucher per account. The batch commits
// atomically; foreign amounts are untouched so only the functional side
// moves to the new rate.
func (s *Service) Revalue(ctx context.Context, p string) (*RevalueResult, error) {
	result := &RevalueResult{Period: p, Deltas: map[string]string{}}
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		accounts := coa.NewStore(tx)
		revaluable, err := accounts.ListRevaluable(ctx)
		if err != nil {
			return err
		}
		engine := balance.NewEngine(accounts)
		date := period.LastDate(p)
		rows, err := engine.PeriodRows(ctx, tx, p)
		if err != nil {
			return err
		}

		for _, acct := range revaluable {
			var foreignClosing, functionalClosing decimal.Decimal
			currency := ""
			for _, r := range rows {
				if r.Key.AccountCode != acct.Code || r.CurrencyCode == "" {
					continue
				}
				if currency == "" {
					currency = r.CurrencyCode
				}
				foreignClosing = foreignClosing.Add(r.ForeignClosing)
				functionalClosing = functionalClosing.Add(r.Closing)
			}
			if currency == "" || currency == s.cfg.FunctionalCurrency {
				continue
			}

			rate, err := s.Rate(ctx, currency, date, RateClosing)
			if ledgererr.IsCode(err, ledgererr.CodeRateNotFound) {
				rate, err = s.Rate(ctx, currency, date, RateSpot)
			}
			if err != nil {
				return err
			}

			delta := foreignClosing.Mul(rate).Sub(functionalClosing).Round(2)
			if delta.IsZero() {
				continue
			}
			result.Deltas[acct.Code] = delta.String()

			v, err := s.postRevaluation(ctx, tx, acct, p, date, currency, rate, delta)
			if err != nil {
				return err
			}
			result.Vouchers = append(result.Vouchers, v.VoucherNo)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("revaluation complete", zap.String("period", p),
		zap.Int("vouchers", len(result.Vouchers)))
	return result, nil
}

// postRevaluation emits the gain-or-loss voucher for one account. A
// debit-natured account grows with a positive delta (a gain); a
// credit-natured one grows with a positive delta too, but growth of a
// liability is a loss.
func (s *Service) postRevaluation(ctx context.Context, tx *sql.Tx, acct coa.Account, p, date, currency string, rate, delta decimal.Decimal) (*voucher.Voucher, error) {
	amount := delta.Abs()
	desc := fmt.Sprintf("FX revaluation of %s (%s @ %s)", acct.Code, currency, rate.String())
	req := voucher.Request{
		Date:        date,
		Description: desc,
	}

	accountEntry := voucher.EntryRequest{AccountCode: acct.Code, Description: desc}
	grow := delta.IsPositive()
	if acct.IsDebitNatured() == grow {
		accountEntry.Debit = amount
	} else {
		accountEntry.Credit = amount
	}

	gain := grow == acct.IsDebitNatured()
	if acct.Direction == coa.DirectionCredit {
		// Growth of a credit-natured (liability-style) balance costs us.
		gain = !grow
	}
	pnlAccount := s.cfg.LossAccount
	pnlEntry := voucher.EntryRequest{Description: desc}
	if gain {
		pnlAccount = s.cfg.GainAccount
		pnlEntry.Credit = amount
	} else {
		pnlEntry.Debit = amount
	}
	pnlEntry.AccountCode = pnlAccount

	req.Entries = []voucher.EntryRequest{accountEntry, pnlEntry}
	return s.vouchers.SubmitAutoTx(ctx, tx, req)
}
