// Package fixedasset is the fixed-asset sub-ledger: asset cards, monthly
// depreciation under straight-line, double-declining, or sum-of-years,
// impairment with reversal, disposal, and construction-in-progress
// transfers. Every change posts a balanced voucher.
package fixedasset

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/coalton-labs/ledgerd/internal/core/period"
	"github.com/coalton-labs/ledgerd/internal/core/voucher"
	"github.com/coalton-labs/ledgerd/internal/ledgererr"
	"github.com/coalton-labs/ledgerd/internal/storage/ledgerdb"
)

// Depreciation methods.
const (
	StraightLine    = "straight_line"
	DoubleDeclining = "double_declining"
	SumOfYears      = "sum_of_years"
)

// Asset statuses.
const (
	StatusActive   = "active"
	StatusDisposed = "disposed"
)

// Asset is one fixed-asset card.
type Asset struct {
	ID               int64           `json:"id"`
	Name             string          `json:"name"`
	Cost             decimal.Decimal `json:"cost"`
	Salvage          decimal.Decimal `json:"salvage"`
	LifeMonths       int             `json:"life_months"`
	Method           string          `json:"method"`
	AccumDep         decimal.Decimal `json:"accum_depreciation"`
	AccumImpairment  decimal.Decimal `json:"accum_impairment"`
	AcquiredAt       string          `json:"acquired_at"`
	Status           string          `json:"status"`
	MonthsDepreciated int            `json:"months_depreciated"`
}

// NetBookValue is cost less accumulated depreciation and impairment.
func (a Asset) NetBookValue() decimal.Decimal {
	return a.Cost.Sub(a.AccumDep).Sub(a.AccumImpairment)
}

// Config names the accounts asset changes post against.
type Config struct {
	AssetAccount       string
	AccumDepAccount    string
	DepExpenseAccount  string
	ImpairmentAccount  string
	ImpairmentLoss     string
	CIPAccount         string
	DisposalGainLoss   string
	CashAccount        string
}

// Service runs the fixed-asset sub-ledger.
type Service struct {
	db       *ledgerdb.DB
	vouchers *voucher.Service
	cfg      Config
	log      *zap.Logger
}

// NewService wires the fixed-asset sub-ledger.
func NewService(db *ledgerdb.DB, vouchers *voucher.Service, cfg Config, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{db: db, vouchers: vouchers, cfg: cfg, log: log}
}

// Acquire books a new asset: the card plus a voucher debiting the asset
// account against creditAccount (cash or payable).
func (s *Service) Acquire(ctx context.Context, name string, cost, salvage decimal.Decimal, lifeMonths int, method, date, creditAccount string) (*Asset, error) {
	if cost.IsZero() || cost.IsNegative() {
		return nil, ledgererr.Validation(ledgererr.CodeInvalidInput, "asset cost must be positive")
	}
	if salvage.IsNegative() || salvage.GreaterThan(cost) {
		return nil, ledgererr.Validation(ledgererr.CodeInvalidInput, "salvage must be within 0..cost")
	}
	switch method {
	case "":
		method = StraightLine
	case StraightLine, DoubleDeclining, SumOfYears:
	default:
		return nil, ledgererr.Newf(ledgererr.CodeInvalidInput, "unknown depreciation method %q", method)
	}
	if lifeMonths <= 0 {
		return nil, ledgererr.Validation(ledgererr.CodeInvalidInput, "useful life must be positive")
	}
	cost = cost.Round(2)

	var out *Asset
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		desc := fmt.Sprintf("Acquire asset %s", name)
		_, err := s.vouchers.SubmitAutoTx(ctx, tx, voucher.Request{
			Date: date, Description: desc,
			Entries: []voucher.EntryRequest{
				{AccountCode: s.cfg.AssetAccount, Description: desc, Debit: cost},
				{AccountCode: creditAccount, Description: desc, Credit: cost},
			},
		})
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO fixed_assets (name, cost, salvage, life_months, method, acquired_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			name, cost, salvage, lifeMonths, method, date)
		if err != nil {
			return ledgererr.Storage("insert asset", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return ledgererr.Storage("insert asset", err)
		}
		out = &Asset{ID: id, Name: name, Cost: cost, Salvage: salvage,
			LifeMonths: lifeMonths, Method: method, AcquiredAt: date, Status: StatusActive}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("asset acquired", zap.Int64("id", out.ID), zap.String("name", name))
	return out, nil
}

// Get fetches one asset card; ASSET_NOT_FOUND if absent.
func (s *Service) Get(ctx context.Context, id int64) (*Asset, error) {
	return getAsset(ctx, s.db.Handle(), id)
}

func getAsset(ctx context.Context, exec ledgerdb.Executor, id int64) (*Asset, error) {
	row := exec.QueryRowContext(ctx, `
		SELECT id, name, cost, salvage, life_months, method,
		       accum_depreciation, accum_impairment, acquired_at, status
		FROM fixed_assets WHERE id = ?`, id)
	var a Asset
	err := row.Scan(&a.ID, &a.Name, &a.Cost, &a.Salvage, &a.LifeMonths, &a.Method,
		&a.AccumDep, &a.AccumImpairment, &a.AcquiredAt, &a.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledgererr.Newf(ledgererr.CodeAssetNotFound, "asset %d not found", id).
			WithDetail("asset_id", id)
	}
	if err != nil {
		return nil, ledgererr.Storage("get asset", err)
	}
	months, err := monthsDepreciated(ctx, exec, id)
	if err != nil {
		return nil, err
	}
	a.MonthsDepreciated = months
	return &a, nil
}

func monthsDepreciated(ctx context.Context, exec ledgerdb.Executor, id int64) (int, error) {
	row := exec.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM fixed_asset_changes
		WHERE asset_id = ? AND change_type = 'depreciation'`, id)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, ledgererr.Storage("count depreciations", err)
	}
	return n, nil
}

// MonthlyDepreciation computes one month's charge for an asset that has
// already been depreciated for monthsDone months.
func MonthlyDepreciation(a *Asset) decimal.Decimal {
	depreciable := a.Cost.Sub(a.Salvage)
	remainingCap := depreciable.Sub(a.AccumDep)
	if remainingCap.IsNegative() || remainingCap.IsZero() || a.MonthsDepreciated >= a.LifeMonths {
		return decimal.Zero
	}

	var amount decimal.Decimal
	switch a.Method {
	case DoubleDeclining:
		// Declining rate 2/life applied to opening net book value; the
		// charge never digs below salvage.
		rate := decimal.NewFromInt(2).DivRound(decimal.NewFromInt(int64(a.LifeMonths)), 10)
		amount = a.Cost.Sub(a.AccumDep).Mul(rate)
	case SumOfYears:
		remaining := int64(a.LifeMonths - a.MonthsDepreciated)
		sum := int64(a.LifeMonths) * int64(a.LifeMonths+1) / 2
		amount = depreciable.Mul(decimal.NewFromInt(remaining)).
			DivRound(decimal.NewFromInt(sum), 10)
	default: // straight line
		amount = depreciable.DivRound(decimal.NewFromInt(int64(a.LifeMonths)), 10)
	}

	amount = amount.Round(2)
	if amount.GreaterThan(remainingCap) {
		amount = remainingCap.Round(2)
	}
	return amount
}

// DepreciateResult reports one monthly run.
type DepreciateResult struct {
	Period string                     `json:"period"`
	Total  decimal.Decimal            `json:"total"`
	Assets map[int64]decimal.Decimal  `json:"assets"`
}

// Depreciate charges one month for every active asset, posting a single
// voucher (debit depreciation expense, credit accumulated depreciation)
// and one change row per asset. Running it twice for the same period is
// a no-op for assets already charged.
func (s *Service) Depreciate(ctx context.Context, p string) (*DepreciateResult, error) {
	result := &DepreciateResult{Period: p, Assets: map[int64]decimal.Decimal{}}
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT id FROM fixed_assets WHERE status = ? ORDER BY id`, StatusActive)
		if err != nil {
			return ledgererr.Storage("list assets", err)
		}
		var ids []int64
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return ledgererr.Storage("scan asset", err)
			}
			ids = append(ids, id)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return ledgererr.Storage("list assets", err)
		}
		rows.Close()

		total := decimal.Zero
		for _, id := range ids {
			charged, err := alreadyCharged(ctx, tx, id, p)
			if err != nil {
				return err
			}
			if charged {
				continue
			}
			a, err := getAsset(ctx, tx, id)
			if err != nil {
				return err
			}
			amount := MonthlyDepreciation(a)
			if amount.IsZero() {
				continue
			}
			result.Assets[id] = amount
			total = total.Add(amount)
		}
		if total.IsZero() {
			return nil
		}

		desc := fmt.Sprintf("Depreciation for %s", p)
		v, err := s.vouchers.SubmitAutoTx(ctx, tx, voucher.Request{
			Date: period.LastDate(p), Description: desc,
			Entries: []voucher.EntryRequest{
				{AccountCode: s.cfg.DepExpenseAccount, Description: desc, Debit: total},
				{AccountCode: s.cfg.AccumDepAccount, Description: desc, Credit: total},
			},
		})
		if err != nil {
			return err
		}
		for id, amount := range result.Assets {
			if _, err := tx.ExecContext(ctx, `
				UPDATE fixed_assets SET accum_depreciation = accum_depreciation + ?
				WHERE id = ?`, amount, id); err != nil {
				return ledgererr.Storage("update asset", err)
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO fixed_asset_changes (asset_id, change_type, period, amount, voucher_id)
				VALUES (?, 'depreciation', ?, ?, ?)`, id, p, amount, v.ID); err != nil {
				return ledgererr.Storage("insert change", err)
			}
		}
		result.Total = total
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("depreciation posted", zap.String("period", p),
		zap.String("total", result.Total.String()))
	return result, nil
}

func alreadyCharged(ctx context.Context, exec ledgerdb.Executor, assetID int64, p string) (bool, error) {
	row := exec.QueryRowContext(ctx, `
		SELECT 1 FROM fixed_asset_changes
		WHERE asset_id = ? AND change_type = 'depreciation' AND period = ?`, assetID, p)
	var one int
	err := row.Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, ledgererr.Storage("check depreciation", err)
	}
	return true, nil
}

// Impair books an impairment loss against an asset, capped at net book
// value. reverse undoes prior impairment, capped at what was taken.
func (s *Service) Impair(ctx context.Context, assetID int64, amount decimal.Decimal, p string, reverse bool) error {
	if amount.IsZero() || amount.IsNegative() {
		return ledgererr.Validation(ledgererr.CodeInvalidInput, "impairment amount must be positive")
	}
	amount = amount.Round(2)

	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		a, err := getAsset(ctx, tx, assetID)
		if err != nil {
			return err
		}
		changeType := "impairment"
		if reverse {
			changeType = "impairment_reversal"
			if amount.GreaterThan(a.AccumImpairment) {
				return ledgererr.Validation(ledgererr.CodeInvalidInput,
					"reversal exceeds accumulated impairment").
					WithDetail("accumulated", a.AccumImpairment.String())
			}
		} else if amount.GreaterThan(a.NetBookValue()) {
			return ledgererr.Validation(ledgererr.CodeInvalidInput,
				"impairment exceeds net book value").
				WithDetail("net_book_value", a.NetBookValue().String())
		}

		desc := fmt.Sprintf("%s of asset %d", changeType, assetID)
		loss := voucher.EntryRequest{AccountCode: s.cfg.ImpairmentLoss, Description: desc}
		contra := voucher.EntryRequest{AccountCode: s.cfg.ImpairmentAccount, Description: desc}
		delta := amount
		if reverse {
			contra.Debit = amount
			loss.Credit = amount
			delta = amount.Neg()
		} else {
			loss.Debit = amount
			contra.Credit = amount
		}
		v, err := s.vouchers.SubmitAutoTx(ctx, tx, voucher.Request{
			Date: period.LastDate(p), Description: desc,
			Entries: []voucher.EntryRequest{loss, contra},
		})
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE fixed_assets SET accum_impairment = accum_impairment + ?
			WHERE id = ?`, delta, assetID); err != nil {
			return ledgererr.Storage("update asset", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO fixed_asset_changes (asset_id, change_type, period, amount, voucher_id)
			VALUES (?, ?, ?, ?, ?)`, assetID, changeType, p, amount, v.ID); err != nil {
			return ledgererr.Storage("insert change", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.log.Info("impairment booked", zap.Int64("asset", assetID),
		zap.String("amount", amount.String()), zap.Bool("reverse", reverse))
	return nil
}

// Dispose retires an asset: clears cost, accumulated depreciation and
// impairment, books proceeds to cash, and plugs the gain or loss.
func (s *Service) Dispose(ctx context.Context, assetID int64, proceeds decimal.Decimal, date string) error {
	if proceeds.IsNegative() {
		return ledgererr.Validation(ledgererr.CodeInvalidInput, "proceeds must be non-negative")
	}
	proceeds = proceeds.Round(2)

	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		a, err := getAsset(ctx, tx, assetID)
		if err != nil {
			return err
		}
		if a.Status != StatusActive {
			return ledgererr.State(ledgererr.CodeInvalidInput,
				fmt.Sprintf("asset %d is already %s", assetID, a.Status))
		}

		desc := fmt.Sprintf("Dispose asset %d", assetID)
		entries := []voucher.EntryRequest{
			{AccountCode: s.cfg.AssetAccount, Description: desc, Credit: a.Cost},
		}
		if !proceeds.IsZero() {
			entries = append(entries, voucher.EntryRequest{
				AccountCode: s.cfg.CashAccount, Description: desc, Debit: proceeds})
		}
		if !a.AccumDep.IsZero() {
			entries = append(entries, voucher.EntryRequest{
				AccountCode: s.cfg.AccumDepAccount, Description: desc, Debit: a.AccumDep})
		}
		if !a.AccumImpairment.IsZero() {
			entries = append(entries, voucher.EntryRequest{
				AccountCode: s.cfg.ImpairmentAccount, Description: desc, Debit: a.AccumImpairment})
		}
		// Plug: proceeds above net book value is a gain (credit), below
		// is a loss (debit).
		plug := proceeds.Sub(a.NetBookValue())
		if !plug.IsZero() {
			gl := voucher.EntryRequest{AccountCode: s.cfg.DisposalGainLoss, Description: desc}
			if plug.IsPositive() {
				gl.Credit = plug
			} else {
				gl.Debit = plug.Neg()
			}
			entries = append(entries, gl)
		}
		if _, err := s.vouchers.SubmitAutoTx(ctx, tx, voucher.Request{
			Date: date, Description: desc, Entries: entries,
		}); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE fixed_assets SET status = ? WHERE id = ?`, StatusDisposed, assetID); err != nil {
			return ledgererr.Storage("update asset", err)
		}
		p, perr := period.Of(date)
		if perr != nil {
			return perr
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO fixed_asset_changes (asset_id, change_type, period, amount)
			VALUES (?, 'disposal', ?, ?)`, assetID, p, proceeds); err != nil {
			return ledgererr.Storage("insert change", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.log.Info("asset disposed", zap.Int64("asset", assetID),
		zap.String("proceeds", proceeds.String()))
	return nil
}

// CIPProject is one construction-in-progress cost pool.
type CIPProject struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	Cost        decimal.Decimal `json:"cost"`
	Transferred decimal.Decimal `json:"transferred"`
	Status      string          `json:"status"`
}

// CreateCIP opens a project.
func (s *Service) CreateCIP(ctx context.Context, name string) (*CIPProject, error) {
	res, err := s.db.Exec(ctx,
		`INSERT INTO cip_projects (name) VALUES (?)`, name)
	if err != nil {
		return nil, ledgererr.Storage("create cip project", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, ledgererr.Storage("create cip project", err)
	}
	return &CIPProject{ID: id, Name: name, Status: "ongoing"}, nil
}

// AddCIPCost accumulates cost on a project (debit CIP, credit the source).
func (s *Service) AddCIPCost(ctx context.Context, projectID int64, amount decimal.Decimal, date, creditAccount string) error {
	if amount.IsZero() || amount.IsNegative() {
		return ledgererr.Validation(ledgererr.CodeInvalidInput, "cip cost must be positive")
	}
	amount = amount.Round(2)
	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		desc := fmt.Sprintf("CIP cost for project %d", projectID)
		if _, err := s.vouchers.SubmitAutoTx(ctx, tx, voucher.Request{
			Date: date, Description: desc,
			Entries: []voucher.EntryRequest{
				{AccountCode: s.cfg.CIPAccount, Description: desc, Debit: amount},
				{AccountCode: creditAccount, Description: desc, Credit: amount},
			},
		}); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE cip_projects SET cost = cost + ? WHERE id = ? AND status = 'ongoing'`,
			amount, projectID)
		if err != nil {
			return ledgererr.Storage("update cip project", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ledgererr.Newf(ledgererr.CodeAssetNotFound,
				"cip project %d not found or completed", projectID)
		}
		return nil
	})
}

// TransferCIP moves amount (or the whole remaining pool when amount is
// zero) from a project into a new fixed asset. A full transfer completes
// the project.
func (s *Service) TransferCIP(ctx context.Context, projectID int64, amount decimal.Decimal, name string, salvage decimal.Decimal, lifeMonths int, method, date string) (*Asset, error) {
	var out *Asset
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			SELECT cost, transferred FROM cip_projects
			WHERE id = ? AND status = 'ongoing'`, projectID)
		var cost, transferred decimal.Decimal
		err := row.Scan(&cost, &transferred)
		if errors.Is(err, sql.ErrNoRows) {
			return ledgererr.Newf(ledgererr.CodeAssetNotFound,
				"cip project %d not found or completed", projectID)
		}
		if err != nil {
			return ledgererr.Storage("get cip project", err)
		}
		remaining := cost.Sub(transferred)
		if amount.IsZero() {
			amount = remaining
		}
		if amount.IsNegative() || amount.GreaterThan(remaining) {
			return ledgererr.Validation(ledgererr.CodeInvalidInput,
				"transfer exceeds remaining cip cost").
				WithDetail("remaining", remaining.String())
		}
		amount = amount.Round(2)

		desc := fmt.Sprintf("CIP transfer from project %d", projectID)
		v, err := s.vouchers.SubmitAutoTx(ctx, tx, voucher.Request{
			Date: date, Description: desc,
			Entries: []voucher.EntryRequest{
				{AccountCode: s.cfg.AssetAccount, Description: desc, Debit: amount},
				{AccountCode: s.cfg.CIPAccount, Description: desc, Credit: amount},
			},
		})
		if err != nil {
			return err
		}
		if method == "" {
			method = StraightLine
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO fixed_assets (name, cost, salvage, life_months, method, acquired_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			name, amount, salvage, lifeMonths, method, date)
		if err != nil {
			return ledgererr.Storage("insert asset", err)
		}
		assetID, err := res.LastInsertId()
		if err != nil {
			return ledgererr.Storage("insert asset", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO cip_transfers (project_id, asset_id, amount, date, voucher_id)
			VALUES (?, ?, ?, ?, ?)`, projectID, assetID, amount, date, v.ID); err != nil {
			return ledgererr.Storage("insert transfer", err)
		}
		newTransferred := transferred.Add(amount)
		status := "ongoing"
		if newTransferred.Equal(cost) {
			status = "completed"
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE cip_projects SET transferred = ?, status = ? WHERE id = ?`,
			newTransferred, status, projectID); err != nil {
			return ledgererr.Storage("update cip project", err)
		}
		out = &Asset{ID: assetID, Name: name, Cost: amount, Salvage: salvage,
			LifeMonths: lifeMonths, Method: method, AcquiredAt: date, Status: StatusActive}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("cip transferred", zap.Int64("project", projectID),
		zap.Int64("asset", out.ID), zap.String("amount", out.Cost.String()))
	return out, nil
}
