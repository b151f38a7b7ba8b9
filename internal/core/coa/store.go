package coa

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/coalton-labs/ledgerd/internal/ledgererr"
	"github.com/coalton-labs/ledgerd/internal/storage/ledgerdb"
)

// Store persists accounts and dimensions.
type Store struct {
	exec ledgerdb.Executor
}

// NewStore returns a Store over the given executor.
func NewStore(exec ledgerdb.Executor) *Store {
	return &Store{exec: exec}
}

// WithExecutor returns a Store bound to another executor, typically a
// transaction scope.
func (s *Store) WithExecutor(exec ledgerdb.Executor) *Store {
	return &Store{exec: exec}
}

// GetAccount fetches one account by code. A missing code returns
// ACCOUNT_NOT_FOUND.
func (s *Store) GetAccount(ctx context.Context, code string) (*Account, error) {
	row := s.exec.QueryRowContext(ctx, `
		SELECT code, name, level, COALESCE(parent_code, ''), type, direction,
		       cash_flow, is_enabled, is_system, is_revaluable
		FROM accounts WHERE code = ?`, code)

	var a Account
	err := row.Scan(&a.Code, &a.Name, &a.Level, &a.ParentCode, &a.Type,
		&a.Direction, &a.CashFlow, &a.Enabled, &a.System, &a.Revaluable)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledgererr.Newf(ledgererr.CodeAccountNotFound, "account %s not found", code).
			WithDetail("account_code", code)
	}
	if err != nil {
		return nil, ledgererr.Storage("get account", err)
	}
	return &a, nil
}

// RequireEnabled fetches an account and rejects disabled ones.
func (s *Store) RequireEnabled(ctx context.Context, code string) (*Account, error) {
	a, err := s.GetAccount(ctx, code)
	if err != nil {
		return nil, err
	}
	if !a.Enabled {
		return nil, ledgererr.State(ledgererr.CodeAccountDisabled,
			fmt.Sprintf("account %s is disabled", code)).
			WithDetail("account_code", code)
	}
	return a, nil
}

// CreateAccount inserts a new account. The parent, when named, must exist
// and share the account type.
func (s *Store) CreateAccount(ctx context.Context, a Account) error {
	if a.Code == "" || a.Name == "" {
		return ledgererr.Validation(ledgererr.CodeInvalidInput, "account code and name are required")
	}
	if !validAccountType(a.Type) {
		return ledgererr.Newf(ledgererr.CodeInvalidInput, "unknown account type %q", a.Type)
	}
	if a.Direction != DirectionDebit && a.Direction != DirectionCredit {
		return ledgererr.Newf(ledgererr.CodeInvalidInput, "unknown direction %q", a.Direction)
	}
	if a.CashFlow == "" {
		a.CashFlow = CashFlowNone
	}
	if a.ParentCode != "" {
		parent, err := s.GetAccount(ctx, a.ParentCode)
		if err != nil {
			return err
		}
		if parent.Type != a.Type {
			return ledgererr.Newf(ledgererr.CodeInvalidInput,
				"parent %s has type %s, child has %s", parent.Code, parent.Type, a.Type)
		}
		if a.Level == 0 {
			a.Level = parent.Level + 1
		}
	}
	if a.Level == 0 {
		a.Level = 1
	}

	_, err := s.exec.ExecContext(ctx, `
		INSERT INTO accounts
		  (code, name, level, parent_code, type, direction, cash_flow,
		   is_enabled, is_system, is_revaluable)
		VALUES (?, ?, ?, NULLIF(?, ''), ?, ?, ?, ?, ?, ?)`,
		a.Code, a.Name, a.Level, a.ParentCode, a.Type, a.Direction, a.CashFlow,
		a.Enabled, a.System, a.Revaluable)
	if err != nil {
		return ledgererr.Storage("create account", err)
	}
	return nil
}

// SetAccountEnabled toggles an account. Accounts are never deleted; a
// posted-to account is disabled instead.
func (s *Store) SetAccountEnabled(ctx context.Context, code string, enabled bool) error {
	res, err := s.exec.ExecContext(ctx,
		`UPDATE accounts SET is_enabled = ? WHERE code = ?`, enabled, code)
	if err != nil {
		return ledgererr.Storage("toggle account", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ledgererr.Newf(ledgererr.CodeAccountNotFound, "account %s not found", code)
	}
	return nil
}

// SetRevaluable marks or unmarks an account for period-end FX revaluation.
func (s *Store) SetRevaluable(ctx context.Context, code string, revaluable bool) error {
	res, err := s.exec.ExecContext(ctx,
		`UPDATE accounts SET is_revaluable = ? WHERE code = ?`, revaluable, code)
	if err != nil {
		return ledgererr.Storage("mark revaluable", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ledgererr.Newf(ledgererr.CodeAccountNotFound, "account %s not found", code)
	}
	return nil
}

// ListAccounts returns accounts, optionally filtered by type, ordered by code.
func (s *Store) ListAccounts(ctx context.Context, accountType string) ([]Account, error) {
	query := `
		SELECT code, name, level, COALESCE(parent_code, ''), type, direction,
		       cash_flow, is_enabled, is_system, is_revaluable
		FROM accounts`
	var args []any
	if accountType != "" {
		query += ` WHERE type = ?`
		args = append(args, accountType)
	}
	query += ` ORDER BY code`

	rows, err := s.exec.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, ledgererr.Storage("list accounts", err)
	}
	defer rows.Close()

	var out []Account
	for rows.Next() {
		var a Account
		if err := rows.Scan(&a.Code, &a.Name, &a.Level, &a.ParentCode, &a.Type,
			&a.Direction, &a.CashFlow, &a.Enabled, &a.System, &a.Revaluable); err != nil {
			return nil, ledgererr.Storage("scan account", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, ledgererr.Storage("list accounts", err)
	}
	return out, nil
}

// ListRevaluable returns enabled accounts marked for FX revaluation.
func (s *Store) ListRevaluable(ctx context.Context) ([]Account, error) {
	accounts, err := s.ListAccounts(ctx, "")
	if err != nil {
		return nil, err
	}
	var out []Account
	for _, a := range accounts {
		if a.Enabled && a.Revaluable {
			out = append(out, a)
		}
	}
	return out, nil
}

// AccountTypeDirection returns the default normal side for an account type.
func AccountTypeDirection(accountType string) string {
	switch accountType {
	case TypeAsset, TypeExpense:
		return DirectionDebit
	default:
		return DirectionCredit
	}
}

func validAccountType(t string) bool {
	switch t {
	case TypeAsset, TypeLiability, TypeEquity, TypeRevenue, TypeExpense:
		return true
	}
	return false
}

// CreateDimension inserts a dimension member and returns its id.
func (s *Store) CreateDimension(ctx context.Context, d Dimension) (int64, error) {
	if !validDimensionType(d.Type) {
		return 0, ledgererr.Newf(ledgererr.CodeInvalidInput, "unknown dimension type %q", d.Type)
	}
	if d.Code == "" || d.Name == "" {
		return 0, ledgererr.Validation(ledgererr.CodeInvalidInput, "dimension code and name are required")
	}
	res, err := s.exec.ExecContext(ctx, `
		INSERT INTO dimensions (type, code, name, is_enabled) VALUES (?, ?, ?, 1)`,
		d.Type, d.Code, d.Name)
	if err != nil {
		return 0, ledgererr.Storage("create dimension", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, ledgererr.Storage("create dimension", err)
	}
	return id, nil
}

// GetDimension fetches one dimension by id. Id 0 is the absent sentinel and
// is rejected here; callers treat 0 as "no reference" before lookup.
func (s *Store) GetDimension(ctx context.Context, id int64) (*Dimension, error) {
	row := s.exec.QueryRowContext(ctx,
		`SELECT id, type, code, name, is_enabled FROM dimensions WHERE id = ?`, id)
	var d Dimension
	err := row.Scan(&d.ID, &d.Type, &d.Code, &d.Name, &d.Enabled)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledgererr.Newf(ledgererr.CodeDimensionNotFound, "dimension %d not found", id).
			WithDetail("dimension_id", id)
	}
	if err != nil {
		return nil, ledgererr.Storage("get dimension", err)
	}
	return &d, nil
}

// FindDimension resolves a (type, code) pair to its id.
func (s *Store) FindDimension(ctx context.Context, dimType, code string) (int64, error) {
	row := s.exec.QueryRowContext(ctx,
		`SELECT id FROM dimensions WHERE type = ? AND code = ?`, dimType, code)
	var id int64
	err := row.Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ledgererr.Newf(ledgererr.CodeDimensionNotFound,
			"dimension %s/%s not found", dimType, code).
			WithDetail("dimension_type", dimType).
			WithDetail("dimension_code", code)
	}
	if err != nil {
		return 0, ledgererr.Storage("find dimension", err)
	}
	return id, nil
}

// ValidateDimensions checks that every non-zero reference exists, is
// enabled, and has the expected type.
func (s *Store) ValidateDimensions(ctx context.Context, set DimensionSet) error {
	refs := []struct {
		id      int64
		dimType string
	}{
		{set.DeptID, DimDepartment},
		{set.ProjectID, DimProject},
		{set.CustomerID, DimCustomer},
		{set.SupplierID, DimSupplier},
		{set.EmployeeID, DimEmployee},
	}
	for _, ref := range refs {
		if ref.id == 0 {
			continue
		}
		d, err := s.GetDimension(ctx, ref.id)
		if err != nil {
			return err
		}
		if d.Type != ref.dimType {
			return ledgererr.Newf(ledgererr.CodeDimensionNotFound,
				"dimension %d has type %s, expected %s", ref.id, d.Type, ref.dimType)
		}
		if !d.Enabled {
			return ledgererr.Newf(ledgererr.CodeDimensionNotFound,
				"dimension %d (%s/%s) is disabled", d.ID, d.Type, d.Code)
		}
	}
	return nil
}

func validDimensionType(t string) bool {
	for _, known := range DimensionTypes {
		if t == known {
			return true
		}
	}
	return false
}

// MatchPrefix reports whether code falls under any of the given prefixes.
func MatchPrefix(code string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(code, p) {
			return true
		}
	}
	return false
}
