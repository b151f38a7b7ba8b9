// Package config loads and validates ledgerd configuration. Settings are
// layered: built-in defaults, then an optional config file, then LEDGERD_*
// environment variables, each overriding the previous layer.
package config

import (
	"path/filepath"
)

// Config is the complete runtime configuration.
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Log       LogConfig       `mapstructure:"log"`
	Accounts  AccountsConfig  `mapstructure:"accounts"`
	FX        FXConfig        `mapstructure:"fx"`
	AR        ARConfig        `mapstructure:"ar"`
	Inventory InventoryConfig `mapstructure:"inventory"`
	Report    ReportConfig    `mapstructure:"report"`
	Model     ModelConfig     `mapstructure:"model"`

	configPath string
}

// DatabaseConfig locates the ledger file.
type DatabaseConfig struct {
	Path          string `mapstructure:"path"`
	BusyTimeoutMS int    `mapstructure:"busy_timeout_ms"`
	ForeignKeys   bool   `mapstructure:"foreign_keys"`
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// AccountsConfig names the control accounts posting rules hang off.
type AccountsConfig struct {
	Cash              []string `mapstructure:"cash"`
	Receivable        string   `mapstructure:"receivable"`
	Payable           string   `mapstructure:"payable"`
	Inventory         string   `mapstructure:"inventory"`
	CostOfSales       string   `mapstructure:"cost_of_sales"`
	BadDebtExpense    string   `mapstructure:"bad_debt_expense"`
	BadDebtProvision  string   `mapstructure:"bad_debt_provision"`
	CurrentYearProfit string   `mapstructure:"current_year_profit"`
	RetainedEarnings  string   `mapstructure:"retained_earnings"`

	FixedAsset          string `mapstructure:"fixed_asset"`
	AccumDepreciation   string `mapstructure:"accum_depreciation"`
	DepreciationExpense string `mapstructure:"depreciation_expense"`
	Impairment          string `mapstructure:"impairment"`
	ImpairmentLoss      string `mapstructure:"impairment_loss"`
	CIP                 string `mapstructure:"cip"`
	DisposalGainLoss    string `mapstructure:"disposal_gain_loss"`
}

// FXConfig configures currency revaluation.
type FXConfig struct {
	FunctionalCurrency string   `mapstructure:"functional_currency"`
	GainAccount        string   `mapstructure:"gain_account"`
	LossAccount        string   `mapstructure:"loss_account"`
	RevaluableAccounts []string `mapstructure:"revaluable_accounts"`
	RateCacheSize      int      `mapstructure:"rate_cache_size"`
}

// ARConfig sets receivable aging provision rates per bucket, in percent.
type ARConfig struct {
	ProvisionRates map[string]float64 `mapstructure:"provision_rates"`
}

// InventoryConfig sets the negative-stock admission policy.
type InventoryConfig struct {
	// NegativePolicy is "reject" or "allow". Under "allow", an issue that
	// would drive quantity negative posts at the last known cost and
	// records a pending cost adjustment settled by the next receipt.
	NegativePolicy string `mapstructure:"negative_policy"`
}

// ReportConfig locates the statement mapping file.
type ReportConfig struct {
	MappingPath string `mapstructure:"mapping_path"`
}

// ModelConfig tunes the model-mode iteration.
type ModelConfig struct {
	MaxIterations int     `mapstructure:"max_iterations"`
	Tolerance     float64 `mapstructure:"tolerance"`
}

// Path returns the config file this configuration was loaded from, or ""
// when only defaults and environment were used.
func (c *Config) Path() string { return c.configPath }

// DatabaseDir returns the directory holding the ledger file.
func (c *Config) DatabaseDir() string {
	return filepath.Dir(c.Database.Path)
}
