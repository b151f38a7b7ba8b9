package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := LoadDefault()
	require.NoError(t, err)

	require.Equal(t, "ledger.db", cfg.Database.Path)
	require.Equal(t, 5000, cfg.Database.BusyTimeoutMS)
	require.True(t, cfg.Database.ForeignKeys)
	require.Equal(t, "info", cfg.Log.Level)
	require.Equal(t, []string{"1001", "1002"}, cfg.Accounts.Cash)
	require.Equal(t, "1122", cfg.Accounts.Receivable)
	require.Equal(t, "4104", cfg.Accounts.RetainedEarnings)
	require.Equal(t, "1601", cfg.Accounts.FixedAsset)
	require.Equal(t, "CNY", cfg.FX.FunctionalCurrency)
	require.Equal(t, "reject", cfg.Inventory.NegativePolicy)
	require.Equal(t, 50, cfg.Model.MaxIterations)
	require.InDelta(t, 0.01, cfg.Model.Tolerance, 1e-9)
	require.InDelta(t, 50, cfg.AR.ProvisionRates["90+"], 1e-9)
	require.Empty(t, cfg.Path())
}

func TestFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ledgerd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database:
  path: /var/lib/ledgerd/books.db
log:
  level: debug
inventory:
  negative_policy: allow
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "/var/lib/ledgerd/books.db", cfg.Database.Path)
	require.Equal(t, "/var/lib/ledgerd", cfg.DatabaseDir())
	require.Equal(t, "debug", cfg.Log.Level)
	require.Equal(t, "allow", cfg.Inventory.NegativePolicy)
	require.Equal(t, path, cfg.Path())

	// Untouched sections keep their defaults.
	require.Equal(t, "1122", cfg.Accounts.Receivable)
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("LEDGERD_LOG_LEVEL", "warn")
	t.Setenv("LEDGERD_DATABASE_PATH", "env.db")

	cfg, err := LoadDefault()
	require.NoError(t, err)
	require.Equal(t, "warn", cfg.Log.Level)
	require.Equal(t, "env.db", cfg.Database.Path)
}

func TestMissingConfigFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestValidationFailures(t *testing.T) {
	base := func() *Config {
		cfg, err := LoadDefault()
		require.NoError(t, err)
		return cfg
	}

	cfg := base()
	cfg.Database.Path = ""
	require.ErrorContains(t, Validate(cfg), "database.path")

	cfg = base()
	cfg.Log.Level = "loud"
	require.ErrorContains(t, Validate(cfg), "log.level")

	cfg = base()
	cfg.Inventory.NegativePolicy = "wish"
	require.ErrorContains(t, Validate(cfg), "negative_policy")

	cfg = base()
	cfg.Accounts.Cash = nil
	require.ErrorContains(t, Validate(cfg), "accounts.cash")

	cfg = base()
	cfg.Model.MaxIterations = 0
	require.ErrorContains(t, Validate(cfg), "max_iterations")

	cfg = base()
	cfg.AR.ProvisionRates = map[string]float64{"0-30": 140}
	require.ErrorContains(t, Validate(cfg), "provision_rates")
}
