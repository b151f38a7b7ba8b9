// Package cli holds the ledgerd command tree. Commands speak JSON:
// requests come from stdin or flags, results go to stdout, and every
// failure renders the structured {error, code, message, details}
// envelope.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/coalton-labs/ledgerd/internal/audit"
	"github.com/coalton-labs/ledgerd/internal/config"
	"github.com/coalton-labs/ledgerd/internal/core/arap"
	"github.com/coalton-labs/ledgerd/internal/core/closing"
	"github.com/coalton-labs/ledgerd/internal/core/coa"
	"github.com/coalton-labs/ledgerd/internal/core/fixedasset"
	"github.com/coalton-labs/ledgerd/internal/core/fx"
	"github.com/coalton-labs/ledgerd/internal/core/inventory"
	"github.com/coalton-labs/ledgerd/internal/core/report"
	"github.com/coalton-labs/ledgerd/internal/core/template"
	"github.com/coalton-labs/ledgerd/internal/core/voucher"
	"github.com/coalton-labs/ledgerd/internal/ledgererr"
	"github.com/coalton-labs/ledgerd/internal/storage/ledgerdb"
)

var (
	configFile string
	debug      bool
)

var rootCmd = &cobra.Command{
	Use:   "ledgerd",
	Short: "ledgerd - double-entry ledger and statement engine",
	Long: `ledgerd keeps a double-entry general ledger in a single SQLite file:
vouchers with a draft/reviewed/confirmed/voided lifecycle, a materialized
balance index, period closing with templates, AR/AP, inventory, fixed
assets and FX sub-ledgers, and a statement engine that derives the three
financial statements or runs the standalone five-step reconciliation
model.`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the command tree. Structured errors render as the JSON
// envelope; anything else as a plain message.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		var le *ledgererr.Error
		if errors.As(err, &le) {
			enc := json.NewEncoder(os.Stderr)
			enc.SetIndent("", "  ")
			_ = enc.Encode(le.Envelope())
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "conf", "", "configuration file path")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
}

// app is one opened ledger with every service wired over it.
type app struct {
	cfg       *config.Config
	log       *zap.Logger
	db        *ledgerdb.DB
	accounts  *coa.Store
	vouchers  *voucher.Service
	templates *template.Service
	closings  *closing.Engine
	fx        *fx.Service
	arap      *arap.Service
	inventory *inventory.Service
	assets    *fixedasset.Service
	reports   *report.Service
	trail     *audit.Trail
}

func openApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	log, err := buildLogger(cfg.Log)
	if err != nil {
		return nil, err
	}

	db, err := ledgerdb.Open(ctx, ledgerdb.Config{
		Path:        cfg.Database.Path,
		BusyTimeout: time.Duration(cfg.Database.BusyTimeoutMS) * time.Millisecond,
		ForeignKeys: cfg.Database.ForeignKeys,
	}, log)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, log: log, db: db}
	a.accounts = coa.NewStore(db.Handle())
	if err := a.accounts.Seed(ctx); err != nil {
		db.Close()
		return nil, err
	}
	for _, code := range cfg.FX.RevaluableAccounts {
		if err := a.accounts.SetRevaluable(ctx, code, true); err != nil {
			db.Close()
			return nil, err
		}
	}

	a.vouchers = voucher.NewService(db, log)
	a.templates = template.NewService(db, a.vouchers, log)
	a.closings = closing.NewEngine(db, a.vouchers, log)
	a.fx, err = fx.NewService(db, a.vouchers, fx.Config{
		FunctionalCurrency: cfg.FX.FunctionalCurrency,
		GainAccount:        cfg.FX.GainAccount,
		LossAccount:        cfg.FX.LossAccount,
	}, cfg.FX.RateCacheSize, log)
	if err != nil {
		db.Close()
		return nil, err
	}
	cash := ""
	if len(cfg.Accounts.Cash) > 0 {
		cash = cfg.Accounts.Cash[0]
	}
	a.arap = arap.NewService(db, a.vouchers, arap.Config{
		ReceivableAccount: cfg.Accounts.Receivable,
		PayableAccount:    cfg.Accounts.Payable,
		CashAccount:       cash,
		BadDebtExpense:    cfg.Accounts.BadDebtExpense,
		BadDebtProvision:  cfg.Accounts.BadDebtProvision,
		ProvisionRates:    cfg.AR.ProvisionRates,
	}, log)
	a.inventory = inventory.NewService(db, a.vouchers, inventory.Config{
		InventoryAccount: cfg.Accounts.Inventory,
		ReceiptCredit:    cfg.Accounts.Payable,
		IssueDebit:       cfg.Accounts.CostOfSales,
		VarianceAccount:  cfg.Accounts.CostOfSales,
		NegativePolicy:   cfg.Inventory.NegativePolicy,
	}, log)
	a.assets = fixedasset.NewService(db, a.vouchers, fixedasset.Config{
		AssetAccount:      cfg.Accounts.FixedAsset,
		AccumDepAccount:   cfg.Accounts.AccumDepreciation,
		DepExpenseAccount: cfg.Accounts.DepreciationExpense,
		ImpairmentAccount: cfg.Accounts.Impairment,
		ImpairmentLoss:    cfg.Accounts.ImpairmentLoss,
		CIPAccount:        cfg.Accounts.CIP,
		DisposalGainLoss:  cfg.Accounts.DisposalGainLoss,
		CashAccount:       cash,
	}, log)

	mapping := report.DefaultMapping()
	if cfg.Report.MappingPath != "" {
		mapping, err = report.LoadMapping(cfg.Report.MappingPath)
		if err != nil {
			db.Close()
			return nil, err
		}
	}
	a.reports = report.NewService(db, mapping, log)
	a.trail = audit.New(db, log)
	return a, nil
}

func (a *app) close() {
	_ = a.log.Sync()
	_ = a.db.Close()
}

// withApp opens the ledger around one command invocation.
func withApp(fn func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()
		return fn(ctx, a, cmd, args)
	}
}

func buildLogger(cfg config.LogConfig) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	level := cfg.Level
	if debug {
		level = "debug"
	}
	parsed, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	zc.Level = zap.NewAtomicLevelAt(parsed)
	zc.OutputPaths = []string{"stderr"}
	zc.ErrorOutputPaths = []string{"stderr"}
	return zc.Build()
}

// emit renders a command result as indented JSON on stdout.
func emit(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// readInput decodes JSON from a file flag or stdin into dst.
func readInput(path string, dst any) error {
	var data []byte
	var err error
	if path != "" && path != "-" {
		data, err = os.ReadFile(path)
	} else {
		data, err = readAllStdin()
	}
	if err != nil {
		return ledgererr.Validation(ledgererr.CodeInvalidInput, "cannot read input").WithCause(err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		var le *ledgererr.Error
		if errors.As(err, &le) {
			return le
		}
		return ledgererr.Validation(ledgererr.CodeInvalidInput, "malformed JSON input").WithCause(err)
	}
	return nil
}

func readAllStdin() ([]byte, error) {
	return io.ReadAll(os.Stdin)
}
