package cli

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/coalton-labs/ledgerd/internal/core/fx"
	"github.com/coalton-labs/ledgerd/internal/ledgererr"
)

func init() {
	fxCurrencyCmd.Flags().String("name", "", "currency display name")
	fxCurrencyCmd.Flags().String("symbol", "", "currency symbol")
	fxCurrencyCmd.Flags().Int("precision", 2, "fractional digits")
	fxRateCmd.Flags().String("type", fx.RateSpot, "rate type: spot, closing, or average")
	fxRateCmd.Flags().String("source", "manual", "where the rate came from")

	fxCmd.AddCommand(fxCurrencyCmd, fxRateCmd, fxRevalueCmd)
	rootCmd.AddCommand(fxCmd)
}

// parseDecimal converts a positional argument into a decimal, naming the
// argument in the failure.
func parseDecimal(arg, name string) (decimal.Decimal, error) {
	v, err := decimal.NewFromString(arg)
	if err != nil {
		return decimal.Zero, ledgererr.Newf(ledgererr.CodeInvalidInput,
			"%s must be numeric, got %q", name, arg)
	}
	return v, nil
}

var fxCmd = &cobra.Command{
	Use:   "fx",
	Short: "Manage currencies, rates, and period-end revaluation",
}

var fxCurrencyCmd = &cobra.Command{
	Use:   "currency <code>",
	Short: "Register a currency",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		symbol, _ := cmd.Flags().GetString("symbol")
		precision, _ := cmd.Flags().GetInt("precision")
		if name == "" {
			name = args[0]
		}
		c := fx.Currency{Code: args[0], Name: name, Symbol: symbol, Precision: precision}
		if err := a.fx.AddCurrency(ctx, c); err != nil {
			return err
		}
		return emit(c)
	}),
}

var fxRateCmd = &cobra.Command{
	Use:   "rate <currency> <date> <rate>",
	Short: "Record an exchange rate",
	Args:  cobra.ExactArgs(3),
	RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
		rate, err := parseDecimal(args[2], "rate")
		if err != nil {
			return err
		}
		rateType, _ := cmd.Flags().GetString("type")
		source, _ := cmd.Flags().GetString("source")
		if err := a.fx.SetRate(ctx, args[0], args[1], rate, rateType, source); err != nil {
			return err
		}
		return emit(map[string]any{
			"currency": args[0], "date": args[1],
			"rate": rate.Round(6).String(), "rate_type": rateType,
		})
	}),
}

var fxRevalueCmd = &cobra.Command{
	Use:   "revalue <period>",
	Short: "Revalue foreign balances at the period-end rate",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
		result, err := a.fx.Revalue(ctx, args[0])
		if err != nil {
			return err
		}
		a.trail.Record(ctx, "fx.revalue", "period", args[0], nil)
		return emit(result)
	}),
}
