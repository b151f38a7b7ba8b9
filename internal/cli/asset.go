package cli

import (
	"context"
	"strconv"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/coalton-labs/ledgerd/internal/core/fixedasset"
	"github.com/coalton-labs/ledgerd/internal/ledgererr"
)

func init() {
	assetAcquireCmd.Flags().String("name", "", "asset name")
	assetAcquireCmd.Flags().String("cost", "", "acquisition cost")
	assetAcquireCmd.Flags().String("salvage", "0", "salvage value")
	assetAcquireCmd.Flags().Int("life", 0, "useful life in months")
	assetAcquireCmd.Flags().String("method", fixedasset.StraightLine,
		"depreciation method: straight_line, double_declining, or sum_of_years")
	assetAcquireCmd.Flags().String("date", "", "acquisition date YYYY-MM-DD")
	assetAcquireCmd.Flags().String("credit", "", "credit account (cash or payable)")
	assetImpairCmd.Flags().String("period", "", "period YYYY-MM")
	assetImpairCmd.Flags().Bool("reverse", false, "reverse prior impairment")
	assetDisposeCmd.Flags().String("proceeds", "0", "disposal proceeds")
	assetDisposeCmd.Flags().String("date", "", "disposal date YYYY-MM-DD")

	cipCostCmd.Flags().String("date", "", "cost date YYYY-MM-DD")
	cipCostCmd.Flags().String("credit", "", "credit account")
	cipTransferCmd.Flags().String("amount", "0", "amount to transfer (0 = remaining)")
	cipTransferCmd.Flags().String("name", "", "new asset name")
	cipTransferCmd.Flags().String("salvage", "0", "salvage value")
	cipTransferCmd.Flags().Int("life", 0, "useful life in months")
	cipTransferCmd.Flags().String("method", fixedasset.StraightLine, "depreciation method")
	cipTransferCmd.Flags().String("date", "", "transfer date YYYY-MM-DD")

	assetCmd.AddCommand(assetAcquireCmd, assetGetCmd, assetDepreciateCmd,
		assetImpairCmd, assetDisposeCmd)
	cipCmd.AddCommand(cipCreateCmd, cipCostCmd, cipTransferCmd)
	rootCmd.AddCommand(assetCmd, cipCmd)
}

func parseAssetID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, ledgererr.Newf(ledgererr.CodeInvalidInput, "invalid asset id %q", arg)
	}
	return id, nil
}

var assetCmd = &cobra.Command{
	Use:   "asset",
	Short: "Fixed-asset sub-ledger: cards, depreciation, impairment, disposal",
}

var assetAcquireCmd = &cobra.Command{
	Use:   "acquire",
	Short: "Book a new fixed asset",
	Args:  cobra.NoArgs,
	RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		costStr, _ := cmd.Flags().GetString("cost")
		salvageStr, _ := cmd.Flags().GetString("salvage")
		life, _ := cmd.Flags().GetInt("life")
		method, _ := cmd.Flags().GetString("method")
		date, _ := cmd.Flags().GetString("date")
		credit, _ := cmd.Flags().GetString("credit")
		cost, err := parseDecimal(costStr, "cost")
		if err != nil {
			return err
		}
		salvage, err := parseDecimal(salvageStr, "salvage")
		if err != nil {
			return err
		}
		asset, err := a.assets.Acquire(ctx, name, cost, salvage, life, method, date, credit)
		if err != nil {
			return err
		}
		return emit(asset)
	}),
}

var assetGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Fetch one asset card",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
		id, err := parseAssetID(args[0])
		if err != nil {
			return err
		}
		asset, err := a.assets.Get(ctx, id)
		if err != nil {
			return err
		}
		return emit(asset)
	}),
}

var assetDepreciateCmd = &cobra.Command{
	Use:   "depreciate <period>",
	Short: "Post one month of depreciation for every active asset",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
		result, err := a.assets.Depreciate(ctx, args[0])
		if err != nil {
			return err
		}
		a.trail.Record(ctx, "asset.depreciate", "period", args[0], nil)
		return emit(result)
	}),
}

var assetImpairCmd = &cobra.Command{
	Use:   "impair <id> <amount>",
	Short: "Book or reverse an impairment loss",
	Args:  cobra.ExactArgs(2),
	RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
		id, err := parseAssetID(args[0])
		if err != nil {
			return err
		}
		amount, err := parseDecimal(args[1], "amount")
		if err != nil {
			return err
		}
		p, _ := cmd.Flags().GetString("period")
		reverse, _ := cmd.Flags().GetBool("reverse")
		if err := a.assets.Impair(ctx, id, amount, p, reverse); err != nil {
			return err
		}
		return emit(map[string]any{"asset": id, "amount": amount.String(), "reverse": reverse})
	}),
}

var assetDisposeCmd = &cobra.Command{
	Use:   "dispose <id>",
	Short: "Retire an asset and book the gain or loss",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
		id, err := parseAssetID(args[0])
		if err != nil {
			return err
		}
		proceedsStr, _ := cmd.Flags().GetString("proceeds")
		date, _ := cmd.Flags().GetString("date")
		proceeds, err := parseDecimal(proceedsStr, "proceeds")
		if err != nil {
			return err
		}
		if err := a.assets.Dispose(ctx, id, proceeds, date); err != nil {
			return err
		}
		return emit(map[string]any{"asset": id, "disposed": true, "proceeds": proceeds.String()})
	}),
}

var cipCmd = &cobra.Command{
	Use:   "cip",
	Short: "Construction-in-progress projects",
}

var cipCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Open a CIP project",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
		project, err := a.assets.CreateCIP(ctx, args[0])
		if err != nil {
			return err
		}
		return emit(project)
	}),
}

var cipCostCmd = &cobra.Command{
	Use:   "cost <project-id> <amount>",
	Short: "Accumulate cost on a CIP project",
	Args:  cobra.ExactArgs(2),
	RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
		id, err := parseAssetID(args[0])
		if err != nil {
			return err
		}
		amount, err := parseDecimal(args[1], "amount")
		if err != nil {
			return err
		}
		date, _ := cmd.Flags().GetString("date")
		credit, _ := cmd.Flags().GetString("credit")
		if err := a.assets.AddCIPCost(ctx, id, amount, date, credit); err != nil {
			return err
		}
		return emit(map[string]any{"project": id, "amount": amount.String()})
	}),
}

var cipTransferCmd = &cobra.Command{
	Use:   "transfer <project-id>",
	Short: "Transfer CIP cost into a new fixed asset",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
		id, err := parseAssetID(args[0])
		if err != nil {
			return err
		}
		amountStr, _ := cmd.Flags().GetString("amount")
		name, _ := cmd.Flags().GetString("name")
		salvageStr, _ := cmd.Flags().GetString("salvage")
		life, _ := cmd.Flags().GetInt("life")
		method, _ := cmd.Flags().GetString("method")
		date, _ := cmd.Flags().GetString("date")
		amount, err := parseDecimal(amountStr, "amount")
		if err != nil {
			return err
		}
		var salvage decimal.Decimal
		if salvage, err = parseDecimal(salvageStr, "salvage"); err != nil {
			return err
		}
		asset, err := a.assets.TransferCIP(ctx, id, amount, name, salvage, life, method, date)
		if err != nil {
			return err
		}
		return emit(asset)
	}),
}
