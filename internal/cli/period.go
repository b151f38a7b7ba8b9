package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/coalton-labs/ledgerd/internal/core/period"
)

func init() {
	rootCmd.AddCommand(closeCmd, reopenCmd, periodsCmd, adjustCmd)
}

var closeCmd = &cobra.Command{
	Use:   "close <period>",
	Short: "Close a period: run closing templates and roll balances forward",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
		result, err := a.closings.Close(ctx, args[0])
		if err != nil {
			return err
		}
		a.trail.Record(ctx, "period.close", "period", args[0], nil)
		return emit(result)
	}),
}

var reopenCmd = &cobra.Command{
	Use:   "reopen <period>",
	Short: "Reopen a closed period, reversing its closing vouchers",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
		if err := a.closings.Reopen(ctx, args[0]); err != nil {
			return err
		}
		a.trail.Record(ctx, "period.reopen", "period", args[0], nil)
		return emit(map[string]any{"period": args[0], "status": period.StatusOpen})
	}),
}

var adjustCmd = &cobra.Command{
	Use:   "adjust <period>",
	Short: "Put an open period into adjustment mode",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
		periods := period.NewStore(a.db.Handle())
		if _, err := periods.Ensure(ctx, args[0]); err != nil {
			return err
		}
		if err := periods.SetStatus(ctx, args[0], period.StatusAdjustment); err != nil {
			return err
		}
		return emit(map[string]any{"period": args[0], "status": period.StatusAdjustment})
	}),
}

var periodsCmd = &cobra.Command{
	Use:   "periods",
	Short: "List known periods and their statuses",
	Args:  cobra.NoArgs,
	RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
		list, err := period.NewStore(a.db.Handle()).List(ctx)
		if err != nil {
			return err
		}
		return emit(list)
	}),
}
