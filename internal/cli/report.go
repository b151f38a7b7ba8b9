package cli

import (
	"context"
	"database/sql"

	"github.com/spf13/cobra"

	"github.com/coalton-labs/ledgerd/internal/core/balance"
	"github.com/coalton-labs/ledgerd/internal/ledgererr"
)

func init() {
	reportCmd.Flags().Bool("strict", true, "fail when the statement identities do not hold")
	rootCmd.AddCommand(reportCmd, verifyCmd, rebuildCmd)
}

var reportCmd = &cobra.Command{
	Use:   "report <period>",
	Short: "Render the three statements for a period",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
		strict, _ := cmd.Flags().GetBool("strict")
		stmts, err := a.reports.Run(ctx, args[0])
		if err != nil {
			if !strict && ledgererr.IsCode(err, ledgererr.CodeReportNotBalanced) && stmts != nil {
				return emit(stmts)
			}
			return err
		}
		return emit(stmts)
	}),
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Replay confirmed vouchers and compare against the balance index",
	Args:  cobra.NoArgs,
	RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
		engine := balance.NewEngine(a.accounts)
		rpt, err := engine.Verify(ctx, a.db.Handle())
		if err != nil {
			return err
		}
		if err := emit(rpt); err != nil {
			return err
		}
		return rpt.Err()
	}),
}

var rebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Drop the balance index and rebuild it from the voucher log",
	Args:  cobra.NoArgs,
	RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
		engine := balance.NewEngine(a.accounts)
		if err := a.db.WithTx(ctx, func(tx *sql.Tx) error {
			return engine.Rebuild(ctx, tx)
		}); err != nil {
			return err
		}
		a.trail.Record(ctx, "balance.rebuild", "", "", nil)
		return emit(map[string]any{"rebuilt": true})
	}),
}
