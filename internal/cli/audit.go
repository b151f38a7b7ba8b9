package cli

import (
	"context"

	"github.com/spf13/cobra"
)

func init() {
	auditCmd.Flags().Int("limit", 50, "number of entries to show")
	rootCmd.AddCommand(auditCmd)
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Show recent audit-trail entries, newest first",
	Args:  cobra.NoArgs,
	RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		entries, err := a.trail.Recent(ctx, limit)
		if err != nil {
			return err
		}
		return emit(entries)
	}),
}
