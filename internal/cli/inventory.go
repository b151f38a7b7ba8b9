package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/coalton-labs/ledgerd/internal/core/inventory"
)

func init() {
	inventoryItemCmd.Flags().String("name", "", "item display name")
	inventoryItemCmd.Flags().String("unit", "ea", "unit of measure")
	inventoryItemCmd.Flags().String("method", inventory.MovingAverage,
		"costing method: moving_average, fifo, or standard")
	inventoryReceiveCmd.Flags().String("date", "", "receipt date YYYY-MM-DD")
	inventoryReceiveCmd.Flags().String("batch", "", "batch number")
	inventoryReceiveCmd.Flags().String("credit", "", "credit account (default payable)")
	inventoryIssueCmd.Flags().String("date", "", "issue date YYYY-MM-DD")
	inventoryIssueCmd.Flags().String("debit", "", "debit account (default cost of sales)")

	inventoryCmd.AddCommand(inventoryItemCmd, inventoryReceiveCmd,
		inventoryIssueCmd, inventoryOnHandCmd, inventoryStandardCmd)
	rootCmd.AddCommand(inventoryCmd)
}

var inventoryCmd = &cobra.Command{
	Use:   "inventory",
	Short: "Inventory sub-ledger: receipts, issues, and costing",
}

var inventoryItemCmd = &cobra.Command{
	Use:   "item <sku>",
	Short: "Create or update a stock item",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		unit, _ := cmd.Flags().GetString("unit")
		method, _ := cmd.Flags().GetString("method")
		if name == "" {
			name = args[0]
		}
		it := inventory.Item{SKU: args[0], Name: name, Unit: unit, CostingMethod: method}
		if err := a.inventory.CreateItem(ctx, it); err != nil {
			return err
		}
		return emit(it)
	}),
}

var inventoryReceiveCmd = &cobra.Command{
	Use:   "receive <sku> <qty> <unit-cost>",
	Short: "Receive stock into a batch",
	Args:  cobra.ExactArgs(3),
	RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
		qty, err := parseDecimal(args[1], "qty")
		if err != nil {
			return err
		}
		unitCost, err := parseDecimal(args[2], "unit-cost")
		if err != nil {
			return err
		}
		date, _ := cmd.Flags().GetString("date")
		batch, _ := cmd.Flags().GetString("batch")
		credit, _ := cmd.Flags().GetString("credit")
		move, err := a.inventory.Receive(ctx, args[0], date, batch, qty, unitCost, credit)
		if err != nil {
			return err
		}
		return emit(move)
	}),
}

var inventoryIssueCmd = &cobra.Command{
	Use:   "issue <sku> <qty>",
	Short: "Issue stock at the item's costing method",
	Args:  cobra.ExactArgs(2),
	RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
		qty, err := parseDecimal(args[1], "qty")
		if err != nil {
			return err
		}
		date, _ := cmd.Flags().GetString("date")
		debit, _ := cmd.Flags().GetString("debit")
		move, err := a.inventory.Issue(ctx, args[0], date, qty, debit)
		if err != nil {
			return err
		}
		return emit(move)
	}),
}

var inventoryOnHandCmd = &cobra.Command{
	Use:   "onhand <sku>",
	Short: "Report quantity and value on hand",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
		qty, value, err := a.inventory.OnHand(ctx, args[0])
		if err != nil {
			return err
		}
		return emit(map[string]any{
			"sku": args[0], "qty": qty.String(), "value": value.String(),
		})
	}),
}

var inventoryStandardCmd = &cobra.Command{
	Use:   "standard <sku> <period> <cost>",
	Short: "Set the standard cost effective from a period",
	Args:  cobra.ExactArgs(3),
	RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
		cost, err := parseDecimal(args[2], "cost")
		if err != nil {
			return err
		}
		if err := a.inventory.SetStandardCost(ctx, args[0], args[1], cost); err != nil {
			return err
		}
		return emit(map[string]any{"sku": args[0], "period": args[1], "cost": cost.String()})
	}),
}
