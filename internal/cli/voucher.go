package cli

import (
	"context"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/coalton-labs/ledgerd/internal/core/voucher"
	"github.com/coalton-labs/ledgerd/internal/ledgererr"
)

func init() {
	recordCmd.Flags().String("file", "", "voucher request file (default stdin)")
	recordCmd.Flags().Bool("auto", false, "review and confirm in the same transaction")
	voidCmd.Flags().String("reason", "", "reason recorded on the reversal")
	lookupCmd.Flags().String("period", "", "filter by period YYYY-MM")
	lookupCmd.Flags().String("status", "", "filter by status")
	lookupCmd.Flags().String("no", "", "filter by voucher number")

	rootCmd.AddCommand(recordCmd, reviewCmd, unreviewCmd, confirmCmd,
		voidCmd, deleteCmd, getCmd, lookupCmd)
}

func parseID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, ledgererr.Newf(ledgererr.CodeInvalidInput, "invalid voucher id %q", arg)
	}
	return id, nil
}

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Submit a voucher from a JSON request",
	Args:  cobra.NoArgs,
	RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		auto, _ := cmd.Flags().GetBool("auto")
		var req voucher.Request
		if err := readInput(file, &req); err != nil {
			return err
		}
		var v *voucher.Voucher
		var err error
		if auto {
			v, err = a.vouchers.SubmitAuto(ctx, req)
		} else {
			v, err = a.vouchers.Submit(ctx, req)
		}
		if err != nil {
			return err
		}
		a.trail.Record(ctx, "voucher.record", "voucher", strconv.FormatInt(v.ID, 10), nil)
		return emit(v)
	}),
}

var reviewCmd = &cobra.Command{
	Use:   "review <id>",
	Short: "Move a draft voucher to reviewed",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		v, err := a.vouchers.Review(ctx, id)
		if err != nil {
			return err
		}
		return emit(v)
	}),
}

var unreviewCmd = &cobra.Command{
	Use:   "unreview <id>",
	Short: "Send a reviewed voucher back to draft",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		v, err := a.vouchers.Unreview(ctx, id)
		if err != nil {
			return err
		}
		return emit(v)
	}),
}

var confirmCmd = &cobra.Command{
	Use:   "confirm <id>",
	Short: "Confirm a reviewed voucher, allocating its number and posting balances",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		v, err := a.vouchers.Confirm(ctx, id)
		if err != nil {
			return err
		}
		a.trail.Record(ctx, "voucher.confirm", "voucher", v.VoucherNo, nil)
		return emit(v)
	}),
}

var voidCmd = &cobra.Command{
	Use:   "void <id>",
	Short: "Void a confirmed voucher with a red-letter reversal",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		reason, _ := cmd.Flags().GetString("reason")
		reversal, err := a.vouchers.Void(ctx, id, reason)
		if err != nil {
			return err
		}
		a.trail.Record(ctx, "voucher.void", "voucher", strconv.FormatInt(id, 10),
			map[string]any{"reversal": reversal.VoucherNo, "reason": reason})
		return emit(reversal)
	}),
}

var deleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a draft voucher",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		if err := a.vouchers.Delete(ctx, id); err != nil {
			return err
		}
		return emit(map[string]any{"deleted": id})
	}),
}

var getCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Fetch one voucher with its entries",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		v, err := a.vouchers.Get(ctx, id)
		if err != nil {
			return err
		}
		return emit(v)
	}),
}

var lookupCmd = &cobra.Command{
	Use:   "lookup",
	Short: "List vouchers by period, status, or number",
	Args:  cobra.NoArgs,
	RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
		p, _ := cmd.Flags().GetString("period")
		status, _ := cmd.Flags().GetString("status")
		no, _ := cmd.Flags().GetString("no")
		vouchers, err := a.vouchers.Lookup(ctx, voucher.Filter{
			Period: p, Status: status, VoucherNo: no,
		})
		if err != nil {
			return err
		}
		return emit(vouchers)
	}),
}
