package cli

import (
	"context"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/coalton-labs/ledgerd/internal/core/arap"
	"github.com/coalton-labs/ledgerd/internal/ledgererr"
)

func init() {
	rootCmd.AddCommand(newARAPCmd(arap.Receivable), newARAPCmd(arap.Payable))
}

// newARAPCmd builds the ar or ap command tree; both sides share the same
// verbs with mirrored posting rules.
func newARAPCmd(side arap.Side) *cobra.Command {
	use := string(side)
	short := "Accounts receivable sub-ledger"
	party := "customer"
	if side == arap.Payable {
		short = "Accounts payable sub-ledger"
		party = "supplier"
	}
	cmd := &cobra.Command{Use: use, Short: short}

	invoice := &cobra.Command{
		Use:   "invoice <" + party + "-id> <amount>",
		Short: "Record an open item and its voucher",
		Args:  cobra.ExactArgs(2),
		RunE: withApp(func(ctx context.Context, a *app, c *cobra.Command, args []string) error {
			partyID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return ledgererr.Newf(ledgererr.CodeInvalidInput, "invalid %s id %q", party, args[0])
			}
			amount, err := parseDecimal(args[1], "amount")
			if err != nil {
				return err
			}
			date, _ := c.Flags().GetString("date")
			counter, _ := c.Flags().GetString("counter")
			desc, _ := c.Flags().GetString("desc")
			item, err := a.arap.RecordInvoice(ctx, side, partyID, date, amount, counter, desc)
			if err != nil {
				return err
			}
			return emit(item)
		}),
	}
	invoice.Flags().String("date", "", "invoice date YYYY-MM-DD")
	invoice.Flags().String("counter", "", "counter account code")
	invoice.Flags().String("desc", "", "description")

	settle := &cobra.Command{
		Use:   "settle <item-id> <amount>",
		Short: "Settle an open item against cash",
		Args:  cobra.ExactArgs(2),
		RunE: withApp(func(ctx context.Context, a *app, c *cobra.Command, args []string) error {
			itemID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return ledgererr.Newf(ledgererr.CodeInvalidInput, "invalid item id %q", args[0])
			}
			amount, err := parseDecimal(args[1], "amount")
			if err != nil {
				return err
			}
			date, _ := c.Flags().GetString("date")
			item, err := a.arap.Settle(ctx, side, itemID, amount, date)
			if err != nil {
				return err
			}
			return emit(item)
		}),
	}
	settle.Flags().String("date", "", "settlement date YYYY-MM-DD")

	aging := &cobra.Command{
		Use:   "aging",
		Short: "Bucket outstanding items by age",
		Args:  cobra.NoArgs,
		RunE: withApp(func(ctx context.Context, a *app, c *cobra.Command, args []string) error {
			asOf, _ := c.Flags().GetString("asof")
			lines, err := a.arap.Aging(ctx, side, asOf)
			if err != nil {
				return err
			}
			return emit(lines)
		}),
	}
	aging.Flags().String("asof", "", "cutoff date YYYY-MM-DD")

	cmd.AddCommand(invoice, settle, aging)

	if side == arap.Receivable {
		provision := &cobra.Command{
			Use:   "provision <period>",
			Short: "Post the bad-debt provision from the aging schedule",
			Args:  cobra.ExactArgs(1),
			RunE: withApp(func(ctx context.Context, a *app, c *cobra.Command, args []string) error {
				asOf, _ := c.Flags().GetString("asof")
				reverse, _ := c.Flags().GetBool("reverse")
				result, err := a.arap.Provision(ctx, args[0], asOf, reverse)
				if err != nil {
					return err
				}
				a.trail.Record(ctx, "ar.provision", "period", args[0], nil)
				return emit(result)
			}),
		}
		provision.Flags().String("asof", "", "cutoff date YYYY-MM-DD")
		provision.Flags().Bool("reverse", false, "reverse a previously posted provision")
		cmd.AddCommand(provision)
	}
	return cmd
}
