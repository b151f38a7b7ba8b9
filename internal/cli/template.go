package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/coalton-labs/ledgerd/internal/core/closing"
	"github.com/coalton-labs/ledgerd/internal/core/template"
	"github.com/coalton-labs/ledgerd/internal/ledgererr"
	"github.com/shopspring/decimal"
)

func init() {
	templateSaveCmd.Flags().String("name", "", "display name")
	templateSaveCmd.Flags().String("file", "", "rule JSON file (default stdin)")
	templateSaveCmd.Flags().Bool("closing", false, "save as a period-closing template")
	templateTriggerCmd.Flags().String("date", "", "voucher date YYYY-MM-DD")
	templateTriggerCmd.Flags().String("event", "", "idempotency event id")
	templateTriggerCmd.Flags().String("fields", "", "event fields JSON file (default stdin)")
	templateEnableCmd.Flags().Bool("closing", false, "target a period-closing template")
	templateDisableCmd.Flags().Bool("closing", false, "target a period-closing template")

	templateCmd.AddCommand(templateSaveCmd, templateTriggerCmd, templateEnableCmd, templateDisableCmd)
	rootCmd.AddCommand(templateCmd)
}

var templateCmd = &cobra.Command{
	Use:   "template",
	Short: "Manage voucher and closing templates",
}

var templateSaveCmd = &cobra.Command{
	Use:   "save <code>",
	Short: "Create or replace a template from a rule document",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		file, _ := cmd.Flags().GetString("file")
		isClosing, _ := cmd.Flags().GetBool("closing")
		if name == "" {
			name = args[0]
		}
		if isClosing {
			var rule closing.Rule
			if err := readInput(file, &rule); err != nil {
				return err
			}
			if err := a.closings.SaveTemplate(ctx, args[0], name, rule); err != nil {
				return err
			}
		} else {
			var rule template.Rule
			if err := readInput(file, &rule); err != nil {
				return err
			}
			if err := a.templates.Create(ctx, args[0], name, rule); err != nil {
				return err
			}
		}
		return emit(map[string]any{"code": args[0], "saved": true})
	}),
}

var templateTriggerCmd = &cobra.Command{
	Use:   "trigger <code>",
	Short: "Expand a voucher template against event fields and post the result",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
		date, _ := cmd.Flags().GetString("date")
		event, _ := cmd.Flags().GetString("event")
		file, _ := cmd.Flags().GetString("fields")
		if date == "" {
			return ledgererr.Validation(ledgererr.CodeInvalidInput, "--date is required")
		}
		var raw map[string]string
		if err := readInput(file, &raw); err != nil {
			return err
		}
		env := template.Env{}
		for key, val := range raw {
			v, err := decimal.NewFromString(val)
			if err != nil {
				return ledgererr.Newf(ledgererr.CodeInvalidInput,
					"field %q is not numeric", key)
			}
			env[key] = v
		}
		v, err := a.templates.Trigger(ctx, args[0], date, event, env)
		if err != nil {
			return err
		}
		a.trail.Record(ctx, "template.trigger", "voucher", v.VoucherNo,
			map[string]any{"template": args[0], "event": event})
		return emit(v)
	}),
}

var templateEnableCmd = &cobra.Command{
	Use:   "enable <code>",
	Short: "Enable a template",
	Args:  cobra.ExactArgs(1),
	RunE:  withApp(setTemplateActive(true)),
}

var templateDisableCmd = &cobra.Command{
	Use:   "disable <code>",
	Short: "Disable a template",
	Args:  cobra.ExactArgs(1),
	RunE:  withApp(setTemplateActive(false)),
}

func setTemplateActive(active bool) func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
	return func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
		isClosing, _ := cmd.Flags().GetBool("closing")
		var err error
		if isClosing {
			err = a.closings.SetTemplateActive(ctx, args[0], active)
		} else {
			err = a.templates.SetActive(ctx, args[0], active)
		}
		if err != nil {
			return err
		}
		return emit(map[string]any{"code": args[0], "active": active})
	}
}
