package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/coalton-labs/ledgerd/internal/config"
	"github.com/coalton-labs/ledgerd/internal/core/model"
	"github.com/coalton-labs/ledgerd/internal/ledgererr"
)

func init() {
	for _, c := range []*cobra.Command{calcCmd, calcCheckCmd, calcDiagnoseCmd, calcScenarioCmd, calcExplainCmd} {
		c.Flags().String("file", "", "driver record JSON file (default stdin)")
		c.Flags().Int("iterations", 0, "refinement passes on top of the first (0 = one-shot)")
	}
	calcScenarioCmd.Flags().String("param", "", "driver field to sweep")
	calcScenarioCmd.Flags().String("values", "", "comma-separated values to sweep")
	calcExplainCmd.Flags().String("field", "net_income", "field to explain")

	calcCmd.AddCommand(calcCheckCmd, calcDiagnoseCmd, calcScenarioCmd, calcExplainCmd)
	rootCmd.AddCommand(calcCmd)
}

// calcSetup loads the driver and iteration settings; model mode never
// touches the ledger file.
func calcSetup(cmd *cobra.Command) (model.Driver, int, decimal.Decimal, error) {
	var d model.Driver
	file, _ := cmd.Flags().GetString("file")
	iterations, _ := cmd.Flags().GetInt("iterations")
	if err := readInput(file, &d); err != nil {
		return d, 0, decimal.Zero, err
	}
	tolerance := model.DefaultTolerance
	maxIterations := model.DefaultMaxIterations
	if cfg, err := config.Load(configFile); err == nil {
		if cfg.Model.Tolerance > 0 {
			tolerance = decimal.NewFromFloat(cfg.Model.Tolerance)
		}
		if cfg.Model.MaxIterations > 0 {
			maxIterations = cfg.Model.MaxIterations
		}
	}
	if iterations > maxIterations {
		iterations = maxIterations
	}
	return d, iterations, tolerance, nil
}

// warn prints a non-fatal diagnostic envelope on stderr.
func warn(err error) {
	var le *ledgererr.Error
	if errors.As(err, &le) {
		_ = json.NewEncoder(os.Stderr).Encode(le.Envelope())
		return
	}
	fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
}

var calcCmd = &cobra.Command{
	Use:   "calc",
	Short: "Run the five-step reconciliation model on a driver record",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		d, iterations, tolerance, err := calcSetup(cmd)
		if err != nil {
			return err
		}
		result, err := model.Calc(d, iterations, tolerance)
		if err != nil {
			if !ledgererr.IsCode(err, ledgererr.CodeIterationDiverged) {
				return err
			}
			warn(err)
		}
		return emit(result)
	},
}

var calcCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate a driver record without running the model",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		d, _, _, err := calcSetup(cmd)
		if err != nil {
			return err
		}
		return emit(model.Check(d))
	},
}

var calcDiagnoseCmd = &cobra.Command{
	Use:   "diagnose",
	Short: "Pair balance-sheet deltas with their cash-flow components",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		d, iterations, tolerance, err := calcSetup(cmd)
		if err != nil {
			return err
		}
		diagnosis, err := model.Diagnose(d, iterations, tolerance)
		if err != nil {
			return err
		}
		return emit(diagnosis)
	},
}

var calcScenarioCmd = &cobra.Command{
	Use:   "scenario",
	Short: "Sweep one driver field across a list of values",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		d, iterations, tolerance, err := calcSetup(cmd)
		if err != nil {
			return err
		}
		param, _ := cmd.Flags().GetString("param")
		valuesArg, _ := cmd.Flags().GetString("values")
		if param == "" || valuesArg == "" {
			return ledgererr.Validation(ledgererr.CodeInvalidInput,
				"--param and --values are required")
		}
		var values []decimal.Decimal
		for _, raw := range strings.Split(valuesArg, ",") {
			v, err := parseDecimal(strings.TrimSpace(raw), "value")
			if err != nil {
				return err
			}
			values = append(values, v)
		}
		rows, err := model.Scenario(d, param, values, iterations, tolerance)
		if err != nil {
			return err
		}
		return emit(rows)
	},
}

var calcExplainCmd = &cobra.Command{
	Use:   "explain",
	Short: "Show the computation tree behind one output field",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		d, iterations, tolerance, err := calcSetup(cmd)
		if err != nil {
			return err
		}
		field, _ := cmd.Flags().GetString("field")
		tree, err := model.Explain(d, field, iterations, tolerance)
		if err != nil {
			return err
		}
		return emit(tree)
	},
}
