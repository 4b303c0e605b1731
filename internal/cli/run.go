package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	runMaxTurns int
	runBudget   int64
)

var runCmd = &cobra.Command{
	Use:   "run <goal>",
	Short: "Run a goal unattended to completion",
	Long: `Run a goal in full_auto with no observer. The session never pauses
for a human: requests for owner input are answered with a standing
use-your-judgment instruction, and the command exits when the session
reaches a terminal state.`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().IntVar(&runMaxTurns, "max-turns", 0, "turn ceiling override")
	runCmd.Flags().Int64Var(&runBudget, "budget-cents", -1, "budget override in cents")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	rt, err := buildRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	params := startParamsFromConfig(rt.cfg, args[0])
	if runMaxTurns > 0 {
		params.MaxTurns = runMaxTurns
	}
	if runBudget >= 0 {
		params.BudgetCents = runBudget
	}

	final, err := rt.engine.RunUnattended(cmd.Context(), params)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "session %s finished: %s (%d turns, %d cents)\n",
		final.ID, final.Status, final.TurnCount, final.CostCents)
	for _, out := range final.Outputs {
		fmt.Fprintf(cmd.OutOrStdout(), "  output: %s\n", out.Kind)
	}
	return nil
}
