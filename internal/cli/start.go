package cli

import (
	"fmt"

	"github.com/pulsefit/retain/pkg/session"
	"github.com/spf13/cobra"
)

var (
	startMode     string
	startAccount  string
	startMaxTurns int
	startBudget   int64
	startOverride string
	startTypeHint string
)

var startCmd = &cobra.Command{
	Use:   "start <goal>",
	Short: "Start a new agent session for a goal",
	Long: `Start a new agent session and stream its progress until it finishes
or pauses for input, approval, or an external reply. A paused session is
picked up later with "retain resume".`,
	Args: cobra.ExactArgs(1),
	RunE: runStart,
}

func init() {
	startCmd.Flags().StringVar(&startMode, "mode", "", "autonomy mode: full_auto, semi_auto, turn_based (default from config)")
	startCmd.Flags().StringVar(&startAccount, "account", "default", "account the session belongs to")
	startCmd.Flags().IntVar(&startMaxTurns, "max-turns", 0, "turn ceiling override")
	startCmd.Flags().Int64Var(&startBudget, "budget-cents", -1, "budget override in cents")
	startCmd.Flags().StringVar(&startOverride, "instructions", "", "extra owner instructions for the system prompt")
	startCmd.Flags().StringVar(&startTypeHint, "type", "", "goal type hint for skill selection")
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	rt, err := buildRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	params := startParamsFromConfig(rt.cfg, args[0])
	params.AccountID = startAccount
	params.PromptOverride = startOverride
	params.TypeHint = startTypeHint
	if startMode != "" {
		params.Mode = session.Mode(startMode)
	}
	if startMaxTurns > 0 {
		params.MaxTurns = startMaxTurns
	}
	if startBudget >= 0 {
		params.BudgetCents = startBudget
	}

	sess, events, err := rt.engine.Start(cmd.Context(), params)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "goal: %s\nmode: %s\n", sess.Goal, sess.Mode)
	return renderEvents(cmd.OutOrStdout(), events)
}
