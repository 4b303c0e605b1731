package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/pulsefit/retain/pkg/session"
	"github.com/spf13/cobra"
)

var sessionsStatus string

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List sessions by status",
	RunE:  runSessions,
}

func init() {
	sessionsCmd.Flags().StringVar(&sessionsStatus, "status", "waiting_approval", "status to list: active, waiting_input, waiting_approval, waiting_event, completed, failed")
	rootCmd.AddCommand(sessionsCmd)
}

func runSessions(cmd *cobra.Command, args []string) error {
	rt, err := buildRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	status := session.Status(sessionsStatus)
	sessions, err := rt.store.ListByStatus(cmd.Context(), status)
	if err != nil {
		return err
	}

	if len(sessions) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "no %s sessions\n", status)
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tMODE\tTURNS\tCOST\tGOAL")
	for _, s := range sessions {
		goal := s.Goal
		if len(goal) > 60 {
			goal = goal[:57] + "..."
		}
		fmt.Fprintf(w, "%s\t%s\t%d/%d\t%dc\t%s\n", s.ID, s.Mode, s.TurnCount, s.MaxTurns, s.CostCents, goal)
	}
	return w.Flush()
}
