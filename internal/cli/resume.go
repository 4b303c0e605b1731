package cli

import (
	"fmt"

	"github.com/pulsefit/retain/pkg/agent"
	"github.com/pulsefit/retain/pkg/session"
	"github.com/spf13/cobra"
)

var (
	resumeMessage string
	resumeMode    string
	resumeApprove []string
	resumeReject  []string
	resumeReply   string
	resumeToken   string
)

var resumeCmd = &cobra.Command{
	Use:   "resume <session-id>",
	Short: "Resume a paused session",
	Long: `Resume a paused session. What you supply depends on why it paused:
an owner message for waiting_input, --approve/--reject decisions for
waiting_approval, and --reply with --token for waiting_event. Pending calls
with no decision are treated as rejected.`,
	Args: cobra.ExactArgs(1),
	RunE: runResume,
}

func init() {
	resumeCmd.Flags().StringVarP(&resumeMessage, "message", "m", "", "owner message for the session")
	resumeCmd.Flags().StringVar(&resumeMode, "mode", "", "switch autonomy mode on resume")
	resumeCmd.Flags().StringArrayVar(&resumeApprove, "approve", nil, "approve a pending tool call id (repeatable)")
	resumeCmd.Flags().StringArrayVar(&resumeReject, "reject", nil, "reject a pending tool call id (repeatable)")
	resumeCmd.Flags().StringVar(&resumeReply, "reply", "", "the member's reply text")
	resumeCmd.Flags().StringVar(&resumeToken, "token", "", "correlation token for the reply")
	rootCmd.AddCommand(resumeCmd)
}

func runResume(cmd *cobra.Command, args []string) error {
	rt, err := buildRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	input := agent.ResumeInput{
		OwnerMessage: resumeMessage,
		Mode:         session.Mode(resumeMode),
		Reply:        resumeReply,
		ReplyToken:   resumeToken,
	}
	if len(resumeApprove) > 0 || len(resumeReject) > 0 {
		input.Approvals = make(map[string]bool, len(resumeApprove)+len(resumeReject))
		for _, id := range resumeApprove {
			input.Approvals[id] = true
		}
		for _, id := range resumeReject {
			input.Approvals[id] = false
		}
	}

	events, err := rt.engine.Resume(cmd.Context(), args[0], input)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "resuming %s\n", args[0])
	return renderEvents(cmd.OutOrStdout(), events)
}
