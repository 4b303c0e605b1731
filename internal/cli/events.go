package cli

import (
	"fmt"
	"io"

	"github.com/pulsefit/retain/pkg/agent"
)

// renderEvents prints a session event stream in a readable form and returns
// the last error event, if any.
func renderEvents(w io.Writer, events <-chan agent.Event) error {
	var lastErr error
	for ev := range events {
		switch ev.Type {
		case agent.EventSessionCreated:
			fmt.Fprintf(w, "session %s created\n", ev.SessionID)
		case agent.EventMessage:
			fmt.Fprintf(w, "\n%s\n", ev.Text)
		case agent.EventToolCall:
			fmt.Fprintf(w, "  -> %s (%s)\n", ev.ToolName, ev.CallID)
		case agent.EventToolResult:
			marker := "ok"
			if ev.IsError {
				marker = "ERROR"
			}
			fmt.Fprintf(w, "  <- %s [%s] %s\n", ev.ToolName, marker, ev.Result)
		case agent.EventToolPending:
			fmt.Fprintf(w, "  ?? %s (%s) needs approval\n", ev.ToolName, ev.CallID)
		case agent.EventPaused:
			fmt.Fprintf(w, "\npaused: %s (%s)\n", ev.Status, ev.Reason)
		case agent.EventDone:
			fmt.Fprintf(w, "\ndone: %s\n", ev.Summary)
		case agent.EventError:
			fmt.Fprintf(w, "\nerror: %s\n", ev.Message)
			lastErr = fmt.Errorf("%s", ev.Message)
		}
	}
	return lastErr
}
