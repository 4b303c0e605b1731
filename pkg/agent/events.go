package agent

import (
	"context"
	"time"

	"github.com/pulsefit/retain/pkg/session"
)

// EventType identifies one kind of session event.
type EventType string

const (
	EventSessionCreated EventType = "session_created"
	EventMessage        EventType = "message"
	EventToolCall       EventType = "tool_call"
	EventToolResult     EventType = "tool_result"
	EventToolPending    EventType = "tool_pending"
	EventPaused         EventType = "paused"
	EventDone           EventType = "done"
	EventError          EventType = "error"
)

// Event is one entry on a session's outbound event stream. The presentation
// layer observes only these; nothing below the session boundary reaches end
// users directly.
type Event struct {
	Type      EventType      `json:"type"`
	SessionID string         `json:"session_id"`
	Timestamp time.Time      `json:"timestamp"`

	// For message events
	Text string `json:"text,omitempty"`

	// For tool_call / tool_result / tool_pending events
	ToolName string `json:"tool_name,omitempty"`
	CallID   string `json:"call_id,omitempty"`
	Result   string `json:"result,omitempty"`
	IsError  bool   `json:"is_error,omitempty"`

	// For paused events
	Status session.Status `json:"status,omitempty"`
	Reason string         `json:"reason,omitempty"`

	// For done events
	Summary string `json:"summary,omitempty"`

	// For error events
	Message string `json:"message,omitempty"`
}

// emit sends an event unless the context has been cancelled. An abandoned
// stream leaves the session at its last persisted boundary.
func emit(ctx context.Context, ch chan<- Event, ev Event) {
	ev.Timestamp = time.Now().UTC()
	select {
	case ch <- ev:
	case <-ctx.Done():
	}
}
