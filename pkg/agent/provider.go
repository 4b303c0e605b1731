package agent

import (
	"context"

	"github.com/pulsefit/retain/pkg/session"
	"github.com/pulsefit/retain/pkg/tools"
)

// ToolCall is one tool invocation requested by the reasoning backend.
type ToolCall struct {
	ID    string                 `json:"id"`
	Name  string                 `json:"name"`
	Input map[string]interface{} `json:"input"`
}

// Usage reports token consumption for one backend call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Request carries everything the reasoning backend needs for one turn.
type Request struct {
	Model     string
	System    string
	MaxTokens int
	Messages  []session.Message
	Tools     []*tools.Definition
}

// Response is the backend's answer for one turn.
type Response struct {
	Text      string
	ToolCalls []ToolCall
	Usage     Usage
}

// Provider is the reasoning backend. Calls are awaited synchronously; a
// failure is fatal to the session and is not retried here.
type Provider interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}
