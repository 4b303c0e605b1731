package tools

import (
	"context"

	"github.com/pulsefit/retain/pkg/session"
)

// Parameter defines one input field of a tool.
type Parameter struct {
	Name        string      `json:"name"`
	Type        string      `json:"type"`
	Description string      `json:"description"`
	Required    bool        `json:"required"`
	Default     interface{} `json:"default,omitempty"`
}

// Handler is the function signature for tool execution. Errors are caught by
// the registry and converted to structured error results; they never abort
// the session.
type Handler func(ctx context.Context, input map[string]interface{}, tc *Context) (interface{}, error)

// Predicate evaluates a tool input against session context to decide whether
// owner approval is required. It enables capability-specific rules such as
// dollar thresholds.
type Predicate func(input map[string]interface{}, tc *Context) bool

// ApprovalPolicy decides whether a call must pause for owner consent. It is
// either a static flag or a predicate over the input and session context.
// The zero value requires approval, so a tool that forgets to declare a
// policy fails closed.
type ApprovalPolicy struct {
	auto      bool
	predicate Predicate
}

// AutoApprove returns a policy that never requires consent.
func AutoApprove() ApprovalPolicy {
	return ApprovalPolicy{auto: true}
}

// RequireApproval returns a policy that always requires consent.
func RequireApproval() ApprovalPolicy {
	return ApprovalPolicy{}
}

// ApproveWhen returns a policy that requires consent whenever the predicate
// reports true for the given input and context.
func ApproveWhen(p Predicate) ApprovalPolicy {
	return ApprovalPolicy{predicate: p}
}

// RequiresApproval resolves the policy for one call.
func (p ApprovalPolicy) RequiresApproval(input map[string]interface{}, tc *Context) bool {
	if p.predicate != nil {
		return p.predicate(input, tc)
	}
	return !p.auto
}

// Definition declares a tool: its name, input shape, approval policy, and
// execute operation.
type Definition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  []Parameter    `json:"parameters"`
	Approval    ApprovalPolicy `json:"-"`
	Handler     Handler        `json:"-"`
}

// Context provides runtime information to tool handlers. WorkingSet points
// into the live session so handlers can record processed identifiers, and
// RecordOutput appends to the session's side-effect log.
type Context struct {
	AccountID    string
	SessionID    string
	Mode         session.Mode
	Credentials  map[string]string
	WorkingSet   *session.WorkingSet
	RecordOutput func(kind session.OutputKind, detail map[string]interface{})
}

// Result is the structured outcome of one tool execution.
type Result struct {
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"`
}
