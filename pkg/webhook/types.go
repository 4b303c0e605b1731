package webhook

import (
	"context"

	"github.com/pulsefit/retain/pkg/agent"
)

// Options configures the inbound reply server.
type Options struct {
	Host string // default "0.0.0.0"
	Port int    // default 8788

	// Secret enables HMAC-SHA256 signature verification of request bodies.
	// When set, requests must carry the signature in SignatureHeader.
	Secret          string
	SignatureHeader string // default "X-Retain-Signature"

	RateLimitPerMinute int // requests per minute per IP, default 60
}

// ReplyPayload is the body a messaging provider posts when a member answers
// an outbound email or SMS. Token is the correlation token that was embedded
// in the original outbound message.
type ReplyPayload struct {
	Token    string `json:"token"`
	MemberID string `json:"member_id,omitempty"`
	Channel  string `json:"channel,omitempty"`
	Body     string `json:"body"`
}

// Resumer re-enters a suspended session with an external reply.
type Resumer interface {
	Resume(ctx context.Context, id string, in agent.ResumeInput) (<-chan agent.Event, error)
}

// EventSink receives every event a resumed session emits while the reply
// handler drains its stream. The gateway broadcaster is the usual sink.
type EventSink interface {
	Broadcast(ev agent.Event)
}
