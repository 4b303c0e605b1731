// Package coretools registers the baseline retention tool set: outbound
// member messaging, follow-up tasks, improvement suggestions, durable member
// notes, and the suspend-for-reply and ask-owner control tools the execution
// loop treats specially.
package coretools

import (
	"context"
	"errors"
	"fmt"

	"github.com/pulsefit/retain/pkg/agent"
	"github.com/pulsefit/retain/pkg/session"
	"github.com/pulsefit/retain/pkg/tools"
)

// Message is one outbound member communication.
type Message struct {
	MemberID string
	Channel  string // "email" or "sms"
	Subject  string
	Body     string
}

// Messenger delivers outbound member messages. Retry and backoff live in
// the external command processor, not here.
type Messenger interface {
	Send(ctx context.Context, msg Message) (string, error)
}

// Task is a follow-up work item for gym staff.
type Task struct {
	MemberID string
	Title    string
	Notes    string
	Priority string
}

// TaskBoard creates follow-up tasks in the fitness platform.
type TaskBoard interface {
	CreateTask(ctx context.Context, task Task) (string, error)
}

// NoteKeeper persists durable member facts the agent learns mid-session, so
// later sessions for the same account see them in their memory digest.
type NoteKeeper interface {
	Remember(ctx context.Context, accountID, category, text string) error
}

// Options configures core tool registration.
type Options struct {
	Messenger Messenger
	TaskBoard TaskBoard
	Notes     NoteKeeper

	// AutoDiscountLimitCents is the largest retention discount that may be
	// offered without owner approval. Zero gates every discount.
	AutoDiscountLimitCents int64
}

// Register adds the retention tool set to the registry.
func Register(registry *tools.Registry, opts Options) error {
	if registry == nil {
		return errors.New("tool registry is required")
	}
	if opts.Messenger == nil {
		return errors.New("messenger is required")
	}
	if opts.TaskBoard == nil {
		return errors.New("task board is required")
	}
	if opts.Notes == nil {
		return errors.New("note keeper is required")
	}

	defs := []tools.Definition{
		sendMemberMessageTool(opts),
		createFollowupTaskTool(opts),
		offerRetentionDiscountTool(opts),
		suggestImprovementTool(),
		recordMemberNoteTool(opts),
		waitForMemberReplyTool(opts),
		askOwnerTool(),
	}

	for _, def := range defs {
		if err := registry.Register(def); err != nil {
			return fmt.Errorf("failed to register tool %s: %w", def.Name, err)
		}
	}
	return nil
}

func sendMemberMessageTool(opts Options) tools.Definition {
	return tools.Definition{
		Name:        "send_member_message",
		Description: "Send an email or SMS to a gym member. Use for win-back outreach, check-ins, and offers.",
		Parameters: []tools.Parameter{
			{Name: "member_id", Type: "string", Description: "Member identifier", Required: true},
			{Name: "channel", Type: "string", Description: "Delivery channel: email or sms", Required: true},
			{Name: "subject", Type: "string", Description: "Subject line (email only)"},
			{Name: "body", Type: "string", Description: "Message body", Required: true},
		},
		// Outbound messages are not idempotent and are visible to members.
		Approval: tools.RequireApproval(),
		Handler: func(ctx context.Context, input map[string]interface{}, tc *tools.Context) (interface{}, error) {
			memberID, _ := input["member_id"].(string)
			if tc.WorkingSet.Has(memberID) {
				return nil, fmt.Errorf("member %s was already contacted this session", memberID)
			}

			subject, _ := input["subject"].(string)
			body, _ := input["body"].(string)
			channel, _ := input["channel"].(string)

			id, err := opts.Messenger.Send(ctx, Message{
				MemberID: memberID,
				Channel:  channel,
				Subject:  subject,
				Body:     body,
			})
			if err != nil {
				return nil, fmt.Errorf("failed to send message: %w", err)
			}

			tc.WorkingSet.MarkEmailed(memberID)
			tc.RecordOutput(session.OutputMessageSent, map[string]interface{}{
				"message_id": id,
				"member_id":  memberID,
				"channel":    channel,
			})
			return fmt.Sprintf("message %s sent to member %s via %s", id, memberID, channel), nil
		},
	}
}

func createFollowupTaskTool(opts Options) tools.Definition {
	return tools.Definition{
		Name:        "create_followup_task",
		Description: "Create a follow-up task for gym staff, e.g. a personal call to an at-risk member.",
		Parameters: []tools.Parameter{
			{Name: "member_id", Type: "string", Description: "Member identifier", Required: true},
			{Name: "title", Type: "string", Description: "Short task title", Required: true},
			{Name: "notes", Type: "string", Description: "Context for whoever picks the task up"},
			{Name: "priority", Type: "string", Description: "low, normal, or high", Default: "normal"},
		},
		Approval: tools.AutoApprove(),
		Handler: func(ctx context.Context, input map[string]interface{}, tc *tools.Context) (interface{}, error) {
			memberID, _ := input["member_id"].(string)
			title, _ := input["title"].(string)
			notes, _ := input["notes"].(string)
			priority, _ := input["priority"].(string)

			id, err := opts.TaskBoard.CreateTask(ctx, Task{
				MemberID: memberID,
				Title:    title,
				Notes:    notes,
				Priority: priority,
			})
			if err != nil {
				return nil, fmt.Errorf("failed to create task: %w", err)
			}

			tc.WorkingSet.MarkProcessed(memberID)
			tc.RecordOutput(session.OutputTaskCreated, map[string]interface{}{
				"task_id":   id,
				"member_id": memberID,
			})
			return fmt.Sprintf("task %s created", id), nil
		},
	}
}

func offerRetentionDiscountTool(opts Options) tools.Definition {
	return tools.Definition{
		Name:        "offer_retention_discount",
		Description: "Offer a membership discount to keep an at-risk member. Amount is in cents off the next billing cycle.",
		Parameters: []tools.Parameter{
			{Name: "member_id", Type: "string", Description: "Member identifier", Required: true},
			{Name: "amount_cents", Type: "number", Description: "Discount amount in cents", Required: true},
			{Name: "reason", Type: "string", Description: "Why this member warrants the offer", Required: true},
		},
		// Capability-specific rule: small discounts run unattended, larger
		// ones need the owner.
		Approval: tools.ApproveWhen(func(input map[string]interface{}, tc *tools.Context) bool {
			amount, _ := input["amount_cents"].(float64)
			return int64(amount) > opts.AutoDiscountLimitCents
		}),
		Handler: func(ctx context.Context, input map[string]interface{}, tc *tools.Context) (interface{}, error) {
			memberID, _ := input["member_id"].(string)
			amount, _ := input["amount_cents"].(float64)
			reason, _ := input["reason"].(string)

			body := fmt.Sprintf("We'd love to keep you with us, so here's %d cents off your next cycle. (%s)", int64(amount), reason)
			id, err := opts.Messenger.Send(ctx, Message{
				MemberID: memberID,
				Channel:  "email",
				Subject:  "A thank-you from your gym",
				Body:     body,
			})
			if err != nil {
				return nil, fmt.Errorf("failed to send offer: %w", err)
			}

			tc.WorkingSet.MarkEmailed(memberID)
			tc.RecordOutput(session.OutputMessageSent, map[string]interface{}{
				"message_id":   id,
				"member_id":    memberID,
				"amount_cents": int64(amount),
			})
			return fmt.Sprintf("discount offer %s sent to member %s", id, memberID), nil
		},
	}
}

func suggestImprovementTool() tools.Definition {
	return tools.Definition{
		Name:        "suggest_improvement",
		Description: "Record a suggested improvement to the gym's retention playbook. Visible to the owner; no member contact.",
		Parameters: []tools.Parameter{
			{Name: "suggestion", Type: "string", Description: "The improvement to suggest", Required: true},
			{Name: "rationale", Type: "string", Description: "Evidence from this session"},
		},
		Approval: tools.AutoApprove(),
		Handler: func(ctx context.Context, input map[string]interface{}, tc *tools.Context) (interface{}, error) {
			suggestion, _ := input["suggestion"].(string)
			rationale, _ := input["rationale"].(string)
			tc.RecordOutput(session.OutputImprovementSuggested, map[string]interface{}{
				"suggestion": suggestion,
				"rationale":  rationale,
			})
			return "suggestion recorded", nil
		},
	}
}

func recordMemberNoteTool(opts Options) tools.Definition {
	return tools.Definition{
		Name:        "record_member_note",
		Description: "Record a durable fact about a member or the account. Future sessions for this account see it in their memory digest.",
		Parameters: []tools.Parameter{
			{Name: "category", Type: "string", Description: "Kind of fact: preference, schedule, feedback, or other", Required: true},
			{Name: "text", Type: "string", Description: "The fact to remember", Required: true},
		},
		Approval: tools.AutoApprove(),
		Handler: func(ctx context.Context, input map[string]interface{}, tc *tools.Context) (interface{}, error) {
			category, _ := input["category"].(string)
			text, _ := input["text"].(string)

			if err := opts.Notes.Remember(ctx, tc.AccountID, category, text); err != nil {
				return nil, fmt.Errorf("failed to record note: %w", err)
			}

			tc.RecordOutput(session.OutputNoteRecorded, map[string]interface{}{
				"category": category,
			})
			return "note recorded", nil
		},
	}
}

func waitForMemberReplyTool(opts Options) tools.Definition {
	return tools.Definition{
		Name:        agent.ToolWaitForReply,
		Description: "Send a question to the member and suspend this session until they reply. Use when further action depends on their answer.",
		Parameters: []tools.Parameter{
			{Name: "member_id", Type: "string", Description: "Member identifier", Required: true},
			{Name: "channel", Type: "string", Description: "Delivery channel: email or sms", Required: true},
			{Name: "question", Type: "string", Description: "The question to send", Required: true},
		},
		Approval: tools.AutoApprove(),
		Handler: func(ctx context.Context, input map[string]interface{}, tc *tools.Context) (interface{}, error) {
			memberID, _ := input["member_id"].(string)
			channel, _ := input["channel"].(string)
			question, _ := input["question"].(string)

			id, err := opts.Messenger.Send(ctx, Message{
				MemberID: memberID,
				Channel:  channel,
				Subject:  "Quick question from your gym",
				Body:     question,
			})
			if err != nil {
				return nil, fmt.Errorf("failed to send question: %w", err)
			}

			tc.RecordOutput(session.OutputMessageSent, map[string]interface{}{
				"message_id": id,
				"member_id":  memberID,
				"channel":    channel,
			})
			return fmt.Sprintf("question sent as message %s; the session will suspend until the member replies", id), nil
		},
	}
}

func askOwnerTool() tools.Definition {
	return tools.Definition{
		Name:        agent.ToolAskOwner,
		Description: "Ask the session owner a question. Prefer acting on available information; use only when genuinely blocked.",
		Parameters: []tools.Parameter{
			{Name: "question", Type: "string", Description: "The question for the owner", Required: true},
		},
		Approval: tools.AutoApprove(),
		Handler: func(ctx context.Context, input map[string]interface{}, tc *tools.Context) (interface{}, error) {
			return "question relayed to the owner; their answer will arrive as the next message", nil
		},
	}
}
