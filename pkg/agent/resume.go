package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/pulsefit/retain/pkg/session"
)

// ResumeInput carries everything a caller may supply when re-entering a
// suspended session.
type ResumeInput struct {
	// OwnerMessage is the owner's next message for waiting_input sessions.
	OwnerMessage string
	// Mode, when set, changes the autonomy mode before the loop re-enters.
	Mode session.Mode
	// Approvals maps pending call ids to the owner's decision. A pending
	// call absent from the map is treated as rejected.
	Approvals map[string]bool
	// Reply and ReplyToken deliver the external reply a waiting_event
	// session suspended for.
	Reply      string
	ReplyToken string
}

// Resume re-enters a suspended session. Terminal sessions yield a single
// error event and no mutation. The returned channel closes when the loop
// suspends again or terminates.
func (e *Engine) Resume(ctx context.Context, id string, in ResumeInput) (<-chan Event, error) {
	sess, err := e.store.Load(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	ch := make(chan Event, e.eventBuffer)
	go func() {
		defer close(ch)
		e.resume(ctx, sess, in, ch)
	}()
	return ch, nil
}

func (e *Engine) resume(ctx context.Context, sess *session.Session, in ResumeInput, ch chan<- Event) {
	logger := e.logger.With().Str("session_id", sess.ID).Logger()

	if sess.Status.Terminal() {
		emit(ctx, ch, Event{
			Type:      EventError,
			SessionID: sess.ID,
			Message:   fmt.Sprintf("session is %s and cannot be resumed", sess.Status),
		})
		return
	}

	if in.Mode != "" {
		if !in.Mode.Valid() {
			emit(ctx, ch, Event{Type: EventError, SessionID: sess.ID, Message: fmt.Sprintf("invalid autonomy mode: %s", in.Mode)})
			return
		}
		sess.Mode = in.Mode
	}

	switch sess.Status {
	case session.StatusWaitingApproval:
		e.resolveApprovals(ctx, sess, in.Approvals, ch)
		if sess.Mode == session.ModeTurnBased {
			// Resolving the batch completes the turn; the next model call
			// waits for the owner like every other turn boundary.
			e.pause(ctx, sess, ch, session.StatusWaitingInput, "turn complete, awaiting owner review")
			return
		}

	case session.StatusWaitingEvent:
		if sess.Wait == nil || in.ReplyToken != sess.Wait.Token {
			emit(ctx, ch, Event{
				Type:      EventError,
				SessionID: sess.ID,
				Message:   "reply correlation token does not match the wait marker",
			})
			return
		}
		e.absorbReply(sess, in.Reply)

	case session.StatusWaitingInput:
		if in.OwnerMessage == "" {
			emit(ctx, ch, Event{
				Type:      EventError,
				SessionID: sess.ID,
				Message:   "an owner message is required to resume this session",
			})
			return
		}
		sess.AppendMessage("user", session.ContentBlock{Type: session.BlockText, Text: in.OwnerMessage})

	case session.StatusActive:
		// Recovery after an abandoned stream: the last persisted boundary is
		// a clean turn boundary, so the loop can simply continue.
		if in.OwnerMessage != "" {
			sess.AppendMessage("user", session.ContentBlock{Type: session.BlockText, Text: in.OwnerMessage})
		}
	}

	sess.Status = session.StatusActive
	if err := e.store.Update(ctx, sess); err != nil {
		logger.Error().Err(err).Msg("Failed to persist resume")
		emit(ctx, ch, Event{Type: EventError, SessionID: sess.ID, Message: fmt.Sprintf("persistence failed: %v", err)})
		return
	}

	logger.Info().Msg("Session resumed")
	e.run(ctx, sess, ch)
}

// resolveApprovals reconciles a paused batch: approved calls execute now via
// the loop's own dispatch path, rejected calls get a synthetic rejection
// result, and everything is merged with the results cached before the pause
// into one submission in original batch order.
func (e *Engine) resolveApprovals(ctx context.Context, sess *session.Session, approvals map[string]bool, ch chan<- Event) {
	cached := make(map[string]session.ToolResultRecord, len(sess.CachedResults))
	for _, rec := range sess.CachedResults {
		cached[rec.CallID] = rec
	}
	pending := make(map[string]session.PendingApproval, len(sess.PendingApprovals))
	for _, pa := range sess.PendingApprovals {
		pending[pa.CallID] = pa
	}

	uses := sess.LastAssistantToolUses()
	merged := make([]session.ToolResultRecord, 0, len(uses))

	for _, use := range uses {
		if rec, ok := cached[use.ID]; ok {
			merged = append(merged, rec)
			continue
		}

		pa, ok := pending[use.ID]
		if !ok {
			// Should not happen; synthesize so the batch stays well-formed.
			merged = append(merged, session.ToolResultRecord{
				CallID:  use.ID,
				Content: "no cached result or approval decision for this call",
				IsError: true,
			})
			continue
		}

		call := ToolCall{ID: pa.CallID, Name: pa.ToolName, Input: pa.Input}
		var rec session.ToolResultRecord
		if approvals[pa.CallID] {
			emit(ctx, ch, Event{Type: EventToolCall, SessionID: sess.ID, ToolName: call.Name, CallID: call.ID})
			rec = e.executeCall(ctx, sess, call)
		} else {
			rec = session.ToolResultRecord{
				CallID:  pa.CallID,
				Content: "the owner rejected this tool call; do not retry it, work with what you have",
				IsError: true,
			}
		}
		merged = append(merged, rec)
		e.emitResult(ctx, sess, ch, call, rec)
	}

	appendResultsMessage(sess, merged)
	sess.PendingApprovals = nil
	sess.CachedResults = nil
}

// absorbReply completes the suspended batch from cached results, then
// injects the external reply. Non-zero dormancy gets a staleness advisory
// ahead of the tagged reply.
func (e *Engine) absorbReply(sess *session.Session, reply string) {
	if len(sess.CachedResults) > 0 {
		appendResultsMessage(sess, sess.CachedResults)
	}

	dormancy := e.clock().Sub(sess.Wait.SetAt)

	var blocks []session.ContentBlock
	if dormancy > 0 {
		blocks = append(blocks, session.ContentBlock{
			Type: session.BlockText,
			Text: dormancyAdvisory(dormancy),
		})
	}
	blocks = append(blocks, session.ContentBlock{
		Type: session.BlockText,
		Text: fmt.Sprintf("[Member reply, token %s] %s", sess.Wait.Token, reply),
	})
	sess.AppendMessage("user", blocks...)

	sess.Wait = nil
	sess.Nudges = nil
	sess.CachedResults = nil
}

func dormancyAdvisory(d time.Duration) string {
	return fmt.Sprintf(
		"[System] This session was dormant for %s while waiting for the reply below. "+
			"Data gathered before the pause may be stale; re-verify member status and "+
			"recent activity before taking further action.",
		d.Round(time.Second),
	)
}
