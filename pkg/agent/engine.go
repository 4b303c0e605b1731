package agent

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/pulsefit/retain/pkg/session"
	"github.com/pulsefit/retain/pkg/tools"
	"github.com/rs/zerolog"
)

// Special tool names the loop recognizes.
const (
	// ToolWaitForReply suspends the session until an external reply arrives.
	ToolWaitForReply = "wait_for_member_reply"
	// ToolAskOwner relays a question to the session owner. In full_auto mode
	// it is auto-answered instead of pausing.
	ToolAskOwner = "ask_owner"
)

const judgmentCallAnswer = "No owner is available in this session. Use your best judgment and proceed."

// Engine drives goal-driven agent sessions: it issues turns against the
// reasoning backend, dispatches tool calls, and decides pause versus
// continue. One goroutine drives one session at a time; suspension happens
// only at explicit turn boundaries by persisting and returning.
type Engine struct {
	store     session.Store
	registry  *tools.Registry
	provider  Provider
	assembler *Assembler
	price     PriceFunc
	logger    zerolog.Logger

	clock       func() time.Time
	eventBuffer int
	maxTokens   int
	nudgeDelays []time.Duration
}

// Config assembles an Engine.
type Config struct {
	Store     session.Store
	Registry  *tools.Registry
	Provider  Provider
	Assembler *Assembler
	Price     PriceFunc
	Logger    zerolog.Logger

	// Clock overrides time.Now, used by dormancy tests.
	Clock func() time.Time
	// EventBuffer sizes the outbound event channel (default 64).
	EventBuffer int
	// MaxTokens caps each backend response (default 4096).
	MaxTokens int
	// NudgeDelays is the reminder backoff sequence for waiting_event
	// sessions; its length bounds the nudge count.
	NudgeDelays []time.Duration
}

// NewEngine validates the configuration and builds an engine.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("tool registry is required")
	}
	if cfg.Provider == nil {
		return nil, fmt.Errorf("reasoning provider is required")
	}
	if cfg.Assembler == nil {
		cfg.Assembler = &Assembler{Logger: cfg.Logger}
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 64
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	if len(cfg.NudgeDelays) == 0 {
		cfg.NudgeDelays = []time.Duration{24 * time.Hour, 72 * time.Hour, 7 * 24 * time.Hour}
	}

	return &Engine{
		store:       cfg.Store,
		registry:    cfg.Registry,
		provider:    cfg.Provider,
		assembler:   cfg.Assembler,
		price:       cfg.Price,
		logger:      cfg.Logger,
		clock:       cfg.Clock,
		eventBuffer: cfg.EventBuffer,
		maxTokens:   cfg.MaxTokens,
		nudgeDelays: cfg.NudgeDelays,
	}, nil
}

// StartParams describe a new session.
type StartParams struct {
	AccountID      string
	AgentID        string
	Goal           string
	CreatedBy      string
	Mode           session.Mode
	Model          string
	MaxTurns       int
	BudgetCents    int64
	Credentials    map[string]string
	PromptOverride string
	TypeHint       string
}

// Start creates a session: assigns identity, assembles the immutable system
// prompt, persists, emits a creation event, and runs the loop until the
// first suspension or terminus. The returned channel closes when the loop
// returns.
func (e *Engine) Start(ctx context.Context, params StartParams) (*session.Session, <-chan Event, error) {
	if params.Goal == "" {
		return nil, nil, fmt.Errorf("goal is required")
	}
	if params.AccountID == "" {
		return nil, nil, fmt.Errorf("account id is required")
	}
	if params.Mode == "" {
		params.Mode = session.ModeSemiAuto
	}
	if !params.Mode.Valid() {
		return nil, nil, fmt.Errorf("invalid autonomy mode: %s", params.Mode)
	}
	if params.MaxTurns <= 0 {
		params.MaxTurns = 20
	}
	if params.Model == "" {
		params.Model = "claude-sonnet-4-20250514"
	}

	prompt := e.assembler.Build(ctx, PromptSpec{
		Goal:      params.Goal,
		TypeHint:  params.TypeHint,
		AccountID: params.AccountID,
		Override:  params.PromptOverride,
		Mode:      params.Mode,
		Tools:     e.registry.List(),
	})

	sess := &session.Session{
		ID:           uuid.NewString(),
		AccountID:    params.AccountID,
		AgentID:      params.AgentID,
		Goal:         params.Goal,
		CreatedBy:    params.CreatedBy,
		Status:       session.StatusActive,
		Mode:         params.Mode,
		MaxTurns:     params.MaxTurns,
		Model:        params.Model,
		SystemPrompt: prompt,
		BudgetCents:  params.BudgetCents,
		Credentials:  params.Credentials,
	}
	sess.AppendMessage("user", session.ContentBlock{Type: session.BlockText, Text: params.Goal})

	if err := e.store.Create(ctx, sess); err != nil {
		return nil, nil, fmt.Errorf("failed to persist session: %w", err)
	}

	e.logger.Info().
		Str("session_id", sess.ID).
		Str("account_id", sess.AccountID).
		Str("mode", string(sess.Mode)).
		Msg("Session started")

	ch := make(chan Event, e.eventBuffer)
	go func() {
		defer close(ch)
		emit(ctx, ch, Event{Type: EventSessionCreated, SessionID: sess.ID})
		e.run(ctx, sess, ch)
	}()

	return sess, ch, nil
}

// run executes turns until the session suspends or terminates. It persists
// at every turn boundary and at every suspension; resume reconstructs
// in-flight context purely from persisted fields.
func (e *Engine) run(ctx context.Context, sess *session.Session, ch chan<- Event) {
	logger := e.logger.With().Str("session_id", sess.ID).Logger()

	for {
		select {
		case <-ctx.Done():
			logger.Warn().Msg("Run context cancelled at turn boundary")
			return
		default:
		}

		// Budget check comes before everything else each turn.
		if sess.CostCents >= sess.BudgetCents {
			notice := fmt.Sprintf(
				"Budget limit reached: %d of %d cents spent. Wrapping up without further model calls.",
				sess.CostCents, sess.BudgetCents,
			)
			emit(ctx, ch, Event{Type: EventMessage, SessionID: sess.ID, Text: notice})
			e.finish(ctx, sess, ch, notice)
			return
		}

		if sess.TurnCount >= sess.MaxTurns {
			e.finish(ctx, sess, ch, fmt.Sprintf(
				"Turn limit reached: session used all %d turns before completing the goal.",
				sess.MaxTurns,
			))
			return
		}

		resp, err := e.provider.Complete(ctx, Request{
			Model:     sess.Model,
			System:    sess.SystemPrompt,
			MaxTokens: e.maxTokens,
			Messages:  sess.Messages,
			Tools:     e.registry.List(),
		})
		if err != nil {
			logger.Error().Err(err).Msg("Reasoning call failed")
			sess.Status = session.StatusFailed
			if uerr := e.store.Update(ctx, sess); uerr != nil {
				logger.Error().Err(uerr).Msg("Failed to persist failed session")
			}
			emit(ctx, ch, Event{Type: EventError, SessionID: sess.ID, Message: fmt.Sprintf("reasoning call failed: %v", err)})
			return
		}

		sess.TurnCount++
		accrue(sess, resp.Usage, e.price)

		blocks := make([]session.ContentBlock, 0, len(resp.ToolCalls)+1)
		if resp.Text != "" {
			blocks = append(blocks, session.ContentBlock{Type: session.BlockText, Text: resp.Text})
		}
		for _, call := range resp.ToolCalls {
			blocks = append(blocks, session.ContentBlock{
				Type:  session.BlockToolUse,
				ID:    call.ID,
				Name:  call.Name,
				Input: call.Input,
			})
		}
		sess.AppendMessage("assistant", blocks...)

		if resp.Text != "" {
			emit(ctx, ch, Event{Type: EventMessage, SessionID: sess.ID, Text: resp.Text})
		}

		if len(resp.ToolCalls) == 0 {
			if sess.Mode == session.ModeFullAuto {
				summary := resp.Text
				if summary == "" {
					summary = "Goal processing complete."
				}
				e.finish(ctx, sess, ch, summary)
				return
			}
			e.pause(ctx, sess, ch, session.StatusWaitingInput, "awaiting owner input")
			return
		}

		outcome := e.dispatchBatch(ctx, sess, resp.ToolCalls, ch)

		if outcome.wait != nil {
			sess.CachedResults = outcome.results
			sess.Wait = outcome.wait
			sess.Nudges = e.newNudgePlan()
			e.pause(ctx, sess, ch, session.StatusWaitingEvent, "awaiting external reply")
			return
		}

		if len(outcome.pending) > 0 {
			// The protocol requires one synchronous submission with a result
			// for every call from the prior turn, so the whole batch is held.
			sess.CachedResults = outcome.results
			sess.PendingApprovals = outcome.pending
			for _, pa := range outcome.pending {
				emit(ctx, ch, Event{
					Type:      EventToolPending,
					SessionID: sess.ID,
					ToolName:  pa.ToolName,
					CallID:    pa.CallID,
				})
			}
			e.pause(ctx, sess, ch, session.StatusWaitingApproval, "awaiting owner approval")
			return
		}

		appendResultsMessage(sess, outcome.results)

		if sess.Mode == session.ModeTurnBased {
			e.pause(ctx, sess, ch, session.StatusWaitingInput, "turn complete, awaiting owner review")
			return
		}

		// Turn boundary.
		if err := e.store.Update(ctx, sess); err != nil {
			logger.Error().Err(err).Msg("Failed to persist turn boundary")
			emit(ctx, ch, Event{Type: EventError, SessionID: sess.ID, Message: fmt.Sprintf("persistence failed: %v", err)})
			return
		}
	}
}

// batchOutcome carries the results of dispatching one tool-call batch.
type batchOutcome struct {
	results []session.ToolResultRecord
	pending []session.PendingApproval
	wait    *session.WaitMarker
}

// dispatchBatch processes the batch sequentially, preserving order since
// results are correlated by id and side effects are not idempotent.
func (e *Engine) dispatchBatch(ctx context.Context, sess *session.Session, calls []ToolCall, ch chan<- Event) batchOutcome {
	var out batchOutcome

	for i, call := range calls {
		emit(ctx, ch, Event{Type: EventToolCall, SessionID: sess.ID, ToolName: call.Name, CallID: call.ID})

		def := e.registry.Get(call.Name)

		switch {
		case def == nil:
			// Synthesize an error result so the batch stays well-formed.
			rec := session.ToolResultRecord{
				CallID:  call.ID,
				Content: fmt.Sprintf("tool not found: %s", call.Name),
				IsError: true,
			}
			out.results = append(out.results, rec)
			e.emitResult(ctx, sess, ch, call, rec)

		case call.Name == ToolWaitForReply:
			rec := e.executeCall(ctx, sess, call)
			out.results = append(out.results, rec)
			e.emitResult(ctx, sess, ch, call, rec)

			out.wait = &session.WaitMarker{
				Token:    waitToken(call.Input),
				CallID:   call.ID,
				MemberID: stringInput(call.Input, "member_id"),
				SetAt:    e.clock().UTC(),
				Summary:  stringInput(call.Input, "question"),
			}

			// Approval requests queued earlier in this batch cannot survive
			// the suspension; they resolve as deferred errors so every call
			// id still gets exactly one result.
			for _, pa := range out.pending {
				rc := deferredResult(pa.CallID)
				out.results = append(out.results, rc)
				e.emitResult(ctx, sess, ch, ToolCall{ID: pa.CallID, Name: pa.ToolName}, rc)
			}
			out.pending = nil

			// Resolve the rest of the batch now so resume only has to append
			// cached results. Approval-gated calls cannot execute while the
			// session is suspended; they get a deferred error result.
			for _, rest := range calls[i+1:] {
				emit(ctx, ch, Event{Type: EventToolCall, SessionID: sess.ID, ToolName: rest.Name, CallID: rest.ID})
				var rc session.ToolResultRecord
				restDef := e.registry.Get(rest.Name)
				switch {
				case restDef == nil:
					rc = session.ToolResultRecord{CallID: rest.ID, Content: fmt.Sprintf("tool not found: %s", rest.Name), IsError: true}
				case rest.Name == ToolWaitForReply:
					// A session holds at most one outstanding member question.
					rc = session.ToolResultRecord{
						CallID:  rest.ID,
						Content: "a member reply is already pending for this session; ask again after it arrives",
						IsError: true,
					}
				case rest.Name == ToolAskOwner && sess.Mode == session.ModeFullAuto:
					rc = session.ToolResultRecord{CallID: rest.ID, Content: judgmentCallAnswer}
				case sess.Mode != session.ModeFullAuto && restDef.Approval.RequiresApproval(rest.Input, e.toolContext(sess)):
					rc = deferredResult(rest.ID)
				default:
					rc = e.executeCall(ctx, sess, rest)
				}
				out.results = append(out.results, rc)
				e.emitResult(ctx, sess, ch, rest, rc)
			}

			// Deferred entries joined out of sequence; the submission must
			// mirror the batch order.
			order := make(map[string]int, len(calls))
			for idx, c := range calls {
				order[c.ID] = idx
			}
			sort.SliceStable(out.results, func(a, b int) bool {
				return order[out.results[a].CallID] < order[out.results[b].CallID]
			})
			return out

		case call.Name == ToolAskOwner && sess.Mode == session.ModeFullAuto:
			// Never pause an unattended run on a request for input.
			rec := session.ToolResultRecord{CallID: call.ID, Content: judgmentCallAnswer}
			out.results = append(out.results, rec)
			e.emitResult(ctx, sess, ch, call, rec)

		case sess.Mode != session.ModeFullAuto && def.Approval.RequiresApproval(call.Input, e.toolContext(sess)):
			out.pending = append(out.pending, session.PendingApproval{
				CallID:   call.ID,
				ToolName: call.Name,
				Input:    call.Input,
			})

		default:
			rec := e.executeCall(ctx, sess, call)
			out.results = append(out.results, rec)
			e.emitResult(ctx, sess, ch, call, rec)
		}
	}

	return out
}

// deferredResult is the synthetic answer for an approval-gated call caught in
// a batch that suspended on a member reply.
func deferredResult(callID string) session.ToolResultRecord {
	return session.ToolResultRecord{
		CallID:  callID,
		Content: "deferred: session suspended awaiting a member reply before this could be approved",
		IsError: true,
	}
}

// executeCall runs one tool call through the registry. Handler failures come
// back as structured error results and never abort the session.
func (e *Engine) executeCall(ctx context.Context, sess *session.Session, call ToolCall) session.ToolResultRecord {
	res := e.registry.Execute(ctx, call.Name, call.Input, e.toolContext(sess))
	return session.ToolResultRecord{CallID: call.ID, Content: res.Content, IsError: res.IsError}
}

func (e *Engine) emitResult(ctx context.Context, sess *session.Session, ch chan<- Event, call ToolCall, rec session.ToolResultRecord) {
	emit(ctx, ch, Event{
		Type:      EventToolResult,
		SessionID: sess.ID,
		ToolName:  call.Name,
		CallID:    rec.CallID,
		Result:    rec.Content,
		IsError:   rec.IsError,
	})
}

func (e *Engine) toolContext(sess *session.Session) *tools.Context {
	return &tools.Context{
		AccountID:   sess.AccountID,
		SessionID:   sess.ID,
		Mode:        sess.Mode,
		Credentials: sess.Credentials,
		WorkingSet:  &sess.WorkingSet,
		RecordOutput: func(kind session.OutputKind, detail map[string]interface{}) {
			sess.RecordOutput(uuid.NewString(), kind, detail)
		},
	}
}

// appendResultsMessage appends one user message carrying a tool_result block
// per record, in the order produced.
func appendResultsMessage(sess *session.Session, results []session.ToolResultRecord) {
	blocks := make([]session.ContentBlock, 0, len(results))
	for _, rec := range results {
		blocks = append(blocks, session.ContentBlock{
			Type:      session.BlockToolResult,
			ToolUseID: rec.CallID,
			Content:   rec.Content,
			IsError:   rec.IsError,
		})
	}
	sess.AppendMessage("user", blocks...)
}

// finish terminates the session as completed with an explanatory summary.
func (e *Engine) finish(ctx context.Context, sess *session.Session, ch chan<- Event, summary string) {
	sess.Status = session.StatusCompleted
	if err := e.store.Update(ctx, sess); err != nil {
		e.logger.Error().Err(err).Str("session_id", sess.ID).Msg("Failed to persist completed session")
		emit(ctx, ch, Event{Type: EventError, SessionID: sess.ID, Message: fmt.Sprintf("persistence failed: %v", err)})
		return
	}
	emit(ctx, ch, Event{Type: EventDone, SessionID: sess.ID, Summary: summary})
	e.logger.Info().Str("session_id", sess.ID).Int("turns", sess.TurnCount).Msg("Session completed")
}

// pause suspends the session in the given status and returns control to the
// caller. The full state is persisted so a later resume can reconstruct the
// in-flight batch.
func (e *Engine) pause(ctx context.Context, sess *session.Session, ch chan<- Event, status session.Status, reason string) {
	sess.Status = status
	if err := e.store.Update(ctx, sess); err != nil {
		e.logger.Error().Err(err).Str("session_id", sess.ID).Msg("Failed to persist suspension")
		emit(ctx, ch, Event{Type: EventError, SessionID: sess.ID, Message: fmt.Sprintf("persistence failed: %v", err)})
		return
	}
	emit(ctx, ch, Event{Type: EventPaused, SessionID: sess.ID, Status: status, Reason: reason})
	e.logger.Info().Str("session_id", sess.ID).Str("status", string(status)).Str("reason", reason).Msg("Session paused")
}

func (e *Engine) newNudgePlan() *session.NudgePlan {
	return &session.NudgePlan{
		Max:        len(e.nudgeDelays),
		NextDueAt:  e.clock().UTC().Add(e.nudgeDelays[0]),
		BackoffSeq: e.nudgeDelays,
	}
}

// waitToken returns the caller-supplied correlation token or generates one.
func waitToken(input map[string]interface{}) string {
	if t := stringInput(input, "token"); t != "" {
		return t
	}
	token, err := gonanoid.New()
	if err != nil {
		return uuid.NewString()
	}
	return token
}

func stringInput(input map[string]interface{}, key string) string {
	if input == nil {
		return ""
	}
	if v, ok := input[key].(string); ok {
		return v
	}
	return ""
}
