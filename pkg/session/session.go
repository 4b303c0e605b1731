package session

import (
	"time"
)

// Status represents the lifecycle state of a session.
type Status string

const (
	StatusActive          Status = "active"
	StatusWaitingInput    Status = "waiting_input"
	StatusWaitingApproval Status = "waiting_approval"
	StatusWaitingEvent    Status = "waiting_event"
	StatusCompleted       Status = "completed"
	StatusFailed          Status = "failed"
)

// Terminal reports whether the status admits no further mutation.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Mode controls how often a session pauses for a human.
type Mode string

const (
	ModeFullAuto  Mode = "full_auto"
	ModeSemiAuto  Mode = "semi_auto"
	ModeTurnBased Mode = "turn_based"
)

// Valid reports whether the mode is one of the known autonomy modes.
func (m Mode) Valid() bool {
	switch m {
	case ModeFullAuto, ModeSemiAuto, ModeTurnBased:
		return true
	}
	return false
}

// BlockType identifies the kind of a content block.
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
)

// ContentBlock is one element of a message, mirroring the reasoning
// backend's wire format.
type ContentBlock struct {
	Type BlockType `json:"type"`

	// For text blocks
	Text string `json:"text,omitempty"`

	// For tool_use blocks
	ID    string                 `json:"id,omitempty"`
	Name  string                 `json:"name,omitempty"`
	Input map[string]interface{} `json:"input,omitempty"`

	// For tool_result blocks
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
}

// Message is a role-tagged group of content blocks in the conversation.
type Message struct {
	Role      string         `json:"role"` // "user" or "assistant"
	Blocks    []ContentBlock `json:"blocks"`
	Timestamp time.Time      `json:"timestamp"`
}

// PendingApproval records one tool call held for owner consent.
type PendingApproval struct {
	CallID   string                 `json:"call_id"`
	ToolName string                 `json:"tool_name"`
	Input    map[string]interface{} `json:"input"`
}

// ToolResultRecord caches a tool result produced before a suspension so the
// batch can be completed on resume.
type ToolResultRecord struct {
	CallID  string `json:"call_id"`
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"`
}

// WaitMarker is set while the session is suspended for an external reply.
type WaitMarker struct {
	Token    string    `json:"token"`
	CallID   string    `json:"call_id"`
	MemberID string    `json:"member_id,omitempty"`
	SetAt    time.Time `json:"set_at"`
	Summary  string    `json:"summary,omitempty"`
}

// NudgePlan schedules reminder deliveries while a session waits for an
// external reply. Delivery itself is an external collaborator.
type NudgePlan struct {
	Sent       int             `json:"sent"`
	Max        int             `json:"max"`
	NextDueAt  time.Time       `json:"next_due_at"`
	BackoffSeq []time.Duration `json:"backoff_seq"`
}

// WorkingSet tracks identifiers the session has already acted on, so tools
// can avoid duplicate side effects across turns and resumes.
type WorkingSet struct {
	Processed []string `json:"processed,omitempty"`
	Emailed   []string `json:"emailed,omitempty"`
	Skipped   []string `json:"skipped,omitempty"`
}

// Has reports whether an id is present in any working-set bucket.
func (w *WorkingSet) Has(id string) bool {
	for _, bucket := range [][]string{w.Processed, w.Emailed, w.Skipped} {
		for _, v := range bucket {
			if v == id {
				return true
			}
		}
	}
	return false
}

// MarkProcessed appends an id to the processed bucket if not present.
func (w *WorkingSet) MarkProcessed(id string) {
	if !w.Has(id) {
		w.Processed = append(w.Processed, id)
	}
}

// MarkEmailed appends an id to the emailed bucket if not present.
func (w *WorkingSet) MarkEmailed(id string) {
	if !w.Has(id) {
		w.Emailed = append(w.Emailed, id)
	}
}

// OutputKind classifies a recorded side effect.
type OutputKind string

const (
	OutputTaskCreated          OutputKind = "task_created"
	OutputMessageSent          OutputKind = "message_sent"
	OutputImprovementSuggested OutputKind = "improvement_suggested"
	OutputNoteRecorded         OutputKind = "note_recorded"
	OutputArtifactCreated      OutputKind = "artifact_created"
)

// OutputRecord is one entry in the session's append-only side-effect log.
type OutputRecord struct {
	ID        string                 `json:"id"`
	Kind      OutputKind             `json:"kind"`
	Detail    map[string]interface{} `json:"detail,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// Session is the sole persisted entity: a resumable unit of agent execution
// scoped to one goal.
type Session struct {
	// Identity
	ID        string `json:"id"`
	AccountID string `json:"account_id"`
	AgentID   string `json:"agent_id,omitempty"`
	Goal      string `json:"goal"`
	CreatedBy string `json:"created_by"`

	// Control state
	Status    Status `json:"status"`
	Mode      Mode   `json:"mode"`
	TurnCount int    `json:"turn_count"`
	MaxTurns  int    `json:"max_turns"`
	Model     string `json:"model"`

	// Conversation. The system prompt is immutable and kept apart from the
	// append-only message sequence.
	SystemPrompt string    `json:"system_prompt"`
	Messages     []Message `json:"messages"`

	// Approval state; non-empty only while Status is waiting_approval.
	PendingApprovals []PendingApproval `json:"pending_approvals,omitempty"`

	// Side-channel context
	WorkingSet    WorkingSet         `json:"working_set"`
	Wait          *WaitMarker        `json:"wait,omitempty"`
	Nudges        *NudgePlan         `json:"nudges,omitempty"`
	Credentials   map[string]string  `json:"credentials,omitempty"`
	CachedResults []ToolResultRecord `json:"cached_results,omitempty"`

	// Outputs
	Outputs []OutputRecord `json:"outputs,omitempty"`

	// Accounting
	CostCents   int64 `json:"cost_cents"`
	BudgetCents int64 `json:"budget_cents"`

	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AppendMessage appends a message with the given role and blocks.
func (s *Session) AppendMessage(role string, blocks ...ContentBlock) {
	s.Messages = append(s.Messages, Message{
		Role:      role,
		Blocks:    blocks,
		Timestamp: time.Now().UTC(),
	})
}

// LastAssistantToolUses returns the tool_use blocks of the most recent
// assistant message, in batch order. Used to reconcile result submissions
// across a suspend/resume boundary.
func (s *Session) LastAssistantToolUses() []ContentBlock {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role != "assistant" {
			continue
		}
		var uses []ContentBlock
		for _, b := range s.Messages[i].Blocks {
			if b.Type == BlockToolUse {
				uses = append(uses, b)
			}
		}
		return uses
	}
	return nil
}

// RecordOutput appends to the side-effect log.
func (s *Session) RecordOutput(id string, kind OutputKind, detail map[string]interface{}) {
	s.Outputs = append(s.Outputs, OutputRecord{
		ID:        id,
		Kind:      kind,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	})
}
