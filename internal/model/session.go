// Package model holds the closed, documented record types for every entity
// persisted by the taskloop engine. Records are
// serialized as JSON; field names are the on-disk schema.
package model

import "time"

// SessionState is one state of the Session lifecycle state machine:
// pending → running → {paused ↔ running} → {completed | failed | cancelled}.
type SessionState string

const (
	SessionPending   SessionState = "pending"
	SessionRunning   SessionState = "running"
	SessionPaused    SessionState = "paused"
	SessionCompleted SessionState = "completed"
	SessionFailed    SessionState = "failed"
	SessionCancelled SessionState = "cancelled"
)

// Terminal reports whether a session in this state is absorbing: no further
// mutating operation may run.
func (s SessionState) Terminal() bool {
	switch s {
	case SessionCompleted, SessionFailed, SessionCancelled:
		return true
	default:
		return false
	}
}

// MessageRole identifies who authored a ConversationMessage.
type MessageRole string

const (
	RoleUser   MessageRole = "user"
	RoleAgent  MessageRole = "agent"
	RoleSystem MessageRole = "system"
)

// ConversationMessage is one entry in a Session's totally-ordered message log.
type ConversationMessage struct {
	Role      MessageRole `json:"role"`
	Content   string      `json:"content"`
	Timestamp time.Time   `json:"timestamp"`
}

// SessionError is one recorded failure against a Session; recording an error
// never itself changes session state (the caller decides the transition).
type SessionError struct {
	Phase     string    `json:"phase"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Session is the engine's top-level unit of work: a natural-language task
// bound to exactly one spec slug and, once a worktree exists, exactly one
// worktree/branch pair.
type Session struct {
	ID     string       `json:"id"`
	Task   string       `json:"task"`
	State  SessionState `json:"state"`
	Phase  string       `json:"phase"`
	SpecID string       `json:"spec_id,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	Messages []ConversationMessage `json:"messages"`
	Errors   []SessionError        `json:"errors"`

	// Result is a short human-readable outcome, set on transition to a
	// terminal state (e.g. "Session timed out").
	Result string `json:"result,omitempty"`

	// Artifacts indexes persisted artifact keys (e.g. "impact_analysis")
	// produced for this session's spec, used by the post-session summary.
	Artifacts []string `json:"artifacts,omitempty"`
}

// Summary is the publishable post-session report for a terminal, completed
// session.
type Summary struct {
	SessionID    string        `json:"session_id"`
	Duration     time.Duration `json:"duration"`
	MessageCount int           `json:"message_count"`
	ErrorCount   int           `json:"error_count"`
	ArtifactKeys []string      `json:"artifact_keys"`
}
