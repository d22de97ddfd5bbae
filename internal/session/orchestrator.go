package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/taskloop-dev/taskloop/internal/model"
)

// TimedOutResult is the result recorded on sessions force-failed by stale
// cleanup.
const TimedOutResult = "Session timed out"

// TerminalError reports a mutating operation attempted on an absorbing
// session state. The on-disk record is left unchanged.
type TerminalError struct {
	ID    string
	State model.SessionState
}

func (e *TerminalError) Error() string {
	return fmt.Sprintf("session %s is in terminal state %q and cannot be mutated", e.ID, e.State)
}

// TransitionError reports an illegal lifecycle transition.
type TransitionError struct {
	ID   string
	From model.SessionState
	To   model.SessionState
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("session %s cannot move from %q to %q", e.ID, e.From, e.To)
}

// Orchestrator owns session lifecycle state. Every mutation acquires a
// mutex keyed by the session UUID before reading current state, and holds
// it until the mutation is fully persisted; different sessions proceed in
// parallel.
type Orchestrator struct {
	store *Store
	locks sync.Map // session UUID -> *sync.Mutex

	// now is the clock, replaceable in tests.
	now func() time.Time
}

// NewOrchestrator builds an orchestrator over a store.
func NewOrchestrator(store *Store) *Orchestrator {
	return &Orchestrator{store: store, now: time.Now}
}

func (o *Orchestrator) lock(id string) *sync.Mutex {
	mu, _ := o.locks.LoadOrStore(id, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Create allocates a new pending session for a task. Concurrent creates
// never collide: identity is a fresh UUID.
func (o *Orchestrator) Create(task string) (*model.Session, error) {
	sess := &model.Session{
		ID:        uuid.NewString(),
		Task:      task,
		State:     model.SessionPending,
		CreatedAt: o.now().UTC(),
	}
	if err := o.store.Save(sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Get returns a session by UUID.
func (o *Orchestrator) Get(id string) (*model.Session, error) {
	return o.store.Load(id)
}

// mutate runs fn on the current record under the session's mutex and
// persists the result before releasing it. fn returning an error aborts
// the mutation with the record untouched.
func (o *Orchestrator) mutate(id string, fn func(*model.Session) error) (*model.Session, error) {
	mu := o.lock(id)
	mu.Lock()
	defer mu.Unlock()

	sess, err := o.store.Load(id)
	if err != nil {
		return nil, err
	}
	if err := fn(sess); err != nil {
		return nil, err
	}
	if err := o.store.Save(sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// transition moves a session between lifecycle states, enforcing the state
// machine: pending → running → {paused ↔ running} → terminal.
func (o *Orchestrator) transition(id string, to model.SessionState, result string) (*model.Session, error) {
	return o.mutate(id, func(sess *model.Session) error {
		if sess.State.Terminal() {
			return &TerminalError{ID: id, State: sess.State}
		}
		if !allowed(sess.State, to) {
			return &TransitionError{ID: id, From: sess.State, To: to}
		}
		sess.State = to
		now := o.now().UTC()
		switch to {
		case model.SessionRunning:
			if sess.StartedAt == nil {
				sess.StartedAt = &now
			}
		case model.SessionCompleted, model.SessionFailed, model.SessionCancelled:
			sess.CompletedAt = &now
			sess.Result = result
		}
		return nil
	})
}

func allowed(from, to model.SessionState) bool {
	switch to {
	case model.SessionRunning:
		return from == model.SessionPending || from == model.SessionPaused
	case model.SessionPaused:
		return from == model.SessionRunning
	case model.SessionCompleted:
		return from == model.SessionRunning || from == model.SessionPaused
	case model.SessionFailed, model.SessionCancelled:
		// Any live session can fail or be cancelled, even before starting.
		return true
	default:
		return false
	}
}

// Start moves a pending session to running.
func (o *Orchestrator) Start(id string) (*model.Session, error) {
	return o.transition(id, model.SessionRunning, "")
}

// Pause suspends a running session.
func (o *Orchestrator) Pause(id string) (*model.Session, error) {
	return o.transition(id, model.SessionPaused, "")
}

// Resume continues a paused session.
func (o *Orchestrator) Resume(id string) (*model.Session, error) {
	return o.transition(id, model.SessionRunning, "")
}

// Complete finishes a session successfully.
func (o *Orchestrator) Complete(id, result string) (*model.Session, error) {
	return o.transition(id, model.SessionCompleted, result)
}

// Fail moves a session to failed.
func (o *Orchestrator) Fail(id, result string) (*model.Session, error) {
	return o.transition(id, model.SessionFailed, result)
}

// Cancel moves a session to cancelled.
func (o *Orchestrator) Cancel(id, result string) (*model.Session, error) {
	return o.transition(id, model.SessionCancelled, result)
}

// UpdatePhase advances the session's current engine phase.
func (o *Orchestrator) UpdatePhase(id, phase string) (*model.Session, error) {
	return o.mutate(id, func(sess *model.Session) error {
		if sess.State.Terminal() {
			return &TerminalError{ID: id, State: sess.State}
		}
		sess.Phase = phase
		return nil
	})
}

// BindSpec associates the session with its spec directory identity.
func (o *Orchestrator) BindSpec(id, specID string) (*model.Session, error) {
	return o.mutate(id, func(sess *model.Session) error {
		if sess.State.Terminal() {
			return &TerminalError{ID: id, State: sess.State}
		}
		sess.SpecID = specID
		return nil
	})
}

// RecordArtifact indexes an artifact key produced for this session's spec.
func (o *Orchestrator) RecordArtifact(id, key string) (*model.Session, error) {
	return o.mutate(id, func(sess *model.Session) error {
		if sess.State.Terminal() {
			return &TerminalError{ID: id, State: sess.State}
		}
		for _, existing := range sess.Artifacts {
			if existing == key {
				return nil
			}
		}
		sess.Artifacts = append(sess.Artifacts, key)
		return nil
	})
}

// AppendAgentMessage appends an agent-authored conversation message.
// Messages are totally ordered per session (FIFO under the session mutex).
func (o *Orchestrator) AppendAgentMessage(id, content string) (*model.Session, error) {
	return o.appendMessage(id, model.RoleAgent, content)
}

// AppendUserMessage appends a user-authored conversation message.
func (o *Orchestrator) AppendUserMessage(id, content string) (*model.Session, error) {
	return o.appendMessage(id, model.RoleUser, content)
}

// AppendSystemMessage appends a system message. System messages are the
// one append allowed on terminal sessions.
func (o *Orchestrator) AppendSystemMessage(id, content string) (*model.Session, error) {
	return o.appendMessage(id, model.RoleSystem, content)
}

func (o *Orchestrator) appendMessage(id string, role model.MessageRole, content string) (*model.Session, error) {
	return o.mutate(id, func(sess *model.Session) error {
		if sess.State.Terminal() && role != model.RoleSystem {
			return &TerminalError{ID: id, State: sess.State}
		}
		sess.Messages = append(sess.Messages, model.ConversationMessage{
			Role:      role,
			Content:   content,
			Timestamp: o.now().UTC(),
		})
		return nil
	})
}

// RecordError appends a failure record without changing session state; the
// caller decides whether the error is fatal.
func (o *Orchestrator) RecordError(id, phase, message string) (*model.Session, error) {
	return o.mutate(id, func(sess *model.Session) error {
		if sess.State.Terminal() {
			return &TerminalError{ID: id, State: sess.State}
		}
		sess.Errors = append(sess.Errors, model.SessionError{
			Phase:     phase,
			Message:   message,
			Timestamp: o.now().UTC(),
		})
		return nil
	})
}

// ActiveSessions returns every session not yet in a terminal state.
func (o *Orchestrator) ActiveSessions() ([]*model.Session, error) {
	all, err := o.store.List()
	if err != nil {
		return nil, err
	}
	var active []*model.Session
	for _, sess := range all {
		if !sess.State.Terminal() {
			active = append(active, sess)
		}
	}
	return active, nil
}

// CleanupStale force-fails sessions whose wall-clock age since start
// exceeds maxAge, removing them from the active set. It returns the IDs it
// timed out.
func (o *Orchestrator) CleanupStale(maxAge time.Duration) ([]string, error) {
	active, err := o.ActiveSessions()
	if err != nil {
		return nil, err
	}

	var timedOut []string
	for _, sess := range active {
		if sess.StartedAt == nil {
			continue
		}
		if o.now().Sub(*sess.StartedAt) <= maxAge {
			continue
		}
		if _, err := o.Fail(sess.ID, TimedOutResult); err != nil {
			return timedOut, err
		}
		timedOut = append(timedOut, sess.ID)
	}
	return timedOut, nil
}

// Summarize publishes the post-session report for a completed session.
// Non-completed sessions are skipped with a nil summary.
func (o *Orchestrator) Summarize(id string) (*model.Summary, error) {
	sess, err := o.store.Load(id)
	if err != nil {
		return nil, err
	}
	if sess.State != model.SessionCompleted {
		return nil, nil
	}

	var duration time.Duration
	if sess.StartedAt != nil && sess.CompletedAt != nil {
		duration = sess.CompletedAt.Sub(*sess.StartedAt)
	}
	return &model.Summary{
		SessionID:    sess.ID,
		Duration:     duration,
		MessageCount: len(sess.Messages),
		ErrorCount:   len(sess.Errors),
		ArtifactKeys: append([]string(nil), sess.Artifacts...),
	}, nil
}
