package qa

import (
	"context"
	"fmt"
	"time"

	"github.com/taskloop-dev/taskloop/internal/model"
)

// Config bounds one QA loop run.
type Config struct {
	MaxIterations        int
	MaxConsecutiveErrors int
	RecurringThreshold   int
	AutoApply            bool
	MinFixConfidence     float64
	// VerifiedBy is stamped into every signoff.
	VerifiedBy string
}

// DefaultConfig returns the standard loop limits.
func DefaultConfig() Config {
	return Config{
		MaxIterations:        50,
		MaxConsecutiveErrors: 3,
		RecurringThreshold:   3,
		AutoApply:            true,
		MinFixConfidence:     DefaultMinFixConfidence,
		VerifiedBy:           "taskloop-qa",
	}
}

// Event is a phase-transition notification for progress streaming.
type Event struct {
	Phase     model.QAState
	Iteration int
}

// Loop is the Review→Fix state machine over one spec's worktree.
type Loop struct {
	cfg         Config
	reviewer    Reviewer
	fixer       Fixer
	specDir     string
	worktreeDir string

	// onPhase, when set, is invoked synchronously at every phase
	// transition. It must not block and must not call back into mutating
	// session operations, or deadlock is possible.
	onPhase func(Event)
}

// LoopOption configures a Loop.
type LoopOption func(*Loop)

// WithPhaseCallback registers the phase-transition observer.
func WithPhaseCallback(fn func(Event)) LoopOption {
	return func(l *Loop) { l.onPhase = fn }
}

// NewLoop builds a QA loop for one spec directory and worktree.
func NewLoop(cfg Config, reviewer Reviewer, fixer Fixer, specDir, worktreeDir string, opts ...LoopOption) *Loop {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 50
	}
	if cfg.MaxConsecutiveErrors <= 0 {
		cfg.MaxConsecutiveErrors = 3
	}
	if cfg.RecurringThreshold <= 0 {
		cfg.RecurringThreshold = 3
	}
	if cfg.MinFixConfidence <= 0 {
		cfg.MinFixConfidence = DefaultMinFixConfidence
	}
	if cfg.VerifiedBy == "" {
		cfg.VerifiedBy = "taskloop-qa"
	}
	l := &Loop{
		cfg:         cfg,
		reviewer:    reviewer,
		fixer:       fixer,
		specDir:     specDir,
		worktreeDir: worktreeDir,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Loop) emit(phase model.QAState, iteration int) {
	if l.onPhase != nil {
		l.onPhase(Event{Phase: phase, Iteration: iteration})
	}
}

// Run drives iterations until the review approves, the loop hits its
// iteration bound, errors repeat, or a recurring issue forces escalation.
// Escalation is a structured outcome (state.EscalatedToHuman), not an
// error; the returned error is reserved for cancellation and I/O failures.
func (l *Loop) Run(ctx context.Context) (*model.QALoopState, error) {
	state := &model.QALoopState{Phase: model.QAReview}

	for iteration := 1; ; iteration++ {
		if iteration > l.cfg.MaxIterations {
			return l.escalate(state, fmt.Sprintf("iteration limit of %d reached", l.cfg.MaxIterations))
		}
		if err := ctx.Err(); err != nil {
			return state, err
		}

		// Human feedback: a cleared fix request means a person intervened
		// since the last iteration.
		if _, err := ConsumeFixRequest(l.specDir); err != nil {
			return state, err
		}

		state.Phase = model.QAReview
		l.emit(model.QAReview, iteration)

		review, err := l.reviewer.Review(ctx, ReviewRequest{
			WorktreeDir: l.worktreeDir,
			SpecDir:     l.specDir,
		})
		if err != nil {
			if ctx.Err() != nil {
				return state, ctx.Err()
			}
			state.ConsecutiveErrors++
			state.Iterations = append(state.Iterations, model.IterationRecord{
				Iteration: iteration,
				Verdict:   "error",
				Timestamp: time.Now().UTC(),
			})
			if writeErr := l.writeSignoff(model.SignoffError, iteration, nil, nil, false); writeErr != nil {
				return state, writeErr
			}
			if state.ConsecutiveErrors >= l.cfg.MaxConsecutiveErrors {
				return l.escalate(state, fmt.Sprintf("%d consecutive review errors: %v", state.ConsecutiveErrors, err))
			}
			continue
		}
		state.ConsecutiveErrors = 0

		record := model.IterationRecord{
			Iteration: iteration,
			Issues:    review.Issues,
			Timestamp: time.Now().UTC(),
		}

		if review.Approved {
			record.Verdict = "approved"
			state.Iterations = append(state.Iterations, record)
			if err := l.writeSignoff(model.SignoffApproved, iteration, review.Issues, review.TestsPassed, false); err != nil {
				return state, err
			}
			state.Phase = model.QAComplete
			state.IsApproved = true
			l.emit(model.QAComplete, iteration)
			return state, nil
		}

		record.Verdict = "rejected"
		state.Iterations = append(state.Iterations, record)
		if err := l.writeSignoff(model.SignoffRejected, iteration, review.Issues, review.TestsPassed, false); err != nil {
			return state, err
		}

		if recurring := recurringTitles(state.Iterations, l.cfg.RecurringThreshold); len(recurring) > 0 {
			return l.escalateRecurring(state, recurring)
		}

		// Cancellation is honored between Review and Fix.
		if err := ctx.Err(); err != nil {
			return state, err
		}

		state.Phase = model.QAFix
		l.emit(model.QAFix, iteration)

		fixes, err := l.fixer.Fixes(ctx, l.worktreeDir, review.Issues)
		if err != nil {
			if ctx.Err() != nil {
				return state, ctx.Err()
			}
			state.ConsecutiveErrors++
			if state.ConsecutiveErrors >= l.cfg.MaxConsecutiveErrors {
				return l.escalate(state, fmt.Sprintf("%d consecutive errors, last from fix generation: %v", state.ConsecutiveErrors, err))
			}
			continue
		}

		applied, err := Apply(l.worktreeDir, fixes, ApplyOptions{
			AutoApply:     l.cfg.AutoApply,
			MinConfidence: l.cfg.MinFixConfidence,
		})
		if err != nil {
			return state, err
		}
		state.Iterations[len(state.Iterations)-1].FixesMade = applied.Fixes

		if len(applied.NeedsHuman) > 0 {
			if err := WriteFixRequest(l.specDir, applied.NeedsHuman); err != nil {
				return state, err
			}
		}
		if applied.Applied > 0 {
			if err := l.writeSignoff(model.SignoffFixesApplied, iteration, review.Issues, review.TestsPassed, true); err != nil {
				return state, err
			}
		}
	}
}

func (l *Loop) writeSignoff(status model.SignoffStatus, iteration int, issues []model.Issue, tests map[string]model.TestTally, revalidate bool) error {
	return WriteSignoff(l.specDir, model.QASignoff{
		Status:                 status,
		Timestamp:              time.Now().UTC(),
		QASession:              iteration,
		IssuesFound:            issues,
		TestsPassed:            tests,
		VerifiedBy:             l.cfg.VerifiedBy,
		ReadyForQARevalidation: revalidate,
	})
}

func (l *Loop) escalate(state *model.QALoopState, reason string) (*model.QALoopState, error) {
	return l.escalateWith(state, nil, reason)
}

func (l *Loop) escalateRecurring(state *model.QALoopState, recurring []string) (*model.QALoopState, error) {
	return l.escalateWith(state, recurring,
		fmt.Sprintf("%d issue(s) recurred across %d or more iterations", len(recurring), l.cfg.RecurringThreshold))
}

func (l *Loop) escalateWith(state *model.QALoopState, recurring []string, reason string) (*model.QALoopState, error) {
	if err := WriteEscalation(l.specDir, recurring, state.Iterations, reason); err != nil {
		return state, err
	}
	state.Phase = model.QAFailed
	state.EscalatedToHuman = true
	state.IsApproved = false
	l.emit(model.QAFailed, len(state.Iterations))
	return state, nil
}
