package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/taskloop-dev/taskloop/internal/model"
	"github.com/taskloop-dev/taskloop/internal/pipeline"
	"github.com/taskloop-dev/taskloop/internal/qa"
	"github.com/taskloop-dev/taskloop/internal/worktree"
)

// Runner drives one session through the engine: spec pipeline first, then
// the QA loop against the session's isolated worktree. It owns no state of
// its own; everything durable lives in the orchestrator's store and the
// spec directory.
type Runner struct {
	Orchestrator *Orchestrator
	Pipeline     *pipeline.Runner
	Worktrees    worktree.Manager
	Reviewer     qa.Reviewer
	Fixer        qa.Fixer

	RepoRoot     string
	SpecsRoot    string
	QAConfig     qa.Config
	PipelineOpts pipeline.Options
}

// RunResult is the outcome of one full session drive.
type RunResult struct {
	Session *model.Session
	SpecID  string
	QAState *model.QALoopState
	Summary *model.Summary
	Phases  []pipeline.PhaseResult
}

// Run executes the full control loop for an existing pending session:
// start, spec pipeline, worktree provisioning, QA loop, and terminal
// transition. Cancellation at any suspension point transitions the session
// to cancelled with a consistent on-disk state.
func (r *Runner) Run(ctx context.Context, sessionID string) (*RunResult, error) {
	sess, err := r.Orchestrator.Start(sessionID)
	if err != nil {
		return nil, err
	}
	result := &RunResult{Session: sess}

	specID, specDir, err := pipeline.CreateSpecDir(r.SpecsRoot, sess.Task)
	if err != nil {
		return result, r.fail(result, sessionID, "spec", err)
	}
	result.SpecID = specID
	if _, err := r.Orchestrator.BindSpec(sessionID, specID); err != nil {
		return result, err
	}

	if _, err := r.Orchestrator.UpdatePhase(sessionID, "pipeline"); err != nil {
		return result, err
	}
	st := &pipeline.State{
		RepoRoot:        r.RepoRoot,
		SpecDir:         specDir,
		TaskDescription: sess.Task,
	}
	phases, err := r.Pipeline.Run(ctx, st, r.PipelineOpts)
	result.Phases = phases
	for _, phase := range phases {
		if phase.Status == pipeline.StatusCompleted && !phase.Cached {
			_, _ = r.Orchestrator.RecordArtifact(sessionID, phase.Phase)
		}
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return result, r.cancel(result, sessionID)
		}
		return result, r.fail(result, sessionID, "pipeline", err)
	}

	if _, err := r.Orchestrator.UpdatePhase(sessionID, "qa"); err != nil {
		return result, err
	}
	slug := pipeline.SlugFromSpecID(specID)
	wt, err := r.Worktrees.GetOrCreate(ctx, slug)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return result, r.cancel(result, sessionID)
		}
		return result, r.fail(result, sessionID, "worktree", err)
	}

	loop := qa.NewLoop(r.QAConfig, r.Reviewer, r.Fixer, specDir, wt.Path)
	qaState, err := loop.Run(ctx)
	result.QAState = qaState
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return result, r.cancel(result, sessionID)
		}
		return result, r.fail(result, sessionID, "qa", err)
	}

	switch {
	case qaState.IsApproved:
		if _, err := r.Orchestrator.Complete(sessionID, "QA approved"); err != nil {
			return result, err
		}
		summary, err := r.Orchestrator.Summarize(sessionID)
		if err != nil {
			return result, err
		}
		result.Summary = summary
	case qaState.EscalatedToHuman:
		if _, err := r.Orchestrator.Fail(sessionID, "QA escalated to human"); err != nil {
			return result, err
		}
	default:
		if _, err := r.Orchestrator.Fail(sessionID, "QA did not approve"); err != nil {
			return result, err
		}
	}

	result.Session, err = r.Orchestrator.Get(sessionID)
	return result, err
}

func (r *Runner) fail(result *RunResult, sessionID, phase string, cause error) error {
	_, _ = r.Orchestrator.RecordError(sessionID, phase, cause.Error())
	if _, err := r.Orchestrator.Fail(sessionID, fmt.Sprintf("%s failed", phase)); err != nil {
		return err
	}
	if sess, err := r.Orchestrator.Get(sessionID); err == nil {
		result.Session = sess
	}
	return cause
}

func (r *Runner) cancel(result *RunResult, sessionID string) error {
	if _, err := r.Orchestrator.Cancel(sessionID, "cancelled"); err != nil {
		return err
	}
	if sess, err := r.Orchestrator.Get(sessionID); err == nil {
		result.Session = sess
	}
	return context.Canceled
}
