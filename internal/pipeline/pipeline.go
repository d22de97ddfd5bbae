// Package pipeline implements the spec pipeline: a phase runner that turns
// a natural-language task into a structured specification directory,
// executing only the phases appropriate to the task's assessed complexity.
// Phases are retried a configured number of times, cached by artifact
// presence, and cancellable at every phase boundary.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/taskloop-dev/taskloop/internal/collab"
	"github.com/taskloop-dev/taskloop/internal/model"
)

// Artifact file names inside a spec directory.
const (
	ArtifactProjectIndex = "project_index.json"
	ArtifactRequirements = "requirements.json"
	ArtifactComplexity   = "complexity_assessment.json"
	ArtifactContext      = "context.json"
	ArtifactImpact       = "impact_analysis.json"
	ArtifactPlan         = "implementation_plan.json"
	ArtifactSpec         = "spec.md"
	ArtifactSkills       = "skills.json"
)

// Canonical phase names.
const (
	PhaseDiscovery    = "discovery"
	PhaseRequirements = "requirements"
	PhaseComplexity   = "complexity"
	PhaseContext      = "context"
	PhaseImpact       = "impact"
	PhaseSpecWriting  = "spec_writing"
	PhaseValidation   = "validation"
)

// PhaseStatus is the outcome classification of one phase execution.
type PhaseStatus string

const (
	StatusCompleted PhaseStatus = "COMPLETED"
	StatusFailed    PhaseStatus = "FAILED"
	StatusSkipped   PhaseStatus = "SKIPPED"
)

// PhaseResult captures one phase's outcome. An error inside a phase never
// disappears: it lands in Errors here, or the pipeline halts with it.
type PhaseResult struct {
	Phase    string        `json:"phase"`
	Status   PhaseStatus   `json:"status"`
	Cached   bool          `json:"cached"`
	Attempts int           `json:"attempts"`
	Errors   []string      `json:"errors,omitempty"`
	Warnings []string      `json:"warnings,omitempty"`
	Duration time.Duration `json:"duration"`
}

// State is the shared pipeline state threaded through phases. Each phase
// reads the artifacts of its predecessors from here and records its own.
type State struct {
	RepoRoot        string
	SpecDir         string
	TaskDescription string

	Index        *model.ProjectIndex
	Requirements *model.Requirements
	Assessment   *model.ComplexityAssessment
	Context      *model.ContextWindow
	Impact       *model.ImpactAnalysis
	Skills       []collab.Skill

	// Warnings accumulates non-fatal phase diagnostics for the caller.
	Warnings []string
}

// Phase is one pipeline stage. Run computes and persists the phase's
// artifact; Load hydrates State from an artifact persisted by an earlier
// run, allowing the runner to skip the phase as cached.
type Phase interface {
	Name() string
	// Artifact is the phase's output file inside the spec directory; an
	// empty string means the phase has no cacheable artifact and always runs.
	Artifact() string
	Run(ctx context.Context, st *State) error
	Load(st *State) error
}

// Options configures one pipeline run.
type Options struct {
	// ForceRefresh reruns phases even when their artifact already exists.
	ForceRefresh bool
	// MaxRetries is the per-phase attempt budget beyond the first try.
	MaxRetries int
	// RetryDelay is slept between attempts, cancellation-aware.
	RetryDelay time.Duration
	// OnPhaseChange, when set, is invoked synchronously as each phase
	// starts and finishes. It must not block.
	OnPhaseChange func(phase string, result *PhaseResult)
}

// Runner executes registered phases in complexity-assessed order.
type Runner struct {
	registry *Registry
}

// NewRunner builds a Runner over a phase registry.
func NewRunner(registry *Registry) *Runner {
	return &Runner{registry: registry}
}

// Run drives the pipeline for the spec rooted at st.SpecDir. Discovery,
// Requirements, and Complexity Assessment always run first; the assessment
// then selects the remaining phases. A failed phase halts the pipeline,
// except Validation, which reports issues without stopping anything.
func (r *Runner) Run(ctx context.Context, st *State, opts Options) ([]PhaseResult, error) {
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 2 * time.Second
	}

	var results []PhaseResult

	for _, name := range []string{PhaseDiscovery, PhaseRequirements, PhaseComplexity} {
		result, err := r.runPhase(ctx, name, st, opts)
		if result != nil {
			results = append(results, *result)
		}
		if err != nil {
			return results, err
		}
	}

	if st.Assessment == nil {
		return results, fmt.Errorf("complexity assessment missing after assessment phase")
	}
	for _, name := range r.selectPhases(st.Assessment) {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		result, err := r.runPhase(ctx, name, st, opts)
		if result != nil {
			results = append(results, *result)
		}
		if err != nil && name != PhaseValidation {
			return results, err
		}
	}
	return results, nil
}

// selectPhases returns the post-assessment phase list: the assessment's
// recommended phases when present, otherwise the registry default for its
// tier. The three always-first phases are excluded wherever they appear.
func (r *Runner) selectPhases(assessment *model.ComplexityAssessment) []string {
	phases := assessment.RecommendedPhases
	if len(phases) == 0 {
		phases = r.registry.PhasesForTier(assessment.Complexity)
	}
	var out []string
	for _, p := range phases {
		switch p {
		case PhaseDiscovery, PhaseRequirements, PhaseComplexity:
			continue
		}
		out = append(out, p)
	}
	return out
}

func (r *Runner) runPhase(ctx context.Context, name string, st *State, opts Options) (*PhaseResult, error) {
	phase, ok := r.registry.Phase(name)
	if !ok {
		return &PhaseResult{Phase: name, Status: StatusSkipped, Warnings: []string{"phase not registered"}}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	result := &PhaseResult{Phase: name}
	if opts.OnPhaseChange != nil {
		opts.OnPhaseChange(name, nil)
	}

	if artifact := phase.Artifact(); artifact != "" && !opts.ForceRefresh {
		if _, err := os.Stat(filepath.Join(st.SpecDir, artifact)); err == nil {
			if err := phase.Load(st); err == nil {
				result.Status = StatusCompleted
				result.Cached = true
				result.Duration = time.Since(start)
				if opts.OnPhaseChange != nil {
					opts.OnPhaseChange(name, result)
				}
				return result, nil
			}
			// A malformed artifact is recomputed, never half-loaded.
		}
	}

	var lastErr error
	for attempt := 1; attempt <= opts.MaxRetries+1; attempt++ {
		result.Attempts = attempt
		lastErr = phase.Run(ctx, st)
		if lastErr == nil {
			break
		}
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		result.Errors = append(result.Errors, lastErr.Error())
		if attempt <= opts.MaxRetries {
			timer := time.NewTimer(opts.RetryDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return result, ctx.Err()
			case <-timer.C:
			}
		}
	}

	result.Duration = time.Since(start)
	if lastErr != nil {
		result.Status = StatusFailed
		if opts.OnPhaseChange != nil {
			opts.OnPhaseChange(name, result)
		}
		return result, fmt.Errorf("phase %s failed after %d attempt(s): %w", name, result.Attempts, lastErr)
	}
	result.Status = StatusCompleted
	if opts.OnPhaseChange != nil {
		opts.OnPhaseChange(name, result)
	}
	return result, nil
}
