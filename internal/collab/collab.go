// Package collab defines the narrow interfaces through which the engine's
// core subsystems reach external collaborators: auth token discovery, the
// LLM client, skill packs, optional impact analysis, and the optional
// knowledge-graph memory. The core never depends on a concrete
// implementation of any of these; callers inject them explicitly rather
// than reaching into hidden globals.
package collab

import (
	"context"

	"github.com/taskloop-dev/taskloop/internal/model"
)

// AuthTokenProvider yields an OAuth bearer token for the LLM client.
type AuthTokenProvider interface {
	// Token returns a usable bearer token, or an error with remediation
	// guidance when none of the configured sources yields one.
	Token(ctx context.Context) (string, error)
	// Sources lists the places the provider looks, in priority order, for
	// diagnostics.
	Sources() []string
}

// LLMClient is the opaque handle agents use during code generation. The
// core checks it out but never inspects it.
type LLMClient interface {
	// Complete sends a prompt and returns the model's text response.
	Complete(ctx context.Context, prompt string) (string, error)
}

// LLMClientFactory builds LLM clients on demand.
type LLMClientFactory interface {
	NewClient(ctx context.Context) (LLMClient, error)
}

// Skill is an externally-supplied domain knowledge pack surfaced in a spec
// so a downstream code-generation step may consume it.
type Skill struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Prompt      string   `json:"prompt"`
	Tags        []string `json:"tags,omitempty"`
}

// SkillRegistry selects the skills applicable to a task.
type SkillRegistry interface {
	// ApplicableSkills returns skills relevant to the task description and
	// candidate file paths, most relevant first.
	ApplicableSkills(ctx context.Context, taskDescription string, filePaths []string) ([]Skill, error)
}

// ImpactAnalyzer re-runs impact analysis against the current change set.
// The QA Loop invokes it when provided; a nil analyzer is tolerated.
type ImpactAnalyzer interface {
	Analyze(ctx context.Context, specDir string, changedFiles []string) (*model.ImpactAnalysis, error)
}

// MemoryGraph is an optional knowledge-graph provider that enriches the
// Context Resolution phase with remembered patterns and gotchas. The phase
// tolerates its absence.
type MemoryGraph interface {
	RelatedInsights(ctx context.Context, keywords []string) ([]model.MemoryInsight, error)
}

// Planner produces an execution plan for a spec. It is a capability
// interface consumed by the Session Orchestrator once the pipeline has
// produced its artifacts.
type Planner interface {
	Plan(ctx context.Context, specDir string, requirements *model.Requirements) (*model.ExecutionPlan, error)
}
