package model

import "time"

// WorkflowType classifies the free-text task, inferred by keyword during the
// Requirements phase.
type WorkflowType string

const (
	WorkflowFeature       WorkflowType = "feature"
	WorkflowBugfix        WorkflowType = "bugfix"
	WorkflowRefactor      WorkflowType = "refactor"
	WorkflowMigration     WorkflowType = "migration"
	WorkflowIntegration   WorkflowType = "integration"
	WorkflowInvestigation WorkflowType = "investigation"
	WorkflowDocumentation WorkflowType = "documentation"
)

// ComplexityTier is one of the four complexity classifications a task can
// receive; it selects which later pipeline phases run.
type ComplexityTier string

const (
	ComplexitySimple   ComplexityTier = "simple"
	ComplexityStandard ComplexityTier = "standard"
	ComplexityComplex  ComplexityTier = "complex"
	ComplexityCritical ComplexityTier = "critical"
)

// ImpactSeverity is the mapped severity of an Impact Analysis score.
type ImpactSeverity string

const (
	SeverityNone     ImpactSeverity = "none"
	SeverityLow      ImpactSeverity = "low"
	SeverityMedium   ImpactSeverity = "medium"
	SeverityHigh     ImpactSeverity = "high"
	SeverityCritical ImpactSeverity = "critical"
)

// Requirements is the normalized free-text task record produced by the
// Requirements phase.
type Requirements struct {
	TaskDescription string       `json:"task_description"`
	WorkflowType    WorkflowType `json:"workflow_type"`
	Keywords        []string     `json:"keywords"`
}

// ExternalIntegration is a detected third-party integration family.
type ExternalIntegration string

const (
	IntegrationGraphQL   ExternalIntegration = "graphql"
	IntegrationPayments  ExternalIntegration = "payments"
	IntegrationAuth      ExternalIntegration = "auth"
	IntegrationCloud     ExternalIntegration = "cloud"
	IntegrationCache     ExternalIntegration = "cache"
	IntegrationDatabase  ExternalIntegration = "database"
	IntegrationSearch    ExternalIntegration = "search"
	IntegrationQueue     ExternalIntegration = "queue"
	IntegrationContainer ExternalIntegration = "container"
	IntegrationAI        ExternalIntegration = "ai"
	IntegrationMessaging ExternalIntegration = "messaging"
	IntegrationVCS       ExternalIntegration = "vcs"
)

// ComplexityAssessment is the Complexity Assessment phase's output.
type ComplexityAssessment struct {
	Complexity             ComplexityTier        `json:"complexity"`
	Score                  int                   `json:"score"`
	ExternalIntegrations   []ExternalIntegration `json:"external_integrations"`
	InfrastructureChanges  bool                  `json:"infrastructure_changes"`
	NeedsImpactAnalysis    bool                  `json:"needs_impact_analysis"`
	EstimatedFilesAffected int                   `json:"estimated_files_affected"`
	EstimatedServices      int                   `json:"estimated_services"`
	// RecommendedPhases overrides the default phase list for this tier when present.
	RecommendedPhases []string `json:"recommended_phases,omitempty"`
}

// ProjectShape classifies the overall repository layout.
type ProjectShape string

const (
	ShapeMonorepo      ProjectShape = "monorepo"
	ShapeSingleService ProjectShape = "single-service"
	ShapeLibrary       ProjectShape = "library"
)

// ProjectIndex is the Discovery phase's cached description of the repository.
type ProjectIndex struct {
	Shape        ProjectShape      `json:"shape"`
	Services     []string          `json:"services"`
	Languages    []string          `json:"languages"`
	Frameworks   []string          `json:"frameworks"`
	Dependencies map[string]string `json:"dependencies"`
	GeneratedAt  time.Time         `json:"generated_at"`
}

// CandidateFile is a scored candidate source file considered by Context Resolution.
type CandidateFile struct {
	Path   string  `json:"path"`
	Score  float64 `json:"score"`
	IsTest bool    `json:"is_test"`
	Bytes  int64   `json:"bytes"`
}

// MemoryInsight is a single remembered pattern or gotcha surfaced from a
// session-scoped store, optionally enriched by a knowledge-graph provider.
type MemoryInsight struct {
	Kind    string `json:"kind"` // "pattern" | "gotcha"
	Summary string `json:"summary"`
	Source  string `json:"source,omitempty"`
}

// ContextWindow is the Context Resolution phase's output.
type ContextWindow struct {
	Keywords     []string            `json:"keywords"`
	Files        []CandidateFile     `json:"files"`
	Dependencies map[string][]string `json:"dependencies"`  // file -> imports
	RelatedTests map[string]string   `json:"related_tests"` // file -> test file
	Insights     []MemoryInsight     `json:"insights"`
	TotalBytes   int64               `json:"total_bytes"`
}

// BreakingChange is a potential public-surface break detected by Impact Analysis.
type BreakingChange struct {
	File        string `json:"file"`
	Category    string `json:"category"` // api | schema | config
	Description string `json:"description"`
}

// ImpactAnalysis is the Impact Analysis ("God Mode") phase's output.
type ImpactAnalysis struct {
	AffectedFiles         []string         `json:"affected_files"`
	AffectedServices      []string         `json:"affected_services"`
	BreakingChanges       []BreakingChange `json:"breaking_changes"`
	TestCoverageGaps      []string         `json:"test_coverage_gaps"`
	SeverityScore         int              `json:"severity_score"`
	Severity              ImpactSeverity   `json:"severity"`
	RequiresMigrationPlan bool             `json:"requires_migration_plan"`
}

// Spec is a numbered directory capturing one unit of engineering work.
type Spec struct {
	ID              string    `json:"id"` // NNN-<slug>
	Slug            string    `json:"slug"`
	TaskDescription string    `json:"task_description"`
	CreatedAt       time.Time `json:"created_at"`
}
