package phases

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/taskloop-dev/taskloop/internal/model"
	"github.com/taskloop-dev/taskloop/internal/pipeline"
)

// minSpecBytes is the size below which a rendered spec draws a warning.
const minSpecBytes = 500

// artifactSchemas holds one JSON Schema per validated artifact. Shapes are
// intentionally strict about types and required keys so a truncated or
// hand-edited artifact fails loudly here rather than confusing a later run.
var artifactSchemas = map[string]string{
	pipeline.ArtifactProjectIndex: `{
		"type": "object",
		"required": ["shape", "services", "languages", "generated_at"],
		"properties": {
			"shape": {"enum": ["monorepo", "single-service", "library"]},
			"services": {"type": "array", "items": {"type": "string"}},
			"languages": {"type": "array", "items": {"type": "string"}},
			"frameworks": {"type": ["array", "null"], "items": {"type": "string"}},
			"dependencies": {"type": ["object", "null"]},
			"generated_at": {"type": "string"}
		}
	}`,
	pipeline.ArtifactRequirements: `{
		"type": "object",
		"required": ["task_description", "workflow_type"],
		"properties": {
			"task_description": {"type": "string"},
			"workflow_type": {"enum": ["feature", "bugfix", "refactor", "migration", "integration", "investigation", "documentation"]},
			"keywords": {"type": ["array", "null"], "items": {"type": "string"}}
		}
	}`,
	pipeline.ArtifactComplexity: `{
		"type": "object",
		"required": ["complexity", "score"],
		"properties": {
			"complexity": {"enum": ["simple", "standard", "complex", "critical"]},
			"score": {"type": "integer", "minimum": 0},
			"external_integrations": {"type": ["array", "null"], "items": {"type": "string"}},
			"infrastructure_changes": {"type": "boolean"},
			"needs_impact_analysis": {"type": "boolean"},
			"estimated_files_affected": {"type": "integer"},
			"estimated_services": {"type": "integer"}
		}
	}`,
	pipeline.ArtifactContext: `{
		"type": "object",
		"required": ["keywords", "files"],
		"properties": {
			"keywords": {"type": ["array", "null"], "items": {"type": "string"}},
			"files": {
				"type": ["array", "null"],
				"items": {
					"type": "object",
					"required": ["path", "score"],
					"properties": {
						"path": {"type": "string"},
						"score": {"type": "number"},
						"is_test": {"type": "boolean"},
						"bytes": {"type": "integer"}
					}
				}
			},
			"total_bytes": {"type": "integer"}
		}
	}`,
	pipeline.ArtifactImpact: `{
		"type": "object",
		"required": ["severity_score", "severity"],
		"properties": {
			"affected_files": {"type": ["array", "null"], "items": {"type": "string"}},
			"affected_services": {"type": ["array", "null"], "items": {"type": "string"}},
			"breaking_changes": {"type": ["array", "null"]},
			"test_coverage_gaps": {"type": ["array", "null"], "items": {"type": "string"}},
			"severity_score": {"type": "integer", "minimum": 0},
			"severity": {"enum": ["none", "low", "medium", "high", "critical"]},
			"requires_migration_plan": {"type": "boolean"}
		}
	}`,
}

// Validation verifies that the artifacts required for the assessed tier
// exist and conform to their schemas, and emits warnings for undersized
// specs or migration-implying impact. It never halts the pipeline.
type Validation struct{}

func (v *Validation) Name() string     { return pipeline.PhaseValidation }
func (v *Validation) Artifact() string { return "" }

func (v *Validation) Load(*pipeline.State) error { return nil }

func (v *Validation) Run(_ context.Context, st *pipeline.State) error {
	var problems []string

	for _, artifact := range requiredArtifacts(st.Assessment) {
		path := filepath.Join(st.SpecDir, artifact)
		data, err := os.ReadFile(path)
		if err != nil {
			problems = append(problems, fmt.Sprintf("required artifact missing: %s", artifact))
			continue
		}
		if schemaSrc, ok := artifactSchemas[artifact]; ok {
			if err := validateAgainstSchema(artifact, schemaSrc, data); err != nil {
				problems = append(problems, fmt.Sprintf("artifact %s failed schema validation: %v", artifact, err))
			}
		}
	}

	if info, err := os.Stat(filepath.Join(st.SpecDir, pipeline.ArtifactSpec)); err == nil && info.Size() < minSpecBytes {
		st.Warnings = append(st.Warnings, fmt.Sprintf("spec content is small (%d bytes); consider refining the task description", info.Size()))
	}
	if st.Impact != nil && st.Impact.RequiresMigrationPlan {
		st.Warnings = append(st.Warnings, "impact analysis implies a migration plan; review before execution")
	}

	if len(problems) > 0 {
		return fmt.Errorf("validation found %d issue(s): %s", len(problems), strings.Join(problems, "; "))
	}
	return nil
}

func requiredArtifacts(assessment *model.ComplexityAssessment) []string {
	required := []string{
		pipeline.ArtifactProjectIndex,
		pipeline.ArtifactRequirements,
		pipeline.ArtifactComplexity,
		pipeline.ArtifactContext,
		pipeline.ArtifactSpec,
	}
	if assessment != nil && assessment.NeedsImpactAnalysis {
		required = append(required, pipeline.ArtifactImpact)
	}
	return required
}

func validateAgainstSchema(name, schemaSrc string, data []byte) error {
	compiler := jsonschema.NewCompiler()
	schemaDoc, err := jsonschema.UnmarshalJSON(strings.NewReader(schemaSrc))
	if err != nil {
		return fmt.Errorf("parsing schema: %w", err)
	}
	url := name + ".schema.json"
	if err := compiler.AddResource(url, schemaDoc); err != nil {
		return fmt.Errorf("registering schema: %w", err)
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		return fmt.Errorf("compiling schema: %w", err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("parsing artifact: %w", err)
	}
	return schema.Validate(doc)
}
