package phases

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio/v2"

	"github.com/taskloop-dev/taskloop/internal/collab"
	"github.com/taskloop-dev/taskloop/internal/pipeline"
)

// SpecWriter renders the single Markdown artifact aggregating every earlier
// phase's output, plus any applicable skills from the registry.
type SpecWriter struct {
	// Skills is the optional skill registry collaborator.
	Skills collab.SkillRegistry
}

func (s *SpecWriter) Name() string     { return pipeline.PhaseSpecWriting }
func (s *SpecWriter) Artifact() string { return pipeline.ArtifactSpec }

func (s *SpecWriter) Run(ctx context.Context, st *pipeline.State) error {
	if s.Skills != nil {
		var paths []string
		if st.Context != nil {
			for _, f := range st.Context.Files {
				paths = append(paths, f.Path)
			}
		}
		skills, err := s.Skills.ApplicableSkills(ctx, st.TaskDescription, paths)
		if err == nil && len(skills) > 0 {
			st.Skills = skills
			if err := writeArtifact(st.SpecDir, pipeline.ArtifactSkills, skills); err != nil {
				return err
			}
		}
	}

	content := s.render(st)
	if err := os.MkdirAll(st.SpecDir, 0o755); err != nil {
		return fmt.Errorf("creating spec dir: %w", err)
	}
	if err := renameio.WriteFile(filepath.Join(st.SpecDir, pipeline.ArtifactSpec), []byte(content), 0o644); err != nil {
		return fmt.Errorf("writing spec: %w", err)
	}
	return nil
}

func (s *SpecWriter) Load(st *pipeline.State) error {
	// The rendered spec is not re-read into state; its presence is the
	// cache signal. Skills are reloaded when persisted.
	var skills []collab.Skill
	if err := readArtifact(st.SpecDir, pipeline.ArtifactSkills, &skills); err == nil {
		st.Skills = skills
	}
	return nil
}

func (s *SpecWriter) render(st *pipeline.State) string {
	var sb strings.Builder
	specID := filepath.Base(st.SpecDir)

	fmt.Fprintf(&sb, "# Specification: %s\n\n", specID)
	fmt.Fprintf(&sb, "## Task\n\n%s\n\n", st.TaskDescription)

	if st.Requirements != nil {
		fmt.Fprintf(&sb, "## Requirements\n\n")
		fmt.Fprintf(&sb, "- Workflow type: %s\n", st.Requirements.WorkflowType)
		fmt.Fprintf(&sb, "- Keywords: %s\n\n", strings.Join(st.Requirements.Keywords, ", "))
	}

	if st.Assessment != nil {
		fmt.Fprintf(&sb, "## Complexity\n\n")
		fmt.Fprintf(&sb, "- Tier: %s (score %d)\n", st.Assessment.Complexity, st.Assessment.Score)
		if len(st.Assessment.ExternalIntegrations) > 0 {
			names := make([]string, len(st.Assessment.ExternalIntegrations))
			for i, integ := range st.Assessment.ExternalIntegrations {
				names[i] = string(integ)
			}
			fmt.Fprintf(&sb, "- External integrations: %s\n", strings.Join(names, ", "))
		}
		fmt.Fprintf(&sb, "- Infrastructure changes: %v\n", st.Assessment.InfrastructureChanges)
		fmt.Fprintf(&sb, "- Estimated files affected: %d\n\n", st.Assessment.EstimatedFilesAffected)
	}

	if st.Index != nil {
		fmt.Fprintf(&sb, "## Project\n\n")
		fmt.Fprintf(&sb, "- Shape: %s\n", st.Index.Shape)
		fmt.Fprintf(&sb, "- Languages: %s\n", strings.Join(st.Index.Languages, ", "))
		if len(st.Index.Services) > 0 {
			fmt.Fprintf(&sb, "- Services: %s\n", strings.Join(st.Index.Services, ", "))
		}
		sb.WriteString("\n")
	}

	if st.Context != nil && len(st.Context.Files) > 0 {
		fmt.Fprintf(&sb, "## Relevant Files\n\n")
		for _, f := range st.Context.Files {
			marker := ""
			if f.IsTest {
				marker = " (test)"
			}
			fmt.Fprintf(&sb, "- `%s`%s\n", f.Path, marker)
		}
		sb.WriteString("\n")
	}

	if st.Impact != nil {
		fmt.Fprintf(&sb, "## Impact Analysis\n\n")
		fmt.Fprintf(&sb, "- Severity: %s (score %d)\n", st.Impact.Severity, st.Impact.SeverityScore)
		if len(st.Impact.AffectedFiles) > 0 {
			fmt.Fprintf(&sb, "- Affected files: %d\n", len(st.Impact.AffectedFiles))
		}
		if len(st.Impact.BreakingChanges) > 0 {
			fmt.Fprintf(&sb, "- Potential breaking changes:\n")
			for _, bc := range st.Impact.BreakingChanges {
				fmt.Fprintf(&sb, "  - [%s] `%s`: %s\n", bc.Category, bc.File, bc.Description)
			}
		}
		if st.Impact.RequiresMigrationPlan {
			sb.WriteString("\n> **Warning**: this change implies a migration plan.\n")
		}
		sb.WriteString("\n")
	}

	if len(st.Skills) > 0 {
		fmt.Fprintf(&sb, "## Applicable Skills\n\n")
		for _, skill := range st.Skills {
			fmt.Fprintf(&sb, "- **%s**: %s\n", skill.Name, skill.Description)
		}
		sb.WriteString("\n")
	}

	return sb.String()
}
