package phases

import (
	"context"
	"regexp"
	"strings"

	"github.com/taskloop-dev/taskloop/internal/model"
	"github.com/taskloop-dev/taskloop/internal/pipeline"
)

// MaxKeywords caps the keywords extracted from a task description.
const MaxKeywords = 30

// workflowKeywords maps keyword hits to workflow types, checked in order so
// the more specific types win over the catch-all feature type.
var workflowKeywords = []struct {
	workflow model.WorkflowType
	words    []string
}{
	{model.WorkflowBugfix, []string{"fix", "bug", "broken", "crash", "error", "regression", "defect"}},
	{model.WorkflowMigration, []string{"migrate", "migration", "upgrade", "port "}},
	{model.WorkflowRefactor, []string{"refactor", "restructure", "cleanup", "clean up", "simplify", "extract"}},
	{model.WorkflowIntegration, []string{"integrate", "integration", "webhook", "third-party", "connect"}},
	{model.WorkflowInvestigation, []string{"investigate", "debug", "why", "diagnose", "analyze", "root cause"}},
	{model.WorkflowDocumentation, []string{"document", "docs", "readme", "comment", "changelog"}},
}

// stopWords are filtered from extracted keywords.
var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "that": true,
	"this": true, "from": true, "into": true, "add": true, "new": true,
	"all": true, "are": true, "when": true, "then": true, "should": true,
	"must": true, "can": true, "will": true, "has": true, "have": true,
	"use": true, "using": true, "via": true, "not": true, "but": true,
	"our": true, "its": true, "one": true, "two": true, "also": true,
}

var wordSplitRegexp = regexp.MustCompile(`[^a-zA-Z0-9]+`)
var camelBoundaryRegexp = regexp.MustCompile(`([a-z0-9])([A-Z])`)

// Requirements normalizes the free-text task into a Requirements record.
type Requirements struct{}

func (r *Requirements) Name() string     { return pipeline.PhaseRequirements }
func (r *Requirements) Artifact() string { return pipeline.ArtifactRequirements }

func (r *Requirements) Run(_ context.Context, st *pipeline.State) error {
	req := &model.Requirements{
		TaskDescription: st.TaskDescription,
		WorkflowType:    InferWorkflowType(st.TaskDescription),
		Keywords:        ExtractKeywords(st.TaskDescription),
	}
	if err := writeArtifact(st.SpecDir, pipeline.ArtifactRequirements, req); err != nil {
		return err
	}
	st.Requirements = req
	return nil
}

func (r *Requirements) Load(st *pipeline.State) error {
	var req model.Requirements
	if err := readArtifact(st.SpecDir, pipeline.ArtifactRequirements, &req); err != nil {
		return err
	}
	st.Requirements = &req
	return nil
}

// InferWorkflowType classifies a task description by keyword, defaulting to
// feature when nothing more specific matches.
func InferWorkflowType(task string) model.WorkflowType {
	lower := strings.ToLower(task)
	for _, entry := range workflowKeywords {
		for _, word := range entry.words {
			if strings.Contains(lower, word) {
				return entry.workflow
			}
		}
	}
	return model.WorkflowFeature
}

// ExtractKeywords tokenizes a task description: camelCase identifiers are
// split at case boundaries, stop words and short tokens dropped, duplicates
// removed, capped at MaxKeywords.
func ExtractKeywords(task string) []string {
	expanded := camelBoundaryRegexp.ReplaceAllString(task, "$1 $2")
	tokens := wordSplitRegexp.Split(expanded, -1)

	seen := map[string]bool{}
	var keywords []string
	for _, tok := range tokens {
		word := strings.ToLower(tok)
		if len(word) < 3 || stopWords[word] || seen[word] {
			continue
		}
		seen[word] = true
		keywords = append(keywords, word)
		if len(keywords) == MaxKeywords {
			break
		}
	}
	return keywords
}
