package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/taskloop-dev/taskloop/internal/model"
	"github.com/taskloop-dev/taskloop/internal/pipeline"
)

// warnOnMigrationImpact surfaces the impact analysis's migration warning
// before a merge. Downstream execution over a migration-implying change
// must either show the warning or be forced explicitly.
func warnOnMigrationImpact(cmd *cobra.Command, eng *engine, specSlug string) (bool, error) {
	specDir, err := findSpecDir(eng.specsRoot, specSlug)
	if err != nil || specDir == "" {
		return false, err
	}

	data, err := os.ReadFile(filepath.Join(specDir, pipeline.ArtifactImpact))
	if err != nil {
		return false, nil
	}
	var analysis model.ImpactAnalysis
	if err := json.Unmarshal(data, &analysis); err != nil {
		return false, nil
	}
	if !analysis.RequiresMigrationPlan {
		return false, nil
	}

	fmt.Fprintf(cmd.ErrOrStderr(),
		"Warning: impact analysis for %s implies a migration plan (severity %s). Review it before merging.\n",
		specSlug, analysis.Severity)
	return true, nil
}

// findSpecDir resolves a spec slug to its NNN-<slug> directory.
func findSpecDir(specsRoot, specSlug string) (string, error) {
	ids, err := pipeline.ListSpecIDs(specsRoot)
	if err != nil {
		return "", err
	}
	for _, id := range ids {
		if pipeline.SlugFromSpecID(id) == specSlug || strings.HasSuffix(id, specSlug) {
			return filepath.Join(specsRoot, id), nil
		}
	}
	return "", nil
}
