package phases

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskloop-dev/taskloop/internal/model"
	"github.com/taskloop-dev/taskloop/internal/pipeline"
)

// seedValidSpecDir runs the real upstream phases so the artifacts match
// their schemas exactly.
func seedValidSpecDir(t *testing.T) *pipeline.State {
	t.Helper()

	st := &pipeline.State{
		RepoRoot:        t.TempDir(),
		SpecDir:         t.TempDir(),
		TaskDescription: "Fix the billing rounding bug",
	}
	writeRepoFile(t, st.RepoRoot, "billing.py", "def total(): pass\n")

	// Discovery artifact written directly; the scanner is covered elsewhere.
	idx := &model.ProjectIndex{
		Shape:       model.ShapeSingleService,
		Services:    []string{"repo"},
		Languages:   []string{"python"},
		GeneratedAt: time.Now().UTC(),
	}
	require.NoError(t, writeArtifact(st.SpecDir, pipeline.ArtifactProjectIndex, idx))
	st.Index = idx

	require.NoError(t, (&Requirements{}).Run(context.Background(), st))
	require.NoError(t, (&Complexity{}).Run(context.Background(), st))
	require.NoError(t, (&ContextResolver{}).Run(context.Background(), st))
	require.NoError(t, (&SpecWriter{}).Run(context.Background(), st))
	return st
}

func TestValidation_PassesOnCompleteSpecDir(t *testing.T) {
	t.Parallel()

	st := seedValidSpecDir(t)
	err := (&Validation{}).Run(context.Background(), st)
	assert.NoError(t, err)
}

func TestValidation_MissingArtifactReported(t *testing.T) {
	t.Parallel()

	st := seedValidSpecDir(t)
	require.NoError(t, os.Remove(filepath.Join(st.SpecDir, pipeline.ArtifactContext)))

	err := (&Validation{}).Run(context.Background(), st)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required artifact missing: "+pipeline.ArtifactContext)
}

func TestValidation_SchemaViolationReported(t *testing.T) {
	t.Parallel()

	st := seedValidSpecDir(t)
	broken := `{"complexity": "enormous", "score": -1}`
	require.NoError(t, os.WriteFile(filepath.Join(st.SpecDir, pipeline.ArtifactComplexity), []byte(broken), 0o644))

	err := (&Validation{}).Run(context.Background(), st)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed schema validation")
}

func TestValidation_ImpactRequiredForCriticalTier(t *testing.T) {
	t.Parallel()

	st := seedValidSpecDir(t)
	st.Assessment = &model.ComplexityAssessment{
		Complexity:          model.ComplexityCritical,
		NeedsImpactAnalysis: true,
	}

	err := (&Validation{}).Run(context.Background(), st)
	require.Error(t, err)
	assert.Contains(t, err.Error(), pipeline.ArtifactImpact)
}

func TestValidation_WarnsOnSmallSpec(t *testing.T) {
	t.Parallel()

	st := seedValidSpecDir(t)
	require.NoError(t, os.WriteFile(filepath.Join(st.SpecDir, pipeline.ArtifactSpec), []byte("# tiny\n"), 0o644))

	err := (&Validation{}).Run(context.Background(), st)
	require.NoError(t, err)
	require.NotEmpty(t, st.Warnings)
	assert.Contains(t, st.Warnings[0], "spec content is small")
}

func TestValidation_WarnsOnMigrationImpact(t *testing.T) {
	t.Parallel()

	st := seedValidSpecDir(t)
	st.Impact = &model.ImpactAnalysis{RequiresMigrationPlan: true}

	err := (&Validation{}).Run(context.Background(), st)
	require.NoError(t, err)

	found := false
	for _, w := range st.Warnings {
		if strings.Contains(w, "migration plan") {
			found = true
		}
	}
	assert.True(t, found)
}
