package phases

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskloop-dev/taskloop/internal/model"
	"github.com/taskloop-dev/taskloop/internal/pipeline"
)

func writeRepoFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func resolverState(t *testing.T, task string) *pipeline.State {
	t.Helper()
	return &pipeline.State{
		RepoRoot:        t.TempDir(),
		SpecDir:         t.TempDir(),
		TaskDescription: task,
	}
}

func TestContextResolver_RanksFilenameMatchesHighest(t *testing.T) {
	t.Parallel()

	st := resolverState(t, "Fix the billing calculation")
	writeRepoFile(t, st.RepoRoot, "src/billing.py", "def total(): pass\n")
	writeRepoFile(t, st.RepoRoot, "src/unrelated.py", "x = 1\n")
	writeRepoFile(t, st.RepoRoot, "src/orders.py", "# handles billing edge cases\n")

	phase := &ContextResolver{}
	require.NoError(t, phase.Run(context.Background(), st))
	require.NotNil(t, st.Context)
	require.NotEmpty(t, st.Context.Files)

	assert.Equal(t, "src/billing.py", filepath.ToSlash(st.Context.Files[0].Path))
	for _, f := range st.Context.Files {
		assert.NotEqual(t, "src/unrelated.py", filepath.ToSlash(f.Path), "files with no keyword match are excluded")
	}
}

func TestContextResolver_TestFilesScoreHalf(t *testing.T) {
	t.Parallel()

	st := resolverState(t, "billing")
	writeRepoFile(t, st.RepoRoot, "billing.py", "pass\n")
	writeRepoFile(t, st.RepoRoot, "test_billing.py", "pass\n")

	phase := &ContextResolver{}
	require.NoError(t, phase.Run(context.Background(), st))

	var src, test *model.CandidateFile
	for i := range st.Context.Files {
		f := &st.Context.Files[i]
		if f.IsTest {
			test = f
		} else {
			src = f
		}
	}
	require.NotNil(t, src)
	require.NotNil(t, test)
	assert.Greater(t, src.Score, test.Score)
}

func TestContextResolver_RespectsByteCap(t *testing.T) {
	t.Parallel()

	st := resolverState(t, "payload")
	big := make([]byte, ContextByteCap+1)
	for i := range big {
		big[i] = 'a'
	}
	require.NoError(t, os.WriteFile(filepath.Join(st.RepoRoot, "payload_big.py"), big, 0o644))
	writeRepoFile(t, st.RepoRoot, "payload_small.py", "pass\n")

	phase := &ContextResolver{}
	require.NoError(t, phase.Run(context.Background(), st))

	for _, f := range st.Context.Files {
		assert.NotEqual(t, "payload_big.py", f.Path, "files over the byte cap are skipped")
	}
	assert.LessOrEqual(t, st.Context.TotalBytes, int64(ContextByteCap))
}

func TestContextResolver_FindsRelatedTests(t *testing.T) {
	t.Parallel()

	st := resolverState(t, "parser logic")
	writeRepoFile(t, st.RepoRoot, "parser.go", "package parser\n")
	writeRepoFile(t, st.RepoRoot, "parser_test.go", "package parser\n")

	phase := &ContextResolver{}
	require.NoError(t, phase.Run(context.Background(), st))

	assert.Equal(t, "parser_test.go", st.Context.RelatedTests["parser.go"])
}

func TestContextResolver_ParsesImports(t *testing.T) {
	t.Parallel()

	st := resolverState(t, "api handler")
	writeRepoFile(t, st.RepoRoot, "api.py", "from app.db import query\nimport os\n\ndef handler(): pass\n")
	writeRepoFile(t, st.RepoRoot, "app/db.py", "def query(): pass\n")

	phase := &ContextResolver{}
	require.NoError(t, phase.Run(context.Background(), st))

	imports := st.Context.Dependencies["api.py"]
	assert.Contains(t, imports, "app.db")
}

func TestContextResolver_CollectsMemoryInsights(t *testing.T) {
	t.Parallel()

	st := resolverState(t, "cache warmup")
	writeRepoFile(t, st.RepoRoot, "cache.py", "pass\n")

	memDir := filepath.Join(st.SpecDir, "memory")
	require.NoError(t, os.MkdirAll(memDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(memDir, "gotchas.json"),
		[]byte(`[{"summary": "cache invalidation is manual"}]`), 0o644))

	phase := &ContextResolver{}
	require.NoError(t, phase.Run(context.Background(), st))

	require.Len(t, st.Context.Insights, 1)
	assert.Equal(t, "gotcha", st.Context.Insights[0].Kind)
}

type fakeMemoryGraph struct{}

func (fakeMemoryGraph) RelatedInsights(context.Context, []string) ([]model.MemoryInsight, error) {
	return []model.MemoryInsight{{Kind: "pattern", Summary: "from graph", Source: "kg"}}, nil
}

func TestContextResolver_EnrichesFromKnowledgeGraph(t *testing.T) {
	t.Parallel()

	st := resolverState(t, "cache warmup")
	writeRepoFile(t, st.RepoRoot, "cache.py", "pass\n")

	phase := &ContextResolver{Memory: fakeMemoryGraph{}}
	require.NoError(t, phase.Run(context.Background(), st))

	require.NotEmpty(t, st.Context.Insights)
	assert.Equal(t, "kg", st.Context.Insights[0].Source)
}

func TestContextResolver_RoundTrip(t *testing.T) {
	t.Parallel()

	st := resolverState(t, "billing")
	writeRepoFile(t, st.RepoRoot, "billing.py", "pass\n")

	phase := &ContextResolver{}
	require.NoError(t, phase.Run(context.Background(), st))

	st2 := &pipeline.State{SpecDir: st.SpecDir}
	require.NoError(t, phase.Load(st2))
	assert.Equal(t, st.Context, st2.Context)
}
