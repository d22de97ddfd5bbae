package worktree

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskloop-dev/taskloop/internal/model"
)

func TestMerge_Success(t *testing.T) {
	t.Parallel()

	ops := newFakeGitOps()
	m, _ := newTestManager(t, ops)

	_, err := m.Create(context.Background(), "merge-ok")
	require.NoError(t, err)

	require.NoError(t, m.Merge(context.Background(), "merge-ok", MergeOptions{}))

	assert.Contains(t, ops.checkedOut, "main")
	assert.Contains(t, ops.mergedBranches, "taskloop/merge-ok")

	wt, err := m.Get("merge-ok")
	require.NoError(t, err)
	assert.Equal(t, model.StatusMerged, wt.Status)
	require.NotNil(t, wt.MergedAt)
}

func TestMerge_ConflictReturnsStructuredError(t *testing.T) {
	t.Parallel()

	ops := newFakeGitOps()
	ops.mergeConfl = []string{"src/app.py", "src/db.py"}
	m, _ := newTestManager(t, ops)

	_, err := m.Create(context.Background(), "merge-conflict")
	require.NoError(t, err)

	err = m.Merge(context.Background(), "merge-conflict", MergeOptions{})
	require.Error(t, err)

	var conflictErr *MergeConflictError
	require.ErrorAs(t, err, &conflictErr)
	assert.Equal(t, "taskloop/merge-conflict", conflictErr.SourceBranch)
	assert.Equal(t, "main", conflictErr.TargetBranch)
	assert.Equal(t, []string{"src/app.py", "src/db.py"}, conflictErr.Conflicts)
	assert.Contains(t, err.Error(), "taskloop/merge-conflict")

	// The worktree is untouched: no merged status, still registered.
	wt, getErr := m.Get("merge-conflict")
	require.NoError(t, getErr)
	assert.Equal(t, model.StatusActive, wt.Status)
}

func TestMerge_DeleteAfterRemovesWorktree(t *testing.T) {
	t.Parallel()

	ops := newFakeGitOps()
	m, _ := newTestManager(t, ops)

	_, err := m.Create(context.Background(), "merge-del")
	require.NoError(t, err)

	require.NoError(t, m.Merge(context.Background(), "merge-del", MergeOptions{DeleteAfter: true}))

	_, err = m.Get("merge-del")
	var notFound *NotFoundError
	assert.ErrorAs(t, err, &notFound)
	assert.Contains(t, ops.deletedBranch, "taskloop/merge-del")
}

func TestMergeMany_RespectsDependencyOrder(t *testing.T) {
	t.Parallel()

	ops := newFakeGitOps()
	m, _ := newTestManager(t, ops)

	for _, slug := range []string{"base-spec", "mid-spec", "top-spec"} {
		_, err := m.Create(context.Background(), slug)
		require.NoError(t, err)
	}

	deps := map[string][]string{
		"top-spec":  {"mid-spec"},
		"mid-spec":  {"base-spec"},
		"base-spec": nil,
	}
	outcomes, err := m.MergeMany(context.Background(), deps, MergeOptions{})
	require.NoError(t, err)
	require.Len(t, outcomes, 3)

	assert.Equal(t, "base-spec", outcomes[0].SpecSlug)
	assert.Equal(t, "mid-spec", outcomes[1].SpecSlug)
	assert.Equal(t, "top-spec", outcomes[2].SpecSlug)
	for _, o := range outcomes {
		assert.True(t, o.Merged)
	}
}

func TestMergeMany_StopsAtFirstFailure(t *testing.T) {
	t.Parallel()

	ops := newFakeGitOps()
	m, _ := newTestManager(t, ops)

	for _, slug := range []string{"aa", "bb"} {
		_, err := m.Create(context.Background(), slug)
		require.NoError(t, err)
	}
	ops.mergeConfl = []string{"f.go"}

	deps := map[string][]string{"aa": nil, "bb": {"aa"}}
	outcomes, err := m.MergeMany(context.Background(), deps, MergeOptions{})
	require.Error(t, err)
	require.Len(t, outcomes, 1)
	assert.False(t, outcomes[0].Merged)
}

func TestComputeMergeOrder(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		deps    map[string][]string
		want    []string
		wantErr bool
	}{
		{
			name: "linear chain",
			deps: map[string][]string{"c": {"b"}, "b": {"a"}, "a": nil},
			want: []string{"a", "b", "c"},
		},
		{
			name: "independent specs sort alphabetically",
			deps: map[string][]string{"zeta": nil, "alpha": nil},
			want: []string{"alpha", "zeta"},
		},
		{
			name: "dependency outside batch is ignored",
			deps: map[string][]string{"x": {"already-merged"}},
			want: []string{"x"},
		},
		{
			name:    "cycle detected",
			deps:    map[string][]string{"a": {"b"}, "b": {"a"}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := ComputeMergeOrder(tt.deps)
			if tt.wantErr {
				var cycleErr *CycleError
				require.ErrorAs(t, err, &cycleErr)
				assert.ElementsMatch(t, []string{"a", "b"}, cycleErr.Specs)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
