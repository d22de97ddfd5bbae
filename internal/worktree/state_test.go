package worktree

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskloop-dev/taskloop/internal/model"
)

func TestState_RoundTrip(t *testing.T) {
	t.Parallel()

	stateDir := t.TempDir()
	wt := model.Worktree{
		SpecSlug:   "005-round-trip",
		Path:       "/tmp/wt",
		Branch:     "taskloop/005-round-trip",
		BaseBranch: "main",
		Status:     model.StatusActive,
		CreatedAt:  time.Now().UTC().Truncate(time.Second),
	}

	state := &State{}
	require.NoError(t, state.Add(wt))
	require.NoError(t, SaveState(stateDir, state))

	loaded, err := LoadState(stateDir)
	require.NoError(t, err)
	require.Len(t, loaded.Worktrees, 1)
	assert.Equal(t, wt.SpecSlug, loaded.Worktrees[0].SpecSlug)
	assert.Equal(t, wt.Branch, loaded.Worktrees[0].Branch)
	assert.True(t, wt.CreatedAt.Equal(loaded.Worktrees[0].CreatedAt))
}

func TestState_LoadMissingReturnsEmpty(t *testing.T) {
	t.Parallel()

	state, err := LoadState(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, state.Worktrees)
}

func TestState_AddRejectsDuplicate(t *testing.T) {
	t.Parallel()

	state := &State{}
	require.NoError(t, state.Add(model.Worktree{SpecSlug: "dup"}))
	assert.Error(t, state.Add(model.Worktree{SpecSlug: "dup"}))
}

func TestState_UpdateStampsUpdatedAt(t *testing.T) {
	t.Parallel()

	state := &State{}
	require.NoError(t, state.Add(model.Worktree{SpecSlug: "up"}))

	updated := model.Worktree{SpecSlug: "up", Status: model.StatusMerged}
	require.NoError(t, state.Update(updated))
	assert.Equal(t, model.StatusMerged, state.Worktrees[0].Status)
	assert.False(t, state.Worktrees[0].UpdatedAt.IsZero())
}

func TestState_Remove(t *testing.T) {
	t.Parallel()

	state := &State{}
	require.NoError(t, state.Add(model.Worktree{SpecSlug: "a"}))
	require.NoError(t, state.Add(model.Worktree{SpecSlug: "b"}))

	state.Remove("a")
	assert.Nil(t, state.Find("a"))
	assert.NotNil(t, state.Find("b"))
}
