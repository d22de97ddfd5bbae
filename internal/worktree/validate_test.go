package worktree

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskloop-dev/taskloop/internal/git"
)

func TestValidateWorktree_AllChecksPass(t *testing.T) {
	t.Parallel()

	worktree := t.TempDir()
	source := t.TempDir()
	entries := []git.WorktreeEntry{{Path: worktree, Branch: "taskloop/s"}}

	result := ValidateWorktree(context.Background(), worktree, source, entries)
	assert.True(t, result.IsValid())
	assert.Empty(t, result.Errors)
}

func TestValidateWorktree_MissingPath(t *testing.T) {
	t.Parallel()

	result := ValidateWorktree(context.Background(), "/nonexistent/worktree", t.TempDir(), nil)
	assert.False(t, result.IsValid())
	assert.False(t, result.PathExists)
	require.NotEmpty(t, result.Errors)
	assert.Contains(t, result.Errors[0], "does not exist")
}

func TestValidateWorktree_SamePathAsSource(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	entries := []git.WorktreeEntry{{Path: dir}}

	result := ValidateWorktree(context.Background(), dir, dir, entries)
	assert.False(t, result.IsValid())
	assert.False(t, result.PathDiffersFromSource)
}

func TestValidateWorktree_NotRegisteredWithGit(t *testing.T) {
	t.Parallel()

	worktree := t.TempDir()
	source := t.TempDir()

	result := ValidateWorktree(context.Background(), worktree, source, nil)
	assert.False(t, result.IsValid())
	assert.False(t, result.InGitWorktreeList)
}
