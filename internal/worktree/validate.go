package worktree

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/taskloop-dev/taskloop/internal/git"
)

// ValidationResult is the outcome of the post-creation worktree checks. All
// three checks must pass for the worktree to be usable.
type ValidationResult struct {
	// PathExists indicates whether the worktree path exists as a directory.
	PathExists bool
	// PathDiffersFromSource indicates whether the path differs from the source repo.
	PathDiffersFromSource bool
	// InGitWorktreeList indicates whether the worktree appears in git worktree list.
	InGitWorktreeList bool
	// Errors contains actionable messages for any failed checks.
	Errors []string
}

// IsValid reports whether every check passed.
func (v *ValidationResult) IsValid() bool {
	return v.PathExists && v.PathDiffersFromSource && v.InGitWorktreeList && len(v.Errors) == 0
}

// ValidateWorktree verifies that a created worktree exists on disk, is not
// the source repository itself, and is registered with Git. entries is the
// parsed output of `git worktree list` for the source repository.
func ValidateWorktree(_ context.Context, worktreePath, sourceRepoPath string, entries []git.WorktreeEntry) *ValidationResult {
	result := &ValidationResult{}

	absWorktree, err := filepath.Abs(worktreePath)
	if err != nil {
		absWorktree = worktreePath
	}
	absSource, err := filepath.Abs(sourceRepoPath)
	if err != nil {
		absSource = sourceRepoPath
	}

	result.PathExists = checkPathExists(absWorktree, result)
	result.PathDiffersFromSource = checkPathDiffers(absWorktree, absSource, result)
	result.InGitWorktreeList = checkInWorktreeList(absWorktree, entries, result)

	return result
}

// checkPathExists verifies the worktree directory exists.
func checkPathExists(path string, result *ValidationResult) bool {
	info, err := os.Stat(path)
	if err != nil {
		result.Errors = append(result.Errors,
			fmt.Sprintf("worktree path does not exist: %s (ensure setup script creates the directory)", path))
		return false
	}
	if !info.IsDir() {
		result.Errors = append(result.Errors,
			fmt.Sprintf("worktree path is not a directory: %s", path))
		return false
	}
	return true
}

// checkPathDiffers verifies the worktree path differs from the source repository.
func checkPathDiffers(worktreePath, sourcePath string, result *ValidationResult) bool {
	if worktreePath == sourcePath {
		result.Errors = append(result.Errors,
			fmt.Sprintf("worktree path same as source repo: %s (setup script may have changed directory)", worktreePath))
		return false
	}
	return true
}

// checkInWorktreeList verifies the worktree appears in git worktree list.
func checkInWorktreeList(worktreePath string, entries []git.WorktreeEntry, result *ValidationResult) bool {
	for _, entry := range entries {
		if entry.Path == worktreePath {
			return true
		}
	}
	result.Errors = append(result.Errors,
		fmt.Sprintf("worktree not found in git worktree list: %s (run 'git worktree list' to verify)", worktreePath))
	return false
}
