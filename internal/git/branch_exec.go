package git

import (
	"context"
	"strings"
)

// DeleteBranch deletes a local branch. force uses -D, otherwise -d. This
// stays on the CLI: go-git can drop a ref but has no notion of refusing to
// delete an unmerged branch, and the manager relies on that distinction.
func DeleteBranch(ctx context.Context, repoPath, branch string, force bool) error {
	flag := "-d"
	if force {
		flag = "-D"
	}
	_, err := runGit(ctx, repoPath, "branch", flag, branch)
	return err
}

// CommitAll stages everything in worktreePath and commits with message.
// "nothing to commit" is reported via the committed=false return, not an
// error, because an empty commit step is a legitimate no-op for the
// Worktree Manager.
func CommitAll(ctx context.Context, worktreePath, message string) (committed bool, err error) {
	if _, err := runGit(ctx, worktreePath, "add", "-A"); err != nil {
		return false, err
	}
	_, commitErr := runGit(ctx, worktreePath, "commit", "-m", message)
	if commitErr == nil {
		return true, nil
	}
	if strings.Contains(commitErr.Error(), "nothing to commit") ||
		strings.Contains(commitErr.Error(), "nothing added to commit") {
		return false, nil
	}
	return false, commitErr
}

// MergeNoCommit merges sourceBranch into the checked-out branch with
// --no-commit --no-ff, leaving the result staged in the working tree. On
// conflict the merge is aborted and the conflicted files are returned.
func MergeNoCommit(ctx context.Context, repoPath, sourceBranch string) (conflicts []string, err error) {
	_, mergeErr := runGit(ctx, repoPath, "merge", "--no-ff", "--no-commit", sourceBranch)
	if mergeErr == nil {
		return nil, nil
	}
	conflicts = DetectConflictedFiles(ctx, repoPath)
	if len(conflicts) > 0 {
		_, _ = runGit(ctx, repoPath, "merge", "--abort")
		return conflicts, mergeErr
	}
	if strings.Contains(mergeErr.Error(), "up to date") || strings.Contains(mergeErr.Error(), "up-to-date") {
		return nil, nil
	}
	return nil, mergeErr
}

// ForcePushBranch pushes branch to remote with --force-with-lease.
func ForcePushBranch(ctx context.Context, repoPath, remote, branch string) error {
	_, err := runGit(ctx, repoPath, "push", "--force-with-lease", "-u", remote, branch)
	return err
}
