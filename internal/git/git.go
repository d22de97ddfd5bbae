// Package git provides the Git operations behind the Worktree Manager and
// the CLI's repository guard. Repository queries, branch existence checks,
// and the authenticated base-branch fetch go through go-git; worktree
// management, merging, and pushing shell out to the git CLI with a scrubbed
// environment, because go-git supports neither linked worktrees nor the
// merge and push semantics the manager needs.
package git

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/plumbing/transport/ssh"
)

// Repo is an opened repository handle for engine-side queries.
type Repo struct {
	inner *git.Repository
	root  string
}

// Open opens the repository containing path, walking up the directory tree
// to find the root. An empty path means the current working directory.
// Every taskloop command starts here: a failure is the "not a git
// repository" prerequisite error, before any engine state is touched.
func Open(path string) (*Repo, error) {
	if path == "" {
		var err error
		path, err = os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("getting current directory: %w", err)
		}
	}
	inner, err := git.PlainOpenWithOptions(path, &git.PlainOpenOptions{
		DetectDotGit: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening repository at %s: %w", path, err)
	}
	wt, err := inner.Worktree()
	if err != nil {
		return nil, fmt.Errorf("resolving worktree root: %w", err)
	}
	return &Repo{inner: inner, root: wt.Filesystem.Root()}, nil
}

// Root returns the absolute repository root.
func (r *Repo) Root() string {
	return r.root
}

// CurrentBranch returns the checked-out branch name, or the empty string in
// detached HEAD state.
func (r *Repo) CurrentBranch() (string, error) {
	head, err := r.inner.Head()
	if err != nil {
		return "", fmt.Errorf("reading HEAD: %w", err)
	}
	if !head.Name().IsBranch() {
		return "", nil
	}
	return head.Name().Short(), nil
}

// BranchExists reports whether a local branch ref exists in repoPath. The
// Worktree Manager uses this both for the namespace-conflict check (a leaf
// branch equal to the branch prefix) and for stale spec-branch detection.
func BranchExists(repoPath, branch string) bool {
	r, err := Open(repoPath)
	if err != nil {
		return false
	}
	_, err = r.inner.Reference(plumbing.NewBranchReferenceName(branch), false)
	return err == nil
}

// RemoteBranchExists reports whether remote/branch resolves to a known
// remote-tracking ref in repoPath.
func RemoteBranchExists(repoPath, remote, branch string) bool {
	r, err := Open(repoPath)
	if err != nil {
		return false
	}
	_, err = r.inner.Reference(plumbing.NewRemoteReferenceName(remote, branch), false)
	return err == nil
}

// ResolveBaseBranch picks the branch new spec worktrees are based on:
// the configured branch if it exists locally, then main, then master, then
// the current branch. usedFallback reports that the configured choice (or
// a conventional default) was not available, so callers can warn.
func ResolveBaseBranch(repoPath, configured string) (branch string, usedFallback bool, err error) {
	if configured != "" && BranchExists(repoPath, configured) {
		return configured, false, nil
	}
	for _, candidate := range []string{"main", "master"} {
		if BranchExists(repoPath, candidate) {
			return candidate, true, nil
		}
	}
	repo, err := Open(repoPath)
	if err != nil {
		return "", true, fmt.Errorf("resolving current branch: %w", err)
	}
	current, err := repo.CurrentBranch()
	if err != nil {
		return "", true, fmt.Errorf("resolving current branch: %w", err)
	}
	if current == "" {
		return "", true, fmt.Errorf("repository is in detached HEAD state; configure worktree.base_branch")
	}
	return current, true, nil
}

// FetchBranch fetches one branch from remote into repoPath, so worktree
// creation can base the new spec branch on the remote's view of the base
// branch rather than a stale local ref. SSH remotes authenticate through a
// live agent; HTTPS remotes use GIT_USERNAME/GIT_PASSWORD or GITHUB_TOKEN
// from the environment. "Already up to date" is success.
func FetchBranch(ctx context.Context, repoPath, remote, branch string) error {
	r, err := Open(repoPath)
	if err != nil {
		return err
	}
	rem, err := r.inner.Remote(remote)
	if err != nil {
		return fmt.Errorf("resolving remote %s: %w", remote, err)
	}
	urls := rem.Config().URLs
	if len(urls) == 0 {
		return fmt.Errorf("remote %s has no URL configured", remote)
	}
	if isSSHURL(urls[0]) && !sshAgentAvailable() {
		return fmt.Errorf("remote %s uses SSH but no SSH agent is available", remote)
	}

	refSpec := config.RefSpec(fmt.Sprintf("+refs/heads/%s:refs/remotes/%s/%s", branch, remote, branch))
	err = r.inner.FetchContext(ctx, &git.FetchOptions{
		RemoteName: remote,
		RefSpecs:   []config.RefSpec{refSpec},
		Auth:       authForURL(urls[0]),
	})
	if err == git.NoErrAlreadyUpToDate {
		return nil
	}
	return err
}

// authForURL returns the auth method for a remote URL: SSH-agent auth for
// SSH remotes, environment credentials for HTTPS, nil (anonymous) otherwise.
func authForURL(url string) transport.AuthMethod {
	if isSSHURL(url) {
		auth, err := ssh.NewSSHAgentAuth("git")
		if err != nil {
			return nil
		}
		return auth
	}

	username := os.Getenv("GIT_USERNAME")
	password := os.Getenv("GIT_PASSWORD")
	if username == "" {
		if token := os.Getenv("GITHUB_TOKEN"); token != "" {
			username, password = token, ""
		}
	}
	if username == "" {
		return nil
	}
	return &http.BasicAuth{Username: username, Password: password}
}

// isSSHURL detects git@ (SCP-style), ssh://, and git+ssh:// remotes.
func isSSHURL(url string) bool {
	return strings.HasPrefix(url, "git@") ||
		strings.HasPrefix(url, "ssh://") ||
		strings.HasPrefix(url, "git+ssh://")
}

func sshAgentAvailable() bool {
	return strings.TrimSpace(os.Getenv("SSH_AUTH_SOCK")) != ""
}
