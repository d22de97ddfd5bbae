package git

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_DetectsRootFromSubdir(t *testing.T) {
	repo := initRepo(t)
	sub := filepath.Join(repo, "pkg", "deep")
	require.NoError(t, os.MkdirAll(sub, 0o755))

	r, err := Open(sub)
	require.NoError(t, err)
	assert.Equal(t, repo, r.Root())
}

func TestOpen_NotARepository(t *testing.T) {
	_, err := Open(t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "opening repository")
}

func TestCurrentBranch(t *testing.T) {
	repo := initRepo(t)

	r, err := Open(repo)
	require.NoError(t, err)

	branch, err := r.CurrentBranch()
	require.NoError(t, err)
	assert.Equal(t, "main", branch)
}

func TestCurrentBranch_DetachedHEAD(t *testing.T) {
	repo := initRepo(t)
	runIn(t, repo, "checkout", "--detach", "HEAD")

	r, err := Open(repo)
	require.NoError(t, err)

	branch, err := r.CurrentBranch()
	require.NoError(t, err)
	assert.Empty(t, branch)
}

func TestBranchExists(t *testing.T) {
	repo := initRepo(t)
	runIn(t, repo, "branch", "taskloop")

	assert.True(t, BranchExists(repo, "main"))
	assert.True(t, BranchExists(repo, "taskloop"))
	assert.False(t, BranchExists(repo, "taskloop/001-spec"))
	assert.False(t, BranchExists(t.TempDir(), "main"), "non-repos have no branches")
}

func TestRemoteBranchExists(t *testing.T) {
	repo := initRepo(t)
	require.False(t, RemoteBranchExists(repo, "origin", "main"))

	runIn(t, repo, "update-ref", "refs/remotes/origin/main", "HEAD")
	assert.True(t, RemoteBranchExists(repo, "origin", "main"))
	assert.False(t, RemoteBranchExists(repo, "origin", "develop"))
}

func TestResolveBaseBranch_PrefersConfigured(t *testing.T) {
	repo := initRepo(t)
	runIn(t, repo, "branch", "develop")

	branch, fallback, err := ResolveBaseBranch(repo, "develop")
	require.NoError(t, err)
	assert.Equal(t, "develop", branch)
	assert.False(t, fallback)
}

func TestResolveBaseBranch_FallsBackToMain(t *testing.T) {
	repo := initRepo(t)

	branch, fallback, err := ResolveBaseBranch(repo, "nonexistent")
	require.NoError(t, err)
	assert.Equal(t, "main", branch)
	assert.True(t, fallback)
}

func TestResolveBaseBranch_FallsThroughToCurrentBranch(t *testing.T) {
	repo := initRepoOnBranch(t, "trunk")

	branch, fallback, err := ResolveBaseBranch(repo, "")
	require.NoError(t, err)
	assert.Equal(t, "trunk", branch)
	assert.True(t, fallback)
}

func TestFetchBranch_LocalRemote(t *testing.T) {
	upstream := initRepo(t)
	repo := initRepo(t)
	runIn(t, repo, "remote", "add", "origin", upstream)

	ctx := context.Background()
	require.NoError(t, FetchBranch(ctx, repo, "origin", "main"))
	assert.True(t, RemoteBranchExists(repo, "origin", "main"))

	// A second fetch is "already up to date", which is success.
	assert.NoError(t, FetchBranch(ctx, repo, "origin", "main"))
}

func TestFetchBranch_UnknownRemote(t *testing.T) {
	repo := initRepo(t)

	err := FetchBranch(context.Background(), repo, "origin", "main")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "resolving remote")
}

func TestIsSSHURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		url  string
		want bool
	}{
		{"git@github.com:org/repo.git", true},
		{"ssh://git@github.com/org/repo.git", true},
		{"git+ssh://git@github.com/org/repo.git", true},
		{"https://github.com/org/repo.git", false},
		{"http://internal/repo.git", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, isSSHURL(tt.url), tt.url)
	}
}

func TestSSHAgentAvailable(t *testing.T) {
	t.Setenv("SSH_AUTH_SOCK", "")
	assert.False(t, sshAgentAvailable())

	t.Setenv("SSH_AUTH_SOCK", "/tmp/agent.sock")
	assert.True(t, sshAgentAvailable())
}

func TestAuthForURL_HTTPSUsesEnvironmentToken(t *testing.T) {
	t.Setenv("GIT_USERNAME", "")
	t.Setenv("GIT_PASSWORD", "")
	t.Setenv("GITHUB_TOKEN", "ghp_example")

	auth := authForURL("https://github.com/org/repo.git")
	require.NotNil(t, auth)

	t.Setenv("GITHUB_TOKEN", "")
	assert.Nil(t, authForURL("https://github.com/org/repo.git"))
}
