package worktree

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o755))
	return path
}

func TestRunSetupScript_NoScriptConfigured(t *testing.T) {
	t.Parallel()

	result := RunSetupScript(context.Background(), "", t.TempDir(), "spec", "branch", t.TempDir(), 0, nil)
	assert.False(t, result.Executed)
	assert.NoError(t, result.Error)
}

func TestRunSetupScript_MissingScriptIsNoOp(t *testing.T) {
	t.Parallel()

	repo := t.TempDir()
	result := RunSetupScript(context.Background(), "does-not-exist.sh", t.TempDir(), "spec", "branch", repo, 0, nil)
	assert.False(t, result.Executed)
	assert.NoError(t, result.Error)
}

func TestRunSetupScript_RunsWithEnvironment(t *testing.T) {
	t.Parallel()
	if runtime.GOOS == "windows" {
		t.Skip("shell script test")
	}

	repo := t.TempDir()
	worktree := t.TempDir()
	script := writeScript(t, repo, "setup.sh", "#!/bin/sh\necho \"spec=$WORKTREE_SPEC branch=$WORKTREE_BRANCH\"\n")

	var out bytes.Buffer
	result := RunSetupScript(context.Background(), script, worktree, "001-auth", "taskloop/001-auth", repo, time.Minute, &out)

	require.True(t, result.Executed)
	require.NoError(t, result.Error)
	assert.Contains(t, result.Output, "spec=001-auth")
	assert.Contains(t, result.Output, "branch=taskloop/001-auth")
	assert.Contains(t, out.String(), "spec=001-auth")
}

func TestRunSetupScript_RelativePathResolvedAgainstRepo(t *testing.T) {
	t.Parallel()
	if runtime.GOOS == "windows" {
		t.Skip("shell script test")
	}

	repo := t.TempDir()
	worktree := t.TempDir()
	writeScript(t, repo, "setup.sh", "#!/bin/sh\nexit 0\n")

	result := RunSetupScript(context.Background(), "setup.sh", worktree, "s", "b", repo, time.Minute, nil)
	require.True(t, result.Executed)
	assert.NoError(t, result.Error)
}

func TestRunSetupScript_FailureReported(t *testing.T) {
	t.Parallel()
	if runtime.GOOS == "windows" {
		t.Skip("shell script test")
	}

	repo := t.TempDir()
	worktree := t.TempDir()
	script := writeScript(t, repo, "fail.sh", "#!/bin/sh\necho boom\nexit 3\n")

	result := RunSetupScript(context.Background(), script, worktree, "s", "b", repo, time.Minute, nil)
	require.True(t, result.Executed)
	require.Error(t, result.Error)
	assert.Contains(t, result.Output, "boom")
	assert.False(t, result.TimedOut)
}

func TestRunSetupScript_Timeout(t *testing.T) {
	t.Parallel()
	if runtime.GOOS == "windows" {
		t.Skip("shell script test")
	}

	repo := t.TempDir()
	worktree := t.TempDir()
	script := writeScript(t, repo, "slow.sh", "#!/bin/sh\nsleep 10\n")

	result := RunSetupScript(context.Background(), script, worktree, "s", "b", repo, 100*time.Millisecond, nil)
	require.True(t, result.Executed)
	require.Error(t, result.Error)
	assert.True(t, result.TimedOut)
}

func TestRunSetupScript_NotExecutable(t *testing.T) {
	t.Parallel()
	if runtime.GOOS == "windows" {
		t.Skip("permission bits test")
	}

	repo := t.TempDir()
	path := filepath.Join(repo, "setup.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"), 0o644))

	result := RunSetupScript(context.Background(), path, t.TempDir(), "s", "b", repo, 0, nil)
	assert.False(t, result.Executed)
	require.Error(t, result.Error)
	assert.Contains(t, result.Error.Error(), "not executable")
}

func TestCreateDefaultSetupScript(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "scripts", "setup.sh")
	require.NoError(t, CreateDefaultSetupScript(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.NotZero(t, info.Mode()&0o111)
}
