package worktree

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestAcquireAndReleaseCreationLock(t *testing.T) {
	t.Parallel()

	stateDir := t.TempDir()
	require.NoError(t, acquireCreationLock(stateDir, "spec-a"))

	// The same live process holds the lock, so a second acquire fails.
	err := acquireCreationLock(stateDir, "spec-a")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "locked by pid")

	require.NoError(t, releaseCreationLock(stateDir, "spec-a"))
	require.NoError(t, acquireCreationLock(stateDir, "spec-a"))
}

func TestAcquireCreationLock_ReclaimsDeadProcess(t *testing.T) {
	t.Parallel()

	stateDir := t.TempDir()
	path := lockPath(stateDir, "spec-b")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))

	// PID 1 is never our process; use an implausibly high dead PID instead.
	stale := creationLock{SpecSlug: "spec-b", PID: 999999, StartedAt: time.Now().Add(-time.Hour)}
	data, err := yaml.Marshal(stale)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	require.NoError(t, acquireCreationLock(stateDir, "spec-b"))
}

func TestReleaseCreationLock_MissingFileIsNoError(t *testing.T) {
	t.Parallel()

	assert.NoError(t, releaseCreationLock(t.TempDir(), "never-locked"))
}

func TestCleanupStaleLocks(t *testing.T) {
	t.Parallel()

	stateDir := t.TempDir()
	lockDir := filepath.Join(stateDir, "locks")
	require.NoError(t, os.MkdirAll(lockDir, 0o755))

	dead := creationLock{SpecSlug: "dead", PID: 999999, StartedAt: time.Now()}
	deadData, err := yaml.Marshal(dead)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(lockDir, "dead.lock"), deadData, 0o644))

	alive := creationLock{SpecSlug: "alive", PID: os.Getpid(), StartedAt: time.Now()}
	aliveData, err := yaml.Marshal(alive)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(lockDir, "alive.lock"), aliveData, 0o644))

	reclaimed, err := cleanupStaleLocks(stateDir)
	require.NoError(t, err)
	assert.Equal(t, 1, reclaimed)

	_, err = os.Stat(filepath.Join(lockDir, "alive.lock"))
	assert.NoError(t, err)
}
