package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := LoadWithOptions(LoadOptions{ProjectConfigPath: filepath.Join(t.TempDir(), "absent.yml")})
	require.NoError(t, err)

	assert.Equal(t, ".state", cfg.StateDir)
	assert.Equal(t, ".state/specs", cfg.SpecsDir)
	assert.Equal(t, 24, cfg.SessionMaxAgeHours)
	assert.Equal(t, 50, cfg.QAMaxIterations)
	assert.Equal(t, 3, cfg.QAMaxConsecutiveErrors)
	assert.Equal(t, 3, cfg.QARecurringThreshold)
	assert.InDelta(t, 0.7, cfg.QAMinFixConfidence, 1e-9)
	assert.Equal(t, "taskloop", cfg.Worktree.BranchPrefix)
	assert.Equal(t, 300*time.Second, cfg.DiscoveryCacheTTLDuration())
	assert.Equal(t, 300*time.Second, cfg.QATestTimeoutDuration())
	assert.Equal(t, 2*time.Second, cfg.PipelinePhaseDelayDuration())
}

func TestLoad_ProjectConfigOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte("qa_max_iterations: 10\nworktree:\n  branch_prefix: feature\n"), 0o644))

	cfg, err := LoadWithOptions(LoadOptions{ProjectConfigPath: path})
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.QAMaxIterations)
	assert.Equal(t, "feature", cfg.Worktree.BranchPrefix)
	// Untouched keys keep their defaults.
	assert.Equal(t, 3, cfg.QARecurringThreshold)
}

func TestLoad_EnvironmentBeatsProjectConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte("qa_max_iterations: 10\n"), 0o644))
	t.Setenv("TASKLOOP_QA_MAX_ITERATIONS", "7")

	cfg, err := LoadWithOptions(LoadOptions{ProjectConfigPath: path})
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.QAMaxIterations)
}

func TestLoad_JSONProjectConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"qa_max_iterations": 12}`), 0o644))

	cfg, err := LoadWithOptions(LoadOptions{ProjectConfigPath: path})
	require.NoError(t, err)
	assert.Equal(t, 12, cfg.QAMaxIterations)
}

func TestLoad_InvalidYAMLSyntax(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte("qa_max_iterations: [unclosed\n"), 0o644))

	_, err := LoadWithOptions(LoadOptions{ProjectConfigPath: path})
	assert.Error(t, err)
}

func TestLoad_ValidationRejectsBadValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte("qa_max_iterations: -5\n"), 0o644))

	_, err := LoadWithOptions(LoadOptions{ProjectConfigPath: path})
	assert.Error(t, err)
}

func TestValidateValue_KnownKeys(t *testing.T) {
	t.Parallel()

	parsed, err := ValidateValue("qa_min_fix_confidence", "0.9")
	require.NoError(t, err)
	assert.Equal(t, 0.9, parsed.Parsed)

	_, err = ValidateValue("not_a_real_key", "x")
	require.Error(t, err)
	var unknown ErrUnknownKey
	assert.ErrorAs(t, err, &unknown)
}

func TestExpandHomePath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, "x"), expandHomePath("~/x"))
	assert.Equal(t, "/abs/x", expandHomePath("/abs/x"))
}

func TestDurationFallbacks(t *testing.T) {
	t.Parallel()

	cfg := &Configuration{QATestTimeout: "nonsense"}
	assert.Equal(t, 300*time.Second, cfg.QATestTimeoutDuration())

	cfg.QATestTimeout = "90s"
	assert.Equal(t, 90*time.Second, cfg.QATestTimeoutDuration())
}
