// Package config provides hierarchical configuration management for the
// taskloop engine using koanf. Configuration is loaded with priority:
// environment variables > project config (.taskloop/config.yml) > user
// config (~/.config/taskloop/config.yml) > built-in defaults.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// WorktreeConfig configures the Worktree Manager.
type WorktreeConfig struct {
	BaseDir      string `koanf:"base_dir"`
	BranchPrefix string `koanf:"branch_prefix"`
	BaseBranch   string `koanf:"base_branch"`
	SetupScript  string `koanf:"setup_script"`
	AutoSetup    bool   `koanf:"auto_setup"`
	SetupTimeout string `koanf:"setup_timeout"`
	PushTimeout  string `koanf:"push_timeout"`
	FetchTimeout string `koanf:"fetch_timeout"`
	MaxRetries   int    `koanf:"max_retries"`
}

// NotificationConfig configures opt-in operator notifications.
type NotificationConfig struct {
	Enabled           bool `koanf:"enabled"`
	OnSessionComplete bool `koanf:"on_session_complete"`
	OnEscalation      bool `koanf:"on_escalation"`
}

// Configuration is the taskloop engine's closed configuration record.
type Configuration struct {
	StateDir string `koanf:"state_dir"`
	SpecsDir string `koanf:"specs_dir"`

	SessionMaxAgeHours    int `koanf:"session_max_age_hours"`
	SessionTimeoutSeconds int `koanf:"session_timeout_seconds"`

	PipelineMaxRetries int    `koanf:"pipeline_phase_retries"`
	PipelinePhaseDelay string `koanf:"pipeline_phase_retry_delay"`
	DiscoveryCacheTTL  string `koanf:"discovery_cache_ttl"`

	QAMaxIterations        int     `koanf:"qa_max_iterations"`
	QAMaxConsecutiveErrors int     `koanf:"qa_max_consecutive_errors"`
	QARecurringThreshold   int     `koanf:"qa_recurring_threshold"`
	QAMinFixConfidence     float64 `koanf:"qa_min_fix_confidence"`
	QATestTimeout          string  `koanf:"qa_test_timeout"`

	Worktree      WorktreeConfig     `koanf:"worktree"`
	Notifications NotificationConfig `koanf:"notifications"`
}

// PipelinePhaseDelayDuration parses PipelinePhaseDelay, defaulting to 2s on error.
func (c *Configuration) PipelinePhaseDelayDuration() time.Duration {
	return parseDurationOr(c.PipelinePhaseDelay, 2*time.Second)
}

// DiscoveryCacheTTLDuration parses DiscoveryCacheTTL, defaulting to 300s on error.
func (c *Configuration) DiscoveryCacheTTLDuration() time.Duration {
	return parseDurationOr(c.DiscoveryCacheTTL, 300*time.Second)
}

// QATestTimeoutDuration parses QATestTimeout, defaulting to 300s on error.
func (c *Configuration) QATestTimeoutDuration() time.Duration {
	return parseDurationOr(c.QATestTimeout, 300*time.Second)
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// LoadOptions configures how configuration is loaded.
type LoadOptions struct {
	// ProjectConfigPath overrides the project config path (default: .taskloop/config.yml)
	ProjectConfigPath string
	// WarningWriter receives non-fatal warnings (default: os.Stderr)
	WarningWriter io.Writer
	// SkipWarnings suppresses warnings entirely.
	SkipWarnings bool
}

// Load loads configuration from user, project, and environment sources.
func Load(projectConfigPath string) (*Configuration, error) {
	return LoadWithOptions(LoadOptions{ProjectConfigPath: projectConfigPath})
}

// LoadWithOptions loads configuration with custom options.
func LoadWithOptions(opts LoadOptions) (*Configuration, error) {
	k := koanf.New(".")
	warningWriter := opts.WarningWriter
	if warningWriter == nil {
		warningWriter = os.Stderr
	}

	for key, value := range GetDefaults() {
		k.Set(key, value)
	}

	if err := loadYAMLIfExists(k, userConfigPathOrEmpty()); err != nil {
		return nil, fmt.Errorf("loading user config: %w", err)
	}

	projectPath := ProjectConfigPath()
	if opts.ProjectConfigPath != "" {
		projectPath = opts.ProjectConfigPath
	}
	if err := loadConfigFileIfExists(k, projectPath); err != nil {
		return nil, fmt.Errorf("loading project config: %w", err)
	}

	if err := k.Load(env.Provider("TASKLOOP_", ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("loading environment config: %w", err)
	}

	var cfg Configuration
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.StateDir = expandHomePath(cfg.StateDir)
	cfg.SpecsDir = expandHomePath(cfg.SpecsDir)

	if err := ValidateConfigValues(&cfg, "config"); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func loadYAMLIfExists(k *koanf.Koanf, path string) error {
	if path == "" || !fileExists(path) {
		return nil
	}
	if err := ValidateYAMLSyntax(path); err != nil {
		return err
	}
	return k.Load(file.Provider(path), yaml.Parser())
}

// loadConfigFileIfExists dispatches on extension: YAML by default, JSON for
// tooling-generated project configs.
func loadConfigFileIfExists(k *koanf.Koanf, path string) error {
	if strings.HasSuffix(path, ".json") {
		if !fileExists(path) {
			return nil
		}
		return k.Load(file.Provider(path), json.Parser())
	}
	return loadYAMLIfExists(k, path)
}

func userConfigPathOrEmpty() string {
	p, err := UserConfigPath()
	if err != nil {
		return ""
	}
	return p
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

// envTransform converts environment variable names to config keys,
// e.g. TASKLOOP_QA_MAX_ITERATIONS -> qa_max_iterations.
func envTransform(s string) string {
	return strings.ToLower(strings.TrimPrefix(s, "TASKLOOP_"))
}

func expandHomePath(path string) string {
	if strings.HasPrefix(path, "~/") {
		if homeDir, err := os.UserHomeDir(); err == nil {
			return filepath.Join(homeDir, path[2:])
		}
	}
	return path
}
