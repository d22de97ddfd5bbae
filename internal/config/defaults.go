package config

import "time"

// GetDefaultConfigTemplate returns a fully commented config template that
// helps operators understand all available options.
func GetDefaultConfigTemplate() string {
	return `# taskloop configuration
# See 'taskloop config keys' for the full set of known keys.

# State layout
state_dir: .state                     # Engine state root, relative to repo
specs_dir: .state/specs               # Spec directory root

# Session Orchestrator
session_max_age_hours: 24             # Sessions older than this are force-failed
session_timeout_seconds: 86400        # Per-session wall-clock timeout

# Spec Pipeline
pipeline_phase_retries: 2             # Retries per phase before it is fatal
pipeline_phase_retry_delay: 2s        # Delay between phase retry attempts
discovery_cache_ttl: 300s             # Project-index in-memory cache TTL

# QA Loop
qa_max_iterations: 50
qa_max_consecutive_errors: 3
qa_recurring_threshold: 3
qa_min_fix_confidence: 0.7
qa_test_timeout: 300s

# Worktree Manager
worktree:
  base_dir: ""                        # Parent dir for worktrees (default: <state_dir>/worktrees/specs)
  branch_prefix: "taskloop"           # Branch namespace prefix
  base_branch: ""                     # Explicit configured base branch, if any
  setup_script: ""                    # Path to setup script relative to repo
  auto_setup: true
  setup_timeout: 5m
  push_timeout: 120s
  fetch_timeout: 60s
  max_retries: 3

# Notifications (opt-in)
notifications:
  enabled: false
  on_session_complete: true
  on_escalation: true
`
}

// GetDefaults returns the default configuration values as a flat koanf map.
func GetDefaults() map[string]interface{} {
	return map[string]interface{}{
		"state_dir":                  ".state",
		"specs_dir":                  ".state/specs",
		"session_max_age_hours":      24,
		"session_timeout_seconds":    86400,
		"pipeline_phase_retries":     2,
		"pipeline_phase_retry_delay": (2 * time.Second).String(),
		"discovery_cache_ttl":        (300 * time.Second).String(),
		"qa_max_iterations":          50,
		"qa_max_consecutive_errors":  3,
		"qa_recurring_threshold":     3,
		"qa_min_fix_confidence":      0.7,
		"qa_test_timeout":            (300 * time.Second).String(),
		"worktree": map[string]interface{}{
			"base_dir":      "",
			"branch_prefix": "taskloop",
			"base_branch":   "",
			"setup_script":  "",
			"auto_setup":    true,
			"setup_timeout": (5 * time.Minute).String(),
			"push_timeout":  (120 * time.Second).String(),
			"fetch_timeout": (60 * time.Second).String(),
			"max_retries":   3,
		},
		"notifications": map[string]interface{}{
			"enabled":             false,
			"on_session_complete": true,
			"on_escalation":       true,
		},
	}
}
