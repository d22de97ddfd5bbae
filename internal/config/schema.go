package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ConfigValueType defines the expected type for a configuration value.
type ConfigValueType int

const (
	TypeBool ConfigValueType = iota
	TypeInt
	TypeFloat
	TypeDuration
	TypeString
	TypeEnum
)

// String returns the string representation of ConfigValueType.
func (t ConfigValueType) String() string {
	switch t {
	case TypeBool:
		return "bool"
	case TypeInt:
		return "int"
	case TypeFloat:
		return "float"
	case TypeDuration:
		return "duration"
	case TypeString:
		return "string"
	case TypeEnum:
		return "enum"
	default:
		return "unknown"
	}
}

// ConfigKeySchema defines a known configuration key with its expected type and validation rules.
type ConfigKeySchema struct {
	Path          string
	Type          ConfigValueType
	AllowedValues []string
	Description   string
	Default       interface{}
}

// KnownKeys is the registry of all known configuration keys with their schemas.
var KnownKeys = map[string]ConfigKeySchema{
	"state_dir": {
		Path: "state_dir", Type: TypeString,
		Description: "Engine state root directory, relative to the repository",
		Default:     ".state",
	},
	"specs_dir": {
		Path: "specs_dir", Type: TypeString,
		Description: "Spec directory root",
		Default:     ".state/specs",
	},
	"session_max_age_hours": {
		Path: "session_max_age_hours", Type: TypeInt,
		Description: "Sessions older than this, by started_at, are force-failed",
		Default:     24,
	},
	"session_timeout_seconds": {
		Path: "session_timeout_seconds", Type: TypeInt,
		Description: "Default per-session wall-clock timeout in seconds",
		Default:     86400,
	},
	"pipeline_phase_retries": {
		Path: "pipeline_phase_retries", Type: TypeInt,
		Description: "Retries per pipeline phase before it is treated as fatal",
		Default:     2,
	},
	"pipeline_phase_retry_delay": {
		Path: "pipeline_phase_retry_delay", Type: TypeDuration,
		Description: "Delay between pipeline phase retry attempts",
		Default:     "2s",
	},
	"discovery_cache_ttl": {
		Path: "discovery_cache_ttl", Type: TypeDuration,
		Description: "TTL for the in-memory project-index cache entry",
		Default:     "300s",
	},
	"qa_max_iterations": {
		Path: "qa_max_iterations", Type: TypeInt,
		Description: "Outer bound on QA Loop iterations before escalation",
		Default:     50,
	},
	"qa_max_consecutive_errors": {
		Path: "qa_max_consecutive_errors", Type: TypeInt,
		Description: "Consecutive QA iteration errors before escalation",
		Default:     3,
	},
	"qa_recurring_threshold": {
		Path: "qa_recurring_threshold", Type: TypeInt,
		Description: "Iteration count at which a repeated issue title triggers escalation",
		Default:     3,
	},
	"qa_min_fix_confidence": {
		Path: "qa_min_fix_confidence", Type: TypeFloat,
		Description: "Minimum Fixer confidence required for auto-apply",
		Default:     0.7,
	},
	"qa_test_timeout": {
		Path: "qa_test_timeout", Type: TypeDuration,
		Description: "Wall-clock ceiling for the QA test-runner subprocess",
		Default:     "300s",
	},
	"worktree.branch_prefix": {
		Path: "worktree.branch_prefix", Type: TypeString,
		Description: "Branch namespace prefix, e.g. <prefix>/<spec-slug>",
		Default:     "taskloop",
	},
	"worktree.base_branch": {
		Path: "worktree.base_branch", Type: TypeString,
		Description: "Explicit configured base branch (used when it exists locally, otherwise auto-detected)",
		Default:     "",
	},
	"worktree.auto_setup": {
		Path: "worktree.auto_setup", Type: TypeBool,
		Description: "Run the setup script automatically on worktree creation",
		Default:     true,
	},
	"worktree.max_retries": {
		Path: "worktree.max_retries", Type: TypeInt,
		Description: "Bounded retry attempts for transient network operations",
		Default:     3,
	},
	"notifications.enabled": {
		Path: "notifications.enabled", Type: TypeBool,
		Description: "Enable or disable all notifications",
		Default:     false,
	},
}

// ErrUnknownKey is returned when trying to access an unknown configuration key.
type ErrUnknownKey struct {
	Key string
}

func (e ErrUnknownKey) Error() string {
	return "unknown configuration key: " + e.Key
}

// GetKeySchema returns the schema for a known configuration key.
func GetKeySchema(path string) (ConfigKeySchema, error) {
	schema, ok := KnownKeys[path]
	if !ok {
		return ConfigKeySchema{}, ErrUnknownKey{Key: path}
	}
	return schema, nil
}

// ParsedValue represents a configuration value after type inference and validation.
type ParsedValue struct {
	Raw    string
	Parsed interface{}
	Type   ConfigValueType
}

// ValidateValue validates a value against the schema for a given key.
func ValidateValue(key, value string) (ParsedValue, error) {
	schema, err := GetKeySchema(key)
	if err != nil {
		return ParsedValue{}, err
	}
	return validateAgainstSchema(schema, value)
}

func validateAgainstSchema(schema ConfigKeySchema, value string) (ParsedValue, error) {
	switch schema.Type {
	case TypeBool:
		return parseBoolValue(value)
	case TypeInt:
		return parseIntValue(value)
	case TypeFloat:
		return parseFloatValue(value)
	case TypeDuration:
		return parseDurationValue(value)
	case TypeEnum:
		return parseEnumValue(schema, value)
	case TypeString:
		return ParsedValue{Raw: value, Parsed: value, Type: TypeString}, nil
	default:
		return ParsedValue{}, fmt.Errorf("unsupported type: %v", schema.Type)
	}
}

func parseBoolValue(value string) (ParsedValue, error) {
	switch strings.ToLower(value) {
	case "true":
		return ParsedValue{Raw: value, Parsed: true, Type: TypeBool}, nil
	case "false":
		return ParsedValue{Raw: value, Parsed: false, Type: TypeBool}, nil
	default:
		return ParsedValue{}, fmt.Errorf("invalid boolean: %q (expected true or false)", value)
	}
}

func parseIntValue(value string) (ParsedValue, error) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return ParsedValue{}, fmt.Errorf("invalid integer: %q", value)
	}
	return ParsedValue{Raw: value, Parsed: n, Type: TypeInt}, nil
}

func parseFloatValue(value string) (ParsedValue, error) {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return ParsedValue{}, fmt.Errorf("invalid float: %q", value)
	}
	return ParsedValue{Raw: value, Parsed: f, Type: TypeFloat}, nil
}

func parseDurationValue(value string) (ParsedValue, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return ParsedValue{}, fmt.Errorf("invalid duration: %q (examples: 5m, 1h30m, 10s)", value)
	}
	return ParsedValue{Raw: value, Parsed: d.String(), Type: TypeDuration}, nil
}

func parseEnumValue(schema ConfigKeySchema, value string) (ParsedValue, error) {
	for _, allowed := range schema.AllowedValues {
		if value == allowed {
			return ParsedValue{Raw: value, Parsed: value, Type: TypeEnum}, nil
		}
	}
	return ParsedValue{}, fmt.Errorf(
		"invalid value: %q (valid options: %s)",
		value,
		strings.Join(schema.AllowedValues, ", "),
	)
}
