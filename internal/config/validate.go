package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidationError represents a configuration validation error with context.
type ValidationError struct {
	FilePath string
	Line     int
	Column   int
	Message  string
	Field    string
}

func (e *ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d:%d: %s", e.FilePath, e.Line, e.Column, e.Message)
	}
	if e.Field != "" {
		return fmt.Sprintf("%s: field %q: %s", e.FilePath, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.FilePath, e.Message)
}

// ValidateYAMLSyntax checks if the YAML file has valid syntax. A missing file
// is not an error — the caller falls back to defaults.
func ValidateYAMLSyntax(filePath string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return &ValidationError{FilePath: filePath, Message: err.Error()}
	}

	if len(strings.TrimSpace(string(data))) == 0 {
		return nil
	}

	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return &ValidationError{FilePath: filePath, Message: err.Error()}
	}
	return nil
}

// ValidateConfigValues checks semantic constraints that a type-only koanf
// unmarshal cannot express — e.g. that a retry count is non-negative.
func ValidateConfigValues(cfg *Configuration, source string) error {
	if cfg.PipelineMaxRetries < 0 {
		return &ValidationError{FilePath: source, Field: "pipeline_phase_retries", Message: "must be non-negative"}
	}
	if cfg.QAMaxIterations < 1 {
		return &ValidationError{FilePath: source, Field: "qa_max_iterations", Message: "must be at least 1"}
	}
	if cfg.QAMinFixConfidence < 0 || cfg.QAMinFixConfidence > 1 {
		return &ValidationError{FilePath: source, Field: "qa_min_fix_confidence", Message: "must be between 0.0 and 1.0"}
	}
	if cfg.SessionMaxAgeHours < 1 {
		return &ValidationError{FilePath: source, Field: "session_max_age_hours", Message: "must be at least 1"}
	}
	return nil
}
