// Package errors provides structured error handling for the taskloop engine.
// It includes categorized errors with actionable remediation guidance, plus
// the Warning/Recoverable/Fatal severity model the core subsystems use to
// decide whether to retry, halt, or merely record a problem.
package errors

import "fmt"

// ErrorCategory represents the type of error that occurred.
type ErrorCategory int

const (
	// Argument errors are caused by invalid or missing command arguments.
	Argument ErrorCategory = iota
	// Configuration errors are caused by invalid or missing configuration.
	Configuration
	// Prerequisite errors occur when required files or dependencies are missing.
	Prerequisite
	// Runtime errors occur during command execution.
	Runtime
	// Engine errors originate inside a core subsystem (pipeline, QA loop,
	// worktree manager, session orchestrator) rather than the CLI shell.
	Engine
)

// String returns a human-readable name for the error category.
func (c ErrorCategory) String() string {
	switch c {
	case Argument:
		return "Argument Error"
	case Configuration:
		return "Configuration Error"
	case Prerequisite:
		return "Prerequisite Error"
	case Runtime:
		return "Runtime Error"
	case Engine:
		return "Engine Error"
	default:
		return "Error"
	}
}

// Severity classifies how a caller must react to an error, per the engine's
// error-handling design: Warning never stops anything, Recoverable triggers
// retry-with-backoff where policy permits, Fatal stops the current operation
// and (if it is a session lifecycle call) transitions the Session to failed.
type Severity int

const (
	Warning Severity = iota
	Recoverable
	Fatal
)

// String returns a human-readable name for the severity.
func (s Severity) String() string {
	switch s {
	case Warning:
		return "warning"
	case Recoverable:
		return "recoverable"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// CLIError is a structured error with category and remediation guidance.
type CLIError struct {
	// Category is the type of error (Argument, Configuration, Engine, etc.)
	Category ErrorCategory
	// Severity classifies how the caller should react. Zero value (Warning)
	// is appropriate for CLI-surface errors that do not participate in the
	// engine's retry/escalation machinery.
	Severity Severity
	// Message is a human-readable description of what went wrong.
	Message string
	// Remediation is a list of actionable steps to resolve the error.
	Remediation []string
	// Usage shows the correct command syntax (optional, for argument errors).
	Usage string
}

// Error implements the error interface.
func (e *CLIError) Error() string {
	return e.Message
}

// NewArgumentError creates a new argument error with the given message and remediation steps.
func NewArgumentError(message string, remediation ...string) *CLIError {
	return &CLIError{
		Category:    Argument,
		Message:     message,
		Remediation: remediation,
	}
}

// NewArgumentErrorWithUsage creates a new argument error that includes correct usage syntax.
func NewArgumentErrorWithUsage(message, usage string, remediation ...string) *CLIError {
	return &CLIError{
		Category:    Argument,
		Message:     message,
		Usage:       usage,
		Remediation: remediation,
	}
}

// NewConfigError creates a new configuration error.
func NewConfigError(message string, remediation ...string) *CLIError {
	return &CLIError{
		Category:    Configuration,
		Message:     message,
		Remediation: remediation,
	}
}

// NewPrerequisiteError creates a new prerequisite error.
func NewPrerequisiteError(message string, remediation ...string) *CLIError {
	return &CLIError{
		Category:    Prerequisite,
		Message:     message,
		Remediation: remediation,
	}
}

// NewRuntimeError creates a new runtime error.
func NewRuntimeError(message string, remediation ...string) *CLIError {
	return &CLIError{
		Category:    Runtime,
		Message:     message,
		Remediation: remediation,
	}
}

// NewEngineError creates a categorized error at the given severity, for use
// by the core subsystems (session, pipeline, qa, worktree).
func NewEngineError(severity Severity, message string, remediation ...string) *CLIError {
	return &CLIError{
		Category:    Engine,
		Severity:    severity,
		Message:     message,
		Remediation: remediation,
	}
}

// Wrap wraps an existing error with a CLIError, preserving the original message.
func Wrap(err error, category ErrorCategory, remediation ...string) *CLIError {
	if err == nil {
		return nil
	}
	return &CLIError{
		Category:    category,
		Message:     err.Error(),
		Remediation: remediation,
	}
}

// WrapWithMessage wraps an error with a custom message and category.
func WrapWithMessage(err error, category ErrorCategory, message string, remediation ...string) *CLIError {
	if err == nil {
		return nil
	}
	return &CLIError{
		Category:    category,
		Message:     fmt.Sprintf("%s: %v", message, err),
		Remediation: remediation,
	}
}

// WrapSevere wraps an error as an Engine error at the given severity.
func WrapSevere(err error, severity Severity, message string, remediation ...string) *CLIError {
	if err == nil {
		return nil
	}
	return &CLIError{
		Category:    Engine,
		Severity:    severity,
		Message:     fmt.Sprintf("%s: %v", message, err),
		Remediation: remediation,
	}
}

// IsCLIError checks if an error is a CLIError.
func IsCLIError(err error) bool {
	_, ok := err.(*CLIError)
	return ok
}

// AsCLIError attempts to convert an error to a CLIError.
// Returns nil if the error is not a CLIError.
func AsCLIError(err error) *CLIError {
	cliErr, ok := err.(*CLIError)
	if ok {
		return cliErr
	}
	return nil
}

// IsFatal reports whether err is a CLIError whose severity is Fatal. A
// non-CLIError is treated as Fatal by default — an error surfacing from
// outside the categorized system is never silently downgraded.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if c := AsCLIError(err); c != nil {
		return c.Severity == Fatal
	}
	return true
}

// IsRecoverable reports whether err is a CLIError explicitly marked Recoverable.
func IsRecoverable(err error) bool {
	c := AsCLIError(err)
	return c != nil && c.Severity == Recoverable
}
