package errors

import "fmt"

// Common error messages for the taskloop engine and CLI.
// These templates ensure consistent, actionable error messages.

// MissingTaskDescription creates an error for a missing task description argument.
func MissingTaskDescription() *CLIError {
	return NewArgumentErrorWithUsage(
		"task description is required",
		"taskloop session start \"<task description>\"",
		"Provide a task description in quotes",
		"Example: taskloop session start \"Add user authentication\"",
	)
}

// SessionNotFound creates an error when a session UUID does not resolve to a record.
func SessionNotFound(sessionID string) *CLIError {
	return NewPrerequisiteError(
		fmt.Sprintf("session not found: %s", sessionID),
		"List active sessions with: taskloop session list",
		"Check that the session UUID was copied correctly",
	)
}

// SessionTerminal creates an error when a mutating operation targets a terminal session.
func SessionTerminal(sessionID, state string) *CLIError {
	return NewEngineError(Fatal,
		fmt.Sprintf("session %s is in terminal state %q and cannot be mutated", sessionID, state),
		"Start a new session for further work",
	)
}

// SpecNotFound creates an error when a spec directory does not exist under .state/specs.
func SpecNotFound(specDir string) *CLIError {
	return NewPrerequisiteError(
		fmt.Sprintf("spec not found: %s", specDir),
		"Run the Discovery phase first to create the spec directory",
	)
}

// WorktreeNamespaceConflict creates an error when a plain branch shadows the worktree prefix.
func WorktreeNamespaceConflict(prefix, specSlug string) *CLIError {
	return NewEngineError(Fatal,
		fmt.Sprintf("branch %q conflicts with worktree namespace prefix needed for %q", prefix, specSlug),
		fmt.Sprintf("Rename the conflicting branch: git branch -m %s %s-legacy", prefix, prefix),
	)
}

// MergeConflict creates an error describing an aborted merge.
func MergeConflict(branch string, files []string) *CLIError {
	return NewEngineError(Fatal,
		fmt.Sprintf("merge of branch %q produced conflicts in %d file(s); merge aborted", branch, len(files)),
		"Resolve the conflicts manually and re-run merge_worktree",
	)
}

// ConfigFileNotFound creates an error for missing config file.
func ConfigFileNotFound(path string) *CLIError {
	return NewConfigError(
		fmt.Sprintf("config file not found: %s", path),
		"Run 'taskloop config init' to create default configuration",
		"Or create the file manually with required settings",
	)
}

// ConfigParseError creates an error for invalid config file format.
func ConfigParseError(path string, err error) *CLIError {
	return WrapWithMessage(err, Configuration,
		fmt.Sprintf("failed to parse config file: %s", path),
		"Check the file for syntax errors",
		"Reset to defaults by moving the file aside and running: taskloop config init",
	)
}

// InvalidFlagCombination creates an error for incompatible flag combinations.
func InvalidFlagCombination(flags string, reason string) *CLIError {
	return NewArgumentError(
		fmt.Sprintf("invalid flag combination: %s", flags),
		reason,
		"Use 'taskloop <command> --help' to see valid options",
	)
}

// SubprocessTimeout creates a recoverable error when a bounded subprocess exceeds its ceiling.
func SubprocessTimeout(duration string, command string) *CLIError {
	return NewEngineError(Recoverable,
		fmt.Sprintf("command timed out after %s: %s", duration, command),
	)
}

// DirectoryNotFound creates an error for missing directory.
func DirectoryNotFound(path string) *CLIError {
	return NewPrerequisiteError(
		fmt.Sprintf("directory not found: %s", path),
		"Create the directory with: mkdir -p "+path,
	)
}

// EncryptedTokenRejected creates an error when an auth token provider yields an
// obviously-encrypted blob the engine cannot decode. The engine never
// attempts decryption; it rejects the token outright.
func EncryptedTokenRejected(source string) *CLIError {
	return NewPrerequisiteError(
		fmt.Sprintf("token from %s appears encrypted and cannot be used directly", source),
		"Re-authenticate so a plaintext bearer token is available",
		"Check the credential store documentation for your platform",
	)
}

// GitNotRepository creates an error when not in a git repository.
func GitNotRepository() *CLIError {
	return NewPrerequisiteError(
		"not a git repository",
		"Initialize with: git init",
		"Or navigate to an existing repository",
	)
}
