// Package output provides terminal output formatting utilities for the
// taskloop CLI: colorized diagnostics, phase headers, and spinners for
// long-running engine operations (worktree creation, test execution).
// Kept dependency-light to avoid import cycles with the core packages.
package output

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"golang.org/x/term"
)

// TerminalCapabilities describes what the current stdout can render.
type TerminalCapabilities struct {
	IsTTY           bool
	SupportsColor   bool
	SupportsUnicode bool
	Width           int
}

// ProgressSymbols is the symbol set selected for the current terminal.
type ProgressSymbols struct {
	Checkmark  string
	Failure    string
	SpinnerSet int
}

// DetectTerminalCapabilities detects terminal features and returns capabilities.
// Checks: stdout isatty, NO_COLOR env, TASKLOOP_ASCII env, terminal width.
func DetectTerminalCapabilities() TerminalCapabilities {
	isTTY := term.IsTerminal(int(os.Stdout.Fd()))
	noColor := os.Getenv("NO_COLOR") != ""
	forceASCII := os.Getenv("TASKLOOP_ASCII") == "1"

	width := 0
	if isTTY {
		if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil {
			width = w
		}
	}

	return TerminalCapabilities{
		IsTTY:           isTTY,
		SupportsColor:   isTTY && !noColor,
		SupportsUnicode: isTTY && !forceASCII,
		Width:           width,
	}
}

// SelectSymbols returns the appropriate symbol set based on terminal capabilities.
func SelectSymbols(caps TerminalCapabilities) ProgressSymbols {
	if caps.SupportsUnicode {
		return ProgressSymbols{Checkmark: "✓", Failure: "✗", SpinnerSet: 14}
	}
	return ProgressSymbols{Checkmark: "[OK]", Failure: "[FAIL]", SpinnerSet: 9}
}

// GetTerminalWidth returns the terminal width, defaulting to 80 if unavailable.
func GetTerminalWidth() int {
	if width, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && width > 0 {
		return width
	}
	return 80
}

// PrintPhaseEnd prints a colored separator after a phase's streamed output ends.
func PrintPhaseEnd(out io.Writer) {
	termWidth := GetTerminalWidth()
	magenta := color.New(color.FgMagenta, color.Faint).SprintFunc()

	label := " taskloop "
	lineLen := (termWidth - len(label)) / 2
	if lineLen < 3 {
		lineLen = 3
	}

	line := strings.Repeat("─", lineLen)
	fmt.Fprintf(out, "\n%s%s%s\n", magenta(line), magenta(label), magenta(line))
}

// PrintPhaseHeader prints a colored header for a pipeline or QA phase
// (e.g. "[Phase 3/7] Context Resolution...").
func PrintPhaseHeader(out io.Writer, index, total int, name string) {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	white := color.New(color.FgWhite, color.Bold).SprintFunc()
	fmt.Fprintf(out, "%s %s\n", cyan(fmt.Sprintf("[Phase %d/%d]", index, total)), white(name+"..."))
}

// PrintSuccess prints a colored success line for a completed artifact.
func PrintSuccess(out io.Writer, message string) {
	green := color.New(color.FgGreen, color.Bold).SprintFunc()
	cyan := color.New(color.FgCyan).SprintFunc()
	fmt.Fprintf(out, "%s %s\n\n", green("✓"), cyan(message))
}

// PrintExecuting prints the command or operation being executed.
func PrintExecuting(out io.Writer, what string) {
	magenta := color.New(color.FgMagenta).SprintFunc()
	dim := color.New(color.Faint).SprintFunc()
	fmt.Fprintf(out, "\n%s %s\n\n", magenta("→ Executing:"), dim(what))
}

// Spinner wraps briandowns/spinner with a nil-safe no-op mode so callers in
// non-interactive contexts (tests, piped output) never need a nil check.
type Spinner struct {
	inner *spinner.Spinner
}

// NewSpinner returns a spinner bound to the given suffix message, or a no-op
// spinner when the terminal does not support one.
func NewSpinner(caps TerminalCapabilities, suffix string) *Spinner {
	if !caps.IsTTY {
		return &Spinner{}
	}
	sym := SelectSymbols(caps)
	s := spinner.New(spinner.CharSets[sym.SpinnerSet], 100*time.Millisecond)
	s.Suffix = " " + suffix
	return &Spinner{inner: s}
}

// Start begins the spinner animation, if active.
func (s *Spinner) Start() {
	if s.inner != nil {
		s.inner.Start()
	}
}

// Stop halts the spinner animation, if active.
func (s *Spinner) Stop() {
	if s.inner != nil {
		s.inner.Stop()
	}
}
