package qa

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/renameio/v2"

	"github.com/taskloop-dev/taskloop/internal/model"
)

// User-visible failure surfaces inside a spec directory.
const (
	FixRequestFileName = "QA_FIX_REQUEST.md"
	EscalationFileName = "QA_ESCALATION.md"
)

// escalationHistoryLimit bounds how many recent iterations the escalation
// report includes.
const escalationHistoryLimit = 10

// WriteFixRequest renders the fixes needing human attention into a
// readable document in the spec directory.
func WriteFixRequest(specDir string, fixes []model.Fix) error {
	var sb strings.Builder
	sb.WriteString("# QA Fix Request\n\n")
	fmt.Fprintf(&sb, "Generated: %s\n\n", time.Now().UTC().Format(time.RFC3339))
	sb.WriteString("The QA loop could not safely auto-apply the fixes below. Please resolve them\nand rerun QA.\n\n")

	for _, fix := range fixes {
		fmt.Fprintf(&sb, "## %s\n\n", fix.IssueTitle)
		fmt.Fprintf(&sb, "- File: `%s:%d`\n", fix.File, fix.Line)
		fmt.Fprintf(&sb, "- Suggested strategy: %s\n", fix.Strategy)
		fmt.Fprintf(&sb, "- Confidence: %.2f\n", fix.Confidence)
		if fix.OriginalCode != "" {
			fmt.Fprintf(&sb, "\n```\n%s\n```\n", fix.OriginalCode)
		}
		sb.WriteString("\n")
	}

	if err := os.MkdirAll(specDir, 0o755); err != nil {
		return fmt.Errorf("creating spec dir: %w", err)
	}
	return renameio.WriteFile(filepath.Join(specDir, FixRequestFileName), []byte(sb.String()), 0o644)
}

// ConsumeFixRequest detects and clears a pending fix-request document,
// reporting whether one was present. This is the loop's human-feedback
// hook: a cleared document means a person has intervened since the last
// iteration.
func ConsumeFixRequest(specDir string) (bool, error) {
	path := filepath.Join(specDir, FixRequestFileName)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if err := os.Remove(path); err != nil {
		return false, fmt.Errorf("clearing fix request: %w", err)
	}
	return true, nil
}

// WriteEscalation renders the terminal give-up report: the recurring
// issues and the last iterations of history.
func WriteEscalation(specDir string, recurring []string, iterations []model.IterationRecord, reason string) error {
	var sb strings.Builder
	sb.WriteString("# QA Escalation\n\n")
	fmt.Fprintf(&sb, "Generated: %s\n\n", time.Now().UTC().Format(time.RFC3339))
	fmt.Fprintf(&sb, "The QA loop could not converge: %s\n\n", reason)

	if len(recurring) > 0 {
		sb.WriteString("## Recurring Issues\n\n")
		for _, title := range recurring {
			fmt.Fprintf(&sb, "- %s\n", title)
		}
		sb.WriteString("\n")
	}

	start := 0
	if len(iterations) > escalationHistoryLimit {
		start = len(iterations) - escalationHistoryLimit
	}
	sb.WriteString("## Recent Iterations\n\n")
	for _, rec := range iterations[start:] {
		fmt.Fprintf(&sb, "### Iteration %d (%s)\n\n", rec.Iteration, rec.Verdict)
		for _, issue := range rec.Issues {
			fmt.Fprintf(&sb, "- [%s] %s (`%s:%d`)\n", issue.Severity, issue.Title, issue.File, issue.Line)
		}
		sb.WriteString("\n")
	}

	if err := os.MkdirAll(specDir, 0o755); err != nil {
		return fmt.Errorf("creating spec dir: %w", err)
	}
	return renameio.WriteFile(filepath.Join(specDir, EscalationFileName), []byte(sb.String()), 0o644)
}

// recurringTitles returns issue titles appearing in at least threshold
// distinct iterations, sorted by title.
func recurringTitles(iterations []model.IterationRecord, threshold int) []string {
	counts := map[string]int{}
	for _, rec := range iterations {
		seen := map[string]bool{}
		for _, issue := range rec.Issues {
			if !seen[issue.Title] {
				seen[issue.Title] = true
				counts[issue.Title]++
			}
		}
	}
	var recurring []string
	for title, n := range counts {
		if n >= threshold {
			recurring = append(recurring, title)
		}
	}
	sort.Strings(recurring)
	return recurring
}
