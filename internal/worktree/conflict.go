package worktree

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ConflictContext carries everything needed to escalate an aborted merge to
// a human: which file, which markers, and which branches were involved.
type ConflictContext struct {
	FilePath     string
	ConflictDiff string
	SpecSlug     string
	SourceBranch string
	TargetBranch string
}

// BuildConflictContexts reads each conflicted file under repoRoot and
// extracts its conflict markers for escalation.
func BuildConflictContexts(repoRoot, specSlug, sourceBranch, targetBranch string, conflictedFiles []string) ([]ConflictContext, error) {
	contexts := make([]ConflictContext, 0, len(conflictedFiles))
	for _, rel := range conflictedFiles {
		diff, err := extractConflictMarkers(filepath.Join(repoRoot, rel))
		if err != nil {
			return nil, fmt.Errorf("extracting conflict markers from %s: %w", rel, err)
		}
		contexts = append(contexts, ConflictContext{
			FilePath:     rel,
			ConflictDiff: diff,
			SpecSlug:     specSlug,
			SourceBranch: sourceBranch,
			TargetBranch: targetBranch,
		})
	}
	return contexts, nil
}

func extractConflictMarkers(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening file: %w", err)
	}
	defer f.Close()
	return parseConflictMarkers(f)
}

func parseConflictMarkers(r io.Reader) (string, error) {
	var out strings.Builder
	scanner := bufio.NewScanner(r)
	inConflict := false
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := scanner.Text()

		if strings.HasPrefix(line, "<<<<<<<") {
			inConflict = true
			if out.Len() > 0 {
				out.WriteString("\n---\n\n")
			}
			fmt.Fprintf(&out, "Line %d:\n", lineNum)
		}
		if inConflict {
			out.WriteString(line)
			out.WriteString("\n")
		}
		if strings.HasPrefix(line, ">>>>>>>") {
			inConflict = false
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("scanning file: %w", err)
	}
	return out.String(), nil
}

// FormatForEscalation renders conflict contexts as a copy-pastable block for
// manual resolution.
func FormatForEscalation(contexts []ConflictContext) string {
	var sb strings.Builder
	sb.WriteString(strings.Repeat("=", 80) + "\n")
	sb.WriteString("MERGE CONFLICT - Manual Resolution Required\n")
	sb.WriteString(strings.Repeat("=", 80) + "\n")

	for i, c := range contexts {
		if i > 0 {
			sb.WriteString("\n" + strings.Repeat("-", 80) + "\n\n")
		}
		fmt.Fprintf(&sb, "## File: %s\n\n", c.FilePath)
		fmt.Fprintf(&sb, "- Spec: %s\n", c.SpecSlug)
		fmt.Fprintf(&sb, "- Source branch: %s (being merged)\n", c.SourceBranch)
		fmt.Fprintf(&sb, "- Target branch: %s (merge destination)\n\n", c.TargetBranch)
		sb.WriteString("### Conflict markers\n```\n")
		sb.WriteString(c.ConflictDiff)
		sb.WriteString("```\n")
	}

	sb.WriteString("\n" + strings.Repeat("=", 80) + "\n")
	return sb.String()
}
