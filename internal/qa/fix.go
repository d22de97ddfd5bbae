package qa

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/taskloop-dev/taskloop/internal/model"
)

// Confidence bases and scales for generated fixes.
const (
	confidenceBase     = 0.8
	confidenceRefactor = 0.5
	confidenceManual   = 0.3
	criticalScale      = 0.7
	highScale          = 0.8
)

// DefaultMinFixConfidence is the auto-apply threshold.
const DefaultMinFixConfidence = 0.7

// FixResult is the outcome of one fix pass.
type FixResult struct {
	Fixes      []model.Fix
	Applied    int
	NeedsHuman []model.Fix
}

// Fixer generates candidate fixes for review issues.
type Fixer interface {
	Fixes(ctx context.Context, worktreeDir string, issues []model.Issue) ([]model.Fix, error)
}

// HeuristicFixer derives a fix strategy from each issue's category and
// title. It never invents code: DELETE and REPLACE are the only line edits,
// performance issues are marked REFACTOR, and everything else is left for a
// human as a MANUAL fix.
type HeuristicFixer struct{}

// Fixes generates one candidate fix per issue.
func (f *HeuristicFixer) Fixes(_ context.Context, worktreeDir string, issues []model.Issue) ([]model.Fix, error) {
	fixes := make([]model.Fix, 0, len(issues))
	for _, issue := range issues {
		strategy := strategyFor(issue)
		fix := model.Fix{
			IssueTitle: issue.Title,
			Strategy:   strategy,
			File:       issue.File,
			Line:       issue.Line,
			Confidence: Confidence(issue.Severity, strategy),
		}
		if strategy == model.FixReplace {
			if original := readLine(filepath.Join(worktreeDir, issue.File), issue.Line); original != "" {
				fix.OriginalCode = original
			}
		}
		fixes = append(fixes, fix)
	}
	return fixes, nil
}

// strategyFor maps an issue to the edit strategy a machine can safely take.
func strategyFor(issue model.Issue) model.FixStrategy {
	switch {
	case strings.Contains(issue.Title, "Debug Statements"), strings.Contains(issue.Title, "Synchronous Sleep"):
		return model.FixDelete
	case issue.Category == model.CategoryStyle:
		return model.FixReplace
	case issue.Category == model.CategoryPerformance:
		return model.FixRefactor
	default:
		return model.FixManual
	}
}

// Confidence computes a fix's confidence from its strategy base scaled by
// the issue severity: critical issues scale by 0.7, high by 0.8.
func Confidence(severity model.Severity, strategy model.FixStrategy) float64 {
	base := confidenceBase
	switch strategy {
	case model.FixRefactor:
		base = confidenceRefactor
	case model.FixManual:
		base = confidenceManual
	}
	switch severity {
	case model.SevCritical:
		return base * criticalScale
	case model.SevHigh:
		return base * highScale
	default:
		return base
	}
}

// ApplyOptions controls which generated fixes are written to disk.
type ApplyOptions struct {
	AutoApply     bool
	MinConfidence float64
}

// Apply writes eligible fixes into the worktree. A fix is applied only
// when auto-apply is on, its strategy is not MANUAL or REFACTOR, and its
// confidence clears the threshold. INSERT requires non-empty fixed code;
// DELETE requires none.
func Apply(worktreeDir string, fixes []model.Fix, opts ApplyOptions) (*FixResult, error) {
	if opts.MinConfidence <= 0 {
		opts.MinConfidence = DefaultMinFixConfidence
	}

	result := &FixResult{}
	for i := range fixes {
		fix := &fixes[i]
		if !eligible(fix, opts) {
			result.NeedsHuman = append(result.NeedsHuman, *fix)
			continue
		}
		if err := applyOne(worktreeDir, fix); err != nil {
			result.NeedsHuman = append(result.NeedsHuman, *fix)
			continue
		}
		fix.Applied = true
		result.Applied++
	}
	result.Fixes = fixes
	return result, nil
}

func eligible(fix *model.Fix, opts ApplyOptions) bool {
	if !opts.AutoApply {
		return false
	}
	switch fix.Strategy {
	case model.FixManual, model.FixRefactor:
		return false
	case model.FixInsert, model.FixReplace:
		// DELETE needs no code; INSERT and REPLACE must bring some.
		if fix.FixedCode == "" {
			return false
		}
	}
	return fix.Confidence >= opts.MinConfidence
}

func applyOne(worktreeDir string, fix *model.Fix) error {
	path := filepath.Join(worktreeDir, fix.File)
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	lines := strings.Split(string(data), "\n")
	idx := fix.Line - 1
	if idx < 0 || idx >= len(lines) {
		return fmt.Errorf("fix for %s targets line %d of %d", fix.File, fix.Line, len(lines))
	}

	switch fix.Strategy {
	case model.FixReplace:
		// Preserve the original line's indentation.
		indent := lines[idx][:len(lines[idx])-len(strings.TrimLeft(lines[idx], " \t"))]
		lines[idx] = indent + strings.TrimLeft(fix.FixedCode, " \t")
	case model.FixInsert:
		lines = append(lines[:idx], append([]string{fix.FixedCode}, lines[idx:]...)...)
	case model.FixDelete:
		lines = append(lines[:idx], lines[idx+1:]...)
	default:
		return fmt.Errorf("strategy %s is never auto-applied", fix.Strategy)
	}

	return os.WriteFile(path, []byte(strings.Join(lines, "\n")), 0o644)
}

func readLine(path string, line int) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	lines := strings.Split(string(data), "\n")
	if line < 1 || line > len(lines) {
		return ""
	}
	return lines[line-1]
}
