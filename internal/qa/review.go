package qa

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/taskloop-dev/taskloop/internal/collab"
	"github.com/taskloop-dev/taskloop/internal/model"
)

// maxHighIssuesForApproval is the exclusive bound on high-severity issues
// in an approved review.
const maxHighIssuesForApproval = 3

// reviewIgnoredDirs are skipped when gathering or scanning changed files.
var reviewIgnoredDirs = map[string]bool{
	"node_modules": true, ".git": true, "__pycache__": true, ".venv": true,
	"venv": true, "dist": true, "build": true, "target": true, "vendor": true,
}

// ReviewRequest is one review pass's input.
type ReviewRequest struct {
	// WorktreeDir is the checkout under review.
	WorktreeDir string
	// ChangedFiles, when set, is the exact file set to review; otherwise
	// the reviewer computes it from the worktree.
	ChangedFiles []string
	// SpecDir, when set, enables spec-alignment comparison.
	SpecDir string
}

// ReviewResult is one review pass's verdict and evidence.
type ReviewResult struct {
	Issues      []model.Issue
	TestsPassed map[string]model.TestTally
	TestsOK     bool
	Approved    bool
}

// Reviewer produces a ReviewResult for a change set.
type Reviewer interface {
	Review(ctx context.Context, req ReviewRequest) (*ReviewResult, error)
}

// ChangedFilesFunc computes the changed file set for a worktree.
type ChangedFilesFunc func(ctx context.Context, worktreeDir string) ([]string, error)

// StaticReviewer runs the check registry over changed files, compares them
// against the spec's mentioned paths, folds in impact analysis when an
// analyzer is wired, and executes the project's tests.
type StaticReviewer struct {
	Checks       []Check
	Tests        TestRunner
	Impact       collab.ImpactAnalyzer // optional
	ChangedFiles ChangedFilesFunc      // optional; defaults to a full worktree walk
}

// Review runs all enabled checks on every matching changed file, then the
// test suite. The verdict is approved iff there are no critical issues,
// fewer than three high-severity issues, and all tests pass.
func (r *StaticReviewer) Review(ctx context.Context, req ReviewRequest) (*ReviewResult, error) {
	files := req.ChangedFiles
	if len(files) == 0 {
		var err error
		files, err = r.gatherFiles(ctx, req.WorktreeDir)
		if err != nil {
			return nil, err
		}
	}

	result := &ReviewResult{TestsPassed: map[string]model.TestTally{}}

	for _, rel := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		issues, err := r.scanFile(req.WorktreeDir, rel)
		if err != nil {
			// A single unreadable file is dropped; the review itself goes on.
			continue
		}
		result.Issues = append(result.Issues, issues...)
	}

	if req.SpecDir != "" {
		result.Issues = append(result.Issues, specAlignmentIssues(req.SpecDir, files)...)
	}

	if r.Impact != nil {
		analysis, err := r.Impact.Analyze(ctx, req.SpecDir, files)
		if err == nil && analysis != nil {
			for _, bc := range analysis.BreakingChanges {
				result.Issues = append(result.Issues, model.Issue{
					Title:    "Breaking Change: " + bc.Category,
					Category: model.CategoryBreakingChange,
					Severity: model.SevHigh,
					File:     bc.File,
					Detail:   bc.Description,
				})
			}
		}
	}

	if r.Tests != nil {
		testResult, err := r.Tests.Run(ctx, req.WorktreeDir)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			result.TestsOK = false
			if testResult != nil {
				result.TestsPassed["unit"] = model.TestTally{Passed: testResult.Passed, Total: testResult.Total}
			}
		} else {
			result.TestsOK = testResult.AllPassed
			result.TestsPassed["unit"] = model.TestTally{Passed: testResult.Passed, Total: testResult.Total}
		}
	} else {
		result.TestsOK = true
	}

	result.Approved = verdict(result.Issues, result.TestsOK)
	return result, nil
}

func verdict(issues []model.Issue, testsOK bool) bool {
	if !testsOK {
		return false
	}
	high := 0
	for _, issue := range issues {
		switch issue.Severity {
		case model.SevCritical:
			return false
		case model.SevHigh:
			high++
		}
	}
	return high < maxHighIssuesForApproval
}

// gatherFiles walks the worktree for reviewable source files, skipping
// ignored directories.
func (r *StaticReviewer) gatherFiles(ctx context.Context, worktreeDir string) ([]string, error) {
	if r.ChangedFiles != nil {
		return r.ChangedFiles(ctx, worktreeDir)
	}
	var files []string
	err := filepath.WalkDir(worktreeDir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if reviewIgnoredDirs[d.Name()] || strings.HasPrefix(d.Name(), ".state") {
				return filepath.SkipDir
			}
			return nil
		}
		switch filepath.Ext(d.Name()) {
		case ".go", ".py", ".js", ".jsx", ".ts", ".tsx", ".rb", ".rs", ".java":
			rel, relErr := filepath.Rel(worktreeDir, path)
			if relErr == nil {
				files = append(files, rel)
			}
		}
		return nil
	})
	return files, err
}

func (r *StaticReviewer) scanFile(worktreeDir, rel string) ([]model.Issue, error) {
	f, err := os.Open(filepath.Join(worktreeDir, rel))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var applicable []*Check
	for i := range r.Checks {
		c := &r.Checks[i]
		if c.IsEnabled() && c.compiled != nil && c.Matches(rel) {
			applicable = append(applicable, c)
		}
	}
	if len(applicable) == 0 {
		return nil, nil
	}

	var issues []model.Issue
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		for _, c := range applicable {
			if c.compiled.MatchString(line) {
				issues = append(issues, model.Issue{
					Title:    c.Name,
					Category: c.Category,
					Severity: c.Severity,
					File:     rel,
					Line:     lineNum,
					Detail:   c.Description,
				})
			}
		}
	}
	return issues, scanner.Err()
}

var specFilePathRegexp = regexp.MustCompile("`([\\w./-]+\\.[\\w]+)`")

// specAlignmentIssues diffs the spec's mentioned file paths against the
// changed set: a file the spec names but the change never touches becomes
// an informational finding.
func specAlignmentIssues(specDir string, changedFiles []string) []model.Issue {
	data, err := os.ReadFile(filepath.Join(specDir, "spec.md"))
	if err != nil {
		return nil
	}

	changed := make(map[string]bool, len(changedFiles))
	for _, f := range changedFiles {
		changed[filepath.ToSlash(f)] = true
	}

	seen := map[string]bool{}
	var issues []model.Issue
	for _, m := range specFilePathRegexp.FindAllStringSubmatch(string(data), -1) {
		path := m[1]
		if seen[path] || changed[path] {
			continue
		}
		seen[path] = true
		issues = append(issues, model.Issue{
			Title:    "Spec Mentions Unchanged File",
			Category: model.CategorySpecAlignment,
			Severity: model.SevInfo,
			File:     path,
			Detail:   "the spec references this file but the change set does not touch it",
		})
	}
	return issues
}
