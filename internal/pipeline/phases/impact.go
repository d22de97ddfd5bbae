package phases

import (
	"context"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/taskloop-dev/taskloop/internal/model"
	"github.com/taskloop-dev/taskloop/internal/pipeline"
)

// Severity thresholds on the summed impact score.
const (
	impactCritical = 10
	impactHigh     = 7
	impactMedium   = 4
	impactLow      = 1
)

// breakingChangePatterns groups the public-surface regexes by category.
// The families deliberately overlap with the complexity scorer's keyword
// vocabulary.
var breakingChangePatterns = map[string][]*regexp.Regexp{
	"api": {
		regexp.MustCompile(`(?m)^\s*def\s+\w+\s*\(`),
		regexp.MustCompile(`(?m)^\s*(?:export\s+)?(?:async\s+)?function\s+\w+\s*\(`),
		regexp.MustCompile(`(?m)^func\s+(?:\([^)]+\)\s+)?[A-Z]\w*\s*\(`),
		regexp.MustCompile(`@app\.route|@router\.|app\.(?:get|post|put|delete)\s*\(`),
	},
	"schema": {
		regexp.MustCompile(`(?i)CREATE\s+TABLE|ALTER\s+TABLE|DROP\s+(?:TABLE|COLUMN)`),
		regexp.MustCompile(`(?i)class\s+\w+\s*\(\s*(?:models\.Model|Base)\s*\)`),
		regexp.MustCompile(`(?i)add_column|remove_column|migration`),
	},
	"config": {
		regexp.MustCompile(`(?i)(?:config|settings)\.[A-Za-z_]+\s*=`),
		regexp.MustCompile(`(?i)os\.environ|process\.env|getenv`),
	},
}

var migrationHintRegexp = regexp.MustCompile(`(?i)migration|ALTER\s+TABLE|DROP\s+(?:TABLE|COLUMN)`)

// DependencyGraph is an arena of files: nodes are indexed integers with
// dependency and dependent adjacency lists, so the graph tolerates cycles
// without reference chasing.
type DependencyGraph struct {
	Nodes        []string
	indexByPath  map[string]int
	Dependencies [][]int
	Dependents   [][]int
}

// NewDependencyGraph builds the arena from a file→imports map. Imports are
// matched to known files by path stem, so `from app.db import x` connects
// to `app/db.py`.
func NewDependencyGraph(deps map[string][]string) *DependencyGraph {
	g := &DependencyGraph{indexByPath: map[string]int{}}

	paths := make([]string, 0, len(deps))
	for path := range deps {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	for _, path := range paths {
		g.addNode(path)
	}

	g.Dependencies = make([][]int, len(g.Nodes))
	g.Dependents = make([][]int, len(g.Nodes))
	for _, path := range paths {
		from := g.indexByPath[path]
		for _, imp := range deps[path] {
			to, ok := g.resolveImport(imp)
			if !ok || to == from {
				continue
			}
			g.Dependencies[from] = append(g.Dependencies[from], to)
			g.Dependents[to] = append(g.Dependents[to], from)
		}
	}
	return g
}

func (g *DependencyGraph) addNode(path string) int {
	if idx, ok := g.indexByPath[path]; ok {
		return idx
	}
	idx := len(g.Nodes)
	g.Nodes = append(g.Nodes, path)
	g.indexByPath[path] = idx
	return idx
}

// resolveImport maps an import string to a known node by comparing
// normalized stems, so `from app.db import x` connects to `app/db.py` and
// `./db` connects to `src/db.ts`. Nodes are scanned in index order, which
// is sorted, so ambiguous imports resolve deterministically.
func (g *DependencyGraph) resolveImport(imp string) (int, bool) {
	normalized := strings.NewReplacer(".", "/", "\\", "/").Replace(imp)
	normalized = strings.Trim(normalized, "/")
	if normalized == "" {
		return 0, false
	}
	base := filepath.Base(normalized)
	for idx, path := range g.Nodes {
		stem := strings.TrimSuffix(path, filepath.Ext(path))
		if stem == normalized ||
			strings.HasSuffix(stem, "/"+normalized) ||
			strings.HasSuffix(stem, "/"+base) || stem == base {
			return idx, true
		}
	}
	return 0, false
}

// TransitiveDependents returns every file reachable by walking dependent
// edges from the modify set, excluding the modify set itself, sorted.
func (g *DependencyGraph) TransitiveDependents(modifySet []string) []string {
	visited := make([]bool, len(g.Nodes))
	var queue []int
	inModify := map[int]bool{}
	for _, path := range modifySet {
		if idx, ok := g.indexByPath[path]; ok {
			visited[idx] = true
			inModify[idx] = true
			queue = append(queue, idx)
		}
	}

	var affected []string
	for len(queue) > 0 {
		idx := queue[0]
		queue = queue[1:]
		for _, dep := range g.Dependents[idx] {
			if visited[dep] {
				continue
			}
			visited[dep] = true
			affected = append(affected, g.Nodes[dep])
			queue = append(queue, dep)
		}
	}
	sort.Strings(affected)
	return affected
}

// Impact is the "God Mode" phase: it names the files, services, and public
// surfaces potentially broken by the planned change before any code is
// written.
type Impact struct{}

func (i *Impact) Name() string     { return pipeline.PhaseImpact }
func (i *Impact) Artifact() string { return pipeline.ArtifactImpact }

func (i *Impact) Run(ctx context.Context, st *pipeline.State) error {
	if st.Context == nil {
		loader := &ContextResolver{}
		if err := loader.Load(st); err != nil {
			return err
		}
	}

	analysis := Analyze(ctx, st.RepoRoot, st.Context, st.Index)
	if err := writeArtifact(st.SpecDir, pipeline.ArtifactImpact, analysis); err != nil {
		return err
	}
	st.Impact = analysis
	return nil
}

func (i *Impact) Load(st *pipeline.State) error {
	var analysis model.ImpactAnalysis
	if err := readArtifact(st.SpecDir, pipeline.ArtifactImpact, &analysis); err != nil {
		return err
	}
	st.Impact = &analysis
	return nil
}

// Analyze computes the impact analysis for the context window's modify set.
func Analyze(_ context.Context, repoRoot string, window *model.ContextWindow, idx *model.ProjectIndex) *model.ImpactAnalysis {
	modifySet := make([]string, 0, len(window.Files))
	for _, f := range window.Files {
		if !f.IsTest {
			modifySet = append(modifySet, f.Path)
		}
	}

	graph := NewDependencyGraph(window.Dependencies)
	affected := graph.TransitiveDependents(modifySet)

	analysis := &model.ImpactAnalysis{
		AffectedFiles:    affected,
		AffectedServices: mapToServices(append(append([]string{}, modifySet...), affected...), idx),
	}

	for _, path := range modifySet {
		content := readHead(filepath.Join(repoRoot, path), 64*1024)
		for category, patterns := range breakingChangePatterns {
			for _, pattern := range patterns {
				if loc := pattern.FindString(content); loc != "" {
					analysis.BreakingChanges = append(analysis.BreakingChanges, model.BreakingChange{
						File:        path,
						Category:    category,
						Description: strings.TrimSpace(loc),
					})
					break
				}
			}
		}
		if migrationHintRegexp.MatchString(content) {
			analysis.RequiresMigrationPlan = true
		}
		if window.RelatedTests[path] == "" {
			analysis.TestCoverageGaps = append(analysis.TestCoverageGaps, path)
		}
	}

	sort.Slice(analysis.BreakingChanges, func(a, b int) bool {
		if analysis.BreakingChanges[a].File != analysis.BreakingChanges[b].File {
			return analysis.BreakingChanges[a].File < analysis.BreakingChanges[b].File
		}
		return analysis.BreakingChanges[a].Category < analysis.BreakingChanges[b].Category
	})

	analysis.SeverityScore = scoreImpact(analysis)
	analysis.Severity = severityForScore(analysis.SeverityScore)
	return analysis
}

func mapToServices(files []string, idx *model.ProjectIndex) []string {
	if idx == nil {
		return nil
	}
	seen := map[string]bool{}
	var services []string
	for _, file := range files {
		for _, svc := range idx.Services {
			if strings.HasPrefix(file, svc+"/") && !seen[svc] {
				seen[svc] = true
				services = append(services, svc)
			}
		}
	}
	sort.Strings(services)
	return services
}

// scoreImpact sums per-component bins. Every bin is monotone in its input,
// so adding an affected file or a breaking change never lowers the score.
func scoreImpact(a *model.ImpactAnalysis) int {
	score := 0

	switch n := len(a.AffectedFiles); {
	case n > 10:
		score += 3
	case n > 3:
		score += 2
	case n > 0:
		score += 1
	}

	switch n := len(a.AffectedServices); {
	case n > 2:
		score += 3
	case n > 1:
		score += 2
	case n > 0:
		score += 1
	}

	switch n := len(a.BreakingChanges); {
	case n > 3:
		score += 3
	case n > 0:
		score += 2
	}
	if a.RequiresMigrationPlan {
		score += 2
	}

	switch n := len(a.TestCoverageGaps); {
	case n > 5:
		score += 2
	case n > 0:
		score += 1
	}

	// Rollback complexity: schema changes are the hardest to unwind.
	for _, bc := range a.BreakingChanges {
		if bc.Category == "schema" {
			score += 2
			break
		}
	}
	return score
}

func severityForScore(score int) model.ImpactSeverity {
	switch {
	case score >= impactCritical:
		return model.SeverityCritical
	case score >= impactHigh:
		return model.SeverityHigh
	case score >= impactMedium:
		return model.SeverityMedium
	case score >= impactLow:
		return model.SeverityLow
	default:
		return model.SeverityNone
	}
}
