package phases

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/taskloop-dev/taskloop/internal/collab"
	"github.com/taskloop-dev/taskloop/internal/model"
	"github.com/taskloop-dev/taskloop/internal/pipeline"
)

// Candidate scoring weights.
const (
	weightFilenameMatch = 10.0
	weightContentMatch  = 2.0
	weightPreferredExt  = 5.0
	weightEntryPoint    = 8.0
	maxFamilyBonus      = 10.0
	testFileFactor      = 0.5
)

// ContextByteCap bounds the total content size of selected files.
const ContextByteCap = 500 * 1024

// DefaultMaxContextFiles bounds how many candidates are selected.
const DefaultMaxContextFiles = 20

// scoringConcurrency bounds parallel candidate content reads.
const scoringConcurrency = 8

var sourceExtensions = map[string]bool{
	".go": true, ".py": true, ".js": true, ".jsx": true, ".ts": true,
	".tsx": true, ".rb": true, ".rs": true, ".java": true, ".kt": true,
	".cs": true, ".php": true,
}

var entryPointNames = map[string]bool{
	"main.go": true, "main.py": true, "app.py": true, "manage.py": true,
	"index.js": true, "index.ts": true, "server.js": true, "server.ts": true,
	"main.rs": true, "application.java": true,
}

// keywordFamilies gives bonus weight to files matching well-known component,
// API, and data-layer vocabulary when the task mentions that family.
var keywordFamilies = map[string][]string{
	"component": {"component", "view", "widget", "page", "template"},
	"api":       {"api", "route", "handler", "endpoint", "controller", "middleware"},
	"db":        {"db", "database", "model", "schema", "repository", "migration", "query"},
}

var importPatterns = map[string]*regexp.Regexp{
	".go": regexp.MustCompile(`(?m)^\s*(?:import\s+)?(?:[\w.]+\s+)?"([^"]+)"`),
	".py": regexp.MustCompile(`(?m)^\s*(?:from\s+([\w.]+)\s+import|import\s+([\w.]+))`),
	".js": regexp.MustCompile(`(?m)(?:from\s+['"]([^'"]+)['"]|require\(\s*['"]([^'"]+)['"]\s*\))`),
}

func importPatternFor(ext string) *regexp.Regexp {
	switch ext {
	case ".go":
		return importPatterns[".go"]
	case ".py":
		return importPatterns[".py"]
	case ".js", ".jsx", ".ts", ".tsx":
		return importPatterns[".js"]
	default:
		return nil
	}
}

// ContextResolver ranks candidate source files against the task's keywords
// and assembles the context window: selected files, their import subgraph,
// related tests, and memory insights.
type ContextResolver struct {
	// Memory is the optional knowledge-graph provider; absence is tolerated.
	Memory collab.MemoryGraph
	// MaxFiles bounds the selection; 0 means DefaultMaxContextFiles.
	MaxFiles int
}

func (c *ContextResolver) Name() string     { return pipeline.PhaseContext }
func (c *ContextResolver) Artifact() string { return pipeline.ArtifactContext }

func (c *ContextResolver) Run(ctx context.Context, st *pipeline.State) error {
	keywords := c.keywords(st)
	candidates, err := c.scoreCandidates(ctx, st.RepoRoot, keywords)
	if err != nil {
		return err
	}

	maxFiles := c.MaxFiles
	if maxFiles <= 0 {
		maxFiles = DefaultMaxContextFiles
	}
	selected := selectCandidates(candidates, maxFiles, ContextByteCap)

	window := &model.ContextWindow{
		Keywords:     keywords,
		Files:        selected,
		Dependencies: map[string][]string{},
		RelatedTests: map[string]string{},
	}
	for _, cand := range selected {
		window.TotalBytes += cand.Bytes
		if imports := parseImports(filepath.Join(st.RepoRoot, cand.Path), filepath.Ext(cand.Path)); len(imports) > 0 {
			window.Dependencies[cand.Path] = imports
		}
		if test := findRelatedTest(st.RepoRoot, cand.Path); test != "" {
			window.RelatedTests[cand.Path] = test
		}
	}

	window.Insights = c.collectInsights(ctx, st.SpecDir, keywords)

	if err := writeArtifact(st.SpecDir, pipeline.ArtifactContext, window); err != nil {
		return err
	}
	st.Context = window
	return nil
}

func (c *ContextResolver) Load(st *pipeline.State) error {
	var window model.ContextWindow
	if err := readArtifact(st.SpecDir, pipeline.ArtifactContext, &window); err != nil {
		return err
	}
	st.Context = &window
	return nil
}

func (c *ContextResolver) keywords(st *pipeline.State) []string {
	if st.Requirements != nil && len(st.Requirements.Keywords) > 0 {
		return st.Requirements.Keywords
	}
	return ExtractKeywords(st.TaskDescription)
}

// scoreCandidates walks the repository and scores every source file
// concurrently. A file that cannot be read is dropped from the candidate
// set; the scan itself is never silently abandoned.
func (c *ContextResolver) scoreCandidates(ctx context.Context, root string, keywords []string) ([]model.CandidateFile, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if ignoredDirNames[name] || strings.HasPrefix(name, ".state") {
				return filepath.SkipDir
			}
			return nil
		}
		if sourceExtensions[filepath.Ext(name)] {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var mu sync.Mutex
	var candidates []model.CandidateFile

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(scoringConcurrency)
	for _, path := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			cand, ok := scoreFile(root, path, keywords)
			if !ok {
				return nil
			}
			mu.Lock()
			candidates = append(candidates, cand)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].Path < candidates[j].Path
	})
	return candidates, nil
}

func scoreFile(root, path string, keywords []string) (model.CandidateFile, bool) {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return model.CandidateFile{}, false
	}
	info, err := os.Stat(path)
	if err != nil {
		return model.CandidateFile{}, false
	}

	name := strings.ToLower(filepath.Base(path))
	isTest := isTestFile(name)

	score := weightPreferredExt
	for _, kw := range keywords {
		if strings.Contains(name, kw) {
			score += weightFilenameMatch
		}
	}
	if entryPointNames[name] {
		score += weightEntryPoint
	}

	// Content matches are capped by reading at most the first 64 KiB.
	content := readHead(path, 64*1024)
	lower := strings.ToLower(content)
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			score += weightContentMatch
		}
	}

	var familyBonus float64
	for _, words := range keywordFamilies {
		familyHit := false
		for _, w := range words {
			if containsKeyword(keywords, w) && (strings.Contains(name, w) || strings.Contains(lower, w)) {
				familyHit = true
				break
			}
		}
		if familyHit {
			familyBonus += 5
		}
	}
	if familyBonus > maxFamilyBonus {
		familyBonus = maxFamilyBonus
	}
	score += familyBonus

	if score <= weightPreferredExt {
		// Nothing beyond the extension matched; not a candidate.
		return model.CandidateFile{}, false
	}
	if isTest {
		score *= testFileFactor
	}
	return model.CandidateFile{Path: rel, Score: score, IsTest: isTest, Bytes: info.Size()}, true
}

func containsKeyword(keywords []string, w string) bool {
	for _, kw := range keywords {
		if kw == w {
			return true
		}
	}
	return false
}

// selectCandidates takes the top scored candidates, respecting both the
// file-count bound and the total byte cap.
func selectCandidates(candidates []model.CandidateFile, maxFiles int, byteCap int64) []model.CandidateFile {
	var selected []model.CandidateFile
	var total int64
	for _, cand := range candidates {
		if len(selected) == maxFiles {
			break
		}
		if total+cand.Bytes > byteCap {
			continue
		}
		selected = append(selected, cand)
		total += cand.Bytes
	}
	return selected
}

func isTestFile(name string) bool {
	return strings.HasSuffix(name, "_test.go") ||
		strings.HasPrefix(name, "test_") ||
		strings.Contains(name, ".test.") ||
		strings.Contains(name, ".spec.")
}

func readHead(path string, limit int64) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()
	buf := make([]byte, limit)
	n, _ := f.Read(buf)
	return string(buf[:n])
}

func parseImports(path, ext string) []string {
	pattern := importPatternFor(ext)
	if pattern == nil {
		return nil
	}
	content := readHead(path, 64*1024)
	var imports []string
	seen := map[string]bool{}
	for _, match := range pattern.FindAllStringSubmatch(content, -1) {
		for _, group := range match[1:] {
			if group != "" && !seen[group] {
				seen[group] = true
				imports = append(imports, group)
			}
		}
	}
	return imports
}

// findRelatedTest locates a test file for src using standard naming
// conventions per language.
func findRelatedTest(root, src string) string {
	dir := filepath.Dir(src)
	base := filepath.Base(src)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	var candidates []string
	switch ext {
	case ".go":
		candidates = []string{filepath.Join(dir, stem+"_test.go")}
	case ".py":
		candidates = []string{
			filepath.Join(dir, "test_"+base),
			filepath.Join(dir, "tests", "test_"+base),
			filepath.Join("tests", "test_"+base),
		}
	case ".js", ".jsx", ".ts", ".tsx":
		candidates = []string{
			filepath.Join(dir, stem+".test"+ext),
			filepath.Join(dir, stem+".spec"+ext),
			filepath.Join(dir, "__tests__", base),
		}
	}
	for _, cand := range candidates {
		if _, err := os.Stat(filepath.Join(root, cand)); err == nil {
			return cand
		}
	}
	return ""
}

// collectInsights reads the spec-scoped pattern and gotcha stores and,
// when a knowledge graph is wired in, enriches them with related insights.
func (c *ContextResolver) collectInsights(ctx context.Context, specDir string, keywords []string) []model.MemoryInsight {
	var insights []model.MemoryInsight
	insights = append(insights, readInsightFile(filepath.Join(specDir, "memory", "patterns.json"), "pattern")...)
	insights = append(insights, readInsightFile(filepath.Join(specDir, "memory", "gotchas.json"), "gotcha")...)

	if c.Memory != nil {
		if related, err := c.Memory.RelatedInsights(ctx, keywords); err == nil {
			insights = append(insights, related...)
		}
	}
	return insights
}

func readInsightFile(path, kind string) []model.MemoryInsight {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var insights []model.MemoryInsight
	if err := json.Unmarshal(data, &insights); err != nil {
		return nil
	}
	for i := range insights {
		if insights[i].Kind == "" {
			insights[i].Kind = kind
		}
	}
	return insights
}

// ignoredDirNames mirrors the discovery scanner's skip list for walks done
// by the context and impact phases.
var ignoredDirNames = map[string]bool{
	"node_modules": true, ".git": true, "__pycache__": true, ".venv": true,
	"venv": true, "dist": true, "build": true, "target": true,
	"coverage": true, ".next": true, ".cache": true, "vendor": true,
}
