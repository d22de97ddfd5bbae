// Package discovery implements the pipeline's Discovery phase: it scans a
// repository into a ProjectIndex describing its shape (monorepo, single
// service, or library), languages, frameworks, services, and manifest
// dependencies, and caches the result both in memory and on disk.
package discovery

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	ignore "github.com/sabhiram/go-gitignore"

	"github.com/taskloop-dev/taskloop/internal/model"
)

// ignoredDirs are never descended into, regardless of gitignore content.
var ignoredDirs = map[string]bool{
	"node_modules": true,
	".git":         true,
	"__pycache__":  true,
	".venv":        true,
	"venv":         true,
	"dist":         true,
	"build":        true,
	"target":       true,
	"coverage":     true,
	".next":        true,
	".cache":       true,
	"vendor":       true,
	".idea":        true,
	".vscode":      true,
}

// serviceRoots are the directories whose immediate children count as
// services in a monorepo layout.
var serviceRoots = []string{"packages", "apps", "services", "libs"}

// languageExtensions maps file extensions to language names.
var languageExtensions = map[string]string{
	".go":   "go",
	".py":   "python",
	".js":   "javascript",
	".jsx":  "javascript",
	".ts":   "typescript",
	".tsx":  "typescript",
	".rb":   "ruby",
	".rs":   "rust",
	".java": "java",
	".kt":   "kotlin",
	".cs":   "csharp",
	".php":  "php",
}

// manifestFrameworks maps manifest file names to the framework family they
// imply by mere presence.
var manifestFrameworks = map[string]string{
	"go.mod":             "go-modules",
	"Cargo.toml":         "cargo",
	"pom.xml":            "maven",
	"build.gradle":       "gradle",
	"Gemfile":            "bundler",
	"pyproject.toml":     "python-project",
	"requirements.txt":   "pip",
	"manage.py":          "django",
	"next.config.js":     "nextjs",
	"vite.config.ts":     "vite",
	"vite.config.js":     "vite",
	"docker-compose.yml": "docker-compose",
	"Dockerfile":         "docker",
}

// packageJSONFrameworks maps package.json dependency names to frameworks.
var packageJSONFrameworks = map[string]string{
	"react":   "react",
	"vue":     "vue",
	"express": "express",
	"next":    "nextjs",
	"jest":    "jest",
	"vitest":  "vitest",
}

// Scanner walks a repository and produces a ProjectIndex.
type Scanner struct {
	// MaxDepth bounds directory recursion; 0 means the default of 8.
	MaxDepth int
}

// Scan walks root and builds the index. Individual unreadable files are
// skipped (candidate discovery is best-effort) but a failure to read the
// root itself is an error. Cancellation is honored between directories.
func (s *Scanner) Scan(ctx context.Context, root string) (*model.ProjectIndex, error) {
	maxDepth := s.MaxDepth
	if maxDepth <= 0 {
		maxDepth = 8
	}

	matcher := loadGitignore(root)

	idx := &model.ProjectIndex{
		Dependencies: map[string]string{},
		GeneratedAt:  time.Now().UTC(),
	}
	languages := map[string]bool{}
	frameworks := map[string]bool{}

	err := filepath.WalkDir(root, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			if path == root {
				return walkErr
			}
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, relErr := filepath.Rel(root, path)
		if relErr != nil || rel == "." {
			return nil
		}
		if d.IsDir() {
			if ignoredDirs[d.Name()] || strings.HasPrefix(d.Name(), ".state") {
				return filepath.SkipDir
			}
			if matcher != nil && matcher.MatchesPath(rel+"/") {
				return filepath.SkipDir
			}
			if strings.Count(rel, string(filepath.Separator)) >= maxDepth {
				return filepath.SkipDir
			}
			return nil
		}
		if matcher != nil && matcher.MatchesPath(rel) {
			return nil
		}

		if lang, ok := languageExtensions[filepath.Ext(d.Name())]; ok {
			languages[lang] = true
		}
		if fw, ok := manifestFrameworks[d.Name()]; ok {
			frameworks[fw] = true
		}
		switch d.Name() {
		case "package.json":
			scanPackageJSON(path, frameworks, idx.Dependencies)
		case "go.mod":
			scanGoMod(path, idx.Dependencies)
		case "requirements.txt":
			scanRequirements(path, idx.Dependencies)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	idx.Languages = sortedKeys(languages)
	idx.Frameworks = sortedKeys(frameworks)
	idx.Services = detectServices(root)
	idx.Shape = classifyShape(root, idx)
	return idx, nil
}

func loadGitignore(root string) *ignore.GitIgnore {
	matcher, err := ignore.CompileIgnoreFile(filepath.Join(root, ".gitignore"))
	if err != nil {
		return nil
	}
	return matcher
}

// detectServices returns the sub-directories under any of the service
// roots, or the repository root's name when none exist.
func detectServices(root string) []string {
	var services []string
	for _, sr := range serviceRoots {
		entries, err := os.ReadDir(filepath.Join(root, sr))
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() && !ignoredDirs[e.Name()] && !strings.HasPrefix(e.Name(), ".") {
				services = append(services, sr+"/"+e.Name())
			}
		}
	}
	if len(services) == 0 {
		services = []string{filepath.Base(root)}
	}
	sort.Strings(services)
	return services
}

func classifyShape(root string, idx *model.ProjectIndex) model.ProjectShape {
	for _, sr := range serviceRoots {
		if info, err := os.Stat(filepath.Join(root, sr)); err == nil && info.IsDir() {
			return model.ShapeMonorepo
		}
	}
	// A repo with no runnable entry point is a library.
	for _, entry := range []string{"main.go", "cmd", "src/main.py", "app.py", "manage.py", "src/index.ts", "src/index.js", "index.js"} {
		if _, err := os.Stat(filepath.Join(root, entry)); err == nil {
			return model.ShapeSingleService
		}
	}
	return model.ShapeLibrary
}

// scanPackageJSON extracts framework hints and dependency pins. The file is
// parsed line-by-line rather than as JSON: manifest dependency lines have a
// stable `"name": "version"` shape and a partial or malformed manifest
// should degrade to fewer hints, not a failed scan.
func scanPackageJSON(path string, frameworks map[string]bool, deps map[string]string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	inDeps := false
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, `"dependencies"`) || strings.HasPrefix(line, `"devDependencies"`) {
			inDeps = true
			continue
		}
		if inDeps {
			if strings.HasPrefix(line, "}") {
				inDeps = false
				continue
			}
			name, version, ok := parseManifestPair(line)
			if !ok {
				continue
			}
			deps[name] = version
			if fw, known := packageJSONFrameworks[name]; known {
				frameworks[fw] = true
			}
		}
	}
}

// parseManifestPair parses a `"name": "version",` line.
func parseManifestPair(line string) (name, version string, ok bool) {
	line = strings.TrimSuffix(strings.TrimSpace(line), ",")
	parts := strings.SplitN(line, ":", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	name = strings.Trim(strings.TrimSpace(parts[0]), `"`)
	version = strings.Trim(strings.TrimSpace(parts[1]), `"`)
	if name == "" || version == "" {
		return "", "", false
	}
	return name, version, true
}

func scanGoMod(path string, deps map[string]string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	inRequire := false
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case strings.HasPrefix(line, "require ("):
			inRequire = true
		case inRequire && line == ")":
			inRequire = false
		case inRequire:
			fields := strings.Fields(line)
			if len(fields) >= 2 && !strings.HasPrefix(fields[0], "//") {
				deps[fields[0]] = fields[1]
			}
		case strings.HasPrefix(line, "require "):
			fields := strings.Fields(strings.TrimPrefix(line, "require "))
			if len(fields) >= 2 {
				deps[fields[0]] = fields[1]
			}
		}
	}
}

func scanRequirements(path string, deps map[string]string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		for _, sep := range []string{"==", ">=", "~="} {
			if name, version, found := strings.Cut(line, sep); found {
				deps[strings.TrimSpace(name)] = strings.TrimSpace(version)
				break
			}
		}
	}
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
