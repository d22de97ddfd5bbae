// Package qa implements the QA loop: an iterative Review→Test→Fix state
// machine that drives a change set to a pass/fail verdict, with
// self-healing fixes, recurring-issue detection, and bounded escalation to
// a human when automation cannot converge.
package qa

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/taskloop-dev/taskloop/internal/model"
)

// Check is one static-analysis rule in the review registry. Checks are
// data, not code: a name, a category, an optional line regex, an optional
// file glob, and a default severity.
type Check struct {
	Name        string              `yaml:"name"`
	Category    model.IssueCategory `yaml:"category"`
	Description string              `yaml:"description"`
	Pattern     string              `yaml:"pattern,omitempty"`
	FileGlob    string              `yaml:"file_glob,omitempty"`
	Severity    model.Severity      `yaml:"severity"`
	Enabled     *bool               `yaml:"enabled,omitempty"`

	compiled *regexp.Regexp
}

// IsEnabled treats a missing enabled flag as on.
func (c *Check) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// Matches reports whether the check applies to the given file path.
func (c *Check) Matches(path string) bool {
	if c.FileGlob == "" {
		return true
	}
	ok, err := filepath.Match(c.FileGlob, filepath.Base(path))
	return err == nil && ok
}

// Compile prepares the check's regex. Checks without a pattern compile to
// nil and never match lines directly.
func (c *Check) Compile() error {
	if c.Pattern == "" {
		return nil
	}
	re, err := regexp.Compile(c.Pattern)
	if err != nil {
		return fmt.Errorf("check %q: invalid pattern: %w", c.Name, err)
	}
	c.compiled = re
	return nil
}

// DefaultChecks is the built-in review registry. Operators extend or
// override it from a YAML file; the engine never hard-codes analysis beyond
// this table.
func DefaultChecks() []Check {
	return []Check{
		{
			Name:        "Debug Statements",
			Category:    model.CategoryStyle,
			Description: "Leftover debug output",
			Pattern:     `print\(|console\.log\(|fmt\.Println\(|debugger;`,
			Severity:    model.SevLow,
		},
		{
			Name:        "Hardcoded Secrets",
			Category:    model.CategorySecurity,
			Description: "Credential literal committed to source",
			Pattern:     `(?i)(password|secret|api_key|token)\s*=\s*["'][^"']{4,}["']`,
			Severity:    model.SevHigh,
		},
		{
			Name:        "Eval Usage",
			Category:    model.CategorySecurity,
			Description: "Dynamic code evaluation",
			Pattern:     `\beval\s*\(`,
			Severity:    model.SevCritical,
		},
		{
			Name:        "Bare Except",
			Category:    model.CategoryCorrectness,
			Description: "Exception swallowed without handling",
			Pattern:     `except\s*:\s*(?:pass)?\s*$`,
			FileGlob:    "*.py",
			Severity:    model.SevMedium,
		},
		{
			Name:        "Unchecked Error",
			Category:    model.CategoryCorrectness,
			Description: "Error return discarded",
			Pattern:     `^\s*_\s*=\s*\w+\.(?:Close|Write|Flush)\(`,
			FileGlob:    "*.go",
			Severity:    model.SevMedium,
		},
		{
			Name:        "TODO Marker",
			Category:    model.CategoryStyle,
			Description: "Unresolved TODO or FIXME",
			Pattern:     `TODO|FIXME|XXX`,
			Severity:    model.SevInfo,
		},
		{
			Name:        "Synchronous Sleep",
			Category:    model.CategoryPerformance,
			Description: "Blocking sleep in request path",
			Pattern:     `time\.sleep\(|time\.Sleep\(\d`,
			Severity:    model.SevLow,
		},
	}
}

// checksFile is the YAML shape for the operator-supplied check registry.
type checksFile struct {
	Checks []Check `yaml:"checks"`
}

// LoadChecks returns the default registry merged with overrides from path,
// compiled and filtered to enabled checks. Overrides with a known name
// replace the default; new names are appended. A missing file yields the
// defaults alone.
func LoadChecks(path string) ([]Check, error) {
	checks := DefaultChecks()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading check registry: %w", err)
		}
		if err == nil {
			var file checksFile
			if err := yaml.Unmarshal(data, &file); err != nil {
				return nil, fmt.Errorf("parsing check registry: %w", err)
			}
			checks = mergeChecks(checks, file.Checks)
		}
	}

	var enabled []Check
	for _, c := range checks {
		if !c.IsEnabled() {
			continue
		}
		if err := c.Compile(); err != nil {
			return nil, err
		}
		enabled = append(enabled, c)
	}
	return enabled, nil
}

func mergeChecks(base, overrides []Check) []Check {
	byName := make(map[string]int, len(base))
	for i, c := range base {
		byName[c.Name] = i
	}
	for _, o := range overrides {
		if i, ok := byName[o.Name]; ok {
			base[i] = o
		} else {
			base = append(base, o)
		}
	}
	return base
}
