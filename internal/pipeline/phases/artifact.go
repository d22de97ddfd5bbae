// Package phases contains the concrete spec pipeline phases: discovery,
// requirements normalization, complexity assessment, context resolution,
// impact analysis, spec writing, and validation. Each phase persists a
// single artifact in the spec directory and hydrates pipeline state from it
// when the artifact is already present.
package phases

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
)

// writeArtifact persists v as pretty JSON into specDir/name atomically.
func writeArtifact(specDir, name string, v any) error {
	if err := os.MkdirAll(specDir, 0o755); err != nil {
		return fmt.Errorf("creating spec dir: %w", err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", name, err)
	}
	if err := renameio.WriteFile(filepath.Join(specDir, name), data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", name, err)
	}
	return nil
}

// readArtifact loads specDir/name into v. A malformed artifact is an
// error, never a partially-populated value handed to the caller.
func readArtifact(specDir, name string, v any) error {
	data, err := os.ReadFile(filepath.Join(specDir, name))
	if err != nil {
		return fmt.Errorf("reading %s: %w", name, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parsing %s: %w", name, err)
	}
	return nil
}
