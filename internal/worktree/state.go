package worktree

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio/v2"

	"github.com/taskloop-dev/taskloop/internal/model"
)

// State is the persisted registry of every worktree the manager has created,
// keyed by spec slug.
type State struct {
	Worktrees []model.Worktree `json:"worktrees"`
}

func stateFilePath(stateDir string) string {
	return filepath.Join(stateDir, "worktrees.json")
}

// LoadState reads the worktree registry, returning an empty State if none
// has been persisted yet.
func LoadState(stateDir string) (*State, error) {
	data, err := os.ReadFile(stateFilePath(stateDir))
	if err != nil {
		if os.IsNotExist(err) {
			return &State{}, nil
		}
		return nil, fmt.Errorf("reading worktree state: %w", err)
	}
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing worktree state: %w", err)
	}
	return &s, nil
}

// SaveState persists the registry atomically.
func SaveState(stateDir string, s *State) error {
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return fmt.Errorf("creating state dir: %w", err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling worktree state: %w", err)
	}
	return renameio.WriteFile(stateFilePath(stateDir), data, 0o644)
}

// Find returns the registered worktree for specSlug, or nil.
func (s *State) Find(specSlug string) *model.Worktree {
	for i := range s.Worktrees {
		if s.Worktrees[i].SpecSlug == specSlug {
			return &s.Worktrees[i]
		}
	}
	return nil
}

// Add registers a new worktree, rejecting a duplicate spec slug.
func (s *State) Add(wt model.Worktree) error {
	if s.Find(wt.SpecSlug) != nil {
		return fmt.Errorf("worktree for spec %q already registered", wt.SpecSlug)
	}
	s.Worktrees = append(s.Worktrees, wt)
	return nil
}

// Remove unregisters the worktree for specSlug.
func (s *State) Remove(specSlug string) {
	for i := range s.Worktrees {
		if s.Worktrees[i].SpecSlug == specSlug {
			s.Worktrees = append(s.Worktrees[:i], s.Worktrees[i+1:]...)
			return
		}
	}
}

// Update replaces the registered record for wt.SpecSlug, stamping UpdatedAt.
func (s *State) Update(wt model.Worktree) error {
	for i := range s.Worktrees {
		if s.Worktrees[i].SpecSlug == wt.SpecSlug {
			wt.UpdatedAt = time.Now()
			s.Worktrees[i] = wt
			return nil
		}
	}
	return fmt.Errorf("worktree for spec %q not found", wt.SpecSlug)
}
