package model

import "time"

// WorktreeStatus is the lifecycle status of one managed worktree.
type WorktreeStatus string

const (
	StatusActive WorktreeStatus = "active"
	StatusStale  WorktreeStatus = "stale"
	StatusMerged WorktreeStatus = "merged"
)

// Worktree is the persisted record for one spec's isolated Git worktree
// (identity is the spec slug; lifetime is until merge or discard).
type Worktree struct {
	SpecSlug       string         `json:"spec_slug"`
	Path           string         `json:"path"`
	Branch         string         `json:"branch"`
	BaseBranch     string         `json:"base_branch"`
	Status         WorktreeStatus `json:"status"`
	SetupCompleted bool           `json:"setup_completed"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	LastAccessed   time.Time      `json:"last_accessed"`
	MergedAt       *time.Time     `json:"merged_at,omitempty"`
}

// WorktreeStats are the derived Git-plumbing statistics for one worktree.
type WorktreeStats struct {
	SpecSlug        string    `json:"spec_slug"`
	CommitsAhead    int       `json:"commits_ahead"`
	FilesChanged    int       `json:"files_changed"`
	LinesAdded      int       `json:"lines_added"`
	LinesRemoved    int       `json:"lines_removed"`
	LastCommitAt    time.Time `json:"last_commit_at"`
	DaysSinceCommit int       `json:"days_since_commit"`
}
