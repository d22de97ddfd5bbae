// Package worktree implements the engine's Git/FS isolation primitive: one
// isolated checkout per spec slug on a dedicated namespaced branch, so code
// changes never touch the user's working tree. The manager owns worktree
// creation, merge, push, and cleanup, and keeps a persisted registry keyed
// by spec slug.
package worktree

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/taskloop-dev/taskloop/internal/config"
	"github.com/taskloop-dev/taskloop/internal/git"
	"github.com/taskloop-dev/taskloop/internal/model"
	"github.com/taskloop-dev/taskloop/internal/retry"
)

// DefaultRemote is the remote used for fetch and push.
const DefaultRemote = "origin"

// GitOps is the set of Git operations the manager performs. The interface
// exists so tests can substitute a fake; the default implementation shells
// out through the scrubbed-environment runner in internal/git.
type GitOps interface {
	ResolveBaseBranch(ctx context.Context, repoPath, configured string) (branch string, usedFallback bool, err error)
	BranchExists(ctx context.Context, repoPath, branch string) bool
	RemoteBranchExists(ctx context.Context, repoPath, remote, branch string) bool
	FetchBranch(ctx context.Context, repoPath, remote, branch string) error
	WorktreeAdd(ctx context.Context, repoPath, worktreePath, branch, startPoint string) error
	WorktreeRemove(ctx context.Context, repoPath, worktreePath string, force bool) error
	WorktreeList(ctx context.Context, repoPath string) ([]git.WorktreeEntry, error)
	DeleteBranch(ctx context.Context, repoPath, branch string, force bool) error
	CheckoutBranch(ctx context.Context, repoPath, branch string) error
	MergeNoFF(ctx context.Context, repoPath, sourceBranch string) (conflicts []string, err error)
	MergeNoCommit(ctx context.Context, repoPath, sourceBranch string) (conflicts []string, err error)
	CommitAll(ctx context.Context, worktreePath, message string) (committed bool, err error)
	PushBranch(ctx context.Context, repoPath, remote, branch string) error
	ForcePushBranch(ctx context.Context, repoPath, remote, branch string) error
	HasUncommittedChanges(ctx context.Context, worktreePath string) (bool, error)
	CommitsAhead(ctx context.Context, worktreePath, targetBranch string) (int, error)
	DiffShortStat(ctx context.Context, worktreePath, targetBranch string) (git.DiffStat, error)
	LastCommitDate(ctx context.Context, worktreePath string) (string, error)
}

type defaultGitOps struct{}

func (defaultGitOps) ResolveBaseBranch(_ context.Context, repoPath, configured string) (string, bool, error) {
	return git.ResolveBaseBranch(repoPath, configured)
}
func (defaultGitOps) BranchExists(_ context.Context, repoPath, branch string) bool {
	return git.BranchExists(repoPath, branch)
}
func (defaultGitOps) RemoteBranchExists(_ context.Context, repoPath, remote, branch string) bool {
	return git.RemoteBranchExists(repoPath, remote, branch)
}
func (defaultGitOps) FetchBranch(ctx context.Context, repoPath, remote, branch string) error {
	return git.FetchBranch(ctx, repoPath, remote, branch)
}
func (defaultGitOps) WorktreeAdd(ctx context.Context, repoPath, worktreePath, branch, startPoint string) error {
	return git.WorktreeAdd(ctx, repoPath, worktreePath, branch, startPoint)
}
func (defaultGitOps) WorktreeRemove(ctx context.Context, repoPath, worktreePath string, force bool) error {
	return git.WorktreeRemove(ctx, repoPath, worktreePath, force)
}
func (defaultGitOps) WorktreeList(ctx context.Context, repoPath string) ([]git.WorktreeEntry, error) {
	return git.WorktreeList(ctx, repoPath)
}
func (defaultGitOps) DeleteBranch(ctx context.Context, repoPath, branch string, force bool) error {
	return git.DeleteBranch(ctx, repoPath, branch, force)
}
func (defaultGitOps) CheckoutBranch(ctx context.Context, repoPath, branch string) error {
	return git.CheckoutBranch(ctx, repoPath, branch)
}
func (defaultGitOps) MergeNoFF(ctx context.Context, repoPath, sourceBranch string) ([]string, error) {
	return git.MergeNoFF(ctx, repoPath, sourceBranch)
}
func (defaultGitOps) MergeNoCommit(ctx context.Context, repoPath, sourceBranch string) ([]string, error) {
	return git.MergeNoCommit(ctx, repoPath, sourceBranch)
}
func (defaultGitOps) CommitAll(ctx context.Context, worktreePath, message string) (bool, error) {
	return git.CommitAll(ctx, worktreePath, message)
}
func (defaultGitOps) PushBranch(ctx context.Context, repoPath, remote, branch string) error {
	return git.PushBranch(ctx, repoPath, remote, branch)
}
func (defaultGitOps) ForcePushBranch(ctx context.Context, repoPath, remote, branch string) error {
	return git.ForcePushBranch(ctx, repoPath, remote, branch)
}
func (defaultGitOps) HasUncommittedChanges(ctx context.Context, worktreePath string) (bool, error) {
	return git.HasUncommittedChanges(ctx, worktreePath)
}
func (defaultGitOps) CommitsAhead(ctx context.Context, worktreePath, targetBranch string) (int, error) {
	return git.GetCommitsAhead(ctx, worktreePath, targetBranch)
}
func (defaultGitOps) DiffShortStat(ctx context.Context, worktreePath, targetBranch string) (git.DiffStat, error) {
	return git.GetDiffShortStat(ctx, worktreePath, targetBranch)
}
func (defaultGitOps) LastCommitDate(ctx context.Context, worktreePath string) (string, error) {
	return git.GetLastCommitDate(ctx, worktreePath)
}

// MergeOptions controls how a spec branch is folded back into the base branch.
type MergeOptions struct {
	// DeleteAfter removes the worktree and its branch after a clean merge.
	DeleteAfter bool
	// StagedOnly performs the merge with --no-commit, leaving the combined
	// result staged on the base branch instead of creating a merge commit.
	StagedOnly bool
}

// CleanupReport summarizes what CleanupStale reclaimed.
type CleanupReport struct {
	RemovedDirs    []string
	PrunedEntries  []string
	ReclaimedLocks int
}

// Manager is the worktree lifecycle contract consumed by the Session
// Orchestrator and QA Loop. Implementations must be safe for use from
// multiple sessions concurrently; per-slug creation races are resolved by
// an on-disk creation lock.
type Manager interface {
	Setup() error
	Create(ctx context.Context, specSlug string) (*model.Worktree, error)
	GetOrCreate(ctx context.Context, specSlug string) (*model.Worktree, error)
	Get(specSlug string) (*model.Worktree, error)
	Remove(ctx context.Context, specSlug string, deleteBranch bool) error
	Merge(ctx context.Context, specSlug string, opts MergeOptions) error
	MergeMany(ctx context.Context, deps map[string][]string, opts MergeOptions) ([]MergeOutcome, error)
	Commit(ctx context.Context, specSlug, message string) (committed bool, err error)
	Push(ctx context.Context, specSlug string, force bool) error
	ListAll(ctx context.Context) ([]model.WorktreeStats, error)
	HasUncommittedChanges(ctx context.Context, specSlug string) (bool, error)
	CleanupStale(ctx context.Context) (CleanupReport, error)
}

// DefaultManager implements Manager against a real repository.
type DefaultManager struct {
	cfg      *config.WorktreeConfig
	stateDir string
	repoRoot string
	stdout   io.Writer
	gitOps   GitOps
	runSetup SetupFunc
	validate ValidateFunc

	// stateMu serializes load-modify-save cycles on the registry so
	// concurrent sessions creating different worktrees never lose writes.
	stateMu sync.Mutex
}

// SetupFunc runs the optional per-worktree setup script.
type SetupFunc func(ctx context.Context, scriptPath, worktreePath, specSlug, branch, sourceRepo string, timeout time.Duration, stdout io.Writer) *SetupResult

// ValidateFunc verifies a worktree after creation.
type ValidateFunc func(ctx context.Context, worktreePath, sourceRepoPath string, entries []git.WorktreeEntry) *ValidationResult

// ManagerOption configures a DefaultManager.
type ManagerOption func(*DefaultManager)

// WithStdout sets the writer for operator-facing warnings and progress.
func WithStdout(w io.Writer) ManagerOption {
	return func(m *DefaultManager) { m.stdout = w }
}

// WithGitOps substitutes the Git backend (for testing).
func WithGitOps(ops GitOps) ManagerOption {
	return func(m *DefaultManager) { m.gitOps = ops }
}

// WithSetupFunc substitutes the setup-script runner (for testing).
func WithSetupFunc(fn SetupFunc) ManagerOption {
	return func(m *DefaultManager) { m.runSetup = fn }
}

// WithValidateFunc substitutes the post-creation validator (for testing).
func WithValidateFunc(fn ValidateFunc) ManagerOption {
	return func(m *DefaultManager) { m.validate = fn }
}

// NewManager creates a DefaultManager rooted at repoRoot, persisting its
// registry under stateDir.
func NewManager(cfg *config.WorktreeConfig, stateDir, repoRoot string, opts ...ManagerOption) *DefaultManager {
	if cfg == nil {
		cfg = &config.WorktreeConfig{BranchPrefix: "taskloop", MaxRetries: 3}
	}
	m := &DefaultManager{
		cfg:      cfg,
		stateDir: stateDir,
		repoRoot: repoRoot,
		stdout:   os.Stdout,
		gitOps:   defaultGitOps{},
		runSetup: RunSetupScript,
		validate: ValidateWorktree,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Setup ensures the worktree root directory exists.
func (m *DefaultManager) Setup() error {
	if err := os.MkdirAll(m.worktreeRoot(), 0o755); err != nil {
		return fmt.Errorf("creating worktree root: %w", err)
	}
	return nil
}

func (m *DefaultManager) worktreeRoot() string {
	if m.cfg.BaseDir != "" {
		return m.cfg.BaseDir
	}
	return filepath.Join(m.stateDir, "worktrees", "specs")
}

func (m *DefaultManager) worktreePath(specSlug string) string {
	return filepath.Join(m.worktreeRoot(), specSlug)
}

func (m *DefaultManager) branchName(specSlug string) string {
	return m.cfg.BranchPrefix + "/" + specSlug
}

func (m *DefaultManager) retryPolicy() retry.Policy {
	p := retry.DefaultPolicy
	if m.cfg.MaxRetries > 0 {
		p.MaxAttempts = m.cfg.MaxRetries
	}
	return p
}

// Create builds a fresh worktree for specSlug on a new branch based on the
// resolved base branch. It fails if a worktree for the slug is already
// registered, or if the branch prefix itself exists as a leaf branch.
func (m *DefaultManager) Create(ctx context.Context, specSlug string) (*model.Worktree, error) {
	if err := acquireCreationLock(m.stateDir, specSlug); err != nil {
		return nil, err
	}
	defer func() { _ = releaseCreationLock(m.stateDir, specSlug) }()

	m.stateMu.Lock()
	defer m.stateMu.Unlock()

	state, err := LoadState(m.stateDir)
	if err != nil {
		return nil, fmt.Errorf("loading state: %w", err)
	}
	if state.Find(specSlug) != nil {
		return nil, fmt.Errorf("worktree for spec %q already exists", specSlug)
	}
	return m.createLocked(ctx, state, specSlug)
}

// GetOrCreate returns the registered worktree for specSlug if its directory
// still exists, otherwise creates one. It is the idempotent entry point used
// by the QA Loop, which may span many iterations against one worktree.
func (m *DefaultManager) GetOrCreate(ctx context.Context, specSlug string) (*model.Worktree, error) {
	if err := acquireCreationLock(m.stateDir, specSlug); err != nil {
		return nil, err
	}
	defer func() { _ = releaseCreationLock(m.stateDir, specSlug) }()

	m.stateMu.Lock()
	defer m.stateMu.Unlock()

	state, err := LoadState(m.stateDir)
	if err != nil {
		return nil, fmt.Errorf("loading state: %w", err)
	}
	if wt := state.Find(specSlug); wt != nil {
		if _, statErr := os.Stat(wt.Path); statErr == nil {
			wt.LastAccessed = time.Now()
			if err := state.Update(*wt); err == nil {
				_ = SaveState(m.stateDir, state)
			}
			return wt, nil
		}
		// Registered but the directory is gone: fall through and recreate.
		state.Remove(specSlug)
	}
	return m.createLocked(ctx, state, specSlug)
}

// createLocked performs the creation algorithm. The caller holds the
// creation lock for specSlug.
func (m *DefaultManager) createLocked(ctx context.Context, state *State, specSlug string) (*model.Worktree, error) {
	if m.gitOps.BranchExists(ctx, m.repoRoot, m.cfg.BranchPrefix) {
		return nil, &NamespaceConflictError{Prefix: m.cfg.BranchPrefix}
	}

	path := m.worktreePath(specSlug)
	branch := m.branchName(specSlug)

	// A stale directory or branch left behind by a crashed run is
	// force-removed before recreating.
	if _, err := os.Stat(path); err == nil {
		if err := m.gitOps.WorktreeRemove(ctx, m.repoRoot, path, true); err != nil {
			_ = os.RemoveAll(path)
		}
	}
	if m.gitOps.BranchExists(ctx, m.repoRoot, branch) {
		if err := m.gitOps.DeleteBranch(ctx, m.repoRoot, branch, true); err != nil {
			return nil, fmt.Errorf("removing stale branch %s: %w", branch, err)
		}
	}

	base, usedFallback, err := m.gitOps.ResolveBaseBranch(ctx, m.repoRoot, m.cfg.BaseBranch)
	if err != nil {
		return nil, fmt.Errorf("resolving base branch: %w", err)
	}
	if usedFallback && m.cfg.BaseBranch != "" {
		fmt.Fprintf(m.stdout, "Warning: configured base branch %q not found, using %q\n", m.cfg.BaseBranch, base)
	}
	if usedFallback && base != "main" && base != "master" {
		fmt.Fprintf(m.stdout, "Warning: no main or master branch found, basing worktree on current branch %q\n", base)
	}

	startPoint := base
	fetchCtx, cancelFetch := context.WithTimeout(ctx, parseDurationOr(m.cfg.FetchTimeout, 60*time.Second))
	fetchErr := retry.Do(fetchCtx, m.retryPolicy(), func(ctx context.Context) error {
		return m.gitOps.FetchBranch(ctx, m.repoRoot, DefaultRemote, base)
	})
	cancelFetch()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if fetchErr == nil && m.gitOps.RemoteBranchExists(ctx, m.repoRoot, DefaultRemote, base) {
		startPoint = DefaultRemote + "/" + base
	} else if fetchErr != nil {
		fmt.Fprintf(m.stdout, "Warning: fetching %s/%s failed, creating from local %s: %v\n", DefaultRemote, base, base, fetchErr)
	}

	if err := m.gitOps.WorktreeAdd(ctx, m.repoRoot, path, branch, startPoint); err != nil {
		return nil, fmt.Errorf("creating git worktree: %w", err)
	}

	setupCompleted, err := m.setupAndValidate(ctx, path, specSlug, branch)
	if err != nil {
		_ = m.gitOps.WorktreeRemove(ctx, m.repoRoot, path, true)
		_ = m.gitOps.DeleteBranch(ctx, m.repoRoot, branch, true)
		return nil, err
	}

	now := time.Now()
	wt := model.Worktree{
		SpecSlug:       specSlug,
		Path:           path,
		Branch:         branch,
		BaseBranch:     base,
		Status:         model.StatusActive,
		SetupCompleted: setupCompleted,
		CreatedAt:      now,
		UpdatedAt:      now,
		LastAccessed:   now,
	}
	if err := state.Add(wt); err != nil {
		return nil, fmt.Errorf("registering worktree: %w", err)
	}
	if err := SaveState(m.stateDir, state); err != nil {
		return nil, fmt.Errorf("saving state: %w", err)
	}
	return &wt, nil
}

func (m *DefaultManager) setupAndValidate(ctx context.Context, path, specSlug, branch string) (bool, error) {
	if !m.cfg.AutoSetup || m.cfg.SetupScript == "" {
		return true, nil
	}
	timeout := parseDurationOr(m.cfg.SetupTimeout, DefaultSetupTimeout)
	result := m.runSetup(ctx, m.cfg.SetupScript, path, specSlug, branch, m.repoRoot, timeout, m.stdout)
	if result.Error != nil {
		return false, fmt.Errorf("setup script failed: %w", result.Error)
	}
	if !result.Executed {
		return true, nil
	}
	entries, err := m.gitOps.WorktreeList(ctx, m.repoRoot)
	if err != nil {
		return false, fmt.Errorf("listing worktrees for validation: %w", err)
	}
	vr := m.validate(ctx, path, m.repoRoot, entries)
	if !vr.IsValid() {
		return false, fmt.Errorf("worktree validation failed: %v", vr.Errors)
	}
	return true, nil
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// Get returns the registered worktree for specSlug.
func (m *DefaultManager) Get(specSlug string) (*model.Worktree, error) {
	state, err := LoadState(m.stateDir)
	if err != nil {
		return nil, fmt.Errorf("loading state: %w", err)
	}
	wt := state.Find(specSlug)
	if wt == nil {
		return nil, &NotFoundError{SpecSlug: specSlug}
	}
	return wt, nil
}

// Remove unregisters the worktree for specSlug and removes its directory,
// optionally deleting the branch too.
func (m *DefaultManager) Remove(ctx context.Context, specSlug string, deleteBranch bool) error {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	return m.removeLocked(ctx, specSlug, deleteBranch)
}

// removeLocked is Remove without the registry lock; the caller holds it.
func (m *DefaultManager) removeLocked(ctx context.Context, specSlug string, deleteBranch bool) error {
	state, err := LoadState(m.stateDir)
	if err != nil {
		return fmt.Errorf("loading state: %w", err)
	}
	wt := state.Find(specSlug)
	if wt == nil {
		return &NotFoundError{SpecSlug: specSlug}
	}

	if err := m.gitOps.WorktreeRemove(ctx, m.repoRoot, wt.Path, true); err != nil {
		// The directory may already be gone; remove whatever is left so
		// the registry never points at a half-deleted tree.
		_ = os.RemoveAll(wt.Path)
	}
	if deleteBranch {
		if err := m.gitOps.DeleteBranch(ctx, m.repoRoot, wt.Branch, true); err != nil {
			fmt.Fprintf(m.stdout, "Warning: deleting branch %s: %v\n", wt.Branch, err)
		}
	}

	state.Remove(specSlug)
	if err := SaveState(m.stateDir, state); err != nil {
		return fmt.Errorf("saving state: %w", err)
	}
	return nil
}

// Commit stages and commits everything in the spec's worktree. A clean tree
// is reported as committed=false with no error.
func (m *DefaultManager) Commit(ctx context.Context, specSlug, message string) (bool, error) {
	wt, err := m.Get(specSlug)
	if err != nil {
		return false, err
	}
	return m.gitOps.CommitAll(ctx, wt.Path, message)
}

// Push pushes the spec's branch to the remote, retrying transient failures
// with exponential backoff. The push runs under the configured push timeout.
func (m *DefaultManager) Push(ctx context.Context, specSlug string, force bool) error {
	wt, err := m.Get(specSlug)
	if err != nil {
		return err
	}
	timeout := parseDurationOr(m.cfg.PushTimeout, 120*time.Second)
	pushCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return retry.Do(pushCtx, m.retryPolicy(), func(ctx context.Context) error {
		if force {
			return m.gitOps.ForcePushBranch(ctx, wt.Path, DefaultRemote, wt.Branch)
		}
		return m.gitOps.PushBranch(ctx, wt.Path, DefaultRemote, wt.Branch)
	})
}

// HasUncommittedChanges reports whether the spec's worktree (or, with an
// empty slug, any registered worktree) has uncommitted changes.
func (m *DefaultManager) HasUncommittedChanges(ctx context.Context, specSlug string) (bool, error) {
	state, err := LoadState(m.stateDir)
	if err != nil {
		return false, fmt.Errorf("loading state: %w", err)
	}
	if specSlug != "" {
		wt := state.Find(specSlug)
		if wt == nil {
			return false, &NotFoundError{SpecSlug: specSlug}
		}
		return m.gitOps.HasUncommittedChanges(ctx, wt.Path)
	}
	for _, wt := range state.Worktrees {
		dirty, err := m.gitOps.HasUncommittedChanges(ctx, wt.Path)
		if err != nil {
			return false, err
		}
		if dirty {
			return true, nil
		}
	}
	return false, nil
}

// ListAll returns a statistics snapshot for every registered worktree:
// commits ahead of base, files changed, added/removed lines, and days since
// the last commit.
func (m *DefaultManager) ListAll(ctx context.Context) ([]model.WorktreeStats, error) {
	state, err := LoadState(m.stateDir)
	if err != nil {
		return nil, fmt.Errorf("loading state: %w", err)
	}

	stats := make([]model.WorktreeStats, 0, len(state.Worktrees))
	for _, wt := range state.Worktrees {
		if _, statErr := os.Stat(wt.Path); statErr != nil {
			continue
		}
		s := model.WorktreeStats{SpecSlug: wt.SpecSlug}
		if ahead, err := m.gitOps.CommitsAhead(ctx, wt.Path, wt.BaseBranch); err == nil {
			s.CommitsAhead = ahead
		}
		if diff, err := m.gitOps.DiffShortStat(ctx, wt.Path, wt.BaseBranch); err == nil {
			s.FilesChanged = diff.FilesChanged
			s.LinesAdded = diff.Insertions
			s.LinesRemoved = diff.Deletions
		}
		if dateStr, err := m.gitOps.LastCommitDate(ctx, wt.Path); err == nil {
			if ts, parseErr := time.Parse(time.RFC3339, dateStr); parseErr == nil {
				s.LastCommitAt = ts
				s.DaysSinceCommit = int(time.Since(ts).Hours() / 24)
			}
		}
		stats = append(stats, s)
	}
	return stats, nil
}

// CleanupStale reclaims directories under the worktree root that Git no
// longer knows about, prunes registry entries whose directory is gone, and
// removes creation locks left by dead processes.
func (m *DefaultManager) CleanupStale(ctx context.Context) (CleanupReport, error) {
	var report CleanupReport

	entries, err := m.gitOps.WorktreeList(ctx, m.repoRoot)
	if err != nil {
		return report, fmt.Errorf("listing git worktrees: %w", err)
	}
	registered := make(map[string]bool, len(entries))
	for _, e := range entries {
		registered[e.Path] = true
	}

	dirEntries, err := os.ReadDir(m.worktreeRoot())
	if err != nil && !os.IsNotExist(err) {
		return report, fmt.Errorf("reading worktree root: %w", err)
	}
	for _, de := range dirEntries {
		if !de.IsDir() {
			continue
		}
		path := filepath.Join(m.worktreeRoot(), de.Name())
		if registered[path] {
			continue
		}
		if err := os.RemoveAll(path); err != nil {
			fmt.Fprintf(m.stdout, "Warning: removing stale directory %s: %v\n", path, err)
			continue
		}
		report.RemovedDirs = append(report.RemovedDirs, path)
	}

	m.stateMu.Lock()
	defer m.stateMu.Unlock()

	state, err := LoadState(m.stateDir)
	if err != nil {
		return report, fmt.Errorf("loading state: %w", err)
	}
	var kept []model.Worktree
	for _, wt := range state.Worktrees {
		if _, statErr := os.Stat(wt.Path); os.IsNotExist(statErr) {
			report.PrunedEntries = append(report.PrunedEntries, wt.SpecSlug)
			continue
		}
		kept = append(kept, wt)
	}
	if len(report.PrunedEntries) > 0 {
		state.Worktrees = kept
		if err := SaveState(m.stateDir, state); err != nil {
			return report, fmt.Errorf("saving state: %w", err)
		}
	}

	reclaimed, err := cleanupStaleLocks(m.stateDir)
	if err != nil {
		return report, err
	}
	report.ReclaimedLocks = reclaimed
	return report, nil
}
