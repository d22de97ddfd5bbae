package worktree

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/taskloop-dev/taskloop/internal/model"
)

// Merge folds the spec's branch back into its base branch with a
// no-fast-forward merge. "Already up to date" is success. A conflict aborts
// the merge, leaves no partial state behind, and returns a
// MergeConflictError carrying the conflicted files and their markers.
func (m *DefaultManager) Merge(ctx context.Context, specSlug string, opts MergeOptions) error {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()

	state, err := LoadState(m.stateDir)
	if err != nil {
		return fmt.Errorf("loading state: %w", err)
	}
	wt := state.Find(specSlug)
	if wt == nil {
		return &NotFoundError{SpecSlug: specSlug}
	}

	if err := m.gitOps.CheckoutBranch(ctx, m.repoRoot, wt.BaseBranch); err != nil {
		return fmt.Errorf("checking out base branch %s: %w", wt.BaseBranch, err)
	}

	var conflicts []string
	if opts.StagedOnly {
		conflicts, err = m.gitOps.MergeNoCommit(ctx, m.repoRoot, wt.Branch)
	} else {
		conflicts, err = m.gitOps.MergeNoFF(ctx, m.repoRoot, wt.Branch)
	}
	if len(conflicts) > 0 {
		mergeErr := &MergeConflictError{
			SpecSlug:     specSlug,
			SourceBranch: wt.Branch,
			TargetBranch: wt.BaseBranch,
			Conflicts:    conflicts,
		}
		// Best effort: the merge was already aborted, so conflict markers
		// may be gone; contexts are attached only when still readable.
		if contexts, ctxErr := BuildConflictContexts(m.repoRoot, specSlug, wt.Branch, wt.BaseBranch, conflicts); ctxErr == nil {
			mergeErr.Contexts = contexts
		}
		return mergeErr
	}
	if err != nil {
		return fmt.Errorf("merging %s: %w", wt.Branch, err)
	}

	if opts.DeleteAfter {
		return m.removeLocked(ctx, specSlug, true)
	}

	now := time.Now()
	wt.Status = model.StatusMerged
	wt.MergedAt = &now
	if err := state.Update(*wt); err != nil {
		return fmt.Errorf("updating worktree record: %w", err)
	}
	if err := SaveState(m.stateDir, state); err != nil {
		return fmt.Errorf("saving state: %w", err)
	}
	return nil
}

// MergeOutcome is one spec's result from a batch merge.
type MergeOutcome struct {
	SpecSlug string
	Merged   bool
	Err      error
}

// MergeMany merges a batch of completed specs in dependency order: a spec is
// merged only after every spec it depends on. deps maps each spec slug to
// the slugs it depends on; slugs appearing only as dependencies are not
// merged themselves. The batch stops at the first failure so a conflicted
// merge never leaves dependents merged on top of a missing base.
func (m *DefaultManager) MergeMany(ctx context.Context, deps map[string][]string, opts MergeOptions) ([]MergeOutcome, error) {
	order, err := ComputeMergeOrder(deps)
	if err != nil {
		return nil, err
	}

	outcomes := make([]MergeOutcome, 0, len(order))
	for _, slug := range order {
		if err := ctx.Err(); err != nil {
			return outcomes, err
		}
		mergeErr := m.Merge(ctx, slug, opts)
		outcomes = append(outcomes, MergeOutcome{SpecSlug: slug, Merged: mergeErr == nil, Err: mergeErr})
		if mergeErr != nil {
			return outcomes, fmt.Errorf("batch merge stopped at spec %s: %w", slug, mergeErr)
		}
	}
	return outcomes, nil
}

// ComputeMergeOrder topologically sorts spec slugs so dependencies merge
// before dependents. Ties are broken alphabetically for a deterministic
// order. A cycle is returned as a CycleError naming the specs involved.
func ComputeMergeOrder(deps map[string][]string) ([]string, error) {
	indegree := make(map[string]int, len(deps))
	dependents := make(map[string][]string)
	for slug, ds := range deps {
		if _, ok := indegree[slug]; !ok {
			indegree[slug] = 0
		}
		for _, d := range ds {
			if _, isSpec := deps[d]; !isSpec {
				continue // dependency outside this batch, assumed already merged
			}
			indegree[slug]++
			dependents[d] = append(dependents[d], slug)
		}
	}

	var ready []string
	for slug, n := range indegree {
		if n == 0 {
			ready = append(ready, slug)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, len(indegree))
	for len(ready) > 0 {
		slug := ready[0]
		ready = ready[1:]
		order = append(order, slug)
		changed := false
		for _, dep := range dependents[slug] {
			indegree[dep]--
			if indegree[dep] == 0 {
				ready = append(ready, dep)
				changed = true
			}
		}
		if changed {
			sort.Strings(ready)
		}
	}

	if len(order) != len(indegree) {
		var cyclic []string
		for slug, n := range indegree {
			if n > 0 {
				cyclic = append(cyclic, slug)
			}
		}
		sort.Strings(cyclic)
		return nil, &CycleError{Specs: cyclic}
	}
	return order, nil
}
