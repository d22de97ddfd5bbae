package worktree

import (
	"fmt"
	"strings"
)

// NamespaceConflictError reports that the configured branch prefix exists as
// a plain leaf branch, which makes Git refuse to create any
// <prefix>/<spec-slug> ref beneath it.
type NamespaceConflictError struct {
	Prefix string
}

func (e *NamespaceConflictError) Error() string {
	return fmt.Sprintf(
		"cannot create worktree branch under %q: a branch named %q already exists; "+
			"rename it first, e.g.: git branch -m %s %s-old",
		e.Prefix+"/", e.Prefix, e.Prefix, e.Prefix)
}

// NotFoundError reports that no worktree is registered for a spec slug.
type NotFoundError struct {
	SpecSlug string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no worktree registered for spec %q", e.SpecSlug)
}

// MergeConflictError reports an aborted merge. The merge was rolled back
// with `git merge --abort` before this error was returned, so the base
// branch is left untouched.
type MergeConflictError struct {
	SpecSlug     string
	SourceBranch string
	TargetBranch string
	Conflicts    []string
	Contexts     []ConflictContext
}

func (e *MergeConflictError) Error() string {
	return fmt.Sprintf("merging %s into %s for spec %s: conflicts in %s (merge aborted)",
		e.SourceBranch, e.TargetBranch, e.SpecSlug, strings.Join(e.Conflicts, ", "))
}

// CycleError reports a dependency cycle among the specs handed to a batch
// merge, naming the specs involved.
type CycleError struct {
	Specs []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle among specs: %s", strings.Join(e.Specs, " -> "))
}
