package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/taskloop-dev/taskloop/internal/worktree"
)

var worktreeCmd = &cobra.Command{
	Use:   "worktree",
	Short: "Manage per-spec worktrees",
}

var worktreeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List worktrees with change statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := buildEngine()
		if err != nil {
			return err
		}
		stats, err := eng.worktrees.ListAll(cmd.Context())
		if err != nil {
			return err
		}
		if len(stats) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No worktrees")
			return nil
		}
		for _, s := range stats {
			fmt.Fprintf(cmd.OutOrStdout(), "%-40s  %d commit(s), %d file(s), +%d/-%d, idle %dd\n",
				s.SpecSlug, s.CommitsAhead, s.FilesChanged, s.LinesAdded, s.LinesRemoved, s.DaysSinceCommit)
		}
		return nil
	},
}

var (
	mergeDeleteAfter bool
	mergeStagedOnly  bool
	mergeForce       bool
)

var worktreeMergeCmd = &cobra.Command{
	Use:   "merge <spec-slug>",
	Short: "Merge a spec's branch back into its base branch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := buildEngine()
		if err != nil {
			return err
		}
		if !mergeForce {
			if warned, warnErr := warnOnMigrationImpact(cmd, eng, args[0]); warnErr == nil && warned {
				return fmt.Errorf("merge declined: rerun with --force to override the migration warning")
			}
		}
		opts := worktree.MergeOptions{DeleteAfter: mergeDeleteAfter, StagedOnly: mergeStagedOnly}
		if err := eng.worktrees.Merge(cmd.Context(), args[0], opts); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Merged %s\n", args[0])
		return nil
	},
}

var removeDeleteBranch bool

var worktreeRemoveCmd = &cobra.Command{
	Use:   "remove <spec-slug>",
	Short: "Remove a spec's worktree",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := buildEngine()
		if err != nil {
			return err
		}
		if err := eng.worktrees.Remove(cmd.Context(), args[0], removeDeleteBranch); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", args[0])
		return nil
	},
}

var pushForce bool

var worktreePushCmd = &cobra.Command{
	Use:   "push <spec-slug>",
	Short: "Push a spec's branch to the remote",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := buildEngine()
		if err != nil {
			return err
		}
		if err := eng.worktrees.Push(cmd.Context(), args[0], pushForce); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Pushed %s\n", args[0])
		return nil
	},
}

var worktreeCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Reclaim stale worktree directories and dead locks",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := buildEngine()
		if err != nil {
			return err
		}
		report, err := eng.worktrees.CleanupStale(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %d directory(ies), pruned %d entry(ies), reclaimed %d lock(s)\n",
			len(report.RemovedDirs), len(report.PrunedEntries), report.ReclaimedLocks)
		return nil
	},
}

func init() {
	worktreeMergeCmd.Flags().BoolVar(&mergeDeleteAfter, "delete-after", false, "remove the worktree and branch after a clean merge")
	worktreeMergeCmd.Flags().BoolVar(&mergeStagedOnly, "staged-only", false, "merge with --no-commit, leaving the result staged")
	worktreeMergeCmd.Flags().BoolVar(&mergeForce, "force", false, "proceed despite a migration-plan warning")
	worktreeRemoveCmd.Flags().BoolVar(&removeDeleteBranch, "delete-branch", false, "also delete the spec's branch")
	worktreePushCmd.Flags().BoolVar(&pushForce, "force", false, "force-push with lease")

	worktreeCmd.AddCommand(worktreeListCmd)
	worktreeCmd.AddCommand(worktreeMergeCmd)
	worktreeCmd.AddCommand(worktreeRemoveCmd)
	worktreeCmd.AddCommand(worktreePushCmd)
	worktreeCmd.AddCommand(worktreeCleanupCmd)
	rootCmd.AddCommand(worktreeCmd)
}
