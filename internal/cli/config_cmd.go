package cli

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/taskloop-dev/taskloop/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect taskloop configuration",
}

var configKeysCmd = &cobra.Command{
	Use:   "keys",
	Short: "List every known configuration key",
	RunE: func(cmd *cobra.Command, args []string) error {
		keys := make([]string, 0, len(config.KnownKeys))
		for key := range config.KnownKeys {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			schema := config.KnownKeys[key]
			fmt.Fprintf(cmd.OutOrStdout(), "%-32s %-9s %s\n", key, schema.Type, schema.Description)
		}
		return nil
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a commented project config template",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := config.ProjectConfigPath()
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		}
		if err := os.MkdirAll(config.ProjectConfigDir(), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(path, []byte(config.GetDefaultConfigTemplate()), 0o644); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load("")
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "state_dir: %s\n", cfg.StateDir)
		fmt.Fprintf(out, "specs_dir: %s\n", cfg.SpecsDir)
		fmt.Fprintf(out, "session_max_age_hours: %d\n", cfg.SessionMaxAgeHours)
		fmt.Fprintf(out, "pipeline_phase_retries: %d\n", cfg.PipelineMaxRetries)
		fmt.Fprintf(out, "qa_max_iterations: %d\n", cfg.QAMaxIterations)
		fmt.Fprintf(out, "qa_min_fix_confidence: %.2f\n", cfg.QAMinFixConfidence)
		fmt.Fprintf(out, "worktree.branch_prefix: %s\n", cfg.Worktree.BranchPrefix)
		fmt.Fprintf(out, "worktree.base_branch: %s\n", cfg.Worktree.BaseBranch)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configKeysCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}
