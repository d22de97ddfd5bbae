package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/taskloop-dev/taskloop/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "taskloop %s (commit %s, built %s)\n",
			version.Version, version.Commit, version.BuildDate)
	},
}

var authCheckCmd = &cobra.Command{
	Use:   "auth-check",
	Short: "Verify an LLM auth token is discoverable",
	RunE: func(cmd *cobra.Command, args []string) error {
		provider := tokenProvider()
		if _, err := provider.Token(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Token found")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(authCheckCmd)
}
