package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/taskloop-dev/taskloop/internal/errors"
	"github.com/taskloop-dev/taskloop/internal/model"
	"github.com/taskloop-dev/taskloop/internal/output"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage task sessions",
}

var sessionStartCmd = &cobra.Command{
	Use:   "start \"<task description>\"",
	Short: "Create a session and drive it through the pipeline and QA loop",
	Args: func(cmd *cobra.Command, args []string) error {
		if len(args) != 1 || args[0] == "" {
			return errors.MissingTaskDescription()
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := buildEngine()
		if err != nil {
			return err
		}

		sess, err := eng.orchestrator.Create(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Created session %s\n", sess.ID)

		// Ctrl-C cancels cooperatively; the session lands in cancelled
		// with consistent on-disk state.
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		caps := output.DetectTerminalCapabilities()
		spin := output.NewSpinner(caps, " driving session")
		spin.Start()
		result, err := eng.runner.Run(ctx, sess.ID)
		spin.Stop()
		if result != nil && result.SpecID != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "Spec: %s\n", result.SpecID)
		}
		if err != nil {
			return err
		}

		final := result.Session
		fmt.Fprintf(cmd.OutOrStdout(), "Session %s finished: %s (%s)\n", final.ID, final.State, final.Result)
		if result.Summary != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "Duration %s, %d message(s), %d error(s), artifacts: %v\n",
				result.Summary.Duration.Round(time.Second), result.Summary.MessageCount,
				result.Summary.ErrorCount, result.Summary.ArtifactKeys)
		}
		if final.State != model.SessionCompleted {
			return errors.NewEngineError(errors.Warning, fmt.Sprintf("session ended in state %s", final.State))
		}
		return nil
	},
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List active sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := buildEngine()
		if err != nil {
			return err
		}
		active, err := eng.orchestrator.ActiveSessions()
		if err != nil {
			return err
		}
		if len(active) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No active sessions")
			return nil
		}
		for _, sess := range active {
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %-9s  %-10s  %s\n", sess.ID, sess.State, sess.Phase, sess.Task)
		}
		return nil
	},
}

var sessionShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show one session's record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := buildEngine()
		if err != nil {
			return err
		}
		sess, err := eng.orchestrator.Get(args[0])
		if err != nil {
			return errors.SessionNotFound(args[0])
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "ID:      %s\n", sess.ID)
		fmt.Fprintf(out, "Task:    %s\n", sess.Task)
		fmt.Fprintf(out, "State:   %s\n", sess.State)
		fmt.Fprintf(out, "Phase:   %s\n", sess.Phase)
		if sess.SpecID != "" {
			fmt.Fprintf(out, "Spec:    %s\n", sess.SpecID)
		}
		fmt.Fprintf(out, "Created: %s\n", sess.CreatedAt.Format(time.RFC3339))
		if sess.Result != "" {
			fmt.Fprintf(out, "Result:  %s\n", sess.Result)
		}
		fmt.Fprintf(out, "Messages: %d, Errors: %d\n", len(sess.Messages), len(sess.Errors))
		return nil
	},
}

func sessionTransitionCmd(use, short string, fn func(eng *engine, id string) (*model.Session, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <session-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := buildEngine()
			if err != nil {
				return err
			}
			sess, err := fn(eng, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Session %s is now %s\n", sess.ID, sess.State)
			return nil
		},
	}
}

var sessionCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Force-fail sessions older than the configured maximum age",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := buildEngine()
		if err != nil {
			return err
		}
		maxAge := time.Duration(eng.cfg.SessionMaxAgeHours) * time.Hour
		timedOut, err := eng.orchestrator.CleanupStale(maxAge)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Timed out %d session(s)\n", len(timedOut))
		for _, id := range timedOut {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", id)
		}
		return nil
	},
}

func init() {
	sessionCmd.AddCommand(sessionStartCmd)
	sessionCmd.AddCommand(sessionListCmd)
	sessionCmd.AddCommand(sessionShowCmd)
	sessionCmd.AddCommand(sessionTransitionCmd("pause", "Pause a running session",
		func(eng *engine, id string) (*model.Session, error) { return eng.orchestrator.Pause(id) }))
	sessionCmd.AddCommand(sessionTransitionCmd("resume", "Resume a paused session",
		func(eng *engine, id string) (*model.Session, error) { return eng.orchestrator.Resume(id) }))
	sessionCmd.AddCommand(sessionTransitionCmd("cancel", "Cancel a live session",
		func(eng *engine, id string) (*model.Session, error) {
			return eng.orchestrator.Cancel(id, "cancelled by operator")
		}))
	sessionCmd.AddCommand(sessionCleanupCmd)
	rootCmd.AddCommand(sessionCmd)
}
