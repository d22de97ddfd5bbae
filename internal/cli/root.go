// Package cli wires the taskloop engine to a thin cobra command surface.
// All engine behavior lives in the internal core packages; commands here
// only parse flags, assemble the engine, and format results.
package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/taskloop-dev/taskloop/internal/collab"
	"github.com/taskloop-dev/taskloop/internal/config"
	"github.com/taskloop-dev/taskloop/internal/discovery"
	"github.com/taskloop-dev/taskloop/internal/errors"
	"github.com/taskloop-dev/taskloop/internal/git"
	"github.com/taskloop-dev/taskloop/internal/pipeline"
	"github.com/taskloop-dev/taskloop/internal/pipeline/phases"
	"github.com/taskloop-dev/taskloop/internal/qa"
	"github.com/taskloop-dev/taskloop/internal/session"
	"github.com/taskloop-dev/taskloop/internal/worktree"
)

// Exit codes for programmatic composition and CI integration.
const (
	ExitSuccess          = 0
	ExitFailure          = 1
	ExitInvalidArguments = 3
	ExitPrerequisite     = 4
)

var rootCmd = &cobra.Command{
	Use:   "taskloop",
	Short: "Autonomous multi-phase engineering task engine",
	Long: `taskloop drives natural-language engineering tasks through a spec
pipeline and an iterative QA loop, coordinating isolated Git worktrees so
multiple tasks can proceed concurrently against one repository.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command, formatting structured errors.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		if cliErr := errors.AsCLIError(err); cliErr != nil {
			errors.PrintError(cliErr)
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		return err
	}
	return nil
}

// engine bundles everything a command needs.
type engine struct {
	cfg          *config.Configuration
	repoRoot     string
	stateDir     string
	specsRoot    string
	orchestrator *session.Orchestrator
	worktrees    worktree.Manager
	runner       *session.Runner
}

// buildEngine assembles the engine from configuration and the current
// repository.
func buildEngine() (*engine, error) {
	cfg, err := config.Load("")
	if err != nil {
		return nil, errors.Wrap(err, errors.Configuration)
	}

	repo, err := git.Open("")
	if err != nil {
		return nil, errors.NewPrerequisiteError(
			"taskloop must run inside a git repository",
			"cd into your project and try again",
		)
	}
	repoRoot := repo.Root()

	stateDir := cfg.StateDir
	if !filepath.IsAbs(stateDir) {
		stateDir = filepath.Join(repoRoot, stateDir)
	}
	specsRoot := cfg.SpecsDir
	if !filepath.IsAbs(specsRoot) {
		specsRoot = filepath.Join(repoRoot, specsRoot)
	}

	store := session.NewStore(filepath.Join(stateDir, "sessions"))
	orchestrator := session.NewOrchestrator(store)
	manager := worktree.NewManager(&cfg.Worktree, stateDir, repoRoot)

	indexCache := discovery.NewProjectIndexCache(&discovery.Scanner{}, stateDir, cfg.DiscoveryCacheTTLDuration())
	registry := pipeline.NewRegistry()
	registry.Register(&phases.Discovery{Cache: indexCache})
	registry.Register(&phases.Requirements{})
	registry.Register(&phases.Complexity{})
	registry.Register(&phases.ContextResolver{})
	registry.Register(&phases.Impact{})
	registry.Register(&phases.SpecWriter{})
	registry.Register(&phases.Validation{})
	if err := registry.LoadTierOverrides(filepath.Join(repoRoot, ".taskloop", "phases.yml")); err != nil {
		return nil, errors.Wrap(err, errors.Configuration)
	}

	checks, err := qa.LoadChecks(filepath.Join(repoRoot, ".taskloop", "checks.yml"))
	if err != nil {
		return nil, errors.Wrap(err, errors.Configuration)
	}
	reviewer := &qa.StaticReviewer{
		Checks: checks,
		Tests:  &qa.SubprocessTestRunner{Timeout: cfg.QATestTimeoutDuration()},
	}

	runner := &session.Runner{
		Orchestrator: orchestrator,
		Pipeline:     pipeline.NewRunner(registry),
		Worktrees:    manager,
		Reviewer:     reviewer,
		Fixer:        &qa.HeuristicFixer{},
		RepoRoot:     repoRoot,
		SpecsRoot:    specsRoot,
		QAConfig: qa.Config{
			MaxIterations:        cfg.QAMaxIterations,
			MaxConsecutiveErrors: cfg.QAMaxConsecutiveErrors,
			RecurringThreshold:   cfg.QARecurringThreshold,
			AutoApply:            true,
			MinFixConfidence:     cfg.QAMinFixConfidence,
		},
		PipelineOpts: pipeline.Options{
			MaxRetries: cfg.PipelineMaxRetries,
			RetryDelay: cfg.PipelinePhaseDelayDuration(),
		},
	}

	return &engine{
		cfg:          cfg,
		repoRoot:     repoRoot,
		stateDir:     stateDir,
		specsRoot:    specsRoot,
		orchestrator: orchestrator,
		worktrees:    manager,
		runner:       runner,
	}, nil
}

// tokenProvider builds the default auth token chain; commands that need an
// LLM check the token up front so the failure is immediate and actionable.
func tokenProvider() *collab.ChainTokenProvider {
	configDir, err := config.UserConfigDir()
	if err != nil {
		configDir = ""
	}
	return collab.NewChainTokenProvider(nil, "taskloop", configDir)
}
