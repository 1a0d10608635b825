package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/backlogd/internal/collab"
	"github.com/fyrsmithlabs/backlogd/internal/config"
	"github.com/fyrsmithlabs/backlogd/internal/fault"
	"github.com/fyrsmithlabs/backlogd/internal/logging"
	"github.com/fyrsmithlabs/backlogd/internal/pipeline"
	"github.com/fyrsmithlabs/backlogd/internal/retry"
	"github.com/fyrsmithlabs/backlogd/internal/session"
)

var (
	flagSessionRoot     string
	flagContinueOnError bool
	flagWatch           bool
)

var runCmd = &cobra.Command{
	Use:   "run <document>",
	Short: "Run the full pipeline against a requirements document",
	Long: `Run drives a requirements document through the four-phase lifecycle:
session init, decomposition, execution, and QA.

The first run against a document creates a session directory under the
session root; later runs against the same document resume it, and runs
against a changed document create a new session linked to its
predecessor.

Examples:
  # Run with collaborators from the config file
  backlogd run requirements.md

  # Record unit failures without aborting the run
  backlogd run --continue-on-error requirements.md

  # Keep running: start a new run whenever the document changes
  backlogd run --watch requirements.md`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&flagSessionRoot, "sessions", "", "session root directory (overrides config)")
	runCmd.Flags().BoolVar(&flagContinueOnError, "continue-on-error", false, "record failures instead of aborting")
	runCmd.Flags().BoolVar(&flagWatch, "watch", false, "rerun whenever the document changes")
}

func runRun(cmd *cobra.Command, args []string) error {
	documentPath := args[0]

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if flagSessionRoot != "" {
		cfg.SessionRoot = flagSessionRoot
	}
	if flagContinueOnError {
		cfg.ContinueOnError = true
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if cfg.Collaborators.Decompose == "" || cfg.Collaborators.Execute == "" || cfg.Collaborators.Verify == "" {
		return fault.Environment("collaborators.decompose, collaborators.execute, and collaborators.verify must all be configured")
	}

	sessions, err := session.NewManager(cfg.SessionRoot, logger.Named("session"))
	if err != nil {
		return err
	}

	retryOpts := &retry.Options{
		MaxAttempts:   cfg.Retry.MaxAttempts,
		BaseDelay:     cfg.Retry.BaseDelay,
		MaxDelay:      cfg.Retry.MaxDelay,
		BackoffFactor: cfg.Retry.BackoffFactor,
		JitterFactor:  cfg.Retry.JitterFactor,
		Logger:        logger.Named("retry"),
	}

	// ArtifactDir is bound per-run once the session is known; the
	// executor resolves it lazily through this indirection.
	var activeSession *session.Session
	executor := collab.NewCommandExecutor(cfg.Collaborators.Execute, logger.Named("executor"),
		func(nodeID string) (string, error) {
			if activeSession == nil {
				return "", fault.Environment("no active session for artifact directory")
			}
			return activeSession.ArtifactDir(nodeID)
		})

	pipe, err := pipeline.New(
		sessions,
		collab.NewCommandDecomposer(cfg.Collaborators.Decompose, logger.Named("decomposer")),
		executor,
		collab.NewCommandVerifier(cfg.Collaborators.Verify, logger.Named("verifier")),
		&pipeline.Config{
			ContinueOnError: cfg.ContinueOnError,
			MaxBugs:         cfg.QA.MaxBugs,
			Retry:           retryOpts,
		},
		logger.Named("pipeline"),
	)
	if err != nil {
		return err
	}

	// Cooperative shutdown: the first interrupt cancels the context and
	// lets the in-flight unit finish; further interrupts are no-ops
	// while the context is already canceled.
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The session is detected once here and handed to the pipeline, which
	// then skips its own Init load.
	runOnce := func() (*pipeline.Result, error) {
		delta, err := sessions.DetectDelta(ctx, documentPath)
		if err != nil {
			logger.Error("session setup failed", fault.Fields(err)...)
			return nil, err
		}
		activeSession = delta.Session
		if delta.Changed {
			logger.Info("document changed, created delta session",
				zap.String("session", delta.Session.Name()),
				zap.Int("node_changes", len(delta.Changes)),
			)
		}

		result, err := pipe.RunSession(ctx, delta.Session)
		if err != nil {
			logger.Error("pipeline run failed", fault.Fields(err)...)
		}
		printResult(result)
		return result, err
	}

	if !flagWatch {
		result, err := runOnce()
		switch {
		case err != nil:
			return err
		case !result.Success:
			return fmt.Errorf("run failed in phase %s", result.FinalPhase)
		case result.Interrupted:
			return fmt.Errorf("run interrupted before completion")
		default:
			return nil
		}
	}

	// Watch mode: run now, then start a fresh run on every document
	// content change until interrupted.
	doc, err := os.ReadFile(documentPath)
	if err != nil {
		return fmt.Errorf("failed to read document %s: %w", documentPath, err)
	}
	watcher, err := session.NewWatcher(documentPath, session.HashDocument(doc), logger.Named("watcher"))
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()
	go func() { _ = watcher.Run(ctx) }()

	for {
		if _, err := runOnce(); err != nil && fault.IsFatal(err, cfg.ContinueOnError) {
			return err
		}

		select {
		case ev, ok := <-watcher.Events():
			if !ok {
				return nil
			}
			logger.Info("document changed, starting new run",
				zap.String("old_hash", ev.OldHash),
				zap.String("new_hash", ev.NewHash),
			)
		case <-ctx.Done():
			return nil
		}
	}
}

func printResult(r *pipeline.Result) {
	if r == nil {
		return
	}
	fmt.Printf("session:    %s\n", r.SessionPath)
	fmt.Printf("phase:      %s\n", r.FinalPhase)
	fmt.Printf("leaves:     %d total, %d completed, %d failed\n", r.TotalLeaves, r.CompletedLeaves, r.FailedLeaves)
	if r.FinalPhase == pipeline.PhaseQAComplete || r.FinalPhase == pipeline.PhaseQAFailed {
		fmt.Printf("bugs found: %d\n", r.BugsFound)
	}
	if r.Interrupted {
		fmt.Println("run interrupted by shutdown request")
	}
	for _, e := range r.Errors {
		fmt.Printf("recorded error: %s\n", e)
	}
}
