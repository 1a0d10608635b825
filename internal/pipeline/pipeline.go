package pipeline

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/backlogd/internal/backlog"
	"github.com/fyrsmithlabs/backlogd/internal/fault"
	"github.com/fyrsmithlabs/backlogd/internal/orchestrator"
	"github.com/fyrsmithlabs/backlogd/internal/retry"
	"github.com/fyrsmithlabs/backlogd/internal/session"
)

const instrumentationName = "github.com/fyrsmithlabs/backlogd/internal/pipeline"

// Config configures a pipeline run.
type Config struct {
	// ContinueOnError downgrades every error to non-fatal, including
	// environment errors. Operator override; see fault.IsFatal.
	ContinueOnError bool

	// MaxBugs is the QA acceptance threshold: more bugs than this and
	// the run ends in QAFailed.
	MaxBugs int

	// Retry configures collaborator-call retries.
	Retry *retry.Options
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		MaxBugs: 0,
		Retry:   retry.DefaultOptions(),
	}
}

// Pipeline composes the session manager, the orchestrator, and the
// external collaborators into the full document-to-execution run.
type Pipeline struct {
	sessions   *session.Manager
	decomposer Decomposer
	executor   orchestrator.UnitExecutor
	verifier   Verifier
	config     *Config
	logger     *zap.Logger
	tracer     trace.Tracer
}

// New creates a pipeline. All collaborators are required.
func New(sessions *session.Manager, decomposer Decomposer, executor orchestrator.UnitExecutor, verifier Verifier, cfg *Config, logger *zap.Logger) (*Pipeline, error) {
	if sessions == nil {
		return nil, errors.New("session manager is required")
	}
	if decomposer == nil {
		return nil, errors.New("decomposer is required")
	}
	if executor == nil {
		return nil, errors.New("unit executor is required")
	}
	if verifier == nil {
		return nil, errors.New("verifier is required")
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Retry == nil {
		cfg.Retry = retry.DefaultOptions()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		sessions:   sessions,
		decomposer: decomposer,
		executor:   executor,
		verifier:   verifier,
		config:     cfg,
		logger:     logger,
		tracer:     otel.Tracer(instrumentationName),
	}, nil
}

// Run drives a document through Init, Decompose, Execute, and QA.
//
// Init errors always abort the run. Later phases classify errors
// through fault.IsFatal: fatal errors propagate out as the terminal
// result, non-fatal errors are recorded and the run continues. Context
// cancellation is observed between phases; the result then carries the
// interrupted flag and whatever state was reached.
func (p *Pipeline) Run(ctx context.Context, documentPath string) (*Result, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.run")
	defer span.End()
	span.SetAttributes(attribute.String("document_path", documentPath))

	// Init. Any error here is fatal regardless of classification.
	delta, err := p.sessions.DetectDelta(ctx, documentPath)
	if err != nil {
		p.logger.Error("session initialization failed", fault.Fields(err)...)
		return &Result{FinalPhase: PhaseInit}, err
	}
	return p.RunSession(ctx, delta.Session)
}

// RunSession runs the phases after Init against an already initialized
// session, so callers that performed their own delta detection do not
// load the session a second time.
func (p *Pipeline) RunSession(ctx context.Context, s *session.Session) (*Result, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.run_session")
	defer span.End()

	result := &Result{Success: true, FinalPhase: PhaseInit}
	if s == nil {
		result.Success = false
		return result, errors.New("session is required")
	}
	result.SessionPath = s.Dir
	span.SetAttributes(attribute.String("session_dir", s.Dir))

	if p.interrupted(ctx, result) {
		return result, nil
	}

	// Decompose.
	result.FinalPhase = PhaseDecompose
	if s.Backlog.Empty() {
		if err := p.decompose(ctx, s); err != nil {
			if fault.IsFatal(err, p.config.ContinueOnError) {
				p.logger.Error("decomposition failed", fault.Fields(err)...)
				result.Success = false
				return result, err
			}
			// No finer granularity than the whole phase: record the
			// error and move on.
			p.logger.Warn("decomposition failed, continuing", fault.Fields(err)...)
			result.Errors = append(result.Errors, err.Error())
		}
	}

	if p.interrupted(ctx, result) {
		return result, nil
	}

	// Execute.
	result.FinalPhase = PhaseExecute
	ores, err := p.execute(ctx, s)
	if ores != nil {
		result.TotalLeaves = ores.Total
		result.CompletedLeaves = ores.Completed
		result.FailedLeaves = ores.Failed
		for _, uerr := range ores.Errors {
			result.Errors = append(result.Errors, uerr.Error())
		}
		if ores.Interrupted {
			result.Interrupted = true
			return result, nil
		}
	}
	if err != nil {
		if fault.IsFatal(err, p.config.ContinueOnError) {
			p.logger.Error("execution failed", fault.Fields(err)...)
			result.Success = false
			return result, err
		}
		p.logger.Warn("execution error recorded", fault.Fields(err)...)
		result.Errors = append(result.Errors, err.Error())
	}

	if p.interrupted(ctx, result) {
		return result, nil
	}

	// QA.
	result.FinalPhase = PhaseQA
	bugs, err := retry.Do(ctx, p.config.Retry, func(ctx context.Context) (int, error) {
		n, verr := p.verifier.Verify(ctx, s.Backlog)
		if verr != nil {
			return 0, fault.Agent("verifier", verr)
		}
		return n, nil
	})
	if err != nil {
		if fault.IsFatal(err, p.config.ContinueOnError) {
			p.logger.Error("verification failed", fault.Fields(err)...)
			result.Success = false
			return result, err
		}
		p.logger.Warn("verification failed, recording", fault.Fields(err)...)
		result.Errors = append(result.Errors, err.Error())
		result.FinalPhase = PhaseQAFailed
		return result, nil
	}

	result.BugsFound = bugs
	if bugs <= p.config.MaxBugs {
		result.FinalPhase = PhaseQAComplete
	} else {
		result.FinalPhase = PhaseQAFailed
	}

	p.logger.Info("pipeline run finished",
		zap.String("final_phase", string(result.FinalPhase)),
		zap.Int("completed", result.CompletedLeaves),
		zap.Int("failed", result.FailedLeaves),
		zap.Int("bugs_found", result.BugsFound),
	)
	return result, nil
}

// decompose invokes the external decomposer, validates its output as if
// parsing the input document, and persists the populated backlog.
func (p *Pipeline) decompose(ctx context.Context, s *session.Session) error {
	b, err := retry.Do(ctx, p.config.Retry, func(ctx context.Context) (*backlog.Backlog, error) {
		out, derr := p.decomposer.Decompose(ctx, s.Snapshot)
		if derr != nil {
			return nil, fault.Agent("decomposer", derr)
		}
		return out, nil
	})
	if err != nil {
		return err
	}

	// Structural violations in decomposer output abort the run; this is
	// the one validation path classified as fatal.
	if err := backlog.Validate(b, fault.OpParseDocument); err != nil {
		return err
	}
	if err := p.sessions.SaveBacklog(ctx, s, b); err != nil {
		return err
	}

	p.logger.Info("backlog decomposed",
		zap.String("session", s.Name()),
		zap.Int("leaves", len(b.Leaves())),
	)
	return nil
}

func (p *Pipeline) execute(ctx context.Context, s *session.Session) (*orchestrator.Result, error) {
	orch, err := orchestrator.New(p.sessions, p.executor, &orchestrator.Config{
		ContinueOnError: p.config.ContinueOnError,
		Retry:           p.config.Retry,
	}, p.logger)
	if err != nil {
		return nil, fault.Fatal("failed to construct orchestrator", err)
	}
	return orch.Run(ctx, s)
}

// interrupted marks the result when cooperative shutdown was requested.
// A second interrupt while shutdown is in progress is a no-op: the
// context is already canceled.
func (p *Pipeline) interrupted(ctx context.Context, result *Result) bool {
	if ctx.Err() == nil {
		return false
	}
	p.logger.Info("shutdown requested, stopping before next phase",
		zap.String("phase", string(result.FinalPhase)),
	)
	result.Interrupted = true
	return true
}
