package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/backlogd/internal/backlog"
	"github.com/fyrsmithlabs/backlogd/internal/fault"
	"github.com/fyrsmithlabs/backlogd/internal/retry"
	"github.com/fyrsmithlabs/backlogd/internal/session"
)

const instrumentationName = "github.com/fyrsmithlabs/backlogd/internal/orchestrator"

// UnitExecutor is the external collaborator that performs the work of a
// single leaf. It is invoked once per retry attempt; failures should
// distinguish transient from permanent where possible so the retry
// kernel's predicate can classify them.
type UnitExecutor interface {
	Execute(ctx context.Context, leaf *backlog.Subtask) error
}

// Config configures the orchestrator.
type Config struct {
	// ContinueOnError downgrades every failure to non-fatal.
	ContinueOnError bool

	// Retry configures unit-executor retries.
	Retry *retry.Options

	// FlushInterval is the coalescing window for persisted writes.
	// Default: 2 seconds
	FlushInterval time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Retry:         retry.DefaultOptions(),
		FlushInterval: 2 * time.Second,
	}
}

// Result summarizes one orchestration run.
type Result struct {
	// Total is the number of leaves in the backlog.
	Total int

	// Completed counts leaves that reached complete status.
	Completed int

	// Failed counts leaves blocked after exhausted retries.
	Failed int

	// Errors records the non-fatal unit failures, one per blocked leaf.
	Errors []error

	// Interrupted reports that cooperative shutdown stopped scheduling
	// before the backlog was exhausted.
	Interrupted bool
}

// Orchestrator executes a session's backlog leaf-by-leaf.
type Orchestrator struct {
	sessions *session.Manager
	executor UnitExecutor
	config   *Config
	logger   *zap.Logger

	tracer      trace.Tracer
	meter       metric.Meter
	leafCounter metric.Int64Counter
}

// New creates an orchestrator.
func New(sessions *session.Manager, executor UnitExecutor, cfg *Config, logger *zap.Logger) (*Orchestrator, error) {
	if sessions == nil {
		return nil, errors.New("session manager is required")
	}
	if executor == nil {
		return nil, errors.New("unit executor is required")
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Retry == nil {
		cfg.Retry = retry.DefaultOptions()
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = 2 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	o := &Orchestrator{
		sessions: sessions,
		executor: executor,
		config:   cfg,
		logger:   logger,
		tracer:   otel.Tracer(instrumentationName),
		meter:    otel.Meter(instrumentationName),
	}

	var err error
	o.leafCounter, err = o.meter.Int64Counter(
		"backlogd.orchestrator.leaves_total",
		metric.WithDescription("Total number of leaves dispatched"),
		metric.WithUnit("{leaf}"),
	)
	if err != nil {
		o.logger.Warn("failed to create leaf counter", zap.Error(err))
	}

	return o, nil
}

// Run executes every eligible leaf of the session's backlog.
//
// Before any side effect the leaf dependency graph is checked for
// cycles; a cycle aborts the run with a validation error naming the
// cycle's member IDs. A fatal unit failure aborts the run; non-fatal
// failures block the leaf, are recorded on the result, and traversal
// continues with the next eligible leaf.
func (o *Orchestrator) Run(ctx context.Context, s *session.Session) (*Result, error) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.run")
	defer span.End()

	b := s.Backlog
	leaves := b.Leaves()
	result := &Result{Total: len(leaves)}
	span.SetAttributes(attribute.Int("total_leaves", len(leaves)))

	if cycle := backlog.LeafCycle(b); cycle != nil {
		return result, fault.Validation("check_dependencies",
			fmt.Sprintf("dependency cycle: %s", strings.Join(cycle, " -> "))).
			With("cycle", cycle)
	}

	flusher := newFlusher(o.sessions, s, o.config.FlushInterval, o.logger)

	// A bounded number of scheduling passes guards against live-lock.
	maxPasses := 2*len(leaves) + 1

	for pass := 0; pass < maxPasses; pass++ {
		progress := false

		for _, leaf := range leaves {
			if ctx.Err() != nil {
				result.Interrupted = true
				return result, flusher.flush(ctx)
			}
			if leaf.Status == backlog.StatusComplete || leaf.Status == backlog.StatusBlocked {
				continue
			}
			if !o.eligible(b, leaf) {
				continue
			}

			progress = true
			if err := o.dispatch(ctx, b, leaf, result, flusher); err != nil {
				if flushErr := flusher.flush(ctx); flushErr != nil {
					return result, flushErr
				}
				return result, err
			}
		}

		if !progress {
			break
		}
	}

	if err := flusher.flush(ctx); err != nil {
		return result, err
	}

	o.logger.Info("orchestration run finished",
		zap.Int("total", result.Total),
		zap.Int("completed", result.Completed),
		zap.Int("failed", result.Failed),
	)
	return result, nil
}

// eligible reports whether every declared dependency is complete.
func (o *Orchestrator) eligible(b *backlog.Backlog, leaf *backlog.Subtask) bool {
	for _, dep := range leaf.DependsOn {
		d := b.Leaf(dep)
		if d == nil || d.Status != backlog.StatusComplete {
			return false
		}
	}
	return true
}

func (o *Orchestrator) dispatch(ctx context.Context, b *backlog.Backlog, leaf *backlog.Subtask, result *Result, flusher *flusher) error {
	leaf.Status = backlog.StatusInProgress
	b.Reflow(leaf.ID)

	o.logger.Debug("dispatching leaf",
		zap.String("node_id", leaf.ID),
		zap.Int("story_points", leaf.StoryPoints),
	)

	_, err := retry.Do(ctx, o.config.Retry, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, o.executor.Execute(ctx, leaf)
	})

	if err == nil {
		leaf.Status = backlog.StatusComplete
		b.Reflow(leaf.ID)
		result.Completed++
		o.countLeaf(ctx, "complete")
		// Leaf completions must be durable; the flusher coalesces but
		// never drops them.
		return flusher.mark(ctx)
	}

	if ctx.Err() != nil {
		// Shutdown raced the unit. That is not a unit failure: the leaf
		// stays in progress so a resumed run dispatches it again.
		result.Interrupted = true
		o.logger.Info("shutdown during unit, leaving leaf in progress",
			zap.String("node_id", leaf.ID),
		)
		return flusher.mark(ctx)
	}

	leaf.Status = backlog.StatusBlocked
	b.Reflow(leaf.ID)
	result.Failed++
	o.countLeaf(ctx, "blocked")

	// A fatal cause (persistence, environment) must stay visible to the
	// caller's classification, so it is not wrapped in a task error.
	if fault.IsFatal(err, o.config.ContinueOnError) {
		return fmt.Errorf("unit %s failed: %w", leaf.ID, err)
	}

	terr := fault.Task(leaf.ID, err)
	result.Errors = append(result.Errors, terr)
	o.logger.Warn("leaf blocked after exhausted retries", fault.Fields(terr)...)
	return flusher.mark(ctx)
}

func (o *Orchestrator) countLeaf(ctx context.Context, outcome string) {
	if o.leafCounter != nil {
		o.leafCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}
}

// flusher coalesces backlog saves: mutations within the window are
// flushed as a single write, and flush is always called before the run
// returns.
type flusher struct {
	sessions  *session.Manager
	session   *session.Session
	window    time.Duration
	logger    *zap.Logger
	dirty     bool
	lastFlush time.Time
}

func newFlusher(sessions *session.Manager, s *session.Session, window time.Duration, logger *zap.Logger) *flusher {
	return &flusher{
		sessions:  sessions,
		session:   s,
		window:    window,
		logger:    logger,
		lastFlush: time.Now(),
	}
}

func (f *flusher) mark(ctx context.Context) error {
	f.dirty = true
	if time.Since(f.lastFlush) < f.window {
		return nil
	}
	return f.flush(ctx)
}

func (f *flusher) flush(ctx context.Context) error {
	if !f.dirty {
		return nil
	}
	if err := f.sessions.SaveBacklog(ctx, f.session, f.session.Backlog); err != nil {
		return err
	}
	f.dirty = false
	f.lastFlush = time.Now()
	return nil
}
