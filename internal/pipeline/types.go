package pipeline

import (
	"context"

	"github.com/fyrsmithlabs/backlogd/internal/backlog"
)

// Phase identifies where a run is in its lifecycle.
type Phase string

const (
	PhaseInit      Phase = "init"
	PhaseDecompose Phase = "decompose"
	PhaseExecute   Phase = "execute"
	PhaseQA        Phase = "qa"

	// Terminal QA outcomes.
	PhaseQAComplete Phase = "qa_complete"
	PhaseQAFailed   Phase = "qa_failed"
)

// Decomposer turns a document snapshot into a populated backlog. Its
// internals are out of scope; errors are classified by the pipeline's
// fatal-error rule.
type Decomposer interface {
	Decompose(ctx context.Context, documentSnapshot []byte) (*backlog.Backlog, error)
}

// Verifier inspects a completed backlog and reports a bug count.
type Verifier interface {
	Verify(ctx context.Context, b *backlog.Backlog) (int, error)
}

// Result is the terminal outcome of one pipeline run.
type Result struct {
	// Success is false iff a fatal condition occurred.
	Success bool

	// SessionPath is the session directory the run operated on.
	SessionPath string

	// Leaf counts accumulated during Execute.
	TotalLeaves     int
	CompletedLeaves int
	FailedLeaves    int

	// FinalPhase is the last phase reached.
	FinalPhase Phase

	// BugsFound is the verifier's bug count from QA.
	BugsFound int

	// Interrupted reports that the run ended via cooperative shutdown.
	Interrupted bool

	// Errors lists recorded non-fatal errors.
	Errors []string
}
