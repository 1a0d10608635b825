// Package pipeline sequences the four-phase lifecycle of a run:
// Init, Decompose, Execute, QA.
//
// Init creates or reopens the session and any failure there aborts the
// run. Decompose fills an empty backlog through the external decomposer
// and persists it. Execute hands the backlog to the orchestrator. QA
// obtains a bug count from the external verifier and closes the run as
// QAComplete or QAFailed. Every phase classifies its errors through
// fault.IsFatal; non-fatal errors are recorded on the result and the run
// continues. Shutdown is cooperative: context cancellation is observed
// between phases and between leaves, the in-flight unit finishes, state
// is persisted, and the result carries an interrupted flag.
package pipeline
