// Package fault defines the shared error taxonomy for backlogd.
//
// Every component reports failures as a *fault.Error carrying a kind, a
// stable machine-readable code, the operation that triggered it, an
// optional context map, and a wrapped cause. Fatal classification is
// centralized in IsFatal so the pipeline, orchestrator, and session
// manager never diverge on what aborts a run.
//
// Context maps are sanitized before they are logged or serialized:
// sensitive keys are redacted, nested errors are reduced to name/message
// pairs, and unserializable or cyclic values are replaced with fixed
// placeholders.
package fault
