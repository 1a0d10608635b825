package fault

import (
	"fmt"
	"time"
)

// Kind categorizes an error by the component responsibility it violates.
type Kind string

const (
	// KindSession indicates a persistence load/save failure.
	KindSession Kind = "session"

	// KindValidation indicates a structural validation failure.
	KindValidation Kind = "validation"

	// KindTask indicates a single unit of work failed.
	KindTask Kind = "task"

	// KindAgent indicates an external collaborator call failed.
	KindAgent Kind = "agent"

	// KindEnvironment indicates missing or invalid configuration.
	KindEnvironment Kind = "environment"

	// KindFatal is an explicit unrecoverable marker.
	KindFatal Kind = "fatal"
)

// Stable machine-readable error codes.
const (
	CodeSessionLoadFailed = "session_load_failed"
	CodeSessionSaveFailed = "session_save_failed"
	CodeSessionScanFailed = "session_scan_failed"
	CodeValidationFailed  = "validation_failed"
	CodeTaskFailed        = "task_failed"
	CodeAgentCallFailed   = "agent_call_failed"
	CodeRetryExhausted    = "retry_exhausted"
	CodeEnvironmentBad    = "environment_invalid"
	CodeShutdown          = "shutdown_requested"
)

// Operation names attached to validation errors. OpParseDocument is the
// one operation whose validation failures abort the whole run.
const (
	OpParseDocument = "parse_document"
	OpParseBacklog  = "parse_backlog"
	OpSaveBacklog   = "save_backlog"
)

// Error is the structured error shared by every backlogd component.
type Error struct {
	Kind      Kind
	Code      string
	Op        string
	Message   string
	Context   map[string]any
	Timestamp time.Time
	Err       error
}

// New creates an error of the given kind with a stable code.
func New(kind Kind, code, message string) *Error {
	return &Error{
		Kind:      kind,
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// Wrap creates an error of the given kind wrapping an underlying cause.
func Wrap(kind Kind, code, message string, err error) *Error {
	e := New(kind, code, message)
	e.Err = err
	return e
}

// Session creates a persistence error. Load and save failure codes are
// the only session codes classified as fatal.
func Session(code, message string, err error) *Error {
	return Wrap(KindSession, code, message, err)
}

// Validation creates a structural validation error tagged with the
// operation that triggered it.
func Validation(op, message string) *Error {
	e := New(KindValidation, CodeValidationFailed, message)
	e.Op = op
	return e
}

// Task records the failure of a single unit of work. Never fatal. The
// node ID is part of the message so flattened error strings still name
// the failing leaf.
func Task(nodeID string, err error) *Error {
	e := Wrap(KindTask, CodeTaskFailed, fmt.Sprintf("unit of work %s failed", nodeID), err)
	return e.With("node_id", nodeID)
}

// Agent records a failed external collaborator call. Never fatal.
func Agent(collaborator string, err error) *Error {
	e := Wrap(KindAgent, CodeAgentCallFailed, "collaborator call failed", err)
	return e.With("collaborator", collaborator)
}

// Environment creates an unrecoverable configuration error.
func Environment(message string) *Error {
	return New(KindEnvironment, CodeEnvironmentBad, message)
}

// Fatal creates an explicit unrecoverable error.
func Fatal(message string, err error) *Error {
	return Wrap(KindFatal, string(KindFatal), message, err)
}

// With attaches a context value and returns the error for chaining.
func (e *Error) With(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// WithOp tags the error with the operation that triggered it.
func (e *Error) WithOp(op string) *Error {
	e.Op = op
	return e
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s [%s]: %s: %v", e.Code, e.Op, e.Message, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s [%s]: %s", e.Code, e.Op, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
}

// Unwrap allows errors.Is and errors.As to reach the cause.
func (e *Error) Unwrap() error {
	return e.Err
}
