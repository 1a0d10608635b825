package fault

import "errors"

// IsFatal is the single source of truth for whether an error aborts the
// whole pipeline run or is recorded against one unit of work.
//
// When continueOnError is set every error is downgraded to non-fatal,
// including environment errors. That is the documented operator-override
// behavior; see DESIGN.md for the policy discussion.
func IsFatal(err error, continueOnError bool) bool {
	if continueOnError {
		return false
	}

	var fe *Error
	if !errors.As(err, &fe) {
		return false
	}

	switch fe.Kind {
	case KindFatal, KindEnvironment:
		return true
	case KindSession:
		return fe.Code == CodeSessionLoadFailed || fe.Code == CodeSessionSaveFailed
	case KindValidation:
		return fe.Op == OpParseDocument
	default:
		// Task and agent failures are recorded, never fatal.
		return false
	}
}
