package verification

import (
	"errors"
	"fmt"

	"facerecog/internal/matcher"
)

// Kind classifies a failed verification. Each kind maps to exactly one HTTP
// response.
type Kind string

const (
	KindMissingUpload        Kind = "MissingUpload"
	KindMissingRollNumber    Kind = "MissingRollNumber"
	KindInvokerError         Kind = "InvokerError"
	KindMatcherProcessFailed Kind = "MatcherProcessFailed"
	KindResultNotFound       Kind = "ResultNotFound"
	KindResultMalformed      Kind = "ResultMalformed"
	KindSubjectNotFound      Kind = "SubjectNotFound"
	KindStoreError           Kind = "StoreError"
	KindTimeout              Kind = "Timeout"
	KindInternal             Kind = "Internal"
)

// Stage is the last state a request reached.
type Stage string

const (
	StageReceived   Stage = "received"
	StageUploaded   Stage = "uploaded"
	StageInvoked    Stage = "invoked"
	StageExtracted  Stage = "extracted"
	StageReconciled Stage = "reconciled"
	StageResponded  Stage = "responded"
)

// Error is the terminal failure of one verification request.
type Error struct {
	Kind      Kind
	Stage     Stage
	RequestID string
	Err       error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("verification %s at %s", e.Kind, e.Stage)
	}
	return fmt.Sprintf("verification %s at %s: %v", e.Kind, e.Stage, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind carried by err, or KindInternal for anything that
// is not a *Error.
func KindOf(err error) Kind {
	var verr *Error
	if errors.As(err, &verr) {
		return verr.Kind
	}
	return KindInternal
}

// classifyMatch maps a matcher error to a kind and the stage the request had
// reached. Extraction failures happen after the process ran.
func classifyMatch(err error) (Kind, Stage) {
	switch {
	case errors.Is(err, matcher.ErrTimeout):
		return KindTimeout, StageUploaded
	case errors.Is(err, matcher.ErrResultMalformed):
		return KindResultMalformed, StageInvoked
	case errors.Is(err, matcher.ErrResultNotFound):
		return KindResultNotFound, StageInvoked
	case errors.Is(err, matcher.ErrProcessFailed):
		return KindMatcherProcessFailed, StageUploaded
	default:
		return KindInvokerError, StageUploaded
	}
}
