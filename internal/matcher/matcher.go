// Package matcher runs the external face comparison capability and turns its
// output into a Result.
package matcher

import (
	"context"
	"errors"
	"fmt"
)

// Result is the decision reported by the matcher for one probe image.
type Result struct {
	Success    bool
	RollNumber string
	Distance   float64
	Message    string
}

// Matcher compares a stored probe image against the reference for a roll number.
type Matcher interface {
	Match(ctx context.Context, imagePath, rollNumber string) (*Result, error)
}

var (
	// ErrLaunch means the matcher could not be started at all.
	ErrLaunch = errors.New("matcher launch failed")
	// ErrProcessFailed means the matcher ran but reported failure.
	ErrProcessFailed = errors.New("matcher process failed")
	// ErrTimeout means the matcher did not finish within the configured bound.
	ErrTimeout = errors.New("matcher timed out")
	// ErrResultNotFound means the output held no {...} span.
	ErrResultNotFound = errors.New("matcher result not found in output")
	// ErrResultMalformed means the {...} span could not be decoded.
	ErrResultMalformed = errors.New("matcher result malformed")
)

// ProcessError carries the captured streams of a failed matcher run. For the
// HTTP backend ExitCode holds the response status and Stderr the response body.
type ProcessError struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

func (e *ProcessError) Error() string {
	return fmt.Sprintf("matcher exited with code %d", e.ExitCode)
}

// Is lets errors.Is(err, ErrProcessFailed) match.
func (e *ProcessError) Is(target error) bool {
	return target == ErrProcessFailed
}

// MalformedError keeps the raw output around for operators.
type MalformedError struct {
	Raw string
	Err error
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("%v: %v", ErrResultMalformed, e.Err)
}

func (e *MalformedError) Unwrap() []error {
	return []error{ErrResultMalformed, e.Err}
}
