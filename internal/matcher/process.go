package matcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

var commandContext = exec.CommandContext

// ProcessMatcher launches the matcher as a child process:
//
//	<command...> <absoluteImagePath> <rollNumber>
//
// Exit status 0 means stdout holds a result; anything else is a failure.
type ProcessMatcher struct {
	command []string
	timeout time.Duration
}

// NewProcessMatcher constructs a process-backed matcher. A zero timeout
// waits for the child indefinitely.
func NewProcessMatcher(command []string, timeout time.Duration) (*ProcessMatcher, error) {
	cleaned := make([]string, 0, len(command))
	for _, part := range command {
		if part = strings.TrimSpace(part); part != "" {
			cleaned = append(cleaned, part)
		}
	}
	if len(cleaned) == 0 {
		return nil, errors.New("matcher command required")
	}
	if timeout < 0 {
		return nil, errors.New("matcher timeout must not be negative")
	}
	return &ProcessMatcher{command: cleaned, timeout: timeout}, nil
}

// Match runs the child to completion and extracts its result. The child is
// detached from ctx cancellation so a client disconnect does not kill an
// in-flight comparison; only the configured timeout bounds it.
func (m *ProcessMatcher) Match(ctx context.Context, imagePath, rollNumber string) (*Result, error) {
	runCtx := context.WithoutCancel(ctx)
	if m.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(runCtx, m.timeout)
		defer cancel()
	}

	args := make([]string, 0, len(m.command)+1)
	args = append(args, m.command[1:]...)
	args = append(args, imagePath, rollNumber)

	cmd := commandContext(runCtx, m.command[0], args...) //nolint:gosec
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = 2 * time.Second

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLaunch, err)
	}
	err := cmd.Wait()
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return nil, &timeoutError{after: m.timeout, stderr: stderr.String()}
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, &ProcessError{
				ExitCode: exitErr.ExitCode(),
				Stdout:   stdout.String(),
				Stderr:   stderr.String(),
			}
		}
		return nil, fmt.Errorf("%w: %w", ErrLaunch, err)
	}

	return Extract(stdout.Bytes())
}

// Check reports whether the matcher binary can be resolved.
func (m *ProcessMatcher) Check() error {
	if _, err := exec.LookPath(m.command[0]); err != nil {
		return fmt.Errorf("matcher binary %q not found: %w", m.command[0], err)
	}
	return nil
}

type timeoutError struct {
	after  time.Duration
	stderr string
}

func (e *timeoutError) Error() string {
	return fmt.Sprintf("%v after %s", ErrTimeout, e.after)
}

func (e *timeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// Stderr returns whatever the child wrote before it was killed.
func (e *timeoutError) Stderr() string {
	return e.stderr
}

var _ Matcher = (*ProcessMatcher)(nil)
