package domain

import (
	"errors"
	"fmt"
)

// ErrSubmissionExhausted is returned when tool outputs could not be submitted
// within the configured number of attempts.
var ErrSubmissionExhausted = errors.New("tool output submission retries exhausted")

// ValidationError reports a bad request from the caller.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// UpstreamError reports an unrecoverable failure from the assistants API
// or a run that terminated unsuccessfully.
type UpstreamError struct {
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *UpstreamError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("upstream %s failed (status %d): %s", e.Op, e.StatusCode, msg)
	}
	return fmt.Sprintf("upstream %s failed: %s", e.Op, msg)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// ToolExecutionError kinds.
const (
	ToolErrNotFound    = "not_found"
	ToolErrInvalidArgs = "invalid_arguments"
	ToolErrPolicy      = "policy"
	ToolErrExecution   = "execution"
	ToolErrPanic       = "panic"
)

// ToolExecutionError describes why a single tool call failed. It never
// escapes the tool executor; it is rendered into the tool output instead.
type ToolExecutionError struct {
	ToolName   string
	ToolCallID string
	Kind       string
	Err        error
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("tool %s (%s): %v", e.ToolName, e.Kind, e.Err)
}

func (e *ToolExecutionError) Unwrap() error { return e.Err }

// TransportError reports a downstream connection problem.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsUpstream reports whether err is an UpstreamError.
func IsUpstream(err error) bool {
	var u *UpstreamError
	return errors.As(err, &u)
}

// ErrorType returns a short machine-readable kind for err.
func ErrorType(err error) string {
	switch {
	case err == nil:
		return ""
	case IsValidation(err):
		return "validation_error"
	case errors.Is(err, ErrSubmissionExhausted):
		return "submission_exhausted"
	case IsUpstream(err):
		return "upstream_error"
	}
	var t *TransportError
	if errors.As(err, &t) {
		return "transport_error"
	}
	return "internal_error"
}
