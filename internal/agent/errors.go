package agent

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/kodu-ai/kodu/internal/protocol"
)

// ErrorKind classifies task-level failures for retry policy.
type ErrorKind string

const (
	ErrorKindAPI             ErrorKind = "API_ERROR"
	ErrorKindUnauthorized    ErrorKind = "UNAUTHORIZED"
	ErrorKindPaymentRequired ErrorKind = "PAYMENT_REQUIRED"
	ErrorKindTool            ErrorKind = "TOOL_ERROR"
	ErrorKindUnknown         ErrorKind = "UNKNOWN_ERROR"
)

// TaskError is a classified failure surfaced by the task executor.
type TaskError struct {
	Kind    ErrorKind
	Status  int
	Message string
}

func (e *TaskError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s (%d): %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Retryable reports whether retrying the request can possibly succeed.
// Payment and authentication failures need out-of-band user action first.
func (e *TaskError) Retryable() bool {
	switch e.Kind {
	case ErrorKindPaymentRequired, ErrorKindUnauthorized:
		return false
	default:
		return true
	}
}

// ClassifyErrorFrame maps a protocol error frame to a TaskError.
func ClassifyErrorFrame(f *protocol.ErrorFrame) *TaskError {
	kind := ErrorKindAPI
	switch f.Status {
	case http.StatusUnauthorized:
		kind = ErrorKindUnauthorized
	case http.StatusPaymentRequired:
		kind = ErrorKindPaymentRequired
	}
	return &TaskError{Kind: kind, Status: f.Status, Message: f.Msg}
}

// ClassifyError wraps an arbitrary error as a TaskError, passing through
// errors that are already classified.
func ClassifyError(err error) *TaskError {
	var te *TaskError
	if errors.As(err, &te) {
		return te
	}
	return &TaskError{Kind: ErrorKindUnknown, Message: err.Error()}
}
