package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// BackendError is a classified failure of a call to the backend collaborator.
type BackendError struct {
	Code    ErrorCode
	Op      string
	Table   string
	Message string
	Timeout time.Duration
	Cause   error
}

func (e *BackendError) Error() string {
	target := e.Op
	if e.Table != "" {
		target = e.Op + " " + e.Table
	}
	if e.Code == CodeTimeout && e.Timeout > 0 {
		return fmt.Sprintf("%s: %s timed out (limit: %s)", e.Code, target, e.Timeout)
	}
	return fmt.Sprintf("%s: %s: %s", e.Code, target, e.Message)
}

func (e *BackendError) Unwrap() error {
	return e.Cause
}

// Is maps codes onto the sentinel errors so callers can use errors.Is
// without knowing about BackendError.
func (e *BackendError) Is(target error) bool {
	switch target {
	case ErrTimeout:
		return e.Code == CodeTimeout
	case ErrUnavailable:
		return e.Code == CodeUnavailable || e.Code == CodeCircuitOpen
	case ErrNotFound:
		return e.Code == CodeNotFound
	case ErrConflict:
		return e.Code == CodeConflict
	case ErrForbidden:
		return e.Code == CodeForbidden
	}
	return false
}

// Classify inspects err and returns a *BackendError with the matching code.
// An err that is already a *BackendError is returned unchanged.
func Classify(err error, op, table string) *BackendError {
	if err == nil {
		return nil
	}

	var existing *BackendError
	if errors.As(err, &existing) {
		return existing
	}

	be := &BackendError{Op: op, Table: table, Cause: err, Message: err.Error()}

	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, ErrTimeout):
		be.Code = CodeTimeout
		be.Message = "operation timed out"
		return be
	case errors.Is(err, context.Canceled):
		be.Code = CodeCancelled
		be.Message = "operation cancelled"
		return be
	case errors.Is(err, ErrNotFound):
		be.Code = CodeNotFound
		return be
	case errors.Is(err, ErrConflict):
		be.Code = CodeConflict
		return be
	case errors.Is(err, ErrForbidden):
		be.Code = CodeForbidden
		return be
	case errors.Is(err, ErrUnavailable):
		be.Code = CodeUnavailable
		return be
	}

	lower := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lower, "circuit breaker is open"), strings.Contains(lower, "too many requests"):
		be.Code = CodeCircuitOpen
	case strings.Contains(lower, "timeout"), strings.Contains(lower, "deadline exceeded"):
		be.Code = CodeTimeout
	case strings.Contains(lower, "connection refused"), strings.Contains(lower, "no such host"),
		strings.Contains(lower, "503"), strings.Contains(lower, "service unavailable"):
		be.Code = CodeUnavailable
	case strings.Contains(lower, "duplicate key"), strings.Contains(lower, "23505"):
		be.Code = CodeConflict
	case strings.Contains(lower, "row-level security"), strings.Contains(lower, "permission denied"),
		strings.Contains(lower, "42501"):
		be.Code = CodeForbidden
	case strings.Contains(lower, "no rows"), strings.Contains(lower, "pgrst116"):
		be.Code = CodeNotFound
	default:
		be.Code = CodeBackend
	}
	return be
}

// CodeOf returns the classification code of err, or "" for a nil error.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var be *BackendError
	if errors.As(err, &be) {
		return be.Code
	}
	return Classify(err, "", "").Code
}

// IsErrorRetryable returns true if err is likely transient.
func IsErrorRetryable(err error) bool {
	var be *BackendError
	if errors.As(err, &be) {
		return IsRetryable(be.Code)
	}
	return false
}
