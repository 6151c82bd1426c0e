// Package errors provides common domain error types for teamdesk.
//
// This package defines sentinel errors for conditions like "not found" or
// "timeout" that can be used across all packages, plus a classified error
// type for failures reported by the backend collaborator.
//
// Usage:
//
//	import tderrors "github.com/otherjamesbrown/teamdesk/pkg/errors"
//
//	// Return a domain error
//	return nil, tderrors.ErrNotFound
//
//	// Check for domain errors
//	if tderrors.IsTimeout(err) {
//	    // the backend call exceeded its deadline
//	}
package errors

import "errors"

// Domain errors - common sentinel errors for domain conditions.
var (
	// ErrNotFound indicates the requested row was not found.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates a conflict with existing data (e.g., duplicate key).
	ErrConflict = errors.New("conflict")

	// ErrValidation indicates invalid input or validation failure.
	ErrValidation = errors.New("validation error")

	// ErrUnauthorized indicates there is no signed-in user.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden indicates the signed-in user lacks permission.
	ErrForbidden = errors.New("forbidden")

	// ErrInvalidState indicates the operation is not valid for the current state.
	ErrInvalidState = errors.New("invalid state")

	// ErrTimeout indicates a backend call did not complete within its deadline.
	ErrTimeout = errors.New("timeout")

	// ErrUnavailable indicates the backend cannot currently serve requests.
	ErrUnavailable = errors.New("backend unavailable")
)

// IsNotFound reports whether any error in err's chain is ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict reports whether any error in err's chain is ErrConflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsValidation reports whether any error in err's chain is ErrValidation.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsUnauthorized reports whether any error in err's chain is ErrUnauthorized.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

// IsForbidden reports whether any error in err's chain is ErrForbidden.
func IsForbidden(err error) bool {
	return errors.Is(err, ErrForbidden)
}

// IsInvalidState reports whether any error in err's chain is ErrInvalidState.
func IsInvalidState(err error) bool {
	return errors.Is(err, ErrInvalidState)
}

// IsTimeout reports whether any error in err's chain is ErrTimeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsUnavailable reports whether any error in err's chain is ErrUnavailable.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
