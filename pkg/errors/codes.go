package errors

// ErrorCode is the classification of a backend failure.
type ErrorCode string

const (
	CodeTimeout     ErrorCode = "timeout"
	CodeCancelled   ErrorCode = "cancelled"
	CodeCircuitOpen ErrorCode = "circuit_open"
	CodeUnavailable ErrorCode = "unavailable"
	CodeNotFound    ErrorCode = "not_found"
	CodeConflict    ErrorCode = "conflict"
	CodeForbidden   ErrorCode = "forbidden"
	CodeBackend     ErrorCode = "backend_error"
)

// ErrorCodeInfo contains metadata about an error code.
type ErrorCodeInfo struct {
	Code            ErrorCode
	Retryable       bool
	Description     string
	SuggestedAction string
}

// ErrorCodeRegistry maps error codes to their metadata.
//
// Retryable is advisory. Nothing in teamdesk retries on its own; the CLI
// prints the suggested action and the caller decides.
var ErrorCodeRegistry = map[ErrorCode]ErrorCodeInfo{
	CodeTimeout: {
		Code:            CodeTimeout,
		Retryable:       true,
		Description:     "Backend call exceeded its deadline",
		SuggestedAction: "Raise the call timeout: teamdesk --timeout 30s, or check backend latency",
	},
	CodeCancelled: {
		Code:            CodeCancelled,
		Retryable:       false,
		Description:     "Backend call cancelled by the caller",
		SuggestedAction: "Check if cancellation was intentional",
	},
	CodeCircuitOpen: {
		Code:            CodeCircuitOpen,
		Retryable:       true,
		Description:     "Circuit breaker is open after repeated backend failures",
		SuggestedAction: "Wait for the breaker to half-open, then check backend health: teamdesk db status",
	},
	CodeUnavailable: {
		Code:            CodeUnavailable,
		Retryable:       true,
		Description:     "Backend unreachable",
		SuggestedAction: "Verify the backend address in ~/.teamdesk/config.yaml",
	},
	CodeNotFound: {
		Code:            CodeNotFound,
		Retryable:       false,
		Description:     "Row not found",
		SuggestedAction: "Refresh the list and check the id",
	},
	CodeConflict: {
		Code:            CodeConflict,
		Retryable:       false,
		Description:     "Row conflicts with existing data",
		SuggestedAction: "Refresh and retry the change against the current row",
	},
	CodeForbidden: {
		Code:            CodeForbidden,
		Retryable:       false,
		Description:     "Row-level policy rejected the call",
		SuggestedAction: "Check your role: teamdesk auth status",
	},
	CodeBackend: {
		Code:            CodeBackend,
		Retryable:       false,
		Description:     "Unclassified backend error",
		SuggestedAction: "Re-run with --debug and check the logs",
	},
}

// IsRetryable returns true if the given error code represents a transient error.
func IsRetryable(code ErrorCode) bool {
	if info, ok := ErrorCodeRegistry[code]; ok {
		return info.Retryable
	}
	return false
}

// GetSuggestedAction returns the suggested action for the given error code.
func GetSuggestedAction(code ErrorCode) string {
	if info, ok := ErrorCodeRegistry[code]; ok {
		return info.SuggestedAction
	}
	return "Re-run with --debug and check the logs"
}

// GetDescription returns the human-readable description for the given error code.
func GetDescription(code ErrorCode) string {
	if info, ok := ErrorCodeRegistry[code]; ok {
		return info.Description
	}
	return "Unknown error"
}
