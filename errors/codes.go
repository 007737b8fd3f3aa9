package errors

// ErrorCategory classifies errors by who is responsible for them.
type ErrorCategory string

const (
	// CategoryExpected covers outcomes that are part of a normal exit sequence.
	CategoryExpected ErrorCategory = "expected"

	// CategoryCaller covers misuse of the API by calling code.
	CategoryCaller ErrorCategory = "caller"

	// CategoryHook covers failures raised by registered exit hooks.
	CategoryHook ErrorCategory = "hook"

	// CategoryInternal covers unexpected failures.
	CategoryInternal ErrorCategory = "internal"
)

// String returns the string representation of the category.
func (c ErrorCategory) String() string {
	return string(c)
}

// IsExpected reports whether errors in this category are normal outcomes.
func (c ErrorCategory) IsExpected() bool {
	return c == CategoryExpected
}

// ErrorCode identifies a specific failure.
type ErrorCode string

const (
	// Expected outcomes
	ErrCodeDuplicateExit ErrorCode = "DUPLICATE_EXIT" // exit already in progress
	ErrCodeDrainTimeout  ErrorCode = "DRAIN_TIMEOUT"  // deadline elapsed with hooks outstanding

	// Caller errors
	ErrCodeDraining      ErrorCode = "DRAINING"       // operation not allowed while draining
	ErrCodeUnknownHook   ErrorCode = "UNKNOWN_HOOK"   // hook id was never registered
	ErrCodeInvalidConfig ErrorCode = "INVALID_CONFIG" // configuration rejected
	ErrCodeCanceled      ErrorCode = "CANCELED"       // context canceled

	// Hook errors
	ErrCodeHookFailed ErrorCode = "HOOK_FAILED" // hook callback failed
	ErrCodePanic      ErrorCode = "PANIC"       // recovered from panic

	// Internal errors
	ErrCodeTimeout     ErrorCode = "TIMEOUT"     // collaborator timed out
	ErrCodeUnavailable ErrorCode = "UNAVAILABLE" // collaborator unavailable
	ErrCodeInternal    ErrorCode = "INTERNAL"
)

// String returns the string representation of the error code.
func (c ErrorCode) String() string {
	return string(c)
}

// DefaultCategory returns the default category for an error code.
func (c ErrorCode) DefaultCategory() ErrorCategory {
	switch c {
	case ErrCodeDuplicateExit, ErrCodeDrainTimeout:
		return CategoryExpected
	case ErrCodeDraining, ErrCodeUnknownHook, ErrCodeInvalidConfig, ErrCodeCanceled:
		return CategoryCaller
	case ErrCodeHookFailed, ErrCodePanic:
		return CategoryHook
	default:
		return CategoryInternal
	}
}

var codeDescriptions = map[ErrorCode]string{
	ErrCodeDuplicateExit: "exit already in progress",
	ErrCodeDrainTimeout:  "drain deadline exceeded",
	ErrCodeDraining:      "coordinator is draining",
	ErrCodeUnknownHook:   "unknown hook id",
	ErrCodeInvalidConfig: "invalid configuration",
	ErrCodeCanceled:      "operation canceled",
	ErrCodeHookFailed:    "exit hook failed",
	ErrCodePanic:         "recovered from panic",
	ErrCodeTimeout:       "operation timed out",
	ErrCodeUnavailable:   "collaborator unavailable",
	ErrCodeInternal:      "internal error",
}

// Description returns a human-readable description for the error code.
func (c ErrorCode) Description() string {
	if desc, ok := codeDescriptions[c]; ok {
		return desc
	}
	return "unknown error"
}
