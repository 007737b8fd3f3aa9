package errors

import (
	"context"
	"errors"
	"fmt"
)

// Wrap wraps err with a message while preserving the error chain.
// If err is nil, Wrap returns nil. A wrapped *Error keeps its code and
// category; context errors map to CANCELED and TIMEOUT; anything else
// becomes INTERNAL.
func Wrap(err error, message string, opts ...Option) *Error {
	if err == nil {
		return nil
	}

	var de *Error
	if errors.As(err, &de) {
		wrapped := &Error{
			code:      de.code,
			category:  de.category,
			message:   message,
			cause:     err,
			metadata:  de.Metadata(),
			timestamp: de.timestamp,
			hook:      de.hook,
			session:   de.session,
		}
		for _, opt := range opts {
			opt(wrapped)
		}
		return wrapped
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return New(ErrCodeTimeout, message, append(opts, WithCause(err))...)
	}
	if errors.Is(err, context.Canceled) {
		return New(ErrCodeCanceled, message, append(opts, WithCause(err))...)
	}
	return New(ErrCodeInternal, message, append(opts, WithCause(err))...)
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, format string, args ...interface{}) *Error {
	return Wrap(err, fmt.Sprintf(format, args...))
}

// As extracts an *Error from an error chain, or nil.
func As(err error) *Error {
	var de *Error
	if errors.As(err, &de) {
		return de
	}
	return nil
}

// Is checks if any error in the chain has the given error code.
func Is(err error, code ErrorCode) bool {
	for err != nil {
		if de, ok := err.(*Error); ok && de.code == code {
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}

// IsCategory checks if the outermost *Error in the chain has the given category.
func IsCategory(err error, category ErrorCategory) bool {
	if de := As(err); de != nil {
		return de.category == category
	}
	return false
}

// IsExpected reports whether err describes a normal exit outcome.
func IsExpected(err error) bool {
	return IsCategory(err, CategoryExpected)
}

// Code extracts the error code, or "" if err is not an *Error.
func Code(err error) ErrorCode {
	if de := As(err); de != nil {
		return de.code
	}
	return ""
}

// Join combines multiple errors into a single error.
func Join(errs ...error) error {
	return errors.Join(errs...)
}

// RecoverPanic converts a recovered panic value into an Error.
func RecoverPanic(recovered interface{}) *Error {
	if recovered == nil {
		return nil
	}
	var message string
	switch v := recovered.(type) {
	case error:
		message = v.Error()
	case string:
		message = v
	default:
		message = fmt.Sprintf("%v", v)
	}
	return New(ErrCodePanic, message, WithMetadata("panic_value", fmt.Sprintf("%T", recovered)))
}
