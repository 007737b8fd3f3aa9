// Package errors provides the structured error taxonomy used by drainkit.
//
// Every failure the shutdown coordinator can observe is converted into an
// *Error carrying a code and a category. Nothing in the coordinator returns
// these to abort an exit: they surface as return values, log lines, trace
// events and entries in a session result.
//
// # Error Categories
//
//   - Expected: normal outcomes of an exit sequence (duplicate exit request,
//     drain deadline elapsed)
//   - Caller: misuse by the calling code (unknown hook id, registering while
//     draining, invalid configuration)
//   - Hook: a registered exit hook misbehaved
//   - Internal: unexpected failures inside drainkit or its collaborators
//
// # Usage
//
//	err := errors.New(errors.ErrCodeUnknownHook, "unknown hook id",
//	    errors.WithHook("db"))
//
//	if errors.Is(err, errors.ErrCodeUnknownHook) {
//	    // ignore
//	}
//
// Errors marshal to JSON so they can travel in trace events and bus notices.
package errors
