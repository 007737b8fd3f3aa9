package shutdown

import (
	"context"
	"strings"
	"time"

	"github.com/vinayprograms/drainkit/errors"
	"github.com/vinayprograms/drainkit/logging"
)

// Common errors.
var (
	// ErrDraining is returned by Register once an exit request was accepted.
	ErrDraining = errors.FromCode(errors.ErrCodeDraining)

	// ErrUnknownHook is returned by Unregister for ids that were never
	// registered, when Config.ReportUnknownHooks is set.
	ErrUnknownHook = errors.FromCode(errors.ErrCodeUnknownHook)

	// ErrDrainTimeout reports a session that hit its deadline.
	ErrDrainTimeout = errors.FromCode(errors.ErrCodeDrainTimeout)

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.FromCode(errors.ErrCodeInvalidConfig)
)

// ExitCoordinator is the surface handed to components that take part in
// the exit sequence.
type ExitCoordinator interface {
	Register(name string, hook ExitHook) (HookID, error)
	Unregister(id HookID) error
	RequestExit(code int, timeout time.Duration) bool
	ExitCode() int
	Done() <-chan struct{}
}

// HookID identifies a registered exit hook.
type HookID string

// HookState is the lifecycle state of a registered hook.
type HookState int

const (
	HookPending HookState = iota
	HookRunning
	HookAcknowledged
)

func (s HookState) String() string {
	switch s {
	case HookPending:
		return "pending"
	case HookRunning:
		return "running"
	case HookAcknowledged:
		return "acknowledged"
	default:
		return "unknown"
	}
}

// Outcome is the resolution of a drain session.
type Outcome int

const (
	OutcomePending Outcome = iota
	OutcomeCompleted
	OutcomeTimedOut
)

func (o Outcome) String() string {
	switch o {
	case OutcomePending:
		return "pending"
	case OutcomeCompleted:
		return "completed"
	case OutcomeTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// ExitHook is implemented by components that need to clean up before the
// process exits.
type ExitHook interface {
	// OnExit is called once when draining begins. The hook must call
	// ready.Ready() when its cleanup is finished; it may do so from any
	// goroutine, after OnExit has returned.
	OnExit(ready *Signal)
}

// HookFunc is a convenience type for simple exit hooks.
type HookFunc func(ready *Signal)

// OnExit implements ExitHook.
func (f HookFunc) OnExit(ready *Signal) {
	f(ready)
}

// ExitRequest is one accepted attempt to terminate the process.
type ExitRequest struct {
	Code    int
	Timeout time.Duration // zero means no deadline

	// AcceptedAt carries a monotonic clock reading.
	AcceptedAt time.Time
}

// HookResult is reported through Config.OnProgress as hooks move through
// a session.
type HookResult struct {
	ID    HookID
	Name  string
	State HookState

	// Duration since the hook was invoked.
	Duration time.Duration

	// Err is set when the hook failed.
	Err error
}

// Result is the summary of a resolved drain session.
type Result struct {
	SessionID string
	Request   ExitRequest
	Outcome   Outcome

	// Duration from acceptance to resolution.
	Duration time.Duration

	// Acknowledged lists hook names in acknowledgment order.
	Acknowledged []string

	// Abandoned lists hook names, in registration order, that had not
	// acknowledged when the deadline fired.
	Abandoned []string

	// Failures holds hook invocation failures reported during the session.
	Failures []*errors.Error
}

// Failed returns true if any hook reported a failure.
func (r *Result) Failed() bool {
	return len(r.Failures) > 0
}

// FailedHooks returns the names of hooks that reported failures.
func (r *Result) FailedHooks() []string {
	var failed []string
	for _, f := range r.Failures {
		failed = append(failed, f.Hook())
	}
	return failed
}

// Err returns ErrDrainTimeout for timed out sessions and nil otherwise.
// Hook failures do not change the outcome; see Failures.
func (r *Result) Err() error {
	if r.Outcome != OutcomeTimedOut {
		return nil
	}
	return errors.New(errors.ErrCodeDrainTimeout, "drain deadline exceeded",
		errors.WithSession(r.SessionID),
		errors.WithMetadata("abandoned", strings.Join(r.Abandoned, ",")))
}

// Observer receives exit sequence events. Observers are called outside the
// coordinator lock; a panicking observer is logged and skipped.
type Observer interface {
	ExitRequested(req ExitRequest, accepted bool)
	DrainStarted(sessionID string, req ExitRequest, hooks []string)
	HookInvoked(sessionID, hook string)
	HookAcknowledged(sessionID, hook string, d time.Duration)
	HookFailed(sessionID, hook string, err error)
	HookWithdrawn(sessionID, hook string)
	DrainResolved(r *Result)
}

// BaseObserver implements Observer with no-ops, for embedding.
type BaseObserver struct{}

func (BaseObserver) ExitRequested(ExitRequest, bool)                {}
func (BaseObserver) DrainStarted(string, ExitRequest, []string)     {}
func (BaseObserver) HookInvoked(string, string)                     {}
func (BaseObserver) HookAcknowledged(string, string, time.Duration) {}
func (BaseObserver) HookFailed(string, string, error)               {}
func (BaseObserver) HookWithdrawn(string, string)                   {}
func (BaseObserver) DrainResolved(*Result)                          {}

// Config configures the shutdown coordinator.
type Config struct {
	// DefaultTimeout bounds drains started by Exit and by signals.
	// Default: 30 seconds
	DefaultTimeout time.Duration

	// ReportUnknownHooks makes Unregister return ErrUnknownHook for ids
	// that were never registered. Default: false (silently ignored)
	ReportUnknownHooks bool

	// Logger receives exit sequence logs. Default: stdout at INFO.
	Logger *logging.Logger

	// Terminate ends the process with the resolved exit code.
	// Default: os.Exit
	Terminate func(code int)

	// Observers receive exit sequence events (tracing, metrics, peers).
	Observers []Observer

	// FinalizeTimeout bounds how long termination waits for observers to
	// handle DrainResolved. Observers still running are abandoned.
	// Default: 3 seconds
	FinalizeTimeout time.Duration

	// OnProgress is called whenever a hook is acknowledged or fails.
	OnProgress func(result HookResult)
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.DefaultTimeout < 0 {
		return errors.InvalidConfig("default timeout must not be negative")
	}
	if c.FinalizeTimeout < 0 {
		return errors.InvalidConfig("finalize timeout must not be negative")
	}
	return nil
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		DefaultTimeout:  30 * time.Second,
		FinalizeTimeout: 3 * time.Second,
	}
}

// contextKey scopes values drainkit stores in session contexts.
type contextKey struct{}

// SessionID returns the drain session id carried by a hook context.
func SessionID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(contextKey{}).(string)
	return id, ok
}
