package shutdown

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/vinayprograms/drainkit/errors"
	"github.com/vinayprograms/drainkit/logging"
)

// Coordinator owns the exit sequence of a process. Construct one at start
// up and hand it to every component that registers hooks or requests exit.
type Coordinator struct {
	config    Config
	logger    *logging.Logger
	terminate func(code int)

	mu      sync.Mutex
	hooks   []*hookEntry
	index   map[HookID]*hookEntry
	session *Session
	result  *Result

	draining   atomic.Bool
	terminated atomic.Bool
	exitCode   atomic.Int64
	done       chan struct{}

	signalChan chan os.Signal
	handlers   atomic.Int32 // active HandleSignals loops
}

// NewCoordinator creates a new shutdown coordinator.
func NewCoordinator(config Config) *Coordinator {
	if config.DefaultTimeout == 0 {
		config.DefaultTimeout = DefaultConfig().DefaultTimeout
	}
	if config.FinalizeTimeout == 0 {
		config.FinalizeTimeout = DefaultConfig().FinalizeTimeout
	}
	if config.Logger == nil {
		config.Logger = logging.New()
	}
	terminate := config.Terminate
	if terminate == nil {
		terminate = os.Exit
	}

	return &Coordinator{
		config:     config,
		logger:     config.Logger.WithComponent("shutdown"),
		terminate:  terminate,
		index:      make(map[HookID]*hookEntry),
		done:       make(chan struct{}),
		signalChan: make(chan os.Signal, 1),
	}
}

// Register adds a hook to be invoked when draining begins. Hooks are
// invoked in registration order. Returns ErrDraining once an exit request
// has been accepted.
func (c *Coordinator) Register(name string, hook ExitHook) (HookID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.draining.Load() {
		return "", errors.New(errors.ErrCodeDraining, "cannot register hook while draining",
			errors.WithHook(name))
	}

	e := &hookEntry{
		id:    HookID(uuid.NewString()),
		name:  name,
		hook:  hook,
		state: HookPending,
	}
	c.hooks = append(c.hooks, e)
	c.index[e.id] = e
	return e.id, nil
}

// RegisterFunc is a convenience method for registering a function as a hook.
func (c *Coordinator) RegisterFunc(name string, fn func(ready *Signal)) (HookID, error) {
	return c.Register(name, HookFunc(fn))
}

// RegisterContext registers fn to run on its own goroutine when draining
// begins. The context is canceled when the session resolves. The hook is
// acknowledged when fn returns; a returned error is reported as a hook
// failure. A panic in fn is reported and leaves the hook unacknowledged.
func (c *Coordinator) RegisterContext(name string, fn func(ctx context.Context) error) (HookID, error) {
	return c.Register(name, HookFunc(func(ready *Signal) {
		go func() {
			defer func() {
				if r := recover(); r != nil {
					ready.Fail(errors.RecoverPanic(r))
				}
			}()
			if err := fn(ready.Context()); err != nil {
				ready.Fail(err)
			}
			ready.Ready()
		}()
	}))
}

// Unregister withdraws a hook that has not started running. Running and
// acknowledged hooks are left alone. Unknown ids return ErrUnknownHook only
// when Config.ReportUnknownHooks is set.
func (c *Coordinator) Unregister(id HookID) error {
	c.mu.Lock()

	e, ok := c.index[id]
	if !ok {
		c.mu.Unlock()
		if c.config.ReportUnknownHooks {
			return errors.New(errors.ErrCodeUnknownHook, fmt.Sprintf("unknown hook id %s", id))
		}
		return nil
	}
	if e.state != HookPending {
		c.mu.Unlock()
		c.logger.Debug("unregister_ignored", map[string]interface{}{
			"hook":  e.name,
			"state": e.state.String(),
		})
		return nil
	}

	delete(c.index, id)
	for i, h := range c.hooks {
		if h == e {
			c.hooks = append(c.hooks[:i], c.hooks[i+1:]...)
			break
		}
	}

	// Withdrawn from a session that has not reached it yet.
	var finish func()
	var withdrawnFrom string
	if s := c.session; s != nil && s.outcome == OutcomePending {
		if _, ok := s.outstanding[id]; ok {
			delete(s.outstanding, id)
			withdrawnFrom = s.id
			if len(s.outstanding) == 0 {
				finish = c.resolveLocked(s, OutcomeCompleted)
			}
		}
	}
	c.mu.Unlock()

	if withdrawnFrom != "" {
		c.logger.Debug("hook_withdrawn", map[string]interface{}{"hook": e.name})
		c.notify(func(o Observer) { o.HookWithdrawn(withdrawnFrom, e.name) })
	}
	if finish != nil {
		finish()
	}
	return nil
}

// Exit requests exit with the configured default timeout.
func (c *Coordinator) Exit(code int) bool {
	return c.RequestExit(code, c.config.DefaultTimeout)
}

// RequestExit starts draining. It returns true if this call started the
// drain session and false if one was already started, including calls made
// from inside hook callbacks. A timeout greater than zero arms a deadline
// after which the process terminates regardless of outstanding hooks.
func (c *Coordinator) RequestExit(code int, timeout time.Duration) bool {
	req := ExitRequest{Code: code, Timeout: timeout, AcceptedAt: time.Now()}

	if !c.draining.CompareAndSwap(false, true) {
		c.logger.DuplicateExit(code)
		c.notify(func(o Observer) { o.ExitRequested(req, false) })
		return false
	}
	c.exitCode.Store(int64(code))
	c.notify(func(o Observer) { o.ExitRequested(req, true) })

	c.mu.Lock()
	var hooks []*hookEntry
	var names []string
	for _, h := range c.hooks {
		if h.state == HookPending {
			hooks = append(hooks, h)
			names = append(names, h.name)
		}
	}
	s := newSession(&c.mu, uuid.NewString(), req, hooks)
	c.session = s
	c.mu.Unlock()

	c.logger.DrainStart(s.id, code, timeout, len(hooks))
	c.notify(func(o Observer) { o.DrainStarted(s.id, req, names) })

	if len(hooks) == 0 {
		c.mu.Lock()
		finish := c.resolveLocked(s, OutcomeCompleted)
		c.mu.Unlock()
		finish()
		return true
	}

	if timeout > 0 {
		c.mu.Lock()
		if s.outcome == OutcomePending {
			s.timer = time.AfterFunc(timeout, func() { c.expire(s) })
		}
		c.mu.Unlock()
	}

	for _, h := range hooks {
		c.mu.Lock()
		if s.outcome != OutcomePending {
			c.mu.Unlock()
			break
		}
		if _, ok := s.outstanding[h.id]; !ok || h.state != HookPending {
			c.mu.Unlock()
			continue
		}
		h.state = HookRunning
		h.started = time.Now()
		c.mu.Unlock()

		c.invoke(s, h)
	}
	return true
}

// invoke runs one hook callback, isolating panics.
func (c *Coordinator) invoke(s *Session, h *hookEntry) {
	sig := newSignal(s.ctx,
		func() { c.acknowledge(s, h) },
		func(err error) { c.fail(s, h, err) })

	defer func() {
		if r := recover(); r != nil {
			c.fail(s, h, errors.RecoverPanic(r))
		}
	}()

	c.logger.HookInvoked(h.name)
	c.notify(func(o Observer) { o.HookInvoked(s.id, h.name) })
	h.hook.OnExit(sig)
}

// acknowledge records a hook's completion signal.
func (c *Coordinator) acknowledge(s *Session, h *hookEntry) {
	c.mu.Lock()
	if s.outcome != OutcomePending {
		c.mu.Unlock()
		return
	}
	if _, ok := s.outstanding[h.id]; !ok {
		c.mu.Unlock()
		return
	}
	delete(s.outstanding, h.id)
	h.state = HookAcknowledged
	s.acked = append(s.acked, h.name)
	elapsed := time.Since(h.started)
	remaining := len(s.outstanding)

	var finish func()
	if remaining == 0 {
		finish = c.resolveLocked(s, OutcomeCompleted)
	}
	c.mu.Unlock()

	c.logger.HookAcknowledged(h.name, elapsed, remaining)
	c.notify(func(o Observer) { o.HookAcknowledged(s.id, h.name, elapsed) })
	c.progress(HookResult{ID: h.id, Name: h.name, State: HookAcknowledged, Duration: elapsed})

	if finish != nil {
		finish()
	}
}

// fail records a hook failure. The hook stays outstanding.
func (c *Coordinator) fail(s *Session, h *hookEntry, cause error) {
	err := errors.HookFailed(h.name, cause, errors.WithSession(s.id))

	c.mu.Lock()
	if s.outcome != OutcomePending {
		c.mu.Unlock()
		return
	}
	s.failures = append(s.failures, err)
	state := h.state
	elapsed := time.Since(h.started)
	c.mu.Unlock()

	c.logger.HookFailure(h.name, err)
	c.notify(func(o Observer) { o.HookFailed(s.id, h.name, err) })
	c.progress(HookResult{ID: h.id, Name: h.name, State: state, Duration: elapsed, Err: err})
}

// expire fires when the session deadline elapses.
func (c *Coordinator) expire(s *Session) {
	c.mu.Lock()
	finish := c.resolveLocked(s, OutcomeTimedOut)
	c.mu.Unlock()
	if finish != nil {
		finish()
	}
}

// resolveLocked moves s to outcome if it is still pending and returns the
// work to run once the lock is released, or nil if s was already resolved.
// Caller holds c.mu.
func (c *Coordinator) resolveLocked(s *Session, outcome Outcome) func() {
	if s.outcome != OutcomePending {
		return nil
	}
	s.outcome = outcome
	s.resolvedAt = time.Now()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.cancel()

	result := s.result()
	c.result = result
	close(c.done)

	return func() {
		c.logger.DrainComplete(result.SessionID, result.Outcome.String(), result.Request.Code,
			result.Duration, result.Abandoned)
		c.drainResolved(result)
		c.finalize(result.Request.Code)
	}
}

// drainResolved hands the result to observers and waits for them at most
// Config.FinalizeTimeout, so slow exporters cannot hold up termination.
func (c *Coordinator) drainResolved(result *Result) {
	if len(c.config.Observers) == 0 {
		return
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.notify(func(o Observer) { o.DrainResolved(result) })
	}()

	timer := time.NewTimer(c.config.FinalizeTimeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		c.logger.Warn("finalize_timeout", map[string]interface{}{
			"session": result.SessionID,
			"budget":  c.config.FinalizeTimeout.String(),
		})
	}
}

// finalize hands the exit code to the termination primitive exactly once.
func (c *Coordinator) finalize(code int) {
	if !c.terminated.CompareAndSwap(false, true) {
		return
	}
	c.terminate(code)
}

// notify calls fn for every observer. Observer panics never stop the exit
// sequence.
func (c *Coordinator) notify(fn func(o Observer)) {
	for _, o := range c.config.Observers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.logger.Error("observer_panic", map[string]interface{}{
						"observer": fmt.Sprintf("%T", o),
						"panic":    fmt.Sprintf("%v", r),
					})
				}
			}()
			fn(o)
		}()
	}
}

func (c *Coordinator) progress(hr HookResult) {
	if c.config.OnProgress == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("progress_panic", map[string]interface{}{
				"panic": fmt.Sprintf("%v", r),
			})
		}
	}()
	c.config.OnProgress(hr)
}

// Draining reports whether an exit request has been accepted.
func (c *Coordinator) Draining() bool {
	return c.draining.Load()
}

// ExitCode returns the pending exit code, or 0 before any exit request.
func (c *Coordinator) ExitCode() int {
	return int(c.exitCode.Load())
}

// Done returns a channel that is closed when the drain session resolves.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until the drain session resolves and returns the exit code.
func (c *Coordinator) Wait() int {
	<-c.done
	return c.ExitCode()
}

// Session returns the current drain session, or nil before any exit request.
func (c *Coordinator) Session() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Result returns the resolved session summary.
// Only valid after Done() is closed.
func (c *Coordinator) Result() *Result {
	select {
	case <-c.done:
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.result
	default:
		return nil
	}
}

// HookState returns the state of a registered hook.
func (c *Coordinator) HookState(id HookID) (HookState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.index[id]
	if !ok {
		return 0, false
	}
	return e.state, true
}

// Hooks returns the number of registered hooks.
func (c *Coordinator) Hooks() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.hooks)
}
