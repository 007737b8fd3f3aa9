package shutdown

import (
	"context"
	"sync"
	"sync/atomic"
)

// Signal is the single-fire completion notification handed to an exit hook.
// The first call to Ready acknowledges the hook; later calls do nothing.
type Signal struct {
	once  sync.Once
	fired atomic.Bool
	ack   func()
	fail  func(error)
	ctx   context.Context
}

func newSignal(ctx context.Context, ack func(), fail func(error)) *Signal {
	return &Signal{ack: ack, fail: fail, ctx: ctx}
}

// Ready acknowledges the hook. Safe to call from any goroutine, any number
// of times.
func (s *Signal) Ready() {
	s.once.Do(func() {
		s.fired.Store(true)
		s.ack()
	})
}

// Fired reports whether Ready has been called.
func (s *Signal) Fired() bool {
	return s.fired.Load()
}

// Fail reports a cleanup failure for the hook without acknowledging it.
func (s *Signal) Fail(err error) {
	if err == nil {
		return
	}
	s.fail(err)
}

// Context is canceled when the drain session resolves, and carries the
// session deadline when the exit request had a timeout.
func (s *Signal) Context() context.Context {
	return s.ctx
}
