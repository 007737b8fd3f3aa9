package shutdown

import (
	"context"
	"sync"
	"time"

	"github.com/vinayprograms/drainkit/errors"
)

// hookEntry is a registered hook. Mutable fields are guarded by the
// coordinator lock.
type hookEntry struct {
	id      HookID
	name    string
	hook    ExitHook
	state   HookState
	started time.Time
}

// Session is the state of one accepted exit request.
type Session struct {
	mu *sync.Mutex // the owning coordinator's lock

	id      string
	request ExitRequest
	order   []*hookEntry

	outstanding map[HookID]*hookEntry
	timer       *time.Timer
	outcome     Outcome
	acked       []string
	failures    []*errors.Error
	resolvedAt  time.Time

	ctx    context.Context
	cancel context.CancelFunc
}

func newSession(mu *sync.Mutex, id string, req ExitRequest, hooks []*hookEntry) *Session {
	s := &Session{
		mu:          mu,
		id:          id,
		request:     req,
		order:       hooks,
		outstanding: make(map[HookID]*hookEntry, len(hooks)),
	}
	for _, h := range hooks {
		s.outstanding[h.id] = h
	}

	ctx := context.WithValue(context.Background(), contextKey{}, id)
	if req.Timeout > 0 {
		s.ctx, s.cancel = context.WithDeadline(ctx, req.AcceptedAt.Add(req.Timeout))
	} else {
		s.ctx, s.cancel = context.WithCancel(ctx)
	}
	return s
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// Request returns the exit request that started the session.
func (s *Session) Request() ExitRequest {
	return s.request
}

// Outcome returns the current outcome.
func (s *Session) Outcome() Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outcome
}

// Outstanding returns the number of hooks that have not acknowledged.
func (s *Session) Outstanding() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.outstanding)
}

// DeadlineArmed reports whether a deadline timer was armed for the session.
func (s *Session) DeadlineArmed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timer != nil
}

// result builds the session summary. Caller holds the lock.
func (s *Session) result() *Result {
	r := &Result{
		SessionID:    s.id,
		Request:      s.request,
		Outcome:      s.outcome,
		Duration:     s.resolvedAt.Sub(s.request.AcceptedAt),
		Acknowledged: append([]string(nil), s.acked...),
		Failures:     append([]*errors.Error(nil), s.failures...),
	}
	for _, h := range s.order {
		if _, ok := s.outstanding[h.id]; ok {
			r.Abandoned = append(r.Abandoned, h.name)
		}
	}
	return r
}
