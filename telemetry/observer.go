package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/vinayprograms/drainkit/logging"
	"github.com/vinayprograms/drainkit/shutdown"
)

// DrainObserver records an exit sequence as trace events and spans. It
// finalizes its exporter and provider when the session resolves, after the
// last hook has been accounted for.
type DrainObserver struct {
	shutdown.BaseObserver

	exporter Exporter
	tracer   *Tracer
	provider *Provider
	logger   *logging.Logger

	// FlushTimeout bounds the provider shutdown. Default: 2 seconds
	FlushTimeout time.Duration

	mu        sync.Mutex
	ctx       context.Context
	drain     trace.Span
	hooks     map[string]trace.Span
	hookErrs  map[string]error
	finalized bool
}

// ObserverOption configures a DrainObserver.
type ObserverOption func(*DrainObserver)

// WithTracer records spans with t.
func WithTracer(t *Tracer) ObserverOption {
	return func(o *DrainObserver) { o.tracer = t }
}

// WithProvider records spans with p's tracer and shuts p down on resolve.
func WithProvider(p *Provider) ObserverOption {
	return func(o *DrainObserver) {
		o.provider = p
		o.tracer = p.Tracer()
	}
}

// WithLogger reports finalization errors to l.
func WithLogger(l *logging.Logger) ObserverOption {
	return func(o *DrainObserver) { o.logger = l.WithComponent("telemetry") }
}

// NewDrainObserver creates an observer writing events to exporter. A nil
// exporter discards events.
func NewDrainObserver(exporter Exporter, opts ...ObserverOption) *DrainObserver {
	if exporter == nil {
		exporter = NewNoopExporter()
	}
	o := &DrainObserver{
		exporter:     exporter,
		logger:       logging.Discard(),
		FlushTimeout: 2 * time.Second,
		ctx:          context.Background(),
		hooks:        make(map[string]trace.Span),
		hookErrs:     make(map[string]error),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// SessionContext returns the context carrying the drain span, for
// propagating the trace to peers. Before a drain starts it is
// context.Background().
func (o *DrainObserver) SessionContext() context.Context {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.ctx
}

func (o *DrainObserver) ExitRequested(req shutdown.ExitRequest, accepted bool) {
	o.exporter.LogEvent(NewEvent(PhaseInstant, "exit_request", "", map[string]interface{}{
		"code":       req.Code,
		"timeout_ms": req.Timeout.Milliseconds(),
		"accepted":   accepted,
	}))
}

func (o *DrainObserver) DrainStarted(sessionID string, req shutdown.ExitRequest, hooks []string) {
	o.exporter.LogEvent(NewEvent(PhaseAsyncBegin, "drain", sessionID, map[string]interface{}{
		"code":       req.Code,
		"timeout_ms": req.Timeout.Milliseconds(),
		"hooks":      len(hooks),
	}))

	if o.tracer == nil {
		return
	}
	ctx, span := o.tracer.StartDrainSpan(context.Background(), DrainSpanOptions{
		SessionID: sessionID,
		Code:      req.Code,
		Timeout:   req.Timeout,
		Hooks:     hooks,
	})
	o.mu.Lock()
	o.ctx = ctx
	o.drain = span
	o.mu.Unlock()
}

func (o *DrainObserver) HookInvoked(sessionID, hook string) {
	o.exporter.LogEvent(NewEvent(PhaseAsyncBegin, "hook", sessionID+"/"+hook, map[string]interface{}{
		"hook": hook,
	}))

	if o.tracer == nil {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.finalized {
		return
	}
	_, span := o.tracer.StartHookSpan(o.ctx, hook)
	o.hooks[hook] = span
}

func (o *DrainObserver) HookAcknowledged(sessionID, hook string, d time.Duration) {
	o.exporter.LogEvent(NewEvent(PhaseAsyncEnd, "hook", sessionID+"/"+hook, map[string]interface{}{
		"hook":        hook,
		"duration_ms": d.Milliseconds(),
	}))

	o.mu.Lock()
	span, ok := o.hooks[hook]
	err := o.hookErrs[hook]
	delete(o.hooks, hook)
	delete(o.hookErrs, hook)
	o.mu.Unlock()
	if ok {
		o.tracer.EndHookSpan(span, err)
	}
}

func (o *DrainObserver) HookFailed(sessionID, hook string, err error) {
	o.exporter.LogEvent(NewEvent(PhaseInstant, "hook_failed", sessionID+"/"+hook, map[string]interface{}{
		"hook":  hook,
		"error": err.Error(),
	}))

	o.mu.Lock()
	defer o.mu.Unlock()
	o.hookErrs[hook] = err
	if span, ok := o.hooks[hook]; ok {
		span.RecordError(err)
	}
}

func (o *DrainObserver) HookWithdrawn(sessionID, hook string) {
	o.exporter.LogEvent(NewEvent(PhaseInstant, "hook_withdrawn", sessionID+"/"+hook, map[string]interface{}{
		"hook": hook,
	}))
}

func (o *DrainObserver) DrainResolved(r *shutdown.Result) {
	o.exporter.LogEvent(NewEvent(PhaseAsyncEnd, "drain", r.SessionID, map[string]interface{}{
		"outcome":     r.Outcome.String(),
		"code":        r.Request.Code,
		"duration_ms": r.Duration.Milliseconds(),
		"abandoned":   r.Abandoned,
	}))

	o.mu.Lock()
	if o.finalized {
		o.mu.Unlock()
		return
	}
	o.finalized = true
	hooks := o.hooks
	hookErrs := o.hookErrs
	drain := o.drain
	o.hooks = make(map[string]trace.Span)
	o.hookErrs = make(map[string]error)
	o.mu.Unlock()

	for name, span := range hooks {
		err := hookErrs[name]
		if err == nil {
			err = fmt.Errorf("hook %s abandoned", name)
		}
		o.tracer.EndHookSpan(span, err)
	}
	if drain != nil {
		o.tracer.EndDrainSpan(drain, r.Outcome.String(), r.Abandoned, r.Err())
	}

	if o.provider != nil {
		ctx, cancel := context.WithTimeout(context.Background(), o.FlushTimeout)
		if err := o.provider.Shutdown(ctx); err != nil {
			o.logger.Warn("provider_shutdown_failed", map[string]interface{}{"error": err.Error()})
		}
		cancel()
	}
	if err := o.exporter.Close(); err != nil {
		o.logger.Warn("exporter_close_failed", map[string]interface{}{"error": err.Error()})
	}
}
