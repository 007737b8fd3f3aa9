// OpenTelemetry tracing of drain sessions.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// Tracer wraps an OpenTelemetry tracer with drain helpers.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a tracer from the global provider.
func NewTracer(name string) *Tracer {
	return &Tracer{tracer: otel.Tracer(name)}
}

// NewTracerFromProvider creates a tracer from tp.
func NewTracerFromProvider(tp trace.TracerProvider, name string) *Tracer {
	return &Tracer{tracer: tp.Tracer(name)}
}

// DrainSpanOptions describes a drain session.
type DrainSpanOptions struct {
	SessionID string
	Code      int
	Timeout   time.Duration
	Hooks     []string
}

// StartDrainSpan starts the root span of a drain session.
func (t *Tracer) StartDrainSpan(ctx context.Context, opts DrainSpanOptions) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "shutdown.drain",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("drain.session", opts.SessionID),
			attribute.Int("exit.code", opts.Code),
			attribute.Int64("exit.timeout_ms", opts.Timeout.Milliseconds()),
			attribute.StringSlice("drain.hooks", opts.Hooks),
		))
}

// EndDrainSpan ends a drain span with its outcome.
func (t *Tracer) EndDrainSpan(span trace.Span, outcome string, abandoned []string, err error) {
	span.SetAttributes(attribute.String("drain.outcome", outcome))
	if len(abandoned) > 0 {
		span.SetAttributes(attribute.StringSlice("drain.abandoned", abandoned))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// StartHookSpan starts a child span for one exit hook.
func (t *Tracer) StartHookSpan(ctx context.Context, hook string) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "shutdown.hook."+hook, trace.WithSpanKind(trace.SpanKindInternal))
	span.SetAttributes(attribute.String("hook.name", hook))
	return ctx, span
}

// EndHookSpan ends a hook span. A nil err marks the hook acknowledged.
func (t *Tracer) EndHookSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// --- Context Propagation ---

// InjectContext injects trace context into a carrier for cross-process propagation.
func InjectContext(ctx context.Context, carrier propagation.TextMapCarrier) {
	otel.GetTextMapPropagator().Inject(ctx, carrier)
}

// ExtractContext extracts trace context from a carrier.
func ExtractContext(ctx context.Context, carrier propagation.TextMapCarrier) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}

// MapCarrier is a map-based TextMapCarrier for context propagation.
type MapCarrier map[string]string

func (c MapCarrier) Get(key string) string {
	return c[key]
}

func (c MapCarrier) Set(key, value string) {
	c[key] = value
}

func (c MapCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}
