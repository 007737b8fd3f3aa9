package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/vinayprograms/drainkit/logging"
	"github.com/vinayprograms/drainkit/shutdown"
	"github.com/vinayprograms/drainkit/telemetry"
)

// Notice events.
const (
	EventDraining = "draining"
	EventResolved = "resolved"
)

// Notice is the JSON payload published for a drain session.
type Notice struct {
	Event     string    `json:"event"`
	Session   string    `json:"session"`
	Host      string    `json:"host,omitempty"`
	PID       int       `json:"pid"`
	Code      int       `json:"code"`
	TimeoutMS int64     `json:"timeout_ms"`
	Time      time.Time `json:"time"`

	// Set on draining notices.
	Hooks []string `json:"hooks,omitempty"`

	// Set on resolved notices.
	Outcome    string   `json:"outcome,omitempty"`
	DurationMS int64    `json:"duration_ms,omitempty"`
	Abandoned  []string `json:"abandoned,omitempty"`
	Failed     []string `json:"failed,omitempty"`

	// Trace carries W3C trace context headers when a trace is active.
	Trace map[string]string `json:"trace,omitempty"`
}

// DecodeNotice parses a notice payload.
func DecodeNotice(data []byte) (*Notice, error) {
	var n Notice
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, fmt.Errorf("decoding notice: %w", err)
	}
	return &n, nil
}

// Notifier publishes drain notices. It implements shutdown.Observer.
type Notifier struct {
	shutdown.BaseObserver

	pub          Publisher
	prefix       string
	host         string
	logger       *logging.Logger
	traceContext func() context.Context
	flushTimeout time.Duration
}

// NotifierOption configures a Notifier.
type NotifierOption func(*Notifier)

// WithLogger reports publish failures to l.
func WithLogger(l *logging.Logger) NotifierOption {
	return func(n *Notifier) { n.logger = l.WithComponent("bus") }
}

// WithTraceContext injects the trace context returned by fn into every
// notice. Use with telemetry.DrainObserver.SessionContext.
func WithTraceContext(fn func() context.Context) NotifierOption {
	return func(n *Notifier) { n.traceContext = fn }
}

// WithHost overrides the host name stamped on notices.
func WithHost(host string) NotifierOption {
	return func(n *Notifier) { n.host = host }
}

// WithFlushTimeout bounds the flush after the resolved notice.
// Default: 2 seconds
func WithFlushTimeout(d time.Duration) NotifierOption {
	return func(n *Notifier) { n.flushTimeout = d }
}

// NewNotifier creates a notifier publishing on <prefix>.draining and
// <prefix>.resolved.
func NewNotifier(pub Publisher, prefix string, opts ...NotifierOption) *Notifier {
	host, _ := os.Hostname()
	n := &Notifier{
		pub:          pub,
		prefix:       prefix,
		host:         host,
		logger:       logging.Discard(),
		flushTimeout: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Subject returns the subject notices of event are published on.
func (n *Notifier) Subject(event string) string {
	return n.prefix + "." + event
}

func (n *Notifier) DrainStarted(sessionID string, req shutdown.ExitRequest, hooks []string) {
	n.publish(&Notice{
		Event:     EventDraining,
		Session:   sessionID,
		Code:      req.Code,
		TimeoutMS: req.Timeout.Milliseconds(),
		Hooks:     hooks,
	})
}

func (n *Notifier) DrainResolved(r *shutdown.Result) {
	n.publish(&Notice{
		Event:      EventResolved,
		Session:    r.SessionID,
		Code:       r.Request.Code,
		TimeoutMS:  r.Request.Timeout.Milliseconds(),
		Outcome:    r.Outcome.String(),
		DurationMS: r.Duration.Milliseconds(),
		Abandoned:  r.Abandoned,
		Failed:     r.FailedHooks(),
	})

	// The process terminates right after this returns.
	if f, ok := n.pub.(interface{ Flush(time.Duration) error }); ok {
		if err := f.Flush(n.flushTimeout); err != nil {
			n.logger.Warn("flush_failed", map[string]interface{}{"error": err.Error()})
		}
	}
}

func (n *Notifier) publish(notice *Notice) {
	notice.Host = n.host
	notice.PID = os.Getpid()
	notice.Time = time.Now().UTC()
	if n.traceContext != nil {
		carrier := telemetry.MapCarrier{}
		telemetry.InjectContext(n.traceContext(), carrier)
		if len(carrier) > 0 {
			notice.Trace = carrier
		}
	}

	data, err := json.Marshal(notice)
	if err != nil {
		n.logger.Error("notice_encode_failed", map[string]interface{}{"error": err.Error()})
		return
	}
	subject := n.Subject(notice.Event)
	if err := n.pub.Publish(subject, data); err != nil {
		n.logger.Warn("publish_failed", map[string]interface{}{
			"subject": subject,
			"error":   err.Error(),
		})
		return
	}
	n.logger.Debug("notice_published", map[string]interface{}{
		"subject": subject,
		"session": notice.Session,
	})
}
