// Package metrics exports exit sequence metrics to Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vinayprograms/drainkit/shutdown"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "drainkit"

// Collector records coordinator events. It implements shutdown.Observer.
type Collector struct {
	shutdown.BaseObserver

	registry *prometheus.Registry

	exitRequests  *prometheus.CounterVec
	sessions      *prometheus.CounterVec
	hookFailures  *prometheus.CounterVec
	drainDuration prometheus.Histogram
	hookDuration  prometheus.Histogram
	outstanding   prometheus.Gauge
	exitCode      prometheus.Gauge
}

// New creates a collector registered on its own registry. An empty
// namespace uses DefaultNamespace.
func New(namespace string) *Collector {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		exitRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exit_requests_total",
			Help:      "The number of exit requests, by whether they started a drain session.",
		},
			[]string{"accepted"},
		),
		sessions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "drain_sessions_total",
			Help:      "The number of resolved drain sessions, by outcome.",
		},
			[]string{"outcome"},
		),
		hookFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hook_failures_total",
			Help:      "The number of exit hook invocation failures, by hook.",
		},
			[]string{"hook"},
		),
		drainDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "drain_duration_seconds",
			Help:      "Time from an accepted exit request to session resolution.",
			Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 10, 30, 60},
		}),
		hookDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "hook_ack_duration_seconds",
			Help:      "Time from hook invocation to acknowledgment.",
			Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 10, 30},
		}),
		outstanding: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "hooks_outstanding",
			Help:      "Hooks invoked in the current drain session that have not acknowledged.",
		}),
		exitCode: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "exit_code",
			Help:      "The exit code of the accepted exit request.",
		}),
	}
}

// Registry returns the registry the collector's metrics live on.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the collector's metrics in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) ExitRequested(req shutdown.ExitRequest, accepted bool) {
	c.exitRequests.WithLabelValues(strconv.FormatBool(accepted)).Inc()
	if accepted {
		c.exitCode.Set(float64(req.Code))
	}
}

func (c *Collector) DrainStarted(_ string, _ shutdown.ExitRequest, hooks []string) {
	c.outstanding.Set(float64(len(hooks)))
}

func (c *Collector) HookAcknowledged(_, _ string, d time.Duration) {
	c.outstanding.Dec()
	c.hookDuration.Observe(d.Seconds())
}

func (c *Collector) HookWithdrawn(_, _ string) {
	c.outstanding.Dec()
}

func (c *Collector) HookFailed(_, hook string, _ error) {
	c.hookFailures.WithLabelValues(hook).Inc()
}

func (c *Collector) DrainResolved(r *shutdown.Result) {
	c.sessions.WithLabelValues(r.Outcome.String()).Inc()
	c.drainDuration.Observe(r.Duration.Seconds())
	c.outstanding.Set(float64(len(r.Abandoned)))
}
