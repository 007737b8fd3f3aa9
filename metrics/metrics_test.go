package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/vinayprograms/drainkit/logging"
	"github.com/vinayprograms/drainkit/shutdown"
)

func run(t *testing.T, c *Collector, setup func(coord *shutdown.Coordinator), code int, timeout time.Duration) {
	t.Helper()
	exits := make(chan int, 1)
	config := shutdown.DefaultConfig()
	config.Logger = logging.Discard()
	config.Terminate = func(code int) { exits <- code }
	config.Observers = []shutdown.Observer{c}
	coord := shutdown.NewCoordinator(config)

	setup(coord)
	coord.RequestExit(code, timeout)
	coord.RequestExit(code+1, timeout)

	select {
	case <-exits:
	case <-time.After(2 * time.Second):
		t.Fatal("process was not terminated")
	}
}

func TestCollectorCompleted(t *testing.T) {
	c := New("")

	run(t, c, func(coord *shutdown.Coordinator) {
		coord.RegisterFunc("a", func(ready *shutdown.Signal) { ready.Ready() })
		coord.RegisterFunc("b", func(ready *shutdown.Signal) { go ready.Ready() })
	}, 3, time.Second)

	// The second RequestExit may land before or after resolution; both are
	// rejected.
	if got := testutil.ToFloat64(c.exitRequests.WithLabelValues("true")); got != 1 {
		t.Errorf("accepted exit requests = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.exitRequests.WithLabelValues("false")); got != 1 {
		t.Errorf("rejected exit requests = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.sessions.WithLabelValues("completed")); got != 1 {
		t.Errorf("completed sessions = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.outstanding); got != 0 {
		t.Errorf("outstanding = %v, want 0", got)
	}
	if got := testutil.ToFloat64(c.exitCode); got != 3 {
		t.Errorf("exit code = %v, want 3", got)
	}
	if got := testutil.CollectAndCount(c.drainDuration); got != 1 {
		t.Errorf("drain duration series = %d, want 1", got)
	}
}

func TestCollectorWithdrawnHook(t *testing.T) {
	c := New("")

	var during float64
	run(t, c, func(coord *shutdown.Coordinator) {
		var thirdID shutdown.HookID
		coord.RegisterFunc("first", func(ready *shutdown.Signal) {
			coord.Unregister(thirdID)
			during = testutil.ToFloat64(c.outstanding)
			ready.Ready()
		})
		coord.RegisterFunc("second", func(ready *shutdown.Signal) { ready.Ready() })
		thirdID, _ = coord.RegisterFunc("third", func(ready *shutdown.Signal) {})
	}, 0, time.Second)

	if during != 2 {
		t.Errorf("outstanding after withdrawal = %v, want 2", during)
	}
	if got := testutil.ToFloat64(c.outstanding); got != 0 {
		t.Errorf("outstanding = %v, want 0", got)
	}
	if got := testutil.ToFloat64(c.sessions.WithLabelValues("completed")); got != 1 {
		t.Errorf("completed sessions = %v, want 1", got)
	}
}

func TestCollectorTimedOut(t *testing.T) {
	c := New("svc")

	run(t, c, func(coord *shutdown.Coordinator) {
		coord.RegisterFunc("stuck", func(ready *shutdown.Signal) {})
		coord.RegisterFunc("broken", func(ready *shutdown.Signal) { panic("boom") })
		coord.RegisterFunc("ok", func(ready *shutdown.Signal) { ready.Ready() })
	}, 1, 20*time.Millisecond)

	if got := testutil.ToFloat64(c.sessions.WithLabelValues("timed_out")); got != 1 {
		t.Errorf("timed out sessions = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.hookFailures.WithLabelValues("broken")); got != 1 {
		t.Errorf("hook failures = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.outstanding); got != 2 {
		t.Errorf("outstanding = %v, want 2 abandoned hooks", got)
	}
}

func TestCollectorHandler(t *testing.T) {
	c := New("")
	run(t, c, func(*shutdown.Coordinator) {}, 0, 0)

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	for _, name := range []string{
		"drainkit_exit_requests_total",
		"drainkit_drain_sessions_total",
		"drainkit_drain_duration_seconds",
	} {
		if !strings.Contains(string(body), name) {
			t.Errorf("metrics output missing %s", name)
		}
	}
}

func TestCollectorRegistry(t *testing.T) {
	c := New("")
	if c.Registry() == nil {
		t.Fatal("Registry() returned nil")
	}
	if _, err := c.Registry().Gather(); err != nil {
		t.Errorf("Gather() error = %v", err)
	}
}
