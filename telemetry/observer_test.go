package telemetry

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/spf13/afero"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/vinayprograms/drainkit/logging"
	"github.com/vinayprograms/drainkit/shutdown"
)

type fixture struct {
	fs       afero.Fs
	recorder *tracetest.SpanRecorder
	observer *DrainObserver
	coord    *shutdown.Coordinator
	exits    chan int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	fs := afero.NewMemMapFs()
	exp, err := NewFileExporter(fs, "/trace.jsonl")
	if err != nil {
		t.Fatal(err)
	}

	sr := tracetest.NewSpanRecorder()
	provider, err := NewProvider("drainkit-test", "0.0.0", sdktrace.WithSpanProcessor(sr))
	if err != nil {
		t.Fatal(err)
	}

	obs := NewDrainObserver(exp, WithProvider(provider))
	exits := make(chan int, 1)

	config := shutdown.DefaultConfig()
	config.Logger = logging.Discard()
	config.Terminate = func(code int) { exits <- code }
	config.Observers = []shutdown.Observer{obs}

	return &fixture{
		fs:       fs,
		recorder: sr,
		observer: obs,
		coord:    shutdown.NewCoordinator(config),
		exits:    exits,
	}
}

// waitExit waits for termination, which happens after observers finalize.
func (f *fixture) waitExit(t *testing.T) int {
	t.Helper()
	select {
	case code := <-f.exits:
		return code
	case <-time.After(2 * time.Second):
		t.Fatal("process was not terminated")
		return -1
	}
}

func (f *fixture) events(t *testing.T) []Event {
	t.Helper()
	events, err := ReadEvents(f.fs, "/trace.jsonl")
	if err != nil {
		t.Fatal(err)
	}
	return events
}

func spanByName(spans []sdktrace.ReadOnlySpan, name string) sdktrace.ReadOnlySpan {
	for _, s := range spans {
		if s.Name() == name {
			return s
		}
	}
	return nil
}

func attr(s sdktrace.ReadOnlySpan, key string) (attribute.Value, bool) {
	for _, kv := range s.Attributes() {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestObserverCompletedDrain(t *testing.T) {
	f := newFixture(t)

	f.coord.RegisterFunc("db", func(ready *shutdown.Signal) { ready.Ready() })
	f.coord.RegisterFunc("cache", func(ready *shutdown.Signal) { go ready.Ready() })

	if !f.coord.RequestExit(4, time.Second) {
		t.Fatal("RequestExit should be accepted")
	}
	if code := f.waitExit(t); code != 4 {
		t.Fatalf("exit code = %d, want 4", code)
	}

	events := f.events(t)
	var seq []string
	for _, ev := range events {
		seq = append(seq, ev.Name+":"+ev.Phase)
	}
	want := []string{
		"exit_request:i",
		"drain:b",
		"hook:b", "hook:e", // db acknowledges inline
		"hook:b", "hook:e",
		"drain:e",
	}
	if len(seq) != len(want) {
		t.Fatalf("events = %v, want %v", seq, want)
	}
	for i := range want {
		if seq[i] != want[i] {
			t.Errorf("event %d = %s, want %s", i, seq[i], want[i])
		}
	}

	last := events[len(events)-1]
	if last.Args["outcome"] != "completed" {
		t.Errorf("drain outcome = %v, want completed", last.Args["outcome"])
	}
	if last.ID != events[1].ID || last.ID == "" {
		t.Errorf("drain begin/end ids differ: %q vs %q", events[1].ID, last.ID)
	}

	spans := f.recorder.Ended()
	if len(spans) != 3 {
		t.Fatalf("expected 3 ended spans, got %d", len(spans))
	}
	drain := spanByName(spans, "shutdown.drain")
	if drain == nil {
		t.Fatal("missing drain span")
	}
	if v, _ := attr(drain, "drain.outcome"); v.AsString() != "completed" {
		t.Errorf("drain.outcome = %q", v.AsString())
	}
	if v, _ := attr(drain, "exit.code"); v.AsInt64() != 4 {
		t.Errorf("exit.code = %d", v.AsInt64())
	}
	for _, name := range []string{"shutdown.hook.db", "shutdown.hook.cache"} {
		hook := spanByName(spans, name)
		if hook == nil {
			t.Fatalf("missing span %s", name)
		}
		if hook.Parent().SpanID() != drain.SpanContext().SpanID() {
			t.Errorf("%s is not a child of the drain span", name)
		}
		if hook.Status().Code != codes.Ok {
			t.Errorf("%s status = %v, want Ok", name, hook.Status().Code)
		}
	}
}

func TestObserverTimedOutDrain(t *testing.T) {
	f := newFixture(t)

	f.coord.RegisterFunc("stuck", func(ready *shutdown.Signal) {})

	f.coord.RequestExit(3, 20*time.Millisecond)
	if code := f.waitExit(t); code != 3 {
		t.Fatalf("exit code = %d, want 3", code)
	}

	events := f.events(t)
	last := events[len(events)-1]
	if last.Name != "drain" || last.Phase != PhaseAsyncEnd {
		t.Fatalf("last event = %s/%s", last.Name, last.Phase)
	}
	if last.Args["outcome"] != "timed_out" {
		t.Errorf("outcome = %v, want timed_out", last.Args["outcome"])
	}
	abandoned, _ := last.Args["abandoned"].([]interface{})
	if len(abandoned) != 1 || abandoned[0] != "stuck" {
		t.Errorf("abandoned = %v, want [stuck]", last.Args["abandoned"])
	}

	spans := f.recorder.Ended()
	hook := spanByName(spans, "shutdown.hook.stuck")
	if hook == nil {
		t.Fatal("abandoned hook span was not ended")
	}
	if hook.Status().Code != codes.Error {
		t.Errorf("abandoned hook status = %v, want Error", hook.Status().Code)
	}
	drain := spanByName(spans, "shutdown.drain")
	if drain == nil || drain.Status().Code != codes.Error {
		t.Error("timed out drain span should have Error status")
	}
}

func TestObserverHookFailure(t *testing.T) {
	f := newFixture(t)

	f.coord.RegisterFunc("broken", func(ready *shutdown.Signal) { panic("boom") })
	f.coord.RegisterFunc("fine", func(ready *shutdown.Signal) { ready.Ready() })

	f.coord.RequestExit(1, 20*time.Millisecond)
	f.waitExit(t)

	var failed *Event
	events := f.events(t)
	for i := range events {
		if events[i].Name == "hook_failed" {
			failed = &events[i]
		}
	}
	if failed == nil {
		t.Fatal("expected hook_failed event")
	}
	if failed.Args["hook"] != "broken" {
		t.Errorf("hook_failed hook = %v", failed.Args["hook"])
	}

	hook := spanByName(f.recorder.Ended(), "shutdown.hook.broken")
	if hook == nil {
		t.Fatal("missing span for failed hook")
	}
	if len(hook.Events()) == 0 {
		t.Error("failed hook span should record the error")
	}
}

func TestObserverWithdrawnHook(t *testing.T) {
	f := newFixture(t)

	var laterID shutdown.HookID
	f.coord.RegisterFunc("first", func(ready *shutdown.Signal) {
		f.coord.Unregister(laterID)
		ready.Ready()
	})
	laterID, _ = f.coord.RegisterFunc("later", func(ready *shutdown.Signal) {})

	f.coord.RequestExit(0, time.Second)
	f.waitExit(t)

	var withdrawn *Event
	events := f.events(t)
	for i := range events {
		if events[i].Name == "hook_withdrawn" {
			withdrawn = &events[i]
		}
	}
	if withdrawn == nil {
		t.Fatal("expected hook_withdrawn event")
	}
	if withdrawn.Args["hook"] != "later" {
		t.Errorf("hook_withdrawn hook = %v", withdrawn.Args["hook"])
	}
	if spanByName(f.recorder.Ended(), "shutdown.hook.later") != nil {
		t.Error("withdrawn hook should have no span")
	}
}

func TestObserverSlowExporterBounded(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	obs := NewDrainObserver(NewHTTPExporter(srv.URL))
	exits := make(chan int, 1)
	config := shutdown.DefaultConfig()
	config.Logger = logging.Discard()
	config.Terminate = func(code int) { exits <- code }
	config.Observers = []shutdown.Observer{obs}
	config.FinalizeTimeout = 200 * time.Millisecond
	coord := shutdown.NewCoordinator(config)

	coord.RegisterFunc("stuck", func(ready *shutdown.Signal) {})

	start := time.Now()
	coord.RequestExit(1, 50*time.Millisecond)
	select {
	case code := <-exits:
		if code != 1 {
			t.Fatalf("exit code = %d, want 1", code)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("process was not terminated")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("termination took %v with a stalled exporter", elapsed)
	}
}

func TestObserverDuplicateRequest(t *testing.T) {
	f := newFixture(t)

	f.coord.RegisterFunc("slow", func(ready *shutdown.Signal) {
		go func() {
			time.Sleep(10 * time.Millisecond)
			ready.Ready()
		}()
	})

	f.coord.RequestExit(0, time.Second)
	f.coord.RequestExit(9, time.Second)
	f.waitExit(t)

	var accepted, rejected int
	for _, ev := range f.events(t) {
		if ev.Name != "exit_request" {
			continue
		}
		if ev.Args["accepted"] == true {
			accepted++
		} else {
			rejected++
		}
	}
	if accepted != 1 || rejected != 1 {
		t.Errorf("accepted=%d rejected=%d, want 1 and 1", accepted, rejected)
	}
}

func TestObserverSessionContext(t *testing.T) {
	f := newFixture(t)

	if trace.SpanContextFromContext(f.observer.SessionContext()).IsValid() {
		t.Error("session context should be empty before a drain")
	}

	var during trace.SpanContext
	f.coord.RegisterFunc("peek", func(ready *shutdown.Signal) {
		during = trace.SpanContextFromContext(f.observer.SessionContext())
		ready.Ready()
	})
	f.coord.RequestExit(0, time.Second)
	f.waitExit(t)

	if !during.IsValid() {
		t.Fatal("session context should carry the drain span")
	}
	if during.TraceID() != spanByName(f.recorder.Ended(), "shutdown.drain").SpanContext().TraceID() {
		t.Error("session context trace id differs from the drain span")
	}
}

func TestObserverWithoutTracer(t *testing.T) {
	fs := afero.NewMemMapFs()
	exp, _ := NewFileExporter(fs, "/trace.jsonl")
	obs := NewDrainObserver(exp)

	exits := make(chan int, 1)
	config := shutdown.DefaultConfig()
	config.Logger = logging.Discard()
	config.Terminate = func(code int) { exits <- code }
	config.Observers = []shutdown.Observer{obs}
	coord := shutdown.NewCoordinator(config)

	coord.RegisterFunc("a", func(ready *shutdown.Signal) { ready.Ready() })
	coord.RequestExit(0, time.Second)
	<-exits

	events, err := ReadEvents(fs, "/trace.jsonl")
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 5 {
		t.Errorf("expected 5 events, got %d", len(events))
	}
}
