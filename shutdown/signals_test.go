package shutdown

import (
	"os"
	"syscall"
	"testing"
	"time"
)

func TestExitCodeForSignal(t *testing.T) {
	tests := []struct {
		sig  os.Signal
		want int
	}{
		{os.Interrupt, 130},
		{syscall.SIGTERM, 143},
		{fakeSignal{}, 1},
	}
	for _, tt := range tests {
		if got := ExitCodeForSignal(tt.sig); got != tt.want {
			t.Errorf("ExitCodeForSignal(%v) = %d, want %d", tt.sig, got, tt.want)
		}
	}
}

type fakeSignal struct{}

func (fakeSignal) String() string { return "fake" }
func (fakeSignal) Signal()        {}

// TestSignalHandling tests that a delivered signal starts a drain.
func TestSignalHandling(t *testing.T) {
	rec := newExitRecorder()
	config := testConfig(rec)
	config.DefaultTimeout = time.Second
	coord := NewCoordinator(config)

	called := make(chan struct{})
	coord.RegisterFunc("test", func(ready *Signal) {
		close(called)
		ready.Ready()
	})

	stop := coord.HandleSignals(syscall.SIGTERM)
	defer stop()

	coord.Trigger(syscall.SIGTERM)

	if code := rec.wait(t, 5*time.Second); code != 143 {
		t.Fatalf("expected exit code 143, got %d", code)
	}
	select {
	case <-called:
	default:
		t.Fatal("expected hook to be called")
	}
	if coord.Session().Request().Timeout != time.Second {
		t.Fatalf("expected default timeout on signal drains, got %v", coord.Session().Request().Timeout)
	}
}

// TestSecondSignalIgnored tests that a signal during a drain does not
// restart it.
func TestSecondSignalIgnored(t *testing.T) {
	rec := newExitRecorder()
	coord := NewCoordinator(testConfig(rec))

	held := make(chan *Signal, 1)
	coord.RegisterFunc("slow", func(ready *Signal) { held <- ready })

	stop := coord.HandleSignals(os.Interrupt)
	defer stop()

	coord.Trigger(os.Interrupt)
	ready := <-held

	coord.Trigger(os.Interrupt)
	time.Sleep(20 * time.Millisecond)
	if coord.ExitCode() != 130 {
		t.Fatalf("expected exit code 130, got %d", coord.ExitCode())
	}

	ready.Ready()
	if code := rec.wait(t, time.Second); code != 130 {
		t.Fatalf("expected exit code 130, got %d", code)
	}
	if rec.calls.Load() != 1 {
		t.Fatalf("expected one termination, got %d", rec.calls.Load())
	}
}

func TestStopIsIdempotent(t *testing.T) {
	coord, _ := newTestCoordinator()
	stop := coord.HandleSignals(syscall.SIGTERM)
	stop()
	stop()
}

// TestTriggerWithoutHandlerDropped tests that a signal injected while no
// handler is active does not fire once one starts.
func TestTriggerWithoutHandlerDropped(t *testing.T) {
	coord, rec := newTestCoordinator()

	coord.Trigger(syscall.SIGTERM)

	stop := coord.HandleSignals(syscall.SIGTERM)
	defer stop()

	time.Sleep(50 * time.Millisecond)
	if coord.Draining() {
		t.Fatal("signal triggered before HandleSignals should be dropped")
	}
	if rec.calls.Load() != 0 {
		t.Fatalf("expected no termination, got %d", rec.calls.Load())
	}
}

// TestTriggerAfterStopDropped tests that signals after stop are ignored,
// including by a later handler.
func TestTriggerAfterStopDropped(t *testing.T) {
	coord, rec := newTestCoordinator()

	stop := coord.HandleSignals(syscall.SIGTERM)
	stop()
	coord.Trigger(syscall.SIGTERM)

	stop = coord.HandleSignals(syscall.SIGTERM)
	defer stop()

	time.Sleep(50 * time.Millisecond)
	if coord.Draining() || rec.calls.Load() != 0 {
		t.Fatal("signal triggered after stop should be dropped")
	}
}
