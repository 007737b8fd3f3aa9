package bus

import (
	"testing"
	"time"
)

func TestMemoryBus_PubSub(t *testing.T) {
	bus := NewMemoryBus(DefaultConfig())
	defer bus.Close()

	sub, err := bus.Subscribe("drainkit.test.draining")
	if err != nil {
		t.Fatalf("Subscribe error: %v", err)
	}
	defer sub.Unsubscribe()

	if err := bus.Publish("drainkit.test.draining", []byte("hello")); err != nil {
		t.Fatalf("Publish error: %v", err)
	}

	select {
	case msg := <-sub.Messages():
		if string(msg.Data) != "hello" {
			t.Errorf("expected 'hello', got %q", msg.Data)
		}
		if msg.Subject != "drainkit.test.draining" {
			t.Errorf("expected subject 'drainkit.test.draining', got %q", msg.Subject)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestMemoryBus_MultipleSubscribers(t *testing.T) {
	bus := NewMemoryBus(DefaultConfig())
	defer bus.Close()

	sub1, _ := bus.Subscribe("events")
	sub2, _ := bus.Subscribe("events")
	other, _ := bus.Subscribe("other")

	bus.Publish("events", []byte("broadcast"))

	for i, sub := range []Subscription{sub1, sub2} {
		select {
		case msg := <-sub.Messages():
			if string(msg.Data) != "broadcast" {
				t.Errorf("sub%d: expected 'broadcast', got %q", i+1, msg.Data)
			}
		case <-time.After(time.Second):
			t.Fatalf("sub%d: timeout", i+1)
		}
	}

	select {
	case msg := <-other.Messages():
		t.Errorf("unrelated subscriber got %q", msg.Data)
	default:
	}
}

func TestMemoryBus_Unsubscribe(t *testing.T) {
	bus := NewMemoryBus(DefaultConfig())
	defer bus.Close()

	sub, _ := bus.Subscribe("events")
	if err := sub.Unsubscribe(); err != nil {
		t.Fatalf("Unsubscribe error: %v", err)
	}
	// Second unsubscribe is a no-op.
	if err := sub.Unsubscribe(); err != nil {
		t.Errorf("second Unsubscribe error: %v", err)
	}

	if _, ok := <-sub.Messages(); ok {
		t.Error("channel should be closed after Unsubscribe")
	}
	if err := bus.Publish("events", []byte("late")); err != nil {
		t.Errorf("Publish after unsubscribe error: %v", err)
	}
}

func TestMemoryBus_FullBufferDrops(t *testing.T) {
	bus := NewMemoryBus(Config{BufferSize: 1})
	defer bus.Close()

	sub, _ := bus.Subscribe("events")
	bus.Publish("events", []byte("1"))
	bus.Publish("events", []byte("2"))

	if got := bus.Published(); got != 2 {
		t.Errorf("Published() = %d, want 2", got)
	}
	if got := bus.Dropped(); got != 1 {
		t.Errorf("Dropped() = %d, want 1", got)
	}
	if msg := <-sub.Messages(); string(msg.Data) != "1" {
		t.Errorf("expected first message kept, got %q", msg.Data)
	}
}

func TestMemoryBus_Close(t *testing.T) {
	bus := NewMemoryBus(DefaultConfig())
	sub, _ := bus.Subscribe("events")

	if err := bus.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	if err := bus.Close(); err != nil {
		t.Errorf("second Close error: %v", err)
	}

	if _, ok := <-sub.Messages(); ok {
		t.Error("subscription channel should be closed")
	}
	if err := bus.Publish("events", nil); err != ErrClosed {
		t.Errorf("Publish after close: got %v, want ErrClosed", err)
	}
	if _, err := bus.Subscribe("events"); err != ErrClosed {
		t.Errorf("Subscribe after close: got %v, want ErrClosed", err)
	}
	if err := bus.Flush(time.Second); err != ErrClosed {
		t.Errorf("Flush after close: got %v, want ErrClosed", err)
	}
	// Unsubscribe after Close must not double close.
	sub.Unsubscribe()
}

func TestValidateSubject(t *testing.T) {
	tests := []struct {
		subject string
		valid   bool
	}{
		{"drainkit.draining", true},
		{"a", true},
		{"", false},
		{"has space", false},
		{"drainkit.*", false},
		{"drainkit.>", false},
		{"drainkit..draining", false},
		{".drainkit", false},
	}

	for _, tt := range tests {
		err := ValidateSubject(tt.subject)
		if (err == nil) != tt.valid {
			t.Errorf("ValidateSubject(%q) = %v, want valid=%v", tt.subject, err, tt.valid)
		}
	}
}
