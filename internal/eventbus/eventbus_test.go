package eventbus

import (
	"strings"
	"testing"
	"time"
)

// drainConnectionEstablished reads and discards the greeting frame every
// subscriber receives immediately on Subscribe, so tests can assert on the
// next, substantive frame.
func drainConnectionEstablished(t *testing.T, sub *Subscriber) {
	t.Helper()
	select {
	case frame := <-sub.Messages():
		if !strings.Contains(string(frame), EventConnectionEstablished) {
			t.Fatalf("expected a connection_established greeting first, got %q", frame)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the connection_established greeting")
	}
}

func TestSubscribe_SendsConnectionEstablishedImmediately(t *testing.T) {
	h := New(time.Hour)
	go h.Run()
	defer h.Stop()

	sub := h.Subscribe()
	defer h.Unsubscribe(sub)
	drainConnectionEstablished(t, sub)
}

func TestPublishSubscribe_DeliversEvent(t *testing.T) {
	h := New(time.Hour)
	go h.Run()
	defer h.Stop()

	sub := h.Subscribe()
	defer h.Unsubscribe(sub)
	drainConnectionEstablished(t, sub)

	h.Publish(Event{Type: EventMemoryStored, Hash: "abc123"})

	select {
	case frame := <-sub.Messages():
		s := string(frame)
		if !strings.Contains(s, "event: memory_stored") {
			t.Fatalf("expected an SSE frame named after its event type, got %q", s)
		}
		if !strings.Contains(s, "memory_stored") {
			t.Fatalf("expected event type in payload, got %q", s)
		}
		if !strings.Contains(s, "abc123") {
			t.Fatalf("expected content hash in payload, got %q", s)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published event")
	}
}

func TestMultipleSubscribers_AllReceive(t *testing.T) {
	h := New(time.Hour)
	go h.Run()
	defer h.Stop()

	subA := h.Subscribe()
	subB := h.Subscribe()
	defer h.Unsubscribe(subA)
	defer h.Unsubscribe(subB)
	drainConnectionEstablished(t, subA)
	drainConnectionEstablished(t, subB)

	h.Publish(Event{Type: EventMemoryDeleted})

	for _, s := range []*Subscriber{subA, subB} {
		select {
		case <-s.Messages():
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for fan-out to a subscriber")
		}
	}
}

func TestUnsubscribe_ClosesMailbox(t *testing.T) {
	h := New(time.Hour)
	go h.Run()
	defer h.Stop()

	sub := h.Subscribe()
	// Give Run a moment to process the registration before unsubscribing.
	time.Sleep(10 * time.Millisecond)
	drainConnectionEstablished(t, sub)
	h.Unsubscribe(sub)

	select {
	case _, ok := <-sub.Messages():
		if ok {
			t.Fatal("expected mailbox to be closed, got a message instead")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for mailbox to close")
	}
}

func TestStatsSnapshot_TracksSubscribersAndPublished(t *testing.T) {
	h := New(time.Hour)
	go h.Run()
	defer h.Stop()

	sub := h.Subscribe()
	defer h.Unsubscribe(sub)
	time.Sleep(10 * time.Millisecond)
	drainConnectionEstablished(t, sub)

	h.Publish(Event{Type: EventMemoryStored})
	h.Publish(Event{Type: EventMemoryDeleted})
	time.Sleep(10 * time.Millisecond)

	stats := h.StatsSnapshot()
	if stats.ActiveSubscribers != 1 {
		t.Fatalf("expected 1 active subscriber, got %d", stats.ActiveSubscribers)
	}
	if stats.TotalPublished != 2 {
		t.Fatalf("expected 2 published events, got %d", stats.TotalPublished)
	}
}

func TestSlowSubscriber_DroppedRatherThanBlocking(t *testing.T) {
	h := New(time.Hour)
	go h.Run()
	defer h.Stop()

	sub := h.Subscribe()
	time.Sleep(10 * time.Millisecond)

	// Flood past the mailbox buffer without draining it; fanOut must drop
	// the slow subscriber rather than block the hub loop.
	for i := 0; i < 100; i++ {
		h.Publish(Event{Type: EventMemoryStored})
	}

	done := make(chan struct{})
	go func() {
		h.Publish(Event{Type: EventMemoryDeleted})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("hub appears to be blocked by a slow subscriber")
	}

	time.Sleep(50 * time.Millisecond)
	if got := h.StatsSnapshot().ActiveSubscribers; got != 0 {
		t.Fatalf("expected the slow subscriber to be dropped, got %d active subscribers", got)
	}
}

func TestConnectionClosed_BroadcastToRemainingSubscribers(t *testing.T) {
	h := New(time.Hour)
	go h.Run()
	defer h.Stop()

	subA := h.Subscribe()
	subB := h.Subscribe()
	defer h.Unsubscribe(subA)
	drainConnectionEstablished(t, subA)
	drainConnectionEstablished(t, subB)

	h.Unsubscribe(subB)

	select {
	case frame, ok := <-subA.Messages():
		if !ok {
			t.Fatal("expected subA's mailbox to stay open")
		}
		if !strings.Contains(string(frame), EventConnectionClosed) {
			t.Fatalf("expected a connection_closed frame, got %q", frame)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for connection_closed broadcast")
	}
}
