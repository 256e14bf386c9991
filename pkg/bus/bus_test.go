package bus

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestEventFanout(t *testing.T) {
	b := New()
	t.Cleanup(b.Close)

	ctx := context.Background()
	eventsA, unsubA := b.Subscribe(ctx, 1)
	defer unsubA()
	eventsB, unsubB := b.Subscribe(ctx, 1)
	defer unsubB()

	event := Event{Type: EventSessionState, Source: "session-1", Payload: map[string]string{"state": "connected"}}
	if ok := b.Publish(ctx, event); !ok {
		t.Fatal("expected event publish to succeed")
	}

	for name, events := range map[string]<-chan Event{"A": eventsA, "B": eventsB} {
		select {
		case got := <-events:
			if got.Type != EventSessionState {
				t.Fatalf("subscriber %s event type = %q, want %q", name, got.Type, EventSessionState)
			}
			if got.Payload["state"] != "connected" {
				t.Fatalf("subscriber %s payload = %v", name, got.Payload)
			}
			if got.At.IsZero() {
				t.Fatalf("subscriber %s expected timestamp to be stamped", name)
			}
		case <-time.After(500 * time.Millisecond):
			t.Fatalf("subscriber %s did not receive event", name)
		}
	}
}

func TestSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	b := New()
	t.Cleanup(b.Close)

	ctx := context.Background()
	events, unsubscribe := b.Subscribe(ctx, 1)
	defer unsubscribe()

	if ok := b.Publish(ctx, Event{Type: EventMessageAppended}); !ok {
		t.Fatal("expected first event publish to succeed")
	}

	start := time.Now()
	if ok := b.Publish(ctx, Event{Type: EventLoadingChanged}); !ok {
		t.Fatal("expected second event publish to succeed")
	}

	if time.Since(start) > 100*time.Millisecond {
		t.Fatal("publish blocked on slow subscriber")
	}

	select {
	case got := <-events:
		if got.Type != EventMessageAppended {
			t.Fatalf("event type = %q, want first event kept", got.Type)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected at least one event")
	}
}

func TestUnsubscribeStopsEvents(t *testing.T) {
	b := New()
	t.Cleanup(b.Close)

	ctx := context.Background()
	events, unsubscribe := b.Subscribe(ctx, 1)
	unsubscribe()
	unsubscribe()

	if ok := b.Publish(ctx, Event{Type: EventSyncCompleted}); !ok {
		t.Fatal("expected event publish to succeed")
	}

	select {
	case _, ok := <-events:
		if ok {
			t.Fatal("expected closed event channel")
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected event channel close after unsubscribe")
	}
	if got := b.Subscribers(); got != 0 {
		t.Fatalf("subscribers = %d, want 0", got)
	}
}

func TestSubscriptionEndsWithContext(t *testing.T) {
	b := New()
	t.Cleanup(b.Close)

	ctx, cancel := context.WithCancel(context.Background())
	events, _ := b.Subscribe(ctx, 1)
	cancel()

	select {
	case _, ok := <-events:
		if ok {
			t.Fatal("expected event channel to be closed")
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("subscription did not end with context")
	}
}

func TestCloseStopsBus(t *testing.T) {
	b := New()

	events, _ := b.Subscribe(context.Background(), 1)
	b.Close()
	b.Close()

	select {
	case _, ok := <-events:
		if ok {
			t.Fatal("expected event channel to be closed")
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("event subscription did not unblock after close")
	}

	if ok := b.Publish(context.Background(), Event{Type: EventSyncFailed}); ok {
		t.Fatal("expected publish to fail after close")
	}

	late, _ := b.Subscribe(context.Background(), 1)
	if _, ok := <-late; ok {
		t.Fatal("expected subscription after close to be closed")
	}
}

func TestPublishRespectsCanceledContext(t *testing.T) {
	b := New()
	t.Cleanup(b.Close)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if ok := b.Publish(ctx, Event{Type: EventEntryQueued}); ok {
		t.Fatal("expected publish to fail on canceled context")
	}
}

func TestObserveLogsUntilClose(t *testing.T) {
	b := New()

	var out syncBuffer
	log := slog.New(slog.NewTextHandler(&out, &slog.HandlerOptions{Level: slog.LevelDebug}))

	done := make(chan struct{})
	go func() {
		defer close(done)
		Observe(context.Background(), b, log)
	}()

	deadline := time.Now().Add(time.Second)
	for b.Subscribers() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	b.Publish(context.Background(), Event{Type: EventSyncFailed, Source: "offline", Error: "status 503"})
	b.Publish(context.Background(), Event{Type: EventMessageAppended, Source: "session-1"})

	deadline = time.Now().Add(time.Second)
	for !strings.Contains(out.String(), "message_appended") && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	b.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Observe did not return after bus close")
	}

	logged := out.String()
	if !strings.Contains(logged, "level=ERROR") || !strings.Contains(logged, "status 503") {
		t.Fatalf("expected sync failure at error level, got %q", logged)
	}
	if !strings.Contains(logged, "level=DEBUG") {
		t.Fatalf("expected message append at debug level, got %q", logged)
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
