package sse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/starford/refsync/internal/engine"
	"github.com/starford/refsync/internal/models"
)

func TestSubscribeUnsubscribe(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients")
	}
	ch := b.Subscribe()
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}
	b.Unsubscribe(ch)
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after unsub")
	}
}

func TestForwardRecordWritten(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.Forward(engine.Event{Type: engine.EventRecordWritten, Key: "K1", Path: "refs/K1.md", Kind: engine.KindCreated})

	select {
	case msg := <-ch:
		s := string(msg)
		if !strings.Contains(s, "event: record.written") {
			t.Errorf("missing event type in %q", s)
		}
		if !strings.Contains(s, `"path":"refs/K1.md"`) || !strings.Contains(s, `"kind":"created"`) {
			t.Errorf("missing data in %q", s)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestForwardCompletedCarriesOutcome(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.Forward(engine.Event{Type: engine.EventCompleted, Mode: "full", Outcome: &models.Outcome{Created: 2}})

	select {
	case msg := <-ch:
		if s := string(msg); !strings.Contains(s, `"created":2`) {
			t.Errorf("missing outcome in %q", s)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestProgressThrottle(t *testing.T) {
	b := NewBroker(500 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	// First and last are always sent; the middle ones fall in the window.
	for i := 0; i <= 10; i++ {
		b.PublishProgress("full", i, 10)
	}

	time.Sleep(50 * time.Millisecond)
	count := 0
	var last string
loop:
	for {
		select {
		case msg := <-ch:
			count++
			last = string(msg)
		default:
			break loop
		}
	}

	if count != 2 {
		t.Errorf("progress events = %d, want 2 (throttled)", count)
	}
	if !strings.Contains(last, `"done":10`) {
		t.Errorf("final progress missing: %q", last)
	}
}

func TestSSEHandler(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/events", nil)
	req = req.WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		b.ServeHTTP(w, req)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client from handler")
	}

	b.Forward(engine.Event{Type: engine.EventStarted, Mode: "single"})
	time.Sleep(50 * time.Millisecond)

	cancel()
	<-done

	body := w.Body.String()
	if !strings.Contains(body, "event: sync.started") {
		t.Errorf("handler output missing event: %q", body)
	}

	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 0 {
		t.Errorf("client not cleaned up after disconnect")
	}
}

func TestPublishDropsOnFullBuffer(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	for i := 0; i < 70; i++ {
		b.Publish(Event{Type: "test", Data: map[string]string{"i": "x"}})
	}
}

func TestCloseClosesSubscribersAndStopsOperations(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	ch := b.Subscribe()
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}

	b.Close()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected subscriber channel to be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for channel close")
	}

	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after close")
	}

	b.Publish(Event{Type: engine.EventStarted, Data: map[string]string{}})
	b.PublishProgress("full", 1, 2)
}
