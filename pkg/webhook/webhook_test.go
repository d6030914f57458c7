// Copyright 2024-2026 Aiku AI

package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/aiku/mattermost-rest/pkg/config"
	"github.com/aiku/mattermost-rest/pkg/session"
)

type received struct {
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

func newReceiver(t *testing.T, status int) (*httptest.Server, chan received) {
	t.Helper()
	ch := make(chan received, 16)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var got received
		if err := json.Unmarshal(body, &got); err == nil {
			ch <- got
		}
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, ch
}

func newDispatcher(url string, buffer int, disabled ...string) *Dispatcher {
	return New(&config.WebhookConfig{
		URL:            url,
		DisabledEvents: disabled,
		Timeout:        2 * time.Second,
		BufferSize:     buffer,
	}, zerolog.Nop())
}

func waitReceived(t *testing.T, ch chan received) received {
	t.Helper()
	select {
	case got := <-ch:
		return got
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for webhook")
		return received{}
	}
}

func TestDeliversEvents(t *testing.T) {
	t.Parallel()
	srv, ch := newReceiver(t, http.StatusOK)
	d := newDispatcher(srv.URL, 8)
	d.Start(context.Background())
	t.Cleanup(d.Stop)

	ts := time.UnixMilli(1700000000123)
	d.Listen(&session.Event{
		Type:      session.EventMessage,
		Data:      &session.TypingEvent{ChatID: "ch1", UserID: "u1"},
		Timestamp: ts,
	})

	got := waitReceived(t, ch)
	if got.Event != "message" {
		t.Errorf("event: got %q", got.Event)
	}
	if got.Timestamp != ts.UnixMilli() {
		t.Errorf("timestamp: got %d, want %d", got.Timestamp, ts.UnixMilli())
	}
	var data session.TypingEvent
	if err := json.Unmarshal(got.Data, &data); err != nil || data.ChatID != "ch1" {
		t.Errorf("data: got %s (%v)", got.Data, err)
	}
}

func TestDisabledEventsAreSkipped(t *testing.T) {
	t.Parallel()
	srv, ch := newReceiver(t, http.StatusOK)
	d := newDispatcher(srv.URL, 8, "typing")
	d.Start(context.Background())
	t.Cleanup(d.Stop)

	d.Listen(&session.Event{Type: session.EventTyping, Timestamp: time.Now()})
	d.Listen(&session.Event{Type: session.EventReady, Timestamp: time.Now()})

	if got := waitReceived(t, ch); got.Event != "ready" {
		t.Errorf("expected ready to be the first delivery, got %q", got.Event)
	}
}

func TestFullQueueDrops(t *testing.T) {
	t.Parallel()
	d := newDispatcher("http://127.0.0.1:0/unused", 2)
	// Not started, so nothing drains the queue.
	for range 5 {
		d.Listen(&session.Event{Type: session.EventMessage, Timestamp: time.Now()})
	}
	if _, dropped, _ := d.Stats(); dropped != 3 {
		t.Errorf("dropped: got %d, want 3", dropped)
	}
}

func TestFailedDeliveryIsNotRetried(t *testing.T) {
	t.Parallel()
	srv, ch := newReceiver(t, http.StatusInternalServerError)
	d := newDispatcher(srv.URL, 8)
	d.Start(context.Background())
	t.Cleanup(d.Stop)

	d.Listen(&session.Event{Type: session.EventMessage, Timestamp: time.Now()})
	waitReceived(t, ch)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, _, failed := d.Stats(); failed == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if _, _, failed := d.Stats(); failed != 1 {
		t.Fatalf("failed: got %d, want 1", failed)
	}
	select {
	case <-ch:
		t.Error("failed delivery must not be retried")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDisabledWithoutURL(t *testing.T) {
	t.Parallel()
	d := newDispatcher("", 1)
	if d.Enabled() {
		t.Fatal("dispatcher without URL must be disabled")
	}
	d.Start(context.Background())
	d.Listen(&session.Event{Type: session.EventMessage, Timestamp: time.Now()})
	d.Stop()
	if delivered, dropped, failed := d.Stats(); delivered+dropped+failed != 0 {
		t.Errorf("expected no activity, got %d/%d/%d", delivered, dropped, failed)
	}
}
