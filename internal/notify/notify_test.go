package notify_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"qcflow/internal/config"
	"qcflow/internal/logging"
	"qcflow/internal/notify"
)

func TestNewReturnsNopWithoutTransports(t *testing.T) {
	cfg := config.Default()
	cfg.Notifications.WebSocket = false
	pub := notify.New(&cfg, nil, logging.NewNop())
	if err := pub.Publish(context.Background(), notify.Message{Type: notify.EventJobReady, JobID: "abc"}); err != nil {
		t.Fatalf("expected nil from nop publisher, got %v", err)
	}
}

func TestNtfyFormatsFinalized(t *testing.T) {
	var gotTitle, gotTags, gotPriority, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		gotTitle = r.Header.Get("Title")
		gotTags = r.Header.Get("Tags")
		gotPriority = r.Header.Get("Priority")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := notify.NewNtfy(srv.URL, srv.Client())
	err := n.Publish(context.Background(), notify.Message{
		Type:     notify.EventJobFinalized,
		JobID:    "0123456789abcdef",
		Message:  "12 match, 1 mismatch",
		SheetURL: "file:///tmp/x.xlsx",
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if gotTitle != "qcflow - Finalized" {
		t.Fatalf("unexpected title %q", gotTitle)
	}
	if gotTags != "qcflow,finalize,completed" || gotPriority != "high" {
		t.Fatalf("unexpected headers tags=%q priority=%q", gotTags, gotPriority)
	}
	if !strings.Contains(gotBody, "Job 01234567 finalized: 12 match, 1 mismatch") || !strings.Contains(gotBody, "file:///tmp/x.xlsx") {
		t.Fatalf("unexpected body %q", gotBody)
	}
}

func TestNtfySkipsFileEvents(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()
	n := notify.NewNtfy(srv.URL, srv.Client())
	if err := n.Publish(context.Background(), notify.Message{Type: notify.EventFileFailed, JobID: "j"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if called {
		t.Fatal("file events should not reach ntfy")
	}
}

func TestNtfyReportsHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "topic closed", http.StatusForbidden)
	}))
	defer srv.Close()
	n := notify.NewNtfy(srv.URL, srv.Client())
	err := n.Publish(context.Background(), notify.Message{Type: notify.EventJobFailed, JobID: "j", Message: "expired"})
	if err == nil || !strings.Contains(err.Error(), "403") {
		t.Fatalf("expected 403 error, got %v", err)
	}
}

func TestHubBroadcastsToSubscribers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := notify.NewHub(logging.NewNop())
	go hub.Run(ctx)

	srv := httptest.NewServer(hub)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := hub.Publish(ctx, notify.Message{Type: notify.EventJobReady, JobID: "job-1", State: "READY"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg notify.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Type != notify.EventJobReady || msg.JobID != "job-1" || msg.State != "READY" {
		t.Fatalf("unexpected message %#v", msg)
	}
	if msg.Timestamp.IsZero() {
		t.Fatal("expected timestamp to be set")
	}
}
