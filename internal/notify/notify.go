package notify

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"qcflow/internal/config"
	"qcflow/internal/logging"
)

// Event enumerates lifecycle events.
type Event string

const (
	EventJobCreated     Event = "job_created"
	EventFileFailed     Event = "file_failed"
	EventJobReady       Event = "job_ready"
	EventJobFailed      Event = "job_failed"
	EventJobFinalized   Event = "job_finalized"
	EventFinalizeFailed Event = "finalize_failed"
	EventTest           Event = "test"
)

// Message is the payload broadcast for an event.
type Message struct {
	Type      Event     `json:"type"`
	JobID     string    `json:"jobId,omitempty"`
	State     string    `json:"state,omitempty"`
	Message   string    `json:"message,omitempty"`
	SheetURL  string    `json:"sheetUrl,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher fans a message out to subscribers.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// New builds the publisher selected by configuration. The hub may be nil.
func New(cfg *config.Config, hub *Hub, logger *slog.Logger) Publisher {
	var out Multi
	if hub != nil && cfg.Notifications.WebSocket {
		out = append(out, hub)
	}
	if topic := strings.TrimSpace(cfg.Notifications.NtfyTopic); topic != "" {
		timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		out = append(out, NewNtfy(topic, &http.Client{Timeout: timeout}))
	}
	if len(out) == 0 {
		return Nop()
	}
	return &logged{next: out, logger: logging.NewComponentLogger(logger, "notify")}
}

// Multi publishes to every member and joins their errors.
type Multi []Publisher

// Publish implements Publisher.
func (m Multi) Publish(ctx context.Context, msg Message) error {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// logged swallows delivery errors after logging them; notifications never
// fail the operation that emitted them.
type logged struct {
	next   Publisher
	logger *slog.Logger
}

func (l *logged) Publish(ctx context.Context, msg Message) error {
	if err := l.next.Publish(ctx, msg); err != nil {
		logging.WarnWithContext(logging.WithContext(ctx, l.logger), "notification delivery failed", "notify_failed",
			logging.String("event", string(msg.Type)),
			logging.String(logging.FieldErrorHint, "check ntfy topic reachability"),
			logging.Error(err),
		)
	}
	return nil
}

type nop struct{}

func (nop) Publish(context.Context, Message) error { return nil }

// Nop returns a publisher that drops every message.
func Nop() Publisher { return nop{} }
