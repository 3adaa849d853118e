package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const userAgent = "qcflow/0.1.0"

// Ntfy posts events to an ntfy topic URL.
type Ntfy struct {
	endpoint string
	client   *http.Client
}

// NewNtfy constructs an ntfy publisher.
func NewNtfy(endpoint string, client *http.Client) *Ntfy {
	if client == nil {
		client = http.DefaultClient
	}
	return &Ntfy{endpoint: endpoint, client: client}
}

type ntfyPayload struct {
	title    string
	message  string
	tags     []string
	priority string
}

func render(msg Message) (ntfyPayload, bool) {
	short := msg.JobID
	if len(short) > 8 {
		short = short[:8]
	}
	switch msg.Type {
	case EventJobReady:
		return ntfyPayload{
			title:   "qcflow - Ready",
			message: fmt.Sprintf("Job %s is ready to finalize", short),
			tags:    []string{"qcflow", "job", "ready"},
		}, true
	case EventJobFinalized:
		text := fmt.Sprintf("Job %s finalized", short)
		if msg.Message != "" {
			text += ": " + msg.Message
		}
		if msg.SheetURL != "" {
			text += "\n" + msg.SheetURL
		}
		return ntfyPayload{
			title:    "qcflow - Finalized",
			message:  text,
			tags:     []string{"qcflow", "finalize", "completed"},
			priority: "high",
		}, true
	case EventJobFailed:
		return ntfyPayload{
			title:    "qcflow - Job Failed",
			message:  fmt.Sprintf("Job %s failed: %s", short, strings.TrimSpace(msg.Message)),
			tags:     []string{"qcflow", "error", "alert"},
			priority: "high",
		}, true
	case EventFinalizeFailed:
		return ntfyPayload{
			title:   "qcflow - Finalize Retry Needed",
			message: fmt.Sprintf("Finalize of job %s did not complete: %s", short, strings.TrimSpace(msg.Message)),
			tags:    []string{"qcflow", "finalize", "retry"},
		}, true
	case EventTest:
		return ntfyPayload{
			title:    "qcflow - Test",
			message:  "Notification system test",
			tags:     []string{"qcflow", "test"},
			priority: "low",
		}, true
	}
	return ntfyPayload{}, false
}

// Publish implements Publisher. Per-file and creation events are only
// broadcast on the websocket hub.
func (n *Ntfy) Publish(ctx context.Context, msg Message) error {
	data, ok := render(msg)
	if !ok {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	req.Header.Set("Title", data.title)
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
