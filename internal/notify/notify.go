// Package notify posts run summaries to an optional webhook. Delivery is
// strictly best-effort; a failure is logged and never surfaces to callers.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const sendTimeout = 5 * time.Second

// Notifier sends text messages to a webhook. A zero URL disables it.
type Notifier struct {
	client *http.Client
	url    string
}

// New builds a Notifier; url may be empty to disable notifications.
func New(url string) *Notifier {
	return &Notifier{
		client: &http.Client{Timeout: sendTimeout},
		url:    url,
	}
}

// Send posts a titled text message. Failures are logged, never returned.
func (n *Notifier) Send(ctx context.Context, title, body string) {
	if n.url == "" {
		return
	}

	payload := map[string]any{
		"msg_type": "text",
		"content":  map[string]string{"text": title + "\n" + body},
	}
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Warn("notification payload encoding failed", "error", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(data))
	if err != nil {
		slog.Warn("notification request failed", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		slog.Warn("notification delivery failed", "error", err)
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		slog.Warn("notification rejected", "status", fmt.Sprint(resp.StatusCode))
	}
}
