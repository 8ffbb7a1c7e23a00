// Package notify delivers transient, fire-and-forget user notifications.
// The sink is an explicit dependency of the tracker and the worker so tests
// can substitute it.
package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/harutoshi/medialens/internal/config"
)

const userAgent = "MediaLens/0.1"

// Severity tags a notification for display purposes.
type Severity string

const (
	SeveritySuccess Severity = "success"
	SeverityError   Severity = "error"
	SeverityInfo    Severity = "info"
)

// Notifier is the notification sink. Delivery failures are returned but
// callers are expected to log and move on; a notification must never block
// or fail an upload.
type Notifier interface {
	Notify(ctx context.Context, severity Severity, title, message string) error
}

// NewFromConfig returns an ntfy-backed notifier when a topic is configured
// and a noop notifier otherwise.
func NewFromConfig(cfg *config.Config) Notifier {
	topic := strings.TrimSpace(cfg.NtfyTopic)
	if topic == "" {
		return Noop{}
	}
	timeout := cfg.NtfyTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &NtfyNotifier{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
	}
}

// NtfyNotifier publishes notifications to an ntfy topic URL.
type NtfyNotifier struct {
	endpoint string
	client   *http.Client
}

// Notify posts one message. Severity maps to ntfy tags and priority.
func (n *NtfyNotifier) Notify(ctx context.Context, severity Severity, title, message string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if title != "" {
		req.Header.Set("Title", title)
	}
	switch severity {
	case SeverityError:
		req.Header.Set("Tags", "medialens,error")
		req.Header.Set("Priority", "high")
	case SeveritySuccess:
		req.Header.Set("Tags", "medialens,completed")
	default:
		req.Header.Set("Tags", "medialens")
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

// Noop discards all notifications.
type Noop struct{}

func (Noop) Notify(context.Context, Severity, string, string) error { return nil }
