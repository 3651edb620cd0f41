package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"photoqueue/internal/config"
)

const userAgent = "photoqueue/0.1.0"

// Event identifies a notification type.
type Event string

const (
	EventQueueStarted   Event = "queue_started"
	EventQueueCompleted Event = "queue_completed"
	EventUploadFailed   Event = "upload_failed"
	EventFilesRejected  Event = "files_rejected"
	EventTest           Event = "test"
)

// Payload carries the values a notification message is built from.
type Payload map[string]any

// Service publishes notifications.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	if cfg == nil {
		return noopService{}
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
		toggles:  cfg.Notifications,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
	toggles  config.Notifications
}

func (n *ntfyService) Publish(ctx context.Context, event Event, data Payload) error {
	if n == nil || !n.enabled(event) {
		return nil
	}
	msg, ok := format(event, data)
	if !ok {
		return nil
	}
	return n.send(ctx, msg)
}

func (n *ntfyService) enabled(event Event) bool {
	switch event {
	case EventQueueStarted, EventQueueCompleted:
		return n.toggles.Queue
	case EventUploadFailed:
		return n.toggles.Failures
	case EventFilesRejected:
		return n.toggles.Rejections
	case EventTest:
		return true
	default:
		return false
	}
}

func format(event Event, data Payload) (payload, bool) {
	switch event {
	case EventQueueStarted:
		count := data.Int("count")
		return payload{
			title:   "photoqueue - Uploads Started",
			message: fmt.Sprintf("⬆️ Uploading %d %s", count, plural(count, "file", "files")),
			tags:    []string{"photoqueue", "queue", "started"},
		}, true
	case EventQueueCompleted:
		succeeded := data.Int("succeeded")
		failed := data.Int("failed")
		canceled := data.Int("canceled")
		duration := formatDuration(data.Duration("duration"))
		if failed == 0 {
			message := fmt.Sprintf("✅ %d %s uploaded in %s", succeeded, plural(succeeded, "file", "files"), duration)
			if canceled > 0 {
				message = fmt.Sprintf("%s (%d canceled)", message, canceled)
			}
			return payload{
				title:   "photoqueue - Uploads Complete",
				message: message,
				tags:    []string{"photoqueue", "queue", "completed"},
			}, true
		}
		message := fmt.Sprintf("Uploads finished: %d succeeded, %d failed in %s", succeeded, failed, duration)
		if canceled > 0 {
			message = fmt.Sprintf("%s (%d canceled)", message, canceled)
		}
		return payload{
			title:   "photoqueue - Uploads Complete (with errors)",
			message: message,
			tags:    []string{"photoqueue", "queue", "completed", "warning"},
		}, true
	case EventUploadFailed:
		var builder strings.Builder
		builder.WriteString("❌ Upload failed: ")
		builder.WriteString(fallback(data.String("file"), "unknown file"))
		if message := data.String("message"); message != "" {
			builder.WriteString("\n")
			builder.WriteString(message)
		}
		if data.Bool("retryable") {
			builder.WriteString("\nRetry with: photoqueue queue retry")
		}
		return payload{
			title:    "photoqueue - Upload Failed",
			message:  builder.String(),
			tags:     []string{"photoqueue", "upload", "failed", fallback(data.String("reason"), "unknown")},
			priority: "high",
		}, true
	case EventFilesRejected:
		count := data.Int("count")
		message := fmt.Sprintf("⚠️ %d %s not queued", count, plural(count, "file", "files"))
		if files := data.Strings("files"); len(files) > 0 {
			message = fmt.Sprintf("%s: %s", message, summarizeNames(files, 3))
		}
		return payload{
			title:   "photoqueue - Files Rejected",
			message: message,
			tags:    []string{"photoqueue", "rejected"},
		}, true
	case EventTest:
		return payload{
			title:    "photoqueue - Test",
			message:  "🧪 Notification system test",
			tags:     []string{"photoqueue", "test"},
			priority: "low",
		}, true
	default:
		return payload{}, false
	}
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
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

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }

// String returns the trimmed string value for key.
func (p Payload) String(key string) string {
	switch value := p[key].(type) {
	case string:
		return strings.TrimSpace(value)
	case fmt.Stringer:
		return strings.TrimSpace(value.String())
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(value))
	}
}

// Int returns the integer value for key, or zero.
func (p Payload) Int(key string) int {
	switch value := p[key].(type) {
	case int:
		return value
	case int64:
		return int(value)
	case float64:
		return int(value)
	default:
		return 0
	}
}

// Bool returns the boolean value for key.
func (p Payload) Bool(key string) bool {
	value, _ := p[key].(bool)
	return value
}

// Duration returns the duration value for key, or zero.
func (p Payload) Duration(key string) time.Duration {
	value, _ := p[key].(time.Duration)
	return value
}

// Strings returns the string slice value for key.
func (p Payload) Strings(key string) []string {
	value, _ := p[key].([]string)
	return value
}

func formatDuration(duration time.Duration) string {
	duration = duration.Round(time.Second)
	if duration <= 0 {
		return "0s"
	}
	return duration.String()
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

func fallback(value, def string) string {
	if value == "" {
		return def
	}
	return value
}

func summarizeNames(names []string, limit int) string {
	if len(names) <= limit {
		return strings.Join(names, ", ")
	}
	return fmt.Sprintf("%s and %d more", strings.Join(names[:limit], ", "), len(names)-limit)
}
