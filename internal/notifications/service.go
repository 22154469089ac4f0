package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"squish/internal/config"
)

const userAgent = "squish/1.0"

// RunSummary is the part of a finished run a notification describes.
type RunSummary struct {
	Succeeded   int
	Failed      int
	Skipped     int
	Interrupted int
	Duration    time.Duration
}

// Service defines the notification surface used by the workflow.
type Service interface {
	NotifyRunCompleted(ctx context.Context, summary RunSummary) error
	NotifyRunFailed(ctx context.Context, err error) error
	TestNotification(ctx context.Context) error
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

	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: cfg.NotificationTimeout()},
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
}

func (n *ntfyService) NotifyRunCompleted(ctx context.Context, summary RunSummary) error {
	durationText := formatDuration(summary.Duration)

	data := payload{
		title: "Squish - Run Complete",
		tags:  []string{"squish", "run", "completed"},
	}
	switch {
	case summary.Failed > 0:
		data.title = "Squish - Run Complete (with errors)"
		data.message = fmt.Sprintf("Transcoded %d, failed %d, skipped %d in %s", summary.Succeeded, summary.Failed, summary.Skipped, durationText)
		data.tags = append(data.tags, "warning")
	case summary.Succeeded == 0:
		data.message = fmt.Sprintf("Nothing to transcode; %d already done (%s)", summary.Skipped, durationText)
		data.priority = "low"
	default:
		data.message = fmt.Sprintf("Transcoded %d videos in %s", summary.Succeeded, durationText)
	}
	if summary.Interrupted > 0 {
		data.title = "Squish - Run Interrupted"
		data.message += fmt.Sprintf("; %d interrupted", summary.Interrupted)
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyRunFailed(ctx context.Context, err error) error {
	var builder strings.Builder
	builder.WriteString("Run failed: ")
	if err != nil {
		builder.WriteString(strings.TrimSpace(err.Error()))
	} else {
		builder.WriteString("unknown")
	}

	data := payload{
		title:    "Squish - Error",
		message:  builder.String(),
		tags:     []string{"squish", "error", "alert"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "Squish - Test",
		message:  "Notification system test",
		tags:     []string{"squish", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
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

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	if d <= 0 {
		return "0s"
	}
	return d.String()
}

type noopService struct{}

func (noopService) NotifyRunCompleted(context.Context, RunSummary) error { return nil }
func (noopService) NotifyRunFailed(context.Context, error) error         { return nil }
func (noopService) TestNotification(context.Context) error               { return nil }
