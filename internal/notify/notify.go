// Package notify delivers schedule change notifications to downstream
// consumers.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/example/visionary-scheduler/internal/scheduler"
)

// Publisher receives ScheduleChanged events.
type Publisher interface {
	Publish(ctx context.Context, event scheduler.ScheduleChanged) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, event scheduler.ScheduleChanged) error

// Publish calls f.
func (f PublisherFunc) Publish(ctx context.Context, event scheduler.ScheduleChanged) error {
	return f(ctx, event)
}

// Multi fans an event out to every publisher and joins their errors.
type Multi []Publisher

// Publish delivers to all publishers even when some fail.
func (m Multi) Publish(ctx context.Context, event scheduler.ScheduleChanged) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogPublisher writes events to a structured logger.
type LogPublisher struct {
	logger *slog.Logger
}

// NewLogPublisher returns a publisher logging at info level.
func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogPublisher{logger: logger}
}

// Publish logs the event.
func (p *LogPublisher) Publish(ctx context.Context, event scheduler.ScheduleChanged) error {
	p.logger.InfoContext(ctx, "schedule changed",
		"user_id", event.UserID,
		"changed", event.ChangedTaskIDs,
		"unscheduled", event.UnscheduledTaskIDs,
		"occurred_at", event.OccurredAt,
	)
	return nil
}

// WebhookConfig tunes webhook delivery.
type WebhookConfig struct {
	URL          string
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// WebhookPublisher POSTs events as JSON and retries transient failures
// with exponential backoff.
type WebhookPublisher struct {
	cfg    WebhookConfig
	client *http.Client
	logger *slog.Logger
}

// NewWebhookPublisher returns a publisher for cfg.URL.
func NewWebhookPublisher(cfg WebhookConfig, client *http.Client, logger *slog.Logger) *WebhookPublisher {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = 200 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 5 * time.Second
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookPublisher{cfg: cfg, client: client, logger: logger.With("component", "webhook")}
}

// errPermanent marks responses that must not be retried.
var errPermanent = errors.New("notify: permanent delivery failure")

// Publish delivers event. 4xx responses fail immediately; network errors
// and 5xx responses are retried up to MaxAttempts.
func (p *WebhookPublisher) Publish(ctx context.Context, event scheduler.ScheduleChanged) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("notify: encode event: %w", err)
	}

	delay := p.cfg.InitialDelay
	var lastErr error
	for attempt := 1; attempt <= p.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
			delay = min(delay*2, p.cfg.MaxDelay)
		}

		lastErr = p.deliver(ctx, payload)
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, errPermanent) {
			break
		}
		p.logger.WarnContext(ctx, "webhook delivery failed", "attempt", attempt, "error", lastErr)
	}
	p.logger.ErrorContext(ctx, "webhook delivery abandoned", "user_id", event.UserID, "error", lastErr)
	return lastErr
}

func (p *WebhookPublisher) deliver(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: %v", errPermanent, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("notify: post webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("notify: webhook returned %d", resp.StatusCode)
	default:
		return fmt.Errorf("%w: webhook returned %d", errPermanent, resp.StatusCode)
	}
}
