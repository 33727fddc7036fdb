package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hazyhaar/pagekeeper/event"
)

// Webhook POSTs each run and notice as JSON, retrying transient failures
// with exponential backoff.
type Webhook struct {
	url        string
	client     *http.Client
	maxRetries int
	backoff    time.Duration
	logger     *slog.Logger
}

// WebhookOption configures a Webhook sink.
type WebhookOption func(*Webhook)

// WithWebhookRetries sets the maximum number of retries. Default: 3.
func WithWebhookRetries(n int) WebhookOption {
	return func(w *Webhook) { w.maxRetries = n }
}

// WithWebhookBackoff sets the first retry delay; it doubles per attempt.
// Default: 1s.
func WithWebhookBackoff(d time.Duration) WebhookOption {
	return func(w *Webhook) { w.backoff = d }
}

// WithWebhookClient replaces the HTTP client.
func WithWebhookClient(c *http.Client) WebhookOption {
	return func(w *Webhook) { w.client = c }
}

// WithWebhookLogger sets a custom logger.
func WithWebhookLogger(l *slog.Logger) WebhookOption {
	return func(w *Webhook) {
		if l != nil {
			w.logger = l
		}
	}
}

// NewWebhook creates a Webhook sink targeting url.
func NewWebhook(url string, opts ...WebhookOption) *Webhook {
	w := &Webhook{
		url:        url,
		client:     &http.Client{Timeout: 10 * time.Second},
		maxRetries: 3,
		backoff:    time.Second,
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

func (w *Webhook) Send(ctx context.Context, run event.Run) error {
	return w.post(ctx, "run", run.ID, run)
}

func (w *Webhook) SendNotice(ctx context.Context, n event.Notice) error {
	return w.post(ctx, "notice", n.ID, n)
}

func (w *Webhook) Close() error { return nil }

// post delivers one envelope. The receiver gets the same Idempotency-Key
// on every attempt. 4xx answers other than 408 and 429 are final.
func (w *Webhook) post(ctx context.Context, typ, key string, data any) error {
	body, err := json.Marshal(envelope{Type: typ, Data: data})
	if err != nil {
		return fmt.Errorf("webhook: marshal %s: %w", typ, err)
	}

	delay := w.backoff
	var lastErr error
	for attempt := 1; attempt <= w.maxRetries+1; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(delay):
				delay *= 2
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		status, err := w.attempt(ctx, typ, key, body)
		switch {
		case err != nil:
			lastErr = err
			w.logger.Warn("webhook: request failed", "type", typ, "attempt", attempt, "error", err)
		case status >= 200 && status < 300:
			return nil
		case permanent(status):
			return fmt.Errorf("webhook: %s rejected: status %d", typ, status)
		default:
			lastErr = fmt.Errorf("status %d", status)
			w.logger.Warn("webhook: bad status", "type", typ, "attempt", attempt, "status", status)
		}
	}
	return fmt.Errorf("webhook: %s not delivered after %d attempts: %w", typ, w.maxRetries+1, lastErr)
}

func (w *Webhook) attempt(ctx context.Context, typ, key string, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Pagekeeper-Event", typ)
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	return resp.StatusCode, nil
}

func permanent(status int) bool {
	return status >= 400 && status < 500 &&
		status != http.StatusRequestTimeout && status != http.StatusTooManyRequests
}
