package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/ROCTUP/1c-mcp-toolkit/internal/port/outbound"
)

const (
	// DefaultWebhookTimeout bounds one webhook delivery.
	DefaultWebhookTimeout = 5 * time.Second

	// maxWebhookResponse is how much of a webhook response body is read before
	// the connection is reused.
	maxWebhookResponse = 64 * 1024
)

// Compile-time check.
var _ outbound.Notifier = (*Webhook)(nil)

// Webhook delivers each notification as a JSON Envelope in an HTTP POST.
// Delivery is synchronous; Notify returns false on a transport error or a
// non-2xx status.
type Webhook struct {
	url        string
	httpClient *http.Client
	logger     *slog.Logger
	failures   atomic.Int64
}

// WebhookOption configures a Webhook.
type WebhookOption func(*Webhook)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) WebhookOption {
	return func(w *Webhook) {
		w.httpClient = client
	}
}

// WithTimeout sets the per-delivery timeout of the HTTP client.
func WithTimeout(d time.Duration) WebhookOption {
	return func(w *Webhook) {
		if w.httpClient != nil && d > 0 {
			w.httpClient.Timeout = d
		}
	}
}

// WithWebhookLogger sets the logger used to report failed deliveries.
func WithWebhookLogger(logger *slog.Logger) WebhookOption {
	return func(w *Webhook) {
		w.logger = logger
	}
}

// NewWebhook creates a webhook notifier posting to url.
func NewWebhook(url string, opts ...WebhookOption) *Webhook {
	w := &Webhook{
		url: url,
		httpClient: &http.Client{
			Timeout: DefaultWebhookTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Notify posts the notification and reports whether the receiver accepted it.
func (w *Webhook) Notify(ctx context.Context, source, kind string, payload []byte) bool {
	if err := w.deliver(ctx, newEnvelope(source, kind, payload)); err != nil {
		n := w.failures.Add(1)
		w.logger.Warn("webhook delivery failed",
			"kind", kind,
			"error", err,
			"failures_total", n,
		)
		return false
	}
	return true
}

func (w *Webhook) deliver(ctx context.Context, env Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxWebhookResponse))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// Failures returns the number of failed deliveries.
func (w *Webhook) Failures() int64 { return w.failures.Load() }
