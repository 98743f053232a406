package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/oklog/ulid/v2"
)

const (
	// ClientTimeout is the total request timeout.
	ClientTimeout = 30 * time.Second
	// DialTimeout is the connection timeout.
	DialTimeout = 10 * time.Second
	// ResponseHeaderTimeout is time to wait for response headers.
	ResponseHeaderTimeout = 15 * time.Second
)

// Webhook request headers.
const (
	HeaderSignature  = "X-Dues-Signature"
	HeaderTimestamp  = "X-Dues-Timestamp"
	HeaderDeliveryID = "X-Dues-Delivery-Id"
)

// NewHTTPClient creates an HTTP client for webhook delivery.
// It does not follow redirects.
func NewHTTPClient() *http.Client {
	return &http.Client{
		Timeout: ClientTimeout,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   DialTimeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: ResponseHeaderTimeout,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       90 * time.Second,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// errPermanent marks a delivery failure that retrying cannot fix.
var errPermanent = errors.New("permanent delivery failure")

// WebhookSink posts signed summaries to a mailer endpoint, which turns
// them into email.
type WebhookSink struct {
	url         string
	secret      string
	client      *http.Client
	logger      *slog.Logger
	maxAttempts int
	now         func() time.Time
	wait        func(ctx context.Context, d time.Duration) error
}

// NewWebhookSink creates a sink for url signed with secret.
func NewWebhookSink(url, secret string, logger *slog.Logger) *WebhookSink {
	return &WebhookSink{
		url:         url,
		secret:      secret,
		client:      NewHTTPClient(),
		logger:      logger.With("component", "notify.webhook"),
		maxAttempts: DefaultMaxAttempts,
		now:         time.Now,
		wait:        sleepCtx,
	}
}

// Name implements Sink.
func (w *WebhookSink) Name() string { return "webhook" }

// Send delivers s, retrying transient failures with backoff.
func (w *WebhookSink) Send(ctx context.Context, s Summary) error {
	body, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	deliveryID := ulid.Make().String()

	for attempt := 0; ; attempt++ {
		err = w.deliver(ctx, deliveryID, body)
		if err == nil {
			return nil
		}

		exhausted := IsExhausted(attempt+1, w.maxAttempts)
		w.logger.Warn("webhook delivery failed",
			"delivery_id", deliveryID,
			"username", s.Username,
			"attempt", attempt+1,
			"exhausted", exhausted,
			"error", err,
		)
		if exhausted || errors.Is(err, errPermanent) {
			return err
		}
		if err := w.wait(ctx, NextRetryDelay(attempt)); err != nil {
			return err
		}
	}
}

func (w *WebhookSink) deliver(ctx context.Context, deliveryID string, body []byte) error {
	timestamp := w.now().Unix()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: create request: %v", errPermanent, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "duesledger-notify/1.0")
	req.Header.Set(HeaderSignature, GenerateSignature(w.secret, timestamp, body))
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(timestamp, 10))
	req.Header.Set(HeaderDeliveryID, deliveryID)

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// Drain body to allow connection reuse
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests:
		return fmt.Errorf("%w: HTTP %d", errPermanent, resp.StatusCode)
	default:
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
