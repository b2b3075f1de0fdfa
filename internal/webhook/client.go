package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gateway-control-plane/internal/httputil"
)

const (
	defaultTimeout    = 10 * time.Second
	maxBodyPreview    = 1024
	defaultUserAgent  = "gateway-control-plane-webhooks/1.0"
	SignatureHeader   = "X-Webhook-Signature"
	TimestampHeader   = "X-Webhook-Timestamp"
	EventHeader       = "X-Webhook-Event"
	DeliveryHeader    = "X-Webhook-Delivery"
	AttemptHeader     = "X-Webhook-Attempt"
	IdempotencyHeader = "Idempotency-Key"
)

type Config struct {
	// SigningSecret enables the X-Webhook-Signature header when non-empty.
	SigningSecret string
	Timeout       time.Duration
	UserAgent     string
}

// Client POSTs event envelopes to subscriber URLs.
type Client struct {
	secret    string
	userAgent string
	client    *http.Client
	now       func() time.Time
}

func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = defaultUserAgent
	}

	return &Client{
		secret:    strings.TrimSpace(cfg.SigningSecret),
		userAgent: userAgent,
		client:    &http.Client{Timeout: timeout},
		now:       time.Now,
	}
}

type Request struct {
	URL        string
	EventType  string
	DeliveryID string
	Attempt    int
	Body       []byte
}

// Result describes a single delivery attempt. StatusCode is zero when no
// response was received.
type Result struct {
	StatusCode  int
	Latency     time.Duration
	BodyPreview string
	Err         error
	TimedOut    bool
}

// OK reports whether the endpoint acknowledged the delivery with a 2xx.
func (r Result) OK() bool {
	return r.Err == nil && r.StatusCode >= 200 && r.StatusCode <= 299
}

// Send performs exactly one POST. A non-2xx status is not an error in itself;
// Err is set only when the request could not be completed.
func (c *Client) Send(ctx context.Context, req Request) Result {
	start := c.now()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return Result{Err: fmt.Errorf("build webhook request: %w", err)}
	}

	attempt := req.Attempt
	if attempt <= 0 {
		attempt = 1
	}
	timestamp := strconv.FormatInt(start.UTC().Unix(), 10)

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", c.userAgent)
	httpReq.Header.Set(EventHeader, req.EventType)
	httpReq.Header.Set(DeliveryHeader, req.DeliveryID)
	httpReq.Header.Set(IdempotencyHeader, req.DeliveryID)
	httpReq.Header.Set(AttemptHeader, strconv.Itoa(attempt))
	httpReq.Header.Set(TimestampHeader, timestamp)
	if c.secret != "" {
		httpReq.Header.Set(SignatureHeader, SignatureHeaderValue(c.secret, timestamp, req.Body))
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return Result{
			Latency:  time.Since(start),
			Err:      fmt.Errorf("send webhook request: %w", err),
			TimedOut: httputil.IsTimeout(err),
		}
	}
	defer resp.Body.Close()

	preview, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyPreview))
	_, _ = io.Copy(io.Discard, resp.Body)

	return Result{
		StatusCode:  resp.StatusCode,
		Latency:     time.Since(start),
		BodyPreview: strings.TrimSpace(string(preview)),
	}
}

// SignatureHeaderValue returns "sha256=" followed by the hex HMAC-SHA256 of
// "timestamp.body" keyed with secret.
func SignatureHeaderValue(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(timestamp))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
