package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gateway-control-plane/internal/httputil"
	"github.com/gateway-control-plane/internal/metrics"
	"github.com/gateway-control-plane/internal/service"
)

const (
	defaultTimeout      = 15 * time.Second
	defaultMaxBodyBytes = 1 << 20
)

var supportedMethods = map[string]bool{
	http.MethodGet:    true,
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
}

type Config struct {
	Timeout      time.Duration
	MaxBodyBytes int64
	Metrics      *metrics.Metrics
}

// Executor sends operator-built HTTP requests and reports what came back.
// Redirects are returned as-is rather than followed.
type Executor struct {
	client       *http.Client
	maxBodyBytes int64
	metrics      *metrics.Metrics
}

func NewExecutor(cfg Config) *Executor {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}

	return &Executor{
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		maxBodyBytes: maxBody,
		metrics:      cfg.Metrics,
	}
}

// ExecuteRaw parses a header text block and executes the request.
func (e *Executor) ExecuteRaw(ctx context.Context, method, rawURL, headerText, body string) (*Response, error) {
	return e.Execute(ctx, Request{
		Method:  method,
		URL:     rawURL,
		Headers: ParseHeaders(headerText),
		Body:    body,
	})
}

// Execute performs exactly one attempt. The only error returned is a
// validation error for an unsupported method; network failures are reported
// in Response.TransportError.
func (e *Executor) Execute(ctx context.Context, req Request) (*Response, error) {
	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if !supportedMethods[method] {
		return nil, service.NewValidation(fmt.Sprintf("method %q is not supported", req.Method))
	}

	start := time.Now()
	resp := e.do(ctx, method, strings.TrimSpace(req.URL), req)
	latency := time.Since(start)
	resp.LatencyMs = latency.Milliseconds()

	result := "ok"
	event := log.Info().Str("method", method).Str("url", redactURL(req.URL)).Int64("latency_ms", resp.LatencyMs)
	if resp.TransportError != nil {
		result = resp.TransportError.Kind
		event = event.Str("error", resp.TransportError.Message)
	} else {
		event = event.Int("status_code", *resp.HTTPStatus).Bool("truncated", resp.Truncated)
	}
	event.Msg("sandbox request executed")
	e.metrics.ObserveSandboxRequest(method, result, latency)

	return resp, nil
}

func (e *Executor) do(ctx context.Context, method, rawURL string, req Request) *Response {
	if err := checkURL(rawURL); err != nil {
		return transportFailure(err)
	}

	var body io.Reader
	if method != http.MethodGet && req.Body != "" {
		body = strings.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return transportFailure(fmt.Errorf("invalid request: %w", err))
	}
	for _, h := range req.Headers {
		if strings.EqualFold(h.Name, "Host") {
			httpReq.Host = h.Value
			continue
		}
		httpReq.Header.Add(h.Name, h.Value)
	}

	httpResp, err := e.client.Do(httpReq)
	if err != nil {
		return transportFailure(err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, e.maxBodyBytes+1))
	if err != nil {
		return transportFailure(fmt.Errorf("read response body: %w", err))
	}

	status := httpResp.StatusCode
	resp := &Response{
		HTTPStatus: &status,
		Headers:    httpResp.Header,
	}
	if int64(len(raw)) > e.maxBodyBytes {
		raw = raw[:e.maxBodyBytes]
		resp.Truncated = true
	}
	resp.BodyText = string(raw)
	if !resp.Truncated && len(strings.TrimSpace(resp.BodyText)) > 0 && json.Valid(raw) {
		resp.ParsedJSON = json.RawMessage(raw)
	}
	return resp
}

func checkURL(rawURL string) error {
	if rawURL == "" {
		return errors.New("url is required")
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("unsupported url scheme %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return errors.New("url host is required")
	}
	return nil
}

func transportFailure(err error) *Response {
	svcErr := service.NewTransport(err.Error())
	if httputil.IsTimeout(err) {
		svcErr = service.NewTimeout(err.Error())
	}
	return &Response{TransportError: newTransportError(svcErr)}
}

func newTransportError(err *service.Error) *TransportError {
	kind := TransportKindTransport
	if err.Kind == service.ErrTimeout {
		kind = TransportKindTimeout
	}
	return &TransportError{Kind: kind, Message: err.Message}
}

// redactURL drops the query string, which often carries credentials.
func redactURL(rawURL string) string {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	parsed.RawQuery = ""
	parsed.User = nil
	return parsed.String()
}
