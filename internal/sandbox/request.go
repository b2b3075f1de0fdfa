package sandbox

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"
)

// Header is one request header line. Order and duplicates are preserved.
type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type Request struct {
	Method  string   `json:"method"`
	URL     string   `json:"url"`
	Headers []Header `json:"headers"`
	Body    string   `json:"body"`
}

const (
	TransportKindTransport = "transport"
	TransportKindTimeout   = "timeout"
)

// TransportError describes a request that never produced an HTTP response.
type TransportError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Response is the outcome of one sandbox request. Exactly one of HTTPStatus
// and TransportError is set.
type Response struct {
	HTTPStatus     *int            `json:"status"`
	LatencyMs      int64           `json:"latency_ms"`
	BodyText       string          `json:"body"`
	ParsedJSON     json.RawMessage `json:"json,omitempty"`
	Headers        http.Header     `json:"headers,omitempty"`
	Truncated      bool            `json:"truncated"`
	TransportError *TransportError `json:"error,omitempty"`
}

// Display returns the body pretty-printed when it is JSON, otherwise the raw
// text. Transport failures render as a JSON error object.
func (r *Response) Display() string {
	if r.TransportError != nil {
		out, _ := json.MarshalIndent(map[string]string{
			"error":   r.TransportError.Kind,
			"message": r.TransportError.Message,
		}, "", "  ")
		return string(out)
	}
	if len(r.ParsedJSON) == 0 {
		return r.BodyText
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, r.ParsedJSON, "", "  "); err != nil {
		return r.BodyText
	}
	return buf.String()
}

// ParseHeaders turns a "Name: value" block into headers. Each line is split on
// its first colon and both sides are trimmed; lines without a colon or with an
// empty name are skipped.
func ParseHeaders(text string) []Header {
	var headers []Header
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		headers = append(headers, Header{Name: name, Value: strings.TrimSpace(value)})
	}
	return headers
}
