package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveDeliveryAttempt("chat.message", "success", time.Millisecond)
	m.ObserveDeliveryOutcome("chat.message", "success")
	m.ObserveSandboxRequest("GET", "ok", time.Millisecond)
	m.ObserveHTTPRequest("GET", "/health", 200, time.Millisecond)
	m.ObserveRateLimitHit("per_key")
}

func TestDeliveryCounters(t *testing.T) {
	m := New()
	m.ObserveDeliveryAttempt("chat.message", "failure", 10*time.Millisecond)
	m.ObserveDeliveryAttempt("chat.message", "failure", 10*time.Millisecond)
	m.ObserveDeliveryOutcome("chat.message", "failure")

	body := scrape(t, m)
	want := []string{
		`gateway_control_plane_webhook_delivery_attempts_total{event="chat.message",result="failure"} 2`,
		`gateway_control_plane_webhook_delivery_outcomes_total{event="chat.message",outcome="failure"} 1`,
	}
	for _, line := range want {
		if !strings.Contains(body, line) {
			t.Fatalf("expected %q in exposition", line)
		}
	}
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.ObserveHTTPRequest("GET", "/health", http.StatusOK, time.Millisecond)

	if !strings.Contains(scrape(t, m), "gateway_control_plane_http_requests_total") {
		t.Fatal("expected http request counter in exposition")
	}
}

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rr.Code)
	}
	body, err := io.ReadAll(rr.Body)
	if err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	return string(body)
}
