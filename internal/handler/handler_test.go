package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gateway-control-plane/internal/middleware"
	"github.com/gateway-control-plane/internal/model"
	"github.com/gateway-control-plane/internal/service"
	"github.com/gateway-control-plane/internal/store"
	"github.com/gateway-control-plane/internal/webhook"
)

type fakeHealthStore struct {
	pingErr  error
	count    int
	countErr error
}

func (f fakeHealthStore) Ping(context.Context) error { return f.pingErr }

func (f fakeHealthStore) CountAPIKeys(context.Context) (int, error) { return f.count, f.countErr }

func TestHealthHandler(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		rr := httptest.NewRecorder()
		NewHealthHandler(fakeHealthStore{count: 3}, "test").ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
		var resp HealthResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if resp.Status != "healthy" || resp.Store != "ok" || resp.Version != "test" || resp.KeyCount != 3 {
			t.Fatalf("unexpected response: %+v", resp)
		}
	})

	t.Run("count failure still healthy", func(t *testing.T) {
		rr := httptest.NewRecorder()
		NewHealthHandler(fakeHealthStore{countErr: errors.New("timeout")}, "test").ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

		if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"key_count":0`) {
			t.Fatalf("unexpected response: %d %s", rr.Code, rr.Body.String())
		}
	})

	t.Run("store unreachable", func(t *testing.T) {
		rr := httptest.NewRecorder()
		NewHealthHandler(fakeHealthStore{pingErr: errors.New("connection refused")}, "test").ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

		if rr.Code != http.StatusServiceUnavailable {
			t.Fatalf("expected 503, got %d", rr.Code)
		}
	})
}

func TestUsageHandler(t *testing.T) {
	ctx := context.Background()
	keys := service.NewAPIKeyService(store.NewMemory(), "sk_test_")
	limiter := middleware.NewRateLimiter(10, time.Minute)

	key, err := keys.Issue(ctx, "usage")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	h := middleware.APIKeyAuth(keys, nil)(
		middleware.RateLimitMiddleware(limiter, nil)(
			NewUsageHandler(keys, limiter, time.Minute),
		),
	)

	var resp UsageResponse
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/v1/usage", nil)
		req.Header.Set(middleware.APIKeyHeader, key.Secret)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
	}

	if resp.APIKeyName != "usage" || resp.RequestCount != 2 || resp.LastUsedAt == nil {
		t.Fatalf("unexpected usage: %+v", resp)
	}
	if resp.RateLimit.MaxRequests != 10 || resp.RateLimit.Remaining != 8 || resp.RateLimit.WindowSeconds != 60 {
		t.Fatalf("unexpected rate limit info: %+v", resp.RateLimit)
	}

	t.Run("without key", func(t *testing.T) {
		rr := httptest.NewRecorder()
		NewUsageHandler(keys, limiter, time.Minute).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/usage", nil))
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", rr.Code)
		}
	})
}

func TestEventsHandler(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	webhooks := service.NewWebhookService(mem, 0)
	delivery := service.NewDeliveryService(webhooks, webhook.NewClient(webhook.Config{Timeout: time.Second}), nil, service.DeliveryConfig{})
	defer func() {
		closeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		_ = delivery.Close(closeCtx)
	}()

	received := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received <- r.Header.Get(webhook.EventHeader)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	if _, err := webhooks.Register(ctx, srv.URL, []string{model.EventChatMessage}); err != nil {
		t.Fatalf("register: %v", err)
	}

	h := NewEventsHandler(delivery)
	post := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/v1/events", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr
	}

	rr := post(`{"event":"chat.message","data":{"text":"hello"}}`)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rr.Code, rr.Body.String())
	}
	var receipt service.DispatchReceipt
	if err := json.Unmarshal(rr.Body.Bytes(), &receipt); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if receipt.Event != model.EventChatMessage || receipt.Matched != 1 {
		t.Fatalf("unexpected receipt: %+v", receipt)
	}

	select {
	case got := <-received:
		if got != model.EventChatMessage {
			t.Fatalf("unexpected delivered event %q", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("webhook was not delivered")
	}

	tests := []struct {
		name string
		body string
	}{
		{"missing event", `{"data":{}}`},
		{"unknown event", `{"event":"user.created"}`},
		{"test ping is not publishable", `{"event":"test.ping"}`},
		{"malformed", `{"event":`},
		{"array data", `{"event":"chat.message","data":[1,2]}`},
		{"string data", `{"event":"chat.message","data":"hello"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rr := post(tt.body); rr.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rr.Code)
			}
		})
	}

	t.Run("no subscribers", func(t *testing.T) {
		rr := post(`{"event":"ai.error"}`)
		if rr.Code != http.StatusAccepted || !strings.Contains(rr.Body.String(), `"matched":0`) {
			t.Fatalf("unexpected response: %d %s", rr.Code, rr.Body.String())
		}
	})
}
