package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gateway-control-plane/internal/model"
	"github.com/gateway-control-plane/internal/sandbox"
	"github.com/gateway-control-plane/internal/service"
	"github.com/gateway-control-plane/internal/store"
	"github.com/gateway-control-plane/internal/webhook"
)

type testEnv struct {
	router   chi.Router
	keys     *service.APIKeyService
	webhooks *service.WebhookService
	delivery *service.DeliveryService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	mem := store.NewMemory()
	keys := service.NewAPIKeyService(mem, "sk_test_")
	webhooks := service.NewWebhookService(mem, 0)
	delivery := service.NewDeliveryService(webhooks, webhook.NewClient(webhook.Config{Timeout: time.Second}), nil, service.DeliveryConfig{
		Timeout:   time.Second,
		BaseDelay: time.Millisecond,
		MaxDelay:  time.Millisecond,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = delivery.Close(ctx)
	})

	r := chi.NewRouter()
	r.Get("/admin/api-keys", NewListAPIKeysHandler(keys).ServeHTTP)
	r.Post("/admin/api-keys", NewCreateAPIKeyHandler(keys).ServeHTTP)
	r.Delete("/admin/api-keys/{id}", NewRevokeAPIKeyHandler(keys).ServeHTTP)
	r.Get("/admin/webhooks", NewListWebhooksHandler(webhooks).ServeHTTP)
	r.Post("/admin/webhooks", NewCreateWebhookHandler(webhooks).ServeHTTP)
	r.Get("/admin/webhooks/{id}", NewGetWebhookHandler(webhooks).ServeHTTP)
	r.Patch("/admin/webhooks/{id}", NewUpdateWebhookHandler(webhooks).ServeHTTP)
	r.Delete("/admin/webhooks/{id}", NewDeleteWebhookHandler(webhooks).ServeHTTP)
	r.Post("/admin/webhooks/{id}/test", NewTestWebhookHandler(delivery).ServeHTTP)
	r.Post("/admin/sandbox", NewSandboxHandler(sandbox.NewExecutor(sandbox.Config{Timeout: time.Second})).ServeHTTP)

	return &testEnv{router: r, keys: keys, webhooks: webhooks, delivery: delivery}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
	return v
}

func assertError(t *testing.T, rr *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if rr.Code != status {
		t.Fatalf("expected status %d, got %d: %s", status, rr.Code, rr.Body.String())
	}
	body := decode[map[string]string](t, rr)
	if body["error"] != code || body["message"] == "" {
		t.Fatalf("expected error %q with message, got %v", code, body)
	}
}

func TestAPIKeyHandlers(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodPost, "/admin/api-keys", `{"name":"  Mobile app "}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	created := decode[model.APIKey](t, rr)
	if created.Name != "Mobile app" || !strings.HasPrefix(created.Secret, "sk_test_") {
		t.Fatalf("unexpected created key: %+v", created)
	}

	t.Run("blank name is rejected", func(t *testing.T) {
		assertError(t, env.do(t, http.MethodPost, "/admin/api-keys", `{"name":"  "}`), http.StatusBadRequest, "invalid_request")
	})

	t.Run("malformed body is rejected", func(t *testing.T) {
		assertError(t, env.do(t, http.MethodPost, "/admin/api-keys", `{"name":`), http.StatusBadRequest, "invalid_request")
	})

	t.Run("list paginates", func(t *testing.T) {
		for i := 0; i < 2; i++ {
			env.do(t, http.MethodPost, "/admin/api-keys", `{"name":"extra"}`)
		}
		rr := env.do(t, http.MethodGet, "/admin/api-keys?page=2&per_page=2", "")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
		list := decode[listAPIKeysResponse](t, rr)
		if list.Total != 3 || len(list.APIKeys) != 1 || list.Page != 2 {
			t.Fatalf("unexpected page: total=%d items=%d page=%d", list.Total, len(list.APIKeys), list.Page)
		}
		assertError(t, env.do(t, http.MethodGet, "/admin/api-keys?per_page=500", ""), http.StatusBadRequest, "invalid_request")
	})

	t.Run("revoke", func(t *testing.T) {
		rr := env.do(t, http.MethodDelete, "/admin/api-keys/"+created.ID.String(), "")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
		if _, err := env.keys.Authenticate(context.Background(), created.Secret); err == nil {
			t.Fatal("expected revoked key to stop authenticating")
		}
		assertError(t, env.do(t, http.MethodDelete, "/admin/api-keys/"+created.ID.String(), ""), http.StatusNotFound, "not_found")
		assertError(t, env.do(t, http.MethodDelete, "/admin/api-keys/not-a-uuid", ""), http.StatusBadRequest, "invalid_request")
	})
}

func TestWebhookHandlers(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodPost, "/admin/webhooks", `{"url":"https://example.com/hook","events":["chat.message","ai.error"]}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	created := decode[model.Webhook](t, rr)
	if !created.Enabled || created.SuccessRate != 100 {
		t.Fatalf("unexpected webhook: %+v", created)
	}
	path := "/admin/webhooks/" + created.ID.String()

	t.Run("validation", func(t *testing.T) {
		assertError(t, env.do(t, http.MethodPost, "/admin/webhooks", `{"url":"ftp://x","events":["chat.message"]}`), http.StatusBadRequest, "invalid_request")
		assertError(t, env.do(t, http.MethodPost, "/admin/webhooks", `{"url":"https://example.com","events":[]}`), http.StatusBadRequest, "invalid_request")
	})

	t.Run("get and list", func(t *testing.T) {
		if rr := env.do(t, http.MethodGet, path, ""); rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
		assertError(t, env.do(t, http.MethodGet, "/admin/webhooks/"+uuid.NewString(), ""), http.StatusNotFound, "not_found")

		list := decode[listWebhooksResponse](t, env.do(t, http.MethodGet, "/admin/webhooks", ""))
		if list.Total != 1 || len(list.Webhooks) != 1 {
			t.Fatalf("unexpected list: %+v", list)
		}
	})

	t.Run("patch toggles enabled", func(t *testing.T) {
		rr := env.do(t, http.MethodPatch, path, `{"enabled":false}`)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
		if decode[model.Webhook](t, rr).Enabled {
			t.Fatal("expected webhook to be disabled")
		}
		assertError(t, env.do(t, http.MethodPatch, path, `{}`), http.StatusBadRequest, "invalid_request")
	})

	t.Run("delete", func(t *testing.T) {
		if rr := env.do(t, http.MethodDelete, path, ""); rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
		assertError(t, env.do(t, http.MethodGet, path, ""), http.StatusNotFound, "not_found")
	})
}

func TestMutationsLogOnce(t *testing.T) {
	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf)
	t.Cleanup(func() { log.Logger = prev })

	env := newTestEnv(t)

	created := decode[model.Webhook](t, env.do(t, http.MethodPost, "/admin/webhooks", `{"url":"https://example.com/hook","events":["chat.message"]}`))
	path := "/admin/webhooks/" + created.ID.String()
	env.do(t, http.MethodPatch, path, `{"enabled":false}`)
	env.do(t, http.MethodDelete, path, "")

	key := decode[model.APIKey](t, env.do(t, http.MethodPost, "/admin/api-keys", `{"name":"ci"}`))
	env.do(t, http.MethodDelete, "/admin/api-keys/"+key.ID.String(), "")

	out := buf.String()
	for _, msg := range []string{"webhook registered", "webhook updated", "webhook deleted", "API key issued", "API key revoked"} {
		if n := strings.Count(out, `"message":"`+msg+`"`); n != 1 {
			t.Errorf("expected %q logged once, got %d", msg, n)
		}
	}
}

func TestTestWebhookHandler(t *testing.T) {
	env := newTestEnv(t)

	events := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		events <- r.Header.Get(webhook.EventHeader)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	hook, err := env.webhooks.Register(context.Background(), srv.URL, []string{"chat.message"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	rr := env.do(t, http.MethodPost, "/admin/webhooks/"+hook.ID.String()+"/test", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	result := decode[service.TestResult](t, rr)
	if !result.Success || result.StatusCode == nil || *result.StatusCode != http.StatusOK {
		t.Fatalf("unexpected test result: %+v", result)
	}
	if got := <-events; got != model.EventTestPing {
		t.Fatalf("expected test.ping, got %q", got)
	}

	assertError(t, env.do(t, http.MethodPost, "/admin/webhooks/"+uuid.NewString()+"/test", ""), http.StatusNotFound, "not_found")
}

func TestSandboxHandler(t *testing.T) {
	env := newTestEnv(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Api-Key") != "abc" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"pong":true}`))
	}))
	defer srv.Close()

	body, _ := json.Marshal(map[string]string{
		"method":  "get",
		"url":     srv.URL,
		"headers": "Content-Type: application/json\nX-Api-Key: abc",
	})
	rr := env.do(t, http.MethodPost, "/admin/sandbox", string(body))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	resp := decode[map[string]any](t, rr)
	if resp["status"] != float64(http.StatusOK) || resp["display"] != "{\n  \"pong\": true\n}" {
		t.Fatalf("unexpected sandbox response: %v", resp)
	}

	t.Run("transport failure is still 200", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/admin/sandbox", `{"method":"GET","url":"http://127.0.0.1:1"}`)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
		resp := decode[map[string]any](t, rr)
		if resp["status"] != nil || resp["error"] == nil {
			t.Fatalf("expected transport error, got %v", resp)
		}
	})

	t.Run("unsupported method", func(t *testing.T) {
		assertError(t, env.do(t, http.MethodPost, "/admin/sandbox", `{"method":"TRACE","url":"http://example.com"}`), http.StatusBadRequest, "invalid_request")
	})
}
