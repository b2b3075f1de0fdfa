//go:build integration

package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gateway-control-plane/internal/model"
)

func TestPostgresStoreAPIKeyLifecycleIntegration(t *testing.T) {
	ctx := context.Background()
	pg := setupIntegrationStore(t)

	apiKey := &model.APIKey{
		Name:    "integration-key",
		Secret:  "sk_test_" + uuid.NewString(),
		KeyHash: fmt.Sprintf("hash-%s", uuid.NewString()),
	}
	if err := pg.CreateAPIKey(ctx, apiKey); err != nil {
		t.Fatalf("create api key: %v", err)
	}
	if apiKey.ID == uuid.Nil {
		t.Fatal("expected generated API key ID")
	}

	dup := &model.APIKey{Name: "dup", Secret: "x", KeyHash: apiKey.KeyHash}
	if err := pg.CreateAPIKey(ctx, dup); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	byHash, err := pg.GetAPIKeyByHash(ctx, apiKey.KeyHash)
	if err != nil {
		t.Fatalf("get by hash: %v", err)
	}
	if byHash.ID != apiKey.ID || byHash.Secret != apiKey.Secret {
		t.Fatalf("unexpected key from hash lookup: %#v", byHash)
	}

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := pg.IncrementAPIKeyUsage(ctx, apiKey.ID, time.Now()); err != nil {
				t.Errorf("increment usage: %v", err)
			}
		}()
	}
	wg.Wait()

	byID, err := pg.GetAPIKeyByID(ctx, apiKey.ID)
	if err != nil {
		t.Fatalf("get by id: %v", err)
	}
	if byID.RequestCount != n {
		t.Fatalf("unexpected request count: got %d want %d", byID.RequestCount, n)
	}
	if byID.LastUsedAt == nil {
		t.Fatal("expected last_used_at to be set")
	}

	keys, err := pg.ListAPIKeys(ctx)
	if err != nil {
		t.Fatalf("list api keys: %v", err)
	}
	if len(keys) != 1 || keys[0].ID != apiKey.ID {
		t.Fatalf("unexpected listed keys: %#v", keys)
	}

	if err := pg.DeleteAPIKey(ctx, apiKey.ID); err != nil {
		t.Fatalf("delete api key: %v", err)
	}
	if _, err := pg.GetAPIKeyByID(ctx, apiKey.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if err := pg.DeleteAPIKey(ctx, apiKey.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestPostgresStoreWebhookLifecycleIntegration(t *testing.T) {
	ctx := context.Background()
	pg := setupIntegrationStore(t)

	first := &model.Webhook{URL: "https://example.com/a", Events: []string{"chat.message", "ai.error"}, Enabled: true, SuccessRate: 100}
	second := &model.Webhook{URL: "https://example.com/b", Events: []string{"ai.complete"}, Enabled: true, SuccessRate: 100}
	for _, w := range []*model.Webhook{first, second} {
		if err := pg.CreateWebhook(ctx, w); err != nil {
			t.Fatalf("create webhook: %v", err)
		}
	}

	matched, err := pg.ListEnabledWebhooksByEvent(ctx, "chat.message")
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if len(matched) != 1 || matched[0].ID != first.ID {
		t.Fatalf("unexpected matches: %#v", matched)
	}

	if err := pg.SetWebhookEnabled(ctx, first.ID, false); err != nil {
		t.Fatalf("disable: %v", err)
	}
	matched, _ = pg.ListEnabledWebhooksByEvent(ctx, "chat.message")
	if len(matched) != 0 {
		t.Fatalf("expected disabled webhook to be excluded, got %d", len(matched))
	}

	if err := pg.RecordWebhookOutcome(ctx, second.ID, model.OutcomeFailure, time.Now(), 3); err != nil {
		t.Fatalf("record failure: %v", err)
	}
	if err := pg.RecordWebhookOutcome(ctx, second.ID, model.OutcomeSuccess, time.Now(), 3); err != nil {
		t.Fatalf("record success: %v", err)
	}
	got, err := pg.GetWebhookByID(ctx, second.ID)
	if err != nil {
		t.Fatalf("get webhook: %v", err)
	}
	if got.SuccessRate != 50 || got.AttemptCount != 2 || len(got.RecentOutcomes) != 2 {
		t.Fatalf("unexpected aggregate: rate=%v attempts=%d recent=%v", got.SuccessRate, got.AttemptCount, got.RecentOutcomes)
	}
	if got.LastDeliveryAt == nil {
		t.Fatal("expected last_delivery_at to be set")
	}

	if err := pg.DeleteWebhook(ctx, second.ID); err != nil {
		t.Fatalf("delete webhook: %v", err)
	}
	if err := pg.RecordWebhookOutcome(ctx, second.ID, model.OutcomeSuccess, time.Now(), 0); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for deleted webhook, got %v", err)
	}
}

func setupIntegrationStore(t *testing.T) *Postgres {
	t.Helper()

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		t.Skip("DATABASE_URL not set; skipping integration test")
	}

	m, err := migrate.New("file://"+migrationsDir(t), databaseURL)
	if err != nil {
		t.Fatalf("init migrate: %v", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		t.Fatalf("apply migrations: %v", err)
	}
	if srcErr, dbErr := m.Close(); srcErr != nil || dbErr != nil {
		t.Fatalf("close migrator: source=%v database=%v", srcErr, dbErr)
	}

	pool, err := pgxpool.New(context.Background(), databaseURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := pool.Ping(context.Background()); err != nil {
		t.Fatalf("ping pg: %v", err)
	}

	if _, err := pool.Exec(context.Background(), `TRUNCATE TABLE webhooks, api_keys`); err != nil {
		t.Fatalf("truncate tables: %v", err)
	}

	return NewPostgres(pool)
}

func migrationsDir(t *testing.T) string {
	t.Helper()

	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("failed to resolve test file path")
	}
	return filepath.Join(filepath.Dir(filename), "migrations")
}
