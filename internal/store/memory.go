package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gateway-control-plane/internal/model"
)

// Memory is a Store kept in process memory. It is used when no database is
// configured and in tests.
type Memory struct {
	mu        sync.RWMutex
	keys      map[uuid.UUID]*model.APIKey
	keyHashes map[string]uuid.UUID
	webhooks  map[uuid.UUID]*model.Webhook
	now       func() time.Time
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		keys:      make(map[uuid.UUID]*model.APIKey),
		keyHashes: make(map[string]uuid.UUID),
		webhooks:  make(map[uuid.UUID]*model.Webhook),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (m *Memory) Ping(_ context.Context) error {
	return nil
}

// --- API keys ---

func (m *Memory) CreateAPIKey(_ context.Context, key *model.APIKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.keyHashes[key.KeyHash]; exists {
		return fmt.Errorf("insert api_key: %w", ErrDuplicate)
	}

	key.ID = uuid.New()
	key.CreatedAt = m.now()
	key.RequestCount = 0
	key.LastUsedAt = nil

	m.keys[key.ID] = copyAPIKey(key)
	m.keyHashes[key.KeyHash] = key.ID
	return nil
}

func (m *Memory) GetAPIKeyByHash(_ context.Context, keyHash string) (*model.APIKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.keyHashes[keyHash]
	if !ok {
		return nil, fmt.Errorf("get api_key by hash: %w", ErrNotFound)
	}
	return copyAPIKey(m.keys[id]), nil
}

func (m *Memory) GetAPIKeyByID(_ context.Context, id uuid.UUID) (*model.APIKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	key, ok := m.keys[id]
	if !ok {
		return nil, fmt.Errorf("get api_key %s: %w", id, ErrNotFound)
	}
	return copyAPIKey(key), nil
}

func (m *Memory) ListAPIKeys(_ context.Context) ([]*model.APIKey, error) {
	m.mu.RLock()
	keys := make([]*model.APIKey, 0, len(m.keys))
	for _, key := range m.keys {
		keys = append(keys, copyAPIKey(key))
	}
	m.mu.RUnlock()

	sort.Slice(keys, func(i, j int) bool {
		if !keys[i].CreatedAt.Equal(keys[j].CreatedAt) {
			return keys[i].CreatedAt.After(keys[j].CreatedAt)
		}
		return keys[i].ID.String() > keys[j].ID.String()
	})
	return keys, nil
}

func (m *Memory) CountAPIKeys(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.keys), nil
}

func (m *Memory) DeleteAPIKey(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key, ok := m.keys[id]
	if !ok {
		return fmt.Errorf("delete api_key %s: %w", id, ErrNotFound)
	}
	delete(m.keyHashes, key.KeyHash)
	delete(m.keys, id)
	return nil
}

func (m *Memory) IncrementAPIKeyUsage(_ context.Context, id uuid.UUID, usedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key, ok := m.keys[id]
	if !ok {
		return fmt.Errorf("increment api_key usage %s: %w", id, ErrNotFound)
	}
	key.RequestCount++
	t := usedAt.UTC()
	key.LastUsedAt = &t
	return nil
}

// --- Webhooks ---

func (m *Memory) CreateWebhook(_ context.Context, webhook *model.Webhook) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	webhook.ID = uuid.New()
	webhook.CreatedAt = now
	webhook.UpdatedAt = now

	m.webhooks[webhook.ID] = copyWebhook(webhook)
	return nil
}

func (m *Memory) GetWebhookByID(_ context.Context, id uuid.UUID) (*model.Webhook, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	webhook, ok := m.webhooks[id]
	if !ok {
		return nil, fmt.Errorf("get webhook %s: %w", id, ErrNotFound)
	}
	return copyWebhook(webhook), nil
}

func (m *Memory) ListWebhooks(_ context.Context) ([]*model.Webhook, error) {
	m.mu.RLock()
	webhooks := make([]*model.Webhook, 0, len(m.webhooks))
	for _, w := range m.webhooks {
		webhooks = append(webhooks, copyWebhook(w))
	}
	m.mu.RUnlock()

	sort.Slice(webhooks, func(i, j int) bool {
		if !webhooks[i].CreatedAt.Equal(webhooks[j].CreatedAt) {
			return webhooks[i].CreatedAt.After(webhooks[j].CreatedAt)
		}
		return webhooks[i].ID.String() > webhooks[j].ID.String()
	})
	return webhooks, nil
}

func (m *Memory) ListEnabledWebhooksByEvent(_ context.Context, eventType string) ([]*model.Webhook, error) {
	m.mu.RLock()
	var matched []*model.Webhook
	for _, w := range m.webhooks {
		if w.Enabled && w.Subscribes(eventType) {
			matched = append(matched, copyWebhook(w))
		}
	}
	m.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.Before(matched[j].CreatedAt)
		}
		return matched[i].ID.String() < matched[j].ID.String()
	})
	return matched, nil
}

func (m *Memory) SetWebhookEnabled(_ context.Context, id uuid.UUID, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	webhook, ok := m.webhooks[id]
	if !ok {
		return fmt.Errorf("set webhook enabled %s: %w", id, ErrNotFound)
	}
	if webhook.Enabled != enabled {
		webhook.Enabled = enabled
		webhook.UpdatedAt = m.now()
	}
	return nil
}

func (m *Memory) DeleteWebhook(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.webhooks[id]; !ok {
		return fmt.Errorf("delete webhook %s: %w", id, ErrNotFound)
	}
	delete(m.webhooks, id)
	return nil
}

func (m *Memory) RecordWebhookOutcome(_ context.Context, id uuid.UUID, outcome model.Outcome, at time.Time, window int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	webhook, ok := m.webhooks[id]
	if !ok {
		return fmt.Errorf("record webhook outcome %s: %w", id, ErrNotFound)
	}
	webhook.ApplyOutcome(outcome, at, window)
	return nil
}

func copyAPIKey(key *model.APIKey) *model.APIKey {
	c := *key
	if key.LastUsedAt != nil {
		t := *key.LastUsedAt
		c.LastUsedAt = &t
	}
	return &c
}

func copyWebhook(w *model.Webhook) *model.Webhook {
	c := *w
	c.Events = append([]string(nil), w.Events...)
	c.RecentOutcomes = append([]bool(nil), w.RecentOutcomes...)
	if w.LastDeliveryAt != nil {
		t := *w.LastDeliveryAt
		c.LastDeliveryAt = &t
	}
	return &c
}
