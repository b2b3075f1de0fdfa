package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/gateway-control-plane/internal/model"
)

var (
	// ErrNotFound is returned (possibly wrapped) when a record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when a unique attribute collides with an existing record.
	ErrDuplicate = errors.New("duplicate record")
)

// APIKeyStore defines operations for API key management.
type APIKeyStore interface {
	CreateAPIKey(ctx context.Context, key *model.APIKey) error
	GetAPIKeyByHash(ctx context.Context, keyHash string) (*model.APIKey, error)
	GetAPIKeyByID(ctx context.Context, id uuid.UUID) (*model.APIKey, error)
	ListAPIKeys(ctx context.Context) ([]*model.APIKey, error)
	CountAPIKeys(ctx context.Context) (int, error)
	DeleteAPIKey(ctx context.Context, id uuid.UUID) error
	IncrementAPIKeyUsage(ctx context.Context, id uuid.UUID, usedAt time.Time) error
}

// WebhookStore defines operations for webhook subscription management.
type WebhookStore interface {
	CreateWebhook(ctx context.Context, webhook *model.Webhook) error
	GetWebhookByID(ctx context.Context, id uuid.UUID) (*model.Webhook, error)
	ListWebhooks(ctx context.Context) ([]*model.Webhook, error)
	// ListEnabledWebhooksByEvent returns enabled webhooks subscribed to
	// eventType ordered by creation time, then id.
	ListEnabledWebhooksByEvent(ctx context.Context, eventType string) ([]*model.Webhook, error)
	SetWebhookEnabled(ctx context.Context, id uuid.UUID, enabled bool) error
	DeleteWebhook(ctx context.Context, id uuid.UUID) error
	// RecordWebhookOutcome applies outcome to the webhook's aggregate fields
	// atomically with respect to other writers of the same webhook.
	RecordWebhookOutcome(ctx context.Context, id uuid.UUID, outcome model.Outcome, at time.Time, window int) error
}

// Store combines both APIKeyStore and WebhookStore.
type Store interface {
	APIKeyStore
	WebhookStore
	Ping(ctx context.Context) error
}
