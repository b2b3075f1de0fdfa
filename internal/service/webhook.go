package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gateway-control-plane/internal/model"
	"github.com/gateway-control-plane/internal/store"
	"github.com/gateway-control-plane/internal/validation"
)

// WebhookService manages webhook subscriptions and their delivery statistics.
type WebhookService struct {
	store  store.WebhookStore
	window int
	now    func() time.Time
}

// NewWebhookService creates a webhook service. window is the number of recent
// outcomes the success rate is computed over; zero means all-time.
func NewWebhookService(store store.WebhookStore, window int) *WebhookService {
	return &WebhookService{store: store, window: window, now: time.Now}
}

// Register subscribes url to events. The webhook starts enabled with a 100%
// success rate.
func (s *WebhookService) Register(ctx context.Context, rawURL string, events []string) (*model.Webhook, error) {
	u, err := validation.WebhookURL(rawURL)
	if err != nil {
		return nil, NewValidation(err.Error())
	}
	events, err = validation.EventTypes(events)
	if err != nil {
		return nil, NewValidation(err.Error())
	}

	webhook := &model.Webhook{
		URL:         u,
		Events:      events,
		Enabled:     true,
		SuccessRate: 100,
	}
	if err := s.store.CreateWebhook(ctx, webhook); err != nil {
		log.Error().Err(err).Str("url", u).Msg("failed to create webhook")
		return nil, NewInternal("Failed to create webhook")
	}

	log.Info().Str("webhook_id", webhook.ID.String()).Strs("events", events).Msg("webhook registered")
	return webhook, nil
}

func (s *WebhookService) Get(ctx context.Context, id uuid.UUID) (*model.Webhook, error) {
	webhook, err := s.store.GetWebhookByID(ctx, id)
	if err != nil {
		return nil, s.translate(err, id, "Failed to get webhook")
	}
	return webhook, nil
}

// List returns all webhooks, newest first.
func (s *WebhookService) List(ctx context.Context) ([]*model.Webhook, error) {
	webhooks, err := s.store.ListWebhooks(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to list webhooks")
		return nil, NewInternal("Failed to list webhooks")
	}
	return webhooks, nil
}

// SetEnabled toggles dispatch eligibility. Setting the current value again is
// a no-op.
func (s *WebhookService) SetEnabled(ctx context.Context, id uuid.UUID, enabled bool) (*model.Webhook, error) {
	if err := s.store.SetWebhookEnabled(ctx, id, enabled); err != nil {
		return nil, s.translate(err, id, "Failed to update webhook")
	}
	log.Info().Str("webhook_id", id.String()).Bool("enabled", enabled).Msg("webhook updated")
	return s.Get(ctx, id)
}

func (s *WebhookService) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.store.DeleteWebhook(ctx, id); err != nil {
		return s.translate(err, id, "Failed to delete webhook")
	}
	log.Info().Str("webhook_id", id.String()).Msg("webhook deleted")
	return nil
}

// MatchSubscriptions returns the enabled webhooks subscribed to eventType in
// creation order.
func (s *WebhookService) MatchSubscriptions(ctx context.Context, eventType string) ([]*model.Webhook, error) {
	webhooks, err := s.store.ListEnabledWebhooksByEvent(ctx, eventType)
	if err != nil {
		log.Error().Err(err).Str("event", eventType).Msg("failed to match webhook subscriptions")
		return nil, NewInternal("Failed to match webhook subscriptions")
	}
	return webhooks, nil
}

// RecordOutcome folds a terminal delivery outcome into the webhook's
// statistics. Unknown ids are ignored.
func (s *WebhookService) RecordOutcome(ctx context.Context, id uuid.UUID, outcome model.Outcome) error {
	err := s.store.RecordWebhookOutcome(ctx, id, outcome, s.now(), s.window)
	if err == nil {
		return nil
	}
	if errors.Is(err, store.ErrNotFound) {
		log.Debug().Str("webhook_id", id.String()).Msg("outcome dropped for deleted webhook")
		return nil
	}
	log.Error().Err(err).Str("webhook_id", id.String()).Str("outcome", string(outcome)).Msg("failed to record webhook outcome")
	return NewInternal("Failed to record webhook outcome")
}

func (s *WebhookService) translate(err error, id uuid.UUID, message string) error {
	if errors.Is(err, store.ErrNotFound) {
		return NewNotFound("Webhook not found")
	}
	log.Error().Err(err).Str("webhook_id", id.String()).Msg(message)
	return NewInternal(message)
}
