package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gateway-control-plane/internal/middleware"
	"github.com/gateway-control-plane/internal/model"
	"github.com/gateway-control-plane/internal/store"
	"github.com/gateway-control-plane/internal/validation"
)

const maxIssueAttempts = 3

// APIKeyService handles API key business logic.
type APIKeyService struct {
	store     store.APIKeyStore
	keyPrefix string
	now       func() time.Time
	generate  func(prefix string) (string, error)
}

// NewAPIKeyService creates a new API key service. keyPrefix is prepended to
// every issued secret.
func NewAPIKeyService(store store.APIKeyStore, keyPrefix string) *APIKeyService {
	return &APIKeyService{
		store:     store,
		keyPrefix: keyPrefix,
		now:       time.Now,
		generate:  generateAPIKey,
	}
}

// Issue creates a key with a fresh secret. Names need not be unique.
func (s *APIKeyService) Issue(ctx context.Context, name string) (*model.APIKey, error) {
	name, err := validation.KeyName(name)
	if err != nil {
		return nil, NewValidation(err.Error())
	}

	for attempt := 1; attempt <= maxIssueAttempts; attempt++ {
		secret, err := s.generate(s.keyPrefix)
		if err != nil {
			log.Error().Err(err).Msg("failed to generate API key")
			return nil, NewInternal("Failed to create API key")
		}
		keyHash := middleware.SHA256Hex(secret)

		if _, err := s.store.GetAPIKeyByHash(ctx, keyHash); err == nil {
			log.Warn().Int("attempt", attempt).Msg("generated API key collided with an existing key")
			continue
		} else if !errors.Is(err, store.ErrNotFound) {
			log.Error().Err(err).Msg("failed to check API key uniqueness")
			return nil, NewInternal("Failed to create API key")
		}

		apiKey := &model.APIKey{
			Name:    name,
			Secret:  secret,
			KeyHash: keyHash,
		}
		if err := s.store.CreateAPIKey(ctx, apiKey); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				log.Warn().Int("attempt", attempt).Msg("generated API key collided on insert")
				continue
			}
			log.Error().Err(err).Msg("failed to create API key")
			return nil, NewInternal("Failed to create API key")
		}

		log.Info().Str("id", apiKey.ID.String()).Str("name", apiKey.Name).Msg("API key issued")
		return apiKey, nil
	}

	log.Error().Int("attempts", maxIssueAttempts).Msg("could not generate a unique API key")
	return nil, NewInternal("Failed to create API key")
}

// Revoke permanently deletes a key. Requests bearing its secret are rejected
// from then on.
func (s *APIKeyService) Revoke(ctx context.Context, id uuid.UUID) error {
	if err := s.store.DeleteAPIKey(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return NewNotFound("API key not found")
		}
		log.Error().Err(err).Str("id", id.String()).Msg("failed to revoke API key")
		return NewInternal("Failed to revoke API key")
	}

	log.Info().Str("id", id.String()).Msg("API key revoked")
	return nil
}

// List returns every issued key, newest first.
func (s *APIKeyService) List(ctx context.Context) ([]*model.APIKey, error) {
	keys, err := s.store.ListAPIKeys(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to list API keys")
		return nil, NewInternal("Failed to list API keys")
	}
	return keys, nil
}

func (s *APIKeyService) Get(ctx context.Context, id uuid.UUID) (*model.APIKey, error) {
	key, err := s.store.GetAPIKeyByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, NewNotFound("API key not found")
		}
		log.Error().Err(err).Str("id", id.String()).Msg("failed to get API key")
		return nil, NewInternal("Failed to get API key")
	}
	return key, nil
}

// Authenticate resolves a presented secret to its key.
func (s *APIKeyService) Authenticate(ctx context.Context, secret string) (*model.APIKey, error) {
	if secret == "" {
		return nil, NewNotFound("API key not found")
	}
	key, err := s.store.GetAPIKeyByHash(ctx, middleware.SHA256Hex(secret))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, NewNotFound("API key not found")
		}
		log.Error().Err(err).Msg("failed to look up API key")
		return nil, NewInternal("Failed to authenticate API key")
	}
	return key, nil
}

// RecordUsage bumps the key's request counter. Failures are logged and never
// surfaced to the caller.
func (s *APIKeyService) RecordUsage(ctx context.Context, id uuid.UUID) {
	err := s.store.IncrementAPIKeyUsage(ctx, id, s.now())
	switch {
	case err == nil:
	case errors.Is(err, store.ErrNotFound):
		log.Debug().Str("id", id.String()).Msg("usage recorded for unknown API key")
	default:
		log.Warn().Err(err).Str("id", id.String()).Msg("failed to record API key usage")
	}
}

func generateAPIKey(prefix string) (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("crypto/rand failed: %w", err)
	}
	return prefix + hex.EncodeToString(b), nil
}
