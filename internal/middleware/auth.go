package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/hlog"

	"github.com/gateway-control-plane/internal/model"
)

type contextKey string

const apiKeyContextKey contextKey = "api_key"

// APIKeyHeader is checked before the Authorization header.
const APIKeyHeader = "X-Api-Key"

// Authenticator resolves a presented secret to a live key and counts usage.
type Authenticator interface {
	Authenticate(ctx context.Context, secret string) (*model.APIKey, error)
	RecordUsage(ctx context.Context, id uuid.UUID)
}

// GetAPIKey extracts the authenticated API key from the request context.
func GetAPIKey(ctx context.Context) *model.APIKey {
	key, _ := ctx.Value(apiKeyContextKey).(*model.APIKey)
	return key
}

// WithAPIKey returns a copy of ctx carrying key.
func WithAPIKey(ctx context.Context, key *model.APIKey) context.Context {
	return context.WithValue(ctx, apiKeyContextKey, key)
}

// APIKeyAuth authenticates gateway requests and records one usage per
// admitted request. Repeated failures from one client address are throttled
// by limiter when it is non-nil.
func APIKeyAuth(auth Authenticator, limiter *AuthAttemptLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			addr := clientAddr(r)
			if limiter != nil {
				if until, locked := limiter.LockedUntil(addr); locked {
					w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(until)))
					respondError(w, http.StatusTooManyRequests, "rate_limited", "Too many authentication failures")
					return
				}
			}

			secret := extractAPIKey(r)
			if secret == "" {
				if limiter != nil {
					limiter.Fail(addr, AuthKeyMissing)
				}
				respondError(w, http.StatusUnauthorized, "invalid_api_key", "Missing API key")
				return
			}

			apiKey, err := auth.Authenticate(r.Context(), secret)
			if err != nil {
				if limiter != nil {
					limiter.Fail(addr, AuthKeyInvalid)
				}
				hlog.FromRequest(r).Debug().Err(err).Msg("api key rejected")
				respondError(w, http.StatusUnauthorized, "invalid_api_key", "Invalid API key")
				return
			}

			if limiter != nil {
				limiter.Succeed(addr)
			}
			auth.RecordUsage(r.Context(), apiKey.ID)

			next.ServeHTTP(w, r.WithContext(WithAPIKey(r.Context(), apiKey)))
		})
	}
}

func extractAPIKey(r *http.Request) string {
	if key := strings.TrimSpace(r.Header.Get(APIKeyHeader)); key != "" {
		return key
	}
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
}

// SHA256Hex returns the hex-encoded SHA-256 hash of the input.
func SHA256Hex(input string) string {
	h := sha256.Sum256([]byte(input))
	return hex.EncodeToString(h[:])
}
