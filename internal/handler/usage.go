package handler

import (
	"net/http"
	"time"

	"github.com/gateway-control-plane/internal/middleware"
	"github.com/gateway-control-plane/internal/service"
)

type UsageHandler struct {
	keys        *service.APIKeyService
	rateLimiter middleware.Limiter
	window      time.Duration
}

func NewUsageHandler(keys *service.APIKeyService, rl middleware.Limiter, window time.Duration) *UsageHandler {
	return &UsageHandler{keys: keys, rateLimiter: rl, window: window}
}

type UsageResponse struct {
	APIKeyName   string        `json:"api_key_name"`
	RequestCount int64         `json:"request_count"`
	LastUsedAt   *time.Time    `json:"last_used_at"`
	CreatedAt    time.Time     `json:"created_at"`
	RateLimit    RateLimitInfo `json:"rate_limit"`
}

type RateLimitInfo struct {
	MaxRequests   int       `json:"max_requests"`
	WindowSeconds int       `json:"window_seconds"`
	Remaining     int       `json:"remaining"`
	ResetAt       time.Time `json:"reset_at"`
}

func (h *UsageHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	apiKey := middleware.GetAPIKey(r.Context())
	if apiKey == nil {
		RespondError(w, http.StatusUnauthorized, "invalid_api_key", "Missing API key")
		return
	}

	// Re-read so the count includes this request.
	current, err := h.keys.Get(r.Context(), apiKey.ID)
	if err != nil {
		service.RespondError(w, err)
		return
	}

	d := h.rateLimiter.Peek(r.Context(), apiKey.ID.String())

	RespondJSON(w, http.StatusOK, UsageResponse{
		APIKeyName:   current.Name,
		RequestCount: current.RequestCount,
		LastUsedAt:   current.LastUsedAt,
		CreatedAt:    current.CreatedAt,
		RateLimit: RateLimitInfo{
			MaxRequests:   d.Limit,
			WindowSeconds: int(h.window / time.Second),
			Remaining:     d.Remaining,
			ResetAt:       d.ResetAt.UTC(),
		},
	})
}
