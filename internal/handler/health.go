package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

const healthCheckTimeout = 2 * time.Second

// HealthStore is the part of the store the health check reads.
type HealthStore interface {
	Ping(ctx context.Context) error
	CountAPIKeys(ctx context.Context) (int, error)
}

type HealthHandler struct {
	store     HealthStore
	version   string
	startTime time.Time
}

func NewHealthHandler(store HealthStore, version string) *HealthHandler {
	return &HealthHandler{
		store:     store,
		version:   version,
		startTime: time.Now(),
	}
}

type HealthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	Store         string `json:"store"`
	KeyCount      int    `json:"key_count"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	resp := HealthResponse{
		Status:        "healthy",
		Version:       h.version,
		Store:         "ok",
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
	}

	if err := h.store.Ping(ctx); err != nil {
		log.Error().Err(err).Msg("store health check failed")
		resp.Status = "unhealthy"
		resp.Store = "unreachable"
		RespondJSON(w, http.StatusServiceUnavailable, resp)
		return
	}

	total, err := h.store.CountAPIKeys(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to count API keys")
		total = 0
	}
	resp.KeyCount = total

	RespondJSON(w, http.StatusOK, resp)
}
