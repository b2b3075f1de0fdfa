package middleware

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gateway-control-plane/internal/metrics"
)

// Decision is the result of one rate-limit check.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Limiter enforces a fixed request budget per key per window.
type Limiter interface {
	Allow(ctx context.Context, key string) Decision
	// Peek reports the current budget without consuming it.
	Peek(ctx context.Context, key string) Decision
}

// RateLimiter is an in-process fixed-window Limiter.
type RateLimiter struct {
	mu          sync.Mutex
	max         int
	window      time.Duration
	counters    map[string]*window
	lastCleanup time.Time
	now         func() time.Time
}

type window struct {
	count    int
	resetAt  time.Time
	lastSeen time.Time
}

const (
	cleanupInterval    = 5 * time.Minute
	expiredWindowGrace = 10 * time.Minute
	staleEntryTTL      = 24 * time.Hour
)

// NewRateLimiter allows max requests per key in every window.
func NewRateLimiter(max int, windowDuration time.Duration) *RateLimiter {
	return &RateLimiter{
		max:         max,
		window:      windowDuration,
		counters:    make(map[string]*window),
		lastCleanup: time.Now(),
		now:         time.Now,
	}
}

func (rl *RateLimiter) Allow(_ context.Context, key string) Decision {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	defer rl.cleanupLocked(now)

	w, exists := rl.counters[key]
	if !exists || !now.Before(w.resetAt) {
		w = &window{resetAt: now.Add(rl.window)}
		rl.counters[key] = w
	}
	w.lastSeen = now

	if w.count >= rl.max {
		return Decision{Allowed: false, Limit: rl.max, Remaining: 0, ResetAt: w.resetAt}
	}
	w.count++
	return Decision{Allowed: true, Limit: rl.max, Remaining: rl.max - w.count, ResetAt: w.resetAt}
}

func (rl *RateLimiter) Peek(_ context.Context, key string) Decision {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	w, exists := rl.counters[key]
	if !exists || !now.Before(w.resetAt) {
		return Decision{Allowed: true, Limit: rl.max, Remaining: rl.max, ResetAt: now.Add(rl.window)}
	}

	remaining := rl.max - w.count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{Allowed: remaining > 0, Limit: rl.max, Remaining: remaining, ResetAt: w.resetAt}
}

// RateLimitMiddleware enforces per-key limits on authenticated requests and
// sets the X-RateLimit-* headers. Requests without an API key pass through.
func RateLimitMiddleware(rl Limiter, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apiKey := GetAPIKey(r.Context())
			if apiKey == nil {
				next.ServeHTTP(w, r)
				return
			}

			d := rl.Allow(r.Context(), apiKey.ID.String())
			SetRateLimitHeaders(w, d)

			if !d.Allowed {
				m.ObserveRateLimitHit("api_key")
				w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(d.ResetAt)))
				respondError(w, http.StatusTooManyRequests, "rate_limited", "Rate limit exceeded")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func SetRateLimitHeaders(w http.ResponseWriter, d Decision) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
}

func retryAfterSeconds(resetAt time.Time) int {
	secs := int(time.Until(resetAt).Round(time.Second) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}

func (rl *RateLimiter) cleanupLocked(now time.Time) {
	if now.Sub(rl.lastCleanup) < cleanupInterval {
		return
	}

	for key, w := range rl.counters {
		if now.Sub(w.lastSeen) > staleEntryTTL || now.After(w.resetAt.Add(expiredWindowGrace)) {
			delete(rl.counters, key)
		}
	}

	rl.lastCleanup = now
}
