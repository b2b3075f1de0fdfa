package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gateway-control-plane/internal/metrics"
)

// AuthFailure classifies a rejected gateway credential.
type AuthFailure string

const (
	AuthKeyMissing AuthFailure = "missing"
	AuthKeyInvalid AuthFailure = "invalid"
)

// AuthLimits bounds repeated credential failures from one client address.
type AuthLimits struct {
	MaxFailures   int
	Window        time.Duration
	BlockDuration time.Duration
}

// AuthAttemptLimiter counts missing and invalid credentials per client
// address in separate buckets. A client is locked out for BlockDuration once
// either bucket reaches MaxFailures within Window.
type AuthAttemptLimiter struct {
	mu        sync.Mutex
	limits    AuthLimits
	clients   map[string]*authClient
	metrics   *metrics.Metrics
	lastSweep time.Time
	now       func() time.Time
}

type authClient struct {
	failures    map[AuthFailure]int
	windowStart time.Time
	lockedUntil time.Time
	lastSeen    time.Time
}

func NewAuthAttemptLimiter(limits AuthLimits, m *metrics.Metrics) *AuthAttemptLimiter {
	return &AuthAttemptLimiter{
		limits:    limits,
		clients:   make(map[string]*authClient),
		metrics:   m,
		lastSweep: time.Now(),
		now:       time.Now,
	}
}

// LockedUntil reports when the lockout on addr ends. ok is false when addr
// may attempt authentication.
func (l *AuthAttemptLimiter) LockedUntil(addr string) (until time.Time, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	defer l.sweepLocked(now)

	c, exists := l.clients[addr]
	if !exists || !now.Before(c.lockedUntil) {
		return time.Time{}, false
	}
	c.lastSeen = now
	l.metrics.ObserveRateLimitHit("auth")
	return c.lockedUntil, true
}

// Fail records one rejected credential from addr.
func (l *AuthAttemptLimiter) Fail(addr string, reason AuthFailure) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	defer l.sweepLocked(now)

	c, exists := l.clients[addr]
	if !exists || now.Sub(c.windowStart) > l.limits.Window {
		c = &authClient{failures: make(map[AuthFailure]int), windowStart: now, lockedUntil: lockoutCarry(c)}
		l.clients[addr] = c
	}
	c.lastSeen = now

	c.failures[reason]++
	if c.failures[reason] >= l.limits.MaxFailures {
		c.lockedUntil = now.Add(l.limits.BlockDuration)
		c.failures = make(map[AuthFailure]int)
		c.windowStart = now
	}
}

// Succeed clears the failure history of addr.
func (l *AuthAttemptLimiter) Succeed(addr string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.clients, addr)
}

func lockoutCarry(c *authClient) time.Time {
	if c == nil {
		return time.Time{}
	}
	return c.lockedUntil
}

func (l *AuthAttemptLimiter) sweepLocked(now time.Time) {
	if now.Sub(l.lastSweep) < cleanupInterval {
		return
	}
	for addr, c := range l.clients {
		if now.Sub(c.lastSeen) > staleEntryTTL && now.After(c.lockedUntil) {
			delete(l.clients, addr)
		}
	}
	l.lastSweep = now
}

// clientAddr is the request's remote host. RealIP runs ahead of auth, so
// RemoteAddr already reflects forwarding headers.
func clientAddr(r *http.Request) string {
	host := r.RemoteAddr
	if h, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		host = h
	}
	if host == "" {
		return "unknown"
	}
	return host
}
