package middleware

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestWindowTTL(t *testing.T) {
	window := time.Minute

	tests := []struct {
		name       string
		ttl        time.Duration
		wantTTL    time.Duration
		wantExpire bool
	}{
		{"fresh counter without expiry", -1, window, true},
		{"key vanished between commands", -2, window, true},
		{"expiry already set", 42 * time.Second, 42 * time.Second, false},
		{"expiring now", 0, window, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, expire := windowTTL(tt.ttl, window)
			if got != tt.wantTTL || expire != tt.wantExpire {
				t.Fatalf("windowTTL(%s) = %s, %v; want %s, %v", tt.ttl, got, expire, tt.wantTTL, tt.wantExpire)
			}
		})
	}
}

func TestRedisRateLimiterRepairsMissingExpiry(t *testing.T) {
	redisURL := os.Getenv("TEST_REDIS_URL")
	if redisURL == "" {
		t.Skip("TEST_REDIS_URL not set")
	}

	ctx := context.Background()
	rl, err := NewRedisRateLimiter(ctx, redisURL, 5, time.Minute)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer rl.Close()

	key := "test:" + uuid.NewString()
	redisKey := redisKeyPrefix + key
	defer rl.client.Del(ctx, redisKey)

	// A counter left behind by a failed Expire.
	if err := rl.client.Set(ctx, redisKey, 3, 0).Err(); err != nil {
		t.Fatalf("seed counter: %v", err)
	}

	d := rl.Allow(ctx, key)
	if !d.Allowed || d.Remaining != 1 {
		t.Fatalf("unexpected decision: %+v", d)
	}

	ttl, err := rl.client.TTL(ctx, redisKey).Result()
	if err != nil {
		t.Fatalf("ttl: %v", err)
	}
	if ttl <= 0 || ttl > time.Minute {
		t.Fatalf("expected expiry within the window, got %s", ttl)
	}
}
