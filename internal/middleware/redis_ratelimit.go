package middleware

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	redisKeyPrefix   = "gateway:ratelimit:"
	redisOpTimeout   = 250 * time.Millisecond
	redisPingTimeout = 2 * time.Second
)

// RedisRateLimiter is a fixed-window Limiter shared across instances. Redis
// errors fail open.
type RedisRateLimiter struct {
	client *redis.Client
	max    int
	window time.Duration
}

// NewRedisRateLimiter connects to redisURL and verifies it with a ping.
func NewRedisRateLimiter(ctx context.Context, redisURL string, max int, window time.Duration) (*RedisRateLimiter, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &RedisRateLimiter{client: client, max: max, window: window}, nil
}

func (rl *RedisRateLimiter) Allow(ctx context.Context, key string) Decision {
	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	redisKey := redisKeyPrefix + key
	var incr *redis.IntCmd
	var ttlCmd *redis.DurationCmd
	_, err := rl.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, redisKey)
		ttlCmd = pipe.TTL(ctx, redisKey)
		return nil
	})
	if err != nil {
		logRedisError("incr", err)
		return Decision{Allowed: true, Limit: rl.max, Remaining: rl.max, ResetAt: time.Now().Add(rl.window)}
	}
	counter := incr.Val()

	// A counter without a TTL never resets, so any request that sees one
	// (including after a failed Expire) sets it.
	ttl, expire := windowTTL(ttlCmd.Val(), rl.window)
	if expire {
		if err := rl.client.Expire(ctx, redisKey, rl.window).Err(); err != nil {
			logRedisError("expire", err)
		}
	}

	remaining := rl.max - int(counter)
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   int(counter) <= rl.max,
		Limit:     rl.max,
		Remaining: remaining,
		ResetAt:   time.Now().Add(ttl),
	}
}

func (rl *RedisRateLimiter) Peek(ctx context.Context, key string) Decision {
	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	redisKey := redisKeyPrefix + key
	full := Decision{Allowed: true, Limit: rl.max, Remaining: rl.max, ResetAt: time.Now().Add(rl.window)}

	count, err := rl.client.Get(ctx, redisKey).Int()
	if errors.Is(err, redis.Nil) {
		return full
	}
	if err != nil {
		logRedisError("get", err)
		return full
	}

	ttl, err := rl.client.TTL(ctx, redisKey).Result()
	if err != nil || ttl <= 0 {
		ttl = rl.window
	}

	remaining := rl.max - count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{Allowed: remaining > 0, Limit: rl.max, Remaining: remaining, ResetAt: time.Now().Add(ttl)}
}

// windowTTL returns the time left in the window and whether the key has no
// expiry yet. Redis reports a missing expiry as a negative TTL.
func windowTTL(ttl, window time.Duration) (time.Duration, bool) {
	if ttl < 0 {
		return window, true
	}
	if ttl == 0 {
		return window, false
	}
	return ttl, false
}

// Ping reports whether Redis is reachable.
func (rl *RedisRateLimiter) Ping(ctx context.Context) error {
	return rl.client.Ping(ctx).Err()
}

func (rl *RedisRateLimiter) Close() error {
	return rl.client.Close()
}

func logRedisError(op string, err error) {
	log.Error().Err(err).Str("op", op).Msg("redis rate limiter error")
}
