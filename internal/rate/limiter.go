package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds throttle tuning parameters.
type Config struct {
	EnableIPThrottle bool
	MaxRenewals      int
	Window           time.Duration
}

// Limiter enforces per-session and per-IP renewal budgets using Redis counters.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

// New creates a rate [Limiter] backed by the given Redis client.
func New(redisClient redis.UniversalClient, cfg Config) *Limiter {
	return &Limiter{
		redis:  redisClient,
		config: cfg,
	}
}

// AllowRenew records one renewal for sessionID (and ip, when IP throttling is
// enabled) and returns ErrRateLimited once either budget is exceeded.
func (l *Limiter) AllowRenew(ctx context.Context, sessionID, ip string) error {
	if l == nil || l.config.MaxRenewals <= 0 {
		return nil
	}

	count, err := l.incrementWithTTL(ctx, renewKey(sessionID), l.config.Window)
	if err != nil {
		return err
	}
	if count > int64(l.config.MaxRenewals) {
		return ErrRateLimited
	}

	if l.config.EnableIPThrottle && ip != "" {
		count, err = l.incrementWithTTL(ctx, renewIPKey(ip), l.config.Window)
		if err != nil {
			return err
		}
		if count > int64(l.config.MaxRenewals) {
			return ErrRateLimited
		}
	}

	return nil
}

// ResetRenew clears the renewal counter for sessionID.
func (l *Limiter) ResetRenew(ctx context.Context, sessionID string) error {
	if err := l.redis.Del(ctx, renewKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// RenewCount returns the current window count for sessionID.
func (l *Limiter) RenewCount(ctx context.Context, sessionID string) (int, error) {
	count, err := l.redis.Get(ctx, renewKey(sessionID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count < 0 {
		return 0, nil
	}
	return int(count), nil
}

func (l *Limiter) incrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// Fixed-window semantics: set TTL only for the first hit in the window.
	if count == 1 {
		if err := l.redis.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	return count, nil
}

func renewKey(sessionID string) string {
	return "rr:" + sessionID
}

func renewIPKey(ip string) string {
	return "rri:" + ip
}
