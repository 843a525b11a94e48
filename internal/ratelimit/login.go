package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRateLimited is returned when a key has exhausted its attempt budget for
// the current window.
var ErrRateLimited = errors.New("rate limited")

// LoginLimiter throttles login attempts per username using a redis counter
// with a sliding expiry. Failures increment the counter; a success resets it.
type LoginLimiter struct {
	redis       *redis.Client
	maxAttempts int64
	window      time.Duration
}

// NewLoginLimiter creates a limiter allowing maxAttempts failed logins per
// window for each key.
func NewLoginLimiter(redisClient *redis.Client, maxAttempts int, window time.Duration) *LoginLimiter {
	return &LoginLimiter{
		redis:       redisClient,
		maxAttempts: int64(maxAttempts),
		window:      window,
	}
}

func (l *LoginLimiter) key(username string) string {
	return "login_attempts:" + username
}

// Check returns ErrRateLimited when the key has already exceeded its budget.
// A redis read failure is returned as-is so the caller can decide whether to
// fail open or closed.
func (l *LoginLimiter) Check(ctx context.Context, username string) error {
	count, err := l.redis.Get(ctx, l.key(username)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("rate limit check: %w", err)
	}
	if count >= l.maxAttempts {
		return ErrRateLimited
	}
	return nil
}

// RecordFailure increments the counter, starting the expiry window on the
// first failure. It returns ErrRateLimited once the budget is exhausted.
func (l *LoginLimiter) RecordFailure(ctx context.Context, username string) error {
	count, err := l.redis.Incr(ctx, l.key(username)).Result()
	if err != nil {
		return fmt.Errorf("rate limit record: %w", err)
	}
	if count == 1 {
		if err := l.redis.Expire(ctx, l.key(username), l.window).Err(); err != nil {
			return fmt.Errorf("rate limit expire: %w", err)
		}
	}
	if count >= l.maxAttempts {
		return ErrRateLimited
	}
	return nil
}

// Reset clears the counter after a successful login.
func (l *LoginLimiter) Reset(ctx context.Context, username string) error {
	if err := l.redis.Del(ctx, l.key(username)).Err(); err != nil {
		return fmt.Errorf("rate limit reset: %w", err)
	}
	return nil
}
