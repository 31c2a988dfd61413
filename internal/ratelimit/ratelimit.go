// Package ratelimit provides Redis-based fixed-window rate limiting for
// relayed calls and message sends.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRateLimited is returned when a rate limit is exceeded
var ErrRateLimited = errors.New("rate limit exceeded")

// Limits configures the per-user windows
type Limits struct {
	CallAttempts int
	CallWindow   time.Duration

	MessageSends  int
	MessageWindow time.Duration
}

// DefaultLimits returns the recommended rate limits
func DefaultLimits() Limits {
	return Limits{
		CallAttempts:  20,
		CallWindow:    time.Minute,
		MessageSends:  120,
		MessageWindow: time.Minute,
	}
}

// Limiter provides rate limiting functionality using Redis. A nil redis
// client, or any redis error, allows the request.
type Limiter struct {
	redis  *redis.Client
	limits Limits
}

// NewLimiter creates a new rate limiter
func NewLimiter(redis *redis.Client, limits Limits) *Limiter {
	return &Limiter{redis: redis, limits: limits}
}

// CheckCallAttempt limits how many callUser events a caller may send
func (l *Limiter) CheckCallAttempt(ctx context.Context, callerID string) error {
	if l == nil || l.redis == nil || l.limits.CallAttempts <= 0 {
		return nil
	}

	key := fmt.Sprintf("ratelimit:call:%s", callerID)
	if err := l.checkLimit(ctx, key, l.limits.CallAttempts, l.limits.CallWindow); err != nil {
		log.Printf("[RateLimit] Caller %s exceeded call attempt limit", callerID)
		return err
	}
	return nil
}

// CheckMessageSend limits how many messages a sender may post
func (l *Limiter) CheckMessageSend(ctx context.Context, senderID string) error {
	if l == nil || l.redis == nil || l.limits.MessageSends <= 0 {
		return nil
	}

	key := fmt.Sprintf("ratelimit:message:%s", senderID)
	if err := l.checkLimit(ctx, key, l.limits.MessageSends, l.limits.MessageWindow); err != nil {
		log.Printf("[RateLimit] Sender %s exceeded message limit", senderID)
		return err
	}
	return nil
}

// checkLimit performs the actual rate limit check using Redis INCR
func (l *Limiter) checkLimit(ctx context.Context, key string, limit int, window time.Duration) error {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return nil
	}

	if count == 1 {
		l.redis.Expire(ctx, key, window)
	}

	if int(count) > limit {
		return ErrRateLimited
	}

	return nil
}

// Remaining returns how many requests are left in the current window for key
func (l *Limiter) Remaining(ctx context.Context, key string, limit int) (int, error) {
	if l == nil || l.redis == nil {
		return limit, nil
	}

	count, err := l.redis.Get(ctx, key).Int()
	if err == redis.Nil {
		return limit, nil
	}
	if err != nil {
		return limit, err
	}

	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}
