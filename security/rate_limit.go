// Package security throttles abusive request patterns against the
// reservation engine.
package security

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ticket-reserve/status"

	"github.com/redis/go-redis/v9"
)

// ActionQueueJoin is the rate limited action name for JoinQueue.
const ActionQueueJoin = "queue_join"

// RateLimiter is a fixed-window counter per (action, user), kept in Redis so
// the budget holds across service instances. The window is anchored at the
// first counted action and reset by key expiry.
type RateLimiter struct {
	redis  *redis.Client
	limit  int
	window time.Duration
}

func NewRateLimiter(client *redis.Client, limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		redis:  client,
		limit:  limit,
		window: window,
	}
}

// Check returns a RateLimitError carrying the remaining window time when the
// user has exhausted the budget. It does not consume budget; callers invoke
// Record only after the action actually succeeds, so capacity rejections
// never count against the user.
func (r *RateLimiter) Check(ctx context.Context, userID, action string) error {
	key := r.key(userID, action)

	count, err := r.redis.Get(ctx, key).Int()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		// A Redis outage must not block sales; fail open.
		slog.Warn("rate limiter check failed, allowing request", "key", key, "error", err)
		return nil
	}

	if count >= r.limit {
		retryAfter, err := r.redis.TTL(ctx, key).Result()
		if err != nil || retryAfter < 0 {
			retryAfter = r.window
		}
		return &status.RateLimitError{RetryAfter: retryAfter}
	}

	return nil
}

// Record consumes one unit of budget. The first record of a window sets the
// key expiry that defines the window end.
func (r *RateLimiter) Record(ctx context.Context, userID, action string) error {
	key := r.key(userID, action)

	count, err := r.redis.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("rate limiter record: %w", err)
	}
	if count == 1 {
		if err := r.redis.Expire(ctx, key, r.window).Err(); err != nil {
			return fmt.Errorf("rate limiter window expiry: %w", err)
		}
	}
	return nil
}

func (r *RateLimiter) key(userID, action string) string {
	return fmt.Sprintf("ratelimit:%s:%s", action, userID)
}
