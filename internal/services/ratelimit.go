package services

import (
	"context"
	"fmt"

	"github.com/AnshRaj112/abuseguard/internal/abuse"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// RateLimitKeyPrefix is the Redis key prefix for per-user request counters.
const RateLimitKeyPrefix = "abuse_rl:"

// UserRateLimiter enforces the configured rate_limit with a fixed window
// counter per user. It decides whether a request counts as rate limited; it
// never blocks on its own.
type UserRateLimiter struct {
	rdb    redis.Cmdable
	config abuse.ConfigProvider
	clock  abuse.Clock
}

func NewUserRateLimiter(rdb redis.Cmdable, config abuse.ConfigProvider, clock abuse.Clock) *UserRateLimiter {
	if clock == nil {
		clock = abuse.SystemClock{}
	}
	return &UserRateLimiter{rdb: rdb, config: config, clock: clock}
}

// Hit counts one request and reports whether the user is over the limit.
// Redis or config failures fail open.
func (l *UserRateLimiter) Hit(ctx context.Context, userID uuid.UUID) bool {
	limited, err := l.hit(ctx, userID)
	if err != nil {
		logrus.WithError(err).WithField("user_id", userID.String()).Warn("Rate limiter unavailable, allowing request")
		return false
	}
	return limited
}

func (l *UserRateLimiter) hit(ctx context.Context, userID uuid.UUID) (bool, error) {
	th, err := l.config.Thresholds(ctx)
	if err != nil {
		return false, err
	}
	limit, err := abuse.ParseRateLimit(th.RateLimit)
	if err != nil {
		return false, err
	}

	windowStart := l.clock.Now().Truncate(limit.Window).Unix()
	key := fmt.Sprintf("%s%s:%d", RateLimitKeyPrefix, userID, windowStart)

	var incr *redis.IntCmd
	_, err = l.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, limit.Window)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("count request: %w", err)
	}
	return incr.Val() > int64(limit.Count), nil
}
