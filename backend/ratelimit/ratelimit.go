// Package ratelimit throttles join attempts per client address using Redis counters.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/adwski/webrtc-meshrelay/backend/model"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	DefaultJoinLimit  = 30
	DefaultJoinWindow = time.Minute

	keyPrefix = "meshrelay:ratelimit:join"
)

type (
	Config struct {
		Logger *zerolog.Logger
		Redis  *redis.Client
		Limit  int
		Window time.Duration
	}

	// Limiter counts attempts in fixed windows. A nil Limiter or one without
	// Redis allows everything.
	Limiter struct {
		redis  *redis.Client
		logger zerolog.Logger
		limit  int
		window time.Duration
	}
)

func NewLimiter(cfg Config) *Limiter {
	l := &Limiter{
		redis:  cfg.Redis,
		logger: cfg.Logger.With().Str("component", "ratelimit").Logger(),
		limit:  cfg.Limit,
		window: cfg.Window,
	}
	if l.limit <= 0 {
		l.limit = DefaultJoinLimit
	}
	if l.window <= 0 {
		l.window = DefaultJoinWindow
	}
	return l
}

// AllowJoin returns model.ErrRateLimited once addr exceeded its join budget.
// Redis failures are logged and the attempt is allowed.
func (l *Limiter) AllowJoin(ctx context.Context, addr string) error {
	if l == nil || l.redis == nil || addr == "" {
		return nil
	}
	key := fmt.Sprintf("%s:%s", keyPrefix, addr)

	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		l.logger.Warn().Err(err).Msg("rate limit check failed, allowing")
		return nil
	}
	if count == 1 {
		if err = l.redis.Expire(ctx, key, l.window).Err(); err != nil {
			l.logger.Warn().Err(err).Str("key", key).Msg("failed to set rate limit window")
		}
	}
	if int(count) > l.limit {
		l.logger.Debug().Str("addr", addr).Int64("count", count).Msg("join rate limited")
		return model.ErrRateLimited
	}
	return nil
}
