// ratelimit.go implements a per-IP fixed-window rate limiter backed by
// Redis counters, so the budget is shared across server instances.
package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/qubefyn/inkwell/internal/apperror"
)

var (
	// ErrRateLimited is returned by Limiter.Allow when the budget is spent.
	ErrRateLimited = errors.New("rate limited")

	// ErrRedisUnavailable wraps any counter read or write failure.
	ErrRedisUnavailable = errors.New("redis unavailable")
)

// incrWindow bumps the counter and gives it a TTL in the same atomic step.
// Any key found without a TTL gets one, so a counter can never outlive its
// window.
var incrWindow = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if redis.call('PTTL', KEYS[1]) < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return n
`)

// Limiter counts hits per key in fixed windows. The first hit in a window
// sets the key's TTL; the counter disappears when the window ends.
type Limiter struct {
	rdb    redis.UniversalClient
	prefix string
	max    int
	window time.Duration
}

// NewLimiter creates a limiter allowing max hits per window. name scopes
// the Redis keys so different routes keep separate budgets.
func NewLimiter(rdb redis.UniversalClient, name string, max int, window time.Duration) *Limiter {
	return &Limiter{
		rdb:    rdb,
		prefix: "ratelimit:" + name + ":",
		max:    max,
		window: window,
	}
}

// Allow records one hit for key. It returns ErrRateLimited once the count
// exceeds max, and an ErrRedisUnavailable-wrapped error if Redis fails.
func (l *Limiter) Allow(ctx context.Context, key string) error {
	count, err := incrWindow.Run(ctx, l.rdb, []string{l.prefix + key}, l.window.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	if count > int64(l.max) {
		return ErrRateLimited
	}
	return nil
}

// retryAfter returns the time left in key's window, or the full window if
// Redis can't say.
func (l *Limiter) retryAfter(ctx context.Context, key string) time.Duration {
	ttl, err := l.rdb.TTL(ctx, l.prefix+key).Result()
	if err != nil || ttl <= 0 {
		return l.window
	}
	return ttl
}

// RateLimit returns middleware that limits requests per client IP. A
// non-positive max disables the limit. Redis outages fail open with a
// warning; auth must keep working when the counter store is down.
func RateLimit(l *Limiter) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if l == nil || l.max <= 0 {
				return next(c)
			}

			ip := c.RealIP()
			ctx := c.Request().Context()

			err := l.Allow(ctx, ip)
			switch {
			case err == nil:
				return next(c)
			case errors.Is(err, ErrRateLimited):
				secs := int(l.retryAfter(ctx, ip).Round(time.Second) / time.Second)
				if secs < 1 {
					secs = 1
				}
				c.Response().Header().Set("Retry-After", strconv.Itoa(secs))
				return apperror.NewRateLimited("too many requests, please try again later")
			default:
				slog.Warn("rate limiter unavailable, allowing request",
					slog.String("limiter", l.prefix),
					slog.String("ip", ip),
					slog.Any("error", err),
				)
				return next(c)
			}
		}
	}
}
