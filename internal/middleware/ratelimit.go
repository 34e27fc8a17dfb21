package middleware

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"livecommerce/internal/cache"
	"livecommerce/internal/models"
	"livecommerce/internal/observability"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

// FailPolicy decides what a limiter does when Redis cannot answer.
type FailPolicy int

const (
	// FailOpen lets the request through.
	FailOpen FailPolicy = iota
	// FailClosed answers 503.
	FailClosed
)

var errNoRedis = errors.New("redis client is nil")

// CheckRateLimit counts one request of id against resource and reports
// whether it is within limit for the current window. Limits are off outside
// production-like environments (APP_ENV test, development or stress).
func CheckRateLimit(ctx context.Context, rdb *redis.Client, resource, id string, limit int, window time.Duration) (bool, error) {
	allowed, _, err := hit(ctx, rdb, resource, id, limit, window)
	return allowed, err
}

// hit also returns how long until the window resets.
func hit(ctx context.Context, rdb *redis.Client, resource, id string, limit int, window time.Duration) (bool, time.Duration, error) {
	switch os.Getenv("APP_ENV") {
	case "", "test", "development", "stress":
		return true, 0, nil
	}
	if rdb == nil {
		return false, 0, errNoRedis
	}

	key := cache.RateLimitKey(resource, id)
	var (
		incr *redis.IntCmd
		ttl  *redis.DurationCmd
	)
	_, err := rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, key)
		ttl = p.PTTL(ctx, key)
		return nil
	})
	if err != nil {
		observability.RedisErrors.WithLabelValues("rate_limit").Inc()
		return false, 0, err
	}

	remaining := ttl.Val()
	// A fresh counter, or one left without expiry by a failed earlier call.
	if remaining < 0 {
		if err := rdb.PExpire(ctx, key, window).Err(); err != nil {
			observability.RedisErrors.WithLabelValues("rate_limit").Inc()
		}
		remaining = window
	}

	if incr.Val() > int64(limit) {
		observability.RateLimitDecisions.WithLabelValues(resource, "limited").Inc()
		return false, remaining, nil
	}
	observability.RateLimitDecisions.WithLabelValues(resource, "allowed").Inc()
	return true, remaining, nil
}

// RateLimit limits each caller to limit requests per window, failing open.
// Members are keyed by id and anonymous callers by IP. When the route has an
// :id parameter each broadcast or VOD gets its own budget.
func RateLimit(rdb *redis.Client, limit int, window time.Duration, name ...string) fiber.Handler {
	return RateLimitWithPolicy(rdb, limit, window, FailOpen, name...)
}

// RateLimitWithPolicy is RateLimit with an explicit fail policy.
func RateLimitWithPolicy(rdb *redis.Client, limit int, window time.Duration, policy FailPolicy, name ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx := c.UserContext()

		id := "ip:" + c.IP()
		if uid := UserID(c); uid != 0 {
			id = fmt.Sprintf("user:%d", uid)
		}
		if target := c.Params("id"); target != "" {
			id += ":" + target
		}

		resource := c.Path()
		if len(name) > 0 {
			resource = name[0]
		}

		allowed, retryIn, err := hit(ctx, rdb, resource, id, limit, window)
		if err != nil {
			if policy == FailClosed {
				Logger.WarnContext(ctx, "rate limit unavailable, rejecting", "resource", resource, "error", err)
				return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
					"error": "rate limit unavailable",
				})
			}
			Logger.WarnContext(ctx, "rate limit unavailable, allowing", "resource", resource, "error", err)
			return c.Next()
		}

		if !allowed {
			secs := int(retryIn.Round(time.Second) / time.Second)
			if secs < 1 {
				secs = 1
			}
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(secs))
			return models.RespondWithError(c, fiber.StatusTooManyRequests, models.NewTooManyRequestsError(resource))
		}
		return c.Next()
	}
}
