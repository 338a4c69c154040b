package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/filipjov/askoro/internal/pkg/logger"
	"github.com/filipjov/askoro/internal/pkg/response"
)

// RateLimitFailureMode decides what happens when the counter backend is
// unreachable.
type RateLimitFailureMode int

const (
	// RateLimitFailOpen lets requests through on backend errors.
	RateLimitFailOpen RateLimitFailureMode = iota
	// RateLimitFailClose rejects requests on backend errors.
	RateLimitFailClose
)

// RateLimitOptions tunes a single limit.
type RateLimitOptions struct {
	FailureMode RateLimitFailureMode
}

// RateLimiter applies fixed-window per-IP limits backed by Redis.
type RateLimiter struct {
	client *redis.Client
}

func NewRateLimiter(client *redis.Client) *RateLimiter {
	return &RateLimiter{client: client}
}

// windowTTLMillis converts a window to whole milliseconds, at least 1.
func windowTTLMillis(window time.Duration) int64 {
	ms := window.Milliseconds()
	if ms < 1 {
		ms = 1
	}
	return ms
}

// rateLimitRun increments the window counter and returns the new count plus
// whether this call started the window. Swappable for tests.
var rateLimitRun = func(ctx context.Context, client *redis.Client, key string, windowMillis int64) (int64, bool, error) {
	pipe := client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Do(ctx, "PEXPIRE", key, windowMillis, "NX")
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, false, err
	}
	count := incr.Val()
	return count, count == 1, nil
}

// Limit returns a fail-open per-IP limit of max requests per window.
func (l *RateLimiter) Limit(name string, max int64, window time.Duration) gin.HandlerFunc {
	return l.LimitWithOptions(name, max, window, RateLimitOptions{})
}

// LimitWithOptions is Limit with an explicit failure mode.
func (l *RateLimiter) LimitWithOptions(name string, max int64, window time.Duration, opts RateLimitOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := "ratelimit:" + name + ":" + c.ClientIP()
		count, _, err := rateLimitRun(c.Request.Context(), l.client, key, windowTTLMillis(window))
		if err != nil {
			if opts.FailureMode == RateLimitFailClose {
				logger.Warn("rate limit backend unavailable, rejecting", zap.String("limit", name), zap.Error(err))
				response.Error(c, http.StatusTooManyRequests, "rate limit exceeded")
				c.Abort()
				return
			}
			logger.Warn("rate limit backend unavailable, allowing", zap.String("limit", name), zap.Error(err))
			c.Next()
			return
		}
		if count > max {
			response.Error(c, http.StatusTooManyRequests, "rate limit exceeded")
			c.Abort()
			return
		}
		c.Next()
	}
}
