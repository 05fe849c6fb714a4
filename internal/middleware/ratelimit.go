package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// RateLimitConfig holds configuration for the rate limiter
type RateLimitConfig struct {
	// Limit is the maximum number of requests allowed per window
	Limit int

	// Window is the time period for the limit
	Window time.Duration

	// KeyFunc generates the rate limit key (default: IP and path)
	KeyFunc func(*gin.Context) string

	// SkipFunc determines if rate limiting should be skipped for this request
	SkipFunc func(*gin.Context) bool
}

// RateLimiter limits request rates with a sliding window of request
// timestamps kept in a Redis sorted set. Redis outages fail open.
type RateLimiter struct {
	redis  *redis.Client
	config *RateLimitConfig
}

// NewRateLimiter creates a new rate limiter instance
func NewRateLimiter(redisClient *redis.Client, config *RateLimitConfig) *RateLimiter {
	if config.KeyFunc == nil {
		config.KeyFunc = IPAndPathKey
	}
	if config.SkipFunc == nil {
		config.SkipFunc = func(c *gin.Context) bool { return false }
	}
	return &RateLimiter{
		redis:  redisClient,
		config: config,
	}
}

// Middleware returns a Gin middleware function enforcing the limit
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if rl.config.SkipFunc(c) {
			c.Next()
			return
		}

		key := rl.config.KeyFunc(c)
		allowed, remaining, resetTime, err := rl.check(c.Request.Context(), key)
		if err != nil {
			// Fail open rather than take the service down with Redis
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(rl.config.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(resetTime, 10))

		if !allowed {
			retryAfter := resetTime - time.Now().Unix()
			if retryAfter < 0 {
				retryAfter = 0
			}
			c.Header("Retry-After", strconv.FormatInt(retryAfter, 10))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"code":    http.StatusTooManyRequests,
				"message": "Rate limit exceeded. Please try again later.",
			})
			return
		}

		c.Next()
	}
}

// check records the request timestamp and counts requests inside the
// window. Returns (allowed, remaining, resetTime, error).
func (rl *RateLimiter) check(ctx context.Context, key string) (bool, int, int64, error) {
	now := time.Now()
	windowStart := now.Add(-rl.config.Window).UnixNano()
	nowNano := now.UnixNano()

	pipe := rl.redis.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(windowStart, 10))
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(nowNano),
		Member: nowNano,
	})
	zcardCmd := pipe.ZCard(ctx, key)
	pipe.Expire(ctx, key, rl.config.Window*2)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, 0, err
	}

	count := int(zcardCmd.Val())
	resetTime := now.Add(rl.config.Window).Unix()

	allowed := count <= rl.config.Limit
	remaining := rl.config.Limit - count
	if remaining < 0 {
		remaining = 0
	}

	return allowed, remaining, resetTime, nil
}

// IPAndPathKey generates a rate limit key based on both IP and path
func IPAndPathKey(c *gin.Context) string {
	return fmt.Sprintf("rate_limit:%s:%s", c.ClientIP(), c.Request.URL.Path)
}

// SkipHealthCheck skips rate limiting for health check endpoints
func SkipHealthCheck(c *gin.Context) bool {
	return c.Request.URL.Path == "/health"
}
