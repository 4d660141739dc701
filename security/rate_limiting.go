package security

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
	"github.com/redis/go-redis/v9"
)

// RateLimiter is a fixed-window request counter kept in Redis, shared by
// every instance of the service.
type RateLimiter struct {
	redis  redis.UniversalClient
	prefix string
	limit  int64
	window time.Duration
}

func NewRateLimiter(redisClient redis.UniversalClient, prefix string, limit int, window time.Duration) *RateLimiter {
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{
		redis:  redisClient,
		prefix: prefix,
		limit:  int64(limit),
		window: window,
	}
}

// Allow counts one request for identity and reports whether it fits in the
// current window. A limit of zero or less disables limiting.
func (r *RateLimiter) Allow(ctx context.Context, identity string) (bool, error) {
	if r.limit <= 0 {
		return true, nil
	}

	key := fmt.Sprintf("%s:%s", r.prefix, identity)

	// ExpireNX on every hit: a key that lost its TTL gets one back
	pipe := r.redis.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, r.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return true, fmt.Errorf("rate limit %s: %w", key, err)
	}

	return incr.Val() <= r.limit, nil
}

// Middleware rate limits by auth record when present, otherwise by client IP.
// Redis failures let the request through.
func (r *RateLimiter) Middleware() func(e *core.RequestEvent) error {
	return func(e *core.RequestEvent) error {
		if isSuspiciousUserAgent(e.Request.UserAgent()) {
			return apis.NewForbiddenError("Access denied", nil)
		}

		identity := "ip:" + e.RealIP()
		if e.Auth != nil {
			identity = "user:" + e.Auth.Id
		}

		ok, err := r.Allow(e.Request.Context(), identity)
		if err != nil {
			slog.Warn("rate limiter unavailable", "error", err)
		}
		if !ok {
			return apis.NewTooManyRequestsError("Rate limit exceeded. Please try again later.", nil)
		}
		return e.Next()
	}
}

func isSuspiciousUserAgent(ua string) bool {
	ua = strings.ToLower(ua)
	for _, pattern := range []string{"bot", "crawler", "spider", "scraper"} {
		if strings.Contains(ua, pattern) {
			return true
		}
	}
	return false
}
