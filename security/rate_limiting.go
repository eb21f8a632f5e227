package security

import (
	"fmt"
	"strings"
	"time"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
	"github.com/redis/go-redis/v9"
)

type RateLimiter struct {
	redis *redis.Client
}

func NewRateLimiter(redisClient *redis.Client) *RateLimiter {
	return &RateLimiter{redis: redisClient}
}

// PerClientLimit returns a route middleware enforcing at most limit
// requests per window per client. Authenticated requests are keyed by
// user ID, anonymous ones by IP. Redis keeps the counters so the limit
// holds across instances.
func (r *RateLimiter) PerClientLimit(scope string, limit int64, window time.Duration) func(e *core.RequestEvent) error {
	return func(e *core.RequestEvent) error {
		identity := e.RealIP()
		if e.Auth != nil {
			identity = fmt.Sprintf("user:%s", e.Auth.Id)
		}

		key := fmt.Sprintf("ratelimit:%s:%s", scope, identity)
		ctx := e.Request.Context()

		count, err := r.redis.Incr(ctx, key).Result()
		if err != nil {
			// Rate limiting is advisory; a Redis hiccup must not take
			// the queue API down with it.
			return e.Next()
		}
		if count == 1 {
			r.redis.Expire(ctx, key, window)
		}
		if count > limit {
			return apis.NewTooManyRequestsError("Rate limit exceeded. Please try again later.", nil)
		}

		return e.Next()
	}
}

// BlockSuspiciousAgents returns a route middleware rejecting obvious
// scripted clients before they reach the admission engine.
func (r *RateLimiter) BlockSuspiciousAgents() func(e *core.RequestEvent) error {
	return func(e *core.RequestEvent) error {
		userAgent := e.Request.Header.Get("User-Agent")
		if isSuspiciousUserAgent(userAgent) {
			return apis.NewForbiddenError("Access denied", nil)
		}
		return e.Next()
	}
}

func isSuspiciousUserAgent(ua string) bool {
	suspicious := []string{"bot", "crawler", "spider", "scraper"}
	lowered := strings.ToLower(ua)
	for _, pattern := range suspicious {
		if strings.Contains(lowered, pattern) {
			return true
		}
	}
	return false
}
