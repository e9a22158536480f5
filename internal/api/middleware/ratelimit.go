package middleware

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/codeduel/duel-backend/pkg/logger"
	"github.com/codeduel/duel-backend/pkg/ratelimit"
)

// DefaultKeyFunc uses user ID if authenticated, otherwise IP address
func DefaultKeyFunc(c *gin.Context) string {
	if userID := c.GetString("userId"); userID != "" {
		return "user:" + userID
	}
	return IPKeyFunc(c)
}

// IPKeyFunc uses only IP address (for public endpoints)
func IPKeyFunc(c *gin.Context) string {
	return "ip:" + c.ClientIP()
}

// RateLimit limiter 는 메모리(단일 인스턴스) 또는 Redis(공유) 구현
func RateLimit(scope string, limiter ratelimit.Limiter, keyFunc func(*gin.Context) string) gin.HandlerFunc {
	if keyFunc == nil {
		keyFunc = DefaultKeyFunc
	}

	return func(c *gin.Context) {
		key := scope + ":" + keyFunc(c)

		decision, err := limiter.Allow(c.Request.Context(), key)
		if err != nil {
			// Redis 오류 시 요청 허용 (fail-open)
			logger.Warn("Rate limit check failed", "key", key, "error", err)
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))

		if !decision.Allowed {
			retryAfter := int(decision.RetryAfter.Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.Itoa(retryAfter))

			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":      "Rate limit exceeded",
				"code":       "rate_limited",
				"message":    fmt.Sprintf("Too many requests. Limit: %d", decision.Limit),
				"retryAfter": retryAfter,
			})
			return
		}

		c.Next()
	}
}
