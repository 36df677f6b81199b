package middleware

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/spb722/ai-companion/internal/ratelimit"
	"github.com/spb722/ai-companion/pkg/errors"
	"github.com/spb722/ai-companion/pkg/metrics"

	"github.com/gin-gonic/gin"
)

// RateLimit admits or rejects requests against the shared fixed-window
// limiter. Authenticated requests are counted per user; anonymous ones per
// client IP. Health probes and CORS preflights are never counted.
func RateLimit(limiter *ratelimit.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions || c.FullPath() == "/health" || c.FullPath() == "/api/v1/health" {
			c.Next()
			return
		}

		result := limiter.Allow(c.Request.Context(), identity(c))

		c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))

		if !result.Allowed {
			metrics.RateLimitRejections.Inc()
			retryAfter := int(result.RetryAfter.Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.Error(errors.NewRateLimitError(result.Limit, retryAfter))
			c.Abort()
			return
		}

		c.Next()
	}
}

// identity picks the rate-limit key for a request. A validated user id wins;
// otherwise the client IP as resolved by gin's trusted-proxy handling.
func identity(c *gin.Context) string {
	if claims := ClaimsFromContext(c); claims != nil {
		return fmt.Sprintf("user:%d", claims.UserID)
	}
	return "ip:" + c.ClientIP()
}
