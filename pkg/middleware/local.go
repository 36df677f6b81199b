package middleware

import (
	"github.com/spb722/ai-companion/pkg/errors"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// LocalLimit guards expensive endpoints with a per-process token bucket,
// independent of the shared fixed-window limiter. Used for WebSocket upgrades
// and admin provider probes, where a burst can tie up real resources even
// when the caller is within their request budget.
func LocalLimit(rps float64, burst int) gin.HandlerFunc {
	limiter := rate.NewLimiter(rate.Limit(rps), burst)
	return func(c *gin.Context) {
		if !limiter.Allow() {
			c.Error(errors.NewTooManyRequestsError(errors.CodeRateLimitExceeded,
				"Too many requests to this endpoint. Please slow down."))
			c.Abort()
			return
		}
		c.Next()
	}
}
