package middleware

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/timmy/motionmatch/internal/errs"
	"github.com/timmy/motionmatch/internal/ratelimit"
)

// RateLimit limits requests per client IP for one endpoint class.
type RateLimit struct {
	limiter ratelimit.Limiter
	class   string
	limit   int
	window  time.Duration
}

// NewRateLimit creates a limiter middleware allowing perMinute requests per
// client each minute. A nil limiter or non-positive budget disables it.
func NewRateLimit(l ratelimit.Limiter, class string, perMinute int) *RateLimit {
	return &RateLimit{limiter: l, class: class, limit: perMinute, window: time.Minute}
}

// Handler returns the gin middleware.
func (rl *RateLimit) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if rl.limiter == nil || rl.limit <= 0 {
			c.Next()
			return
		}

		key := ratelimit.Key(rl.class, c.ClientIP())
		allowed, retryAfter, err := rl.limiter.Allow(c.Request.Context(), key, rl.limit, rl.window)
		if err != nil {
			// Fail open when the limiter backend is down.
			GetLogger(c).WithError(err).WithField("class", rl.class).Warn("Rate limiter unavailable")
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(rl.limit))
		if allowed {
			c.Next()
			return
		}

		secs := int(math.Ceil(retryAfter.Seconds()))
		if secs < 1 {
			secs = 1
		}
		c.Header("X-RateLimit-Remaining", "0")
		c.Header("X-RateLimit-Reset", fmt.Sprintf("%d", time.Now().Add(retryAfter).Unix()))
		c.Header("Retry-After", strconv.Itoa(secs))
		e := errs.RateLimited(retryAfter)
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error":   e.Message,
			"kind":    e.Kind,
			"details": gin.H{"retry_after_seconds": secs},
		})
	}
}
