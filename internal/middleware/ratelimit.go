package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/charlesng35/syncmeet/internal/cache"
	"github.com/charlesng35/syncmeet/pkg/errors"
	"github.com/charlesng35/syncmeet/pkg/logger"
	"github.com/charlesng35/syncmeet/pkg/response"
)

var errTooManyRequests = errors.New("RATE_LIMITED", "Too many requests", http.StatusTooManyRequests)

// RateLimiter allows max requests per key within fixed windows tracked by a cache.Counter.
type RateLimiter struct {
	counter cache.Counter
	max     int
	window  time.Duration
}

// NewRateLimiter constructs a limiter allowing maxRequests per window. A nil counter
// falls back to a process-local one.
func NewRateLimiter(counter cache.Counter, maxRequests int, window time.Duration) *RateLimiter {
	if counter == nil {
		counter = cache.NewMemoryCounter(nil)
	}
	return &RateLimiter{counter: counter, max: maxRequests, window: window}
}

func (l *RateLimiter) enabled() bool {
	return l != nil && l.max > 0 && l.window > 0
}

// RateLimit limits requests per client IP and route using limiter. Counter failures let
// the request through.
func RateLimit(limiter *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.enabled() {
			c.Next()
			return
		}

		count, resetIn, err := limiter.counter.IncrementWithTTL(c.Request.Context(), c.ClientIP()+"|"+c.FullPath(), limiter.window)
		if err != nil {
			logger.WithModule("ratelimit").Warn("rate counter unavailable", zap.Error(err))
			c.Next()
			return
		}

		remaining := limiter.max - int(count)
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(limiter.max))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Header("X-RateLimit-Reset", strconv.Itoa(int(resetIn.Seconds())))

		if count > int64(limiter.max) {
			response.Error(c, errTooManyRequests)
			c.Abort()
			return
		}
		c.Next()
	}
}
