package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// InMemoryRateLimiter allows limit requests per key (client IP, tenant user)
// in each fixed window. State is per process.
type InMemoryRateLimiter struct {
	mu        sync.Mutex
	windows   map[string]*rateWindow
	limit     int
	window    time.Duration
	lastSweep time.Time
	now       func() time.Time
}

type rateWindow struct {
	start time.Time
	count int
}

func NewInMemoryRateLimiter(limit int, window time.Duration) *InMemoryRateLimiter {
	return &InMemoryRateLimiter{
		windows: make(map[string]*rateWindow),
		limit:   limit,
		window:  window,
		now:     time.Now,
	}
}

// Allow counts one request for key. When the key is over its limit it
// returns false and the time until its window resets.
func (r *InMemoryRateLimiter) Allow(key string) (bool, time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	r.sweep(now)
	w := r.windows[key]
	if w == nil || now.Sub(w.start) >= r.window {
		r.windows[key] = &rateWindow{start: now, count: 1}
		return true, 0
	}
	if w.count >= r.limit {
		return false, w.start.Add(r.window).Sub(now)
	}
	w.count++
	return true, 0
}

// sweep drops expired windows at most once per window length.
func (r *InMemoryRateLimiter) sweep(now time.Time) {
	if now.Sub(r.lastSweep) < r.window {
		return
	}
	r.lastSweep = now
	for k, w := range r.windows {
		if now.Sub(w.start) >= r.window {
			delete(r.windows, k)
		}
	}
}

// RateLimit limits by client IP.
func RateLimit(limiter *InMemoryRateLimiter) gin.HandlerFunc {
	return rateLimit(limiter, func(c *gin.Context) string { return c.ClientIP() })
}

// RateLimitPerUser limits by tenant and user; use after AuthRequired.
func RateLimitPerUser(limiter *InMemoryRateLimiter) gin.HandlerFunc {
	return rateLimit(limiter, func(c *gin.Context) string {
		return fmt.Sprintf("%d:%d", c.GetUint("tenant_id"), c.GetUint("user_id"))
	})
}

func rateLimit(limiter *InMemoryRateLimiter, keyFn func(*gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ok, retryAfter := limiter.Allow(keyFn(c))
		if !ok {
			secs := int(retryAfter.Round(time.Second) / time.Second)
			if secs < 1 {
				secs = 1
			}
			c.Header("Retry-After", strconv.Itoa(secs))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
