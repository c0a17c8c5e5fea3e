package middleware

import (
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tenantly/portal/backend/pkg/apperr"
	"github.com/tenantly/portal/backend/pkg/logger"
)

type clientWindow struct {
	start time.Time
	count int
}

// RateLimiter is a fixed-window limiter keyed per client. Each client's
// window starts at its first request.
type RateLimiter struct {
	mu        sync.Mutex
	clients   map[string]*clientWindow
	rate      int           // requests per window
	window    time.Duration // time window
	lastSweep time.Time
	now       func() time.Time
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(rate int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		clients:   make(map[string]*clientWindow),
		rate:      rate,
		window:    window,
		lastSweep: time.Now(),
		now:       time.Now,
	}
}

// Allow counts one request for key. When the limit is reached it returns
// false and the time left until the key's window resets.
func (l *RateLimiter) Allow(key string) (remaining int, retryAfter time.Duration, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweep(now)

	w := l.clients[key]
	if w == nil || now.Sub(w.start) >= l.window {
		w = &clientWindow{start: now}
		l.clients[key] = w
	}
	if w.count >= l.rate {
		return 0, w.start.Add(l.window).Sub(now), false
	}
	w.count++
	return l.rate - w.count, 0, true
}

// sweep drops expired windows once per window length.
func (l *RateLimiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < l.window {
		return
	}
	for key, w := range l.clients {
		if now.Sub(w.start) >= l.window {
			delete(l.clients, key)
		}
	}
	l.lastSweep = now
}

// Middleware limits authenticated callers by user id and everyone else by
// client IP.
func (l *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := "ip:" + c.ClientIP()
		if id := GetUserID(c); id != 0 {
			key = "user:" + strconv.FormatUint(uint64(id), 10)
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(l.rate))
		remaining, retryAfter, ok := l.Allow(key)
		if !ok {
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
			logger.Warn(c.Request.Context(), "rate limit exceeded",
				"client", key,
				"path", c.Request.URL.Path,
			)
			apperr.Respond(c, apperr.NewRateLimitError("Rate limit exceeded. Please try again later."))
			return
		}
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))

		c.Next()
	}
}

// RateLimit middleware limits requests per client
func RateLimit(rate int, window time.Duration) gin.HandlerFunc {
	return NewRateLimiter(rate, window).Middleware()
}
