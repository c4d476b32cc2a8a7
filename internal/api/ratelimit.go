package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

const limiterMaxKeys = 100_000

type windowCell struct {
	window int64
	count  int
}

// Limiter is a fixed-window counter keyed by an arbitrary string (client
// IP or account id). The expiring LRU bounds memory under churn from
// transient keys.
type Limiter struct {
	max    int
	window time.Duration

	mu    sync.Mutex
	cells *lru.LRU[string, *windowCell]
	now   func() time.Time
}

// NewLimiter allows max hits per key per window.
func NewLimiter(max int, window time.Duration) *Limiter {
	return &Limiter{
		max:    max,
		window: window,
		cells:  lru.NewLRU[string, *windowCell](limiterMaxKeys, nil, 2*window),
		now:    time.Now,
	}
}

// Allow counts one hit and reports whether key is still under its
// window budget.
func (l *Limiter) Allow(key string) bool {
	window := l.now().UnixNano() / int64(l.window)

	l.mu.Lock()
	defer l.mu.Unlock()
	cell, ok := l.cells.Get(key)
	if !ok || cell.window != window {
		cell = &windowCell{window: window}
		l.cells.Add(key, cell)
	}
	cell.count++
	return cell.count <= l.max
}

// ipLimiterMiddleware rejects over-limit source IPs before any handler
// work happens.
func (s *Server) ipLimiterMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.ipLimiter != nil && !s.ipLimiter.Allow(c.ClientIP()) {
			c.Header("Retry-After", "60")
			c.String(http.StatusTooManyRequests, "rate limit exceeded")
			c.Abort()
			return
		}
		c.Next()
	}
}
