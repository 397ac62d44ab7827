package middleware

import (
	"sync"
	"time"

	"github.com/labstack/echo/v4"
)

type bucket struct {
	tokens float64
	last   time.Time
}

// Limiter is a per-key token bucket.
type Limiter struct {
	mu       sync.Mutex
	buckets  map[string]*bucket
	rate     float64
	capacity float64
	now      func() time.Time
}

// NewLimiter refills rate tokens per second up to burst. A nil clock means time.Now.
func NewLimiter(rate float64, burst int, now func() time.Time) *Limiter {
	if burst < 1 {
		burst = 1
	}
	if now == nil {
		now = time.Now
	}
	return &Limiter{buckets: make(map[string]*bucket), rate: rate, capacity: float64(burst), now: now}
}

// Allow consumes one token for key when available.
func (l *Limiter) Allow(key string) bool {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: l.capacity, last: now}
		l.buckets[key] = b
	}
	if elapsed := now.Sub(b.last).Seconds(); elapsed > 0 {
		b.tokens += elapsed * l.rate
		if b.tokens > l.capacity {
			b.tokens = l.capacity
		}
		b.last = now
	}
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// RateLimit rejects requests over the client IP's budget with deny.
func RateLimit(l *Limiter, deny echo.HandlerFunc) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !l.Allow(c.RealIP()) {
				return deny(c)
			}
			return next(c)
		}
	}
}
