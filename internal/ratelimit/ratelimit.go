// Package ratelimit throttles API callers with a per-key token bucket.
// Keys default to client IP; authenticated callers are bucketed by their
// credential so shared NATs do not starve each other.
package ratelimit

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// Config tunes the limiter.
type Config struct {
	// RequestsPerMinute is the sustained per-key rate.
	RequestsPerMinute int
	// BurstSize is how far above the sustained rate a key may briefly go.
	BurstSize int
	// CleanupInterval is how often idle buckets are evicted.
	CleanupInterval time.Duration
}

// DefaultConfig allows one request per second sustained with bursts of ten.
func DefaultConfig() Config {
	return Config{
		RequestsPerMinute: 60,
		BurstSize:         10,
		CleanupInterval:   time.Minute,
	}
}

// Limiter tracks a token bucket per key.
type Limiter struct {
	cfg     Config
	mu      sync.Mutex
	buckets map[string]*bucket
	stop    chan struct{}
}

type bucket struct {
	tokens   float64
	lastSeen time.Time
}

// New starts a limiter and its background eviction loop.
func New(cfg Config) *Limiter {
	l := &Limiter{
		cfg:     cfg,
		buckets: make(map[string]*bucket),
		stop:    make(chan struct{}),
	}
	go l.evictIdle()
	return l
}

func (l *Limiter) evictIdle() {
	ticker := time.NewTicker(l.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cutoff := time.Now().Add(-2 * time.Minute)
			l.mu.Lock()
			for key, b := range l.buckets {
				if b.lastSeen.Before(cutoff) {
					delete(l.buckets, key)
				}
			}
			l.mu.Unlock()
		case <-l.stop:
			return
		}
	}
}

// Stop shuts down the eviction loop.
func (l *Limiter) Stop() {
	close(l.stop)
}

// Allow reports whether a request under key fits within its budget,
// consuming a token when it does.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	b, ok := l.buckets[key]
	if !ok {
		l.buckets[key] = &bucket{
			tokens:   float64(l.cfg.BurstSize - 1),
			lastSeen: now,
		}
		return true
	}

	refill := now.Sub(b.lastSeen).Seconds() * float64(l.cfg.RequestsPerMinute) / 60.0
	b.tokens = min(b.tokens+refill, float64(l.cfg.BurstSize))
	b.lastSeen = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// Middleware rejects over-budget requests with 429.
func (l *Limiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP()
		if cred := c.GetHeader("Authorization"); cred != "" {
			key = "auth:" + cred[:min(20, len(cred))]
		}

		if !l.Allow(key) {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate_limit_exceeded",
				"message":     "Too many requests. Please slow down.",
				"retry_after": 1,
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
