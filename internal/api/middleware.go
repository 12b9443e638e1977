// Package api implements the admin REST API of the login server: client
// and session inspection, kicks, MOTD changes and Prometheus metrics.
package api

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// bucketIdle is how long an unused per-IP bucket is kept.
const bucketIdle = 5 * time.Minute

// RateLimiter is a per-IP token bucket.
type RateLimiter struct {
	mu        sync.Mutex
	clients   map[string]*clientBucket
	rate      float64
	burst     float64
	lastSweep time.Time
}

type clientBucket struct {
	tokens    float64
	lastCheck time.Time
}

// NewRateLimiter allows rps requests per second per client with a burst
// of twice that. A non-positive rps disables limiting.
func NewRateLimiter(rps int) *RateLimiter {
	return &RateLimiter{
		clients:   make(map[string]*clientBucket),
		rate:      float64(rps),
		burst:     float64(rps * 2),
		lastSweep: time.Now(),
	}
}

// Allow takes one token from ip's bucket.
func (rl *RateLimiter) Allow(ip string, now time.Time) bool {
	if rl.rate <= 0 {
		return true
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if now.Sub(rl.lastSweep) > bucketIdle {
		for key, b := range rl.clients {
			if now.Sub(b.lastCheck) > bucketIdle {
				delete(rl.clients, key)
			}
		}
		rl.lastSweep = now
	}

	bucket, ok := rl.clients[ip]
	if !ok {
		bucket = &clientBucket{tokens: rl.burst, lastCheck: now}
		rl.clients[ip] = bucket
	}

	bucket.tokens = min(rl.burst, bucket.tokens+now.Sub(bucket.lastCheck).Seconds()*rl.rate)
	bucket.lastCheck = now

	if bucket.tokens < 1 {
		return false
	}
	bucket.tokens--
	return true
}

// Middleware returns a Gin middleware that rate limits by client IP.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.Allow(c.ClientIP(), time.Now()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}

// SecurityHeaders adds security-related HTTP headers.
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Referrer-Policy", "no-referrer")
		c.Header("Server", "loginserver")

		if strings.HasPrefix(c.Request.URL.Path, "/api/") {
			c.Header("X-Frame-Options", "DENY")
			c.Header("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		}

		c.Next()
	}
}

// RequestLogger logs every request, server errors at warn level.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		status := c.Writer.Status()
		event := log.Debug()
		if status >= http.StatusInternalServerError {
			event = log.Warn()
		}
		event.
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("api request")
	}
}
