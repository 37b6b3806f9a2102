package ratelimit

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	apperrors "enrollsync/pkg/errors"
	"enrollsync/pkg/metrics"
	"enrollsync/pkg/middleware"
)

type RateLimitConfig struct {
	RPS             float64
	Burst           int
	CleanupInterval time.Duration
	MaxAge          time.Duration
}

func DefaultConfig() RateLimitConfig {
	return RateLimitConfig{
		RPS:             10.0,
		Burst:           20,
		CleanupInterval: 5 * time.Minute,
		MaxAge:          10 * time.Minute,
	}
}

func (c RateLimitConfig) withDefaults() RateLimitConfig {
	d := DefaultConfig()
	if c.RPS <= 0 {
		c.RPS = d.RPS
	}
	if c.Burst <= 0 {
		c.Burst = d.Burst
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = d.CleanupInterval
	}
	if c.MaxAge <= 0 {
		c.MaxAge = d.MaxAge
	}
	return c
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// clients holds one token bucket per caller.
type clients struct {
	cfg RateLimitConfig

	mu      sync.Mutex
	buckets map[string]*clientLimiter
}

func (cs *clients) get(key string, now time.Time) *rate.Limiter {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	cl, ok := cs.buckets[key]
	if !ok {
		cl = &clientLimiter{limiter: rate.NewLimiter(rate.Limit(cs.cfg.RPS), cs.cfg.Burst)}
		cs.buckets[key] = cl
	}
	cl.lastSeen = now
	return cl.limiter
}

func (cs *clients) sweep(now time.Time) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	for key, cl := range cs.buckets {
		if now.Sub(cl.lastSeen) > cs.cfg.MaxAge {
			delete(cs.buckets, key)
		}
	}
}

// callerKey prefers the operator id over the client address so that
// operators behind one proxy do not share a bucket.
func callerKey(c *gin.Context) string {
	if user := c.GetHeader(middleware.UserIDHeader); user != "" {
		return "user:" + user
	}
	ip := c.ClientIP()
	if ip == "" {
		ip = c.RemoteIP()
	}
	return "ip:" + ip
}

// RateLimitMiddleware limits requests per caller. Idle buckets are swept
// until ctx is done.
func RateLimitMiddleware(ctx context.Context, config RateLimitConfig) gin.HandlerFunc {
	cs := &clients{cfg: config.withDefaults(), buckets: make(map[string]*clientLimiter)}
	limit := strconv.Itoa(int(cs.cfg.RPS))

	go func() {
		ticker := time.NewTicker(cs.cfg.CleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				cs.sweep(now)
			}
		}
	}()

	return func(c *gin.Context) {
		limiter := cs.get(callerKey(c), time.Now())
		c.Header("X-RateLimit-Limit", limit)

		if !limiter.Allow() {
			metrics.RateLimitRequestsTotal.WithLabelValues("limited").Inc()
			c.Header("X-RateLimit-Remaining", "0")
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, apperrors.ToErrorResponse(apperrors.ErrRateLimited))
			return
		}

		metrics.RateLimitRequestsTotal.WithLabelValues("allowed").Inc()
		c.Header("X-RateLimit-Remaining", strconv.Itoa(max(int(limiter.Tokens()), 0)))
		c.Next()
	}
}
