package mgmt

import (
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
)

// RateLimitConfig holds rate limiter configuration.
type RateLimitConfig struct {
	RPS   int // sustained requests per second per client IP
	Burst int // burst size
}

// Idle buckets are swept so the per-IP map stays bounded.
const (
	bucketStaleAfter    = 10 * time.Minute
	bucketSweepInterval = 5 * time.Minute
)

// limiter tracks one token bucket per client IP hitting the vault's
// management API.
type limiter struct {
	mu      sync.Mutex
	buckets map[string]*tokenBucket
	rps     int
	burst   int
}

type tokenBucket struct {
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

func newTokenBucket(rps, burst int) *tokenBucket {
	return &tokenBucket{
		tokens:     float64(burst),
		maxTokens:  float64(burst),
		refillRate: float64(rps),
		lastRefill: time.Now(),
	}
}

func (b *tokenBucket) allow() bool {
	now := time.Now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.tokens += elapsed * b.refillRate
	if b.tokens > b.maxTokens {
		b.tokens = b.maxTokens
	}
	b.lastRefill = now

	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// sweep drops buckets for clients that have gone quiet.
func (l *limiter) sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	for ip, b := range l.buckets {
		if now.Sub(b.lastRefill) > bucketStaleAfter {
			delete(l.buckets, ip)
		}
	}
}

// NewRateLimitMiddleware returns a per-client token-bucket rate limiter
// for the management API. Probe paths are exempt.
func NewRateLimitMiddleware(cfg RateLimitConfig) fiber.Handler {
	lim := &limiter{
		buckets: make(map[string]*tokenBucket),
		rps:     cfg.RPS,
		burst:   cfg.Burst,
	}

	go func() {
		ticker := time.NewTicker(bucketSweepInterval)
		defer ticker.Stop()
		for range ticker.C {
			lim.sweep()
		}
	}()

	return func(c *fiber.Ctx) error {
		if probePath(c.Path()) {
			return c.Next()
		}

		clientIP := c.IP()

		lim.mu.Lock()
		bucket, ok := lim.buckets[clientIP]
		if !ok {
			bucket = newTokenBucket(lim.rps, lim.burst)
			lim.buckets[clientIP] = bucket
		}
		allowed := bucket.allow()
		lim.mu.Unlock()

		if !allowed {
			return problemResponse(c, fiber.StatusTooManyRequests,
				"rate_limit_exceeded", "Too Many Requests",
				"Rate limit exceeded. Please try again later.")
		}

		return c.Next()
	}
}
