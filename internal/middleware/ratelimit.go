// Package middleware holds fiber middleware shared by the HTTP routes.
package middleware

import (
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/xekr/packsmith/internal/domain"
)

const (
	// bucketIdleTTL is how long an untouched client bucket is kept
	bucketIdleTTL   = time.Hour
	cleanupInterval = 10 * time.Minute
	retryAfter      = 60
)

// TokenBucket refills rate tokens per second up to capacity
type TokenBucket struct {
	mu       sync.Mutex
	capacity int
	rate     int
	tokens   float64
	last     time.Time
}

// NewTokenBucket creates a full bucket
func NewTokenBucket(capacity, rate int) *TokenBucket {
	return &TokenBucket{
		capacity: capacity,
		rate:     rate,
		tokens:   float64(capacity),
		last:     time.Now(),
	}
}

// Allow takes one token if available
func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill(time.Now())
	if tb.tokens < 1 {
		return false
	}
	tb.tokens--
	return true
}

// Remaining reports the whole tokens left after the last refill
func (tb *TokenBucket) Remaining() int {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return int(tb.tokens)
}

func (tb *TokenBucket) refill(now time.Time) {
	elapsed := now.Sub(tb.last).Seconds()
	tb.tokens = min(float64(tb.capacity), tb.tokens+elapsed*float64(tb.rate))
	tb.last = now
}

func (tb *TokenBucket) idle(now time.Time) time.Duration {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return now.Sub(tb.last)
}

// RateLimiter gives every client IP one bucket shared by all routes
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*TokenBucket
	rps     int
	burst   int
}

// NewRateLimiter creates a limiter refilling rps tokens per second up to burst
func NewRateLimiter(rps, burst int) *RateLimiter {
	if burst < 1 {
		burst = max(rps, 1)
	}
	return &RateLimiter{
		buckets: make(map[string]*TokenBucket),
		rps:     rps,
		burst:   burst,
	}
}

func (rl *RateLimiter) bucket(client string) *TokenBucket {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets[client]
	if !ok {
		b = NewTokenBucket(rl.burst, rl.rps)
		rl.buckets[client] = b
	}
	return b
}

// Middleware rejects requests with 429 once a client's bucket is empty
func (rl *RateLimiter) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		client := c.IP()
		b := rl.bucket(client)
		c.Set("X-RateLimit-Limit", strconv.Itoa(rl.burst))

		if !b.Allow() {
			appErr := domain.NewAppError(domain.ErrRateLimit, "Rate limit exceeded", fiber.StatusTooManyRequests, map[string]any{
				"client":      client,
				"retry_after": retryAfter,
			}).WithContext(c.Context(), "rate_limit")

			c.Set("Retry-After", strconv.Itoa(retryAfter))
			c.Set("X-RateLimit-Remaining", "0")
			return c.Status(appErr.StatusCode).JSON(fiber.Map{
				"status":  "error",
				"code":    appErr.Code,
				"message": appErr.Message,
				"details": appErr.Details,
			})
		}

		c.Set("X-RateLimit-Remaining", strconv.Itoa(b.Remaining()))
		return c.Next()
	}
}

// Prune drops buckets idle for longer than ttl and returns how many remain
func (rl *RateLimiter) Prune(ttl time.Duration) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	for client, b := range rl.buckets {
		if b.idle(now) > ttl {
			delete(rl.buckets, client)
		}
	}
	return len(rl.buckets)
}

// StartCleanupRoutine prunes idle buckets in the background until stop is called
func (rl *RateLimiter) StartCleanupRoutine() (stop func()) {
	ticker := time.NewTicker(cleanupInterval)
	done := make(chan struct{})

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				rl.Prune(bucketIdleTTL)
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}
