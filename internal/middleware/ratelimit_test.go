package middleware

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenBucket_Allow(t *testing.T) {
	tb := NewTokenBucket(2, 0)
	assert.True(t, tb.Allow())
	assert.True(t, tb.Allow())
	assert.False(t, tb.Allow())
	assert.Equal(t, 0, tb.Remaining())
}

func newLimitedApp(rl *RateLimiter) *fiber.App {
	app := fiber.New()
	app.Use(rl.Middleware())
	ok := func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) }
	app.Post("/v1/builds", ok)
	app.Get("/v1/versions", ok)
	app.Get("/health", ok)
	return app
}

func TestRateLimiter_SharedAcrossRoutes(t *testing.T) {
	app := newLimitedApp(NewRateLimiter(0, 3))

	requests := []struct {
		method string
		path   string
		want   int
	}{
		{"POST", "/v1/builds", fiber.StatusOK},
		{"GET", "/v1/versions", fiber.StatusOK},
		{"GET", "/health", fiber.StatusOK},
		{"GET", "/v1/versions", fiber.StatusTooManyRequests},
		{"POST", "/v1/builds", fiber.StatusTooManyRequests},
	}

	for i, r := range requests {
		resp, err := app.Test(httptest.NewRequest(r.method, r.path, nil))
		require.NoError(t, err)
		assert.Equal(t, r.want, resp.StatusCode, "request %d to %s", i, r.path)
		assert.Equal(t, "3", resp.Header.Get("X-RateLimit-Limit"))
		if r.want == fiber.StatusTooManyRequests {
			assert.Equal(t, "60", resp.Header.Get("Retry-After"))
			assert.Equal(t, "0", resp.Header.Get("X-RateLimit-Remaining"))
		}
	}
}

func TestRateLimiter_BurstDefaultsToRate(t *testing.T) {
	rl := NewRateLimiter(100, 0)
	assert.Equal(t, 100, rl.burst)

	rl = NewRateLimiter(100, 200)
	assert.Equal(t, 200, rl.burst)
}

func TestRateLimiter_Prune(t *testing.T) {
	rl := NewRateLimiter(10, 10)
	rl.bucket("10.0.0.1")
	stale := rl.bucket("10.0.0.2")
	stale.last = time.Now().Add(-2 * time.Hour)

	assert.Equal(t, 1, rl.Prune(time.Hour))
	assert.Contains(t, rl.buckets, "10.0.0.1")
}

func TestRateLimiter_StopIsIdempotent(t *testing.T) {
	stop := NewRateLimiter(1, 1).StartCleanupRoutine()
	stop()
	assert.NotPanics(t, stop)
}
