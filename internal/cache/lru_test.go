package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xekr/packsmith/internal/domain"
)

func TestNewLRU(t *testing.T) {
	c := NewLRU[string](100, 0)
	assert.Equal(t, 100, c.maxSize)
	assert.Equal(t, 0, c.size)
	assert.Equal(t, c.tail, c.head.next)
	assert.Equal(t, c.head, c.tail.prev)
}

func TestNewLRU_DefaultSize(t *testing.T) {
	c := NewLRU[string](0, 0)
	assert.Equal(t, DefaultMaxSize, c.maxSize)
}

func TestLRU_SetAndGet(t *testing.T) {
	c := NewLRU[string](2, 0)

	value, found := c.Get("key1")
	assert.False(t, found)
	assert.Empty(t, value)

	c.Set("key1", "one")
	value, found = c.Get("key1")
	assert.True(t, found)
	assert.Equal(t, "one", value)
}

func TestLRU_LRUOrdering(t *testing.T) {
	c := NewLRU[string](2, 0)

	c.Set("key1", "one")
	c.Set("key2", "two")

	// key1 becomes most recently used
	c.Get("key1")

	c.Set("key3", "three")

	_, found1 := c.Get("key1")
	_, found2 := c.Get("key2")
	_, found3 := c.Get("key3")

	assert.True(t, found1)
	assert.False(t, found2)
	assert.True(t, found3)
}

func TestLRU_Update(t *testing.T) {
	c := NewLRU[string](2, 0)

	c.Set("key1", "one")
	c.Set("key1", "uno")

	value, found := c.Get("key1")
	require.True(t, found)
	assert.Equal(t, "uno", value)
	assert.Equal(t, 1, c.Stats().Size)
}

func TestLRU_TTL(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewLRU[int](4, time.Minute)
	c.now = func() time.Time { return now }

	c.Set("key1", 1)
	now = now.Add(59 * time.Second)
	_, found := c.Get("key1")
	assert.True(t, found)

	now = now.Add(time.Second)
	_, found = c.Get("key1")
	assert.False(t, found)
	assert.Equal(t, 0, c.Stats().Size)
}

func TestLRU_InvalidateAndClear(t *testing.T) {
	c := NewLRU[string](4, 0)

	c.Set("key1", "one")
	c.Set("key2", "two")
	c.Get("key1")

	c.Invalidate("key1")
	_, found := c.Get("key1")
	assert.False(t, found)
	assert.Equal(t, 1, c.Stats().Size)

	c.Clear()
	stats := c.Stats()
	assert.Equal(t, 0, stats.Size)
	assert.Equal(t, int64(0), stats.Hits)
	assert.Equal(t, int64(0), stats.Misses)
}

func TestLRU_Stats(t *testing.T) {
	c := NewLRU[string](2, 0)

	c.Get("key1")
	c.Set("key1", "one")
	c.Get("key1")
	c.Get("key1")

	stats := c.Stats()
	assert.Equal(t, int64(2), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.InDelta(t, 2.0/3.0, stats.HitRatio, 1e-9)
}

func TestLRU_HealthCheck(t *testing.T) {
	c := NewLRU[string](10, 0)
	assert.Equal(t, domain.HealthStatusHealthy, c.HealthCheck(context.Background()).Status)

	for i := 0; i < 9; i++ {
		c.Set(fmt.Sprintf("key%d", i), "v")
	}
	status := c.HealthCheck(context.Background())
	assert.Equal(t, domain.HealthStatusDegraded, status.Status)
	assert.Equal(t, 9, status.Details["size"])
}

// Feature: packsmith, Property 7: LRU cache size limits
func TestProperty_LRUSizeLimits(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("cache never exceeds maximum size", prop.ForAll(
		func(maxSize int, numOperations int) bool {
			c := NewLRU[int](maxSize, 0)

			for i := 0; i < numOperations; i++ {
				c.Set(fmt.Sprintf("key%d", i), i)
				if c.Stats().Size > maxSize {
					return false
				}
			}

			// the most recent entry always survives
			if numOperations > 0 {
				v, ok := c.Get(fmt.Sprintf("key%d", numOperations-1))
				return ok && v == numOperations-1
			}
			return true
		},
		gen.IntRange(1, 100),
		gen.IntRange(0, 200),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}
