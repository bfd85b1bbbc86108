package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xekr/packsmith/internal/domain"
)

// DefaultMaxSize is used when a non-positive size is requested
const DefaultMaxSize = 256

// Stats is a snapshot of cache counters
type Stats struct {
	Hits     int64   `json:"hits"`
	Misses   int64   `json:"misses"`
	Size     int     `json:"size"`
	MaxSize  int     `json:"max_size"`
	HitRatio float64 `json:"hit_ratio"`
}

// node represents a node in the doubly-linked list
type node[V any] struct {
	key     string
	value   V
	expires time.Time
	prev    *node[V]
	next    *node[V]
}

// LRU is a size bounded cache with least-recently-used eviction and an
// optional time to live. Loaded projects are kept here keyed by repo and ref.
type LRU[V any] struct {
	maxSize int
	ttl     time.Duration
	size    int
	now     func() time.Time

	// Doubly-linked list for LRU ordering
	head *node[V]
	tail *node[V]

	items map[string]*node[V]
	mutex sync.Mutex

	hits   atomic.Int64
	misses atomic.Int64
}

// NewLRU creates a cache holding at most maxSize entries; ttl <= 0 never expires entries
func NewLRU[V any](maxSize int, ttl time.Duration) *LRU[V] {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}

	head := &node[V]{}
	tail := &node[V]{}
	head.next = tail
	tail.prev = head

	return &LRU[V]{
		maxSize: maxSize,
		ttl:     ttl,
		now:     time.Now,
		head:    head,
		tail:    tail,
		items:   make(map[string]*node[V]),
	}
}

// Get retrieves a value and marks it as recently used. Expired entries are dropped.
func (c *LRU[V]) Get(key string) (V, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	var zero V
	n, exists := c.items[key]
	if !exists {
		c.misses.Add(1)
		return zero, false
	}
	if c.expired(n) {
		c.remove(n)
		c.misses.Add(1)
		return zero, false
	}

	c.moveToFront(n)
	c.hits.Add(1)
	return n.value, true
}

// Set adds or replaces a value
func (c *LRU[V]) Set(key string, value V) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	var expires time.Time
	if c.ttl > 0 {
		expires = c.now().Add(c.ttl)
	}

	if n, exists := c.items[key]; exists {
		n.value = value
		n.expires = expires
		c.moveToFront(n)
		return
	}

	n := &node[V]{key: key, value: value, expires: expires}
	c.addToFront(n)
	c.items[key] = n
	c.size++

	if c.size > c.maxSize {
		c.remove(c.tail.prev)
	}
}

// Invalidate removes a specific key
func (c *LRU[V]) Invalidate(key string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if n, exists := c.items[key]; exists {
		c.remove(n)
	}
}

// Clear removes all entries and resets counters
func (c *LRU[V]) Clear() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.head.next = c.tail
	c.tail.prev = c.head
	c.items = make(map[string]*node[V])
	c.size = 0

	c.hits.Store(0)
	c.misses.Store(0)
}

// Stats returns current cache statistics
func (c *LRU[V]) Stats() Stats {
	c.mutex.Lock()
	size := c.size
	c.mutex.Unlock()

	hits := c.hits.Load()
	misses := c.misses.Load()
	total := hits + misses

	var hitRatio float64
	if total > 0 {
		hitRatio = float64(hits) / float64(total)
	}

	return Stats{
		Hits:     hits,
		Misses:   misses,
		Size:     size,
		MaxSize:  c.maxSize,
		HitRatio: hitRatio,
	}
}

// HealthCheck implements domain.ComponentChecker
func (c *LRU[V]) HealthCheck(ctx context.Context) domain.HealthStatus {
	stats := c.Stats()

	status := domain.HealthStatusHealthy
	message := "Cache is operating normally"
	details := map[string]any{
		"size":      stats.Size,
		"max_size":  stats.MaxSize,
		"hit_ratio": stats.HitRatio,
		"hits":      stats.Hits,
		"misses":    stats.Misses,
	}

	if stats.Size >= int(float64(stats.MaxSize)*0.9) {
		status = domain.HealthStatusDegraded
		message = "Cache is near capacity"
		details["warning"] = "Cache utilization above 90%"
	}

	return domain.HealthStatus{
		Status:    status,
		Message:   message,
		Details:   details,
		Timestamp: time.Now(),
	}
}

func (c *LRU[V]) expired(n *node[V]) bool {
	return !n.expires.IsZero() && !c.now().Before(n.expires)
}

func (c *LRU[V]) moveToFront(n *node[V]) {
	c.unlink(n)
	c.addToFront(n)
}

func (c *LRU[V]) addToFront(n *node[V]) {
	n.prev = c.head
	n.next = c.head.next
	c.head.next.prev = n
	c.head.next = n
}

func (c *LRU[V]) unlink(n *node[V]) {
	n.prev.next = n.next
	n.next.prev = n.prev
}

// remove unlinks n and drops it from the index
func (c *LRU[V]) remove(n *node[V]) {
	if n == c.head || n == c.tail {
		return
	}
	c.unlink(n)
	delete(c.items, n.key)
	c.size--
}
