// Package cache provides a bounded, concurrency-safe LRU cache with
// insertion-time TTL expiry.
package cache

import (
	"math"
	"sync"
	"time"

	list "github.com/bahlo/generic-list-go"
)

type entry[K comparable, V any] struct {
	key        K
	value      V
	insertedAt time.Time
}

// Cache is a fixed-capacity map. Inserting past capacity evicts exactly the
// least recently accessed entry. Entries older than ttl are treated as absent
// on lookup and removed by PurgeExpired.
type Cache[K comparable, V any] struct {
	mu      sync.Mutex
	maxSize int
	ttl     time.Duration
	now     func() time.Time
	order   *list.List[*entry[K, V]]
	items   map[K]*list.Element[*entry[K, V]]
	hits    uint64
	misses  uint64
}

type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// New creates a cache. maxSize below 1 is treated as 1; a non-positive ttl
// disables expiry.
func New[K comparable, V any](maxSize int, ttl time.Duration, opts ...Option) *Cache[K, V] {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if maxSize < 1 {
		maxSize = 1
	}
	return &Cache[K, V]{
		maxSize: maxSize,
		ttl:     ttl,
		now:     o.now,
		order:   list.New[*entry[K, V]](),
		items:   make(map[K]*list.Element[*entry[K, V]], maxSize),
	}
}

func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	el, ok := c.items[key]
	if !ok {
		c.misses++
		return zero, false
	}
	if c.expired(el.Value, c.now()) {
		c.removeElement(el)
		c.misses++
		return zero, false
	}
	c.order.MoveToFront(el)
	c.hits++
	return el.Value.value, true
}

// Set inserts or replaces a value. Replacing resets the entry's TTL.
func (c *Cache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if el, ok := c.items[key]; ok {
		el.Value.value = value
		el.Value.insertedAt = now
		c.order.MoveToFront(el)
		return
	}

	if c.order.Len() >= c.maxSize {
		if oldest := c.order.Back(); oldest != nil {
			c.removeElement(oldest)
		}
	}
	c.items[key] = c.order.PushFront(&entry[K, V]{key: key, value: value, insertedAt: now})
}

func (c *Cache[K, V]) Delete(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if !ok {
		return false
	}
	c.removeElement(el)
	return true
}

func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// PurgeExpired removes every expired entry and returns how many were removed.
func (c *Cache[K, V]) PurgeExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ttl <= 0 {
		return 0
	}
	now := c.now()
	removed := 0
	for el := c.order.Back(); el != nil; {
		prev := el.Prev()
		if c.expired(el.Value, now) {
			c.removeElement(el)
			removed++
		}
		el = prev
	}
	return removed
}

// Clear drops every entry and resets the counters.
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	c.items = make(map[K]*list.Element[*entry[K, V]], c.maxSize)
	c.hits, c.misses = 0, 0
}

type Stats struct {
	Size           int     `json:"size"`
	MaxSize        int     `json:"max_size"`
	TTLSeconds     float64 `json:"ttl_seconds"`
	Hits           uint64  `json:"hits"`
	Misses         uint64  `json:"misses"`
	HitRatePercent float64 `json:"hit_rate_percent"`
}

func (c *Cache[K, V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Stats{
		Size:       c.order.Len(),
		MaxSize:    c.maxSize,
		TTLSeconds: c.ttl.Seconds(),
		Hits:       c.hits,
		Misses:     c.misses,
	}
	if total := c.hits + c.misses; total > 0 {
		s.HitRatePercent = math.Round(float64(c.hits)/float64(total)*10000) / 100
	}
	return s
}

func (c *Cache[K, V]) expired(e *entry[K, V], now time.Time) bool {
	return c.ttl > 0 && now.Sub(e.insertedAt) >= c.ttl
}

func (c *Cache[K, V]) removeElement(el *list.Element[*entry[K, V]]) {
	c.order.Remove(el)
	delete(c.items, el.Value.key)
}
