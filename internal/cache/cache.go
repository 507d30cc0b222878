package cache

import (
	"container/list"
	"fmt"
	"hash/crc32"
	"sync"
	"time"
)

// Stats is a snapshot of cache counters.
type Stats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
	Sets      int64 `json:"total_sets"`
	Size      int   `json:"size"`
	MaxSize   int   `json:"max_size"`
}

type entry struct {
	key       string
	value     interface{}
	expiresAt time.Time
}

// Cache is a thread-safe in-memory cache with per-entry TTL and LRU eviction.
type Cache struct {
	mu         sync.RWMutex
	entries    map[string]*list.Element
	order      *list.List // front = most recently used
	defaultTTL time.Duration
	maxSize    int

	hits      int64
	misses    int64
	evictions int64
	sets      int64

	stop chan struct{}
	once sync.Once
}

// New creates a cache and starts its background sweep goroutine.
func New(defaultTTL time.Duration, maxSize int) *Cache {
	c := &Cache{
		entries:    make(map[string]*list.Element),
		order:      list.New(),
		defaultTTL: defaultTTL,
		maxSize:    maxSize,
		stop:       make(chan struct{}),
	}
	go c.sweepLoop()
	return c
}

// Get returns the value for key, or nil and false when absent or expired.
func (c *Cache) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}
	en := el.Value.(*entry)
	if time.Now().After(en.expiresAt) {
		c.removeLocked(el)
		c.misses++
		return nil, false
	}
	c.order.MoveToFront(el)
	c.hits++
	return en.value, true
}

// Set stores value under key. A non-positive ttl uses the default TTL.
func (c *Cache) Set(key string, value interface{}, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sets++
	if el, ok := c.entries[key]; ok {
		en := el.Value.(*entry)
		en.value = value
		en.expiresAt = time.Now().Add(ttl)
		c.order.MoveToFront(el)
		return
	}
	for len(c.entries) >= c.maxSize {
		c.evictOldestLocked()
	}
	el := c.order.PushFront(&entry{key: key, value: value, expiresAt: time.Now().Add(ttl)})
	c.entries[key] = el
}

// Delete removes key if present.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		c.removeLocked(el)
	}
}

// Stats returns a snapshot of the counters.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Sets:      c.sets,
		Size:      len(c.entries),
		MaxSize:   c.maxSize,
	}
}

// Close stops the background sweep goroutine.
func (c *Cache) Close() {
	c.once.Do(func() { close(c.stop) })
}

func (c *Cache) evictOldestLocked() {
	el := c.order.Back()
	if el == nil {
		return
	}
	c.removeLocked(el)
	c.evictions++
}

func (c *Cache) removeLocked(el *list.Element) {
	en := el.Value.(*entry)
	delete(c.entries, en.key)
	c.order.Remove(el)
}

func (c *Cache) sweepLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.sweepExpired()
		}
	}
}

func (c *Cache) sweepExpired() {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for el := c.order.Back(); el != nil; {
		prev := el.Prev()
		if now.After(el.Value.(*entry).expiresAt) {
			c.removeLocked(el)
		}
		el = prev
	}
}

// Fingerprint builds a cache key from a content projection using CRC32.
func Fingerprint(prefix string, parts ...string) string {
	h := crc32.NewIEEE()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return fmt.Sprintf("%s:%08x", prefix, h.Sum32())
}
