// ABOUTME: TTL cache of recently seen message ids.
// ABOUTME: Drops broker redeliveries before they reach the conversation store.

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// DefaultTTL covers the window in which a reconnecting consumer can see the
// same delivery twice.
const DefaultTTL = 5 * time.Minute

// DefaultMaxSize bounds memory for long-lived sessions.
const DefaultMaxSize = 4096

type entry struct {
	at   time.Time
	elem *list.Element
}

// Cache tracks recently observed message ids so redelivered frames are
// processed once. Size-limited with oldest-first eviction; safe for
// concurrent use.
type Cache struct {
	mu      sync.Mutex
	seen    map[string]*entry
	order   *list.List
	ttl     time.Duration
	maxSize int
	done    chan struct{}
	closed  bool
}

// New creates a cache. Non-positive ttl or maxSize fall back to defaults.
// A background goroutine sweeps expired entries until Close.
func New(ttl time.Duration, maxSize int) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	c := &Cache{
		seen:    make(map[string]*entry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	go c.sweep()
	return c
}

// Observe atomically records id and reports whether it was already seen
// within the TTL. The single-call form avoids a check/mark race between
// concurrent deliveries of the same id.
func (c *Cache) Observe(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.seen[id]; ok && time.Since(e.at) < c.ttl {
		e.at = time.Now()
		c.order.MoveToBack(e.elem)
		return true
	}

	if len(c.seen) >= c.maxSize {
		c.evictOldest()
	}
	elem := c.order.PushBack(id)
	c.seen[id] = &entry{at: time.Now(), elem: elem}
	return false
}

// Len returns the number of tracked ids.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

// evictOldest must be called with mu held.
func (c *Cache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}
	id, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.seen, id)
}

func (c *Cache) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.removeExpired()
		case <-c.done:
			return
		}
	}
}

func (c *Cache) removeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for id, e := range c.seen {
		if now.Sub(e.at) > c.ttl {
			c.order.Remove(e.elem)
			delete(c.seen, id)
		}
	}
}

// Close stops the sweep goroutine. Safe to call multiple times.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
