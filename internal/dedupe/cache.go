// ABOUTME: Thread-safe TTL cache for suppressing duplicate bridge envelopes.
// ABOUTME: Size-limited with O(1) oldest-entry eviction via a linked list.

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// entry stores the mark time and list position for a cached key.
type entry struct {
	seenAt  time.Time
	element *list.Element
}

// Cache is a thread-safe, TTL-based, size-limited set of seen envelope keys.
// Insertion order is kept in a doubly-linked list so capacity eviction is O(1).
type Cache struct {
	mu      sync.Mutex
	seen    map[string]*entry
	order   *list.List // oldest at front
	ttl     time.Duration
	maxSize int
	done    chan struct{}
	closed  bool
}

// New creates a dedupe cache with the given TTL and maximum size. A
// background goroutine sweeps expired entries once a minute.
func New(ttl time.Duration, maxSize int) *Cache {
	c := &Cache{
		seen:    make(map[string]*entry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	go c.sweepLoop()
	return c
}

// CheckAndMark atomically checks whether the key was seen within the TTL and
// marks it if not. Returns true for duplicates.
func (c *Cache) CheckAndMark(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.seen[key]; ok && time.Since(e.seenAt) < c.ttl {
		return true
	}
	c.markLocked(key)
	return false
}

// Check reports whether the key was seen within the TTL.
func (c *Cache) Check(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.seen[key]
	return ok && time.Since(e.seenAt) < c.ttl
}

// Mark records the key as seen, evicting the oldest entry at capacity.
func (c *Cache) Mark(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markLocked(key)
}

func (c *Cache) markLocked(key string) {
	now := time.Now()

	if e, ok := c.seen[key]; ok {
		e.seenAt = now
		c.order.MoveToBack(e.element)
		return
	}

	if len(c.seen) >= c.maxSize {
		if front := c.order.Front(); front != nil {
			oldest, _ := front.Value.(string)
			c.order.Remove(front)
			delete(c.seen, oldest)
		}
	}

	c.seen[key] = &entry{seenAt: now, element: c.order.PushBack(key)}
}

func (c *Cache) sweepLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.done:
			return
		}
	}
}

func (c *Cache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for key, e := range c.seen {
		if now.Sub(e.seenAt) > c.ttl {
			c.order.Remove(e.element)
			delete(c.seen, key)
		}
	}
}

// Close stops the background sweep. Safe to call multiple times.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
