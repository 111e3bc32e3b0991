// ABOUTME: TTL-bounded seen-key cache used to suppress duplicate telemetry events.
// ABOUTME: Insertion order is kept in a list so capacity eviction is O(1).

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

type entry struct {
	at   time.Time
	elem *list.Element
}

// Cache remembers keys for a TTL, up to a maximum size. It is safe for
// concurrent use; the only lock is held for map and list bookkeeping, never
// across I/O.
type Cache struct {
	mu      sync.Mutex
	seen    map[string]*entry
	order   *list.List // oldest key at the front
	ttl     time.Duration
	maxSize int
	done    chan struct{}
	closed  bool
}

// New creates a cache and starts a background sweep of expired entries.
func New(ttl time.Duration, maxSize int) *Cache {
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

// CheckAndMark atomically reports whether key was seen within the TTL and
// marks it if not. True means duplicate: the caller should skip the event.
func (c *Cache) CheckAndMark(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.seen[key]; ok && time.Since(e.at) < c.ttl {
		return true
	}
	c.markLocked(key)
	return false
}

// Len returns the number of tracked keys, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

func (c *Cache) markLocked(key string) {
	now := time.Now()
	if e, ok := c.seen[key]; ok {
		e.at = now
		c.order.MoveToBack(e.elem)
		return
	}

	if len(c.seen) >= c.maxSize {
		if front := c.order.Front(); front != nil {
			oldest, _ := front.Value.(string)
			c.order.Remove(front)
			delete(c.seen, oldest)
		}
	}

	c.seen[key] = &entry{at: now, elem: c.order.PushBack(key)}
}

// sweep periodically removes expired entries so the map does not grow with
// one-shot keys.
func (c *Cache) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.expire()
		case <-c.done:
			return
		}
	}
}

func (c *Cache) expire() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for key, e := range c.seen {
		if now.Sub(e.at) > c.ttl {
			c.order.Remove(e.elem)
			delete(c.seen, key)
		}
	}
}

// Close stops the sweep goroutine. Safe to call more than once.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
