// ABOUTME: TTL and size bounded cache for suppressing duplicate inbound messages.
// ABOUTME: Ingress checks client-supplied message ids so retries get the duplicate ack.

package dedupe

import (
	"container/list"
	"log/slog"
	"sync"
	"time"
)

// Production defaults for the ingress cache.
const (
	DefaultTTL     = 5 * time.Minute
	DefaultMaxSize = 10_000
)

// sweepInterval is how often the background sweep evicts expired entries.
// Lookups ignore expired entries regardless, so the cadence only bounds how
// long dead entries occupy memory.
const sweepInterval = time.Minute

// entry is a single seen key with the time it was last marked.
type entry struct {
	key  string
	seen time.Time
}

// Cache answers "has this key been seen inside the TTL window" while holding
// at most maxSize keys. When full, the least recently marked key is evicted.
type Cache struct {
	logger *slog.Logger

	mu      sync.Mutex
	byKey   map[string]*list.Element // element value is *entry
	order   *list.List               // least recently marked at front
	ttl     time.Duration
	maxSize int
	closed  bool
	done    chan struct{}
}

// Key builds the cache key for a client-supplied message id. Ids are only
// required to be unique per conversation, so the conversation scopes them.
func Key(conversationID, clientMessageID string) string {
	return conversationID + "|" + clientMessageID
}

// New creates a dedupe cache and starts its background sweeper. Non-positive
// ttl or maxSize fall back to the package defaults.
func New(ttl time.Duration, maxSize int, logger *slog.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if logger == nil {
		logger = slog.Default()
	}

	c := &Cache{
		logger:  logger.With("component", "dedupe"),
		byKey:   make(map[string]*list.Element),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	go c.sweepLoop()
	return c
}

// CheckAndMark reports whether key was seen inside the TTL window and marks
// it either way, as a single atomic step. A duplicate hit refreshes the
// window, so a client that keeps retrying keeps getting the duplicate answer.
func (c *Cache) CheckAndMark(key string) bool {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.byKey[key]; ok {
		ent := elem.Value.(*entry)
		fresh := now.Sub(ent.seen) < c.ttl
		ent.seen = now
		c.order.MoveToBack(elem)
		return fresh
	}

	if len(c.byKey) >= c.maxSize {
		c.evictOldest()
	}
	c.byKey[key] = c.order.PushBack(&entry{key: key, seen: now})
	return false
}

// Forget removes key from the cache if present. Ingress uses this to unwind
// a mark when the message it covered was never accepted, so the client's
// retry is processed instead of suppressed.
func (c *Cache) Forget(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.byKey[key]; ok {
		c.order.Remove(elem)
		delete(c.byKey, key)
	}
}

// Len returns the number of keys currently held, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.byKey)
}

// evictOldest drops the least recently marked key. Caller holds mu.
func (c *Cache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}
	c.order.Remove(front)
	delete(c.byKey, front.Value.(*entry).key)
}

// sweepLoop periodically removes expired entries until Close.
func (c *Cache) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
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

// sweep removes every entry older than the TTL. Marks always move an entry
// to the back of the list, so the list stays ordered by seen time and the
// scan can stop at the first fresh entry.
func (c *Cache) sweep() {
	now := time.Now()
	removed := 0

	c.mu.Lock()
	for {
		front := c.order.Front()
		if front == nil {
			break
		}
		ent := front.Value.(*entry)
		if now.Sub(ent.seen) < c.ttl {
			break
		}
		c.order.Remove(front)
		delete(c.byKey, ent.key)
		removed++
	}
	c.mu.Unlock()

	if removed > 0 {
		c.logger.Debug("swept expired dedupe entries", "removed", removed)
	}
}

// Close stops the background sweeper. Safe to call multiple times.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
