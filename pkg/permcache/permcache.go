// Package permcache implements the permission cache that lets the ACL
// dispatcher skip the evaluator on repeated checks of the same
// (client, topic) pair within CACHE_TTL.
package permcache

import (
	"sync"
	"time"

	"github.com/transitiverobotics/mqtt-aclmeter/pkg/metrics"
)

// TTL is how long a cached ALLOW remains valid.
const TTL = 300 * time.Second

type key struct {
	username string
	topic    string
}

// Cache maps (username, topic) to the time it was last granted. mochi-mqtt
// invokes ACL checks from a goroutine per connected client, so lookups and
// writes are synchronized with a mutex even though a single client only
// ever touches its own keys — other clients' disconnects run concurrently
// and call Flush.
type Cache struct {
	mu      sync.Mutex
	entries map[key]time.Time
}

// New constructs an empty permission cache.
func New() *Cache {
	return &Cache{entries: make(map[key]time.Time)}
}

// Allowed reports whether (username, topic) was granted within the last
// TTL, per the "expiry + CACHE_TTL > now" rule.
func (c *Cache) Allowed(username, topic string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	grantedAt, ok := c.entries[key{username, topic}]
	allowed := ok && grantedAt.Add(TTL).After(now)
	if allowed {
		metrics.PermCacheResultsTotal.WithLabelValues("hit").Inc()
	} else {
		metrics.PermCacheResultsTotal.WithLabelValues("miss").Inc()
	}
	return allowed
}

// Grant records that (username, topic) was just allowed by the evaluator.
func (c *Cache) Grant(username, topic string, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key{username, topic}] = now
}

// Flush discards every cached entry for username, called on client
// disconnect.
func (c *Cache) Flush(username string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.entries {
		if k.username == username {
			delete(c.entries, k)
		}
	}
}

// Len reports the number of cached entries, for tests and metrics.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
