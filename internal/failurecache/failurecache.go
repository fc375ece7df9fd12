// Package failurecache implements the process-wide, in-memory deprioritization
// cache used by route dialing: addresses that recently failed to connect
// accrue a strike count, which the route compiler turns into an additive
// delay on the next dial attempt.
//
// A small piece of shared mutable state guarded by a single mutex, exposed
// only through Bump and Penalty so it can be swapped for a test double.
package failurecache

import (
	"sync"
	"time"
)

// ttl is how long an address's strike count survives without being bumped
// again.
const ttl = 600 * time.Second

type entry struct {
	strikes  int
	lastBump time.Time
}

// Cache is a concurrency-safe address -> strike-count map with per-entry
// expiry. The zero value is not usable; use New.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry
	now     func() time.Time // overridable for tests
}

// New returns an empty Cache.
func New() *Cache {
	return &Cache{
		entries: make(map[string]*entry),
		now:     time.Now,
	}
}

// Bump increments the strike count for addr (a "host:port" dial target),
// initializing it to 1 if absent or expired. It is the only mutator of the
// cache.
func (c *Cache) Bump(addr string) {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[addr]
	if !ok || now.Sub(e.lastBump) > ttl {
		c.entries[addr] = &entry{strikes: 1, lastBump: now}
		return
	}
	e.strikes++
	e.lastBump = now
}

// Penalty returns the current strike count for addr interpreted as a
// whole-second additive dial delay, or 0 if addr has no live entry.
func (c *Cache) Penalty(addr string) time.Duration {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[addr]
	if !ok {
		return 0
	}
	if now.Sub(e.lastBump) > ttl {
		delete(c.entries, addr)
		return 0
	}
	return time.Duration(e.strikes) * time.Second
}
