package security

import (
	"sync"
	"time"
)

// NonceCache is an in-memory, TTL-bounded record of recently accepted
// nonces, used to reject replayed signed requests. Entries older than ttl
// may be garbage collected by Sweep; a single-instance cache gives the
// replay protection spec'd as the default, but a multi-replica deployment
// would need this backed by a shared store (e.g. Redis, already wired in
// for the broker) to share state across instances.
type NonceCache struct {
	mu   sync.Mutex
	seen map[string]time.Time
	ttl  time.Duration
	now  func() time.Time
}

// NewNonceCache builds a cache that remembers a nonce for ttl after it is
// first claimed.
func NewNonceCache(ttl time.Duration) *NonceCache {
	return &NonceCache{
		seen: make(map[string]time.Time),
		ttl:  ttl,
		now:  time.Now,
	}
}

// ClaimOnce records nonce as used and returns true, unless it was already
// claimed within the last ttl, in which case it returns false.
func (c *NonceCache) ClaimOnce(nonce string) bool {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if expiresAt, ok := c.seen[nonce]; ok && now.Before(expiresAt) {
		return false
	}
	c.seen[nonce] = now.Add(c.ttl)
	return true
}

// Sweep removes expired entries. Intended to run periodically from a
// background goroutine owned by the caller.
func (c *NonceCache) Sweep() {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	for nonce, expiresAt := range c.seen {
		if now.After(expiresAt) {
			delete(c.seen, nonce)
		}
	}
}

// Len reports the current number of tracked nonces, for tests and metrics.
func (c *NonceCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}
