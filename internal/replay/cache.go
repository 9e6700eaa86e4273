// Package replay tracks consumed approval tokens and seen request nonces to
// block reuse. Consumption is exactly-once under concurrency.
package replay

import (
	"context"
	"sync"
	"time"
)

// DefaultSafetyMargin is how long a consumed or expired entry is retained
// past its token's expiry. An expired-but-not-yet-evicted entry still blocks
// replay within this margin. Defaults to 2x the 60s approval window.
const DefaultSafetyMargin = 2 * 60 * time.Second

// DefaultNonceTTL bounds how long request nonces are remembered.
const DefaultNonceTTL = 10 * time.Minute

// Cache tracks token consumption and request nonces.
type Cache interface {
	// Consume atomically checks for prior consumption and marks the token
	// consumed. Returns false if the token was already consumed or its
	// expiry has passed (inclusive boundary: expiry == now is expired).
	Consume(ctx context.Context, tokenID string, expiresAt time.Time) (bool, error)

	// SeenNonce atomically records a request nonce and reports whether it
	// had been seen before. A replayed nonce must never be re-evaluated.
	SeenNonce(ctx context.Context, nonce string) (bool, error)

	// EvictExpired removes entries whose token expiry plus the safety
	// margin has elapsed. Returns the number of entries removed.
	EvictExpired(ctx context.Context) (int64, error)
}

// entry records a consumed token's expiry for margin-based eviction.
type entry struct {
	expiresAt time.Time
}

// InMemoryCache implements Cache with mutex-guarded maps.
type InMemoryCache struct {
	mu       sync.Mutex
	consumed map[string]entry
	nonces   map[string]time.Time
	margin   time.Duration
	nonceTTL time.Duration
	now      func() time.Time
}

// NewInMemoryCache creates an in-memory replay cache. A zero or negative
// margin falls back to DefaultSafetyMargin.
func NewInMemoryCache(margin time.Duration) *InMemoryCache {
	if margin <= 0 {
		margin = DefaultSafetyMargin
	}
	return &InMemoryCache{
		consumed: make(map[string]entry),
		nonces:   make(map[string]time.Time),
		margin:   margin,
		nonceTTL: DefaultNonceTTL,
		now:      time.Now,
	}
}

// WithClock replaces the cache's clock. For tests.
func (c *InMemoryCache) WithClock(now func() time.Time) *InMemoryCache {
	c.now = now
	return c
}

// Consume atomically marks a token consumed.
func (c *InMemoryCache) Consume(ctx context.Context, tokenID string, expiresAt time.Time) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if !expiresAt.After(now) {
		return false, nil
	}
	if _, exists := c.consumed[tokenID]; exists {
		return false, nil
	}
	c.consumed[tokenID] = entry{expiresAt: expiresAt}
	return true, nil
}

// SeenNonce records a nonce and reports prior sightings.
func (c *InMemoryCache) SeenNonce(ctx context.Context, nonce string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if seenAt, exists := c.nonces[nonce]; exists && now.Sub(seenAt) <= c.nonceTTL {
		return true, nil
	}
	c.nonces[nonce] = now
	return false, nil
}

// EvictExpired removes entries past expiry + margin, and stale nonces.
func (c *InMemoryCache) EvictExpired(ctx context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	var evicted int64
	for id, e := range c.consumed {
		if now.After(e.expiresAt.Add(c.margin)) {
			delete(c.consumed, id)
			evicted++
		}
	}
	for nonce, seenAt := range c.nonces {
		if now.Sub(seenAt) > c.nonceTTL {
			delete(c.nonces, nonce)
		}
	}
	return evicted, nil
}

// Size returns the number of tracked consumed tokens. For tests and metrics.
func (c *InMemoryCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.consumed)
}
