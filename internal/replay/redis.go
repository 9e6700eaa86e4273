package replay

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Key prefixes for replay-cache entries in Redis.
const (
	tokenKeyPrefix = "replay:token:"
	nonceKeyPrefix = "replay:nonce:"
)

// RedisCache implements Cache on Redis. Consumption relies on SET NX, which
// is atomic server-side, so two concurrent consumers of the same token can
// never both succeed even across process boundaries.
//
// Entries carry a TTL of (time to expiry + safety margin), so Redis handles
// eviction itself; EvictExpired is a no-op kept for interface parity.
type RedisCache struct {
	client   *redis.Client
	margin   time.Duration
	nonceTTL time.Duration
	now      func() time.Time
}

// NewRedisCache creates a Redis-backed replay cache.
func NewRedisCache(client *redis.Client, margin time.Duration) *RedisCache {
	if margin <= 0 {
		margin = DefaultSafetyMargin
	}
	return &RedisCache{
		client:   client,
		margin:   margin,
		nonceTTL: DefaultNonceTTL,
		now:      time.Now,
	}
}

// Consume atomically marks a token consumed via SET NX.
func (c *RedisCache) Consume(ctx context.Context, tokenID string, expiresAt time.Time) (bool, error) {
	now := c.now()
	if !expiresAt.After(now) {
		return false, nil
	}

	ttl := expiresAt.Add(c.margin).Sub(now)
	ok, err := c.client.SetNX(ctx, tokenKeyPrefix+tokenID, "1", ttl).Result()
	if err != nil {
		return false, err
	}
	return ok, nil
}

// SeenNonce records a nonce and reports prior sightings.
func (c *RedisCache) SeenNonce(ctx context.Context, nonce string) (bool, error) {
	ok, err := c.client.SetNX(ctx, nonceKeyPrefix+nonce, "1", c.nonceTTL).Result()
	if err != nil {
		return false, err
	}
	// SetNX succeeded means the nonce was fresh.
	return !ok, nil
}

// EvictExpired is a no-op: Redis evicts entries by TTL.
func (c *RedisCache) EvictExpired(ctx context.Context) (int64, error) {
	return 0, nil
}
