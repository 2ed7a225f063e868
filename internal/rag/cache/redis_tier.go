package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// RemoteTier is a second-level cache consulted only when the in-memory
// LRU misses. It never participates in the LRU eviction or size-bound
// invariants documented for the in-memory tier (spec.md §4.2, §8
// invariant 3) — those remain authoritative for the in-memory Cache.
type RemoteTier interface {
	Get(ctx context.Context, key string) ([]float64, bool)
	Set(ctx context.Context, key string, vector []float64, ttl time.Duration)
}

// RedisTier is a RemoteTier backed by Redis, grounded on manifold's use of
// redis/go-redis/v9 as a caching layer.
type RedisTier struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisTier connects a RemoteTier to the given Redis address.
func NewRedisTier(addr string, ttl time.Duration) *RedisTier {
	return &RedisTier{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		ttl:    ttl,
	}
}

func (r *RedisTier) Get(ctx context.Context, key string) ([]float64, bool) {
	data, err := r.client.Get(ctx, "emb:"+key).Bytes()
	if err != nil {
		return nil, false
	}
	var vec []float64
	if err := json.Unmarshal(data, &vec); err != nil {
		return nil, false
	}
	return vec, true
}

func (r *RedisTier) Set(ctx context.Context, key string, vector []float64, ttl time.Duration) {
	data, err := json.Marshal(vector)
	if err != nil {
		return
	}
	if ttl == 0 {
		ttl = r.ttl
	}
	r.client.Set(ctx, "emb:"+key, data, ttl)
}

// TieredCache consults the in-memory Cache first, then an optional
// RemoteTier on miss, populating the in-memory tier on a remote hit.
type TieredCache struct {
	Local  *Cache
	Remote RemoteTier
}

// Get looks up key in the local tier, falling back to the remote tier.
func (t *TieredCache) Get(ctx context.Context, key string) ([]float64, bool) {
	if v, ok := t.Local.Get(key); ok {
		return v, true
	}
	if t.Remote == nil {
		return nil, false
	}
	v, ok := t.Remote.Get(ctx, key)
	if ok {
		t.Local.Set(key, v)
	}
	return v, ok
}

// Set writes through to both tiers.
func (t *TieredCache) Set(ctx context.Context, key string, vector []float64) {
	t.Local.Set(key, vector)
	if t.Remote != nil {
		t.Remote.Set(ctx, key, vector, 0)
	}
}
