package cache

import (
	"context"
	"time"
)

// TieredCache layers a fast in-process L1 over a shared L2 (Redis). Reads
// check L1 first, falling through to L2 on miss and populating L1 on a hit.
// Writes go to both layers.
type TieredCache struct {
	l1    Cache
	l2    Cache
	l1TTL time.Duration // kept shorter than L2 to bound cross-instance staleness
}

// NewTieredCache creates a two-level cache. l1TTL defaults to 10s.
func NewTieredCache(l1, l2 Cache, l1TTL time.Duration) *TieredCache {
	if l1TTL <= 0 {
		l1TTL = 10 * time.Second
	}
	return &TieredCache{l1: l1, l2: l2, l1TTL: l1TTL}
}

func (t *TieredCache) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := t.l1.Get(ctx, key)
	if err == nil {
		return val, nil
	}

	val, err = t.l2.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	_ = t.l1.Set(ctx, key, val, t.l1TTL)
	return val, nil
}

func (t *TieredCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_ = t.l1.Set(ctx, key, value, t.l1TTL)
	return t.l2.Set(ctx, key, value, ttl)
}

func (t *TieredCache) Delete(ctx context.Context, key string) error {
	_ = t.l1.Delete(ctx, key)
	return t.l2.Delete(ctx, key)
}

func (t *TieredCache) Ping(ctx context.Context) error {
	if err := t.l1.Ping(ctx); err != nil {
		return err
	}
	return t.l2.Ping(ctx)
}

func (t *TieredCache) Close() error {
	_ = t.l1.Close()
	return t.l2.Close()
}
