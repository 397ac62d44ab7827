package cache

import (
	"context"
	"time"
)

// LayeredCache reads through an in-process L1 before a shared L2.
type LayeredCache struct {
	l1 *MemoryCache
	l2 Service
}

// NewLayeredCache wraps l2 with a memory layer. Writes go to l2 first.
func NewLayeredCache(l2 Service, opts ...MemoryOption) *LayeredCache {
	return &LayeredCache{l1: NewMemoryCache(opts...), l2: l2}
}

func (lc *LayeredCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := marshal(value)
	if err != nil {
		return err
	}
	if err := lc.l2.Set(ctx, key, data, ttl); err != nil {
		return err
	}
	return lc.l1.Set(ctx, key, data, ttl)
}

func (lc *LayeredCache) Get(ctx context.Context, key string, dest interface{}) error {
	if err := lc.l1.Get(ctx, key, dest); err == nil {
		return nil
	}
	var raw []byte
	if err := lc.l2.Get(ctx, key, &raw); err != nil {
		return err
	}
	_ = lc.l1.Set(ctx, key, raw, 0)
	return unmarshal(raw, dest)
}

func (lc *LayeredCache) Delete(ctx context.Context, keys ...string) error {
	_ = lc.l1.Delete(ctx, keys...)
	return lc.l2.Delete(ctx, keys...)
}

func (lc *LayeredCache) Exists(ctx context.Context, key string) (bool, error) {
	if ok, _ := lc.l1.Exists(ctx, key); ok {
		return true, nil
	}
	return lc.l2.Exists(ctx, key)
}

func (lc *LayeredCache) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return lc.l2.TryLock(ctx, key, ttl)
}

func (lc *LayeredCache) Unlock(ctx context.Context, key string) error {
	return lc.l2.Unlock(ctx, key)
}

func (lc *LayeredCache) Close() error {
	_ = lc.l1.Close()
	return lc.l2.Close()
}
