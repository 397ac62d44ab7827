package cache

import (
	"context"
	"sync"
	"time"
)

type memoryItem struct {
	data     []byte
	expireAt time.Time
	usedAt   time.Time
}

// MemoryCache is a size-bounded in-process cache with least-recently-used eviction.
type MemoryCache struct {
	mu      sync.Mutex
	items   map[string]*memoryItem
	maxSize int
	ttl     time.Duration
	now     func() time.Time
	stop    chan struct{}
	once    sync.Once
}

// NewMemoryCache creates an in-memory cache.
func NewMemoryCache(opts ...MemoryOption) *MemoryCache {
	cfg := defaultMemoryConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	mc := &MemoryCache{
		items:   make(map[string]*memoryItem),
		maxSize: cfg.MaxSize,
		ttl:     cfg.DefaultTTL,
		now:     cfg.Now,
		stop:    make(chan struct{}),
	}
	if cfg.CleanupInterval > 0 {
		go mc.sweep(cfg.CleanupInterval)
	}
	return mc
}

func (mc *MemoryCache) Set(_ context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := marshal(value)
	if err != nil {
		return err
	}
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.put(key, data, ttl)
	return nil
}

func (mc *MemoryCache) put(key string, data []byte, ttl time.Duration) {
	now := mc.now()
	if _, ok := mc.items[key]; !ok && len(mc.items) >= mc.maxSize {
		mc.evictLocked()
	}
	if ttl <= 0 {
		ttl = mc.ttl
	}
	mc.items[key] = &memoryItem{data: data, expireAt: now.Add(ttl), usedAt: now}
}

func (mc *MemoryCache) Get(_ context.Context, key string, dest interface{}) error {
	mc.mu.Lock()
	item := mc.liveLocked(key)
	var data []byte
	if item != nil {
		item.usedAt = mc.now()
		data = item.data
	}
	mc.mu.Unlock()

	if item == nil {
		return ErrCacheMiss
	}
	return unmarshal(data, dest)
}

func (mc *MemoryCache) liveLocked(key string) *memoryItem {
	item, ok := mc.items[key]
	if !ok {
		return nil
	}
	if !mc.now().Before(item.expireAt) {
		delete(mc.items, key)
		return nil
	}
	return item
}

func (mc *MemoryCache) Delete(_ context.Context, keys ...string) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	for _, k := range keys {
		delete(mc.items, k)
	}
	return nil
}

func (mc *MemoryCache) Exists(_ context.Context, key string) (bool, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return mc.liveLocked(key) != nil, nil
}

func (mc *MemoryCache) TryLock(_ context.Context, key string, ttl time.Duration) (bool, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if mc.liveLocked(key) != nil {
		return false, nil
	}
	mc.put(key, []byte("locked"), ttl)
	return true, nil
}

func (mc *MemoryCache) Unlock(ctx context.Context, key string) error {
	return mc.Delete(ctx, key)
}

// Len reports the number of stored entries, expired ones included.
func (mc *MemoryCache) Len() int {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return len(mc.items)
}

func (mc *MemoryCache) evictLocked() {
	var oldest string
	var at time.Time
	for k, it := range mc.items {
		if oldest == "" || it.usedAt.Before(at) {
			oldest, at = k, it.usedAt
		}
	}
	if oldest != "" {
		delete(mc.items, oldest)
	}
}

func (mc *MemoryCache) sweep(interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-mc.stop:
			return
		case <-t.C:
			mc.mu.Lock()
			now := mc.now()
			for k, it := range mc.items {
				if !now.Before(it.expireAt) {
					delete(mc.items, k)
				}
			}
			mc.mu.Unlock()
		}
	}
}

// Close stops the background sweep.
func (mc *MemoryCache) Close() error {
	mc.once.Do(func() { close(mc.stop) })
	return nil
}
