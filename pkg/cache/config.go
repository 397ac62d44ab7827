package cache

import "time"

// RedisOption configures the Redis cache.
type RedisOption func(*RedisConfig)

// RedisConfig holds Redis cache configuration.
type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	PoolTimeout  time.Duration
	MinIdleConns int
	Prefix       string
}

func defaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Addr:         "localhost:6379",
		PoolSize:     10,
		PoolTimeout:  30 * time.Second,
		MinIdleConns: 2,
		Prefix:       "quantsim",
	}
}

func WithRedisAddr(addr string) RedisOption {
	return func(c *RedisConfig) { c.Addr = addr }
}

func WithRedisPassword(password string) RedisOption {
	return func(c *RedisConfig) { c.Password = password }
}

func WithRedisDB(db int) RedisOption {
	return func(c *RedisConfig) { c.DB = db }
}

// WithRedisPool sets connection pool settings.
func WithRedisPool(poolSize, minIdleConns int, timeout time.Duration) RedisOption {
	return func(c *RedisConfig) {
		c.PoolSize = poolSize
		c.MinIdleConns = minIdleConns
		c.PoolTimeout = timeout
	}
}

// WithRedisPrefix sets the key namespace.
func WithRedisPrefix(prefix string) RedisOption {
	return func(c *RedisConfig) { c.Prefix = prefix }
}

// MemoryOption configures the memory cache.
type MemoryOption func(*MemoryConfig)

// MemoryConfig holds memory cache configuration. A zero CleanupInterval
// disables the background sweep; expired entries are still dropped on read.
type MemoryConfig struct {
	MaxSize         int
	DefaultTTL      time.Duration
	CleanupInterval time.Duration
	Now             func() time.Time
}

func defaultMemoryConfig() *MemoryConfig {
	return &MemoryConfig{
		MaxSize:         4096,
		DefaultTTL:      24 * time.Hour,
		CleanupInterval: 5 * time.Minute,
		Now:             time.Now,
	}
}

func WithMemoryMaxSize(size int) MemoryOption {
	return func(c *MemoryConfig) {
		if size > 0 {
			c.MaxSize = size
		}
	}
}

func WithMemoryDefaultTTL(ttl time.Duration) MemoryOption {
	return func(c *MemoryConfig) { c.DefaultTTL = ttl }
}

func WithMemoryCleanup(interval time.Duration) MemoryOption {
	return func(c *MemoryConfig) { c.CleanupInterval = interval }
}

// WithMemoryClock replaces the time source.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(c *MemoryConfig) {
		if now != nil {
			c.Now = now
		}
	}
}
