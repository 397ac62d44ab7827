// Package cache stores JSON-encoded values in memory, in Redis, or in both.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var ErrCacheMiss = errors.New("cache: key not found")

// Service is the cache surface used by the calibration layer.
type Service interface {
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Get(ctx context.Context, key string, dest interface{}) error
	Delete(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
	Close() error
}

func marshal(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	}
	b, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("cache marshal: %w", err)
	}
	return b, nil
}

func unmarshal(data []byte, dest interface{}) error {
	switch d := dest.(type) {
	case *[]byte:
		*d = append((*d)[:0], data...)
		return nil
	case *string:
		*d = string(data)
		return nil
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("cache unmarshal: %w", err)
	}
	return nil
}
