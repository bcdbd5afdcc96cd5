// Package cache provides the key/value cache used for derived counters.
// A redis backed implementation is used when redis is configured, otherwise
// an in-process cache.
package cache

import (
	"context"
	"encoding/json"
	"time"
)

// Cache is a byte oriented key/value store with TTLs and atomic counters.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Incr(ctx context.Context, key string) (int64, error)
	Delete(ctx context.Context, keys ...string) error
}

// GetJSON loads key into dest. It reports false on a miss.
func GetJSON(ctx context.Context, c Cache, key string, dest interface{}) (bool, error) {
	data, ok, err := c.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, err
	}
	return true, nil
}

// SetJSON stores value under key as JSON.
func SetJSON(ctx context.Context, c Cache, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.Set(ctx, key, data, ttl)
}
