package cache

import (
	"context"
	"strconv"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Memory is an in-process Cache backed by go-cache.
type Memory struct {
	mu    sync.Mutex // serialises Incr read-modify-write
	store *gocache.Cache
}

// NewMemory creates an in-process cache. defaultTTL applies when Set is
// called with a zero ttl.
func NewMemory(defaultTTL, cleanupInterval time.Duration) *Memory {
	return &Memory{store: gocache.New(defaultTTL, cleanupInterval)}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := m.store.Get(key)
	if !ok {
		return nil, false, nil
	}
	data, ok := v.([]byte)
	return data, ok, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = gocache.DefaultExpiration
	}
	m.store.Set(key, value, ttl)
	return nil
}

// Incr increments the integer stored at key. Counters never expire.
func (m *Memory) Incr(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	if v, ok := m.store.Get(key); ok {
		if data, ok := v.([]byte); ok {
			parsed, err := strconv.ParseInt(string(data), 10, 64)
			if err != nil {
				return 0, err
			}
			n = parsed
		}
	}
	n++
	m.store.Set(key, []byte(strconv.FormatInt(n, 10)), gocache.NoExpiration)
	return n, nil
}

func (m *Memory) Delete(_ context.Context, keys ...string) error {
	for _, k := range keys {
		m.store.Delete(k)
	}
	return nil
}
