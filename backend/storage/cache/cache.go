package storage

import (
	"context"
	"fmt"
	"time"
)

// CacheInterface defines the set of methods that need to be implemented to
// be used as a cache storage. The queue consumers use it to remember which
// notification messages have already been delivered.
type CacheInterface interface {
	Connect(url string) error
	Disconnect() error
	Set(ctx context.Context, key string, value interface{}) error
	Get(ctx context.Context, key string) (interface{}, error)
	Clear(ctx context.Context) error
}

// NewCache creates a new CacheInterface with a Redis backend. Entries expire
// after the given TTL. It connects to the provided address, and returns the
// cache instance or an error if the connection failed.
func NewCache(url string, ttl time.Duration) (CacheInterface, error) {
	cache := NewRedisCache(ttl)
	err := cache.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cache: %w", err)
	}
	return cache, nil
}
