package cache

import (
	"context"
	"time"
)

// CacheInterface stores rendered feed documents.
type CacheInterface interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Close() error
}

var (
	_ CacheInterface = (*RedisCache)(nil)
	_ CacheInterface = (*MemoryCache)(nil)
)
