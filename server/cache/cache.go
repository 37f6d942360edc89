package cache

import (
	"context"
	"crypto/md5"
	"errors"
	"fmt"
	"time"
)

// ErrCacheMiss is returned when a key is absent or expired.
var ErrCacheMiss = errors.New("cache miss")

// Cache is the shared key/value store behind advisory deduplication and the
// last-payload UI cache. Implementations must be safe for concurrent use.
type Cache interface {
	Set(ctx context.Context, key string, value any) error

	SetWithTTL(ctx context.Context, key string, value any, ttl time.Duration) error

	Get(ctx context.Context, key string, dest any) error

	Exists(ctx context.Context, key string) (bool, error)

	Delete(ctx context.Context, key string) error

	GetStats(ctx context.Context) (*Stats, error)

	Close() error
}

type Stats struct {
	Connected bool   `json:"connected"`
	Info      string `json:"info"`
}

// GenerateCacheKey builds a stable key from its components.
func GenerateCacheKey(components ...string) string {
	h := md5.New()
	for _, component := range components {
		h.Write([]byte(component))
		h.Write([]byte{':'})
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}
