package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss is returned by Get when the key does not exist.
var ErrMiss = errors.New("cache: miss")

// Cache is a minimal string key/value store with expiry.
// Implementations must be safe for concurrent use.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	// Set stores value at key. A zero ttl means no expiration.
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) (int64, error)
	Ping(ctx context.Context) error
	Close() error
}

// NopCache never stores anything; every Get is a miss.
type NopCache struct{}

var _ Cache = NopCache{}

func (NopCache) Get(context.Context, string) (string, error) { return "", ErrMiss }

func (NopCache) Set(context.Context, string, string, time.Duration) error { return nil }

func (NopCache) Del(context.Context, ...string) (int64, error) { return 0, nil }

func (NopCache) Ping(context.Context) error { return nil }

func (NopCache) Close() error { return nil }
