package cache

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const defaultLocalSize = 1024

// CacheProvider is a key-value store with per key expiry
type CacheProvider interface {
	Exists(ctx context.Context, key string) (bool, error)
	// Fetch returns false when the key is missing or expired
	Fetch(ctx context.Context, key string) (string, bool, error)
	Add(ctx context.Context, key string, value string, ttl time.Duration) error
	Remove(ctx context.Context, key string) error
	Close() error
}

// Open returns the store described by the connection string. memory:// (optionally with ?size=N)
// gives an in-process cache, everything else is handed to Redis.
func Open(ctx context.Context, connection string) (CacheProvider, error) {
	if connection == "" {
		return nil, fmt.Errorf("no cache connection configured")
	}

	if IsLocal(connection) {
		size := defaultLocalSize

		u, err := url.Parse(connection)
		if err != nil {
			return nil, err
		}
		if s := u.Query().Get("size"); s != "" {
			size, err = strconv.Atoi(s)
			if err != nil {
				return nil, fmt.Errorf("invalid cache size %q", s)
			}
		}

		return NewLocalCache(ctx, size)
	}

	return NewRedisCache(ctx, connection)
}

// IsLocal reports whether connection describes an in-process store, which lives only as long as
// the process that opened it
func IsLocal(connection string) bool {
	return connection == "memory" || strings.HasPrefix(connection, "memory:")
}
