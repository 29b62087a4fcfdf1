package cache

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru"
)

type localEntry struct {
	value     string
	expiresAt time.Time
}

// LocalCache keeps entries in process. Expired entries are dropped when they are next touched; the
// ARC policy bounds memory.
type LocalCache struct {
	cache *lru.ARCCache
	now   func() time.Time
}

func NewLocalCache(ctx context.Context, size int) (*LocalCache, error) {
	cache, err := lru.NewARC(size)
	if err != nil {
		return nil, err
	}

	return &LocalCache{
		cache: cache,
		now:   time.Now,
	}, nil
}

func (lc *LocalCache) get(key string) (*localEntry, bool) {
	value, ok := lc.cache.Get(key)
	if !ok {
		return nil, false
	}

	entry := value.(*localEntry)
	if !entry.expiresAt.IsZero() && !lc.now().Before(entry.expiresAt) {
		lc.cache.Remove(key)
		return nil, false
	}

	return entry, true
}

func (lc *LocalCache) Exists(ctx context.Context, key string) (bool, error) {
	_, ok := lc.get(key)
	return ok, nil
}

func (lc *LocalCache) Fetch(ctx context.Context, key string) (string, bool, error) {
	entry, ok := lc.get(key)
	if !ok {
		return "", false, nil
	}

	return entry.value, true, nil
}

func (lc *LocalCache) Add(ctx context.Context, key string, value string, ttl time.Duration) error {
	entry := &localEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = lc.now().Add(ttl)
	}

	lc.cache.Add(key, entry)

	return nil
}

func (lc *LocalCache) Remove(ctx context.Context, key string) error {
	lc.cache.Remove(key)

	return nil
}

func (lc *LocalCache) Close() error {
	lc.cache.Purge()

	return nil
}
