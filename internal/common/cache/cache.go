package cache

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// NoExpiration keeps entries until they are deleted or the cache is cleared.
const NoExpiration = gocache.NoExpiration

// LocalCache wraps patrickmn/go-cache for typed in-memory caching
type LocalCache[V any] struct {
	cache *gocache.Cache
}

// NewLocalCache creates a new local cache instance. A cleanupInterval of zero
// disables the janitor goroutine.
func NewLocalCache[V any](defaultTTL, cleanupInterval time.Duration) *LocalCache[V] {
	return &LocalCache[V]{
		cache: gocache.New(defaultTTL, cleanupInterval),
	}
}

// Get retrieves a value from the local cache
func (l *LocalCache[V]) Get(key string) (V, bool) {
	var zero V
	raw, found := l.cache.Get(key)
	if !found {
		return zero, false
	}
	v, ok := raw.(V)
	if !ok {
		return zero, false
	}
	return v, true
}

// Set stores a value with the cache's default TTL
func (l *LocalCache[V]) Set(key string, value V) {
	l.cache.SetDefault(key, value)
}

// SetWithTTL stores a value with an explicit TTL
func (l *LocalCache[V]) SetWithTTL(key string, value V, ttl time.Duration) {
	l.cache.Set(key, value, ttl)
}

// Delete removes a value from the local cache
func (l *LocalCache[V]) Delete(key string) {
	l.cache.Delete(key)
}

// Clear removes all items from the local cache
func (l *LocalCache[V]) Clear() {
	l.cache.Flush()
}

// Len returns the number of cached items, including expired ones not yet swept
func (l *LocalCache[V]) Len() int {
	return l.cache.ItemCount()
}
