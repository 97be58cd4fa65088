// Package cache provides the in-process cache used for hot configuration data.
//
// It wraps github.com/patrickmn/go-cache behind a small typed API. Entries
// never expire on their own by default; owners clear or overwrite them when
// the backing store changes.
//
// Usage:
//
//	c := cache.NewLocalCache[Setting](cache.NoExpiration, 0)
//	c.Set("searchResultsLimit", s)
//	s, found := c.Get("searchResultsLimit")
package cache
