package model

import "time"

// CacheEntry is a row of the system_cache table. A zero TTL never expires.
type CacheEntry struct {
	Key      string        `json:"component_key"`
	Value    []byte        `json:"value"`
	CachedAt time.Time     `json:"cached_at"`
	TTL      time.Duration `json:"ttl"`
}

// Expired reports whether the entry should be treated as absent at now.
func (e *CacheEntry) Expired(now time.Time) bool {
	return e.TTL > 0 && !now.Before(e.CachedAt.Add(e.TTL))
}

// Remaining returns how long the entry stays valid after now, or 0 for
// entries without a TTL.
func (e *CacheEntry) Remaining(now time.Time) time.Duration {
	if e.TTL <= 0 {
		return 0
	}
	return e.CachedAt.Add(e.TTL).Sub(now)
}
