package types

import (
	"time"
)

// EvictionPolicy selects which entries are removed when the global budget is
// exceeded.
type EvictionPolicy string

const (
	PolicyLRU      EvictionPolicy = "lru"
	PolicyLFU      EvictionPolicy = "lfu"
	PolicyTTL      EvictionPolicy = "ttl"
	PolicyAdaptive EvictionPolicy = "adaptive"
)

// SizeEstimator reports the approximate in-memory size of a value. The second
// return is false when the estimator cannot handle the value type.
type SizeEstimator func(value interface{}) (int64, bool)

type CacheEngine interface {
	LifecycleManager
	Put(pool, key string, value interface{}, sizeBytes int64, ttl time.Duration) error
	Get(pool, key string) (interface{}, bool)
	Remove(pool, key string) bool
	Clear(pools ...string)
	Stats(pool string) (CacheStats, bool)
	GlobalStats() CacheStats
	PoolNames() []string
	RegisterEstimator(estimator SizeEstimator)
}

// CacheEntry is owned exclusively by its pool; it never escapes the engine.
type CacheEntry struct {
	Key         string        `json:"key"`
	Value       interface{}   `json:"-"`
	SizeBytes   int64         `json:"size_bytes"`
	AccessCount int64         `json:"access_count"`
	CreatedAt   time.Time     `json:"created_at"`
	AccessedAt  time.Time     `json:"accessed_at"`
	TTL         time.Duration `json:"ttl"`
	Sequence    uint64        `json:"-"`
}

// Expired reports whether the entry's TTL has elapsed. Entries without a TTL
// never expire.
func (e *CacheEntry) Expired(now time.Time) bool {
	return e.TTL > 0 && now.Sub(e.CreatedAt) > e.TTL
}

type CacheStats struct {
	Pool           string        `json:"pool,omitempty"`
	Hits           uint64        `json:"hits"`
	Misses         uint64        `json:"misses"`
	Evictions      uint64        `json:"evictions"`
	TotalSizeBytes int64         `json:"total_size_bytes"`
	EntryCount     int           `json:"entry_count"`
	AvgAccessTime  time.Duration `json:"avg_access_time"`
}

// HitRate is hits/(hits+misses), zero before any lookup.
func (s CacheStats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}
