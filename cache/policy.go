package cache

import (
	"sort"
	"time"

	"github.com/saiset-co/sai-resource/types"
)

// victimSelector orders a pool's entries for eviction and returns at most max
// of them. Selection never mutates the pool.
type victimSelector func(entries map[string]*types.CacheEntry, max int, now time.Time) []*types.CacheEntry

// lruVictims picks the entries with the oldest last access, insertion order
// breaking ties.
func lruVictims(entries map[string]*types.CacheEntry, max int, _ time.Time) []*types.CacheEntry {
	candidates := collect(entries)

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].AccessedAt.Equal(candidates[j].AccessedAt) {
			return candidates[i].Sequence < candidates[j].Sequence
		}
		return candidates[i].AccessedAt.Before(candidates[j].AccessedAt)
	})

	return truncate(candidates, max)
}

// lfuVictims picks the least frequently accessed entries, insertion order
// breaking ties.
func lfuVictims(entries map[string]*types.CacheEntry, max int, _ time.Time) []*types.CacheEntry {
	candidates := collect(entries)

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].AccessCount == candidates[j].AccessCount {
			return candidates[i].Sequence < candidates[j].Sequence
		}
		return candidates[i].AccessCount < candidates[j].AccessCount
	})

	return truncate(candidates, max)
}

// ttlVictims picks expired entries first, falling back to LRU order for any
// remaining quota.
func ttlVictims(entries map[string]*types.CacheEntry, max int, now time.Time) []*types.CacheEntry {
	expired := make([]*types.CacheEntry, 0, len(entries))
	alive := make(map[string]*types.CacheEntry, len(entries))

	for key, entry := range entries {
		if entry.Expired(now) {
			expired = append(expired, entry)
		} else {
			alive[key] = entry
		}
	}

	sort.Slice(expired, func(i, j int) bool {
		return expired[i].Sequence < expired[j].Sequence
	})

	if len(expired) >= max {
		return expired[:max]
	}

	return append(expired, lruVictims(alive, max-len(expired), now)...)
}

// adaptivePolicy switches between TTL, LRU and LFU selection based on the
// pool's observed reuse. The thresholds are configurable tunables.
type adaptivePolicy struct {
	expiredRatio float64
	lowReuse     float64
}

func (p adaptivePolicy) victims(entries map[string]*types.CacheEntry, max int, now time.Time) []*types.CacheEntry {
	if len(entries) == 0 || max <= 0 {
		return nil
	}

	expired := 0
	var accessTotal int64
	for _, entry := range entries {
		if entry.Expired(now) {
			expired++
		}
		accessTotal += entry.AccessCount
	}

	if float64(expired) >= p.expiredRatio*float64(len(entries)) {
		return ttlVictims(entries, max, now)
	}

	avgAccess := float64(accessTotal) / float64(len(entries))
	if avgAccess < p.lowReuse {
		return lruVictims(entries, max, now)
	}

	return lfuVictims(entries, max, now)
}

func selectorFor(policy types.EvictionPolicy, limits *types.CacheLimits) victimSelector {
	switch policy {
	case types.PolicyLRU:
		return lruVictims
	case types.PolicyLFU:
		return lfuVictims
	case types.PolicyTTL:
		return ttlVictims
	default:
		adaptive := adaptivePolicy{
			expiredRatio: limits.AdaptiveExpiredRatio,
			lowReuse:     limits.AdaptiveLowReuse,
		}
		return adaptive.victims
	}
}

func collect(entries map[string]*types.CacheEntry) []*types.CacheEntry {
	candidates := make([]*types.CacheEntry, 0, len(entries))
	for _, entry := range entries {
		candidates = append(candidates, entry)
	}
	return candidates
}

func truncate(candidates []*types.CacheEntry, max int) []*types.CacheEntry {
	if max <= 0 {
		return nil
	}
	if len(candidates) > max {
		return candidates[:max]
	}
	return candidates
}
