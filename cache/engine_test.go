package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saiset-co/sai-resource/logger"
	"github.com/saiset-co/sai-resource/types"
)

func newTestEngine(t *testing.T, limits *types.CacheLimits) *Engine {
	t.Helper()

	if limits == nil {
		limits = &types.CacheLimits{
			MaxEntries:           100,
			MaxBytes:             1024 * 1024,
			EvictionPolicy:       "lru",
			AdaptiveExpiredRatio: 0.5,
			AdaptiveLowReuse:     2,
		}
	}

	engine, err := NewEngine(context.Background(), logger.NewNop(), limits)
	require.NoError(t, err)
	return engine
}

func TestEnginePutGet(t *testing.T) {
	engine := newTestEngine(t, nil)

	require.NoError(t, engine.Put("metadata", "a", "value-a", 10, 0))

	value, ok := engine.Get("metadata", "a")
	require.True(t, ok)
	assert.Equal(t, "value-a", value)

	_, ok = engine.Get("metadata", "missing")
	assert.False(t, ok)
}

func TestEnginePutValidation(t *testing.T) {
	engine := newTestEngine(t, nil)

	assert.ErrorIs(t, engine.Put("", "k", "v", 1, 0), types.ErrCachePoolEmpty)
	assert.ErrorIs(t, engine.Put("pool", "", "v", 1, 0), types.ErrCacheKeyEmpty)
	assert.ErrorIs(t, engine.Put("pool", "k", nil, 1, 0), types.ErrCacheValueIsNil)
}

func TestEngineHitMissAccounting(t *testing.T) {
	engine := newTestEngine(t, nil)

	require.NoError(t, engine.Put("stats", "a", 1, 8, 0))
	require.NoError(t, engine.Put("stats", "b", 2, 8, 0))

	gets := 0
	for _, key := range []string{"a", "b", "a", "nope", "b", "nope", "nope"} {
		engine.Get("stats", key)
		gets++
	}

	stats, ok := engine.Stats("stats")
	require.True(t, ok)
	assert.Equal(t, uint64(4), stats.Hits)
	assert.Equal(t, uint64(3), stats.Misses)
	assert.Equal(t, int(stats.Hits+stats.Misses), gets)
	assert.InDelta(t, 4.0/7.0, stats.HitRate(), 1e-9)
}

func TestEngineHitRateZeroBeforeLookups(t *testing.T) {
	engine := newTestEngine(t, nil)

	require.NoError(t, engine.Put("fresh", "a", 1, 8, 0))

	stats, ok := engine.Stats("fresh")
	require.True(t, ok)
	assert.Zero(t, stats.HitRate())
}

func TestEngineTTLExpiry(t *testing.T) {
	engine := newTestEngine(t, nil)

	require.NoError(t, engine.Put("thumbnails", "t1", []byte("img"), 3, 50*time.Millisecond))

	value, ok := engine.Get("thumbnails", "t1")
	require.True(t, ok)
	assert.Equal(t, []byte("img"), value)

	time.Sleep(100 * time.Millisecond)

	_, ok = engine.Get("thumbnails", "t1")
	assert.False(t, ok)

	stats, _ := engine.Stats("thumbnails")
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.Zero(t, stats.EntryCount)
}

func TestEngineEntryBudgetEviction(t *testing.T) {
	engine := newTestEngine(t, &types.CacheLimits{
		MaxEntries:     5,
		MaxBytes:       1024 * 1024,
		EvictionPolicy: "lru",
	})

	for i := 0; i < 20; i++ {
		require.NoError(t, engine.Put("metadata", fmt.Sprintf("k%d", i), i, 10, 0))

		global := engine.GlobalStats()
		assert.LessOrEqual(t, global.EntryCount, 5)
	}

	assert.Positive(t, engine.GlobalStats().Evictions)
}

func TestEngineByteBudgetEviction(t *testing.T) {
	engine := newTestEngine(t, &types.CacheLimits{
		MaxEntries:     1000,
		MaxBytes:       100,
		EvictionPolicy: "lru",
	})

	for i := 0; i < 10; i++ {
		require.NoError(t, engine.Put("blobs", fmt.Sprintf("k%d", i), i, 30, 0))
	}

	global := engine.GlobalStats()
	assert.LessOrEqual(t, global.TotalSizeBytes, int64(100))
}

func TestEngineSingleOversizedEntrySurvives(t *testing.T) {
	engine := newTestEngine(t, &types.CacheLimits{
		MaxEntries:     10,
		MaxBytes:       100,
		EvictionPolicy: "lru",
	})

	require.NoError(t, engine.Put("blobs", "huge", "x", 500, 0))

	_, ok := engine.Get("blobs", "huge")
	assert.True(t, ok, "the only entry must not be evicted even over budget")
	assert.Equal(t, 1, engine.GlobalStats().EntryCount)
}

func TestEngineEvictionTargetsLargestPool(t *testing.T) {
	engine := newTestEngine(t, &types.CacheLimits{
		MaxEntries:     1000,
		MaxBytes:       1000,
		EvictionPolicy: "lru",
	})

	// One big pool, one small hot pool.
	for i := 0; i < 9; i++ {
		require.NoError(t, engine.Put("big", fmt.Sprintf("b%d", i), i, 100, 0))
	}
	require.NoError(t, engine.Put("small", "s0", "hot", 10, 0))

	// Push over the byte budget; the big pool should pay.
	require.NoError(t, engine.Put("big", "overflow", "x", 100, 0))

	_, ok := engine.Get("small", "s0")
	assert.True(t, ok, "small pool must be protected")

	smallStats, _ := engine.Stats("small")
	assert.Zero(t, smallStats.Evictions)

	bigStats, _ := engine.Stats("big")
	assert.Positive(t, bigStats.Evictions)
}

func TestEngineReplaceDoesNotLeakSize(t *testing.T) {
	engine := newTestEngine(t, nil)

	require.NoError(t, engine.Put("metadata", "k", "v1", 100, 0))
	require.NoError(t, engine.Put("metadata", "k", "v2", 40, 0))

	global := engine.GlobalStats()
	assert.Equal(t, int64(40), global.TotalSizeBytes)
	assert.Equal(t, 1, global.EntryCount)
}

func TestEngineRemove(t *testing.T) {
	engine := newTestEngine(t, nil)

	require.NoError(t, engine.Put("metadata", "k", "v", 10, 0))

	assert.True(t, engine.Remove("metadata", "k"))
	assert.False(t, engine.Remove("metadata", "k"))
	assert.False(t, engine.Remove("unknown", "k"))
	assert.Zero(t, engine.GlobalStats().EntryCount)
}

func TestEngineClear(t *testing.T) {
	engine := newTestEngine(t, nil)

	require.NoError(t, engine.Put("a", "k1", 1, 10, 0))
	require.NoError(t, engine.Put("a", "k2", 2, 10, 0))
	require.NoError(t, engine.Put("b", "k1", 3, 10, 0))

	engine.Clear("a")

	statsA, _ := engine.Stats("a")
	assert.Zero(t, statsA.EntryCount)

	statsB, _ := engine.Stats("b")
	assert.Equal(t, 1, statsB.EntryCount)

	engine.Clear()
	assert.Zero(t, engine.GlobalStats().EntryCount)
	assert.Zero(t, engine.GlobalStats().TotalSizeBytes)
}

func TestEngineSweepExpired(t *testing.T) {
	engine := newTestEngine(t, nil)

	require.NoError(t, engine.Put("mixed", "short", 1, 10, 20*time.Millisecond))
	require.NoError(t, engine.Put("mixed", "long", 2, 10, time.Hour))
	require.NoError(t, engine.Put("mixed", "forever", 3, 10, 0))

	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, 1, engine.SweepExpired())
	assert.Equal(t, 2, engine.GlobalStats().EntryCount)
}

func TestEngineStatsUnknownPool(t *testing.T) {
	engine := newTestEngine(t, nil)

	_, ok := engine.Stats("nothing")
	assert.False(t, ok)
}

func TestEnginePoolNames(t *testing.T) {
	engine := newTestEngine(t, nil)

	require.NoError(t, engine.Put("thumbnails", "k", 1, 10, 0))
	require.NoError(t, engine.Put("metadata", "k", 1, 10, 0))

	assert.Equal(t, []string{"metadata", "thumbnails"}, engine.PoolNames())
}

func TestEngineLifecycle(t *testing.T) {
	engine := newTestEngine(t, &types.CacheLimits{
		MaxEntries:      10,
		MaxBytes:        1024,
		EvictionPolicy:  "lru",
		CleanupInterval: 20 * time.Millisecond,
	})

	require.NoError(t, engine.Start())
	assert.True(t, engine.IsRunning())
	assert.ErrorIs(t, engine.Start(), types.ErrAlreadyRunning)

	require.NoError(t, engine.Put("p", "short", 1, 10, 10*time.Millisecond))
	time.Sleep(80 * time.Millisecond)

	// Cleanup routine removed it without a Get touching it.
	assert.Zero(t, engine.GlobalStats().EntryCount)

	require.NoError(t, engine.Stop())
	assert.False(t, engine.IsRunning())
	assert.ErrorIs(t, engine.Stop(), types.ErrNotRunning)
}

func TestEngineAvgAccessTime(t *testing.T) {
	engine := newTestEngine(t, nil)

	require.NoError(t, engine.Put("p", "k", "v", 10, 0))
	for i := 0; i < 5; i++ {
		engine.Get("p", "k")
	}

	stats, _ := engine.Stats("p")
	assert.Positive(t, stats.AvgAccessTime.Nanoseconds())
}
