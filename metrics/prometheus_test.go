package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saiset-co/sai-resource/logger"
	"github.com/saiset-co/sai-resource/types"
)

func newTestMetrics() *PrometheusMetrics {
	return NewPrometheusMetrics(logger.NewNop(), &PrometheusConfig{
		Namespace:       "test",
		EnableGoMetrics: false,
	})
}

func TestObserveSetsGauges(t *testing.T) {
	m := newTestMetrics()

	m.Observe(
		types.MemorySnapshot{MemoryMB: 42.5, ActiveWorkers: 3},
		types.CacheStats{Hits: 3, Misses: 1, TotalSizeBytes: 2048, EntryCount: 7},
		5,
		types.PressureWarning,
	)

	assert.Equal(t, 2048.0, testutil.ToFloat64(m.cacheSizeBytes))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.cacheEntries))
	assert.Equal(t, 0.75, testutil.ToFloat64(m.cacheHitRatio))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.activeWorkers))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.queueLength))
	assert.Equal(t, 42.5, testutil.ToFloat64(m.memoryMB))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.pressureLevel))
}

func TestEvictionCounterTracksDeltas(t *testing.T) {
	m := newTestMetrics()

	m.Observe(types.MemorySnapshot{}, types.CacheStats{Evictions: 10}, 0, types.PressureNormal)
	assert.Equal(t, 10.0, testutil.ToFloat64(m.cacheEvictions))

	// Repeating the same cumulative figure must not double count.
	m.Observe(types.MemorySnapshot{}, types.CacheStats{Evictions: 10}, 0, types.PressureNormal)
	assert.Equal(t, 10.0, testutil.ToFloat64(m.cacheEvictions))

	m.Observe(types.MemorySnapshot{}, types.CacheStats{Evictions: 14}, 0, types.PressureNormal)
	assert.Equal(t, 14.0, testutil.ToFloat64(m.cacheEvictions))
}

func TestObserveTasksTracksDeltas(t *testing.T) {
	m := newTestMetrics()

	m.ObserveTasks(5, 1)
	assert.Equal(t, 5.0, testutil.ToFloat64(m.tasksCompleted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.tasksFailed))

	m.ObserveTasks(5, 1)
	assert.Equal(t, 5.0, testutil.ToFloat64(m.tasksCompleted))

	m.ObserveTasks(9, 2)
	assert.Equal(t, 9.0, testutil.ToFloat64(m.tasksCompleted))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.tasksFailed))
}

func TestCountCleanup(t *testing.T) {
	m := newTestMetrics()

	m.CountCleanup("periodic")
	m.CountCleanup("periodic")
	m.CountCleanup("emergency")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.cleanupsTotal.WithLabelValues("periodic")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cleanupsTotal.WithLabelValues("emergency")))
}

func TestHandlerServesRegistry(t *testing.T) {
	m := newTestMetrics()
	require.NotNil(t, m.Handler())

	count, err := testutil.GatherAndCount(m.Registry())
	require.NoError(t, err)
	assert.Positive(t, count)
}
