// Package metrics exposes the resource layer's counters and gauges through a
// Prometheus registry. The library never serves HTTP itself; the host mounts
// Handler() wherever it wants.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-resource/types"
)

type PrometheusConfig struct {
	Namespace       string `yaml:"namespace" json:"namespace"`
	EnableGoMetrics bool   `yaml:"enable_go_metrics" json:"enable_go_metrics"`
}

type PrometheusMetrics struct {
	logger   types.Logger
	registry *prometheus.Registry

	cacheSizeBytes prometheus.Gauge
	cacheEntries   prometheus.Gauge
	cacheHitRatio  prometheus.Gauge
	cacheEvictions prometheus.Counter
	activeWorkers  prometheus.Gauge
	queueLength    prometheus.Gauge
	memoryMB       prometheus.Gauge
	pressureLevel  prometheus.Gauge
	tasksCompleted prometheus.Counter
	tasksFailed    prometheus.Counter
	cleanupsTotal  *prometheus.CounterVec

	mu            sync.Mutex
	lastEvictions uint64
	lastCompleted uint64
	lastFailed    uint64
}

func NewPrometheusMetrics(logger types.Logger, config *PrometheusConfig) *PrometheusMetrics {
	if config == nil {
		config = &PrometheusConfig{Namespace: "sai_resource", EnableGoMetrics: true}
	}
	if config.Namespace == "" {
		config.Namespace = "sai_resource"
	}

	registry := prometheus.NewRegistry()
	if config.EnableGoMetrics {
		registry.MustRegister(collectors.NewGoCollector())
		registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}

	m := &PrometheusMetrics{
		logger:   logger,
		registry: registry,
		cacheSizeBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: config.Namespace,
			Name:      "cache_size_bytes",
			Help:      "Total bytes held across all cache pools.",
		}),
		cacheEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: config.Namespace,
			Name:      "cache_entries",
			Help:      "Total entries held across all cache pools.",
		}),
		cacheHitRatio: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: config.Namespace,
			Name:      "cache_hit_ratio",
			Help:      "Global cache hit ratio.",
		}),
		cacheEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "cache_evictions_total",
			Help:      "Entries evicted under budget pressure.",
		}),
		activeWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: config.Namespace,
			Name:      "workers_active",
			Help:      "Background worker slots currently in use.",
		}),
		queueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: config.Namespace,
			Name:      "scheduler_queue_length",
			Help:      "Tasks waiting for dispatch.",
		}),
		memoryMB: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: config.Namespace,
			Name:      "memory_mb",
			Help:      "Sampled process memory in MB.",
		}),
		pressureLevel: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: config.Namespace,
			Name:      "memory_pressure_level",
			Help:      "Memory pressure: 0 normal, 1 warning, 2 critical.",
		}),
		tasksCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "tasks_completed_total",
			Help:      "Scheduled tasks that finished without error.",
		}),
		tasksFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "tasks_failed_total",
			Help:      "Scheduled tasks that returned an error or panicked.",
		}),
		cleanupsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "cleanups_total",
			Help:      "Cleanup passes by kind.",
		}, []string{"kind"}),
	}

	registry.MustRegister(
		m.cacheSizeBytes,
		m.cacheEntries,
		m.cacheHitRatio,
		m.cacheEvictions,
		m.activeWorkers,
		m.queueLength,
		m.memoryMB,
		m.pressureLevel,
		m.tasksCompleted,
		m.tasksFailed,
		m.cleanupsTotal,
	)

	logger.Info("Prometheus metrics initialized",
		zap.String("namespace", config.Namespace),
		zap.Bool("go_metrics", config.EnableGoMetrics))

	return m
}

// Observe pushes one snapshot of the resource layer into the registry.
func (m *PrometheusMetrics) Observe(snapshot types.MemorySnapshot, cacheStats types.CacheStats, queueLength int, pressure types.PressureLevel) {
	m.cacheSizeBytes.Set(float64(cacheStats.TotalSizeBytes))
	m.cacheEntries.Set(float64(cacheStats.EntryCount))
	m.cacheHitRatio.Set(cacheStats.HitRate())
	m.activeWorkers.Set(float64(snapshot.ActiveWorkers))
	m.queueLength.Set(float64(queueLength))
	m.memoryMB.Set(snapshot.MemoryMB)
	m.pressureLevel.Set(float64(pressure))

	m.mu.Lock()
	if cacheStats.Evictions > m.lastEvictions {
		m.cacheEvictions.Add(float64(cacheStats.Evictions - m.lastEvictions))
		m.lastEvictions = cacheStats.Evictions
	}
	m.mu.Unlock()
}

// ObserveTasks advances the task outcome counters from cumulative scheduler
// figures.
func (m *PrometheusMetrics) ObserveTasks(completed, failed uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if completed > m.lastCompleted {
		m.tasksCompleted.Add(float64(completed - m.lastCompleted))
		m.lastCompleted = completed
	}
	if failed > m.lastFailed {
		m.tasksFailed.Add(float64(failed - m.lastFailed))
		m.lastFailed = failed
	}
}

// CountCleanup records one cleanup pass, kind "periodic" or "emergency".
func (m *PrometheusMetrics) CountCleanup(kind string) {
	m.cleanupsTotal.WithLabelValues(kind).Inc()
}

// Handler returns the scrape endpoint for the host application to mount.
func (m *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *PrometheusMetrics) Registry() *prometheus.Registry {
	return m.registry
}
