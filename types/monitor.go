package types

import (
	"time"
)

type PressureLevel int32

const (
	PressureNormal PressureLevel = iota
	PressureWarning
	PressureCritical
)

func (p PressureLevel) String() string {
	switch p {
	case PressureNormal:
		return "normal"
	case PressureWarning:
		return "warning"
	case PressureCritical:
		return "critical"
	default:
		return "unknown"
	}
}

const (
	TrendInsufficientData = "insufficient_data"
	TrendIncreasing       = "increasing"
	TrendDecreasing       = "decreasing"
	TrendStable           = "stable"
)

// MemorySampler returns the process resident memory in MB. Samplers are
// best-effort: an error degrades to a zero reading, never to a failure of the
// host application.
type MemorySampler func() (float64, error)

type MemorySnapshot struct {
	Timestamp     time.Time `json:"timestamp"`
	MemoryMB      float64   `json:"memory_mb"`
	ActiveWorkers int       `json:"active_workers"`
	CacheBytes    int64     `json:"cache_bytes"`
	CacheEntries  int       `json:"cache_entries"`
	CacheHitRate  float64   `json:"cache_hit_rate"`
}

type Monitor interface {
	LifecycleManager
	Pressure() PressureLevel
	Trend() string
	Latest() (MemorySnapshot, bool)
	History() []MemorySnapshot
	OnCritical(fn func())
}
