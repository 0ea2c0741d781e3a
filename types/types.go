package types

import (
	"time"
)

type LifecycleManager interface {
	Start() error
	Stop() error
	IsRunning() bool
}

// Limits is the immutable configuration shared by every subsystem. It is
// built once at startup and never mutated afterwards.
type Limits struct {
	Cache     *CacheLimits     `yaml:"cache" json:"cache"`
	Scheduler *SchedulerLimits `yaml:"scheduler" json:"scheduler"`
	Monitor   *MonitorLimits   `yaml:"monitor" json:"monitor"`
	Resources *ResourceLimits  `yaml:"resources" json:"resources"`
	Logger    *LoggerConfig    `yaml:"logger" json:"logger"`
}

type CacheLimits struct {
	MaxEntries      int           `yaml:"max_entries" json:"max_entries" validate:"min=1"`
	MaxBytes        int64         `yaml:"max_bytes" json:"max_bytes" validate:"min=1"`
	EvictionPolicy  string        `yaml:"eviction_policy" json:"eviction_policy" validate:"oneof=lru lfu ttl adaptive"`
	CleanupInterval time.Duration `yaml:"cleanup_interval" json:"cleanup_interval"`
	DefaultTTL      time.Duration `yaml:"default_ttl" json:"default_ttl"`

	// Adaptive policy tunables. The thresholds are empirical; they are kept
	// configurable rather than hard-coded.
	AdaptiveExpiredRatio float64 `yaml:"adaptive_expired_ratio" json:"adaptive_expired_ratio" validate:"gte=0,lte=1"`
	AdaptiveLowReuse     float64 `yaml:"adaptive_low_reuse" json:"adaptive_low_reuse" validate:"gte=0"`
}

type SchedulerLimits struct {
	MaxConcurrent    int           `yaml:"max_concurrent" json:"max_concurrent" validate:"min=1"`
	MaxQueueLength   int           `yaml:"max_queue_length" json:"max_queue_length" validate:"min=1"`
	TickInterval     time.Duration `yaml:"tick_interval" json:"tick_interval"`
	BatchSize        int           `yaml:"batch_size" json:"batch_size" validate:"min=1"`
	BatchTimeout     time.Duration `yaml:"batch_timeout" json:"batch_timeout"`
	ThrottleInterval time.Duration `yaml:"throttle_interval" json:"throttle_interval"`
	ThrottleWorkers  int           `yaml:"throttle_workers" json:"throttle_workers" validate:"min=1"`
}

type MonitorLimits struct {
	MaxMemoryMB       float64       `yaml:"max_memory_mb" json:"max_memory_mb" validate:"gt=0"`
	WarningThreshold  float64       `yaml:"warning_threshold" json:"warning_threshold" validate:"gt=0,lt=1"`
	CriticalThreshold float64       `yaml:"critical_threshold" json:"critical_threshold" validate:"gt=0,lte=1"`
	SampleInterval    time.Duration `yaml:"sample_interval" json:"sample_interval"`
	HistorySize       int           `yaml:"history_size" json:"history_size" validate:"min=3"`
}

type ResourceLimits struct {
	MaxResources    int           `yaml:"max_resources" json:"max_resources" validate:"min=1"`
	CleanupInterval time.Duration `yaml:"cleanup_interval" json:"cleanup_interval"`
}

type LoggerConfig struct {
	Level  string      `yaml:"level" json:"level"`
	Type   string      `yaml:"type" json:"type"`
	Config interface{} `yaml:"config" json:"config"`
}

func DefaultLimits() *Limits {
	return &Limits{
		Cache: &CacheLimits{
			MaxEntries:           10000,
			MaxBytes:             256 * 1024 * 1024,
			EvictionPolicy:       "adaptive",
			CleanupInterval:      time.Minute,
			DefaultTTL:           0,
			AdaptiveExpiredRatio: 0.5,
			AdaptiveLowReuse:     2,
		},
		Scheduler: &SchedulerLimits{
			MaxConcurrent:    4,
			MaxQueueLength:   1000,
			TickInterval:     10 * time.Millisecond,
			BatchSize:        10,
			BatchTimeout:     100 * time.Millisecond,
			ThrottleInterval: 50 * time.Millisecond,
			ThrottleWorkers:  2,
		},
		Monitor: &MonitorLimits{
			MaxMemoryMB:       512,
			WarningThreshold:  0.6,
			CriticalThreshold: 0.8,
			SampleInterval:    5 * time.Second,
			HistorySize:       100,
		},
		Resources: &ResourceLimits{
			MaxResources:    100,
			CleanupInterval: 30 * time.Second,
		},
		Logger: &LoggerConfig{
			Level: "info",
		},
	}
}
