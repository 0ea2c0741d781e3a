// Package monitor samples process memory on an interval, classifies the
// reading against warning/critical thresholds and asks the owning resource
// manager for cleanup when pressure turns critical. Sampling is best-effort:
// a failing sampler degrades to zero readings and is never fatal.
package monitor

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/saiset-co/sai-resource/types"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

// trendWindow is how many samples back the trend comparison reaches.
const trendWindow = 3

// trendThreshold is the relative change that separates a stable reading from
// an increasing or decreasing one.
const trendThreshold = 0.10

// UsageStats lets the owning manager contribute worker and cache figures to
// each snapshot without the monitor holding their locks.
type UsageStats func() (activeWorkers int, cacheBytes int64, cacheEntries int, hitRate float64)

type Monitor struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger types.Logger
	limits *types.MonitorLimits

	sampler types.MemorySampler
	usage   UsageStats

	mu         sync.Mutex
	history    []types.MemorySnapshot
	next       int
	count      int
	onCritical []func()

	pressure        atomic.Int32
	samplerWarned   atomic.Bool
	state           atomic.Value
	stopChan        chan struct{}
	loopDone        chan struct{}
	shutdownTimeout time.Duration
}

func NewMonitor(ctx context.Context, logger types.Logger, limits *types.MonitorLimits, usage UsageStats) (*Monitor, error) {
	if limits == nil {
		return nil, types.ErrConfigIsNil
	}

	historySize := limits.HistorySize
	if historySize < trendWindow {
		historySize = trendWindow
	}

	monitorCtx, cancel := context.WithCancel(ctx)

	m := &Monitor{
		ctx:             monitorCtx,
		cancel:          cancel,
		logger:          logger,
		limits:          limits,
		sampler:         runtimeSampler,
		usage:           usage,
		history:         make([]types.MemorySnapshot, historySize),
		stopChan:        make(chan struct{}),
		loopDone:        make(chan struct{}),
		shutdownTimeout: 10 * time.Second,
	}

	m.state.Store(StateStopped)
	m.pressure.Store(int32(types.PressureNormal))

	return m, nil
}

// SetSampler replaces the default runtime-based memory sampler. Must be
// called before Start.
func (m *Monitor) SetSampler(sampler types.MemorySampler) {
	if sampler != nil {
		m.sampler = sampler
	}
}

// OnCritical registers a callback invoked each time pressure enters the
// critical state. Callbacks run synchronously on the sampling goroutine.
func (m *Monitor) OnCritical(fn func()) {
	if fn == nil {
		return
	}

	m.mu.Lock()
	m.onCritical = append(m.onCritical, fn)
	m.mu.Unlock()
}

func (m *Monitor) Start() error {
	if !m.transitionState(StateStopped, StateStarting) {
		m.logger.Warn("Resource monitor is already running")
		return types.ErrAlreadyRunning
	}

	defer func() {
		if m.getState() == StateStarting {
			m.setState(StateRunning)
		}
	}()

	go m.sampleLoop()

	m.logger.Info("Resource monitor started",
		zap.Float64("max_memory_mb", m.limits.MaxMemoryMB),
		zap.Duration("sample_interval", m.limits.SampleInterval))
	return nil
}

func (m *Monitor) Stop() error {
	if !m.transitionState(StateRunning, StateStopping) {
		m.logger.Warn("Resource monitor is not running")
		return types.ErrNotRunning
	}

	defer func() {
		m.setState(StateStopped)
	}()

	m.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), m.shutdownTimeout)
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		select {
		case m.stopChan <- struct{}{}:
		case <-time.After(time.Second):
		}

		select {
		case <-m.loopDone:
		case <-gCtx.Done():
			m.logger.Warn("Monitor sample loop stop timeout")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		m.logger.Error("Error during monitor shutdown", zap.Error(err))
	} else {
		m.logger.Info("Resource monitor stopped gracefully")
	}

	return nil
}

func (m *Monitor) IsRunning() bool {
	return m.getState() == StateRunning
}

func (m *Monitor) Pressure() types.PressureLevel {
	return types.PressureLevel(m.pressure.Load())
}

// Sample takes one reading immediately, outside the normal interval, and
// returns the resulting snapshot.
func (m *Monitor) Sample() types.MemorySnapshot {
	memMB, err := m.sampler()
	if err != nil {
		// Best-effort monitoring: degrade to a zero reading, log once.
		if m.samplerWarned.CompareAndSwap(false, true) {
			m.logger.Warn("Memory sampler unavailable, readings degrade to zero", zap.Error(err))
		}
		memMB = 0
	}

	snapshot := types.MemorySnapshot{
		Timestamp: time.Now(),
		MemoryMB:  memMB,
	}

	if m.usage != nil {
		snapshot.ActiveWorkers, snapshot.CacheBytes, snapshot.CacheEntries, snapshot.CacheHitRate = m.usage()
	}

	m.mu.Lock()
	m.history[m.next] = snapshot
	m.next = (m.next + 1) % len(m.history)
	if m.count < len(m.history) {
		m.count++
	}
	callbacks := m.classifyLocked(memMB)
	m.mu.Unlock()

	for _, fn := range callbacks {
		m.safeNotify(fn)
	}

	return snapshot
}

// Latest returns the most recent snapshot, second return false before the
// first sample.
func (m *Monitor) Latest() (types.MemorySnapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.count == 0 {
		return types.MemorySnapshot{}, false
	}

	idx := (m.next - 1 + len(m.history)) % len(m.history)
	return m.history[idx], true
}

// History returns the retained snapshots, oldest first.
func (m *Monitor) History() []types.MemorySnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]types.MemorySnapshot, 0, m.count)
	start := (m.next - m.count + len(m.history)) % len(m.history)
	for i := 0; i < m.count; i++ {
		out = append(out, m.history[(start+i)%len(m.history)])
	}
	return out
}

// Trend compares the latest sample against the one three samples back.
func (m *Monitor) Trend() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.count < trendWindow {
		return types.TrendInsufficientData
	}

	latestIdx := (m.next - 1 + len(m.history)) % len(m.history)
	pastIdx := (m.next - trendWindow + len(m.history)) % len(m.history)

	latest := m.history[latestIdx].MemoryMB
	past := m.history[pastIdx].MemoryMB

	if past <= 0 {
		if latest > 0 {
			return types.TrendIncreasing
		}
		return types.TrendStable
	}

	change := (latest - past) / past
	switch {
	case change > trendThreshold:
		return types.TrendIncreasing
	case change < -trendThreshold:
		return types.TrendDecreasing
	default:
		return types.TrendStable
	}
}

// classifyLocked updates the pressure state machine and returns the critical
// callbacks to fire, if the critical boundary was just crossed.
func (m *Monitor) classifyLocked(memMB float64) []func() {
	previous := types.PressureLevel(m.pressure.Load())

	level := types.PressureNormal
	switch {
	case memMB > m.limits.CriticalThreshold*m.limits.MaxMemoryMB:
		level = types.PressureCritical
	case memMB > m.limits.WarningThreshold*m.limits.MaxMemoryMB:
		level = types.PressureWarning
	}

	m.pressure.Store(int32(level))

	if level == previous {
		return nil
	}

	m.logger.Info("Memory pressure changed",
		zap.String("from", previous.String()),
		zap.String("to", level.String()),
		zap.Float64("memory_mb", memMB))

	if level == types.PressureCritical {
		return append([]func(){}, m.onCritical...)
	}
	return nil
}

func (m *Monitor) sampleLoop() {
	defer close(m.loopDone)

	ticker := time.NewTicker(m.limits.SampleInterval)
	defer ticker.Stop()

	m.Sample()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-m.stopChan:
			return
		case <-ticker.C:
			m.Sample()
		}
	}
}

func (m *Monitor) safeNotify(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Critical pressure callback panicked", zap.Any("panic", r))
		}
	}()
	fn()
}

func (m *Monitor) getState() State {
	return m.state.Load().(State)
}

func (m *Monitor) setState(newState State) bool {
	currentState := m.getState()
	return m.state.CompareAndSwap(currentState, newState)
}

func (m *Monitor) transitionState(from, to State) bool {
	return m.state.CompareAndSwap(from, to)
}

// runtimeSampler reports the Go heap in MB. The runtime figure undercounts
// the OS view but tracks the same shape, which is all the thresholds need.
func runtimeSampler() (float64, error) {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	return float64(stats.HeapAlloc) / (1024 * 1024), nil
}
