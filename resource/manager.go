// Package resource is the composition root of the library. The Manager owns
// the cache engine, schedulers, worker pool and memory monitor, tracks
// externally-registered cleanables through explicit handles, and drives both
// periodic and emergency cleanup across all of them.
package resource

import (
	"context"
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/saiset-co/sai-resource/cache"
	"github.com/saiset-co/sai-resource/metrics"
	"github.com/saiset-co/sai-resource/monitor"
	"github.com/saiset-co/sai-resource/scheduler"
	"github.com/saiset-co/sai-resource/types"
	"github.com/saiset-co/sai-resource/utils"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

// emergencyGCPasses is how many collection cycles an emergency cleanup runs
// before returning memory to the OS.
const emergencyGCPasses = 2

type Manager struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger types.Logger
	limits *types.Limits

	cacheEngine *cache.Engine
	workers     *scheduler.WorkerPool
	taskSched   *scheduler.Scheduler
	throttled   *scheduler.ThrottledDispatcher
	memMonitor  *monitor.Monitor
	prom        *metrics.PrometheusMetrics
	cron        *cron.Cron

	mu         sync.Mutex
	resources  map[types.Handle]types.Cleanable
	nextHandle uint64

	state           atomic.Value
	shutdownTimeout time.Duration
}

func NewManager(ctx context.Context, logger types.Logger, limits *types.Limits) (*Manager, error) {
	if limits == nil {
		limits = types.DefaultLimits()
	}

	managerCtx, cancel := context.WithCancel(ctx)

	m := &Manager{
		ctx:             managerCtx,
		cancel:          cancel,
		logger:          logger,
		limits:          limits,
		resources:       make(map[types.Handle]types.Cleanable),
		shutdownTimeout: 10 * time.Second,
	}

	cacheEngine, err := cache.NewEngine(managerCtx, logger, limits.Cache)
	if err != nil {
		cancel()
		return nil, types.WrapError(err, "failed to create cache engine")
	}
	m.cacheEngine = cacheEngine

	m.workers = scheduler.NewWorkerPool(logger, limits.Scheduler.MaxConcurrent)

	taskSched, err := scheduler.NewScheduler(managerCtx, logger, limits.Scheduler, m.workers)
	if err != nil {
		cancel()
		return nil, types.WrapError(err, "failed to create scheduler")
	}
	m.taskSched = taskSched

	m.throttled = scheduler.NewThrottledDispatcher(managerCtx, logger, limits.Scheduler)

	memMonitor, err := monitor.NewMonitor(managerCtx, logger, limits.Monitor, m.usageStats)
	if err != nil {
		cancel()
		return nil, types.WrapError(err, "failed to create resource monitor")
	}
	memMonitor.OnCritical(m.emergencyCleanup)
	m.memMonitor = memMonitor

	m.prom = metrics.NewPrometheusMetrics(logger, nil)

	cronL := safeCronLogger{logger: logger}
	m.cron = cron.New(
		cron.WithSeconds(),
		cron.WithChain(cron.Recover(cronL)),
	)

	m.state.Store(StateStopped)

	return m, nil
}

func (m *Manager) Start() error {
	if !m.transitionState(StateStopped, StateStarting) {
		m.logger.Warn("Resource manager is already running")
		return types.ErrAlreadyRunning
	}

	defer func() {
		if m.getState() == StateStarting {
			m.setState(StateRunning)
		}
	}()

	g, _ := errgroup.WithContext(m.ctx)

	g.Go(m.cacheEngine.Start)
	g.Go(m.taskSched.Start)
	g.Go(m.memMonitor.Start)

	if err := g.Wait(); err != nil {
		m.setState(StateStopped)
		return types.WrapError(err, "failed to start resource manager")
	}

	cleanupSpec := fmt.Sprintf("@every %s", m.limits.Resources.CleanupInterval)
	if _, err := m.cron.AddFunc(cleanupSpec, m.periodicCleanup); err != nil {
		m.setState(StateStopped)
		return types.WrapError(err, "failed to schedule periodic cleanup")
	}

	observeSpec := fmt.Sprintf("@every %s", m.limits.Monitor.SampleInterval)
	if _, err := m.cron.AddFunc(observeSpec, m.observeMetrics); err != nil {
		m.setState(StateStopped)
		return types.WrapError(err, "failed to schedule metrics observation")
	}

	m.cron.Start()

	m.logger.Info("Resource manager started",
		zap.Int("max_resources", m.limits.Resources.MaxResources),
		zap.Duration("cleanup_interval", m.limits.Resources.CleanupInterval))
	return nil
}

func (m *Manager) Stop() error {
	if !m.transitionState(StateRunning, StateStopping) {
		m.logger.Warn("Resource manager is not running")
		return types.ErrNotRunning
	}

	defer func() {
		m.setState(StateStopped)
		m.cancel()
	}()

	cronCtx := m.cron.Stop()
	select {
	case <-cronCtx.Done():
	case <-time.After(m.shutdownTimeout):
		m.logger.Warn("Cron jobs stop timeout")
	}

	g, _ := errgroup.WithContext(context.Background())

	g.Go(m.memMonitor.Stop)
	g.Go(m.taskSched.Stop)
	g.Go(m.cacheEngine.Stop)

	if err := g.Wait(); err != nil {
		m.logger.Error("Error during resource manager shutdown", zap.Error(err))
		return err
	}

	m.logger.Info("Resource manager stopped gracefully")
	return nil
}

func (m *Manager) IsRunning() bool {
	return m.getState() == StateRunning
}

// RegisterResource adds an externally-owned resource to the cleanup registry.
// Registration is rejected once the configured capacity is reached. The
// manager never controls the resource's lifetime; callers that forget to
// Unregister leak a registry slot.
func (m *Manager) RegisterResource(resource types.Cleanable) (types.Handle, bool) {
	if resource == nil {
		return 0, false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.resources) >= m.limits.Resources.MaxResources {
		m.logger.Warn("Resource registration rejected, registry full",
			zap.Int("max_resources", m.limits.Resources.MaxResources))
		return 0, false
	}

	m.nextHandle++
	handle := types.Handle(m.nextHandle)
	m.resources[handle] = resource

	return handle, true
}

func (m *Manager) UnregisterResource(handle types.Handle) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.resources[handle]; !exists {
		return false
	}

	delete(m.resources, handle)
	return true
}

func (m *Manager) IsAtCapacity() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.resources) >= m.limits.Resources.MaxResources
}

func (m *Manager) RegisterWorker() (int64, bool) {
	return m.workers.Register()
}

func (m *Manager) UnregisterWorker(id int64) {
	m.workers.Unregister(id)
}

// Statistics takes a fresh memory sample and returns the combined snapshot.
func (m *Manager) Statistics() types.MemorySnapshot {
	return m.memMonitor.Sample()
}

func (m *Manager) StatisticsJSON() ([]byte, error) {
	return utils.Marshal(m.Statistics())
}

// ForceCleanupNow runs the emergency path immediately, regardless of the
// current pressure level.
func (m *Manager) ForceCleanupNow() {
	m.emergencyCleanup()
}

func (m *Manager) Cache() types.CacheEngine {
	return m.cacheEngine
}

func (m *Manager) Scheduler() types.TaskScheduler {
	return m.taskSched
}

func (m *Manager) Throttled() *scheduler.ThrottledDispatcher {
	return m.throttled
}

func (m *Manager) Monitor() *monitor.Monitor {
	return m.memMonitor
}

func (m *Manager) Metrics() *metrics.PrometheusMetrics {
	return m.prom
}

func (m *Manager) Workers() types.WorkerPool {
	return m.workers
}

// periodicCleanup is the routine pass: drop expired cache entries, give every
// registered resource a chance to shed state, reclaim garbage.
func (m *Manager) periodicCleanup() {
	expired := m.cacheEngine.SweepExpired()
	cleaned := m.cleanupResources()
	runtime.GC()

	m.prom.CountCleanup("periodic")

	m.logger.Debug("Periodic cleanup completed",
		zap.Int("expired_entries", expired),
		zap.Int("resources_cleaned", cleaned))
}

// emergencyCleanup is the aggressive pass triggered on critical memory
// pressure: every registered resource is cleaned, all cache pools are
// dropped, pending throttled work is cancelled, the worker pool is reset and
// memory is returned to the OS.
func (m *Manager) emergencyCleanup() {
	m.logger.Warn("Emergency cleanup triggered")

	cleaned := m.cleanupResources()
	m.cacheEngine.Clear()
	m.throttled.CancelPending()
	m.workers.ForceReset()

	for i := 0; i < emergencyGCPasses; i++ {
		runtime.GC()
	}
	debug.FreeOSMemory()

	m.prom.CountCleanup("emergency")

	m.logger.Warn("Emergency cleanup completed", zap.Int("resources_cleaned", cleaned))
}

// cleanupResources invokes every registered cleanup capability. A panicking
// resource is logged and skipped so it cannot block cleanup of the rest.
func (m *Manager) cleanupResources() int {
	m.mu.Lock()
	snapshot := make(map[types.Handle]types.Cleanable, len(m.resources))
	for handle, resource := range m.resources {
		snapshot[handle] = resource
	}
	m.mu.Unlock()

	cleaned := 0
	for handle, resource := range snapshot {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.logger.Error("Resource cleanup panicked",
						zap.Uint64("handle", uint64(handle)),
						zap.Any("panic", r))
				}
			}()
			resource.Cleanup()
			cleaned++
		}()
	}

	return cleaned
}

func (m *Manager) observeMetrics() {
	snapshot, ok := m.memMonitor.Latest()
	if !ok {
		return
	}

	m.prom.Observe(snapshot, m.cacheEngine.GlobalStats(), m.taskSched.QueueLength(), m.memMonitor.Pressure())
	m.prom.ObserveTasks(m.taskSched.CompletedTasks(), m.taskSched.FailedTasks())
}

// usageStats feeds worker and cache figures into monitor snapshots. The
// monitor calls it after the OS memory query, so neither the cache nor the
// scheduler lock is held during sampling.
func (m *Manager) usageStats() (int, int64, int, float64) {
	stats := m.cacheEngine.GlobalStats()
	return m.workers.ActiveCount(), stats.TotalSizeBytes, stats.EntryCount, stats.HitRate()
}

func (m *Manager) getState() State {
	return m.state.Load().(State)
}

func (m *Manager) setState(newState State) bool {
	currentState := m.getState()
	return m.state.CompareAndSwap(currentState, newState)
}

func (m *Manager) transitionState(from, to State) bool {
	return m.state.CompareAndSwap(from, to)
}

type safeCronLogger struct {
	logger types.Logger
}

func (l safeCronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Info(msg, cronFields(keysAndValues)...)
}

func (l safeCronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	fields := append(cronFields(keysAndValues), zap.Error(err))
	l.logger.Error(msg, fields...)
}

func cronFields(keysAndValues []interface{}) []zap.Field {
	fields := make([]zap.Field, 0, len(keysAndValues)/2)
	for i := 0; i < len(keysAndValues)-1; i += 2 {
		key := fmt.Sprintf("%v", keysAndValues[i])
		fields = append(fields, zap.Any(key, keysAndValues[i+1]))
	}
	return fields
}
