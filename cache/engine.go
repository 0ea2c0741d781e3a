// Package cache implements the multi-pool cache engine. Pools are
// independent key spaces sharing one global size and entry budget; eviction
// is policy-driven and targets the largest pools first so small hot pools
// survive pressure from big ones.
package cache

import (
	"context"
	"sort"
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

// evictionSlack over-frees bytes by 20% so the very next put does not
// immediately re-trigger eviction.
const evictionSlack = 1.2

// maxPoolShare caps how much of a single pool one eviction pass may remove.
const maxPoolShare = 0.3

type pool struct {
	name    string
	entries map[string]*types.CacheEntry

	hits      uint64
	misses    uint64
	evictions uint64
	size      int64

	avgAccessNanos int64
}

type Engine struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger types.Logger
	limits *types.CacheLimits

	selector   victimSelector
	pools      map[string]*pool
	estimators []types.SizeEstimator

	totalSize    int64
	totalEntries int
	sequence     uint64

	mu              sync.Mutex
	state           atomic.Value
	stopCleanup     chan struct{}
	cleanupDone     chan struct{}
	shutdownTimeout time.Duration
}

func NewEngine(ctx context.Context, logger types.Logger, limits *types.CacheLimits) (*Engine, error) {
	if limits == nil {
		return nil, types.ErrConfigIsNil
	}

	engineCtx, cancel := context.WithCancel(ctx)

	engine := &Engine{
		ctx:             engineCtx,
		cancel:          cancel,
		logger:          logger,
		limits:          limits,
		selector:        selectorFor(types.EvictionPolicy(limits.EvictionPolicy), limits),
		pools:           make(map[string]*pool),
		stopCleanup:     make(chan struct{}),
		cleanupDone:     make(chan struct{}),
		shutdownTimeout: 10 * time.Second,
	}

	engine.state.Store(StateStopped)

	return engine, nil
}

func (e *Engine) Start() error {
	if !e.transitionState(StateStopped, StateStarting) {
		e.logger.Warn("Cache engine is already running")
		return types.ErrAlreadyRunning
	}

	defer func() {
		if e.getState() == StateStarting {
			e.setState(StateRunning)
		}
	}()

	if e.limits.CleanupInterval > 0 {
		go e.cleanupRoutine()
	} else {
		close(e.cleanupDone)
	}

	e.logger.Info("Cache engine started",
		zap.String("policy", e.limits.EvictionPolicy),
		zap.Int("max_entries", e.limits.MaxEntries),
		zap.Int64("max_bytes", e.limits.MaxBytes))
	return nil
}

func (e *Engine) Stop() error {
	if !e.transitionState(StateRunning, StateStopping) {
		e.logger.Warn("Cache engine is not running")
		return types.ErrNotRunning
	}

	defer func() {
		e.setState(StateStopped)
	}()

	e.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), e.shutdownTimeout)
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		select {
		case e.stopCleanup <- struct{}{}:
		case <-time.After(time.Second):
		}

		select {
		case <-e.cleanupDone:
		case <-gCtx.Done():
			e.logger.Warn("Cache cleanup routine stop timeout")
		}
		return nil
	})

	g.Go(func() error {
		e.mu.Lock()
		cleared := e.totalEntries
		e.pools = make(map[string]*pool)
		e.totalSize = 0
		e.totalEntries = 0
		e.mu.Unlock()

		e.logger.Info("Cache engine cleared", zap.Int("cleared_entries", cleared))
		return nil
	})

	if err := g.Wait(); err != nil {
		e.logger.Error("Error during cache engine shutdown", zap.Error(err))
	} else {
		e.logger.Info("Cache engine stopped gracefully")
	}

	return nil
}

func (e *Engine) IsRunning() bool {
	return e.getState() == StateRunning
}

// RegisterEstimator adds a per-value-type size hook consulted before the
// built-in estimates. Estimators must be registered before concurrent use.
func (e *Engine) RegisterEstimator(estimator types.SizeEstimator) {
	if estimator == nil {
		return
	}

	e.mu.Lock()
	e.estimators = append(e.estimators, estimator)
	e.mu.Unlock()
}

func (e *Engine) Put(poolName, key string, value interface{}, sizeBytes int64, ttl time.Duration) error {
	if poolName == "" {
		return types.ErrCachePoolEmpty
	}
	if key == "" {
		e.logger.Error("Attempted to cache entry with empty key", zap.String("pool", poolName))
		return types.ErrCacheKeyEmpty
	}
	if value == nil {
		return types.ErrCacheValueIsNil
	}

	if ttl <= 0 {
		ttl = e.limits.DefaultTTL
	}

	now := time.Now()

	e.mu.Lock()
	defer e.mu.Unlock()

	if sizeBytes <= 0 {
		sizeBytes = estimateSize(value, e.estimators)
	}

	p := e.getOrCreatePool(poolName)

	projectedSize := e.totalSize + sizeBytes
	projectedEntries := e.totalEntries + 1
	if old, exists := p.entries[key]; exists {
		projectedSize -= old.SizeBytes
		projectedEntries--
	}

	if projectedSize > e.limits.MaxBytes || projectedEntries > e.limits.MaxEntries {
		e.evictLocked(projectedSize, projectedEntries, now)
	}

	if old, exists := p.entries[key]; exists {
		p.size -= old.SizeBytes
		e.totalSize -= old.SizeBytes
		e.totalEntries--
	}

	e.sequence++
	p.entries[key] = &types.CacheEntry{
		Key:        key,
		Value:      value,
		SizeBytes:  sizeBytes,
		CreatedAt:  now,
		AccessedAt: now,
		TTL:        ttl,
		Sequence:   e.sequence,
	}
	p.size += sizeBytes
	e.totalSize += sizeBytes
	e.totalEntries++

	return nil
}

func (e *Engine) Get(poolName, key string) (interface{}, bool) {
	start := time.Now()

	e.mu.Lock()
	defer e.mu.Unlock()

	p := e.getOrCreatePool(poolName)

	entry, exists := p.entries[key]
	if !exists {
		p.misses++
		return nil, false
	}

	if entry.Expired(start) {
		e.removeEntryLocked(p, key, entry)
		p.misses++
		return nil, false
	}

	entry.AccessCount++
	entry.AccessedAt = time.Now()
	p.hits++
	p.observeAccess(time.Since(start))

	return entry.Value, true
}

func (e *Engine) Remove(poolName, key string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, exists := e.pools[poolName]
	if !exists {
		return false
	}

	entry, exists := p.entries[key]
	if !exists {
		return false
	}

	e.removeEntryLocked(p, key, entry)
	return true
}

// Clear drops all entries from the named pools, or from every pool when none
// are named. Hit and miss counters survive a clear.
func (e *Engine) Clear(poolNames ...string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(poolNames) == 0 {
		for _, p := range e.pools {
			e.clearPoolLocked(p)
		}
		return
	}

	for _, name := range poolNames {
		if p, exists := e.pools[name]; exists {
			e.clearPoolLocked(p)
		}
	}
}

func (e *Engine) Stats(poolName string) (types.CacheStats, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, exists := e.pools[poolName]
	if !exists {
		return types.CacheStats{}, false
	}

	return p.snapshot(), true
}

func (e *Engine) GlobalStats() types.CacheStats {
	e.mu.Lock()
	defer e.mu.Unlock()

	stats := types.CacheStats{
		TotalSizeBytes: e.totalSize,
		EntryCount:     e.totalEntries,
	}

	var latencySum int64
	var latencyPools int64
	for _, p := range e.pools {
		stats.Hits += p.hits
		stats.Misses += p.misses
		stats.Evictions += p.evictions
		if p.avgAccessNanos > 0 {
			latencySum += p.avgAccessNanos
			latencyPools++
		}
	}

	if latencyPools > 0 {
		stats.AvgAccessTime = time.Duration(latencySum / latencyPools)
	}

	return stats
}

func (e *Engine) PoolNames() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	names := make([]string, 0, len(e.pools))
	for name := range e.pools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (e *Engine) getOrCreatePool(name string) *pool {
	if p, exists := e.pools[name]; exists {
		return p
	}

	p := &pool{
		name:    name,
		entries: make(map[string]*types.CacheEntry),
	}
	e.pools[name] = p
	return p
}

// evictLocked frees budget for an incoming entry. Byte target carries 20%
// slack; entry target frees exactly the overshoot. Pools are drained largest
// first, each pass taking at most 30% of a pool, until the targets are met
// or a full pass frees nothing.
func (e *Engine) evictLocked(projectedSize int64, projectedEntries int, now time.Time) {
	var targetBytes int64
	if projectedSize > e.limits.MaxBytes {
		targetBytes = int64(evictionSlack * float64(projectedSize-e.limits.MaxBytes))
	}

	targetEntries := 0
	if projectedEntries > e.limits.MaxEntries {
		targetEntries = projectedEntries - e.limits.MaxEntries
	}

	freedBytes := int64(0)
	freedEntries := 0

	// The incoming entry is inserted right after this returns, so draining
	// down to zero existing entries still leaves the cache non-empty.
	for freedBytes < targetBytes || freedEntries < targetEntries {
		if e.totalEntries == 0 {
			break
		}

		freedAny := false

		for _, p := range e.poolsBySizeDesc() {
			if freedBytes >= targetBytes && freedEntries >= targetEntries {
				break
			}
			if len(p.entries) == 0 {
				continue
			}

			quota := int(maxPoolShare * float64(len(p.entries)))
			if quota == 0 {
				quota = 1
			}

			for _, victim := range e.selector(p.entries, quota, now) {
				if freedBytes >= targetBytes && freedEntries >= targetEntries {
					break
				}
				if e.totalEntries == 0 {
					break
				}

				freedBytes += victim.SizeBytes
				freedEntries++
				e.removeEntryLocked(p, victim.Key, victim)
				p.evictions++
				freedAny = true
			}
		}

		if !freedAny {
			break
		}
	}

	if freedEntries > 0 {
		e.logger.Debug("Cache eviction completed",
			zap.Int("evicted_entries", freedEntries),
			zap.Int64("evicted_bytes", freedBytes))
	}
}

func (e *Engine) poolsBySizeDesc() []*pool {
	ordered := make([]*pool, 0, len(e.pools))
	for _, p := range e.pools {
		ordered = append(ordered, p)
	}
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].size > ordered[j].size
	})
	return ordered
}

func (e *Engine) removeEntryLocked(p *pool, key string, entry *types.CacheEntry) {
	delete(p.entries, key)
	p.size -= entry.SizeBytes
	e.totalSize -= entry.SizeBytes
	e.totalEntries--
}

func (e *Engine) clearPoolLocked(p *pool) {
	e.totalSize -= p.size
	e.totalEntries -= len(p.entries)
	p.entries = make(map[string]*types.CacheEntry)
	p.size = 0
}

// SweepExpired removes entries whose TTL elapsed and reports how many were
// dropped. Expiry removal is not counted as an eviction.
func (e *Engine) SweepExpired() int {
	now := time.Now()

	e.mu.Lock()
	defer e.mu.Unlock()

	removed := 0
	for _, p := range e.pools {
		for key, entry := range p.entries {
			if entry.Expired(now) {
				e.removeEntryLocked(p, key, entry)
				removed++
			}
		}
	}

	return removed
}

func (e *Engine) cleanupRoutine() {
	defer close(e.cleanupDone)

	ticker := time.NewTicker(e.limits.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-e.stopCleanup:
			return
		case <-ticker.C:
			if removed := e.SweepExpired(); removed > 0 {
				e.logger.Debug("Cache cleanup completed", zap.Int("expired_entries", removed))
			}
		}
	}
}

func (e *Engine) getState() State {
	return e.state.Load().(State)
}

func (e *Engine) setState(newState State) bool {
	currentState := e.getState()
	return e.state.CompareAndSwap(currentState, newState)
}

func (e *Engine) transitionState(from, to State) bool {
	return e.state.CompareAndSwap(from, to)
}

func (p *pool) observeAccess(d time.Duration) {
	if p.avgAccessNanos == 0 {
		p.avgAccessNanos = d.Nanoseconds()
		return
	}
	p.avgAccessNanos += (d.Nanoseconds() - p.avgAccessNanos) / 8
}

func (p *pool) snapshot() types.CacheStats {
	return types.CacheStats{
		Pool:           p.name,
		Hits:           p.hits,
		Misses:         p.misses,
		Evictions:      p.evictions,
		TotalSizeBytes: p.size,
		EntryCount:     len(p.entries),
		AvgAccessTime:  time.Duration(p.avgAccessNanos),
	}
}
