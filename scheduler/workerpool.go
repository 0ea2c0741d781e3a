package scheduler

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/saiset-co/sai-resource/types"
)

// WorkerPool hands out slot tokens for concurrently-executing background
// jobs. Ids grow monotonically and are unique among active slots.
type WorkerPool struct {
	logger   types.Logger
	capacity int64
	sem      *semaphore.Weighted

	mu     sync.Mutex
	active map[int64]struct{}
	nextID atomic.Int64
}

func NewWorkerPool(logger types.Logger, maxWorkers int) *WorkerPool {
	if maxWorkers < 1 {
		maxWorkers = 1
	}

	return &WorkerPool{
		logger:   logger,
		capacity: int64(maxWorkers),
		sem:      semaphore.NewWeighted(int64(maxWorkers)),
		active:   make(map[int64]struct{}),
	}
}

func (w *WorkerPool) CanStart() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return int64(len(w.active)) < w.capacity
}

// Register acquires a worker slot without blocking. The second return is
// false when the pool is at capacity.
func (w *WorkerPool) Register() (int64, bool) {
	if !w.sem.TryAcquire(1) {
		return 0, false
	}

	id := w.nextID.Add(1)

	w.mu.Lock()
	w.active[id] = struct{}{}
	w.mu.Unlock()

	return id, true
}

func (w *WorkerPool) Unregister(id int64) {
	w.mu.Lock()
	_, exists := w.active[id]
	if exists {
		delete(w.active, id)
	}
	w.mu.Unlock()

	if exists {
		w.sem.Release(1)
	}
}

func (w *WorkerPool) ActiveCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.active)
}

// ForceReset abandons every tracked slot. Only emergency cleanup calls this;
// jobs still running keep executing but their ids are forgotten.
func (w *WorkerPool) ForceReset() {
	w.mu.Lock()
	abandoned := len(w.active)
	w.active = make(map[int64]struct{})
	w.mu.Unlock()

	if abandoned > 0 {
		w.sem.Release(int64(abandoned))
		w.logger.Warn("Worker pool force reset", zap.Int("abandoned_slots", abandoned))
	}
}
