package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/saiset-co/sai-resource/types"
)

type throttledTask struct {
	id       string
	priority types.Priority
	fn       func()
}

// ThrottledDispatcher paces recurring background recomputations. Tasks are
// deduplicated by id across the queued and dispatched states, dispatch obeys
// its own concurrency cap plus a minimum inter-dispatch delay, and the pump
// goroutine stops itself when there is nothing left to do.
type ThrottledDispatcher struct {
	ctx     context.Context
	logger  types.Logger
	limits  *types.SchedulerLimits
	limiter *rate.Limiter

	mu          sync.Mutex
	queue       []*throttledTask
	tracked     map[string]struct{}
	active      int
	pumpRunning bool
}

func NewThrottledDispatcher(ctx context.Context, logger types.Logger, limits *types.SchedulerLimits) *ThrottledDispatcher {
	interval := limits.ThrottleInterval
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}

	return &ThrottledDispatcher{
		ctx:     ctx,
		logger:  logger,
		limits:  limits,
		limiter: rate.NewLimiter(rate.Every(interval), 1),
		tracked: make(map[string]struct{}),
	}
}

// Enqueue schedules fn under the task id. A task whose id is already queued
// or dispatched is a no-op and returns false.
func (t *ThrottledDispatcher) Enqueue(id string, priority types.Priority, fn func()) bool {
	if id == "" || fn == nil {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.tracked[id]; exists {
		return false
	}

	task := &throttledTask{id: id, priority: priority, fn: fn}
	t.tracked[id] = struct{}{}

	idx := len(t.queue)
	for i, queued := range t.queue {
		if task.priority < queued.priority {
			idx = i
			break
		}
	}
	t.queue = append(t.queue, nil)
	copy(t.queue[idx+1:], t.queue[idx:])
	t.queue[idx] = task

	if !t.pumpRunning {
		t.pumpRunning = true
		go t.pump()
	}

	return true
}

func (t *ThrottledDispatcher) PendingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.queue)
}

func (t *ThrottledDispatcher) ActiveCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

// CancelPending drops every queued task. Dispatched tasks finish normally.
func (t *ThrottledDispatcher) CancelPending() {
	t.mu.Lock()
	for _, task := range t.queue {
		delete(t.tracked, task.id)
	}
	dropped := len(t.queue)
	t.queue = t.queue[:0]
	t.mu.Unlock()

	if dropped > 0 {
		t.logger.Debug("Throttled tasks cancelled", zap.Int("dropped_tasks", dropped))
	}
}

// pump runs while work remains and exits once the queue and the active set
// are both empty, so an idle dispatcher costs no polling.
func (t *ThrottledDispatcher) pump() {
	interval := t.limits.ThrottleInterval
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.ctx.Done():
			t.mu.Lock()
			t.pumpRunning = false
			t.mu.Unlock()
			return
		case <-ticker.C:
		}

		t.mu.Lock()
		if len(t.queue) == 0 && t.active == 0 {
			t.pumpRunning = false
			t.mu.Unlock()
			return
		}

		for len(t.queue) > 0 && t.active < t.limits.ThrottleWorkers && t.limiter.Allow() {
			task := t.queue[0]
			t.queue = t.queue[1:]
			t.active++
			go t.run(task)
		}
		t.mu.Unlock()
	}
}

func (t *ThrottledDispatcher) run(task *throttledTask) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("Throttled task panicked",
				zap.String("task_id", task.id),
				zap.Any("panic", r))
		}

		t.mu.Lock()
		t.active--
		delete(t.tracked, task.id)
		t.mu.Unlock()
	}()

	task.fn()
}
