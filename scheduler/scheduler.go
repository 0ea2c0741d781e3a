// Package scheduler orders and paces background work so slow I/O never
// blocks the caller. A single timer-driven tick loop decides what to
// dispatch; task bodies run on a bounded worker pool.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
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

type Scheduler struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger types.Logger
	limits *types.SchedulerLimits

	workers  types.WorkerPool
	debounce *DebounceManager
	batch    *BatchUpdater

	mu    sync.Mutex
	queue []*types.Task

	cancelFlag atomic.Bool
	running    atomic.Int64
	completed  atomic.Uint64
	failed     atomic.Uint64

	state           atomic.Value
	stopPump        chan struct{}
	pumpDone        chan struct{}
	shutdownTimeout time.Duration
}

func NewScheduler(ctx context.Context, logger types.Logger, limits *types.SchedulerLimits, workers types.WorkerPool) (*Scheduler, error) {
	if limits == nil {
		return nil, types.ErrConfigIsNil
	}

	schedulerCtx, cancel := context.WithCancel(ctx)

	s := &Scheduler{
		ctx:             schedulerCtx,
		cancel:          cancel,
		logger:          logger,
		limits:          limits,
		workers:         workers,
		debounce:        NewDebounceManager(),
		batch:           NewBatchUpdater(logger, limits.BatchSize, limits.BatchTimeout),
		queue:           make([]*types.Task, 0, 64),
		stopPump:        make(chan struct{}),
		pumpDone:        make(chan struct{}),
		shutdownTimeout: 10 * time.Second,
	}

	s.state.Store(StateStopped)

	return s, nil
}

func (s *Scheduler) Start() error {
	if !s.transitionState(StateStopped, StateStarting) {
		s.logger.Warn("Scheduler is already running")
		return types.ErrAlreadyRunning
	}

	defer func() {
		if s.getState() == StateStarting {
			s.setState(StateRunning)
		}
	}()

	go s.pump()

	s.logger.Info("Scheduler started",
		zap.Int("max_concurrent", s.limits.MaxConcurrent),
		zap.Int("max_queue_length", s.limits.MaxQueueLength),
		zap.Duration("tick_interval", s.limits.TickInterval))
	return nil
}

func (s *Scheduler) Stop() error {
	if !s.transitionState(StateRunning, StateStopping) {
		s.logger.Warn("Scheduler is not running")
		return types.ErrNotRunning
	}

	defer func() {
		s.setState(StateStopped)
	}()

	s.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		select {
		case s.stopPump <- struct{}{}:
		case <-time.After(time.Second):
		}

		select {
		case <-s.pumpDone:
		case <-gCtx.Done():
			s.logger.Warn("Scheduler pump stop timeout")
		}
		return nil
	})

	g.Go(func() error {
		s.batch.ForceFlush()

		s.mu.Lock()
		dropped := len(s.queue)
		s.queue = s.queue[:0]
		s.mu.Unlock()

		if dropped > 0 {
			s.logger.Info("Scheduler queue dropped on stop", zap.Int("dropped_tasks", dropped))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		s.logger.Error("Error during scheduler shutdown", zap.Error(err))
	} else {
		s.logger.Info("Scheduler stopped gracefully")
	}

	return nil
}

func (s *Scheduler) IsRunning() bool {
	return s.getState() == StateRunning
}

// Schedule enqueues a task for priority dispatch. It returns false and
// leaves the task untouched when the queue ceiling is reached; the caller
// decides whether to retry or drop.
func (s *Scheduler) Schedule(task *types.Task) bool {
	if task == nil || task.Fn == nil {
		return false
	}
	if !s.IsRunning() {
		return false
	}

	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.queue) >= s.limits.MaxQueueLength {
		s.logger.Warn("Task rejected, queue full",
			zap.String("task_id", task.ID),
			zap.Int("queue_length", len(s.queue)))
		return false
	}

	s.insertLocked(task)
	return true
}

// Debounce coalesces repeated calls for the same operation id; only the
// function from the last call in a burst fires, delay after that call.
func (s *Scheduler) Debounce(operationID string, fn func(), delay time.Duration) {
	s.debounce.Debounce(operationID, fn, delay)
}

func (s *Scheduler) AddToBatch(fn func()) {
	s.batch.Add(fn)
}

func (s *Scheduler) FlushBatch() {
	s.batch.ForceFlush()
}

func (s *Scheduler) QueueLength() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func (s *Scheduler) ActiveWorkers() int {
	return int(s.running.Load())
}

// CompletedTasks is the cumulative count of tasks that finished without error.
func (s *Scheduler) CompletedTasks() uint64 {
	return s.completed.Load()
}

// FailedTasks is the cumulative count of tasks that returned an error or
// panicked.
func (s *Scheduler) FailedTasks() uint64 {
	return s.failed.Load()
}

// CancelAll drops the pending queue and raises the cooperative cancellation
// flag for running tasks. The flag clears once the scheduler drains.
func (s *Scheduler) CancelAll() {
	s.cancelFlag.Store(true)

	s.mu.Lock()
	dropped := len(s.queue)
	s.queue = s.queue[:0]
	s.mu.Unlock()

	s.logger.Info("All scheduled tasks cancelled", zap.Int("dropped_tasks", dropped))
}

// insertLocked keeps the queue in strict priority order, FIFO within one
// level, via linear scan. Pending UI workloads stay in the hundreds, so the
// scan is cheaper than maintaining a heap.
func (s *Scheduler) insertLocked(task *types.Task) {
	idx := len(s.queue)
	for i, queued := range s.queue {
		if task.Priority < queued.Priority {
			idx = i
			break
		}
	}

	s.queue = append(s.queue, nil)
	copy(s.queue[idx+1:], s.queue[idx:])
	s.queue[idx] = task
}

// pump is the cooperative dispatch loop. Each tick dispatches as many queued
// tasks as worker slots allow, then evaluates pending debounce deadlines and
// the batch timeout. The tick never blocks on work.
func (s *Scheduler) pump() {
	defer close(s.pumpDone)

	ticker := time.NewTicker(s.limits.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.stopPump:
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *Scheduler) tick() {
	now := time.Now()

	s.dispatchPass()

	for _, fn := range s.debounce.due(now) {
		s.safeRun(fn)
	}

	s.batch.flushDue(now)

	if s.cancelFlag.Load() && s.running.Load() == 0 && s.QueueLength() == 0 {
		s.cancelFlag.Store(false)
	}
}

func (s *Scheduler) dispatchPass() {
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			return
		}

		workerID, ok := s.workers.Register()
		if !ok {
			// No slot free; resume on the next tick.
			s.mu.Unlock()
			return
		}

		task := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		s.running.Add(1)
		go s.execute(task, workerID)
	}
}

// execute runs one task on its worker slot. Panics and errors are caught at
// this boundary, routed to the task's error callback and never reach the
// pump or sibling tasks.
func (s *Scheduler) execute(task *types.Task, workerID int64) {
	defer func() {
		s.running.Add(-1)
		s.workers.Unregister(workerID)
	}()

	defer func() {
		if r := recover(); r != nil {
			err := errors.Errorf("task panicked: %v", r)
			s.failed.Add(1)
			s.logger.Error("Task panicked",
				zap.String("task_id", task.ID),
				zap.Any("panic", r))
			if task.OnError != nil {
				task.OnError(err)
			}
		}
	}()

	result, err := task.Fn(s.cancelFlag.Load)
	if err != nil {
		s.failed.Add(1)
		s.logger.Warn("Task failed",
			zap.String("task_id", task.ID),
			zap.String("priority", task.Priority.String()),
			zap.Error(err))
		if task.OnError != nil {
			task.OnError(err)
		}
		return
	}

	s.completed.Add(1)
	if task.OnComplete != nil {
		task.OnComplete(result)
	}
}

func (s *Scheduler) safeRun(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Debounced callback panicked", zap.Any("panic", r))
		}
	}()
	fn()
}

func (s *Scheduler) getState() State {
	return s.state.Load().(State)
}

func (s *Scheduler) setState(newState State) bool {
	currentState := s.getState()
	return s.state.CompareAndSwap(currentState, newState)
}

func (s *Scheduler) transitionState(from, to State) bool {
	return s.state.CompareAndSwap(from, to)
}
