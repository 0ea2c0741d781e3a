package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saiset-co/sai-resource/logger"
	"github.com/saiset-co/sai-resource/types"
)

func testLimits() *types.SchedulerLimits {
	return &types.SchedulerLimits{
		MaxConcurrent:    2,
		MaxQueueLength:   64,
		TickInterval:     5 * time.Millisecond,
		BatchSize:        10,
		BatchTimeout:     20 * time.Millisecond,
		ThrottleInterval: 10 * time.Millisecond,
		ThrottleWorkers:  1,
	}
}

func newTestScheduler(t *testing.T, limits *types.SchedulerLimits) *Scheduler {
	t.Helper()

	if limits == nil {
		limits = testLimits()
	}

	log := logger.NewNop()
	s, err := NewScheduler(context.Background(), log, limits, NewWorkerPool(log, limits.MaxConcurrent))
	require.NoError(t, err)
	require.NoError(t, s.Start())
	t.Cleanup(func() {
		_ = s.Stop()
	})
	return s
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met within", timeout)
}

func TestSchedulerExecutesTask(t *testing.T) {
	s := newTestScheduler(t, nil)

	done := make(chan interface{}, 1)
	ok := s.Schedule(&types.Task{
		Fn:         func(func() bool) (interface{}, error) { return 42, nil },
		Priority:   types.PriorityNormal,
		OnComplete: func(result interface{}) { done <- result },
	})
	require.True(t, ok)

	select {
	case result := <-done:
		assert.Equal(t, 42, result)
	case <-time.After(time.Second):
		t.Fatal("task did not complete")
	}

	waitFor(t, time.Second, func() bool { return s.CompletedTasks() == 1 })
	assert.Zero(t, s.FailedTasks())
}

func TestSchedulerConcurrencyCap(t *testing.T) {
	limits := testLimits()
	limits.MaxConcurrent = 2
	s := newTestScheduler(t, limits)

	var current, peak atomic.Int64
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		ok := s.Schedule(&types.Task{
			Fn: func(func() bool) (interface{}, error) {
				defer wg.Done()
				n := current.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(20 * time.Millisecond)
				current.Add(-1)
				return nil, nil
			},
		})
		require.True(t, ok)
	}

	wg.Wait()
	assert.LessOrEqual(t, peak.Load(), int64(2))
}

func TestSchedulerPriorityOrder(t *testing.T) {
	limits := testLimits()
	limits.MaxConcurrent = 1
	s := newTestScheduler(t, limits)

	// Occupy the only worker so subsequent tasks pile up in the queue.
	release := make(chan struct{})
	blocked := make(chan struct{})
	require.True(t, s.Schedule(&types.Task{
		Fn: func(func() bool) (interface{}, error) {
			close(blocked)
			<-release
			return nil, nil
		},
	}))
	<-blocked

	var mu sync.Mutex
	var order []string
	record := func(name string) *types.Task {
		return &types.Task{
			ID: name,
			Fn: func(func() bool) (interface{}, error) {
				mu.Lock()
				order = append(order, name)
				mu.Unlock()
				return nil, nil
			},
		}
	}

	low := record("low")
	low.Priority = types.PriorityLow
	high := record("high")
	high.Priority = types.PriorityHigh
	normal1 := record("normal1")
	normal1.Priority = types.PriorityNormal
	normal2 := record("normal2")
	normal2.Priority = types.PriorityNormal

	require.True(t, s.Schedule(low))
	require.True(t, s.Schedule(normal1))
	require.True(t, s.Schedule(high))
	require.True(t, s.Schedule(normal2))

	close(release)
	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 4
	})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"high", "normal1", "normal2", "low"}, order)
}

func TestSchedulerQueueCeiling(t *testing.T) {
	limits := testLimits()
	limits.MaxConcurrent = 1
	limits.MaxQueueLength = 2
	s := newTestScheduler(t, limits)

	release := make(chan struct{})
	blocked := make(chan struct{})
	require.True(t, s.Schedule(&types.Task{
		Fn: func(func() bool) (interface{}, error) {
			close(blocked)
			<-release
			return nil, nil
		},
	}))
	<-blocked

	noop := func(func() bool) (interface{}, error) { return nil, nil }
	assert.True(t, s.Schedule(&types.Task{Fn: noop}))
	assert.True(t, s.Schedule(&types.Task{Fn: noop}))
	assert.False(t, s.Schedule(&types.Task{Fn: noop}), "queue at ceiling must reject")

	close(release)
}

func TestSchedulerErrorCallback(t *testing.T) {
	s := newTestScheduler(t, nil)

	errs := make(chan error, 1)
	require.True(t, s.Schedule(&types.Task{
		Fn: func(func() bool) (interface{}, error) {
			return nil, types.NewErrorf("load failed")
		},
		OnError: func(err error) { errs <- err },
	}))

	select {
	case err := <-errs:
		assert.EqualError(t, err, "load failed")
	case <-time.After(time.Second):
		t.Fatal("error callback not invoked")
	}

	waitFor(t, time.Second, func() bool { return s.FailedTasks() == 1 })
}

func TestSchedulerPanicIsolated(t *testing.T) {
	s := newTestScheduler(t, nil)

	errs := make(chan error, 1)
	require.True(t, s.Schedule(&types.Task{
		Fn:      func(func() bool) (interface{}, error) { panic("boom") },
		OnError: func(err error) { errs <- err },
	}))

	select {
	case err := <-errs:
		assert.Contains(t, err.Error(), "task panicked")
	case <-time.After(time.Second):
		t.Fatal("panic was not routed to the error callback")
	}

	// The scheduler keeps dispatching after a panic.
	done := make(chan struct{}, 1)
	require.True(t, s.Schedule(&types.Task{
		Fn:         func(func() bool) (interface{}, error) { return nil, nil },
		OnComplete: func(interface{}) { done <- struct{}{} },
	}))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler stopped dispatching after a panic")
	}
}

func TestSchedulerCancelAll(t *testing.T) {
	limits := testLimits()
	limits.MaxConcurrent = 1
	s := newTestScheduler(t, limits)

	release := make(chan struct{})
	blocked := make(chan struct{})
	observedCancel := make(chan bool, 1)
	require.True(t, s.Schedule(&types.Task{
		Fn: func(cancelled func() bool) (interface{}, error) {
			close(blocked)
			<-release
			observedCancel <- cancelled()
			return nil, nil
		},
	}))
	<-blocked

	noop := func(func() bool) (interface{}, error) { return nil, nil }
	require.True(t, s.Schedule(&types.Task{Fn: noop}))
	require.True(t, s.Schedule(&types.Task{Fn: noop}))

	s.CancelAll()
	assert.Zero(t, s.QueueLength())

	close(release)
	assert.True(t, <-observedCancel, "running task must observe the cancel flag")

	// The flag clears once everything drains, so new work runs normally.
	waitFor(t, time.Second, func() bool { return s.ActiveWorkers() == 0 })
	done := make(chan bool, 1)
	require.True(t, s.Schedule(&types.Task{
		Fn: func(cancelled func() bool) (interface{}, error) {
			done <- cancelled()
			return nil, nil
		},
	}))
	assert.False(t, <-done)
}

func TestSchedulerDebounceThroughTicks(t *testing.T) {
	s := newTestScheduler(t, nil)

	var count atomic.Int64
	lastCall := time.Now()
	for i := 0; i < 5; i++ {
		lastCall = time.Now()
		s.Debounce("resize", func() { count.Add(1) }, 50*time.Millisecond)
		time.Sleep(5 * time.Millisecond)
	}

	waitFor(t, time.Second, func() bool { return count.Load() == 1 })
	assert.GreaterOrEqual(t, time.Since(lastCall), 50*time.Millisecond)

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int64(1), count.Load(), "burst must coalesce to a single call")
}

func TestSchedulerBatchTimeoutThroughTicks(t *testing.T) {
	s := newTestScheduler(t, nil)

	var count atomic.Int64
	s.AddToBatch(func() { count.Add(1) })
	s.AddToBatch(func() { count.Add(1) })

	waitFor(t, time.Second, func() bool { return count.Load() == 2 })
}

func TestSchedulerRejectsWhenStopped(t *testing.T) {
	log := logger.NewNop()
	limits := testLimits()
	s, err := NewScheduler(context.Background(), log, limits, NewWorkerPool(log, limits.MaxConcurrent))
	require.NoError(t, err)

	assert.False(t, s.Schedule(&types.Task{
		Fn: func(func() bool) (interface{}, error) { return nil, nil },
	}))

	assert.ErrorIs(t, s.Stop(), types.ErrNotRunning)
}

func TestSchedulerRejectsNilTask(t *testing.T) {
	s := newTestScheduler(t, nil)

	assert.False(t, s.Schedule(nil))
	assert.False(t, s.Schedule(&types.Task{}))
}

func TestSchedulerAssignsTaskID(t *testing.T) {
	limits := testLimits()
	limits.MaxConcurrent = 1
	s := newTestScheduler(t, limits)

	release := make(chan struct{})
	blocked := make(chan struct{})
	require.True(t, s.Schedule(&types.Task{
		Fn: func(func() bool) (interface{}, error) {
			close(blocked)
			<-release
			return nil, nil
		},
	}))
	<-blocked

	task := &types.Task{Fn: func(func() bool) (interface{}, error) { return nil, nil }}
	require.True(t, s.Schedule(task))
	assert.NotEmpty(t, task.ID)
	assert.False(t, task.CreatedAt.IsZero())

	close(release)
}
