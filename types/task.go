package types

import (
	"time"
)

// Priority orders pending tasks; lower values dispatch first.
type Priority int

const (
	PriorityCritical Priority = iota
	PriorityHigh
	PriorityNormal
	PriorityLow
	PriorityBackground
)

func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	case PriorityBackground:
		return "background"
	default:
		return "unknown"
	}
}

type TaskState int32

const (
	TaskQueued TaskState = iota
	TaskDispatched
	TaskRunning
	TaskCompleted
	TaskFailed
)

// TaskFunc is a cancellation-aware unit of work. Long-running bodies are
// expected to call cancelled() at safe checkpoints and abort when it returns
// true; results of an aborted task are undefined.
type TaskFunc func(cancelled func() bool) (interface{}, error)

type Task struct {
	ID         string
	Fn         TaskFunc
	Priority   Priority
	CreatedAt  time.Time
	OnComplete func(result interface{})
	OnError    func(err error)
}

type TaskScheduler interface {
	LifecycleManager
	Schedule(task *Task) bool
	Debounce(operationID string, fn func(), delay time.Duration)
	AddToBatch(fn func())
	FlushBatch()
	QueueLength() int
	ActiveWorkers() int
	CancelAll()
}

type WorkerPool interface {
	CanStart() bool
	Register() (int64, bool)
	Unregister(id int64)
	ActiveCount() int
	ForceReset()
}
