package scheduler

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-resource/types"
)

// BatchUpdater buffers fire-and-forget callbacks and flushes them together,
// in arrival order, when the buffer fills or the oldest unflushed item ages
// past the timeout.
type BatchUpdater struct {
	logger    types.Logger
	batchSize int
	timeout   time.Duration

	mu         sync.Mutex
	buffer     []func()
	firstAdded time.Time
}

func NewBatchUpdater(logger types.Logger, batchSize int, timeout time.Duration) *BatchUpdater {
	if batchSize < 1 {
		batchSize = 1
	}

	return &BatchUpdater{
		logger:    logger,
		batchSize: batchSize,
		timeout:   timeout,
		buffer:    make([]func(), 0, batchSize),
	}
}

// Add appends fn to the batch. Reaching the size threshold flushes
// immediately on the caller's goroutine.
func (b *BatchUpdater) Add(fn func()) {
	if fn == nil {
		return
	}

	b.mu.Lock()
	if len(b.buffer) == 0 {
		b.firstAdded = time.Now()
	}
	b.buffer = append(b.buffer, fn)

	if len(b.buffer) >= b.batchSize {
		b.flushLocked()
		return
	}
	b.mu.Unlock()
}

// ForceFlush executes everything buffered regardless of size or age.
func (b *BatchUpdater) ForceFlush() {
	b.mu.Lock()
	b.flushLocked()
}

// flushDue flushes the batch when the oldest unflushed item has been waiting
// longer than the timeout. Called from the scheduler tick.
func (b *BatchUpdater) flushDue(now time.Time) {
	b.mu.Lock()
	if len(b.buffer) == 0 || now.Sub(b.firstAdded) < b.timeout {
		b.mu.Unlock()
		return
	}
	b.flushLocked()
}

func (b *BatchUpdater) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buffer)
}

// flushLocked takes ownership of the buffer, releases the lock and runs the
// callbacks in insertion order. A panicking callback does not stop the rest.
func (b *BatchUpdater) flushLocked() {
	batch := b.buffer
	b.buffer = make([]func(), 0, b.batchSize)
	b.mu.Unlock()

	for _, fn := range batch {
		b.safeRun(fn)
	}
}

func (b *BatchUpdater) safeRun(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Batch callback panicked", zap.Any("panic", r))
		}
	}()
	fn()
}
