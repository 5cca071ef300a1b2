package buffer

import (
	"context"
	"sync"

	"github.com/c360/telemetryd/errors"
)

// CircularBuffer is a thread-safe circular buffer with configurable overflow
// policies. After Close it rejects writes but remains readable until drained.
type CircularBuffer[T any] struct {
	mu       sync.RWMutex
	items    []T
	capacity int
	size     int
	head     int // next write position
	tail     int // next read position
	stats    *Statistics
	metrics  *bufferMetrics
	opts     *bufferOptions[T]

	notEmpty *sync.Cond
	notFull  *sync.Cond
	closed   bool
}

var _ Buffer[int] = (*CircularBuffer[int])(nil)

func newCircularBuffer[T any](capacity int, opts *bufferOptions[T]) (*CircularBuffer[T], error) {
	if capacity <= 0 {
		capacity = 1
	}

	var metrics *bufferMetrics
	if opts.metricsReg != nil && opts.metricsPrefix != "" {
		var err error
		metrics, err = newBufferMetrics(opts.metricsReg, opts.metricsPrefix)
		if err != nil {
			return nil, errors.WrapTransient(err, "Buffer", "newCircularBuffer", "metrics registration")
		}
	}

	cb := &CircularBuffer[T]{
		items:    make([]T, capacity),
		capacity: capacity,
		stats:    NewStatistics(),
		metrics:  metrics,
		opts:     opts,
	}

	cb.notEmpty = sync.NewCond(&cb.mu)
	cb.notFull = sync.NewCond(&cb.mu)

	return cb, nil
}

// Write adds an item to the buffer according to the overflow policy.
func (cb *CircularBuffer[T]) Write(item T) error {
	var dropped []T
	if cb.opts.dropCallback != nil {
		// Registered before the lock so it runs after release; a
		// callback may re-enter the buffer.
		defer func() {
			for _, d := range dropped {
				cb.opts.dropCallback(d)
			}
		}()
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.closed {
		return errors.WrapInvalid(errors.ErrAlreadyStopped, "Buffer", "Write", "write to closed buffer")
	}

	if cb.size == cb.capacity {
		switch cb.opts.overflowPolicy {
		case DropOldest:
			dropped = append(dropped, cb.items[cb.tail])
			cb.tail = (cb.tail + 1) % cb.capacity
			cb.size--

			cb.stats.Overflow()
			cb.stats.Drop()
			if cb.metrics != nil {
				cb.metrics.recordDrop()
			}

		case DropNewest:
			cb.stats.Overflow()
			cb.stats.Drop()
			if cb.metrics != nil {
				cb.metrics.recordDrop()
			}
			dropped = append(dropped, item)
			return nil

		case Block:
			for cb.size == cb.capacity && !cb.closed {
				cb.notFull.Wait()
			}
			if cb.closed {
				return errors.WrapInvalid(errors.ErrAlreadyStopped, "Buffer", "Write",
					"buffer closed during blocking wait")
			}
		}
	}

	cb.items[cb.head] = item
	cb.head = (cb.head + 1) % cb.capacity
	cb.size++

	cb.stats.Write()
	cb.stats.UpdateSize(int64(cb.size))
	if cb.metrics != nil {
		cb.metrics.recordWrite(cb.size, cb.capacity)
	}

	cb.notEmpty.Signal()

	return nil
}

// Read retrieves and removes one item without blocking.
func (cb *CircularBuffer[T]) Read() (T, bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.pop()
}

// ReadWithContext blocks until an item is available, the buffer is closed
// and drained, or the context is done.
func (cb *CircularBuffer[T]) ReadWithContext(ctx context.Context) (T, bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	var done chan struct{}
	for cb.size == 0 && !cb.closed {
		if ctx.Err() != nil {
			var zero T
			return zero, false
		}
		if done == nil {
			// Lazily start a watcher that wakes this waiter on
			// context cancellation. Broadcast is safe without the
			// mutex; the fast path never spawns the goroutine.
			done = make(chan struct{})
			defer close(done)
			go func() {
				select {
				case <-ctx.Done():
					cb.notEmpty.Broadcast()
				case <-done:
				}
			}()
		}
		cb.notEmpty.Wait()
	}

	if ctx.Err() != nil {
		var zero T
		return zero, false
	}
	return cb.pop()
}

// pop removes the tail item. Caller must hold the lock.
func (cb *CircularBuffer[T]) pop() (T, bool) {
	var zero T

	if cb.size == 0 {
		return zero, false
	}

	item := cb.items[cb.tail]
	cb.items[cb.tail] = zero // clear for GC
	cb.tail = (cb.tail + 1) % cb.capacity
	cb.size--

	cb.stats.Read()
	cb.stats.UpdateSize(int64(cb.size))
	if cb.metrics != nil {
		cb.metrics.recordRead(cb.size, cb.capacity)
	}

	cb.notFull.Signal()

	return item, true
}

// ReadBatch retrieves and removes up to max items.
func (cb *CircularBuffer[T]) ReadBatch(max int) []T {
	if max <= 0 {
		return nil
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.size == 0 {
		return nil
	}

	readCount := max
	if readCount > cb.size {
		readCount = cb.size
	}

	result := make([]T, readCount)
	var zero T

	for i := 0; i < readCount; i++ {
		result[i] = cb.items[cb.tail]
		cb.items[cb.tail] = zero
		cb.tail = (cb.tail + 1) % cb.capacity
		cb.size--
		cb.stats.Read()
	}

	cb.stats.UpdateSize(int64(cb.size))
	if cb.metrics != nil {
		cb.metrics.updateSize(cb.size, cb.capacity)
	}

	for i := 0; i < readCount; i++ {
		cb.notFull.Signal()
	}

	return result
}

// Size returns the current number of items in the buffer.
func (cb *CircularBuffer[T]) Size() int {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.size
}

// Capacity returns the maximum number of items the buffer can hold.
func (cb *CircularBuffer[T]) Capacity() int {
	return cb.capacity // immutable
}

// IsFull returns true if the buffer is at maximum capacity.
func (cb *CircularBuffer[T]) IsFull() bool {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.size == cb.capacity
}

// IsEmpty returns true if the buffer contains no items.
func (cb *CircularBuffer[T]) IsEmpty() bool {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.size == 0
}

// Clear removes all items from the buffer.
func (cb *CircularBuffer[T]) Clear() {
	var dropped []T
	if cb.opts.dropCallback != nil {
		// Registered before the lock so it runs after release; a
		// callback may re-enter the buffer.
		defer func() {
			for _, item := range dropped {
				cb.opts.dropCallback(item)
			}
		}()
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	var zero T

	if cb.opts.dropCallback != nil && cb.size > 0 {
		dropped = make([]T, cb.size)
		for i := 0; i < cb.size; i++ {
			dropped[i] = cb.items[(cb.tail+i)%cb.capacity]
		}
	}

	for i := 0; i < cb.capacity; i++ {
		cb.items[i] = zero
	}

	cb.head = 0
	cb.tail = 0
	cb.size = 0

	cb.stats.UpdateSize(0)
	if cb.metrics != nil {
		cb.metrics.updateSize(0, cb.capacity)
	}

	cb.notFull.Broadcast()
}

// Stats returns buffer statistics.
func (cb *CircularBuffer[T]) Stats() *Statistics {
	return cb.stats
}

// Close shuts down the buffer. Blocked writers and readers are woken;
// remaining items stay readable.
func (cb *CircularBuffer[T]) Close() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.closed {
		return nil
	}

	cb.closed = true

	cb.notEmpty.Broadcast()
	cb.notFull.Broadcast()

	return nil
}
