// Package buffer provides a generic, thread-safe circular buffer with
// configurable overflow policies. telemetryd uses it as the bounded ingest
// queue between the UDP read loop and the processing engine.
//
// Statistics are always collected. Prometheus export is optional via
// WithMetrics().
package buffer

import "context"

// Buffer represents a generic buffer interface parameterized by item type T.
type Buffer[T any] interface {
	// Write adds an item to the buffer. Behavior when full depends on the
	// overflow policy.
	Write(item T) error

	// Read retrieves and removes one item. Returns the zero value and
	// false when the buffer is empty.
	Read() (T, bool)

	// ReadWithContext blocks until an item is available, the buffer is
	// closed and drained, or the context is done. The bool reports
	// whether an item was returned.
	ReadWithContext(ctx context.Context) (T, bool)

	// ReadBatch retrieves and removes up to max items.
	ReadBatch(max int) []T

	// Size returns the current number of buffered items.
	Size() int

	// Capacity returns the maximum number of items the buffer can hold.
	Capacity() int

	// IsFull returns true if the buffer is at capacity.
	IsFull() bool

	// IsEmpty returns true if the buffer contains no items.
	IsEmpty() bool

	// Clear removes all items from the buffer.
	Clear()

	// Stats returns buffer statistics.
	Stats() *Statistics

	// Close shuts down the buffer. Buffered items remain readable so a
	// consumer can drain after close; writes fail.
	Close() error
}

// OverflowPolicy defines how the buffer behaves when it reaches capacity.
type OverflowPolicy int

const (
	// DropOldest removes the oldest item to make room for new items.
	DropOldest OverflowPolicy = iota

	// DropNewest drops new items when the buffer is full.
	DropNewest

	// Block causes Write operations to block until space is available.
	Block
)

// String returns a human-readable representation of the overflow policy.
func (p OverflowPolicy) String() string {
	switch p {
	case DropOldest:
		return "DropOldest"
	case DropNewest:
		return "DropNewest"
	case Block:
		return "Block"
	default:
		return "Unknown"
	}
}

// DropCallback is called with each item dropped by the overflow policy.
type DropCallback[T any] func(item T)

// NewCircularBuffer creates a circular buffer with the given capacity.
// Configuration beyond capacity is via functional options. Returns an error
// if metrics registration fails when metrics are requested.
func NewCircularBuffer[T any](capacity int, options ...Option[T]) (*CircularBuffer[T], error) {
	opts := applyOptions(options)
	return newCircularBuffer(capacity, opts)
}
