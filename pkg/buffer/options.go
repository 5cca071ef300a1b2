package buffer

import "github.com/c360/telemetryd/metric"

// Option configures a buffer at construction time.
type Option[T any] func(*bufferOptions[T])

type bufferOptions[T any] struct {
	overflowPolicy OverflowPolicy
	dropCallback   DropCallback[T]
	metricsReg     *metric.MetricsRegistry
	metricsPrefix  string
}

// WithOverflowPolicy sets the behavior when the buffer is full.
// The default is DropOldest.
func WithOverflowPolicy[T any](policy OverflowPolicy) Option[T] {
	return func(o *bufferOptions[T]) {
		o.overflowPolicy = policy
	}
}

// WithDropCallback registers a function invoked for every item dropped
// due to overflow or Clear. The callback runs outside the buffer lock.
func WithDropCallback[T any](cb DropCallback[T]) Option[T] {
	return func(o *bufferOptions[T]) {
		o.dropCallback = cb
	}
}

// WithMetrics exposes the buffer's counters and gauges through the
// given registry. The prefix distinguishes multiple buffers and
// becomes the component label on every metric.
func WithMetrics[T any](reg *metric.MetricsRegistry, prefix string) Option[T] {
	return func(o *bufferOptions[T]) {
		o.metricsReg = reg
		o.metricsPrefix = prefix
	}
}

func applyOptions[T any](options []Option[T]) *bufferOptions[T] {
	opts := &bufferOptions[T]{
		overflowPolicy: DropOldest,
	}
	for _, option := range options {
		option(opts)
	}
	return opts
}
