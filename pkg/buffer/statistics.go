package buffer

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Statistics tracks buffer activity with atomic counters. All methods
// are safe for concurrent use.
type Statistics struct {
	writes      atomic.Int64
	reads       atomic.Int64
	overflows   atomic.Int64
	drops       atomic.Int64
	currentSize atomic.Int64
	maxSize     atomic.Int64
	startTime   time.Time
}

// NewStatistics creates a statistics tracker.
func NewStatistics() *Statistics {
	return &Statistics{
		startTime: time.Now(),
	}
}

// Write records a successful write.
func (s *Statistics) Write() {
	s.writes.Add(1)
}

// Read records a successful read.
func (s *Statistics) Read() {
	s.reads.Add(1)
}

// Overflow records a write that found the buffer full.
func (s *Statistics) Overflow() {
	s.overflows.Add(1)
}

// Drop records a dropped item.
func (s *Statistics) Drop() {
	s.drops.Add(1)
}

// UpdateSize records the current buffer size and tracks the high-water mark.
func (s *Statistics) UpdateSize(size int64) {
	s.currentSize.Store(size)

	for {
		max := s.maxSize.Load()
		if size <= max || s.maxSize.CompareAndSwap(max, size) {
			return
		}
	}
}

// Writes returns the total number of successful writes.
func (s *Statistics) Writes() int64 {
	return s.writes.Load()
}

// Reads returns the total number of successful reads.
func (s *Statistics) Reads() int64 {
	return s.reads.Load()
}

// Overflows returns the number of writes that found the buffer full.
func (s *Statistics) Overflows() int64 {
	return s.overflows.Load()
}

// Drops returns the number of dropped items.
func (s *Statistics) Drops() int64 {
	return s.drops.Load()
}

// CurrentSize returns the last recorded buffer size.
func (s *Statistics) CurrentSize() int64 {
	return s.currentSize.Load()
}

// MaxSize returns the high-water mark.
func (s *Statistics) MaxSize() int64 {
	return s.maxSize.Load()
}

// DropRate returns the fraction of writes that were dropped, 0 to 1.
func (s *Statistics) DropRate() float64 {
	writes := s.writes.Load()
	drops := s.drops.Load()

	total := writes + drops
	if total == 0 {
		return 0
	}
	return float64(drops) / float64(total)
}

// Uptime returns the duration since the statistics tracker was created.
func (s *Statistics) Uptime() time.Duration {
	return time.Since(s.startTime)
}

// Summary returns a human-readable one-line summary.
func (s *Statistics) Summary() string {
	return fmt.Sprintf("writes=%d reads=%d overflows=%d drops=%d size=%d max=%d drop_rate=%.4f uptime=%s",
		s.Writes(), s.Reads(), s.Overflows(), s.Drops(),
		s.CurrentSize(), s.MaxSize(), s.DropRate(), s.Uptime().Round(time.Second))
}
