package testutil

import (
	"sync"

	"github.com/c360/telemetryd/record"
)

// CollectSink is an in-memory record sink. It satisfies both the
// engine's RecordWriter and the output fanout's Sink.
type CollectSink struct {
	mu      sync.Mutex
	records []record.TelemetryRecord
	failErr error
}

// NewCollectSink returns an empty sink.
func NewCollectSink() *CollectSink {
	return &CollectSink{}
}

// Name identifies the sink in fanout logs.
func (s *CollectSink) Name() string { return "collect" }

// Write stores the record, or returns the injected error when one is
// set.
func (s *CollectSink) Write(rec record.TelemetryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return s.failErr
	}
	s.records = append(s.records, rec)
	return nil
}

// FailWith makes every subsequent Write return err. Pass nil to heal
// the sink.
func (s *CollectSink) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failErr = err
}

// Records returns a copy of everything written so far, in write order.
func (s *CollectSink) Records() []record.TelemetryRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]record.TelemetryRecord, len(s.records))
	copy(out, s.records)
	return out
}

// Count returns the number of records written so far.
func (s *CollectSink) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Reset discards all stored records and clears any injected error.
func (s *CollectSink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = nil
	s.failErr = nil
}
