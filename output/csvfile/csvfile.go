// Package csvfile provides the collector's primary durable sink: an
// append-only CSV log of released telemetry records.
//
// Durability contract: Write flushes the encoder to the file before
// returning, so an accepted record survives a collector crash. The file
// is opened in append mode and the header row is written only when the
// file is new or empty, keeping restarts from corrupting an existing
// log.
package csvfile

import (
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/telemetryd/component"
	"github.com/c360/telemetryd/errors"
	"github.com/c360/telemetryd/metric"
	"github.com/c360/telemetryd/record"
)

// Sink writes telemetry records to a CSV file.
type Sink struct {
	path    string
	logger  *slog.Logger
	metrics *metric.Metrics

	file   *os.File
	writer *csv.Writer
	fileMu sync.Mutex

	running   atomic.Bool
	startTime time.Time

	// Stats
	recordsWritten atomic.Int64
	bytesWritten   atomic.Int64
	writeErrors    atomic.Int64
	lastActivity   atomic.Value // stores time.Time
}

var _ component.Lifecycle = (*Sink)(nil)

// SinkDeps holds runtime dependencies for the CSV sink.
type SinkDeps struct {
	Path    string
	Logger  *slog.Logger
	Metrics *metric.Metrics
}

// NewSink creates a CSV sink. The file is not touched until Initialize.
func NewSink(deps SinkDeps) *Sink {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "csv-sink")
	}

	s := &Sink{
		path:    deps.Path,
		logger:  logger,
		metrics: deps.Metrics,
	}
	s.lastActivity.Store(time.Time{})
	return s
}

// Name identifies the sink in logs and metrics labels.
func (s *Sink) Name() string { return "csv" }

// Initialize opens the log file and writes the header row if the file
// is new or empty.
func (s *Sink) Initialize() error {
	if s.path == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "CSVSink", "Initialize", "path validation")
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.WrapFatal(err, "CSVSink", "Initialize", "create log directory")
		}
	}

	file, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return errors.WrapFatal(err, "CSVSink", "Initialize", "open log file")
	}

	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return errors.WrapFatal(err, "CSVSink", "Initialize", "stat log file")
	}

	writer := csv.NewWriter(file)

	if info.Size() == 0 {
		if err := writer.Write(record.CSVHeader()); err != nil {
			_ = file.Close()
			return errors.WrapFatal(err, "CSVSink", "Initialize", "write header row")
		}
		writer.Flush()
		if err := writer.Error(); err != nil {
			_ = file.Close()
			return errors.WrapFatal(err, "CSVSink", "Initialize", "flush header row")
		}
		s.logger.Info("Created new telemetry log", "path", s.path)
	} else {
		s.logger.Info("Appending to existing telemetry log", "path", s.path, "size_bytes", info.Size())
	}

	s.fileMu.Lock()
	s.file = file
	s.writer = writer
	s.fileMu.Unlock()

	return nil
}

// Start marks the sink ready. The sink has no goroutines; records
// arrive synchronously through Write.
func (s *Sink) Start(_ context.Context) error {
	if s.running.Load() {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "CSVSink", "Start", "check running state")
	}

	s.fileMu.Lock()
	ready := s.file != nil
	s.fileMu.Unlock()
	if !ready {
		return errors.WrapInvalid(errors.ErrNotStarted, "CSVSink", "Start", "sink not initialized")
	}

	s.running.Store(true)
	s.startTime = time.Now()
	return nil
}

// Write appends one record and flushes it to the file. Any failure is
// fatal: the collector's contract is that accepted records are durable,
// so a sink that cannot keep that promise must stop the process.
func (s *Sink) Write(rec record.TelemetryRecord) error {
	if !s.running.Load() {
		return errors.WrapInvalid(errors.ErrSinkClosed, "CSVSink", "Write", "sink state check")
	}

	start := time.Now()

	s.fileMu.Lock()
	defer s.fileMu.Unlock()

	if s.writer == nil {
		return errors.WrapFatal(errors.ErrSinkClosed, "CSVSink", "Write", "writer availability check")
	}

	row := rec.CSVRow()
	if err := s.writer.Write(row); err != nil {
		s.writeErrors.Add(1)
		return errors.WrapFatal(err, "CSVSink", "Write", "append record")
	}

	// Flush before returning: the durability contract for this sink
	s.writer.Flush()
	if err := s.writer.Error(); err != nil {
		s.writeErrors.Add(1)
		return errors.WrapFatal(err, "CSVSink", "Write", "flush record")
	}

	s.recordsWritten.Add(1)
	for _, field := range row {
		s.bytesWritten.Add(int64(len(field)))
	}
	s.lastActivity.Store(time.Now())

	if s.metrics != nil {
		s.metrics.RecordSinkWrite("csv", time.Since(start))
	}

	return nil
}

// Stop flushes and closes the log file.
func (s *Sink) Stop(_ time.Duration) error {
	if !s.running.Load() {
		return nil
	}
	s.running.Store(false)

	s.fileMu.Lock()
	defer s.fileMu.Unlock()

	if s.writer != nil {
		s.writer.Flush()
		if err := s.writer.Error(); err != nil {
			s.logger.Warn("Final flush failed", "path", s.path, "error", err)
		}
		s.writer = nil
	}

	if s.file != nil {
		if err := s.file.Close(); err != nil {
			s.file = nil
			return errors.WrapTransient(err, "CSVSink", "Stop", "close log file")
		}
		s.file = nil
	}

	s.logger.Info("Telemetry log closed",
		"path", s.path,
		"records_written", s.recordsWritten.Load())
	return nil
}

// Meta returns component metadata.
func (s *Sink) Meta() component.Metadata {
	return component.Metadata{
		Name:        "csv-sink",
		Type:        "output",
		Description: fmt.Sprintf("Append-only CSV telemetry log at %s", s.path),
		Version:     "1.0.0",
	}
}

// Health returns the current health status.
func (s *Sink) Health() component.HealthStatus {
	s.fileMu.Lock()
	open := s.file != nil
	s.fileMu.Unlock()

	return component.HealthStatus{
		Healthy:    s.running.Load() && open,
		LastCheck:  time.Now(),
		ErrorCount: int(s.writeErrors.Load()),
		Uptime:     time.Since(s.startTime),
	}
}

// DataFlow returns current data flow metrics.
func (s *Sink) DataFlow() component.FlowMetrics {
	written := s.recordsWritten.Load()
	bytes := s.bytesWritten.Load()
	errorCount := s.writeErrors.Load()
	lastActivity, _ := s.lastActivity.Load().(time.Time)

	var perSecond, bytesPerSecond, errorRate float64
	if uptime := time.Since(s.startTime).Seconds(); uptime > 0 && s.running.Load() {
		perSecond = float64(written) / uptime
		bytesPerSecond = float64(bytes) / uptime
	}
	if written > 0 {
		errorRate = float64(errorCount) / float64(written)
	}

	return component.FlowMetrics{
		MessagesPerSecond: perSecond,
		BytesPerSecond:    bytesPerSecond,
		ErrorRate:         errorRate,
		LastActivity:      lastActivity,
	}
}
