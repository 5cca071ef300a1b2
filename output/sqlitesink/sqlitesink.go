// Package sqlitesink provides an optional durable sink that mirrors the
// CSV log into an embedded SQLite database, giving downstream tooling
// an indexed, queryable view of the same records.
//
// The database runs with synchronous=FULL and one connection, so every
// insert is committed to stable storage before Write returns. That
// matches the CSV sink's durability contract at the cost of write
// throughput, which is acceptable at telemetry rates.
package sqlitesink

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite" // pure-Go sqlite driver

	"github.com/c360/telemetryd/component"
	"github.com/c360/telemetryd/errors"
	"github.com/c360/telemetryd/metric"
	"github.com/c360/telemetryd/pkg/retry"
	"github.com/c360/telemetryd/record"
)

const schema = `
CREATE TABLE IF NOT EXISTS telemetry (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	device_id      INTEGER NOT NULL,
	seq            INTEGER NOT NULL,
	timestamp      INTEGER NOT NULL,
	arrival_time   REAL    NOT NULL,
	duplicate_flag INTEGER NOT NULL DEFAULT 0,
	gap_flag       INTEGER NOT NULL DEFAULT 0,
	session_id     TEXT    NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_telemetry_device_seq ON telemetry(device_id, seq);
CREATE INDEX IF NOT EXISTS idx_telemetry_arrival ON telemetry(arrival_time);
`

const insertSQL = `
INSERT INTO telemetry (device_id, seq, timestamp, arrival_time, duplicate_flag, gap_flag, session_id)
VALUES (?, ?, ?, ?, ?, ?, ?)`

// Sink writes telemetry records to an embedded SQLite database.
type Sink struct {
	path    string
	logger  *slog.Logger
	metrics *metric.Metrics

	db     *sql.DB
	insert *sql.Stmt
	dbMu   sync.Mutex

	running   atomic.Bool
	startTime time.Time

	recordsWritten atomic.Int64
	writeErrors    atomic.Int64
	lastActivity   atomic.Value // stores time.Time
}

var _ component.Lifecycle = (*Sink)(nil)

// SinkDeps holds runtime dependencies for the SQLite sink.
type SinkDeps struct {
	Path    string
	Logger  *slog.Logger
	Metrics *metric.Metrics
}

// NewSink creates a SQLite sink. The database is not opened until
// Initialize.
func NewSink(deps SinkDeps) *Sink {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "sqlite-sink")
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
func (s *Sink) Name() string { return "sqlite" }

// dsn builds the driver connection string. synchronous=FULL is the
// durability contract; busy_timeout covers external readers holding
// short locks on the same file.
func (s *Sink) dsn() string {
	return fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)&_pragma=busy_timeout(5000)",
		url.PathEscape(filepath.ToSlash(s.path)))
}

// Initialize opens the database handle. The driver defers file access
// until the first query, so connectivity is proven in Start.
func (s *Sink) Initialize() error {
	if s.path == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "SQLiteSink", "Initialize", "path validation")
	}

	db, err := sql.Open("sqlite", s.dsn())
	if err != nil {
		return errors.WrapFatal(err, "SQLiteSink", "Initialize", "open database")
	}

	// Single writer: the engine is the only caller and the driver
	// serializes anyway
	db.SetMaxOpenConns(1)

	s.dbMu.Lock()
	s.db = db
	s.dbMu.Unlock()

	return nil
}

// Start verifies connectivity, applies the schema, and prepares the
// insert statement.
func (s *Sink) Start(ctx context.Context) error {
	if s.running.Load() {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "SQLiteSink", "Start", "check running state")
	}

	s.dbMu.Lock()
	defer s.dbMu.Unlock()

	if s.db == nil {
		return errors.WrapInvalid(errors.ErrNotStarted, "SQLiteSink", "Start", "sink not initialized")
	}

	// A cold volume can make the first touch slow; retry briefly
	pingOperation := func() error {
		return s.db.PingContext(ctx)
	}
	if err := retry.Do(ctx, retry.Quick(), pingOperation); err != nil {
		return errors.WrapFatal(err, "SQLiteSink", "Start", "database ping")
	}

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return errors.WrapFatal(err, "SQLiteSink", "Start", "apply schema")
	}

	insert, err := s.db.PrepareContext(ctx, insertSQL)
	if err != nil {
		return errors.WrapFatal(err, "SQLiteSink", "Start", "prepare insert")
	}
	s.insert = insert

	s.running.Store(true)
	s.startTime = time.Now()

	s.logger.Info("SQLite sink ready", "path", s.path)
	return nil
}

// Write inserts one record. The connection runs in autocommit with
// synchronous=FULL, so a returned nil means the row is on disk.
func (s *Sink) Write(rec record.TelemetryRecord) error {
	if !s.running.Load() {
		return errors.WrapInvalid(errors.ErrSinkClosed, "SQLiteSink", "Write", "sink state check")
	}

	start := time.Now()

	s.dbMu.Lock()
	defer s.dbMu.Unlock()

	if s.insert == nil {
		return errors.WrapFatal(errors.ErrSinkClosed, "SQLiteSink", "Write", "statement availability check")
	}

	_, err := s.insert.Exec(
		int64(rec.DeviceID),
		int64(rec.Sequence),
		int64(rec.Timestamp),
		rec.ArrivalUnix(),
		boolToInt(rec.Duplicate),
		boolToInt(rec.Gap),
		rec.SessionID,
	)
	if err != nil {
		s.writeErrors.Add(1)
		return errors.WrapFatal(err, "SQLiteSink", "Write", "insert record")
	}

	s.recordsWritten.Add(1)
	s.lastActivity.Store(time.Now())

	if s.metrics != nil {
		s.metrics.RecordSinkWrite("sqlite", time.Since(start))
	}

	return nil
}

// Stop closes the prepared statement and the database.
func (s *Sink) Stop(_ time.Duration) error {
	if !s.running.Load() && s.db == nil {
		return nil
	}
	s.running.Store(false)

	s.dbMu.Lock()
	defer s.dbMu.Unlock()

	if s.insert != nil {
		if err := s.insert.Close(); err != nil {
			s.logger.Warn("Failed to close insert statement", "error", err)
		}
		s.insert = nil
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.db = nil
			return errors.WrapTransient(err, "SQLiteSink", "Stop", "close database")
		}
		s.db = nil
	}

	s.logger.Info("SQLite sink closed",
		"path", s.path,
		"records_written", s.recordsWritten.Load())
	return nil
}

// Meta returns component metadata.
func (s *Sink) Meta() component.Metadata {
	return component.Metadata{
		Name:        "sqlite-sink",
		Type:        "output",
		Description: fmt.Sprintf("SQLite telemetry store at %s", s.path),
		Version:     "1.0.0",
	}
}

// Health returns the current health status.
func (s *Sink) Health() component.HealthStatus {
	s.dbMu.Lock()
	open := s.db != nil
	s.dbMu.Unlock()

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
	errorCount := s.writeErrors.Load()
	lastActivity, _ := s.lastActivity.Load().(time.Time)

	var perSecond, errorRate float64
	if uptime := time.Since(s.startTime).Seconds(); uptime > 0 && s.running.Load() {
		perSecond = float64(written) / uptime
	}
	if written > 0 {
		errorRate = float64(errorCount) / float64(written)
	}

	return component.FlowMetrics{
		MessagesPerSecond: perSecond,
		ErrorRate:         errorRate,
		LastActivity:      lastActivity,
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
