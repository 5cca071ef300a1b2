// Package output defines the sink contract for released telemetry
// records and the fanout that feeds every configured sink.
//
// Sinks come in two flavors with different failure semantics. Durable
// sinks (CSV log, SQLite) are the collector's reason to exist: a failed
// write is fatal and shuts the collector down rather than silently
// losing data. Taps (the NATS feed) are best effort: failures are
// counted and logged but never stop ingestion.
package output

import (
	"log/slog"

	"github.com/c360/telemetryd/metric"
	"github.com/c360/telemetryd/record"
)

// Sink persists or forwards telemetry records. Write is called from the
// single engine goroutine; implementations do not need to be safe for
// concurrent Write calls but must tolerate Health/DataFlow from other
// goroutines.
type Sink interface {
	// Name identifies the sink in logs and metrics labels.
	Name() string

	// Write handles one released record. For durable sinks the record
	// must be on its way to stable storage when Write returns.
	Write(rec record.TelemetryRecord) error
}

// Fanout distributes each record to every configured sink. Durable sink
// errors propagate to the caller; tap errors are absorbed.
type Fanout struct {
	durable []Sink
	taps    []Sink
	logger  *slog.Logger
	metrics *metric.Metrics
}

// FanoutDeps holds the construction dependencies for a Fanout.
type FanoutDeps struct {
	Durable []Sink
	Taps    []Sink
	Logger  *slog.Logger
	Metrics *metric.Metrics
}

// NewFanout creates a fanout over the given sinks.
func NewFanout(deps FanoutDeps) *Fanout {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "fanout")
	}
	return &Fanout{
		durable: deps.Durable,
		taps:    deps.Taps,
		logger:  logger,
		metrics: deps.Metrics,
	}
}

// Write sends the record to all sinks. The first durable sink error is
// returned immediately; later sinks are skipped so shutdown sees a
// consistent failure point. Tap errors are logged at warn and dropped.
func (f *Fanout) Write(rec record.TelemetryRecord) error {
	for _, s := range f.durable {
		if err := s.Write(rec); err != nil {
			return err
		}
	}

	for _, s := range f.taps {
		if err := s.Write(rec); err != nil {
			f.logger.Warn("tap write failed",
				"sink", s.Name(),
				"device_id", rec.DeviceID,
				"seq", rec.Sequence,
				"error", err)
		}
	}

	return nil
}

// Sinks returns every sink in write order, durable first.
func (f *Fanout) Sinks() []Sink {
	all := make([]Sink, 0, len(f.durable)+len(f.taps))
	all = append(all, f.durable...)
	all = append(all, f.taps...)
	return all
}
