// Package natsfeed publishes telemetry records to NATS as a best-effort
// live feed.
//
// Records go to a per-device subject under the configured base, so a
// subscriber can follow one device ("telemetry.records.7") or the whole
// fleet ("telemetry.records.>"). Offline observations go to the base
// subject's "offline" token. Device identifiers are numeric on the wire,
// so the tokens never collide.
//
// The feed is a tap, not a durable sink. Records are published as JSON
// when the broker is reachable and silently dropped (counted) when it
// is not. Publishing never blocks the pipeline and a broker outage
// never fails a Write: the connection reconnects in the background and
// the feed_connected gauge exposes the outage.
package natsfeed

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/c360/telemetryd/component"
	"github.com/c360/telemetryd/errors"
	"github.com/c360/telemetryd/metric"
	"github.com/c360/telemetryd/record"
)

const (
	clientName = "telemetryd-feed"

	defaultReconnectWait  = 2 * time.Second
	defaultPingInterval   = 30 * time.Second
	defaultConnectTimeout = 5 * time.Second
	defaultDrainTimeout   = 30 * time.Second
)

// Feed publishes telemetry records to a NATS subject.
type Feed struct {
	url     string
	subject string
	logger  *slog.Logger
	metrics *metric.Metrics

	conn   *nats.Conn
	connMu sync.RWMutex

	running   atomic.Bool
	startTime time.Time

	recordsPublished atomic.Int64
	recordsDropped   atomic.Int64
	publishErrors    atomic.Int64
	bytesPublished   atomic.Int64
	lastActivity     atomic.Value // stores time.Time
}

var _ component.Lifecycle = (*Feed)(nil)

// FeedDeps holds runtime dependencies for the live feed.
type FeedDeps struct {
	URL     string
	Subject string
	Logger  *slog.Logger
	Metrics *metric.Metrics
}

// NewFeed creates a live feed publisher. The broker connection is not
// opened until Start.
func NewFeed(deps FeedDeps) *Feed {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "nats-feed")
	}

	f := &Feed{
		url:     deps.URL,
		subject: deps.Subject,
		logger:  logger,
		metrics: deps.Metrics,
	}
	f.lastActivity.Store(time.Time{})
	return f
}

// Name identifies the feed in logs and metrics labels.
func (f *Feed) Name() string { return "nats" }

// Initialize validates the feed configuration.
func (f *Feed) Initialize() error {
	if f.url == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "NATSFeed", "Initialize", "url validation")
	}
	if f.subject == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "NATSFeed", "Initialize", "subject validation")
	}
	return nil
}

// Start opens the broker connection. With RetryOnFailedConnect the
// collector comes up even when the broker is down; the feed attaches
// once the broker appears.
func (f *Feed) Start(ctx context.Context) error {
	if f.running.Load() {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "NATSFeed", "Start", "check running state")
	}

	opts := []nats.Option{
		nats.Name(clientName),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(defaultReconnectWait),
		nats.PingInterval(defaultPingInterval),
		nats.Timeout(defaultConnectTimeout),
		nats.DrainTimeout(defaultDrainTimeout),
		nats.RetryOnFailedConnect(true),
		nats.ConnectHandler(func(nc *nats.Conn) {
			f.logger.Info("Feed broker connected", "url", nc.ConnectedUrl())
			f.setConnectedGauge(true)
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				f.logger.Warn("Feed broker disconnected", "error", err)
			} else {
				f.logger.Warn("Feed broker disconnected")
			}
			f.setConnectedGauge(false)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			f.logger.Info("Feed broker reconnected", "url", nc.ConnectedUrl())
			f.setConnectedGauge(true)
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			f.logger.Info("Feed connection closed")
			f.setConnectedGauge(false)
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			if sub != nil {
				f.logger.Error("Feed async error", "subject", sub.Subject, "error", err)
			} else {
				f.logger.Error("Feed async error", "error", err)
			}
		}),
	}

	conn, err := nats.Connect(f.url, opts...)
	if err != nil {
		return errors.WrapTransient(err, "NATSFeed", "Start", "broker connect")
	}

	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()

	f.running.Store(true)
	f.startTime = time.Now()
	f.setConnectedGauge(conn.IsConnected())

	f.logger.Info("Live feed started", "url", f.url, "subject", f.subject)
	return nil
}

// RecordSubject returns the per-device subject a record is published on.
func (f *Feed) RecordSubject(deviceID uint16) string {
	return f.subject + "." + strconv.FormatUint(uint64(deviceID), 10)
}

// OfflineSubject returns the subject offline observations are published on.
func (f *Feed) OfflineSubject() string {
	return f.subject + ".offline"
}

// Write publishes one record as JSON on its device subject. A
// disconnected broker drops the record and returns nil; only marshal
// and publish failures surface.
func (f *Feed) Write(rec record.TelemetryRecord) error {
	if !f.running.Load() {
		return errors.WrapInvalid(errors.ErrSinkClosed, "NATSFeed", "Write", "feed state check")
	}
	return f.publish("Write", f.RecordSubject(rec.DeviceID), rec)
}

// PublishOffline publishes an offline observation, with the same
// best-effort semantics as Write.
func (f *Feed) PublishOffline(ev record.OfflineEvent) error {
	if !f.running.Load() {
		return errors.WrapInvalid(errors.ErrSinkClosed, "NATSFeed", "PublishOffline", "feed state check")
	}
	return f.publish("PublishOffline", f.OfflineSubject(), ev)
}

func (f *Feed) publish(op, subject string, v any) error {
	f.connMu.RLock()
	conn := f.conn
	f.connMu.RUnlock()

	if conn == nil || !conn.IsConnected() {
		f.recordsDropped.Add(1)
		return nil
	}

	payload, err := json.Marshal(v)
	if err != nil {
		f.publishErrors.Add(1)
		if f.metrics != nil {
			f.metrics.FeedErrors.Inc()
		}
		return errors.WrapInvalid(err, "NATSFeed", op, "marshal event")
	}

	if err := conn.Publish(subject, payload); err != nil {
		f.publishErrors.Add(1)
		if f.metrics != nil {
			f.metrics.FeedErrors.Inc()
		}
		return errors.WrapTransient(err, "NATSFeed", op, "publish event")
	}

	f.recordsPublished.Add(1)
	f.bytesPublished.Add(int64(len(payload)))
	f.lastActivity.Store(time.Now())

	if f.metrics != nil {
		f.metrics.FeedPublished.Inc()
	}

	return nil
}

// Stop drains the connection so buffered publishes flush before close.
func (f *Feed) Stop(timeout time.Duration) error {
	if !f.running.Load() {
		return nil
	}
	f.running.Store(false)

	f.connMu.Lock()
	conn := f.conn
	f.conn = nil
	f.connMu.Unlock()

	if conn == nil {
		return nil
	}

	if dropped := f.recordsDropped.Load(); dropped > 0 {
		f.logger.Warn("Feed dropped records while broker was unreachable", "dropped", dropped)
	}

	// Drain only works on a live connection; a reconnecting one has
	// nothing buffered worth flushing
	if conn.IsConnected() {
		if err := conn.Drain(); err != nil {
			conn.Close()
			return errors.WrapTransient(err, "NATSFeed", "Stop", "drain connection")
		}

		// Drain completes asynchronously; wait for the closed state
		deadline := time.Now().Add(timeout)
		for !conn.IsClosed() && time.Now().Before(deadline) {
			time.Sleep(10 * time.Millisecond)
		}
	} else {
		conn.Close()
	}

	f.logger.Info("Live feed stopped",
		"records_published", f.recordsPublished.Load(),
		"records_dropped", f.recordsDropped.Load())
	return nil
}

// Meta returns component metadata.
func (f *Feed) Meta() component.Metadata {
	return component.Metadata{
		Name:        "nats-feed",
		Type:        "output",
		Description: "Best-effort live feed publishing records to " + f.subject,
		Version:     "1.0.0",
	}
}

// Health reports the feed as healthy while running, even when the
// broker is unreachable. An outage degrades the feed, it does not
// break the collector.
func (f *Feed) Health() component.HealthStatus {
	return component.HealthStatus{
		Healthy:    f.running.Load(),
		LastCheck:  time.Now(),
		ErrorCount: int(f.publishErrors.Load()),
		Uptime:     time.Since(f.startTime),
	}
}

// DataFlow returns current data flow metrics.
func (f *Feed) DataFlow() component.FlowMetrics {
	published := f.recordsPublished.Load()
	dropped := f.recordsDropped.Load()
	errorCount := f.publishErrors.Load()
	lastActivity, _ := f.lastActivity.Load().(time.Time)

	var perSecond, bytesPerSecond, errorRate float64
	if uptime := time.Since(f.startTime).Seconds(); uptime > 0 && f.running.Load() {
		perSecond = float64(published) / uptime
		bytesPerSecond = float64(f.bytesPublished.Load()) / uptime
	}
	if attempts := published + dropped + errorCount; attempts > 0 {
		errorRate = float64(dropped+errorCount) / float64(attempts)
	}

	return component.FlowMetrics{
		MessagesPerSecond: perSecond,
		BytesPerSecond:    bytesPerSecond,
		ErrorRate:         errorRate,
		LastActivity:      lastActivity,
	}
}

// Connected reports whether the broker connection is currently up.
func (f *Feed) Connected() bool {
	f.connMu.RLock()
	defer f.connMu.RUnlock()
	return f.conn != nil && f.conn.IsConnected()
}

func (f *Feed) setConnectedGauge(connected bool) {
	if f.metrics != nil {
		f.metrics.RecordFeedStatus(connected)
	}
}
