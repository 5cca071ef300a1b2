package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains the collector's core instruments. Domain components
// register additional metrics through the MetricsRegistry.
type Metrics struct {
	// Ingest metrics
	PacketsReceived *prometheus.CounterVec
	PacketsRejected *prometheus.CounterVec
	BytesReceived   prometheus.Counter
	IngestQueueSize prometheus.Gauge

	// Pipeline metrics
	RecordsWritten    *prometheus.CounterVec
	ReleasesByTrigger *prometheus.CounterVec
	ReorderBuffered   prometheus.Gauge
	PayloadWarnings   prometheus.Counter
	ReadingsParsed    prometheus.Counter

	// Device metrics
	DevicesRegistered prometheus.Gauge
	DevicesOffline    prometheus.Gauge
	OfflineReports    prometheus.Counter
	DeviceResets      prometheus.Counter

	// Reply metrics
	RepliesSent *prometheus.CounterVec
	ReplyErrors prometheus.Counter

	// Sink metrics
	SinkWriteDuration *prometheus.HistogramVec

	// Live feed metrics
	FeedPublished prometheus.Counter
	FeedErrors    prometheus.Counter
	FeedConnected prometheus.Gauge

	// Component health
	HealthCheckStatus *prometheus.GaugeVec
}

// NewMetrics creates a new Metrics instance with all core instruments.
func NewMetrics() *Metrics {
	return &Metrics{
		PacketsReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "telemetryd",
				Subsystem: "packets",
				Name:      "received_total",
				Help:      "Total datagrams received, by message type",
			},
			[]string{"type"},
		),

		PacketsRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "telemetryd",
				Subsystem: "packets",
				Name:      "rejected_total",
				Help:      "Total datagrams dropped before processing, by reason",
			},
			[]string{"reason"},
		),

		BytesReceived: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "telemetryd",
				Subsystem: "packets",
				Name:      "bytes_received_total",
				Help:      "Total bytes received on the UDP socket",
			},
		),

		IngestQueueSize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "telemetryd",
				Subsystem: "packets",
				Name:      "queue_depth",
				Help:      "Datagrams waiting in the ingest queue",
			},
		),

		RecordsWritten: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "telemetryd",
				Subsystem: "records",
				Name:      "written_total",
				Help:      "Log records written, by disposition (ok, duplicate, gap)",
			},
			[]string{"disposition"},
		),

		ReleasesByTrigger: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "telemetryd",
				Subsystem: "reorder",
				Name:      "releases_total",
				Help:      "Reorder buffer releases, by trigger (watermark, forced, capacity)",
			},
			[]string{"trigger"},
		),

		ReorderBuffered: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "telemetryd",
				Subsystem: "reorder",
				Name:      "buffered_entries",
				Help:      "Entries currently held across all reorder buffers",
			},
		),

		PayloadWarnings: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "telemetryd",
				Subsystem: "packets",
				Name:      "payload_warnings_total",
				Help:      "DATA payloads that failed advisory reading validation",
			},
		),

		ReadingsParsed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "telemetryd",
				Subsystem: "packets",
				Name:      "readings_parsed_total",
				Help:      "Sensor readings decoded from DATA payloads",
			},
		),

		DevicesRegistered: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "telemetryd",
				Subsystem: "devices",
				Name:      "registered",
				Help:      "Devices known to the registry",
			},
		),

		DevicesOffline: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "telemetryd",
				Subsystem: "devices",
				Name:      "offline",
				Help:      "Devices silent beyond the offline threshold",
			},
		),

		OfflineReports: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "telemetryd",
				Subsystem: "devices",
				Name:      "offline_reports_total",
				Help:      "Offline observations emitted by the monitor",
			},
		),

		DeviceResets: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "telemetryd",
				Subsystem: "devices",
				Name:      "resets_total",
				Help:      "Device state resets triggered by INIT messages",
			},
		),

		RepliesSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "telemetryd",
				Subsystem: "replies",
				Name:      "sent_total",
				Help:      "Reply datagrams sent, by message type",
			},
			[]string{"type"},
		),

		ReplyErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "telemetryd",
				Subsystem: "replies",
				Name:      "errors_total",
				Help:      "Reply sends that failed (non-fatal, not retried)",
			},
		),

		SinkWriteDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "telemetryd",
				Subsystem: "sink",
				Name:      "write_duration_seconds",
				Help:      "Durable sink write latency in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"sink"},
		),

		FeedPublished: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "telemetryd",
				Subsystem: "feed",
				Name:      "published_total",
				Help:      "Records published to the live feed",
			},
		),

		FeedErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "telemetryd",
				Subsystem: "feed",
				Name:      "errors_total",
				Help:      "Live feed publishes that failed",
			},
		),

		FeedConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "telemetryd",
				Subsystem: "feed",
				Name:      "connected",
				Help:      "Live feed connection status (0=disconnected, 1=connected)",
			},
		),

		HealthCheckStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "telemetryd",
				Subsystem: "health",
				Name:      "status",
				Help:      "Component health (0=unhealthy, 1=healthy)",
			},
			[]string{"component"},
		),
	}
}

// RecordPacketReceived increments the received counter for a message type.
func (m *Metrics) RecordPacketReceived(msgType string, bytes int) {
	m.PacketsReceived.WithLabelValues(msgType).Inc()
	m.BytesReceived.Add(float64(bytes))
}

// RecordPacketRejected increments the rejected counter for a drop reason.
func (m *Metrics) RecordPacketRejected(reason string) {
	m.PacketsRejected.WithLabelValues(reason).Inc()
}

// RecordRecordWritten increments the written counter for a disposition.
func (m *Metrics) RecordRecordWritten(disposition string) {
	m.RecordsWritten.WithLabelValues(disposition).Inc()
}

// RecordRelease increments the release counter for a trigger.
func (m *Metrics) RecordRelease(trigger string) {
	m.ReleasesByTrigger.WithLabelValues(trigger).Inc()
}

// RecordReplySent increments the reply counter for a message type.
func (m *Metrics) RecordReplySent(msgType string) {
	m.RepliesSent.WithLabelValues(msgType).Inc()
}

// RecordSinkWrite records a durable write latency for a named sink.
func (m *Metrics) RecordSinkWrite(sink string, duration time.Duration) {
	m.SinkWriteDuration.WithLabelValues(sink).Observe(duration.Seconds())
}

// RecordHealthStatus updates a component's health gauge.
func (m *Metrics) RecordHealthStatus(componentName string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	m.HealthCheckStatus.WithLabelValues(componentName).Set(value)
}

// RecordFeedStatus updates the live feed connection gauge.
func (m *Metrics) RecordFeedStatus(connected bool) {
	value := 0.0
	if connected {
		value = 1.0
	}
	m.FeedConnected.Set(value)
}
