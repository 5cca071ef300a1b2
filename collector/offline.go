package collector

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/telemetryd/component"
	"github.com/c360/telemetryd/errors"
	"github.com/c360/telemetryd/metric"
	"github.com/c360/telemetryd/record"
)

// OfflineReporter forwards offline observations to an external feed.
// natsfeed.Feed is the production implementation.
type OfflineReporter interface {
	PublishOffline(ev record.OfflineEvent) error
}

// Monitor sweeps the device registry on a fixed interval and reports
// every device whose last activity is older than the silence
// threshold. It only ever reads device state: a device that reappears
// after being reported keeps its session, its reorder buffer and its
// duplicate window exactly as it left them.
type Monitor struct {
	registry  *Registry
	threshold time.Duration
	interval  time.Duration
	reporter  OfflineReporter
	logger    *slog.Logger
	metrics   *metric.Metrics

	mu        sync.Mutex
	shutdown  chan struct{}
	done      chan struct{}
	running   atomic.Bool
	startTime time.Time
	wg        sync.WaitGroup

	// Statistics (atomic access)
	sweeps       atomic.Int64
	reports      atomic.Int64
	reportErrors atomic.Int64
	lastSweep    atomic.Value // time.Time
}

// MonitorDeps carries the dependencies for NewMonitor.
type MonitorDeps struct {
	// Registry is the shared device table to sweep.
	Registry *Registry

	// Threshold is how long a device may stay silent before it is
	// reported offline.
	Threshold time.Duration

	// Interval is the sweep cadence. Defaults to one second, so a
	// persistently silent device is reported once per second.
	Interval time.Duration

	// Reporter, when set, receives an OfflineEvent per silent device
	// per sweep. Nil keeps reports local to the log.
	Reporter OfflineReporter

	Logger  *slog.Logger
	Metrics *metric.Metrics
}

// NewMonitor creates the offline monitor.
func NewMonitor(deps MonitorDeps) *Monitor {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "offline-monitor")
	}
	interval := deps.Interval
	if interval <= 0 {
		interval = time.Second
	}

	m := &Monitor{
		registry:  deps.Registry,
		threshold: deps.Threshold,
		interval:  interval,
		reporter:  deps.Reporter,
		logger:    logger,
		metrics:   deps.Metrics,
		startTime: time.Now(),
	}
	m.lastSweep.Store(time.Time{})
	return m
}

// Initialize validates the monitor's wiring.
func (m *Monitor) Initialize() error {
	if m.registry == nil {
		return errors.WrapInvalid(fmt.Errorf("nil device registry"),
			"offline-monitor", "Initialize", "registry validation")
	}
	if m.threshold <= 0 {
		return errors.WrapInvalid(fmt.Errorf("silence threshold %v must be positive", m.threshold),
			"offline-monitor", "Initialize", "threshold validation")
	}
	return nil
}

// Start launches the sweep loop.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running.Load() {
		return nil // Already running, idempotent
	}

	m.shutdown = make(chan struct{})
	m.done = make(chan struct{})
	m.running.Store(true)
	m.startTime = time.Now()

	m.logger.Info("Offline monitor started",
		"threshold", m.threshold,
		"interval", m.interval)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer close(m.done)

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-m.shutdown:
				return
			case now := <-ticker.C:
				m.sweep(now)
			}
		}
	}()

	return nil
}

// Stop halts the sweep loop.
func (m *Monitor) Stop(timeout time.Duration) error {
	if !m.running.Load() {
		return nil
	}
	m.running.Store(false)

	m.mu.Lock()
	if m.shutdown != nil {
		select {
		case <-m.shutdown:
		default:
			close(m.shutdown)
		}
	}
	done := m.done
	m.mu.Unlock()

	if done != nil {
		select {
		case <-done:
		case <-time.After(timeout):
			return errors.WrapTransient(fmt.Errorf("stop timeout after %v", timeout),
				"offline-monitor", "Stop", "graceful shutdown")
		}
	}
	return nil
}

// sweep walks the registry once and reports every silent device. Each
// sweep re-reports devices that are still silent, so operators see
// ongoing silence rather than a single line lost in history.
func (m *Monitor) sweep(now time.Time) {
	m.sweeps.Add(1)
	m.lastSweep.Store(now)

	offline := 0
	for _, dev := range m.registry.Snapshot() {
		last := dev.LastActivity()
		silent := now.Sub(last)
		if silent <= m.threshold {
			continue
		}
		offline++
		m.reports.Add(1)

		// Only ID and LastActivity are safe to read from outside the
		// engine goroutine.
		m.logger.Warn("Device offline",
			"device_id", dev.ID(),
			"last_seen", last,
			"silent_for", silent.Round(time.Millisecond))
		if m.metrics != nil {
			m.metrics.OfflineReports.Inc()
		}

		if m.reporter != nil {
			ev := record.OfflineEvent{
				DeviceID:   dev.ID(),
				LastSeen:   last,
				SilentFor:  silent,
				ObservedAt: now,
			}
			if err := m.reporter.PublishOffline(ev); err != nil {
				m.reportErrors.Add(1)
				m.logger.Warn("Offline report publish failed",
					"device_id", dev.ID(),
					"error", err)
			}
		}
	}

	if m.metrics != nil {
		m.metrics.DevicesOffline.Set(float64(offline))
	}
}

// Meta returns component metadata.
func (m *Monitor) Meta() component.Metadata {
	return component.Metadata{
		Name:        "offline-monitor",
		Type:        "monitor",
		Description: fmt.Sprintf("Reports devices silent for more than %v", m.threshold),
		Version:     "1.0.0",
	}
}

// Health returns the current health status.
func (m *Monitor) Health() component.HealthStatus {
	return component.HealthStatus{
		Healthy:    m.running.Load(),
		LastCheck:  time.Now(),
		ErrorCount: int(m.reportErrors.Load()),
		Uptime:     time.Since(m.startTime),
	}
}

// DataFlow returns current data flow metrics.
func (m *Monitor) DataFlow() component.FlowMetrics {
	sweeps := m.sweeps.Load()
	lastSweep, _ := m.lastSweep.Load().(time.Time)

	var perSecond float64
	if uptime := time.Since(m.startTime).Seconds(); uptime > 0 && m.running.Load() {
		perSecond = float64(sweeps) / uptime
	}

	return component.FlowMetrics{
		MessagesPerSecond: perSecond,
		LastActivity:      lastSweep,
	}
}

var _ component.Lifecycle = (*Monitor)(nil)
