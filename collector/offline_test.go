package collector

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/telemetryd/record"
)

type fakeOfflineReporter struct {
	mu     sync.Mutex
	events []record.OfflineEvent
	err    error
}

func (r *fakeOfflineReporter) PublishOffline(ev record.OfflineEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, ev)
	return nil
}

func (r *fakeOfflineReporter) all() []record.OfflineEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]record.OfflineEvent, len(r.events))
	copy(out, r.events)
	return out
}

func newTestMonitor(t *testing.T, registry *Registry, reporter OfflineReporter) *Monitor {
	t.Helper()
	m := NewMonitor(MonitorDeps{
		Registry:  registry,
		Threshold: 5 * time.Second,
		Interval:  10 * time.Millisecond,
		Reporter:  reporter,
	})
	require.NoError(t, m.Initialize())
	return m
}

func TestMonitorInitializeValidation(t *testing.T) {
	m := NewMonitor(MonitorDeps{Threshold: time.Second})
	assert.Error(t, m.Initialize(), "registry is required")

	m = NewMonitor(MonitorDeps{Registry: newTestRegistry(10)})
	assert.Error(t, m.Initialize(), "threshold must be positive")
}

func TestMonitorSweepReportsSilentDevice(t *testing.T) {
	registry := newTestRegistry(10)
	reporter := &fakeOfflineReporter{}
	m := newTestMonitor(t, registry, reporter)

	now := time.Now()
	dev := registry.GetOrCreate(1)
	dev.Touch(now.Add(-10 * time.Second))

	m.sweep(now)

	events := reporter.all()
	require.Len(t, events, 1)
	assert.Equal(t, uint16(1), events[0].DeviceID)
	assert.Equal(t, 10*time.Second, events[0].SilentFor)
	assert.Equal(t, now, events[0].ObservedAt)

	// Persistent silence is re-reported on every sweep
	m.sweep(now.Add(time.Second))
	assert.Len(t, reporter.all(), 2)
}

func TestMonitorSweepIgnoresActiveDevice(t *testing.T) {
	registry := newTestRegistry(10)
	reporter := &fakeOfflineReporter{}
	m := newTestMonitor(t, registry, reporter)

	now := time.Now()
	registry.GetOrCreate(1).Touch(now.Add(-time.Second))

	m.sweep(now)
	assert.Empty(t, reporter.all())
}

func TestMonitorSweepThresholdIsExclusive(t *testing.T) {
	registry := newTestRegistry(10)
	reporter := &fakeOfflineReporter{}
	m := newTestMonitor(t, registry, reporter)

	now := time.Now()
	registry.GetOrCreate(1).Touch(now.Add(-5 * time.Second))

	// Silence equal to the threshold is not yet offline
	m.sweep(now)
	assert.Empty(t, reporter.all())

	m.sweep(now.Add(time.Millisecond))
	assert.Len(t, reporter.all(), 1)
}

func TestMonitorSweepLeavesStateUntouched(t *testing.T) {
	registry := newTestRegistry(10)
	m := newTestMonitor(t, registry, nil)

	now := time.Now()
	dev := registry.GetOrCreate(1)
	dev.Remember(7)
	dev.Buffer(pendingEntry{Sequence: 7, Timestamp: 0})
	session := dev.SessionID()
	dev.Touch(now.Add(-time.Hour))

	m.sweep(now)

	// Reporting is observational: no reset, no flush, no eviction
	assert.Equal(t, session, dev.SessionID())
	assert.Equal(t, 1, dev.PendingLen())
	assert.True(t, dev.SeenRecently(7))
	assert.Equal(t, now.Add(-time.Hour).UnixNano(), dev.LastActivity().UnixNano())
}

func TestMonitorReporterFailureTolerated(t *testing.T) {
	registry := newTestRegistry(10)
	reporter := &fakeOfflineReporter{err: stderrors.New("broker down")}
	m := newTestMonitor(t, registry, reporter)

	now := time.Now()
	registry.GetOrCreate(1).Touch(now.Add(-time.Minute))

	m.sweep(now)
	assert.Equal(t, int64(1), m.reportErrors.Load())
	assert.Equal(t, int64(1), m.reports.Load(), "the local report still happens")
}

func TestMonitorLifecycle(t *testing.T) {
	registry := newTestRegistry(10)
	reporter := &fakeOfflineReporter{}
	m := newTestMonitor(t, registry, reporter)

	registry.GetOrCreate(1).Touch(time.Now().Add(-time.Minute))

	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(func() { _ = m.Stop(time.Second) })

	require.Eventually(t, func() bool {
		return len(reporter.all()) >= 2
	}, 2*time.Second, 5*time.Millisecond, "silent device should be reported every tick")

	require.NoError(t, m.Stop(time.Second))
	assert.False(t, m.Health().Healthy, "stopped monitor reports unhealthy")
}

func TestMonitorMeta(t *testing.T) {
	m := newTestMonitor(t, newTestRegistry(10), nil)
	meta := m.Meta()
	assert.Equal(t, "offline-monitor", meta.Name)
	assert.Equal(t, "monitor", meta.Type)
}
