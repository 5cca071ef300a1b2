// Package service wires the collector's components into one ordered
// lifecycle.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/telemetryd/component"
	"github.com/c360/telemetryd/errors"
	"github.com/c360/telemetryd/health"
	"github.com/c360/telemetryd/metric"
)

// managed pairs a registered component with its tracked state.
type managed struct {
	name  string
	comp  component.Lifecycle
	state component.State
	err   error
}

// Manager owns the component lifecycle. Registration order is start
// order; stopping walks the same list in reverse, so the UDP listener
// registered last goes down first, closes the ingest queue, and the
// engine drains into still-open sinks.
type Manager struct {
	mu      sync.RWMutex
	order   []*managed
	byName  map[string]*managed
	monitor *health.Monitor

	logger  *slog.Logger
	metrics *metric.Metrics

	initialized atomic.Bool
	started     atomic.Bool
}

// ManagerDeps carries the dependencies for NewManager.
type ManagerDeps struct {
	Logger  *slog.Logger
	Metrics *metric.Metrics
}

// NewManager creates an empty manager.
func NewManager(deps ManagerDeps) *Manager {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "service-manager")
	}
	return &Manager{
		byName:  make(map[string]*managed),
		monitor: health.NewMonitor(),
		logger:  logger,
		metrics: deps.Metrics,
	}
}

// Register adds a component under a unique name. Components start in
// registration order, so callers register sinks before the engine and
// the engine before the listener.
func (m *Manager) Register(name string, comp component.Lifecycle) error {
	if m.started.Load() {
		return errors.WrapInvalid(fmt.Errorf("cannot register %q after start", name),
			"service-manager", "Register", "lifecycle check")
	}
	if comp == nil {
		return errors.WrapInvalid(fmt.Errorf("nil component %q", name),
			"service-manager", "Register", "component validation")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byName[name]; exists {
		return errors.WrapInvalid(fmt.Errorf("component %q already registered", name),
			"service-manager", "Register", "name validation")
	}

	mc := &managed{name: name, comp: comp, state: component.StateCreated}
	m.byName[name] = mc
	m.order = append(m.order, mc)
	return nil
}

// InitializeAll initializes every component in registration order. The
// first failure aborts: a collector with a half-valid configuration
// should not come up at all.
func (m *Manager) InitializeAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, mc := range m.order {
		if err := mc.comp.Initialize(); err != nil {
			mc.state = component.StateFailed
			mc.err = err
			return fmt.Errorf("initialize %s: %w", mc.name, err)
		}
		mc.state = component.StateInitialized
	}
	m.initialized.Store(true)
	return nil
}

// StartAll starts every component in registration order. On failure,
// components already started are stopped again in reverse so no
// half-running pipeline is left behind.
func (m *Manager) StartAll(ctx context.Context) error {
	if !m.initialized.Load() {
		return errors.Wrap(errors.ErrNotStarted, "service-manager", "StartAll", "initialization check")
	}
	if m.started.Load() {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for i, mc := range m.order {
		m.logger.Info("Starting component", "name", mc.name, "type", mc.comp.Meta().Type)
		if err := mc.comp.Start(ctx); err != nil {
			mc.state = component.StateFailed
			mc.err = err
			m.logger.Error("Component failed to start", "name", mc.name, "error", err)
			m.monitor.UpdateUnhealthy(mc.name, err.Error())

			m.rollback(i)
			return fmt.Errorf("start %s: %w", mc.name, err)
		}
		mc.state = component.StateStarted
		m.monitor.UpdateHealthy(mc.name, "started")
	}

	m.started.Store(true)
	m.logger.Info("All components started", "count", len(m.order))
	return nil
}

// rollback stops components [0, upto) in reverse after a start
// failure. Caller holds the lock.
func (m *Manager) rollback(upto int) {
	for i := upto - 1; i >= 0; i-- {
		mc := m.order[i]
		if mc.state != component.StateStarted {
			continue
		}
		if err := mc.comp.Stop(5 * time.Second); err != nil {
			m.logger.Warn("Rollback stop failed", "name", mc.name, "error", err)
		}
		mc.state = component.StateStopped
	}
}

// StopAll stops every started component in reverse registration
// order, sharing the timeout across the whole walk. Stop errors are
// collected rather than short-circuiting: every component gets its
// chance to shut down.
func (m *Manager) StopAll(timeout time.Duration) error {
	if !m.started.Load() {
		return nil
	}
	m.started.Store(false)

	deadline := time.Now().Add(timeout)

	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for i := len(m.order) - 1; i >= 0; i-- {
		mc := m.order[i]
		if mc.state != component.StateStarted {
			continue
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			remaining = time.Second // grace so later components still get a Stop call
		}

		m.logger.Info("Stopping component", "name", mc.name)
		if err := mc.comp.Stop(remaining); err != nil {
			mc.state = component.StateFailed
			mc.err = err
			m.monitor.UpdateUnhealthy(mc.name, err.Error())
			m.logger.Error("Component failed to stop", "name", mc.name, "error", err)
			errs = append(errs, fmt.Errorf("stop %s: %w", mc.name, err))
			continue
		}
		mc.state = component.StateStopped
	}

	if len(errs) > 0 {
		return fmt.Errorf("failed to stop %d components: %v", len(errs), errs)
	}
	m.logger.Info("All components stopped")
	return nil
}

// Health polls every component, refreshes the cached monitor and
// returns the aggregate verdict. Suitable as the metric server's
// health provider.
func (m *Manager) Health() health.Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	subStatuses := make([]health.Status, 0, len(m.order))
	for _, mc := range m.order {
		st := health.FromComponentHealth(mc.name, mc.comp.Health())
		if mc.state == component.StateFailed && mc.err != nil && st.Healthy {
			// A component that failed lifecycle but self-reports
			// healthy is still failed.
			st = health.NewUnhealthy(mc.name, mc.err.Error())
		}
		m.monitor.Update(mc.name, st)
		if m.metrics != nil {
			m.metrics.RecordHealthStatus(mc.name, st.Healthy)
		}
		subStatuses = append(subStatuses, st)
	}

	return health.Aggregate("telemetryd", subStatuses)
}

// Component returns a registered component by name.
func (m *Manager) Component(name string) (component.Lifecycle, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mc, ok := m.byName[name]
	if !ok {
		return nil, false
	}
	return mc.comp, true
}

// Names returns the registered component names in registration order.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, len(m.order))
	for i, mc := range m.order {
		names[i] = mc.name
	}
	return names
}

// IsStarted reports whether StartAll completed and StopAll has not run.
func (m *Manager) IsStarted() bool {
	return m.started.Load()
}
