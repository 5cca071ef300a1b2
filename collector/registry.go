package collector

import (
	"log/slog"
	"sync"

	"github.com/c360/telemetryd/metric"
)

// Registry is the shared device table. The engine goroutine is the
// only writer of per-device protocol state, but registration and
// lookup are safe for concurrent use so the offline monitor and
// health surfaces can walk the table while packets flow.
type Registry struct {
	mu      sync.RWMutex
	devices map[uint16]*DeviceState

	windowSize int
	logger     *slog.Logger
	metrics    *metric.Metrics
}

// RegistryDeps carries the dependencies for NewRegistry.
type RegistryDeps struct {
	// WindowSize is the per-device duplicate-suppression window, in
	// sequence numbers.
	WindowSize int
	Logger     *slog.Logger
	Metrics    *metric.Metrics
}

// NewRegistry creates an empty device table.
func NewRegistry(deps RegistryDeps) *Registry {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "device-registry")
	}
	if deps.WindowSize < 1 {
		deps.WindowSize = 1
	}
	return &Registry{
		devices:    make(map[uint16]*DeviceState),
		windowSize: deps.WindowSize,
		logger:     logger,
		metrics:    deps.Metrics,
	}
}

// GetOrCreate returns the state for the device, registering it on
// first contact.
func (r *Registry) GetOrCreate(id uint16) *DeviceState {
	r.mu.RLock()
	dev, ok := r.devices[id]
	r.mu.RUnlock()
	if ok {
		return dev
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if dev, ok := r.devices[id]; ok {
		return dev
	}
	dev = newDeviceState(id, r.windowSize)
	r.devices[id] = dev
	if r.metrics != nil {
		r.metrics.DevicesRegistered.Set(float64(len(r.devices)))
	}
	r.logger.Info("Registered device",
		"device_id", dev.ID(),
		"session_id", dev.SessionID())
	return dev
}

// ResetOnInit replaces the device state wholesale: reorder buffer,
// duplicate window, gap tracking and session identity all start over.
// Entries buffered under the previous session are discarded, never
// released; their count is returned so the caller can account for
// them.
func (r *Registry) ResetOnInit(id uint16, capabilities string) (*DeviceState, int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	discarded := 0
	if prev, ok := r.devices[id]; ok {
		discarded = len(prev.pending)
		if r.metrics != nil {
			r.metrics.DeviceResets.Inc()
		}
	}
	dev := newDeviceState(id, r.windowSize)
	dev.capabilities = capabilities
	r.devices[id] = dev
	if r.metrics != nil {
		r.metrics.DevicesRegistered.Set(float64(len(r.devices)))
	}
	return dev, discarded
}

// Get looks up a device without creating it.
func (r *Registry) Get(id uint16) (*DeviceState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	dev, ok := r.devices[id]
	return dev, ok
}

// Snapshot returns the registered devices in unspecified order.
func (r *Registry) Snapshot() []*DeviceState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*DeviceState, 0, len(r.devices))
	for _, dev := range r.devices {
		out = append(out, dev)
	}
	return out
}

// Len returns the number of registered devices.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}
