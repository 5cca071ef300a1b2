package collector

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/telemetryd/component"
	"github.com/c360/telemetryd/errors"
	"github.com/c360/telemetryd/input/udp"
	"github.com/c360/telemetryd/metric"
	"github.com/c360/telemetryd/pkg/buffer"
	"github.com/c360/telemetryd/protocol"
	"github.com/c360/telemetryd/record"
)

// RecordWriter receives every record the engine decides to emit, in
// emission order. output.Fanout is the production implementation.
type RecordWriter interface {
	Write(rec record.TelemetryRecord) error
}

// Replier sends a protocol header back to a device. udp.Input is the
// production implementation; tests substitute their own.
type Replier interface {
	ReplyTo(addr *net.UDPAddr, h protocol.Header) error
}

// Engine drains the ingest queue on a single goroutine and runs the
// full per-packet pipeline: session resets, duplicate suppression,
// reorder buffering, release and gap detection. Serializing here keeps
// every per-device decision lock-free and repeatable.
type Engine struct {
	queue    buffer.Buffer[udp.Envelope]
	registry *Registry
	sink     RecordWriter
	replier  Replier
	policy   ReorderPolicy
	ackData  bool
	onFatal  func(error)
	logger   *slog.Logger
	metrics  *metric.Metrics

	mu        sync.Mutex
	shutdown  chan struct{}
	done      chan struct{}
	running   atomic.Bool
	startTime time.Time
	wg        sync.WaitGroup
	fatalOnce sync.Once

	// Statistics (atomic access)
	packetsProcessed atomic.Int64
	recordsWritten   atomic.Int64
	duplicates       atomic.Int64
	gaps             atomic.Int64
	replyErrors      atomic.Int64
	totalBuffered    atomic.Int64
	lastActivity     atomic.Value // time.Time
	lastError        atomic.Value // string
}

// EngineDeps carries the dependencies for NewEngine.
type EngineDeps struct {
	// Queue is the ingest buffer between the UDP listener and the
	// engine. The engine treats queue closure as the drain signal.
	Queue buffer.Buffer[udp.Envelope]

	// Registry is the shared device table.
	Registry *Registry

	// Sink receives every emitted record. A write failure is fatal:
	// the engine stops emitting rather than drop records silently.
	Sink RecordWriter

	// Replier sends INIT_ACK and optional ACK replies. Nil disables
	// replies entirely.
	Replier Replier

	// Policy bounds the per-device reorder buffer.
	Policy ReorderPolicy

	// AckData enables debug acknowledgements for DATA and HEARTBEAT
	// packets in addition to the INIT handshake.
	AckData bool

	// OnFatal is invoked once if a sink write fails, after the engine
	// has logged and stopped processing. Typically wired to cancel
	// the process context.
	OnFatal func(error)

	Logger  *slog.Logger
	Metrics *metric.Metrics
}

// NewEngine creates the processing engine.
func NewEngine(deps EngineDeps) *Engine {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "engine")
	}

	e := &Engine{
		queue:     deps.Queue,
		registry:  deps.Registry,
		sink:      deps.Sink,
		replier:   deps.Replier,
		policy:    deps.Policy.normalized(),
		ackData:   deps.AckData,
		onFatal:   deps.OnFatal,
		logger:    logger,
		metrics:   deps.Metrics,
		startTime: time.Now(),
	}
	e.lastActivity.Store(time.Time{})
	return e
}

// Initialize validates the engine's wiring.
func (e *Engine) Initialize() error {
	if e.queue == nil {
		return errors.WrapInvalid(fmt.Errorf("nil ingest queue"),
			"engine", "Initialize", "queue validation")
	}
	if e.registry == nil {
		return errors.WrapInvalid(fmt.Errorf("nil device registry"),
			"engine", "Initialize", "registry validation")
	}
	if e.sink == nil {
		return errors.WrapInvalid(fmt.Errorf("nil record sink"),
			"engine", "Initialize", "sink validation")
	}
	return nil
}

// Start launches the processing goroutine.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running.Load() {
		return nil // Already running, idempotent
	}

	e.shutdown = make(chan struct{})
	e.done = make(chan struct{})
	e.running.Store(true)
	e.startTime = time.Now()

	e.logger.Info("Engine started",
		"reorder_window", e.policy.Window,
		"reorder_max", e.policy.MaxPending,
		"ack_data", e.ackData)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.run(ctx)
	}()

	return nil
}

// run drains the queue until it closes or the context ends, then
// drains what is left and force-flushes every device so nothing held
// in a reorder buffer is lost on the way out.
func (e *Engine) run(ctx context.Context) {
	defer close(e.done)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-e.shutdown:
			cancel()
		case <-runCtx.Done():
		}
	}()

	for {
		env, ok := e.queue.ReadWithContext(runCtx)
		if !ok {
			break
		}
		if err := e.process(env); err != nil {
			e.fail(err)
			return
		}
	}

	// Shutdown raced the queue: consume whatever the listener managed
	// to enqueue before it closed.
	for {
		env, ok := e.queue.Read()
		if !ok {
			break
		}
		if err := e.process(env); err != nil {
			e.fail(err)
			return
		}
	}

	if err := e.flushAll(); err != nil {
		e.fail(err)
		return
	}
	e.logger.Info("Engine drained",
		"packets_processed", e.packetsProcessed.Load(),
		"records_written", e.recordsWritten.Load(),
		"duplicates", e.duplicates.Load(),
		"gaps", e.gaps.Load())
}

// Stop signals the processing goroutine and waits for the final flush
// to complete.
func (e *Engine) Stop(timeout time.Duration) error {
	if !e.running.Load() {
		return nil
	}
	e.running.Store(false)

	e.mu.Lock()
	if e.shutdown != nil {
		select {
		case <-e.shutdown:
		default:
			close(e.shutdown)
		}
	}
	done := e.done
	e.mu.Unlock()

	if done != nil {
		select {
		case <-done:
		case <-time.After(timeout):
			return errors.WrapTransient(fmt.Errorf("stop timeout after %v", timeout),
				"engine", "Stop", "graceful shutdown")
		}
	}
	return nil
}

// process runs one envelope through the pipeline. A non-nil return
// means a sink write failed and the engine must stop emitting.
func (e *Engine) process(env udp.Envelope) error {
	e.packetsProcessed.Add(1)
	e.lastActivity.Store(env.ArrivalTime)

	switch env.Header.Type {
	case protocol.MsgInit:
		e.handleInit(env)
		return nil
	case protocol.MsgData, protocol.MsgHeartbeat:
		return e.handleMeasurement(env)
	default:
		// Collector-bound types (INIT_ACK, ACK) looped back to us, or
		// types minted after this build. The packet still counts as
		// activity for the offline monitor.
		dev := e.registry.GetOrCreate(env.Header.DeviceID)
		dev.Touch(env.ArrivalTime)
		e.logger.Info("Ignoring unexpected message type",
			"type", env.Header.Type.String(),
			"device_id", env.Header.DeviceID,
			"seq", env.Header.Sequence)
		return nil
	}
}

// handleInit resets the device session and acknowledges the handshake.
func (e *Engine) handleInit(env udp.Envelope) {
	caps := capabilityString(env.Payload)
	dev, discarded := e.registry.ResetOnInit(env.Header.DeviceID, caps)
	dev.Touch(env.ArrivalTime)
	if discarded > 0 {
		e.totalBuffered.Add(int64(-discarded))
		e.updateBufferedGauge()
	}

	e.logger.Info("Device initialized",
		"device_id", dev.ID(),
		"session_id", dev.SessionID(),
		"seq", env.Header.Sequence,
		"capabilities", caps,
		"discarded_buffered", discarded,
		"from", addrString(env.Addr))

	// The reply echoes the INIT sequence so the device can match it,
	// with a timestamp from the collector's own clock.
	e.reply(env.Addr, protocol.Header{
		Magic:     protocol.Magic,
		Version:   protocol.Version,
		Type:      protocol.MsgInitAck,
		DeviceID:  dev.ID(),
		Sequence:  env.Header.Sequence,
		Timestamp: e.uptimeSeconds(),
	})
}

// handleMeasurement runs DATA and HEARTBEAT packets through duplicate
// suppression, reorder buffering and release.
func (e *Engine) handleMeasurement(env udp.Envelope) error {
	h := env.Header
	dev := e.registry.GetOrCreate(h.DeviceID)
	dev.Touch(env.ArrivalTime)

	if e.ackData {
		e.reply(env.Addr, protocol.Header{
			Magic:     protocol.Magic,
			Version:   protocol.Version,
			Type:      protocol.MsgAck,
			DeviceID:  h.DeviceID,
			Sequence:  h.Sequence,
			Timestamp: h.Timestamp,
		})
	}

	// Payload decoding is advisory: a malformed body is logged and the
	// packet still flows through on its header alone.
	var readings []protocol.Reading
	if h.Type == protocol.MsgData {
		var err error
		readings, err = protocol.ParseReadings(env.Payload)
		if err != nil {
			if e.metrics != nil {
				e.metrics.PayloadWarnings.Inc()
			}
			e.logger.Warn("Payload failed validation",
				"device_id", h.DeviceID,
				"seq", h.Sequence,
				"parsed_readings", len(readings),
				"error", err)
		}
		if n := len(readings); n > 0 && e.metrics != nil {
			e.metrics.ReadingsParsed.Add(float64(n))
		}
	}

	// Duplicates never enter the reorder buffer; they are recorded at
	// arrival with the duplicate flag and no gap verdict.
	if dev.SeenRecently(h.Sequence) {
		dev.duplicates++
		e.duplicates.Add(1)
		e.logger.Debug("Duplicate sequence",
			"device_id", h.DeviceID,
			"seq", h.Sequence,
			"ts", h.Timestamp)
		rec := record.TelemetryRecord{
			DeviceID:    h.DeviceID,
			Sequence:    h.Sequence,
			Timestamp:   h.Timestamp,
			ArrivalTime: env.ArrivalTime,
			Duplicate:   true,
			SessionID:   dev.SessionID(),
			Readings:    readings,
		}
		if err := e.write(rec); err != nil {
			return err
		}
		if e.metrics != nil {
			e.metrics.RecordRecordWritten("duplicate")
		}
		return nil
	}
	dev.Remember(h.Sequence)

	dev.Buffer(pendingEntry{
		Sequence:    h.Sequence,
		Timestamp:   h.Timestamp,
		ArrivalTime: env.ArrivalTime,
		Readings:    readings,
	})
	e.totalBuffered.Add(1)

	// A heartbeat flushes everything the device has buffered; a DATA
	// packet only advances the watermark.
	force := h.Type == protocol.MsgHeartbeat
	if force {
		e.logger.Debug("Heartbeat flush",
			"device_id", h.DeviceID,
			"seq", h.Sequence,
			"pending", dev.PendingLen())
	}
	rels := dev.releasePass(e.policy, h.Timestamp, true, force)
	return e.emit(dev, rels)
}

// emit writes released entries to the sink in release order.
func (e *Engine) emit(dev *DeviceState, rels []released) error {
	if len(rels) == 0 {
		e.updateBufferedGauge()
		return nil
	}
	e.totalBuffered.Add(int64(-len(rels)))
	e.updateBufferedGauge()

	for _, rel := range rels {
		if rel.gap {
			e.gaps.Add(1)
			e.logger.Debug("Sequence gap at release",
				"device_id", dev.ID(),
				"seq", rel.entry.Sequence)
		}
		rec := record.TelemetryRecord{
			DeviceID:    dev.ID(),
			Sequence:    rel.entry.Sequence,
			Timestamp:   rel.entry.Timestamp,
			ArrivalTime: rel.entry.ArrivalTime,
			Gap:         rel.gap,
			SessionID:   dev.SessionID(),
			Readings:    rel.entry.Readings,
		}
		if err := e.write(rec); err != nil {
			return err
		}
		if e.metrics != nil {
			e.metrics.RecordRelease(rel.trigger)
			if rel.gap {
				e.metrics.RecordRecordWritten("gap")
			} else {
				e.metrics.RecordRecordWritten("ok")
			}
		}
	}
	return nil
}

// write hands a record to the sink. Any failure is escalated to fatal:
// the durable log is the product, and continuing past a failed write
// would silently lose data.
func (e *Engine) write(rec record.TelemetryRecord) error {
	if err := e.sink.Write(rec); err != nil {
		if !errors.IsFatal(err) {
			err = errors.WrapFatal(err, "engine", "write", "durable record write")
		}
		return err
	}
	e.recordsWritten.Add(1)
	return nil
}

// flushAll force-releases every device's reorder buffer. Called once
// on the way out of the run loop.
func (e *Engine) flushAll() error {
	flushed := 0
	for _, dev := range e.registry.Snapshot() {
		rels := dev.releasePass(e.policy, 0, false, true)
		flushed += len(rels)
		if err := e.emit(dev, rels); err != nil {
			return err
		}
	}
	e.logger.Info("Final flush complete", "records", flushed)
	return nil
}

// fail records a fatal error, marks the engine unhealthy and notifies
// the process exactly once.
func (e *Engine) fail(err error) {
	e.fatalOnce.Do(func() {
		e.lastError.Store(err.Error())
		e.running.Store(false)
		e.logger.Error("Stopping after unrecoverable sink failure", "error", err)
		if e.onFatal != nil {
			e.onFatal(err)
		}
	})
}

// reply sends a header-only response to the device. Failures are
// logged and counted, never escalated: replies are advisory and the
// record pipeline does not depend on them.
func (e *Engine) reply(addr *net.UDPAddr, h protocol.Header) {
	if e.replier == nil || addr == nil {
		return
	}
	if err := e.replier.ReplyTo(addr, h); err != nil {
		e.replyErrors.Add(1)
		if e.metrics != nil {
			e.metrics.ReplyErrors.Inc()
		}
		e.logger.Warn("Reply send failed",
			"type", h.Type.String(),
			"device_id", h.DeviceID,
			"error", err)
		return
	}
	if e.metrics != nil {
		e.metrics.RecordReplySent(h.Type.String())
	}
}

func (e *Engine) uptimeSeconds() uint32 {
	return uint32(time.Since(e.startTime) / time.Second)
}

func (e *Engine) updateBufferedGauge() {
	if e.metrics != nil {
		e.metrics.ReorderBuffered.Set(float64(e.totalBuffered.Load()))
	}
}

// capabilityString renders an INIT payload for storage and logs. The
// content is advisory, so anything non-printable is dropped rather
// than rejected.
func capabilityString(payload []byte) string {
	s := strings.ToValidUTF8(string(payload), "")
	return strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7F {
			return -1
		}
		return r
	}, s)
}

func addrString(addr *net.UDPAddr) string {
	if addr == nil {
		return ""
	}
	return addr.String()
}

// Meta returns component metadata.
func (e *Engine) Meta() component.Metadata {
	return component.Metadata{
		Name:        "engine",
		Type:        "processor",
		Description: "Serialized telemetry pipeline: dedup, reorder, release",
		Version:     "1.0.0",
	}
}

// Health returns the current health status.
func (e *Engine) Health() component.HealthStatus {
	lastErr, _ := e.lastError.Load().(string)
	return component.HealthStatus{
		Healthy:    e.running.Load() && lastErr == "",
		LastCheck:  time.Now(),
		ErrorCount: int(e.replyErrors.Load()),
		LastError:  lastErr,
		Uptime:     time.Since(e.startTime),
	}
}

// DataFlow returns current data flow metrics.
func (e *Engine) DataFlow() component.FlowMetrics {
	processed := e.packetsProcessed.Load()
	lastActivity, _ := e.lastActivity.Load().(time.Time)

	var perSecond, errorRate float64
	if uptime := time.Since(e.startTime).Seconds(); uptime > 0 && e.running.Load() {
		perSecond = float64(processed) / uptime
	}
	if processed > 0 {
		errorRate = float64(e.duplicates.Load()+e.gaps.Load()) / float64(processed)
	}

	return component.FlowMetrics{
		MessagesPerSecond: perSecond,
		ErrorRate:         errorRate,
		LastActivity:      lastActivity,
	}
}

var _ component.Lifecycle = (*Engine)(nil)
