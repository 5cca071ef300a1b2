// Package udp owns the collector's listening socket. It reads datagrams,
// decodes and validates the fixed header, and hands envelopes to the
// bounded ingest queue the processing engine drains. Replies (INIT_ACK
// and debug ACK) go back out through the same socket.
//
// Malformed datagrams (short, wrong magic, wrong version) are dropped
// here with a warning and a rejection counter; they never reach the
// engine. Unknown-but-well-formed message types pass through, the
// engine decides what to ignore.
package udp

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/telemetryd/component"
	"github.com/c360/telemetryd/errors"
	"github.com/c360/telemetryd/metric"
	"github.com/c360/telemetryd/pkg/buffer"
	"github.com/c360/telemetryd/pkg/retry"
	"github.com/c360/telemetryd/protocol"
)

// Envelope is one validated datagram on its way to the engine.
type Envelope struct {
	Header      protocol.Header
	Payload     []byte
	Addr        *net.UDPAddr
	ArrivalTime time.Time
}

// Tracer receives every inbound datagram before validation, accepted or
// not. Implemented by pkg/pcaptrace; nil disables capture.
type Tracer interface {
	Capture(data []byte, src, dst *net.UDPAddr, ts time.Time)
}

// Input is the UDP listener component.
type Input struct {
	host   string
	port   int
	queue  buffer.Buffer[Envelope]
	tracer Tracer
	logger *slog.Logger

	retryConfig retry.Config

	// Lifecycle management
	shutdown  chan struct{}
	done      chan struct{}
	running   atomic.Bool
	startTime time.Time
	mu        sync.RWMutex
	wg        sync.WaitGroup
	conn      *net.UDPConn
	localAddr *net.UDPAddr

	// Metrics (atomic for thread safety)
	packetsReceived atomic.Int64
	packetsRejected atomic.Int64
	bytesReceived   atomic.Int64
	socketErrors    atomic.Int64
	lastActivity    atomic.Value // stores time.Time

	metrics *metric.Metrics
}

var _ component.Lifecycle = (*Input)(nil)

// InputDeps holds runtime dependencies for the UDP listener.
type InputDeps struct {
	Host    string
	Port    int
	Queue   buffer.Buffer[Envelope]
	Tracer  Tracer
	Logger  *slog.Logger
	Metrics *metric.Metrics
}

// NewInput creates the UDP listener. The socket is not bound until Start.
func NewInput(deps InputDeps) *Input {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "udp-input", "port", deps.Port)
	}

	u := &Input{
		host:        deps.Host,
		port:        deps.Port,
		queue:       deps.Queue,
		tracer:      deps.Tracer,
		logger:      logger,
		retryConfig: retry.DefaultConfig(),
		startTime:   time.Now(),
		metrics:     deps.Metrics,
	}
	u.lastActivity.Store(time.Time{})
	return u
}

// Initialize validates the listener configuration.
func (u *Input) Initialize() error {
	u.mu.Lock()
	defer u.mu.Unlock()

	// 0 is allowed for OS auto-assignment
	if u.port < 0 || u.port > 65535 {
		return errors.WrapInvalid(fmt.Errorf("invalid port %d", u.port),
			"udp-input", "Initialize", "port validation")
	}

	if u.queue == nil {
		return errors.WrapInvalid(fmt.Errorf("nil ingest queue"),
			"udp-input", "Initialize", "queue validation")
	}

	return nil
}

// Start binds the socket and begins the read loop.
func (u *Input) Start(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.running.Load() {
		return nil // Already running, idempotent
	}

	u.shutdown = make(chan struct{})
	u.done = make(chan struct{})

	bindOperation := func() error {
		return u.bindSocket()
	}

	if err := retry.Do(ctx, u.retryConfig, bindOperation); err != nil {
		u.cleanupUnlocked()
		return errors.WrapTransient(err, "udp-input", "Start", "socket binding")
	}

	u.running.Store(true)
	u.startTime = time.Now()

	u.logger.Info("Listening for telemetry", "addr", u.localAddr.String())

	u.wg.Add(1)
	go func() {
		defer u.wg.Done()
		defer func() {
			u.mu.Lock()
			defer u.mu.Unlock()
			if u.done != nil {
				select {
				case <-u.done:
				default:
					close(u.done)
				}
			}
		}()
		u.readLoop(ctx)
	}()

	return nil
}

// bindSocket creates and binds the UDP socket.
func (u *Input) bindSocket() error {
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", u.host, u.port))
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address %s:%d: %w", u.host, u.port, err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP port %d: %w", u.port, err)
	}

	// Increase OS socket buffer so bursts do not drop at the kernel
	const socketBufferSize = 2 * 1024 * 1024
	if err := conn.SetReadBuffer(socketBufferSize); err != nil {
		// Some systems limit buffer size; not fatal
		u.logger.Warn("Could not set UDP buffer size",
			"buffer_size", socketBufferSize,
			"port", u.port,
			"error", err)
	}

	u.conn = conn
	u.localAddr = conn.LocalAddr().(*net.UDPAddr)
	return nil
}

// LocalAddr returns the bound address, useful when the port was
// auto-assigned. Nil before Start.
func (u *Input) LocalAddr() *net.UDPAddr {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.localAddr
}

// ReplyTo sends a header-only reply datagram to a device. Send errors
// are the caller's to log; replies are fire-and-forget and never retried.
func (u *Input) ReplyTo(addr *net.UDPAddr, h protocol.Header) error {
	u.mu.RLock()
	conn := u.conn
	u.mu.RUnlock()

	if conn == nil {
		return errors.WrapInvalid(errors.ErrNotStarted, "udp-input", "ReplyTo", "socket availability check")
	}

	if _, err := conn.WriteToUDP(h.Encode(), addr); err != nil {
		return errors.WrapTransient(err, "udp-input", "ReplyTo", "reply send")
	}
	return nil
}

// Stop gracefully stops the listener and closes the ingest queue, which
// is the engine's signal to drain and flush.
func (u *Input) Stop(timeout time.Duration) error {
	if !u.running.Load() {
		return nil
	}

	u.running.Store(false)

	u.mu.Lock()
	if u.shutdown != nil {
		select {
		case <-u.shutdown:
		default:
			close(u.shutdown)
		}
	}
	// Close the connection to unblock the read loop
	if u.conn != nil {
		_ = u.conn.Close()
	}
	u.mu.Unlock()

	select {
	case <-u.done:
	case <-time.After(timeout):
		return errors.WrapTransient(fmt.Errorf("stop timeout after %v", timeout),
			"udp-input", "Stop", "graceful shutdown")
	}

	u.cleanup()
	return nil
}

func (u *Input) cleanup() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.cleanupUnlocked()
}

func (u *Input) cleanupUnlocked() {
	if u.shutdown != nil {
		select {
		case <-u.shutdown:
		default:
			close(u.shutdown)
		}
		u.shutdown = nil
	}
	if u.done != nil {
		u.done = nil
	}
	if u.conn != nil {
		_ = u.conn.Close()
		u.conn = nil
	}
	if u.queue != nil {
		_ = u.queue.Close()
	}
}

// readLoop reads datagrams until shutdown. The short read deadline keeps
// the loop responsive to the shutdown channel.
func (u *Input) readLoop(ctx context.Context) {
	// Protocol datagrams are at most 200 bytes; 2048 leaves generous
	// headroom for oversized senders we still want to reject cleanly
	readBuffer := make([]byte, 2048)

	for u.running.Load() {
		select {
		case <-ctx.Done():
			return
		case <-u.shutdown:
			return
		default:
		}

		u.mu.RLock()
		if !u.running.Load() || u.conn == nil {
			u.mu.RUnlock()
			return
		}
		conn := u.conn
		localAddr := u.localAddr
		u.mu.RUnlock()

		_ = conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))

		n, addr, err := conn.ReadFromUDP(readBuffer)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}

			select {
			case <-ctx.Done():
				return
			case <-u.shutdown:
				return
			default:
				if stderrors.Is(err, net.ErrClosed) {
					// The closed-connection message looks transient to
					// IsTransient, but the socket is gone.
					return
				}
				u.socketErrors.Add(1)
				if !errors.IsTransient(err) {
					return
				}
				continue
			}
		}

		arrival := time.Now()

		data := make([]byte, n)
		copy(data, readBuffer[:n])

		if u.tracer != nil {
			u.tracer.Capture(data, addr, localAddr, arrival)
		}

		u.bytesReceived.Add(int64(n))
		u.lastActivity.Store(arrival)

		header, payload, err := protocol.Decode(data)
		if err != nil {
			u.reject("too_short", addr, n, err)
			continue
		}
		if err := header.Validate(); err != nil {
			reason := "bad_magic"
			if header.Magic == protocol.Magic {
				reason = "bad_version"
			}
			u.reject(reason, addr, n, err)
			continue
		}

		u.packetsReceived.Add(1)
		if u.metrics != nil {
			u.metrics.RecordPacketReceived(header.Type.String(), n)
		}

		env := Envelope{
			Header:      header,
			Payload:     payload,
			Addr:        addr,
			ArrivalTime: arrival,
		}
		if err := u.queue.Write(env); err != nil {
			// Closed queue means shutdown is in progress
			continue
		}

		if u.metrics != nil {
			u.metrics.IngestQueueSize.Set(float64(u.queue.Size()))
		}
	}
}

func (u *Input) reject(reason string, addr *net.UDPAddr, size int, err error) {
	u.packetsRejected.Add(1)
	if u.metrics != nil {
		u.metrics.RecordPacketRejected(reason)
	}
	u.logger.Warn("Dropping malformed datagram",
		"reason", reason,
		"from", addr.String(),
		"size_bytes", size,
		"error", err)
}

// Meta returns component metadata.
func (u *Input) Meta() component.Metadata {
	return component.Metadata{
		Name:        fmt.Sprintf("udp-input-%d", u.port),
		Type:        "input",
		Description: fmt.Sprintf("UDP telemetry listener on %s:%d", u.host, u.port),
		Version:     "1.0.0",
	}
}

// Health returns the current health status.
func (u *Input) Health() component.HealthStatus {
	u.mu.RLock()
	connected := u.conn != nil
	u.mu.RUnlock()

	return component.HealthStatus{
		Healthy:    u.running.Load() && connected,
		LastCheck:  time.Now(),
		ErrorCount: int(u.socketErrors.Load()),
		Uptime:     time.Since(u.startTime),
	}
}

// DataFlow returns current data flow metrics.
func (u *Input) DataFlow() component.FlowMetrics {
	received := u.packetsReceived.Load()
	rejected := u.packetsRejected.Load()
	bytes := u.bytesReceived.Load()
	lastActivity, _ := u.lastActivity.Load().(time.Time)

	var messagesPerSecond, bytesPerSecond, errorRate float64
	if uptime := time.Since(u.startTime).Seconds(); uptime > 0 {
		messagesPerSecond = float64(received) / uptime
		bytesPerSecond = float64(bytes) / uptime
	}
	if total := received + rejected; total > 0 {
		errorRate = float64(rejected) / float64(total)
	}

	return component.FlowMetrics{
		MessagesPerSecond: messagesPerSecond,
		BytesPerSecond:    bytesPerSecond,
		ErrorRate:         errorRate,
		LastActivity:      lastActivity,
	}
}
