// Package pcaptrace writes every received datagram to a pcap file for
// replay and offline analysis. Datagrams arrive over plain UDP read
// calls, so no link-layer frame exists to capture; the tracer
// synthesizes an Ethernet/IP/UDP envelope around each payload and
// stamps it with the true arrival time.
package pcaptrace

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/c360/telemetryd/component"
	"github.com/c360/telemetryd/errors"
)

const snapLen = 65536

// Synthetic locally-administered MACs, one per direction.
var (
	deviceMAC    = net.HardwareAddr{0x02, 0x74, 0x6C, 0x6D, 0x00, 0x01}
	collectorMAC = net.HardwareAddr{0x02, 0x74, 0x6C, 0x6D, 0x00, 0x02}
)

// Tracer is the pcap capture component. Capture is called by the UDP
// listener for every datagram before validation, so rejected packets
// appear in the trace too.
type Tracer struct {
	path   string
	logger *slog.Logger

	mu     sync.Mutex
	file   *os.File
	writer *pcapgo.Writer

	running   atomic.Bool
	startTime time.Time

	// Statistics (atomic access)
	framesWritten atomic.Int64
	writeErrors   atomic.Int64
	skipped       atomic.Int64
	bytesWritten  atomic.Int64
	lastActivity  atomic.Value // time.Time
}

// TracerDeps carries the dependencies for NewTracer.
type TracerDeps struct {
	// Path is the pcap output file. It is created fresh on every
	// start; pcap files are not appendable across runs.
	Path   string
	Logger *slog.Logger
}

// NewTracer creates the capture component.
func NewTracer(deps TracerDeps) *Tracer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "pcap-tracer")
	}
	tr := &Tracer{
		path:      deps.Path,
		logger:    logger,
		startTime: time.Now(),
	}
	tr.lastActivity.Store(time.Time{})
	return tr
}

// Initialize validates the output path and creates its directory.
func (tr *Tracer) Initialize() error {
	if tr.path == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig,
			"pcap-tracer", "Initialize", "path validation")
	}
	if dir := filepath.Dir(tr.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.WrapFatal(err, "pcap-tracer", "Initialize", "trace directory creation")
		}
	}
	return nil
}

// Start opens the pcap file and writes its global header.
func (tr *Tracer) Start(_ context.Context) error {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	if tr.running.Load() {
		return nil // Already running, idempotent
	}

	f, err := os.OpenFile(tr.path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.WrapFatal(err, "pcap-tracer", "Start", "trace file open")
	}

	w := pcapgo.NewWriter(f)
	if err := w.WriteFileHeader(snapLen, layers.LinkTypeEthernet); err != nil {
		_ = f.Close()
		return errors.WrapFatal(err, "pcap-tracer", "Start", "pcap header write")
	}

	tr.file = f
	tr.writer = w
	tr.running.Store(true)
	tr.startTime = time.Now()

	tr.logger.Info("Packet trace started", "path", tr.path)
	return nil
}

// Capture synthesizes a frame around the datagram and appends it to
// the trace. Failures are counted and logged, never escalated: tracing
// is diagnostic and must not interfere with collection.
func (tr *Tracer) Capture(data []byte, src, dst *net.UDPAddr, ts time.Time) {
	if !tr.running.Load() {
		return
	}
	if src == nil || dst == nil {
		tr.skipped.Add(1)
		return
	}

	frame, err := synthesizeFrame(data, src, dst)
	if err != nil {
		tr.skipped.Add(1)
		tr.logger.Debug("Skipping untraceable datagram", "from", src.String(), "error", err)
		return
	}

	ci := gopacket.CaptureInfo{
		Timestamp:     ts,
		CaptureLength: len(frame),
		Length:        len(frame),
	}

	tr.mu.Lock()
	defer tr.mu.Unlock()
	if tr.writer == nil {
		return
	}
	if err := tr.writer.WritePacket(ci, frame); err != nil {
		tr.writeErrors.Add(1)
		tr.logger.Warn("Trace write failed", "error", err)
		return
	}
	tr.framesWritten.Add(1)
	tr.bytesWritten.Add(int64(len(frame)))
	tr.lastActivity.Store(ts)
}

// synthesizeFrame wraps the datagram in Ethernet/IP/UDP layers with
// computed lengths and checksums, so standard tooling decodes the
// trace without complaints.
func synthesizeFrame(payload []byte, src, dst *net.UDPAddr) ([]byte, error) {
	eth := &layers.Ethernet{
		SrcMAC: deviceMAC,
		DstMAC: collectorMAC,
	}

	udp := &layers.UDP{
		SrcPort: layers.UDPPort(src.Port),
		DstPort: layers.UDPPort(dst.Port),
	}

	var netLayer gopacket.SerializableLayer
	if src4, dst4 := src.IP.To4(), dst.IP.To4(); src4 != nil && dst4 != nil {
		eth.EthernetType = layers.EthernetTypeIPv4
		ip := &layers.IPv4{
			Version:  4,
			IHL:      5,
			TTL:      64,
			Protocol: layers.IPProtocolUDP,
			SrcIP:    src4,
			DstIP:    dst4,
		}
		if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
			return nil, fmt.Errorf("checksum context: %w", err)
		}
		netLayer = ip
	} else {
		eth.EthernetType = layers.EthernetTypeIPv6
		ip := &layers.IPv6{
			Version:    6,
			HopLimit:   64,
			NextHeader: layers.IPProtocolUDP,
			SrcIP:      src.IP,
			DstIP:      dst.IP,
		}
		if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
			return nil, fmt.Errorf("checksum context: %w", err)
		}
		netLayer = ip
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{
		FixLengths:       true,
		ComputeChecksums: true,
	}
	if err := gopacket.SerializeLayers(buf, opts, eth, netLayer, udp, gopacket.Payload(payload)); err != nil {
		return nil, fmt.Errorf("serialize frame: %w", err)
	}
	return buf.Bytes(), nil
}

// Stop flushes and closes the trace file.
func (tr *Tracer) Stop(_ time.Duration) error {
	if !tr.running.Load() {
		return nil
	}
	tr.running.Store(false)

	tr.mu.Lock()
	defer tr.mu.Unlock()

	if tr.file != nil {
		if err := tr.file.Sync(); err != nil {
			tr.logger.Warn("Trace file sync failed", "error", err)
		}
		if err := tr.file.Close(); err != nil {
			return errors.WrapTransient(err, "pcap-tracer", "Stop", "trace file close")
		}
		tr.file = nil
		tr.writer = nil
	}

	tr.logger.Info("Packet trace stopped",
		"path", tr.path,
		"frames_written", tr.framesWritten.Load(),
		"skipped", tr.skipped.Load())
	return nil
}

// Meta returns component metadata.
func (tr *Tracer) Meta() component.Metadata {
	return component.Metadata{
		Name:        "pcap-tracer",
		Type:        "monitor",
		Description: fmt.Sprintf("Raw datagram capture to %s", tr.path),
		Version:     "1.0.0",
	}
}

// Health returns the current health status.
func (tr *Tracer) Health() component.HealthStatus {
	tr.mu.Lock()
	open := tr.file != nil
	tr.mu.Unlock()

	return component.HealthStatus{
		Healthy:    tr.running.Load() && open,
		LastCheck:  time.Now(),
		ErrorCount: int(tr.writeErrors.Load()),
		Uptime:     time.Since(tr.startTime),
	}
}

// DataFlow returns current data flow metrics.
func (tr *Tracer) DataFlow() component.FlowMetrics {
	frames := tr.framesWritten.Load()
	bytes := tr.bytesWritten.Load()
	lastActivity, _ := tr.lastActivity.Load().(time.Time)

	var perSecond, bytesPerSecond, errorRate float64
	if uptime := time.Since(tr.startTime).Seconds(); uptime > 0 && tr.running.Load() {
		perSecond = float64(frames) / uptime
		bytesPerSecond = float64(bytes) / uptime
	}
	if total := frames + tr.writeErrors.Load(); total > 0 {
		errorRate = float64(tr.writeErrors.Load()) / float64(total)
	}

	return component.FlowMetrics{
		MessagesPerSecond: perSecond,
		BytesPerSecond:    bytesPerSecond,
		ErrorRate:         errorRate,
		LastActivity:      lastActivity,
	}
}

var _ component.Lifecycle = (*Tracer)(nil)
