package main

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"time"

	"github.com/c360/telemetryd/protocol"
)

// Simulator drives one synthetic device against a collector: an INIT
// handshake followed by a paced stream of DATA and HEARTBEAT packets
// sharing a single sequence space.
type Simulator struct {
	addr           string
	deviceID       uint16
	interval       time.Duration
	duration       time.Duration
	readings       int
	randomize      bool
	heartbeatEvery int
	initRetries    int

	conn    *net.UDPConn
	rng     *rand.Rand
	logger  *slog.Logger
	ackWait time.Duration

	start       time.Time
	seq         uint32
	reportIndex int

	dataSent      int
	heartbeatSent int
}

// SimulatorDeps holds the construction parameters for a Simulator.
type SimulatorDeps struct {
	Addr           string
	DeviceID       uint16
	Interval       time.Duration
	Duration       time.Duration
	Readings       int
	Randomize      bool
	Seed           int64 // 0 seeds from the clock
	HeartbeatEvery int
	InitRetries    int
	Logger         *slog.Logger
}

// NewSimulator creates a simulator; the socket opens in Run.
func NewSimulator(deps SimulatorDeps) *Simulator {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("device_id", deps.DeviceID)
	}

	seed := deps.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	retries := deps.InitRetries
	if retries < 1 {
		retries = 1
	}

	return &Simulator{
		addr:           deps.Addr,
		deviceID:       deps.DeviceID,
		interval:       deps.Interval,
		duration:       deps.Duration,
		readings:       deps.Readings,
		randomize:      deps.Randomize,
		heartbeatEvery: deps.HeartbeatEvery,
		initRetries:    retries,
		rng:            rand.New(rand.NewSource(seed)),
		logger:         logger,
		ackWait:        time.Second,
	}
}

// Run performs the handshake and streams reports until the duration
// elapses or the context is cancelled.
func (s *Simulator) Run(ctx context.Context) error {
	raddr, err := net.ResolveUDPAddr("udp", s.addr)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", s.addr, err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.addr, err)
	}
	s.conn = conn
	defer func() { _ = conn.Close() }()

	s.start = time.Now()

	if s.handshake(ctx) {
		s.logger.Info("Handshake acknowledged", "collector", s.addr)
	} else {
		s.logger.Warn("No INIT_ACK received, continuing without one",
			"collector", s.addr, "attempts", s.initRetries)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logSummary("interrupted")
			return nil
		case now := <-ticker.C:
			if now.Sub(s.start) >= s.duration {
				s.logSummary("finished")
				return nil
			}
			if err := s.sendReport(now); err != nil {
				return fmt.Errorf("send report: %w", err)
			}
		}
	}
}

// handshake sends INIT with sequence 0 and timestamp 0 and waits for an
// INIT_ACK, retrying per attempt. The stream continues either way; the
// handshake only tells an operator whether the collector is listening.
func (s *Simulator) handshake(ctx context.Context) bool {
	payload := []byte(protocol.Capabilities())
	if len(payload) > protocol.MaxBodySize {
		payload = payload[:protocol.MaxBodySize]
	}
	pkt := append(protocol.Encode(protocol.MsgInit, s.deviceID, 0, 0), payload...)

	for attempt := 1; attempt <= s.initRetries; attempt++ {
		if ctx.Err() != nil {
			return false
		}
		if _, err := s.conn.Write(pkt); err != nil {
			s.logger.Warn("INIT send failed", "attempt", attempt, "error", err)
			continue
		}
		s.logger.Debug("INIT sent", "attempt", attempt, "capabilities", string(payload))

		if s.awaitInitAck() {
			return true
		}
	}
	return false
}

// awaitInitAck reads replies until the ack window closes. Packets that
// are not a valid INIT_ACK for this device are discarded.
func (s *Simulator) awaitInitAck() bool {
	deadline := time.Now().Add(s.ackWait)
	if err := s.conn.SetReadDeadline(deadline); err != nil {
		return false
	}
	defer func() { _ = s.conn.SetReadDeadline(time.Time{}) }()

	buf := make([]byte, 2048)
	for {
		n, err := s.conn.Read(buf)
		if err != nil {
			return false
		}
		h, _, err := protocol.Decode(buf[:n])
		if err != nil || h.Validate() != nil {
			continue
		}
		if h.Type == protocol.MsgInitAck && h.DeviceID == s.deviceID {
			s.logger.Debug("INIT_ACK received",
				"seq", h.Sequence, "collector_ts", h.Timestamp)
			return true
		}
	}
}

// sendReport emits the next packet in the stream. The sequence number
// advances before every send, so the first report after INIT carries
// sequence 1, and heartbeats consume sequence numbers like DATA does.
func (s *Simulator) sendReport(now time.Time) error {
	s.reportIndex++
	s.seq++
	ts := uint32(now.Sub(s.start) / time.Second)

	if heartbeatInstead(s.readings, s.heartbeatEvery, s.reportIndex) {
		pkt := protocol.Encode(protocol.MsgHeartbeat, s.deviceID, s.seq, ts)
		if _, err := s.conn.Write(pkt); err != nil {
			return err
		}
		s.heartbeatSent++
		s.logger.Debug("HEARTBEAT sent", "seq", s.seq, "ts", ts)
		return nil
	}

	readings := s.makeReadings()
	body, err := protocol.EncodeReadings(readings)
	if err != nil {
		return err
	}
	pkt := append(protocol.Encode(protocol.MsgData, s.deviceID, s.seq, ts), body...)
	if _, err := s.conn.Write(pkt); err != nil {
		return err
	}
	s.dataSent++
	s.logger.Debug("DATA sent", "seq", s.seq, "ts", ts, "readings", len(readings))
	return nil
}

// heartbeatInstead decides whether the current report is a heartbeat:
// always when the device has no readings to send, otherwise on every
// Nth report when configured.
func heartbeatInstead(readings, every, reportIndex int) bool {
	if readings <= 0 {
		return true
	}
	return every > 0 && reportIndex%every == 0
}

// makeReadings builds the reading blocks for one DATA packet. Values
// are deterministic from the sequence number unless randomize is set,
// so a capture can be checked for bit-exact content after the fact.
func (s *Simulator) makeReadings() []protocol.Reading {
	count := s.readings
	if count < 1 {
		count = 1
	}
	if s.randomize {
		count = 1 + s.rng.Intn(count)
	}
	if count > protocol.MaxReadings {
		count = protocol.MaxReadings
	}

	readings := make([]protocol.Reading, 0, count)
	for i := 0; i < count; i++ {
		sid := uint8(i%255) + 1
		var val float32
		if s.randomize {
			val = float32(s.rng.Float64() * 100)
		} else {
			val = float32(float64(sid) + float64(s.seq%10)*0.1)
		}
		readings = append(readings, protocol.Reading{
			SensorID: sid,
			Format:   protocol.FormatFloat32,
			Value:    val,
		})
	}
	return readings
}

func (s *Simulator) logSummary(outcome string) {
	s.logger.Info("Simulation "+outcome,
		"reports", s.reportIndex,
		"data", s.dataSent,
		"heartbeats", s.heartbeatSent,
		"last_seq", s.seq,
		"elapsed", time.Since(s.start).Round(time.Millisecond))
}
