// Package main implements sensorsim, a traffic generator that plays the
// device side of the telemetry protocol against a running collector.
// One process simulates one device; run several with distinct --device
// values to exercise per-device stream isolation.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"
)

type options struct {
	Host           string
	Port           int
	DeviceID       uint
	Interval       time.Duration
	Duration       time.Duration
	Readings       int
	Randomize      bool
	Seed           int64
	HeartbeatEvery int
	InitRetries    int
	Verbose        bool
}

func parseOptions() *options {
	opts := &options{}

	flag.StringVar(&opts.Host, "host", "127.0.0.1", "Collector host")
	flag.IntVar(&opts.Port, "port", 5005, "Collector port")
	flag.UintVar(&opts.DeviceID, "device", 1, "Device identifier (0-65535)")
	flag.DurationVar(&opts.Interval, "interval", time.Second, "Delay between reports")
	flag.DurationVar(&opts.Duration, "duration", 60*time.Second, "How long to keep sending")
	flag.IntVar(&opts.Readings, "readings", 1, "Readings per DATA packet, 0 sends heartbeats only")
	flag.BoolVar(&opts.Randomize, "randomize", false, "Randomize reading count and values")
	flag.Int64Var(&opts.Seed, "seed", 0, "Random seed, 0 seeds from the clock")
	flag.IntVar(&opts.HeartbeatEvery, "heartbeat-every", 0, "Substitute a heartbeat for every Nth report, 0 disables")
	flag.IntVar(&opts.InitRetries, "init-retries", 3, "INIT attempts before continuing without an ack")
	flag.BoolVar(&opts.Verbose, "verbose", false, "Log every packet sent")
	flag.Parse()

	return opts
}

func main() {
	opts := parseOptions()
	if err := run(opts); err != nil {
		slog.Error("Simulator failed", "error", err)
		os.Exit(1)
	}
}

func run(opts *options) error {
	if opts.DeviceID > 0xFFFF {
		return fmt.Errorf("device id %d does not fit in 16 bits", opts.DeviceID)
	}
	if opts.Interval <= 0 {
		return fmt.Errorf("interval must be positive, got %s", opts.Interval)
	}
	if opts.Duration <= 0 {
		return fmt.Errorf("duration must be positive, got %s", opts.Duration)
	}

	level := slog.LevelInfo
	if opts.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})).
		With("device_id", opts.DeviceID)
	slog.SetDefault(logger)

	sim := NewSimulator(SimulatorDeps{
		Addr:           net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port)),
		DeviceID:       uint16(opts.DeviceID),
		Interval:       opts.Interval,
		Duration:       opts.Duration,
		Readings:       opts.Readings,
		Randomize:      opts.Randomize,
		Seed:           opts.Seed,
		HeartbeatEvery: opts.HeartbeatEvery,
		InitRetries:    opts.InitRetries,
		Logger:         logger,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return sim.Run(ctx)
}
