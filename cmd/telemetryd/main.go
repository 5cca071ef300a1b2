// Package main implements the entry point for the telemetryd collector.
// Telemetryd listens for sensor telemetry over UDP, repairs the stream
// (duplicates, reordering, gaps) and writes every reading to durable
// storage before acknowledging anything.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/c360/telemetryd/collector"
	"github.com/c360/telemetryd/config"
	"github.com/c360/telemetryd/input/udp"
	"github.com/c360/telemetryd/metric"
	"github.com/c360/telemetryd/output"
	"github.com/c360/telemetryd/output/csvfile"
	"github.com/c360/telemetryd/output/natsfeed"
	"github.com/c360/telemetryd/output/sqlitesink"
	"github.com/c360/telemetryd/pkg/buffer"
	"github.com/c360/telemetryd/pkg/pcaptrace"
	"github.com/c360/telemetryd/service"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "telemetryd"
)

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Collector failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	// Parse and validate CLI flags
	cfg, shouldExit, err := initializeCLI()
	if shouldExit || err != nil {
		return err
	}

	// Build the pipeline around a shared metrics registry
	metricsRegistry := metric.NewMetricsRegistry()
	manager, engineFatal, err := buildPipeline(cfg, metricsRegistry)
	if err != nil {
		return err
	}

	if err := manager.InitializeAll(); err != nil {
		return fmt.Errorf("initialize components: %w", err)
	}

	// The metrics server lives outside the manager: it reports on the
	// pipeline, so it outlives the pipeline's shutdown sequence.
	metricsServer, err := startMetricsServer(cfg, metricsRegistry, manager)
	if err != nil {
		return err
	}
	if metricsServer != nil {
		defer func() {
			if err := metricsServer.Stop(2 * time.Second); err != nil {
				slog.Warn("Metrics server stop failed", "error", err)
			}
		}()
	}

	// Run until a signal or a durable write failure
	return runWithSignalHandling(manager, engineFatal, cfg.ShutdownTimeout)
}

// initializeCLI parses flags, validates configuration and sets up logging
func initializeCLI() (*config.Config, bool, error) {
	cliCfg := parseFlags()

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil, true, nil
	}

	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil, true, nil
	}

	cfg := cliCfg.collectorConfig()
	if err := cfg.Validate(); err != nil {
		return nil, false, fmt.Errorf("invalid configuration: %w", err)
	}

	logger := setupLogger(cfg.LogLevel, cfg.LogFormat, cfg.LogFile)
	slog.SetDefault(logger)

	slog.Info("Starting telemetryd (UDP telemetry collector)",
		"version", Version,
		"build_time", BuildTime,
		"listen", cfg.Addr(),
		"csv", cfg.CSVPath)

	return cfg, false, nil
}

// buildPipeline constructs every component and registers them with the
// manager in start order. The listener registers last: it starts after
// everything downstream is ready and stops first, closing the ingest
// queue so the engine drains into still-open sinks.
func buildPipeline(
	cfg *config.Config,
	metricsRegistry *metric.MetricsRegistry,
) (*service.Manager, chan error, error) {
	metrics := metricsRegistry.CoreMetrics()

	queue, err := buffer.NewCircularBuffer[udp.Envelope](cfg.IngestBuffer,
		buffer.WithOverflowPolicy[udp.Envelope](buffer.DropNewest),
		buffer.WithMetrics[udp.Envelope](metricsRegistry, "ingest"),
		buffer.WithDropCallback[udp.Envelope](func(env udp.Envelope) {
			metrics.RecordPacketRejected("queue_full")
			slog.Warn("Ingest queue full, dropping datagram",
				"device_id", env.Header.DeviceID,
				"seq", env.Header.Sequence)
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("create ingest queue: %w", err)
	}

	manager := service.NewManager(service.ManagerDeps{Metrics: metrics})

	inputDeps := udp.InputDeps{
		Host:    cfg.Host,
		Port:    cfg.Port,
		Queue:   queue,
		Metrics: metrics,
	}

	if cfg.PCAPPath != "" {
		tracer := pcaptrace.NewTracer(pcaptrace.TracerDeps{Path: cfg.PCAPPath})
		inputDeps.Tracer = tracer
		if err := manager.Register("pcap-tracer", tracer); err != nil {
			return nil, nil, err
		}
	}

	csvSink := csvfile.NewSink(csvfile.SinkDeps{Path: cfg.CSVPath, Metrics: metrics})
	durable := []output.Sink{csvSink}
	if err := manager.Register("csv-sink", csvSink); err != nil {
		return nil, nil, err
	}

	if cfg.SQLitePath != "" {
		sqliteSink := sqlitesink.NewSink(sqlitesink.SinkDeps{Path: cfg.SQLitePath, Metrics: metrics})
		durable = append(durable, sqliteSink)
		if err := manager.Register("sqlite-sink", sqliteSink); err != nil {
			return nil, nil, err
		}
	}

	var taps []output.Sink
	var feed *natsfeed.Feed
	if cfg.NATSURL != "" {
		feed = natsfeed.NewFeed(natsfeed.FeedDeps{
			URL:     cfg.NATSURL,
			Subject: cfg.FeedSubject,
			Metrics: metrics,
		})
		taps = append(taps, feed)
		if err := manager.Register("nats-feed", feed); err != nil {
			return nil, nil, err
		}
	}

	fanout := output.NewFanout(output.FanoutDeps{
		Durable: durable,
		Taps:    taps,
		Metrics: metrics,
	})

	registry := collector.NewRegistry(collector.RegistryDeps{
		WindowSize: cfg.DupWindow,
		Metrics:    metrics,
	})

	input := udp.NewInput(inputDeps)

	engineFatal := make(chan error, 1)
	engine := collector.NewEngine(collector.EngineDeps{
		Queue:    queue,
		Registry: registry,
		Sink:     fanout,
		Replier:  input,
		Policy: collector.ReorderPolicy{
			Window:     cfg.ReorderWindow,
			MaxPending: cfg.ReorderMax,
		},
		AckData: cfg.AckData,
		OnFatal: func(err error) {
			select {
			case engineFatal <- err:
			default:
			}
		},
		Metrics: metrics,
	})
	if err := manager.Register("engine", engine); err != nil {
		return nil, nil, err
	}

	monitorDeps := collector.MonitorDeps{
		Registry:  registry,
		Threshold: cfg.OfflineAfter,
		Metrics:   metrics,
	}
	if feed != nil {
		monitorDeps.Reporter = feed
	}
	monitor := collector.NewMonitor(monitorDeps)
	if err := manager.Register("offline-monitor", monitor); err != nil {
		return nil, nil, err
	}

	if err := manager.Register("udp-input", input); err != nil {
		return nil, nil, err
	}

	return manager, engineFatal, nil
}

// startMetricsServer starts the Prometheus endpoint when configured.
func startMetricsServer(
	cfg *config.Config,
	metricsRegistry *metric.MetricsRegistry,
	manager *service.Manager,
) (*metric.Server, error) {
	if cfg.MetricsAddr == "" {
		return nil, nil
	}

	server := metric.NewServer(cfg.MetricsAddr, metricsRegistry, func() (bool, any) {
		status := manager.Health()
		return status.Healthy, status
	})
	if err := server.Start(); err != nil {
		return nil, fmt.Errorf("start metrics server: %w", err)
	}

	slog.Info("Metrics server listening", "addr", server.Address())
	return server, nil
}

// runWithSignalHandling starts the pipeline and blocks until a shutdown
// signal arrives or the engine reports a durable write failure.
func runWithSignalHandling(
	manager *service.Manager,
	engineFatal <-chan error,
	shutdownTimeout time.Duration,
) error {
	signalCtx, signalCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	if err := manager.StartAll(signalCtx); err != nil {
		return fmt.Errorf("start components: %w", err)
	}
	slog.Info("Collector ready", "components", manager.Names())

	var fatal error
	select {
	case <-signalCtx.Done():
		slog.Info("Received shutdown signal")
	case err := <-engineFatal:
		fatal = err
		slog.Error("Durable write failure, shutting down", "error", err)
	}

	if err := manager.StopAll(shutdownTimeout); err != nil {
		if fatal == nil {
			fatal = err
		} else {
			slog.Error("Shutdown incomplete", "error", err)
		}
	}

	if fatal != nil {
		return fatal
	}
	slog.Info("Collector shutdown complete")
	return nil
}
