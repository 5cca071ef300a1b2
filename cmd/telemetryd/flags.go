package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/c360/telemetryd/config"
)

// CLIConfig holds command-line configuration.
type CLIConfig struct {
	Host            string
	Port            int
	CSVPath         string
	SQLitePath      string
	NATSURL         string
	FeedSubject     string
	PCAPPath        string
	MetricsAddr     string
	DupWindow       int
	ReorderWindow   time.Duration
	ReorderMax      int
	OfflineAfter    time.Duration
	AckData         bool
	IngestBuffer    int
	ShutdownTimeout time.Duration
	LogLevel        string
	LogFormat       string
	LogFile         string
	Verbose         bool
	ShowVersion     bool
	ShowHelp        bool
}

func parseFlags() *CLIConfig {
	cfg := &CLIConfig{}
	def := config.Default()

	// Define flags with environment variable fallback
	flag.StringVar(&cfg.Host, "host",
		getEnv("TELEMETRYD_HOST", def.Host),
		"Listen address for the UDP socket (env: TELEMETRYD_HOST)")

	flag.IntVar(&cfg.Port, "port",
		getEnvInt("TELEMETRYD_PORT", def.Port),
		"Listen port for the UDP socket (env: TELEMETRYD_PORT)")

	flag.StringVar(&cfg.CSVPath, "csv",
		getEnv("TELEMETRYD_CSV", def.CSVPath),
		"Path to the durable CSV log (env: TELEMETRYD_CSV)")

	flag.StringVar(&cfg.SQLitePath, "sqlite",
		getEnv("TELEMETRYD_SQLITE", ""),
		"Path to a SQLite database for queryable storage, empty to disable (env: TELEMETRYD_SQLITE)")

	flag.StringVar(&cfg.NATSURL, "nats-url",
		getEnv("TELEMETRYD_NATS_URL", ""),
		"NATS server URL for the live record feed, empty to disable (env: TELEMETRYD_NATS_URL)")

	flag.StringVar(&cfg.FeedSubject, "feed-subject",
		getEnv("TELEMETRYD_FEED_SUBJECT", def.FeedSubject),
		"NATS subject for published records (env: TELEMETRYD_FEED_SUBJECT)")

	flag.StringVar(&cfg.PCAPPath, "pcap",
		getEnv("TELEMETRYD_PCAP", ""),
		"Path to a pcap trace of every received datagram, empty to disable (env: TELEMETRYD_PCAP)")

	flag.StringVar(&cfg.MetricsAddr, "metrics-addr",
		getEnv("TELEMETRYD_METRICS_ADDR", ""),
		"Listen address for Prometheus metrics and health, empty to disable (env: TELEMETRYD_METRICS_ADDR)")

	flag.IntVar(&cfg.DupWindow, "dup-window",
		getEnvInt("TELEMETRYD_DUP_WINDOW", def.DupWindow),
		"Per-device duplicate detection window in sequence numbers (env: TELEMETRYD_DUP_WINDOW)")

	flag.DurationVar(&cfg.ReorderWindow, "reorder-window",
		getEnvDuration("TELEMETRYD_REORDER_WINDOW", def.ReorderWindow),
		"Sender-timestamp lag before buffered packets release (env: TELEMETRYD_REORDER_WINDOW)")

	flag.IntVar(&cfg.ReorderMax, "reorder-max",
		getEnvInt("TELEMETRYD_REORDER_MAX", def.ReorderMax),
		fmt.Sprintf("Per-device reorder buffer capacity, %d to %d (env: TELEMETRYD_REORDER_MAX)",
			config.MinReorderCapacity, config.MaxReorderCapacity))

	flag.DurationVar(&cfg.OfflineAfter, "offline-after",
		getEnvDuration("TELEMETRYD_OFFLINE_AFTER", def.OfflineAfter),
		"Silence before a device is reported offline (env: TELEMETRYD_OFFLINE_AFTER)")

	flag.BoolVar(&cfg.AckData, "ack-data",
		getEnvBool("TELEMETRYD_ACK_DATA", false),
		"Acknowledge DATA and HEARTBEAT packets, for sender debugging (env: TELEMETRYD_ACK_DATA)")

	flag.IntVar(&cfg.IngestBuffer, "ingest-buffer",
		getEnvInt("TELEMETRYD_INGEST_BUFFER", def.IngestBuffer),
		"Datagrams queued between the listener and the engine (env: TELEMETRYD_INGEST_BUFFER)")

	flag.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		getEnvDuration("TELEMETRYD_SHUTDOWN_TIMEOUT", def.ShutdownTimeout),
		"Graceful shutdown timeout (env: TELEMETRYD_SHUTDOWN_TIMEOUT)")

	flag.StringVar(&cfg.LogLevel, "log-level",
		getEnv("TELEMETRYD_LOG_LEVEL", def.LogLevel),
		"Log level: debug, info, warn, error (env: TELEMETRYD_LOG_LEVEL)")

	flag.StringVar(&cfg.LogFormat, "log-format",
		getEnv("TELEMETRYD_LOG_FORMAT", def.LogFormat),
		"Log format: text, json (env: TELEMETRYD_LOG_FORMAT)")

	flag.StringVar(&cfg.LogFile, "log-file",
		getEnv("TELEMETRYD_LOG_FILE", ""),
		"Log to a rotated file instead of stderr (env: TELEMETRYD_LOG_FILE)")

	flag.BoolVar(&cfg.Verbose, "verbose", false, "Shorthand for --log-level=debug")
	flag.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	flag.BoolVar(&cfg.ShowVersion, "v", false, "Show version information")
	flag.BoolVar(&cfg.ShowHelp, "help", false, "Show help information")
	flag.BoolVar(&cfg.ShowHelp, "h", false, "Show help information")

	// Custom usage
	flag.Usage = func() {
		printDetailedHelp()
	}

	flag.Parse()

	// Override log level if verbose is set
	if cfg.Verbose {
		cfg.LogLevel = "debug"
	}

	return cfg
}

// collectorConfig maps the parsed flags onto the collector
// configuration. Validation happens there, not here.
func (c *CLIConfig) collectorConfig() *config.Config {
	return &config.Config{
		Host:            c.Host,
		Port:            c.Port,
		DupWindow:       c.DupWindow,
		ReorderWindow:   c.ReorderWindow,
		ReorderMax:      c.ReorderMax,
		OfflineAfter:    c.OfflineAfter,
		AckData:         c.AckData,
		IngestBuffer:    c.IngestBuffer,
		CSVPath:         c.CSVPath,
		SQLitePath:      c.SQLitePath,
		NATSURL:         c.NATSURL,
		FeedSubject:     c.FeedSubject,
		PCAPPath:        c.PCAPPath,
		MetricsAddr:     c.MetricsAddr,
		LogLevel:        c.LogLevel,
		LogFormat:       c.LogFormat,
		LogFile:         c.LogFile,
		ShutdownTimeout: c.ShutdownTimeout,
	}
}

func printDetailedHelp() {
	_, _ = fmt.Fprintf(os.Stderr, `%s - UDP Telemetry Collector

Usage: %s [options]

Options:
`, appName, os.Args[0])
	flag.PrintDefaults()
	_, _ = fmt.Fprintf(os.Stderr, `
Examples:
  # Listen on the default port, log to telemetry_log.csv
  %s

  # Durable SQLite storage and a live NATS feed
  %s --sqlite=telemetry.db --nats-url=nats://localhost:4222

  # Debug a misbehaving sensor
  %s --ack-data --pcap=trace.pcap --log-level=debug

  # Run with environment variables
  export TELEMETRYD_PORT=6005
  export TELEMETRYD_METRICS_ADDR=:9105
  %s

Version: %s
Build: %s
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0], Version, BuildTime)
}

// Environment variable helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
