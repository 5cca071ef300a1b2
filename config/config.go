// Package config defines the collector configuration and its validation
// rules. Values arrive from command-line flags with environment variable
// fallbacks; Validate normalizes and rejects before anything binds a
// socket or opens a file.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Reorder buffer capacity bounds. Below the floor the buffer thrashes
// on bursty senders; above the ceiling release latency under loss
// exceeds what downstream consumers tolerate.
const (
	MinReorderCapacity = 64
	MaxReorderCapacity = 256
)

// Config represents the complete collector configuration.
type Config struct {
	// Listener
	Host string `json:"host"`
	Port int    `json:"port"`

	// Pipeline tuning
	DupWindow     int           `json:"dup_window"`     // recency window size per device
	ReorderWindow time.Duration `json:"reorder_window"` // sender-timestamp watermark lag
	ReorderMax    int           `json:"reorder_max"`    // reorder buffer capacity per device
	OfflineAfter  time.Duration `json:"offline_after"`  // silence threshold before a device is reported offline
	AckData       bool          `json:"ack_data"`       // acknowledge DATA packets in addition to INIT
	IngestBuffer  int           `json:"ingest_buffer"`  // datagrams queued between listener and engine

	// Durable outputs
	CSVPath    string `json:"csv_path"`
	SQLitePath string `json:"sqlite_path,omitempty"` // empty disables the SQLite sink

	// Best-effort outputs
	NATSURL     string `json:"nats_url,omitempty"` // empty disables the feed
	FeedSubject string `json:"feed_subject,omitempty"`

	// Diagnostics
	PCAPPath    string `json:"pcap_path,omitempty"`    // empty disables packet tracing
	MetricsAddr string `json:"metrics_addr,omitempty"` // empty disables the metrics server
	LogLevel    string `json:"log_level"`
	LogFormat   string `json:"log_format"`
	LogFile     string `json:"log_file,omitempty"` // empty logs to stderr

	// Shutdown
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
}

// Default returns the collector defaults. They match the listener's
// documented wire contract: any sensor speaking the protocol on port
// 5005 is accepted without per-device provisioning.
func Default() *Config {
	return &Config{
		Host:            "0.0.0.0",
		Port:            5005,
		DupWindow:       10000,
		ReorderWindow:   time.Second,
		ReorderMax:      128,
		OfflineAfter:    5 * time.Second,
		AckData:         false,
		IngestBuffer:    4096,
		CSVPath:         "telemetry_log.csv",
		FeedSubject:     "telemetry.records",
		LogLevel:        "info",
		LogFormat:       "text",
		ShutdownTimeout: 10 * time.Second,
	}
}

// Addr returns the listener address in host:port form.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Validate checks the configuration and normalizes string fields.
// Port 0 is allowed so tests can bind an OS-assigned port.
func (c *Config) Validate() error {
	if c.Host == "" {
		return errors.New("host is required")
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}

	if c.DupWindow < 1 {
		return fmt.Errorf("dup-window must be at least 1, got %d", c.DupWindow)
	}
	if c.ReorderWindow <= 0 {
		return fmt.Errorf("reorder-window must be positive, got %s", c.ReorderWindow)
	}
	if c.ReorderMax < MinReorderCapacity || c.ReorderMax > MaxReorderCapacity {
		return fmt.Errorf("reorder-max must be between %d and %d, got %d",
			MinReorderCapacity, MaxReorderCapacity, c.ReorderMax)
	}
	if c.OfflineAfter <= 0 {
		return fmt.Errorf("offline-after must be positive, got %s", c.OfflineAfter)
	}
	if c.IngestBuffer < 1 {
		return fmt.Errorf("ingest-buffer must be at least 1, got %d", c.IngestBuffer)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown-timeout must be positive, got %s", c.ShutdownTimeout)
	}

	if c.CSVPath == "" {
		return errors.New("csv path is required")
	}

	c.LogLevel = strings.ToLower(c.LogLevel)
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log-level %q not one of debug, info, warn, error", c.LogLevel)
	}

	c.LogFormat = strings.ToLower(c.LogFormat)
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("log-format %q not one of text, json", c.LogFormat)
	}

	if c.MetricsAddr != "" {
		if _, _, err := net.SplitHostPort(c.MetricsAddr); err != nil {
			return fmt.Errorf("metrics-addr %q: %w", c.MetricsAddr, err)
		}
	}

	if c.NATSURL != "" {
		u, err := url.Parse(c.NATSURL)
		if err != nil {
			return fmt.Errorf("nats-url %q: %w", c.NATSURL, err)
		}
		if u.Scheme != "nats" && u.Scheme != "tls" {
			return fmt.Errorf("nats-url %q: scheme must be nats or tls", c.NATSURL)
		}
		if c.FeedSubject == "" {
			return errors.New("feed-subject is required when nats-url is set")
		}
		if !isValidSubject(c.FeedSubject) {
			return fmt.Errorf("feed-subject %q is not a valid NATS subject", c.FeedSubject)
		}
	}

	return nil
}

// isValidSubject checks a dotted NATS subject: each token must be
// non-empty and free of whitespace and wildcards.
func isValidSubject(subject string) bool {
	if subject == "" {
		return false
	}
	for _, token := range strings.Split(subject, ".") {
		if token == "" {
			return false
		}
		if strings.ContainsAny(token, " \t*>") {
			return false
		}
	}
	return true
}
