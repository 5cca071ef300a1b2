package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "0.0.0.0", cfg.Host)
	assert.Equal(t, 5005, cfg.Port)
	assert.Equal(t, 10000, cfg.DupWindow)
	assert.Equal(t, time.Second, cfg.ReorderWindow)
	assert.Equal(t, 128, cfg.ReorderMax)
	assert.Equal(t, 5*time.Second, cfg.OfflineAfter)
	assert.False(t, cfg.AckData)
	assert.Equal(t, "telemetry_log.csv", cfg.CSVPath)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)

	// Defaults must pass their own validation
	require.NoError(t, cfg.Validate())
}

func TestAddr(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "0.0.0.0:5005", cfg.Addr())

	cfg.Host = "::1"
	cfg.Port = 9000
	assert.Equal(t, "[::1]:9000", cfg.Addr())
}

func TestValidate(t *testing.T) {
	testCases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(_ *Config) {},
		},
		{
			name:   "port zero allowed for auto-assignment",
			mutate: func(c *Config) { c.Port = 0 },
		},
		{
			name:    "empty host",
			mutate:  func(c *Config) { c.Host = "" },
			wantErr: "host is required",
		},
		{
			name:    "port out of range",
			mutate:  func(c *Config) { c.Port = 70000 },
			wantErr: "out of range",
		},
		{
			name:    "dup window too small",
			mutate:  func(c *Config) { c.DupWindow = 0 },
			wantErr: "dup-window",
		},
		{
			name:    "reorder window zero",
			mutate:  func(c *Config) { c.ReorderWindow = 0 },
			wantErr: "reorder-window",
		},
		{
			name:    "reorder capacity below floor",
			mutate:  func(c *Config) { c.ReorderMax = 32 },
			wantErr: "reorder-max",
		},
		{
			name:    "reorder capacity above ceiling",
			mutate:  func(c *Config) { c.ReorderMax = 512 },
			wantErr: "reorder-max",
		},
		{
			name:   "reorder capacity at bounds",
			mutate: func(c *Config) { c.ReorderMax = MinReorderCapacity },
		},
		{
			name:    "offline threshold zero",
			mutate:  func(c *Config) { c.OfflineAfter = 0 },
			wantErr: "offline-after",
		},
		{
			name:    "empty csv path",
			mutate:  func(c *Config) { c.CSVPath = "" },
			wantErr: "csv path",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.LogLevel = "verbose" },
			wantErr: "log-level",
		},
		{
			name:    "bad log format",
			mutate:  func(c *Config) { c.LogFormat = "xml" },
			wantErr: "log-format",
		},
		{
			name:    "metrics addr without port",
			mutate:  func(c *Config) { c.MetricsAddr = "localhost" },
			wantErr: "metrics-addr",
		},
		{
			name:   "metrics addr with port",
			mutate: func(c *Config) { c.MetricsAddr = ":9090" },
		},
		{
			name:    "nats url with wrong scheme",
			mutate:  func(c *Config) { c.NATSURL = "http://localhost:4222" },
			wantErr: "scheme",
		},
		{
			name:   "nats url accepted",
			mutate: func(c *Config) { c.NATSURL = "nats://localhost:4222" },
		},
		{
			name: "feed subject with wildcard rejected",
			mutate: func(c *Config) {
				c.NATSURL = "nats://localhost:4222"
				c.FeedSubject = "telemetry.*"
			},
			wantErr: "feed-subject",
		},
		{
			name: "feed subject required with nats url",
			mutate: func(c *Config) {
				c.NATSURL = "nats://localhost:4222"
				c.FeedSubject = ""
			},
			wantErr: "feed-subject",
		},
		{
			name:    "shutdown timeout zero",
			mutate:  func(c *Config) { c.ShutdownTimeout = 0 },
			wantErr: "shutdown-timeout",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)

			err := cfg.Validate()
			if tc.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.wantErr)
			}
		})
	}
}

func TestValidateNormalizesCase(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "DEBUG"
	cfg.LogFormat = "JSON"

	require.NoError(t, cfg.Validate())
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestIsValidSubject(t *testing.T) {
	valid := []string{"telemetry.records", "a", "a.b.c", "foo-bar.baz_1"}
	invalid := []string{"", ".", "a..b", "a.b.", "a b", "a.*", "a.>"}

	for _, s := range valid {
		assert.True(t, isValidSubject(s), "expected %q to be valid", s)
	}
	for _, s := range invalid {
		assert.False(t, isValidSubject(s), "expected %q to be invalid", s)
	}
}
