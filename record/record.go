// Package record defines the telemetry record emitted by the processing
// engine and consumed by every sink. The CSV column set and formatting
// are part of the collector's external contract: downstream tooling
// parses the log file positionally.
package record

import (
	"strconv"
	"time"

	"github.com/c360/telemetryd/protocol"
)

// TelemetryRecord is one observation released by the processing engine.
// Duplicate and Gap are determined at release time and never revised.
type TelemetryRecord struct {
	DeviceID    uint16             `json:"device_id"`
	Sequence    uint32             `json:"seq"`
	Timestamp   uint32             `json:"timestamp"` // sender-relative seconds
	ArrivalTime time.Time          `json:"arrival_time"`
	Duplicate   bool               `json:"duplicate"`
	Gap         bool               `json:"gap"`
	SessionID   string             `json:"session_id,omitempty"` // device session, renewed on INIT
	Readings    []protocol.Reading `json:"readings,omitempty"`   // advisory payload decode
}

// CSVHeader returns the column names in file order.
func CSVHeader() []string {
	return []string{"device_id", "seq", "timestamp", "arrival_time", "duplicate_flag", "gap_flag"}
}

// CSVRow formats the record for the CSV log. Arrival time is unix
// seconds with microsecond precision; flags are 0 or 1.
func (r TelemetryRecord) CSVRow() []string {
	return []string{
		strconv.FormatUint(uint64(r.DeviceID), 10),
		strconv.FormatUint(uint64(r.Sequence), 10),
		strconv.FormatUint(uint64(r.Timestamp), 10),
		formatArrival(r.ArrivalTime),
		flag(r.Duplicate),
		flag(r.Gap),
	}
}

// ArrivalUnix returns the arrival time as fractional unix seconds.
func (r TelemetryRecord) ArrivalUnix() float64 {
	return float64(r.ArrivalTime.UnixMicro()) / 1e6
}

// OfflineEvent is an observational report that a device has gone silent.
// It never appears in the CSV log; it exists for the live feed and for
// operator logs.
type OfflineEvent struct {
	DeviceID   uint16        `json:"device_id"`
	LastSeen   time.Time     `json:"last_seen"`
	SilentFor  time.Duration `json:"silent_for_ns"`
	ObservedAt time.Time     `json:"observed_at"`
}

func formatArrival(t time.Time) string {
	return strconv.FormatFloat(float64(t.UnixMicro())/1e6, 'f', 6, 64)
}

func flag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
