package record

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCSVHeader(t *testing.T) {
	assert.Equal(t,
		[]string{"device_id", "seq", "timestamp", "arrival_time", "duplicate_flag", "gap_flag"},
		CSVHeader())
}

func TestCSVRow(t *testing.T) {
	arrival := time.Unix(1700000000, 123456000).UTC()

	testCases := []struct {
		name string
		rec  TelemetryRecord
		want []string
	}{
		{
			name: "clean record",
			rec: TelemetryRecord{
				DeviceID:    7,
				Sequence:    42,
				Timestamp:   9,
				ArrivalTime: arrival,
			},
			want: []string{"7", "42", "9", "1700000000.123456", "0", "0"},
		},
		{
			name: "duplicate flagged",
			rec: TelemetryRecord{
				DeviceID:    1,
				Sequence:    5,
				Timestamp:   2,
				ArrivalTime: arrival,
				Duplicate:   true,
			},
			want: []string{"1", "5", "2", "1700000000.123456", "1", "0"},
		},
		{
			name: "gap flagged",
			rec: TelemetryRecord{
				DeviceID:    1,
				Sequence:    9,
				Timestamp:   4,
				ArrivalTime: arrival,
				Gap:         true,
			},
			want: []string{"1", "9", "4", "1700000000.123456", "0", "1"},
		},
		{
			name: "max values",
			rec: TelemetryRecord{
				DeviceID:    65535,
				Sequence:    4294967295,
				Timestamp:   4294967295,
				ArrivalTime: arrival,
				Duplicate:   true,
				Gap:         true,
			},
			want: []string{"65535", "4294967295", "4294967295", "1700000000.123456", "1", "1"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.rec.CSVRow())
		})
	}
}

func TestCSVRowPrecision(t *testing.T) {
	// Whole seconds still render six decimal places
	rec := TelemetryRecord{ArrivalTime: time.Unix(1700000000, 0)}
	assert.Equal(t, "1700000000.000000", rec.CSVRow()[3])

	// Sub-microsecond detail truncates to microseconds
	rec = TelemetryRecord{ArrivalTime: time.Unix(1700000000, 999)}
	assert.Equal(t, "1700000000.000000", rec.CSVRow()[3])
}

func TestArrivalUnix(t *testing.T) {
	rec := TelemetryRecord{ArrivalTime: time.Unix(1700000000, 500000000)}
	assert.InDelta(t, 1700000000.5, rec.ArrivalUnix(), 1e-9)
}
