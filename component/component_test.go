package component

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestStateString(t *testing.T) {
	testCases := []struct {
		state    State
		expected string
	}{
		{StateCreated, "created"},
		{StateInitialized, "initialized"},
		{StateStarted, "started"},
		{StateStopped, "stopped"},
		{StateFailed, "failed"},
		{State(99), "unknown"},
	}

	for _, tc := range testCases {
		if got := tc.state.String(); got != tc.expected {
			t.Errorf("State(%d).String() = %q, want %q", tc.state, got, tc.expected)
		}
	}
}

// TestHealthStatusSerialization verifies the JSON shape the health
// endpoint reports for each component.
func TestHealthStatusSerialization(t *testing.T) {
	testCases := []struct {
		name     string
		status   HealthStatus
		contains string
		omits    string
	}{
		{
			name: "healthy with no error",
			status: HealthStatus{
				Healthy:   true,
				LastCheck: time.Unix(1700000000, 0).UTC(),
				Uptime:    time.Minute,
			},
			contains: `"healthy":true`,
			omits:    `"last_error"`,
		},
		{
			name: "unhealthy carries last error",
			status: HealthStatus{
				Healthy:    false,
				ErrorCount: 3,
				LastError:  "socket closed",
			},
			contains: `"last_error":"socket closed"`,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			jsonData, err := json.Marshal(tc.status)
			if err != nil {
				t.Fatalf("Failed to marshal: %v", err)
			}

			if tc.contains != "" && !strings.Contains(string(jsonData), tc.contains) {
				t.Errorf("Expected %q in JSON, got %s", tc.contains, jsonData)
			}
			if tc.omits != "" && strings.Contains(string(jsonData), tc.omits) {
				t.Errorf("Expected %q omitted from JSON, got %s", tc.omits, jsonData)
			}

			var decoded HealthStatus
			if err := json.Unmarshal(jsonData, &decoded); err != nil {
				t.Fatalf("Failed to unmarshal: %v", err)
			}
			if decoded.Healthy != tc.status.Healthy {
				t.Errorf("Healthy not preserved: got %v, want %v", decoded.Healthy, tc.status.Healthy)
			}
			if decoded.ErrorCount != tc.status.ErrorCount {
				t.Errorf("ErrorCount not preserved: got %d, want %d", decoded.ErrorCount, tc.status.ErrorCount)
			}
		})
	}
}

