package health

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/telemetryd/component"
)

func TestStatusConstructors(t *testing.T) {
	tests := []struct {
		name       string
		status     Status
		wantState  string
		wantHealth bool
	}{
		{"healthy", NewHealthy("engine", "ok"), "healthy", true},
		{"unhealthy", NewUnhealthy("csv", "disk full"), "unhealthy", false},
		{"degraded", NewDegraded("nats", "reconnecting"), "degraded", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantState, tt.status.Status)
			assert.Equal(t, tt.wantHealth, tt.status.Healthy)
			assert.False(t, tt.status.Timestamp.IsZero())
		})
	}
}

func TestStatusPredicates(t *testing.T) {
	assert.True(t, NewHealthy("a", "").IsHealthy())
	assert.True(t, NewUnhealthy("a", "").IsUnhealthy())
	assert.True(t, NewDegraded("a", "").IsDegraded())
	assert.False(t, NewDegraded("a", "").IsHealthy())
}

func TestFromComponentHealth(t *testing.T) {
	ch := component.HealthStatus{
		Healthy:    true,
		LastCheck:  time.Now(),
		ErrorCount: 3,
		Uptime:     time.Minute,
	}

	st := FromComponentHealth("udp-input", ch)
	assert.Equal(t, "udp-input", st.Component)
	assert.True(t, st.Healthy)
	assert.Equal(t, "Component healthy", st.Message)
	require.NotNil(t, st.Metrics)
	assert.Equal(t, time.Minute, st.Metrics.Uptime)
	assert.Equal(t, 3, st.Metrics.ErrorCount)
}

func TestFromComponentHealthCarriesError(t *testing.T) {
	ch := component.HealthStatus{
		Healthy:   false,
		LastError: "engine.write: action failed",
	}

	st := FromComponentHealth("engine", ch)
	assert.True(t, st.IsUnhealthy())
	assert.Equal(t, "engine.write: action failed", st.Message)
}

func TestAggregateEmpty(t *testing.T) {
	st := Aggregate("telemetryd", nil)
	assert.True(t, st.IsHealthy())
}

func TestAggregateRules(t *testing.T) {
	healthy := NewHealthy("a", "")
	degraded := NewDegraded("b", "")
	unhealthy := NewUnhealthy("c", "")

	tests := []struct {
		name string
		subs []Status
		want string
	}{
		{"all healthy", []Status{healthy, healthy}, "healthy"},
		{"one degraded", []Status{healthy, degraded}, "degraded"},
		{"one unhealthy", []Status{healthy, unhealthy}, "unhealthy"},
		{"unhealthy beats degraded", []Status{degraded, unhealthy}, "unhealthy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := Aggregate("system", tt.subs)
			assert.Equal(t, tt.want, st.Status)
			assert.Len(t, st.SubStatuses, len(tt.subs))
		})
	}
}

func TestAggregateCopiesSubStatuses(t *testing.T) {
	subs := []Status{NewHealthy("a", "")}
	st := Aggregate("system", subs)

	subs[0].Status = "unhealthy"
	assert.Equal(t, "healthy", st.SubStatuses[0].Status, "aggregate must not alias the caller's slice")
}
