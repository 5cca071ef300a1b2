package natsfeed

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/telemetryd/errors"
	"github.com/c360/telemetryd/record"
)

// unreachableURL points at a port nothing listens on. With
// RetryOnFailedConnect the feed starts anyway and runs in its
// degraded, record-dropping mode.
const unreachableURL = "nats://127.0.0.1:1"

func newDisconnectedFeed(t *testing.T) *Feed {
	t.Helper()

	feed := NewFeed(FeedDeps{URL: unreachableURL, Subject: "telemetry.records"})
	require.NoError(t, feed.Initialize())
	require.NoError(t, feed.Start(context.Background()))
	t.Cleanup(func() { _ = feed.Stop(time.Second) })
	return feed
}

func TestFeedInitializeValidation(t *testing.T) {
	tests := []struct {
		name string
		deps FeedDeps
	}{
		{"missing url", FeedDeps{Subject: "telemetry.records"}},
		{"missing subject", FeedDeps{URL: "nats://localhost:4222"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			feed := NewFeed(tt.deps)
			err := feed.Initialize()
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
		})
	}
}

func TestFeedStartsWithoutBroker(t *testing.T) {
	feed := newDisconnectedFeed(t)

	assert.False(t, feed.Connected())
	assert.True(t, feed.Health().Healthy, "broker outage must not make the feed unhealthy")
}

func TestFeedDropsWhenDisconnected(t *testing.T) {
	feed := newDisconnectedFeed(t)

	for i := 0; i < 3; i++ {
		err := feed.Write(record.TelemetryRecord{
			DeviceID:    1,
			Sequence:    uint32(i + 1),
			ArrivalTime: time.Now(),
		})
		require.NoError(t, err, "dropped records must not surface as errors")
	}

	flow := feed.DataFlow()
	assert.Equal(t, 1.0, flow.ErrorRate, "all writes dropped, none published")
	assert.Equal(t, 0.0, flow.MessagesPerSecond)
}

func TestFeedWriteBeforeStart(t *testing.T) {
	feed := NewFeed(FeedDeps{URL: unreachableURL, Subject: "telemetry.records"})
	require.NoError(t, feed.Initialize())

	err := feed.Write(record.TelemetryRecord{DeviceID: 1})
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestFeedWriteAfterStop(t *testing.T) {
	feed := NewFeed(FeedDeps{URL: unreachableURL, Subject: "telemetry.records"})
	require.NoError(t, feed.Initialize())
	require.NoError(t, feed.Start(context.Background()))
	require.NoError(t, feed.Stop(time.Second))

	err := feed.Write(record.TelemetryRecord{DeviceID: 1})
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestFeedDoubleStart(t *testing.T) {
	feed := newDisconnectedFeed(t)

	err := feed.Start(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestFeedStopIdempotent(t *testing.T) {
	feed := NewFeed(FeedDeps{URL: unreachableURL, Subject: "telemetry.records"})
	require.NoError(t, feed.Initialize())
	require.NoError(t, feed.Start(context.Background()))

	require.NoError(t, feed.Stop(time.Second))
	require.NoError(t, feed.Stop(time.Second))
}

func TestFeedSubjects(t *testing.T) {
	feed := NewFeed(FeedDeps{URL: unreachableURL, Subject: "telemetry.records"})

	assert.Equal(t, "telemetry.records.7", feed.RecordSubject(7))
	assert.Equal(t, "telemetry.records.65535", feed.RecordSubject(65535))
	assert.Equal(t, "telemetry.records.offline", feed.OfflineSubject())
}

func TestFeedOfflineDropsWhenDisconnected(t *testing.T) {
	feed := newDisconnectedFeed(t)

	err := feed.PublishOffline(record.OfflineEvent{
		DeviceID:   3,
		LastSeen:   time.Now().Add(-10 * time.Second),
		SilentFor:  10 * time.Second,
		ObservedAt: time.Now(),
	})
	require.NoError(t, err)
}

func TestFeedMeta(t *testing.T) {
	feed := NewFeed(FeedDeps{URL: unreachableURL, Subject: "telemetry.records"})

	assert.Equal(t, "nats", feed.Name())

	meta := feed.Meta()
	assert.Equal(t, "nats-feed", meta.Name)
	assert.Equal(t, "output", meta.Type)
	assert.Contains(t, meta.Description, "telemetry.records")
}
