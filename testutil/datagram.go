package testutil

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/c360/telemetryd/protocol"
)

// InitDatagram builds a wire-format INIT with the given capability
// string as its payload.
func InitDatagram(deviceID uint16, seq uint32, capabilities string) []byte {
	return append(protocol.Encode(protocol.MsgInit, deviceID, seq, 0), capabilities...)
}

// DataDatagram builds a wire-format DATA packet carrying the readings.
func DataDatagram(t *testing.T, deviceID uint16, seq, ts uint32, readings []protocol.Reading) []byte {
	t.Helper()
	body, err := protocol.EncodeReadings(readings)
	require.NoError(t, err)
	return append(protocol.Encode(protocol.MsgData, deviceID, seq, ts), body...)
}

// HeartbeatDatagram builds a wire-format HEARTBEAT packet.
func HeartbeatDatagram(deviceID uint16, seq, ts uint32) []byte {
	return protocol.Encode(protocol.MsgHeartbeat, deviceID, seq, ts)
}

// Readings fabricates n distinct readings with deterministic values.
func Readings(n int) []protocol.Reading {
	out := make([]protocol.Reading, n)
	for i := range out {
		out[i] = protocol.Reading{
			SensorID: uint8(i%255) + 1,
			Format:   protocol.FormatFloat32,
			Value:    float32(i) + 0.5,
		}
	}
	return out
}
