// Package protocol implements the telemetry wire format shared by devices
// and the collector: a fixed 12-byte big-endian header optionally followed
// by a message-specific payload.
//
// Header layout:
//
//	offset 0  magic      uint8   fixed sentinel 0x54 ('T')
//	offset 1  ver|type   uint8   version in the high nibble, message type in the low
//	offset 2  deviceId   uint16  big-endian
//	offset 4  sequence   uint32  big-endian, wraps modulo 2^32
//	offset 8  timestamp  uint32  big-endian, whole seconds since the sender started
//
// The sender timestamp is relative to each device's own start and is never
// comparable across devices or to collector wall-clock time.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Wire format constants.
const (
	// Magic is the sentinel byte identifying protocol-conformant datagrams.
	Magic byte = 0x54

	// Version is the protocol version spoken by this implementation.
	Version uint8 = 1

	// HeaderSize is the fixed header length in bytes.
	HeaderSize = 12

	// MaxDatagramSize is the sender-side budget for a whole datagram,
	// header included.
	MaxDatagramSize = 200

	// MaxBodySize is the payload room left after the header.
	MaxBodySize = MaxDatagramSize - HeaderSize
)

// MsgType identifies the kind of a telemetry message.
type MsgType uint8

// Message types.
const (
	MsgInit      MsgType = 0 // device -> collector, optional capability payload
	MsgInitAck   MsgType = 1 // collector -> device
	MsgData      MsgType = 2 // device -> collector, reading blocks
	MsgHeartbeat MsgType = 3 // device -> collector
	MsgAck       MsgType = 4 // collector -> device, debug only
)

// String returns the wire name of the message type.
func (t MsgType) String() string {
	switch t {
	case MsgInit:
		return "INIT"
	case MsgInitAck:
		return "INIT_ACK"
	case MsgData:
		return "DATA"
	case MsgHeartbeat:
		return "HEARTBEAT"
	case MsgAck:
		return "ACK"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(t))
	}
}

// Known reports whether the message type is defined by this protocol version.
func (t MsgType) Known() bool {
	return t <= MsgAck
}

// Decode and validation errors.
var (
	ErrTooShort   = errors.New("datagram shorter than header")
	ErrBadMagic   = errors.New("bad magic byte")
	ErrBadVersion = errors.New("unsupported protocol version")
)

// Header is the decoded fixed header of a telemetry datagram.
type Header struct {
	Magic     byte
	Version   uint8
	Type      MsgType
	DeviceID  uint16
	Sequence  uint32
	Timestamp uint32
}

// Decode splits a datagram into its header and payload. It fails only when
// the datagram is shorter than the fixed header; magic and version checks
// are the caller's responsibility via Validate, so that rejects can be
// logged with the decoded fields in hand.
func Decode(b []byte) (Header, []byte, error) {
	if len(b) < HeaderSize {
		return Header{}, nil, fmt.Errorf("%w: %d bytes", ErrTooShort, len(b))
	}
	h := Header{
		Magic:     b[0],
		Version:   b[1] >> 4,
		Type:      MsgType(b[1] & 0x0F),
		DeviceID:  binary.BigEndian.Uint16(b[2:4]),
		Sequence:  binary.BigEndian.Uint32(b[4:8]),
		Timestamp: binary.BigEndian.Uint32(b[8:12]),
	}
	return h, b[HeaderSize:], nil
}

// Validate rejects headers that do not belong to this protocol: wrong magic
// or a version this implementation does not speak. Unknown message types are
// not an error here; the collector ignores them further up.
func (h Header) Validate() error {
	if h.Magic != Magic {
		return fmt.Errorf("%w: 0x%02x", ErrBadMagic, h.Magic)
	}
	if h.Version != Version {
		return fmt.Errorf("%w: %d", ErrBadVersion, h.Version)
	}
	return nil
}

// Encode packs a header into its 12-byte wire representation. The version is
// always the one this implementation speaks.
func Encode(t MsgType, deviceID uint16, sequence, timestamp uint32) []byte {
	b := make([]byte, HeaderSize)
	b[0] = Magic
	b[1] = Version<<4 | uint8(t)&0x0F
	binary.BigEndian.PutUint16(b[2:4], deviceID)
	binary.BigEndian.PutUint32(b[4:8], sequence)
	binary.BigEndian.PutUint32(b[8:12], timestamp)
	return b
}

// Encode returns the wire representation of h using this implementation's
// version byte. The stored Magic and Version fields are ignored.
func (h Header) Encode() []byte {
	return Encode(h.Type, h.DeviceID, h.Sequence, h.Timestamp)
}
