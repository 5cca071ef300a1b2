package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Reading block constants.
const (
	// ReadingSize is the wire size of one reading block.
	ReadingSize = 6

	// FormatFloat32 marks a reading value encoded as IEEE-754 float32
	// big-endian. It is the only format this protocol version defines.
	FormatFloat32 byte = 0x01

	// MaxReadings is the most reading blocks that fit in one datagram body.
	MaxReadings = MaxBodySize / ReadingSize
)

// Reading is one sensor measurement inside a DATA payload:
// sensorId(1) + format(1) + value(4).
type Reading struct {
	SensorID uint8
	Format   byte
	Value    float32
}

// Capabilities is the advisory string a device sends in its INIT payload.
// The collector stores it opaquely and never parses it.
func Capabilities() string {
	return fmt.Sprintf("fmt=float32;reading_size=%d;max_payload=%d;max_readings=%d",
		ReadingSize, MaxDatagramSize, MaxReadings)
}

// ParseReadings decodes the reading blocks of a DATA payload. Parsing is
// advisory: a payload that is not a whole number of blocks, or that carries
// an unknown format byte, yields the readings that could be decoded plus a
// non-nil error the caller may log. Header-level processing never depends
// on this succeeding.
func ParseReadings(payload []byte) ([]Reading, error) {
	if len(payload) == 0 {
		return nil, nil
	}

	n := len(payload) / ReadingSize
	if n > MaxReadings {
		n = MaxReadings
	}

	readings := make([]Reading, 0, n)
	var badFormat int
	for i := 0; i < n; i++ {
		block := payload[i*ReadingSize : (i+1)*ReadingSize]
		r := Reading{
			SensorID: block[0],
			Format:   block[1],
		}
		if r.Format == FormatFloat32 {
			r.Value = math.Float32frombits(binary.BigEndian.Uint32(block[2:6]))
		} else {
			badFormat++
		}
		readings = append(readings, r)
	}

	switch {
	case len(payload)%ReadingSize != 0:
		return readings, fmt.Errorf("payload length %d is not a multiple of %d", len(payload), ReadingSize)
	case len(payload)/ReadingSize > MaxReadings:
		return readings, fmt.Errorf("payload carries %d readings, limit is %d", len(payload)/ReadingSize, MaxReadings)
	case badFormat > 0:
		return readings, fmt.Errorf("%d readings with unknown format byte", badFormat)
	default:
		return readings, nil
	}
}

// EncodeReadings packs readings into a DATA payload. Errors when the blocks
// would not fit the datagram body budget.
func EncodeReadings(readings []Reading) ([]byte, error) {
	if len(readings) > MaxReadings {
		return nil, fmt.Errorf("%d readings exceed the per-datagram limit of %d", len(readings), MaxReadings)
	}
	body := make([]byte, 0, len(readings)*ReadingSize)
	for _, r := range readings {
		format := r.Format
		if format == 0 {
			format = FormatFloat32
		}
		var block [ReadingSize]byte
		block[0] = r.SensorID
		block[1] = format
		binary.BigEndian.PutUint32(block[2:6], math.Float32bits(r.Value))
		body = append(body, block[:]...)
	}
	return body, nil
}
