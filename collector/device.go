package collector

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/c360/telemetryd/protocol"
)

// pendingEntry is an accepted packet parked in a device's reorder
// buffer until a flush trigger releases it.
type pendingEntry struct {
	Sequence    uint32
	Timestamp   uint32 // sender-relative seconds
	ArrivalTime time.Time
	Readings    []protocol.Reading
}

// DeviceState holds everything the collector knows about one device:
// the reorder buffer, the last released sequence and the recency
// window that drives duplicate suppression.
//
// All fields except lastActivity are owned by the engine goroutine.
// lastActivity is atomic so the offline monitor can read it without
// coordinating with packet processing.
type DeviceState struct {
	id           uint16
	sessionID    string
	capabilities string

	pending      []pendingEntry
	lastReleased uint32
	hasReleased  bool

	window *recencyWindow

	lastActivity atomic.Int64 // unix nanoseconds

	duplicates uint64
	gaps       uint64
	released   uint64
}

func newDeviceState(id uint16, windowSize int) *DeviceState {
	d := &DeviceState{
		id:        id,
		sessionID: uuid.NewString(),
		window:    newRecencyWindow(windowSize),
	}
	d.lastActivity.Store(time.Now().UnixNano())
	return d
}

// ID returns the device identifier carried in packet headers.
func (d *DeviceState) ID() uint16 { return d.id }

// SessionID identifies the current lifecycle of the device. A fresh ID
// is minted on first contact and again on every INIT.
func (d *DeviceState) SessionID() string { return d.sessionID }

// Capabilities returns the advisory capability string from the most
// recent INIT, or "" when the device never announced itself.
func (d *DeviceState) Capabilities() string { return d.capabilities }

// Touch records packet activity for the offline monitor. Safe for
// concurrent use.
func (d *DeviceState) Touch(t time.Time) {
	d.lastActivity.Store(t.UnixNano())
}

// LastActivity returns the arrival time of the most recent packet of
// any kind from this device. Safe for concurrent use.
func (d *DeviceState) LastActivity() time.Time {
	return time.Unix(0, d.lastActivity.Load())
}

// SeenRecently reports whether the sequence number falls inside the
// duplicate-suppression window.
func (d *DeviceState) SeenRecently(seq uint32) bool {
	return d.window.Contains(seq)
}

// Remember adds the sequence number to the duplicate-suppression
// window, evicting the oldest remembered sequence once the window is
// full.
func (d *DeviceState) Remember(seq uint32) {
	d.window.Add(seq)
}

// Buffer parks an accepted packet in the reorder buffer. Release is
// decided later by releasePass.
func (d *DeviceState) Buffer(e pendingEntry) {
	d.pending = append(d.pending, e)
}

// PendingLen returns the number of buffered entries awaiting release.
func (d *DeviceState) PendingLen() int { return len(d.pending) }

// DuplicateCount returns how many duplicate packets this device has
// produced since its last reset.
func (d *DeviceState) DuplicateCount() uint64 { return d.duplicates }

// GapCount returns how many released records were flagged as gaps
// since the last reset.
func (d *DeviceState) GapCount() uint64 { return d.gaps }

// ReleasedCount returns how many records left the reorder buffer since
// the last reset.
func (d *DeviceState) ReleasedCount() uint64 { return d.released }

// recencyWindow remembers the last N accepted sequence numbers in
// arrival order. Eviction is strict FIFO, so a sequence accepted long
// enough ago is forgotten and a late retransmission of it will be
// treated as new.
type recencyWindow struct {
	capacity int
	seen     map[uint32]struct{}
	order    []uint32
	head     int
}

func newRecencyWindow(capacity int) *recencyWindow {
	if capacity < 1 {
		capacity = 1
	}
	return &recencyWindow{
		capacity: capacity,
		seen:     make(map[uint32]struct{}, capacity),
	}
}

func (w *recencyWindow) Contains(seq uint32) bool {
	_, ok := w.seen[seq]
	return ok
}

// Add records a newly accepted sequence. Sequences already present are
// left where they are; callers check Contains first.
func (w *recencyWindow) Add(seq uint32) {
	if _, ok := w.seen[seq]; ok {
		return
	}
	w.seen[seq] = struct{}{}
	w.order = append(w.order, seq)
	if len(w.order)-w.head > w.capacity {
		delete(w.seen, w.order[w.head])
		w.head++
	}
	// Reclaim the consumed prefix once it outgrows the live window.
	if w.head > w.capacity {
		w.order = append(w.order[:0], w.order[w.head:]...)
		w.head = 0
	}
}

func (w *recencyWindow) Len() int {
	return len(w.order) - w.head
}
