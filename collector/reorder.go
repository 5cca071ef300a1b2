package collector

import (
	"sort"
	"time"
)

// Flush trigger names, recorded as the trigger label on release
// metrics.
const (
	TriggerWatermark = "watermark"
	TriggerCapacity  = "capacity"
	TriggerForced    = "forced"
)

// ReorderPolicy bounds the per-device reorder buffer.
type ReorderPolicy struct {
	// Window is how far the sender's clock must advance past a
	// buffered entry before the entry is considered settled and
	// released.
	Window time.Duration

	// MaxPending caps the buffer. Once exceeded, the oldest entries
	// are released regardless of the watermark so a device with a
	// stuck clock cannot grow the buffer without bound.
	MaxPending int
}

func (p ReorderPolicy) normalized() ReorderPolicy {
	if p.Window <= 0 {
		p.Window = time.Second
	}
	if p.MaxPending < 1 {
		p.MaxPending = 1
	}
	return p
}

// released is one record leaving the reorder buffer, with the flush
// trigger that freed it and the gap verdict made at release time.
type released struct {
	entry   pendingEntry
	gap     bool
	trigger string
}

// releasePass sorts the buffer by sender timestamp (sequence as the
// tie-break) and releases the leading run of entries a flush trigger
// applies to. Entries leave in sorted order and the buffer keeps the
// remainder.
//
// The watermark is the sender timestamp of the packet that prompted
// the pass; hasWatermark is false on shutdown flushes where no packet
// is in hand. force releases everything regardless of age.
//
// Gap detection happens here and only here: each released sequence is
// compared against the previous released one, so reordering absorbed
// by the buffer never shows up as loss, and the verdict survives in
// the emitted record.
func (d *DeviceState) releasePass(policy ReorderPolicy, watermark uint32, hasWatermark, force bool) []released {
	if len(d.pending) == 0 {
		return nil
	}

	sort.SliceStable(d.pending, func(i, j int) bool {
		if d.pending[i].Timestamp != d.pending[j].Timestamp {
			return d.pending[i].Timestamp < d.pending[j].Timestamp
		}
		return d.pending[i].Sequence < d.pending[j].Sequence
	})

	var out []released
	n := 0
	for n < len(d.pending) {
		e := d.pending[n]
		trigger := ""
		switch {
		case force:
			trigger = TriggerForced
		case hasWatermark && senderAge(watermark, e.Timestamp) >= policy.Window:
			trigger = TriggerWatermark
		case len(d.pending)-n > policy.MaxPending:
			trigger = TriggerCapacity
		}
		if trigger == "" {
			// Sorted buffer: nothing behind this entry qualifies
			// either.
			break
		}

		gap := d.hasReleased && e.Sequence != d.lastReleased+1
		d.lastReleased = e.Sequence
		d.hasReleased = true
		if gap {
			d.gaps++
		}
		d.released++
		out = append(out, released{entry: e, gap: gap, trigger: trigger})
		n++
	}
	d.pending = append(d.pending[:0], d.pending[n:]...)
	return out
}

// senderAge converts the distance between two sender-relative
// timestamps into a duration. A watermark behind the entry yields a
// negative age, which never satisfies the window.
func senderAge(watermark, entryTS uint32) time.Duration {
	return time.Duration(int64(watermark)-int64(entryTS)) * time.Second
}
