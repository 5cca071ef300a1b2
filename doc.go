// Package telemetryd implements a UDP telemetry collector for
// fire-and-forget sensor devices: it repairs the stream each device
// sends (duplicates, reordering, gaps) and writes every reading to
// durable storage before anything else sees it.
//
// # Philosophy: Repair at the Edge, Persist Before Ack
//
// Devices are cheap and the network is lossy. Senders never retransmit
// and never wait; the collector owns stream quality:
//
//   - Duplicates are detected per device and recorded, not re-emitted.
//   - Out-of-order packets are buffered briefly and released in
//     sender-timestamp order.
//   - Gaps are detected at release time and flagged on the record that
//     follows them, so downstream consumers see where data went missing.
//   - A device that goes silent is reported, never polled: the
//     collector holds no transmit path to devices except replies.
//
// The durability contract is strict: a released record is on stable
// storage before Write returns, and a storage failure stops ingestion
// rather than silently dropping data.
//
// # Architecture
//
// One goroutine owns the socket, one owns all stream decisions, and
// everything else observes:
//
//	┌──────────────┐   bounded queue    ┌──────────────┐
//	│  UDP Input   │ ─────────────────→ │    Engine    │  single goroutine:
//	│ (input/udp)  │   (pkg/buffer)     │ (collector)  │  dedup, reorder,
//	└──────┬───────┘                    └──────┬───────┘  gap, INIT reset
//	       │ replies                           │
//	       │ (INIT_ACK)                        ↓
//	       │                            ┌──────────────┐
//	┌──────┴───────┐                    │    Fanout    │
//	│   Devices    │                    │   (output)   │
//	└──────────────┘                    └──────┬───────┘
//	                              ┌────────────┼────────────┐
//	                              ↓            ↓            ↓
//	                         ┌─────────┐  ┌─────────┐  ┌─────────┐
//	                         │ CSV log │  │ SQLite  │  │  NATS   │
//	                         │(durable)│  │(durable)│  │  (tap)  │
//	                         └─────────┘  └─────────┘  └─────────┘
//
// The offline monitor sweeps the device registry on its own ticker and
// only reads; it never mutates stream state. The pcap tracer, when
// enabled, records every inbound datagram before validation.
//
// # Wire Protocol
//
// Every datagram starts with a fixed 12-byte big-endian header: magic
// 0x54, version and message type packed in one byte, a 16-bit device
// id, a 32-bit wrapping sequence number and a 32-bit sender-relative
// timestamp in whole seconds. DATA payloads carry 6-byte reading
// blocks; INIT carries an opaque capability string. The protocol
// package is the single owner of this layout.
//
// Sender timestamps count from each device's own start, so they are
// never compared across devices or to collector wall-clock time. The
// engine compares them only to other timestamps from the same device.
//
// # Stream Repair
//
// Per device, the engine keeps a bounded recency window of sequence
// numbers for duplicate suppression and a small reorder buffer sorted
// by sender timestamp. Buffered packets release when one of three
// triggers fires:
//
//   - watermark: the device's latest timestamp has moved at least the
//     reorder window past the buffered packet
//   - capacity: the buffer exceeded its hard cap
//   - forced: a heartbeat arrived or the collector is shutting down
//
// Gap detection happens at release, against the last released sequence
// number, so reordering the buffer absorbed is never misreported as
// loss. An INIT packet resets the device's stream state completely:
// buffered packets are discarded unwritten, because the device that
// sent them no longer exists in any meaningful sense.
//
// # Operations
//
// The collector is a single static binary configured by flags with
// TELEMETRYD_* environment fallbacks. Optional surfaces, all off by
// default: a Prometheus /metrics and /health endpoint, a NATS live
// feed of released records and offline events, a SQLite mirror of the
// CSV log, and a pcap trace for offline analysis. cmd/sensorsim
// generates protocol-conformant traffic for testing all of it.
package telemetryd
