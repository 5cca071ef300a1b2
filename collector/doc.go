// Package collector implements the stateful heart of telemetryd: the
// per-device protocol state machine and the serialized engine that
// drives it.
//
// The engine drains the ingest queue on a single goroutine, so all
// per-device decisions (duplicate suppression, reordering, gap
// detection) happen in arrival order without locking. Devices register
// on first contact and reset completely when they announce themselves
// with an INIT. Accepted packets park in a bounded reorder buffer,
// ordered by the sender's own clock, and leave it through one of three
// flush triggers: the sender clock advancing past the reorder window,
// the buffer exceeding its capacity, or a forced flush on heartbeat
// and shutdown. Gap detection runs at release time, against the last
// sequence actually released, so transient reordering inside the
// window never counts as loss.
//
// A separate read-only monitor walks the registry on a fixed interval
// and reports devices that have gone silent.
package collector
