// Package testutil provides shared helpers for telemetryd tests: an
// in-memory record sink and wire-format datagram builders. Everything
// here is safe for concurrent use so tests can assert from outside the
// goroutine under test.
package testutil
