// Package goRealtime is the server side of an authenticated real-time
// session protocol: websocket connections authenticate with a short-lived
// token, renew it in place, join authorized rooms and receive business
// events fanned out to those rooms.
//
// The package is designed for concurrent server workloads: Engine methods are safe to call
// from multiple goroutines after initialization through [Builder.Build].
//
// # Architecture boundaries
//
// goRealtime is the public server surface. It exposes [Engine], [Builder], [Config], role
// guards and value types. Token handling lives in jwt/, browser sessions in session/,
// permission masks in permission/, the wire format in protocol/ and the renewal throttle
// under internal/. The client state machine is a separate package (client/) that shares
// only protocol/.
//
// # What this package must NOT do
//
//   - Cache identity lookups: a principal is resolved on every authentication and renewal.
//   - Interpret broadcast payloads or persist them.
//   - Block a broadcaster on a slow connection; fan-out drops instead.
//   - Import any sub-package that re-imports goRealtime (no import cycles).
//
// # Concurrency contract
//
// Each connection has one read goroutine and one write goroutine. The principal attached to
// a connection is only touched by its read goroutine, so messages from one connection are
// handled in order. The room registry is the only structure shared across connections.
package goRealtime
