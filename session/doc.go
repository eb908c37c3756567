// Package session provides Redis-backed browser sessions for the credential
// issuer.
//
// A browser session is created at login (outside this module) and proves, via
// a cookie, that the caller may obtain a short-lived realtime token from
// POST /renew. Sessions are stored in a compact binary format with a leading
// schema version byte.
//
// # Architecture boundaries
//
// This package owns the [Store] (Redis operations) and the [Session] model. It
// does NOT mint tokens or decide whether a principal is active; the Engine does.
//
// # What this package must NOT do
//
//   - Import goRealtime, jwt, or protocol (no upward imports).
//   - Perform authorization decisions.
//   - Store plaintext secrets in [Session] fields.
package session
