// Package middleware exposes HTTP middleware for the credential issuer.
//
// # Middleware
//
//   - [RequireSession] resolves the browser session cookie and stores the
//     session in the request context for [goRealtime.Engine.RenewHandler].
//   - [ClientIP] records the caller address for throttling and audit.
//
// # Architecture boundaries
//
// This package translates HTTP semantics into Engine calls. Session lookup,
// throttling and token minting all live in the Engine.
//
// # What this package must NOT do
//
//   - Parse or create JWTs directly.
//   - Access Redis (Engine handles I/O).
//   - Decide whether a principal may receive a token.
package middleware
