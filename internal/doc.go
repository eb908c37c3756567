// Package internal contains helpers that are private to goRealtime.
//
// # Sub-packages
//
//   - rate: Redis-backed renewal throttle for the credential issuer
//
// # What this package must NOT do
//
//   - Export types that appear in the public goRealtime API.
//   - Be imported by any package outside the goRealtime module.
package internal
