// Package rate provides Redis-backed fixed-window throttles for the credential
// issuer.
//
// # Window semantics
//
// Fixed-window counters: INCR + conditional EXPIRE on first hit. Key prefixes:
//   - rr:  token renewals per browser session
//   - rri: token renewals per client IP
//
// # What this package must NOT do
//
//   - Decide what a throttled caller is told (the renew handler does).
//   - Be imported outside the goRealtime module.
package rate
