// Package client is the browser-side half of the realtime session protocol,
// usable from Go programs and tests.
//
// A [Session] owns one logical connection: it dials, authenticates with a
// token supplied by its [TokenScheduler], re-requests its desired rooms after
// every successful handshake, pushes renewed tokens over the live socket and
// reconnects with exponential backoff after network failures.
//
// # State machine
//
//	disconnected --Connect--> connecting --open--> connected --auth ok--> authenticated
//	connecting --dial error--> error (first attempt) | reconnecting (inside a cycle)
//	connected --token_expired--> connected (renew, re-send authenticate once)
//	connected --system_error--> reconnecting (capped)
//	connected --other auth error--> error (token discarded)
//	authenticated|connected --network close--> reconnecting
//	authenticated --close 4000/4001--> error
//	reconnecting --attempts exhausted--> error
//	any --Disconnect--> disconnected
//
// # Concurrency contract
//
// One mutex serializes every input to a Session: API calls, inbound frames,
// timer fires and renewal outcomes. Dialing, reading and issuer round trips
// run on their own goroutines and report back through that mutex. Every
// timer and goroutine captures the connection generation it was started
// for; a fire from an older generation is a no-op, so nothing started before
// Disconnect can mutate the session after it returns. Subscribers are called
// without the mutex held, in event order, and may call back into the Session.
package client
