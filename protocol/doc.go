// Package protocol defines the JSON wire format shared by the realtime server
// and its clients: the message envelope, event names, payload shapes, the
// authorization error taxonomy, and websocket close codes.
//
// # Framing
//
// Every websocket text frame carries exactly one [Envelope]:
//
//	{"event": "authenticate", "data": {"token": "..."}}
//
// Business events pushed by the server use the same envelope; their data is
// forwarded untouched and never interpreted here.
//
// # What this package must NOT do
//
//   - Perform I/O or hold connection state.
//   - Import goRealtime or client (both sides import this package).
package protocol
