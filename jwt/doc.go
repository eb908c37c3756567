// Package jwt mints and verifies the short-lived realtime tokens a client
// presents on the websocket (authenticate, renew_token).
//
// Parse distinguishes an expired-but-authentic token ([ErrTokenExpired]) from
// every other failure ([ErrTokenInvalid]); the server maps the first to the
// recoverable token_expired error type and the second to invalid_token.
package jwt
