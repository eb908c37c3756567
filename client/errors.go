package client

import "errors"

var (
	// ErrNoIssuer is returned when a scheduler or session is built without an Issuer.
	ErrNoIssuer = errors.New("issuer required")
	// ErrSessionClosed is returned by Connect after Close.
	ErrSessionClosed = errors.New("session closed")
	// ErrSchedulerStopped is returned by Initialize after Stop.
	ErrSchedulerStopped = errors.New("token scheduler stopped")
	// ErrRenewalExhausted is reported once the retry budget of a renewal cycle is spent.
	ErrRenewalExhausted = errors.New("token renewal retries exhausted")
	// ErrExpiryNotExtended marks a renewal whose expiry is not later than the previous one.
	ErrExpiryNotExtended = errors.New("renewed token does not extend expiry")
	// ErrLeaseInvalid marks an issuer response without a usable token.
	ErrLeaseInvalid = errors.New("issuer returned an unusable token")
	// ErrIssuerUnauthorized is returned when the issuer rejects the browser session.
	ErrIssuerUnauthorized = errors.New("issuer rejected the browser session")
	// ErrIssuerThrottled is returned when the issuer rate limits renewals.
	ErrIssuerThrottled = errors.New("issuer throttled the renewal")
	// ErrIssuerUnavailable wraps transport and 5xx failures talking to the issuer.
	ErrIssuerUnavailable = errors.New("issuer unavailable")
)
