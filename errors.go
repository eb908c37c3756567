package goRealtime

import (
	"errors"

	"github.com/MrEthical07/goRealtime/jwt"
	"github.com/MrEthical07/goRealtime/protocol"
)

var (
	// ErrNoToken is returned when authenticate carries no token.
	ErrNoToken = errors.New("no token provided")
	// ErrPrincipalNotFound is returned by an IdentityStore when the subject is unknown.
	ErrPrincipalNotFound = errors.New("principal not found")
	// ErrPrincipalInactive is returned when the principal exists but is deactivated.
	ErrPrincipalInactive = errors.New("principal inactive")
	// ErrIdentityUnavailable wraps identity store failures other than not-found.
	ErrIdentityUnavailable = errors.New("identity store unavailable")
	// ErrPermissionDenied is returned when a role guard rejects a principal.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrNotAuthenticated is returned for privileged actions before a successful handshake.
	ErrNotAuthenticated = errors.New("connection not authenticated")
	// ErrSubjectMismatch is returned when a renewed token names a different subject.
	ErrSubjectMismatch = errors.New("renewed token subject mismatch")
	// ErrEngineClosed is returned by Engine methods after Close.
	ErrEngineClosed = errors.New("engine closed")
	// ErrIssuerDisabled is returned when the credential issuer has no session store.
	ErrIssuerDisabled = errors.New("credential issuer disabled")
	// ErrSessionNotFound is returned by the issuer for a missing or expired browser session.
	ErrSessionNotFound = errors.New("session not found")
	// ErrRenewRateLimited is returned by the issuer when the renewal budget is spent.
	ErrRenewRateLimited = errors.New("renewal rate limited")
	// ErrHandlerExists is returned when an event already has a handler.
	ErrHandlerExists = errors.New("event handler already registered")
	// ErrReservedEvent is returned when HandleEvent is given a protocol event name.
	ErrReservedEvent = errors.New("event name reserved by the session protocol")
)

// ClassifyAuthError maps an authentication or authorization error to the
// error_type carried by authorization_error.
func ClassifyAuthError(err error) protocol.ErrorType {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNoToken):
		return protocol.ErrorNoToken
	case errors.Is(err, jwt.ErrTokenExpired):
		return protocol.ErrorTokenExpired
	case errors.Is(err, jwt.ErrTokenInvalid), errors.Is(err, ErrSubjectMismatch):
		return protocol.ErrorInvalidToken
	case errors.Is(err, ErrPrincipalNotFound):
		return protocol.ErrorUserNotFound
	case errors.Is(err, ErrPrincipalInactive):
		return protocol.ErrorAccountInactive
	case errors.Is(err, ErrPermissionDenied), errors.Is(err, ErrNotAuthenticated):
		return protocol.ErrorPermissionDenied
	default:
		return protocol.ErrorSystem
	}
}

func authErrorMessage(t protocol.ErrorType) string {
	switch t {
	case protocol.ErrorNoToken:
		return "token required"
	case protocol.ErrorInvalidToken:
		return "token invalid"
	case protocol.ErrorTokenExpired:
		return "token expired"
	case protocol.ErrorUserNotFound:
		return "user not found"
	case protocol.ErrorAccountInactive:
		return "account inactive"
	case protocol.ErrorPermissionDenied:
		return "permission denied"
	default:
		return "temporary failure, retry later"
	}
}
