package protocol

// ErrorType classifies an authorization_error.
type ErrorType string

const (
	ErrorNoToken          ErrorType = "no_token"
	ErrorInvalidToken     ErrorType = "invalid_token"
	ErrorTokenExpired     ErrorType = "token_expired"
	ErrorUserNotFound     ErrorType = "user_not_found"
	ErrorAccountInactive  ErrorType = "account_inactive"
	ErrorSystem           ErrorType = "system_error"
	ErrorPermissionDenied ErrorType = "permission_denied"
)

// Recoverable reports whether a client is expected to react to the error
// automatically. Only token_expired qualifies: the client renews its token
// and retries.
func (t ErrorType) Recoverable() bool {
	return t == ErrorTokenExpired
}

// Transient reports whether the failure is worth a capped reconnect cycle.
func (t ErrorType) Transient() bool {
	return t == ErrorSystem
}

// CredentialInvalid reports whether the credential is dead and must be
// discarded; only a fresh login can recover.
func (t ErrorType) CredentialInvalid() bool {
	switch t {
	case ErrorNoToken, ErrorInvalidToken, ErrorUserNotFound, ErrorAccountInactive:
		return true
	}
	return false
}

// Handshake reports whether the error type belongs to the authentication
// handshake taxonomy (as opposed to a per-action denial).
func (t ErrorType) Handshake() bool {
	return t != ErrorPermissionDenied && t != ""
}
