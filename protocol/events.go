package protocol

// Client to server events.
const (
	EventAuthenticate     = "authenticate"
	EventRenewToken       = "renew_token"
	EventJoinRoom         = "join_room_management"
	EventLeaveRoom        = "leave_room_management"
	EventCheckPermissions = "check_permissions"
)

// Server to client events.
const (
	EventAuthorizationSuccess = "authorization_success"
	EventAuthorizationError   = "authorization_error"
	EventTokenNearExpiry      = "token_near_expiry"
	EventTokenExpired         = "token_expired"
	EventTokenRenewed         = "token_renewed"
	EventTokenRenewalFailed   = "token_renewal_failed"
	EventRoomJoined           = "room_management_joined"
	EventRoomLeft             = "room_management_left"
	EventPermissionsResult    = "permissions_result"
)

// DefaultRoom is joined when join_room_management carries no room name.
const DefaultRoom = "room_management"

// Websocket close codes in the private-use range (4000-4999).
const (
	// CloseServerForced tells the client the server ended the connection on
	// purpose; clients must not reconnect automatically.
	CloseServerForced = 4000
	// CloseCredentialRevoked is a server-forced close issued when the
	// principal lost access during a token renewal.
	CloseCredentialRevoked = 4001
)

// IsServerForcedClose reports whether a close code forbids auto-reconnect.
func IsServerForcedClose(code int) bool {
	return code == CloseServerForced || code == CloseCredentialRevoked
}

// IsControlEvent reports whether the event name belongs to the session
// protocol itself rather than to application traffic.
func IsControlEvent(event string) bool {
	switch event {
	case EventAuthenticate, EventRenewToken, EventJoinRoom, EventLeaveRoom, EventCheckPermissions,
		EventAuthorizationSuccess, EventAuthorizationError, EventTokenNearExpiry, EventTokenExpired,
		EventTokenRenewed, EventTokenRenewalFailed, EventRoomJoined, EventRoomLeft, EventPermissionsResult:
		return true
	}
	return false
}
