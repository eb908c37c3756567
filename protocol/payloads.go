package protocol

// AuthenticatePayload is sent with authenticate.
type AuthenticatePayload struct {
	Token string `json:"token"`
}

// AuthorizationSuccessPayload is sent with authorization_success.
type AuthorizationSuccessPayload struct {
	Role string `json:"role"`
}

// AuthorizationErrorPayload is sent with authorization_error.
type AuthorizationErrorPayload struct {
	ErrorType ErrorType `json:"error_type"`
	Message   string    `json:"message"`
}

// RenewTokenPayload is sent with renew_token.
type RenewTokenPayload struct {
	NewToken string `json:"new_token"`
}

// RoomPayload is sent with join_room_management and leave_room_management.
// An empty Room selects [DefaultRoom].
type RoomPayload struct {
	Room string `json:"room,omitempty"`
}

// RoomJoinedPayload acknowledges a join request.
type RoomJoinedPayload struct {
	Success bool   `json:"success"`
	Room    string `json:"room,omitempty"`
	Message string `json:"message,omitempty"`
}

// RoomLeftPayload acknowledges a leave request.
type RoomLeftPayload struct {
	Success bool   `json:"success"`
	Room    string `json:"room,omitempty"`
}

// PermissionsResultPayload answers check_permissions.
type PermissionsResultPayload struct {
	Role        string          `json:"role"`
	Permissions map[string]bool `json:"permissions"`
}

// RenewResponse is the Credential Issuer response body for POST /renew.
type RenewResponse struct {
	Success          bool   `json:"success"`
	WebsocketToken   string `json:"websocket_token,omitempty"`
	ExpiresInSeconds int64  `json:"expires_in_seconds,omitempty"`
	Error            string `json:"error,omitempty"`
}
