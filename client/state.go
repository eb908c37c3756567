package client

import "github.com/MrEthical07/goRealtime/protocol"

// State is the connection state of a [Session].
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateAuthenticated
	StateReconnecting
	StateError
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateAuthenticated:
		return "authenticated"
	case StateReconnecting:
		return "reconnecting"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Failure is the recovery category of an error surfaced by a [Session].
type Failure int

const (
	FailureNone Failure = iota
	// FailureNetwork is a transport drop; retried with backoff.
	FailureNetwork
	// FailureCredentialStale is an expired token; recovered by renewal.
	FailureCredentialStale
	// FailureCredentialInvalid is terminal for the credential; the token is discarded.
	FailureCredentialInvalid
	// FailureDenied rejects one action and never tears the connection down.
	FailureDenied
	// FailureSystem is a server-side fault; retried like network errors, capped.
	FailureSystem
)

func (f Failure) String() string {
	switch f {
	case FailureNone:
		return "none"
	case FailureNetwork:
		return "network"
	case FailureCredentialStale:
		return "credential_stale"
	case FailureCredentialInvalid:
		return "credential_invalid"
	case FailureDenied:
		return "denied"
	case FailureSystem:
		return "system"
	default:
		return "unknown"
	}
}

// ClassifyErrorType maps an authorization_error type to its recovery category.
func ClassifyErrorType(t protocol.ErrorType) Failure {
	switch {
	case t == "":
		return FailureNone
	case t.Recoverable():
		return FailureCredentialStale
	case t.Transient():
		return FailureSystem
	case t == protocol.ErrorPermissionDenied:
		return FailureDenied
	default:
		return FailureCredentialInvalid
	}
}

// EventKind identifies what a [Event] reports.
type EventKind int

const (
	// EventStateChanged reports a transition; State and Previous are set.
	EventStateChanged EventKind = iota
	// EventError reports an error message; Failure and ErrorType are set.
	EventError
	// EventRoomJoined reports a server-acknowledged join.
	EventRoomJoined
	// EventRoomJoinDenied reports a rejected join.
	EventRoomJoinDenied
	// EventRoomLeft reports a leave acknowledgment or a server-side removal.
	EventRoomLeft
	// EventTokenRenewed reports a renewal completed by the scheduler.
	EventTokenRenewed
	// EventRenewalFailed reports an exhausted renewal cycle.
	EventRenewalFailed
	// EventServerRenewal reports the server's verdict on a renew_token push.
	EventServerRenewal
	// EventPermissions carries a permissions_result payload in Data.
	EventPermissions
	// EventMessage carries an application event pushed by the server.
	EventMessage
)

func (k EventKind) String() string {
	switch k {
	case EventStateChanged:
		return "state_changed"
	case EventError:
		return "error"
	case EventRoomJoined:
		return "room_joined"
	case EventRoomJoinDenied:
		return "room_join_denied"
	case EventRoomLeft:
		return "room_left"
	case EventTokenRenewed:
		return "token_renewed"
	case EventRenewalFailed:
		return "renewal_failed"
	case EventServerRenewal:
		return "server_renewal"
	case EventPermissions:
		return "permissions"
	case EventMessage:
		return "message"
	default:
		return "unknown"
	}
}
