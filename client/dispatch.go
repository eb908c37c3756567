package client

import (
	"github.com/MrEthical07/goRealtime/protocol"
	"go.uber.org/zap"
)

type inboundHandler func(*Session, protocol.Envelope)

// inboundHandlers routes control events. Handlers run with the session
// mutex held and read the live session, never a captured copy. Filled in init
// since the handlers reach back into the read loop that consults it.
var inboundHandlers map[string]inboundHandler

func init() {
	inboundHandlers = map[string]inboundHandler{
		protocol.EventAuthorizationSuccess: (*Session).handleAuthSuccess,
		protocol.EventAuthorizationError:   (*Session).handleAuthError,
		protocol.EventTokenNearExpiry:      (*Session).handleTokenNearExpiry,
		protocol.EventTokenExpired:         (*Session).handleTokenExpired,
		protocol.EventTokenRenewed:         (*Session).handleServerRenewal,
		protocol.EventTokenRenewalFailed:   (*Session).handleServerRenewal,
		protocol.EventRoomJoined:           (*Session).handleRoomJoined,
		protocol.EventRoomLeft:             (*Session).handleRoomLeft,
		protocol.EventPermissionsResult:    (*Session).handlePermissions,
	}
}

func (s *Session) handleAuthSuccess(env protocol.Envelope) {
	if s.state != StateConnected {
		return
	}
	var p protocol.AuthorizationSuccessPayload
	if err := env.Bind(&p); err != nil || p.Role == "" {
		s.logger.Warn("bad authorization_success", zap.Error(err), zap.String("role", p.Role))
		s.systemErrorLocked(protocol.ErrorSystem, "malformed authorization_success")
		return
	}

	s.role = p.Role
	s.systemRetries = 0
	s.awaitingToken = false
	s.errMsg = ""
	s.setStateLocked(StateAuthenticated, 0)

	for _, room := range sortedKeys(s.desired) {
		s.sendLocked(protocol.EventJoinRoom, protocol.RoomPayload{Room: room})
	}
}

func (s *Session) handleAuthError(env protocol.Envelope) {
	var p protocol.AuthorizationErrorPayload
	if err := env.Bind(&p); err != nil {
		s.logger.Warn("bad authorization_error", zap.Error(err))
		p.ErrorType = protocol.ErrorSystem
	}
	failure := ClassifyErrorType(p.ErrorType)
	msg := p.Message
	if msg == "" {
		msg = string(p.ErrorType)
	}

	if failure == FailureDenied {
		s.errMsg = msg
		s.publishLocked(Event{Kind: EventError, State: s.state, ErrorMessage: msg, ErrorType: p.ErrorType, Failure: failure})
		if s.state == StateConnected {
			s.teardownLocked()
			s.failLocked(failure, p.ErrorType, msg)
		}
		return
	}

	switch {
	case failure == FailureCredentialStale && s.state == StateConnected && !s.authRetried:
		s.authRetried = true
		s.errMsg = msg
		s.publishLocked(Event{Kind: EventError, State: s.state, ErrorMessage: msg, ErrorType: p.ErrorType, Failure: failure})
		s.authenticateAfterRenewalLocked()

	case failure == FailureSystem && s.state == StateConnected:
		s.systemErrorLocked(p.ErrorType, msg)

	default:
		// Credential invalid, or a repeated token_expired: fail closed.
		s.tokens.Clear()
		s.teardownLocked()
		s.reconnect.reset()
		s.failLocked(FailureCredentialInvalid, p.ErrorType, msg)
	}
}

// systemErrorLocked drops the connection and reconnects until the system
// retry cap is spent.
func (s *Session) systemErrorLocked(errType protocol.ErrorType, msg string) {
	s.systemRetries++
	s.publishLocked(Event{Kind: EventError, State: s.state, ErrorMessage: msg, ErrorType: errType, Failure: FailureSystem})
	s.teardownLocked()
	if s.systemRetries > s.cfg.MaxSystemErrorRetries {
		s.failLocked(FailureSystem, errType, msg+"; retries exhausted")
		return
	}
	s.scheduleReconnectLocked(msg)
}

func (s *Session) authenticateAfterRenewalLocked() {
	s.awaitingToken = true
	if !s.tokens.ForceRenewal() && !s.tokens.InFlight() {
		s.tokens.Clear()
		s.teardownLocked()
		s.failLocked(FailureCredentialInvalid, protocol.ErrorTokenExpired, "token renewal unavailable")
	}
}

func (s *Session) handleTokenNearExpiry(protocol.Envelope) {
	if s.state != StateAuthenticated {
		return
	}
	s.tokens.ForceRenewal()
}

func (s *Session) handleTokenExpired(protocol.Envelope) {
	if s.state != StateAuthenticated {
		return
	}
	s.replayPending = true
	s.publishLocked(Event{
		Kind:         EventError,
		State:        s.state,
		ErrorMessage: "token expired",
		ErrorType:    protocol.ErrorTokenExpired,
		Failure:      FailureCredentialStale,
	})
	s.tokens.ForceRenewal()
}

func (s *Session) handleServerRenewal(env protocol.Envelope) {
	ev := Event{Kind: EventServerRenewal, State: s.state, Name: env.Event}
	if env.Event == protocol.EventTokenRenewalFailed {
		ev.ErrorMessage = "server rejected the renewed token"
	}
	s.publishLocked(ev)
}

func (s *Session) handleRoomJoined(env protocol.Envelope) {
	var p protocol.RoomJoinedPayload
	if err := env.Bind(&p); err != nil {
		s.logger.Warn("bad room_management_joined", zap.Error(err))
		return
	}
	if p.Success {
		s.rooms[p.Room] = struct{}{}
		s.publishLocked(Event{Kind: EventRoomJoined, State: s.state, Room: p.Room})
		return
	}
	// Denials are not retried, so stop re-requesting the room.
	if p.Room != "" {
		delete(s.desired, p.Room)
	}
	s.publishLocked(Event{
		Kind:         EventRoomJoinDenied,
		State:        s.state,
		Room:         p.Room,
		ErrorMessage: p.Message,
		Failure:      FailureDenied,
	})
}

func (s *Session) handleRoomLeft(env protocol.Envelope) {
	var p protocol.RoomLeftPayload
	if err := env.Bind(&p); err != nil {
		s.logger.Warn("bad room_management_left", zap.Error(err))
		return
	}
	delete(s.rooms, p.Room)
	delete(s.desired, p.Room)
	s.publishLocked(Event{Kind: EventRoomLeft, State: s.state, Room: p.Room})
}

func (s *Session) handlePermissions(env protocol.Envelope) {
	s.publishLocked(Event{Kind: EventPermissions, State: s.state, Name: env.Event, Data: env.Data})
}
