package goRealtime

import (
	"errors"
	"strings"

	"github.com/MrEthical07/goRealtime/protocol"
	"go.uber.org/zap"
)

// PersonalRoom returns the name of subject's personal notification room.
func (e *Engine) PersonalRoom(subject string) string {
	return e.config.Rooms.PersonalRoomPrefix + subject
}

// roomGuard returns the guard admitting a join of room.
func (e *Engine) roomGuard(room string) Guard {
	prefix := e.config.Rooms.PersonalRoomPrefix
	if strings.HasPrefix(room, prefix) {
		return RequireSelfOrAdmin(strings.TrimPrefix(room, prefix))
	}
	return e.config.roomPolicy(room).Guard()
}

func (c *conn) handleJoinRoom(env protocol.Envelope) {
	e := c.engine

	var payload protocol.RoomPayload
	if err := env.Bind(&payload); err != nil {
		c.logger.Debug("malformed join payload", zap.Error(err))
	}
	room := strings.TrimSpace(payload.Room)
	if room == "" {
		room = e.config.Rooms.DefaultRoom
	}

	if !c.authenticated {
		e.metricInc(MetricRoomJoinDenied)
		e.emitAudit(c.ctx, auditEventRoomJoinDenied, false, "", c.id, room, ErrNotAuthenticated, nil)
		c.reply(protocol.EventRoomJoined, protocol.RoomJoinedPayload{
			Success: false,
			Room:    room,
			Message: "authentication required",
		})
		return
	}
	if c.tokenExpired() {
		return
	}

	if !e.roomGuard(room)(c.principal) {
		e.metricInc(MetricRoomJoinDenied)
		e.metricInc(MetricPermissionDenied)
		e.emitAudit(c.ctx, auditEventRoomJoinDenied, false, c.principal.SubjectID, c.id, room, ErrPermissionDenied, func() map[string]string {
			return map[string]string{"role": c.principal.Role}
		})
		c.logger.Info("room join denied", zap.String("subject", c.principal.SubjectID), zap.String("room", room))
		c.reply(protocol.EventRoomJoined, protocol.RoomJoinedPayload{
			Success: false,
			Room:    room,
			Message: "permission denied",
		})
		c.replyAuthError(protocol.ErrorPermissionDenied, "join "+room+" denied")
		return
	}

	if e.rooms.join(room, c) {
		e.metricInc(MetricRoomJoin)
		e.emitAudit(c.ctx, auditEventRoomJoin, true, c.principal.SubjectID, c.id, room, nil, nil)
	}
	c.reply(protocol.EventRoomJoined, protocol.RoomJoinedPayload{Success: true, Room: room})
}

func (c *conn) handleLeaveRoom(env protocol.Envelope) {
	e := c.engine

	var payload protocol.RoomPayload
	if err := env.Bind(&payload); err != nil {
		c.logger.Debug("malformed leave payload", zap.Error(err))
	}
	room := strings.TrimSpace(payload.Room)
	if room == "" {
		room = e.config.Rooms.DefaultRoom
	}

	left := e.rooms.leave(room, c)
	if left {
		e.metricInc(MetricRoomLeave)
	}
	c.reply(protocol.EventRoomLeft, protocol.RoomLeftPayload{Success: left, Room: room})
}

// recheckMemberships drops rooms the current principal no longer passes,
// after a renewal changed its role.
func (c *conn) recheckMemberships() {
	e := c.engine
	for _, room := range e.rooms.roomsOf(c) {
		if e.roomGuard(room)(c.principal) {
			continue
		}
		if e.rooms.leave(room, c) {
			e.metricInc(MetricRoomLeave)
			c.logger.Info("membership dropped after role change", zap.String("room", room), zap.String("role", c.principal.Role))
			c.reply(protocol.EventRoomLeft, protocol.RoomLeftPayload{Success: true, Room: room})
		}
	}
}

func (c *conn) handleCheckPermissions(protocol.Envelope) {
	e := c.engine

	if !c.authenticated {
		c.deny(protocol.EventCheckPermissions, ErrNotAuthenticated)
		return
	}
	if c.tokenExpired() {
		return
	}

	perms := map[string]bool{}
	if e.roleManager != nil {
		perms = e.roleManager.Snapshot(c.principal.Role)
	}
	c.reply(protocol.EventPermissionsResult, protocol.PermissionsResultPayload{
		Role:        c.principal.Role,
		Permissions: perms,
	})
}

func (c *conn) handleApplicationEvent(env protocol.Envelope) {
	e := c.engine

	route, ok := e.route(env.Event)
	if !ok {
		c.logger.Debug("no handler for event", zap.String("event", env.Event))
		return
	}
	if !c.authenticated {
		c.deny(env.Event, ErrNotAuthenticated)
		return
	}
	if c.tokenExpired() {
		return
	}
	if route.guard != nil && !route.guard(c.principal) {
		c.deny(env.Event, ErrPermissionDenied)
		return
	}

	err := route.fn(c.ctx, Request{
		ConnID:    c.id,
		Principal: c.principal,
		Event:     env.Event,
		Data:      env.Data,
	})
	switch {
	case err == nil:
	case errors.Is(err, ErrPermissionDenied):
		c.deny(env.Event, err)
	default:
		c.logger.Warn("event handler failed", zap.String("event", env.Event), zap.Error(err))
	}
}

// deny answers authorization_error{permission_denied} and records who
// attempted what.
func (c *conn) deny(action string, err error) {
	e := c.engine
	e.metricInc(MetricPermissionDenied)
	e.emitAudit(c.ctx, auditEventPermissionDenied, false, c.principal.SubjectID, c.id, "", err, func() map[string]string {
		return map[string]string{"action": action, "role": c.principal.Role}
	})
	c.logger.Info("permission denied", zap.String("subject", c.principal.SubjectID), zap.String("event", action))

	message := "permission denied"
	if errors.Is(err, ErrNotAuthenticated) {
		message = "authentication required"
	}
	c.replyAuthError(protocol.ErrorPermissionDenied, message)
}
