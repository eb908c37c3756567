package goRealtime

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/goRealtime/protocol"
	"go.uber.org/zap"
)

// controlHandlers routes the session protocol's client events. Every other
// event goes to the handlers registered with HandleEvent.
var controlHandlers = map[string]func(*conn, protocol.Envelope){
	protocol.EventAuthenticate:     (*conn).handleAuthenticate,
	protocol.EventRenewToken:       (*conn).handleRenewToken,
	protocol.EventJoinRoom:         (*conn).handleJoinRoom,
	protocol.EventLeaveRoom:        (*conn).handleLeaveRoom,
	protocol.EventCheckPermissions: (*conn).handleCheckPermissions,
}

func (c *conn) dispatch(env protocol.Envelope) {
	if h, ok := controlHandlers[env.Event]; ok {
		h(c, env)
		return
	}
	c.handleApplicationEvent(env)
}

/*
====================================
AUTHENTICATION GUARD
====================================
*/

// verifyToken checks signature and expiry and returns the token subject.
func (e *Engine) verifyToken(token string) (string, time.Time, error) {
	if strings.TrimSpace(token) == "" {
		return "", time.Time{}, ErrNoToken
	}
	claims, err := e.jwtManager.Parse(token)
	if err != nil {
		return "", time.Time{}, err
	}
	return claims.Subject, claims.ExpiresAtTime(), nil
}

// resolvePrincipal looks subject up in the identity store. An inactive
// principal is returned together with ErrPrincipalInactive.
func (e *Engine) resolvePrincipal(ctx context.Context, subject string) (Principal, error) {
	ctx, cancel := context.WithTimeout(ctx, e.config.Connection.IdentityTimeout)
	defer cancel()

	p, err := e.identity.LookupPrincipal(ctx, subject)
	if err != nil {
		if errors.Is(err, ErrPrincipalNotFound) {
			return Principal{}, err
		}
		return Principal{}, fmt.Errorf("%w: %v", ErrIdentityUnavailable, err)
	}
	p.SubjectID = subject
	if !p.IsActive {
		return p, ErrPrincipalInactive
	}
	return p, nil
}

// Authenticate verifies token and resolves its principal exactly as the
// websocket handshake does. Errors classify with ClassifyAuthError.
func (e *Engine) Authenticate(ctx context.Context, token string) (Principal, time.Time, error) {
	subject, expiresAt, err := e.verifyToken(token)
	if err != nil {
		return Principal{}, time.Time{}, err
	}
	p, err := e.resolvePrincipal(ctx, subject)
	if err != nil {
		return Principal{}, time.Time{}, err
	}
	return p, expiresAt, nil
}

func (c *conn) handleAuthenticate(env protocol.Envelope) {
	e := c.engine
	start := e.clock.Now()

	var payload protocol.AuthenticatePayload
	if err := env.Bind(&payload); err != nil {
		payload.Token = ""
	}

	principal, expiresAt, err := e.Authenticate(c.ctx, payload.Token)
	if e.metrics.LatencyEnabled() {
		e.metrics.Observe(MetricAuthLatency, e.clock.Since(start))
	}
	if err != nil {
		if c.authenticated {
			c.deauthenticate()
		}
		errType := ClassifyAuthError(err)
		e.metricInc(MetricAuthFailure)
		e.emitAudit(c.ctx, auditEventAuthFailure, false, principal.SubjectID, c.id, "", err, nil)
		c.logger.Info("authentication failed", zap.String("error_type", string(errType)), zap.Error(err))
		c.replyAuthError(errType, authErrorMessage(errType))
		return
	}

	if c.authenticated && c.principal.SubjectID != principal.SubjectID {
		c.deauthenticate()
	}
	c.setPrincipal(principal, expiresAt)
	e.rooms.join(e.PersonalRoom(principal.SubjectID), c)

	e.metricInc(MetricAuthSuccess)
	e.emitAudit(c.ctx, auditEventAuthSuccess, true, principal.SubjectID, c.id, "", nil, func() map[string]string {
		return map[string]string{"role": principal.Role}
	})
	c.logger.Info("authenticated", zap.String("subject", principal.SubjectID), zap.String("role", principal.Role))
	c.reply(protocol.EventAuthorizationSuccess, protocol.AuthorizationSuccessPayload{Role: principal.Role})
}

func (c *conn) setPrincipal(p Principal, expiresAt time.Time) {
	c.principal = p
	c.expiresAt = expiresAt
	c.authenticated = true
	c.authed.Store(true)
	c.scheduleNearExpiry(expiresAt)
}

// deauthenticate drops the principal and every room membership.
func (c *conn) deauthenticate() {
	c.cancelNearExpiry()
	c.engine.rooms.leaveAll(c)
	c.principal = Principal{}
	c.expiresAt = time.Time{}
	c.authenticated = false
	c.authed.Store(false)
}

// tokenExpired answers token_expired when the connection's token has run
// out. Callers drop the message when it returns true.
func (c *conn) tokenExpired() bool {
	if c.engine.clock.Now().Before(c.expiresAt) {
		return false
	}
	c.engine.metricInc(MetricTokenExpired)
	c.logger.Debug("privileged message after token expiry", zap.String("subject", c.principal.SubjectID))
	c.reply(protocol.EventTokenExpired, nil)
	return true
}

/*
====================================
RENEWAL
====================================
*/

func (c *conn) handleRenewToken(env protocol.Envelope) {
	e := c.engine

	var payload protocol.RenewTokenPayload
	if err := env.Bind(&payload); err != nil {
		payload.NewToken = ""
	}

	if !c.authenticated {
		c.renewalFailed(ErrNotAuthenticated)
		return
	}

	subject, expiresAt, err := e.verifyToken(payload.NewToken)
	if err != nil {
		c.renewalFailed(err)
		return
	}
	if subject != c.principal.SubjectID {
		c.renewalFailed(ErrSubjectMismatch)
		return
	}

	principal, err := e.resolvePrincipal(c.ctx, subject)
	switch {
	case errors.Is(err, ErrPrincipalNotFound), errors.Is(err, ErrPrincipalInactive):
		c.revoke(err)
		return
	case err != nil:
		c.renewalFailed(err)
		return
	}

	roleChanged := principal.Role != c.principal.Role
	c.setPrincipal(principal, expiresAt)
	if roleChanged {
		c.recheckMemberships()
	}

	e.metricInc(MetricRenewSuccess)
	e.emitAudit(c.ctx, auditEventTokenRenewed, true, subject, c.id, "", nil, nil)
	c.logger.Debug("token renewed", zap.String("subject", subject), zap.Time("expires_at", expiresAt))
	c.reply(protocol.EventTokenRenewed, nil)
}

func (c *conn) renewalFailed(err error) {
	c.engine.metricInc(MetricRenewFailure)
	c.engine.emitAudit(c.ctx, auditEventTokenRenewalFailed, false, c.principal.SubjectID, c.id, "", err, nil)
	c.logger.Info("token renewal rejected", zap.Error(err))
	c.reply(protocol.EventTokenRenewalFailed, nil)
}

// revoke ends the authentication of a principal that lost access and
// closes the connection with CloseCredentialRevoked.
func (c *conn) revoke(err error) {
	subject := c.principal.SubjectID
	errType := ClassifyAuthError(err)

	c.deauthenticate()
	c.engine.metricInc(MetricRenewFailure)
	c.engine.metricInc(MetricForcedDisconnect)
	c.engine.emitAudit(c.ctx, auditEventCredentialRevoked, false, subject, c.id, "", err, nil)
	c.logger.Info("credential revoked", zap.String("subject", subject), zap.String("error_type", string(errType)))

	c.replyAuthError(errType, authErrorMessage(errType))
	c.shutdown(protocol.CloseCredentialRevoked, "credential revoked")
}
