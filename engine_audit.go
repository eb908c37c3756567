package goRealtime

import (
	"context"
	"errors"

	"github.com/MrEthical07/goRealtime/jwt"
)

const (
	auditEventConnectionOpened    = "connection_opened"
	auditEventAuthSuccess         = "auth_success"
	auditEventAuthFailure         = "auth_failure"
	auditEventTokenRenewed        = "token_renewed"
	auditEventTokenRenewalFailed  = "token_renewal_failed"
	auditEventCredentialRevoked   = "credential_revoked"
	auditEventRoomJoin            = "room_join"
	auditEventRoomJoinDenied      = "room_join_denied"
	auditEventPermissionDenied    = "permission_denied"
	auditEventForcedDisconnect    = "forced_disconnect"
	auditEventTokenIssued         = "token_issued"
	auditEventTokenIssueFailed    = "token_issue_failed"
	auditEventTokenIssueThrottled = "token_issue_throttled"
)

// AuditErrorCode is the stable error label stored in AuditEvent.Error.
type AuditErrorCode string

const (
	auditErrNoToken          AuditErrorCode = "no_token"
	auditErrInvalidToken     AuditErrorCode = "invalid_token"
	auditErrTokenExpired     AuditErrorCode = "token_expired"
	auditErrSubjectMismatch  AuditErrorCode = "subject_mismatch"
	auditErrUserNotFound     AuditErrorCode = "user_not_found"
	auditErrAccountInactive  AuditErrorCode = "account_inactive"
	auditErrPermissionDenied AuditErrorCode = "permission_denied"
	auditErrNotAuthenticated AuditErrorCode = "not_authenticated"
	auditErrSessionNotFound  AuditErrorCode = "session_not_found"
	auditErrRateLimited      AuditErrorCode = "rate_limited"
	auditErrUnavailable      AuditErrorCode = "backend_unavailable"
	auditErrInternal         AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	subjectID string,
	connID string,
	room string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: e.clock.Now().UTC(),
		EventType: eventType,
		SubjectID: subjectID,
		ConnID:    connID,
		Room:      room,
		IP:        clientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrNoToken):
		return auditErrNoToken
	case errors.Is(err, jwt.ErrTokenExpired):
		return auditErrTokenExpired
	case errors.Is(err, jwt.ErrTokenInvalid):
		return auditErrInvalidToken
	case errors.Is(err, ErrSubjectMismatch):
		return auditErrSubjectMismatch
	case errors.Is(err, ErrPrincipalNotFound):
		return auditErrUserNotFound
	case errors.Is(err, ErrPrincipalInactive):
		return auditErrAccountInactive
	case errors.Is(err, ErrPermissionDenied):
		return auditErrPermissionDenied
	case errors.Is(err, ErrNotAuthenticated):
		return auditErrNotAuthenticated
	case errors.Is(err, ErrSessionNotFound):
		return auditErrSessionNotFound
	case errors.Is(err, ErrRenewRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrIdentityUnavailable):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
