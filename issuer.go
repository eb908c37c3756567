package goRealtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/MrEthical07/goRealtime/internal/rate"
	"github.com/MrEthical07/goRealtime/protocol"
	"github.com/MrEthical07/goRealtime/session"
	"go.uber.org/zap"
)

/*
====================================
BROWSER SESSIONS
====================================
*/

// CookieName returns the name of the browser session cookie.
func (e *Engine) CookieName() string {
	return e.config.Issuer.CookieName
}

// CreateSession starts a browser session for subject. Login flows call it
// after verifying credentials and hand the result to SessionCookie.
func (e *Engine) CreateSession(ctx context.Context, subject string) (*session.Session, error) {
	if e.sessionStore == nil {
		return nil, ErrIssuerDisabled
	}
	return e.sessionStore.Create(ctx, subject, e.config.Issuer.SessionLifetime)
}

// LookupSession loads a browser session. A missing or expired session
// returns ErrSessionNotFound.
func (e *Engine) LookupSession(ctx context.Context, sessionID string) (*session.Session, error) {
	if e.sessionStore == nil {
		return nil, ErrIssuerDisabled
	}
	if sessionID == "" {
		return nil, ErrSessionNotFound
	}
	sess, err := e.sessionStore.Get(ctx, sessionID, e.config.Issuer.SessionLifetime)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return sess, nil
}

// RevokeSessions deletes every browser session of subject and force-closes
// its realtime connections. It returns the number of sessions deleted.
func (e *Engine) RevokeSessions(ctx context.Context, subject string) (int, error) {
	if e.sessionStore == nil {
		return 0, ErrIssuerDisabled
	}
	n, err := e.sessionStore.DeleteAllForSubject(ctx, subject)
	if err != nil {
		return n, err
	}
	e.Disconnect(subject)
	return n, nil
}

// SessionCookie returns the cookie carrying sess.
func (e *Engine) SessionCookie(sess *session.Session) *http.Cookie {
	return &http.Cookie{
		Name:     e.config.Issuer.CookieName,
		Value:    sess.SessionID,
		Path:     "/",
		MaxAge:   int(e.config.Issuer.SessionLifetime / time.Second),
		HttpOnly: true,
		Secure:   e.config.Security.ProductionMode,
		SameSite: http.SameSiteStrictMode,
	}
}

/*
====================================
CREDENTIAL ISSUER
====================================
*/

// RenewHandler serves POST /renew: it mints a realtime token for the
// browser session stored in the request context (see WithBrowserSession
// and middleware.RequireSession).
func (e *Engine) RenewHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			writeRenewResponse(w, http.StatusMethodNotAllowed, protocol.RenewResponse{Error: "method not allowed"})
			return
		}

		sess, ok := BrowserSessionFromContext(r.Context())
		if !ok {
			e.metricInc(MetricIssuerFailure)
			e.emitAudit(r.Context(), auditEventTokenIssueFailed, false, "", "", "", ErrSessionNotFound, nil)
			writeRenewResponse(w, http.StatusUnauthorized, protocol.RenewResponse{Error: "session invalid"})
			return
		}

		status, resp := e.issue(r.Context(), sess)
		writeRenewResponse(w, status, resp)
	})
}

func (e *Engine) issue(ctx context.Context, sess *session.Session) (int, protocol.RenewResponse) {
	subject := sess.SubjectID

	if err := e.rateLimiter.AllowRenew(ctx, sess.SessionID, clientIPFromContext(ctx)); err != nil {
		if errors.Is(err, rate.ErrRateLimited) {
			e.metricInc(MetricIssuerRateLimited)
			e.emitAudit(ctx, auditEventTokenIssueThrottled, false, subject, "", "", ErrRenewRateLimited, nil)
			return http.StatusTooManyRequests, protocol.RenewResponse{Error: "too many renewals"}
		}
		return e.issueFailed(ctx, subject, err)
	}

	if _, err := e.resolvePrincipal(ctx, subject); err != nil {
		if errors.Is(err, ErrPrincipalNotFound) || errors.Is(err, ErrPrincipalInactive) {
			if e.sessionStore != nil {
				if _, delErr := e.sessionStore.DeleteAllForSubject(ctx, subject); delErr != nil {
					e.logger.Warn("session cleanup failed", zap.String("subject", subject), zap.Error(delErr))
				}
			}
			e.metricInc(MetricIssuerFailure)
			e.emitAudit(ctx, auditEventTokenIssueFailed, false, subject, "", "", err, nil)
			return http.StatusUnauthorized, protocol.RenewResponse{Error: authErrorMessage(ClassifyAuthError(err))}
		}
		return e.issueFailed(ctx, subject, err)
	}

	token, expiresAt, err := e.jwtManager.Mint(subject)
	if err != nil {
		return e.issueFailed(ctx, subject, err)
	}

	e.metricInc(MetricIssuerSuccess)
	e.emitAudit(ctx, auditEventTokenIssued, true, subject, "", "", nil, nil)
	return http.StatusOK, protocol.RenewResponse{
		Success:          true,
		WebsocketToken:   token,
		ExpiresInSeconds: int64(expiresAt.Sub(e.clock.Now()) / time.Second),
	}
}

func (e *Engine) issueFailed(ctx context.Context, subject string, err error) (int, protocol.RenewResponse) {
	e.metricInc(MetricIssuerFailure)
	e.emitAudit(ctx, auditEventTokenIssueFailed, false, subject, "", "", err, nil)
	e.logger.Error("token issue failed", zap.String("subject", subject), zap.Error(err))
	return http.StatusInternalServerError, protocol.RenewResponse{Error: "internal error"}
}

func writeRenewResponse(w http.ResponseWriter, status int, resp protocol.RenewResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
