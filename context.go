package goRealtime

import (
	"context"

	"github.com/MrEthical07/goRealtime/session"
)

type clientIPContextKey struct{}
type browserSessionContextKey struct{}

// WithClientIP attaches the caller's IP address to ctx. The engine uses it
// for the issuer's per-IP throttle and for audit records.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

// WithBrowserSession attaches a validated browser session to ctx. The
// renew handler reads it to decide whom to mint a token for.
func WithBrowserSession(ctx context.Context, sess *session.Session) context.Context {
	return context.WithValue(ctx, browserSessionContextKey{}, sess)
}

// BrowserSessionFromContext returns the session stored by WithBrowserSession.
func BrowserSessionFromContext(ctx context.Context) (*session.Session, bool) {
	if ctx == nil {
		return nil, false
	}
	sess, ok := ctx.Value(browserSessionContextKey{}).(*session.Session)
	return sess, ok && sess != nil
}

func clientIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	ip, _ := ctx.Value(clientIPContextKey{}).(string)
	return ip
}
