package middleware

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"

	goRealtime "github.com/MrEthical07/goRealtime"
	"github.com/MrEthical07/goRealtime/protocol"
)

// RequireSession rejects requests without a live browser session cookie.
// Accepted requests carry the session and the client IP in their context.
func RequireSession(engine *goRealtime.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				writeError(w, http.StatusUnauthorized, "session invalid")
				return
			}

			cookie, err := r.Cookie(engine.CookieName())
			if err != nil || cookie.Value == "" {
				writeError(w, http.StatusUnauthorized, "session required")
				return
			}

			ctx := r.Context()
			if ip := remoteIP(r); ip != "" {
				ctx = goRealtime.WithClientIP(ctx, ip)
			}

			sess, err := engine.LookupSession(ctx, cookie.Value)
			switch {
			case err == nil:
			case errors.Is(err, goRealtime.ErrSessionNotFound):
				writeError(w, http.StatusUnauthorized, "session invalid")
				return
			case errors.Is(err, goRealtime.ErrIssuerDisabled):
				writeError(w, http.StatusNotFound, "issuer disabled")
				return
			default:
				writeError(w, http.StatusServiceUnavailable, "temporary failure, retry later")
				return
			}

			ctx = goRealtime.WithBrowserSession(ctx, sess)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClientIP stores the transport peer address in the request context.
func ClientIP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ip := remoteIP(r); ip != "" {
			r = r.WithContext(goRealtime.WithClientIP(r.Context(), ip))
		}
		next.ServeHTTP(w, r)
	})
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(protocol.RenewResponse{Success: false, Error: msg})
}
