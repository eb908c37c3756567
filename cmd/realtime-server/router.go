package main

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"

	goRealtime "github.com/MrEthical07/goRealtime"
	"github.com/MrEthical07/goRealtime/identity"
	"github.com/MrEthical07/goRealtime/metrics/export/prometheus"
	"github.com/MrEthical07/goRealtime/middleware"
	"github.com/MrEthical07/goRealtime/protocol"
	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"
)

var permissions = []string{"exam.read", "exam.write", "schedule.manage", "users.manage"}

var rolePermissions = map[string][]string{
	goRealtime.RoleAdmin:   {"exam.read", "exam.write", "schedule.manage", "users.manage"},
	goRealtime.RoleTeacher: {"exam.read", "exam.write", "schedule.manage"},
	goRealtime.RoleStudent: {"exam.read"},
}

// examStatus is the payload of update_exam_status.
type examStatus struct {
	ExamID string `json:"exam_id"`
	Status string `json:"status"`
}

// registerHandlers wires the privileged client events of the scheduling UI.
func registerHandlers(engine *goRealtime.Engine, logger *zap.Logger) error {
	return engine.HandleEvent("update_exam_status", goRealtime.RequireTeacherOrAdmin(),
		func(_ context.Context, req goRealtime.Request) error {
			var body examStatus
			if err := req.Bind(&body); err != nil {
				return err
			}
			if body.ExamID == "" {
				return errors.New("exam_id required")
			}
			n, err := engine.Broadcast(protocol.DefaultRoom, "exam_status_updated", body)
			if err != nil {
				return err
			}
			logger.Debug("exam status broadcast",
				zap.String("subject", req.Principal.SubjectID),
				zap.String("exam_id", body.ExamID),
				zap.Int("delivered", n),
			)
			return nil
		})
}

func newRouter(engine *goRealtime.Engine, store *identity.RedisStore, cfg httpConfig, logger *zap.Logger) http.Handler {
	router := httprouter.New()
	exporter := prometheus.NewPrometheusExporter(engine)

	router.Handler(http.MethodGet, "/ws", engine)
	router.Handler(http.MethodPost, "/renew", middleware.RequireSession(engine)(engine.RenewHandler()))
	router.Handler(http.MethodPost, "/logout", middleware.RequireSession(engine)(logoutHandler(engine)))
	router.Handler(http.MethodGet, "/metrics", exporter.Handler())
	router.GET("/healthz", func(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":      "ok",
			"connections": engine.ActiveConnections(),
		})
	})

	if cfg.DevLogin {
		logger.Warn("dev login enabled; POST /login issues sessions without a password")
		router.Handler(http.MethodPost, "/login", middleware.ClientIP(devLoginHandler(engine, store)))
	}

	if cfg.AdminToken != "" {
		admin := requireAdminToken(cfg.AdminToken)
		router.Handler(http.MethodPost, "/internal/broadcast/:room", admin(http.HandlerFunc(broadcastHandler(engine))))
		router.Handler(http.MethodPost, "/internal/notify/:subject", admin(http.HandlerFunc(notifyHandler(engine))))
		router.Handler(http.MethodPost, "/internal/disconnect/:subject", admin(http.HandlerFunc(disconnectHandler(engine, store))))
	}

	return router
}

func devLoginHandler(engine *goRealtime.Engine, store *identity.RedisStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Subject string `json:"subject"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Subject == "" {
			writeError(w, http.StatusBadRequest, "subject required")
			return
		}

		p, err := store.LookupPrincipal(r.Context(), body.Subject)
		switch {
		case errors.Is(err, goRealtime.ErrPrincipalNotFound):
			writeError(w, http.StatusUnauthorized, "unknown subject")
			return
		case err != nil:
			writeError(w, http.StatusServiceUnavailable, "identity store unavailable")
			return
		case !p.IsActive:
			writeError(w, http.StatusForbidden, "account inactive")
			return
		}

		sess, err := engine.CreateSession(r.Context(), p.SubjectID)
		if err != nil {
			writeError(w, http.StatusServiceUnavailable, "session store unavailable")
			return
		}
		http.SetCookie(w, engine.SessionCookie(sess))
		writeJSON(w, http.StatusOK, map[string]string{"subject": p.SubjectID, "role": p.Role})
	}
}

func logoutHandler(engine *goRealtime.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := goRealtime.BrowserSessionFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "session invalid")
			return
		}
		if _, err := engine.RevokeSessions(r.Context(), sess.SubjectID); err != nil {
			writeError(w, http.StatusServiceUnavailable, "session store unavailable")
			return
		}
		http.SetCookie(w, &http.Cookie{
			Name:     engine.CookieName(),
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
			SameSite: http.SameSiteStrictMode,
		})
		w.WriteHeader(http.StatusNoContent)
	}
}

func broadcastHandler(engine *goRealtime.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		room := httprouter.ParamsFromContext(r.Context()).ByName("room")
		var body struct {
			Event string          `json:"event"`
			Data  json.RawMessage `json:"data"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid body")
			return
		}
		n, err := engine.Broadcast(room, body.Event, body.Data)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"delivered": n})
	}
}

func notifyHandler(engine *goRealtime.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		subject := httprouter.ParamsFromContext(r.Context()).ByName("subject")
		var body struct {
			Event string          `json:"event"`
			Data  json.RawMessage `json:"data"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid body")
			return
		}
		n, err := engine.Notify(subject, body.Event, body.Data)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"delivered": n})
	}
}

// disconnectHandler deactivates the subject, ends its browser sessions and
// force-closes its sockets. ?deactivate=false only closes the sockets.
func disconnectHandler(engine *goRealtime.Engine, store *identity.RedisStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		subject := httprouter.ParamsFromContext(r.Context()).ByName("subject")
		if r.URL.Query().Get("deactivate") == "false" {
			writeJSON(w, http.StatusOK, map[string]int{"closed": engine.Disconnect(subject)})
			return
		}

		if err := store.SetActive(r.Context(), subject, false); err != nil {
			if errors.Is(err, goRealtime.ErrPrincipalNotFound) {
				writeError(w, http.StatusNotFound, "unknown subject")
				return
			}
			writeError(w, http.StatusServiceUnavailable, "identity store unavailable")
			return
		}
		if _, err := engine.RevokeSessions(r.Context(), subject); err != nil {
			writeError(w, http.StatusServiceUnavailable, "session store unavailable")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"subject": subject, "status": "inactive"})
	}
}

func requireAdminToken(token string) func(http.Handler) http.Handler {
	want := []byte("Bearer " + token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := []byte(r.Header.Get("Authorization"))
			if subtle.ConstantTimeCompare(got, want) != 1 {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
