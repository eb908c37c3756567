//go:build integration
// +build integration

package test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	goRealtime "github.com/MrEthical07/goRealtime"
	"github.com/MrEthical07/goRealtime/client"
	"github.com/MrEthical07/goRealtime/identity"
	"github.com/MrEthical07/goRealtime/middleware"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type stack struct {
	engine *goRealtime.Engine
	store  *identity.RedisStore
	srv    *httptest.Server
	wsURL  string
}

func newStack(t *testing.T, mutate func(*goRealtime.Config)) *stack {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	store := identity.NewRedisStore(rdb, "principal")
	for _, p := range []goRealtime.Principal{
		{SubjectID: "alice", Role: goRealtime.RoleAdmin, IsActive: true},
		{SubjectID: "bob", Role: goRealtime.RoleTeacher, IsActive: true},
		{SubjectID: "carol", Role: goRealtime.RoleStudent, IsActive: true},
	} {
		if err := store.SavePrincipal(context.Background(), p); err != nil {
			t.Fatalf("seed %s: %v", p.SubjectID, err)
		}
	}

	cfg := goRealtime.DefaultConfig()
	cfg.Metrics.Enabled = true
	if mutate != nil {
		mutate(&cfg)
	}

	engine, err := goRealtime.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithIdentityStore(store).
		WithPermissions([]string{"exam.read", "exam.write"}).
		WithRoles(map[string][]string{
			goRealtime.RoleAdmin:   {"exam.read", "exam.write"},
			goRealtime.RoleTeacher: {"exam.read", "exam.write"},
			goRealtime.RoleStudent: {"exam.read"},
		}).
		Build()
	if err != nil {
		t.Fatalf("engine build failed: %v", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", engine)
	mux.Handle("/renew", middleware.RequireSession(engine)(engine.RenewHandler()))
	srv := httptest.NewServer(mux)

	t.Cleanup(func() {
		srv.Close()
		engine.Close()
		_ = rdb.Close()
		mr.Close()
	})

	return &stack{
		engine: engine,
		store:  store,
		srv:    srv,
		wsURL:  "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
	}
}

// login opens a browser session for subject and returns a client session
// whose issuer renews through /renew with that cookie.
func (s *stack) login(t *testing.T, subject string) (*client.Session, *events) {
	t.Helper()

	sess, err := s.engine.CreateSession(context.Background(), subject)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	httpClient, err := client.NewSessionClient(5 * time.Second)
	if err != nil {
		t.Fatalf("NewSessionClient failed: %v", err)
	}
	base, _ := url.Parse(s.srv.URL)
	httpClient.Jar.SetCookies(base, []*http.Cookie{s.engine.SessionCookie(sess)})

	issuer := client.NewHTTPIssuer(s.srv.URL+"/renew", httpClient, nil)
	cs, err := client.NewSession(client.DefaultConfig(s.wsURL), client.WebsocketDialer{}, issuer)
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}
	t.Cleanup(cs.Close)

	ev := &events{ch: make(chan client.Event, 128)}
	cs.Subscribe(func(e client.Event) { ev.ch <- e })
	return cs, ev
}

type events struct {
	ch chan client.Event
}

// await returns the first event matching pred, failing after a timeout.
func (e *events) await(t *testing.T, what string, pred func(client.Event) bool) client.Event {
	t.Helper()
	deadline := time.After(10 * time.Second)
	for {
		select {
		case ev := <-e.ch:
			if pred(ev) {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
			return client.Event{}
		}
	}
}

func (e *events) awaitState(t *testing.T, want client.State) {
	t.Helper()
	e.await(t, "state "+want.String(), func(ev client.Event) bool {
		return ev.Kind == client.EventStateChanged && ev.State == want
	})
}

func (e *events) awaitMessage(t *testing.T, name string) client.Event {
	t.Helper()
	return e.await(t, "message "+name, func(ev client.Event) bool {
		return ev.Kind == client.EventMessage && ev.Name == name
	})
}
