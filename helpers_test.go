package goRealtime

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/goRealtime/protocol"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
)

type memIdentity struct {
	mu         sync.Mutex
	principals map[string]Principal
	err        error
	lookups    int
}

func newMemIdentity(ps ...Principal) *memIdentity {
	m := &memIdentity{principals: make(map[string]Principal)}
	for _, p := range ps {
		m.principals[p.SubjectID] = p
	}
	return m
}

func (m *memIdentity) LookupPrincipal(_ context.Context, subject string) (Principal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookups++
	if m.err != nil {
		return Principal{}, m.err
	}
	p, ok := m.principals[subject]
	if !ok {
		return Principal{}, ErrPrincipalNotFound
	}
	return p, nil
}

func (m *memIdentity) set(p Principal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.principals[p.SubjectID] = p
}

func (m *memIdentity) fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

type testEngine struct {
	engine   *Engine
	srv      *httptest.Server
	identity *memIdentity
	clock    clockwork.FakeClock
}

func defaultPrincipals() []Principal {
	return []Principal{
		{SubjectID: "t1", Role: RoleTeacher, IsActive: true, DisplayName: "Teacher One"},
		{SubjectID: "a1", Role: RoleAdmin, IsActive: true},
		{SubjectID: "s1", Role: RoleStudent, IsActive: true},
		{SubjectID: "gone", Role: RoleStudent, IsActive: false},
	}
}

func newTestEngine(t *testing.T, mutate func(*Config), extra ...func(*Builder)) *testEngine {
	t.Helper()

	cfg := DefaultConfig()
	cfg.Metrics.Enabled = true
	if mutate != nil {
		mutate(&cfg)
	}

	identity := newMemIdentity(defaultPrincipals()...)
	clock := clockwork.NewFakeClockAt(time.Now())

	b := New().
		WithConfig(cfg).
		WithIdentityStore(identity).
		WithClock(clock).
		WithPermissions([]string{"exam.read", "exam.write", "room.manage"}).
		WithRoles(map[string][]string{
			RoleAdmin:   {"exam.read", "exam.write", "room.manage"},
			RoleTeacher: {"exam.read", "exam.write"},
			RoleStudent: {"exam.read"},
		})
	for _, fn := range extra {
		fn(b)
	}

	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	srv := httptest.NewServer(engine)
	t.Cleanup(func() {
		engine.Close()
		srv.Close()
	})

	return &testEngine{engine: engine, srv: srv, identity: identity, clock: clock}
}

func (te *testEngine) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(te.srv.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func (te *testEngine) dialAuthenticated(t *testing.T, subject string) *websocket.Conn {
	t.Helper()
	ws := te.dial(t)
	token, _, err := te.engine.IssueToken(subject)
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}
	send(t, ws, protocol.EventAuthenticate, protocol.AuthenticatePayload{Token: token})
	expectEvent(t, ws, protocol.EventAuthorizationSuccess)
	return ws
}

func send(t *testing.T, ws *websocket.Conn, event string, payload any) {
	t.Helper()
	frame, err := protocol.Encode(event, payload)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	_ = ws.SetWriteDeadline(time.Now().Add(2 * time.Second))
	if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
		t.Fatalf("write failed: %v", err)
	}
}

func readEnvelope(t *testing.T, ws *websocket.Conn) protocol.Envelope {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, frame, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	env, err := protocol.Decode(frame)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	return env
}

// expectEvent returns the next frame, skipping token_near_expiry hints
// unless that is the expected event.
func expectEvent(t *testing.T, ws *websocket.Conn, event string) protocol.Envelope {
	t.Helper()
	for {
		env := readEnvelope(t, ws)
		if env.Event == protocol.EventTokenNearExpiry && event != protocol.EventTokenNearExpiry {
			continue
		}
		if env.Event != event {
			t.Fatalf("expected %s, got %s %s", event, env.Event, env.Data)
		}
		return env
	}
}

func expectAuthError(t *testing.T, ws *websocket.Conn, want protocol.ErrorType) {
	t.Helper()
	env := expectEvent(t, ws, protocol.EventAuthorizationError)
	var p protocol.AuthorizationErrorPayload
	if err := env.Bind(&p); err != nil {
		t.Fatalf("Bind failed: %v", err)
	}
	if p.ErrorType != want {
		t.Fatalf("expected error_type %s, got %s (%s)", want, p.ErrorType, p.Message)
	}
}

func expectClose(t *testing.T, ws *websocket.Conn, code int) {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, frame, err := ws.ReadMessage()
		if err == nil {
			env, _ := protocol.Decode(frame)
			if env.Event == protocol.EventTokenNearExpiry {
				continue
			}
			t.Fatalf("expected close %d, got frame %s", code, frame)
		}
		var ce *websocket.CloseError
		if !errors.As(err, &ce) {
			t.Fatalf("expected close error, got %v", err)
		}
		if ce.Code != code {
			t.Fatalf("expected close code %d, got %d", code, ce.Code)
		}
		return
	}
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
