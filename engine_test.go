package goRealtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/MrEthical07/goRealtime/protocol"
	"github.com/gorilla/websocket"
)

func TestAuthenticateSuccessRepliesRoleAndJoinsPersonalRoom(t *testing.T) {
	te := newTestEngine(t, nil)
	ws := te.dial(t)

	token, _, err := te.engine.IssueToken("t1")
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}
	send(t, ws, protocol.EventAuthenticate, protocol.AuthenticatePayload{Token: token})

	env := expectEvent(t, ws, protocol.EventAuthorizationSuccess)
	var p protocol.AuthorizationSuccessPayload
	if err := env.Bind(&p); err != nil {
		t.Fatalf("Bind failed: %v", err)
	}
	if p.Role != RoleTeacher {
		t.Fatalf("expected role teacher, got %q", p.Role)
	}
	if got := te.engine.RoomMembers(te.engine.PersonalRoom("t1")); got != 1 {
		t.Fatalf("expected personal room membership, got %d", got)
	}
	if got := te.engine.MetricsSnapshot().Counters[MetricAuthSuccess]; got != 1 {
		t.Fatalf("expected MetricAuthSuccess=1, got %d", got)
	}
}

func TestAuthenticateErrorTaxonomy(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, te *testEngine) string
		want  protocol.ErrorType
	}{
		{
			name:  "missing token",
			setup: func(*testing.T, *testEngine) string { return "" },
			want:  protocol.ErrorNoToken,
		},
		{
			name:  "garbage token",
			setup: func(*testing.T, *testEngine) string { return "not.a.jwt" },
			want:  protocol.ErrorInvalidToken,
		},
		{
			name: "expired token",
			setup: func(t *testing.T, te *testEngine) string {
				token, _, err := te.engine.IssueToken("t1")
				if err != nil {
					t.Fatalf("IssueToken failed: %v", err)
				}
				te.clock.Advance(16 * time.Minute)
				return token
			},
			want: protocol.ErrorTokenExpired,
		},
		{
			name: "unknown subject",
			setup: func(t *testing.T, te *testEngine) string {
				token, _, err := te.engine.IssueToken("nobody")
				if err != nil {
					t.Fatalf("IssueToken failed: %v", err)
				}
				return token
			},
			want: protocol.ErrorUserNotFound,
		},
		{
			name: "inactive principal",
			setup: func(t *testing.T, te *testEngine) string {
				token, _, err := te.engine.IssueToken("gone")
				if err != nil {
					t.Fatalf("IssueToken failed: %v", err)
				}
				return token
			},
			want: protocol.ErrorAccountInactive,
		},
		{
			name: "identity store down",
			setup: func(t *testing.T, te *testEngine) string {
				token, _, err := te.engine.IssueToken("t1")
				if err != nil {
					t.Fatalf("IssueToken failed: %v", err)
				}
				te.identity.fail(errors.New("connection refused"))
				return token
			},
			want: protocol.ErrorSystem,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			te := newTestEngine(t, nil)
			token := tc.setup(t, te)

			ws := te.dial(t)
			send(t, ws, protocol.EventAuthenticate, protocol.AuthenticatePayload{Token: token})
			expectAuthError(t, ws, tc.want)

			if got := te.engine.MetricsSnapshot().Counters[MetricAuthFailure]; got != 1 {
				t.Fatalf("expected MetricAuthFailure=1, got %d", got)
			}
		})
	}
}

func TestJoinRoomUnauthenticatedIsRejected(t *testing.T) {
	te := newTestEngine(t, nil)
	ws := te.dial(t)

	send(t, ws, protocol.EventJoinRoom, protocol.RoomPayload{Room: "admin_dashboard"})

	env := expectEvent(t, ws, protocol.EventRoomJoined)
	var p protocol.RoomJoinedPayload
	if err := env.Bind(&p); err != nil {
		t.Fatalf("Bind failed: %v", err)
	}
	if p.Success {
		t.Fatal("expected unauthenticated join to fail")
	}
	if p.Room != "admin_dashboard" {
		t.Fatalf("expected room admin_dashboard, got %q", p.Room)
	}
	if got := te.engine.RoomMembers("admin_dashboard"); got != 0 {
		t.Fatalf("expected no membership, got %d", got)
	}
	if got := te.engine.MetricsSnapshot().Counters[MetricRoomJoinDenied]; got != 1 {
		t.Fatalf("expected MetricRoomJoinDenied=1, got %d", got)
	}
}

func TestJoinRoomPolicies(t *testing.T) {
	te := newTestEngine(t, nil)

	teacher := te.dialAuthenticated(t, "t1")
	send(t, teacher, protocol.EventJoinRoom, protocol.RoomPayload{})
	var joined protocol.RoomJoinedPayload
	if err := expectEvent(t, teacher, protocol.EventRoomJoined).Bind(&joined); err != nil {
		t.Fatalf("Bind failed: %v", err)
	}
	if !joined.Success || joined.Room != protocol.DefaultRoom {
		t.Fatalf("expected default room join, got %+v", joined)
	}

	send(t, teacher, protocol.EventJoinRoom, protocol.RoomPayload{Room: "admin_dashboard"})
	if err := expectEvent(t, teacher, protocol.EventRoomJoined).Bind(&joined); err != nil {
		t.Fatalf("Bind failed: %v", err)
	}
	if joined.Success {
		t.Fatal("expected teacher to be denied admin_dashboard")
	}
	expectAuthError(t, teacher, protocol.ErrorPermissionDenied)

	send(t, teacher, protocol.EventJoinRoom, protocol.RoomPayload{Room: "unlisted"})
	if err := expectEvent(t, teacher, protocol.EventRoomJoined).Bind(&joined); err != nil {
		t.Fatalf("Bind failed: %v", err)
	}
	if joined.Success {
		t.Fatal("expected unlisted room to be denied by default policy")
	}
	expectAuthError(t, teacher, protocol.ErrorPermissionDenied)

	send(t, teacher, protocol.EventJoinRoom, protocol.RoomPayload{Room: te.engine.PersonalRoom("s1")})
	if err := expectEvent(t, teacher, protocol.EventRoomJoined).Bind(&joined); err != nil {
		t.Fatalf("Bind failed: %v", err)
	}
	if joined.Success {
		t.Fatal("expected foreign personal room to be denied")
	}
	expectAuthError(t, teacher, protocol.ErrorPermissionDenied)

	admin := te.dialAuthenticated(t, "a1")
	send(t, admin, protocol.EventJoinRoom, protocol.RoomPayload{Room: "admin_dashboard"})
	if err := expectEvent(t, admin, protocol.EventRoomJoined).Bind(&joined); err != nil {
		t.Fatalf("Bind failed: %v", err)
	}
	if !joined.Success {
		t.Fatal("expected admin to join admin_dashboard")
	}

	if got := te.engine.RoomMembers(protocol.DefaultRoom); got != 1 {
		t.Fatalf("expected 1 member in default room, got %d", got)
	}
	if got := te.engine.RoomMembers("admin_dashboard"); got != 1 {
		t.Fatalf("expected 1 member in admin_dashboard, got %d", got)
	}
}

func TestLeaveRoomRemovesMembership(t *testing.T) {
	te := newTestEngine(t, nil)
	ws := te.dialAuthenticated(t, "t1")

	send(t, ws, protocol.EventJoinRoom, protocol.RoomPayload{})
	expectEvent(t, ws, protocol.EventRoomJoined)

	send(t, ws, protocol.EventLeaveRoom, protocol.RoomPayload{})
	var left protocol.RoomLeftPayload
	if err := expectEvent(t, ws, protocol.EventRoomLeft).Bind(&left); err != nil {
		t.Fatalf("Bind failed: %v", err)
	}
	if !left.Success || left.Room != protocol.DefaultRoom {
		t.Fatalf("expected successful leave, got %+v", left)
	}
	if got := te.engine.RoomMembers(protocol.DefaultRoom); got != 0 {
		t.Fatalf("expected no members, got %d", got)
	}

	send(t, ws, protocol.EventLeaveRoom, protocol.RoomPayload{})
	if err := expectEvent(t, ws, protocol.EventRoomLeft).Bind(&left); err != nil {
		t.Fatalf("Bind failed: %v", err)
	}
	if left.Success {
		t.Fatal("expected second leave to report success=false")
	}
}

func TestBroadcastReachesMembersOnly(t *testing.T) {
	te := newTestEngine(t, nil)

	member := te.dialAuthenticated(t, "t1")
	send(t, member, protocol.EventJoinRoom, protocol.RoomPayload{})
	expectEvent(t, member, protocol.EventRoomJoined)

	outsider := te.dialAuthenticated(t, "s1")

	payload := json.RawMessage(`{"room_id":7,"status":"occupied"}`)
	n, err := te.engine.Broadcast(protocol.DefaultRoom, "room_status_update", payload)
	if err != nil {
		t.Fatalf("Broadcast failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 delivery, got %d", n)
	}

	env := expectEvent(t, member, "room_status_update")
	if string(env.Data) != string(payload) {
		t.Fatalf("payload rewritten: %s", env.Data)
	}

	send(t, outsider, protocol.EventCheckPermissions, nil)
	expectEvent(t, outsider, protocol.EventPermissionsResult)

	if got := te.engine.MetricsSnapshot().Counters[MetricBroadcastDelivered]; got != 1 {
		t.Fatalf("expected MetricBroadcastDelivered=1, got %d", got)
	}
}

func TestBroadcastRejectsProtocolEvents(t *testing.T) {
	te := newTestEngine(t, nil)

	if _, err := te.engine.Broadcast(protocol.DefaultRoom, protocol.EventAuthorizationError, nil); !errors.Is(err, ErrReservedEvent) {
		t.Fatalf("expected ErrReservedEvent, got %v", err)
	}
	if _, err := te.engine.Broadcast("", "room_status_update", nil); !errors.Is(err, ErrEmptyRoom) {
		t.Fatalf("expected ErrEmptyRoom, got %v", err)
	}
}

func TestNotifyTargetsSubject(t *testing.T) {
	te := newTestEngine(t, nil)
	student := te.dialAuthenticated(t, "s1")
	te.dialAuthenticated(t, "t1")

	n, err := te.engine.Notify("s1", "notification", map[string]string{"text": "exam moved"})
	if err != nil {
		t.Fatalf("Notify failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 delivery, got %d", n)
	}

	var body map[string]string
	if err := expectEvent(t, student, "notification").Bind(&body); err != nil {
		t.Fatalf("Bind failed: %v", err)
	}
	if body["text"] != "exam moved" {
		t.Fatalf("unexpected payload %v", body)
	}
}

func TestPrivilegedMessageAfterExpiryGetsTokenExpired(t *testing.T) {
	te := newTestEngine(t, nil)
	ws := te.dialAuthenticated(t, "t1")

	te.clock.Advance(16 * time.Minute)

	send(t, ws, protocol.EventJoinRoom, protocol.RoomPayload{})
	expectEvent(t, ws, protocol.EventTokenExpired)

	if got := te.engine.RoomMembers(protocol.DefaultRoom); got != 0 {
		t.Fatalf("expected join to be dropped, got %d members", got)
	}
	if got := te.engine.MetricsSnapshot().Counters[MetricTokenExpired]; got != 1 {
		t.Fatalf("expected MetricTokenExpired=1, got %d", got)
	}

	send(t, ws, protocol.EventLeaveRoom, protocol.RoomPayload{})
	expectEvent(t, ws, protocol.EventRoomLeft)
}

func TestNearExpiryHintIsPushed(t *testing.T) {
	te := newTestEngine(t, func(c *Config) {
		c.JWT.TTL = 15 * time.Minute
		c.Connection.NearExpiryLead = 2 * time.Minute
	})
	ws := te.dialAuthenticated(t, "t1")

	te.clock.Advance(13*time.Minute + time.Second)

	expectEvent(t, ws, protocol.EventTokenNearExpiry)
	waitUntil(t, "near expiry metric", func() bool {
		return te.engine.MetricsSnapshot().Counters[MetricTokenNearExpiry] == 1
	})
}

func TestRenewTokenExtendsAuthentication(t *testing.T) {
	te := newTestEngine(t, nil)
	ws := te.dialAuthenticated(t, "t1")

	te.clock.Advance(5 * time.Minute)
	fresh, _, err := te.engine.IssueToken("t1")
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}
	send(t, ws, protocol.EventRenewToken, protocol.RenewTokenPayload{NewToken: fresh})
	expectEvent(t, ws, protocol.EventTokenRenewed)

	// Past the first token's expiry, inside the renewed one.
	te.clock.Advance(11 * time.Minute)
	send(t, ws, protocol.EventJoinRoom, protocol.RoomPayload{})
	var joined protocol.RoomJoinedPayload
	if err := expectEvent(t, ws, protocol.EventRoomJoined).Bind(&joined); err != nil {
		t.Fatalf("Bind failed: %v", err)
	}
	if !joined.Success {
		t.Fatal("expected join to succeed on the renewed token")
	}
	if got := te.engine.MetricsSnapshot().Counters[MetricRenewSuccess]; got != 1 {
		t.Fatalf("expected MetricRenewSuccess=1, got %d", got)
	}
}

func TestRenewTokenRejections(t *testing.T) {
	te := newTestEngine(t, nil)

	unauth := te.dial(t)
	token, _, err := te.engine.IssueToken("t1")
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}
	send(t, unauth, protocol.EventRenewToken, protocol.RenewTokenPayload{NewToken: token})
	expectEvent(t, unauth, protocol.EventTokenRenewalFailed)

	ws := te.dialAuthenticated(t, "t1")
	other, _, err := te.engine.IssueToken("a1")
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}
	send(t, ws, protocol.EventRenewToken, protocol.RenewTokenPayload{NewToken: other})
	expectEvent(t, ws, protocol.EventTokenRenewalFailed)

	send(t, ws, protocol.EventRenewToken, protocol.RenewTokenPayload{NewToken: "garbage"})
	expectEvent(t, ws, protocol.EventTokenRenewalFailed)

	// Still authenticated as t1.
	send(t, ws, protocol.EventJoinRoom, protocol.RoomPayload{})
	var joined protocol.RoomJoinedPayload
	if err := expectEvent(t, ws, protocol.EventRoomJoined).Bind(&joined); err != nil {
		t.Fatalf("Bind failed: %v", err)
	}
	if !joined.Success {
		t.Fatal("expected failed renewals to keep the authentication")
	}
}

func TestRenewWithDeactivatedPrincipalRevokesConnection(t *testing.T) {
	te := newTestEngine(t, nil)
	ws := te.dialAuthenticated(t, "t1")
	send(t, ws, protocol.EventJoinRoom, protocol.RoomPayload{})
	expectEvent(t, ws, protocol.EventRoomJoined)

	te.identity.set(Principal{SubjectID: "t1", Role: RoleTeacher, IsActive: false})
	fresh, _, err := te.engine.IssueToken("t1")
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}
	send(t, ws, protocol.EventRenewToken, protocol.RenewTokenPayload{NewToken: fresh})

	expectAuthError(t, ws, protocol.ErrorAccountInactive)
	expectClose(t, ws, protocol.CloseCredentialRevoked)

	waitUntil(t, "memberships dropped", func() bool {
		return te.engine.RoomMembers(protocol.DefaultRoom) == 0 &&
			te.engine.RoomMembers(te.engine.PersonalRoom("t1")) == 0
	})
}

func TestRenewWithRoleChangeDropsForbiddenRooms(t *testing.T) {
	te := newTestEngine(t, nil)
	ws := te.dialAuthenticated(t, "t1")
	send(t, ws, protocol.EventJoinRoom, protocol.RoomPayload{})
	expectEvent(t, ws, protocol.EventRoomJoined)

	te.identity.set(Principal{SubjectID: "t1", Role: RoleStudent, IsActive: true})
	fresh, _, err := te.engine.IssueToken("t1")
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}
	send(t, ws, protocol.EventRenewToken, protocol.RenewTokenPayload{NewToken: fresh})

	var left protocol.RoomLeftPayload
	if err := expectEvent(t, ws, protocol.EventRoomLeft).Bind(&left); err != nil {
		t.Fatalf("Bind failed: %v", err)
	}
	if left.Room != protocol.DefaultRoom {
		t.Fatalf("expected %s to be dropped, got %q", protocol.DefaultRoom, left.Room)
	}
	expectEvent(t, ws, protocol.EventTokenRenewed)

	if got := te.engine.RoomMembers(te.engine.PersonalRoom("t1")); got != 1 {
		t.Fatalf("expected personal room to survive, got %d", got)
	}
}

func TestDisconnectSubjectClosesWithServerForced(t *testing.T) {
	te := newTestEngine(t, nil)
	ws := te.dialAuthenticated(t, "s1")
	te.dialAuthenticated(t, "t1")

	if n := te.engine.Disconnect("s1"); n != 1 {
		t.Fatalf("expected 1 connection closed, got %d", n)
	}
	expectClose(t, ws, protocol.CloseServerForced)

	waitUntil(t, "connection unregistered", func() bool {
		return te.engine.ActiveConnections() == 1
	})
	if got := te.engine.MetricsSnapshot().Counters[MetricForcedDisconnect]; got != 1 {
		t.Fatalf("expected MetricForcedDisconnect=1, got %d", got)
	}
}

func TestAuthTimeoutClosesUnauthenticatedConnection(t *testing.T) {
	te := newTestEngine(t, func(c *Config) {
		c.Connection.AuthTimeout = 10 * time.Second
	})
	ws := te.dial(t)
	waitUntil(t, "connection registered", func() bool {
		return te.engine.ActiveConnections() == 1
	})

	te.clock.Advance(11 * time.Second)
	expectClose(t, ws, protocol.CloseServerForced)
}

func TestHandleEventGuardsPrivilegedIntents(t *testing.T) {
	te := newTestEngine(t, nil)

	calls := make(chan Request, 4)
	err := te.engine.HandleEvent("update_room_status", RequireTeacherOrAdmin(), func(_ context.Context, req Request) error {
		calls <- req
		return nil
	})
	if err != nil {
		t.Fatalf("HandleEvent failed: %v", err)
	}
	err = te.engine.HandleEvent("delete_exam", nil, func(context.Context, Request) error {
		return fmt.Errorf("%w: not the exam owner", ErrPermissionDenied)
	})
	if err != nil {
		t.Fatalf("HandleEvent failed: %v", err)
	}

	anon := te.dial(t)
	send(t, anon, "update_room_status", map[string]int{"room_id": 7})
	expectAuthError(t, anon, protocol.ErrorPermissionDenied)

	student := te.dialAuthenticated(t, "s1")
	send(t, student, "update_room_status", map[string]int{"room_id": 7})
	expectAuthError(t, student, protocol.ErrorPermissionDenied)

	teacher := te.dialAuthenticated(t, "t1")
	send(t, teacher, "update_room_status", map[string]int{"room_id": 7})
	select {
	case req := <-calls:
		if req.Principal.SubjectID != "t1" || req.Event != "update_room_status" {
			t.Fatalf("unexpected request %+v", req)
		}
		var body map[string]int
		if err := req.Bind(&body); err != nil || body["room_id"] != 7 {
			t.Fatalf("unexpected payload %s (%v)", req.Data, err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler was not called")
	}

	send(t, teacher, "delete_exam", nil)
	expectAuthError(t, teacher, protocol.ErrorPermissionDenied)

	if len(calls) != 0 {
		t.Fatalf("expected denied intents to skip the handler, got %d calls", len(calls))
	}
}

func TestHandleEventRejectsReservedAndDuplicateNames(t *testing.T) {
	te := newTestEngine(t, nil)
	noop := func(context.Context, Request) error { return nil }

	if err := te.engine.HandleEvent(protocol.EventJoinRoom, nil, noop); !errors.Is(err, ErrReservedEvent) {
		t.Fatalf("expected ErrReservedEvent, got %v", err)
	}
	if err := te.engine.HandleEvent("ping_exam", nil, noop); err != nil {
		t.Fatalf("HandleEvent failed: %v", err)
	}
	if err := te.engine.HandleEvent("ping_exam", nil, noop); !errors.Is(err, ErrHandlerExists) {
		t.Fatalf("expected ErrHandlerExists, got %v", err)
	}
}

func TestCheckPermissionsReturnsRoleSnapshot(t *testing.T) {
	te := newTestEngine(t, nil)
	ws := te.dialAuthenticated(t, "t1")

	send(t, ws, protocol.EventCheckPermissions, nil)
	var res protocol.PermissionsResultPayload
	if err := expectEvent(t, ws, protocol.EventPermissionsResult).Bind(&res); err != nil {
		t.Fatalf("Bind failed: %v", err)
	}
	if res.Role != RoleTeacher {
		t.Fatalf("expected teacher role, got %q", res.Role)
	}
	if !res.Permissions["exam.write"] || res.Permissions["room.manage"] {
		t.Fatalf("unexpected permissions %v", res.Permissions)
	}
	if len(res.Permissions) != 3 {
		t.Fatalf("expected every registered permission, got %v", res.Permissions)
	}
}

func TestCloseEndsConnectionsAndRejectsBroadcasts(t *testing.T) {
	te := newTestEngine(t, nil)
	ws := te.dialAuthenticated(t, "t1")

	te.engine.Close()
	expectClose(t, ws, websocket.CloseGoingAway)

	if got := te.engine.ActiveConnections(); got != 0 {
		t.Fatalf("expected 0 active connections, got %d", got)
	}
	if _, err := te.engine.Broadcast(protocol.DefaultRoom, "room_status_update", nil); !errors.Is(err, ErrEngineClosed) {
		t.Fatalf("expected ErrEngineClosed, got %v", err)
	}
	te.engine.Close()
}

func TestClassifyAuthError(t *testing.T) {
	cases := []struct {
		err  error
		want protocol.ErrorType
	}{
		{ErrNoToken, protocol.ErrorNoToken},
		{fmt.Errorf("lookup: %w", ErrPrincipalNotFound), protocol.ErrorUserNotFound},
		{ErrPrincipalInactive, protocol.ErrorAccountInactive},
		{fmt.Errorf("%w: timeout", ErrIdentityUnavailable), protocol.ErrorSystem},
		{ErrSubjectMismatch, protocol.ErrorInvalidToken},
		{ErrPermissionDenied, protocol.ErrorPermissionDenied},
		{errors.New("anything else"), protocol.ErrorSystem},
	}
	for _, tc := range cases {
		if got := ClassifyAuthError(tc.err); got != tc.want {
			t.Fatalf("ClassifyAuthError(%v) = %s, want %s", tc.err, got, tc.want)
		}
	}
	if got := ClassifyAuthError(nil); got != "" {
		t.Fatalf("expected empty type for nil, got %s", got)
	}
}
