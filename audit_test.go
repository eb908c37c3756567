package goRealtime

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/MrEthical07/goRealtime/jwt"
	"github.com/MrEthical07/goRealtime/protocol"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type blockingSink struct {
	release chan struct{}
	seen    chan AuditEvent
}

func (s *blockingSink) Emit(_ context.Context, event AuditEvent) {
	<-s.release
	s.seen <- event
}

func TestAuditDisabledReturnsNilDispatcher(t *testing.T) {
	d := newAuditDispatcher(AuditConfig{Enabled: false}, NoOpSink{})
	if d != nil {
		t.Fatal("expected nil dispatcher when audit is disabled")
	}
	d.Emit(context.Background(), AuditEvent{EventType: "x"})
	d.Close()
	if d.Dropped() != 0 {
		t.Fatal("nil dispatcher must not count drops")
	}
}

func TestAuditDropIfFullCountsDrops(t *testing.T) {
	sink := &blockingSink{release: make(chan struct{}), seen: make(chan AuditEvent, 16)}
	d := newAuditDispatcher(AuditConfig{Enabled: true, BufferSize: 1, DropIfFull: true}, sink)

	for i := 0; i < 10; i++ {
		d.Emit(context.Background(), AuditEvent{EventType: fmt.Sprintf("e%d", i)})
	}
	if d.Dropped() == 0 {
		t.Fatal("expected dropped events with a blocked sink")
	}

	close(sink.release)
	d.Close()
}

func TestAuditBlockingEmitHonorsContext(t *testing.T) {
	sink := &blockingSink{release: make(chan struct{}), seen: make(chan AuditEvent, 16)}
	d := newAuditDispatcher(AuditConfig{Enabled: true, BufferSize: 1, DropIfFull: false}, sink)

	// one event parked in the sink, one in the buffer
	d.Emit(context.Background(), AuditEvent{EventType: "a"})
	d.Emit(context.Background(), AuditEvent{EventType: "b"})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		d.Emit(ctx, AuditEvent{EventType: "c"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("blocking Emit ignored context cancellation")
	}

	close(sink.release)
	d.Close()
	if d.Dropped() != 0 {
		t.Fatal("blocking mode must not count drops")
	}
}

func TestAuditCloseFlushesQueue(t *testing.T) {
	sink := NewChannelSink(64)
	d := newAuditDispatcher(AuditConfig{Enabled: true, BufferSize: 64, DropIfFull: true}, sink)

	for i := 0; i < 20; i++ {
		d.Emit(context.Background(), AuditEvent{EventType: "room_join"})
	}
	d.Close()

	if got := len(sink.Events()); got != 20 {
		t.Fatalf("expected 20 flushed events, got %d", got)
	}

	d.Emit(context.Background(), AuditEvent{EventType: "late"})
	if got := len(sink.Events()); got != 20 {
		t.Fatalf("expected Emit after Close to be ignored, got %d events", got)
	}
}

func TestJSONWriterSinkWritesLines(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONWriterSink(&buf)

	sink.Emit(context.Background(), AuditEvent{EventType: "auth_success", SubjectID: "t1", Success: true})
	sink.Emit(context.Background(), AuditEvent{EventType: "auth_failure", Error: "token_expired"})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	var ev AuditEvent
	if err := json.Unmarshal([]byte(lines[1]), &ev); err != nil {
		t.Fatalf("invalid json line: %v", err)
	}
	if ev.EventType != "auth_failure" || ev.Error != "token_expired" {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestZapSinkLevels(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	sink := NewZapSink(zap.New(core))

	sink.Emit(context.Background(), AuditEvent{EventType: "room_join", Room: "room_management", Success: true})
	sink.Emit(context.Background(), AuditEvent{EventType: "room_join_denied", Error: "permission_denied"})

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("expected 2 log entries, got %d", len(entries))
	}
	if entries[0].Level != zapcore.InfoLevel || entries[1].Level != zapcore.WarnLevel {
		t.Fatalf("unexpected levels %s %s", entries[0].Level, entries[1].Level)
	}
	if entries[0].LoggerName != "audit" {
		t.Fatalf("expected logger name audit, got %q", entries[0].LoggerName)
	}
	if entries[1].ContextMap()["error"] != "permission_denied" {
		t.Fatalf("expected error field, got %v", entries[1].ContextMap())
	}
}

func TestAuditErrorCodeMapping(t *testing.T) {
	cases := []struct {
		err  error
		want AuditErrorCode
	}{
		{nil, ""},
		{ErrNoToken, auditErrNoToken},
		{fmt.Errorf("%w: exp", jwt.ErrTokenExpired), auditErrTokenExpired},
		{fmt.Errorf("%w: sig", jwt.ErrTokenInvalid), auditErrInvalidToken},
		{ErrPrincipalInactive, auditErrAccountInactive},
		{fmt.Errorf("%w: redis down", ErrIdentityUnavailable), auditErrUnavailable},
		{errors.New("boom"), auditErrInternal},
	}
	for _, tc := range cases {
		if got := auditErrorCode(tc.err); got != tc.want {
			t.Fatalf("auditErrorCode(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}

func TestEngineAuditsAuthFailure(t *testing.T) {
	sink := NewChannelSink(64)
	te := newTestEngine(t, func(c *Config) {
		c.Audit.Enabled = true
		c.Audit.DropIfFull = false
	}, func(b *Builder) {
		b.WithAuditSink(sink)
	})

	ws := te.dial(t)
	send(t, ws, protocol.EventAuthenticate, protocol.AuthenticatePayload{Token: "garbage"})
	expectAuthError(t, ws, protocol.ErrorInvalidToken)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-sink.Events():
			if ev.EventType != auditEventAuthFailure {
				continue
			}
			if ev.Success || ev.Error != string(auditErrInvalidToken) {
				t.Fatalf("unexpected audit event %+v", ev)
			}
			if ev.ConnID == "" || ev.IP == "" {
				t.Fatalf("expected connection id and ip, got %+v", ev)
			}
			return
		case <-deadline:
			t.Fatal("auth_failure audit event not emitted")
		}
	}
}
