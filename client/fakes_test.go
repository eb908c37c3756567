package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/goRealtime/protocol"
	"github.com/jonboulle/clockwork"
)

type fakeConn struct {
	inbound chan []byte
	writes  chan protocol.Envelope

	closeOnce sync.Once
	closed    chan struct{}
	mu        sync.Mutex
	closeErr  error
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan []byte, 64),
		writes:  make(chan protocol.Envelope, 64),
		closed:  make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case data := <-c.inbound:
		return data, nil
	case <-c.closed:
		c.mu.Lock()
		defer c.mu.Unlock()
		return nil, c.closeErr
	}
}

func (c *fakeConn) WriteMessage(data []byte) error {
	select {
	case <-c.closed:
		return errors.New("write on closed connection")
	default:
	}
	env, err := protocol.Decode(data)
	if err != nil {
		return err
	}
	c.writes <- env
	return nil
}

func (c *fakeConn) Close() error {
	c.shutdown(&CloseError{Code: 1000})
	return nil
}

func (c *fakeConn) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closeErr = err
		c.mu.Unlock()
		close(c.closed)
	})
}

// push delivers a server frame to the session.
func (c *fakeConn) push(t *testing.T, event string, payload any) {
	t.Helper()
	frame, err := protocol.Encode(event, payload)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	c.inbound <- frame
}

func (c *fakeConn) expectWrite(t *testing.T, event string) protocol.Envelope {
	t.Helper()
	select {
	case env := <-c.writes:
		if env.Event != event {
			t.Fatalf("expected write %s, got %s %s", event, env.Event, env.Data)
		}
		return env
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for write %s", event)
	}
	return protocol.Envelope{}
}

func (c *fakeConn) expectNoWrite(t *testing.T) {
	t.Helper()
	select {
	case env := <-c.writes:
		t.Fatalf("unexpected write %s %s", env.Event, env.Data)
	case <-time.After(30 * time.Millisecond):
	}
}

func (c *fakeConn) expectAuthenticate(t *testing.T, token string) {
	t.Helper()
	env := c.expectWrite(t, protocol.EventAuthenticate)
	var p protocol.AuthenticatePayload
	if err := env.Bind(&p); err != nil {
		t.Fatalf("Bind failed: %v", err)
	}
	if p.Token != token {
		t.Fatalf("expected token %q, got %q", token, p.Token)
	}
}

type fakeDialer struct {
	mu       sync.Mutex
	dials    int
	failNext int
	conns    chan *fakeConn
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{conns: make(chan *fakeConn, 16)}
}

func (d *fakeDialer) Dial(context.Context, string, http.Header) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.failNext > 0 {
		d.failNext--
		return nil, errors.New("connection refused")
	}
	c := newFakeConn()
	d.conns <- c
	return c, nil
}

func (d *fakeDialer) failNextDials(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failNext = n
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) next(t *testing.T) *fakeConn {
	t.Helper()
	select {
	case c := <-d.conns:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dial")
	}
	return nil
}

type fakeIssuer struct {
	mu    sync.Mutex
	clock clockwork.Clock
	ttl   time.Duration
	calls int
	err   error
	// fixed, when set, is returned as the expiry of every lease.
	fixed time.Time
	// gate, when set, blocks Renew until it is closed.
	gate chan struct{}
}

func newFakeIssuer(clock clockwork.Clock, ttl time.Duration) *fakeIssuer {
	return &fakeIssuer{clock: clock, ttl: ttl}
}

func (i *fakeIssuer) Renew(ctx context.Context) (Lease, error) {
	i.mu.Lock()
	i.calls++
	n, gate, err, fixed := i.calls, i.gate, i.err, i.fixed
	i.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return Lease{}, ctx.Err()
		}
	}
	if err != nil {
		return Lease{}, err
	}
	exp := i.clock.Now().Add(i.ttl)
	if !fixed.IsZero() {
		exp = fixed
	}
	return Lease{Token: fmt.Sprintf("renewed-%d", n), ExpiresAt: exp}, nil
}

func (i *fakeIssuer) callCount() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.calls
}

func (i *fakeIssuer) setErr(err error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.err = err
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) record(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) count(kind EventKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

// reconnectAttempts lists the attempt numbers of every transition into
// reconnecting, in order.
func (r *recorder) reconnectAttempts() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []int
	for _, ev := range r.events {
		if ev.Kind == EventStateChanged && ev.State == StateReconnecting {
			out = append(out, ev.Attempt)
		}
	}
	return out
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitState(t *testing.T, s *Session, want State) {
	t.Helper()
	waitUntil(t, "state "+want.String(), func() bool { return s.State() == want })
}
