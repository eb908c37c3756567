package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/MrEthical07/goRealtime/protocol"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// Event is delivered to subscribers for every transition, error and
// server push.
type Event struct {
	Kind     EventKind
	State    State
	Previous State

	ErrorMessage string
	ErrorType    protocol.ErrorType
	Failure      Failure

	Room    string
	Name    string
	Data    json.RawMessage
	Attempt int
}

// Snapshot is a consistent copy of a session's observable state.
type Snapshot struct {
	State             State
	ErrorMessage      string
	ReconnectAttempts int
	ManualDisconnect  bool
	Role              string
	Rooms             []string
	HasToken          bool
}

type outbound struct {
	event string
	frame []byte
}

// Session is one client connection to a realtime server. The zero value is
// not usable; create sessions with NewSession.
type Session struct {
	cfg    Config
	logger *zap.Logger
	clock  clockwork.Clock
	dialer Dialer
	tokens *TokenScheduler

	mu            sync.Mutex
	state         State
	errMsg        string
	gen           uint64
	conn          Conn
	manual        bool
	closed        bool
	reconnect     *reconnector
	systemRetries int

	role    string
	rooms   map[string]struct{}
	desired map[string]struct{}

	// awaitingToken is set while the handshake waits for a renewal.
	awaitingToken bool
	authRetried   bool
	// replayPending is set by a token_expired hint; the last emit is
	// re-sent once the renewed token is pushed.
	replayPending bool
	lastEmit      *outbound

	pending   []Event
	subs      map[int]func(Event)
	nextSub   int
	deliverMu sync.Mutex
}

// NewSession returns a disconnected session. The issuer supplies tokens
// whenever the session has none or its token nears expiry.
func NewSession(cfg Config, dialer Dialer, issuer Issuer) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if issuer == nil {
		return nil, ErrNoIssuer
	}
	if dialer == nil {
		dialer = WebsocketDialer{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}

	s := &Session{
		cfg:       cfg,
		logger:    cfg.Logger.Named("session"),
		clock:     cfg.Clock,
		dialer:    dialer,
		reconnect: newReconnector(cfg.ReconnectBaseDelay, cfg.MaxReconnectAttempts),
		rooms:     make(map[string]struct{}),
		desired:   make(map[string]struct{}),
		subs:      make(map[int]func(Event)),
	}

	scfg := cfg.schedulerConfig()
	scfg.OnRenewed = s.onTokenRenewed
	scfg.OnRenewalFailed = s.onRenewalFailed
	tokens, err := NewTokenScheduler(issuer, scfg)
	if err != nil {
		return nil, err
	}
	s.tokens = tokens
	return s, nil
}

// Tokens returns the session's token scheduler.
func (s *Session) Tokens() *TokenScheduler {
	return s.tokens
}

// SetToken hands the session a token obtained at login.
func (s *Session) SetToken(lease Lease) error {
	return s.tokens.Initialize(lease.Token, lease.ExpiresAt)
}

// Subscribe registers fn for every session event and returns a function
// that removes it.
func (s *Session) Subscribe(fn func(Event)) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// Connect starts a connection attempt and returns without waiting for it.
// It is a no-op while connecting, connected, authenticated or inside a
// reconnect cycle.
func (s *Session) Connect() error {
	s.mu.Lock()
	defer s.unlock()

	if s.closed {
		return ErrSessionClosed
	}
	switch s.state {
	case StateConnecting, StateConnected, StateAuthenticated, StateReconnecting:
		return nil
	}

	s.manual = false
	s.errMsg = ""
	s.reconnect.reset()
	s.systemRetries = 0
	s.attemptLocked()
	return nil
}

// Disconnect closes the connection and cancels every timer, including the
// token renewal schedule. The session can be connected again.
func (s *Session) Disconnect() {
	s.mu.Lock()
	defer s.unlock()

	s.manual = true
	s.teardownLocked()
	s.reconnect.reset()
	s.systemRetries = 0
	s.tokens.Clear()
	s.errMsg = ""
	s.setStateLocked(StateDisconnected, 0)
}

// Close disconnects and releases the session for good.
func (s *Session) Close() {
	s.Disconnect()

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.tokens.Stop()
}

// Emit sends an application event. It returns false, writing nothing,
// unless the session is authenticated.
func (s *Session) Emit(event string, payload any) bool {
	if protocol.IsControlEvent(event) {
		return false
	}

	s.mu.Lock()
	defer s.unlock()

	if s.state != StateAuthenticated || s.conn == nil {
		return false
	}
	frame, err := protocol.Encode(event, payload)
	if err != nil {
		s.logger.Warn("emit encode failed", zap.String("event", event), zap.Error(err))
		return false
	}
	if !s.writeLocked(frame) {
		return false
	}
	s.lastEmit = &outbound{event: event, frame: frame}
	return true
}

// JoinRoom asks to join room. Membership is recorded only when the server
// acknowledges; the room is re-requested after every reconnect.
func (s *Session) JoinRoom(room string) bool {
	if room == "" {
		room = protocol.DefaultRoom
	}

	s.mu.Lock()
	defer s.unlock()

	s.desired[room] = struct{}{}
	if s.state != StateAuthenticated {
		return false
	}
	return s.sendLocked(protocol.EventJoinRoom, protocol.RoomPayload{Room: room})
}

// LeaveRoom asks to leave room and stops re-requesting it.
func (s *Session) LeaveRoom(room string) bool {
	if room == "" {
		room = protocol.DefaultRoom
	}

	s.mu.Lock()
	defer s.unlock()

	delete(s.desired, room)
	if s.state != StateAuthenticated {
		return false
	}
	return s.sendLocked(protocol.EventLeaveRoom, protocol.RoomPayload{Room: room})
}

// CheckPermissions requests a permissions_result snapshot.
func (s *Session) CheckPermissions() bool {
	s.mu.Lock()
	defer s.unlock()

	if s.state != StateAuthenticated {
		return false
	}
	return s.sendLocked(protocol.EventCheckPermissions, nil)
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Role returns the role granted by the last successful handshake.
func (s *Session) Role() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.role
}

// Rooms returns the server-acknowledged rooms, sorted.
func (s *Session) Rooms() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedKeys(s.rooms)
}

// Snapshot returns the observable state in one consistent read.
func (s *Session) Snapshot() Snapshot {
	_, hasToken := s.tokens.Current()

	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		State:             s.state,
		ErrorMessage:      s.errMsg,
		ReconnectAttempts: s.reconnect.attempt,
		ManualDisconnect:  s.manual,
		Role:              s.role,
		Rooms:             sortedKeys(s.rooms),
		HasToken:          hasToken,
	}
}

// attemptLocked is the single entry point for initial connects and
// reconnect ticks.
func (s *Session) attemptLocked() {
	s.gen++
	gen := s.gen
	s.setStateLocked(StateConnecting, s.reconnect.attempt)
	go s.dial(gen)
}

func (s *Session) dial(gen uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.DialTimeout)
	conn, err := s.dialer.Dial(ctx, s.cfg.URL, s.cfg.Header)
	cancel()

	s.mu.Lock()
	defer s.unlock()

	if gen != s.gen || s.closed {
		if conn != nil {
			_ = conn.Close()
		}
		return
	}

	if err != nil {
		s.logger.Warn("dial failed", zap.Int("attempt", s.reconnect.attempt), zap.Error(err))
		if s.reconnect.inCycle() {
			s.scheduleReconnectLocked(fmt.Sprintf("connect failed: %v", err))
			return
		}
		s.failLocked(FailureNetwork, "", fmt.Sprintf("connect failed: %v", err))
		return
	}

	s.conn = conn
	s.reconnect.reset()
	s.authRetried = false
	s.awaitingToken = false
	s.replayPending = false
	s.setStateLocked(StateConnected, 0)
	go s.readLoop(gen, conn)
	s.authenticateLocked()
}

func (s *Session) readLoop(gen uint64, conn Conn) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			s.onTransportClosed(gen, err)
			return
		}
		s.onFrame(gen, data)
	}
}

func (s *Session) onFrame(gen uint64, data []byte) {
	env, err := protocol.Decode(data)
	if err != nil {
		s.logger.Debug("dropping malformed frame", zap.Error(err))
		return
	}

	s.mu.Lock()
	defer s.unlock()

	if gen != s.gen {
		return
	}
	if h, ok := inboundHandlers[env.Event]; ok {
		h(s, env)
		return
	}
	if s.state == StateAuthenticated {
		s.publishLocked(Event{Kind: EventMessage, State: s.state, Name: env.Event, Data: env.Data})
	}
}

func (s *Session) onTransportClosed(gen uint64, err error) {
	s.mu.Lock()
	defer s.unlock()

	if gen != s.gen {
		return
	}

	code := closeCode(err)
	s.logger.Info("connection closed", zap.Int("code", code), zap.Stringer("state", s.state), zap.Error(err))
	s.teardownLocked()

	if protocol.IsServerForcedClose(code) {
		if code == protocol.CloseCredentialRevoked {
			s.tokens.Clear()
			s.failLocked(FailureCredentialInvalid, "", "credential revoked by server")
			return
		}
		s.failLocked(FailureDenied, "", "disconnected by server")
		return
	}
	s.scheduleReconnectLocked(fmt.Sprintf("connection lost: %v", err))
}

// scheduleReconnectLocked moves to reconnecting and arms the next attempt,
// or to error once the attempt ceiling is reached.
func (s *Session) scheduleReconnectLocked(reason string) {
	if s.manual || s.closed {
		return
	}
	delay, ok := s.reconnect.next()
	if !ok {
		s.failLocked(FailureNetwork, "", fmt.Sprintf("%s; reconnect attempts exhausted", reason))
		return
	}

	s.errMsg = reason
	s.setStateLocked(StateReconnecting, s.reconnect.attempt)
	s.logger.Info("reconnect scheduled", zap.Int("attempt", s.reconnect.attempt), zap.Duration("delay", delay))

	gen := s.gen
	s.reconnect.arm(s.clock, delay, func() {
		s.mu.Lock()
		defer s.unlock()
		if gen != s.gen || s.manual || s.closed || s.state != StateReconnecting {
			return
		}
		s.attemptLocked()
	})
}

// teardownLocked invalidates the current generation and closes the
// transport. Nothing started for the old generation reaches the session
// afterwards.
func (s *Session) teardownLocked() {
	s.gen++
	s.reconnect.stopTimer()
	if s.conn != nil {
		conn := s.conn
		s.conn = nil
		go conn.Close()
	}
	s.role = ""
	s.rooms = make(map[string]struct{})
	s.awaitingToken = false
	s.replayPending = false
}

func (s *Session) authenticateLocked() {
	token, ok := s.tokens.Current()
	if !ok {
		s.awaitingToken = true
		if !s.tokens.ForceRenewal() && !s.tokens.InFlight() {
			s.failLocked(FailureCredentialInvalid, "", "no token available")
		}
		return
	}
	s.awaitingToken = false
	s.sendLocked(protocol.EventAuthenticate, protocol.AuthenticatePayload{Token: token})
}

func (s *Session) onTokenRenewed(lease Lease, trigger Trigger) {
	s.mu.Lock()
	defer s.unlock()

	if s.closed {
		return
	}
	s.publishLocked(Event{Kind: EventTokenRenewed, State: s.state, Name: trigger.String()})

	switch s.state {
	case StateConnected:
		if s.awaitingToken {
			s.awaitingToken = false
			s.sendLocked(protocol.EventAuthenticate, protocol.AuthenticatePayload{Token: lease.Token})
		}
	case StateAuthenticated:
		s.sendLocked(protocol.EventRenewToken, protocol.RenewTokenPayload{NewToken: lease.Token})
		if s.replayPending {
			s.replayPending = false
			if s.lastEmit != nil {
				s.logger.Debug("replaying last emit", zap.String("event", s.lastEmit.event))
				s.writeLocked(s.lastEmit.frame)
			}
			for _, room := range sortedKeys(s.desired) {
				if _, joined := s.rooms[room]; !joined {
					s.sendLocked(protocol.EventJoinRoom, protocol.RoomPayload{Room: room})
				}
			}
		}
	}
}

func (s *Session) onRenewalFailed(err error) {
	s.mu.Lock()
	defer s.unlock()

	if s.closed {
		return
	}
	s.publishLocked(Event{
		Kind:         EventRenewalFailed,
		State:        s.state,
		ErrorMessage: err.Error(),
		Failure:      FailureCredentialInvalid,
	})
	if s.state == StateDisconnected {
		return
	}
	s.teardownLocked()
	s.reconnect.reset()
	s.failLocked(FailureCredentialInvalid, "", "token renewal failed: "+err.Error())
}

// failLocked enters the error state. Timers are already stopped by the
// callers that tear the connection down.
func (s *Session) failLocked(failure Failure, errType protocol.ErrorType, msg string) {
	s.reconnect.stopTimer()
	s.errMsg = msg
	s.publishLocked(Event{Kind: EventError, State: s.state, ErrorMessage: msg, ErrorType: errType, Failure: failure})
	s.setStateLocked(StateError, s.reconnect.attempt)
}

func (s *Session) sendLocked(event string, payload any) bool {
	frame, err := protocol.Encode(event, payload)
	if err != nil {
		s.logger.Warn("encode failed", zap.String("event", event), zap.Error(err))
		return false
	}
	return s.writeLocked(frame)
}

// writeLocked writes under the session mutex, which serializes writers.
// A failed write is left to the read loop to report as a close.
func (s *Session) writeLocked(frame []byte) bool {
	if s.conn == nil {
		return false
	}
	if err := s.conn.WriteMessage(frame); err != nil {
		s.logger.Debug("write failed", zap.Error(err))
		return false
	}
	return true
}

func (s *Session) setStateLocked(next State, attempt int) {
	if next == s.state {
		return
	}
	prev := s.state
	s.state = next
	s.logger.Debug("state changed", zap.Stringer("from", prev), zap.Stringer("to", next))
	s.publishLocked(Event{
		Kind:         EventStateChanged,
		State:        next,
		Previous:     prev,
		ErrorMessage: s.errMsg,
		Attempt:      attempt,
	})
}

func (s *Session) publishLocked(ev Event) {
	s.pending = append(s.pending, ev)
}

// unlock releases the session mutex and delivers queued events. One
// goroutine delivers at a time; a subscriber that calls back into the
// session has its events picked up by the same delivery loop.
func (s *Session) unlock() {
	s.mu.Unlock()

	for {
		if !s.deliverMu.TryLock() {
			return
		}
		for {
			s.mu.Lock()
			batch := s.pending
			s.pending = nil
			subs := make([]func(Event), 0, len(s.subs))
			for id := 0; id < s.nextSub; id++ {
				if fn, ok := s.subs[id]; ok {
					subs = append(subs, fn)
				}
			}
			s.mu.Unlock()

			if len(batch) == 0 {
				break
			}
			for _, ev := range batch {
				for _, fn := range subs {
					fn(ev)
				}
			}
		}
		s.deliverMu.Unlock()

		s.mu.Lock()
		empty := len(s.pending) == 0
		s.mu.Unlock()
		if empty {
			return
		}
	}
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
