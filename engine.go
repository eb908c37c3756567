package goRealtime

import (
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/MrEthical07/goRealtime/internal/rate"
	"github.com/MrEthical07/goRealtime/jwt"
	"github.com/MrEthical07/goRealtime/permission"
	"github.com/MrEthical07/goRealtime/protocol"
	"github.com/MrEthical07/goRealtime/session"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// ErrEmptyRoom is returned by Broadcast without a room name.
var ErrEmptyRoom = errors.New("room name empty")

// Engine is the server side of the realtime session protocol: it upgrades
// websocket connections, authenticates them, tracks room memberships and
// fans business events out to members.
//
// Engine methods are safe for concurrent use after [Builder.Build].
type Engine struct {
	config       Config
	logger       *zap.Logger
	clock        clockwork.Clock
	jwtManager   *jwt.Manager
	identity     IdentityStore
	registry     *permission.Registry
	roleManager  *permission.RoleManager
	sessionStore *session.Store
	rateLimiter  *rate.Limiter
	audit        *auditDispatcher
	metrics      *Metrics
	upgrader     websocket.Upgrader
	rooms        *roomRegistry

	handlersMu sync.RWMutex
	handlers   map[string]eventRoute

	connsMu sync.Mutex
	conns   map[*conn]struct{}
	closed  bool
	wg      sync.WaitGroup
}

type eventRoute struct {
	guard Guard
	fn    HandlerFunc
}

// ServeHTTP upgrades the request to a websocket connection and starts its
// pumps. The connection is unauthenticated until the client sends
// authenticate.
func (e *Engine) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if e.isClosed() {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}

	ws, err := e.upgrader.Upgrade(w, r, nil)
	if err != nil {
		e.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	c := newConn(e, ws, uuid.NewString(), requestIP(r))
	c.startAuthTimer()
	if !e.register(c) {
		c.stopTimers()
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(e.config.Connection.WriteWait))
		_ = ws.Close()
		c.cancel()
		return
	}

	e.metricInc(MetricConnectionOpened)
	e.emitAudit(c.ctx, auditEventConnectionOpened, true, "", c.id, "", nil, func() map[string]string {
		return map[string]string{"user_agent": r.UserAgent()}
	})
	c.logger.Debug("connection opened")

	go c.writePump()
	go c.readPump()
}

func (e *Engine) register(c *conn) bool {
	e.connsMu.Lock()
	defer e.connsMu.Unlock()
	if e.closed {
		return false
	}
	e.conns[c] = struct{}{}
	e.wg.Add(2)
	return true
}

func (e *Engine) unregister(c *conn) {
	e.connsMu.Lock()
	delete(e.conns, c)
	e.connsMu.Unlock()
}

func (e *Engine) isClosed() bool {
	e.connsMu.Lock()
	defer e.connsMu.Unlock()
	return e.closed
}

// requestIP prefers an IP stored with WithClientIP by upstream middleware
// and falls back to the transport peer address.
func requestIP(r *http.Request) string {
	if ip := clientIPFromContext(r.Context()); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

/*
====================================
FAN-OUT
====================================
*/

// Broadcast pushes event to every current member of room and returns how
// many members it was queued for. Delivery is best-effort: members whose
// send buffer is full miss the event. Payloads are forwarded untouched;
// a json.RawMessage is sent as-is.
func (e *Engine) Broadcast(room, event string, payload any) (int, error) {
	if e.isClosed() {
		return 0, ErrEngineClosed
	}
	if room == "" {
		return 0, ErrEmptyRoom
	}
	if protocol.IsControlEvent(event) {
		return 0, ErrReservedEvent
	}

	frame, err := protocol.Encode(event, payload)
	if err != nil {
		return 0, err
	}

	members := e.rooms.members(room)
	delivered := 0
	for _, c := range members {
		if c.trySend(frame) {
			delivered++
		}
	}

	e.metricAdd(MetricBroadcastDelivered, uint64(delivered))
	if dropped := len(members) - delivered; dropped > 0 {
		e.metricAdd(MetricBroadcastDropped, uint64(dropped))
		e.logger.Debug("broadcast dropped for slow members",
			zap.String("room", room), zap.String("event", event), zap.Int("dropped", dropped))
	}
	return delivered, nil
}

// Notify pushes event to every connection authenticated as subject.
func (e *Engine) Notify(subject, event string, payload any) (int, error) {
	if subject == "" {
		return 0, ErrEmptyRoom
	}
	return e.Broadcast(e.PersonalRoom(subject), event, payload)
}

// Disconnect closes every connection authenticated as subject with
// CloseServerForced. Clients do not reconnect automatically after it.
func (e *Engine) Disconnect(subject string) int {
	if subject == "" {
		return 0
	}
	members := e.rooms.members(e.PersonalRoom(subject))
	for _, c := range members {
		c.shutdown(protocol.CloseServerForced, "disconnected by server")
		e.metricInc(MetricForcedDisconnect)
		e.emitAudit(c.ctx, auditEventForcedDisconnect, true, subject, c.id, "", nil, nil)
	}
	if len(members) > 0 {
		e.logger.Info("forced disconnect", zap.String("subject", subject), zap.Int("connections", len(members)))
	}
	return len(members)
}

// RoomMembers returns the number of connections currently in room.
func (e *Engine) RoomMembers(room string) int {
	return e.rooms.count(room)
}

// ActiveConnections returns the number of open websocket connections.
func (e *Engine) ActiveConnections() int {
	if e == nil {
		return 0
	}
	e.connsMu.Lock()
	defer e.connsMu.Unlock()
	return len(e.conns)
}

/*
====================================
EVENT HANDLERS
====================================
*/

// HandleEvent registers fn for client messages named event. guard is
// re-checked against the connection's principal before every call; nil
// admits any authenticated principal. Protocol event names are reserved.
func (e *Engine) HandleEvent(event string, guard Guard, fn HandlerFunc) error {
	if event == "" || fn == nil {
		return errors.New("event name and handler are required")
	}
	if protocol.IsControlEvent(event) {
		return ErrReservedEvent
	}

	e.handlersMu.Lock()
	defer e.handlersMu.Unlock()
	if _, exists := e.handlers[event]; exists {
		return ErrHandlerExists
	}
	e.handlers[event] = eventRoute{guard: guard, fn: fn}
	return nil
}

func (e *Engine) route(event string) (eventRoute, bool) {
	e.handlersMu.RLock()
	defer e.handlersMu.RUnlock()
	r, ok := e.handlers[event]
	return r, ok
}

// IssueToken mints a realtime token for subject.
func (e *Engine) IssueToken(subject string) (string, time.Time, error) {
	return e.jwtManager.Mint(subject)
}

/*
====================================
LIFECYCLE
====================================
*/

// Close closes every connection with CloseGoingAway, waits for their pumps
// and flushes the audit dispatcher. Close is idempotent.
func (e *Engine) Close() {
	if e == nil {
		return
	}

	e.connsMu.Lock()
	if e.closed {
		e.connsMu.Unlock()
		return
	}
	e.closed = true
	conns := make([]*conn, 0, len(e.conns))
	for c := range e.conns {
		conns = append(conns, c)
	}
	e.connsMu.Unlock()

	for _, c := range conns {
		c.shutdown(websocket.CloseGoingAway, "server shutting down")
	}
	e.wg.Wait()

	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped returns the number of audit events dropped on a full queue.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a copy of every counter.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) metricAdd(id MetricID, n uint64) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Add(id, n)
}
