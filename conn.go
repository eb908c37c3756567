package goRealtime

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/goRealtime/protocol"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// conn is one upgraded websocket connection.
//
// principal, authenticated and expiresAt are owned by the read goroutine.
// Everything else is safe to touch from fan-out and timer goroutines.
type conn struct {
	id       string
	engine   *Engine
	ws       *websocket.Conn
	send     chan []byte
	done     chan struct{}
	remoteIP string
	logger   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
	closeMu   sync.Mutex
	closeCode int
	closeText string

	principal     Principal
	authenticated bool
	expiresAt     time.Time

	authed    atomic.Bool
	expiryGen atomic.Uint64

	timerMu    sync.Mutex
	nearExpiry clockwork.Timer
	authTimer  clockwork.Timer
}

func newConn(e *Engine, ws *websocket.Conn, id, remoteIP string) *conn {
	ctx, cancel := context.WithCancel(WithClientIP(context.Background(), remoteIP))
	return &conn{
		id:       id,
		engine:   e,
		ws:       ws,
		send:     make(chan []byte, e.config.Connection.SendBuffer),
		done:     make(chan struct{}),
		remoteIP: remoteIP,
		logger:   e.logger.With(zap.String("conn_id", id), zap.String("remote_ip", remoteIP)),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// readPump processes inbound frames in order until the transport fails.
func (c *conn) readPump() {
	defer c.engine.wg.Done()
	defer c.teardown()

	cfg := c.engine.config.Connection
	c.ws.SetReadLimit(cfg.MaxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(cfg.PongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(cfg.PongWait))
	})

	for {
		_, frame, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.logger.Debug("websocket read failed", zap.Error(err))
			}
			return
		}

		env, err := protocol.Decode(frame)
		if err != nil {
			c.logger.Debug("dropping malformed frame", zap.Error(err))
			continue
		}
		c.dispatch(env)
	}
}

// writePump owns every write to the socket.
func (c *conn) writePump() {
	defer c.engine.wg.Done()

	cfg := c.engine.config.Connection
	ticker := time.NewTicker(cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			if err := c.write(websocket.TextMessage, frame); err != nil {
				c.logger.Debug("websocket write failed", zap.Error(err))
				c.shutdown(websocket.CloseAbnormalClosure, "")
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.shutdown(websocket.CloseAbnormalClosure, "")
				return
			}
		case <-c.done:
			c.flush()
			code, text := c.closeReason()
			if code != websocket.CloseAbnormalClosure {
				msg := websocket.FormatCloseMessage(code, text)
				_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(cfg.WriteWait))
			}
			return
		}
	}
}

func (c *conn) write(messageType int, data []byte) error {
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.engine.config.Connection.WriteWait))
	return c.ws.WriteMessage(messageType, data)
}

// flush writes frames queued before shutdown, such as the
// authorization_error preceding a revocation close.
func (c *conn) flush() {
	for {
		select {
		case frame := <-c.send:
			if err := c.write(websocket.TextMessage, frame); err != nil {
				return
			}
		default:
			return
		}
	}
}

// trySend queues frame without blocking. It fails once the connection is
// shutting down or its buffer is full.
func (c *conn) trySend(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// reply sends a control event to this connection. A client that cannot
// keep up with its own control traffic is dropped.
func (c *conn) reply(event string, payload any) bool {
	frame, err := protocol.Encode(event, payload)
	if err != nil {
		c.logger.Error("encode reply failed", zap.String("event", event), zap.Error(err))
		return false
	}
	if c.trySend(frame) {
		return true
	}
	select {
	case <-c.done:
	default:
		c.logger.Warn("send buffer full, closing connection", zap.String("event", event))
		c.shutdown(websocket.ClosePolicyViolation, "send buffer full")
	}
	return false
}

func (c *conn) replyAuthError(t protocol.ErrorType, message string) {
	c.reply(protocol.EventAuthorizationError, protocol.AuthorizationErrorPayload{
		ErrorType: t,
		Message:   message,
	})
}

// shutdown asks the write pump to send a close frame with code and stop.
// Only the first call decides the close code.
func (c *conn) shutdown(code int, text string) {
	c.closeOnce.Do(func() {
		c.closeMu.Lock()
		c.closeCode = code
		c.closeText = text
		c.closeMu.Unlock()
		close(c.done)
	})
}

func (c *conn) closeReason() (int, string) {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	return c.closeCode, c.closeText
}

func (c *conn) teardown() {
	c.stopTimers()
	c.engine.rooms.leaveAll(c)
	c.engine.unregister(c)
	c.shutdown(websocket.CloseNormalClosure, "")
	c.cancel()
	c.engine.metricInc(MetricConnectionClosed)
	c.logger.Debug("connection closed")
}

/*
====================================
TIMERS
====================================
*/

func (c *conn) startAuthTimer() {
	timeout := c.engine.config.Connection.AuthTimeout
	if timeout <= 0 {
		return
	}
	c.timerMu.Lock()
	defer c.timerMu.Unlock()
	c.authTimer = c.engine.clock.AfterFunc(timeout, func() {
		if c.authed.Load() {
			return
		}
		c.logger.Info("closing unauthenticated connection")
		c.shutdown(protocol.CloseServerForced, "authentication timeout")
	})
}

// scheduleNearExpiry arms the token_near_expiry hint for a token expiring
// at expiresAt, replacing any earlier schedule.
func (c *conn) scheduleNearExpiry(expiresAt time.Time) {
	gen := c.expiryGen.Add(1)

	c.timerMu.Lock()
	defer c.timerMu.Unlock()

	if c.nearExpiry != nil {
		c.nearExpiry.Stop()
		c.nearExpiry = nil
	}
	lead := c.engine.config.Connection.NearExpiryLead
	if lead <= 0 {
		return
	}

	delay := expiresAt.Sub(c.engine.clock.Now()) - lead
	if delay < 0 {
		delay = 0
	}
	c.nearExpiry = c.engine.clock.AfterFunc(delay, func() {
		if c.expiryGen.Load() != gen {
			return
		}
		if c.reply(protocol.EventTokenNearExpiry, nil) {
			c.engine.metricInc(MetricTokenNearExpiry)
		}
	})
}

func (c *conn) cancelNearExpiry() {
	c.expiryGen.Add(1)

	c.timerMu.Lock()
	defer c.timerMu.Unlock()
	if c.nearExpiry != nil {
		c.nearExpiry.Stop()
		c.nearExpiry = nil
	}
}

func (c *conn) stopTimers() {
	c.expiryGen.Add(1)

	c.timerMu.Lock()
	defer c.timerMu.Unlock()
	if c.nearExpiry != nil {
		c.nearExpiry.Stop()
		c.nearExpiry = nil
	}
	if c.authTimer != nil {
		c.authTimer.Stop()
		c.authTimer = nil
	}
}
