// Package transport wraps gorilla/websocket plumbing into two endpoints:
// the server-side Session and the Server that owns a table of them, plus
// the outbound Client. The wire framing, write pump, and rate limiter sit
// below the JSON-RPC engine that drives dispatch above them.
package transport

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kanreisa/jsonrpc2-ws"
	"github.com/kanreisa/jsonrpc2-ws/internal/codec"
	"github.com/kanreisa/jsonrpc2-ws/internal/engine"
	"github.com/kanreisa/jsonrpc2-ws/internal/registry"
)

// pongPending is the tri-state sentinel for Session.lastPongAt: the server
// has issued a ping on the current heartbeat window and has not yet seen a
// matching pong.
const pongPending int64 = -1

type outboundFrame struct {
	data   []byte
	binary bool
}

// Session is the server-side view of one connected peer.
type Session struct {
	id         string
	conn       *websocket.Conn
	remoteAddr string
	ctx        context.Context
	cancel     context.CancelFunc
	sendCh     chan outboundFrame

	mu     sync.Mutex
	closed bool
	rooms  map[string]struct{}

	data *jsonrpc2ws.SessionData

	lastPongAt int64 // atomic; 0 = no ping issued yet, pongPending, or unix-ms of last pong

	rateLimiter *rate.Limiter
	registry    *registry.Registry
	version     jsonrpc2ws.VersionMode
	logger      *zap.Logger

	onClose             jsonrpc2ws.EventBus[struct{}]
	onErrorResponse     jsonrpc2ws.EventBus[*jsonrpc2ws.ErrorResponse]
	onNotificationError jsonrpc2ws.EventBus[*jsonrpc2ws.Error]
}

// SessionConfig bundles what the Server hands each Session at creation.
type SessionConfig struct {
	Conn        *websocket.Conn
	RemoteAddr  string
	RateLimiter *rate.Limiter
	Registry    *registry.Registry
	Version     jsonrpc2ws.VersionMode
	Logger      *zap.Logger
}

// NewSession wraps an upgraded connection, generating a UUID v4 id and
// starting its write pump.
func NewSession(cfg SessionConfig) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Session{
		id:          uuid.NewString(),
		conn:        cfg.Conn,
		remoteAddr:  cfg.RemoteAddr,
		ctx:         ctx,
		cancel:      cancel,
		sendCh:      make(chan outboundFrame, 256),
		rooms:       make(map[string]struct{}),
		data:        jsonrpc2ws.NewSessionData(),
		rateLimiter: cfg.RateLimiter,
		registry:    cfg.Registry,
		version:     cfg.Version,
		logger:      logger,
	}
	go s.writePump()
	return s
}

func (s *Session) ID() string         { return s.id }
func (s *Session) RemoteAddr() string { return s.remoteAddr }
func (s *Session) Context() context.Context { return s.ctx }

// SendFrame implements jsonrpc2ws.Peer: it is a no-op if the session is
// not open.
func (s *Session) SendFrame(data []byte, binary bool) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	select {
	case s.sendCh <- outboundFrame{data: data, binary: binary}:
		return nil
	case <-s.ctx.Done():
		return nil
	}
}

// Notify builds and sends a Notification envelope.
func (s *Session) Notify(method string, params any) error {
	data, err := encodeNotification(method, params)
	if err != nil {
		return err
	}
	return s.SendFrame(data, false)
}

func encodeNotification(method string, params any) ([]byte, error) {
	var raw json.RawMessage
	if params != nil {
		p, err := json.Marshal(params)
		if err != nil {
			return nil, err
		}
		raw = p
	}
	return json.Marshal(&jsonrpc2ws.Notification{JSONRPC: jsonrpc2ws.Version, Method: method, Params: raw})
}

// JoinTo adds the session to a room, idempotently.
func (s *Session) JoinTo(room string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[room]; ok {
		return false
	}
	s.rooms[room] = struct{}{}
	return true
}

// LeaveFrom removes the session from a room.
func (s *Session) LeaveFrom(room string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[room]; !ok {
		return false
	}
	delete(s.rooms, room)
	return true
}

// LeaveFromAll clears every room membership.
func (s *Session) LeaveFromAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms = make(map[string]struct{})
}

// Rooms returns a membership snapshot.
func (s *Session) Rooms() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.rooms))
	for r := range s.rooms {
		out = append(out, r)
	}
	return out
}

// InRoom reports current membership of room, used by the Server's fan-out.
func (s *Session) InRoom(room string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.rooms[room]
	return ok
}

// Data exposes the session's scratch map.
func (s *Session) Data() *jsonrpc2ws.SessionData { return s.data }

// IsOpen reports whether the underlying socket is still OPEN.
func (s *Session) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

// Close performs a polite close handshake.
func (s *Session) Close(code int, reason string) error {
	return s.shutdown(code, reason, true)
}

// Terminate performs an abortive close, used by the heartbeat monitor.
func (s *Session) Terminate() {
	_ = s.shutdown(websocket.CloseAbnormalClosure, "heartbeat timeout", false)
}

func (s *Session) shutdown(code int, reason string, polite bool) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()

	if polite {
		msg := websocket.FormatCloseMessage(code, reason)
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	}

	s.LeaveFromAll()
	s.data.Clear()
	s.onClose.Emit(struct{}{})
	return s.conn.Close()
}

// OnClose registers a listener for the session's close event.
func (s *Session) OnClose(fn func()) (unsubscribe func()) {
	return s.onClose.On(func(struct{}) { fn() })
}

// OnErrorResponse registers a listener for Session's `error_response(resp)`.
func (s *Session) OnErrorResponse(fn func(*jsonrpc2ws.ErrorResponse)) (unsubscribe func()) {
	return s.onErrorResponse.On(fn)
}

// OnNotificationError registers a listener for Session's
// `notification_error(err)`.
func (s *Session) OnNotificationError(fn func(*jsonrpc2ws.Error)) (unsubscribe func()) {
	return s.onNotificationError.On(fn)
}

// engineHooks wires the session's own EventBuses into the shared engine's
// generic Hooks contract.
func (s *Session) engineHooks() engine.Hooks {
	return engine.Hooks{
		OnErrorResponse: func(env *jsonrpc2ws.Envelope) {
			var rpcErr jsonrpc2ws.Error
			_ = json.Unmarshal(env.ErrorRaw, &rpcErr)
			s.onErrorResponse.Emit(&jsonrpc2ws.ErrorResponse{JSONRPC: jsonrpc2ws.Version, Error: &rpcErr, ID: env.IDOrNull()})
		},
		OnNotificationError: func(err *jsonrpc2ws.Error) {
			s.onNotificationError.Emit(err)
		},
	}
}

// HandleFrame feeds one inbound frame through the shared message engine.
func (s *Session) HandleFrame(data []byte, binary bool) error {
	return engine.Handle(s.ctx, s, codec.Frame{Data: data, Binary: binary}, engine.Deps{
		Registry: s.registry,
		Version:  s.version,
		Hooks:    s.engineHooks(),
	})
}

// CheckRateLimit reports whether the next inbound message is allowed
// under the session's token bucket, if any.
func (s *Session) CheckRateLimit() bool {
	if s.rateLimiter == nil {
		return true
	}
	return s.rateLimiter.Allow()
}

// markPingSent records that a heartbeat ping just went out, setting
// last_pong_at to the pending sentinel.
func (s *Session) markPingSent() {
	atomic.StoreInt64(&s.lastPongAt, pongPending)
}

// markPong records a pong arrival.
func (s *Session) markPong() {
	atomic.StoreInt64(&s.lastPongAt, time.Now().UnixMilli())
}

// isPongOverdue reports whether the session never answered its most recent
// ping — i.e. it is still in the "pending" state from the previous tick.
func (s *Session) isPongOverdue() bool {
	return atomic.LoadInt64(&s.lastPongAt) == pongPending
}

func (s *Session) ping() error {
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second))
}

// writePump drains the outbound queue onto the socket. It has no keepalive
// ticker of its own — heartbeat pings are driven centrally by the Server.
// sendCh is never closed: shutdown cancels ctx instead, so a concurrent
// SendFrame racing with shutdown can safely select on ctx.Done() without
// risking a send on a closed channel.
func (s *Session) writePump() {
	defer s.conn.Close()

	for {
		select {
		case f := <-s.sendCh:
			mode := websocket.TextMessage
			if f.binary {
				mode = websocket.BinaryMessage
			}
			_ = s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := s.conn.WriteMessage(mode, f.data); err != nil {
				return
			}
		case <-s.ctx.Done():
			return
		}
	}
}
