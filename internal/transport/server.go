package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kanreisa/jsonrpc2-ws"
	"github.com/kanreisa/jsonrpc2-ws/internal/registry"
)

// CheckOriginFn validates the origin of an upgrade request.
type CheckOriginFn func(r *http.Request) bool

// RateLimitConfig configures the per-session token bucket applied ahead
// of envelope decoding, the ambient abuse-control layer every accepted
// session carries.
type RateLimitConfig struct {
	MessagesPerSecond rate.Limit
	Burst             int
	Enabled           bool
}

// DefaultRateLimitConfig allows 100 messages/sec with a burst of 200.
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{MessagesPerSecond: 100, Burst: 200, Enabled: true}
}

// NoRateLimit disables rate limiting entirely.
func NoRateLimit() *RateLimitConfig {
	return &RateLimitConfig{Enabled: false}
}

// ServerConfig holds Server's construction options, each with a
// documented default applied by DefaultServerConfig.
type ServerConfig struct {
	Addr            string
	PingTimeout     time.Duration
	PingInterval    time.Duration
	Open            bool
	VersionMode     jsonrpc2ws.VersionMode
	CheckOrigin     CheckOriginFn
	RateLimitConfig *RateLimitConfig
	Logger          *zap.Logger
}

// DefaultServerConfig returns the frozen defaults.
func DefaultServerConfig(addr string) *ServerConfig {
	return &ServerConfig{
		Addr:            addr,
		PingTimeout:     5000 * time.Millisecond,
		PingInterval:    25000 * time.Millisecond,
		Open:            true,
		VersionMode:     jsonrpc2ws.VersionStrict,
		CheckOrigin:     func(r *http.Request) bool { return false },
		RateLimitConfig: DefaultRateLimitConfig(),
	}
}

// Server owns the session table, the method registry, and the heartbeat
// loop, dispatching inbound frames through the shared JSON-RPC engine
// rather than a fixed command-id table.
type Server struct {
	cfg      *ServerConfig
	registry *registry.Registry
	logger   *zap.Logger

	httpServer *http.Server
	upgrader   websocket.Upgrader
	sessions   sync.Map // map[string]*Session

	mu           sync.Mutex
	running      bool
	lastPingAt   time.Time
	heartbeatDie chan struct{}

	onListening         jsonrpc2ws.EventBus[struct{}]
	onConnection        jsonrpc2ws.EventBus[jsonrpc2ws.ConnectionEvent]
	onError             jsonrpc2ws.EventBus[jsonrpc2ws.ErrorEvent]
	onErrorResponse     jsonrpc2ws.EventBus[jsonrpc2ws.SessionErrorResponseEvent]
	onNotificationError jsonrpc2ws.EventBus[jsonrpc2ws.SessionNotificationErrorEvent]
}

// NewServer constructs a Server bound to reg for method dispatch
// and, when cfg.Open is true (the default), starts listening immediately.
func NewServer(cfg *ServerConfig, reg *registry.Registry) (*Server, error) {
	if cfg == nil {
		cfg = DefaultServerConfig(":0")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		cfg:      cfg,
		registry: reg,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     cfg.CheckOrigin,
		},
	}
	if cfg.Open {
		if err := s.Open(context.Background()); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Registry exposes the shared method table for registration.
func (s *Server) Registry() *registry.Registry { return s.registry }

// SetRateLimitConfig swaps the policy applied to newly accepted sessions.
// Sessions already connected keep the limiter they were handed at accept
// time; hot-reloaded config only governs new arrivals.
func (s *Server) SetRateLimitConfig(rl *RateLimitConfig) {
	s.mu.Lock()
	s.cfg.RateLimitConfig = rl
	s.mu.Unlock()
}

// Open creates the underlying HTTP server, starts accepting connections,
// and starts the heartbeat ticker. It errors if already open.
func (s *Server) Open(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("jsonrpc2ws: " + jsonrpc2ws.ErrMsgServerAlreadyRunning)
	}
	s.running = true
	s.lastPingAt = time.Now()
	s.heartbeatDie = make(chan struct{})
	s.mu.Unlock()

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleUpgrade)
	s.httpServer = &http.Server{Addr: s.cfg.Addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return err
	case <-time.After(100 * time.Millisecond):
	}

	go s.heartbeatLoop()
	s.onListening.Emit(struct{}{})
	return nil
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.onError.Emit(jsonrpc2ws.ErrorEvent{Err: err})
		return
	}

	s.mu.Lock()
	rl := s.cfg.RateLimitConfig
	s.mu.Unlock()
	var limiter *rate.Limiter
	if rl != nil && rl.Enabled {
		limiter = rate.NewLimiter(rl.MessagesPerSecond, rl.Burst)
	}

	session := NewSession(SessionConfig{
		Conn:        conn,
		RemoteAddr:  r.RemoteAddr,
		RateLimiter: limiter,
		Registry:    s.registry,
		Version:     s.cfg.VersionMode,
		Logger:      s.logger,
	})
	conn.SetPongHandler(func(string) error {
		session.markPong()
		return nil
	})

	session.OnErrorResponse(func(resp *jsonrpc2ws.ErrorResponse) {
		s.onErrorResponse.Emit(jsonrpc2ws.SessionErrorResponseEvent{Session: session, Response: resp})
	})
	session.OnNotificationError(func(err *jsonrpc2ws.Error) {
		s.onNotificationError.Emit(jsonrpc2ws.SessionNotificationErrorEvent{Session: session, Err: err})
	})

	s.sessions.Store(session.ID(), session)
	s.logger.Info("session connected", zap.String("session_id", session.ID()), zap.String("remote_addr", r.RemoteAddr))
	s.onConnection.Emit(jsonrpc2ws.ConnectionEvent{Session: session, RemoteAddr: r.RemoteAddr})

	go s.readLoop(session)
}

func (s *Server) readLoop(session *Session) {
	defer func() {
		s.sessions.Delete(session.ID())
		session.Terminate()
	}()

	for {
		select {
		case <-session.Context().Done():
			return
		default:
		}

		msgType, data, err := session.conn.ReadMessage()
		if err != nil {
			s.logger.Debug("session read ended", zap.String("session_id", session.ID()), zap.Error(err))
			return
		}

		if !session.CheckRateLimit() {
			_ = session.Close(websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}

		binary := msgType == websocket.BinaryMessage
		if err := session.HandleFrame(data, binary); err != nil {
			s.onError.Emit(jsonrpc2ws.ErrorEvent{Err: err})
		}
	}
}

func (s *Server) heartbeatLoop() {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.heartbeatTick()
		case <-s.heartbeatDie:
			return
		}
	}
}

// heartbeatTick runs the per-interval sweep: a session still "pending"
// from the previous tick — i.e. it never answered the ping issued one
// full pingInterval ago — is overdue and is terminated.
func (s *Server) heartbeatTick() {
	s.sessions.Range(func(_, v any) bool {
		session := v.(*Session)
		if session.isPongOverdue() {
			s.sessions.Delete(session.ID())
			session.Terminate()
			return true
		}
		session.markPingSent()
		if session.IsOpen() {
			_ = session.ping()
		}
		return true
	})

	s.mu.Lock()
	s.lastPingAt = time.Now()
	s.mu.Unlock()
}

// Session looks up a connected session by id.
func (s *Server) Session(id string) (jsonrpc2ws.Session, bool) {
	v, ok := s.sessions.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*Session), true
}

// Broadcast encodes one notification and sends it to every connected
// session.
func (s *Server) Broadcast(method string, params any) error {
	data, err := encodeNotification(method, params)
	if err != nil {
		return err
	}
	s.sessions.Range(func(_, v any) bool {
		_ = v.(*Session).SendFrame(data, false)
		return true
	})
	return nil
}

// NotifyTo encodes one notification and sends it to every session currently
// in room.
func (s *Server) NotifyTo(room string, method string, params any) error {
	data, err := encodeNotification(method, params)
	if err != nil {
		return err
	}
	s.sessions.Range(func(_, v any) bool {
		session := v.(*Session)
		if session.InRoom(room) {
			_ = session.SendFrame(data, false)
		}
		return true
	})
	return nil
}

// SendTo fans an arbitrary already-encoded payload out to room's members.
func (s *Server) SendTo(room string, data []byte, binary bool) error {
	s.sessions.Range(func(_, v any) bool {
		session := v.(*Session)
		if session.InRoom(room) {
			_ = session.SendFrame(data, binary)
		}
		return true
	})
	return nil
}

// In returns a snapshot of room's current members; it does not track
// subsequent membership changes.
func (s *Server) In(room string) map[string]jsonrpc2ws.Session {
	out := make(map[string]jsonrpc2ws.Session)
	s.sessions.Range(func(k, v any) bool {
		session := v.(*Session)
		if session.InRoom(room) {
			out[k.(string)] = session
		}
		return true
	})
	return out
}

// Close stops the heartbeat, terminates every session, and shuts down the
// underlying HTTP server. It is idempotent.
func (s *Server) Close(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	die := s.heartbeatDie
	s.mu.Unlock()

	if die != nil {
		close(die)
	}

	var errs error
	s.sessions.Range(func(k, v any) bool {
		session := v.(*Session)
		if err := session.Close(websocket.CloseNormalClosure, "server shutting down"); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("session %s: %w", session.ID(), err))
		}
		s.sessions.Delete(k)
		return true
	})

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

// OnListening registers a listener for Server's `listening` event.
func (s *Server) OnListening(fn func()) (unsubscribe func()) {
	return s.onListening.On(func(struct{}) { fn() })
}

// OnConnection registers a listener for Server's `connection(session, req)`
// event.
func (s *Server) OnConnection(fn func(jsonrpc2ws.ConnectionEvent)) (unsubscribe func()) {
	return s.onConnection.On(fn)
}

// OnError registers a listener for Server's `error(err)` event.
func (s *Server) OnError(fn func(jsonrpc2ws.ErrorEvent)) (unsubscribe func()) {
	return s.onError.On(fn)
}

// OnErrorResponse registers a listener for Server's
// `error_response(session, resp)` event.
func (s *Server) OnErrorResponse(fn func(jsonrpc2ws.SessionErrorResponseEvent)) (unsubscribe func()) {
	return s.onErrorResponse.On(fn)
}

// OnNotificationError registers a listener for Server's
// `notification_error(session, err)` event.
func (s *Server) OnNotificationError(fn func(jsonrpc2ws.SessionNotificationErrorEvent)) (unsubscribe func()) {
	return s.onNotificationError.On(fn)
}
