package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/kanreisa/jsonrpc2-ws"
	"github.com/kanreisa/jsonrpc2-ws/internal/backoff"
	"github.com/kanreisa/jsonrpc2-ws/internal/codec"
	"github.com/kanreisa/jsonrpc2-ws/internal/engine"
	"github.com/kanreisa/jsonrpc2-ws/internal/pending"
	"github.com/kanreisa/jsonrpc2-ws/internal/registry"
)

// ErrNotConnected is returned by Call/Notify when the client is not Open
// and outbound buffering is disabled.
var ErrNotConnected = errors.New("jsonrpc2ws: " + jsonrpc2ws.ErrMsgNotConnected)

// ErrBufferFull is returned by Call/Notify when outbound buffering is
// enabled but already at capacity.
var ErrBufferFull = errors.New("jsonrpc2ws: outbound buffer full")

// State is one of Client's five lifecycle states.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ClientConfig holds Client's construction options (the frozen defaults
// are applied by DefaultClientConfig).
type ClientConfig struct {
	URL                   string
	Reconnection          bool
	ReconnectionAttempts  int // < 0 means unbounded ("+∞")
	ReconnectionDelay     time.Duration
	ReconnectionDelayMax  time.Duration
	ReconnectionJitter    float64
	MethodCallTimeout     time.Duration
	AutoConnect           bool
	Query                 url.Values
	Protocols             []string
	OutboundBufferSize    int // 0 disables buffering across disconnects
	VersionMode           jsonrpc2ws.VersionMode
	Logger                *zap.Logger
}

// DefaultClientConfig returns the frozen defaults for url.
func DefaultClientConfig(rawURL string) *ClientConfig {
	return &ClientConfig{
		URL:                  rawURL,
		Reconnection:         true,
		ReconnectionAttempts: -1,
		ReconnectionDelay:    1000 * time.Millisecond,
		ReconnectionDelayMax: 5000 * time.Millisecond,
		ReconnectionJitter:   0.5,
		MethodCallTimeout:    20000 * time.Millisecond,
		AutoConnect:          true,
		VersionMode:          jsonrpc2ws.VersionStrict,
	}
}

type clientConn struct {
	conn   *websocket.Conn
	sendCh chan outboundFrame
	ctx    context.Context
	cancel context.CancelFunc
}

// Client is the outbound endpoint: it dials, reconnects with backoff, and
// exposes Call/Notify over the same engine Session uses. Its write pump is
// a channel-fed writer, generalized across reconnect generations instead
// of one fixed connection.
type Client struct {
	cfg      *ClientConfig
	registry *registry.Registry
	tracker  *pending.Tracker
	backoff  *backoff.Backoff
	logger   *zap.Logger

	mu               sync.Mutex
	state            State
	active           *clientConn
	skipReconnection bool
	attempts         int
	wakeSleep        chan struct{}
	outbound         [][]byte
	runOnce          sync.Once

	onConnecting        jsonrpc2ws.EventBus[struct{}]
	onConnected         jsonrpc2ws.EventBus[struct{}]
	onDisconnect        jsonrpc2ws.EventBus[jsonrpc2ws.DisconnectEvent]
	onClose             jsonrpc2ws.EventBus[struct{}]
	onReconnecting      jsonrpc2ws.EventBus[jsonrpc2ws.ReconnectingEvent]
	onReconnectError    jsonrpc2ws.EventBus[jsonrpc2ws.ErrorEvent]
	onReconnectFailed   jsonrpc2ws.EventBus[jsonrpc2ws.ReconnectFailedEvent]
	onReconnected       jsonrpc2ws.EventBus[jsonrpc2ws.ReconnectedEvent]
	onErrorResponse     jsonrpc2ws.EventBus[jsonrpc2ws.ClientErrorResponseEvent]
	onNotificationError jsonrpc2ws.EventBus[jsonrpc2ws.ClientNotificationErrorEvent]
	onUnknownResponse   jsonrpc2ws.EventBus[jsonrpc2ws.UnknownResponseEvent]
	onError             jsonrpc2ws.EventBus[jsonrpc2ws.ErrorEvent]
}

// NewClient builds a Client. When cfg.AutoConnect is true (the default) it
// immediately starts connecting in the background.
func NewClient(cfg *ClientConfig) *Client {
	if cfg == nil {
		cfg = DefaultClientConfig("")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		cfg:      cfg,
		registry: registry.New(),
		tracker:  pending.New(),
		backoff: backoff.New(backoff.Policy{
			InitialInterval: cfg.ReconnectionDelay,
			MaxInterval:     cfg.ReconnectionDelayMax,
			Multiplier:      2,
			Jitter:          cfg.ReconnectionJitter,
		}),
		logger: logger,
		state:  StateIdle,
	}
	if cfg.AutoConnect {
		c.Connect()
	}
	return c
}

// Registry exposes the client's own method table, for bidirectional RPC
// (the engine is symmetric: a Client can serve calls the same as a Session).
func (c *Client) Registry() *registry.Registry { return c.registry }

// RegisterMethod installs or replaces the handler for method.
func (c *Client) RegisterMethod(method string, handler jsonrpc2ws.MethodHandler) {
	c.registry.Register(method, handler)
}

// State returns the client's current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Connect starts the connect/reconnect loop if it is not already running.
// Calling it more than once has no effect.
func (c *Client) Connect() {
	c.runOnce.Do(func() {
		go c.runLoop()
	})
}

func (c *Client) runLoop() {
	for {
		c.setState(StateConnecting)
		c.onConnecting.Emit(struct{}{})

		conn, _, err := c.dial()
		if err != nil {
			c.logger.Warn("dial failed", zap.String("url", c.cfg.URL), zap.Error(err))
			c.onError.Emit(jsonrpc2ws.ErrorEvent{Err: err})
			if c.attempts > 0 {
				c.onReconnectError.Emit(jsonrpc2ws.ErrorEvent{Err: err})
			}
			if !c.shouldRetryAfterFailure() {
				return
			}
			if !c.sleepBeforeRetry() {
				return
			}
			continue
		}

		ac := c.beginConnection(conn)
		prevAttempts := c.attempts
		c.attempts = 0
		c.backoff.Reset()
		c.setState(StateOpen)
		c.logger.Info("connected", zap.String("url", c.cfg.URL), zap.Int("attempt", prevAttempts))
		if prevAttempts > 0 {
			c.onReconnected.Emit(jsonrpc2ws.ReconnectedEvent{Attempt: prevAttempts})
		}
		c.onConnected.Emit(struct{}{})
		c.flushOutbound(ac)

		c.readLoop(ac)

		c.mu.Lock()
		skip := c.skipReconnection
		c.mu.Unlock()
		if skip {
			// disconnect() already performed every transition and event.
			return
		}

		if !c.cfg.Reconnection {
			c.closeNaturally(websocket.CloseNormalClosure, "connection closed")
			return
		}

		if !c.sleepBeforeRetry() {
			return
		}
	}
}

func (c *Client) shouldRetryAfterFailure() bool {
	c.mu.Lock()
	skip := c.skipReconnection
	c.mu.Unlock()
	if skip || !c.cfg.Reconnection {
		c.closeNaturally(websocket.CloseAbnormalClosure, "connect failed")
		return false
	}
	return true
}

// sleepBeforeRetry transitions to Reconnecting, sleeps backoff.Next(), and
// reports whether the loop should continue (false means disconnect() woke
// it early, or the attempt budget is exhausted).
func (c *Client) sleepBeforeRetry() bool {
	c.attempts++
	if c.cfg.ReconnectionAttempts >= 0 && c.attempts > c.cfg.ReconnectionAttempts {
		c.setState(StateClosed)
		c.onReconnectFailed.Emit(jsonrpc2ws.ReconnectFailedEvent{})
		return false
	}

	c.setState(StateReconnecting)
	c.onReconnecting.Emit(jsonrpc2ws.ReconnectingEvent{Attempt: c.attempts})

	d := c.backoff.Next()
	c.mu.Lock()
	wake := make(chan struct{})
	c.wakeSleep = wake
	c.mu.Unlock()

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-wake:
		return false
	}
}

func (c *Client) closeNaturally(code int, reason string) {
	c.setState(StateClosed)
	c.tracker.CloseAll(pending.ErrDisconnected)
	c.onDisconnect.Emit(jsonrpc2ws.DisconnectEvent{Code: code, Reason: reason})
	c.onClose.Emit(struct{}{})
}

func (c *Client) dial() (*websocket.Conn, *http.Response, error) {
	dialer := websocket.Dialer{Subprotocols: c.cfg.Protocols}
	u := c.cfg.URL
	if len(c.cfg.Query) > 0 {
		parsed, err := url.Parse(u)
		if err != nil {
			return nil, nil, err
		}
		q := parsed.Query()
		for k, vs := range c.cfg.Query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		parsed.RawQuery = q.Encode()
		u = parsed.String()
	}
	return dialer.Dial(u, nil)
}

func (c *Client) beginConnection(conn *websocket.Conn) *clientConn {
	ctx, cancel := context.WithCancel(context.Background())
	ac := &clientConn{conn: conn, sendCh: make(chan outboundFrame, 256), ctx: ctx, cancel: cancel}
	go c.writePump(ac)

	c.mu.Lock()
	c.active = ac
	c.mu.Unlock()
	return ac
}

func (c *Client) writePump(ac *clientConn) {
	defer ac.conn.Close()
	for {
		select {
		case f, ok := <-ac.sendCh:
			if !ok {
				return
			}
			mode := websocket.TextMessage
			if f.binary {
				mode = websocket.BinaryMessage
			}
			_ = ac.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := ac.conn.WriteMessage(mode, f.data); err != nil {
				return
			}
		case <-ac.ctx.Done():
			return
		}
	}
}

func (c *Client) readLoop(ac *clientConn) {
	defer func() {
		ac.cancel()
		c.mu.Lock()
		if c.active == ac {
			c.active = nil
		}
		c.mu.Unlock()
	}()

	for {
		msgType, data, err := ac.conn.ReadMessage()
		if err != nil {
			return
		}
		binary := msgType == websocket.BinaryMessage
		if err := engine.Handle(ac.ctx, c, codec.Frame{Data: data, Binary: binary}, engine.Deps{
			Registry: c.registry,
			Version:  c.cfg.VersionMode,
			Hooks:    c.engineHooks(),
		}); err != nil {
			c.onError.Emit(jsonrpc2ws.ErrorEvent{Err: err})
		}
	}
}

func (c *Client) engineHooks() engine.Hooks {
	return engine.Hooks{
		OnMethodResponse: func(env *jsonrpc2ws.Envelope) {
			if !c.tracker.Resolve(env) {
				c.onUnknownResponse.Emit(jsonrpc2ws.UnknownResponseEvent{Response: env})
			}
		},
		OnErrorResponse: func(env *jsonrpc2ws.Envelope) {
			var rpcErr jsonrpc2ws.Error
			_ = json.Unmarshal(env.ErrorRaw, &rpcErr)
			c.onErrorResponse.Emit(jsonrpc2ws.ClientErrorResponseEvent{
				Response: &jsonrpc2ws.ErrorResponse{JSONRPC: jsonrpc2ws.Version, Error: &rpcErr, ID: env.IDOrNull()},
			})
		},
		OnNotificationError: func(err *jsonrpc2ws.Error) {
			c.onNotificationError.Emit(jsonrpc2ws.ClientNotificationErrorEvent{Err: err})
		},
	}
}

// SendFrame implements jsonrpc2ws.Peer: replies the engine produces for
// inbound calls the server made to this client. A no-op while not Open.
func (c *Client) SendFrame(data []byte, binary bool) error {
	c.mu.Lock()
	ac := c.active
	open := c.state == StateOpen
	c.mu.Unlock()
	if !open || ac == nil {
		return nil
	}
	select {
	case ac.sendCh <- outboundFrame{data: data, binary: binary}:
		return nil
	case <-ac.ctx.Done():
		return nil
	}
}

// Call assigns a monotonically increasing id, sends (or buffers) a
// Request, and awaits its response.
func (c *Client) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := c.tracker.NextID()
	future := c.tracker.Register(id, c.cfg.MethodCallTimeout)

	paramsRaw, err := marshalParams(params)
	if err != nil {
		c.tracker.Cancel(id)
		return nil, err
	}
	data, err := json.Marshal(&jsonrpc2ws.Request{
		JSONRPC: jsonrpc2ws.Version,
		Method:  method,
		Params:  paramsRaw,
		ID:      jsonrpc2ws.EncodeID(id),
	})
	if err != nil {
		c.tracker.Cancel(id)
		return nil, err
	}

	if err := c.sendOrBuffer(data); err != nil {
		c.tracker.Cancel(id)
		return nil, err
	}
	return future.Wait(ctx)
}

// NotifyPeer implements jsonrpc2ws.CallerPeer.
func (c *Client) NotifyPeer(method string, params any) error {
	return c.Notify(method, params)
}

// Notify builds and sends (or buffers) a Notification envelope.
func (c *Client) Notify(method string, params any) error {
	data, err := encodeNotification(method, params)
	if err != nil {
		return err
	}
	return c.sendOrBuffer(data)
}

func marshalParams(params any) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	return json.Marshal(params)
}

func (c *Client) sendOrBuffer(data []byte) error {
	c.mu.Lock()
	if c.state == StateOpen && c.active != nil {
		ac := c.active
		c.mu.Unlock()
		select {
		case ac.sendCh <- outboundFrame{data: data, binary: false}:
			return nil
		case <-ac.ctx.Done():
			return ErrNotConnected
		}
	}

	if c.cfg.OutboundBufferSize <= 0 {
		c.mu.Unlock()
		return ErrNotConnected
	}
	if len(c.outbound) >= c.cfg.OutboundBufferSize {
		c.mu.Unlock()
		return ErrBufferFull
	}
	c.outbound = append(c.outbound, data)
	c.mu.Unlock()
	return nil
}

func (c *Client) flushOutbound(ac *clientConn) {
	c.mu.Lock()
	pendingFrames := c.outbound
	c.outbound = nil
	c.mu.Unlock()

	for _, data := range pendingFrames {
		select {
		case ac.sendCh <- outboundFrame{data: data, binary: false}:
		case <-ac.ctx.Done():
			return
		}
	}
}

// Disconnect cancels reconnection, fails every pending call, closes the
// current connection if any, and transitions to Closed. Idempotent.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return nil
	}
	c.skipReconnection = true
	ac := c.active
	wake := c.wakeSleep
	c.wakeSleep = nil
	c.state = StateClosed
	c.mu.Unlock()

	if wake != nil {
		close(wake)
	}
	c.tracker.CloseAll(pending.ErrDisconnected)
	if ac != nil {
		ac.cancel()
		_ = ac.conn.Close()
	}

	c.onDisconnect.Emit(jsonrpc2ws.DisconnectEvent{Code: websocket.CloseNormalClosure, Reason: "disconnect"})
	c.onClose.Emit(struct{}{})
	return nil
}

func (c *Client) OnConnecting(fn func()) (unsubscribe func())      { return c.onConnecting.On(func(struct{}) { fn() }) }
func (c *Client) OnConnected(fn func()) (unsubscribe func())       { return c.onConnected.On(func(struct{}) { fn() }) }
func (c *Client) OnClose(fn func()) (unsubscribe func())           { return c.onClose.On(func(struct{}) { fn() }) }
func (c *Client) OnDisconnect(fn func(jsonrpc2ws.DisconnectEvent)) (unsubscribe func()) {
	return c.onDisconnect.On(fn)
}
func (c *Client) OnReconnecting(fn func(jsonrpc2ws.ReconnectingEvent)) (unsubscribe func()) {
	return c.onReconnecting.On(fn)
}
func (c *Client) OnReconnectError(fn func(jsonrpc2ws.ErrorEvent)) (unsubscribe func()) {
	return c.onReconnectError.On(fn)
}
func (c *Client) OnReconnectFailed(fn func()) (unsubscribe func()) {
	return c.onReconnectFailed.On(func(jsonrpc2ws.ReconnectFailedEvent) { fn() })
}
func (c *Client) OnReconnected(fn func(jsonrpc2ws.ReconnectedEvent)) (unsubscribe func()) {
	return c.onReconnected.On(fn)
}
func (c *Client) OnErrorResponse(fn func(jsonrpc2ws.ClientErrorResponseEvent)) (unsubscribe func()) {
	return c.onErrorResponse.On(fn)
}
func (c *Client) OnNotificationError(fn func(jsonrpc2ws.ClientNotificationErrorEvent)) (unsubscribe func()) {
	return c.onNotificationError.On(fn)
}
func (c *Client) OnUnknownResponse(fn func(jsonrpc2ws.UnknownResponseEvent)) (unsubscribe func()) {
	return c.onUnknownResponse.On(fn)
}
func (c *Client) OnError(fn func(jsonrpc2ws.ErrorEvent)) (unsubscribe func()) {
	return c.onError.On(fn)
}
