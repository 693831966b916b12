package ws

import (
	"context"
	"encoding/json"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/kanreisa/jsonrpc2-ws"
	"github.com/kanreisa/jsonrpc2-ws/internal/transport"
)

// ClientState is one of Client's five lifecycle states.
type ClientState = transport.State

const (
	StateIdle         = transport.StateIdle
	StateConnecting   = transport.StateConnecting
	StateOpen         = transport.StateOpen
	StateReconnecting = transport.StateReconnecting
	StateClosed       = transport.StateClosed
)

// ClientConfig holds Client's construction options.
type ClientConfig = transport.ClientConfig

// DefaultClientConfig returns the frozen defaults for rawURL.
func DefaultClientConfig(rawURL string) *ClientConfig { return transport.DefaultClientConfig(rawURL) }

// Client is the outbound JSON-RPC endpoint: it dials, reconnects with
// backoff, and exposes Call/Notify plus the full event surface.
type Client struct {
	*transport.Client
}

// NewClient builds a Client; when cfg.AutoConnect (the default) is true it
// begins connecting immediately in the background.
func NewClient(cfg *ClientConfig) *Client {
	return &Client{Client: transport.NewClient(cfg)}
}

// RegisterMethod installs or replaces the handler for method, allowing the
// client to serve calls the server makes to it (the engine is symmetric).
func (c *Client) RegisterMethod(method string, handler jsonrpc2ws.MethodHandler) {
	c.Client.RegisterMethod(method, handler)
}

// WithClientLogger attaches a zap logger to cfg before construction.
func WithClientLogger(cfg *ClientConfig, logger *zap.Logger) *ClientConfig {
	cfg.Logger = logger
	return cfg
}

// WithQuery adds one query parameter to the connect URL.
func WithQuery(cfg *ClientConfig, key, value string) *ClientConfig {
	if cfg.Query == nil {
		cfg.Query = url.Values{}
	}
	cfg.Query.Add(key, value)
	return cfg
}

// CallTimeout issues Call with a fresh context bounded by timeout, for
// callers that don't want to manage a context themselves. The client's
// MethodCallTimeout still applies as well.
func (c *Client) CallTimeout(method string, params any, timeout time.Duration) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return c.Call(ctx, method, params)
}
