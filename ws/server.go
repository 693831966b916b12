// Package ws is the public surface of this module: thin constructors over
// internal/transport that wire the shared engine, registry, and pending
// tracker together behind a small functional-options-by-field API.
package ws

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kanreisa/jsonrpc2-ws"
	"github.com/kanreisa/jsonrpc2-ws/internal/registry"
	"github.com/kanreisa/jsonrpc2-ws/internal/transport"
)

// RateLimitConfig configures per-session inbound message rate limiting.
type RateLimitConfig = transport.RateLimitConfig

// CheckOriginFn validates the Origin header of an upgrade request.
type CheckOriginFn = transport.CheckOriginFn

// ServerConfig holds Server's construction options.
type ServerConfig = transport.ServerConfig

// DefaultRateLimitConfig allows 100 messages/sec with a burst of 200.
func DefaultRateLimitConfig() *RateLimitConfig { return transport.DefaultRateLimitConfig() }

// NoRateLimit disables inbound rate limiting.
func NoRateLimit() *RateLimitConfig { return transport.NoRateLimit() }

// AllOrigins accepts every upgrade request; use only behind a trusted
// reverse proxy or in development.
func AllOrigins() CheckOriginFn {
	return func(r *http.Request) bool { return true }
}

// DefaultServerConfig returns the frozen defaults for addr, with CheckOrigin
// set to AllOrigins; replace it with a custom policy to restrict origins.
func DefaultServerConfig(addr string) *ServerConfig {
	cfg := transport.DefaultServerConfig(addr)
	cfg.CheckOrigin = AllOrigins()
	return cfg
}

// LoadServerConfig reads the operator-tunable fields from a YAML file
// (address, heartbeat cadence, version-check mode, rate limiting) and
// layers them onto DefaultServerConfig's defaults.
func LoadServerConfig(path string) (*ServerConfig, error) {
	file, err := jsonrpc2ws.LoadFileConfig(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultServerConfig(file.Addr)
	if file.PingTimeout > 0 {
		cfg.PingTimeout = file.PingTimeout
	}
	if file.PingInterval > 0 {
		cfg.PingInterval = file.PingInterval
	}
	cfg.VersionMode = jsonrpc2ws.ParseVersionMode(file.VersionMode)
	cfg.RateLimitConfig = &RateLimitConfig{
		Enabled:           file.RateLimit.Enabled,
		MessagesPerSecond: rate.Limit(file.RateLimit.MessagesPerSecond),
		Burst:             file.RateLimit.Burst,
	}
	return cfg, nil
}

// WatchServerRateLimit hot-swaps a running Server's rate-limit policy
// whenever path changes on disk; sessions already connected keep the
// limiter they were handed at accept time.
func WatchServerRateLimit(s *Server, path string) (*jsonrpc2ws.ConfigWatcher, error) {
	return jsonrpc2ws.WatchConfig(path, func(rl jsonrpc2ws.FileRateLimit) {
		s.SetRateLimitConfig(&RateLimitConfig{
			Enabled:           rl.Enabled,
			MessagesPerSecond: rate.Limit(rl.MessagesPerSecond),
			Burst:             rl.Burst,
		})
	})
}

// Server is the public server endpoint: a session table, a method
// registry, and fan-out helpers over the set of connected sessions.
type Server struct {
	*transport.Server
}

// NewServer builds and, per cfg.Open (default true), starts a Server.
func NewServer(cfg *ServerConfig) (*Server, error) {
	reg := registry.New()
	inner, err := transport.NewServer(cfg, reg)
	if err != nil {
		return nil, err
	}
	return &Server{Server: inner}, nil
}

// RegisterMethod installs or replaces the handler for method.
func (s *Server) RegisterMethod(method string, handler jsonrpc2ws.MethodHandler) {
	s.Registry().Register(method, handler)
}

// UnregisterMethod removes method, if registered.
func (s *Server) UnregisterMethod(method string) {
	s.Registry().Unregister(method)
}

// WithLogger attaches a zap logger to cfg, following the module's
// functional-options-by-field pattern (ServerConfig is a plain struct, so
// this is just a fluent setter).
func WithLogger(cfg *ServerConfig, logger *zap.Logger) *ServerConfig {
	cfg.Logger = logger
	return cfg
}

// Shutdown is a context-aware alias for Close, matching the idiom most
// net/http-adjacent Go code uses for its stop method.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.Close(ctx)
}

// ShutdownTimeout closes the server, giving in-flight session closes up to
// d before giving up.
func (s *Server) ShutdownTimeout(d time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return s.Close(ctx)
}
