package ws

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kanreisa/jsonrpc2-ws"
)

func TestAllOriginsAcceptsEverything(t *testing.T) {
	if !AllOrigins()(nil) {
		t.Error("AllOrigins() should always return true")
	}
}

func TestDefaultServerConfigUsesAllOrigins(t *testing.T) {
	cfg := DefaultServerConfig(":0")
	if !cfg.CheckOrigin(nil) {
		t.Error("ws.DefaultServerConfig should default CheckOrigin to AllOrigins")
	}
}

func TestNewServerRegisterAndShutdown(t *testing.T) {
	cfg := DefaultServerConfig("127.0.0.1:18100")
	srv, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}

	srv.RegisterMethod("ping", func(ctx context.Context, peer jsonrpc2ws.Peer, params json.RawMessage) (any, error) {
		return "pong", nil
	})
	srv.UnregisterMethod("ping")

	if err := srv.ShutdownTimeout(time.Second); err != nil {
		t.Fatalf("ShutdownTimeout() error = %v", err)
	}
}

func TestLoadServerConfigFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "server.yaml")
	body := `
addr: ":9191"
ping_timeout: 3s
ping_interval: 15s
version_mode: loose
rate_limit:
  enabled: true
  messages_per_second: 30
  burst: 60
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := LoadServerConfig(path)
	if err != nil {
		t.Fatalf("LoadServerConfig() error = %v", err)
	}
	if cfg.Addr != ":9191" {
		t.Errorf("Addr = %q, want :9191", cfg.Addr)
	}
	if cfg.PingInterval != 15*time.Second {
		t.Errorf("PingInterval = %v, want 15s", cfg.PingInterval)
	}
	if cfg.RateLimitConfig.Burst != 60 {
		t.Errorf("RateLimitConfig.Burst = %d, want 60", cfg.RateLimitConfig.Burst)
	}
}

func TestWatchServerRateLimitHotSwaps(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "server.yaml")
	body := `
addr: ":0"
ping_timeout: 3s
ping_interval: 15s
version_mode: strict
rate_limit:
  enabled: true
  messages_per_second: 5
  burst: 5
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg := DefaultServerConfig("127.0.0.1:18101")
	srv, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	defer srv.ShutdownTimeout(time.Second)

	watcher, err := WatchServerRateLimit(srv, path)
	if err != nil {
		t.Fatalf("WatchServerRateLimit() error = %v", err)
	}
	defer watcher.Stop()

	body = `
addr: ":0"
ping_timeout: 3s
ping_interval: 15s
version_mode: strict
rate_limit:
  enabled: true
  messages_per_second: 999
  burst: 999
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	time.Sleep(300 * time.Millisecond)
}
