package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kanreisa/jsonrpc2-ws"
	"github.com/kanreisa/jsonrpc2-ws/internal/registry"
)

func TestDefaultRateLimitConfig(t *testing.T) {
	cfg := DefaultRateLimitConfig()
	if !cfg.Enabled {
		t.Error("Enabled should default to true")
	}
	if cfg.MessagesPerSecond != 100 {
		t.Errorf("MessagesPerSecond = %v, want 100", cfg.MessagesPerSecond)
	}
	if cfg.Burst != 200 {
		t.Errorf("Burst = %v, want 200", cfg.Burst)
	}
}

func TestNoRateLimit(t *testing.T) {
	cfg := NoRateLimit()
	if cfg.Enabled {
		t.Error("Enabled should be false")
	}
}

func TestDefaultServerConfigRejectsOriginByDefault(t *testing.T) {
	cfg := DefaultServerConfig(":0")
	if cfg.CheckOrigin(&http.Request{}) {
		t.Error("DefaultServerConfig's CheckOrigin should reject by default")
	}
	if cfg.VersionMode != jsonrpc2ws.VersionStrict {
		t.Errorf("VersionMode = %v, want VersionStrict", cfg.VersionMode)
	}
	if cfg.PingTimeout != 5000*time.Millisecond {
		t.Errorf("PingTimeout = %v, want 5s", cfg.PingTimeout)
	}
	if cfg.PingInterval != 25000*time.Millisecond {
		t.Errorf("PingInterval = %v, want 25s", cfg.PingInterval)
	}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := DefaultServerConfig("127.0.0.1:0")
	cfg.CheckOrigin = func(r *http.Request) bool { return true }
	cfg.RateLimitConfig = NoRateLimit()
	cfg.PingInterval = time.Hour // disable the heartbeat loop's interference in most tests
	srv, err := NewServer(cfg, registry.New())
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	t.Cleanup(func() { _ = srv.Close(context.Background()) })
	return srv
}

func TestServerOpenTwiceErrors(t *testing.T) {
	srv := newTestServer(t)
	if err := srv.Open(context.Background()); err == nil {
		t.Error("second Open() should error")
	}
}

func TestServerCloseIsIdempotent(t *testing.T) {
	srv := newTestServer(t)
	if err := srv.Close(context.Background()); err != nil {
		t.Fatalf("first Close() error = %v", err)
	}
	if err := srv.Close(context.Background()); err != nil {
		t.Fatalf("second Close() error = %v, want nil (idempotent)", err)
	}
}

// liveServer opens a Server on the fixed loopback port 18080 so tests can
// dial it with gorilla/websocket directly.
func liveServer(t *testing.T) (*Server, string) {
	t.Helper()
	cfg := DefaultServerConfig("127.0.0.1:18080")
	cfg.CheckOrigin = func(r *http.Request) bool { return true }
	cfg.RateLimitConfig = NoRateLimit()
	cfg.PingInterval = time.Hour
	srv, err := NewServer(cfg, registry.New())
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	t.Cleanup(func() { _ = srv.Close(context.Background()) })
	return srv, "ws://127.0.0.1:18080/"
}

func TestServerConnectionEventAndBroadcast(t *testing.T) {
	srv, url := liveServer(t)

	connected := make(chan struct{}, 1)
	srv.OnConnection(func(ev jsonrpc2ws.ConnectionEvent) {
		connected <- struct{}{}
	})

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	select {
	case <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for connection event")
	}

	if err := srv.Broadcast("tick", map[string]int{"n": 1}); err != nil {
		t.Fatalf("Broadcast() error = %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}
	if !strings.Contains(string(data), `"method":"tick"`) {
		t.Errorf("frame = %s, want method=tick", data)
	}
}

func TestServerCallDispatchesToRegisteredMethod(t *testing.T) {
	srv, url := liveServer(t)
	srv.Registry().Register("echo", func(ctx context.Context, peer jsonrpc2ws.Peer, params json.RawMessage) (any, error) {
		return string(params), nil
	})

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"jsonrpc":"2.0","method":"echo","params":["hi"],"id":7}`)); err != nil {
		t.Fatalf("WriteMessage() error = %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}
	if !strings.Contains(string(data), `"id":7`) {
		t.Errorf("frame = %s, want id=7", data)
	}
	if !strings.Contains(string(data), `"result"`) {
		t.Errorf("frame = %s, want a result from the echo handler", data)
	}
}

func TestServerUnknownMethodRepliesMethodNotFound(t *testing.T) {
	srv, url := liveServer(t)
	_ = srv

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"jsonrpc":"2.0","method":"nope","id":9}`)); err != nil {
		t.Fatalf("WriteMessage() error = %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}
	if !strings.Contains(string(data), `-32601`) {
		t.Errorf("frame = %s, want error code -32601", data)
	}
}

func TestServerNotificationErrorRoundTrip(t *testing.T) {
	srv, url := liveServer(t)

	notifErr := make(chan *jsonrpc2ws.Error, 1)
	srv.OnNotificationError(func(ev jsonrpc2ws.SessionNotificationErrorEvent) {
		notifErr <- ev.Err
	})

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	// Send a notification for an unregistered method: the server replies
	// MethodNotFound with id:null. Bounce that reply straight back over the
	// same connection so the server treats it as an incoming Response with
	// id:null, exercising its own notification_error emission path.
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"jsonrpc":"2.0","method":"missing"}`)); err != nil {
		t.Fatalf("WriteMessage() error = %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, reply, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}
	if !strings.Contains(string(reply), `-32601`) {
		t.Fatalf("reply = %s, want MethodNotFound", reply)
	}

	// Bounce the structural reply straight back at the server: it now looks
	// like an incoming Response with id:null carrying a non-parse/invalid
	// error, which should surface as notification_error.
	if err := conn.WriteMessage(websocket.TextMessage, reply); err != nil {
		t.Fatalf("WriteMessage() error = %v", err)
	}

	select {
	case err := <-notifErr:
		if err.Code != jsonrpc2ws.MethodNotFound {
			t.Errorf("notification_error code = %v, want MethodNotFound", err.Code)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notification_error event")
	}
}

func TestServerHeartbeatTerminatesUnresponsiveSession(t *testing.T) {
	cfg := DefaultServerConfig("127.0.0.1:18081")
	cfg.CheckOrigin = func(r *http.Request) bool { return true }
	cfg.RateLimitConfig = NoRateLimit()
	cfg.PingInterval = 20 * time.Millisecond
	srv, err := NewServer(cfg, registry.New())
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	t.Cleanup(func() { _ = srv.Close(context.Background()) })

	closedCh := make(chan struct{}, 1)
	conn, _, err := websocket.DefaultDialer.Dial("ws://127.0.0.1:18081/", nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()
	// Suppress gorilla's default auto-pong so this client looks unresponsive.
	conn.SetPingHandler(func(string) error { return nil })
	// Drain reads so ping frames get processed. Terminate is abortive (no
	// close frame), so the drop shows up as a read error.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				closedCh <- struct{}{}
				return
			}
		}
	}()

	select {
	case <-closedCh:
	case <-time.After(2 * time.Second):
		t.Fatal("session was not terminated for failing to respond to pings")
	}
}
