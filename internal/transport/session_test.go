package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kanreisa/jsonrpc2-ws"
	"github.com/kanreisa/jsonrpc2-ws/internal/registry"
)

// dialPair spins up a one-shot httptest server, upgrades the single
// inbound connection, and hands back the server-side *websocket.Conn
// (wrapped in a Session) alongside the raw client-side *websocket.Conn —
// enough plumbing to exercise Session without a full Client.
func dialPair(t *testing.T, reg *registry.Registry) (*Session, *websocket.Conn) {
	t.Helper()

	upgrader := websocket.Upgrader{}
	sessionCh := make(chan *Session, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade error: %v", err)
			return
		}
		sessionCh <- NewSession(SessionConfig{
			Conn:       conn,
			RemoteAddr: r.RemoteAddr,
			Registry:   reg,
			Version:    jsonrpc2ws.VersionStrict,
		})
	}))
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	u, err := url.Parse(wsURL)
	if err != nil {
		t.Fatalf("url.Parse() error = %v", err)
	}
	clientConn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { clientConn.Close() })

	select {
	case s := <-sessionCh:
		return s, clientConn
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for server-side session")
		return nil, nil
	}
}

func TestSessionIDIsUUID(t *testing.T) {
	s, _ := dialPair(t, registry.New())
	if len(s.ID()) != 36 {
		t.Errorf("ID() = %q, want a 36-char UUID", s.ID())
	}
}

func TestSessionJoinLeaveRoomsIdempotent(t *testing.T) {
	s, _ := dialPair(t, registry.New())

	if !s.JoinTo("lobby") {
		t.Error("first JoinTo should return true")
	}
	if s.JoinTo("lobby") {
		t.Error("second JoinTo should return false (already a member)")
	}
	if got := s.Rooms(); len(got) != 1 || got[0] != "lobby" {
		t.Errorf("Rooms() = %v, want [lobby]", got)
	}

	if !s.LeaveFrom("lobby") {
		t.Error("first LeaveFrom should return true")
	}
	if s.LeaveFrom("lobby") {
		t.Error("second LeaveFrom should return false (not a member)")
	}
}

func TestSessionLeaveFromAll(t *testing.T) {
	s, _ := dialPair(t, registry.New())
	s.JoinTo("a")
	s.JoinTo("b")
	s.LeaveFromAll()
	if got := s.Rooms(); len(got) != 0 {
		t.Errorf("Rooms() = %v, want empty", got)
	}
}

func TestSessionDataScratchMap(t *testing.T) {
	s, _ := dialPair(t, registry.New())
	s.Data().Set("user", "alice")
	v, ok := s.Data().Get("user")
	if !ok || v != "alice" {
		t.Errorf("Get(user) = %v, %v, want alice, true", v, ok)
	}
}

func TestSessionIsOpenUntilClosed(t *testing.T) {
	s, _ := dialPair(t, registry.New())
	if !s.IsOpen() {
		t.Error("new session should be open")
	}
	if err := s.Close(websocket.CloseNormalClosure, ""); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if s.IsOpen() {
		t.Error("session should not be open after Close")
	}
}

func TestSessionCloseIsIdempotent(t *testing.T) {
	s, _ := dialPair(t, registry.New())
	if err := s.Close(websocket.CloseNormalClosure, ""); err != nil {
		t.Fatalf("first Close() error = %v", err)
	}
	if err := s.Close(websocket.CloseNormalClosure, ""); err != nil {
		t.Fatalf("second Close() error = %v, want nil (idempotent)", err)
	}
}

func TestSessionNotifySendsWellFormedNotification(t *testing.T) {
	s, clientConn := dialPair(t, registry.New())

	if err := s.Notify("myMethod", map[string]int{"x": 1}); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}

	_ = clientConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := clientConn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}
	if !strings.Contains(string(data), `"method":"myMethod"`) {
		t.Errorf("frame = %s, want method=myMethod", data)
	}
	if strings.Contains(string(data), `"id"`) {
		t.Errorf("frame = %s, a notification must not carry an id", data)
	}
}

func TestSessionHandleFrameCallWithResult(t *testing.T) {
	reg := registry.New()
	reg.Register("myMethod", func(ctx context.Context, peer jsonrpc2ws.Peer, params json.RawMessage) (any, error) {
		return map[string][]string{"a": {"the return value"}}, nil
	})
	s, clientConn := dialPair(t, reg)

	if err := s.HandleFrame([]byte(`{"jsonrpc":"2.0","method":"myMethod","id":1}`), false); err != nil {
		t.Fatalf("HandleFrame() error = %v", err)
	}

	_ = clientConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for i := 0; i < 10 && s.ctx.Err() == nil; i++ {
		_, data, err := clientConn.ReadMessage()
		if err != nil {
			t.Fatalf("ReadMessage() error = %v", err)
		}
		if strings.Contains(string(data), `"result"`) {
			if !strings.Contains(string(data), `"the return value"`) {
				t.Errorf("frame = %s, missing expected result", data)
			}
			return
		}
	}
	t.Fatal("did not receive a success response")
}
