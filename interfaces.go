package jsonrpc2ws

import (
	"context"
	"encoding/json"
)

// Peer is the minimal capability set the message engine needs from either
// side of a connection: send a frame, in a given mode. Session and Client
// both satisfy it.
type Peer interface {
	// SendFrame writes a raw, already-encoded frame in the given mode.
	SendFrame(data []byte, binary bool) error
}

// MethodHandler processes one call (request or notification). Params is
// nil when the call carried no "params" key. A notification's return
// value and error are both discarded by the engine; a request's error is
// converted to a ServerError response unless it is already an *Error.
type MethodHandler func(ctx context.Context, peer Peer, params json.RawMessage) (any, error)

// Session is the server-side view of one connected peer.
type Session interface {
	Peer

	// ID is a UUID v4, stable for the session's lifetime.
	ID() string

	// RemoteAddr is the underlying transport's reported peer address.
	RemoteAddr() string

	// Context is cancelled when the session closes.
	Context() context.Context

	// Notify sends a JSON-RPC notification (no reply expected).
	Notify(method string, params any) error

	// JoinTo adds the session to a room; returns true iff newly added.
	JoinTo(room string) bool

	// LeaveFrom removes the session from a room; returns true iff removed.
	LeaveFrom(room string) bool

	// LeaveFromAll removes the session from every room it belongs to.
	LeaveFromAll()

	// Rooms returns a snapshot of the session's current room membership.
	Rooms() []string

	// Data exposes the session's user-owned scratch map.
	Data() *SessionData

	// Close performs a polite close handshake.
	Close(code int, reason string) error

	// Terminate performs an abortive close, used by the heartbeat monitor.
	Terminate()

	// IsOpen reports whether the underlying socket is still OPEN.
	IsOpen() bool

	// OnClose registers a listener for the session's `close` event.
	OnClose(fn func()) (unsubscribe func())

	// OnErrorResponse registers a listener for the session's
	// `error_response(resp)` event.
	OnErrorResponse(fn func(*ErrorResponse)) (unsubscribe func())

	// OnNotificationError registers a listener for the session's
	// `notification_error(err)` event.
	OnNotificationError(fn func(*Error)) (unsubscribe func())
}

// CallerPeer is implemented by anything that can issue outbound requests
// and await their responses — namely Client. (Sessions are callees only in
// this design; nothing stops an embedder from building a caller-capable
// session on top of the same engine, but the shipped Server does not.)
type CallerPeer interface {
	Peer
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)
	NotifyPeer(method string, params any) error
}
