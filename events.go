package jsonrpc2ws

import "sync"

// EventBus is a small typed publish/subscribe primitive: variant-per-event,
// no inheritance required. Server, Session, and Client each own one
// EventBus per event name rather than a single untyped dispatcher.
type EventBus[T any] struct {
	mu   sync.Mutex
	subs []func(T)
}

// On registers a listener and returns a function that removes it.
func (b *EventBus[T]) On(fn func(T)) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	idx := len(b.subs)
	b.subs = append(b.subs, fn)
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if idx < len(b.subs) {
			b.subs[idx] = nil
		}
	}
}

// Emit calls every still-registered listener, in subscription order, on the
// caller's goroutine — the engine's single-threaded-per-connection
// cooperative model means this never needs to fan out onto new goroutines
// itself.
func (b *EventBus[T]) Emit(v T) {
	b.mu.Lock()
	subs := make([]func(T), len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	for _, fn := range subs {
		if fn != nil {
			fn(v)
		}
	}
}

// ConnectionEvent is emitted by Server.OnConnection.
type ConnectionEvent struct {
	Session    Session
	RemoteAddr string
}

// SessionErrorResponseEvent is emitted by Server.OnErrorResponse, pairing
// the session with an id:null ErrorResponse it received from its peer.
type SessionErrorResponseEvent struct {
	Session  Session
	Response *ErrorResponse
}

// SessionNotificationErrorEvent is emitted by Server.OnNotificationError,
// only when the session receives an id:null error response (the peer's
// reply to a notification it could not dispatch) whose code is outside the
// parse/invalid-request band.
type SessionNotificationErrorEvent struct {
	Session Session
	Err     *Error
}

// DisconnectEvent is emitted by Client.OnDisconnect.
type DisconnectEvent struct {
	Code   int
	Reason string
}

// ErrorEvent wraps an endpoint-internal error (transport failure, upgrade
// failure) that never touches the wire.
type ErrorEvent struct {
	Err error
}

// ReconnectingEvent is emitted by Client.OnReconnecting when the state
// machine begins sleeping before the Nth reconnection attempt.
type ReconnectingEvent struct {
	Attempt int
}

// ReconnectedEvent is emitted by Client.OnReconnected once the transport
// reopens on a reconnection attempt; Attempt is the number of attempts
// made since the connection was lost (at least 1).
type ReconnectedEvent struct {
	Attempt int
}

// ReconnectFailedEvent is emitted by Client.OnReconnectFailed when the
// configured attempt budget is exhausted.
type ReconnectFailedEvent struct{}

// UnknownResponseEvent is emitted by Client.OnUnknownResponse when a
// method_response arrives whose id matches no pending call.
type UnknownResponseEvent struct {
	Response *Envelope
}

// ClientErrorResponseEvent carries an inbound id:null error response the
// Client received; such a response never matches a pending call.
type ClientErrorResponseEvent struct {
	Response *ErrorResponse
}

// ClientNotificationErrorEvent is Client's side of
// SessionNotificationErrorEvent, fired on the caller that sent a
// notification nobody could handle.
type ClientNotificationErrorEvent struct {
	Err *Error
}
