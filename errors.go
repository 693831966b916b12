package jsonrpc2ws

import (
	"encoding/json"
	"fmt"
)

// JSON-RPC 2.0 reserved error codes.
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603
	ServerError    = -32000
)

var defaultMessages = map[int]string{
	ParseError:     "Parse error",
	InvalidRequest: "Invalid Request",
	MethodNotFound: "Method not found",
	InvalidParams:  "Invalid params",
	InternalError:  "Internal error",
	ServerError:    "Server error",
}

// Error is the JSON-RPC 2.0 error object. It implements the Go error
// interface so handler code can return it directly and have the engine
// pass it through unwrapped when the returned value is already a
// well-formed JSON-RPC error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("jsonrpc2ws: %d %s", e.Code, e.Message)
}

// NewError builds a well-formed error object. When messageOverride is empty
// the built-in default for code is used; data is attached only when
// non-nil.
func NewError(code int, messageOverride string, data any) *Error {
	msg := messageOverride
	if msg == "" {
		if def, ok := defaultMessages[code]; ok {
			msg = def
		} else {
			msg = "Unknown error"
		}
	}
	return &Error{Code: code, Message: msg, Data: data}
}

// AsRPCError reports whether err already carries a well-formed JSON-RPC
// error object, for the "thrown value is already an Error" passthrough
// rule.
func AsRPCError(err error) (*Error, bool) {
	rpcErr, ok := err.(*Error)
	return rpcErr, ok
}

// ServerErrorFrom wraps an arbitrary handler error as a ServerError, using
// the Go type name as the message and the error text as data — the
// "message = error kind, data = error message" convention.
func ServerErrorFrom(err error) *Error {
	if rpcErr, ok := AsRPCError(err); ok {
		return rpcErr
	}
	return &Error{
		Code:    ServerError,
		Message: errorKind(err),
		Data:    err.Error(),
	}
}

func errorKind(err error) string {
	return fmt.Sprintf("%T", err)
}

// UnmarshalJSON decodes a wire error object, leaving Data as a generic
// decoded value (map/slice/scalar) rather than raw JSON.
func (e *Error) UnmarshalJSON(data []byte) error {
	var raw struct {
		Code    int             `json:"code"`
		Message string          `json:"message"`
		Data    json.RawMessage `json:"data,omitempty"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	e.Code = raw.Code
	e.Message = raw.Message
	if len(raw.Data) > 0 {
		var v any
		_ = json.Unmarshal(raw.Data, &v)
		e.Data = v
	}
	return nil
}

// Sentinel messages for endpoint-internal (non-wire) errors, shared by the
// Server/Client/pending-tracker sites in internal/transport and
// internal/pending that construct them.
const (
	ErrMsgServerAlreadyRunning = "server already running"
	ErrMsgNotConnected         = "rejected: not connected"
	ErrMsgDisconnected         = "rejected: disconnected"
	ErrMsgMethodCallTimeout    = "method call timeout"
)
