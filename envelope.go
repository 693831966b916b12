package jsonrpc2ws

import (
	"encoding/json"
	"errors"
)

// Version is the only JSON-RPC version this implementation understands.
const Version = "2.0"

// ErrNotObject is returned by Envelope.UnmarshalJSON when a batch item (or
// the whole frame, for a non-batch request) is valid JSON but not a JSON
// object — e.g. a bare string, number, or array. This collapses to
// InvalidRequest with id:null.
var ErrNotObject = errors.New("jsonrpc2ws: envelope is not a JSON object")

// NullID is the wire representation of a null id.
var NullID = json.RawMessage("null")

// Envelope is the permissive, field-presence-tracking view of a decoded
// JSON-RPC object used during validation and classification. Unlike the
// typed Request/Notification/*Response below — which are
// used only to *produce* wire bytes — Envelope preserves whether a key was
// present at all, which the grammar depends on: a Response is distinguished
// from a malformed call by the presence of "result"/"error", not by their
// zero values.
type Envelope struct {
	HasJSONRPC bool
	JSONRPC    string

	HasMethod bool
	MethodRaw json.RawMessage

	HasParams bool
	ParamsRaw json.RawMessage

	HasID bool
	IDRaw json.RawMessage

	HasResult bool
	ResultRaw json.RawMessage

	HasError bool
	ErrorRaw json.RawMessage
}

// UnmarshalJSON implements defensive, presence-tracking decoding. It never
// fails on a well-formed-but-wrong-shaped object; it only fails (with
// ErrNotObject) when the JSON value itself isn't an object.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return ErrNotObject
	}

	if v, ok := raw["jsonrpc"]; ok {
		e.HasJSONRPC = true
		_ = json.Unmarshal(v, &e.JSONRPC) // leave "" if not a string; caller rejects
	}
	if v, ok := raw["method"]; ok {
		e.HasMethod = true
		e.MethodRaw = v
	}
	if v, ok := raw["params"]; ok {
		e.HasParams = true
		e.ParamsRaw = v
	}
	if v, ok := raw["id"]; ok {
		e.HasID = true
		e.IDRaw = v
	}
	if v, ok := raw["result"]; ok {
		e.HasResult = true
		e.ResultRaw = v
	}
	if v, ok := raw["error"]; ok {
		e.HasError = true
		e.ErrorRaw = v
	}
	return nil
}

// IsResponse classifies the envelope: it is a Response iff "id" is
// present AND either "result" or "error" is present.
func (e *Envelope) IsResponse() bool {
	return e.HasID && (e.HasResult || e.HasError)
}

// IDOrNull returns the envelope's id, normalized to the literal "null" when
// absent or explicitly null.
func (e *Envelope) IDOrNull() json.RawMessage {
	if !e.HasID || IsNullID(e.IDRaw) {
		return NullID
	}
	return e.IDRaw
}

// IsNullID reports whether a raw id value is absent or JSON null.
func IsNullID(id json.RawMessage) bool {
	return len(id) == 0 || string(id) == "null"
}

// MethodString returns the method name and whether it decoded as a string.
// A present-but-non-string "method" key is a distinct error case from an
// absent one.
func (e *Envelope) MethodString() (string, bool) {
	if !e.HasMethod {
		return "", false
	}
	var s string
	if err := json.Unmarshal(e.MethodRaw, &s); err != nil {
		return "", false
	}
	return s, true
}

// ParamsValid reports whether a present "params" value is an object or
// array (null counts as absent).
func (e *Envelope) ParamsValid() bool {
	if !e.HasParams {
		return true
	}
	trimmed := skipWhitespace(e.ParamsRaw)
	if len(trimmed) == 0 {
		return true
	}
	switch trimmed[0] {
	case '{', '[':
		return true
	case 'n': // null
		return true
	default:
		return false
	}
}

func skipWhitespace(b []byte) []byte {
	i := 0
	for i < len(b) {
		switch b[i] {
		case ' ', '\t', '\n', '\r':
			i++
		default:
			return b[i:]
		}
	}
	return b[i:]
}

// Request is the wire shape of an outbound call expecting a response.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      json.RawMessage `json:"id"`
}

// Notification is the wire shape of an outbound call with no id.
type Notification struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// SuccessResponse is the wire shape of a successful reply.
type SuccessResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	ID      json.RawMessage `json:"id"`
}

// ErrorResponse is the wire shape of a failed reply.
type ErrorResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Error   *Error          `json:"error"`
	ID      json.RawMessage `json:"id"`
}

// EncodeID marshals a string, integer, or nil into a wire id value.
func EncodeID(id any) json.RawMessage {
	if id == nil {
		return NullID
	}
	data, err := json.Marshal(id)
	if err != nil {
		return NullID
	}
	return data
}
