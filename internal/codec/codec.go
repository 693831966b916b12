// Package codec implements the stateless JSON encode/decode half of the
// wire protocol: it recognizes single envelopes and non-empty batches, and
// preserves the text/binary framing mode so a reply goes out the same way
// the request came in.
package codec

import (
	"bytes"
	"encoding/json"
	"errors"

	"github.com/kanreisa/jsonrpc2-ws"
)

// ErrParse indicates the frame was not valid JSON at all.
var ErrParse = errors.New("codec: invalid JSON")

// ErrEmptyBatch indicates the frame was a JSON array with no elements.
var ErrEmptyBatch = errors.New("codec: empty batch")

// Frame is one inbound or outbound unit on the wire: bytes plus the
// WebSocket framing mode they travelled (or should travel) in.
type Frame struct {
	Data   []byte
	Binary bool
}

// Decode parses a frame into its envelope items and whether it was a batch.
// A batch item that is valid JSON but not an object is represented as a nil
// *jsonrpc2ws.Envelope — the engine treats that the same as a malformed
// non-batch item, which also replies InvalidRequest.
func Decode(data []byte) (items []*jsonrpc2ws.Envelope, isBatch bool, err error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, false, ErrParse
	}

	if trimmed[0] == '[' {
		var raw []json.RawMessage
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return nil, true, ErrParse
		}
		if len(raw) == 0 {
			return nil, true, ErrEmptyBatch
		}
		items = make([]*jsonrpc2ws.Envelope, len(raw))
		for i, r := range raw {
			env := &jsonrpc2ws.Envelope{}
			if err := json.Unmarshal(r, env); err == nil {
				items[i] = env
			}
			// else: leave nil — "not an object" batch item.
		}
		return items, true, nil
	}

	env := &jsonrpc2ws.Envelope{}
	if err := json.Unmarshal(trimmed, env); err != nil {
		if errors.Is(err, jsonrpc2ws.ErrNotObject) {
			return []*jsonrpc2ws.Envelope{nil}, false, nil
		}
		return nil, false, ErrParse
	}
	return []*jsonrpc2ws.Envelope{env}, false, nil
}

// EncodeOne marshals a single outbound envelope (Request, Notification,
// SuccessResponse, or ErrorResponse) into a frame.
func EncodeOne(v any, binary bool) (Frame, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Data: data, Binary: binary}, nil
}

// EncodeBatch marshals a slice of outbound envelopes as a JSON array.
func EncodeBatch(vs []any, binary bool) (Frame, error) {
	data, err := json.Marshal(vs)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Data: data, Binary: binary}, nil
}
