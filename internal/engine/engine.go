// Package engine implements the message-pair engine: the single operation
// Handle(peer, frame) that every connection — server-side Session and
// outbound Client alike — funnels inbound bytes through.
//
// Dispatch is classification by envelope shape rather than a fixed
// command-id switch, cross-checked against mnehpets-oneserve/jsonrpc's
// batch handling for the array/empty-array cases.
package engine

import (
	"context"
	"encoding/json"

	"github.com/kanreisa/jsonrpc2-ws"
	"github.com/kanreisa/jsonrpc2-ws/internal/codec"
	"github.com/kanreisa/jsonrpc2-ws/internal/registry"
)

// Hooks are the event callbacks processOne fires while walking one item.
// Every field is optional; nil hooks are simply skipped. Engine itself
// knows nothing about rooms, sessions, or EventBus — the caller (Session or
// Client) supplies the hooks that translate these into its own events.
type Hooks struct {
	OnResponse          func(env *jsonrpc2ws.Envelope)
	OnMethodResponse    func(env *jsonrpc2ws.Envelope)
	OnErrorResponse     func(env *jsonrpc2ws.Envelope)
	OnNotificationError func(err *jsonrpc2ws.Error)
}

func (h Hooks) onResponse(env *jsonrpc2ws.Envelope) {
	if h.OnResponse != nil {
		h.OnResponse(env)
	}
}

func (h Hooks) onMethodResponse(env *jsonrpc2ws.Envelope) {
	if h.OnMethodResponse != nil {
		h.OnMethodResponse(env)
	}
}

func (h Hooks) onErrorResponse(env *jsonrpc2ws.Envelope) {
	if h.OnErrorResponse != nil {
		h.OnErrorResponse(env)
	}
}

func (h Hooks) onNotificationError(err *jsonrpc2ws.Error) {
	if h.OnNotificationError != nil {
		h.OnNotificationError(err)
	}
}

// Deps bundles what processOne needs beyond the item itself.
type Deps struct {
	Registry *registry.Registry
	Version  jsonrpc2ws.VersionMode
	Hooks    Hooks
}

// Handle runs one inbound frame through the engine: parse, classify every
// item, dispatch, and send back whatever reply (if any) the frame produced
// in the same text/binary mode it arrived in.
func Handle(ctx context.Context, peer jsonrpc2ws.Peer, frame codec.Frame, deps Deps) error {
	items, isBatch, err := codec.Decode(frame.Data)
	switch err {
	case nil:
		// fall through
	case codec.ErrParse:
		return sendOne(peer, errorResponse(jsonrpc2ws.NullID, jsonrpc2ws.NewError(jsonrpc2ws.ParseError, "Invalid JSON", nil)), frame.Binary)
	case codec.ErrEmptyBatch:
		return sendOne(peer, errorResponse(jsonrpc2ws.NullID, jsonrpc2ws.NewError(jsonrpc2ws.InvalidRequest, "", "Empty Array")), frame.Binary)
	default:
		return sendOne(peer, errorResponse(jsonrpc2ws.NullID, jsonrpc2ws.NewError(jsonrpc2ws.ParseError, "Invalid JSON", nil)), frame.Binary)
	}

	replies := make([]any, 0, len(items))
	for _, item := range items {
		reply, ok := ProcessOne(ctx, peer, item, deps)
		if ok {
			replies = append(replies, reply)
		}
	}

	if len(replies) == 0 {
		return nil
	}
	if isBatch {
		return sendMany(peer, replies, frame.Binary)
	}
	return sendOne(peer, replies[0], frame.Binary)
}

// ProcessOne walks one decoded envelope, returning the reply envelope (a *jsonrpc2ws.SuccessResponse or *jsonrpc2ws.ErrorResponse)
// and whether one was produced at all.
func ProcessOne(ctx context.Context, peer jsonrpc2ws.Peer, item *jsonrpc2ws.Envelope, deps Deps) (any, bool) {
	if item == nil {
		return errorResponse(jsonrpc2ws.NullID, jsonrpc2ws.NewError(jsonrpc2ws.InvalidRequest, "", nil)), true
	}

	replyID := item.IDOrNull()

	if !deps.Version.Check(item.HasJSONRPC, item.JSONRPC) {
		return errorResponse(replyID, jsonrpc2ws.NewError(jsonrpc2ws.InvalidRequest, "Invalid JSON-RPC Version", nil)), true
	}

	if item.IsResponse() {
		return processResponse(item, deps)
	}
	return processCall(ctx, peer, item, replyID, deps)
}

func processResponse(item *jsonrpc2ws.Envelope, deps Deps) (any, bool) {
	deps.Hooks.onResponse(item)

	if !jsonrpc2ws.IsNullID(item.IDRaw) {
		deps.Hooks.onMethodResponse(item)
		return nil, false
	}

	// id === null.
	if !item.HasError {
		return errorResponse(jsonrpc2ws.NullID, jsonrpc2ws.NewError(jsonrpc2ws.InvalidRequest, "", nil)), true
	}

	deps.Hooks.onErrorResponse(item)

	var rpcErr jsonrpc2ws.Error
	_ = json.Unmarshal(item.ErrorRaw, &rpcErr)
	if rpcErr.Code != jsonrpc2ws.ParseError && rpcErr.Code != jsonrpc2ws.InvalidRequest {
		deps.Hooks.onNotificationError(&rpcErr)
	}
	return nil, false
}

func processCall(ctx context.Context, peer jsonrpc2ws.Peer, item *jsonrpc2ws.Envelope, replyID json.RawMessage, deps Deps) (any, bool) {
	if !item.HasMethod {
		return errorResponse(replyID, jsonrpc2ws.NewError(jsonrpc2ws.MethodNotFound, "Method not specified", nil)), true
	}

	method, isString := item.MethodString()
	if !isString {
		return errorResponse(replyID, jsonrpc2ws.NewError(jsonrpc2ws.InvalidRequest, "Invalid type of method name", nil)), true
	}
	if method == "" {
		return errorResponse(replyID, jsonrpc2ws.NewError(jsonrpc2ws.MethodNotFound, "Method not specified", nil)), true
	}

	if !item.ParamsValid() {
		return errorResponse(replyID, jsonrpc2ws.NewError(jsonrpc2ws.InvalidRequest, "", nil)), true
	}

	handler, ok := deps.Registry.Lookup(method)
	if !ok {
		return errorResponse(replyID, jsonrpc2ws.NewError(jsonrpc2ws.MethodNotFound, "", nil)), true
	}

	var params json.RawMessage
	if item.HasParams {
		params = item.ParamsRaw
	}

	isNotification := !item.HasID
	result, err := handler(ctx, peer, params)

	if isNotification {
		// Handler-level outcomes are never wired back for a notification;
		// only the structural failures above ever reply.
		return nil, false
	}

	if err != nil {
		return errorResponse(replyID, jsonrpc2ws.ServerErrorFrom(err)), true
	}
	return successResponse(replyID, result), true
}

func successResponse(id json.RawMessage, result any) *jsonrpc2ws.SuccessResponse {
	raw, err := json.Marshal(result)
	if err != nil {
		raw = jsonrpc2ws.NullID
	}
	return &jsonrpc2ws.SuccessResponse{
		JSONRPC: jsonrpc2ws.Version,
		Result:  raw,
		ID:      id,
	}
}

func errorResponse(id json.RawMessage, rpcErr *jsonrpc2ws.Error) *jsonrpc2ws.ErrorResponse {
	return &jsonrpc2ws.ErrorResponse{
		JSONRPC: jsonrpc2ws.Version,
		Error:   rpcErr,
		ID:      id,
	}
}

func sendOne(peer jsonrpc2ws.Peer, v any, binary bool) error {
	frame, err := codec.EncodeOne(v, binary)
	if err != nil {
		return err
	}
	return peer.SendFrame(frame.Data, frame.Binary)
}

func sendMany(peer jsonrpc2ws.Peer, vs []any, binary bool) error {
	frame, err := codec.EncodeBatch(vs, binary)
	if err != nil {
		return err
	}
	return peer.SendFrame(frame.Data, frame.Binary)
}
