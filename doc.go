// Package jsonrpc2ws provides a bidirectional JSON-RPC 2.0 framework over a
// persistent, message-framed, full-duplex connection (WebSocket).
//
// Either peer can act as a caller, issuing requests and notifications and
// receiving responses, and as a callee, registering method handlers that
// produce responses or side effects. The message-pair engine that parses,
// validates, classifies, and dispatches frames is shared verbatim by both
// sides of the connection; only the transport wiring differs.
//
// # Server
//
// A Server multiplexes many peer connections (Sessions), groups them into
// named rooms for notification fan-out, and heartbeats them with WebSocket
// ping/pong frames:
//
//	cfg := ws.DefaultServerConfig(":8080")
//	srv, _ := ws.NewServer(cfg)
//	srv.RegisterMethod("add", func(ctx context.Context, peer jsonrpc2ws.Peer, params json.RawMessage) (any, error) {
//	    var args struct{ A, B float64 }
//	    if err := json.Unmarshal(params, &args); err != nil {
//	        return nil, jsonrpc2ws.NewError(jsonrpc2ws.InvalidParams, "", nil)
//	    }
//	    return args.A + args.B, nil
//	})
//
// # Client
//
// A Client holds a single outbound connection with automatic reconnection,
// exponential backoff with jitter, and per-call timeouts:
//
//	c := ws.NewClient(ws.DefaultClientConfig("ws://localhost:8080/ws"))
//	result, err := c.Call(ctx, "add", map[string]float64{"a": 1, "b": 2})
//
// # Protocol format
//
// Frames are JSON-RPC 2.0 envelopes, singular or batched, carried as UTF-8
// text or binary WebSocket frames; a response always travels in the same
// mode as the request that produced it. See envelope.go and errors.go for
// the wire grammar and error catalogue.
package jsonrpc2ws
