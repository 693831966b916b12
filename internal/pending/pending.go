// Package pending implements the caller-side pending-call tracker: it maps
// an outbound integer request id to a timer and a completion handle,
// resolving on a matching response and rejecting on timeout or disconnect.
//
// It plays the same role on the caller side that
// github.com/gate4ai/mcp/shared's RequestManager plays for its session
// type — register a callback keyed by request id, fire it exactly once —
// generalized here to a channel-based future instead of a callback, since
// the Client's API is request/response rather than callback-shaped.
package pending

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/kanreisa/jsonrpc2-ws"
)

// ErrTimeout is the rejection reason when methodCallTimeout elapses before
// a response arrives.
var ErrTimeout = errors.New("jsonrpc2ws: " + jsonrpc2ws.ErrMsgMethodCallTimeout)

// ErrDisconnected is the rejection reason used for every pending call still
// outstanding when the connection is explicitly disconnected or closes
// with reconnection disabled.
var ErrDisconnected = errors.New("jsonrpc2ws: " + jsonrpc2ws.ErrMsgDisconnected)

// Result is what a Future resolves to: either Raw (a successful result) or
// RPCErr (a wire-level JSON-RPC error), never both. Err carries an
// endpoint-internal failure (timeout, disconnect) that never touched the
// wire.
type Result struct {
	Raw    json.RawMessage
	RPCErr *jsonrpc2ws.Error
	Err    error
}

// Future is a single-resolution handle for one outstanding call.
type Future struct {
	ch chan Result
}

// Wait blocks until the call resolves or ctx is cancelled.
func (f *Future) Wait(ctx context.Context) (json.RawMessage, error) {
	select {
	case r := <-f.ch:
		if r.Err != nil {
			return nil, r.Err
		}
		if r.RPCErr != nil {
			return nil, r.RPCErr
		}
		return r.Raw, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type call struct {
	timer *time.Timer
	ch    chan Result
	once  sync.Once
}

func (c *call) complete(r Result) {
	c.once.Do(func() {
		if c.timer != nil {
			c.timer.Stop()
		}
		c.ch <- r
		close(c.ch)
	})
}

// Tracker owns the id counter and the outstanding-call table for one
// caller (a Client).
type Tracker struct {
	mu      sync.Mutex
	nextID  int64
	pending map[int64]*call
}

// New creates an empty tracker with its id counter starting at 0
// at 0 and counting up monotonically.
func New() *Tracker {
	return &Tracker{pending: make(map[int64]*call)}
}

// NextID returns the next request id and advances the counter.
func (t *Tracker) NextID() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextID
	t.nextID++
	return id
}

// Register records a pending call and starts its timeout timer. The
// returned Future resolves exactly once, via response arrival, timeout, or
// a later CloseAll.
func (t *Tracker) Register(id int64, timeout time.Duration) *Future {
	c := &call{ch: make(chan Result, 1)}
	t.mu.Lock()
	t.pending[id] = c
	t.mu.Unlock()

	c.timer = time.AfterFunc(timeout, func() {
		t.mu.Lock()
		delete(t.pending, id)
		t.mu.Unlock()
		c.complete(Result{Err: ErrTimeout})
	})

	return &Future{ch: c.ch}
}

// Cancel removes a pending call without resolving it (used when a send
// that would have registered the call never actually went out).
func (t *Tracker) Cancel(id int64) {
	t.mu.Lock()
	c, ok := t.pending[id]
	if ok {
		delete(t.pending, id)
	}
	t.mu.Unlock()
	if ok && c.timer != nil {
		c.timer.Stop()
	}
}

// Resolve consumes a decoded method_response envelope. It reports whether the response was consumed; false means the engine's
// unknown_response event should fire.
func (t *Tracker) Resolve(env *jsonrpc2ws.Envelope) bool {
	id, ok := numericID(env.IDRaw)
	if !ok {
		return false
	}

	t.mu.Lock()
	c, ok := t.pending[id]
	if ok {
		delete(t.pending, id)
	}
	t.mu.Unlock()
	if !ok {
		return false
	}

	if env.HasError {
		var rpcErr jsonrpc2ws.Error
		_ = json.Unmarshal(env.ErrorRaw, &rpcErr)
		c.complete(Result{RPCErr: &rpcErr})
		return true
	}
	c.complete(Result{Raw: env.ResultRaw})
	return true
}

// numericID reports whether a raw id decodes as a JSON number, and its
// value. String ids are reserved for other uses, so a string response id
// is, by construction, not one of ours.
func numericID(raw json.RawMessage) (int64, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, false
	}
	return n, true
}

// CloseAll cancels every outstanding timer and rejects every pending call
// with err, then empties the table.
func (t *Tracker) CloseAll(err error) {
	t.mu.Lock()
	calls := make([]*call, 0, len(t.pending))
	for id, c := range t.pending {
		calls = append(calls, c)
		delete(t.pending, id)
	}
	t.mu.Unlock()

	for _, c := range calls {
		c.complete(Result{Err: err})
	}
}

// Len reports the number of outstanding calls, mainly for tests asserting
// the table is empty after a timeout or disconnect.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}
