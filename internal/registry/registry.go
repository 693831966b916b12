// Package registry implements the method registry: a mapping from method
// name to handler, with O(1) lookup and lock-free reads via sync.Map,
// generalized from command-ID keys to method-name keys.
package registry

import (
	"sync"

	"github.com/kanreisa/jsonrpc2-ws"
)

// Registry is a concurrency-safe method table. The zero value is an empty,
// usable registry; New returns one.
type Registry struct {
	handlers sync.Map // map[string]jsonrpc2ws.MethodHandler
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{}
}

// Register installs or replaces the handler for method.
func (r *Registry) Register(method string, handler jsonrpc2ws.MethodHandler) {
	r.handlers.Store(method, handler)
}

// Unregister removes method, if present.
func (r *Registry) Unregister(method string) {
	r.handlers.Delete(method)
}

// Clear removes every registered method.
func (r *Registry) Clear() {
	r.handlers.Range(func(key, _ any) bool {
		r.handlers.Delete(key)
		return true
	})
}

// Lookup returns the handler for method, if registered. A lookup executed
// concurrently with a Register/Unregister observes either the old or the
// new mapping atomically — never a partially-updated one.
func (r *Registry) Lookup(method string) (jsonrpc2ws.MethodHandler, bool) {
	v, ok := r.handlers.Load(method)
	if !ok {
		return nil, false
	}
	handler, ok := v.(jsonrpc2ws.MethodHandler)
	return handler, ok
}
