package pluginipc

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/vinayprograms/crucible/internal/crucibleerr"
)

// RequestHandler handles one inbound operation, returning a JSON-encodable
// result or an error (surfaced to the plugin as ResponsePayload.Error).
type RequestHandler func(ctx context.Context, pluginID string, arguments json.RawMessage) (interface{}, error)

// HandlerRegistry maps operation name to RequestHandler (§4.D.2
// "RequestHandler registry keyed by operation name").
type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[string]RequestHandler
}

// NewHandlerRegistry returns an empty registry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: map[string]RequestHandler{}}
}

// Register associates operation with handler, replacing any prior handler
// for the same operation.
func (r *HandlerRegistry) Register(operation string, handler RequestHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[operation] = handler
}

// Dispatch looks up and invokes the handler for operation.
func (r *HandlerRegistry) Dispatch(ctx context.Context, pluginID, operation string, arguments json.RawMessage) (interface{}, error) {
	r.mu.RLock()
	handler, ok := r.handlers[operation]
	r.mu.RUnlock()
	if !ok {
		return nil, crucibleerr.New(crucibleerr.NotFound, "no handler registered for operation: "+operation)
	}
	return handler(ctx, pluginID, arguments)
}
