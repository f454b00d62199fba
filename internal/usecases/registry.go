package usecases

import (
	"context"
	"fmt"
	"sort"

	"github.com/FreePeak/golang-mcp-gateway/internal/domain/handler"
	"github.com/FreePeak/golang-mcp-gateway/internal/domain/shared"
)

// Registry maps method names to handlers. It is built once and never
// mutated afterwards, so lookups take no lock.
type Registry struct {
	handlers map[string]handler.RequestHandler
	fallback handler.RequestHandler
}

// NewRegistry copies handlers into a new registry. A nil fallback answers
// unknown methods with MethodNotFound.
func NewRegistry(handlers map[string]handler.RequestHandler, fallback handler.RequestHandler) *Registry {
	copied := make(map[string]handler.RequestHandler, len(handlers))
	for method, h := range handlers {
		copied[method] = h
	}
	if fallback == nil {
		fallback = MethodNotFound
	}
	return &Registry{handlers: copied, fallback: fallback}
}

// Lookup returns the handler for method. The second result is false when the
// fallback was returned.
func (r *Registry) Lookup(method string) (handler.RequestHandler, bool) {
	if h, ok := r.handlers[method]; ok {
		return h, true
	}
	return r.fallback, false
}

// Methods returns the registered method names in sorted order.
func (r *Registry) Methods() []string {
	methods := make([]string, 0, len(r.handlers))
	for m := range r.handlers {
		methods = append(methods, m)
	}
	sort.Strings(methods)
	return methods
}

// MethodNotFound is the default fallback handler.
func MethodNotFound(_ context.Context, req *handler.Request) (interface{}, error) {
	return nil, shared.NewError(shared.MethodNotFound, fmt.Sprintf("method not found: %s", req.Method), nil)
}
