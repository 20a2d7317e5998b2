package tools

import (
	"context"
	"sort"
	"sync"

	"github.com/adze-dev/adze/pkg/models"
)

// Resolver executes one kind of tool call. Implementations receive exactly
// the variants their binding declares and may type-assert accordingly.
type Resolver interface {
	Resolve(ctx context.Context, call models.ToolCall) (*models.ToolResult, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, call models.ToolCall) (*models.ToolResult, error)

// Resolve calls the function.
func (f ResolverFunc) Resolve(ctx context.Context, call models.ToolCall) (*models.ToolResult, error) {
	return f(ctx, call)
}

// Registry maps the tool-call discriminant (the wire tag) to its resolver.
// The call kinds themselves form a closed sum type; the map exists only for
// resolver binding, never to admit unknown kinds. Unbound kinds surface as a
// resolution error at dispatch, not a crash.
type Registry struct {
	mu        sync.RWMutex
	resolvers map[string]Resolver
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{resolvers: make(map[string]Resolver)}
}

// Bind attaches the resolver for a kind, replacing any previous binding.
func (r *Registry) Bind(name string, res Resolver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resolvers[name] = res
}

// BindFunc is Bind for a bare function.
func (r *Registry) BindFunc(name string, fn func(ctx context.Context, call models.ToolCall) (*models.ToolResult, error)) {
	r.Bind(name, ResolverFunc(fn))
}

// Lookup returns the resolver bound to the call's kind.
func (r *Registry) Lookup(call models.ToolCall) (Resolver, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res, ok := r.resolvers[call.Name()]
	return res, ok
}

// Names returns the bound kinds in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.resolvers))
	for name := range r.resolvers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
