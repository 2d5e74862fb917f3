package job

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrUnknownType is returned when a job's type has no registered handler.
// It flows through the same retry/failure path as any handler error.
var ErrUnknownType = errors.New("unknown job type")

// Handler executes one job. A nil return completes the job; any error sends
// it through the retry/failure path. Handlers must honor ctx cancellation.
type Handler interface {
	Execute(ctx context.Context, j Job) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, j Job) error

func (f HandlerFunc) Execute(ctx context.Context, j Job) error { return f(ctx, j) }

// Registry maps job types to handlers. Registration happens at startup;
// lookups happen on every dispatch.
type Registry struct {
	mu       sync.RWMutex
	handlers map[Type]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[Type]Handler)}
}

func (r *Registry) Register(typ Type, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[typ] = h
}

func (r *Registry) Lookup(typ Type) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[typ]
	return h, ok
}

// Dispatch runs the handler for j, failing closed on unknown types.
func (r *Registry) Dispatch(ctx context.Context, j Job) error {
	h, ok := r.Lookup(j.Type)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownType, j.Type)
	}
	return h.Execute(ctx, j)
}
