package jobs

import (
	"context"
	"fmt"
)

// Handler executes one stage. It returns the output reference that becomes
// the next stage's input; it must be idempotent with respect to that output
// (deterministic overwrite or explicit refusal when it already exists).
type Handler interface {
	Run(ctx context.Context, p Payload) (resultRef string, err error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, p Payload) (string, error)

func (f HandlerFunc) Run(ctx context.Context, p Payload) (string, error) {
	return f(ctx, p)
}

// Registry maps job kinds to their handlers. Registration is the only way
// in, so a kind without a handler is caught at startup, not at dispatch.
type Registry struct {
	handlers map[Kind]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[Kind]Handler)}
}

// Register binds a handler to a kind. Duplicate or unknown kinds are
// programming errors surfaced immediately.
func (r *Registry) Register(kind Kind, h Handler) error {
	if _, err := ParseKind(string(kind)); err != nil {
		return err
	}
	if _, exists := r.handlers[kind]; exists {
		return fmt.Errorf("handler already registered for kind %s", kind)
	}
	if h == nil {
		return fmt.Errorf("nil handler for kind %s", kind)
	}
	r.handlers[kind] = h
	return nil
}

// Handler looks up the handler for a kind.
func (r *Registry) Handler(kind Kind) (Handler, error) {
	h, ok := r.handlers[kind]
	if !ok {
		return nil, fmt.Errorf("no handler registered for kind %s", kind)
	}
	return h, nil
}

// Kinds returns the registered kinds, for broker claims.
func (r *Registry) Kinds() []Kind {
	out := make([]Kind, 0, len(r.handlers))
	for k := range r.handlers {
		out = append(out, k)
	}
	return out
}
