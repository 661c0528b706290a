package event

import (
	"context"
	"sync"

	"github.com/zllovesuki/stripemirror/external"
)

// Handler reacts to a confirmed event. data is the event's data.object; the
// rest of the validated data, such as previous_attributes, is read from e.
type Handler interface {
	Handle(ctx context.Context, e *Event, data external.Object, category, subtype string) error
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(ctx context.Context, e *Event, data external.Object, category, subtype string) error

func (f HandlerFunc) Handle(ctx context.Context, e *Event, data external.Object, category, subtype string) error {
	return f(ctx, e, data, category, subtype)
}

// Registry maps event types to handlers
type Registry struct {
	mu       sync.RWMutex
	exact    map[string][]Handler
	wildcard map[string][]Handler
}

func NewRegistry() *Registry {
	return &Registry{
		exact:    make(map[string][]Handler),
		wildcard: make(map[string][]Handler),
	}
}

// Register adds h for events of exactly category.subtype
func (r *Registry) Register(category, subtype string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := category + "." + subtype
	r.exact[key] = append(r.exact[key], h)
}

// RegisterCategory adds h for every event of category
func (r *Registry) RegisterCategory(category string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.wildcard[category] = append(r.wildcard[category], h)
}

// Handlers returns the exact handlers followed by the category handlers,
// each in registration order
func (r *Registry) Handlers(category, subtype string) []Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	exact := r.exact[category+"."+subtype]
	wildcard := r.wildcard[category]
	handlers := make([]Handler, 0, len(exact)+len(wildcard))
	handlers = append(handlers, exact...)
	return append(handlers, wildcard...)
}
