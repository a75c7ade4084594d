// Package inbox delivers envelopes to handlers at most once per event id.
// Deduplication and the handler's writes share one transaction, so a
// redelivered event is either fully processed or not processed at all.
package inbox

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Sokol111/ecommerce-outbox/pkg/messaging/envelope"
)

var (
	ErrDuplicateHandler = errors.New("handler already registered")
	ErrUnknownEventType = errors.New("no handler for event type")
)

// Handler processes one event. It runs inside the dispatcher's transaction
// and must write through ctx to take part in it.
type Handler interface {
	Handle(ctx context.Context, env envelope.Envelope) error
}

type HandlerFunc func(ctx context.Context, env envelope.Envelope) error

func (f HandlerFunc) Handle(ctx context.Context, env envelope.Envelope) error {
	return f(ctx, env)
}

// Registry maps event types to handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

func (r *Registry) Register(eventType string, h Handler) error {
	if eventType == "" || h == nil {
		return errors.New("event type and handler are required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handlers[eventType]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateHandler, eventType)
	}
	r.handlers[eventType] = h
	return nil
}

func (r *Registry) Lookup(eventType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[eventType]
	return h, ok
}

// EventTypes lists the registered types in no particular order.
func (r *Registry) EventTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	return types
}

// Registration is what services contribute to the "inbox_registrations" group.
type Registration struct {
	EventType string
	Handler   Handler
}
