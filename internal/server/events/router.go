package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/dmitrijs2005/docseal/internal/logging"
)

// Handler processes one envelope.
type Handler func(ctx context.Context, env Envelope) error

// Router dispatches envelopes to the handler registered for their type.
// Unknown types are skipped and handler failures are logged, never retried.
type Router struct {
	mu       sync.RWMutex
	handlers map[Type]Handler
	log      logging.Logger
}

func NewRouter(log logging.Logger) *Router {
	return &Router{handlers: map[Type]Handler{}, log: log.With("module", "events")}
}

func (r *Router) Handle(t Type, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[t] = h
}

// Ignore registers t as known but needing no work here, e.g. events this
// process published itself.
func (r *Router) Ignore(types ...Type) {
	for _, t := range types {
		r.Handle(t, func(context.Context, Envelope) error { return nil })
	}
}

// Dispatch runs the handler for env and returns its error after logging it.
func (r *Router) Dispatch(ctx context.Context, env Envelope) error {
	r.mu.RLock()
	h, ok := r.handlers[env.Type]
	r.mu.RUnlock()

	log := r.log.With("event_id", env.ID, "event_type", string(env.Type), "key", env.Key)
	if !ok {
		log.Warn(ctx, "no handler for event type, skipped")
		return nil
	}

	if err := h(ctx, env); err != nil {
		log.Error(ctx, "event handler failed, message dropped", "error", err)
		return fmt.Errorf("handle %s: %w", env.Type, err)
	}
	log.Debug(ctx, "event handled")
	return nil
}
