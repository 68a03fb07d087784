package dispatch

import (
	"context"
	"fmt"
	"sync"

	"i3gateway/internal/packet"
)

// Handler processes one or more I3 packet type_tags for local delivery.
type Handler interface {
	// Types lists the type_tags this handler accepts.
	Types() []packet.Type
	// RequiresSession reports whether this handler only makes sense for a
	// locally-authenticated downstream user.
	RequiresSession() bool
	// Validate runs before Handle. A false return drops the packet
	// silently (counted, no reply).
	Validate(p *packet.Packet) bool
	// Handle processes p, optionally returning a reply packet to send
	// back through the router.
	Handle(ctx context.Context, p *packet.Packet) (*packet.Packet, error)
}

// Registry maps packet type_tags to the handler responsible for them.
// Registration only happens once at startup, so Register panics on a
// duplicate type rather than returning a softer error: the simplicity of
// panicking on a programmer error outweighs threading an error return
// through every call site.
type Registry struct {
	mu       sync.RWMutex
	handlers map[packet.Type]Handler
}

// NewRegistry returns an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[packet.Type]Handler)}
}

// Register adds h for every type it declares. It panics if any of those
// types already has a handler.
func (r *Registry) Register(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, t := range h.Types() {
		if _, exists := r.handlers[t]; exists {
			panic(fmt.Sprintf("dispatch: duplicate handler registration for type %q", t))
		}
	}
	for _, t := range h.Types() {
		r.handlers[t] = h
	}
}

// Lookup returns the handler registered for t, if any.
func (r *Registry) Lookup(t packet.Type) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[t]
	return h, ok
}
