package services

import (
	"errors"
	"sync"

	"i3gateway/internal/packet"
)

// ErrRequestTimeout is returned by any correlated outbound request (locate,
// who, finger) that gets no reply within its timeout.
var ErrRequestTimeout = errors.New("services: request timed out waiting for reply")

// PendingRequests correlates an outbound request with the eventual router
// reply that answers it: an outbound call registers a key and blocks on
// the returned channel; the handler that receives the matching reply looks
// the key up and wakes the waiter.
type PendingRequests struct {
	mu      sync.Mutex
	waiters map[string]chan *packet.Packet
}

// NewPendingRequests returns an empty correlation table.
func NewPendingRequests() *PendingRequests {
	return &PendingRequests{waiters: make(map[string]chan *packet.Packet)}
}

// Register creates a one-shot wait slot under key. The caller must Cancel
// the key once done waiting, win or lose, to avoid leaking the slot.
func (p *PendingRequests) Register(key string) <-chan *packet.Packet {
	ch := make(chan *packet.Packet, 1)
	p.mu.Lock()
	p.waiters[key] = ch
	p.mu.Unlock()
	return ch
}

// Cancel removes key's wait slot, if still present.
func (p *PendingRequests) Cancel(key string) {
	p.mu.Lock()
	delete(p.waiters, key)
	p.mu.Unlock()
}

// Wake delivers pkt to the waiter registered under key, if any, and
// removes the slot. It reports whether a waiter was found.
func (p *PendingRequests) Wake(key string, pkt *packet.Packet) bool {
	p.mu.Lock()
	ch, ok := p.waiters[key]
	if ok {
		delete(p.waiters, key)
	}
	p.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case ch <- pkt:
	default:
	}
	return true
}
