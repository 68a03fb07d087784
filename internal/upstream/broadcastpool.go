package upstream

import (
	"context"
	"sync"

	"i3gateway/internal/lpc"
)

// BroadcastPool holds up to MaxConnections router managers for broadcast or
// round-robin load-balanced sends, skipping managers that are not currently
// connected. It is distinct from resilience.Pool: pool members are
// long-lived connection managers the caller owns, not short-lived acquired
// resources.
type BroadcastPool struct {
	maxConnections int

	mu       sync.Mutex
	managers []*ConnectionManager
	next     int
}

// NewBroadcastPool returns an empty pool accepting up to maxConnections
// managers.
func NewBroadcastPool(maxConnections int) *BroadcastPool {
	if maxConnections <= 0 {
		maxConnections = 3
	}
	return &BroadcastPool{maxConnections: maxConnections}
}

// Add starts manager's connection lifecycle and adds it to the pool. It
// fails once the pool is at MaxConnections.
func (p *BroadcastPool) Add(ctx context.Context, manager *ConnectionManager) bool {
	p.mu.Lock()
	if len(p.managers) >= p.maxConnections {
		p.mu.Unlock()
		return false
	}
	p.managers = append(p.managers, manager)
	p.mu.Unlock()

	manager.Start(ctx)
	return true
}

// Remove stops and drops manager from the pool.
func (p *BroadcastPool) Remove(manager *ConnectionManager) {
	p.mu.Lock()
	idx := -1
	for i, m := range p.managers {
		if m == manager {
			idx = i
			break
		}
	}
	if idx >= 0 {
		p.managers = append(p.managers[:idx], p.managers[idx+1:]...)
	}
	p.mu.Unlock()

	if idx >= 0 {
		manager.Stop()
	}
}

// Get returns the next connected manager in round-robin order, or nil if
// none are connected.
func (p *BroadcastPool) Get() *ConnectionManager {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.managers)
	for i := 0; i < n; i++ {
		m := p.managers[p.next]
		p.next = (p.next + 1) % n
		if m.IsConnected() {
			return m
		}
	}
	return nil
}

// Broadcast sends v through every connected manager in the pool, returning
// the number of successful sends.
func (p *BroadcastPool) Broadcast(v lpc.Value) int {
	p.mu.Lock()
	managers := append([]*ConnectionManager{}, p.managers...)
	p.mu.Unlock()

	sent := 0
	for _, m := range managers {
		if !m.IsConnected() {
			continue
		}
		if err := m.Send(v); err == nil {
			sent++
		}
	}
	return sent
}

// CloseAll stops every manager in the pool and empties it.
func (p *BroadcastPool) CloseAll() {
	p.mu.Lock()
	managers := append([]*ConnectionManager{}, p.managers...)
	p.managers = nil
	p.mu.Unlock()

	var wg sync.WaitGroup
	for _, m := range managers {
		wg.Add(1)
		go func(m *ConnectionManager) {
			defer wg.Done()
			m.Stop()
		}(m)
	}
	wg.Wait()
}
