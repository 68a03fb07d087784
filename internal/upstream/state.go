// Package upstream implements the router connection manager: the gateway's
// single upstream I3 session, its state machine, priority-ordered failover,
// exponential backoff with jitter, keepalive, and send/receive loops.
package upstream

import (
	"math/rand"
	"sync"
	"time"
)

// ConnectionState is one of the seven states the connection manager's
// session can be in.
type ConnectionState string

const (
	StateDisconnected   ConnectionState = "disconnected"
	StateConnecting     ConnectionState = "connecting"
	StateConnected      ConnectionState = "connected"
	StateAuthenticating ConnectionState = "authenticating"
	StateReady          ConnectionState = "ready"
	StateError          ConnectionState = "error"
	StateClosing        ConnectionState = "closing"
)

// RouterInfo describes one candidate I3 router and its failover bookkeeping.
type RouterInfo struct {
	Name         string
	Address      string
	Port         int
	Priority     int
	LastAttempt  time.Time
	LastSuccess  time.Time
	FailureCount int

	mu sync.Mutex
}

// BackoffTime returns the exponential backoff (base 5s, capped at 300s)
// plus 0-10% jitter that FailureCount currently implies. Zero failures
// means no backoff at all.
func (r *RouterInfo) BackoffTime(rng *rand.Rand) time.Duration {
	r.mu.Lock()
	n := r.FailureCount
	r.mu.Unlock()
	if n == 0 {
		return 0
	}
	const maxBackoff = 300 * time.Second
	const base = 5 * time.Second

	backoff := base * time.Duration(1<<uint(n-1))
	if backoff > maxBackoff || backoff <= 0 {
		backoff = maxBackoff
	}
	jitter := time.Duration(rng.Float64() * 0.1 * float64(backoff))
	return backoff + jitter
}

// CanAttempt reports whether enough time has elapsed since LastAttempt for
// another connection attempt, given the current failure-derived backoff.
func (r *RouterInfo) CanAttempt(rng *rand.Rand) bool {
	r.mu.Lock()
	n := r.FailureCount
	last := r.LastAttempt
	r.mu.Unlock()
	if n == 0 {
		return true
	}
	return time.Since(last) >= r.BackoffTime(rng)
}

func (r *RouterInfo) recordAttempt() {
	r.mu.Lock()
	r.LastAttempt = time.Now()
	r.mu.Unlock()
}

func (r *RouterInfo) recordSuccess() {
	r.mu.Lock()
	r.LastSuccess = time.Now()
	r.FailureCount = 0
	r.mu.Unlock()
}

func (r *RouterInfo) recordFailure() {
	r.mu.Lock()
	r.FailureCount++
	r.mu.Unlock()
}

func (r *RouterInfo) snapshot() RouterInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return RouterInfo{
		Name: r.Name, Address: r.Address, Port: r.Port, Priority: r.Priority,
		LastAttempt: r.LastAttempt, LastSuccess: r.LastSuccess, FailureCount: r.FailureCount,
	}
}

// ConnectionStats accumulates counters for one ConnectionManager's lifetime.
type ConnectionStats struct {
	PacketsSent     int64
	PacketsReceived int64
	BytesSent       int64
	BytesReceived   int64
	ConnectionTime  time.Time
	ReconnectCount  int64
	LastError       string
}
