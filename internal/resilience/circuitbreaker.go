// Package resilience implements the gateway's cross-cutting fault-tolerance
// utilities: a circuit breaker, a retry helper with pluggable backoff
// strategies, a generic connection pool, and phased graceful shutdown.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// CircuitState is one of the three circuit breaker states.
type CircuitState string

const (
	StateClosed   CircuitState = "closed"
	StateOpen     CircuitState = "open"
	StateHalfOpen CircuitState = "half_open"
)

// ErrCircuitOpen is returned by Call when the breaker is OPEN and rejecting
// calls without invoking the protected function.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreakerConfig configures a CircuitBreaker's thresholds.
type CircuitBreakerConfig struct {
	FailureThreshold int
	SuccessThreshold int
	Timeout          time.Duration
}

// DefaultCircuitBreakerConfig returns the gateway's standard breaker
// thresholds.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{FailureThreshold: 5, SuccessThreshold: 2, Timeout: 60 * time.Second}
}

// CircuitBreakerStats tracks call outcomes for one breaker.
type CircuitBreakerStats struct {
	TotalCalls           int
	SuccessfulCalls      int
	FailedCalls          int
	RejectedCalls        int
	LastFailureTime      time.Time
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
}

func (s *CircuitBreakerStats) recordSuccess() {
	s.TotalCalls++
	s.SuccessfulCalls++
	s.ConsecutiveSuccesses++
	s.ConsecutiveFailures = 0
}

func (s *CircuitBreakerStats) recordFailure() {
	s.TotalCalls++
	s.FailedCalls++
	s.ConsecutiveFailures++
	s.ConsecutiveSuccesses = 0
	s.LastFailureTime = time.Now()
}

func (s *CircuitBreakerStats) reset() {
	s.ConsecutiveFailures = 0
	s.ConsecutiveSuccesses = 0
}

// CircuitBreaker protects a call path from cascading failures. State
// transitions are serialized by an internal mutex; the OPEN -> HALF_OPEN
// transition happens both lazily (checked on the next Call after Timeout
// has elapsed) and via a background timer, so a breaker with no further
// traffic still recovers.
type CircuitBreaker struct {
	Name   string
	config CircuitBreakerConfig

	mu    sync.Mutex
	state CircuitState
	stats CircuitBreakerStats
	timer *time.Timer
}

// NewCircuitBreaker returns a breaker named name using config (or its
// defaults when a zero CircuitBreakerConfig is given).
func NewCircuitBreaker(name string, config CircuitBreakerConfig) *CircuitBreaker {
	if config.FailureThreshold == 0 {
		config = DefaultCircuitBreakerConfig()
	}
	return &CircuitBreaker{Name: name, config: config, state: StateClosed}
}

// Call executes fn through the breaker. It returns ErrCircuitOpen without
// calling fn when the breaker is OPEN and its timeout has not elapsed.
func (b *CircuitBreaker) Call(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.beforeCall(); err != nil {
		return err
	}

	err := fn(ctx)
	if err != nil {
		b.onFailure()
		return err
	}
	b.onSuccess()
	return nil
}

func (b *CircuitBreaker) beforeCall() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		if b.shouldAttemptResetLocked() {
			b.transitionToHalfOpenLocked()
		} else {
			b.stats.RejectedCalls++
			return ErrCircuitOpen
		}
	}
	return nil
}

func (b *CircuitBreaker) shouldAttemptResetLocked() bool {
	if b.stats.LastFailureTime.IsZero() {
		return true
	}
	return time.Since(b.stats.LastFailureTime) >= b.config.Timeout
}

func (b *CircuitBreaker) onSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stats.recordSuccess()
	if b.state == StateHalfOpen && b.stats.ConsecutiveSuccesses >= b.config.SuccessThreshold {
		b.transitionToClosedLocked()
	}
}

func (b *CircuitBreaker) onFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stats.recordFailure()
	switch b.state {
	case StateClosed:
		if b.stats.ConsecutiveFailures >= b.config.FailureThreshold {
			b.transitionToOpenLocked()
		}
	case StateHalfOpen:
		b.transitionToOpenLocked()
	}
}

func (b *CircuitBreaker) transitionToOpenLocked() {
	b.state = StateOpen
	if b.timer != nil {
		b.timer.Stop()
	}
	b.timer = time.AfterFunc(b.config.Timeout, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.state == StateOpen {
			b.transitionToHalfOpenLocked()
		}
	})
}

func (b *CircuitBreaker) transitionToHalfOpenLocked() {
	b.state = StateHalfOpen
	b.stats.reset()
}

func (b *CircuitBreaker) transitionToClosedLocked() {
	b.state = StateClosed
	b.stats.reset()
}

// State returns the breaker's current state.
func (b *CircuitBreaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Stats returns a copy of the breaker's call statistics.
func (b *CircuitBreaker) Stats() CircuitBreakerStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

// Reset manually forces the breaker back to CLOSED.
func (b *CircuitBreaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transitionToClosedLocked()
}

// Trip manually forces the breaker to OPEN.
func (b *CircuitBreaker) Trip() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transitionToOpenLocked()
}

// Manager is a named registry of circuit breakers, so callers can look one
// up or create it on first use without threading a reference through every
// layer that might need to trip or inspect it.
type Manager struct {
	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

// NewManager returns an empty breaker registry.
func NewManager() *Manager {
	return &Manager{breakers: map[string]*CircuitBreaker{}}
}

// GetOrCreate returns the named breaker, creating it with config if absent.
func (m *Manager) GetOrCreate(name string, config CircuitBreakerConfig) *CircuitBreaker {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.breakers[name]
	if !ok {
		b = NewCircuitBreaker(name, config)
		m.breakers[name] = b
	}
	return b
}

// All returns every registered breaker, keyed by name.
func (m *Manager) All() map[string]*CircuitBreaker {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]*CircuitBreaker, len(m.breakers))
	for k, v := range m.breakers {
		out[k] = v
	}
	return out
}
