package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrPoolClosed is returned by Acquire once Close has been called.
var ErrPoolClosed = errors.New("resilience: pool closed")

// ErrAcquireTimeout is returned by Acquire when no resource becomes
// available within the pool's AcquireTimeout.
var ErrAcquireTimeout = errors.New("resilience: acquire timed out")

// PoolConfig configures a Pool's sizing and lifetime policy: min/max size,
// a max lifetime per resource, an idle timeout, and optional validate/reset
// hooks run around each acquire/release.
type PoolConfig struct {
	MinSize         int
	MaxSize         int
	MaxLifetime     time.Duration
	MaxIdleTime     time.Duration
	AcquireTimeout  time.Duration
	MaintenancePeriod time.Duration
}

type pooledItem[T any] struct {
	value    T
	createdAt time.Time
	lastUsed  time.Time
}

// Pool is a generic resource pool: a factory creates new items, validate
// decides whether an idle item is still usable before handing it out, and
// reset prepares a released item before it re-enters the idle set (e.g.
// clearing a subscribed-channels set on a reused router connection).
type Pool[T any] struct {
	config  PoolConfig
	factory func(ctx context.Context) (T, error)
	validate func(T) bool
	reset    func(T)
	closeFn  func(T)

	mu       sync.Mutex
	idle     []*pooledItem[T]
	outCount int
	closed   bool

	stopMaintenance context.CancelFunc
}

// NewPool returns a pool backed by factory, with validate/reset/closeFn
// optional (nil means "always valid" / "no reset" / "no close").
func NewPool[T any](config PoolConfig, factory func(ctx context.Context) (T, error), validate func(T) bool, reset func(T), closeFn func(T)) *Pool[T] {
	if config.MaintenancePeriod == 0 {
		config.MaintenancePeriod = 30 * time.Second
	}
	p := &Pool[T]{
		config: config, factory: factory, validate: validate, reset: reset, closeFn: closeFn,
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.stopMaintenance = cancel
	go p.maintain(ctx)

	return p
}

// Acquire returns an idle item if one is valid and unexpired, otherwise
// creates a new one (subject to MaxSize), blocking up to AcquireTimeout
// when the pool is already at capacity.
func (p *Pool[T]) Acquire(ctx context.Context) (T, error) {
	deadline := time.Now().Add(p.config.AcquireTimeout)
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			var zero T
			return zero, ErrPoolClosed
		}

		for len(p.idle) > 0 {
			item := p.idle[len(p.idle)-1]
			p.idle = p.idle[:len(p.idle)-1]
			if p.itemExpiredLocked(item) || (p.validate != nil && !p.validate(item.value)) {
				p.closeItemLocked(item.value)
				continue
			}
			p.outCount++
			p.mu.Unlock()
			return item.value, nil
		}

		if p.config.MaxSize <= 0 || p.outCount < p.config.MaxSize {
			p.outCount++
			p.mu.Unlock()
			v, err := p.factory(ctx)
			if err != nil {
				p.mu.Lock()
				p.outCount--
				p.mu.Unlock()
				var zero T
				return zero, err
			}
			return v, nil
		}
		p.mu.Unlock()

		if p.config.AcquireTimeout <= 0 {
			var zero T
			return zero, ErrAcquireTimeout
		}
		select {
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		case <-time.After(10 * time.Millisecond):
			if time.Now().After(deadline) {
				var zero T
				return zero, ErrAcquireTimeout
			}
		}
	}
}

// Release returns value to the idle set after calling reset, or closes it
// outright once the pool is closed or already holding MaxSize idle items.
func (p *Pool[T]) Release(value T) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.outCount--
	if p.closed {
		p.closeItemLocked(value)
		return
	}
	if p.reset != nil {
		p.reset(value)
	}
	if p.config.MaxSize > 0 && len(p.idle) >= p.config.MaxSize {
		p.closeItemLocked(value)
		return
	}
	p.idle = append(p.idle, &pooledItem[T]{value: value, createdAt: time.Now(), lastUsed: time.Now()})
}

func (p *Pool[T]) itemExpiredLocked(item *pooledItem[T]) bool {
	now := time.Now()
	if p.config.MaxLifetime > 0 && now.Sub(item.createdAt) > p.config.MaxLifetime {
		return true
	}
	if p.config.MaxIdleTime > 0 && now.Sub(item.lastUsed) > p.config.MaxIdleTime {
		return true
	}
	return false
}

func (p *Pool[T]) closeItemLocked(value T) {
	if p.closeFn != nil {
		p.closeFn(value)
	}
}

// Close closes every idle item and stops the maintenance loop. Items
// currently out on loan are closed as they are Released afterward.
func (p *Pool[T]) Close() {
	p.mu.Lock()
	p.closed = true
	for _, item := range p.idle {
		p.closeItemLocked(item.value)
	}
	p.idle = nil
	p.mu.Unlock()
	p.stopMaintenance()
}

// Idle returns the current number of idle (available) items.
func (p *Pool[T]) Idle() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle)
}

// maintain periodically evicts expired/idle-timed-out items and, when the
// pool is below MinSize, tops it back up via the factory.
func (p *Pool[T]) maintain(ctx context.Context) {
	ticker := time.NewTicker(p.config.MaintenancePeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.sweepExpired()
			p.refillToMin(ctx)
		}
	}
}

func (p *Pool[T]) sweepExpired() {
	p.mu.Lock()
	defer p.mu.Unlock()
	kept := p.idle[:0]
	for _, item := range p.idle {
		if p.itemExpiredLocked(item) {
			p.closeItemLocked(item.value)
			continue
		}
		kept = append(kept, item)
	}
	p.idle = kept
}

func (p *Pool[T]) refillToMin(ctx context.Context) {
	for {
		p.mu.Lock()
		need := p.config.MinSize > 0 && len(p.idle)+p.outCount < p.config.MinSize && !p.closed
		if !need {
			p.mu.Unlock()
			return
		}
		p.mu.Unlock()

		v, err := p.factory(ctx)
		if err != nil {
			return
		}
		p.mu.Lock()
		p.idle = append(p.idle, &pooledItem[T]{value: v, createdAt: time.Now(), lastUsed: time.Now()})
		p.mu.Unlock()
	}
}
