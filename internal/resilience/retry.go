package resilience

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// BackoffStrategy selects how Retry.Delay grows between attempts.
type BackoffStrategy string

const (
	BackoffFixed        BackoffStrategy = "fixed"
	BackoffLinear       BackoffStrategy = "linear"
	BackoffExponential  BackoffStrategy = "exponential"
	BackoffFibonacci    BackoffStrategy = "fibonacci"
	BackoffDecorrelated BackoffStrategy = "decorrelated"
)

// RetryConfig configures a Retry helper.
type RetryConfig struct {
	MaxAttempts     int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	ExponentialBase float64
	Jitter          bool
	Strategy        BackoffStrategy
	// RetryIf, when set, overrides the default "retry every error" policy.
	RetryIf func(error) bool
	// OnRetry, when set, is called before each sleep with the attempt
	// number (0-based) and the delay about to be slept.
	OnRetry func(attempt int, delay time.Duration, err error)
	// Rand supplies jitter randomness. Defaults to a package-level source;
	// tests inject a seeded one for deterministic backoff.
	Rand *rand.Rand
}

// DefaultRetryConfig returns the gateway's standard retry policy.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3, InitialDelay: time.Second, MaxDelay: 60 * time.Second,
		ExponentialBase: 2.0, Jitter: true, Strategy: BackoffExponential,
	}
}

// RetryStats accumulates outcome counters across calls to Execute.
type RetryStats struct {
	TotalAttempts      int
	SuccessfulAttempts int
	FailedAttempts     int
	TotalRetries       int
	RetryHistory       []time.Duration
}

// Retry executes a function with configurable backoff between attempts.
type Retry struct {
	config RetryConfig

	mu    sync.Mutex
	stats RetryStats
	fib   []int64
}

// NewRetry returns a Retry using config (or its defaults when MaxAttempts
// is zero).
func NewRetry(config RetryConfig) *Retry {
	if config.MaxAttempts == 0 {
		config = DefaultRetryConfig()
	}
	if config.Rand == nil {
		config.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Retry{config: config, fib: []int64{0, 1}}
}

// Stats returns a copy of the retry helper's accumulated statistics.
func (r *Retry) Stats() RetryStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

func (r *Retry) fibonacci(n int) int64 {
	for len(r.fib) <= n {
		r.fib = append(r.fib, r.fib[len(r.fib)-1]+r.fib[len(r.fib)-2])
	}
	return r.fib[n]
}

// Delay computes the backoff for the given 0-based attempt number per the
// configured strategy, then applies the max-delay cap, optional ±25%
// jitter (skipped for BackoffDecorrelated, which is jitter by
// construction), and a final non-negative clamp — in that order.
func (r *Retry) Delay(attempt int) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.delayLocked(attempt)
}

func (r *Retry) delayLocked(attempt int) time.Duration {
	initial := r.config.InitialDelay
	var delay time.Duration

	switch r.config.Strategy {
	case BackoffFixed:
		delay = initial
	case BackoffLinear:
		delay = initial * time.Duration(attempt+1)
	case BackoffExponential:
		base := r.config.ExponentialBase
		if base == 0 {
			base = 2.0
		}
		delay = time.Duration(float64(initial) * pow(base, attempt))
	case BackoffFibonacci:
		delay = initial * time.Duration(r.fibonacci(attempt))
	case BackoffDecorrelated:
		if attempt == 0 {
			delay = initial
		} else {
			prev := initial
			if n := len(r.stats.RetryHistory); n > 0 {
				prev = r.stats.RetryHistory[n-1]
			}
			lo, hi := float64(initial), float64(prev)*3
			if hi <= lo {
				delay = initial
			} else {
				delay = time.Duration(lo + r.config.Rand.Float64()*(hi-lo))
			}
		}
	default:
		delay = initial
	}

	if delay > r.config.MaxDelay {
		delay = r.config.MaxDelay
	}

	if r.config.Jitter && r.config.Strategy != BackoffDecorrelated {
		jitterRange := float64(delay) * 0.25
		delay = delay + time.Duration((r.config.Rand.Float64()*2-1)*jitterRange)
	}

	if delay < 0 {
		delay = 0
	}
	return delay
}

func pow(base float64, exp int) float64 {
	result := 1.0
	for i := 0; i < exp; i++ {
		result *= base
	}
	return result
}

func (r *Retry) shouldRetry(err error) bool {
	if r.config.RetryIf != nil {
		return r.config.RetryIf(err)
	}
	return true
}

// Execute runs fn, retrying on error per the configured strategy, up to
// MaxAttempts total invocations. It returns the last error if every attempt
// fails, or nil on the first success. ctx cancellation aborts the sleep
// between attempts.
func (r *Retry) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt < r.config.MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			r.mu.Lock()
			r.stats.TotalAttempts++
			r.stats.SuccessfulAttempts++
			r.mu.Unlock()
			return nil
		}
		lastErr = err

		if !r.shouldRetry(err) {
			r.mu.Lock()
			r.stats.TotalAttempts++
			r.stats.FailedAttempts++
			r.mu.Unlock()
			return err
		}

		if attempt >= r.config.MaxAttempts-1 {
			r.mu.Lock()
			r.stats.TotalAttempts++
			r.stats.FailedAttempts++
			r.mu.Unlock()
			return err
		}

		r.mu.Lock()
		delay := r.delayLocked(attempt)
		r.stats.RetryHistory = append(r.stats.RetryHistory, delay)
		r.stats.TotalRetries++
		r.mu.Unlock()

		if r.config.OnRetry != nil {
			r.config.OnRetry(attempt, delay, err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return lastErr
}

// RetryManager is a named registry of retry helpers, mirroring Manager for
// circuit breakers.
type RetryManager struct {
	mu    sync.Mutex
	items map[string]*Retry
}

// NewRetryManager returns an empty retry registry.
func NewRetryManager() *RetryManager {
	return &RetryManager{items: map[string]*Retry{}}
}

// GetOrCreate returns the named retry helper, creating it with config if
// absent.
func (m *RetryManager) GetOrCreate(name string, config RetryConfig) *Retry {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.items[name]
	if !ok {
		r = NewRetry(config)
		m.items[name] = r
	}
	return r
}
