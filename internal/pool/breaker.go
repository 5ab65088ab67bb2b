package pool

import (
	"sync"
	"time"

	"github.com/custodia-labs/conduit-core/internal/core/domain"
)

// CircuitState is the current state of a target's circuit breaker.
type CircuitState string

const (
	// CircuitClosed passes all calls through (normal operation).
	CircuitClosed CircuitState = "closed"
	// CircuitOpen fails all calls fast without touching the target.
	CircuitOpen CircuitState = "open"
	// CircuitHalfOpen lets a limited number of trial calls through.
	CircuitHalfOpen CircuitState = "half_open"
)

// BreakerConfig configures one target's circuit breaker.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens
	// the circuit.
	FailureThreshold int

	// RecoveryTimeout is how long the circuit stays open before allowing
	// trial calls.
	RecoveryTimeout time.Duration

	// SuccessThreshold is the number of consecutive half-open successes
	// that closes the circuit again.
	SuccessThreshold int
}

// DefaultBreakerConfig returns sensible defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		RecoveryTimeout:  30 * time.Second,
		SuccessThreshold: 2,
	}
}

// Breaker is a per-target circuit breaker. It is shared across all jobs
// hitting the same target, so every method is safe for concurrent use.
type Breaker struct {
	cfg BreakerConfig

	mu               sync.Mutex
	state            CircuitState
	failures         int
	halfOpenSuccess  int
	halfOpenInflight int
	lastTransitionAt time.Time

	// now is replaceable in tests.
	now func() time.Time
}

// NewBreaker creates a closed breaker.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultBreakerConfig().FailureThreshold
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = DefaultBreakerConfig().RecoveryTimeout
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = DefaultBreakerConfig().SuccessThreshold
	}
	return &Breaker{
		cfg:   cfg,
		state: CircuitClosed,
		now:   time.Now,
	}
}

// Allow reports whether a call may proceed. An open circuit whose recovery
// timeout has elapsed transitions to half-open and admits the call as a
// trial; at most SuccessThreshold trials are in flight at once.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case CircuitClosed:
		return nil
	case CircuitHalfOpen:
		if b.halfOpenInflight < b.cfg.SuccessThreshold {
			b.halfOpenInflight++
			return nil
		}
		// Trials whose callers went away without reporting back stop
		// blocking recovery after another timeout window.
		if b.now().Sub(b.lastTransitionAt) >= b.cfg.RecoveryTimeout {
			b.lastTransitionAt = b.now()
			b.halfOpenInflight = 1
			return nil
		}
		return domain.ErrCircuitOpen
	case CircuitOpen:
		if b.now().Sub(b.lastTransitionAt) >= b.cfg.RecoveryTimeout {
			b.transition(CircuitHalfOpen)
			b.halfOpenInflight = 1
			return nil
		}
		return domain.ErrCircuitOpen
	}
	return nil
}

// RecordSuccess reports a successful call against the target.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case CircuitClosed:
		b.failures = 0
	case CircuitHalfOpen:
		if b.halfOpenInflight > 0 {
			b.halfOpenInflight--
		}
		b.halfOpenSuccess++
		if b.halfOpenSuccess >= b.cfg.SuccessThreshold {
			b.transition(CircuitClosed)
		}
	}
}

// RecordFailure reports a failed call against the target.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case CircuitClosed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.transition(CircuitOpen)
		}
	case CircuitHalfOpen:
		// A single half-open failure reopens the circuit and resets the
		// open timer.
		b.transition(CircuitOpen)
	}
}

// State returns the current circuit state.
func (b *Breaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// transition moves to a new state and resets the counters.
// Callers must hold b.mu.
func (b *Breaker) transition(to CircuitState) {
	b.state = to
	b.failures = 0
	b.halfOpenSuccess = 0
	b.halfOpenInflight = 0
	b.lastTransitionAt = b.now()
}
