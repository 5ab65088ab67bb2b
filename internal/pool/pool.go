// Package pool bounds concurrent access to external targets and protects
// them with per-target circuit breakers. One Pool is shared by every job
// hitting the same target; the Manager hands out pools keyed by target name.
package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/custodia-labs/conduit-core/internal/core/domain"
)

// Config configures one target's pool.
type Config struct {
	// MaxConnections bounds concurrent callers per target.
	MaxConnections int

	// MinConnections is kept for pool sizing hints; the pool admits up to
	// MaxConnections regardless.
	MinConnections int

	// IdleTimeout is how long an unused pool may live before the manager
	// drops it.
	IdleTimeout time.Duration

	// RequestTimeout bounds both the wait for a slot and the call itself.
	RequestTimeout time.Duration

	// Breaker configures the target's circuit breaker.
	Breaker BreakerConfig
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxConnections: 5,
		MinConnections: 1,
		IdleTimeout:    5 * time.Minute,
		RequestTimeout: 30 * time.Second,
		Breaker:        DefaultBreakerConfig(),
	}
}

// Pool bounds concurrency against one target and hosts its breaker.
type Pool struct {
	target  string
	cfg     Config
	slots   chan struct{}
	breaker *Breaker

	mu       sync.Mutex
	lastUsed time.Time
}

// New creates a pool for a target.
func New(target string, cfg Config) *Pool {
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = DefaultConfig().MaxConnections
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultConfig().RequestTimeout
	}
	return &Pool{
		target:  target,
		cfg:     cfg,
		slots:   make(chan struct{}, cfg.MaxConnections),
		breaker: NewBreaker(cfg.Breaker),
	}
}

// Target returns the target name this pool guards.
func (p *Pool) Target() string {
	return p.target
}

// Breaker returns the pool's circuit breaker.
func (p *Pool) Breaker() *Breaker {
	return p.breaker
}

// InUse returns the number of slots currently held.
func (p *Pool) InUse() int {
	return len(p.slots)
}

// Do runs fn against the target under the pool's concurrency bound and
// circuit breaker. A caller that cannot get a slot before RequestTimeout
// fails with domain.ErrPoolExhausted; an open circuit fails fast with
// domain.ErrCircuitOpen. The operation itself runs with RequestTimeout
// applied to its context, and its outcome feeds the breaker.
func (p *Pool) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := p.breaker.Allow(); err != nil {
		return fmt.Errorf("target %s: %w", p.target, err)
	}

	p.touch()

	wait := time.NewTimer(p.cfg.RequestTimeout)
	defer wait.Stop()

	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	case <-wait.C:
		return fmt.Errorf("target %s: waited %s for a slot: %w",
			p.target, p.cfg.RequestTimeout, domain.ErrPoolExhausted)
	}
	defer func() { <-p.slots }()

	opCtx, cancel := context.WithTimeout(ctx, p.cfg.RequestTimeout)
	defer cancel()

	err := fn(opCtx)
	if err != nil {
		// Caller-side cancellation is not a target failure.
		if ctx.Err() == nil || domain.IsTransient(err) {
			p.breaker.RecordFailure()
		}
		return err
	}
	p.breaker.RecordSuccess()
	return nil
}

func (p *Pool) touch() {
	p.mu.Lock()
	p.lastUsed = time.Now()
	p.mu.Unlock()
}

func (p *Pool) idleSince(now time.Time) time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lastUsed.IsZero() {
		return 0
	}
	return now.Sub(p.lastUsed)
}

// Manager hands out per-target pools, creating them on first use with the
// configured defaults. The breaker and slot counters inside each pool are
// shared by every job that asks for the same target.
type Manager struct {
	defaults Config

	mu    sync.Mutex
	pools map[string]*Pool

	// overrides holds per-target configs that differ from the defaults.
	overrides map[string]Config
}

// NewManager creates a manager with default per-target settings.
func NewManager(defaults Config) *Manager {
	return &Manager{
		defaults:  defaults,
		pools:     make(map[string]*Pool),
		overrides: make(map[string]Config),
	}
}

// Configure sets a per-target config override. It applies to pools created
// after the call; configuration is loaded once at startup, before any job
// runs.
func (m *Manager) Configure(target string, cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.overrides[target] = cfg
}

// Get returns the pool for a target, creating it if needed.
func (m *Manager) Get(target string) *Pool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p, ok := m.pools[target]; ok {
		return p
	}
	cfg := m.defaults
	if o, ok := m.overrides[target]; ok {
		cfg = o
	}
	p := New(target, cfg)
	m.pools[target] = p
	return p
}

// ReapIdle drops pools whose IdleTimeout elapsed with no use. Breaker state
// for dropped targets is discarded; a fresh pool starts closed.
func (m *Manager) ReapIdle() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	reaped := 0
	for target, p := range m.pools {
		if p.cfg.IdleTimeout <= 0 {
			continue
		}
		if p.InUse() == 0 && p.idleSince(now) > p.cfg.IdleTimeout {
			delete(m.pools, target)
			reaped++
		}
	}
	return reaped
}
