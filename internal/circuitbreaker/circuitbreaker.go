// Package circuitbreaker fails fast on providers that are currently down so
// the fallback chain advances without waiting out a timeout on every request.
//
// States: Closed (normal), Open (failing fast), HalfOpen (testing recovery).
package circuitbreaker

import (
	"context"
	"sync"
	"time"

	"github.com/replydesk/aigateway/internal/domain"
)

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

type Config struct {
	FailureThreshold int           // consecutive failures before opening
	SuccessThreshold int           // successes in half-open before closing
	Cooldown         time.Duration // open duration before probing again
}

func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Cooldown:         30 * time.Second,
	}
}

type Breaker struct {
	mu          sync.RWMutex
	state       State
	failures    int
	successes   int
	lastFailure time.Time
	config      Config
}

func New(cfg Config) *Breaker {
	return &Breaker{
		state:  StateClosed,
		config: cfg,
	}
}

// Allow returns nil when a request may proceed, or ErrCircuitBreakerOpen.
func (b *Breaker) Allow(ctx context.Context) error {
	b.mu.RLock()
	state := b.state
	lastFailure := b.lastFailure
	b.mu.RUnlock()

	if state != StateOpen {
		return nil
	}

	if time.Since(lastFailure) > b.config.Cooldown {
		b.mu.Lock()
		if b.state == StateOpen {
			b.state = StateHalfOpen
			b.successes = 0
		}
		b.mu.Unlock()
		return nil
	}

	return domain.ErrCircuitBreakerOpen
}

func (b *Breaker) RecordSuccess(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		b.successes++
		if b.successes >= b.config.SuccessThreshold {
			b.state = StateClosed
			b.failures = 0
			b.successes = 0
		}
	}
}

func (b *Breaker) RecordFailure(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFailure = time.Now()

	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= b.config.FailureThreshold {
			b.state = StateOpen
		}
	case StateHalfOpen:
		b.state = StateOpen
		b.successes = 0
	}
}

func (b *Breaker) State(ctx context.Context) State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// Manager holds one breaker per provider name.
type Manager struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	config   Config
}

func NewManager(cfg Config) *Manager {
	return &Manager{
		breakers: make(map[string]*Breaker),
		config:   cfg,
	}
}

func (m *Manager) Get(providerName string) *Breaker {
	m.mu.RLock()
	b, ok := m.breakers[providerName]
	m.mu.RUnlock()
	if ok {
		return b
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.breakers[providerName]; ok {
		return existing
	}

	b = New(m.config)
	m.breakers[providerName] = b
	return b
}

func (m *Manager) States() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ctx := context.Background()
	states := make(map[string]string, len(m.breakers))
	for name, b := range m.breakers {
		states[name] = b.State(ctx).String()
	}
	return states
}
