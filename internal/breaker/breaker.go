// Package breaker implements a three-state circuit breaker gating calls to
// a failing dependency. State transitions are atomic with respect to
// concurrent callers; retry belongs to a separate outer layer.
package breaker

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned while the breaker is open; the underlying
// operation is not attempted.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State of the breaker.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Config holds breaker thresholds. Zero values fall back to the defaults
// used by the gateway.
type Config struct {
	FailureThreshold int
	RecoveryTimeout  time.Duration
}

// DefaultConfig matches the gateway's production defaults.
func DefaultConfig() Config {
	return Config{FailureThreshold: 5, RecoveryTimeout: 60 * time.Second}
}

// Breaker guards an operation against a failing dependency. A single
// instance owns its state; all mutations happen under the mutex.
type Breaker struct {
	mu sync.Mutex

	failureThreshold int
	recoveryTimeout  time.Duration

	state           State
	failureCount    int
	lastFailureTime time.Time

	now func() time.Time // test hook
}

// New builds a breaker from cfg, applying defaults for zero fields.
func New(cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultConfig().FailureThreshold
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = DefaultConfig().RecoveryTimeout
	}

	return &Breaker{
		failureThreshold: cfg.FailureThreshold,
		recoveryTimeout:  cfg.RecoveryTimeout,
		state:            StateClosed,
		now:              time.Now,
	}
}

// Execute runs op under breaker protection. While open and before the
// recovery timeout elapses it fails immediately with ErrCircuitOpen.
// Otherwise op's own error is propagated after being recorded.
func (b *Breaker) Execute(op func() (string, error)) (string, error) {
	if err := b.beforeCall(); err != nil {
		return "", err
	}

	result, err := op()
	if err != nil {
		b.onFailure()
		return "", err
	}

	b.onSuccess()

	return result, nil
}

// beforeCall gates execution and performs the OPEN -> HALF_OPEN transition.
func (b *Breaker) beforeCall() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateOpen {
		return nil
	}

	if b.now().Sub(b.lastFailureTime) >= b.recoveryTimeout {
		b.state = StateHalfOpen
		return nil
	}

	return ErrCircuitOpen
}

func (b *Breaker) onSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount = 0
	b.state = StateClosed
}

func (b *Breaker) onFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount++
	b.lastFailureTime = b.now()

	if b.state == StateHalfOpen || b.failureCount >= b.failureThreshold {
		b.state = StateOpen
	}
}

// State returns the current breaker state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.state
}

// FailureCount returns the current consecutive failure count.
func (b *Breaker) FailureCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.failureCount
}
