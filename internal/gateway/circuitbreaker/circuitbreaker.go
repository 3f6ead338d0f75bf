// Package circuitbreaker guards the outbound payment gateway calls. Each
// logical operation (token, create, capture) trips independently, so a broken
// capture path does not block new checkouts.
package circuitbreaker

import (
	"sync"
	"time"
)

// State is the breaker state for one operation.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// Config tunes the breaker. Zero values fall back to defaults.
type Config struct {
	FailureThreshold  int           // consecutive failures before opening
	ResetTimeout      time.Duration // time spent open before probing again
	HalfOpenSuccesses int           // successes in half-open needed to close
}

const (
	defaultFailureThreshold  = 3
	defaultResetTimeout      = 30 * time.Second
	defaultHalfOpenSuccesses = 2
)

type operationState struct {
	state                State
	consecutiveFailures  int
	consecutiveSuccesses int
	openUntil            time.Time
}

// CircuitBreaker tracks gateway health per operation. In-memory; state does
// not survive a restart, which is acceptable because a restart is itself a
// fresh probe of the gateway.
type CircuitBreaker struct {
	mu         sync.Mutex
	operations map[string]*operationState
	cfg        Config
}

// NewCircuitBreaker creates a breaker, applying defaults for zero config
// fields.
func NewCircuitBreaker(cfg Config) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = defaultFailureThreshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = defaultResetTimeout
	}
	if cfg.HalfOpenSuccesses <= 0 {
		cfg.HalfOpenSuccesses = defaultHalfOpenSuccesses
	}
	return &CircuitBreaker{
		operations: make(map[string]*operationState),
		cfg:        cfg,
	}
}

func (cb *CircuitBreaker) get(op string) *operationState {
	os, ok := cb.operations[op]
	if !ok {
		os = &operationState{state: StateClosed}
		cb.operations[op] = os
	}
	return os
}

// AllowRequest reports whether a call for the operation may proceed. An open
// breaker transitions to half-open once the reset timeout elapses.
func (cb *CircuitBreaker) AllowRequest(op string) bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	os := cb.get(op)
	switch os.state {
	case StateClosed, StateHalfOpen:
		return true
	case StateOpen:
		if time.Now().After(os.openUntil) {
			os.state = StateHalfOpen
			os.consecutiveSuccesses = 0
			return true
		}
		return false
	}
	return true
}

// RecordFailure notes a failed call. Enough consecutive failures open the
// breaker; any failure in half-open re-opens it immediately.
func (cb *CircuitBreaker) RecordFailure(op string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	os := cb.get(op)
	switch os.state {
	case StateClosed:
		os.consecutiveFailures++
		if os.consecutiveFailures >= cb.cfg.FailureThreshold {
			os.state = StateOpen
			os.openUntil = time.Now().Add(cb.cfg.ResetTimeout)
		}
	case StateHalfOpen:
		os.state = StateOpen
		os.openUntil = time.Now().Add(cb.cfg.ResetTimeout)
		os.consecutiveFailures = 0
		os.consecutiveSuccesses = 0
	}
}

// RecordSuccess notes a successful call.
func (cb *CircuitBreaker) RecordSuccess(op string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	os := cb.get(op)
	switch os.state {
	case StateClosed:
		os.consecutiveFailures = 0
	case StateHalfOpen:
		os.consecutiveSuccesses++
		if os.consecutiveSuccesses >= cb.cfg.HalfOpenSuccesses {
			os.state = StateClosed
			os.consecutiveFailures = 0
			os.consecutiveSuccesses = 0
		}
	}
}

// GetOperationStatus exposes state and failure count for monitoring and
// tests. Read-only; it does not advance open -> half-open.
func (cb *CircuitBreaker) GetOperationStatus(op string) (State, int) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	os, ok := cb.operations[op]
	if !ok {
		return StateClosed, 0
	}
	return os.state, os.consecutiveFailures
}
