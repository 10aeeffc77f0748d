// Package circuitbreaker guards calls to the live-state RPC oracle. A run
// of failures opens the circuit so a dead node fails fast instead of
// stalling every portfolio request on dial timeouts.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/yield-scanner/internal/logging"
)

// State is the breaker's current mode.
type State string

const (
	// StateClosed allows requests through.
	StateClosed State = "closed"
	// StateOpen rejects requests until the timeout elapses.
	StateOpen State = "open"
	// StateHalfOpen lets a limited number of probe requests through.
	StateHalfOpen State = "half_open"
)

// ErrCircuitOpen is returned while the circuit is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// ErrTooManyRequests is returned when the half-open probe budget is spent.
var ErrTooManyRequests = errors.New("too many requests in half-open state")

// Config tunes a breaker.
type Config struct {
	Name             string
	MaxFailures      int           // consecutive failures that force the circuit open
	FailureThreshold float64       // failure-rate fraction that opens the circuit
	Timeout          time.Duration // open duration before probing
	HalfOpenMaxCalls int           // probe budget in half-open state
}

// DefaultConfig returns the settings used for the RPC oracle.
func DefaultConfig(name string) *Config {
	return &Config{
		Name:             name,
		MaxFailures:      10,
		FailureThreshold: 0.5,
		Timeout:          30 * time.Second,
		HalfOpenMaxCalls: 3,
	}
}

type counters struct {
	failures    int
	successes   int
	total       int
	consecutive int
}

func (c counters) failureRate() float64 {
	if c.total == 0 {
		return 0
	}
	return float64(c.failures) / float64(c.total)
}

// CircuitBreaker tracks failures of one upstream and trips when the
// configured thresholds are crossed.
type CircuitBreaker struct {
	cfg Config

	mu              sync.RWMutex
	state           State
	counts          counters
	lastFailureTime time.Time
	lastStateChange time.Time
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(config *Config) *CircuitBreaker {
	return &CircuitBreaker{
		cfg:             *config,
		state:           StateClosed,
		lastStateChange: time.Now(),
	}
}

// Execute runs fn under breaker protection. The upstream error passes
// through unchanged; ErrCircuitOpen and ErrTooManyRequests mean fn never
// ran.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if err := cb.beforeRequest(); err != nil {
		return err
	}
	err := fn()
	cb.afterRequest(err)
	return err
}

func (cb *CircuitBreaker) beforeRequest() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if time.Since(cb.lastStateChange) <= cb.cfg.Timeout {
			return ErrCircuitOpen
		}
		cb.transition(StateHalfOpen, "Circuit breaker transitioning to half-open")
		return nil
	case StateHalfOpen:
		if cb.counts.total >= cb.cfg.HalfOpenMaxCalls {
			return ErrTooManyRequests
		}
	}
	return nil
}

func (cb *CircuitBreaker) afterRequest(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.counts.total++
	if err != nil {
		cb.onFailure()
		return
	}
	cb.onSuccess()
}

func (cb *CircuitBreaker) onSuccess() {
	cb.counts.successes++
	cb.counts.consecutive = 0

	if cb.state == StateHalfOpen && cb.counts.successes >= cb.cfg.HalfOpenMaxCalls {
		cb.transition(StateClosed, "Circuit breaker closed after successful recovery")
		cb.counts = counters{}
	}
}

func (cb *CircuitBreaker) onFailure() {
	cb.counts.failures++
	cb.counts.consecutive++
	cb.lastFailureTime = time.Now()

	switch cb.state {
	case StateClosed:
		if cb.shouldOpen() {
			cb.transition(StateOpen, "Circuit breaker opened due to failures")
		}
	case StateHalfOpen:
		// Any failure during probing reopens the circuit.
		cb.transition(StateOpen, "Circuit breaker reopened after failure in half-open state")
	}
}

// shouldOpen requires a minimum sample before acting on the failure rate;
// a consecutive-failure run trips regardless.
func (cb *CircuitBreaker) shouldOpen() bool {
	if cb.counts.consecutive >= cb.cfg.MaxFailures {
		return true
	}
	if cb.counts.total < cb.cfg.MaxFailures {
		return false
	}
	return cb.counts.failureRate() >= cb.cfg.FailureThreshold
}

func (cb *CircuitBreaker) transition(state State, msg string) {
	cb.state = state
	cb.lastStateChange = time.Now()
	logging.WithFields(map[string]interface{}{
		"circuitBreaker":   cb.cfg.Name,
		"state":            state,
		"failures":         cb.counts.failures,
		"totalCalls":       cb.counts.total,
		"consecutiveFails": cb.counts.consecutive,
	}).Warn(msg)
}

// GetState returns the current state.
func (cb *CircuitBreaker) GetState() State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// Reset forces the breaker closed and clears its counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transition(StateClosed, "Circuit breaker manually reset")
	cb.counts = counters{}
}
