// Package supervision provides the fault-tolerance fabric around the
// broker terminal connection: circuit breakers, rate limiting, component
// health tracking, and the single-instance lock.
package supervision

import (
	"sync"
	"time"
)

// CircuitState mirrors the broker connection's health as observed through
// repeated call outcomes.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitBreaker trips after a run of consecutive failures and holds calls
// open until a cooldown passes, then allows a bounded number of half-open
// probes before fully closing again.
type CircuitBreaker struct {
	mu sync.Mutex

	name             string
	failureThreshold int
	halfOpenProbes   int
	openTimeout      time.Duration

	state           CircuitState
	consecutiveFail int
	openedAt        time.Time
	probesRemaining int
}

// NewCircuitBreaker builds a breaker named for the component it guards
// (e.g. "broker.place_order").
func NewCircuitBreaker(name string, failureThreshold, halfOpenProbes int, openTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		name:             name,
		failureThreshold: failureThreshold,
		halfOpenProbes:   halfOpenProbes,
		openTimeout:      openTimeout,
		state:            CircuitClosed,
	}
}

// Allow reports whether a call should be attempted right now, transitioning
// Open -> HalfOpen once the cooldown has elapsed.
func (c *CircuitBreaker) Allow() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case CircuitClosed:
		return true
	case CircuitOpen:
		if time.Since(c.openedAt) >= c.openTimeout {
			c.state = CircuitHalfOpen
			c.probesRemaining = c.halfOpenProbes
		} else {
			return false
		}
		fallthrough
	case CircuitHalfOpen:
		if c.probesRemaining <= 0 {
			return false
		}
		c.probesRemaining--
		return true
	}
	return false
}

// RecordSuccess closes the breaker and resets the failure streak.
func (c *CircuitBreaker) RecordSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.consecutiveFail = 0
	c.state = CircuitClosed
}

// RecordFailure increments the failure streak, tripping the breaker once
// the threshold is reached. A probe failure during HalfOpen re-opens
// immediately regardless of the threshold.
func (c *CircuitBreaker) RecordFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == CircuitHalfOpen {
		c.trip()
		return
	}

	c.consecutiveFail++
	if c.consecutiveFail >= c.failureThreshold {
		c.trip()
	}
}

func (c *CircuitBreaker) trip() {
	c.state = CircuitOpen
	c.openedAt = time.Now()
	c.consecutiveFail = 0
}

// State returns the current breaker state for health reporting.
func (c *CircuitBreaker) State() CircuitState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Name returns the component name the breaker guards.
func (c *CircuitBreaker) Name() string { return c.name }
