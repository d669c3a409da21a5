// Package resilience guards outbound venue calls with circuit breaking,
// rate limiting, and reconnect supervision.
package resilience

import (
	"sync"
	"time"

	"github.com/coachpo/marketmaker/internal/observability"
)

// BreakerState represents the circuit breaker state.
type BreakerState int

const (
	// BreakerClosed allows all calls.
	BreakerClosed BreakerState = iota
	// BreakerOpen rejects all calls locally.
	BreakerOpen
	// BreakerHalfOpen allows limited trial calls while probing recovery.
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig holds circuit breaker tuning.
type BreakerConfig struct {
	Name string
	// FailureThreshold is the consecutive-failure count that opens the breaker.
	FailureThreshold int `yaml:"failureThreshold"`
	// RecoveryTimeout is how long the breaker stays open before probing.
	RecoveryTimeout time.Duration `yaml:"recoveryTimeout"`
	// HalfOpenSuccessThreshold is the consecutive successes required to close.
	HalfOpenSuccessThreshold int `yaml:"halfOpenSuccessThreshold"`
	// HalfOpenMaxCalls bounds in-flight trial calls while half-open.
	HalfOpenMaxCalls int `yaml:"halfOpenMaxCalls"`
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = 30 * time.Second
	}
	if c.HalfOpenSuccessThreshold <= 0 {
		c.HalfOpenSuccessThreshold = 2
	}
	if c.HalfOpenMaxCalls <= 0 {
		c.HalfOpenMaxCalls = c.HalfOpenSuccessThreshold
	}
	return c
}

// CircuitBreaker gates calls to a failing dependency. Safe for concurrent use.
type CircuitBreaker struct {
	cfg BreakerConfig
	now func() time.Time

	mu           sync.Mutex
	state        BreakerState
	failureCount int
	successCount int
	trialCalls   int
	lastFailure  time.Time
}

// NewCircuitBreaker creates a breaker in the closed state.
func NewCircuitBreaker(cfg BreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{cfg: cfg.withDefaults(), now: time.Now, state: BreakerClosed}
}

// State returns the current breaker state, accounting for recovery timeout.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.maybeProbeLocked()
	return cb.state
}

// Allow reports whether a call may proceed. While open, calls are rejected
// locally without reaching the network; once the recovery timeout elapses,
// a bounded number of half-open trial calls pass through.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.maybeProbeLocked()
	switch cb.state {
	case BreakerClosed:
		return true
	case BreakerHalfOpen:
		if cb.trialCalls >= cb.cfg.HalfOpenMaxCalls {
			return false
		}
		cb.trialCalls++
		return true
	default:
		return false
	}
}

func (cb *CircuitBreaker) maybeProbeLocked() {
	if cb.state == BreakerOpen && cb.now().Sub(cb.lastFailure) >= cb.cfg.RecoveryTimeout {
		cb.state = BreakerHalfOpen
		cb.successCount = 0
		cb.trialCalls = 0
		observability.Log().Info("circuit breaker probing recovery",
			observability.F("breaker", cb.cfg.Name),
			observability.F("state", cb.state.String()))
	}
}

// RecordSuccess records a successful call.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerClosed:
		cb.failureCount = 0
	case BreakerHalfOpen:
		cb.successCount++
		cb.trialCalls--
		if cb.successCount >= cb.cfg.HalfOpenSuccessThreshold {
			cb.state = BreakerClosed
			cb.failureCount = 0
			observability.Log().Info("circuit breaker closed",
				observability.F("breaker", cb.cfg.Name))
		}
	}
}

// RecordFailure records a failed call. Reaching the failure threshold while
// closed opens the breaker; any failure while half-open reopens it.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.lastFailure = cb.now()
	switch cb.state {
	case BreakerClosed:
		cb.failureCount++
		if cb.failureCount >= cb.cfg.FailureThreshold {
			cb.openLocked("failure threshold reached")
		}
	case BreakerHalfOpen:
		cb.openLocked("trial call failed")
	}
}

func (cb *CircuitBreaker) openLocked(reason string) {
	cb.state = BreakerOpen
	cb.successCount = 0
	cb.trialCalls = 0
	observability.Log().Warn("circuit breaker opened",
		observability.F("breaker", cb.cfg.Name),
		observability.F("reason", reason),
		observability.F("consecutive_failures", cb.failureCount))
	observability.Telemetry().IncCounter("resilience.breaker.open", 1,
		map[string]string{"breaker": cb.cfg.Name})
}
