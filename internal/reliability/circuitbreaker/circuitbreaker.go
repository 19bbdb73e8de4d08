package circuitbreaker

import (
	"sync"
	"sync/atomic"
	"time"
)

// State represents the circuit breaker state
type State int32

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
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitBreaker stops calls to a dependency after repeated failures and
// lets a probe through once the cool-down has passed.
type CircuitBreaker struct {
	state            atomic.Int32
	failureCount     atomic.Int32
	successCount     atomic.Int32
	openedAt         atomic.Int64
	failureThreshold int32
	successThreshold int32
	coolDown         time.Duration
	now              func() time.Time

	mu            sync.RWMutex
	onStateChange func(from, to State)
}

// New creates a closed breaker. It opens after failureThreshold consecutive
// failures and closes again after successThreshold half-open successes.
func New(failureThreshold, successThreshold int32, coolDown time.Duration) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 1
	}
	if successThreshold <= 0 {
		successThreshold = 1
	}
	return &CircuitBreaker{
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		coolDown:         coolDown,
		now:              time.Now,
	}
}

// OnStateChange registers a callback for state transitions
func (cb *CircuitBreaker) OnStateChange(fn func(from, to State)) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onStateChange = fn
}

// Allow reports whether a call may go through. An open breaker moves to
// half-open once the cool-down has elapsed.
func (cb *CircuitBreaker) Allow() bool {
	switch cb.State() {
	case StateClosed, StateHalfOpen:
		return true
	}
	opened := time.Unix(0, cb.openedAt.Load())
	if cb.now().Sub(opened) < cb.coolDown {
		return false
	}
	cb.transition(StateOpen, StateHalfOpen)
	return true
}

// RecordSuccess resets the failure streak, closing a half-open breaker once
// enough probes have succeeded.
func (cb *CircuitBreaker) RecordSuccess() {
	switch cb.State() {
	case StateHalfOpen:
		if cb.successCount.Add(1) >= cb.successThreshold {
			cb.transition(StateHalfOpen, StateClosed)
		}
	case StateClosed:
		cb.failureCount.Store(0)
	}
}

// RecordFailure counts a failure and trips the breaker when the threshold
// is reached. Any failure while half-open reopens it.
func (cb *CircuitBreaker) RecordFailure() {
	switch cb.State() {
	case StateClosed:
		if cb.failureCount.Add(1) >= cb.failureThreshold {
			cb.trip(StateClosed)
		}
	case StateHalfOpen:
		cb.trip(StateHalfOpen)
	}
}

// State returns the current state
func (cb *CircuitBreaker) State() State {
	return State(cb.state.Load())
}

func (cb *CircuitBreaker) trip(from State) {
	cb.openedAt.Store(cb.now().UnixNano())
	cb.transition(from, StateOpen)
}

func (cb *CircuitBreaker) transition(from, to State) {
	if !cb.state.CompareAndSwap(int32(from), int32(to)) {
		return
	}
	cb.failureCount.Store(0)
	cb.successCount.Store(0)

	cb.mu.RLock()
	fn := cb.onStateChange
	cb.mu.RUnlock()
	if fn != nil {
		fn(from, to)
	}
}
