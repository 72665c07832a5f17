package circuitbreaker

import (
	"sync"
	"time"
)

type State int

const (
	StateClosed   State = iota // Calls pass through
	StateOpen                  // Calls refused
	StateHalfOpen              // One trial call in flight
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF-OPEN"
	default:
		return "UNKNOWN"
	}
}

type CircuitBreaker struct {
	mutex            sync.Mutex
	state            State
	failures         int
	openedAt         time.Time
	failureThreshold int
	cooldown         time.Duration
	now              func() time.Time
}

// NewCircuitBreaker opens after threshold consecutive failures and allows a
// trial call once cooldown has passed. A threshold below one is treated as one.
func NewCircuitBreaker(threshold int, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		state:            StateClosed,
		failureThreshold: max(threshold, 1),
		cooldown:         cooldown,
		now:              time.Now,
	}
}

// WithClock replaces the time source. Meant for tests.
func (cb *CircuitBreaker) WithClock(now func() time.Time) *CircuitBreaker {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	cb.now = now
	return cb
}

// Allow reports whether a call may proceed. In HALF-OPEN only the first
// caller gets through; the rest are refused until that trial is recorded.
func (cb *CircuitBreaker) Allow() bool {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.openedAt) < cb.cooldown {
			return false
		}
		cb.state = StateHalfOpen
		return true
	case StateHalfOpen:
		return false
	default:
		return true
	}
}

// RecordFailure counts a failed call. It returns true when a closed breaker
// trips; a failed trial call reopens the breaker without reporting it again.
func (cb *CircuitBreaker) RecordFailure() (opened bool) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.failures++

	if cb.state == StateHalfOpen || (cb.state == StateClosed && cb.failures >= cb.failureThreshold) {
		opened = cb.state == StateClosed
		cb.state = StateOpen
		cb.openedAt = cb.now()
	}

	return opened
}

// RecordSuccess closes the breaker. It returns true when it was not closed before.
func (cb *CircuitBreaker) RecordSuccess() (recovered bool) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	recovered = cb.state != StateClosed
	cb.failures = 0
	cb.state = StateClosed

	return recovered
}

func (cb *CircuitBreaker) State() State {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.state
}
