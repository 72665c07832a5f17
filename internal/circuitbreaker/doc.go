// Package circuitbreaker stops calls to a dependency that keeps failing.
//
// A breaker has three states:
//
//   - CLOSED: calls pass through and failures are counted
//   - OPEN: calls are refused until the cooldown has elapsed
//   - HALF-OPEN: a single trial call decides between CLOSED and OPEN
//
// Usage:
//
//	cb := circuitbreaker.NewCircuitBreaker(3, 5*time.Second)
//	if cb.Allow() {
//	    if err := write(); err != nil {
//	        cb.RecordFailure()
//	    } else {
//	        cb.RecordSuccess()
//	    }
//	}
package circuitbreaker
