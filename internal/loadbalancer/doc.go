// Package loadbalancer forwards client requests to backends chosen by a
// Strategy. A backend that cannot be reached or does not answer within the
// configured timeouts is marked unhealthy and the next candidate is tried,
// for at most one attempt per backend in the pool.
package loadbalancer
