// Package compute implements the operations served by a backend worker.
// The balancer never calls it; the development backend and the fake
// backends used in specs do.
package compute
