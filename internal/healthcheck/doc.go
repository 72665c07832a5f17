// Package healthcheck implements periodic liveness probing for backend servers.
// One loop runs per backend; each cycle sends a PING frame and marks the
// backend healthy only if a PONG comes back within the configured timeouts.
// Probe failures never stop a loop.
package healthcheck
