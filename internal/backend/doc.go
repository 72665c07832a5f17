// Package backend holds the fixed pool of compute backends and their health
// flags.
//
// The Registry is the only mutable state shared between client handlers and
// health probes. Its cursor and every health flag live under one mutex that
// is never held across network I/O.
package backend
