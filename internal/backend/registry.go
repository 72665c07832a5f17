package backend

import (
	"errors"
	"fmt"
	"sync"
)

var ErrDuplicateAddress = errors.New("backend address already registered")

// Status is a point-in-time view of one backend.
type Status struct {
	Address string `json:"address"`
	ID      string `json:"id"`
	Healthy bool   `json:"healthy"`
}

type entry struct {
	backend *Backend
	healthy bool
}

// Registry is the ordered backend pool plus the round-robin cursor.
type Registry struct {
	mutex   sync.Mutex
	entries []*entry
	index   map[string]*entry
	cursor  int
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		index: make(map[string]*entry),
	}
}

// Register appends a backend to the pool in a healthy state.
// It is meant for startup, before any scheduling happens.
func (r *Registry) Register(address, id string) (*Backend, error) {
	b, err := New(address, id)
	if err != nil {
		return nil, err
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.index[address]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateAddress, address)
	}

	e := &entry{backend: b, healthy: true}
	r.entries = append(r.entries, e)
	r.index[address] = e

	return b, nil
}

// SetHealth updates the health flag of the backend at address.
// Returns true if the flag changed. Unknown addresses are ignored.
func (r *Registry) SetHealth(address string, healthy bool) (changed bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	e, ok := r.index[address]
	if !ok || e.healthy == healthy {
		return false
	}

	e.healthy = healthy
	return true
}

// IsHealthy returns the current health flag of the backend at address.
func (r *Registry) IsHealthy(address string) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	e, ok := r.index[address]
	return ok && e.healthy
}

// Rotate scans at most Len() backends starting at the cursor, advancing the
// cursor once per examined backend, and returns the first one accept admits.
// accept runs with the registry lock held and must not block.
func (r *Registry) Rotate(accept func(b *Backend, healthy bool) bool) *Backend {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	n := len(r.entries)
	for i := 0; i < n; i++ {
		e := r.entries[r.cursor]
		r.cursor = (r.cursor + 1) % n

		if accept(e.backend, e.healthy) {
			return e.backend
		}
	}

	return nil
}

// Cursor returns the index the next Rotate call starts from.
func (r *Registry) Cursor() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.cursor
}

// Len returns the pool size.
func (r *Registry) Len() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return len(r.entries)
}

// Backends returns the registered backends in registration order.
func (r *Registry) Backends() []*Backend {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	backends := make([]*Backend, 0, len(r.entries))
	for _, e := range r.entries {
		backends = append(backends, e.backend)
	}

	return backends
}

// Snapshot returns a copy of every backend's address, identifier and health.
func (r *Registry) Snapshot() []Status {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	snap := make([]Status, 0, len(r.entries))
	for _, e := range r.entries {
		snap = append(snap, Status{
			Address: e.backend.address,
			ID:      e.backend.id,
			Healthy: e.healthy,
		})
	}

	return snap
}
