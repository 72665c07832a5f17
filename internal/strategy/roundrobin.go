package strategy

import (
	"github.com/angeloszaimis/compute-balancer/internal/backend"
)

type roundRobinStrategy struct {
	registry *backend.Registry
}

// SelectCandidate returns the first healthy backend at or after the cursor.
// Health is read under the same lock as the cursor, so a backend demoted a
// moment ago is never returned.
func (rr *roundRobinStrategy) SelectCandidate() (*backend.Backend, error) {
	chosen := rr.registry.Rotate(func(_ *backend.Backend, healthy bool) bool {
		return healthy
	})

	if chosen == nil {
		return nil, ErrNoCandidate
	}

	return chosen, nil
}

func NewRoundRobinStrategy(registry *backend.Registry) Strategy {
	return &roundRobinStrategy{
		registry: registry,
	}
}
