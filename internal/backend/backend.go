package backend

import (
	"fmt"

	"github.com/angeloszaimis/compute-balancer/internal/netaddr"
)

// Backend identifies one worker endpoint. Both fields are immutable.
type Backend struct {
	address string
	id      string
}

// Address returns the backend host:port.
func (b *Backend) Address() string {
	return b.address
}

// ID returns the short human-readable label attached to responses.
func (b *Backend) ID() string {
	return b.id
}

func (b *Backend) String() string {
	return fmt.Sprintf("%s (%s)", b.id, b.address)
}

// New creates a Backend after checking that address is a dialable host:port.
func New(address, id string) (*Backend, error) {
	if err := netaddr.Validate(address); err != nil {
		return nil, fmt.Errorf("invalid backend address %q: %w", address, err)
	}

	return &Backend{
		address: address,
		id:      id,
	}, nil
}
