package strategy

import (
	"errors"

	"github.com/angeloszaimis/compute-balancer/internal/backend"
)

var ErrNoCandidate = errors.New("no healthy backend")

type Strategy interface {
	SelectCandidate() (*backend.Backend, error)
}
