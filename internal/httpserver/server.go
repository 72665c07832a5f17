// Package httpserver runs the HTTP endpoint that exposes the status page and
// metrics next to the balancer's TCP listener.
package httpserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/angeloszaimis/compute-balancer/internal/netaddr"
)

// Server wraps http.Server with address validation and graceful shutdown.
type Server struct {
	server *http.Server

	mutex    sync.Mutex
	listener net.Listener
}

// New validates addr and prepares a server; nothing is bound until Listen or Start.
func New(addr string, handler http.Handler) (*Server, error) {
	if err := netaddr.ValidateListen(addr); err != nil {
		return nil, err
	}

	srv := &Server{
		server: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      15 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
	}

	return srv, nil
}

// Listen binds the configured address.
func (s *Server) Listen() error {
	listener, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}

	s.mutex.Lock()
	s.listener = listener
	s.mutex.Unlock()

	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve handles requests on the bound listener until Shutdown.
func (s *Server) Serve() error {
	s.mutex.Lock()
	listener := s.listener
	s.mutex.Unlock()

	if listener == nil {
		return errors.New("httpserver: Serve called before Listen")
	}

	err := s.server.Serve(listener)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

// Start binds and serves. Returns an error unless the server is shut down cleanly.
func (s *Server) Start() error {
	if err := s.Listen(); err != nil {
		return err
	}

	return s.Serve()
}

// Shutdown stops accepting and waits for active requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
