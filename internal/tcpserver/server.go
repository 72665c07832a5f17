package tcpserver

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/angeloszaimis/compute-balancer/internal/netaddr"
)

var ErrNotListening = errors.New("tcpserver: not listening")

// ConnHandler serves a single accepted connection and closes it when done.
type ConnHandler interface {
	ServeConn(ctx context.Context, conn net.Conn)
}

type Server struct {
	addr    string
	handler ConnHandler
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mutex    sync.Mutex
	listener net.Listener
	closed   bool
}

func New(addr string, handler ConnHandler, logger *slog.Logger) (*Server, error) {
	if err := netaddr.ValidateListen(addr); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		addr:    addr,
		handler: handler,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Listen binds the configured address.
func (s *Server) Listen() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}

	return s.adopt(listener)
}

// ServeListener serves on a listener the caller already bound, in place of
// Listen followed by Serve.
func (s *Server) ServeListener(listener net.Listener) error {
	if err := s.adopt(listener); err != nil {
		return err
	}

	return s.Serve()
}

func (s *Server) adopt(listener net.Listener) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.closed {
		listener.Close()
		return net.ErrClosed
	}
	s.listener = listener

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

// Serve accepts connections until Shutdown and returns nil once it is shut
// down. Any other accept error, such as running out of file descriptors, is
// logged and retried with backoff.
func (s *Server) Serve() error {
	s.mutex.Lock()
	listener := s.listener
	s.mutex.Unlock()

	if listener == nil {
		return ErrNotListening
	}

	var delay time.Duration

	for {
		conn, err := listener.Accept()
		if err != nil {
			if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}

			delay = backoff(delay)
			s.logger.Warn("Accept failed, retrying",
				slog.Any("err", err),
				slog.Duration("delay", delay))

			select {
			case <-time.After(delay):
			case <-s.ctx.Done():
				return nil
			}
			continue
		}
		delay = 0

		s.mutex.Lock()
		if s.closed {
			s.mutex.Unlock()
			conn.Close()
			return nil
		}
		s.wg.Add(1)
		s.mutex.Unlock()

		go func() {
			defer s.wg.Done()
			s.handler.ServeConn(s.ctx, conn)
		}()
	}
}

// Start binds and serves.
func (s *Server) Start() error {
	if err := s.Listen(); err != nil {
		return err
	}

	return s.Serve()
}

// Shutdown closes the listener, signals every open connection to close and
// waits for their handlers until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mutex.Lock()
	s.closed = true
	listener := s.listener
	s.mutex.Unlock()

	s.cancel()

	var err error
	if listener != nil {
		if cerr := listener.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = cerr
		}
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func backoff(prev time.Duration) time.Duration {
	if prev == 0 {
		return 5 * time.Millisecond
	}
	if next := prev * 2; next < time.Second {
		return next
	}
	return time.Second
}
