// Package backendtest provides an in-process backend speaking the wire
// protocol, for use in tests.
package backendtest

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/angeloszaimis/compute-balancer/internal/compute"
	"github.com/angeloszaimis/compute-balancer/internal/protocol"
)

// Behavior selects how the server answers.
type Behavior int32

const (
	// Healthy answers PING with PONG and computes requests.
	Healthy Behavior = iota
	// Silent reads frames and never answers.
	Silent
	// Garbage answers every frame with a line that is not JSON.
	Garbage
	// HangUp closes every connection without answering.
	HangUp
	// WrongReply answers PING with a non-PONG control frame and requests
	// with an empty object.
	WrongReply
	// BlankResult answers PING with PONG and requests with an empty
	// "response" string.
	BlankResult
)

// Server is a backend listening on 127.0.0.1 with an ephemeral port.
type Server struct {
	ID string

	listener net.Listener
	behavior atomic.Int32
	pings    atomic.Int64

	mutex    sync.Mutex
	requests []protocol.Request
	conns    map[net.Conn]struct{}
	closed   bool
	wg       sync.WaitGroup
}

// NewServer starts a healthy server tagging its responses with id.
func NewServer(id string) (*Server, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}

	return NewServerOn(id, listener), nil
}

// NewServerOn starts a healthy server accepting from listener.
func NewServerOn(id string, listener net.Listener) *Server {
	s := &Server{
		ID:       id,
		listener: listener,
		conns:    make(map[net.Conn]struct{}),
	}

	s.wg.Add(1)
	go s.serve()

	return s
}

// Address returns the host:port the server listens on.
func (s *Server) Address() string {
	return s.listener.Addr().String()
}

func (s *Server) SetBehavior(b Behavior) {
	s.behavior.Store(int32(b))
}

// Pings returns the number of PING frames received.
func (s *Server) Pings() int64 {
	return s.pings.Load()
}

// Requests returns the non-control frames received so far.
func (s *Server) Requests() []protocol.Request {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	out := make([]protocol.Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// Close stops accepting, closes open connections and waits for handlers.
func (s *Server) Close() {
	s.mutex.Lock()
	if s.closed {
		s.mutex.Unlock()
		return
	}
	s.closed = true
	for conn := range s.conns {
		conn.Close()
	}
	s.mutex.Unlock()

	s.listener.Close()
	s.wg.Wait()
}

func (s *Server) serve() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			time.Sleep(10 * time.Millisecond)
			continue
		}

		s.mutex.Lock()
		if s.closed {
			s.mutex.Unlock()
			conn.Close()
			return
		}
		s.conns[conn] = struct{}{}
		s.wg.Add(1)
		s.mutex.Unlock()

		go s.handle(conn)
	}
}

func (s *Server) handle(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mutex.Lock()
		delete(s.conns, conn)
		s.mutex.Unlock()
		conn.Close()
	}()

	behavior := Behavior(s.behavior.Load())
	if behavior == HangUp {
		return
	}

	var req protocol.Request
	if err := protocol.NewReader(conn, 0).ReadMessage(&req); err != nil {
		return
	}

	if req.IsPing() {
		s.pings.Add(1)
	} else {
		s.mutex.Lock()
		s.requests = append(s.requests, req)
		s.mutex.Unlock()
	}

	switch behavior {
	case Silent:
		// Block until the peer or Close tears the connection down.
		buf := make([]byte, 1)
		for {
			if _, err := conn.Read(buf); err != nil {
				return
			}
		}

	case Garbage:
		conn.Write([]byte("not json\n"))

	case WrongReply:
		if req.IsPing() {
			protocol.WriteMessage(conn, protocol.Control{Type: "BUSY"})
			return
		}
		conn.Write([]byte("{}\n"))

	case BlankResult:
		if req.IsPing() {
			protocol.WriteMessage(conn, protocol.Pong)
			return
		}
		conn.Write([]byte(`{"response":""}` + "\n"))

	default:
		if req.IsPing() {
			protocol.WriteMessage(conn, protocol.Pong)
			return
		}
		resp := compute.Process(req)
		resp.ServerID = s.ID
		protocol.WriteMessage(conn, resp)
	}
}
