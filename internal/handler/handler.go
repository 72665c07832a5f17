package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/angeloszaimis/compute-balancer/internal/events"
	"github.com/angeloszaimis/compute-balancer/internal/protocol"
)

// Forwarder delivers a request to some backend and always returns a response.
type Forwarder interface {
	Forward(ctx context.Context, req protocol.Request) protocol.Response
}

type Config struct {
	// ReadTimeout bounds the wait for each request frame, idle time included.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	MaxFrameSize int
}

type ConnectionHandler struct {
	logger    *slog.Logger
	forwarder Forwarder
	sink      events.Sink
	config    Config
}

func NewConnectionHandler(logger *slog.Logger, forwarder Forwarder, sink events.Sink, config Config) *ConnectionHandler {
	if sink == nil {
		sink = events.Nop{}
	}

	return &ConnectionHandler{
		logger:    logger,
		forwarder: forwarder,
		sink:      sink,
		config:    config,
	}
}

// ServeConn runs the session on conn until the peer disconnects, a frame is
// malformed, a deadline expires or ctx is cancelled. conn is always closed.
func (h *ConnectionHandler) ServeConn(ctx context.Context, conn net.Conn) {
	client := conn.RemoteAddr().String()
	stop := context.AfterFunc(ctx, func() { conn.Close() })

	defer func() {
		stop()
		conn.Close()

		if r := recover(); r != nil {
			h.logger.Error("Panic while handling client",
				slog.String("client", client),
				slog.Any("panic", r))
			h.sink.AppendLog(fmt.Sprintf("Error handling client %s: %v", client, r))
		}

		h.logger.Debug("Client disconnected", slog.String("client", client))
		h.sink.AppendLog("Client disconnected from " + client)
	}()

	h.logger.Debug("Client connected", slog.String("client", client))
	h.sink.AppendLog("Client connected from " + client)

	reader := protocol.NewReader(conn, h.config.MaxFrameSize)

	for {
		if h.config.ReadTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(h.config.ReadTimeout))
		}

		var req protocol.Request
		if err := reader.ReadMessage(&req); err != nil {
			if !errors.Is(err, protocol.ErrNoMessage) {
				h.logger.Warn("Dropping client after unreadable frame",
					slog.String("client", client),
					slog.Any("err", err))
				h.sink.AppendLog(fmt.Sprintf("Error handling client %s: %v", client, err))
				h.sink.IncrementCounter(events.CounterClientErrors)
			}
			return
		}

		resp := h.respond(ctx, client, req)

		if h.config.WriteTimeout > 0 {
			conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
		}

		if err := protocol.WriteMessage(conn, resp); err != nil {
			h.logger.Debug("Failed to write response",
				slog.String("client", client),
				slog.Any("err", err))
			return
		}
	}
}

func (h *ConnectionHandler) respond(ctx context.Context, client string, req protocol.Request) protocol.Response {
	h.sink.AppendLog(fmt.Sprintf("Received request from %s: %s", client, req))
	h.sink.IncrementCounter(events.CounterRequestsProcessed)

	if err := req.Validate(); err != nil {
		resp := protocol.ErrorResponse(rejection(req, err))

		h.logger.Debug("Rejected request",
			slog.String("client", client),
			slog.String("request", req.String()),
			slog.Any("err", err))
		h.sink.AppendLog(fmt.Sprintf("Returning error response: %s for request %s", resp, req))
		h.sink.IncrementCounter(events.CounterClientErrors)

		return resp
	}

	return h.forwarder.Forward(ctx, req)
}

// rejection is the client-facing message for a request that fails validation.
func rejection(req protocol.Request, err error) string {
	switch {
	case errors.Is(err, protocol.ErrControlMessage):
		return "Unexpected control message: " + req.Type
	case errors.Is(err, protocol.ErrMissingOperation):
		return "Missing operation"
	default:
		return "Unknown operation: " + string(req.Operation)
	}
}
