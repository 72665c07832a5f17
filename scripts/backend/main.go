// Backend is a development compute server speaking the balancer's wire
// protocol. It answers one frame per connection: PING gets PONG, anything
// else is computed and tagged with the server id.
//
// Usage:
//
//	go run ./scripts/backend --id A --address localhost:13001
package main

import (
	"context"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/angeloszaimis/compute-balancer/internal/compute"
	"github.com/angeloszaimis/compute-balancer/internal/protocol"
	"github.com/angeloszaimis/compute-balancer/internal/tcpserver"
	"github.com/angeloszaimis/compute-balancer/pkg/logger"
)

type computeHandler struct {
	id      string
	timeout time.Duration
	log     *slog.Logger
}

func (h computeHandler) ServeConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	conn.SetDeadline(time.Now().Add(h.timeout))

	var req protocol.Request
	if err := protocol.NewReader(conn, 0).ReadMessage(&req); err != nil {
		h.log.Debug("Unreadable frame", slog.String("from", conn.RemoteAddr().String()), slog.Any("err", err))
		return
	}

	if req.IsPing() {
		protocol.WriteMessage(conn, protocol.Pong)
		return
	}

	h.log.Info("Received request",
		slog.String("from", conn.RemoteAddr().String()),
		slog.String("request", req.String()))

	resp := compute.Process(req)
	resp.ServerID = h.id

	if err := protocol.WriteMessage(conn, resp); err != nil {
		h.log.Warn("Failed to write response", slog.Any("err", err))
	}
}

func main() {
	id := pflag.String("id", "A", "server identifier returned as server_id")
	address := pflag.String("address", "localhost:13001", "address to listen on")
	timeout := pflag.Duration("timeout", 5*time.Second, "per-connection deadline")
	level := pflag.String("log-level", "info", "log level")
	pflag.Parse()

	log := logger.New(*level, false, "dev").With(slog.String("server_id", *id))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	srv, err := tcpserver.New(*address, computeHandler{id: *id, timeout: *timeout, log: log}, log)
	if err != nil {
		log.Error("Invalid address", slog.Any("err", err))
		os.Exit(1)
	}

	if err := srv.Listen(); err != nil {
		log.Error("Failed to listen", slog.Any("err", err))
		os.Exit(1)
	}
	log.Info("Backend server listening", slog.String("address", srv.Addr().String()))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelShutdown()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("Error during shutdown", slog.Any("err", err))
		}
	case err := <-errCh:
		if err != nil {
			log.Error("Server failed", slog.Any("err", err))
			os.Exit(1)
		}
	}
}
