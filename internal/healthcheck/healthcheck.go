package healthcheck

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/angeloszaimis/compute-balancer/internal/backend"
	"github.com/angeloszaimis/compute-balancer/internal/events"
	"github.com/angeloszaimis/compute-balancer/internal/protocol"
)

var ErrUnexpectedReply = errors.New("unexpected probe reply")

type Config struct {
	Interval       time.Duration
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
}

func DefaultConfig() Config {
	return Config{
		Interval:       5 * time.Second,
		ConnectTimeout: 2 * time.Second,
		ReadTimeout:    2 * time.Second,
	}
}

// Probe opens a short-lived connection to address, sends PING and waits for
// PONG. Any other outcome is returned as an error.
func Probe(ctx context.Context, address string, cfg Config) error {
	dialer := net.Dialer{Timeout: cfg.ConnectTimeout}

	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(cfg.ReadTimeout)); err != nil {
		return fmt.Errorf("set deadline: %w", err)
	}

	if err := protocol.WriteMessage(conn, protocol.Ping); err != nil {
		return fmt.Errorf("send ping: %w", err)
	}

	var reply protocol.Control
	if err := protocol.NewReader(conn, 0).ReadMessage(&reply); err != nil {
		return fmt.Errorf("read reply: %w", err)
	}

	if !reply.IsPong() {
		return fmt.Errorf("%w: %q", ErrUnexpectedReply, reply.Type)
	}

	return nil
}

// HealthCheck probes backend immediately and then every cfg.Interval,
// writing each verdict into the registry. It returns only when ctx is done.
func HealthCheck(
	ctx context.Context,
	registry *backend.Registry,
	backend *backend.Backend,
	cfg Config,
	sink events.Sink,
	logger *slog.Logger,
) {
	for {
		check(ctx, registry, backend, cfg, sink, logger)

		select {
		case <-ctx.Done():
			logger.Info("Health check stopped",
				slog.String("server", backend.String()))
			return

		case <-time.After(cfg.Interval):
		}
	}
}

func check(
	ctx context.Context,
	registry *backend.Registry,
	backend *backend.Backend,
	cfg Config,
	sink events.Sink,
	logger *slog.Logger,
) {
	err := Probe(ctx, backend.Address(), cfg)
	if ctx.Err() != nil {
		return
	}

	healthy := err == nil
	changed := registry.SetHealth(backend.Address(), healthy)

	switch {
	case changed && healthy:
		logger.Info("Server is back up",
			slog.String("server", backend.String()))
	case changed:
		logger.Warn("Server is down",
			slog.String("server", backend.String()),
			slog.Any("err", err))
	case !healthy:
		logger.Debug("Health probe failed",
			slog.String("server", backend.String()),
			slog.Any("err", err))
	}

	sink.SetField(events.HealthMap, backend.Address(), strconv.FormatBool(healthy))
	sink.AppendLog(fmt.Sprintf("Health check for server %s at %s - status: %t",
		backend.ID(), backend.Address(), healthy))
}
