package loadbalancer

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/angeloszaimis/compute-balancer/internal/backend"
	"github.com/angeloszaimis/compute-balancer/internal/events"
	"github.com/angeloszaimis/compute-balancer/internal/protocol"
	"github.com/angeloszaimis/compute-balancer/internal/strategy"
)


type Config struct {
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
}

func DefaultConfig() Config {
	return Config{
		ConnectTimeout: 3 * time.Second,
		ReadTimeout:    3 * time.Second,
	}
}

// ResponseObserver receives the round trip time of every answered request.
type ResponseObserver interface {
	ObserveResponse(id string, duration time.Duration)
}

type LoadBalancer struct {
	strategy strategy.Strategy
	registry *backend.Registry
	config   Config
	sink     events.Sink
	logger   *slog.Logger
	observer ResponseObserver
}

func NewLoadBalancer(
	strategy strategy.Strategy,
	registry *backend.Registry,
	config Config,
	sink events.Sink,
	logger *slog.Logger,
) *LoadBalancer {
	if sink == nil {
		sink = events.Nop{}
	}

	return &LoadBalancer{
		strategy: strategy,
		registry: registry,
		config:   config,
		sink:     sink,
		logger:   logger,
	}
}

// ObserveWith registers an observer for response latencies.
func (lb *LoadBalancer) ObserveWith(observer ResponseObserver) {
	lb.observer = observer
}

// Forward delivers req to the first backend that answers and returns its
// response tagged with the backend identifier. When every attempt fails the
// balancer-level outage response is returned instead.
func (lb *LoadBalancer) Forward(ctx context.Context, req protocol.Request) protocol.Response {
	attempts := lb.registry.Len()

	for attempt := 0; attempt < attempts; attempt++ {
		candidate, err := lb.strategy.SelectCandidate()
		if err != nil {
			break
		}

		start := time.Now()
		resp, err := lb.exchange(ctx, candidate, req)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			lb.markDown(candidate, err)
			continue
		}
		duration := time.Since(start)

		resp.ServerID = candidate.ID()

		if lb.observer != nil {
			lb.observer.ObserveResponse(candidate.ID(), duration)
		}

		lb.logger.Debug("Forwarded request",
			slog.String("backend", candidate.String()),
			slog.Int("attempt", attempt+1),
			slog.Duration("duration", duration))

		lb.sink.AppendLog(fmt.Sprintf("Forwarded request %s to server %s, received response %s",
			req, candidate.ID(), resp))

		return resp
	}

	resp := protocol.ErrorResponse(protocol.AllBackendsDownMessage)

	lb.logger.Warn("No healthy backends available", slog.String("request", req.String()))
	lb.sink.AppendLog(fmt.Sprintf("Returning error response: %s for request %s", resp, req))
	lb.sink.IncrementCounter(events.CounterOutageResponses)

	return resp
}

// exchange performs one request/response round trip on a fresh connection.
func (lb *LoadBalancer) exchange(ctx context.Context, b *backend.Backend, req protocol.Request) (protocol.Response, error) {
	dialer := net.Dialer{Timeout: lb.config.ConnectTimeout}

	conn, err := dialer.DialContext(ctx, "tcp", b.Address())
	if err != nil {
		return protocol.Response{}, fmt.Errorf("connect: %w", err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(lb.config.ReadTimeout)); err != nil {
		return protocol.Response{}, fmt.Errorf("set deadline: %w", err)
	}

	if err := protocol.WriteMessage(conn, req); err != nil {
		return protocol.Response{}, fmt.Errorf("send request: %w", err)
	}

	frame, err := protocol.NewReader(conn, 0).ReadFrame()
	if err != nil {
		return protocol.Response{}, fmt.Errorf("read response: %w", err)
	}

	resp, err := protocol.DecodeResponse(frame)
	if err != nil {
		return protocol.Response{}, fmt.Errorf("read response: %w", err)
	}

	return resp, nil
}

func (lb *LoadBalancer) markDown(b *backend.Backend, cause error) {
	if lb.registry.SetHealth(b.Address(), false) {
		lb.logger.Warn("Server is down",
			slog.String("server", b.String()),
			slog.Any("err", cause))
		lb.sink.SetField(events.HealthMap, b.Address(), "false")
	}

	lb.sink.AppendLog(fmt.Sprintf("Error connecting to backend server %s: %v", b, cause))
	lb.sink.IncrementCounter(events.CounterBackendFailures)
}
