package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/angeloszaimis/compute-balancer/config"
	"github.com/angeloszaimis/compute-balancer/internal/backend"
	"github.com/angeloszaimis/compute-balancer/internal/events"
	"github.com/angeloszaimis/compute-balancer/internal/handler"
	"github.com/angeloszaimis/compute-balancer/internal/healthcheck"
	"github.com/angeloszaimis/compute-balancer/internal/httpserver"
	"github.com/angeloszaimis/compute-balancer/internal/loadbalancer"
	"github.com/angeloszaimis/compute-balancer/internal/metrics"
	"github.com/angeloszaimis/compute-balancer/internal/status"
	"github.com/angeloszaimis/compute-balancer/internal/strategy"
	"github.com/angeloszaimis/compute-balancer/internal/tcpserver"
	"github.com/angeloszaimis/compute-balancer/pkg/logger"
)

const collectorBufferSize = 4096

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	os.Exit(run(ctx, os.Args[1:], os.Stdout))
}

// run returns the process exit code: 0 after a clean shutdown, 1 when the
// configuration is invalid or a listener fails.
func run(ctx context.Context, args []string, out io.Writer) int {
	cfg, err := config.Load(args)
	if err != nil {
		slog.Error("failed to load config", slog.Any("err", err))
		return 1
	}

	log := logger.NewWithWriter(out, cfg.Logging.Level, false, cfg.Server.Environment)

	a, err := newApp(cfg, log)
	if err != nil {
		log.Error("Failed to initialize load balancer", slog.Any("err", err))
		return 1
	}
	defer a.close()

	if err := a.listen(); err != nil {
		log.Error("Failed to bind", slog.Any("err", err))
		return 1
	}

	if err := a.serve(ctx); err != nil {
		log.Error("Load balancer stopped with error", slog.Any("err", err))
		return 1
	}

	return 0
}

type app struct {
	cfg *config.Config
	log *slog.Logger

	registry  *backend.Registry
	collector *metrics.Collector
	redis     *events.RedisSink
	sink      events.Sink
	balancer  *loadbalancer.LoadBalancer

	listener *tcpserver.Server
	status   *httpserver.Server
}

func newApp(cfg *config.Config, log *slog.Logger) (*app, error) {
	registry, err := initializeBackends(cfg)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:       cfg,
		log:       log,
		registry:  registry,
		collector: metrics.NewCollector(collectorBufferSize, log),
	}

	if cfg.EventSink.Type == config.SinkRedis {
		a.redis = events.NewRedisSink(redisConfig(cfg.EventSink.Redis), log)
	}
	a.sink = events.NewMulti(a.collector, sinkOrNil(a.redis))

	a.balancer = loadbalancer.NewLoadBalancer(
		strategy.NewRoundRobinStrategy(registry),
		registry,
		loadbalancer.Config{
			ConnectTimeout: cfg.Forwarding.ConnectTimeout,
			ReadTimeout:    cfg.Forwarding.ReadTimeout,
		},
		a.sink,
		log,
	)
	a.balancer.ObserveWith(a.collector)

	connHandler := handler.NewConnectionHandler(log, a.balancer, a.sink, handler.Config{
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		MaxFrameSize: cfg.Server.MaxFrameBytes,
	})

	a.listener, err = tcpserver.New(cfg.Server.Address, connHandler, log)
	if err != nil {
		return nil, err
	}

	if cfg.Status.Enabled {
		page := status.New(registry, a.collector, status.DefaultLogLimit, log)
		a.status, err = httpserver.New(cfg.Status.Address, setupRouter(page, a.collector))
		if err != nil {
			return nil, err
		}
	}

	return a, nil
}

// initializeBackends registers the configured pool in order.
func initializeBackends(cfg *config.Config) (*backend.Registry, error) {
	if len(cfg.Backends) == 0 {
		return nil, fmt.Errorf("no backends configured")
	}

	registry := backend.NewRegistry()
	for _, b := range cfg.Backends {
		if _, err := registry.Register(b.Address, b.ID); err != nil {
			return nil, err
		}
	}

	return registry, nil
}

// listen binds every listener so address errors surface before serving.
func (a *app) listen() error {
	if err := a.listener.Listen(); err != nil {
		return fmt.Errorf("balancer listener: %w", err)
	}

	if a.status != nil {
		if err := a.status.Listen(); err != nil {
			a.listener.Shutdown(context.Background())
			return fmt.Errorf("status listener: %w", err)
		}
	}

	return nil
}

// serve runs until ctx is cancelled or a listener fails.
func (a *app) serve(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	a.collector.Start(gctx)

	if a.redis != nil {
		if err := a.redis.ResetCounter(gctx, events.CounterRequestsProcessed); err != nil {
			a.log.Warn("Failed to reset request counter", slog.Any("err", err))
		} else {
			a.sink.AppendLog("Initialized " + events.CounterRequestsProcessed + " to 0")
		}
		g.Go(func() error {
			a.redis.Run(gctx)
			return nil
		})
	}

	hcConfig := healthcheck.Config{
		Interval:       a.cfg.HealthCheck.Interval,
		ConnectTimeout: a.cfg.HealthCheck.ConnectTimeout,
		ReadTimeout:    a.cfg.HealthCheck.ReadTimeout,
	}
	for _, b := range a.registry.Backends() {
		g.Go(func() error {
			healthcheck.HealthCheck(gctx, a.registry, b, hcConfig, a.sink, a.log)
			return nil
		})
	}

	addr := a.listener.Addr().String()
	a.log.Info("Load Balancer listening", slog.String("address", addr))
	a.sink.AppendLog("Load Balancer listening on " + addr)

	g.Go(a.listener.Serve)

	if a.status != nil {
		a.log.Info("Status page available", slog.String("address", a.status.Addr().String()))
		g.Go(a.status.Serve)
	}

	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("Shutting down gracefully...")
		return a.shutdown()
	})

	return g.Wait()
}

func (a *app) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := a.listener.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("balancer listener: %w", err))
	}

	if a.status != nil {
		if err := a.status.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("status server: %w", err))
		}
	}

	if len(errs) > 0 {
		for _, err := range errs {
			a.log.Error("Error during shutdown", slog.Any("err", err))
		}
		return errs[0]
	}

	return nil
}

func (a *app) close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Debug("Failed to close event sink", slog.Any("err", err))
		}
	}
}

func redisConfig(rc config.RedisConfig) events.RedisConfig {
	return events.RedisConfig{
		Address:    rc.Address,
		Password:   rc.Password,
		DB:         rc.DB,
		LogKey:     rc.LogKey,
		LogLimit:   rc.LogLimit,
		BufferSize: rc.BufferSize,
		Timeout:    rc.Timeout,

		BreakerThreshold: rc.BreakerThreshold,
		BreakerCooldown:  rc.BreakerCooldown,
	}
}

// sinkOrNil keeps a nil *RedisSink from becoming a non-nil events.Sink.
func sinkOrNil(s *events.RedisSink) events.Sink {
	if s == nil {
		return nil
	}
	return s
}
