package events

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/angeloszaimis/compute-balancer/internal/circuitbreaker"
)

const logTimestampLayout = "2006-01-02 15:04:05"

// RedisConfig holds connection and retention settings for RedisSink.
type RedisConfig struct {
	Address  string
	Password string
	DB       int

	// LogKey is the list that receives log lines, newest first.
	LogKey string
	// LogLimit is the number of log lines kept after each push.
	LogLimit int64

	// BufferSize is the capacity of the in-process queue. Events arriving
	// while it is full are dropped.
	BufferSize int
	// Timeout bounds every Redis round trip.
	Timeout time.Duration

	// BreakerThreshold consecutive write failures pause writing for
	// BreakerCooldown; events arriving meanwhile are dropped.
	BreakerThreshold int
	BreakerCooldown  time.Duration
}

// DefaultRedisConfig returns a RedisConfig with default values.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Address:    "localhost:6379",
		LogKey:     "lb_logs",
		LogLimit:   100,
		BufferSize: 1024,
		Timeout:    time.Second,

		BreakerThreshold: 3,
		BreakerCooldown:  5 * time.Second,
	}
}

type opKind int

const (
	opLog opKind = iota
	opIncr
	opHSet
)

type op struct {
	kind  opKind
	key   string
	field string
	value string
}

// RedisSink writes events to Redis from a single background goroutine.
type RedisSink struct {
	client  *redis.Client
	config  RedisConfig
	logger  *slog.Logger
	queue   chan op
	breaker *circuitbreaker.CircuitBreaker
	dropped atomic.Uint64
}

// NewRedisSink creates the client without connecting; go-redis dials lazily.
func NewRedisSink(config RedisConfig, logger *slog.Logger) *RedisSink {
	defaults := DefaultRedisConfig()
	if config.LogKey == "" {
		config.LogKey = defaults.LogKey
	}
	if config.LogLimit <= 0 {
		config.LogLimit = defaults.LogLimit
	}
	if config.BufferSize <= 0 {
		config.BufferSize = defaults.BufferSize
	}
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if config.BreakerThreshold <= 0 {
		config.BreakerThreshold = defaults.BreakerThreshold
	}
	if config.BreakerCooldown <= 0 {
		config.BreakerCooldown = defaults.BreakerCooldown
	}

	client := redis.NewClient(&redis.Options{
		Addr:         config.Address,
		Password:     config.Password,
		DB:           config.DB,
		DialTimeout:  config.Timeout,
		ReadTimeout:  config.Timeout,
		WriteTimeout: config.Timeout,
		MaxRetries:   1,
	})

	return &RedisSink{
		client:  client,
		config:  config,
		logger:  logger.With(slog.String("component", "redis-sink")),
		queue:   make(chan op, config.BufferSize),
		breaker: circuitbreaker.NewCircuitBreaker(config.BreakerThreshold, config.BreakerCooldown),
	}
}

// AppendLog pushes a timestamped line onto the log list.
func (s *RedisSink) AppendLog(text string) {
	line := "[" + time.Now().Format(logTimestampLayout) + "] " + text
	s.enqueue(op{kind: opLog, key: s.config.LogKey, value: line})
}

func (s *RedisSink) IncrementCounter(name string) {
	s.enqueue(op{kind: opIncr, key: name})
}

func (s *RedisSink) SetField(mapName, key, value string) {
	s.enqueue(op{kind: opHSet, key: mapName, field: key, value: value})
}

// Dropped returns the number of events discarded because the queue was full
// or writing was paused after repeated failures.
func (s *RedisSink) Dropped() uint64 {
	return s.dropped.Load()
}

// ResetCounter sets a counter to zero. Unlike the event methods it reports
// errors, so callers at startup can log them.
func (s *RedisSink) ResetCounter(ctx context.Context, name string) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	return s.client.Set(ctx, name, 0, 0).Err()
}

// Run writes queued events until ctx is cancelled, then flushes what is left.
func (s *RedisSink) Run(ctx context.Context) {
	s.logger.Info("Event sink started", slog.String("address", s.config.Address))
	defer s.logger.Info("Event sink stopped")

	for {
		select {
		case o := <-s.queue:
			s.write(o)
		case <-ctx.Done():
			s.drain()
			return
		}
	}
}

// Close releases the Redis connection pool.
func (s *RedisSink) Close() error {
	return s.client.Close()
}

func (s *RedisSink) enqueue(o op) {
	select {
	case s.queue <- o:
	default:
		s.dropped.Add(1)
	}
}

func (s *RedisSink) drain() {
	for {
		select {
		case o := <-s.queue:
			s.write(o)
		default:
			return
		}
	}
}

func (s *RedisSink) write(o op) {
	if !s.breaker.Allow() {
		s.dropped.Add(1)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.config.Timeout)
	defer cancel()

	var err error
	switch o.kind {
	case opLog:
		_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.LPush(ctx, o.key, o.value)
			pipe.LTrim(ctx, o.key, 0, s.config.LogLimit-1)
			return nil
		})
	case opIncr:
		err = s.client.Incr(ctx, o.key).Err()
	case opHSet:
		err = s.client.HSet(ctx, o.key, o.field, o.value).Err()
	}

	if err != nil {
		s.logger.Debug("Event sink write failed",
			slog.String("key", o.key),
			slog.Any("err", err))
		if s.breaker.RecordFailure() {
			s.logger.Warn("Event sink unreachable, pausing writes",
				slog.Duration("cooldown", s.config.BreakerCooldown),
				slog.Any("err", err))
		}
		return
	}

	if s.breaker.RecordSuccess() {
		s.logger.Info("Event sink reachable again")
	}
}
