package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/angeloszaimis/compute-balancer/internal/netaddr"
)

const (
	EnvDev     = "dev"
	EnvStaging = "staging"
	EnvProd    = "prod"
)

const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

const (
	SinkNone  = "none"
	SinkRedis = "redis"
)

// EnvPrefix is prepended to every environment override, e.g. LB_SERVER_ADDRESS.
const EnvPrefix = "LB"

type ServerConfig struct {
	Address         string        `mapstructure:"address"`
	Environment     string        `mapstructure:"environment"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxFrameBytes   int           `mapstructure:"max_frame_bytes"`
}

type HealthCheckConfig struct {
	Interval       time.Duration `mapstructure:"interval"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
}

type ForwardingConfig struct {
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
}

type BackendConfig struct {
	Address string `mapstructure:"address"`
	ID      string `mapstructure:"id"`
}

type StatusConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address"`
}

type RedisConfig struct {
	Address    string        `mapstructure:"address"`
	Password   string        `mapstructure:"password"`
	DB         int           `mapstructure:"db"`
	LogKey     string        `mapstructure:"log_key"`
	LogLimit   int64         `mapstructure:"log_limit"`
	BufferSize int           `mapstructure:"buffer_size"`
	Timeout    time.Duration `mapstructure:"timeout"`

	BreakerThreshold int           `mapstructure:"breaker_threshold"`
	BreakerCooldown  time.Duration `mapstructure:"breaker_cooldown"`
}

type EventSinkConfig struct {
	Type  string      `mapstructure:"type"`
	Redis RedisConfig `mapstructure:"redis"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	HealthCheck HealthCheckConfig `mapstructure:"health_check"`
	Forwarding  ForwardingConfig  `mapstructure:"forwarding"`
	Backends    []BackendConfig   `mapstructure:"backends"`
	Status      StatusConfig      `mapstructure:"status"`
	EventSink   EventSinkConfig   `mapstructure:"event_sink"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", "localhost:12000")
	v.SetDefault("server.environment", EnvDev)
	v.SetDefault("server.read_timeout", "60s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.shutdown_timeout", "5s")
	v.SetDefault("server.max_frame_bytes", 1<<20)

	v.SetDefault("health_check.interval", "5s")
	v.SetDefault("health_check.connect_timeout", "2s")
	v.SetDefault("health_check.read_timeout", "2s")

	v.SetDefault("forwarding.connect_timeout", "3s")
	v.SetDefault("forwarding.read_timeout", "3s")

	v.SetDefault("status.enabled", true)
	v.SetDefault("status.address", "localhost:8080")

	v.SetDefault("event_sink.type", SinkNone)
	v.SetDefault("event_sink.redis.address", "localhost:6379")
	v.SetDefault("event_sink.redis.password", "")
	v.SetDefault("event_sink.redis.db", 0)
	v.SetDefault("event_sink.redis.log_key", "lb_logs")
	v.SetDefault("event_sink.redis.log_limit", 100)
	v.SetDefault("event_sink.redis.buffer_size", 1024)
	v.SetDefault("event_sink.redis.timeout", "1s")
	v.SetDefault("event_sink.redis.breaker_threshold", 3)
	v.SetDefault("event_sink.redis.breaker_cooldown", "5s")

	v.SetDefault("logging.level", LogLevelInfo)
}

// Load builds the configuration for the given command-line arguments
// (without the program name).
func Load(args []string) (*Config, error) {
	flags := pflag.NewFlagSet("load-balancer", pflag.ContinueOnError)
	configFile := flags.String("config", "", "path to a YAML configuration file")
	flags.String("address", "", "address the balancer listens on (host:port)")
	flags.String("log-level", "", "log level: debug, info, warn or error")

	if err := flags.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)

	if err := v.BindPFlag("server.address", flags.Lookup("address")); err != nil {
		return nil, err
	}
	if err := v.BindPFlag("logging.level", flags.Lookup("log-level")); err != nil {
		return nil, err
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if *configFile != "" {
		v.SetConfigFile(*configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			slog.Error("failed to read config file", slog.String("error", err.Error()))
			return nil, err
		}
		slog.Warn("config file not found, using defaults and environment variables")
	} else {
		slog.Info("loaded config file", slog.String("file", v.ConfigFileUsed()))
	}

	if raw := os.Getenv(EnvPrefix + "_BACKENDS"); raw != "" {
		backends, err := ParseBackends(raw)
		if err != nil {
			return nil, err
		}
		items := make([]map[string]any, 0, len(backends))
		for _, b := range backends {
			items = append(items, map[string]any{"address": b.Address, "id": b.ID})
		}
		v.Set("backends", items)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		slog.Error("failed to unmarshal config", slog.String("error", err.Error()))
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		return nil, err
	}

	return &cfg, nil
}

// ParseBackends reads the compact "ID=host:port,ID=host:port" form used by
// the LB_BACKENDS environment variable.
func ParseBackends(value string) ([]BackendConfig, error) {
	var backends []BackendConfig

	for _, item := range strings.Split(value, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}

		id, address, ok := strings.Cut(item, "=")
		if !ok {
			return nil, fmt.Errorf("backend %q: expected ID=host:port", item)
		}

		backends = append(backends, BackendConfig{
			Address: strings.TrimSpace(address),
			ID:      strings.TrimSpace(id),
		})
	}

	return backends, nil
}

func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Server),
		validation.Field(&c.HealthCheck),
		validation.Field(&c.Forwarding),
		validation.Field(&c.Backends,
			validation.Required.Error("at least one backend must be configured"),
			validation.By(uniqueAddresses),
		),
		validation.Field(&c.Status),
		validation.Field(&c.EventSink),
		validation.Field(&c.Logging),
	)
}

func (s ServerConfig) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Address, validation.Required, netaddr.Listen),
		validation.Field(&s.Environment,
			validation.Required,
			validation.In(EnvDev, EnvStaging, EnvProd),
		),
		validation.Field(&s.ReadTimeout, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&s.WriteTimeout, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&s.ShutdownTimeout, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&s.MaxFrameBytes, validation.Required, validation.Min(64)),
	)
}

func (h HealthCheckConfig) Validate() error {
	return validation.ValidateStruct(&h,
		validation.Field(&h.Interval, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&h.ConnectTimeout, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&h.ReadTimeout, validation.Required, validation.Min(time.Millisecond)),
	)
}

func (f ForwardingConfig) Validate() error {
	return validation.ValidateStruct(&f,
		validation.Field(&f.ConnectTimeout, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&f.ReadTimeout, validation.Required, validation.Min(time.Millisecond)),
	)
}

func (b BackendConfig) Validate() error {
	return validation.ValidateStruct(&b,
		validation.Field(&b.Address, validation.Required, netaddr.HostPort),
		validation.Field(&b.ID, validation.Required),
	)
}

func (s StatusConfig) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Address, validation.When(s.Enabled, validation.Required, netaddr.Listen)),
	)
}

func (e EventSinkConfig) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.Type, validation.Required, validation.In(SinkNone, SinkRedis)),
		validation.Field(&e.Redis, validation.When(e.Type == SinkRedis, validation.By(func(value interface{}) error {
			rc, ok := value.(RedisConfig)
			if !ok {
				return validation.NewError("validation_invalid_type", "must be a RedisConfig")
			}
			return validation.ValidateStruct(&rc,
				validation.Field(&rc.Address, validation.Required, netaddr.HostPort),
				validation.Field(&rc.DB, validation.Min(0)),
				validation.Field(&rc.LogKey, validation.Required),
				validation.Field(&rc.LogLimit, validation.Required, validation.Min(int64(1))),
				validation.Field(&rc.BufferSize, validation.Required, validation.Min(1)),
				validation.Field(&rc.Timeout, validation.Required, validation.Min(time.Millisecond)),
				validation.Field(&rc.BreakerThreshold, validation.Required, validation.Min(1)),
				validation.Field(&rc.BreakerCooldown, validation.Required, validation.Min(time.Millisecond)),
			)
		}))),
	)
}

func (l LoggingConfig) Validate() error {
	return validation.ValidateStruct(&l,
		validation.Field(&l.Level,
			validation.Required,
			validation.In(LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError),
		),
	)
}

func uniqueAddresses(value interface{}) error {
	backends, ok := value.([]BackendConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a list of backends")
	}

	seen := make(map[string]struct{}, len(backends))
	for _, b := range backends {
		if _, dup := seen[b.Address]; dup {
			return validation.NewError("validation_duplicate_backend",
				fmt.Sprintf("backend address %s is configured more than once", b.Address))
		}
		seen[b.Address] = struct{}{}
	}

	return nil
}
