package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/angeloszaimis/adaptive-router/internal/backend"
	"github.com/angeloszaimis/adaptive-router/internal/httpserver"
	"github.com/angeloszaimis/adaptive-router/internal/ratelimit"
	"github.com/angeloszaimis/adaptive-router/internal/routing"
	"github.com/angeloszaimis/adaptive-router/internal/strategy"
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

type ServerConfig struct {
	Address     string `mapstructure:"address"`
	Environment string `mapstructure:"environment"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

type StrategyConfig struct {
	Type string `mapstructure:"type"`
	Seed uint64 `mapstructure:"seed"`
}

type BackendsConfig struct {
	Host  string `mapstructure:"host"`
	Ports []int  `mapstructure:"ports"`
}

type RoutingConfig struct {
	MaxAttempts         int    `mapstructure:"max_attempts"`
	PenaltyFreeAttempts int    `mapstructure:"penalty_free_attempts"`
	Cooldown            string `mapstructure:"cooldown"`
	WindowSize          int    `mapstructure:"window_size"`
	BlockBaseDuration   string `mapstructure:"block_base_duration"`
	BlockMaxMultiplier  int    `mapstructure:"block_max_multiplier"`
	DiscoveryLimit      int    `mapstructure:"discovery_limit"`
}

type DownstreamConfig struct {
	Timeout  string `mapstructure:"timeout"`
	MaxConns int    `mapstructure:"max_conns"`
}

type MetricsConfig struct {
	BufferSize       int    `mapstructure:"buffer_size"`
	SnapshotPath     string `mapstructure:"snapshot_path"`
	SnapshotInterval string `mapstructure:"snapshot_interval"`
	LatencyWindow    int    `mapstructure:"latency_window"`
}

type AttemptLogConfig struct {
	Path          string `mapstructure:"path"`
	SessionID     string `mapstructure:"session_id"`
	BatchSize     int    `mapstructure:"batch_size"`
	FlushInterval string `mapstructure:"flush_interval"`
}

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Strategy   StrategyConfig   `mapstructure:"strategy"`
	Backends   BackendsConfig   `mapstructure:"backends"`
	Routing    RoutingConfig    `mapstructure:"routing"`
	Downstream DownstreamConfig `mapstructure:"downstream"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	AttemptLog AttemptLogConfig `mapstructure:"attempt_log"`
}

// envAliases maps configuration keys to the short variable names accepted in
// addition to the SECTION_KEY form.
var envAliases = map[string]string{
	"strategy.type":               "LB_STRATEGY",
	"routing.cooldown":            "LB_RATE_LIMIT_COOLDOWN",
	"routing.window_size":         "LB_SLIDING_WINDOW_SIZE",
	"routing.block_base_duration": "LB_BLOCK_DURATION",
	"attempt_log.session_id":      "LB_SESSION_ID",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", ":8000")
	v.SetDefault("server.environment", EnvDev)
	v.SetDefault("logging.level", LogLevelInfo)
	v.SetDefault("strategy.type", "v4")
	v.SetDefault("strategy.seed", 0)
	v.SetDefault("backends.host", "localhost")
	v.SetDefault("backends.ports", []int{4000, 4001, 4002, 4003, 4004, 4005, 4006, 4007, 4008, 4009})
	v.SetDefault("routing.max_attempts", routing.DefaultMaxAttempts)
	v.SetDefault("routing.penalty_free_attempts", routing.DefaultPenaltyFreeAttempts)
	v.SetDefault("routing.cooldown", "1s")
	v.SetDefault("routing.window_size", routing.DefaultWindowSize)
	v.SetDefault("routing.block_base_duration", "5s")
	v.SetDefault("routing.block_max_multiplier", ratelimit.DefaultMaxMultiplier)
	v.SetDefault("routing.discovery_limit", strategy.DefaultDiscoveryLimit)
	v.SetDefault("downstream.timeout", "5s")
	v.SetDefault("downstream.max_conns", 512)
	v.SetDefault("metrics.buffer_size", 1024)
	v.SetDefault("metrics.snapshot_path", "metrics.json")
	v.SetDefault("metrics.snapshot_interval", "500ms")
	v.SetDefault("metrics.latency_window", 10000)
	v.SetDefault("attempt_log.path", "runs/attempts.db")
	v.SetDefault("attempt_log.session_id", "")
	v.SetDefault("attempt_log.batch_size", 64)
	v.SetDefault("attempt_log.flush_interval", "250ms")
}

// Load reads configuration. When configFile is empty, config.yaml is searched
// for in ./config and the working directory; a missing file is not an error.
// A .env file in the working directory is loaded first and never overrides
// variables that are already set.
func Load(configFile string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, alias := range envAliases {
		if err := v.BindEnv(key, strings.ToUpper(strings.ReplaceAll(key, ".", "_")), alias); err != nil {
			return nil, fmt.Errorf("bind %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		slog.Debug("config file not found, using defaults and environment variables")
	} else {
		slog.Debug("loaded config file", slog.String("file", v.ConfigFileUsed()))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Server,
			validation.By(func(value interface{}) error {
				sc, ok := value.(ServerConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a ServerConfig")
				}
				return validation.ValidateStruct(&sc,
					validation.Field(&sc.Environment,
						validation.Required,
						validation.In(EnvDev, EnvStaging, EnvProd),
					),
					validation.Field(&sc.Address,
						validation.Required,
						validation.By(httpserver.ValidateAddress),
					),
				)
			}),
		),
		validation.Field(&c.Logging,
			validation.By(func(value interface{}) error {
				lc, ok := value.(LoggingConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a LoggingConfig")
				}
				return validation.ValidateStruct(&lc,
					validation.Field(&lc.Level,
						validation.Required,
						validation.In(LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError),
					),
				)
			}),
		),
		validation.Field(&c.Strategy,
			validation.By(func(value interface{}) error {
				sc, ok := value.(StrategyConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a StrategyConfig")
				}
				return validation.ValidateStruct(&sc,
					validation.Field(&sc.Type,
						validation.Required,
						validation.By(validateStrategy),
					),
				)
			}),
		),
		validation.Field(&c.Backends,
			validation.By(func(value interface{}) error {
				bc, ok := value.(BackendsConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a BackendsConfig")
				}
				return validation.ValidateStruct(&bc,
					validation.Field(&bc.Host,
						validation.Required,
						is.Host,
					),
					validation.Field(&bc.Ports,
						validation.Required,
						validation.Each(validation.Min(1), validation.Max(65535)),
					),
				)
			}),
		),
		validation.Field(&c.Routing,
			validation.By(func(value interface{}) error {
				rc, ok := value.(RoutingConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a RoutingConfig")
				}
				return validation.ValidateStruct(&rc,
					validation.Field(&rc.MaxAttempts, validation.Required, validation.Min(1), validation.Max(100)),
					validation.Field(&rc.PenaltyFreeAttempts, validation.Required, validation.Min(1)),
					validation.Field(&rc.Cooldown, validation.Required, validation.By(validateDuration)),
					validation.Field(&rc.WindowSize, validation.Required, validation.Min(1)),
					validation.Field(&rc.BlockBaseDuration, validation.Required, validation.By(validateDuration)),
					validation.Field(&rc.BlockMaxMultiplier, validation.Required, validation.Min(1)),
					validation.Field(&rc.DiscoveryLimit, validation.Required, validation.Min(1)),
				)
			}),
		),
		validation.Field(&c.Downstream,
			validation.By(func(value interface{}) error {
				dc, ok := value.(DownstreamConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a DownstreamConfig")
				}
				return validation.ValidateStruct(&dc,
					validation.Field(&dc.Timeout, validation.Required, validation.By(validateDuration)),
					validation.Field(&dc.MaxConns, validation.Required, validation.Min(1)),
				)
			}),
		),
		validation.Field(&c.Metrics,
			validation.By(func(value interface{}) error {
				mc, ok := value.(MetricsConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a MetricsConfig")
				}
				return validation.ValidateStruct(&mc,
					validation.Field(&mc.BufferSize, validation.Required, validation.Min(1)),
					validation.Field(&mc.SnapshotInterval, validation.Required, validation.By(validateDuration)),
					validation.Field(&mc.LatencyWindow, validation.Required, validation.Min(1)),
				)
			}),
		),
		validation.Field(&c.AttemptLog,
			validation.By(func(value interface{}) error {
				ac, ok := value.(AttemptLogConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be an AttemptLogConfig")
				}
				return validation.ValidateStruct(&ac,
					validation.Field(&ac.BatchSize, validation.Required, validation.Min(1)),
					validation.Field(&ac.FlushInterval, validation.Required, validation.By(validateDuration)),
				)
			}),
		),
	)
}

// Ports returns the configured backend population.
func (c *Config) Ports() []backend.ID {
	ids := make([]backend.ID, len(c.Backends.Ports))
	for i, p := range c.Backends.Ports {
		ids[i] = backend.ID(p)
	}
	return ids
}

// Engine builds the routing engine configuration. Durations must have passed
// Validate.
func (c *Config) Engine() routing.Config {
	return routing.Config{
		Strategy:            c.Strategy.Type,
		Seed:                c.Strategy.Seed,
		Backends:            c.Ports(),
		MaxAttempts:         c.Routing.MaxAttempts,
		PenaltyFreeAttempts: c.Routing.PenaltyFreeAttempts,
		WindowSize:          c.Routing.WindowSize,
		DiscoveryLimit:      c.Routing.DiscoveryLimit,
		RateLimit: ratelimit.Config{
			Cooldown:      mustDuration(c.Routing.Cooldown),
			BlockBase:     mustDuration(c.Routing.BlockBaseDuration),
			MaxMultiplier: c.Routing.BlockMaxMultiplier,
		},
	}
}

func (c *Config) DownstreamTimeout() time.Duration {
	return mustDuration(c.Downstream.Timeout)
}

func (c *Config) SnapshotInterval() time.Duration {
	return mustDuration(c.Metrics.SnapshotInterval)
}

func (c *Config) FlushInterval() time.Duration {
	return mustDuration(c.AttemptLog.FlushInterval)
}

// ParseDuration accepts Go duration strings and bare numbers of seconds,
// so that "1.5" and "1500ms" are equivalent.
func ParseDuration(s string) (time.Duration, error) {
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	secs, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

func mustDuration(s string) time.Duration {
	d, err := ParseDuration(s)
	if err != nil {
		panic(err)
	}
	return d
}

func validateStrategy(value interface{}) error {
	selector, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}
	if _, err := strategy.Lookup(selector); err != nil {
		return validation.NewError("validation_unknown_strategy", "must be one of v1..v8 or a strategy name")
	}
	return nil
}

func validateDuration(value interface{}) error {
	durationStr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	d, err := ParseDuration(durationStr)
	if err != nil {
		return validation.NewError("validation_invalid_duration", "must be a valid duration (e.g., 500ms, 5s, 1.5)")
	}
	if d <= 0 {
		return validation.NewError("validation_invalid_duration", "must be positive")
	}

	return nil
}
