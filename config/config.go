package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"slices"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/angeloszaimis/provider-router/internal/circuitbreaker"
	"github.com/angeloszaimis/provider-router/internal/fallback"
	"github.com/angeloszaimis/provider-router/internal/httpserver"
	"github.com/angeloszaimis/provider-router/internal/provider"
	"github.com/angeloszaimis/provider-router/internal/retry"
	"github.com/angeloszaimis/provider-router/internal/strategy"
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
	SinkLog   = "log"
	SinkRedis = "redis"
	SinkNone  = "none"
)

type ServerConfig struct {
	Address      string        `mapstructure:"address"`
	Environment  string        `mapstructure:"environment"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

type ProviderConfig struct {
	ID   string `mapstructure:"id"`
	Kind string `mapstructure:"kind"`
	// Enabled defaults to true when omitted.
	Enabled        *bool             `mapstructure:"enabled"`
	PreferredTier  string            `mapstructure:"preferred_tier"`
	Timeout        time.Duration     `mapstructure:"timeout"`
	MaxConcurrency int               `mapstructure:"max_concurrency"`
	RetryPreset    string            `mapstructure:"retry_preset"`
	Options        map[string]string `mapstructure:"options"`
}

func (p ProviderConfig) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

type RoutingConfig struct {
	DefaultProvider   string   `mapstructure:"default_provider"`
	FallbackChain     []string `mapstructure:"fallback_chain"`
	DisabledProviders []string `mapstructure:"disabled_providers"`
	Strategy          string   `mapstructure:"strategy"`
}

type HealthCheckConfig struct {
	Interval     time.Duration `mapstructure:"interval"`
	ProbeTimeout time.Duration `mapstructure:"probe_timeout"`
}

type CircuitBreakerConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	SuccessThreshold int           `mapstructure:"success_threshold"`
	RecoveryTimeout  time.Duration `mapstructure:"recovery_timeout"`
}

type RetryConfig struct {
	BaseDelay  time.Duration `mapstructure:"base_delay"`
	MaxDelay   time.Duration `mapstructure:"max_delay"`
	Multiplier float64       `mapstructure:"multiplier"`
	Jitter     bool          `mapstructure:"jitter"`
}

type FallbackConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	Timeout         time.Duration `mapstructure:"timeout"`
	DegradationMode string        `mapstructure:"degradation_mode"`
}

type TelemetryConfig struct {
	Sink         string        `mapstructure:"sink"`
	RedisURL     string        `mapstructure:"redis_url"`
	Stream       string        `mapstructure:"stream"`
	BufferSize   int           `mapstructure:"buffer_size"`
	FlushTimeout time.Duration `mapstructure:"flush_timeout"`
}

type MetricsConfig struct {
	BufferSize int `mapstructure:"buffer_size"`
}

type Config struct {
	Server         ServerConfig         `mapstructure:"server"`
	Logging        LoggingConfig        `mapstructure:"logging"`
	Providers      []ProviderConfig     `mapstructure:"providers"`
	Routing        RoutingConfig        `mapstructure:"routing"`
	HealthCheck    HealthCheckConfig    `mapstructure:"health_check"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
	Retry          RetryConfig          `mapstructure:"retry"`
	Fallback       FallbackConfig       `mapstructure:"fallback"`
	Telemetry      TelemetryConfig      `mapstructure:"telemetry"`
	Metrics        MetricsConfig        `mapstructure:"metrics"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.environment", EnvDev)
	v.SetDefault("server.address", ":9090")
	v.SetDefault("server.read_timeout", httpserver.DefaultReadTimeout)
	v.SetDefault("server.write_timeout", httpserver.DefaultWriteTimeout)
	v.SetDefault("server.idle_timeout", httpserver.DefaultIdleTimeout)
	v.SetDefault("logging.level", LogLevelInfo)

	v.SetDefault("routing.default_provider", "")
	v.SetDefault("routing.fallback_chain", []string{})
	v.SetDefault("routing.disabled_providers", []string{})
	v.SetDefault("routing.strategy", strategy.TierAffinity)

	v.SetDefault("health_check.interval", "60s")
	v.SetDefault("health_check.probe_timeout", "5s")

	v.SetDefault("circuit_breaker.failure_threshold", circuitbreaker.DefaultFailureThreshold)
	v.SetDefault("circuit_breaker.success_threshold", circuitbreaker.DefaultSuccessThreshold)
	v.SetDefault("circuit_breaker.recovery_timeout", "30s")

	v.SetDefault("retry.base_delay", "1s")
	v.SetDefault("retry.max_delay", "10s")
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.jitter", true)

	v.SetDefault("fallback.max_attempts", fallback.DefaultMaxAttempts)
	v.SetDefault("fallback.timeout", "30s")
	v.SetDefault("fallback.degradation_mode", string(fallback.ModeGraceful))

	v.SetDefault("telemetry.sink", SinkLog)
	v.SetDefault("telemetry.redis_url", "")
	v.SetDefault("telemetry.stream", "router:telemetry")
	v.SetDefault("telemetry.buffer_size", 1000)
	v.SetDefault("telemetry.flush_timeout", "2s")

	v.SetDefault("metrics.buffer_size", 1000)
}

// Load reads .env (optional), then config.yaml from ./config or the working
// directory, then environment variables (server.address → SERVER_ADDRESS).
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Error("failed to read .env file", slog.String("error", err.Error()))
		return nil, err
	}

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Error("failed to read config file", slog.String("error", err.Error()))
			return nil, err
		}
		slog.Warn("config file not found, using defaults and environment variables")
	} else {
		slog.Info("loaded config file", slog.String("file", v.ConfigFileUsed()))
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

func (c *Config) Validate() error {
	ids := c.providerIDs()

	return validation.ValidateStruct(c,
		validation.Field(&c.Server,
			validation.Required,
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
						validation.By(httpserver.ValidateAddr),
					),
					validation.Field(&sc.ReadTimeout, validation.Min(time.Duration(0))),
					validation.Field(&sc.WriteTimeout, validation.Min(time.Duration(0))),
					validation.Field(&sc.IdleTimeout, validation.Min(time.Duration(0))),
				)
			}),
		),
		validation.Field(&c.Logging,
			validation.Required,
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
		validation.Field(&c.Providers,
			validation.Required,
			validation.Length(1, 0),
			validation.By(uniqueProviderIDs),
			validation.Each(validation.By(validateProviderConfig)),
		),
		validation.Field(&c.Routing,
			validation.By(func(value interface{}) error {
				rc, ok := value.(RoutingConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a RoutingConfig")
				}
				return validation.ValidateStruct(&rc,
					validation.Field(&rc.Strategy,
						validation.Required,
						validation.In(toAny(strategy.Names)...),
					),
					validation.Field(&rc.DefaultProvider,
						validation.In(toAny(ids)...),
					),
					validation.Field(&rc.FallbackChain,
						validation.Each(validation.In(toAny(ids)...)),
					),
				)
			}),
		),
		validation.Field(&c.HealthCheck,
			validation.Required,
			validation.By(func(value interface{}) error {
				hc, ok := value.(HealthCheckConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a HealthCheckConfig")
				}
				return validation.ValidateStruct(&hc,
					validation.Field(&hc.Interval, validation.By(positiveDuration)),
					validation.Field(&hc.ProbeTimeout, validation.By(positiveDuration)),
				)
			}),
		),
		validation.Field(&c.CircuitBreaker,
			validation.Required,
			validation.By(func(value interface{}) error {
				cb, ok := value.(CircuitBreakerConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a CircuitBreakerConfig")
				}
				return validation.ValidateStruct(&cb,
					validation.Field(&cb.FailureThreshold, validation.Required, validation.Min(1)),
					validation.Field(&cb.SuccessThreshold, validation.Required, validation.Min(1)),
					validation.Field(&cb.RecoveryTimeout, validation.By(positiveDuration)),
				)
			}),
		),
		validation.Field(&c.Retry,
			validation.Required,
			validation.By(func(value interface{}) error {
				rc, ok := value.(RetryConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a RetryConfig")
				}
				return validation.ValidateStruct(&rc,
					validation.Field(&rc.BaseDelay, validation.By(positiveDuration)),
					validation.Field(&rc.MaxDelay,
						validation.By(positiveDuration),
						validation.By(func(value interface{}) error {
							if rc.MaxDelay < rc.BaseDelay {
								return validation.NewError("validation_max_below_base", "must not be below base_delay")
							}
							return nil
						}),
					),
					validation.Field(&rc.Multiplier, validation.Required, validation.Min(1.0)),
				)
			}),
		),
		validation.Field(&c.Fallback,
			validation.Required,
			validation.By(func(value interface{}) error {
				fc, ok := value.(FallbackConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a FallbackConfig")
				}
				return validation.ValidateStruct(&fc,
					validation.Field(&fc.MaxAttempts, validation.Required, validation.Min(1)),
					validation.Field(&fc.Timeout, validation.By(positiveDuration)),
					validation.Field(&fc.DegradationMode,
						validation.Required,
						validation.In(string(fallback.ModeFailFast), string(fallback.ModeBestEffort), string(fallback.ModeGraceful)),
					),
				)
			}),
		),
		validation.Field(&c.Telemetry,
			validation.Required,
			validation.By(func(value interface{}) error {
				tc, ok := value.(TelemetryConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a TelemetryConfig")
				}
				return validation.ValidateStruct(&tc,
					validation.Field(&tc.Sink, validation.Required, validation.In(SinkLog, SinkRedis, SinkNone)),
					validation.Field(&tc.RedisURL, validation.When(tc.Sink == SinkRedis, validation.Required)),
					validation.Field(&tc.BufferSize, validation.Required, validation.Min(1)),
					validation.Field(&tc.FlushTimeout, validation.By(positiveDuration)),
				)
			}),
		),
		validation.Field(&c.Metrics,
			validation.Required,
			validation.By(func(value interface{}) error {
				mc, ok := value.(MetricsConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a MetricsConfig")
				}
				return validation.ValidateStruct(&mc,
					validation.Field(&mc.BufferSize, validation.Required, validation.Min(1)),
				)
			}),
		),
	)
}

func validateProviderConfig(value interface{}) error {
	pc, ok := value.(ProviderConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a ProviderConfig")
	}

	return validation.ValidateStruct(&pc,
		validation.Field(&pc.ID, validation.Required),
		validation.Field(&pc.Kind, validation.Required),
		validation.Field(&pc.PreferredTier,
			validation.In(string(provider.TierSimple), string(provider.TierModerate), string(provider.TierComplex)),
		),
		validation.Field(&pc.Timeout, validation.Min(time.Duration(0))),
		validation.Field(&pc.MaxConcurrency, validation.Min(0)),
		validation.Field(&pc.RetryPreset, validation.In(toAny(retry.PresetNames())...)),
	)
}

func uniqueProviderIDs(value interface{}) error {
	providers, ok := value.([]ProviderConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a list of providers")
	}

	seen := make(map[string]bool, len(providers))
	for _, p := range providers {
		if seen[p.ID] {
			return validation.NewError("validation_duplicate_id", fmt.Sprintf("provider id %q is used twice", p.ID))
		}
		seen[p.ID] = true
	}
	return nil
}

func positiveDuration(value interface{}) error {
	d, ok := value.(time.Duration)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a duration")
	}

	if d <= 0 {
		return validation.NewError("validation_invalid_duration", "must be a positive duration (e.g., 2s, 5m, 1h)")
	}

	return nil
}

func toAny(values []string) []interface{} {
	out := make([]interface{}, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

func (c *Config) providerIDs() []string {
	ids := make([]string, 0, len(c.Providers))
	for _, p := range c.Providers {
		ids = append(ids, p.ID)
	}
	return ids
}

// ProviderSpecs returns the providers to build: enabled in their own entry
// and not listed in routing.disabled_providers.
func (c *Config) ProviderSpecs() []provider.Spec {
	specs := make([]provider.Spec, 0, len(c.Providers))
	for _, p := range c.Providers {
		if !p.IsEnabled() || slices.Contains(c.Routing.DisabledProviders, p.ID) {
			continue
		}
		specs = append(specs, provider.Spec{
			ID:   p.ID,
			Kind: p.Kind,
			Capability: provider.Capability{
				PreferredTier:  provider.ParseTier(p.PreferredTier),
				Timeout:        p.Timeout,
				MaxConcurrency: p.MaxConcurrency,
			},
			RetryPreset: p.RetryPreset,
			Options:     p.Options,
		})
	}
	return specs
}

func (c *Config) BreakerSettings() circuitbreaker.Settings {
	return circuitbreaker.Settings{
		FailureThreshold: c.CircuitBreaker.FailureThreshold,
		SuccessThreshold: c.CircuitBreaker.SuccessThreshold,
		RecoveryTimeout:  c.CircuitBreaker.RecoveryTimeout,
	}
}

func (c *Config) RetryPolicy() retry.Policy {
	return retry.Policy{
		BaseDelay:  c.Retry.BaseDelay,
		MaxDelay:   c.Retry.MaxDelay,
		Multiplier: c.Retry.Multiplier,
		Jitter:     c.Retry.Jitter,
	}
}

// ExecutorConfig is only valid on a validated Config.
// ServerOptions maps the server section onto the admin listener.
func (c *Config) ServerOptions() httpserver.Options {
	return httpserver.Options{
		ReadTimeout:  c.Server.ReadTimeout,
		WriteTimeout: c.Server.WriteTimeout,
		IdleTimeout:  c.Server.IdleTimeout,
	}
}

func (c *Config) ExecutorConfig() fallback.Config {
	mode, _ := fallback.ParseMode(c.Fallback.DegradationMode)
	return fallback.Config{
		MaxAttempts:  c.Fallback.MaxAttempts,
		Timeout:      c.Fallback.Timeout,
		Mode:         mode,
		Backoff:      c.RetryPolicy(),
		RecoveryHint: c.CircuitBreaker.RecoveryTimeout,
	}
}
