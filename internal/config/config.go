// Package config loads toolproxy settings from JSON, YAML or TOML files and
// applies environment and flag overrides on top.
package config

import (
	"time"

	"github.com/mfgintel/toolproxy/internal/breaker"
	"github.com/mfgintel/toolproxy/internal/proxy"
)

const (
	DefaultListen        = "127.0.0.1:8090"
	DefaultDataDir       = ".toolproxy"
	DefaultTokenCacheDB  = "token_cache.db"
	DefaultServiceName   = "toolproxy"
	DefaultTraceEndpoint = "localhost:4318"

	TokenCacheMemory = "memory"
	TokenCacheBolt   = "bolt"
)

// Config represents the main configuration structure
type Config struct {
	Listen  string `json:"listen" yaml:"listen" toml:"listen" mapstructure:"listen"`
	APIKey  string `json:"api_key,omitempty" yaml:"api_key,omitempty" toml:"api_key,omitempty" mapstructure:"api-key"`
	DataDir string `json:"data_dir,omitempty" yaml:"data_dir,omitempty" toml:"data_dir,omitempty" mapstructure:"data-dir"`

	Logging *LogConfig `json:"logging,omitempty" yaml:"logging,omitempty" toml:"logging,omitempty" mapstructure:"logging"`

	TokenCache    TokenCacheConfig    `json:"token_cache" yaml:"token_cache" toml:"token_cache" mapstructure:"token-cache"`
	Breaker       BreakerConfig       `json:"circuit_breaker" yaml:"circuit_breaker" toml:"circuit_breaker" mapstructure:"circuit-breaker"`
	Backoff       BackoffConfig       `json:"backoff" yaml:"backoff" toml:"backoff" mapstructure:"backoff"`
	HealthTimeout Duration            `json:"health_timeout" yaml:"health_timeout" toml:"health_timeout" mapstructure:"health-timeout"`
	Observability ObservabilityConfig `json:"observability" yaml:"observability" toml:"observability" mapstructure:"observability"`

	Servers []*ServerConfig `json:"servers" yaml:"servers" toml:"servers" mapstructure:"servers"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level         string `json:"level" yaml:"level" toml:"level" mapstructure:"level"`
	EnableFile    bool   `json:"enable_file" yaml:"enable_file" toml:"enable_file" mapstructure:"enable-file"`
	EnableConsole bool   `json:"enable_console" yaml:"enable_console" toml:"enable_console" mapstructure:"enable-console"`
	Filename      string `json:"filename" yaml:"filename" toml:"filename" mapstructure:"filename"`
	LogDir        string `json:"log_dir,omitempty" yaml:"log_dir,omitempty" toml:"log_dir,omitempty" mapstructure:"log-dir"`
	MaxSize       int    `json:"max_size" yaml:"max_size" toml:"max_size" mapstructure:"max-size"`          // MB
	MaxBackups    int    `json:"max_backups" yaml:"max_backups" toml:"max_backups" mapstructure:"max-backups"` // files
	MaxAge        int    `json:"max_age" yaml:"max_age" toml:"max_age" mapstructure:"max-age"`              // days
	Compress      bool   `json:"compress" yaml:"compress" toml:"compress" mapstructure:"compress"`
	JSONFormat    bool   `json:"json_format" yaml:"json_format" toml:"json_format" mapstructure:"json-format"`
}

// TokenCacheConfig selects where OAuth access tokens are kept between calls
type TokenCacheConfig struct {
	Backend string `json:"backend" yaml:"backend" toml:"backend" mapstructure:"backend"`
	// Path of the bbolt file; defaults to <data_dir>/token_cache.db
	Path string `json:"path,omitempty" yaml:"path,omitempty" toml:"path,omitempty" mapstructure:"path"`
}

// BreakerConfig mirrors breaker.Settings with config-friendly durations
type BreakerConfig struct {
	FailureThreshold int      `json:"failure_threshold" yaml:"failure_threshold" toml:"failure_threshold" mapstructure:"failure-threshold"`
	SuccessThreshold int      `json:"success_threshold" yaml:"success_threshold" toml:"success_threshold" mapstructure:"success-threshold"`
	OpenTimeout      Duration `json:"open_timeout" yaml:"open_timeout" toml:"open_timeout" mapstructure:"open-timeout"`
}

// Settings converts to the breaker's own type
func (b BreakerConfig) Settings() breaker.Settings {
	return breaker.Settings{
		FailureThreshold: b.FailureThreshold,
		SuccessThreshold: b.SuccessThreshold,
		OpenTimeout:      b.OpenTimeout.Std(),
	}
}

// BackoffConfig mirrors proxy.BackoffPolicy with config-friendly durations
type BackoffConfig struct {
	Strategy string   `json:"strategy" yaml:"strategy" toml:"strategy" mapstructure:"strategy"`
	MinDelay Duration `json:"min_delay" yaml:"min_delay" toml:"min_delay" mapstructure:"min-delay"`
	MaxDelay Duration `json:"max_delay" yaml:"max_delay" toml:"max_delay" mapstructure:"max-delay"`
}

// Policy converts to the proxy's own type
func (b BackoffConfig) Policy() proxy.BackoffPolicy {
	return proxy.BackoffPolicy{
		Strategy: proxy.BackoffStrategy(b.Strategy),
		MinDelay: b.MinDelay.Std(),
		MaxDelay: b.MaxDelay.Std(),
	}
}

// ObservabilityConfig toggles metrics and tracing
type ObservabilityConfig struct {
	Metrics MetricsConfig `json:"metrics" yaml:"metrics" toml:"metrics" mapstructure:"metrics"`
	Tracing TracingConfig `json:"tracing" yaml:"tracing" toml:"tracing" mapstructure:"tracing"`
}

// MetricsConfig exposes Prometheus metrics on /metrics when enabled
type MetricsConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled" toml:"enabled" mapstructure:"enabled"`
}

// TracingConfig exports OpenTelemetry spans over OTLP/HTTP when enabled
type TracingConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled" toml:"enabled" mapstructure:"enabled"`
	ServiceName string  `json:"service_name" yaml:"service_name" toml:"service_name" mapstructure:"service-name"`
	Endpoint    string  `json:"endpoint" yaml:"endpoint" toml:"endpoint" mapstructure:"endpoint"`
	Insecure    bool    `json:"insecure" yaml:"insecure" toml:"insecure" mapstructure:"insecure"`
	SampleRate  float64 `json:"sample_rate" yaml:"sample_rate" toml:"sample_rate" mapstructure:"sample-rate"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	bs := breaker.DefaultSettings()
	bp := proxy.DefaultBackoffPolicy()

	return &Config{
		Listen: DefaultListen,
		Logging: &LogConfig{
			Level:         "info",
			EnableFile:    false,
			EnableConsole: true,
			Filename:      "toolproxy.log",
			MaxSize:       10,
			MaxBackups:    5,
			MaxAge:        30,
			Compress:      true,
			JSONFormat:    false,
		},
		TokenCache: TokenCacheConfig{Backend: TokenCacheMemory},
		Breaker: BreakerConfig{
			FailureThreshold: bs.FailureThreshold,
			SuccessThreshold: bs.SuccessThreshold,
			OpenTimeout:      Duration(bs.OpenTimeout),
		},
		Backoff: BackoffConfig{
			Strategy: string(bp.Strategy),
			MinDelay: Duration(bp.MinDelay),
			MaxDelay: Duration(bp.MaxDelay),
		},
		HealthTimeout: Duration(proxy.DefaultHealthTimeout),
		Observability: ObservabilityConfig{
			Tracing: TracingConfig{
				ServiceName: DefaultServiceName,
				Endpoint:    DefaultTraceEndpoint,
				Insecure:    true,
				SampleRate:  1.0,
			},
		},
		Servers: []*ServerConfig{},
	}
}

// applyDefaults fills zero values left by a partial config file
func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.Listen == "" {
		c.Listen = d.Listen
	}
	if c.Logging == nil {
		c.Logging = d.Logging
	}
	if c.TokenCache.Backend == "" {
		c.TokenCache.Backend = TokenCacheMemory
	}
	if c.Breaker.FailureThreshold == 0 {
		c.Breaker.FailureThreshold = d.Breaker.FailureThreshold
	}
	if c.Breaker.SuccessThreshold == 0 {
		c.Breaker.SuccessThreshold = d.Breaker.SuccessThreshold
	}
	if c.Breaker.OpenTimeout == 0 {
		c.Breaker.OpenTimeout = d.Breaker.OpenTimeout
	}
	if c.Backoff.Strategy == "" {
		c.Backoff.Strategy = d.Backoff.Strategy
	}
	if c.Backoff.MinDelay == 0 {
		c.Backoff.MinDelay = d.Backoff.MinDelay
	}
	if c.Backoff.MaxDelay == 0 {
		c.Backoff.MaxDelay = d.Backoff.MaxDelay
	}
	if c.HealthTimeout == 0 {
		c.HealthTimeout = d.HealthTimeout
	}
	if c.Observability.Tracing.ServiceName == "" {
		c.Observability.Tracing.ServiceName = DefaultServiceName
	}
	if c.Observability.Tracing.Endpoint == "" {
		c.Observability.Tracing.Endpoint = DefaultTraceEndpoint
	}
	if c.Observability.Tracing.SampleRate == 0 {
		c.Observability.Tracing.SampleRate = 1.0
	}
}

// TokenCachePath resolves the bbolt file location
func (c *Config) TokenCachePath() string {
	if c.TokenCache.Path != "" {
		return c.TokenCache.Path
	}
	return joinDataDir(c.DataDir, DefaultTokenCacheDB)
}

// HealthTimeoutOrDefault guards against a zero timeout on hand-built configs
func (c *Config) HealthTimeoutOrDefault() time.Duration {
	if c.HealthTimeout <= 0 {
		return proxy.DefaultHealthTimeout
	}
	return c.HealthTimeout.Std()
}
