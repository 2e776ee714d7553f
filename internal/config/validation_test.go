package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateDetailed(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*Config)
		errorFields []string
	}{
		{"valid config", func(*Config) {}, nil},
		{"bad listen", func(c *Config) { c.Listen = "localhost" }, []string{"listen"}},
		{"bad cache backend", func(c *Config) { c.TokenCache.Backend = "redis" }, []string{"token_cache.backend"}},
		{"thresholds", func(c *Config) {
			c.Breaker.FailureThreshold = -1
			c.Breaker.SuccessThreshold = -1
		}, []string{"circuit_breaker.failure_threshold", "circuit_breaker.success_threshold"}},
		{"backoff strategy", func(c *Config) { c.Backoff.Strategy = "fibonacci" }, []string{"backoff.strategy"}},
		{"backoff bounds", func(c *Config) {
			c.Backoff.MinDelay = Duration(10e9)
			c.Backoff.MaxDelay = Duration(1e9)
		}, []string{"backoff"}},
		{"sample rate", func(c *Config) { c.Observability.Tracing.SampleRate = 2 }, []string{"observability.tracing.sample_rate"}},
		{"duplicate servers", func(c *Config) {
			c.Servers = []*ServerConfig{
				{ID: "a", TenantID: "t", BaseURL: "http://a"},
				{ID: "a", TenantID: "t", BaseURL: "http://a"},
				{ID: "a", TenantID: "u", BaseURL: "http://a"},
			}
		}, []string{"servers[1]"}},
		{"invalid server", func(c *Config) {
			c.Servers = []*ServerConfig{{ID: "a", TenantID: "t", BaseURL: "ftp://a"}}
		}, []string{"servers[0]"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			var fields []string
			for _, e := range cfg.ValidateDetailed() {
				fields = append(fields, e.Field)
			}
			assert.Equal(t, tt.errorFields, fields)
		})
	}
}

func TestValidationError(t *testing.T) {
	err := ValidationError{Field: "test_field", Message: "test message"}
	assert.Equal(t, "test_field: test message", err.Error())
}

func TestIsValidListenAddr(t *testing.T) {
	tests := []struct {
		addr  string
		valid bool
	}{
		{"", false},
		{":8080", true},
		{"127.0.0.1:8080", true},
		{"localhost:8080", true},
		{"[::1]:8080", true},
		{"localhost", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.valid, isValidListenAddr(tt.addr), tt.addr)
	}
}

func TestValidate_AppliesDefaults(t *testing.T) {
	cfg := &Config{}
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, DefaultListen, cfg.Listen)
	assert.NotNil(t, cfg.Logging)
	assert.Equal(t, TokenCacheMemory, cfg.TokenCache.Backend)
}

func TestDurationParse(t *testing.T) {
	d, err := parseDuration("250")
	assert.NoError(t, err)
	assert.Equal(t, "250ms", d.String())

	d, err = parseDuration("1m30s")
	assert.NoError(t, err)
	assert.Equal(t, "1m30s", d.String())

	_, err = parseDuration("later")
	assert.Error(t, err)
}
