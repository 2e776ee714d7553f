package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrInvalid marks every configuration error so callers can map it to an exit code
var ErrInvalid = errors.New("invalid configuration")

// ValidationError represents a single config validation failure
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// isValidListenAddr accepts host:port and :port forms
func isValidListenAddr(addr string) bool {
	if addr == "" {
		return false
	}
	_, _, err := net.SplitHostPort(addr)
	return err == nil
}

// ValidateDetailed returns every problem found, in field order
func (c *Config) ValidateDetailed() []ValidationError {
	var errs []ValidationError
	add := func(field, format string, args ...interface{}) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if !isValidListenAddr(c.Listen) {
		add("listen", "invalid listen address %q, expected host:port", c.Listen)
	}

	switch c.TokenCache.Backend {
	case TokenCacheMemory, TokenCacheBolt:
	default:
		add("token_cache.backend", "must be %q or %q", TokenCacheMemory, TokenCacheBolt)
	}

	if c.Breaker.FailureThreshold < 1 {
		add("circuit_breaker.failure_threshold", "must be at least 1")
	}
	if c.Breaker.SuccessThreshold < 1 {
		add("circuit_breaker.success_threshold", "must be at least 1")
	}
	if c.Breaker.OpenTimeout < 0 {
		add("circuit_breaker.open_timeout", "must not be negative")
	}

	if err := c.Backoff.Policy().Validate(); err != nil {
		add("backoff.strategy", "%v", err)
	}
	if c.Backoff.MinDelay < 0 || c.Backoff.MaxDelay < 0 {
		add("backoff", "delays must not be negative")
	} else if c.Backoff.MaxDelay > 0 && c.Backoff.MinDelay > c.Backoff.MaxDelay {
		add("backoff", "min_delay %s exceeds max_delay %s", c.Backoff.MinDelay, c.Backoff.MaxDelay)
	}

	if c.HealthTimeout < 0 {
		add("health_timeout", "must not be negative")
	}
	if r := c.Observability.Tracing.SampleRate; r < 0 || r > 1 {
		add("observability.tracing.sample_rate", "must be between 0 and 1")
	}

	seen := make(map[string]bool)
	for i, s := range c.Servers {
		field := fmt.Sprintf("servers[%d]", i)
		if s == nil {
			add(field, "empty server entry")
			continue
		}
		key := s.TenantID + "/" + s.ID
		if seen[key] {
			add(field, "duplicate server %s for tenant %s", s.ID, s.TenantID)
		}
		seen[key] = true

		if _, err := s.Descriptor(); err != nil {
			add(field, "%v", err)
		}
	}

	return errs
}

// Validate applies defaults and reports all problems as one error wrapping ErrInvalid
func (c *Config) Validate() error {
	c.applyDefaults()

	errs := c.ValidateDetailed()
	if len(errs) == 0 {
		return nil
	}
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
	}
	return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(msgs, "; "))
}
