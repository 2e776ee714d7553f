// Package descriptor defines the caller-supplied description of a tool server:
// where it lives, how to authenticate to it, and its timeout and retry policy.
package descriptor

import (
	"net/url"
	"strings"
	"time"
)

const (
	DefaultEndpointPath = "/mcp"
	DefaultHealthPath   = "/health"
	DefaultTimeout      = 30 * time.Second
	DefaultRetryCount   = 3
	DefaultRetryDelay   = time.Second

	MaxRetryCount = 10
)

// Server describes one tool server. Callers own it; the proxy only reads it.
type Server struct {
	ID       string
	TenantID string
	Name     string

	BaseURL      string
	EndpointPath string
	HealthPath   string

	Auth Auth

	Timeout    time.Duration
	RetryCount int
	RetryDelay time.Duration
}

// AuthType returns the variant tag, treating a nil Auth as none
func (s Server) AuthType() AuthType {
	if s.Auth == nil {
		return AuthTypeNone
	}
	return s.Auth.Type()
}

// DisplayName prefers the human name and falls back to the ID
func (s Server) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	return s.ID
}

// Key identifies the server across tenants. Server ids are only unique within
// a tenant, so per-server state such as cached tokens and breaker counters is
// keyed by "<tenant>/<id>".
func (s Server) Key() string {
	if s.TenantID == "" {
		return s.ID
	}
	return s.TenantID + "/" + s.ID
}

// CallURL is the JSON-RPC endpoint for tool calls
func (s Server) CallURL() string {
	path := s.EndpointPath
	if path == "" {
		path = DefaultEndpointPath
	}
	return joinURL(s.BaseURL, path)
}

// HealthURL is the endpoint probed by health checks
func (s Server) HealthURL() string {
	path := s.HealthPath
	if path == "" {
		path = DefaultHealthPath
	}
	return joinURL(s.BaseURL, path)
}

// Redacted returns a copy with credentials masked, suitable for logs and listings
func (s Server) Redacted() Server {
	if s.Auth != nil {
		s.Auth = s.Auth.redacted()
	}
	return s
}

// Validate reports configuration problems as *ConfigError
func (s Server) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return newConfigError(s.ID, "id", "server id is required")
	}
	if strings.TrimSpace(s.BaseURL) == "" {
		return newConfigError(s.ID, "base_url", "server URL not found")
	}
	u, err := url.Parse(s.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return newConfigError(s.ID, "base_url", "base URL must be an absolute http(s) URL")
	}
	if s.Timeout <= 0 {
		return newConfigError(s.ID, "timeout", "timeout must be positive")
	}
	if s.RetryCount < 0 || s.RetryCount > MaxRetryCount {
		return newConfigError(s.ID, "retry_count", "retry count must be between 0 and 10")
	}
	if s.RetryDelay < 0 {
		return newConfigError(s.ID, "retry_delay", "retry delay must not be negative")
	}

	if oa, ok := s.Auth.(OAuth2Auth); ok {
		if oa.TokenURL == "" {
			return newConfigError(s.ID, "oauth.token_url", "OAuth2 token URL is required")
		}
		if oa.ClientID == "" {
			return newConfigError(s.ID, "oauth.client_id", "OAuth2 client id is required")
		}
	}

	return nil
}

func joinURL(base, path string) string {
	if path == "" || path == "/" {
		return strings.TrimRight(base, "/")
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}
