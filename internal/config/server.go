package config

import (
	"fmt"

	"github.com/mfgintel/toolproxy/internal/descriptor"
)

// ServerConfig is one tool server entry in the config file
type ServerConfig struct {
	ID           string      `json:"id" yaml:"id" toml:"id" mapstructure:"id"`
	TenantID     string      `json:"tenant_id" yaml:"tenant_id" toml:"tenant_id" mapstructure:"tenant-id"`
	Name         string      `json:"name,omitempty" yaml:"name,omitempty" toml:"name,omitempty" mapstructure:"name"`
	BaseURL      string      `json:"base_url" yaml:"base_url" toml:"base_url" mapstructure:"base-url"`
	EndpointPath string      `json:"endpoint_path,omitempty" yaml:"endpoint_path,omitempty" toml:"endpoint_path,omitempty" mapstructure:"endpoint-path"`
	HealthPath   string      `json:"health_path,omitempty" yaml:"health_path,omitempty" toml:"health_path,omitempty" mapstructure:"health-path"`
	Timeout      Duration    `json:"timeout,omitempty" yaml:"timeout,omitempty" toml:"timeout,omitempty" mapstructure:"timeout"`
	RetryCount   *int        `json:"retry_count,omitempty" yaml:"retry_count,omitempty" toml:"retry_count,omitempty" mapstructure:"retry-count"`
	RetryDelay   *Duration   `json:"retry_delay,omitempty" yaml:"retry_delay,omitempty" toml:"retry_delay,omitempty" mapstructure:"retry-delay"`
	Auth         *AuthConfig `json:"auth,omitempty" yaml:"auth,omitempty" toml:"auth,omitempty" mapstructure:"auth"`
}

// AuthConfig is the flat on-disk form of descriptor.Auth. Only the fields of
// the selected type are read.
type AuthConfig struct {
	Type         string `json:"type" yaml:"type" toml:"type" mapstructure:"type"`
	APIKey       string `json:"api_key,omitempty" yaml:"api_key,omitempty" toml:"api_key,omitempty" mapstructure:"api-key"`
	Username     string `json:"username,omitempty" yaml:"username,omitempty" toml:"username,omitempty" mapstructure:"username"`
	Password     string `json:"password,omitempty" yaml:"password,omitempty" toml:"password,omitempty" mapstructure:"password"`
	TokenURL     string `json:"token_url,omitempty" yaml:"token_url,omitempty" toml:"token_url,omitempty" mapstructure:"token-url"`
	ClientID     string `json:"client_id,omitempty" yaml:"client_id,omitempty" toml:"client_id,omitempty" mapstructure:"client-id"`
	ClientSecret string `json:"client_secret,omitempty" yaml:"client_secret,omitempty" toml:"client_secret,omitempty" mapstructure:"client-secret"`
	Scope        string `json:"scope,omitempty" yaml:"scope,omitempty" toml:"scope,omitempty" mapstructure:"scope"`
}

// secretFields lists the credential fields that may hold secret references
func (a *AuthConfig) secretFields() []*string {
	if a == nil {
		return nil
	}
	return []*string{&a.APIKey, &a.Username, &a.Password, &a.ClientID, &a.ClientSecret}
}

func (a *AuthConfig) toAuth(serverID string) (descriptor.Auth, error) {
	if a == nil {
		return descriptor.NoAuth{}, nil
	}
	t, ok := descriptor.ParseAuthType(a.Type)
	if !ok {
		return nil, &descriptor.ConfigError{
			ServerID: serverID,
			Field:    "auth.type",
			Reason:   fmt.Sprintf("unsupported auth type %q", a.Type),
		}
	}

	switch t {
	case descriptor.AuthTypeAPIKey:
		if a.APIKey == "" {
			return nil, &descriptor.ConfigError{ServerID: serverID, Field: "auth.api_key", Reason: "API key is required"}
		}
		return descriptor.NewAPIKeyAuth(a.APIKey), nil
	case descriptor.AuthTypeBasic:
		if a.Username == "" {
			return nil, &descriptor.ConfigError{ServerID: serverID, Field: "auth.username", Reason: "username is required"}
		}
		return descriptor.NewBasicAuth(a.Username, a.Password), nil
	case descriptor.AuthTypeOAuth2:
		return descriptor.NewOAuth2Auth(a.TokenURL, a.ClientID, a.ClientSecret, a.Scope), nil
	default:
		return descriptor.NoAuth{}, nil
	}
}

// Descriptor converts the entry into a validated descriptor, filling the
// timeout and retry defaults
func (s *ServerConfig) Descriptor() (descriptor.Server, error) {
	auth, err := s.Auth.toAuth(s.ID)
	if err != nil {
		return descriptor.Server{}, err
	}

	d := descriptor.Server{
		ID:           s.ID,
		TenantID:     s.TenantID,
		Name:         s.Name,
		BaseURL:      s.BaseURL,
		EndpointPath: s.EndpointPath,
		HealthPath:   s.HealthPath,
		Auth:         auth,
		Timeout:      s.Timeout.Std(),
		RetryCount:   descriptor.DefaultRetryCount,
		RetryDelay:   descriptor.DefaultRetryDelay,
	}
	if d.Timeout == 0 {
		d.Timeout = descriptor.DefaultTimeout
	}
	if s.RetryCount != nil {
		d.RetryCount = *s.RetryCount
	}
	if s.RetryDelay != nil {
		d.RetryDelay = s.RetryDelay.Std()
	}

	if err := d.Validate(); err != nil {
		return descriptor.Server{}, err
	}
	if d.TenantID == "" {
		return descriptor.Server{}, &descriptor.ConfigError{ServerID: d.ID, Field: "tenant_id", Reason: "tenant id is required"}
	}
	return d, nil
}

// Descriptors converts every configured server
func (c *Config) Descriptors() ([]descriptor.Server, error) {
	out := make([]descriptor.Server, 0, len(c.Servers))
	for _, s := range c.Servers {
		if s == nil {
			continue
		}
		d, err := s.Descriptor()
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}
