package descriptor

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validServer() Server {
	return Server{
		ID:         "srv-1",
		TenantID:   "tenant-a",
		Name:       "sensor-hub",
		BaseURL:    "http://tools.local:9000/",
		Timeout:    DefaultTimeout,
		RetryCount: DefaultRetryCount,
		RetryDelay: DefaultRetryDelay,
	}
}

func TestServerURLs(t *testing.T) {
	s := validServer()
	assert.Equal(t, "http://tools.local:9000/mcp", s.CallURL())
	assert.Equal(t, "http://tools.local:9000/health", s.HealthURL())

	s.EndpointPath = "/"
	s.HealthPath = "status/live"
	assert.Equal(t, "http://tools.local:9000", s.CallURL())
	assert.Equal(t, "http://tools.local:9000/status/live", s.HealthURL())
}

func TestServerKeyIsTenantScoped(t *testing.T) {
	a := validServer()
	b := validServer()
	b.TenantID = "tenant-b"

	assert.Equal(t, "tenant-a/srv-1", a.Key())
	assert.NotEqual(t, a.Key(), b.Key())

	a.TenantID = ""
	assert.Equal(t, "srv-1", a.Key())
}

func TestServerAuthTypeDefaultsToNone(t *testing.T) {
	s := validServer()
	assert.Equal(t, AuthTypeNone, s.AuthType())

	s.Auth = NewBasicAuth("u", "p")
	assert.Equal(t, AuthTypeBasic, s.AuthType())
}

func TestServerValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Server)
		field  string
	}{
		{"missing id", func(s *Server) { s.ID = "" }, "id"},
		{"missing url", func(s *Server) { s.BaseURL = "" }, "base_url"},
		{"relative url", func(s *Server) { s.BaseURL = "/tools" }, "base_url"},
		{"ftp url", func(s *Server) { s.BaseURL = "ftp://tools.local" }, "base_url"},
		{"zero timeout", func(s *Server) { s.Timeout = 0 }, "timeout"},
		{"negative retries", func(s *Server) { s.RetryCount = -1 }, "retry_count"},
		{"too many retries", func(s *Server) { s.RetryCount = 11 }, "retry_count"},
		{"negative delay", func(s *Server) { s.RetryDelay = -time.Millisecond }, "retry_delay"},
		{"oauth without token url", func(s *Server) { s.Auth = NewOAuth2Auth("", "cid", "sec", "") }, "oauth.token_url"},
		{"oauth without client id", func(s *Server) { s.Auth = NewOAuth2Auth("http://idp/token", "", "sec", "") }, "oauth.client_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := validServer()
			tt.mutate(&s)

			err := s.Validate()
			require.Error(t, err)

			var ce *ConfigError
			require.True(t, errors.As(err, &ce))
			assert.Equal(t, tt.field, ce.Field)
			assert.True(t, IsConfigError(err))
		})
	}

	require.NoError(t, validServer().Validate())
}

func TestServerRedacted(t *testing.T) {
	s := validServer()
	s.Auth = NewOAuth2Auth("http://idp/token", "client", "super-secret-value", "read")

	r := s.Redacted()
	oa, ok := r.Auth.(OAuth2Auth)
	require.True(t, ok)
	assert.Equal(t, "sup***alue", oa.ClientSecret)
	assert.Equal(t, "client", oa.ClientID)

	// original untouched
	assert.Equal(t, "super-secret-value", s.Auth.(OAuth2Auth).ClientSecret)

	s.Auth = NewAPIKeyAuth("short")
	assert.Equal(t, "***", s.Redacted().Auth.(APIKeyAuth).Key)
}

func TestParseAuthType(t *testing.T) {
	for in, want := range map[string]AuthType{
		"":        AuthTypeNone,
		"none":    AuthTypeNone,
		"api_key": AuthTypeAPIKey,
		"api-key": AuthTypeAPIKey,
		"basic":   AuthTypeBasic,
		"oauth2":  AuthTypeOAuth2,
	} {
		got, ok := ParseAuthType(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}

	_, ok := ParseAuthType("kerberos")
	assert.False(t, ok)
}
