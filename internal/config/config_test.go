package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mfgintel/toolproxy/internal/breaker"
	"github.com/mfgintel/toolproxy/internal/descriptor"
	"github.com/mfgintel/toolproxy/internal/proxy"
	"github.com/mfgintel/toolproxy/internal/secret"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, DefaultListen, cfg.Listen)
	assert.Empty(t, cfg.APIKey)
	assert.Equal(t, TokenCacheMemory, cfg.TokenCache.Backend)
	assert.Equal(t, breaker.DefaultSettings(), cfg.Breaker.Settings())
	assert.Equal(t, proxy.DefaultBackoffPolicy(), cfg.Backoff.Policy())
	assert.Equal(t, proxy.DefaultHealthTimeout, cfg.HealthTimeout.Std())
	assert.False(t, cfg.Observability.Metrics.Enabled)
	assert.False(t, cfg.Observability.Tracing.Enabled)
	assert.Empty(t, cfg.Servers)
	assert.NoError(t, cfg.Validate())
}

const yamlConfig = `
listen: ":9090"
api_key: gateway-key
token_cache:
  backend: bolt
  path: /var/lib/toolproxy/tokens.db
circuit_breaker:
  failure_threshold: 3
  open_timeout: 30s
backoff:
  strategy: exponential
  max_delay: 5s
health_timeout: 2500
observability:
  metrics:
    enabled: true
servers:
  - id: inventory
    tenant_id: plant-a
    name: Inventory
    base_url: http://inventory.local:9001
    timeout: 750ms
    retry_count: 0
  - id: maintenance
    tenant_id: plant-a
    base_url: https://maint.local
    retry_delay: 2s
    auth:
      type: oauth2
      token_url: https://auth.local/oauth/token
      client_id: toolproxy
      client_secret: s3cret
      scope: tools.call
`

func TestLoadFromFile_YAML(t *testing.T) {
	cfg, err := LoadFromFile(writeFile(t, "toolproxy.yaml", yamlConfig))
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Listen)
	assert.Equal(t, "gateway-key", cfg.APIKey)
	assert.Equal(t, TokenCacheBolt, cfg.TokenCache.Backend)
	assert.Equal(t, "/var/lib/toolproxy/tokens.db", cfg.TokenCachePath())
	assert.Equal(t, 3, cfg.Breaker.FailureThreshold)
	assert.Equal(t, breaker.DefaultSettings().SuccessThreshold, cfg.Breaker.SuccessThreshold, "unset fields keep defaults")
	assert.Equal(t, 30*time.Second, cfg.Breaker.OpenTimeout.Std())
	assert.Equal(t, proxy.BackoffExponential, cfg.Backoff.Policy().Strategy)
	assert.Equal(t, 5*time.Second, cfg.Backoff.MaxDelay.Std())
	assert.Equal(t, 2500*time.Millisecond, cfg.HealthTimeout.Std())
	assert.True(t, cfg.Observability.Metrics.Enabled)
	assert.NotEmpty(t, cfg.DataDir)

	servers, err := cfg.Descriptors()
	require.NoError(t, err)
	require.Len(t, servers, 2)

	inv := servers[0]
	assert.Equal(t, 750*time.Millisecond, inv.Timeout)
	assert.Equal(t, 0, inv.RetryCount, "explicit zero retries is kept")
	assert.Equal(t, descriptor.DefaultRetryDelay, inv.RetryDelay)
	assert.Equal(t, descriptor.AuthTypeNone, inv.AuthType())

	maint := servers[1]
	assert.Equal(t, descriptor.DefaultTimeout, maint.Timeout)
	assert.Equal(t, descriptor.DefaultRetryCount, maint.RetryCount)
	assert.Equal(t, 2*time.Second, maint.RetryDelay)
	assert.Equal(t, descriptor.OAuth2Auth{
		TokenURL:     "https://auth.local/oauth/token",
		ClientID:     "toolproxy",
		ClientSecret: "s3cret",
		Scope:        "tools.call",
	}, maint.Auth)
}

func TestLoadFromFile_JSON(t *testing.T) {
	path := writeFile(t, "toolproxy.json", `{
  "listen": "127.0.0.1:7000",
  "health_timeout": "1s",
  "servers": [
    {"id": "q", "tenant_id": "plant-b", "base_url": "http://q.local", "timeout": 1500,
     "auth": {"type": "basic", "username": "svc", "password": "pw"}}
  ]
}`)
	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:7000", cfg.Listen)
	assert.Equal(t, time.Second, cfg.HealthTimeout.Std())

	servers, err := cfg.Descriptors()
	require.NoError(t, err)
	assert.Equal(t, 1500*time.Millisecond, servers[0].Timeout)
	assert.Equal(t, descriptor.BasicAuth{Username: "svc", Password: "pw"}, servers[0].Auth)
}

func TestLoadFromFile_TOML(t *testing.T) {
	path := writeFile(t, "toolproxy.toml", `
listen = ":8088"
health_timeout = "3s"

[backoff]
strategy = "fixed"
min_delay = 50

[[servers]]
id = "inventory"
tenant_id = "plant-a"
base_url = "http://inventory.local"
timeout = "2s"
retry_count = 1

[servers.auth]
type = "api_key"
api_key = "k-123"
`)
	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, ":8088", cfg.Listen)
	assert.Equal(t, 3*time.Second, cfg.HealthTimeout.Std())
	assert.Equal(t, 50*time.Millisecond, cfg.Backoff.MinDelay.Std())

	servers, err := cfg.Descriptors()
	require.NoError(t, err)
	require.Len(t, servers, 1)
	assert.Equal(t, 2*time.Second, servers[0].Timeout)
	assert.Equal(t, 1, servers[0].RetryCount)
	assert.Equal(t, descriptor.APIKeyAuth{Key: "k-123"}, servers[0].Auth)
}

func TestLoadFromFile_EmptyFileUsesDefaults(t *testing.T) {
	cfg, err := LoadFromFile(writeFile(t, "toolproxy.yaml", "\n"))
	require.NoError(t, err)
	assert.Equal(t, DefaultListen, cfg.Listen)
}

func TestLoadFromFile_Errors(t *testing.T) {
	tests := []struct {
		name string
		file string
		body string
	}{
		{"unknown extension", "toolproxy.ini", "listen=:1"},
		{"bad json", "toolproxy.json", "{"},
		{"bad duration", "toolproxy.yaml", "health_timeout: soon"},
		{"unknown auth type", "toolproxy.yaml", "servers:\n  - {id: a, tenant_id: t, base_url: 'http://a', auth: {type: kerberos}}"},
		{"missing tenant", "toolproxy.yaml", "servers:\n  - {id: a, base_url: 'http://a'}"},
		{"bad listen", "toolproxy.yaml", "listen: nope"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromFile(writeFile(t, tt.file, tt.body))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}

	_, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestLoad_EnvAndFlagOverrides(t *testing.T) {
	path := writeFile(t, "toolproxy.yaml", "listen: ':9090'\nlogging:\n  level: info\n  enable_console: true\n")
	t.Setenv("TOOLPROXY_LISTEN", "127.0.0.1:9191")
	t.Setenv("TOOLPROXY_API_KEY", "from-env")
	t.Setenv("TOOLPROXY_LOG_LEVEL", "debug")

	v := NewViper()
	v.Set(KeyDataDir, "/tmp/toolproxy-test")

	cfg, err := Load(path, v)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9191", cfg.Listen)
	assert.Equal(t, "from-env", cfg.APIKey)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "/tmp/toolproxy-test", cfg.DataDir)
	assert.Equal(t, filepath.Join("/tmp/toolproxy-test", DefaultTokenCacheDB), cfg.TokenCachePath())
}

func TestSaveConfig_RoundTripsEveryFormat(t *testing.T) {
	for _, ext := range []string{".json", ".yaml", ".toml"} {
		t.Run(ext, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "sub", "toolproxy"+ext)
			require.NoError(t, SaveConfig(SampleConfig(), path))

			info, err := os.Stat(path)
			require.NoError(t, err)
			assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

			cfg, err := LoadFromFile(path)
			require.NoError(t, err)
			require.Len(t, cfg.Servers, 3)
			assert.Equal(t, 10*time.Second, cfg.Servers[0].Timeout.Std())
			assert.Equal(t, "${keyring:maintenance-client-secret}", cfg.Servers[1].Auth.ClientSecret)
			assert.Equal(t, 3, *cfg.Servers[1].RetryCount)
		})
	}

	assert.ErrorIs(t, SaveConfig(DefaultConfig(), filepath.Join(t.TempDir(), "x.ini")), ErrUnsupportedFormat)
}

type mapProvider map[string]string

func (m mapProvider) Resolve(_ context.Context, ref secret.Ref) (string, error) {
	v, ok := m[ref.Name]
	if !ok {
		return "", secret.ErrNotFound
	}
	return v, nil
}

func TestResolveSecrets(t *testing.T) {
	cfg := SampleConfig()
	cfg.APIKey = "${test:gateway}"

	r := secret.NewResolver()
	r.RegisterProvider("test", mapProvider{"gateway": "gw-secret-1"})
	r.RegisterProvider(secret.TypeKeyring, mapProvider{"maintenance-client-secret": "oauth-secret-2"})
	r.RegisterProvider(secret.TypeEnv, mapProvider{"QUALITY_API_KEY": "api-key-3"})

	resolved, err := cfg.ResolveSecrets(context.Background(), r)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"gw-secret-1", "oauth-secret-2", "api-key-3"}, resolved)
	assert.Equal(t, "gw-secret-1", cfg.APIKey)
	assert.Equal(t, "oauth-secret-2", cfg.Servers[1].Auth.ClientSecret)

	servers, err := cfg.Descriptors()
	require.NoError(t, err)
	assert.Equal(t, descriptor.APIKeyAuth{Key: "api-key-3"}, servers[2].Auth)
}

func TestResolveSecrets_Missing(t *testing.T) {
	cfg := DefaultConfig()
	cfg.APIKey = "${test:nope}"

	r := secret.NewResolver()
	r.RegisterProvider("test", mapProvider{})

	_, err := cfg.ResolveSecrets(context.Background(), r)
	assert.ErrorIs(t, err, ErrInvalid)
	assert.ErrorIs(t, err, secret.ErrNotFound)
}
