package config

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/mfgintel/toolproxy/internal/secret"
)

// EnvPrefix is prepended to environment overrides, e.g. TOOLPROXY_LISTEN
const EnvPrefix = "TOOLPROXY"

// Override keys shared by viper, the environment and CLI flags
const (
	KeyListen    = "listen"
	KeyAPIKey    = "api-key"
	KeyDataDir   = "data-dir"
	KeyLogLevel  = "log-level"
	KeyLogToFile = "log-to-file"
	KeyLogDir    = "log-dir"
)

// ErrUnsupportedFormat is returned for config files with an unknown extension
var ErrUnsupportedFormat = errors.New("unsupported config file format")

var configFileNames = []string{"toolproxy.yaml", "toolproxy.yml", "toolproxy.json", "toolproxy.toml"}

// NewViper returns a viper instance reading TOOLPROXY_* environment variables.
// Callers bind CLI flags to it with BindPFlag using the Key* names.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	return v
}

// LoadFromFile loads a config file without environment or flag overrides
func LoadFromFile(path string) (*Config, error) {
	return Load(path, nil)
}

// Load reads path (or the first default location found when path is empty),
// applies overrides from v when non-nil and validates the result.
func Load(path string, v *viper.Viper) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = findConfigFile()
	}
	if path != "" {
		if err := decodeFile(path, cfg); err != nil {
			return nil, err
		}
	}

	if v != nil {
		ApplyOverrides(cfg, v)
	}

	if cfg.DataDir == "" {
		cfg.DataDir = defaultDataDir()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyOverrides copies explicitly set environment and flag values onto cfg
func ApplyOverrides(cfg *Config, v *viper.Viper) {
	if v.IsSet(KeyListen) {
		cfg.Listen = v.GetString(KeyListen)
	}
	if v.IsSet(KeyAPIKey) {
		cfg.APIKey = v.GetString(KeyAPIKey)
	}
	if v.IsSet(KeyDataDir) {
		cfg.DataDir = v.GetString(KeyDataDir)
	}

	if cfg.Logging == nil {
		cfg.Logging = DefaultConfig().Logging
	}
	if v.IsSet(KeyLogLevel) {
		cfg.Logging.Level = v.GetString(KeyLogLevel)
	}
	if v.IsSet(KeyLogToFile) {
		cfg.Logging.EnableFile = v.GetBool(KeyLogToFile)
	}
	if v.IsSet(KeyLogDir) {
		cfg.Logging.LogDir = v.GetString(KeyLogDir)
	}
}

func findConfigFile() string {
	candidates := append([]string{}, configFileNames...)
	if home, err := os.UserHomeDir(); err == nil {
		for _, ext := range []string{"yaml", "json", "toml"} {
			candidates = append(candidates, filepath.Join(home, DefaultDataDir, "config."+ext))
		}
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return DefaultDataDir
	}
	return filepath.Join(home, DefaultDataDir)
}

func joinDataDir(dataDir, name string) string {
	if dataDir == "" {
		dataDir = defaultDataDir()
	}
	return filepath.Join(dataDir, name)
}

// decodeFile picks the decoder from the file extension. An empty file leaves cfg untouched.
func decodeFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: failed to read config file: %w", ErrInvalid, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, cfg)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	case ".toml":
		_, err = toml.Decode(string(data), cfg)
	default:
		return fmt.Errorf("%w: %w: %s", ErrInvalid, ErrUnsupportedFormat, path)
	}
	if err != nil {
		return fmt.Errorf("%w: failed to parse config file %s: %w", ErrInvalid, path, err)
	}
	return nil
}

// SaveConfig writes cfg in the format implied by the extension. The file is
// written to a temp sibling and renamed so readers never see a partial file.
func SaveConfig(cfg *Config, path string) error {
	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		data, err = json.MarshalIndent(cfg, "", "  ")
	case ".yaml", ".yml":
		data, err = yaml.Marshal(cfg)
	case ".toml":
		var buf bytes.Buffer
		err = toml.NewEncoder(&buf).Encode(cfg)
		data = buf.Bytes()
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".toolproxy-config-*")
	if err != nil {
		return fmt.Errorf("failed to create temp config file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write config file: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to chmod config file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}

// SampleConfig returns a config with one server per auth type
func SampleConfig() *Config {
	cfg := DefaultConfig()
	three := 3
	cfg.Servers = []*ServerConfig{
		{
			ID:       "inventory",
			TenantID: "plant-a",
			Name:     "Inventory tools",
			BaseURL:  "http://localhost:9001",
			Timeout:  Duration(10 * time.Second),
		},
		{
			ID:         "maintenance",
			TenantID:   "plant-a",
			Name:       "Maintenance tools",
			BaseURL:    "https://maintenance.example.com",
			RetryCount: &three,
			Auth: &AuthConfig{
				Type:         "oauth2",
				TokenURL:     "https://auth.example.com/oauth/token",
				ClientID:     "toolproxy",
				ClientSecret: "${keyring:maintenance-client-secret}",
				Scope:        "tools.call",
			},
		},
		{
			ID:       "quality",
			TenantID: "plant-b",
			BaseURL:  "https://quality.example.com",
			Auth:     &AuthConfig{Type: "api_key", APIKey: "${env:QUALITY_API_KEY}"},
		},
	}
	return cfg
}

// ResolveSecrets expands ${env:...} and ${keyring:...} references in the API
// key and every server credential. It returns the resolved values so they
// can be registered with the log sanitizer.
func (c *Config) ResolveSecrets(ctx context.Context, r *secret.Resolver) ([]string, error) {
	fields := []*string{&c.APIKey}
	for _, s := range c.Servers {
		if s != nil {
			fields = append(fields, s.Auth.secretFields()...)
		}
	}

	var resolved []string
	for _, f := range fields {
		if !secret.IsRef(*f) {
			continue
		}
		if err := r.ExpandAll(ctx, f); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
		}
		resolved = append(resolved, *f)
	}
	return resolved, nil
}
