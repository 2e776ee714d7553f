package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/mfgintel/toolproxy/internal/auth"
	"github.com/mfgintel/toolproxy/internal/breaker"
	"github.com/mfgintel/toolproxy/internal/cache"
	"github.com/mfgintel/toolproxy/internal/config"
	"github.com/mfgintel/toolproxy/internal/logs"
	"github.com/mfgintel/toolproxy/internal/observability"
	"github.com/mfgintel/toolproxy/internal/proxy"
	"github.com/mfgintel/toolproxy/internal/registry"
	"github.com/mfgintel/toolproxy/internal/secret"
)

// app holds the components shared by serve, call and health
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	sanitizer *logs.Sanitizer

	tokenCache auth.TokenCache
	boltCache  *cache.BoltCache

	breaker  *breaker.Breaker
	obs      *observability.Manager
	proxy    *proxy.Proxy
	registry *registry.Registry

	closers []io.Closer
}

// buildApp loads the configuration and wires every component.
// serverCommand selects the serve defaults: info logging and Prometheus metrics.
func buildApp(ctx context.Context, serverCommand bool) (*app, error) {
	cfg, err := config.Load(configFile, v)
	if err != nil {
		return nil, err
	}
	if !serverCommand && !v.IsSet(config.KeyLogLevel) {
		cfg.Logging.Level = logs.LogLevelWarn
	}

	logger, sanitizer, err := logs.SetupLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to setup logger: %w", err)
	}
	a := &app{cfg: cfg, logger: logger, sanitizer: sanitizer}

	secrets, err := cfg.ResolveSecrets(ctx, secret.NewResolver())
	if err != nil {
		a.Close()
		return nil, err
	}
	for _, s := range secrets {
		sanitizer.RegisterSecret(s)
	}
	if cfg.APIKey != "" {
		sanitizer.RegisterSecret(cfg.APIKey)
	}

	if err := a.openTokenCache(); err != nil {
		a.Close()
		return nil, err
	}

	obsCfg := observability.Config{
		Metrics: observability.MetricsConfig{Enabled: serverCommand && cfg.Observability.Metrics.Enabled},
		Tracing: observability.TracingConfig{
			Enabled:        cfg.Observability.Tracing.Enabled,
			ServiceName:    cfg.Observability.Tracing.ServiceName,
			ServiceVersion: version,
			OTLPEndpoint:   cfg.Observability.Tracing.Endpoint,
			Insecure:       cfg.Observability.Tracing.Insecure,
			SampleRate:     cfg.Observability.Tracing.SampleRate,
		},
	}
	a.obs, err = observability.NewManager(logger.Named("observability"), obsCfg)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to init observability: %w", err)
	}
	metrics := a.obs.Metrics()

	breakerOpts := []breaker.Option{breaker.WithLogger(logger.Named("breaker"))}
	if metrics != nil {
		breakerOpts = append(breakerOpts, breaker.WithObserver(metrics))
	}
	a.breaker = breaker.New(cfg.Breaker.Settings(), breakerOpts...)

	proxyOpts := []proxy.Option{
		proxy.WithLogger(logger.Named("proxy")),
		proxy.WithCircuitBreaker(a.breaker),
		proxy.WithTokenCache(a.tokenCache),
		proxy.WithBackoffPolicy(cfg.Backoff.Policy()),
		proxy.WithHealthTimeout(cfg.HealthTimeoutOrDefault()),
	}
	if metrics != nil {
		proxyOpts = append(proxyOpts, proxy.WithRecorder(metrics))
	}
	a.proxy = proxy.New(proxyOpts...)

	servers, err := cfg.Descriptors()
	if err != nil {
		a.Close()
		return nil, err
	}
	a.registry = registry.New(logger.Named("registry"))
	for _, s := range servers {
		if err := a.registry.Register(s); err != nil {
			a.Close()
			return nil, err
		}
	}

	logger.Debug("Application wired",
		zap.Int("servers", a.registry.Len()),
		zap.String("token_cache", cfg.TokenCache.Backend),
		zap.Bool("metrics", metrics != nil),
		zap.Bool("tracing", a.obs.Tracing().Enabled()))
	return a, nil
}

func (a *app) openTokenCache() error {
	switch a.cfg.TokenCache.Backend {
	case config.TokenCacheBolt:
		path := a.cfg.TokenCachePath()
		bc, err := cache.OpenBoltCache(path, a.logger.Named("token_cache"))
		if err != nil {
			return fmt.Errorf("failed to open token cache %s: %w", path, err)
		}
		a.boltCache = bc
		a.tokenCache = bc
		a.closers = append(a.closers, bc)
		a.logger.Info("Using persistent token cache", zap.String("path", path))
	default:
		a.tokenCache = cache.NewMemoryCache()
	}
	return nil
}

// Close releases the token cache and flushes telemetry and logs
func (a *app) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if a.obs != nil {
		if err := a.obs.Close(ctx); err != nil {
			a.logger.Warn("Failed to close observability", zap.Error(err))
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.logger.Warn("Failed to close component", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}

// lookup resolves a server from the registry with a CLI-friendly error
func (a *app) lookup(tenant, serverID string) error {
	if _, err := a.registry.Get(tenant, serverID); err != nil {
		if errors.Is(err, registry.ErrServerNotFound) {
			known := make([]string, 0)
			for _, s := range a.registry.List(tenant) {
				known = append(known, s.ID)
			}
			return fmt.Errorf("%w (servers for tenant %q: %v)", err, tenant, known)
		}
		return err
	}
	return nil
}
