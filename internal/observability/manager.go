package observability

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Config holds configuration for observability features
type Config struct {
	Metrics MetricsConfig
	Tracing TracingConfig
}

// MetricsConfig toggles the Prometheus registry and /metrics
type MetricsConfig struct {
	Enabled bool
}

// Manager coordinates health, metrics and tracing
type Manager struct {
	logger  *zap.Logger
	health  *HealthManager
	metrics *MetricsManager
	tracing *TracingManager

	startTime time.Time
}

// NewManager creates a new observability manager. Health is always on;
// metrics and tracing follow cfg.
func NewManager(logger *zap.Logger, cfg Config) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		logger:    logger,
		health:    NewHealthManager(logger),
		startTime: time.Now(),
	}

	if cfg.Metrics.Enabled {
		m.metrics = NewMetricsManager()
		logger.Info("Prometheus metrics enabled")
	}

	tracing, err := NewTracingManager(logger, cfg.Tracing)
	if err != nil {
		return nil, err
	}
	m.tracing = tracing
	return m, nil
}

// Health returns the health manager
func (m *Manager) Health() *HealthManager { return m.health }

// Metrics returns the metrics manager, nil when metrics are disabled
func (m *Manager) Metrics() *MetricsManager { return m.metrics }

// Tracing returns the tracing manager
func (m *Manager) Tracing() *TracingManager { return m.tracing }

// MetricsHandler serves /metrics, refreshing the uptime gauge per scrape.
// It returns nil when metrics are disabled.
func (m *Manager) MetricsHandler() http.Handler {
	if m.metrics == nil {
		return nil
	}
	h := m.metrics.Handler()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.metrics.SetUptime(m.startTime)
		h.ServeHTTP(w, r)
	})
}

// HTTPMiddleware chains metrics and tracing middleware
func (m *Manager) HTTPMiddleware() func(http.Handler) http.Handler {
	var mws []func(http.Handler) http.Handler
	if m.tracing != nil && m.tracing.Enabled() {
		mws = append(mws, m.tracing.HTTPMiddleware())
	}
	if m.metrics != nil {
		mws = append(mws, m.metrics.HTTPMiddleware())
	}
	return func(next http.Handler) http.Handler {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}

// Close gracefully shuts down observability components
func (m *Manager) Close(ctx context.Context) error {
	if m.tracing != nil {
		if err := m.tracing.Close(ctx); err != nil {
			m.logger.Error("Failed to close tracing manager", zap.Error(err))
			return err
		}
	}
	return nil
}
