// Package httpapi exposes the proxy over a small REST gateway built on chi.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/mfgintel/toolproxy/internal/breaker"
	"github.com/mfgintel/toolproxy/internal/descriptor"
	"github.com/mfgintel/toolproxy/internal/observability"
	"github.com/mfgintel/toolproxy/internal/proxy"
	"github.com/mfgintel/toolproxy/internal/registry"
	"github.com/mfgintel/toolproxy/internal/reqcontext"
)

// DefaultRequestTimeout bounds every /api/v1 request, retries included
const DefaultRequestTimeout = 60 * time.Second

// ToolCaller runs tool calls and health probes; *proxy.Proxy satisfies it
type ToolCaller interface {
	CallTool(ctx context.Context, server descriptor.Server, tool string, args map[string]interface{}, opts ...proxy.CallOption) (*proxy.CallResponse, error)
	HealthCheck(ctx context.Context, server descriptor.Server) proxy.HealthResult
}

// TokenInvalidator drops cached OAuth tokens; *auth.TokenManager satisfies it
type TokenInvalidator interface {
	Invalidate(ctx context.Context, server descriptor.Server) error
}

// BreakerAdmin exposes breaker state for inspection and manual reset.
// Breakers are keyed by descriptor.Server.Key.
type BreakerAdmin interface {
	State(key string) breaker.Snapshot
	Reset(key string)
}

// Server provides the REST gateway
type Server struct {
	registry *registry.Registry
	caller   ToolCaller
	tokens   TokenInvalidator
	breaker  BreakerAdmin
	obs      *observability.Manager

	apiKey         string
	requestTimeout time.Duration

	logger *zap.Logger
	router *chi.Mux
}

// Option configures a Server
type Option func(*Server)

// WithAPIKey requires clients to present key on /api/v1 routes
func WithAPIKey(key string) Option {
	return func(s *Server) { s.apiKey = key }
}

// WithObservability mounts health, readiness and metrics endpoints plus their middleware
func WithObservability(obs *observability.Manager) Option {
	return func(s *Server) { s.obs = obs }
}

// WithBreaker enables the circuit-breaker endpoints
func WithBreaker(b BreakerAdmin) Option {
	return func(s *Server) { s.breaker = b }
}

// WithTokenInvalidator enables the OAuth token endpoint
func WithTokenInvalidator(t TokenInvalidator) Option {
	return func(s *Server) { s.tokens = t }
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithRequestTimeout overrides DefaultRequestTimeout
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.requestTimeout = d
		}
	}
}

// NewServer creates the gateway over reg and caller
func NewServer(reg *registry.Registry, caller ToolCaller, opts ...Option) *Server {
	s := &Server{
		registry:       reg,
		caller:         caller,
		requestTimeout: DefaultRequestTimeout,
		logger:         zap.NewNop(),
		router:         chi.NewRouter(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.setupRoutes()
	return s
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	if s.obs != nil {
		s.router.Use(s.obs.HTTPMiddleware())
	}
	s.router.Use(middleware.RequestID)
	s.router.Use(RequestIDMiddleware)
	s.router.Use(RequestLoggerMiddleware(s.logger))
	s.router.Use(AccessLogMiddleware)
	s.router.Use(middleware.Recoverer)

	if s.obs != nil {
		s.router.Get("/healthz", s.obs.Health().HealthzHandler())
		s.router.Get("/readyz", s.obs.Health().ReadyzHandler())
		if h := s.obs.MetricsHandler(); h != nil {
			s.router.Handle("/metrics", h)
		}
	} else {
		s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, r, http.StatusOK, map[string]string{"status": observability.StatusOK})
		})
	}

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(s.requestTimeout))
		r.Use(APIKeyMiddleware(s.apiKey))

		r.Route("/tenants/{tenantID}", func(r chi.Router) {
			r.Get("/servers", s.handleListServers)
			r.Get("/health", s.handleTenantHealth)

			r.Route("/servers/{serverID}", func(r chi.Router) {
				r.Get("/health", s.handleServerHealth)
				r.Post("/tools/{toolName}/call", s.handleCallTool)
				r.Get("/circuit-breaker", s.handleGetBreaker)
				r.Post("/circuit-breaker/reset", s.handleResetBreaker)
				r.Delete("/oauth-token", s.handleInvalidateToken)
			})
		})
	})

	s.logger.Debug("HTTP API routes setup completed",
		zap.Bool("api_key_required", s.apiKey != ""),
		zap.Bool("observability", s.obs != nil))
}

// ErrorResponse is the body of every non-2xx API reply
type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		GetLogger(r.Context()).Error("Failed to encode JSON response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, message string) {
	writeJSON(w, r, status, ErrorResponse{
		Error:     message,
		RequestID: reqcontext.GetRequestID(r.Context()),
	})
}
