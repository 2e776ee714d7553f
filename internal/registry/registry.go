// Package registry keeps tool server descriptors per tenant and runs
// fan-out health checks across them.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mfgintel/toolproxy/internal/descriptor"
	"github.com/mfgintel/toolproxy/internal/proxy"
)

// HealthCheckConcurrency bounds concurrent probes in HealthCheckAll
const HealthCheckConcurrency = 8

// ErrServerNotFound is returned for unknown (tenant, server) pairs
var ErrServerNotFound = errors.New("server not found")

// Health status values
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// HealthChecker probes one server; *proxy.Proxy satisfies it
type HealthChecker interface {
	HealthCheck(ctx context.Context, server descriptor.Server) proxy.HealthResult
}

// ServerHealth is the health of one server as reported to API clients
type ServerHealth struct {
	ServerID  string    `json:"server_id"`
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	LatencyMs int64     `json:"latency_ms"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

type key struct {
	tenant string
	server string
}

// Registry is safe for concurrent use
type Registry struct {
	mu      sync.RWMutex
	servers map[key]descriptor.Server
	logger  *zap.Logger
	now     func() time.Time
}

// New creates an empty registry
func New(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		servers: make(map[key]descriptor.Server),
		logger:  logger,
		now:     time.Now,
	}
}

// Register validates and stores server, replacing an existing entry with the same id
func (r *Registry) Register(server descriptor.Server) error {
	if err := server.Validate(); err != nil {
		return err
	}
	if server.TenantID == "" {
		return descriptor.NewConfigError(server.ID, "tenant id is required", nil)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.servers[key{server.TenantID, server.ID}] = server

	r.logger.Debug("Registered tool server",
		zap.String("tenant_id", server.TenantID),
		zap.String("server_id", server.ID),
		zap.String("auth_type", string(server.AuthType())))
	return nil
}

// Get returns the descriptor for (tenant, id)
func (r *Registry) Get(tenant, id string) (descriptor.Server, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.servers[key{tenant, id}]
	if !ok {
		return descriptor.Server{}, fmt.Errorf("%w: %s/%s", ErrServerNotFound, tenant, id)
	}
	return s, nil
}

// List returns the tenant's servers sorted by display name, then id
func (r *Registry) List(tenant string) []descriptor.Server {
	r.mu.RLock()
	out := make([]descriptor.Server, 0)
	for k, s := range r.servers {
		if k.tenant == tenant {
			out = append(out, s)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].DisplayName() != out[j].DisplayName() {
			return out[i].DisplayName() < out[j].DisplayName()
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Remove deletes (tenant, id). It reports whether an entry existed.
func (r *Registry) Remove(tenant, id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key{tenant, id}
	if _, ok := r.servers[k]; !ok {
		return false
	}
	delete(r.servers, k)
	return true
}

// Len returns the number of registered servers across tenants
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.servers)
}

// CheckHealth probes a single server
func (r *Registry) CheckHealth(ctx context.Context, tenant, id string, checker HealthChecker) (ServerHealth, error) {
	server, err := r.Get(tenant, id)
	if err != nil {
		return ServerHealth{}, err
	}
	return r.check(ctx, server, checker), nil
}

// HealthCheckAll probes every server of tenant concurrently. Results follow List order.
func (r *Registry) HealthCheckAll(ctx context.Context, tenant string, checker HealthChecker) []ServerHealth {
	servers := r.List(tenant)
	results := make([]ServerHealth, len(servers))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(HealthCheckConcurrency)
	for i, server := range servers {
		g.Go(func() error {
			results[i] = r.check(gctx, server, checker)
			return nil
		})
	}
	_ = g.Wait()

	healthy := 0
	for _, res := range results {
		if res.Status == StatusHealthy {
			healthy++
		}
	}
	r.logger.Debug("Health check sweep finished",
		zap.String("tenant_id", tenant),
		zap.Int("servers", len(results)),
		zap.Int("healthy", healthy))

	return results
}

func (r *Registry) check(ctx context.Context, server descriptor.Server, checker HealthChecker) ServerHealth {
	res := checker.HealthCheck(ctx, server)
	status := StatusUnhealthy
	if res.Healthy {
		status = StatusHealthy
	}
	return ServerHealth{
		ServerID:  server.ID,
		Name:      server.DisplayName(),
		Status:    status,
		LatencyMs: res.LatencyMs,
		Error:     res.Error,
		CheckedAt: r.now().UTC(),
	}
}
