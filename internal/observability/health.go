// Package observability provides gateway health endpoints, Prometheus
// metrics and OpenTelemetry tracing.
package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Overall status values reported by /healthz and /readyz
const (
	StatusOK        = "ok"
	StatusUnhealthy = "unhealthy"
	StatusReady     = "ready"
	StatusNotReady  = "not_ready"
)

// HealthChecker is a gateway dependency that can report its health
type HealthChecker interface {
	Name() string
	HealthCheck(ctx context.Context) error
}

// ComponentStatus is the result of one checker
type ComponentStatus struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// HealthResponse is the body of /healthz and /readyz
type HealthResponse struct {
	Status     string            `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Components []ComponentStatus `json:"components,omitempty"`
}

// HealthManager runs registered checkers for the liveness and readiness endpoints.
// Liveness only reports the process is serving; readiness runs every checker.
type HealthManager struct {
	logger   *zap.Logger
	mu       sync.RWMutex
	checkers []HealthChecker
	timeout  time.Duration
}

// NewHealthManager creates a health manager with a 5s check timeout
func NewHealthManager(logger *zap.Logger) *HealthManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthManager{logger: logger, timeout: 5 * time.Second}
}

// SetTimeout bounds each readiness run
func (hm *HealthManager) SetTimeout(d time.Duration) {
	if d > 0 {
		hm.timeout = d
	}
}

// AddChecker registers a readiness checker
func (hm *HealthManager) AddChecker(c HealthChecker) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.checkers = append(hm.checkers, c)
}

// Check runs every checker and reports whether all passed
func (hm *HealthManager) Check(ctx context.Context) (bool, []ComponentStatus) {
	hm.mu.RLock()
	checkers := append([]HealthChecker(nil), hm.checkers...)
	hm.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, hm.timeout)
	defer cancel()

	ok := true
	out := make([]ComponentStatus, 0, len(checkers))
	for _, c := range checkers {
		start := time.Now()
		err := c.HealthCheck(ctx)
		st := ComponentStatus{Name: c.Name(), Status: StatusOK, Latency: time.Since(start).String()}
		if err != nil {
			ok = false
			st.Status = StatusUnhealthy
			st.Error = err.Error()
			hm.logger.Warn("Readiness check failed", zap.String("component", c.Name()), zap.Error(err))
		}
		out = append(out, st)
	}
	return ok, out
}

// HealthzHandler answers liveness probes
func (hm *HealthManager) HealthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeHealth(w, http.StatusOK, HealthResponse{Status: StatusOK, Timestamp: time.Now().UTC()})
	}
}

// ReadyzHandler answers readiness probes
func (hm *HealthManager) ReadyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ok, components := hm.Check(r.Context())
		resp := HealthResponse{Status: StatusReady, Timestamp: time.Now().UTC(), Components: components}
		code := http.StatusOK
		if !ok {
			resp.Status = StatusNotReady
			code = http.StatusServiceUnavailable
		}
		writeHealth(w, code, resp)
	}
}

func writeHealth(w http.ResponseWriter, code int, resp HealthResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}
