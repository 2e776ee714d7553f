package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mfgintel/toolproxy/internal/breaker"
	"github.com/mfgintel/toolproxy/internal/proxy"
)

const namespace = "toolproxy"

// Health check result labels
const (
	ResultHealthy   = "healthy"
	ResultUnhealthy = "unhealthy"
)

// MetricsManager owns a private Prometheus registry. It implements
// proxy.Recorder, auth.TokenObserver and breaker.TransitionObserver so one
// instance can be handed to each of them.
type MetricsManager struct {
	registry *prometheus.Registry

	uptime             prometheus.Gauge
	httpRequests       *prometheus.CounterVec
	httpDuration       *prometheus.HistogramVec
	toolCalls          *prometheus.CounterVec
	toolDuration       *prometheus.HistogramVec
	toolAttempts       *prometheus.CounterVec
	circuitRejections  *prometheus.CounterVec
	circuitState       *prometheus.GaugeVec
	circuitTransitions *prometheus.CounterVec
	tokenRequests      *prometheus.CounterVec
	healthChecks       *prometheus.CounterVec
	healthDuration     *prometheus.HistogramVec
}

// NewMetricsManager creates a metrics manager with Go runtime and process collectors
func NewMetricsManager() *MetricsManager {
	mm := &MetricsManager{registry: prometheus.NewRegistry()}
	mm.initMetrics()
	mm.registry.MustRegister(
		mm.uptime,
		mm.httpRequests,
		mm.httpDuration,
		mm.toolCalls,
		mm.toolDuration,
		mm.toolAttempts,
		mm.circuitRejections,
		mm.circuitState,
		mm.circuitTransitions,
		mm.tokenRequests,
		mm.healthChecks,
		mm.healthDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return mm
}

func (mm *MetricsManager) initMetrics() {
	mm.uptime = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "uptime_seconds",
		Help:      "Time since the gateway started",
	})

	mm.httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total number of gateway HTTP requests",
	}, []string{"method", "route", "status"})

	mm.httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "Gateway HTTP request duration in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	mm.toolCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tool_calls_total",
		Help:      "Tool calls by final status",
	}, []string{"server", "tool", "status"})

	mm.toolDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "tool_call_duration_seconds",
		Help:      "Tool call duration including retries, in seconds",
		Buckets:   []float64{0.005, 0.025, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"server", "tool", "status"})

	mm.toolAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tool_call_attempts_total",
		Help:      "Individual tool call attempts by outcome",
	}, []string{"server", "outcome"})

	mm.circuitRejections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "circuit_rejections_total",
		Help:      "Calls rejected because the circuit was open",
	}, []string{"server"})

	mm.circuitState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "circuit_state",
		Help:      "Circuit state per server: 0 closed, 1 half-open, 2 open",
	}, []string{"server"})

	mm.circuitTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "circuit_transitions_total",
		Help:      "Circuit state transitions",
	}, []string{"server", "from_state", "to_state"})

	mm.tokenRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "oauth_token_requests_total",
		Help:      "OAuth token lookups by result (cache hit, fetched, error)",
	}, []string{"server", "result"})

	mm.healthChecks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "health_checks_total",
		Help:      "Tool server health probes by result",
	}, []string{"server", "result"})

	mm.healthDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "health_check_duration_seconds",
		Help:      "Tool server health probe duration in seconds",
		Buckets:   []float64{0.005, 0.025, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"server"})
}

// Handler returns an HTTP handler for the /metrics endpoint
func (mm *MetricsManager) Handler() http.Handler {
	return promhttp.HandlerFor(mm.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// SetUptime sets the uptime metric
func (mm *MetricsManager) SetUptime(start time.Time) {
	mm.uptime.Set(time.Since(start).Seconds())
}

// RecordHTTPRequest records one gateway request
func (mm *MetricsManager) RecordHTTPRequest(method, route string, status int, d time.Duration) {
	code := strconv.Itoa(status)
	mm.httpRequests.WithLabelValues(method, route, code).Inc()
	mm.httpDuration.WithLabelValues(method, route, code).Observe(d.Seconds())
}

// RecordCall implements proxy.Recorder
func (mm *MetricsManager) RecordCall(serverID, tool string, status proxy.Status, d time.Duration) {
	mm.toolCalls.WithLabelValues(serverID, tool, string(status)).Inc()
	mm.toolDuration.WithLabelValues(serverID, tool, string(status)).Observe(d.Seconds())
}

// RecordAttempt implements proxy.Recorder
func (mm *MetricsManager) RecordAttempt(serverID, outcome string) {
	mm.toolAttempts.WithLabelValues(serverID, outcome).Inc()
}

// RecordCircuitRejection implements proxy.Recorder
func (mm *MetricsManager) RecordCircuitRejection(serverID string) {
	mm.circuitRejections.WithLabelValues(serverID).Inc()
}

// RecordHealthCheck implements proxy.Recorder
func (mm *MetricsManager) RecordHealthCheck(serverID string, healthy bool, d time.Duration) {
	result := ResultUnhealthy
	if healthy {
		result = ResultHealthy
	}
	mm.healthChecks.WithLabelValues(serverID, result).Inc()
	mm.healthDuration.WithLabelValues(serverID).Observe(d.Seconds())
}

// ObserveTokenRequest implements auth.TokenObserver
func (mm *MetricsManager) ObserveTokenRequest(serverID, result string) {
	mm.tokenRequests.WithLabelValues(serverID, result).Inc()
}

// OnTransition implements breaker.TransitionObserver
func (mm *MetricsManager) OnTransition(serverID string, from, to breaker.State) {
	mm.circuitTransitions.WithLabelValues(serverID, string(from), string(to)).Inc()
	mm.circuitState.WithLabelValues(serverID).Set(circuitStateValue(to))
}

func circuitStateValue(s breaker.State) float64 {
	switch s {
	case breaker.StateOpen:
		return 2
	case breaker.StateHalfOpen:
		return 1
	default:
		return 0
	}
}

// HTTPMiddleware records request count and latency labelled by chi route
// pattern, which keeps path parameters out of the label set.
func (mm *MetricsManager) HTTPMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			mm.RecordHTTPRequest(r.Method, route, status, time.Since(start))
		})
	}
}
