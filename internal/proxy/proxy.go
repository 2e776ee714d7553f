// Package proxy calls tools hosted on remote tool servers. Each call is a
// JSON-RPC tools/call request over HTTP POST, wrapped in authentication,
// bounded retries and circuit breaker feedback. Ordinary failures are encoded
// in CallResponse; only configuration errors are returned as Go errors.
package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/mfgintel/toolproxy/internal/auth"
	"github.com/mfgintel/toolproxy/internal/descriptor"
	"github.com/mfgintel/toolproxy/internal/reqcontext"
)

const (
	DefaultHealthTimeout = 5 * time.Second

	tracerName = "github.com/mfgintel/toolproxy/internal/proxy"
)

// Status is the outcome of one logical call
type Status string

const (
	StatusSuccess     Status = "success"
	StatusFailure     Status = "failure"
	StatusTimeout     Status = "timeout"
	StatusCircuitOpen Status = "circuit_open"
)

// CircuitBreaker is the collaborator consulted before and informed after each call.
// It is keyed by descriptor.Server.Key, so equal server ids in different
// tenants keep separate state.
type CircuitBreaker interface {
	IsOpen(ctx context.Context, key string) bool
	RecordSuccess(ctx context.Context, key string)
	RecordFailure(ctx context.Context, key string)
}

// Recorder receives call metrics. Implementations must be safe for concurrent use.
type Recorder interface {
	RecordCall(serverID, tool string, status Status, duration time.Duration)
	RecordAttempt(serverID, outcome string)
	RecordCircuitRejection(serverID string)
	RecordHealthCheck(serverID string, healthy bool, duration time.Duration)
}

// CallResponse is the only value returned for a tool call
type CallResponse struct {
	RequestID    string          `json:"request_id"`
	Status       Status          `json:"status"`
	Result       json.RawMessage `json:"result,omitempty"`
	ErrorCode    string          `json:"error_code,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	LatencyMs    int64           `json:"latency_ms"`
	RetryCount   int             `json:"retry_count"`
	Attempts     int             `json:"attempts"`
}

// OK reports whether the call succeeded
func (r *CallResponse) OK() bool {
	return r != nil && r.Status == StatusSuccess
}

// HealthResult is the outcome of a single health probe
type HealthResult struct {
	Healthy   bool   `json:"healthy"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// SyncResult is the reduced result of CallToolSync
type SyncResult struct {
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// CallOutcome is delivered by CallToolAsync
type CallOutcome struct {
	Response *CallResponse
	Err      error
}

// Proxy is safe for concurrent use
type Proxy struct {
	client        *http.Client
	headers       *auth.HeaderBuilder
	tokens        *auth.TokenManager
	breaker       CircuitBreaker
	policy        BackoffPolicy
	recorder      Recorder
	tracer        trace.Tracer
	logger        *zap.Logger
	healthTimeout time.Duration
	now           func() time.Time

	tokenCache auth.TokenCache
}

// Option configures a Proxy
type Option func(*Proxy)

// WithHTTPClient sets the client shared by tool calls, health checks and token requests
func WithHTTPClient(client *http.Client) Option {
	return func(p *Proxy) {
		if client != nil {
			p.client = client
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(p *Proxy) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithCircuitBreaker enables circuit breaking
func WithCircuitBreaker(cb CircuitBreaker) Option {
	return func(p *Proxy) {
		p.breaker = cb
	}
}

// WithTokenCache sets the store shared for OAuth2 tokens
func WithTokenCache(cache auth.TokenCache) Option {
	return func(p *Proxy) {
		p.tokenCache = cache
	}
}

// WithBackoffPolicy sets the inter-attempt delay policy
func WithBackoffPolicy(policy BackoffPolicy) Option {
	return func(p *Proxy) {
		p.policy = policy
	}
}

// WithRecorder sets the metrics recorder. A recorder that also implements
// auth.TokenObserver receives token request outcomes.
func WithRecorder(recorder Recorder) Option {
	return func(p *Proxy) {
		p.recorder = recorder
	}
}

// WithTracer overrides the tracer taken from the global provider
func WithTracer(tracer trace.Tracer) Option {
	return func(p *Proxy) {
		if tracer != nil {
			p.tracer = tracer
		}
	}
}

// WithHealthTimeout bounds a health probe
func WithHealthTimeout(d time.Duration) Option {
	return func(p *Proxy) {
		if d > 0 {
			p.healthTimeout = d
		}
	}
}

// WithClock overrides the clock used for latency
func WithClock(now func() time.Time) Option {
	return func(p *Proxy) {
		if now != nil {
			p.now = now
		}
	}
}

// New creates a proxy
func New(opts ...Option) *Proxy {
	p := &Proxy{
		client:        &http.Client{},
		policy:        DefaultBackoffPolicy(),
		logger:        zap.NewNop(),
		healthTimeout: DefaultHealthTimeout,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.tracer == nil {
		p.tracer = otel.Tracer(tracerName)
	}

	tokenOpts := []auth.TokenOption{
		auth.WithTokenHTTPClient(p.client),
		auth.WithTokenLogger(p.logger.Named("oauth")),
	}
	if obs, ok := p.recorder.(auth.TokenObserver); ok {
		tokenOpts = append(tokenOpts, auth.WithTokenObserver(obs))
	}
	p.tokens = auth.NewTokenManager(p.tokenCache, tokenOpts...)
	p.headers = auth.NewHeaderBuilder(p.tokens)

	return p
}

// Tokens exposes the token manager, e.g. for explicit invalidation
func (p *Proxy) Tokens() *auth.TokenManager {
	return p.tokens
}

// CallOption configures a single call
type CallOption func(*callOptions)

type callOptions struct {
	requestID string
}

// WithRequestID fixes the request id instead of taking it from the context or generating one
func WithRequestID(id string) CallOption {
	return func(o *callOptions) {
		o.requestID = id
	}
}

// CallTool invokes tool on server. The returned error is non-nil only for
// configuration errors; every other outcome is described by the CallResponse.
func (p *Proxy) CallTool(ctx context.Context, server descriptor.Server, tool string, args map[string]interface{}, opts ...CallOption) (*CallResponse, error) {
	var co callOptions
	for _, opt := range opts {
		opt(&co)
	}
	requestID := reqcontext.ResolveRequestID(ctx, co.requestID)

	if err := server.Validate(); err != nil {
		return nil, err
	}
	if tool == "" {
		return nil, descriptor.NewConfigError(server.ID, "tool name is required", nil)
	}

	start := p.now()
	ctx, span := p.tracer.Start(ctx, "tool.call",
		trace.WithAttributes(
			attribute.String("tool.server_id", server.ID),
			attribute.String("tool.name", tool),
			attribute.String("tool.request_id", requestID),
		))
	defer span.End()

	logger := p.logger.With(
		zap.String("request_id", requestID),
		zap.String("server_id", server.ID),
		zap.String("tool", tool))
	if corr := reqcontext.GetCorrelationID(ctx); corr != "" {
		logger = logger.With(zap.String("correlation_id", corr))
	}

	if p.breaker != nil && p.breaker.IsOpen(ctx, server.Key()) {
		rejected := &CircuitOpenError{ServerID: server.ID}
		resp := &CallResponse{
			RequestID:    requestID,
			Status:       StatusCircuitOpen,
			ErrorCode:    CodeCircuit,
			ErrorMessage: rejected.Error(),
			LatencyMs:    p.since(start).Milliseconds(),
		}
		logger.Warn("Tool call rejected by open circuit")
		span.SetStatus(codes.Error, CodeCircuit)
		if p.recorder != nil {
			p.recorder.RecordCircuitRejection(server.ID)
			p.recorder.RecordCall(server.ID, tool, resp.Status, p.since(start))
		}
		return resp, nil
	}

	result, attempts, err := p.retry(ctx, server, func(ctx context.Context, attempt int) (json.RawMessage, error) {
		return p.doCall(ctx, server, tool, args, requestID, attempt)
	})
	elapsed := p.since(start)

	resp := &CallResponse{
		RequestID:  requestID,
		LatencyMs:  elapsed.Milliseconds(),
		Attempts:   attempts,
		RetryCount: max(attempts-1, 0),
	}
	span.SetAttributes(attribute.Int("tool.attempts", attempts))

	switch {
	case err == nil:
		resp.Status = StatusSuccess
		resp.Result = result
		if p.breaker != nil {
			p.breaker.RecordSuccess(ctx, server.Key())
		}
		logger.Info("Tool call succeeded",
			zap.Int("attempts", attempts),
			zap.Int64("latency_ms", resp.LatencyMs))

	case descriptor.IsConfigError(err):
		span.RecordError(err)
		span.SetStatus(codes.Error, CodeConfig)
		logger.Error("Tool call aborted by configuration error", zap.Error(err))
		return nil, err

	case isCancellation(err):
		resp.Status = StatusFailure
		resp.ErrorCode = CodeCanceled
		resp.ErrorMessage = err.Error()
		logger.Info("Tool call canceled by caller",
			zap.Int("attempts", attempts),
			zap.Error(err))

	default:
		var timeoutErr *TimeoutError
		if errors.As(err, &timeoutErr) {
			resp.Status = StatusTimeout
		} else {
			resp.Status = StatusFailure
		}
		resp.ErrorCode = ErrorCode(err)
		resp.ErrorMessage = err.Error()
		if p.breaker != nil {
			p.breaker.RecordFailure(ctx, server.Key())
		}
		logger.Warn("Tool call failed",
			zap.String("status", string(resp.Status)),
			zap.String("error_code", resp.ErrorCode),
			zap.Int("attempts", attempts),
			zap.Int64("latency_ms", resp.LatencyMs),
			zap.Error(err))
	}

	if resp.Status != StatusSuccess {
		span.SetStatus(codes.Error, resp.ErrorCode)
	}
	if p.recorder != nil {
		p.recorder.RecordCall(server.ID, tool, resp.Status, elapsed)
	}
	return resp, nil
}

// CallToolSync is the blocking form of CallTool for callers without a context
func (p *Proxy) CallToolSync(server descriptor.Server, tool string, args map[string]interface{}) SyncResult {
	resp, err := p.CallTool(context.Background(), server, tool, args)
	if err != nil {
		return SyncResult{Success: false, Error: err.Error()}
	}
	return SyncResult{
		Success: resp.OK(),
		Result:  resp.Result,
		Error:   resp.ErrorMessage,
	}
}

// CallToolAsync runs CallTool in a goroutine. The channel receives exactly one
// outcome and is then closed.
func (p *Proxy) CallToolAsync(ctx context.Context, server descriptor.Server, tool string, args map[string]interface{}, opts ...CallOption) <-chan CallOutcome {
	out := make(chan CallOutcome, 1)
	go func() {
		defer close(out)
		resp, err := p.CallTool(ctx, server, tool, args, opts...)
		out <- CallOutcome{Response: resp, Err: err}
	}()
	return out
}

// HealthCheck probes the server's health endpoint once. It ignores the circuit
// breaker and never retries, so it can observe recovery of a tripped server.
func (p *Proxy) HealthCheck(ctx context.Context, server descriptor.Server) HealthResult {
	start := p.now()
	result := p.probe(ctx, server)
	result.LatencyMs = p.since(start).Milliseconds()

	if p.recorder != nil {
		p.recorder.RecordHealthCheck(server.ID, result.Healthy, p.since(start))
	}
	if !result.Healthy {
		p.logger.Debug("Health check failed",
			zap.String("server_id", server.ID),
			zap.String("error", result.Error))
	}
	return result
}

func (p *Proxy) probe(ctx context.Context, server descriptor.Server) HealthResult {
	if err := server.Validate(); err != nil {
		return HealthResult{Error: err.Error()}
	}

	ctx, span := p.tracer.Start(ctx, "tool.health",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("tool.server_id", server.ID)))
	defer span.End()

	headers, err := p.headers.Build(ctx, server)
	if err != nil {
		return HealthResult{Error: err.Error()}
	}

	hctx, cancel := context.WithTimeout(ctx, p.healthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(hctx, http.MethodGet, server.HealthURL(), nil)
	if err != nil {
		return HealthResult{Error: err.Error()}
	}
	for name, values := range headers {
		req.Header[name] = values
	}
	otel.GetTextMapPropagator().Inject(hctx, propagation.HeaderCarrier(req.Header))

	resp, err := p.client.Do(req)
	if err != nil {
		if errors.Is(hctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return HealthResult{Error: "Timeout"}
		}
		return HealthResult{Error: err.Error()}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return HealthResult{Error: fmt.Sprintf("HTTP %d", resp.StatusCode)}
	}
	return HealthResult{Healthy: true}
}

func (p *Proxy) since(start time.Time) time.Duration {
	return p.now().Sub(start)
}
