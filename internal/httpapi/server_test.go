package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/mfgintel/toolproxy/internal/auth"
	"github.com/mfgintel/toolproxy/internal/breaker"
	"github.com/mfgintel/toolproxy/internal/cache"
	"github.com/mfgintel/toolproxy/internal/descriptor"
	"github.com/mfgintel/toolproxy/internal/observability"
	"github.com/mfgintel/toolproxy/internal/proxy"
	"github.com/mfgintel/toolproxy/internal/registry"
	"github.com/mfgintel/toolproxy/internal/testutil"
)

const (
	tenant   = "plant-a"
	serverID = "inventory"
)

type fixture struct {
	tools   *testutil.ToolServer
	reg     *registry.Registry
	breaker *breaker.Breaker
	cache   *cache.MemoryCache
	handler http.Handler
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)

	f := &fixture{
		tools:   testutil.NewToolServer(t),
		reg:     registry.New(logger),
		breaker: breaker.New(breaker.Settings{FailureThreshold: 2, OpenTimeout: time.Hour}),
		cache:   cache.NewMemoryCache(),
	}
	require.NoError(t, f.reg.Register(descriptor.Server{
		ID:       serverID,
		TenantID: tenant,
		Name:     "Inventory",
		BaseURL:  f.tools.URL,
		Auth:     descriptor.NewAPIKeyAuth("inventory-secret-key"),
		Timeout:  2 * time.Second,
	}))

	p := proxy.New(
		proxy.WithLogger(logger),
		proxy.WithCircuitBreaker(f.breaker),
		proxy.WithTokenCache(f.cache),
	)
	base := []Option{
		WithLogger(logger),
		WithBreaker(f.breaker),
		WithTokenInvalidator(p.Tokens()),
	}
	f.handler = NewServer(f.reg, p, append(base, opts...)...)
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func callPath(server, tool string) string {
	return "/api/v1/tenants/" + tenant + "/servers/" + server + "/tools/" + tool + "/call"
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestListServers_Redacted(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/tenants/"+tenant+"/servers", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "inventory-secret-key")

	views := decode[[]ServerView](t, rec)
	require.Len(t, views, 1)
	assert.Equal(t, serverID, views[0].ID)
	assert.Equal(t, "api_key", views[0].AuthType)
	assert.Equal(t, f.tools.URL+"/mcp", views[0].CallURL)
	assert.Equal(t, int64(2000), views[0].TimeoutMs)

	rec = f.do(t, http.MethodGet, "/api/v1/tenants/nobody/servers", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestCallTool_Success(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, callPath(serverID, "read_stock"),
		`{"arguments":{"sku":"A-1"},"request_id":"req-1"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[proxy.CallResponse](t, rec)
	assert.Equal(t, proxy.StatusSuccess, resp.Status)
	assert.Equal(t, "req-1", resp.RequestID)
	assert.JSONEq(t, `{"sku":"A-1"}`, string(resp.Result))

	call, ok := f.tools.LastCall()
	require.True(t, ok)
	assert.Equal(t, "read_stock", call.Request.Params.Name)
	assert.Equal(t, "req-1", call.Request.ID)
	assert.Equal(t, "Bearer inventory-secret-key", call.Header.Get("Authorization"))
}

func TestCallTool_RequestIDFromHeader(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, callPath(serverID, "read_stock"), "", "X-Request-Id", "hdr-42")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hdr-42", rec.Header().Get("X-Request-Id"))

	resp := decode[proxy.CallResponse](t, rec)
	assert.Equal(t, "hdr-42", resp.RequestID)

	call, ok := f.tools.LastCall()
	require.True(t, ok)
	assert.JSONEq(t, `{}`, string(call.Request.Params.Arguments))
}

func TestCallTool_InvalidRequestIDHeaderIsReplaced(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, callPath(serverID, "read_stock"), "", "X-Request-Id", "bad id with spaces")
	require.Equal(t, http.StatusOK, rec.Code)
	id := rec.Header().Get("X-Request-Id")
	assert.NotEqual(t, "bad id with spaces", id)
	assert.Equal(t, id, decode[proxy.CallResponse](t, rec).RequestID)
}

func TestCallTool_FailureIsStill200(t *testing.T) {
	f := newFixture(t)
	f.tools.SetFallback(testutil.StatusReply(http.StatusBadRequest, "bad input"))

	rec := f.do(t, http.MethodPost, callPath(serverID, "read_stock"), `{"arguments":{}}`)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[proxy.CallResponse](t, rec)
	assert.Equal(t, proxy.StatusFailure, resp.Status)
	assert.Equal(t, "400", resp.ErrorCode)
}

func TestCallTool_RequestErrors(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, callPath("missing", "read_stock"), `{}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPost, callPath(serverID, "read_stock"), `{"arguments":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode[ErrorResponse](t, rec)
	assert.Contains(t, body.Error, "invalid JSON")
	assert.NotEmpty(t, body.RequestID)

	rec = f.do(t, http.MethodPost, callPath(serverID, "read_stock"), `{"arguments":[1,2]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, f.tools.CallCount())
}

type stubCaller struct {
	err   error
	panic bool
}

func (c stubCaller) CallTool(context.Context, descriptor.Server, string, map[string]interface{}, ...proxy.CallOption) (*proxy.CallResponse, error) {
	if c.panic {
		panic("boom")
	}
	return nil, c.err
}

func (c stubCaller) HealthCheck(context.Context, descriptor.Server) proxy.HealthResult {
	return proxy.HealthResult{Healthy: true}
}

func TestCallTool_ConfigErrorIs422(t *testing.T) {
	reg := registry.New(nil)
	require.NoError(t, reg.Register(descriptor.Server{ID: serverID, TenantID: tenant, BaseURL: "http://x.local", Timeout: time.Second}))
	h := NewServer(reg, stubCaller{err: descriptor.NewConfigError(serverID, "oauth2 token_url is required", nil)})

	req := httptest.NewRequest(http.MethodPost, callPath(serverID, "read_stock"), nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "token_url")
}

func TestRecoverer(t *testing.T) {
	reg := registry.New(nil)
	require.NoError(t, reg.Register(descriptor.Server{ID: serverID, TenantID: tenant, BaseURL: "http://x.local", Timeout: time.Second}))
	h := NewServer(reg, stubCaller{panic: true}, WithLogger(zaptest.NewLogger(t)))

	req := httptest.NewRequest(http.MethodPost, callPath(serverID, "read_stock"), nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHealthEndpoints(t *testing.T) {
	f := newFixture(t)
	down := testutil.NewToolServer(t)
	down.SetHealthStatus(http.StatusServiceUnavailable)
	require.NoError(t, f.reg.Register(descriptor.Server{ID: "quality", TenantID: tenant, BaseURL: down.URL, Timeout: time.Second}))

	rec := f.do(t, http.MethodGet, "/api/v1/tenants/"+tenant+"/servers/"+serverID+"/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	single := decode[registry.ServerHealth](t, rec)
	assert.Equal(t, registry.StatusHealthy, single.Status)
	assert.Equal(t, "Bearer inventory-secret-key", f.tools.HealthHeader().Get("Authorization"))

	rec = f.do(t, http.MethodGet, "/api/v1/tenants/"+tenant+"/servers/missing/health", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/tenants/"+tenant+"/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	all := decode[[]registry.ServerHealth](t, rec)
	require.Len(t, all, 2)
	assert.Equal(t, serverID, all[0].ServerID)
	assert.Equal(t, registry.StatusHealthy, all[0].Status)
	assert.Equal(t, "quality", all[1].ServerID)
	assert.Equal(t, registry.StatusUnhealthy, all[1].Status)
	assert.Equal(t, "HTTP 503", all[1].Error)
}

func TestCircuitBreakerEndpoints(t *testing.T) {
	f := newFixture(t)
	path := "/api/v1/tenants/" + tenant + "/servers/" + serverID + "/circuit-breaker"

	rec := f.do(t, http.MethodGet, path, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, breaker.StateClosed, decode[breaker.Snapshot](t, rec).State)

	server, err := f.reg.Get(tenant, serverID)
	require.NoError(t, err)
	ctx := context.Background()
	f.breaker.RecordFailure(ctx, server.Key())
	f.breaker.RecordFailure(ctx, server.Key())

	rec = f.do(t, http.MethodGet, path, "")
	assert.Equal(t, breaker.StateOpen, decode[breaker.Snapshot](t, rec).State)

	rec = f.do(t, http.MethodPost, callPath(serverID, "read_stock"), `{}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, proxy.StatusCircuitOpen, decode[proxy.CallResponse](t, rec).Status)
	assert.Zero(t, f.tools.CallCount())

	rec = f.do(t, http.MethodPost, path+"/reset", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, breaker.StateClosed, f.breaker.State(server.Key()).State)

	rec = f.do(t, http.MethodGet, "/api/v1/tenants/"+tenant+"/servers/missing/circuit-breaker", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestInvalidateToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	server, err := f.reg.Get(tenant, serverID)
	require.NoError(t, err)
	require.NoError(t, f.cache.SetWithTTL(ctx, auth.CacheKey(server), []byte("cached-token"), time.Hour))

	rec := f.do(t, http.MethodDelete, "/api/v1/tenants/"+tenant+"/servers/"+serverID+"/oauth-token", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	_, ok, err := f.cache.Get(ctx, auth.CacheKey(server))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAPIKeyAuth(t *testing.T) {
	f := newFixture(t, WithAPIKey("gateway-key"))
	path := "/api/v1/tenants/" + tenant + "/servers"

	rec := f.do(t, http.MethodGet, path, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodGet, path, "", "X-API-Key", "wrong")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodGet, path, "", "X-API-Key", "gateway-key")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, path, "", "Authorization", "Bearer gateway-key")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestObservabilityRoutes(t *testing.T) {
	obs, err := observability.NewManager(zaptest.NewLogger(t), observability.Config{
		Metrics: observability.MetricsConfig{Enabled: true},
	})
	require.NoError(t, err)
	obs.Health().AddChecker(observability.CheckerFunc{
		ComponentName: "token_cache",
		Fn:            func(context.Context) error { return nil },
	})
	f := newFixture(t, WithObservability(obs))

	rec := f.do(t, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "token_cache")

	f.do(t, http.MethodGet, "/api/v1/tenants/"+tenant+"/servers", "")

	rec = f.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "toolproxy_http_requests_total")
	assert.Contains(t, rec.Body.String(), `route="/api/v1/tenants/{tenantID}/servers"`)
}

func TestNoObservability_NoMetricsRoute(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
