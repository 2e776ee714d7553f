package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestManager_MetricsToggle(t *testing.T) {
	off, err := NewManager(zaptest.NewLogger(t), Config{})
	require.NoError(t, err)
	assert.Nil(t, off.Metrics())
	assert.Nil(t, off.MetricsHandler())
	assert.NotNil(t, off.Health())

	on, err := NewManager(zaptest.NewLogger(t), Config{Metrics: MetricsConfig{Enabled: true}})
	require.NoError(t, err)
	require.NotNil(t, on.Metrics())

	rec := httptest.NewRecorder()
	on.MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "toolproxy_uptime_seconds")

	assert.NoError(t, on.Close(context.Background()))
}

func TestManager_MiddlewarePassThroughWhenDisabled(t *testing.T) {
	m, err := NewManager(nil, Config{})
	require.NoError(t, err)

	called := false
	h := m.HTTPMiddleware()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.True(t, called)
}
