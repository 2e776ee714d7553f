package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mfgintel/toolproxy/internal/descriptor"
	"github.com/mfgintel/toolproxy/internal/proxy"
	"github.com/mfgintel/toolproxy/internal/registry"
)

// MaxCallBodyBytes caps the size of a tool call request body
const MaxCallBodyBytes = 1 << 20

// CallRequest is the body of POST .../tools/{toolName}/call
type CallRequest struct {
	Arguments map[string]interface{} `json:"arguments"`
	RequestID string                 `json:"request_id,omitempty"`
}

// ServerView is the redacted descriptor returned by the listing endpoint
type ServerView struct {
	ID           string            `json:"id"`
	TenantID     string            `json:"tenant_id"`
	Name         string            `json:"name"`
	BaseURL      string            `json:"base_url"`
	CallURL      string            `json:"call_url"`
	HealthURL    string            `json:"health_url"`
	AuthType     string            `json:"auth_type"`
	Auth         map[string]string `json:"auth,omitempty"`
	TimeoutMs    int64             `json:"timeout_ms"`
	RetryCount   int               `json:"retry_count"`
	RetryDelayMs int64             `json:"retry_delay_ms"`
}

func newServerView(s descriptor.Server) ServerView {
	s = s.Redacted()
	v := ServerView{
		ID:           s.ID,
		TenantID:     s.TenantID,
		Name:         s.DisplayName(),
		BaseURL:      s.BaseURL,
		CallURL:      s.CallURL(),
		HealthURL:    s.HealthURL(),
		AuthType:     string(s.AuthType()),
		TimeoutMs:    s.Timeout.Milliseconds(),
		RetryCount:   s.RetryCount,
		RetryDelayMs: s.RetryDelay.Milliseconds(),
	}
	switch a := s.Auth.(type) {
	case descriptor.APIKeyAuth:
		v.Auth = map[string]string{"api_key": a.Key}
	case descriptor.BasicAuth:
		v.Auth = map[string]string{"username": a.Username, "password": a.Password}
	case descriptor.OAuth2Auth:
		v.Auth = map[string]string{
			"token_url":     a.TokenURL,
			"client_id":     a.ClientID,
			"client_secret": a.ClientSecret,
			"scope":         a.Scope,
		}
	}
	return v
}

// lookupServer resolves the {tenantID}/{serverID} pair, writing 404 when unknown
func (s *Server) lookupServer(w http.ResponseWriter, r *http.Request) (descriptor.Server, bool) {
	server, err := s.registry.Get(chi.URLParam(r, "tenantID"), chi.URLParam(r, "serverID"))
	if err != nil {
		writeError(w, r, http.StatusNotFound, err.Error())
		return descriptor.Server{}, false
	}
	return server, true
}

// GET /api/v1/tenants/{tenantID}/servers
func (s *Server) handleListServers(w http.ResponseWriter, r *http.Request) {
	servers := s.registry.List(chi.URLParam(r, "tenantID"))
	views := make([]ServerView, 0, len(servers))
	for _, server := range servers {
		views = append(views, newServerView(server))
	}
	writeJSON(w, r, http.StatusOK, views)
}

// POST /api/v1/tenants/{tenantID}/servers/{serverID}/tools/{toolName}/call
//
// Every call outcome, including upstream failures and an open circuit, is
// reported with 200 and a CallResponse body. Only request problems map to
// 4xx statuses.
func (s *Server) handleCallTool(w http.ResponseWriter, r *http.Request) {
	server, ok := s.lookupServer(w, r)
	if !ok {
		return
	}
	tool := chi.URLParam(r, "toolName")
	logger := GetLogger(r.Context())

	var req CallRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, MaxCallBodyBytes))
	if err := dec.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, r, http.StatusBadRequest, "invalid JSON payload: "+err.Error())
		return
	}

	var opts []proxy.CallOption
	if req.RequestID != "" {
		opts = append(opts, proxy.WithRequestID(req.RequestID))
	}

	resp, err := s.caller.CallTool(r.Context(), server, tool, req.Arguments, opts...)
	if err != nil {
		if descriptor.IsConfigError(err) {
			writeError(w, r, http.StatusUnprocessableEntity, err.Error())
			return
		}
		logger.Error("Tool call failed unexpectedly",
			zap.String("server_id", server.ID),
			zap.String("tool", tool),
			zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, err.Error())
		return
	}

	logger.Debug("Tool call completed",
		zap.String("server_id", server.ID),
		zap.String("tool", tool),
		zap.String("status", string(resp.Status)),
		zap.Int64("latency_ms", resp.LatencyMs))
	writeJSON(w, r, http.StatusOK, resp)
}

// GET /api/v1/tenants/{tenantID}/servers/{serverID}/health
func (s *Server) handleServerHealth(w http.ResponseWriter, r *http.Request) {
	res, err := s.registry.CheckHealth(r.Context(), chi.URLParam(r, "tenantID"), chi.URLParam(r, "serverID"), s.caller)
	if err != nil {
		if errors.Is(err, registry.ErrServerNotFound) {
			writeError(w, r, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

// GET /api/v1/tenants/{tenantID}/health
func (s *Server) handleTenantHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, s.registry.HealthCheckAll(r.Context(), chi.URLParam(r, "tenantID"), s.caller))
}

// GET /api/v1/tenants/{tenantID}/servers/{serverID}/circuit-breaker
func (s *Server) handleGetBreaker(w http.ResponseWriter, r *http.Request) {
	if s.breaker == nil {
		writeError(w, r, http.StatusNotFound, "circuit breaker is not configured")
		return
	}
	server, ok := s.lookupServer(w, r)
	if !ok {
		return
	}
	writeJSON(w, r, http.StatusOK, s.breaker.State(server.Key()))
}

// POST /api/v1/tenants/{tenantID}/servers/{serverID}/circuit-breaker/reset
func (s *Server) handleResetBreaker(w http.ResponseWriter, r *http.Request) {
	if s.breaker == nil {
		writeError(w, r, http.StatusNotFound, "circuit breaker is not configured")
		return
	}
	server, ok := s.lookupServer(w, r)
	if !ok {
		return
	}
	s.breaker.Reset(server.Key())
	GetLogger(r.Context()).Info("Circuit breaker reset", zap.String("server_id", server.ID))
	w.WriteHeader(http.StatusNoContent)
}

// DELETE /api/v1/tenants/{tenantID}/servers/{serverID}/oauth-token
func (s *Server) handleInvalidateToken(w http.ResponseWriter, r *http.Request) {
	if s.tokens == nil {
		writeError(w, r, http.StatusNotFound, "token cache is not configured")
		return
	}
	server, ok := s.lookupServer(w, r)
	if !ok {
		return
	}
	if err := s.tokens.Invalidate(r.Context(), server); err != nil {
		GetLogger(r.Context()).Error("Failed to invalidate OAuth token",
			zap.String("server_id", server.ID),
			zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
