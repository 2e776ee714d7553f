package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/sync/singleflight"

	"github.com/mfgintel/toolproxy/internal/descriptor"
)

const (
	// DefaultTokenLifetime applies when the token endpoint omits expires_in
	// and the token carries no readable exp claim.
	DefaultTokenLifetime = time.Hour

	// TokenExpirySkew is subtracted from the reported lifetime before caching.
	TokenExpirySkew = 60 * time.Second

	// MinTokenCacheTTL is the floor for the cache TTL.
	MinTokenCacheTTL = 60 * time.Second

	DefaultTokenRequestTimeout = 30 * time.Second

	cacheKeyPrefix = "oauth:token:"
)

// Token request outcomes reported to TokenObserver
const (
	TokenResultHit     = "hit"
	TokenResultFetched = "fetched"
	TokenResultError   = "error"
)

// TokenCache is the external key/value store used to share tokens.
// Implementations must be safe for concurrent use.
type TokenCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// TokenInvalidator is implemented by caches that support explicit deletion
type TokenInvalidator interface {
	Delete(ctx context.Context, key string) error
}

// TokenObserver receives one event per GetToken call
type TokenObserver interface {
	ObserveTokenRequest(serverID, result string)
}

// CacheKey returns the cache key holding the bearer token for server.
// Keys are tenant scoped because server ids repeat across tenants.
func CacheKey(server descriptor.Server) string {
	return cacheKeyPrefix + server.Key()
}

// TokenManager acquires and caches client-credentials tokens.
// A cache hit is trusted as valid; expiry is governed entirely by the cache TTL.
type TokenManager struct {
	cache          TokenCache
	client         *http.Client
	logger         *zap.Logger
	observer       TokenObserver
	requestTimeout time.Duration
	now            func() time.Time

	flights singleflight.Group
}

// TokenOption configures a TokenManager
type TokenOption func(*TokenManager)

// WithTokenHTTPClient sets the client used for token requests
func WithTokenHTTPClient(client *http.Client) TokenOption {
	return func(m *TokenManager) {
		if client != nil {
			m.client = client
		}
	}
}

// WithTokenLogger sets the logger
func WithTokenLogger(logger *zap.Logger) TokenOption {
	return func(m *TokenManager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithTokenObserver registers an observer for token request outcomes
func WithTokenObserver(observer TokenObserver) TokenOption {
	return func(m *TokenManager) {
		m.observer = observer
	}
}

// WithTokenRequestTimeout bounds a single token endpoint round trip
func WithTokenRequestTimeout(d time.Duration) TokenOption {
	return func(m *TokenManager) {
		if d > 0 {
			m.requestTimeout = d
		}
	}
}

// WithTokenClock overrides the clock used to read JWT expiry
func WithTokenClock(now func() time.Time) TokenOption {
	return func(m *TokenManager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewTokenManager creates a token manager. A nil cache disables caching.
func NewTokenManager(cache TokenCache, opts ...TokenOption) *TokenManager {
	m := &TokenManager{
		cache:          cache,
		client:         http.DefaultClient,
		logger:         zap.NewNop(),
		requestTimeout: DefaultTokenRequestTimeout,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// GetToken returns a bearer token for server, from cache when possible.
// Concurrent misses for the same server share a single token request. The
// shared request is detached from any one caller's cancellation and bounded by
// the manager's request timeout; each caller stops waiting when its own ctx ends.
func (m *TokenManager) GetToken(ctx context.Context, server descriptor.Server) (string, error) {
	cfg, ok := server.Auth.(descriptor.OAuth2Auth)
	if !ok {
		return "", descriptor.NewConfigError(server.ID, "", ErrNoOAuthConfig)
	}

	key := CacheKey(server)
	if token, ok := m.lookup(ctx, key); ok {
		m.observe(server.ID, TokenResultHit)
		return token, nil
	}

	flightCtx := context.WithoutCancel(ctx)
	ch := m.flights.DoChan(server.Key(), func() (interface{}, error) {
		// another flight may have filled the cache between our miss and now
		if token, ok := m.lookup(flightCtx, key); ok {
			return token, nil
		}
		return m.fetch(flightCtx, server, cfg)
	})

	select {
	case <-ctx.Done():
		m.observe(server.ID, TokenResultError)
		return "", fmt.Errorf("waiting for OAuth2 token: %w", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			m.observe(server.ID, TokenResultError)
			return "", res.Err
		}
		if res.Shared {
			m.logger.Debug("OAuth2 token request shared with concurrent caller",
				zap.String("tenant_id", server.TenantID),
				zap.String("server_id", server.ID))
		}
		m.observe(server.ID, TokenResultFetched)
		return res.Val.(string), nil
	}
}

// Invalidate drops the cached token for server, forcing the next call to fetch
func (m *TokenManager) Invalidate(ctx context.Context, server descriptor.Server) error {
	inv, ok := m.cache.(TokenInvalidator)
	if !ok {
		return nil
	}
	return inv.Delete(ctx, CacheKey(server))
}

func (m *TokenManager) lookup(ctx context.Context, key string) (string, bool) {
	if m.cache == nil {
		return "", false
	}
	data, ok, err := m.cache.Get(ctx, key)
	if err != nil {
		m.logger.Warn("Token cache read failed, treating as miss",
			zap.String("key", key),
			zap.Error(err))
		return "", false
	}
	if !ok || len(data) == 0 {
		return "", false
	}
	return string(data), true
}

func (m *TokenManager) fetch(ctx context.Context, server descriptor.Server, cfg descriptor.OAuth2Auth) (string, error) {
	serverID := server.ID
	cc := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		Scopes:       strings.Fields(cfg.Scope),
		AuthStyle:    oauth2.AuthStyleInParams,
	}

	reqCtx, cancel := context.WithTimeout(ctx, m.requestTimeout)
	defer cancel()
	reqCtx = context.WithValue(reqCtx, oauth2.HTTPClient, m.client)

	m.logger.Debug("Requesting OAuth2 token",
		zap.String("tenant_id", server.TenantID),
		zap.String("server_id", serverID),
		zap.String("token_url", cfg.TokenURL),
		zap.String("client_id", cfg.ClientID))

	tok, err := cc.Token(reqCtx)
	if err != nil {
		oerr := classifyTokenError(serverID, err)
		m.logger.Warn("OAuth2 token request failed",
			zap.String("server_id", serverID),
			zap.Int("status_code", oerr.StatusCode),
			zap.Error(err))
		return "", oerr
	}
	if tok.AccessToken == "" {
		return "", &OAuthError{ServerID: serverID, Err: ErrMissingAccessToken}
	}

	lifetime := m.tokenLifetime(tok)
	ttl := CacheTTL(lifetime)

	if m.cache != nil {
		if err := m.cache.SetWithTTL(ctx, CacheKey(server), []byte(tok.AccessToken), ttl); err != nil {
			m.logger.Warn("Failed to cache OAuth2 token",
				zap.String("server_id", serverID),
				zap.Error(err))
		}
	}

	m.logger.Debug("OAuth2 token acquired",
		zap.String("server_id", serverID),
		zap.Duration("lifetime", lifetime),
		zap.Duration("cache_ttl", ttl))

	return tok.AccessToken, nil
}

// CacheTTL derives the cache TTL from a token lifetime
func CacheTTL(lifetime time.Duration) time.Duration {
	ttl := lifetime - TokenExpirySkew
	if ttl < MinTokenCacheTTL {
		ttl = MinTokenCacheTTL
	}
	return ttl
}

// tokenLifetime prefers expires_in, then a JWT exp claim, then the default.
func (m *TokenManager) tokenLifetime(tok *oauth2.Token) time.Duration {
	if secs, ok := numericExtra(tok.Extra("expires_in")); ok && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if exp := jwtExpiry(tok.AccessToken); !exp.IsZero() {
		if d := exp.Sub(m.now()); d > 0 {
			return d.Truncate(time.Second)
		}
	}
	return DefaultTokenLifetime
}

func numericExtra(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		return i, err == nil
	default:
		return 0, false
	}
}

func jwtExpiry(raw string) time.Time {
	if strings.Count(raw, ".") != 2 {
		return time.Time{}
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}

func classifyTokenError(serverID string, err error) *OAuthError {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		status := 0
		if re.Response != nil {
			status = re.Response.StatusCode
		}
		return &OAuthError{ServerID: serverID, StatusCode: status, Err: err}
	}
	if strings.Contains(err.Error(), "missing access_token") {
		return &OAuthError{ServerID: serverID, Err: ErrMissingAccessToken}
	}
	return &OAuthError{ServerID: serverID, Err: err}
}

func (m *TokenManager) observe(serverID, result string) {
	if m.observer != nil {
		m.observer.ObserveTokenRequest(serverID, result)
	}
}
