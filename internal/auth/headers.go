package auth

import (
	"context"
	"encoding/base64"
	"net/http"

	"github.com/mfgintel/toolproxy/internal/descriptor"
)

const (
	HeaderAuthorization = "Authorization"

	schemeBearer = "Bearer "
	schemeBasic  = "Basic "
)

// HeaderBuilder produces the per-request auth headers for a server descriptor
type HeaderBuilder struct {
	tokens *TokenManager
}

// NewHeaderBuilder creates a builder. A nil token manager gets a cache-less default.
func NewHeaderBuilder(tokens *TokenManager) *HeaderBuilder {
	if tokens == nil {
		tokens = NewTokenManager(nil)
	}
	return &HeaderBuilder{tokens: tokens}
}

// Tokens exposes the underlying token manager
func (b *HeaderBuilder) Tokens() *TokenManager {
	return b.tokens
}

// Build returns the headers for server. Only the oauth2 variant can fail;
// missing static credentials produce an empty header set instead of an error.
func (b *HeaderBuilder) Build(ctx context.Context, server descriptor.Server) (http.Header, error) {
	headers := make(http.Header)

	switch a := server.Auth.(type) {
	case nil, descriptor.NoAuth:
		return headers, nil

	case descriptor.APIKeyAuth:
		if a.Key != "" {
			headers.Set(HeaderAuthorization, schemeBearer+a.Key)
		}
		return headers, nil

	case descriptor.BasicAuth:
		if a.Username != "" && a.Password != "" {
			headers.Set(HeaderAuthorization, schemeBasic+BasicCredentials(a.Username, a.Password))
		}
		return headers, nil

	case descriptor.OAuth2Auth:
		token, err := b.tokens.GetToken(ctx, server)
		if err != nil {
			return nil, err
		}
		headers.Set(HeaderAuthorization, schemeBearer+token)
		return headers, nil

	default:
		return headers, nil
	}
}

// BasicCredentials encodes username:password for the Basic scheme
func BasicCredentials(username, password string) string {
	return base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
}
