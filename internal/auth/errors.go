// Package auth builds authentication headers for tool server calls and
// manages OAuth2 client-credentials tokens on behalf of the proxy.
package auth

import (
	"errors"
	"fmt"
)

var (
	// ErrNoOAuthConfig indicates OAuth2 was requested for a server that does not carry an OAuth2 variant.
	ErrNoOAuthConfig = errors.New("OAuth2 config not found")

	// ErrMissingAccessToken indicates the token endpoint answered without an access_token.
	ErrMissingAccessToken = errors.New("OAuth2 response missing access_token")
)

// OAuthError reports a failed token acquisition. StatusCode is 0 when the
// token endpoint could not be reached at all.
type OAuthError struct {
	ServerID   string
	StatusCode int
	Err        error
}

func (e *OAuthError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("OAuth2 token request failed: HTTP %d", e.StatusCode)
	}
	if e.Err != nil {
		return fmt.Sprintf("OAuth2 token request failed: %v", e.Err)
	}
	return "OAuth2 token request failed"
}

func (e *OAuthError) Unwrap() error {
	return e.Err
}

// IsOAuthError reports whether err is or wraps an *OAuthError
func IsOAuthError(err error) bool {
	var oe *OAuthError
	return errors.As(err, &oe)
}
