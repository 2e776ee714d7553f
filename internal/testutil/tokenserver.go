package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenServer is a fake OAuth2 token endpoint speaking the client-credentials grant
type TokenServer struct {
	*httptest.Server

	mu        sync.Mutex
	token     string
	expiresIn int
	status    int
	rawBody   string
	delay     time.Duration
	requests  int
	lastForm  url.Values
}

// NewTokenServer starts a token endpoint issuing token. expiresIn <= 0 omits the field.
func NewTokenServer(t *testing.T, token string, expiresIn int) *TokenServer {
	t.Helper()

	s := &TokenServer{
		token:     token,
		expiresIn: expiresIn,
		status:    http.StatusOK,
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

// TokenURL is the endpoint URL to put into a descriptor
func (s *TokenServer) TokenURL() string {
	return s.URL + "/oauth/token"
}

// SetResponse overrides the status and raw body of subsequent responses
func (s *TokenServer) SetResponse(status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
	s.rawBody = body
}

// SetDelay delays subsequent responses
func (s *TokenServer) SetDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
}

// RequestCount returns the number of token requests received
func (s *TokenServer) RequestCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests
}

// LastForm returns the form values of the most recent token request
func (s *TokenServer) LastForm() url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastForm
}

func (s *TokenServer) handle(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()

	s.mu.Lock()
	s.requests++
	s.lastForm = r.PostForm
	status, rawBody, delay := s.status, s.rawBody, s.delay
	token, expiresIn := s.token, s.expiresIn
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")

	if rawBody != "" || status != http.StatusOK {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(rawBody))
		return
	}

	if r.PostForm.Get("grant_type") != "client_credentials" {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"unsupported_grant_type"}`))
		return
	}

	resp := map[string]interface{}{
		"access_token": token,
		"token_type":   "Bearer",
	}
	if expiresIn > 0 {
		resp["expires_in"] = expiresIn
	}
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

// SignedJWT returns an HS256 token whose exp claim is exp
func SignedJWT(t *testing.T, exp time.Time) string {
	t.Helper()

	claims := jwt.RegisteredClaims{
		Subject:   "toolproxy-test",
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte("test-signing-key"))
	if err != nil {
		t.Fatalf("sign jwt: %v", err)
	}
	return signed
}
