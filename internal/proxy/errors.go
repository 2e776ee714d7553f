package proxy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/mfgintel/toolproxy/internal/auth"
	"github.com/mfgintel/toolproxy/internal/descriptor"
)

// MaxErrorDetail bounds the response body kept on an HTTPError
const MaxErrorDetail = 500

// Error codes reported in CallResponse.ErrorCode besides HTTP statuses and protocol codes
const (
	CodeParseError = "PARSE_ERROR"
	CodeTimeout    = "TIMEOUT"
	CodeCircuit    = "CIRCUIT_OPEN"
	CodeOAuth      = "OAUTH2_TOKEN_ERROR"
	CodeConfig     = "CONFIG_ERROR"
	CodeCanceled   = "CANCELED"
	CodeUnknown    = "UNKNOWN"
)

// HTTPError is a transport failure (StatusCode 0) or a non-2xx response
type HTTPError struct {
	ServerID   string
	StatusCode int
	Detail     string
	Err        error
}

func (e *HTTPError) Error() string {
	if e.StatusCode == 0 {
		if e.Err != nil {
			return fmt.Sprintf("tool server connection error: %v", e.Err)
		}
		return "tool server connection error"
	}
	return fmt.Sprintf("tool server error: HTTP %d", e.StatusCode)
}

func (e *HTTPError) Unwrap() error {
	return e.Err
}

// ProtocolError is an unparseable body or a JSON-RPC error object.
// Code is the server's own code rendered as a string, or PARSE_ERROR.
type ProtocolError struct {
	ServerID string
	Code     string
	Message  string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("tool protocol error: [%s] %s", e.Code, e.Message)
}

// TimeoutError reports an attempt that exceeded the descriptor's timeout
type TimeoutError struct {
	ServerID string
	Timeout  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("tool server timeout (> %dms)", e.Timeout.Milliseconds())
}

// CircuitOpenError reports a call rejected without a network attempt
type CircuitOpenError struct {
	ServerID string
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit breaker OPEN for server %s", e.ServerID)
}

// IsRetryable reports whether another attempt could succeed after err
func IsRetryable(err error) bool {
	var (
		httpErr    *HTTPError
		timeoutErr *TimeoutError
		oauthErr   *auth.OAuthError
	)
	switch {
	case err == nil:
		return false
	case descriptor.IsConfigError(err):
		return false
	case errors.As(err, &httpErr):
		return httpErr.StatusCode == 0 ||
			httpErr.StatusCode == http.StatusTooManyRequests ||
			httpErr.StatusCode >= 500
	case errors.As(err, &timeoutErr):
		return true
	case errors.As(err, &oauthErr):
		return true
	default:
		// protocol errors, circuit-open and caller cancellation
		return false
	}
}

// ErrorCode maps err to the code reported in CallResponse
func ErrorCode(err error) string {
	var (
		httpErr     *HTTPError
		protocolErr *ProtocolError
		timeoutErr  *TimeoutError
		circuitErr  *CircuitOpenError
		oauthErr    *auth.OAuthError
	)
	switch {
	case err == nil:
		return ""
	case descriptor.IsConfigError(err):
		return CodeConfig
	case errors.As(err, &httpErr):
		return strconv.Itoa(httpErr.StatusCode)
	case errors.As(err, &protocolErr):
		return protocolErr.Code
	case errors.As(err, &timeoutErr):
		return CodeTimeout
	case errors.As(err, &circuitErr):
		return CodeCircuit
	case errors.As(err, &oauthErr):
		return CodeOAuth
	case isCancellation(err):
		return CodeCanceled
	default:
		return CodeUnknown
	}
}

// isCancellation reports whether err is a bare context error. Per-attempt
// deadlines are reported as *TimeoutError instead.
func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
