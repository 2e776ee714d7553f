package httpapi

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/mfgintel/toolproxy/internal/reqcontext"
)

type loggerKey struct{}

// RequestIDMiddleware extracts or generates a request ID for each request.
// A valid client supplied X-Request-Id is kept, anything else is replaced
// with a fresh UUID. The id is set on the response before next runs so it
// survives panics, and it becomes the default JSON-RPC id of tool calls.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := reqcontext.RequestIDOrNew(r.Header.Get(reqcontext.RequestIDHeader))
		w.Header().Set(reqcontext.RequestIDHeader, requestID)

		ctx := reqcontext.WithRequestID(r.Context(), requestID)
		ctx = reqcontext.WithMetadata(ctx, reqcontext.SourceRESTAPI)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestLoggerMiddleware stores a logger tagged with the request and correlation ids.
// Register it after RequestIDMiddleware.
func RequestLoggerMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			requestLogger := logger.With(zap.String("request_id", reqcontext.GetRequestID(ctx)))
			if correlationID := reqcontext.GetCorrelationID(ctx); correlationID != "" {
				requestLogger = requestLogger.With(zap.String("correlation_id", correlationID))
			}
			next.ServeHTTP(w, r.WithContext(withRequestLogger(ctx, requestLogger)))
		})
	}
}

// AccessLogMiddleware logs one line per request once the response is written
func AccessLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		GetLogger(r.Context()).Info("HTTP API request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("remote_addr", r.RemoteAddr),
			zap.String("user_agent", r.UserAgent()),
			zap.Int("status", status),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)))
	})
}

// APIKeyMiddleware rejects requests that do not carry expectedKey in
// X-API-Key or as a bearer token. An empty expectedKey disables the check.
func APIKeyMiddleware(expectedKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if expectedKey == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !validAPIKey(r, expectedKey) {
				GetLogger(r.Context()).Warn("Request with invalid API key",
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr))
				writeError(w, r, http.StatusUnauthorized, "invalid or missing API key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func validAPIKey(r *http.Request, expected string) bool {
	key := r.Header.Get("X-API-Key")
	if key == "" {
		authz := r.Header.Get("Authorization")
		if len(authz) > 7 && strings.EqualFold(authz[:7], "bearer ") {
			key = strings.TrimSpace(authz[7:])
		}
	}
	if key == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(key), []byte(expected)) == 1
}

func withRequestLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// GetLogger retrieves the logger from context, or returns a nop logger if not found
func GetLogger(ctx context.Context) *zap.Logger {
	if ctx == nil {
		return zap.NewNop()
	}
	if logger, ok := ctx.Value(loggerKey{}).(*zap.Logger); ok && logger != nil {
		return logger
	}
	return zap.NewNop()
}
